// Copyright ©2025 curioloop. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package sparse

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestPatternValidation(t *testing.T) {
	_, err := NewPattern(0, 3, nil)
	require.ErrorIs(t, err, ErrBadShape)

	_, err = NewPattern(2, 3, [][]int{{0, 2}, {1, 1}})
	require.ErrorIs(t, err, ErrBadIndex) // duplicate column

	_, err = NewPattern(2, 3, [][]int{{0, 3}, {1}})
	require.ErrorIs(t, err, ErrBadIndex) // out of range

	p, err := NewPattern(2, 3, [][]int{{0, 2}, {}})
	require.NoError(t, err)
	require.Equal(t, 2, p.NNZ())
	require.Equal(t, 0, p.RowNNZ(1))
}

func TestMatrixMulVec(t *testing.T) {
	// ⎡1 0 2⎤   ⎡1⎤   ⎡ 7⎤
	// ⎣0 3 0⎦ · ⎢2⎥ = ⎣ 6⎦
	//           ⎣3⎦
	p, err := NewPattern(2, 3, [][]int{{0, 2}, {1}})
	require.NoError(t, err)
	m := NewMatrix(p)
	require.NoError(t, m.SetRow(0, []float64{1, 2}))
	require.NoError(t, m.SetRow(1, []float64{3}))

	y := make([]float64, 2)
	require.NoError(t, m.MulVec([]float64{1, 2, 3}, y))
	require.Equal(t, []float64{7, 6}, y)

	yt := make([]float64, 3)
	require.NoError(t, m.MulVecTrans([]float64{1, 1}, yt))
	require.Equal(t, []float64{1, 3, 2}, yt)

	require.Equal(t, 2.0, m.At(0, 2))
	require.Equal(t, 0.0, m.At(0, 1))
}

func TestStackPreservesOrderAndStructure(t *testing.T) {
	a, _ := NewPattern(1, 3, [][]int{{0}})
	b, _ := NewPattern(2, 3, [][]int{{1, 2}, {0, 2}})

	s, err := StackPatterns(3, a, b)
	require.NoError(t, err)
	rows, cols := s.Dims()
	require.Equal(t, 3, rows)
	require.Equal(t, 3, cols)
	// Row blocks keep append order.
	require.Equal(t, []int{0}, s.RowCols(0))
	require.Equal(t, []int{1, 2}, s.RowCols(1))
	require.Equal(t, []int{0, 2}, s.RowCols(2))

	// Stacking the same parts twice yields the identical structure.
	s2, err := StackPatterns(3, a, b)
	require.NoError(t, err)
	require.True(t, s.Equal(s2))

	_, err = StackPatterns(4, a, b)
	require.ErrorIs(t, err, ErrShapeMismatch)
}

func TestDenseTo(t *testing.T) {
	p, _ := NewPattern(2, 2, [][]int{{1}, {0, 1}})
	m := NewMatrix(p)
	copy(m.Values(), []float64{5, -1, 2})

	d := m.DenseTo(nil)
	require.Equal(t, 0.0, d.At(0, 0))
	require.Equal(t, 5.0, d.At(0, 1))
	require.Equal(t, -1.0, d.At(1, 0))
	require.Equal(t, 2.0, d.At(1, 1))

	// In-place refresh reuses the destination.
	m.Values()[0] = 7
	d2 := m.DenseTo(d)
	require.Same(t, d, d2)
	require.Equal(t, 7.0, d.At(0, 1))
}
