// Copyright ©2025 curioloop. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package problem

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestDetectedPatternIsStableAcrossIterates(t *testing.T) {
	// Banded residual: y_i depends on x_i and x_{i+1} only.
	def := func(x, p, y []float64) {
		for i := range y {
			y[i] = x[i]*x[i] - x[i+1]
		}
	}
	c := &DiffCompiler{}
	ev, art, err := c.Compile(context.Background(), def, Dims{NumInputs: 4, NumOutputs: 3}, nil)
	require.NoError(t, err)
	require.Equal(t, [][]int{{0, 1}, {1, 2}, {2, 3}}, art.RowCols)

	_, j1, err := ev.Evaluate([]float64{1, 2, 3, 4}, nil)
	require.NoError(t, err)
	p1 := j1.Pattern()
	_, j2, err := ev.Evaluate([]float64{-7, 0.5, 11, 2}, nil)
	require.NoError(t, err)
	// Identical structure for any two distinct iterates.
	require.True(t, p1.Equal(j2.Pattern()))
	require.Same(t, j1, j2)
}

func TestCompileReusesArtifactPattern(t *testing.T) {
	def := func(x, p, y []float64) { y[0] = x[0] + x[1] }
	art := &Artifact{NumInputs: 2, NumOutputs: 1, NumParams: 0, RowCols: [][]int{{0, 1}}}
	c := &DiffCompiler{}
	ev, got, err := c.Compile(context.Background(), def, Dims{NumInputs: 2, NumOutputs: 1}, art)
	require.NoError(t, err)
	require.Same(t, art, got)

	_, jac, err := ev.Evaluate([]float64{1, 2}, nil)
	require.NoError(t, err)
	require.InDelta(t, 1.0, jac.At(0, 0), 1e-6)
	require.InDelta(t, 1.0, jac.At(0, 1), 1e-6)
}

func TestCompileRejectsBadInput(t *testing.T) {
	c := &DiffCompiler{}
	_, _, err := c.Compile(context.Background(), nil, Dims{NumInputs: 1, NumOutputs: 1}, nil)
	require.ErrorIs(t, err, ErrConfiguration)
	_, _, err = c.Compile(context.Background(),
		func(x, p, y []float64) {}, Dims{NumInputs: 0, NumOutputs: 1}, nil)
	require.ErrorIs(t, err, ErrConfiguration)
}
