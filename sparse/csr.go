// Copyright ©2025 curioloop. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package sparse provides compressed-row matrices whose structure is fixed
// once and whose numeric values are refreshed in place.
//
// A Pattern holds the row pointers and column indices of a CSR matrix.
// A Matrix pairs one Pattern with a value slice. For a structurally fixed
// problem the Pattern is computed once and every later refresh touches only
// the values, so per-iteration assembly costs O(nnz) instead of a structural
// re-derivation.
package sparse

import (
	"errors"
	"sort"

	"gonum.org/v1/gonum/mat"
)

var (
	// ErrBadShape is returned when a requested shape is invalid.
	ErrBadShape = errors.New("sparse: invalid shape")
	// ErrBadIndex is returned when a column index is out of range or unsorted.
	ErrBadIndex = errors.New("sparse: column index out of range or unsorted")
	// ErrShapeMismatch is returned when operand dimensions disagree.
	ErrShapeMismatch = errors.New("sparse: dimension mismatch")
)

// Pattern is the immutable sparsity structure of a CSR matrix:
// row pointers 𝗽 (len rows+1) and per-row sorted column indices.
type Pattern struct {
	rows, cols int
	rowPtr     []int
	colIdx     []int
}

// NewPattern builds a Pattern from per-row column index lists.
// Each row's indices must be strictly increasing and within [0, cols).
func NewPattern(rows, cols int, rowCols [][]int) (*Pattern, error) {
	if rows <= 0 || cols <= 0 || len(rowCols) != rows {
		return nil, ErrBadShape
	}
	nnz := 0
	for _, cs := range rowCols {
		nnz += len(cs)
	}
	p := &Pattern{
		rows:   rows,
		cols:   cols,
		rowPtr: make([]int, rows+1),
		colIdx: make([]int, 0, nnz),
	}
	for i, cs := range rowCols {
		prev := -1
		for _, c := range cs {
			if c <= prev || c >= cols {
				return nil, ErrBadIndex
			}
			p.colIdx = append(p.colIdx, c)
			prev = c
		}
		p.rowPtr[i+1] = len(p.colIdx)
	}
	return p, nil
}

// DensePattern returns the fully populated rows×cols pattern.
func DensePattern(rows, cols int) *Pattern {
	p := &Pattern{
		rows:   rows,
		cols:   cols,
		rowPtr: make([]int, rows+1),
		colIdx: make([]int, rows*cols),
	}
	for i := 0; i < rows; i++ {
		p.rowPtr[i+1] = (i + 1) * cols
		for j := 0; j < cols; j++ {
			p.colIdx[i*cols+j] = j
		}
	}
	return p
}

// StackPatterns stacks the given patterns vertically.
// All parts must share the same column count.
func StackPatterns(cols int, parts ...*Pattern) (*Pattern, error) {
	rows, nnz := 0, 0
	for _, q := range parts {
		if q.cols != cols {
			return nil, ErrShapeMismatch
		}
		rows += q.rows
		nnz += q.NNZ()
	}
	if rows == 0 {
		return nil, ErrBadShape
	}
	p := &Pattern{
		rows:   rows,
		cols:   cols,
		rowPtr: make([]int, 1, rows+1),
		colIdx: make([]int, 0, nnz),
	}
	for _, q := range parts {
		base := len(p.colIdx)
		p.colIdx = append(p.colIdx, q.colIdx...)
		for i := 1; i <= q.rows; i++ {
			p.rowPtr = append(p.rowPtr, base+q.rowPtr[i])
		}
	}
	return p, nil
}

// Dims returns the matrix dimensions described by the pattern.
func (p *Pattern) Dims() (rows, cols int) { return p.rows, p.cols }

// NNZ returns the number of structural nonzeros.
func (p *Pattern) NNZ() int { return len(p.colIdx) }

// RowNNZ returns the number of structural nonzeros in row i.
func (p *Pattern) RowNNZ(i int) int { return p.rowPtr[i+1] - p.rowPtr[i] }

// RowCols returns the column indices of row i.
// The returned slice is shared and must not be modified.
func (p *Pattern) RowCols(i int) []int { return p.colIdx[p.rowPtr[i]:p.rowPtr[i+1]] }

// Equal reports whether two patterns describe the identical structure.
func (p *Pattern) Equal(q *Pattern) bool {
	if p.rows != q.rows || p.cols != q.cols || len(p.colIdx) != len(q.colIdx) {
		return false
	}
	for i, v := range p.rowPtr {
		if q.rowPtr[i] != v {
			return false
		}
	}
	for i, v := range p.colIdx {
		if q.colIdx[i] != v {
			return false
		}
	}
	return true
}

// Matrix is a CSR matrix with a fixed Pattern and mutable values.
type Matrix struct {
	pat *Pattern
	val []float64
}

// NewMatrix allocates a zero-valued matrix over the given pattern.
func NewMatrix(p *Pattern) *Matrix {
	return &Matrix{pat: p, val: make([]float64, p.NNZ())}
}

// Pattern returns the structure of the matrix.
func (m *Matrix) Pattern() *Pattern { return m.pat }

// Dims returns the matrix dimensions.
func (m *Matrix) Dims() (rows, cols int) { return m.pat.Dims() }

// Values returns the backing value slice in pattern order.
// Callers may refresh entries in place between iterations.
func (m *Matrix) Values() []float64 { return m.val }

// RowVals returns the values of row i in pattern order, aligned with
// Pattern().RowCols(i). The returned slice is shared with the matrix.
func (m *Matrix) RowVals(i int) []float64 {
	return m.val[m.pat.rowPtr[i]:m.pat.rowPtr[i+1]]
}

// SetRow overwrites the structural nonzeros of row i in pattern order.
func (m *Matrix) SetRow(i int, vals []float64) error {
	lo, hi := m.pat.rowPtr[i], m.pat.rowPtr[i+1]
	if len(vals) != hi-lo {
		return ErrShapeMismatch
	}
	copy(m.val[lo:hi], vals)
	return nil
}

// At returns the value at (i, j), zero when (i, j) is not structural.
func (m *Matrix) At(i, j int) float64 {
	lo, hi := m.pat.rowPtr[i], m.pat.rowPtr[i+1]
	cols := m.pat.colIdx[lo:hi]
	k := sort.SearchInts(cols, j)
	if k < len(cols) && cols[k] == j {
		return m.val[lo+k]
	}
	return 0
}

// MulVec computes y = A·x. len(x) must equal cols and len(y) rows.
func (m *Matrix) MulVec(x, y []float64) error {
	rows, cols := m.pat.Dims()
	if len(x) != cols || len(y) != rows {
		return ErrShapeMismatch
	}
	for i := 0; i < rows; i++ {
		lo, hi := m.pat.rowPtr[i], m.pat.rowPtr[i+1]
		s := 0.0
		for k := lo; k < hi; k++ {
			s += m.val[k] * x[m.pat.colIdx[k]]
		}
		y[i] = s
	}
	return nil
}

// MulVecTrans computes y = Aᵀ·x. len(x) must equal rows and len(y) cols.
func (m *Matrix) MulVecTrans(x, y []float64) error {
	rows, cols := m.pat.Dims()
	if len(x) != rows || len(y) != cols {
		return ErrShapeMismatch
	}
	for i := range y {
		y[i] = 0
	}
	for i := 0; i < rows; i++ {
		lo, hi := m.pat.rowPtr[i], m.pat.rowPtr[i+1]
		for k := lo; k < hi; k++ {
			y[m.pat.colIdx[k]] += m.val[k] * x[i]
		}
	}
	return nil
}

// DenseTo expands the matrix into dst, reusing dst when shapes match.
func (m *Matrix) DenseTo(dst *mat.Dense) *mat.Dense {
	rows, cols := m.pat.Dims()
	if dst == nil {
		dst = mat.NewDense(rows, cols, nil)
	} else if r, c := dst.Dims(); r != rows || c != cols {
		dst.Reset()
		dst.ReuseAs(rows, cols)
	}
	dst.Zero()
	for i := 0; i < rows; i++ {
		lo, hi := m.pat.rowPtr[i], m.pat.rowPtr[i+1]
		for k := lo; k < hi; k++ {
			dst.Set(i, m.pat.colIdx[k], m.val[k])
		}
	}
	return dst
}
