// Copyright ©2025 curioloop. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package problem

import (
	"context"
	"fmt"
	"math"

	"github.com/curioloop/scp/numdiff"
	"github.com/curioloop/scp/sparse"
)

// DiffCompiler is the in-repo reference Compiler. It derives evaluators by
// finite differences: the Jacobian sparsity structure is detected once by
// probing the dense Jacobian at a few deterministic points, then every
// evaluation refreshes values on that fixed structure.
//
// Detection is a heuristic over the probe set. An entry that is zero at
// every probe is treated as structurally zero, which holds for the
// polynomial/trigonometric residuals of trajectory problems but can be
// defeated by functions vanishing on the whole probe set.
type DiffCompiler struct {
	// Method selects the finite difference scheme. Forward by default.
	Method numdiff.Method
	// RelStep is forwarded to the difference engine.
	RelStep float64
	// Probes is the number of structure-detection points (default 3).
	Probes int
	// Tol is the magnitude below which a probed entry counts as zero.
	Tol float64
}

const defaultDetectTol = 1e-12

// Compile implements Compiler. A non-nil artifact with matching dimensions
// short-circuits structure detection.
func (c *DiffCompiler) Compile(ctx context.Context, def Definition, dims Dims, art *Artifact) (Evaluator, *Artifact, error) {
	if def == nil {
		return nil, nil, fmt.Errorf("%w: nil definition", ErrConfiguration)
	}
	if dims.NumInputs <= 0 || dims.NumOutputs <= 0 || dims.NumParams < 0 {
		return nil, nil, fmt.Errorf("%w: non-positive dimensions", ErrConfiguration)
	}

	var pat *sparse.Pattern
	if art != nil && art.NumInputs == dims.NumInputs &&
		art.NumOutputs == dims.NumOutputs && art.NumParams == dims.NumParams {
		p, err := art.Pattern()
		if err != nil {
			return nil, nil, err
		}
		pat = p
	} else {
		p, err := c.detect(ctx, def, dims)
		if err != nil {
			return nil, nil, err
		}
		pat = p
		art = &Artifact{
			NumInputs:  dims.NumInputs,
			NumOutputs: dims.NumOutputs,
			NumParams:  dims.NumParams,
			RowCols:    rowCols(pat),
		}
	}

	ev := &diffEvaluator{
		def:   def,
		dims:  dims,
		pat:   pat,
		jac:   sparse.NewMatrix(pat),
		y:     make([]float64, dims.NumOutputs),
		dense: make([]float64, dims.NumInputs*dims.NumOutputs),
		spec: &numdiff.Spec{
			N:       dims.NumInputs,
			M:       dims.NumOutputs,
			Method:  c.Method,
			RelStep: c.RelStep,
		},
	}
	return ev, art, nil
}

func rowCols(p *sparse.Pattern) [][]int {
	rows, _ := p.Dims()
	rc := make([][]int, rows)
	for i := range rc {
		rc[i] = append([]int(nil), p.RowCols(i)...)
	}
	return rc
}

// detect probes the dense Jacobian at deterministic points and keeps every
// entry that is nonzero at any probe.
func (c *DiffCompiler) detect(ctx context.Context, def Definition, dims Dims) (*sparse.Pattern, error) {
	probes := c.Probes
	if probes <= 0 {
		probes = 3
	}
	tol := c.Tol
	if tol <= 0 {
		tol = defaultDetectTol
	}

	n, m := dims.NumInputs, dims.NumOutputs
	x := make([]float64, n)
	p := make([]float64, dims.NumParams)
	dense := make([]float64, n*m)
	hit := make([]bool, n*m)

	spec := &numdiff.Spec{
		N:      n,
		M:      m,
		Method: c.Method,
		Func: func(x, y []float64) {
			def(x, p, y)
		},
		RelStep: c.RelStep,
	}

	for k := 0; k < probes; k++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		for i := range x {
			x[i] = 0.5 + math.Sin(float64(k*31+i*7+1))
		}
		for i := range p {
			p[i] = 0.5 + math.Cos(float64(k*17+i*5+1))
		}
		if err := spec.Jacobian(x, dense); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrConfiguration, err)
		}
		for i, v := range dense {
			if math.Abs(v) > tol {
				hit[i] = true
			}
		}
	}

	rc := make([][]int, m)
	for r := 0; r < m; r++ {
		for col := 0; col < n; col++ {
			if hit[r*n+col] {
				rc[r] = append(rc[r], col)
			}
		}
	}
	return sparse.NewPattern(m, n, rc)
}

// diffEvaluator pairs a Definition with finite differencing on a fixed
// sparsity structure. Not safe for concurrent use: evaluation buffers and
// the returned matrix are reused between calls.
type diffEvaluator struct {
	def   Definition
	dims  Dims
	pat   *sparse.Pattern
	jac   *sparse.Matrix
	y     []float64
	dense []float64
	spec  *numdiff.Spec
}

func (e *diffEvaluator) Pattern() *sparse.Pattern { return e.pat }

func (e *diffEvaluator) Value(x, p []float64) ([]float64, error) {
	if len(x) != e.dims.NumInputs || len(p) != e.dims.NumParams {
		return nil, fmt.Errorf("%w: evaluate got |x|=%d |p|=%d", ErrDimension, len(x), len(p))
	}
	e.def(x, p, e.y)
	return e.y, nil
}

func (e *diffEvaluator) Evaluate(x, p []float64) ([]float64, *sparse.Matrix, error) {
	if _, err := e.Value(x, p); err != nil {
		return nil, nil, err
	}
	e.spec.Func = func(x, y []float64) { e.def(x, p, y) }
	// numdiff perturbs x in place, work on a private copy of the iterate
	xs := append([]float64(nil), x...)
	if err := e.spec.Jacobian(xs, e.dense); err != nil {
		return nil, nil, fmt.Errorf("%w: %v", ErrInvalidState, err)
	}
	n := e.dims.NumInputs
	vals := e.jac.Values()
	k := 0
	for r := 0; r < e.dims.NumOutputs; r++ {
		for _, col := range e.pat.RowCols(r) {
			vals[k] = e.dense[r*n+col]
			k++
		}
	}
	return e.y, e.jac, nil
}
