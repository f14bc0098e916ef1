// Copyright ©2025 curioloop. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package scp

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"

	"github.com/curioloop/scp/problem"
	"github.com/curioloop/scp/sparse"
)

// Model is one linearization of the problem around an iterate: the objective
// gradient, stacked constraint Jacobians and residuals, and the L1 violation.
// Row blocks follow constraint append order exactly. The model is owned by
// the Assembler and refreshed in place on every Assemble call.
type Model struct {
	Objective float64
	Grad      []float64
	Aeq       *sparse.Matrix
	Ceq       []float64
	Aineq     *sparse.Matrix
	Cineq     []float64
	Violation float64
}

// Assembler stacks per-handle evaluations into the sparse quadratic
// subproblem. The stacked column-index/row-pointer structure is computed
// once at construction and shared by every later Assemble, so an iteration
// refreshes O(nnz) values instead of re-deriving structure.
//
// The Hessian model is a damped BFGS approximation of the objective
// curvature (Powell damping: blend the gradient difference with 𝐁𝐬
// whenever 𝐬ᵀ𝐲 < ⅕𝐬ᵀ𝐁𝐬), made positive definite before export by adding
// growing multiples of the identity until a Cholesky factorization succeeds.
type Assembler struct {
	prob *problem.OptimizationProblem
	n    int

	model   Model
	eqOffs  []segOff
	neqOffs []segOff

	hess  *mat.SymDense // raw BFGS accumulation
	hreg  *mat.SymDense // regularized copy handed to the QP
	chol  mat.Cholesky
	tau   float64
	hcsr  *sparse.Matrix
	bs, r []float64 // curvature work vectors
}

type segOff struct {
	row, nnz int // offsets into the stacked residual / value slices
}

// NewAssembler derives the fixed stacked structures from the compiled
// problem handles. Every handle must be compiled first.
func NewAssembler(p *problem.OptimizationProblem) (*Assembler, error) {
	n := p.N()
	a := &Assembler{
		prob: p,
		n:    n,
		hess: mat.NewSymDense(n, nil),
		hreg: mat.NewSymDense(n, nil),
		hcsr: sparse.NewMatrix(sparse.DensePattern(n, n)),
		bs:   make([]float64, n),
		r:    make([]float64, n),
	}
	a.model.Grad = make([]float64, n)

	_, err := p.Objective().Pattern()
	if err != nil {
		return nil, err
	}

	stack := func(cs []*problem.ConstraintFunction) (*sparse.Matrix, []float64, []segOff, error) {
		if len(cs) == 0 {
			return nil, nil, nil, nil
		}
		pats := make([]*sparse.Pattern, len(cs))
		offs := make([]segOff, len(cs))
		rows, nnz := 0, 0
		for i, c := range cs {
			cp, err := c.Pattern()
			if err != nil {
				return nil, nil, nil, err
			}
			pats[i] = cp
			offs[i] = segOff{row: rows, nnz: nnz}
			r, _ := cp.Dims()
			rows += r
			nnz += cp.NNZ()
		}
		sp, err := sparse.StackPatterns(n, pats...)
		if err != nil {
			return nil, nil, nil, err
		}
		return sparse.NewMatrix(sp), make([]float64, rows), offs, nil
	}

	if a.model.Aeq, a.model.Ceq, a.eqOffs, err = stack(p.Equalities()); err != nil {
		return nil, err
	}
	if a.model.Aineq, a.model.Cineq, a.neqOffs, err = stack(p.Inequalities()); err != nil {
		return nil, err
	}

	a.ResetCurvature()
	return a, nil
}

// Assemble refreshes the model values at iterate x.
func (a *Assembler) Assemble(x []float64) (*Model, error) {
	obj := a.prob.Objective()
	y, jac, err := obj.Evaluate(x)
	if err != nil {
		return nil, err
	}
	a.model.Objective = y[0]
	for i := range a.model.Grad {
		a.model.Grad[i] = 0
	}
	for k, col := range jac.Pattern().RowCols(0) {
		a.model.Grad[col] = jac.RowVals(0)[k]
	}

	refresh := func(cs []*problem.ConstraintFunction, dst *sparse.Matrix, res []float64, offs []segOff) error {
		for i, c := range cs {
			cy, cjac, err := c.Evaluate(x)
			if err != nil {
				return err
			}
			copy(res[offs[i].row:], cy)
			copy(dst.Values()[offs[i].nnz:], cjac.Values())
		}
		return nil
	}
	if err := refresh(a.prob.Equalities(), a.model.Aeq, a.model.Ceq, a.eqOffs); err != nil {
		return nil, err
	}
	if err := refresh(a.prob.Inequalities(), a.model.Aineq, a.model.Cineq, a.neqOffs); err != nil {
		return nil, err
	}

	a.model.Violation = violation(a.model.Ceq, a.model.Cineq)
	return &a.model, nil
}

// Probe evaluates objective and violation at x without touching the model,
// for merit comparisons at trial points.
func (a *Assembler) Probe(x []float64) (obj, viol float64, err error) {
	y, err := a.prob.Objective().Value(x)
	if err != nil {
		return 0, 0, err
	}
	obj = y[0]
	for _, c := range a.prob.Equalities() {
		cy, err := c.Value(x)
		if err != nil {
			return 0, 0, err
		}
		for _, v := range cy {
			viol += math.Abs(v)
		}
	}
	for _, c := range a.prob.Inequalities() {
		cy, err := c.Value(x)
		if err != nil {
			return 0, 0, err
		}
		for _, v := range cy {
			viol += math.Max(0, -v)
		}
	}
	return obj, viol, nil
}

func violation(ceq, cineq []float64) float64 {
	v := 0.0
	for _, c := range ceq {
		v += math.Abs(c)
	}
	for _, c := range cineq {
		v += math.Max(0, -c)
	}
	return v
}

// ResetCurvature restores the Hessian model to the identity.
func (a *Assembler) ResetCurvature() {
	for i := 0; i < a.n; i++ {
		for j := i; j < a.n; j++ {
			if i == j {
				a.hess.SetSym(i, j, 1)
			} else {
				a.hess.SetSym(i, j, 0)
			}
		}
	}
	a.tau = 0
	a.regularize()
}

// UpdateCurvature folds one accepted step s and gradient difference y into
// the BFGS model:
//
//	𝐁 ← 𝐁 + 𝐫𝐫ᵀ/𝐬ᵀ𝐫 − 𝐁𝐬𝐬ᵀ𝐁/𝐬ᵀ𝐁𝐬
//	𝐫 = θ𝐲 + (1−θ)𝐁𝐬,  θ damped so 𝐬ᵀ𝐫 ≥ ⅕𝐬ᵀ𝐁𝐬
func (a *Assembler) UpdateCurvature(s, y []float64) {
	if len(s) != a.n || len(y) != a.n {
		panic("scp: curvature dimension mismatch")
	}
	for i := 0; i < a.n; i++ {
		v := 0.0
		for j := 0; j < a.n; j++ {
			v += a.hess.At(i, j) * s[j]
		}
		a.bs[i] = v
	}
	sBs := floats.Dot(s, a.bs)
	sy := floats.Dot(s, y)
	if sBs <= 0 {
		a.ResetCurvature()
		return
	}
	theta := 1.0
	if sy < 0.2*sBs {
		theta = 0.8 * sBs / (sBs - sy)
	}
	sr := 0.0
	for i := range s {
		a.r[i] = theta*y[i] + (1-theta)*a.bs[i]
		sr += s[i] * a.r[i]
	}
	if sr <= 1e-14 {
		return // degenerate pair, keep the current model
	}
	for i := 0; i < a.n; i++ {
		for j := i; j < a.n; j++ {
			v := a.hess.At(i, j) + a.r[i]*a.r[j]/sr - a.bs[i]*a.bs[j]/sBs
			a.hess.SetSym(i, j, v)
		}
	}
	a.regularize()
}

// Hessian returns the positive-definite model in compressed-row form.
// The matrix is owned by the assembler and refreshed in place.
func (a *Assembler) Hessian() *sparse.Matrix { return a.hcsr }

// regularize copies the raw model and adds growing multiples of the
// identity until the Cholesky factorization succeeds (Nocedal & Wright,
// algorithm 3.3), falling back to the identity when that keeps failing.
func (a *Assembler) regularize() {
	a.hreg.CopySym(a.hess)

	minDiag := a.hreg.At(0, 0)
	for i := 1; i < a.n; i++ {
		if d := a.hreg.At(i, i); d < minDiag {
			minDiag = d
		}
	}
	if minDiag > 0 {
		a.tau = 0
	} else if a.tau == 0 {
		a.tau = -minDiag + 1e-3
	}

	ok := false
	for try := 0; try < 20; try++ {
		if a.tau != 0 {
			for i := 0; i < a.n; i++ {
				a.hreg.SetSym(i, i, a.hess.At(i, i)+a.tau)
			}
		}
		if a.chol.Factorize(a.hreg) {
			ok = true
			break
		}
		a.tau = math.Max(5*a.tau, 1e-3)
	}
	if !ok {
		for i := 0; i < a.n; i++ {
			for j := i; j < a.n; j++ {
				if i == j {
					a.hreg.SetSym(i, j, 1)
				} else {
					a.hreg.SetSym(i, j, 0)
				}
			}
		}
	}

	vals := a.hcsr.Values()
	k := 0
	for i := 0; i < a.n; i++ {
		for j := 0; j < a.n; j++ {
			vals[k] = a.hreg.At(i, j)
			k++
		}
	}
}

// QuadTerm evaluates 𝐠ᵀ𝐝 + ½𝐝ᵀ𝐇𝐝 for the current model.
func (a *Assembler) QuadTerm(g, d []float64) float64 {
	q := floats.Dot(g, d)
	for i := range d {
		row := 0.0
		for j := range d {
			row += a.hreg.At(i, j) * d[j]
		}
		q += 0.5 * d[i] * row
	}
	return q
}

// LinViolation evaluates the L1 violation of the linearized constraints at
// step d: ‖𝐜ₑ + 𝐀ₑ𝐝‖₁ + ‖𝚖𝚒𝚗(0, 𝐜ᵢ + 𝐀ᵢ𝐝)‖₁.
func (a *Assembler) LinViolation(m *Model, d []float64) (float64, error) {
	v := 0.0
	if m.Aeq != nil {
		out := make([]float64, len(m.Ceq))
		if err := m.Aeq.MulVec(d, out); err != nil {
			return 0, fmt.Errorf("scp: linearized equality: %w", err)
		}
		for i, c := range m.Ceq {
			v += math.Abs(c + out[i])
		}
	}
	if m.Aineq != nil {
		out := make([]float64, len(m.Cineq))
		if err := m.Aineq.MulVec(d, out); err != nil {
			return 0, fmt.Errorf("scp: linearized inequality: %w", err)
		}
		for i, c := range m.Cineq {
			v += math.Max(0, -(c + out[i]))
		}
	}
	return v, nil
}
