// Copyright ©2025 curioloop. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package qp defines the convex quadratic subproblem contract consumed by the
// trust-region SCP iteration, together with a reference ADMM solver.
//
// A Subproblem carries the quadratic model in compressed-row sparse form.
// The linearized constraints appear in elastic (exact L1 penalty) form:
//
//	minimize ½ 𝐝ᵀ𝐇𝐝 + 𝐠ᵀ𝐝 + μ·( ‖𝐀ₑ𝐝 + 𝐛ₑ‖₁ + ‖𝚖𝚒𝚗(0, 𝐀ᵢ𝐝 + 𝐛ᵢ)‖₁ )
//	subject to ‖𝐝‖∞ ≤ Δ
//
// which is always feasible for any trust radius, mirroring the slack
// relaxation classical SQP codes apply when the hard linearization becomes
// inconsistent. External solvers that insist on the hard constraints may
// still report StatusInfeasible or StatusUnbounded; the SCP driver recovers
// by shrinking the radius and retrying.
package qp

import (
	"context"

	"github.com/curioloop/scp/sparse"
)

// Status is the outcome reported by a QP collaborator.
type Status int

const (
	StatusOptimal Status = iota
	StatusInfeasible
	StatusUnbounded
	StatusMaxIterReached
)

func (s Status) String() string {
	switch s {
	case StatusOptimal:
		return "optimal"
	case StatusInfeasible:
		return "infeasible"
	case StatusUnbounded:
		return "unbounded"
	case StatusMaxIterReached:
		return "max-iterations"
	default:
		return "unknown"
	}
}

// Subproblem is one convex quadratic model around the current iterate.
type Subproblem struct {
	// H is the n×n positive-semidefinite Hessian model.
	H *sparse.Matrix
	// G is the objective gradient at the iterate.
	G []float64
	// Aeq, Beq give the linearized equalities 𝐀ₑ𝐝 + 𝐛ₑ = 0.
	Aeq *sparse.Matrix
	Beq []float64
	// Aineq, Bineq give the linearized inequalities 𝐀ᵢ𝐝 + 𝐛ᵢ ≥ 0.
	Aineq *sparse.Matrix
	Bineq []float64
	// Radius bounds the step: ‖𝐝‖∞ ≤ Radius.
	Radius float64
	// Penalty is the exact-penalty weight μ on linearized violation.
	Penalty float64
}

// Solution is the step returned by a QP collaborator.
type Solution struct {
	// Step is the primal step 𝐝, len n.
	Step []float64
	// EqDuals and IneqDuals are the multipliers of the linearized
	// constraint rows, in the row order of the subproblem.
	EqDuals   []float64
	IneqDuals []float64
	// Status of the solve. Step carries the certified optimum for
	// StatusOptimal and the best iterate so far for StatusMaxIterReached.
	Status Status
	// Iterations consumed by the collaborator, for diagnostics.
	Iterations int
}

// Solver is the external QP collaborator invoked once per SCP iteration.
type Solver interface {
	Solve(ctx context.Context, sp *Subproblem) (*Solution, error)
}
