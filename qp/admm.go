// Copyright ©2025 curioloop. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package qp

import (
	"context"
	"errors"
	"fmt"
	"math"

	"gonum.org/v1/gonum/mat"
)

// ErrBadSubproblem is returned when subproblem dimensions disagree.
var ErrBadSubproblem = errors.New("qp: malformed subproblem")

// ADMM is the reference QP collaborator: an operator-splitting solver in the
// OSQP manner over the elastic subproblem. The L1 penalty terms are encoded
// with slack variables s, t:
//
//	minimize ½ 𝐝ᵀ𝐇𝐝 + 𝐠ᵀ𝐝 + μ𝟏ᵀ𝐬 + μ𝟏ᵀ𝐭
//	subject to -𝐬 ≤ 𝐀ₑ𝐝 + 𝐛ₑ ≤ 𝐬,  𝐀ᵢ𝐝 + 𝐛ᵢ + 𝐭 ≥ 0,
//	           𝐬 ≥ 0, 𝐭 ≥ 0, -Δ ≤ 𝐝 ≤ Δ
//
// and the splitting iterates a single Cholesky factorization of
// 𝐏 + σ𝐈 + ρ𝐀ᵀ𝐀, regularized with added multiples of the identity when the
// factorization fails. The KKT system is formed densely, so this solver is
// intended for the moderate dimensions of MPC knot-point problems; swap in a
// sparse QP collaborator behind the Solver interface for large ones.
type ADMM struct {
	// MaxIterations caps the splitting iterations (default 20000).
	MaxIterations int
	// EpsAbs is the absolute primal/dual residual tolerance (default 1e-9).
	EpsAbs float64
	// EpsRel scales the residual tolerances by the magnitude of the
	// iterates (default 1e-8), so badly scaled subproblems terminate on
	// relative accuracy instead of grinding toward an absolute floor.
	EpsRel float64
	// Rho is the constraint step weight (default 10).
	Rho float64
	// Sigma is the proximal regularization weight (default 1e-6).
	Sigma float64
}

const admmInfeasEps = 1e-10

func (a *ADMM) defaults() (maxIter int, eps, epsRel, rho, sigma float64) {
	maxIter, eps, epsRel, rho, sigma = a.MaxIterations, a.EpsAbs, a.EpsRel, a.Rho, a.Sigma
	if maxIter <= 0 {
		maxIter = 20000
	}
	if eps <= 0 {
		eps = 1e-9
	}
	if epsRel <= 0 {
		epsRel = 1e-8
	}
	if rho <= 0 {
		rho = 10
	}
	if sigma <= 0 {
		sigma = 1e-6
	}
	return
}

// Solve implements Solver.
func (a *ADMM) Solve(ctx context.Context, sp *Subproblem) (*Solution, error) {
	maxIter, eps, epsRel, rho, sigma := a.defaults()

	n := len(sp.G)
	hr, hc := sp.H.Dims()
	if n == 0 || hr != n || hc != n || sp.Radius <= 0 || sp.Penalty < 0 {
		return nil, ErrBadSubproblem
	}
	me, mi := 0, 0
	if sp.Aeq != nil {
		r, c := sp.Aeq.Dims()
		if c != n || len(sp.Beq) != r {
			return nil, ErrBadSubproblem
		}
		me = r
	}
	if sp.Aineq != nil {
		r, c := sp.Aineq.Dims()
		if c != n || len(sp.Bineq) != r {
			return nil, ErrBadSubproblem
		}
		mi = r
	}

	// Augmented variable w = [d s t], constraint rows stacked as:
	// eq upper, eq lower, ineq, s ≥ 0, t ≥ 0, trust box.
	nw := n + me + mi
	rows := 3*me + 2*mi + n

	A := mat.NewDense(rows, nw, nil)
	l := make([]float64, rows)
	u := make([]float64, rows)
	r := 0
	for i := 0; i < me; i++ { // Aeq d − s ≤ −beq
		for k, col := range sp.Aeq.Pattern().RowCols(i) {
			A.Set(r, col, sp.Aeq.RowVals(i)[k])
		}
		A.Set(r, n+i, -1)
		l[r], u[r] = math.Inf(-1), -sp.Beq[i]
		r++
	}
	for i := 0; i < me; i++ { // Aeq d + s ≥ −beq
		for k, col := range sp.Aeq.Pattern().RowCols(i) {
			A.Set(r, col, sp.Aeq.RowVals(i)[k])
		}
		A.Set(r, n+i, 1)
		l[r], u[r] = -sp.Beq[i], math.Inf(1)
		r++
	}
	for i := 0; i < mi; i++ { // Aineq d + t ≥ −bineq
		for k, col := range sp.Aineq.Pattern().RowCols(i) {
			A.Set(r, col, sp.Aineq.RowVals(i)[k])
		}
		A.Set(r, n+me+i, 1)
		l[r], u[r] = -sp.Bineq[i], math.Inf(1)
		r++
	}
	for i := 0; i < me+mi; i++ { // slacks nonnegative
		A.Set(r, n+i, 1)
		l[r], u[r] = 0, math.Inf(1)
		r++
	}
	for i := 0; i < n; i++ { // trust box
		A.Set(r, i, 1)
		l[r], u[r] = -sp.Radius, sp.Radius
		r++
	}

	// P = blkdiag(H, 0, 0), q = [g μ𝟏 μ𝟏]
	P := mat.NewSymDense(nw, nil)
	for i := 0; i < n; i++ {
		for _, col := range sp.H.Pattern().RowCols(i) {
			if col >= i {
				P.SetSym(i, col, sp.H.At(i, col))
			}
		}
	}
	q := make([]float64, nw)
	copy(q, sp.G)
	for i := n; i < nw; i++ {
		q[i] = sp.Penalty
	}

	// K = P + σI + ρAᵀA, refactorized only when ρ adapts. When the
	// factorization fails, add growing multiples of the identity
	// (Nocedal & Wright 3.3).
	K := mat.NewSymDense(nw, nil)
	var chol mat.Cholesky
	factorize := func() error {
		K.CopySym(P)
		for i := 0; i < nw; i++ {
			K.SetSym(i, i, K.At(i, i)+sigma)
		}
		for row := 0; row < rows; row++ {
			for i := 0; i < nw; i++ {
				ai := A.At(row, i)
				if ai == 0 {
					continue
				}
				for j := i; j < nw; j++ {
					if aj := A.At(row, j); aj != 0 {
						K.SetSym(i, j, K.At(i, j)+rho*ai*aj)
					}
				}
			}
		}
		tau := 0.0
		for try := 0; ; try++ {
			if chol.Factorize(K) {
				return nil
			}
			if try >= 20 {
				return fmt.Errorf("%w: KKT factorization failed", ErrBadSubproblem)
			}
			next := math.Max(5*tau, 1e-8)
			for i := 0; i < nw; i++ {
				K.SetSym(i, i, K.At(i, i)+next-tau)
			}
			tau = next
		}
	}
	if err := factorize(); err != nil {
		return nil, err
	}

	w := mat.NewVecDense(nw, nil)
	rhs := mat.NewVecDense(nw, nil)
	z := make([]float64, rows)
	y := make([]float64, rows)
	dy := make([]float64, rows)
	v := make([]float64, rows)
	tmp := make([]float64, nw)

	status := StatusMaxIterReached
	iter := 0
	for ; iter < maxIter; iter++ {
		if iter%256 == 0 {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
		}

		// w⁺ = K⁻¹(σw − q + Aᵀ(ρz − y))
		for i := range tmp {
			tmp[i] = 0
		}
		for row := 0; row < rows; row++ {
			c := rho*z[row] - y[row]
			if c == 0 {
				continue
			}
			for i := 0; i < nw; i++ {
				if ai := A.At(row, i); ai != 0 {
					tmp[i] += c * ai
				}
			}
		}
		for i := 0; i < nw; i++ {
			rhs.SetVec(i, sigma*w.AtVec(i)-q[i]+tmp[i])
		}
		if err := chol.SolveVecTo(w, rhs); err != nil {
			return nil, fmt.Errorf("qp: admm solve: %w", err)
		}

		// z⁺ = clamp(Aw + y/ρ, l, u), y⁺ = y + ρ(Aw − z⁺)
		rp, maxAw, maxZ := 0.0, 0.0, 0.0
		for row := 0; row < rows; row++ {
			s := 0.0
			for i := 0; i < nw; i++ {
				if ai := A.At(row, i); ai != 0 {
					s += ai * w.AtVec(i)
				}
			}
			v[row] = s
			zn := math.Min(math.Max(s+y[row]/rho, l[row]), u[row])
			dy[row] = rho * (s - zn)
			y[row] += dy[row]
			z[row] = zn
			if d := math.Abs(s - zn); d > rp {
				rp = d
			}
			if d := math.Abs(s); d > maxAw {
				maxAw = d
			}
			if d := math.Abs(zn); d > maxZ {
				maxZ = d
			}
		}

		// Dual residual max|Pw + q + Aᵀy|, split between the step block
		// and the slack block: the slack entries carry μ-scale terms that
		// would otherwise swamp the step block's relative tolerance.
		rdStep, rdSlack, scaleStep, scaleSlack := 0.0, 0.0, 0.0, 0.0
		for i := 0; i < nw; i++ {
			pw := 0.0
			for j := 0; j < nw; j++ {
				pw += P.At(i, j) * w.AtVec(j)
			}
			aty := 0.0
			for row := 0; row < rows; row++ {
				if ai := A.At(row, i); ai != 0 {
					aty += ai * y[row]
				}
			}
			res := math.Abs(q[i] + pw + aty)
			sc := math.Max(math.Abs(q[i]), math.Max(math.Abs(pw), math.Abs(aty)))
			if i < n {
				rdStep = math.Max(rdStep, res)
				scaleStep = math.Max(scaleStep, sc)
			} else {
				rdSlack = math.Max(rdSlack, res)
				scaleSlack = math.Max(scaleSlack, sc)
			}
		}

		if rp < eps+epsRel*math.Max(maxAw, maxZ) &&
			rdStep < eps+epsRel*scaleStep &&
			rdSlack < eps+epsRel*scaleSlack {
			status = StatusOptimal
			iter++
			break
		}
		if infeasibleCertificate(A, l, u, dy) {
			status = StatusInfeasible
			break
		}

		// Badly scaled subproblems drift toward one residual dominating
		// the other; rebalancing ρ restores progress at the cost of one
		// refactorization.
		if iter%1000 == 999 {
			rd := math.Max(rdStep, rdSlack)
			switch {
			case rp > 100*rd && rho < 1e6:
				rho = math.Min(rho*10, 1e6)
			case rd > 100*rp && rho > 1e-3:
				rho = math.Max(rho/10, 1e-3)
			default:
				continue
			}
			if err := factorize(); err != nil {
				return nil, err
			}
		}
	}

	sol := &Solution{
		Step:       make([]float64, n),
		EqDuals:    make([]float64, me),
		IneqDuals:  make([]float64, mi),
		Status:     status,
		Iterations: iter,
	}
	// The splitting iterate w satisfies the box only in the limit, so an
	// unconverged step is projected back onto it before anyone consumes it.
	for i := 0; i < n; i++ {
		sol.Step[i] = math.Min(math.Max(w.AtVec(i), -sp.Radius), sp.Radius)
	}
	// Multipliers of the linearized rows. Equality rows combine both elastic
	// sides; inequality multipliers are the nonnegative lower-side part.
	for i := 0; i < me; i++ {
		sol.EqDuals[i] = y[i] + y[me+i]
	}
	for i := 0; i < mi; i++ {
		sol.IneqDuals[i] = math.Max(0, -y[2*me+i])
	}
	return sol, nil
}

// infeasibleCertificate checks the standard primal infeasibility certificate
// on the dual update direction δy: 𝐀ᵀδ𝐲 ≈ 0 with negative support value.
func infeasibleCertificate(A *mat.Dense, l, u, dy []float64) bool {
	norm := 0.0
	for _, v := range dy {
		if d := math.Abs(v); d > norm {
			norm = d
		}
	}
	if norm < admmInfeasEps {
		return false
	}
	rows, nw := A.Dims()
	for i := 0; i < nw; i++ {
		s := 0.0
		for row := 0; row < rows; row++ {
			s += A.At(row, i) * dy[row]
		}
		if math.Abs(s) > admmInfeasEps*norm {
			return false
		}
	}
	support := 0.0
	for row := 0; row < rows; row++ {
		if dy[row] > 0 {
			if math.IsInf(u[row], 1) {
				return false
			}
			support += u[row] * dy[row]
		} else if dy[row] < 0 {
			if math.IsInf(l[row], -1) {
				return false
			}
			support += l[row] * dy[row]
		}
	}
	return support < -admmInfeasEps*norm
}
