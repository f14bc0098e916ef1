// Copyright ©2025 curioloop. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package scp implements a trust-region sequential convex programming
// solver for smooth nonconvex problems, including ones with
// complementarity structure. Each iteration linearizes the constraints
// around the incumbent 𝐱, builds a convex quadratic subproblem with an
// exact-penalty treatment of the linearized constraints, and accepts or
// rejects the trial step by comparing actual and predicted decrease of
// the L1 merit function φ(𝐱) = 𝒇(𝐱) + μ·viol(𝐱).
package scp

import (
	"context"
	"fmt"
	"log/slog"
	"math"

	"github.com/google/uuid"
	"gonum.org/v1/gonum/floats"

	"github.com/curioloop/scp/problem"
	"github.com/curioloop/scp/qp"
)

// Phase is the solver lifecycle state.
type Phase int

const (
	Uninitialized Phase = iota
	Ready
	Iterating
	Converged
	Failed
)

func (p Phase) String() string {
	switch p {
	case Uninitialized:
		return "uninitialized"
	case Ready:
		return "ready"
	case Iterating:
		return "iterating"
	case Converged:
		return "converged"
	case Failed:
		return "failed"
	}
	return fmt.Sprintf("phase(%d)", int(p))
}

// qpRetries bounds the shrink-and-retry recovery when the subproblem
// solver reports infeasible or unbounded.
const qpRetries = 5

// Result is a deep copy of the final solver state.
type Result struct {
	X          []float64
	Objective  float64
	Violation  float64
	Iterations int
	Phase      Phase
}

// Option configures a Solver at construction.
type Option func(*Solver)

// WithQPSolver replaces the built-in ADMM subproblem solver.
func WithQPSolver(s qp.Solver) Option {
	return func(sv *Solver) { sv.qps = s }
}

// WithLogger replaces the default logger used for verbose traces.
func WithLogger(l *slog.Logger) Option {
	return func(sv *Solver) { sv.log = l }
}

// Solver drives the trust-region SCP iteration. It is not safe for
// concurrent use; run one Solver per goroutine.
type Solver struct {
	prob *problem.OptimizationProblem
	hp   params
	qps  qp.Solver
	log  *slog.Logger

	phase Phase
	asm   *Assembler

	x     []float64
	delta float64
	mu    float64
	iter  int
	obj   float64
	viol  float64

	// curvature pair deferred to the next assembly
	pendingStep []float64
	prevGrad    []float64

	// penalty stall tracking over accepted steps
	bestViol float64
	stall    int

	lastStep float64
	hist     History
	failure  error
}

// New builds a solver over a fully defined problem. The hyperparameters
// are validated eagerly; unknown keys are rejected.
func New(p *problem.OptimizationProblem, hp HyperParameters, opts ...Option) (*Solver, error) {
	if p == nil || p.Objective() == nil {
		return nil, fmt.Errorf("%w: problem needs an objective", problem.ErrConfiguration)
	}
	cfg := defaultParams()
	if err := cfg.apply(hp); err != nil {
		return nil, err
	}
	s := &Solver{
		prob: p,
		hp:   cfg,
		qps:  &qp.ADMM{},
		log:  slog.Default(),
	}
	for _, o := range opts {
		o(s)
	}
	return s, nil
}

// Phase reports the lifecycle state.
func (s *Solver) Phase() Phase { return s.phase }

// SetHyperParameters updates tuning values between runs.
func (s *Solver) SetHyperParameters(hp HyperParameters) error {
	if s.phase == Iterating {
		return fmt.Errorf("%w: cannot retune while iterating", problem.ErrInvalidState)
	}
	return s.hp.apply(hp)
}

// SetProblemParameters forwards new parameter values to the named
// function without recompiling it.
func (s *Solver) SetProblemParameters(name string, values []float64) error {
	if s.phase == Iterating {
		return fmt.Errorf("%w: cannot reparameterize while iterating", problem.ErrInvalidState)
	}
	return s.prob.SetProblemParameters(name, values)
}

// Initialize compiles every function in the problem, builds the sparse
// assembly structures, and primes the iteration at x0. It must be called
// once before the first Solve; use Reset for later warm restarts.
func (s *Solver) Initialize(ctx context.Context, x0 []float64) error {
	if len(x0) != s.prob.N() {
		return fmt.Errorf("%w: initial point has %d entries, problem has %d variables",
			problem.ErrDimension, len(x0), s.prob.N())
	}
	if err := s.prob.Compile(ctx, false); err != nil {
		return err
	}
	asm, err := NewAssembler(s.prob)
	if err != nil {
		return err
	}
	s.asm = asm
	s.prime(x0)
	return nil
}

// Reset rewinds the solver to a fresh Ready state at x0 without
// recompiling anything, for warm-restarted runs such as receding-horizon
// loops where only problem parameters change between solves.
func (s *Solver) Reset(x0 []float64) error {
	if s.asm == nil {
		return fmt.Errorf("%w: solver not initialized", problem.ErrInvalidState)
	}
	if len(x0) != s.prob.N() {
		return fmt.Errorf("%w: initial point has %d entries, problem has %d variables",
			problem.ErrDimension, len(x0), s.prob.N())
	}
	s.prime(x0)
	return nil
}

func (s *Solver) prime(x0 []float64) {
	s.x = append(s.x[:0], x0...)
	s.delta = s.hp.delta0
	s.mu = s.hp.mu
	s.iter = 0
	s.obj, s.viol = 0, 0
	s.pendingStep = nil
	s.prevGrad = nil
	s.bestViol = math.Inf(1)
	s.stall = 0
	s.lastStep = math.Inf(1)
	s.failure = nil
	s.asm.ResetCurvature()
	s.hist = History{RunID: uuid.NewString(), Problem: s.prob.Name()}
	s.phase = Ready
}

// Solve runs the trust-region iteration to convergence, failure, or the
// iteration cap. On failure the terminal error is also recorded and the
// phase becomes Failed.
func (s *Solver) Solve(ctx context.Context) error {
	if s.phase != Ready {
		return fmt.Errorf("%w: solve requires a ready solver, phase is %s", problem.ErrInvalidState, s.phase)
	}
	s.phase = Iterating
	err := s.iterate(ctx)
	if err != nil {
		s.phase = Failed
		s.failure = err
		return err
	}
	s.phase = Converged
	return nil
}

func (s *Solver) iterate(ctx context.Context) error {
	for s.iter < s.hp.maxIter {
		if err := ctx.Err(); err != nil {
			return err
		}

		m, err := s.asm.Assemble(s.x)
		if err != nil {
			return err
		}
		s.obj, s.viol = m.Objective, m.Violation
		s.foldCurvature(m)

		if s.delta < s.hp.trustRegionTol && s.viol < s.hp.feasTol && s.lastStep < s.hp.stepTol {
			return nil
		}

		sol, err := s.solveSubproblem(ctx, m)
		if err != nil {
			return err
		}
		d := sol.Step
		s.lastStep = floats.Norm(d, math.Inf(1))

		predicted, err := s.predictedDecrease(m, d)
		if err != nil {
			return err
		}

		s.iter++
		accepted, stationary := false, false
		if predicted > 1e-14 {
			trial := make([]float64, len(s.x))
			floats.AddTo(trial, s.x, d)
			tObj, tViol, err := s.asm.Probe(trial)
			if err != nil {
				return err
			}
			actual := (s.obj + s.mu*s.viol) - (tObj + s.mu*tViol)
			rho := actual / predicted
			if rho >= s.hp.trailTol {
				accepted = true
				s.accept(m, trial, d, tObj, tViol)
				// Growing the radius only pays when the box actually
				// bound the step; inflating it on interior steps keeps
				// Δ from ever shrinking through the convergence test.
				if rho > 0.75 && s.lastStep >= 0.8*s.delta {
					s.delta = math.Min(2*s.delta, s.hp.deltaMax)
				}
			}
			if s.hp.verbose {
				s.log.Info("scp iteration",
					"iter", s.iter, "rho", rho, "predicted", predicted,
					"accepted", accepted, "delta", s.delta, "mu", s.mu,
					"objective", s.obj, "violation", s.viol)
			}
		} else {
			// No merit decrease is predicted. At a feasible point with a
			// vanishing step that is the convergence signal; at an
			// infeasible one the iterate is stationary for the current
			// penalty level and only a larger μ can restore progress.
			if s.viol <= s.hp.feasTol && s.lastStep < s.hp.stepTol {
				stationary = true
			} else if s.viol > s.hp.feasTol && s.mu < s.hp.muMax {
				s.mu = math.Min(s.mu*s.hp.penaltyFactor(), s.hp.muMax)
				s.stall = 0
			}
			if s.hp.verbose {
				s.log.Info("scp iteration",
					"iter", s.iter, "predicted", predicted, "accepted", false,
					"delta", s.delta, "mu", s.mu,
					"objective", s.obj, "violation", s.viol)
			}
		}
		if !accepted {
			s.delta *= 0.5
		}

		s.hist.Snapshots = append(s.hist.Snapshots, Snapshot{
			Iteration: s.iter,
			X:         append([]float64(nil), s.x...),
			Radius:    s.delta,
			Penalty:   s.mu,
			Objective: s.obj,
			Violation: s.viol,
			Accepted:  accepted,
		})
		if stationary {
			return nil
		}
	}
	return fmt.Errorf("%w: after %d iterations (violation %.3g, radius %.3g)",
		ErrNotConverged, s.iter, s.viol, s.delta)
}

// solveSubproblem hands the current model to the QP solver, shrinking the
// radius and retrying a bounded number of times when the solver cannot
// certify an optimum. The built-in elastic formulation is always feasible,
// so the retries only matter for external solvers.
func (s *Solver) solveSubproblem(ctx context.Context, m *Model) (*qp.Solution, error) {
	sp := &qp.Subproblem{
		H: s.asm.Hessian(), G: m.Grad,
		Aeq: m.Aeq, Beq: m.Ceq,
		Aineq: m.Aineq, Bineq: m.Cineq,
		Penalty: s.mu,
	}
	for try := 0; try <= qpRetries; try++ {
		sp.Radius = s.delta
		sol, err := s.qps.Solve(ctx, sp)
		if err != nil {
			return nil, err
		}
		if sol.Status == qp.StatusOptimal || sol.Status == qp.StatusMaxIterReached {
			// The trust box is the iteration's contract with the model;
			// collaborators that stop early may hand back an iterate
			// outside it, so the step is clamped before anyone uses it.
			for i, di := range sol.Step {
				sol.Step[i] = math.Min(math.Max(di, -s.delta), s.delta)
			}
			return sol, nil
		}
		s.delta *= 0.5
	}
	return nil, fmt.Errorf("%w: no optimal step after %d radius reductions", ErrQPInfeasible, qpRetries)
}

// predictedDecrease is φ(𝐱) − φ̂(𝐝) where φ̂ is the model merit:
// 𝒇 + 𝐠ᵀ𝐝 + ½𝐝ᵀ𝐇𝐝 + μ·linviol(𝐝).
func (s *Solver) predictedDecrease(m *Model, d []float64) (float64, error) {
	lin, err := s.asm.LinViolation(m, d)
	if err != nil {
		return 0, err
	}
	return s.mu*s.viol - s.asm.QuadTerm(m.Grad, d) - s.mu*lin, nil
}

// accept moves the incumbent to the trial point and updates the penalty
// stall counter: when the best violation over accepted steps has not
// improved for two steps in a row and μ has headroom, the penalty grows.
func (s *Solver) accept(m *Model, trial, d []float64, tObj, tViol float64) {
	s.x = append(s.x[:0], trial...)
	s.obj, s.viol = tObj, tViol

	s.pendingStep = append([]float64(nil), d...)
	s.prevGrad = append(s.prevGrad[:0], m.Grad...)

	improved := tViol < s.bestViol-math.Max(1e-12, 1e-3*s.bestViol)
	if improved {
		s.bestViol = tViol
		s.stall = 0
	} else if tViol > s.hp.feasTol {
		s.stall++
		if s.stall >= 2 && s.mu < s.hp.muMax {
			s.mu = math.Min(s.mu*s.hp.penaltyFactor(), s.hp.muMax)
			s.stall = 0
		}
	}
}

// foldCurvature applies the curvature pair deferred from the last
// accepted step, now that the gradient at the new iterate is known.
func (s *Solver) foldCurvature(m *Model) {
	if s.pendingStep == nil {
		return
	}
	y := make([]float64, len(m.Grad))
	floats.SubTo(y, m.Grad, s.prevGrad)
	s.asm.UpdateCurvature(s.pendingStep, y)
	s.pendingStep = nil
}

// Solution returns the final iterate once the run has ended. It is only
// available in the Converged or Failed phase after at least one
// iteration; the returned slices are fresh copies.
func (s *Solver) Solution() (*Result, error) {
	if (s.phase != Converged && s.phase != Failed) || s.iter < 1 {
		return nil, fmt.Errorf("%w: no finished run", problem.ErrNotFound)
	}
	return &Result{
		X:          append([]float64(nil), s.x...),
		Objective:  s.obj,
		Violation:  s.viol,
		Iterations: s.iter,
		Phase:      s.phase,
	}, nil
}

// Failure returns the terminal error of a failed run, or nil.
func (s *Solver) Failure() error { return s.failure }

// History returns the iteration trace of the current or last run.
func (s *Solver) History() *History { return &s.hist }

// Record hands the finished run history to a sink.
func (s *Solver) Record(r Recorder) error {
	if s.phase != Converged && s.phase != Failed {
		return fmt.Errorf("%w: no finished run to record", problem.ErrInvalidState)
	}
	return r.Record(&s.hist)
}

// SaveResults persists the iteration history as JSON under dir.
func (s *Solver) SaveResults(dir string) error {
	return s.Record(JSONRecorder{Dir: dir})
}
