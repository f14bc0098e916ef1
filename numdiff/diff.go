// Package numdiff approximates Jacobians of vector functions by finite
// differences, with automatic per-component step sizing.
//
// Reference:
//   - https://en.wikipedia.org/wiki/Finite_difference
//   - https://github.com/scipy/scipy/blob/main/scipy/optimize/_numdiff.py
package numdiff

import (
	"errors"
	"math"
)

var sqrtEps = math.Sqrt(math.Nextafter(1, 2) - 1)
var cubeEps = math.Pow(math.Nextafter(1, 2)-1, float64(1)/3)

type Method int

const (
	// Forward uses the first order accuracy forward difference.
	Forward Method = iota
	// Central uses the second order accuracy central difference.
	Central
)

// Spec approximates the Jacobian of a function 𝒇 : ℝⁿ → ℝᵐ.
// A Spec keeps evaluation buffers between calls, so one Spec must not be
// shared across goroutines.
type Spec struct {
	N, M int
	// Function of which to estimate the derivatives.
	// The argument x is an n-vector, the result is stored in the m-vector y.
	Func func(x, y []float64)
	// Finite difference method to use.
	Method Method
	// Relative step size used to compute the absolute step
	// h = RelStep * sign(x0) * max(1, abs(x0)).
	// A method-appropriate machine-epsilon power is used when zero.
	RelStep float64

	f0, f1, f2 []float64
	step       []float64
}

func (s *Spec) check(x0, jac []float64) error {
	switch {
	case s.N <= 0 || s.M <= 0:
		return errors.New("numdiff: non-positive dimensions")
	case s.Func == nil:
		return errors.New("numdiff: function is required")
	case s.Method != Forward && s.Method != Central:
		return errors.New("numdiff: unknown method")
	case len(x0) != s.N:
		return errors.New("numdiff: invalid x0 dimension")
	case len(jac) != s.N*s.M:
		return errors.New("numdiff: invalid jacobian dimension")
	}
	if len(s.f0) != s.M {
		s.f0 = make([]float64, s.M)
		s.f1 = make([]float64, s.M)
		s.f2 = make([]float64, s.M)
	}
	if len(s.step) != s.N {
		s.step = make([]float64, s.N)
	}
	return nil
}

func (s *Spec) absoluteStep(x0 []float64) {
	eps := sqrtEps
	if s.Method == Central {
		eps = cubeEps
	}
	rel := s.RelStep
	if rel == 0 {
		rel = eps
	}
	for i, v := range x0 {
		h := math.Copysign(rel, v) * math.Max(1.0, math.Abs(v))
		// Guard against steps vanishing in the subtraction.
		if d := (v + h) - v; d == 0 {
			h = math.Copysign(eps, v) * math.Max(1.0, math.Abs(v))
		}
		s.step[i] = h
	}
}

// Jacobian fills jac (row-major m×n) with the approximation of ∂𝒇/∂𝐱 at x0.
// x0 is perturbed during evaluation and restored before return.
func (s *Spec) Jacobian(x0, jac []float64) error {
	if err := s.check(x0, jac); err != nil {
		return err
	}
	s.absoluteStep(x0)
	if s.Method == Central {
		s.central(x0, jac)
	} else {
		s.forward(x0, jac)
	}
	return nil
}

func (s *Spec) forward(x0, jac []float64) {
	n := s.N
	s.Func(x0, s.f0)
	for i, h := range s.step {
		t := x0[i]
		x0[i] = t + h
		s.Func(x0, s.f1)
		x0[i] = t
		d := 1.0 / h
		for j, f0 := range s.f0 {
			jac[j*n+i] = (s.f1[j] - f0) * d
		}
	}
}

func (s *Spec) central(x0, jac []float64) {
	n := s.N
	for i, h := range s.step {
		h = math.Abs(h)
		t := x0[i]
		x0[i] = t - h
		s.Func(x0, s.f1)
		x0[i] = t + h
		s.Func(x0, s.f2)
		x0[i] = t
		d := 1.0 / (2 * h)
		for j := range s.f1 {
			jac[j*n+i] = (s.f2[j] - s.f1[j]) * d
		}
	}
}
