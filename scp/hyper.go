// Copyright ©2025 curioloop. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package scp

import (
	"errors"
	"fmt"
	"math"

	"github.com/curioloop/scp/problem"
)

var (
	// ErrQPInfeasible indicates the quadratic subproblem stayed infeasible
	// or unbounded after the bounded shrink-and-retry recovery.
	ErrQPInfeasible = errors.New("scp: qp subproblem infeasible")

	// ErrNotConverged indicates the iteration cap was reached before the
	// convergence criteria held.
	ErrNotConverged = errors.New("scp: not converged")

	// ErrUnknownKey indicates an unrecognized hyperparameter name.
	// Unknown keys are rejected, never silently ignored.
	ErrUnknownKey = errors.New("scp: unknown hyperparameter")
)

// HyperParameters is the name → numeric-vector tuning surface.
// Every recognized key takes a length-1 vector:
//
//	trustRegionTol    radius below which convergence may be declared
//	trailTol          merit ratio threshold for accepting a trial step
//	maxIter           iteration cap
//	verbose           nonzero enables per-iteration logging
//	WeightedMode      nonzero scales penalty growth by WeightedTolFactor
//	WeightedTolFactor penalty growth factor in weighted mode
//	mu                initial penalty weight
//	delta0            initial trust-region radius
//	deltaMax          trust-region radius cap
//	feasTol           constraint violation tolerance
//	stepTol           step norm tolerance
//	muMax             penalty weight cap
type HyperParameters map[string][]float64

// params is the resolved solver configuration.
type params struct {
	trustRegionTol float64
	trailTol       float64
	maxIter        int
	verbose        bool
	weightedMode   bool
	weightedFactor float64
	mu             float64
	delta0         float64
	deltaMax       float64
	feasTol        float64
	stepTol        float64
	muMax          float64
}

func defaultParams() params {
	return params{
		trustRegionTol: 1e-6,
		trailTol:       1e-3,
		maxIter:        100,
		weightedFactor: 10,
		mu:             1,
		delta0:         1,
		deltaMax:       1e3,
		feasTol:        1e-6,
		stepTol:        1e-6,
		muMax:          1e8,
	}
}

func scalar(key string, v []float64) (float64, error) {
	if len(v) != 1 {
		return 0, fmt.Errorf("%w: %q expects a length-1 vector, got %d", problem.ErrConfiguration, key, len(v))
	}
	if math.IsNaN(v[0]) || math.IsInf(v[0], 0) {
		return 0, fmt.Errorf("%w: %q must be finite", problem.ErrConfiguration, key)
	}
	return v[0], nil
}

func positive(key string, v []float64) (float64, error) {
	f, err := scalar(key, v)
	if err != nil {
		return 0, err
	}
	if f <= 0 {
		return 0, fmt.Errorf("%w: %q must be positive", problem.ErrConfiguration, key)
	}
	return f, nil
}

// apply folds hp into p, validating each key.
func (p *params) apply(hp HyperParameters) error {
	for key, vec := range hp {
		var err error
		switch key {
		case "trustRegionTol":
			p.trustRegionTol, err = positive(key, vec)
		case "trailTol":
			p.trailTol, err = positive(key, vec)
		case "maxIter":
			var f float64
			if f, err = positive(key, vec); err == nil {
				p.maxIter = int(f)
			}
		case "verbose":
			var f float64
			if f, err = scalar(key, vec); err == nil {
				p.verbose = f != 0
			}
		case "WeightedMode":
			var f float64
			if f, err = scalar(key, vec); err == nil {
				p.weightedMode = f != 0
			}
		case "WeightedTolFactor":
			p.weightedFactor, err = positive(key, vec)
		case "mu":
			p.mu, err = positive(key, vec)
		case "delta0":
			p.delta0, err = positive(key, vec)
		case "deltaMax":
			p.deltaMax, err = positive(key, vec)
		case "feasTol":
			p.feasTol, err = positive(key, vec)
		case "stepTol":
			p.stepTol, err = positive(key, vec)
		case "muMax":
			p.muMax, err = positive(key, vec)
		default:
			err = fmt.Errorf("%w: %q", ErrUnknownKey, key)
		}
		if err != nil {
			return err
		}
	}
	if p.weightedFactor <= 1 {
		return fmt.Errorf("%w: WeightedTolFactor must exceed 1", problem.ErrConfiguration)
	}
	return nil
}

// penaltyFactor resolves the penalty growth law: the documented weighted
// factor when WeightedMode is on, a fixed decade otherwise.
func (p *params) penaltyFactor() float64 {
	if p.weightedMode {
		return p.weightedFactor
	}
	return 10
}
