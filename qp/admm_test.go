// Copyright ©2025 curioloop. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package qp

import (
	"context"
	"math"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/curioloop/scp/sparse"
)

func identityCSR(n int) *sparse.Matrix {
	rc := make([][]int, n)
	for i := range rc {
		rc[i] = []int{i}
	}
	p, _ := sparse.NewPattern(n, n, rc)
	m := sparse.NewMatrix(p)
	for i := range m.Values() {
		m.Values()[i] = 1
	}
	return m
}

func denseCSR(rows, cols int, vals []float64) *sparse.Matrix {
	m := sparse.NewMatrix(sparse.DensePattern(rows, cols))
	copy(m.Values(), vals)
	return m
}

func TestADMMUnconstrainedBox(t *testing.T) {
	// min ½‖d‖² − 2·𝟏ᵀd over ‖d‖∞ ≤ 1 → d = (1, 1)
	sp := &Subproblem{
		H:       identityCSR(2),
		G:       []float64{-2, -2},
		Radius:  1,
		Penalty: 1,
	}
	sol, err := (&ADMM{}).Solve(context.Background(), sp)
	require.NoError(t, err)
	require.Equal(t, StatusOptimal, sol.Status)
	require.InDelta(t, 1.0, sol.Step[0], 1e-6)
	require.InDelta(t, 1.0, sol.Step[1], 1e-6)
}

func TestADMMEqualityPenalty(t *testing.T) {
	// min ½‖d‖² − 2·𝟏ᵀd  s.t. d0 + d1 = 1 → d = (0.5, 0.5), dual 1.5
	sp := &Subproblem{
		H:       identityCSR(2),
		G:       []float64{-2, -2},
		Aeq:     denseCSR(1, 2, []float64{1, 1}),
		Beq:     []float64{-1},
		Radius:  10,
		Penalty: 10, // above the dual magnitude, penalty is exact
	}
	sol, err := (&ADMM{}).Solve(context.Background(), sp)
	require.NoError(t, err)
	require.Equal(t, StatusOptimal, sol.Status)
	require.InDelta(t, 0.5, sol.Step[0], 1e-5)
	require.InDelta(t, 0.5, sol.Step[1], 1e-5)
	require.InDelta(t, 1.5, sol.EqDuals[0], 1e-4)
}

func TestADMMInequalityActive(t *testing.T) {
	// min ½d² + d  s.t. d ≥ 0 (A=1, b=0) → d = 0, dual 1
	sp := &Subproblem{
		H:       identityCSR(1),
		G:       []float64{1},
		Aineq:   denseCSR(1, 1, []float64{1}),
		Bineq:   []float64{0},
		Radius:  5,
		Penalty: 10,
	}
	sol, err := (&ADMM{}).Solve(context.Background(), sp)
	require.NoError(t, err)
	require.Equal(t, StatusOptimal, sol.Status)
	require.InDelta(t, 0.0, sol.Step[0], 1e-6)
	require.InDelta(t, 1.0, sol.IneqDuals[0], 1e-4)
}

func TestADMMElasticStaysFeasible(t *testing.T) {
	// Linearized equality d = 5 conflicts with the box ‖d‖∞ ≤ 1. The elastic
	// subproblem stays solvable: the step saturates toward the box and the
	// slack absorbs the rest.
	sp := &Subproblem{
		H:       identityCSR(1),
		G:       []float64{0},
		Aeq:     denseCSR(1, 1, []float64{1}),
		Beq:     []float64{-5},
		Radius:  1,
		Penalty: 100,
	}
	sol, err := (&ADMM{}).Solve(context.Background(), sp)
	require.NoError(t, err)
	require.Equal(t, StatusOptimal, sol.Status)
	require.InDelta(t, 1.0, sol.Step[0], 1e-5)
}

func TestADMMRejectsMalformed(t *testing.T) {
	_, err := (&ADMM{}).Solve(context.Background(), &Subproblem{
		H: identityCSR(2), G: []float64{1}, Radius: 1,
	})
	require.ErrorIs(t, err, ErrBadSubproblem)

	_, err = (&ADMM{}).Solve(context.Background(), &Subproblem{
		H: identityCSR(1), G: []float64{1}, Radius: 0,
	})
	require.ErrorIs(t, err, ErrBadSubproblem)
}

func TestADMMUnconvergedStepStaysInBox(t *testing.T) {
	// A steep gradient pushes the early splitting iterates far past the
	// trust bound. Even when the iteration budget runs out, the returned
	// step must respect the box.
	sp := &Subproblem{
		H:       identityCSR(1),
		G:       []float64{-1e4},
		Radius:  0.5,
		Penalty: 1,
	}
	sol, err := (&ADMM{MaxIterations: 2}).Solve(context.Background(), sp)
	require.NoError(t, err)
	require.Equal(t, StatusMaxIterReached, sol.Status)
	require.LessOrEqual(t, math.Abs(sol.Step[0]), 0.5)
}

func TestADMMBadlyScaledConverges(t *testing.T) {
	// Large gradient and constraint magnitudes put the 1e-9 absolute
	// tolerance out of reach; the relative tolerance must still certify
	// the optimum well inside the iteration budget.
	sp := &Subproblem{
		H:       denseCSR(1, 1, []float64{2}),
		G:       []float64{7.7},
		Aineq:   denseCSR(1, 1, []float64{-227}),
		Bineq:   []float64{-218},
		Radius:  1,
		Penalty: 5,
	}
	sol, err := (&ADMM{}).Solve(context.Background(), sp)
	require.NoError(t, err)
	require.Equal(t, StatusOptimal, sol.Status)
	require.Less(t, sol.Iterations, 20000)
	require.LessOrEqual(t, math.Abs(sol.Step[0]), 1.0)
}

func TestADMMContextCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := (&ADMM{}).Solve(ctx, &Subproblem{
		H: identityCSR(1), G: []float64{1}, Radius: 1,
	})
	require.ErrorIs(t, err, context.Canceled)
}
