// Copyright ©2025 curioloop. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package problem

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
)

func buildToyProblem(t *testing.T) *OptimizationProblem {
	t.Helper()
	p, err := NewProblem("Toy", 2)
	require.NoError(t, err)

	obj, err := NewObjective(testKey("toyObjective"), 2, 2,
		func(x, par, y []float64) {
			y[0] = (x[0]-par[0])*(x[0]-par[0]) + (x[1]-par[1])*(x[1]-par[1])
		})
	require.NoError(t, err)
	require.NoError(t, p.AddObjective(obj))

	eq, err := NewConstraint(testKey("toyEquality"), Equality, 2, 1, 0,
		func(x, par, y []float64) { y[0] = x[0] + x[1] - 1 })
	require.NoError(t, err)
	require.NoError(t, p.AddEqualityConstraint(eq))

	ineq, err := NewConstraint(testKey("toyInequality"), Inequality, 2, 2, 0,
		func(x, par, y []float64) { y[0], y[1] = x[0], x[1] })
	require.NoError(t, err)
	require.NoError(t, p.AddInequalityConstraint(ineq))
	return p
}

func TestDuplicateObjective(t *testing.T) {
	p := buildToyProblem(t)
	obj, err := NewObjective(testKey("second"), 2, 0,
		func(x, par, y []float64) { y[0] = x[0] })
	require.NoError(t, err)
	require.ErrorIs(t, p.AddObjective(obj), ErrConfiguration)
}

func TestConstraintOrderAndDims(t *testing.T) {
	p := buildToyProblem(t)
	require.Equal(t, 1, p.TotalEqualityDim())
	require.Equal(t, 2, p.TotalInequalityDim())
	require.Equal(t, "toyEquality", p.Equalities()[0].Key().Function)
	require.Equal(t, "toyInequality", p.Inequalities()[0].Key().Function)

	// Kind mismatch at append time.
	eq, err := NewConstraint(testKey("mismatch"), Equality, 2, 1, 0,
		func(x, par, y []float64) { y[0] = x[0] })
	require.NoError(t, err)
	require.ErrorIs(t, p.AddInequalityConstraint(eq), ErrConfiguration)
}

func TestSetProblemParameters(t *testing.T) {
	p := buildToyProblem(t)

	require.NoError(t, p.SetProblemParameters("toyObjective", []float64{3, 4}))
	require.Equal(t, []float64{3, 4}, p.Objective().Parameters())

	err := p.SetProblemParameters("absent", []float64{1})
	require.ErrorIs(t, err, ErrNotFound)

	err = p.SetProblemParameters("toyObjective", []float64{1})
	require.ErrorIs(t, err, ErrDimension)

	err = p.SetProblemParameters("toyEquality", []float64{1})
	require.ErrorIs(t, err, ErrConfiguration) // no parameter slot
}

func TestProblemCompile(t *testing.T) {
	p := buildToyProblem(t)
	require.NoError(t, p.Compile(context.Background(), false))
	for _, c := range p.Equalities() {
		require.True(t, c.Compiled())
	}
	for _, c := range p.Inequalities() {
		require.True(t, c.Compiled())
	}
	require.True(t, p.Objective().Compiled())

	// Compilation without an objective is a configuration error.
	empty, err := NewProblem("Empty", 2)
	require.NoError(t, err)
	require.ErrorIs(t, empty.Compile(context.Background(), false), ErrConfiguration)
}
