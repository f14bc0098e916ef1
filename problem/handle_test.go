// Copyright ©2025 curioloop. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package problem

import (
	"context"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/require"
)

func testKey(fn string) Key {
	return Key{Problem: "TestProblem", Folder: "model", Function: fn}
}

// residual (x0·x1 − p0, x2)
func pairDef(x, p, y []float64) {
	y[0] = x[0]*x[1] - p[0]
	y[1] = x[2]
}

func TestHandleLifecycle(t *testing.T) {
	h, err := NewHandle(testKey("pair"), Dims{NumInputs: 3, NumOutputs: 2, NumParams: 1}, pairDef)
	require.NoError(t, err)

	// Evaluation before compilation is an invalid state.
	_, _, err = h.Evaluate([]float64{1, 2, 3})
	require.ErrorIs(t, err, ErrInvalidState)

	require.NoError(t, h.EnsureCompiled(context.Background(), false))
	require.True(t, h.Compiled())

	require.NoError(t, h.SetParameters([]float64{2}))
	y, jac, err := h.Evaluate([]float64{1, 2, 3})
	require.NoError(t, err)
	require.InDelta(t, 0.0, y[0], 1e-9)
	require.InDelta(t, 3.0, y[1], 1e-9)
	require.InDelta(t, 2.0, jac.At(0, 0), 1e-6) // ∂y0/∂x0 = x1
	require.InDelta(t, 1.0, jac.At(0, 1), 1e-6) // ∂y0/∂x1 = x0
	require.Equal(t, 0.0, jac.At(0, 2))         // structurally zero
	require.InDelta(t, 1.0, jac.At(1, 2), 1e-6)

	// Wrong iterate size.
	_, _, err = h.Evaluate([]float64{1, 2})
	require.ErrorIs(t, err, ErrDimension)
}

func TestHandleParameterErrors(t *testing.T) {
	h, err := NewHandle(testKey("noparam"), Dims{NumInputs: 1, NumOutputs: 1},
		func(x, p, y []float64) { y[0] = x[0] })
	require.NoError(t, err)
	require.ErrorIs(t, h.SetParameters([]float64{1}), ErrConfiguration)

	h2, err := NewHandle(testKey("pair2"), Dims{NumInputs: 3, NumOutputs: 2, NumParams: 1}, pairDef)
	require.NoError(t, err)
	require.ErrorIs(t, h2.SetParameters([]float64{1, 2}), ErrDimension)
	require.NoError(t, h2.SetParameters([]float64{5}))
	require.Equal(t, []float64{5}, h2.Parameters())
}

// countingCompiler wraps DiffCompiler and counts full structure detections.
type countingCompiler struct {
	DiffCompiler
	detections atomic.Int32
}

func (c *countingCompiler) Compile(ctx context.Context, def Definition, dims Dims, art *Artifact) (Evaluator, *Artifact, error) {
	if art == nil {
		c.detections.Add(1)
	}
	return c.DiffCompiler.Compile(ctx, def, dims, art)
}

func TestEnsureCompiledUsesCache(t *testing.T) {
	store := NewMemStore()
	cc := &countingCompiler{}
	key := testKey("cached")
	dims := Dims{NumInputs: 2, NumOutputs: 1, NumParams: 0}
	def := func(x, p, y []float64) { y[0] = x[0] * x[1] }

	h1, err := NewHandle(key, dims, def, WithStore(store), WithCompiler(cc))
	require.NoError(t, err)
	require.NoError(t, h1.EnsureCompiled(context.Background(), false))
	require.EqualValues(t, 1, cc.detections.Load())

	// A second handle with the same key reuses the stored artifact.
	h2, err := NewHandle(key, dims, def, WithStore(store), WithCompiler(cc))
	require.NoError(t, err)
	require.NoError(t, h2.EnsureCompiled(context.Background(), false))
	require.EqualValues(t, 1, cc.detections.Load())

	// Forcing regeneration re-detects.
	require.NoError(t, h2.EnsureCompiled(context.Background(), true))
	require.EqualValues(t, 2, cc.detections.Load())
}

// corruptStore reports a corrupt artifact on first load.
type corruptStore struct {
	*MemStore
	corrupt bool
}

func (s *corruptStore) Load(key Key) (*Artifact, error) {
	if s.corrupt {
		s.corrupt = false
		return nil, ErrIO
	}
	return s.MemStore.Load(key)
}

func (s *corruptStore) Exists(Key) bool { return true }

func TestCorruptArtifactRegenerates(t *testing.T) {
	store := &corruptStore{MemStore: NewMemStore(), corrupt: true}
	h, err := NewHandle(testKey("corrupt"), Dims{NumInputs: 1, NumOutputs: 1},
		func(x, p, y []float64) { y[0] = x[0] * x[0] }, WithStore(store))
	require.NoError(t, err)

	// Corrupt cache falls through to regeneration rather than aborting.
	require.NoError(t, h.EnsureCompiled(context.Background(), false))
	require.True(t, h.Compiled())
}
