// Copyright ©2025 curioloop. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package problem

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/curioloop/scp/sparse"
)

// keyLocks serializes compilation per artifact key across all handles in the
// process: distinct keys compile concurrently, two compilations of the same
// key never race on the same cached artifact.
var keyLocks sync.Map // Key → *sync.Mutex

func lockFor(key Key) *sync.Mutex {
	mu, _ := keyLocks.LoadOrStore(key, &sync.Mutex{})
	return mu.(*sync.Mutex)
}

// FunctionHandle wraps one user Definition together with its compiled
// evaluator and mutable parameter vector. The compiled artifact is cached
// under the handle key and outlives any single solver run; parameters are
// independent of the compiled evaluator and may change between solves.
type FunctionHandle struct {
	key      Key
	dims     Dims
	def      Definition
	compiler Compiler
	store    ArtifactStore
	force    bool

	mu     sync.Mutex
	params []float64
	eval   Evaluator
}

// HandleOption configures a FunctionHandle at construction.
type HandleOption func(*FunctionHandle)

// WithCompiler substitutes the compiler collaborator (default DiffCompiler).
func WithCompiler(c Compiler) HandleOption {
	return func(h *FunctionHandle) { h.compiler = c }
}

// WithStore substitutes the artifact store (default in-memory).
func WithStore(s ArtifactStore) HandleOption {
	return func(h *FunctionHandle) { h.store = s }
}

// WithForceRegenerate makes the first compilation ignore any cached artifact.
func WithForceRegenerate() HandleOption {
	return func(h *FunctionHandle) { h.force = true }
}

// NewHandle wraps def with the given identity and dimensions.
func NewHandle(key Key, dims Dims, def Definition, opts ...HandleOption) (*FunctionHandle, error) {
	switch {
	case key.Problem == "" || key.Function == "":
		return nil, fmt.Errorf("%w: handle key requires problem and function names", ErrConfiguration)
	case def == nil:
		return nil, fmt.Errorf("%w: nil definition for %s", ErrConfiguration, key)
	case dims.NumInputs <= 0 || dims.NumOutputs <= 0 || dims.NumParams < 0:
		return nil, fmt.Errorf("%w: bad dimensions for %s", ErrConfiguration, key)
	}
	h := &FunctionHandle{
		key:      key,
		dims:     dims,
		def:      def,
		compiler: &DiffCompiler{},
		store:    NewMemStore(),
		params:   make([]float64, dims.NumParams),
	}
	for _, opt := range opts {
		opt(h)
	}
	return h, nil
}

// Key returns the handle identity.
func (h *FunctionHandle) Key() Key { return h.key }

// Dims returns the fixed dimensions.
func (h *FunctionHandle) Dims() Dims { return h.dims }

// SetParameters replaces the parameter vector 𝐩.
func (h *FunctionHandle) SetParameters(p []float64) error {
	if h.dims.NumParams == 0 {
		return fmt.Errorf("%w: %s takes no parameters", ErrConfiguration, h.key)
	}
	if len(p) != h.dims.NumParams {
		return fmt.Errorf("%w: %s expects %d parameters, got %d", ErrDimension, h.key, h.dims.NumParams, len(p))
	}
	h.mu.Lock()
	copy(h.params, p)
	h.mu.Unlock()
	return nil
}

// Parameters returns a copy of the current parameter vector.
func (h *FunctionHandle) Parameters() []float64 {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]float64(nil), h.params...)
}

// Compiled reports whether an evaluator has been materialized.
func (h *FunctionHandle) Compiled() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.eval != nil
}

// EnsureCompiled materializes the evaluator. A valid cached artifact for the
// key is reused unless force (or the construction-time force flag) is set.
// A present-but-corrupt artifact triggers one forced regeneration instead of
// aborting; only the regeneration failure itself is surfaced.
func (h *FunctionHandle) EnsureCompiled(ctx context.Context, force bool) error {
	h.mu.Lock()
	if h.eval != nil && !force {
		h.mu.Unlock()
		return nil
	}
	h.mu.Unlock()

	lock := lockFor(h.key)
	lock.Lock()
	defer lock.Unlock()

	var art *Artifact
	if !force && !h.force && h.store.Exists(h.key) {
		loaded, err := h.store.Load(h.key)
		if err != nil {
			if !errors.Is(err, ErrIO) {
				return err
			}
			// Corrupt cache entry: fall through and regenerate.
		} else {
			art = loaded
		}
	}

	fresh := art == nil
	eval, art, err := h.compiler.Compile(ctx, h.def, h.dims, art)
	if err != nil {
		return fmt.Errorf("compiling %s: %w", h.key, err)
	}
	if fresh {
		if err := h.store.Store(h.key, art); err != nil {
			return err
		}
	}

	h.mu.Lock()
	h.eval = eval
	h.force = false
	h.mu.Unlock()
	return nil
}

// Value evaluates 𝐲 = 𝒇(𝐱, 𝐩) at the current parameters.
// Evaluation reuses internal buffers and is not safe for concurrent use.
func (h *FunctionHandle) Value(x []float64) ([]float64, error) {
	eval, p, err := h.ready(x)
	if err != nil {
		return nil, err
	}
	return eval.Value(x, p)
}

// Evaluate evaluates value and sparse Jacobian at the current parameters.
// The results are owned by the handle and valid until the next call.
func (h *FunctionHandle) Evaluate(x []float64) ([]float64, *sparse.Matrix, error) {
	eval, p, err := h.ready(x)
	if err != nil {
		return nil, nil, err
	}
	return eval.Evaluate(x, p)
}

// Pattern returns the fixed Jacobian structure of the compiled evaluator.
func (h *FunctionHandle) Pattern() (*sparse.Pattern, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.eval == nil {
		return nil, fmt.Errorf("%w: %s not compiled", ErrInvalidState, h.key)
	}
	return h.eval.Pattern(), nil
}

func (h *FunctionHandle) ready(x []float64) (Evaluator, []float64, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.eval == nil {
		return nil, nil, fmt.Errorf("%w: %s evaluated before EnsureCompiled", ErrInvalidState, h.key)
	}
	if len(x) != h.dims.NumInputs {
		return nil, nil, fmt.Errorf("%w: %s expects %d inputs, got %d", ErrDimension, h.key, h.dims.NumInputs, len(x))
	}
	return h.eval, h.params, nil
}
