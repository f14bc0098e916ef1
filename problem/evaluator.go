// Copyright ©2025 curioloop. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package problem defines the data model fed to the trust-region SCP solver:
// user functions wrapped in compiled handles, the optimization problem
// container, and the on-disk cache of compiled evaluator artifacts.
package problem

import (
	"context"

	"github.com/curioloop/scp/sparse"
)

// Definition is a user-supplied pure mapping (𝐱, 𝐩) → 𝐲.
// x is the n-vector of optimization variables, p the parameter vector and
// y the preallocated output vector. A Definition must be deterministic and
// free of side effects: the derived evaluator and its cached sparsity
// structure assume identical outputs for identical inputs.
type Definition func(x, p, y []float64)

// Dims fixes the input/output/parameter dimensions of one Definition.
type Dims struct {
	NumInputs  int
	NumOutputs int
	NumParams  int
}

// Evaluator is a compiled form of a Definition. The Jacobian sparsity
// structure is stable: every call reports values on the same Pattern.
type Evaluator interface {
	// Value evaluates 𝐲 = 𝒇(𝐱, 𝐩).
	Value(x, p []float64) ([]float64, error)
	// Evaluate evaluates 𝐲 and the sparse Jacobian ∂𝐲/∂𝐱.
	// The returned slices and matrix are owned by the evaluator and remain
	// valid until the next call.
	Evaluate(x, p []float64) ([]float64, *sparse.Matrix, error)
	// Pattern returns the fixed Jacobian sparsity structure.
	Pattern() *sparse.Pattern
}

// Artifact is the persisted outcome of compiling a Definition: the detected
// Jacobian sparsity structure together with the dimensions it was derived
// for. It is the unit stored by an ArtifactStore.
type Artifact struct {
	NumInputs  int     `json:"num_inputs"`
	NumOutputs int     `json:"num_outputs"`
	NumParams  int     `json:"num_params"`
	RowCols    [][]int `json:"row_cols"`
}

// Pattern reconstructs the sparsity structure held by the artifact.
func (a *Artifact) Pattern() (*sparse.Pattern, error) {
	return sparse.NewPattern(a.NumOutputs, a.NumInputs, a.RowCols)
}

// Compiler derives an Evaluator from a Definition. Implementations wrap the
// external autodiff/codegen toolchain; the in-repo default differentiates
// numerically. When art is non-nil it is a previously persisted artifact for
// the same key, which the compiler may reuse to skip structure detection.
// The returned artifact describes the evaluator and is persisted by the
// caller when freshly derived.
type Compiler interface {
	Compile(ctx context.Context, def Definition, dims Dims, art *Artifact) (Evaluator, *Artifact, error)
}
