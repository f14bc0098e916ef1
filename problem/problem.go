// Copyright ©2025 curioloop. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package problem

import (
	"context"
	"fmt"

	"github.com/sourcegraph/conc/pool"
)

// ConstraintKind tags a constraint handle. Assembly dispatches on the tag
// with a single switch; there is no dispatch hierarchy.
type ConstraintKind int

const (
	// Equality requires the residual to vanish: 𝒄(𝐱) = 0.
	Equality ConstraintKind = iota
	// Inequality requires a nonnegative residual: 𝒄(𝐱) ≥ 0.
	// Complementarity pairs are expressed as extra inequality residuals.
	Inequality
)

func (k ConstraintKind) String() string {
	if k == Equality {
		return "equality"
	}
	return "inequality"
}

// ObjectiveFunction is a scalar-valued handle: 𝒇 : ℝⁿ → ℝ.
// Its Jacobian is the gradient as a single-row sparse matrix.
type ObjectiveFunction struct {
	*FunctionHandle
}

// NewObjective wraps def as the problem objective.
func NewObjective(key Key, numInputs, numParams int, def Definition, opts ...HandleOption) (*ObjectiveFunction, error) {
	h, err := NewHandle(key, Dims{NumInputs: numInputs, NumOutputs: 1, NumParams: numParams}, def, opts...)
	if err != nil {
		return nil, err
	}
	return &ObjectiveFunction{FunctionHandle: h}, nil
}

// ConstraintFunction is a vector-valued handle tagged with its kind.
type ConstraintFunction struct {
	*FunctionHandle
	kind ConstraintKind
}

// NewConstraint wraps def as a residual of the given kind.
func NewConstraint(key Key, kind ConstraintKind, numInputs, numOutputs, numParams int, def Definition, opts ...HandleOption) (*ConstraintFunction, error) {
	if kind != Equality && kind != Inequality {
		return nil, fmt.Errorf("%w: unknown constraint kind %d", ErrConfiguration, kind)
	}
	h, err := NewHandle(key, Dims{NumInputs: numInputs, NumOutputs: numOutputs, NumParams: numParams}, def, opts...)
	if err != nil {
		return nil, err
	}
	return &ConstraintFunction{FunctionHandle: h, kind: kind}, nil
}

// Kind returns the constraint tag.
func (c *ConstraintFunction) Kind() ConstraintKind { return c.kind }

// OptimizationProblem binds exactly one objective and ordered equality and
// inequality constraint lists over a variable vector of fixed size n.
// The append order of the constraint lists defines the row order of every
// stacked Jacobian and must never be re-sorted.
type OptimizationProblem struct {
	name string
	n    int

	objective    *ObjectiveFunction
	equalities   []*ConstraintFunction
	inequalities []*ConstraintFunction

	byName map[string]*FunctionHandle
}

// NewProblem creates an empty problem over ℝⁿ.
func NewProblem(name string, n int) (*OptimizationProblem, error) {
	if n <= 0 {
		return nil, fmt.Errorf("%w: variable count must be positive", ErrConfiguration)
	}
	if name == "" {
		return nil, fmt.Errorf("%w: problem name required", ErrConfiguration)
	}
	return &OptimizationProblem{name: name, n: n}, nil
}

// Name returns the problem name.
func (p *OptimizationProblem) Name() string { return p.name }

// N returns the variable count fixed at construction.
func (p *OptimizationProblem) N() int { return p.n }

// AddObjective binds the objective. It succeeds exactly once.
func (p *OptimizationProblem) AddObjective(obj *ObjectiveFunction) error {
	if p.objective != nil {
		return fmt.Errorf("%w: duplicate objective %s", ErrConfiguration, obj.Key())
	}
	if obj.Dims().NumInputs != p.n {
		return fmt.Errorf("%w: objective %s over %d inputs, problem has %d", ErrDimension, obj.Key(), obj.Dims().NumInputs, p.n)
	}
	p.objective = obj
	p.byName = nil
	return nil
}

// AddEqualityConstraint appends an equality residual, preserving call order.
func (p *OptimizationProblem) AddEqualityConstraint(c *ConstraintFunction) error {
	return p.addConstraint(c, Equality)
}

// AddInequalityConstraint appends an inequality residual, preserving call order.
func (p *OptimizationProblem) AddInequalityConstraint(c *ConstraintFunction) error {
	return p.addConstraint(c, Inequality)
}

func (p *OptimizationProblem) addConstraint(c *ConstraintFunction, kind ConstraintKind) error {
	if c.kind != kind {
		return fmt.Errorf("%w: %s is %v, added as %v", ErrConfiguration, c.Key(), c.kind, kind)
	}
	if c.Dims().NumInputs != p.n {
		return fmt.Errorf("%w: constraint %s over %d inputs, problem has %d", ErrDimension, c.Key(), c.Dims().NumInputs, p.n)
	}
	if kind == Equality {
		p.equalities = append(p.equalities, c)
	} else {
		p.inequalities = append(p.inequalities, c)
	}
	p.byName = nil
	return nil
}

// Objective returns the bound objective, nil before AddObjective.
func (p *OptimizationProblem) Objective() *ObjectiveFunction { return p.objective }

// Equalities returns the equality handles in append order.
func (p *OptimizationProblem) Equalities() []*ConstraintFunction { return p.equalities }

// Inequalities returns the inequality handles in append order.
func (p *OptimizationProblem) Inequalities() []*ConstraintFunction { return p.inequalities }

// TotalEqualityDim sums the output dimensions of the equality handles.
func (p *OptimizationProblem) TotalEqualityDim() int {
	d := 0
	for _, c := range p.equalities {
		d += c.Dims().NumOutputs
	}
	return d
}

// TotalInequalityDim sums the output dimensions of the inequality handles.
func (p *OptimizationProblem) TotalInequalityDim() int {
	d := 0
	for _, c := range p.inequalities {
		d += c.Dims().NumOutputs
	}
	return d
}

// handles returns every handle: objective first, then equalities, then
// inequalities, in append order.
func (p *OptimizationProblem) handles() []*FunctionHandle {
	hs := make([]*FunctionHandle, 0, 1+len(p.equalities)+len(p.inequalities))
	if p.objective != nil {
		hs = append(hs, p.objective.FunctionHandle)
	}
	for _, c := range p.equalities {
		hs = append(hs, c.FunctionHandle)
	}
	for _, c := range p.inequalities {
		hs = append(hs, c.FunctionHandle)
	}
	return hs
}

// lookup resolves a function name against all handles through one map built
// on first use, so a missing name has a single well-defined origin.
func (p *OptimizationProblem) lookup(name string) (*FunctionHandle, error) {
	if p.byName == nil {
		p.byName = make(map[string]*FunctionHandle)
		for _, h := range p.handles() {
			p.byName[h.Key().Function] = h
		}
	}
	h, ok := p.byName[name]
	if !ok {
		return nil, fmt.Errorf("%w: no handle named %q", ErrNotFound, name)
	}
	return h, nil
}

// SetProblemParameters updates the parameter vector of the named handle.
func (p *OptimizationProblem) SetProblemParameters(name string, params []float64) error {
	h, err := p.lookup(name)
	if err != nil {
		return err
	}
	return h.SetParameters(params)
}

// Compile materializes every handle evaluator. Distinct keys compile
// concurrently; compilation of one key is serialized by the handle itself.
func (p *OptimizationProblem) Compile(ctx context.Context, force bool) error {
	if p.objective == nil {
		return fmt.Errorf("%w: problem %s has no objective", ErrConfiguration, p.name)
	}
	grp := pool.New().WithErrors().WithContext(ctx)
	for _, h := range p.handles() {
		h := h
		grp.Go(func(ctx context.Context) error {
			return h.EnsureCompiled(ctx, force)
		})
	}
	return grp.Wait()
}
