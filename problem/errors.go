// Copyright ©2025 curioloop. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package problem

import "errors"

// Sentinel errors for the problem data model. All are matched with errors.Is;
// call sites wrap them with fmt.Errorf("...: %w", ...) when context helps.
var (
	// ErrConfiguration indicates an invalid problem setup, such as a
	// duplicate objective or a handle with no parameter slot.
	ErrConfiguration = errors.New("scp: invalid configuration")

	// ErrNotFound indicates a lookup by name that matched no handle.
	ErrNotFound = errors.New("scp: not found")

	// ErrDimension indicates a vector whose length disagrees with the
	// dimension fixed at construction.
	ErrDimension = errors.New("scp: dimension mismatch")

	// ErrInvalidState indicates an operation that is not valid in the
	// current lifecycle phase, such as evaluating before compilation.
	ErrInvalidState = errors.New("scp: invalid state")

	// ErrIO indicates an unreadable or corrupt cached evaluator artifact.
	ErrIO = errors.New("scp: artifact i/o failure")
)
