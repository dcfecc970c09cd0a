// Copyright 2019 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

// Package reduction implements the registry of reduction ops through
// which bigframe collapses dataframe columns into series. Every op
// named in bigframe.Reduce dispatches through this registry:
//
//   - ops with a Tree kernel fold each partition into a fixed-width
//     state vector and merge the vectors pairwise, so the reduction
//     runs without moving column data;
//   - ops with a FullAxis kernel run a single-pass function over each
//     whole column, parallelized across groups of columns;
//   - ops with only a Baseline run on the fallback path: the engine
//     warns, gathers the frame onto one task, and applies the baseline
//     serially.
//
// Register is the extension point: users bind a name to kernels,
// typically by lifting a baseline column function into a full-axis
// kernel with FullAxisOf. After registration the op executes natively
// and its result matches the baseline's element for element.
//
// Because ops travel between driver and worker processes by name,
// Register must be called identically in all processes, i.e., from
// package initialization, before bigframe.Start.
package reduction

import (
	"fmt"
	"runtime"
	"sort"
	"sync"
)

// A ColumnFunc reduces a whole column of values to a scalar in one
// pass. Built-in implementations skip NaN values, mirroring the
// missing-value convention for numeric columns.
type ColumnFunc func(values []float64) float64

// A Tree describes an associative reduction executed as a tree. Each
// partition folds its rows into a state vector of Size float64s;
// state vectors merge pairwise across partitions; the merged state
// folds to a scalar. State vectors are ordinary rows, so tree
// reductions ship fixed-width state instead of column data.
type Tree struct {
	// Size is the width of the state vector.
	Size int
	// Init initializes a state vector. A nil Init leaves the vector
	// zeroed.
	Init func(state []float64)
	// Update folds values into state. Implementations skip NaNs.
	Update func(state, values []float64)
	// Merge merges state vector b into a. Merge must be associative
	// with Update: merging two partitions' states must be equivalent
	// to having folded their rows into one state.
	Merge func(a, b []float64)
	// Final reduces a state vector to the reduction's result.
	Final func(state []float64) float64
}

// A Reduction carries the kernels for one reduction op. At least one
// kernel must be set. Ops used with bigframe must carry a Baseline:
// it is the serial reference implementation, used by the fallback
// path and as ground truth in tests.
type Reduction struct {
	// Tree, if non-nil, executes the op as a distributed tree.
	Tree *Tree
	// FullAxis, if non-nil, executes the op by running the function
	// over each whole column, distributed across column groups.
	FullAxis ColumnFunc
	// Baseline is the serial per-column implementation.
	Baseline ColumnFunc
}

// Distributed returns whether the reduction has a native distributed
// kernel, i.e., whether invoking it avoids the fallback path.
func (r Reduction) Distributed() bool {
	return r.Tree != nil || r.FullAxis != nil
}

// FullAxisOf lifts the column function fn into a full-axis
// reduction. The returned reduction runs fn over whole columns in
// parallel across column groups; fn also serves as the baseline, so
// the distributed result equals the serial one exactly.
func FullAxisOf(fn ColumnFunc) Reduction {
	return Reduction{FullAxis: fn, Baseline: fn}
}

var (
	mu        sync.Mutex
	registry  = map[string]Reduction{}
	locations = map[string]string{}
)

// Register registers the reduction under the op name. Register
// panics if the name is empty, if the reduction carries no kernels,
// or if the name is already registered.
func Register(name string, red Reduction) {
	if name == "" {
		panic("reduction.Register: empty op name")
	}
	if red.Tree == nil && red.FullAxis == nil && red.Baseline == nil {
		panic("reduction.Register: reduction for op " + name + " has no kernels")
	}
	if red.Tree != nil && (red.Tree.Size <= 0 || red.Tree.Update == nil || red.Tree.Merge == nil || red.Tree.Final == nil) {
		panic("reduction.Register: incomplete tree kernel for op " + name)
	}
	mu.Lock()
	defer mu.Unlock()
	if _, ok := registry[name]; ok {
		location, ok := locations[name]
		if !ok {
			location = "<unknown>"
		}
		panic("reduction.Register: op " + name + " already registered at " + location)
	}
	registry[name] = red
	if _, file, line, ok := runtime.Caller(1); ok {
		locations[name] = fmt.Sprintf("%s:%d", file, line)
	}
}

// Lookup returns the reduction registered under the op name and
// whether one was registered.
func Lookup(name string) (Reduction, bool) {
	mu.Lock()
	defer mu.Unlock()
	red, ok := registry[name]
	return red, ok
}

// Names returns the sorted names of all registered ops.
func Names() []string {
	mu.Lock()
	defer mu.Unlock()
	names := make([]string, 0, len(registry))
	for name := range registry {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
