// Copyright 2020 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package example

import (
	"math"

	"github.com/grailbio/bigframe"
	"github.com/grailbio/bigframe/reduction"
)

func init() {
	// span carries a tree kernel, so Span distributes across the
	// cluster instead of falling back to local execution.
	reduction.Register("span", reduction.Reduction{
		Tree: &reduction.Tree{
			Size: 2, // min, max
			Init: func(state []float64) { state[0], state[1] = math.NaN(), math.NaN() },
			Update: func(state, values []float64) {
				for _, v := range values {
					if math.IsNaN(v) {
						continue
					}
					if math.IsNaN(state[0]) || v < state[0] {
						state[0] = v
					}
					if math.IsNaN(state[1]) || v > state[1] {
						state[1] = v
					}
				}
			},
			Merge: func(a, b []float64) {
				if math.IsNaN(a[0]) || (!math.IsNaN(b[0]) && b[0] < a[0]) {
					a[0] = b[0]
				}
				if math.IsNaN(a[1]) || (!math.IsNaN(b[1]) && b[1] > a[1]) {
					a[1] = b[1]
				}
			},
			Final: func(state []float64) float64 { return state[1] - state[0] },
		},
		Baseline: func(values []float64) float64 { return reduction.Max(values) - reduction.Min(values) },
	})
}

// Span computes the difference between the largest and smallest value
// of each numeric column of df. We will use this trivial reduction to
// illustrate testing facilities. See span_test.go.
func Span(df bigframe.DataFrame) bigframe.Series {
	return bigframe.Reduce(df, "span")
}
