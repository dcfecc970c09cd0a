// Copyright 2019 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package reduction

import (
	"math"
	"sort"

	"gonum.org/v1/gonum/stat"
)

// The built-in ops. Moment statistics follow the conventions of
// dataframe libraries: var and std use sample (n-1) normalization,
// skew is the adjusted Fisher-Pearson coefficient, kurt is unbiased
// excess kurtosis, and every kernel skips NaNs.
func init() {
	Register("sum", Reduction{Tree: sumTree(), Baseline: Sum})
	Register("prod", Reduction{Tree: prodTree(), Baseline: Product})
	Register("count", Reduction{Tree: countTree(), Baseline: Count})
	Register("mean", Reduction{Tree: meanTree(), Baseline: Mean})
	Register("min", Reduction{Tree: extremumTree(func(v, s float64) bool { return v < s }), Baseline: Min})
	Register("max", Reduction{Tree: extremumTree(func(v, s float64) bool { return v > s }), Baseline: Max})
	Register("var", Reduction{Tree: momentTree(varFinal), Baseline: Variance})
	Register("std", Reduction{Tree: momentTree(stdFinal), Baseline: StdDev})
	// No native kernels: these take the fallback path until a user
	// registers one, e.g. with FullAxisOf(Kurtosis).
	Register("kurt", Reduction{Baseline: Kurtosis})
	Register("skew", Reduction{Baseline: Skewness})
	Register("median", Reduction{Baseline: Median})
}

// compact returns values without NaNs, returning the input unchanged
// when it contains none. The returned slice must not be mutated.
func compact(values []float64) []float64 {
	for i, v := range values {
		if math.IsNaN(v) {
			out := make([]float64, i, len(values))
			copy(out, values[:i])
			for _, v := range values[i+1:] {
				if !math.IsNaN(v) {
					out = append(out, v)
				}
			}
			return out
		}
	}
	return values
}

// Sum returns the sum of the non-NaN values; 0 if there are none.
func Sum(values []float64) float64 {
	var sum float64
	for _, v := range values {
		if !math.IsNaN(v) {
			sum += v
		}
	}
	return sum
}

// Product returns the product of the non-NaN values; 1 if there are
// none.
func Product(values []float64) float64 {
	prod := 1.0
	for _, v := range values {
		if !math.IsNaN(v) {
			prod *= v
		}
	}
	return prod
}

// Count returns the number of non-NaN values.
func Count(values []float64) float64 {
	var n int
	for _, v := range values {
		if !math.IsNaN(v) {
			n++
		}
	}
	return float64(n)
}

// Mean returns the arithmetic mean of the non-NaN values; NaN if
// there are none.
func Mean(values []float64) float64 {
	return stat.Mean(compact(values), nil)
}

// Min returns the smallest non-NaN value; NaN if there are none.
func Min(values []float64) float64 {
	min := math.NaN()
	for _, v := range values {
		if !math.IsNaN(v) && (math.IsNaN(min) || v < min) {
			min = v
		}
	}
	return min
}

// Max returns the largest non-NaN value; NaN if there are none.
func Max(values []float64) float64 {
	max := math.NaN()
	for _, v := range values {
		if !math.IsNaN(v) && (math.IsNaN(max) || v > max) {
			max = v
		}
	}
	return max
}

// Variance returns the sample variance (n-1 normalization) of the
// non-NaN values; NaN if there are fewer than two.
func Variance(values []float64) float64 {
	return stat.Variance(compact(values), nil)
}

// StdDev returns the sample standard deviation of the non-NaN
// values; NaN if there are fewer than two.
func StdDev(values []float64) float64 {
	return stat.StdDev(compact(values), nil)
}

// Skewness returns the adjusted Fisher-Pearson skewness of the
// non-NaN values: NaN for fewer than three values, 0 when the values
// have no spread.
func Skewness(values []float64) float64 {
	xs := compact(values)
	n := float64(len(xs))
	if n < 3 {
		return math.NaN()
	}
	m2 := stat.Moment(2, xs, nil)
	if m2 == 0 {
		return 0
	}
	m3 := stat.Moment(3, xs, nil)
	g1 := m3 / math.Pow(m2, 1.5)
	return g1 * math.Sqrt(n*(n-1)) / (n - 2)
}

// Kurtosis returns the unbiased excess kurtosis of the non-NaN
// values: NaN for fewer than four values, 0 when the values have no
// spread.
func Kurtosis(values []float64) float64 {
	xs := compact(values)
	n := float64(len(xs))
	if n < 4 {
		return math.NaN()
	}
	m2 := stat.Moment(2, xs, nil)
	if m2 == 0 {
		return 0
	}
	m4 := stat.Moment(4, xs, nil)
	g2 := m4/(m2*m2) - 3
	return ((n+1)*g2 + 6) * (n - 1) / ((n - 2) * (n - 3))
}

// Median returns the median of the non-NaN values, interpolating the
// midpoint for even counts; NaN if there are none.
func Median(values []float64) float64 {
	xs := compact(values)
	if len(xs) == 0 {
		return math.NaN()
	}
	sorted := make([]float64, len(xs))
	copy(sorted, xs)
	sort.Float64s(sorted)
	mid := len(sorted) / 2
	if len(sorted)%2 == 1 {
		return sorted[mid]
	}
	return (sorted[mid-1] + sorted[mid]) / 2
}

func sumTree() *Tree {
	return &Tree{
		Size: 1,
		Update: func(state, values []float64) {
			for _, v := range values {
				if !math.IsNaN(v) {
					state[0] += v
				}
			}
		},
		Merge: func(a, b []float64) { a[0] += b[0] },
		Final: func(state []float64) float64 { return state[0] },
	}
}

func prodTree() *Tree {
	return &Tree{
		Size: 1,
		Init: func(state []float64) { state[0] = 1 },
		Update: func(state, values []float64) {
			for _, v := range values {
				if !math.IsNaN(v) {
					state[0] *= v
				}
			}
		},
		Merge: func(a, b []float64) { a[0] *= b[0] },
		Final: func(state []float64) float64 { return state[0] },
	}
}

func countTree() *Tree {
	return &Tree{
		Size: 1,
		Update: func(state, values []float64) {
			for _, v := range values {
				if !math.IsNaN(v) {
					state[0]++
				}
			}
		},
		Merge: func(a, b []float64) { a[0] += b[0] },
		Final: func(state []float64) float64 { return state[0] },
	}
}

func meanTree() *Tree {
	return &Tree{
		Size: 2, // sum, count
		Update: func(state, values []float64) {
			for _, v := range values {
				if !math.IsNaN(v) {
					state[0] += v
					state[1]++
				}
			}
		},
		Merge: func(a, b []float64) {
			a[0] += b[0]
			a[1] += b[1]
		},
		Final: func(state []float64) float64 {
			if state[1] == 0 {
				return math.NaN()
			}
			return state[0] / state[1]
		},
	}
}

// extremumTree builds min/max kernels. NaN doubles as the empty
// state, matching the skipna result for columns with no values.
func extremumTree(better func(v, s float64) bool) *Tree {
	return &Tree{
		Size: 1,
		Init: func(state []float64) { state[0] = math.NaN() },
		Update: func(state, values []float64) {
			for _, v := range values {
				if math.IsNaN(v) {
					continue
				}
				if math.IsNaN(state[0]) || better(v, state[0]) {
					state[0] = v
				}
			}
		},
		Merge: func(a, b []float64) {
			if math.IsNaN(b[0]) {
				return
			}
			if math.IsNaN(a[0]) || better(b[0], a[0]) {
				a[0] = b[0]
			}
		},
		Final: func(state []float64) float64 { return state[0] },
	}
}

// momentTree builds var/std kernels from Welford updates and Chan's
// parallel merge of (count, mean, M2) states.
func momentTree(final func(state []float64) float64) *Tree {
	return &Tree{
		Size: 3, // count, mean, M2
		Update: func(state, values []float64) {
			n, mean, m2 := state[0], state[1], state[2]
			for _, v := range values {
				if math.IsNaN(v) {
					continue
				}
				n++
				delta := v - mean
				mean += delta / n
				m2 += delta * (v - mean)
			}
			state[0], state[1], state[2] = n, mean, m2
		},
		Merge: func(a, b []float64) {
			na, nb := a[0], b[0]
			if nb == 0 {
				return
			}
			if na == 0 {
				copy(a, b)
				return
			}
			n := na + nb
			delta := b[1] - a[1]
			a[0] = n
			a[1] += delta * nb / n
			a[2] += b[2] + delta*delta*na*nb/n
		},
		Final: final,
	}
}

func varFinal(state []float64) float64 {
	if state[0] < 2 {
		return math.NaN()
	}
	return state[2] / (state[0] - 1)
}

func stdFinal(state []float64) float64 {
	return math.Sqrt(varFinal(state))
}
