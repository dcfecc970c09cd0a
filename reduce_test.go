// Copyright 2019 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package bigframe_test

import (
	"context"
	"fmt"
	"math"
	"math/rand"
	"reflect"
	"runtime"
	"sort"
	"strings"
	"testing"
	"time"

	"github.com/grailbio/base/log"
	"github.com/grailbio/bigframe"
	"github.com/grailbio/bigframe/exec"
	"github.com/grailbio/bigframe/frametest"
	"github.com/grailbio/bigframe/frametype"
	"github.com/grailbio/bigframe/reduction"
)

func init() {
	// Custom reductions used by the tests below. "range" carries a tree
	// kernel; "p90" is a baseline lifted into a full-axis kernel.
	reduction.Register("range", reduction.Reduction{
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
	reduction.Register("p90", reduction.FullAxisOf(percentile90))
	// The same column function without a kernel: reductions through it
	// take the local fallback path. Used to compare the two paths.
	reduction.Register("p90serial", reduction.Reduction{Baseline: percentile90})
}

// percentile90 returns the 90th percentile of the non-NaN values by
// nearest rank.
func percentile90(values []float64) float64 {
	xs := make([]float64, 0, len(values))
	for _, v := range values {
		if !math.IsNaN(v) {
			xs = append(xs, v)
		}
	}
	if len(xs) == 0 {
		return math.NaN()
	}
	sort.Float64s(xs)
	return xs[(len(xs)-1)*9/10]
}

// assertSeriesNear compares a series against expected keys and values,
// allowing for float rounding in the values. Tree reductions merge
// partition states in arrival order, so their results can differ from
// the serial baselines in the last few bits.
func assertSeriesNear(t *testing.T, series bigframe.Series, wantKeys []string, wantValues []float64) {
	t.Helper()
	const tolerance = 1e-9
	for name, s := range run(context.Background(), t, series) {
		t.Run(name, func(t *testing.T) {
			var (
				key   string
				value float64
			)
			ctx := context.Background()
			i := 0
			for s.Scan(ctx, &key, &value) {
				if i >= len(wantKeys) {
					t.Fatalf("long read at row %d", i)
				}
				if got, want := key, wantKeys[i]; got != want {
					t.Errorf("row %d: got key %q, want %q", i, got, want)
				}
				got, want := value, wantValues[i]
				switch {
				case math.IsNaN(want):
					if !math.IsNaN(got) {
						t.Errorf("key %s: got %v, want NaN", key, got)
					}
				case math.Abs(got-want) > tolerance*(1+math.Abs(want)):
					t.Errorf("key %s: got %v, want %v", key, got, want)
				}
				i++
			}
			if err := s.Err(); err != nil {
				t.Errorf("scan: %v", err)
			}
			if got, want := i, len(wantKeys); got != want {
				t.Errorf("got %v rows, want %v", got, want)
			}
		})
	}
}

func TestReduce(t *testing.T) {
	df := bigframe.Const(3,
		bigframe.Col{Name: "name", Values: []string{"a", "b", "c", "d", "e", "f", "g", "h"}},
		bigframe.Col{Name: "x", Values: []float64{1, 2, math.NaN(), 4, 5, 6, math.NaN(), 8}},
		bigframe.Col{Name: "n", Values: []int{1, 2, 3, 4, 5, 6, 7, 8}},
	)
	// Non-numeric columns are skipped; keys follow schema order.
	assertEqual(t, bigframe.Sum(df), false, []string{"x", "n"}, []float64{26, 36})
	assertEqual(t, bigframe.Prod(df), false, []string{"x", "n"}, []float64{1920, 40320})
	assertEqual(t, bigframe.Count(df), false, []string{"x", "n"}, []float64{6, 8})
	assertEqual(t, bigframe.Mean(df), false, []string{"x", "n"}, []float64{26.0 / 6, 4.5})
	assertEqual(t, bigframe.Min(df), false, []string{"x", "n"}, []float64{1, 1})
	assertEqual(t, bigframe.Max(df), false, []string{"x", "n"}, []float64{8, 8})
}

func TestReduceMoments(t *testing.T) {
	const N = 1000
	xs := make([]float64, N)
	for i := range xs {
		xs[i] = float64(i%17) / 2
		if i%13 == 0 {
			xs[i] = math.NaN()
		}
	}
	df := bigframe.Const(7, bigframe.Col{Name: "x", Values: xs})
	assertSeriesNear(t, bigframe.Var(df), []string{"x"}, []float64{reduction.Variance(xs)})
	assertSeriesNear(t, bigframe.Std(df), []string{"x"}, []float64{reduction.StdDev(xs)})
	assertSeriesNear(t, bigframe.Kurt(df), []string{"x"}, []float64{reduction.Kurtosis(xs)})
	assertSeriesNear(t, bigframe.Skew(df), []string{"x"}, []float64{reduction.Skewness(xs)})
}

func TestRowReduce(t *testing.T) {
	df := bigframe.Const(3,
		bigframe.Col{Name: "name", Values: []string{"a", "b", "c", "d", "e"}},
		bigframe.Col{Name: "x", Values: []float64{1, 2, math.NaN(), 4, 5}},
		bigframe.Col{Name: "y", Values: []int{10, 20, 30, 40, 50}},
	)
	sums := bigframe.RowReduce(df, "sum")
	if got, want := sums.NumPart(), 1; got != want {
		t.Errorf("got %v, want %v", got, want)
	}
	assertEqual(t, sums, false, []int64{0, 1, 2, 3, 4}, []float64{11, 22, 30, 44, 55})
	assertEqual(t, bigframe.RowReduce(df, "max"), false, []int64{0, 1, 2, 3, 4}, []float64{10, 20, 30, 40, 50})
}

// TestReduceChain reduces a series: the value column of Sum's result is
// itself numeric.
func TestReduceChain(t *testing.T) {
	df := bigframe.Const(4,
		bigframe.Col{Name: "x", Values: []int{1, 2, 3, 4}},
		bigframe.Col{Name: "y", Values: []int{10, 20, 30, 40}},
	)
	assertEqual(t, bigframe.Max(bigframe.Sum(df)), false, []string{"value"}, []float64{100})
}

func TestReduceSchema(t *testing.T) {
	df := bigframe.Const(8,
		bigframe.Col{Name: "x", Values: []float64{}},
		bigframe.Col{Name: "y", Values: []int{}},
	)
	sum := bigframe.Sum(df)
	if got, want := frametype.String(sum), "frame[key:string, value:float64]"; got != want {
		t.Errorf("got %v, want %v", got, want)
	}
	if got, want := sum.Key(), reflect.TypeOf(""); got != want {
		t.Errorf("got %v, want %v", got, want)
	}
	if got, want := sum.NumPart(), 1; got != want {
		t.Errorf("got %v, want %v", got, want)
	}
	rows := bigframe.RowReduce(df, "sum")
	if got, want := frametype.String(rows), "frame[key:int64, value:float64]"; got != want {
		t.Errorf("got %v, want %v", got, want)
	}
	if got, want := rows.Key(), reflect.TypeOf(int64(0)); got != want {
		t.Errorf("got %v, want %v", got, want)
	}
	// Full-axis reductions parallelize across column groups, capped by
	// the number of numeric columns.
	if got, want := bigframe.Reduce(df, "p90").NumPart(), 2; got != want {
		t.Errorf("got %v, want %v", got, want)
	}
}

func TestCustomReduction(t *testing.T) {
	const N = 1000
	xs := make([]float64, N)
	ys := make([]int, N)
	for i := range xs {
		xs[i] = float64(i) / 2
		ys[i] = i
	}
	out := new(testOutputter)
	save := log.SetOutputter(out)
	defer log.SetOutputter(save)
	df := bigframe.Const(9,
		bigframe.Col{Name: "x", Values: xs},
		bigframe.Col{Name: "y", Values: ys},
	)
	assertEqual(t, bigframe.Reduce(df, "range"), false, []string{"x", "y"}, []float64{499.5, 999})
	assertEqual(t, bigframe.Reduce(df, "p90"), false, []string{"x", "y"}, []float64{449.5, 899})
	// Registered kernels execute natively: no fallback warning.
	if msg := out.String(); strings.Contains(msg, "defaulting to local execution") {
		t.Errorf("unexpected fallback warning: %q", msg)
	}
}

// TestCustomReductionFaster compares the two execution paths of the
// same column function: p90 runs its registered kernel across column
// groups, p90serial gathers and runs column by column. The kernel
// must win, and the results must agree bitwise since both apply the
// function to whole columns in row order.
func TestCustomReductionFaster(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping timing comparison in short mode")
	}
	if runtime.GOMAXPROCS(0) < 2 {
		t.Skip("timing comparison needs parallelism")
	}
	const (
		N = 200000
		C = 12
	)
	rnd := rand.New(rand.NewSource(42))
	cols := make([]bigframe.Col, C)
	for i := range cols {
		xs := make([]float64, N)
		for j := range xs {
			xs[j] = rnd.Float64()
		}
		cols[i] = bigframe.Col{Name: fmt.Sprintf("c%02d", i), Values: xs}
	}
	df := bigframe.Const(4, cols...)
	sess := exec.Start(exec.Local, exec.Parallelism(runtime.GOMAXPROCS(0)))
	ctx := context.Background()
	serialKeys, serialValues, serialElapsed := timeReduce(ctx, t, sess, df, "p90serial")
	kernelKeys, kernelValues, kernelElapsed := timeReduce(ctx, t, sess, df, "p90")
	if got, want := kernelKeys, serialKeys; !reflect.DeepEqual(got, want) {
		t.Errorf("got keys %v, want %v", got, want)
	}
	if got, want := kernelValues, serialValues; !reflect.DeepEqual(got, want) {
		t.Errorf("got values %v, want %v", got, want)
	}
	if kernelElapsed >= serialElapsed {
		t.Errorf("kernel path took %s, fallback path %s", kernelElapsed, serialElapsed)
	}
}

func timeReduce(ctx context.Context, t *testing.T, sess *exec.Session, df bigframe.DataFrame, op string) (keys []string, values []float64, elapsed time.Duration) {
	t.Helper()
	fn := bigframe.Func(func() bigframe.DataFrame { return bigframe.Reduce(df, op) })
	begin := time.Now()
	res, err := sess.Run(ctx, fn)
	if err != nil {
		t.Fatal(err)
	}
	var (
		key   string
		value float64
	)
	s := res.Scan(ctx)
	for s.Scan(ctx, &key, &value) {
		keys = append(keys, key)
		values = append(values, value)
	}
	if err := s.Err(); err != nil {
		t.Fatal(err)
	}
	return keys, values, time.Since(begin)
}

func TestReduceFallbackWarnsOnce(t *testing.T) {
	out := new(testOutputter)
	save := log.SetOutputter(out)
	defer log.SetOutputter(save)
	df := bigframe.Const(4, bigframe.Col{Name: "x", Values: []float64{3, 1, 4, 1, 5, 9, 2, 6}})
	assertEqual(t, bigframe.Median(df), false, []string{"x"}, []float64{3.5})
	assertEqual(t, bigframe.Median(df), false, []string{"x"}, []float64{3.5})
	const warning = "bigframe: median defaulting to local execution"
	if got, want := strings.Count(out.String(), warning), 1; got != want {
		t.Errorf("got %d warnings, want %d:\n%s", got, want, out.String())
	}
}

func TestReduceError(t *testing.T) {
	df := bigframe.Const(1, bigframe.Col{Name: "x", Values: []int{}})
	strs := bigframe.Const(1, bigframe.Col{Name: "s", Values: []string{}})
	const registered = "count, kurt, max, mean, median, min, p90, p90serial, prod, range, skew, std, sum, var"
	expectTypeError(t, `reduce: no reduction op "quantile" is registered; registered ops: `+registered, func() { bigframe.Reduce(df, "quantile") })
	expectTypeError(t, "reduce: no numeric columns in frame[s:string]", func() { bigframe.Sum(strs) })
	expectTypeError(t, `rowreduce: no reduction op "quantile" is registered; registered ops: `+registered, func() { bigframe.RowReduce(df, "quantile") })
	expectTypeError(t, "rowreduce: no numeric columns in frame[s:string]", func() { bigframe.RowReduce(strs, "sum") })
}

func ExampleSum() {
	df := bigframe.Const(2,
		bigframe.Col{Name: "x", Values: []float64{1, 2, 3, 4}},
		bigframe.Col{Name: "y", Values: []float64{10, 20, 30, 40}},
	)
	frametest.Print(bigframe.Sum(df))
	// Output:
	// x 10
	// y 100
}
