// Copyright 2019 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package bigframe

import (
	"context"
	"fmt"
	"reflect"
	"sort"
	"strings"
	"sync"

	"github.com/grailbio/base/log"
	"github.com/grailbio/bigframe/frame"
	"github.com/grailbio/bigframe/frameio"
	"github.com/grailbio/bigframe/frametype"
	"github.com/grailbio/bigframe/reduction"
	"github.com/grailbio/bigframe/typecheck"
)

var (
	typeOfString = reflect.TypeOf("")
	typeOfInt64  = reflect.TypeOf(int64(0))
)

// chunkType is the intermediate schema used by column reductions:
// each row carries one column's values (or tree state) for one
// partition of the input.
var chunkType = frametype.New(
	frametype.Field{Name: "col", Type: typeOfInt64},
	frametype.Field{Name: "values", Type: reflect.TypeOf([]float64{})},
)

// Reduce returns the reduction named op applied to each numeric
// column of df: a Series keyed by column name, in df's column order.
// The execution strategy is determined by the op's registered
// kernels (see package reduction):
//
//   - a tree kernel folds each partition into a fixed-width state and
//     merges states, never moving column data;
//   - a full-axis kernel repartitions columns into contiguous column
//     groups and runs the column function over each whole column in
//     parallel;
//   - an op with only a baseline defaults to local execution: the
//     input is gathered onto a single task and the baseline applied
//     serially. Bigframe warns once per op when this happens.
//
// Reduce panics with a type error if no reduction is registered under
// op, or if df has no numeric columns. Non-numeric columns are
// skipped.
func Reduce(df DataFrame, op string) Series {
	return reduce(2, df, op)
}

func reduce(calldepth int, df DataFrame, op string) Series {
	red, ok := reduction.Lookup(op)
	if !ok {
		typecheck.Panicf(calldepth, "reduce: no reduction op %q is registered; registered ops: %s",
			op, strings.Join(reduction.Names(), ", "))
	}
	if !typecheck.CanReduce(df) {
		typecheck.Panicf(calldepth, "reduce: no numeric columns in %s", frametype.String(df))
	}
	cols := frametype.NumericColumns(df)
	switch {
	case red.Tree != nil:
		states := &treeStateFrame{Type: chunkType, df: df, op: op, tree: red.Tree, cols: cols}
		return &treeMergeFrame{Type: frametype.SeriesOf(typeOfString), op: op, states: states}
	case red.FullAxis != nil:
		nparts := df.NumPart()
		if len(cols) < nparts {
			nparts = len(cols)
		}
		return newColReduce(df, op, red.FullAxis, cols, nparts)
	default:
		warnFallback(op)
		return newColReduce(df, op, red.Baseline, cols, 1)
	}
}

// RowReduce returns the reduction named op applied across the numeric
// columns of each row of df: a Series keyed by global row number.
// Row reductions always execute natively: each partition reduces its
// own rows, and a single tail task assigns row numbers. RowReduce
// panics with a type error like Reduce does.
func RowReduce(df DataFrame, op string) Series {
	return rowReduce(2, df, op)
}

func rowReduce(calldepth int, df DataFrame, op string) Series {
	red, ok := reduction.Lookup(op)
	if !ok {
		typecheck.Panicf(calldepth, "rowreduce: no reduction op %q is registered; registered ops: %s",
			op, strings.Join(reduction.Names(), ", "))
	}
	if !typecheck.CanReduce(df) {
		typecheck.Panicf(calldepth, "rowreduce: no numeric columns in %s", frametype.String(df))
	}
	rows := &rowReduceFrame{
		Type: frametype.New(frametype.Field{Name: "value", Type: reflect.TypeOf(float64(0))}),
		df:   df,
		op:   op,
		fn:   columnFunc(red),
		cols: frametype.NumericColumns(df),
	}
	return &renumberFrame{Type: frametype.SeriesOf(typeOfInt64), rows: rows}
}

// columnFunc returns a serial column function for the reduction,
// preferring its baseline. Tree-only reductions are folded through
// their state.
func columnFunc(red reduction.Reduction) reduction.ColumnFunc {
	switch {
	case red.Baseline != nil:
		return red.Baseline
	case red.FullAxis != nil:
		return red.FullAxis
	default:
		tree := red.Tree
		return func(values []float64) float64 {
			state := make([]float64, tree.Size)
			if tree.Init != nil {
				tree.Init(state)
			}
			tree.Update(state, values)
			return tree.Final(state)
		}
	}
}

// Sum returns the column sums of df: a Series keyed by column name.
func Sum(df DataFrame) Series { return reduce(2, df, "sum") }

// Prod returns the column products of df.
func Prod(df DataFrame) Series { return reduce(2, df, "prod") }

// Count returns the per-column counts of non-NaN values of df.
func Count(df DataFrame) Series { return reduce(2, df, "count") }

// Mean returns the column means of df.
func Mean(df DataFrame) Series { return reduce(2, df, "mean") }

// Min returns the column minima of df.
func Min(df DataFrame) Series { return reduce(2, df, "min") }

// Max returns the column maxima of df.
func Max(df DataFrame) Series { return reduce(2, df, "max") }

// Var returns the per-column sample variances of df.
func Var(df DataFrame) Series { return reduce(2, df, "var") }

// Std returns the per-column sample standard deviations of df.
func Std(df DataFrame) Series { return reduce(2, df, "std") }

// Kurt returns the per-column excess kurtosis of df. No tree or
// full-axis kernel is registered out of the box, so Kurt defaults to
// local execution until one is (see package reduction).
func Kurt(df DataFrame) Series { return reduce(2, df, "kurt") }

// Skew returns the per-column skewness of df. Like Kurt, Skew
// defaults to local execution out of the box.
func Skew(df DataFrame) Series { return reduce(2, df, "skew") }

// Median returns the column medians of df. Like Kurt, Median defaults
// to local execution out of the box.
func Median(df DataFrame) Series { return reduce(2, df, "median") }

var (
	fallbackMu     sync.Mutex
	fallbackWarned = map[string]bool{}
)

// warnFallback logs the local-execution warning, once per op name per
// process.
func warnFallback(op string) {
	fallbackMu.Lock()
	defer fallbackMu.Unlock()
	if fallbackWarned[op] {
		return
	}
	fallbackWarned[op] = true
	log.Printf("bigframe: %s defaulting to local execution; register a reduction kernel to distribute it (see package reduction)", op)
}

// columnPartition returns the partition function that groups the
// chunk rows of cols into contiguous column ranges.
func columnPartition(cols []int) frame.PartitionFunc {
	rank := make(map[int64]int, len(cols))
	for i, col := range cols {
		rank[int64(col)] = i
	}
	return func(f frame.Frame, row, width int) int {
		return rank[f.Index(0, row).Int()] * width / len(rank)
	}
}

// colChunkFrame assembles each numeric column of a partition into a
// single chunk row (col, values). It is the first stage of full-axis
// and fallback reductions.
type colChunkFrame struct {
	frametype.Type
	df   DataFrame
	op   string
	cols []int
}

func (c *colChunkFrame) Op() string    { return fmt.Sprintf("colchunks(%s)", c.op) }
func (c *colChunkFrame) NumPart() int  { return c.df.NumPart() }
func (*colChunkFrame) NumDep() int     { return 1 }
func (c *colChunkFrame) Dep(i int) Dep { return singleDep(i, c.df, false) }

type colChunkReader struct {
	op     *colChunkFrame
	reader frameio.Reader
	in     frame.Frame
	chunks [][]float64
	next   int
	done   bool
	err    error
}

func (c *colChunkReader) Read(ctx context.Context, out frame.Frame) (int, error) {
	if c.err != nil {
		return 0, c.err
	}
	if !frametype.Assignable(out, c.op) {
		return 0, errTypeError
	}
	if !c.done {
		c.chunks = make([][]float64, len(c.op.cols))
		for {
			c.in = c.in.Realloc(c.op.df, defaultChunksize)
			n, err := c.reader.Read(ctx, c.in)
			if err != nil && err != frameio.EOF {
				c.err = err
				return 0, err
			}
			for i, col := range c.op.cols {
				c.chunks[i] = append(c.chunks[i], c.in.Float64s(col)[:n]...)
			}
			if err == frameio.EOF {
				break
			}
		}
		c.done = true
	}
	var n int
	for n < out.Len() && c.next < len(c.op.cols) {
		out.Index(0, n).SetInt(int64(c.op.cols[c.next]))
		out.Index(1, n).Set(reflect.ValueOf(c.chunks[c.next]))
		c.next++
		n++
	}
	if c.next == len(c.op.cols) {
		return n, frameio.EOF
	}
	return n, nil
}

func (c *colChunkFrame) Reader(part int, deps []frameio.Reader) frameio.Reader {
	return &colChunkReader{op: c, reader: deps[0]}
}

func newColReduce(df DataFrame, op string, fn reduction.ColumnFunc, cols []int, nparts int) Series {
	chunks := &colChunkFrame{Type: chunkType, df: df, op: op, cols: cols}
	return &colApplyFrame{
		Type:   frametype.SeriesOf(typeOfString),
		op:     op,
		fn:     fn,
		chunks: chunks,
		nparts: nparts,
	}
}

// colApplyFrame reassembles whole columns from chunk rows and applies
// the column function to each. Chunks of a column arrive in task
// order, which is partition order, so concatenation restores the
// column's row order.
type colApplyFrame struct {
	frametype.Type
	op     string
	fn     reduction.ColumnFunc
	chunks *colChunkFrame
	nparts int
}

func (c *colApplyFrame) Op() string        { return fmt.Sprintf("colreduce(%s)", c.op) }
func (c *colApplyFrame) NumPart() int      { return c.nparts }
func (*colApplyFrame) NumDep() int         { return 1 }
func (c *colApplyFrame) Key() reflect.Type { return typeOfString }

func (c *colApplyFrame) Dep(i int) Dep {
	if i != 0 {
		panic(fmt.Sprintf("invalid dependency %d", i))
	}
	return Dep{DataFrame: c.chunks, Shuffle: true, Partition: columnPartition(c.chunks.cols)}
}

type colApplyReader struct {
	op     *colApplyFrame
	reader frameio.Reader
	cols   []int64
	chunks map[int64][][]float64
	next   int
	done   bool
	err    error
}

func (c *colApplyReader) Read(ctx context.Context, out frame.Frame) (int, error) {
	if c.err != nil {
		return 0, c.err
	}
	if !frametype.Assignable(out, c.op) {
		return 0, errTypeError
	}
	if !c.done {
		c.chunks = make(map[int64][][]float64)
		var in frame.Frame
		for {
			in = in.Realloc(chunkType, defaultChunksize)
			n, err := c.reader.Read(ctx, in)
			if err != nil && err != frameio.EOF {
				c.err = err
				return 0, err
			}
			for i := 0; i < n; i++ {
				col := in.Index(0, i).Int()
				if _, ok := c.chunks[col]; !ok {
					c.cols = append(c.cols, col)
				}
				c.chunks[col] = append(c.chunks[col], in.Index(1, i).Interface().([]float64))
			}
			if err == frameio.EOF {
				break
			}
		}
		sort.Slice(c.cols, func(i, j int) bool { return c.cols[i] < c.cols[j] })
		c.done = true
	}
	var n int
	for n < out.Len() && c.next < len(c.cols) {
		col := c.cols[c.next]
		var total int
		for _, chunk := range c.chunks[col] {
			total += len(chunk)
		}
		values := make([]float64, 0, total)
		for _, chunk := range c.chunks[col] {
			values = append(values, chunk...)
		}
		c.chunks[col] = nil
		out.Index(0, n).SetString(c.op.chunks.df.Name(int(col)))
		out.Index(1, n).SetFloat(c.op.fn(values))
		c.next++
		n++
	}
	if c.next == len(c.cols) {
		return n, frameio.EOF
	}
	return n, nil
}

func (c *colApplyFrame) Reader(part int, deps []frameio.Reader) frameio.Reader {
	return &colApplyReader{op: c, reader: deps[0]}
}

// treeStateFrame folds each partition's numeric columns into tree
// kernel states, one chunk row (col, state) per column. It is the
// first stage of tree reductions.
type treeStateFrame struct {
	frametype.Type
	df   DataFrame
	op   string
	tree *reduction.Tree
	cols []int
}

func (t *treeStateFrame) Op() string    { return fmt.Sprintf("treestate(%s)", t.op) }
func (t *treeStateFrame) NumPart() int  { return t.df.NumPart() }
func (*treeStateFrame) NumDep() int     { return 1 }
func (t *treeStateFrame) Dep(i int) Dep { return singleDep(i, t.df, false) }

type treeStateReader struct {
	op     *treeStateFrame
	reader frameio.Reader
	in     frame.Frame
	states [][]float64
	next   int
	done   bool
	err    error
}

func (t *treeStateReader) Read(ctx context.Context, out frame.Frame) (int, error) {
	if t.err != nil {
		return 0, t.err
	}
	if !frametype.Assignable(out, t.op) {
		return 0, errTypeError
	}
	if !t.done {
		t.states = make([][]float64, len(t.op.cols))
		for i := range t.states {
			t.states[i] = make([]float64, t.op.tree.Size)
			if t.op.tree.Init != nil {
				t.op.tree.Init(t.states[i])
			}
		}
		for {
			t.in = t.in.Realloc(t.op.df, defaultChunksize)
			n, err := t.reader.Read(ctx, t.in)
			if err != nil && err != frameio.EOF {
				t.err = err
				return 0, err
			}
			for i, col := range t.op.cols {
				t.op.tree.Update(t.states[i], t.in.Float64s(col)[:n])
			}
			if err == frameio.EOF {
				break
			}
		}
		t.done = true
	}
	var n int
	for n < out.Len() && t.next < len(t.op.cols) {
		out.Index(0, n).SetInt(int64(t.op.cols[t.next]))
		out.Index(1, n).Set(reflect.ValueOf(t.states[t.next]))
		t.next++
		n++
	}
	if t.next == len(t.op.cols) {
		return n, frameio.EOF
	}
	return n, nil
}

func (t *treeStateFrame) Reader(part int, deps []frameio.Reader) frameio.Reader {
	return &treeStateReader{op: t, reader: deps[0]}
}

// treeMergeFrame merges the per-partition states of a tree reduction
// and finalizes each column's result. Merging is associative, so
// state arrival order does not affect results beyond float rounding.
type treeMergeFrame struct {
	frametype.Type
	op     string
	states *treeStateFrame
}

func (t *treeMergeFrame) Op() string        { return fmt.Sprintf("treemerge(%s)", t.op) }
func (*treeMergeFrame) NumPart() int        { return 1 }
func (*treeMergeFrame) NumDep() int         { return 1 }
func (t *treeMergeFrame) Key() reflect.Type { return typeOfString }

func (t *treeMergeFrame) Dep(i int) Dep {
	if i != 0 {
		panic(fmt.Sprintf("invalid dependency %d", i))
	}
	return Dep{DataFrame: t.states, Shuffle: true, Partition: gatherPartition}
}

type treeMergeReader struct {
	op     *treeMergeFrame
	reader frameio.Reader
	cols   []int64
	merged map[int64][]float64
	next   int
	done   bool
	err    error
}

func (t *treeMergeReader) Read(ctx context.Context, out frame.Frame) (int, error) {
	if t.err != nil {
		return 0, t.err
	}
	if !frametype.Assignable(out, t.op) {
		return 0, errTypeError
	}
	tree := t.op.states.tree
	if !t.done {
		t.merged = make(map[int64][]float64)
		var in frame.Frame
		for {
			in = in.Realloc(chunkType, defaultChunksize)
			n, err := t.reader.Read(ctx, in)
			if err != nil && err != frameio.EOF {
				t.err = err
				return 0, err
			}
			for i := 0; i < n; i++ {
				col := in.Index(0, i).Int()
				acc, ok := t.merged[col]
				if !ok {
					acc = make([]float64, tree.Size)
					if tree.Init != nil {
						tree.Init(acc)
					}
					t.merged[col] = acc
					t.cols = append(t.cols, col)
				}
				tree.Merge(acc, in.Index(1, i).Interface().([]float64))
			}
			if err == frameio.EOF {
				break
			}
		}
		sort.Slice(t.cols, func(i, j int) bool { return t.cols[i] < t.cols[j] })
		t.done = true
	}
	var n int
	for n < out.Len() && t.next < len(t.cols) {
		col := t.cols[t.next]
		out.Index(0, n).SetString(t.op.states.df.Name(int(col)))
		out.Index(1, n).SetFloat(tree.Final(t.merged[col]))
		t.next++
		n++
	}
	if t.next == len(t.cols) {
		return n, frameio.EOF
	}
	return n, nil
}

func (t *treeMergeFrame) Reader(part int, deps []frameio.Reader) frameio.Reader {
	return &treeMergeReader{op: t, reader: deps[0]}
}

// rowReduceFrame reduces across the numeric columns of each row,
// producing a single value column. Row order is preserved.
type rowReduceFrame struct {
	frametype.Type
	df   DataFrame
	op   string
	fn   reduction.ColumnFunc
	cols []int
}

func (r *rowReduceFrame) Op() string    { return fmt.Sprintf("rowreduce(%s)", r.op) }
func (r *rowReduceFrame) NumPart() int  { return r.df.NumPart() }
func (*rowReduceFrame) NumDep() int     { return 1 }
func (r *rowReduceFrame) Dep(i int) Dep { return singleDep(i, r.df, false) }

type rowReduceReader struct {
	op     *rowReduceFrame
	reader frameio.Reader
	in     frame.Frame
	row    []float64
	err    error
}

func (r *rowReduceReader) Read(ctx context.Context, out frame.Frame) (int, error) {
	if r.err != nil {
		return 0, r.err
	}
	if !frametype.Assignable(out, r.op) {
		return 0, errTypeError
	}
	n := out.Len()
	r.in = r.in.Realloc(r.op.df, n)
	n, r.err = r.reader.Read(ctx, r.in)
	if r.row == nil {
		r.row = make([]float64, len(r.op.cols))
	}
	cols := make([][]float64, len(r.op.cols))
	for i, col := range r.op.cols {
		cols[i] = r.in.Float64s(col)
	}
	values := out.Float64s(0)
	for i := 0; i < n; i++ {
		for j := range cols {
			r.row[j] = cols[j][i]
		}
		values[i] = r.op.fn(r.row)
	}
	return n, r.err
}

func (r *rowReduceFrame) Reader(part int, deps []frameio.Reader) frameio.Reader {
	return &rowReduceReader{op: r, reader: deps[0]}
}

// renumberFrame gathers row reductions into a single partition and
// keys them by global row number.
type renumberFrame struct {
	frametype.Type
	rows *rowReduceFrame
}

func (*renumberFrame) Op() string        { return "renumber" }
func (*renumberFrame) NumPart() int      { return 1 }
func (*renumberFrame) NumDep() int       { return 1 }
func (*renumberFrame) Key() reflect.Type { return typeOfInt64 }

func (r *renumberFrame) Dep(i int) Dep {
	if i != 0 {
		panic(fmt.Sprintf("invalid dependency %d", i))
	}
	return Dep{DataFrame: r.rows, Shuffle: true, Partition: gatherPartition, Ordered: true}
}

type renumberReader struct {
	op     *renumberFrame
	reader frameio.Reader
	in     frame.Frame
	next   int64
	err    error
}

func (r *renumberReader) Read(ctx context.Context, out frame.Frame) (int, error) {
	if r.err != nil {
		return 0, r.err
	}
	if !frametype.Assignable(out, r.op) {
		return 0, errTypeError
	}
	n := out.Len()
	r.in = r.in.Realloc(r.op.rows, n)
	n, r.err = r.reader.Read(ctx, r.in)
	reflect.Copy(out.Value(1), r.in.Value(0))
	for i := 0; i < n; i++ {
		out.Index(0, i).SetInt(r.next)
		r.next++
	}
	return n, r.err
}

func (r *renumberFrame) Reader(part int, deps []frameio.Reader) frameio.Reader {
	return &renumberReader{op: r, reader: deps[0]}
}
