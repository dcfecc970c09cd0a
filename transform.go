// Copyright 2019 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package bigframe

import (
	"context"
	"fmt"
	"reflect"

	"github.com/grailbio/bigframe/frame"
	"github.com/grailbio/bigframe/frameio"
	"github.com/grailbio/bigframe/framefunc"
	"github.com/grailbio/bigframe/frametype"
	"github.com/grailbio/bigframe/typecheck"
)

type selectFrame struct {
	DataFrame
	out     frametype.Type
	indices []int
}

// Select returns a dataframe comprising the named columns of df, in
// the order given. Select panics with a type error if a name is not a
// column of df.
//
// Schematically:
//
//	Select(DataFrame<a, b, c>, "c", "a") DataFrame<c, a>
func Select(df DataFrame, names ...string) DataFrame {
	if len(names) == 0 {
		typecheck.Panic(1, "select: must select at least one column")
	}
	typ, indices, err := frametype.Select(df, names...)
	if err != nil {
		typecheck.Panicf(1, "select: %v", err)
	}
	return &selectFrame{df, typ, indices}
}

func (s *selectFrame) NumOut() int            { return s.out.NumOut() }
func (s *selectFrame) Out(c int) reflect.Type { return s.out.Out(c) }
func (s *selectFrame) Name(c int) string      { return s.out.Name(c) }
func (*selectFrame) Op() string               { return "select" }
func (*selectFrame) NumDep() int              { return 1 }
func (s *selectFrame) Dep(i int) Dep          { return singleDep(i, s.DataFrame, false) }

type selectReader struct {
	op     *selectFrame
	reader frameio.Reader
	in     frame.Frame
	err    error
}

func (s *selectReader) Read(ctx context.Context, out frame.Frame) (int, error) {
	if s.err != nil {
		return 0, s.err
	}
	if !frametype.Assignable(out, s.op) {
		return 0, errTypeError
	}
	n := out.Len()
	s.in = s.in.Realloc(s.op.DataFrame, n)
	n, s.err = s.reader.Read(ctx, s.in)
	for k, idx := range s.op.indices {
		reflect.Copy(out.Value(k), s.in.Value(idx))
	}
	return n, s.err
}

func (s *selectFrame) Reader(part int, deps []frameio.Reader) frameio.Reader {
	return &selectReader{op: s, reader: deps[0]}
}

type filterFrame struct {
	DataFrame
	pred    framefunc.Func
	indices []int
}

// Filter returns a dataframe containing only those rows of df for
// which the predicate pred is true. The predicate receives the named
// columns of each row, or every column in schema order if no names
// are given, and must return a single boolean. An optional leading
// context.Context parameter receives the evaluation context.
//
// Schematically:
//
//	Filter(DataFrame<a, b>, func(a aType, b bType) bool) DataFrame<a, b>
func Filter(df DataFrame, pred interface{}, cols ...string) DataFrame {
	f := new(filterFrame)
	f.DataFrame = df
	arg, indices := applyArgs(1, df, cols)
	fn, ok := framefunc.Of(pred)
	if !ok {
		typecheck.Panicf(1, "filter: invalid predicate function %T", pred)
	}
	if !typecheck.CanApply(fn, arg) {
		typecheck.Panicf(1, "filter: function %T does not match argument type %s", pred, frametype.String(arg))
	}
	if fn.Out.NumOut() != 1 || fn.Out.Out(0).Kind() != reflect.Bool {
		typecheck.Panic(1, "filter: predicate must return a single boolean value")
	}
	f.pred = fn
	f.indices = indices
	return f
}

func (*filterFrame) Op() string      { return "filter" }
func (*filterFrame) NumDep() int     { return 1 }
func (f *filterFrame) Dep(i int) Dep { return singleDep(i, f.DataFrame, false) }

type filterReader struct {
	op     *filterFrame
	reader frameio.Reader
	in     frame.Frame
	err    error
}

func (f *filterReader) Read(ctx context.Context, out frame.Frame) (n int, err error) {
	if f.err != nil {
		return 0, f.err
	}
	if !frametype.Assignable(out, f.op) {
		return 0, errTypeError
	}
	var (
		m   int
		max = out.Len()
	)
	args := make([]reflect.Value, len(f.op.indices))
	for m < max && f.err == nil {
		f.in = f.in.Realloc(f.op, max-m)
		n, f.err = f.reader.Read(ctx, f.in)
		for i := 0; i < n; i++ {
			for j, idx := range f.op.indices {
				args[j] = f.in.Index(idx, i)
			}
			if f.op.pred.Call(ctx, args)[0].Bool() {
				frame.Copy(out.Slice(m, m+1), f.in.Slice(i, i+1))
				m++
			}
		}
	}
	return m, f.err
}

func (f *filterFrame) Reader(part int, deps []frameio.Reader) frameio.Reader {
	return &filterReader{op: f, reader: deps[0]}
}

type applyFrame struct {
	DataFrame
	out     frametype.Type
	fn      framefunc.Func
	indices []int
}

// Apply returns a dataframe that extends df with a computed column.
// The function fn receives the named columns of each row, or every
// column in schema order if no names are given, and must return a
// single value, which becomes the new column name. An optional
// leading context.Context parameter receives the evaluation context,
// through which user metrics may be updated.
//
// Schematically:
//
//	Apply(DataFrame<a, b>, "c", func(a aType, b bType) cType) DataFrame<a, b, c>
func Apply(df DataFrame, name string, fnv interface{}, cols ...string) DataFrame {
	if frametype.Index(df, name) >= 0 {
		typecheck.Panicf(1, "apply: column %q already in %s", name, frametype.String(df))
	}
	a := new(applyFrame)
	a.DataFrame = df
	arg, indices := applyArgs(1, df, cols)
	fn, ok := framefunc.Of(fnv)
	if !ok {
		typecheck.Panicf(1, "apply: invalid function %T", fnv)
	}
	if !typecheck.CanApply(fn, arg) {
		typecheck.Panicf(1, "apply: function %T does not match argument type %s", fnv, frametype.String(arg))
	}
	if fn.Out.NumOut() != 1 {
		typecheck.Panic(1, "apply: function must return a single value")
	}
	a.fn = fn
	a.indices = indices
	a.out = frametype.Concat(df, frametype.New(frametype.Field{Name: name, Type: fn.Out.Out(0)}))
	return a
}

// applyArgs resolves the argument schema for a row function: the
// named columns of df, or all of df's columns if none are named.
func applyArgs(calldepth int, df DataFrame, cols []string) (frametype.Type, []int) {
	if len(cols) == 0 {
		indices := make([]int, df.NumOut())
		for i := range indices {
			indices[i] = i
		}
		return df, indices
	}
	arg, indices, err := frametype.Select(df, cols...)
	if err != nil {
		typecheck.Panicf(calldepth+1, "%v", err)
	}
	return arg, indices
}

func (a *applyFrame) NumOut() int            { return a.out.NumOut() }
func (a *applyFrame) Out(c int) reflect.Type { return a.out.Out(c) }
func (a *applyFrame) Name(c int) string      { return a.out.Name(c) }
func (*applyFrame) Op() string               { return "apply" }
func (*applyFrame) NumDep() int              { return 1 }
func (a *applyFrame) Dep(i int) Dep          { return singleDep(i, a.DataFrame, false) }

type applyReader struct {
	op     *applyFrame
	reader frameio.Reader
	in     frame.Frame
	err    error
}

func (a *applyReader) Read(ctx context.Context, out frame.Frame) (int, error) {
	if a.err != nil {
		return 0, a.err
	}
	if !frametype.Assignable(out, a.op) {
		return 0, errTypeError
	}
	n := out.Len()
	a.in = a.in.Realloc(a.op.DataFrame, n)
	n, a.err = a.reader.Read(ctx, a.in)
	// Pass through the input columns, then compute the appended one
	// row by row.
	for c := 0; c < a.in.NumOut(); c++ {
		reflect.Copy(out.Value(c), a.in.Value(c))
	}
	last := out.NumOut() - 1
	args := make([]reflect.Value, len(a.op.indices))
	for i := 0; i < n; i++ {
		for j, idx := range a.op.indices {
			args[j] = a.in.Index(idx, i)
		}
		out.Index(last, i).Set(a.op.fn.Call(ctx, args)[0])
	}
	return n, a.err
}

func (a *applyFrame) Reader(part int, deps []frameio.Reader) frameio.Reader {
	return &applyReader{op: a, reader: deps[0]}
}

type headFrame struct {
	DataFrame
	n      int
	gather bool
}

// Head returns a dataframe containing at most the first n rows of df,
// in row order. Its schema is the same as df's. The result has a
// single partition.
func Head(df DataFrame, n int) DataFrame {
	if n < 0 {
		typecheck.Panicf(1, "head: invalid count %d", n)
	}
	// Clamp each partition first so that at most NumPart*n rows move
	// through the gather.
	h := &headFrame{df, n, false}
	if df.NumPart() == 1 {
		return h
	}
	return &headFrame{h, n, true}
}

func (h *headFrame) Op() string { return fmt.Sprintf("head(%d)", h.n) }

func (h *headFrame) NumPart() int {
	if h.gather {
		return 1
	}
	return h.DataFrame.NumPart()
}

func (*headFrame) NumDep() int { return 1 }

func (h *headFrame) Dep(i int) Dep {
	if i != 0 {
		panic(fmt.Sprintf("invalid dependency %d", i))
	}
	if h.gather {
		return Dep{DataFrame: h.DataFrame, Shuffle: true, Partition: gatherPartition, Ordered: true}
	}
	return Dep{DataFrame: h.DataFrame}
}

type headReader struct {
	reader frameio.Reader
	n      int
}

func (h *headFrame) Reader(part int, deps []frameio.Reader) frameio.Reader {
	return &headReader{deps[0], h.n}
}

func (h *headReader) Read(ctx context.Context, out frame.Frame) (n int, err error) {
	if h.n <= 0 {
		return 0, frameio.EOF
	}
	n, err = h.reader.Read(ctx, out)
	h.n -= n
	if h.n < 0 {
		n -= -h.n
	}
	return
}

type scanFrame struct {
	DataFrame
	scan func(part int, scanner *frameio.Scanner) error
}

// Scan invokes a function for each partition of the input DataFrame.
// It returns a unit DataFrame: Scan is intended to be used for its
// side effects.
func Scan(df DataFrame, scan func(part int, scanner *frameio.Scanner) error) DataFrame {
	return scanFrame{df, scan}
}

func (scanFrame) NumOut() int            { return 0 }
func (scanFrame) Out(c int) reflect.Type { panic(c) }
func (scanFrame) Name(c int) string      { panic(c) }
func (scanFrame) Op() string             { return "scan" }
func (scanFrame) NumDep() int            { return 1 }
func (s scanFrame) Dep(i int) Dep        { return singleDep(i, s.DataFrame, false) }

type scanReader struct {
	frame  scanFrame
	part   int
	reader frameio.Reader
}

func (s *scanReader) Read(ctx context.Context, out frame.Frame) (n int, err error) {
	err = s.frame.scan(s.part, &frameio.Scanner{Type: s.frame.DataFrame, Reader: s.reader})
	if err == nil {
		err = frameio.EOF
	}
	return 0, err
}

func (s scanFrame) Reader(part int, deps []frameio.Reader) frameio.Reader {
	return &scanReader{s, part, deps[0]}
}
