// Copyright 2018 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

// Package frame contains definitions and utilities for bigframe
// frames. Frames are rectangular buffers of named, typed column
// vectors that represent data as it is processed by bigframe.
package frame

import (
	"bytes"
	"fmt"
	"io"
	"math"
	"reflect"
	"strings"
	"text/tabwriter"

	"github.com/grailbio/bigframe/frametype"
	"github.com/grailbio/bigframe/internal/zero"
	"github.com/grailbio/bigframe/typecheck"
)

// Column represents a single column of values in a frame. Columns
// are always Go slices, but are represented here as a reflect.Value
// to support type polymorphism. We use the type Column instead of
// reflect.Value to distinguish between the various uses of
// reflect.Value in Bigframe's code base.
type Column reflect.Value

// Index returns the value at index i of the column c.
func (c Column) Index(i int) reflect.Value { return reflect.Value(c).Index(i) }

// Type returns the type of the column. The returned type is always a
// slice.
func (c Column) Type() reflect.Type { return reflect.Value(c).Type() }

// ElemType returns the element type of the column.
func (c Column) ElemType() reflect.Type { return c.Type().Elem() }

// Value returns the reflect.Value that represents this column.
func (c Column) Value() reflect.Value { return reflect.Value(c) }

// Slice slices the column.
func (c Column) Slice(i, j int) Column { return Column(reflect.Value(c).Slice(i, j)) }

// Len returns the column's length.
func (c Column) Len() int { return reflect.Value(c).Len() }

// Cap returns the column's capacity.
func (c Column) Cap() int { return reflect.Value(c).Cap() }

// Interface returns the column value as an empty interface.
func (c Column) Interface() interface{} { return reflect.Value(c).Interface() }

// A Frame is a rectangular buffer of columns: each column is a slice
// of equal length, and the frame carries the schema naming and typing
// each column. Frames provide a set of methods that operate over the
// underlying column vectors in a uniform fashion.
//
// The zero Frame is valid and empty; rows may be appended to it with
// Append.
type Frame struct {
	typ  frametype.Type
	data []Column
	ops  []Ops
}

// Empty is the empty frame.
var Empty = Frame{}

// Make creates a new Frame of the given schema, length, and
// capacity. If the capacity argument is omitted, a frame with
// capacity equal to the provided length is returned.
func Make(types frametype.Type, frameLen int, frameCap ...int) Frame {
	var cap int
	switch len(frameCap) {
	case 0:
		cap = frameLen
	case 1:
		cap = frameCap[0]
	default:
		panic("invalid lencap")
	}
	f := Frame{
		typ:  types,
		data: make([]Column, types.NumOut()),
		ops:  make([]Ops, types.NumOut()),
	}
	for i := range f.data {
		f.data[i] = Column(reflect.MakeSlice(reflect.SliceOf(types.Out(i)), frameLen, cap))
		f.ops[i] = makeSliceOps(types.Out(i), f.data[i].Value())
	}
	return f
}

// Columns constructs a frame from a list of named slices. Each slice
// is a column of the frame. Columns panics if the arities disagree,
// an argument is not a slice, or the column lengths do not match.
func Columns(names []string, cols ...interface{}) Frame {
	typ, ok := typecheck.Columns(names, cols...)
	if !ok {
		typecheck.Panicf(1, "frame.Columns: invalid columns %v", cols)
	}
	f := Frame{
		typ:  typ,
		data: make([]Column, len(cols)),
		ops:  make([]Ops, len(cols)),
	}
	n := -1
	for i, col := range cols {
		val := reflect.ValueOf(col)
		if n < 0 {
			n = val.Len()
		} else if val.Len() != n {
			typecheck.Panicf(1,
				"frame.Columns: inconsistent column lengths: "+
					"column %s has length %d, previous columns have length %d",
				typ.Name(i), val.Len(), n,
			)
		}
		f.data[i] = Column(val)
		f.ops[i] = makeSliceOps(typ.Out(i), val)
	}
	return f
}

// Of constructs a frame of the provided schema over the provided
// column values. The values must be slices of the schema's column
// types and of equal length.
func Of(typ frametype.Type, cols []reflect.Value) Frame {
	if len(cols) != typ.NumOut() {
		typecheck.Panicf(1, "frame.Of: %d columns for schema %s", len(cols), frametype.String(typ))
	}
	f := Frame{
		typ:  typ,
		data: make([]Column, len(cols)),
		ops:  make([]Ops, len(cols)),
	}
	n := -1
	for i, val := range cols {
		if val.Kind() != reflect.Slice || val.Type().Elem() != typ.Out(i) {
			typecheck.Panicf(1, "frame.Of: column %s is %s, not []%s",
				typ.Name(i), val.Type(), typ.Out(i))
		}
		if n < 0 {
			n = val.Len()
		} else if val.Len() != n {
			typecheck.Panicf(1, "frame.Of: inconsistent column lengths")
		}
		f.data[i] = Column(val)
		f.ops[i] = makeSliceOps(typ.Out(i), val)
	}
	return f
}

// Append appends the rows in the frame g to the rows in frame f,
// returning the appended frame. Its semantics matches that of Go's
// builtin append: the returned frame may share underlying storage
// with frame f. Appending to a zero frame adopts g's schema.
func Append(f, g Frame) Frame {
	if f.data == nil {
		f = Frame{
			typ:  g.typ,
			data: make([]Column, len(g.data)),
			ops:  make([]Ops, len(g.data)),
		}
		for i := range f.data {
			f.data[i] = Column(reflect.Zero(g.data[i].Type()))
		}
	}
	for i := range f.data {
		f.data[i] = Column(reflect.AppendSlice(f.data[i].Value(), g.data[i].Value()))
		f.ops[i] = makeSliceOps(f.typ.Out(i), f.data[i].Value())
	}
	return f
}

// Copy copies the frame src to dst. The number of copied rows are
// returned. Copy panics if src is not assignable to dst.
func Copy(dst, src Frame) int {
	var n int
	for i := range dst.data {
		n = reflect.Copy(dst.data[i].Value(), src.data[i].Value())
	}
	return n
}

// Type returns the frame's schema.
func (f Frame) Type() frametype.Type { return f.typ }

// NumOut implements frametype.Type.
func (f Frame) NumOut() int { return len(f.data) }

// Out implements frametype.Type.
func (f Frame) Out(i int) reflect.Type { return f.data[i].ElemType() }

// Name implements frametype.Type.
func (f Frame) Name(i int) string { return f.typ.Name(i) }

// Col returns the ith column of the frame.
func (f Frame) Col(i int) Column { return f.data[i] }

// Value returns the reflect.Value of the ith column slice.
func (f Frame) Value(i int) reflect.Value { return f.data[i].Value() }

// Index returns the value of row j in column i.
func (f Frame) Index(i, j int) reflect.Value { return f.data[i].Index(j) }

// Slice returns a frame with rows i to j, analogous to Go's native
// slice operation.
func (f Frame) Slice(i, j int) Frame {
	if f.data == nil {
		return f
	}
	if i == 0 && j == f.Len() {
		return f
	}
	g := Frame{
		typ:  f.typ,
		data: make([]Column, len(f.data)),
		ops:  make([]Ops, len(f.data)),
	}
	for k := range g.data {
		g.data[k] = f.data[k].Slice(i, j)
		g.ops[k] = makeSliceOps(f.typ.Out(k), g.data[k].Value())
	}
	return g
}

// IsZero tells whether f is the zero frame.
func (f Frame) IsZero() bool {
	return f.data == nil
}

// Len returns the frame's length.
func (f Frame) Len() int {
	if len(f.data) == 0 {
		return 0
	}
	return f.data[0].Len()
}

// Cap returns the frame's capacity.
func (f Frame) Cap() int {
	if len(f.data) == 0 {
		return 0
	}
	return f.data[0].Cap()
}

// Realloc returns a frame with the provided length, returning f if
// it has enough capacity. Note that in the case that Realloc has to
// allocate a new frame, it does not copy the contents of the frame
// f. Realloc can be called on a zero-valued Frame.
func (f Frame) Realloc(typ frametype.Type, len int) Frame {
	if f.data != nil && len <= f.Cap() {
		return f.Slice(0, len)
	}
	return Make(typ, len)
}

// CopyIndex copies row i into the provided slice of column values.
func (f Frame) CopyIndex(row []reflect.Value, i int) {
	for j := range row {
		row[j] = f.data[j].Index(i)
	}
}

// SetIndex sets row i of the frame from the provided column values.
func (f Frame) SetIndex(row []reflect.Value, i int) {
	for j, v := range row {
		f.data[j].Index(i).Set(v)
	}
}

// Float64s returns column i as a []float64, converting fixed-width
// integer and float32 columns element by element. The result aliases
// the column's storage when the column is already a []float64;
// otherwise it is freshly allocated. Float64s panics if the column is
// not numeric.
func (f Frame) Float64s(i int) []float64 {
	col := f.data[i]
	if vs, ok := col.Interface().([]float64); ok {
		return vs
	}
	if !frametype.Numeric(col.ElemType()) {
		typecheck.Panicf(1, "column %s is %s, not numeric", f.Name(i), col.ElemType())
	}
	vs := make([]float64, col.Len())
	switch col.ElemType().Kind() {
	case reflect.Float32:
		for j := range vs {
			vs[j] = col.Index(j).Float()
		}
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		for j := range vs {
			vs[j] = float64(col.Index(j).Uint())
		}
	default:
		for j := range vs {
			vs[j] = float64(col.Index(j).Int())
		}
	}
	return vs
}

// HashWithSeed returns a 32-bit hash of row i, seeded by seed. The
// hash combines every column's hash, chaining each column's result
// into the next column's seed. HashWithSeed panics if a column's type
// has no registered hash operation.
func (f Frame) HashWithSeed(i int, seed uint32) uint32 {
	h := seed
	for j := range f.ops {
		hash := f.ops[j].HashWithSeed
		if hash == nil {
			panic("frame: no hash operation registered for type " + f.Out(j).String())
		}
		h = hash(i, h)
	}
	return h
}

// Hash returns a 32-bit hash of row i. It is used to assign rows to
// partitions when a dependency shuffles without a PartitionFunc.
func (f Frame) Hash(i int) uint32 { return f.HashWithSeed(i, 0) }

// Clear zeros out the frame.
func (f Frame) Clear() {
	for i := range f.data {
		zero.SliceValue(f.data[i].Value())
	}
}

// String returns a descriptive string of the frame.
func (f Frame) String() string {
	elems := make([]string, len(f.data))
	for i := range f.data {
		elems[i] = f.Name(i) + ":" + f.Out(i).String()
	}
	return fmt.Sprintf("frame[%d]%s", f.Len(), strings.Join(elems, ","))
}

// WriteTab writes the frame in tabular format to the provided io.Writer.
func (f Frame) WriteTab(w io.Writer) {
	var tw tabwriter.Writer
	tw.Init(w, 4, 4, 1, ' ', 0)
	names := make([]string, len(f.data))
	for i := range f.data {
		names[i] = f.Name(i)
	}
	fmt.Fprintln(&tw, strings.Join(names, "\t"))
	var (
		row    = make([]reflect.Value, len(f.data))
		values = make([]string, len(f.data))
	)
	for i := 0; i < f.Len(); i++ {
		f.CopyIndex(row, i)
		for j := range row {
			values[j] = fmt.Sprint(row[j])
		}
		fmt.Fprintln(&tw, strings.Join(values, "\t"))
	}
	tw.Flush()
}

// TabString returns a string representing the frame in tabular format.
func (f Frame) TabString() string {
	var b bytes.Buffer
	f.WriteTab(&b)
	return b.String()
}

// Equal tells whether f1 and f2 have equal schemas and (deeply)
// equal columns. Floating point values compare by bit pattern, so
// NaNs compare equal to themselves.
func Equal(f1, f2 Frame) bool {
	if len(f1.data) != len(f2.data) {
		return false
	}
	if f1.data != nil && f2.data != nil && !frametype.Equal(f1.typ, f2.typ) {
		return false
	}
	for i := range f1.data {
		if !columnEqual(f1.data[i], f2.data[i]) {
			return false
		}
	}
	return true
}

func columnEqual(c1, c2 Column) bool {
	if c1.Len() != c2.Len() {
		return false
	}
	switch {
	case c1.ElemType().Kind() == reflect.Float64:
		v1, v2 := c1.Interface().([]float64), c2.Interface().([]float64)
		for i := range v1 {
			if math.Float64bits(v1[i]) != math.Float64bits(v2[i]) {
				return false
			}
		}
		return true
	default:
		return reflect.DeepEqual(c1.Interface(), c2.Interface())
	}
}

// A PartitionFunc assigns a partition in [0, width) to each row of a
// frame. Dependencies that repartition their producer's output
// deterministically carry a PartitionFunc; dependencies without one
// partition by row hash.
type PartitionFunc func(f Frame, row, width int) int
