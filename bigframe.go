// Copyright 2019 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package bigframe

import (
	"context"
	"fmt"
	"reflect"
	"strings"

	"github.com/grailbio/base/errors"
	"github.com/grailbio/base/log"
	"github.com/grailbio/bigframe/frame"
	"github.com/grailbio/bigframe/frameio"
	"github.com/grailbio/bigframe/framefunc"
	"github.com/grailbio/bigframe/frametype"
	"github.com/grailbio/bigframe/typecheck"
)

var typeOfError = reflect.TypeOf((*error)(nil)).Elem()

// DefaultChunkSize is the default size used for IO vectors throughout bigframe.
const defaultChunksize = 1024

var errTypeError = errors.New("type error")

// A Dep is a DataFrame dependency. Deps comprise a dataframe and a
// boolean flag determining whether this represents a shuffle
// dependency. Shuffle dependencies must perform a data shuffle step:
// the dependency must partition its output according to the
// dependent's partition function, and, when the dependent DataFrame
// is computed, the evaluator must pass in Readers that read a single
// partition from all dependency tasks, in task order.
type Dep struct {
	DataFrame
	Shuffle bool
	// Partition overrides how the dependency's output is split among
	// the dependent's partitions. A nil Partition defaults to
	// partitioning by row hash.
	Partition frame.PartitionFunc
	// Ordered requests that the dependency's task outputs be read in
	// task order. Otherwise executors are free to read them in any
	// order, e.g. shuffled to spread cluster read load.
	Ordered bool
}

// A DataFrame is a partitioned, columnar dataset with named, typed
// columns. DataFrames are lazy: building one records an operation;
// a session evaluates it. DataFrames may declare dependencies on
// other dataframes from which they are computed. In order to compute
// a dataframe, its dependencies must first be computed, and their
// resulting Readers are passed to the DataFrame's Reader method.
//
// Since Go does not support generic typing, dataframe combinators
// perform their own dynamic type checking, reporting errors with the
// caller's location via package typecheck.
type DataFrame interface {
	frametype.Type
	// Op is a descriptive name of the operation that this DataFrame
	// represents.
	Op() string

	// NumPart returns the number of partitions in this DataFrame.
	NumPart() int

	// NumDep returns the number of dependencies of this DataFrame.
	NumDep() int
	// Dep returns the i'th dependency for this DataFrame.
	Dep(i int) Dep

	// Reader returns a Reader for a partition of this DataFrame. The
	// reader itself computes the partition's values on demand. The
	// caller must provide Readers for all of this partition's
	// dependencies, constructed according to the dependency type (see
	// Dep).
	Reader(part int, deps []frameio.Reader) frameio.Reader
}

// A Series is a DataFrame with a series schema: a key column named
// "key" and a float64 column named "value". Reductions return Series;
// the key identifies what was reduced (column names for column
// reductions, global row numbers for row reductions).
type Series interface {
	DataFrame
	// Key returns the type of the series key column.
	Key() reflect.Type
}

// A Col names the values of one column for Const.
type Col struct {
	Name   string
	Values interface{}
}

type constFrame struct {
	frametype.Type
	frame frame.Frame
	npart int
}

// Const returns a DataFrame representing the provided columns. Each
// column is provided as a Col naming a Go slice of the column's type.
// The data are split into npart partitions, preserving row order
// across partitions.
func Const(npart int, cols ...Col) DataFrame {
	if len(cols) == 0 {
		typecheck.Panic(1, "const: must have at least one column")
	}
	c := new(constFrame)
	c.npart = npart
	if c.npart < 1 {
		typecheck.Panic(1, "const: npart must be >= 1")
	}
	names := make([]string, len(cols))
	values := make([]interface{}, len(cols))
	for i, col := range cols {
		names[i], values[i] = col.Name, col.Values
	}
	var ok bool
	c.Type, ok = typecheck.Columns(names, values...)
	if !ok {
		typecheck.Panic(1, "const: invalid column inputs")
	}
	c.frame = frame.Columns(names, values...)
	return c
}

func (*constFrame) Op() string     { return "const" }
func (c *constFrame) NumPart() int { return c.npart }
func (*constFrame) NumDep() int    { return 0 }
func (*constFrame) Dep(i int) Dep  { panic("no deps") }

type constReader struct {
	op    *constFrame
	frame frame.Frame
}

func (c *constReader) Read(ctx context.Context, out frame.Frame) (int, error) {
	if !frametype.Assignable(c.op, out) {
		return 0, errTypeError
	}
	n := frame.Copy(out, c.frame)
	m := c.frame.Len()
	c.frame = c.frame.Slice(n, m)
	if m == 0 {
		return n, frameio.EOF
	}
	return n, nil
}

func (c *constFrame) Reader(part int, deps []frameio.Reader) frameio.Reader {
	n := c.frame.Len()
	if n == 0 {
		return frameio.EmptyReader{}
	}
	// The last partitions get truncated when the data cannot be split
	// evenly.
	partn := (n / c.npart) + 1
	beg := partn * part
	end := beg + partn
	if beg >= n {
		return frameio.EmptyReader{}
	}
	if end >= n {
		end = n
	}
	return &constReader{op: c, frame: c.frame.Slice(beg, end)}
}

type readerFuncFrame struct {
	frametype.Type
	npart     int
	read      framefunc.Func
	stateType reflect.Type
}

// ReaderFunc returns a DataFrame with the provided schema that uses
// the function read to produce data. The function must be of the form:
//
//	func(part int, state stateType, col1 []col1Type, ..., colN []colNType) (int, error)
//
// where colIType is the element type of the schema's i'th column. An
// optional leading context.Context parameter receives the evaluation
// context.
//
// The function is invoked to fill a vector of elements. col1, ...,
// colN are preallocated slices that should be filled by the reader
// function. The function should return the number of elements that
// were filled. The error frameio.EOF should be returned when no more
// data are available.
//
// ReaderFunc provides the function with a zero-value state upon the
// first invocation of the function for a given partition. (If the
// state argument is a pointer, it is allocated.) Subsequent
// invocations of the function receive the same state value, thus
// permitting the reader to maintain local state across the read of a
// whole partition.
func ReaderFunc(npart int, typ frametype.Type, read interface{}) DataFrame {
	r := new(readerFuncFrame)
	r.Type = typ
	r.npart = npart
	fn, ok := framefunc.Of(read)
	if !ok || fn.In.NumOut() < 3 || fn.In.Out(0).Kind() != reflect.Int {
		typecheck.Panicf(1, "readerfunc: invalid reader function type %T", read)
	}
	if fn.Out.NumOut() != 2 || fn.Out.Out(0).Kind() != reflect.Int || fn.Out.Out(1) != typeOfError {
		typecheck.Panicf(1, "readerfunc: function %T does not return (int, error)", read)
	}
	r.stateType = fn.In.Out(1)
	arg, ok := typecheck.Devectorize(frametype.Slice(fn.In, 2, fn.In.NumOut()))
	if !ok {
		typecheck.Panicf(1, "readerfunc: function %T is not vectorized", read)
	}
	if !frametype.Assignable(typ, arg) {
		typecheck.Panicf(1, "readerfunc: function %T does not match schema %s", read, frametype.String(typ))
	}
	r.read = fn
	return r
}

func (*readerFuncFrame) Op() string     { return "reader" }
func (r *readerFuncFrame) NumPart() int { return r.npart }
func (*readerFuncFrame) NumDep() int    { return 0 }
func (*readerFuncFrame) Dep(i int) Dep  { panic("no deps") }

// emptyReadWarn is the number of consecutive empty reads after which
// readerFuncReader warns that the function may have forgotten to
// return frameio.EOF.
const emptyReadWarn = 128

type readerFuncReader struct {
	op    *readerFuncFrame
	state reflect.Value
	part  int
	err   error

	consecutiveEmpty int
}

func (r *readerFuncReader) Read(ctx context.Context, out frame.Frame) (n int, err error) {
	if r.err != nil {
		return 0, r.err
	}
	if !frametype.Assignable(out, r.op) {
		return 0, errTypeError
	}
	// Initialize state (on first call)
	if !r.state.IsValid() {
		if r.op.stateType.Kind() == reflect.Ptr {
			r.state = reflect.New(r.op.stateType.Elem())
		} else {
			r.state = reflect.Zero(r.op.stateType)
		}
	}
	args := make([]reflect.Value, 0, out.NumOut()+2)
	args = append(args, reflect.ValueOf(r.part), r.state)
	for i := 0; i < out.NumOut(); i++ {
		args = append(args, out.Value(i))
	}
	rvs := r.op.read.Call(ctx, args)
	n = int(rvs[0].Int())
	if e := rvs[1].Interface(); e != nil {
		if err := e.(error); err == frameio.EOF || errors.Recover(err).Severity != errors.Unknown {
			r.err = err
		} else {
			// We consider all application-generated errors as Fatal unless marked otherwise.
			r.err = errors.E(errors.Fatal, err)
		}
	}
	if n == 0 && r.err == nil {
		if r.consecutiveEmpty++; r.consecutiveEmpty == emptyReadWarn {
			log.Error.Printf("warning: reader func returned empty vector %d times in a row; did you forget to return frameio.EOF?", emptyReadWarn)
		}
	} else {
		r.consecutiveEmpty = 0
	}
	return n, r.err
}

func (r *readerFuncFrame) Reader(part int, deps []frameio.Reader) frameio.Reader {
	return &readerFuncReader{op: r, part: part}
}

// String returns a string describing the dataframe and its schema.
func String(df DataFrame) string {
	elems := make([]string, df.NumOut())
	for i := range elems {
		elems[i] = df.Name(i) + ":" + df.Out(i).String()
	}
	return fmt.Sprintf("%s<%s>", df.Op(), strings.Join(elems, ", "))
}

func singleDep(i int, df DataFrame, shuffle bool) Dep {
	if i != 0 {
		panic(fmt.Sprintf("invalid dependency %d", i))
	}
	return Dep{DataFrame: df, Shuffle: shuffle}
}

// gatherPartition assigns every row to partition 0; it implements the
// full gathers used by Head, row renumbering, and the fallback
// reduction path. Gathered rows arrive in task order, so gathers
// preserve global row order.
func gatherPartition(frame.Frame, int, int) int { return 0 }
