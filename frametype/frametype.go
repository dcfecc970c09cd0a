// Copyright 2019 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

// Package frametype implements data types and utilities to describe
// Bigframe schemas: DataFrames, Frames, and Tasks all carry
// frametype.Types, which attach a column name to each column's
// element type.
package frametype

import (
	"fmt"
	"reflect"
	"strings"
)

// A Field describes one named column.
type Field struct {
	Name string
	Type reflect.Type
}

func (f Field) String() string { return f.Name + ":" + f.Type.String() }

// A Type is the schema of a set of named columns.
type Type interface {
	// NumOut returns the number of columns.
	NumOut() int
	// Out returns the data type of the ith column.
	Out(i int) reflect.Type
	// Name returns the name of the ith column.
	Name(i int) string
}

type fieldSlice []Field

// New returns a new Type using the provided fields. Column names must
// be unique within a schema; New panics if a name is repeated.
func New(fields ...Field) Type {
	seen := make(map[string]bool, len(fields))
	for _, f := range fields {
		if seen[f.Name] {
			panic(fmt.Sprintf("frametype.New: duplicate column %q", f.Name))
		}
		seen[f.Name] = true
	}
	return fieldSlice(fields)
}

func (t fieldSlice) NumOut() int            { return len(t) }
func (t fieldSlice) Out(i int) reflect.Type { return t[i].Type }
func (t fieldSlice) Name(i int) string      { return t[i].Name }

// Fields returns a slice of fields from the provided type.
func Fields(typ Type) []Field {
	if fields, ok := typ.(fieldSlice); ok {
		return fields
	}
	out := make([]Field, typ.NumOut())
	for i := range out {
		out[i] = Field{typ.Name(i), typ.Out(i)}
	}
	return out
}

// Columns returns a slice of column types from the provided type.
func Columns(typ Type) []reflect.Type {
	out := make([]reflect.Type, typ.NumOut())
	for i := range out {
		out[i] = typ.Out(i)
	}
	return out
}

// Assignable reports whether columns of type in can be assigned to
// columns of type out. Names do not participate; use Equal to compare
// full schemas.
func Assignable(in, out Type) bool {
	if in.NumOut() != out.NumOut() {
		return false
	}
	for i := 0; i < in.NumOut(); i++ {
		if !in.Out(i).AssignableTo(out.Out(i)) {
			return false
		}
	}
	return true
}

// Equal reports whether the two schemas have the same column names and
// types, in the same order.
func Equal(t, u Type) bool {
	if t.NumOut() != u.NumOut() {
		return false
	}
	for i := 0; i < t.NumOut(); i++ {
		if t.Name(i) != u.Name(i) || t.Out(i) != u.Out(i) {
			return false
		}
	}
	return true
}

// Index returns the column index of the named column in typ, or -1 if
// typ has no column with that name.
func Index(typ Type, name string) int {
	for i := 0; i < typ.NumOut(); i++ {
		if typ.Name(i) == name {
			return i
		}
	}
	return -1
}

// Select returns the schema comprising the named columns of typ, in
// the order given, together with the index in typ of each selected
// column. Select returns an error naming the first column that is not
// present in typ.
func Select(typ Type, names ...string) (Type, []int, error) {
	fields := make([]Field, len(names))
	indices := make([]int, len(names))
	for i, name := range names {
		j := Index(typ, name)
		if j < 0 {
			return nil, nil, fmt.Errorf("no column %q in %s", name, String(typ))
		}
		fields[i] = Field{name, typ.Out(j)}
		indices[i] = j
	}
	return New(fields...), indices, nil
}

// Numeric reports whether values of type t participate in reductions:
// the floating point and fixed-width integer kinds.
func Numeric(t reflect.Type) bool {
	switch t.Kind() {
	case reflect.Float32, reflect.Float64,
		reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64,
		reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return true
	}
	return false
}

// NumericColumns returns the indices of typ's numeric columns, in
// schema order.
func NumericColumns(typ Type) []int {
	var cols []int
	for i := 0; i < typ.NumOut(); i++ {
		if Numeric(typ.Out(i)) {
			cols = append(cols, i)
		}
	}
	return cols
}

// Concat returns the concatenation of the provided schemas. Concat
// panics if the combined schema repeats a column name.
func Concat(types ...Type) Type {
	var fields []Field
	for _, typ := range types {
		fields = append(fields, Fields(typ)...)
	}
	return New(fields...)
}

type sliceType struct {
	t    Type
	i, j int
}

func (s sliceType) NumOut() int { return s.j - s.i }

func (s sliceType) Out(i int) reflect.Type {
	if i >= s.NumOut() {
		panic("invalid index")
	}
	return s.t.Out(s.i + i)
}

func (s sliceType) Name(i int) string {
	if i >= s.NumOut() {
		panic("invalid index")
	}
	return s.t.Name(s.i + i)
}

// Slice returns the schema of typ's columns in the range [i, j).
func Slice(typ Type, i, j int) Type {
	if i < 0 || i > typ.NumOut() || j < i || j > typ.NumOut() {
		panic("slice: invalid argument")
	}
	return sliceType{typ, i, j}
}

func String(typ Type) string {
	elems := make([]string, typ.NumOut())
	for i := range elems {
		elems[i] = typ.Name(i) + ":" + typ.Out(i).String()
	}
	return fmt.Sprintf("frame[%s]", strings.Join(elems, ", "))
}

var typeOfFloat64 = reflect.TypeOf(float64(0))

// SeriesOf returns the schema of a series keyed by the provided type:
// a "key" column of that type and a float64 "value" column. Reductions
// over columns produce string-keyed series; reductions over rows
// produce int64-keyed ones.
func SeriesOf(key reflect.Type) Type {
	return New(Field{"key", key}, Field{"value", typeOfFloat64})
}

// IsSeries reports whether typ is a series schema as produced by
// SeriesOf.
func IsSeries(typ Type) bool {
	return typ.NumOut() == 2 &&
		typ.Name(0) == "key" && typ.Name(1) == "value" &&
		typ.Out(1) == typeOfFloat64
}

// Signature returns a Go function signature for a function that takes
// the provided arguments and returns the provided values.
func Signature(arg, ret Type) string {
	args := make([]string, arg.NumOut())
	for i := range args {
		args[i] = arg.Out(i).String()
	}
	rets := make([]string, ret.NumOut())
	for i := range rets {
		rets[i] = ret.Out(i).String()
	}
	var b strings.Builder
	b.WriteString("func(")
	b.WriteString(strings.Join(args, ", "))
	b.WriteString(")")
	switch len(rets) {
	case 0:
	case 1:
		b.WriteString(" ")
		b.WriteString(rets[0])
	default:
		b.WriteString(" (")
		b.WriteString(strings.Join(rets, ", "))
		b.WriteString(")")
	}
	return b.String()
}
