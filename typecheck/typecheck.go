// Copyright 2018 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

// Package typecheck contains schema checking and inference utilities
// for bigframe operators.
package typecheck

import (
	"reflect"

	"github.com/grailbio/bigframe/framefunc"
	"github.com/grailbio/bigframe/frametype"
)

// Equal tells whether the expected and actual schemas are equal:
// same column names and types, in the same order.
func Equal(expect, actual frametype.Type) bool {
	return frametype.Equal(expect, actual)
}

// Columns returns the schema described by the provided names and
// column values. Each value must be a slice; its element type becomes
// the column type. Columns returns false if the arities disagree or a
// value is not a valid column value.
func Columns(names []string, values ...interface{}) (frametype.Type, bool) {
	if len(names) != len(values) {
		return nil, false
	}
	fields := make([]frametype.Field, len(values))
	for i, col := range values {
		t := reflect.TypeOf(col)
		if t == nil || t.Kind() != reflect.Slice {
			return nil, false
		}
		fields[i] = frametype.Field{Name: names[i], Type: t.Elem()}
	}
	return frametype.New(fields...), true
}

// Devectorize returns a devectorized version of the provided schema:
// each of the type's columns is expected to be a slice; the returned
// type unwraps the slice from each column, keeping column names. If
// the provided type is not a valid vectorized schema, false is
// returned.
func Devectorize(typ frametype.Type) (frametype.Type, bool) {
	fields := make([]frametype.Field, typ.NumOut())
	for i := 0; i < typ.NumOut(); i++ {
		t := typ.Out(i)
		if t.Kind() != reflect.Slice {
			return nil, false
		}
		fields[i] = frametype.Field{Name: typ.Name(i), Type: t.Elem()}
	}
	return frametype.New(fields...), true
}

// CanApply returns whether fn can be applied to columns of type arg.
func CanApply(fn framefunc.Func, arg frametype.Type) bool {
	if fn.IsVariadic {
		if arg.NumOut() < fn.In.NumOut()-1 {
			// Not enough arguments.
			return false
		}
		for i := 0; i < fn.In.NumOut()-1; i++ {
			if !arg.Out(i).AssignableTo(fn.In.Out(i)) {
				// Non-variadic mismatch.
				return false
			}
		}
		variadicType := fn.In.Out(fn.In.NumOut() - 1).Elem()
		for i := fn.In.NumOut() - 1; i < arg.NumOut(); i++ {
			if !arg.Out(i).AssignableTo(variadicType) {
				// Variadic mismatch.
				return false
			}
		}
		return true
	}
	if arg.NumOut() != fn.In.NumOut() {
		return false
	}
	for i := 0; i < fn.In.NumOut(); i++ {
		if !arg.Out(i).AssignableTo(fn.In.Out(i)) {
			return false
		}
	}
	return true
}

// CanReduce returns whether the schema typ has at least one numeric
// column and can thus participate in column reductions.
func CanReduce(typ frametype.Type) bool {
	return len(frametype.NumericColumns(typ)) > 0
}
