// Copyright 2019 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

// Package framefunc provides types and code to call user-defined functions
// with Bigframe.
package framefunc

import (
	"context"
	"reflect"

	"github.com/grailbio/bigframe/frametype"
)

// Nil is a nil Func.
var Nil Func

var typeOfContext = reflect.TypeOf((*context.Context)(nil)).Elem()

// Func represents a user-defined function within Bigframe. Currently it's a
// simple shim that's used to determine whether a context should be supplied to
// the callee.
//
// TODO(marius): Evolve this abstraction over time to avoid the use of
// reflection. For example, we can generate (via a template) code for
// invocations on common types. Having this abstraction in place makes this
// possible to do without changing any of the callers.
type Func struct {
	// In and Out represent the schema of the function's input and output,
	// respectively. Function parameters and results carry no column names;
	// Name returns "" for every index.
	In, Out frametype.Type
	// IsVariadic is whether the function's final parameter is variadic. If it
	// is, In.Out(In.NumOut()-1) returns the parameter's implicit actual slice
	// type. For example, if this represents func(x int, y ...string):
	//
	//  fn.In.NumOut() == 2
	//  fn.In.Out(0) is the reflect.Type for "int"
	//  fn.In.Out(1) is the reflect.Type for "[]string"
	//  fn.IsVariadic == true
	IsVariadic  bool
	fn          reflect.Value
	contextFunc bool
}

// argTypes is a name-less frametype.Type over raw column types.
type argTypes []reflect.Type

func (t argTypes) NumOut() int            { return len(t) }
func (t argTypes) Out(i int) reflect.Type { return t[i] }
func (argTypes) Name(i int) string        { return "" }

type funcResultType struct {
	reflect.Type
}

func (funcResultType) Name(i int) string { return "" }

// Of creates a Func from the provided function, along with a bool indicating
// whether fn is a valid function. If it is not, the returned Func is invalid.
// A function whose first parameter is a context.Context receives the
// evaluation context of the task invoking it.
func Of(fn interface{}) (Func, bool) {
	t := reflect.TypeOf(fn)
	if t == nil {
		return Func{}, false
	}
	if t.Kind() != reflect.Func {
		return Func{}, false
	}
	in := make([]reflect.Type, t.NumIn())
	for i := range in {
		in[i] = t.In(i)
	}
	context := len(in) > 0 && in[0] == typeOfContext
	if context {
		in = in[1:]
	}
	return Func{
		In:          argTypes(in),
		Out:         funcResultType{t},
		IsVariadic:  t.IsVariadic(),
		fn:          reflect.ValueOf(fn),
		contextFunc: context,
	}, true
}

// Call invokes the function with the provided arguments, and returns the
// reflected return values.
func (f Func) Call(ctx context.Context, args []reflect.Value) []reflect.Value {
	if f.contextFunc {
		return f.fn.Call(append([]reflect.Value{reflect.ValueOf(ctx)}, args...))
	}
	return f.fn.Call(args)
}

// IsNil returns whether the Func f is nil.
func (f Func) IsNil() bool {
	return f.fn == reflect.Value{}
}
