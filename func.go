// Copyright 2019 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package bigframe

import (
	"encoding/gob"
	"fmt"
	"reflect"
	"runtime"
	"sync/atomic"

	"github.com/grailbio/bigframe/typecheck"
)

func init() {
	gob.Register([]interface{}{})
}

var typeOfDataFrame = reflect.TypeOf((*DataFrame)(nil)).Elem()

var (
	// Funcs is the global registry of funcs. We rely on deterministic
	// registration order. (This is guaranteed by Go's variable
	// initialization for a single compiler, which is sufficient for our
	// use.) It would definitely be nice to have a nicer way of doing
	// this (without the overhead of users minting their own names).
	funcs []*FuncValue
	// FuncsBusy is used to detect data races in registration.
	funcsBusy int32
)

// A FuncValue represents a Bigframe function, as returned by Func.
type FuncValue struct {
	fn    reflect.Value
	args  []reflect.Type
	index int
	file  string
	line  int
}

// NumIn returns the number of input arguments to f.
func (f *FuncValue) NumIn() int { return len(f.args) }

// In returns the i'th argument type of function f.
func (f *FuncValue) In(i int) reflect.Type { return f.args[i] }

// Location returns the file and line number at which f was created.
func (f *FuncValue) Location() (file string, line int) {
	return f.file, f.line
}

// Invocation creates an invocation representing the function f
// applied to the provided arguments from the provided location.
// Invocation panics with a type error if the provided arguments do
// not match in type or arity.
func (f *FuncValue) Invocation(location string, args ...interface{}) Invocation {
	f.typecheck(args...)
	return newInvocation(location, uint64(f.index), args...)
}

// Apply invokes the function f with the provided arguments,
// returning the computed DataFrame. Apply panics with a type error if
// argument type or arity do not match.
func (f *FuncValue) Apply(args ...interface{}) DataFrame {
	f.typecheck(args...)
	argv := make([]reflect.Value, len(args))
	for i := range argv {
		if args[i] == nil {
			// Untyped nils are passed as the zero value of the declared
			// argument type; typecheck has verified that the type is
			// nilable.
			argv[i] = reflect.Zero(f.args[i])
		} else {
			argv[i] = reflect.ValueOf(args[i])
		}
	}
	out := f.fn.Call(argv)
	return out[0].Interface().(DataFrame)
}

func (f *FuncValue) typecheck(args ...interface{}) {
	if len(args) != len(f.args) {
		typecheck.Panicf(2, "wrong number of arguments: function takes %d arguments, got %d",
			len(f.args), len(args))
	}
	for i := range args {
		expect := f.args[i]
		if args[i] == nil {
			if !canBeNil(expect) {
				typecheck.Panicf(2, "wrong type for argument %d: nil is not a valid %s", i, expect)
			}
			continue
		}
		have := reflect.TypeOf(args[i])
		switch expect.Kind() {
		case reflect.Interface:
			if !have.Implements(expect) {
				typecheck.Panicf(2, "wrong type for argument %d: type %s does not implement interface %s", i, have, expect)
			}
		default:
			if have != expect {
				typecheck.Panicf(2, "wrong type for argument %d: expected %s, got %s", i, expect, have)
			}
		}
	}
}

// canBeNil tells whether a value of the provided type can be nil.
func canBeNil(typ reflect.Type) bool {
	switch typ.Kind() {
	case reflect.Chan, reflect.Func, reflect.Interface,
		reflect.Map, reflect.Ptr, reflect.Slice, reflect.UnsafePointer:
		return true
	}
	return false
}

// Func creates a bigframe function from the provided function value.
// Bigframe funcs must return a single DataFrame value. Funcs provide
// bigframe with a means of dynamic abstraction: since Funcs can be
// invoked remotely, dynamically created dataframes may be named
// across process boundaries.
func Func(fn interface{}) *FuncValue {
	fv := reflect.ValueOf(fn)
	ftype := fv.Type()
	if ftype.Kind() != reflect.Func {
		typecheck.Panicf(1, "bigframe.Func: argument to func is a %T, not a func", fn)
	}
	if ftype.NumOut() != 1 || ftype.Out(0) != typeOfDataFrame {
		typecheck.Panicf(1, "bigframe.Func: func must return a single bigframe.DataFrame")
	}
	v := new(FuncValue)
	v.fn = fv
	for i := 0; i < ftype.NumIn(); i++ {
		typ := ftype.In(i)
		v.args = append(v.args, typ)
		if typ.Kind() != reflect.Interface {
			gob.Register(reflect.Zero(typ).Interface())
		}
	}
	v.file = "<unknown>"
	if _, file, line, ok := runtime.Caller(1); ok {
		v.file, v.line = file, line
	}
	if atomic.AddInt32(&funcsBusy, 1) != 1 {
		panic("bigframe.Func: data race")
	}
	v.index = len(funcs)
	funcs = append(funcs, v)
	if atomic.AddInt32(&funcsBusy, -1) != 0 {
		panic("bigframe.Func: data race")
	}
	return v
}

// FuncLocations returns a slice of strings that describe the
// locations of Func creation, in order of registration. We use this
// to verify that worker processes have the same Funcs as the driver.
// Note that this is not a precise check, as it is possible to define
// multiple Funcs on the same line, but it makes it much less likely
// that we will run with mismatched Func registries.
func FuncLocations() []string {
	locs := make([]string, len(funcs))
	for i, f := range funcs {
		locs[i] = fmt.Sprintf("%s:%d", f.file, f.line)
	}
	return locs
}

// FuncLocationsDiff returns a slice of strings that describes the
// difference between the two slices of locations, as returned by
// FuncLocations. Strings prefixed with "+ " exist only in rhs, and
// strings prefixed with "- " exist only in lhs; the rest are common
// to both. If the slices are identical, FuncLocationsDiff returns
// nil. We use this to diagnose mismatched Func registries between
// driver and worker processes.
func FuncLocationsDiff(lhs, rhs []string) []string {
	// Compute the longest common subsequence of lhs and rhs, then emit
	// the edits needed to transform lhs into rhs around it.
	table := make([][]int, len(lhs)+1)
	for i := range table {
		table[i] = make([]int, len(rhs)+1)
	}
	for i := len(lhs) - 1; i >= 0; i-- {
		for j := len(rhs) - 1; j >= 0; j-- {
			switch {
			case lhs[i] == rhs[j]:
				table[i][j] = table[i+1][j+1] + 1
			case table[i+1][j] >= table[i][j+1]:
				table[i][j] = table[i+1][j]
			default:
				table[i][j] = table[i][j+1]
			}
		}
	}
	var (
		diff   []string
		edited bool
		i, j   int
	)
	for i < len(lhs) && j < len(rhs) {
		switch {
		case lhs[i] == rhs[j]:
			diff = append(diff, lhs[i])
			i++
			j++
		case table[i+1][j] >= table[i][j+1]:
			diff = append(diff, "- "+lhs[i])
			i++
			edited = true
		default:
			diff = append(diff, "+ "+rhs[j])
			j++
			edited = true
		}
	}
	for ; i < len(lhs); i++ {
		diff = append(diff, "- "+lhs[i])
		edited = true
	}
	for ; j < len(rhs); j++ {
		diff = append(diff, "+ "+rhs[j])
		edited = true
	}
	if !edited {
		return nil
	}
	return diff
}

// Invocation represents an invocation of a Bigframe func of the same
// binary. Invocations can be transmitted across process boundaries
// and thus may be invoked by remote executors.
//
// Each invocation carries an invocation index, which is a unique index
// for invocations within a process namespace. It can thus be used to
// represent a particular function invocation from a driver process.
//
// Invocations must be created by newInvocation.
type Invocation struct {
	Index    uint64
	Func     uint64
	Args     []interface{}
	Location string
}

var invocationIndex uint64

func newInvocation(location string, fn uint64, args ...interface{}) Invocation {
	return Invocation{
		Index:    atomic.AddUint64(&invocationIndex, 1),
		Func:     fn,
		Args:     args,
		Location: location,
	}
}

// Invoke performs the Func invocation represented by this Invocation
// instance, returning the resulting dataframe. Untyped nil arguments
// are passed as the zero value of the corresponding argument type.
func (i Invocation) Invoke() DataFrame {
	return funcs[i.Func].Apply(i.Args...)
}
