// Copyright 2018 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package frame

import (
	"fmt"
	"reflect"
	"runtime"
	"sync"

	"github.com/spaolacci/murmur3"
)

var (
	mu        sync.Mutex
	makeOps   = map[reflect.Type]reflect.Value{}
	locations = map[reflect.Type]string{}
	typeOfOps = reflect.TypeOf((*Ops)(nil)).Elem()
)

// Ops represents a set of operations on a single frame column. Ops
// are instantiated from implementations registered with RegisterOps
// and are managed by the frame instance.
//
// Note that not all types may support all operations.
type Ops struct {
	// HashWithSeed computes a 32-bit hash, given a seed, of an index
	// of a slice.
	HashWithSeed func(i int, seed uint32) uint32
}

// RegisterOps registers an ops implementation. The provided argument
// make should be a function of the form
//
//	func(slice []t) Ops
//
// returning operations for a t-typed slice. Columns of type t can
// then participate in row hashing, and thus in hash partitioning.
// RegisterOps panics if the argument does not have the required shape
// or if operations have already been registered for type t.
func RegisterOps(make interface{}) {
	typ := reflect.TypeOf(make)
	check := func(ok bool) {
		if !ok {
			panic("frame.RegisterOps: bad type " + typ.String() + "; expected func([]t) frame.Ops")
		}
	}
	check(typ.Kind() == reflect.Func)
	check(typ.NumIn() == 1 && typ.In(0).Kind() == reflect.Slice)
	check(typ.NumOut() == 1 && typ.Out(0) == typeOfOps)
	elem := typ.In(0).Elem()
	mu.Lock()
	defer mu.Unlock()
	if _, ok := makeOps[elem]; ok {
		location, ok := locations[elem]
		if !ok {
			location = "<unknown>"
		}
		panic("frame.RegisterOps: ops already registered for type " + elem.String() + " at " + location)
	}
	makeOps[elem] = reflect.ValueOf(make)
	if _, file, line, ok := runtime.Caller(1); ok {
		locations[elem] = fmt.Sprintf("%s:%d", file, line)
	}
}

func makeSliceOps(typ reflect.Type, slice reflect.Value) Ops {
	make, ok := makeOps[typ]
	if !ok {
		return Ops{}
	}
	return make.Call([]reflect.Value{slice})[0].Interface().(Ops)
}

// CanHash returns whether values of the provided type can be hashed.
func CanHash(typ reflect.Type) bool {
	return makeSliceOps(typ, reflect.MakeSlice(reflect.SliceOf(typ), 0, 0)).HashWithSeed != nil
}

func init() {
	RegisterOps(func(slice [][]byte) Ops {
		return Ops{
			HashWithSeed: func(i int, seed uint32) uint32 { return murmur3.Sum32WithSeed(slice[i], seed) },
		}
	})
	RegisterOps(func(slice []bool) Ops {
		return Ops{
			HashWithSeed: func(i int, seed uint32) uint32 {
				if slice[i] {
					return seed + 1
				}
				return seed
			},
		}
	})
}
