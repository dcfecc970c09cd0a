// Copyright 2018 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package typecheck

import (
	"reflect"
	"testing"

	"github.com/grailbio/bigframe/framefunc"
	"github.com/grailbio/bigframe/frametype"
)

var (
	typeOfString = reflect.TypeOf("")
	typeOfInt    = reflect.TypeOf(0)
)

func schema(fields ...frametype.Field) frametype.Type { return frametype.New(fields...) }

func TestEqual(t *testing.T) {
	for _, c := range []struct{ t1, t2 frametype.Type }{
		{schema(frametype.Field{Name: "a", Type: typeOfString}), schema()},
		{
			schema(frametype.Field{Name: "a", Type: typeOfInt}, frametype.Field{Name: "b", Type: typeOfString}),
			schema(frametype.Field{Name: "a", Type: typeOfString}, frametype.Field{Name: "b", Type: typeOfInt}),
		},
		{
			schema(frametype.Field{Name: "a", Type: typeOfInt}),
			schema(frametype.Field{Name: "b", Type: typeOfInt}),
		},
	} {
		if Equal(c.t1, c.t2) {
			t.Errorf("types %s and %s are equal", frametype.String(c.t1), frametype.String(c.t2))
		}
	}
	for _, typ := range []frametype.Type{
		schema(frametype.Field{Name: "a", Type: typeOfString}),
		schema(frametype.Field{Name: "a", Type: typeOfInt}, frametype.Field{Name: "b", Type: typeOfString}),
		schema(),
	} {
		if !Equal(typ, typ) {
			t.Errorf("type %s not equal to itself", frametype.String(typ))
		}
	}
}

func TestColumns(t *testing.T) {
	typ, ok := Columns([]string{"n", "s"}, []int{1, 2, 3}, []string{"a", "b", "c"})
	if !ok {
		t.Fatal("!ok")
	}
	if got, want := frametype.String(typ), "frame[n:int, s:string]"; got != want {
		t.Fatalf("got %v, want %v", got, want)
	}

	_, ok = Columns([]string{"n", "s"}, []int{1, 2, 3}, "ok")
	if ok {
		t.Error("ok")
	}
	_, ok = Columns([]string{"n"}, []int{1}, []int{2})
	if ok {
		t.Error("ok")
	}
}

func TestDevectorize(t *testing.T) {
	tvec := schema(
		frametype.Field{Name: "s", Type: reflect.SliceOf(typeOfString)},
		frametype.Field{Name: "n", Type: reflect.SliceOf(typeOfInt)},
	)
	tunvec, ok := Devectorize(tvec)
	if !ok {
		t.Fatal("!ok")
	}
	want := schema(frametype.Field{Name: "s", Type: typeOfString}, frametype.Field{Name: "n", Type: typeOfInt})
	if !Equal(want, tunvec) {
		t.Errorf("got %v, want %v", frametype.String(tunvec), frametype.String(want))
	}

	tvec = schema(frametype.Field{Name: "s", Type: typeOfString})
	_, ok = Devectorize(tvec)
	if ok {
		t.Error("ok")
	}
}

func TestCanApply(t *testing.T) {
	fn, ok := framefunc.Of(func(x int, s string) bool { return false })
	if !ok {
		t.Fatal("!ok")
	}
	arg := schema(frametype.Field{Name: "n", Type: typeOfInt}, frametype.Field{Name: "s", Type: typeOfString})
	if !CanApply(fn, arg) {
		t.Errorf("cannot apply %s to %s", frametype.Signature(fn.In, fn.Out), frametype.String(arg))
	}
	if CanApply(fn, schema(frametype.Field{Name: "n", Type: typeOfInt})) {
		t.Error("applied with missing argument")
	}

	vfn, ok := framefunc.Of(func(x int, rest ...string) bool { return false })
	if !ok {
		t.Fatal("!ok")
	}
	varg := schema(
		frametype.Field{Name: "n", Type: typeOfInt},
		frametype.Field{Name: "s", Type: typeOfString},
		frametype.Field{Name: "t", Type: typeOfString},
	)
	if !CanApply(vfn, varg) {
		t.Errorf("cannot apply variadic %s to %s", frametype.Signature(vfn.In, vfn.Out), frametype.String(varg))
	}
	if CanApply(vfn, schema(frametype.Field{Name: "n", Type: typeOfInt}, frametype.Field{Name: "m", Type: typeOfInt})) {
		t.Error("applied with variadic mismatch")
	}
}

func TestCanReduce(t *testing.T) {
	if CanReduce(schema(frametype.Field{Name: "s", Type: typeOfString})) {
		t.Error("reduced all-string schema")
	}
	if !CanReduce(schema(frametype.Field{Name: "s", Type: typeOfString}, frametype.Field{Name: "n", Type: typeOfInt})) {
		t.Error("cannot reduce schema with numeric column")
	}
}
