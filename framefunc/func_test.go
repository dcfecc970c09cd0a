// Copyright 2019 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package framefunc

import (
	"context"
	"reflect"
	"testing"
)

func call(t *testing.T, f Func, ctx context.Context, args ...interface{}) reflect.Value {
	t.Helper()
	argv := make([]reflect.Value, len(args))
	for i, arg := range args {
		argv[i] = reflect.ValueOf(arg)
	}
	rv := f.Call(ctx, argv)
	if got, want := len(rv), 1; got != want {
		t.Fatalf("got %v results, want %v", got, want)
	}
	return rv[0]
}

func TestOf(t *testing.T) {
	ctx := context.Background()
	f, ok := Of(func(x, y float64) float64 { return x * y })
	if !ok {
		t.Fatal("rejected valid func")
	}
	if f.IsVariadic {
		t.Error("func wrongly marked variadic")
	}
	if got, want := f.In.NumOut(), 2; got != want {
		t.Errorf("got %v args, want %v", got, want)
	}
	if got, want := call(t, f, ctx, 3.0, 4.0).Float(), 12.0; got != want {
		t.Errorf("got %v, want %v", got, want)
	}
}

func TestOfContext(t *testing.T) {
	ctx := context.Background()
	f, ok := Of(func(fnctx context.Context, x int) bool { return fnctx == ctx && x == 7 })
	if !ok {
		t.Fatal("rejected valid func")
	}
	// The context parameter is hidden from the argument schema.
	if got, want := f.In.NumOut(), 1; got != want {
		t.Errorf("got %v args, want %v", got, want)
	}
	if !call(t, f, ctx, 7).Bool() {
		t.Error("context or argument not passed through")
	}
}

func TestOfInvalid(t *testing.T) {
	for _, bad := range []interface{}{nil, 42, "fn", struct{}{}} {
		if _, ok := Of(bad); ok {
			t.Errorf("accepted %T as a func", bad)
		}
	}
}

func TestIsNil(t *testing.T) {
	if !Nil.IsNil() {
		t.Error("Nil is not nil")
	}
	f, _ := Of(func() {})
	if f.IsNil() {
		t.Error("valid func reported nil")
	}
}
