// Copyright 2018 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package frameio

import (
	"context"
	"errors"
	"reflect"
	"testing"

	fuzz "github.com/google/gofuzz"
	"github.com/grailbio/bigframe/frame"
)

func TestFrameReader(t *testing.T) {
	const N = 1000
	var (
		fz  = fuzz.NewWithSeed(12345)
		f   = fuzzFrame(fz, N, typeOfString)
		r   = FrameReader(f)
		out = frame.Make(f.Type(), N)
		ctx = context.Background()
	)
	n, err := ReadFull(ctx, r, out)
	if err != nil && err != EOF {
		t.Fatal(err)
	}
	if got, want := n, N; got != want {
		t.Fatalf("got %v, want %v", got, want)
	}
	if err == nil {
		n, err := ReadFull(ctx, r, frame.Make(f.Type(), 1))
		if got, want := err, EOF; got != want {
			t.Errorf("got %v, want %v", got, want)
		}
		if got, want := n, 0; got != want {
			t.Errorf("got %v, want %v", got, want)
		}
	}

	if !reflect.DeepEqual(f.Value(0).Interface().([]string), out.Value(0).Interface().([]string)) {
		t.Error("frames do not match")
	}
}

func TestMultiReaderOrder(t *testing.T) {
	var (
		ctx = context.Background()
		f1  = frame.Columns([]string{"n"}, []int{1, 2})
		f2  = frame.Columns([]string{"n"}, []int{3})
		f3  = frame.Columns([]string{"n"}, []int{4, 5})
		r   = MultiReader(FrameReader(f1), EmptyReader{}, FrameReader(f2), FrameReader(f3))
	)
	var ns []int
	if err := ReadAll(ctx, r, &ns); err != nil {
		t.Fatal(err)
	}
	// Concatenation follows argument order.
	if got, want := ns, []int{1, 2, 3, 4, 5}; !reflect.DeepEqual(got, want) {
		t.Errorf("got %v, want %v", got, want)
	}
}

func TestErrReader(t *testing.T) {
	err := errors.New("test error")
	r := MultiReader(FrameReader(frame.Columns([]string{"n"}, []int{1})), ErrReader(err))
	var ns []int
	if got, want := ReadAll(context.Background(), r, &ns), err; got != want {
		t.Errorf("got %v, want %v", got, want)
	}
}

// FuzzFrame creates a fuzzed frame of length n, where columns
// have the provided types.
func fuzzFrame(fz *fuzz.Fuzzer, n int, types ...reflect.Type) frame.Frame {
	f := frame.Make(autoType(types...), n, n)
	for i := 0; i < len(types); i++ {
		vp := reflect.New(types[i])
		for j := 0; j < n; j++ {
			fz.Fuzz(vp.Interface())
			f.Index(i, j).Set(vp.Elem())
		}
	}
	return f
}
