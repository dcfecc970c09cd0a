// Copyright 2018 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package frame

import (
	"math"
	"reflect"
	"testing"

	"github.com/grailbio/bigframe/frametype"
)

var (
	typeOfString  = reflect.TypeOf("")
	typeOfInt     = reflect.TypeOf(0)
	typeOfFloat64 = reflect.TypeOf(float64(0))
)

func TestFrame(t *testing.T) {
	typ := frametype.New(
		frametype.Field{Name: "s", Type: typeOfString},
		frametype.Field{Name: "n", Type: typeOfInt},
	)
	f := Make(typ, 100)
	if got, want := f.NumOut(), 2; got != want {
		t.Errorf("got %v, want %v", got, want)
	}
	if got, want := f.Len(), 100; got != want {
		t.Errorf("got %v, want %v", got, want)
	}
	if got, want := f.Cap(), f.Len(); got != want {
		t.Errorf("got %v, want %v", got, want)
	}
	if got, want := f.Name(1), "n"; got != want {
		t.Errorf("got %v, want %v", got, want)
	}
}

func TestColumns(t *testing.T) {
	f := Columns([]string{"n", "s"}, []int{1, 2, 3, 4}, []string{"one", "two", "three", "four"})
	g := Make(f.Type(), f.Len())
	if got, want := Copy(g, f), 4; got != want {
		t.Fatalf("got %v, want %v", got, want)
	}
	if !Equal(f, g) {
		t.Errorf("got %v, want %v", g.TabString(), f.TabString())
	}
	if Equal(f, f.Slice(0, 2)) {
		t.Error("frames of different length compare equal")
	}
}

func TestAppend(t *testing.T) {
	var f Frame
	g := Columns([]string{"n"}, []int{1, 2})
	f = Append(f, g)
	f = Append(f, Columns([]string{"n"}, []int{3}))
	if got, want := f, Columns([]string{"n"}, []int{1, 2, 3}); !Equal(got, want) {
		t.Errorf("got %v, want %v", got.TabString(), want.TabString())
	}
}

func TestFloat64s(t *testing.T) {
	f := Columns([]string{"x", "n", "u"},
		[]float64{1.5, math.NaN()},
		[]int{1, 2},
		[]uint8{3, 4},
	)
	xs := f.Float64s(0)
	if got, want := xs[0], 1.5; got != want {
		t.Errorf("got %v, want %v", got, want)
	}
	if !math.IsNaN(xs[1]) {
		t.Error("NaN not preserved")
	}
	// The float64 fast path aliases the column storage.
	xs[0] = 9
	if got, want := f.Col(0).Index(0).Float(), 9.0; got != want {
		t.Errorf("got %v, want %v", got, want)
	}
	if got, want := f.Float64s(1), []float64{1, 2}; !reflect.DeepEqual(got, want) {
		t.Errorf("got %v, want %v", got, want)
	}
	if got, want := f.Float64s(2), []float64{3, 4}; !reflect.DeepEqual(got, want) {
		t.Errorf("got %v, want %v", got, want)
	}
}

func TestHash(t *testing.T) {
	f := Columns([]string{"s", "n"}, []string{"a", "b", "a"}, []int{1, 2, 1})
	if f.Hash(0) != f.Hash(2) {
		t.Error("equal rows hash differently")
	}
	if f.Hash(0) == f.Hash(1) {
		// Not impossible, but indicates a broken hash chain.
		t.Error("distinct rows collide")
	}
	g := f.Slice(1, 3)
	if got, want := g.Hash(1), f.Hash(2); got != want {
		t.Errorf("got %v, want %v", got, want)
	}
}

func TestNaNEqual(t *testing.T) {
	f := Columns([]string{"x"}, []float64{1, math.NaN()})
	g := Columns([]string{"x"}, []float64{1, math.NaN()})
	if !Equal(f, g) {
		t.Error("NaN should compare equal to itself by bit pattern")
	}
}

func TestClear(t *testing.T) {
	f := Columns([]string{"n", "s"}, []int{1, 2}, []string{"x", "y"})
	g := Make(f.Type(), f.Len())
	Copy(g, f)
	g.Clear()
	if got, want := g, Columns([]string{"n", "s"}, []int{0, 0}, []string{"", ""}); !Equal(got, want) {
		t.Errorf("got %v, want %v", got.TabString(), want.TabString())
	}
}
