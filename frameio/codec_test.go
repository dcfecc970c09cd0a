// Copyright 2018 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package frameio

import (
	"bytes"
	"context"
	"math/rand"
	"reflect"
	"testing"

	fuzz "github.com/google/gofuzz"
	"github.com/grailbio/bigframe/frame"
)

type testStruct struct{ A, B, C int }

var (
	typeOfString     = reflect.TypeOf("")
	typeOfInt        = reflect.TypeOf(0)
	typeOfTestStruct = reflect.TypeOf((*testStruct)(nil)).Elem()
)

func TestDecodingReader(t *testing.T) {
	const N = 10000
	fz := fuzz.New()
	fz.NilChance(0)
	fz.NumElements(N, N)
	var (
		col1 []string
		col2 []int
		col3 []testStruct
	)
	fz.Fuzz(&col1)
	fz.Fuzz(&col2)
	fz.Fuzz(&col3)
	var (
		b     bytes.Buffer
		enc   = NewEncoder(&b)
		names = []string{"s", "n", "t"}
	)
	for i := 0; i < len(col1); {
		// Pick random batch size.
		n := int(rand.Int31n(int32(len(col1) - i + 1)))
		f := frame.Columns(names, col1[i:i+n], col2[i:i+n], col3[i:i+n])
		if err := enc.Encode(f); err != nil {
			t.Fatal(err)
		}
		i += n
	}

	r := NewDecodingReader(&b)
	var (
		col1x []string
		col2x []int
		col3x []testStruct
	)
	if err := ReadAll(context.Background(), r, &col1x, &col2x, &col3x); err != nil {
		t.Fatal(err)
	}
	if !reflect.DeepEqual(col1, col1x) {
		t.Error("col1 mismatch")
	}
	if !reflect.DeepEqual(col2, col2x) {
		t.Error("col2 mismatch")
	}
	if !reflect.DeepEqual(col3, col3x) {
		t.Error("col3 mismatch")
	}
}

func TestEmptyDecodingReader(t *testing.T) {
	r := NewDecodingReader(bytes.NewReader(nil))
	f := frame.Make(autoType(typeOfString, typeOfInt), 100, 100)
	n, err := r.Read(context.Background(), f)
	if got, want := n, 0; got != want {
		t.Errorf("got %v, want %v", got, want)
	}
	if got, want := err, EOF; got != want {
		t.Errorf("got %v, want %v", got, want)
	}
	n, err = r.Read(context.Background(), f)
	if got, want := n, 0; got != want {
		t.Errorf("got %v, want %v", got, want)
	}
	if got, want := err, EOF; got != want {
		t.Errorf("got %v, want %v", got, want)
	}
}

func TestCorruptStream(t *testing.T) {
	var (
		b   bytes.Buffer
		enc = NewEncoder(&b)
		f   = frame.Columns([]string{"n"}, []int{1, 2, 3})
	)
	if err := enc.Encode(f); err != nil {
		t.Fatal(err)
	}
	// Flipping a payload byte must fail the checksum.
	p := b.Bytes()
	p[len(p)-8] ^= 0xff
	r := NewDecodingReader(bytes.NewReader(p))
	var ns []int
	if err := ReadAll(context.Background(), r, &ns); err == nil {
		t.Fatal("expected error from corrupt stream")
	}
}

func TestEncodeAll(t *testing.T) {
	var (
		ctx = context.Background()
		f   = frame.Columns([]string{"x"}, []float64{1, 2, 3, 4})
		b   bytes.Buffer
	)
	n, err := EncodeAll(ctx, f.Type(), FrameReader(f), NewEncoder(&b))
	if err != nil {
		t.Fatal(err)
	}
	if got, want := n, int64(4); got != want {
		t.Fatalf("got %v, want %v", got, want)
	}
	var xs []float64
	if err := ReadAll(ctx, NewDecodingReader(&b), &xs); err != nil {
		t.Fatal(err)
	}
	if got, want := xs, []float64{1, 2, 3, 4}; !reflect.DeepEqual(got, want) {
		t.Errorf("got %v, want %v", got, want)
	}
}
