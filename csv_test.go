// Copyright 2019 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package bigframe_test

import (
	"context"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"testing"

	"github.com/grailbio/bigframe"
	"github.com/grailbio/bigframe/frametest"
	"github.com/grailbio/bigframe/frametype"
	"github.com/grailbio/testutil"
)

// equalNaN compares float slices, treating NaN as equal to NaN.
func equalNaN(got, want []float64) bool {
	if len(got) != len(want) {
		return false
	}
	for i := range got {
		if math.IsNaN(want[i]) {
			if !math.IsNaN(got[i]) {
				return false
			}
		} else if got[i] != want[i] {
			return false
		}
	}
	return true
}

func TestReadCSV(t *testing.T) {
	dir, cleanup := testutil.TempDir(t, "", "")
	defer cleanup()
	path := filepath.Join(dir, "data.csv")
	data := "name;x\na;1\nb;2.5\nc;\n"
	if err := os.WriteFile(path, []byte(data), 0666); err != nil {
		t.Fatal(err)
	}
	typ := frametype.New(
		frametype.Field{Name: "name", Type: reflect.TypeOf("")},
		frametype.Field{Name: "x", Type: reflect.TypeOf(float64(0))},
	)
	df := bigframe.ReadCSV([]string{path}, typ, bigframe.Comma(';'))
	var (
		names []string
		xs    []float64
	)
	frametest.RunAndScan(t, df, &names, &xs)
	if got, want := names, []string{"a", "b", "c"}; !reflect.DeepEqual(got, want) {
		t.Errorf("got %v, want %v", got, want)
	}
	// Empty float fields read as NaN.
	if got, want := xs, []float64{1, 2.5, math.NaN()}; !equalNaN(got, want) {
		t.Errorf("got %v, want %v", got, want)
	}
}

func TestReadCSVNoHeader(t *testing.T) {
	dir, cleanup := testutil.TempDir(t, "", "")
	defer cleanup()
	path := filepath.Join(dir, "data.csv")
	if err := os.WriteFile(path, []byte("1,x\n2,y\n3,z\n"), 0666); err != nil {
		t.Fatal(err)
	}
	typ := frametype.New(
		frametype.Field{Name: "n", Type: reflect.TypeOf(int64(0))},
		frametype.Field{Name: "s", Type: reflect.TypeOf("")},
	)
	df := bigframe.ReadCSV([]string{path}, typ, bigframe.NoHeader())
	var (
		ns []int64
		ss []string
	)
	frametest.RunAndScan(t, df, &ns, &ss)
	if got, want := ns, []int64{1, 2, 3}; !reflect.DeepEqual(got, want) {
		t.Errorf("got %v, want %v", got, want)
	}
	if got, want := ss, []string{"x", "y", "z"}; !reflect.DeepEqual(got, want) {
		t.Errorf("got %v, want %v", got, want)
	}
}

// TestWriteReadCSV round-trips a frame through CSV files, one per
// partition, NaNs included.
func TestWriteReadCSV(t *testing.T) {
	dir, cleanup := testutil.TempDir(t, "", "")
	defer cleanup()

	const Npart = 3
	var (
		names = []string{"a", "b", "c", "d", "e", "f", "g"}
		xs    = []float64{0.5, math.NaN(), 2, 3.25, math.NaN(), 5, 6.125}
		ns    = []int64{1, 2, 3, 4, 5, 6, 7}
	)
	df := bigframe.Const(Npart,
		bigframe.Col{Name: "name", Values: names},
		bigframe.Col{Name: "x", Values: xs},
		bigframe.Col{Name: "n", Values: ns},
	)
	prefix := filepath.Join(dir, "out")
	df = bigframe.WriteCSV(df, prefix)

	// WriteCSV passes its input through.
	var (
		gotNames []string
		gotXs    []float64
		gotNs    []int64
	)
	frametest.RunAndScan(t, df, &gotNames, &gotXs, &gotNs)
	if got, want := gotNames, names; !reflect.DeepEqual(got, want) {
		t.Errorf("got %v, want %v", got, want)
	}
	if !equalNaN(gotXs, xs) {
		t.Errorf("got %v, want %v", gotXs, xs)
	}
	if got, want := gotNs, ns; !reflect.DeepEqual(got, want) {
		t.Errorf("got %v, want %v", got, want)
	}
	if got, want := len(ls1(t, dir)), Npart; got != want {
		t.Fatalf("got %v [%v], want %v", got, ls1(t, dir), want)
	}

	paths := make([]string, Npart)
	for i := range paths {
		paths[i] = filepath.Join(dir, fmt.Sprintf("out-%04d-of-%04d", i, Npart))
	}
	typ := frametype.New(
		frametype.Field{Name: "name", Type: reflect.TypeOf("")},
		frametype.Field{Name: "x", Type: reflect.TypeOf(float64(0))},
		frametype.Field{Name: "n", Type: reflect.TypeOf(int64(0))},
	)
	rdf := bigframe.ReadCSV(paths, typ)
	if got, want := rdf.NumPart(), Npart; got != want {
		t.Errorf("got %v, want %v", got, want)
	}
	gotNames, gotXs, gotNs = nil, nil, nil
	frametest.RunAndScan(t, rdf, &gotNames, &gotXs, &gotNs)
	if got, want := gotNames, names; !reflect.DeepEqual(got, want) {
		t.Errorf("got %v, want %v", got, want)
	}
	if !equalNaN(gotXs, xs) {
		t.Errorf("got %v, want %v", gotXs, xs)
	}
	if got, want := gotNs, ns; !reflect.DeepEqual(got, want) {
		t.Errorf("got %v, want %v", got, want)
	}
}

func TestInferCSV(t *testing.T) {
	dir, cleanup := testutil.TempDir(t, "", "")
	defer cleanup()
	path := filepath.Join(dir, "data.csv")
	data := "i,f,s,m,e\n" +
		"1,1.5,x,2,\n" +
		"2,2.5,y,,\n" +
		"3,3.5,z,4,\n"
	if err := os.WriteFile(path, []byte(data), 0666); err != nil {
		t.Fatal(err)
	}
	typ, err := bigframe.InferCSV(context.Background(), path)
	if err != nil {
		t.Fatal(err)
	}
	// Integer columns with missing values widen to float64, as do
	// columns with no values at all.
	if got, want := frametype.String(typ), "frame[i:int64, f:float64, s:string, m:float64, e:float64]"; got != want {
		t.Errorf("got %v, want %v", got, want)
	}
}

func TestInferCSVNoHeader(t *testing.T) {
	dir, cleanup := testutil.TempDir(t, "", "")
	defer cleanup()
	path := filepath.Join(dir, "data.csv")
	if err := os.WriteFile(path, []byte("1,x\n2,y\n"), 0666); err != nil {
		t.Fatal(err)
	}
	typ, err := bigframe.InferCSV(context.Background(), path, bigframe.NoHeader())
	if err != nil {
		t.Fatal(err)
	}
	if got, want := frametype.String(typ), "frame[f0:int64, f1:string]"; got != want {
		t.Errorf("got %v, want %v", got, want)
	}
}

func TestInferCSVError(t *testing.T) {
	dir, cleanup := testutil.TempDir(t, "", "")
	defer cleanup()
	ctx := context.Background()
	cases := []struct {
		name, data, message string
	}{
		{"empty.csv", "", "empty file"},
		{"dup.csv", "a,a\n1,2\n", `duplicate column "a"`},
		{"noname.csv", "a,\n1,2\n", "empty name for column 1"},
	}
	for _, c := range cases {
		path := filepath.Join(dir, c.name)
		if err := os.WriteFile(path, []byte(c.data), 0666); err != nil {
			t.Fatal(err)
		}
		_, err := bigframe.InferCSV(ctx, path)
		if err == nil {
			t.Errorf("%s: expected error", c.name)
			continue
		}
		if !strings.Contains(err.Error(), c.message) {
			t.Errorf("%s: got %q, want %q", c.name, err.Error(), c.message)
		}
	}
}

func TestCSVTypeError(t *testing.T) {
	typ := frametype.New(frametype.Field{Name: "v", Type: reflect.TypeOf(make(chan int))})
	expectTypeError(t, "readcsv: no paths", func() { bigframe.ReadCSV(nil, typ) })
	expectTypeError(t, "readcsv: cannot parse column v of type chan int from CSV", func() { bigframe.ReadCSV([]string{"x"}, typ) })
	df := bigframe.Const(1, bigframe.Col{Name: "v", Values: []chan int{}})
	expectTypeError(t, "writecsv: cannot format column v of type chan int as CSV", func() { bigframe.WriteCSV(df, "x") })
}

func TestReadCSVParseError(t *testing.T) {
	dir, cleanup := testutil.TempDir(t, "", "")
	defer cleanup()
	path := filepath.Join(dir, "data.csv")
	if err := os.WriteFile(path, []byte("n\n1\ntwo\n"), 0666); err != nil {
		t.Fatal(err)
	}
	typ := frametype.New(frametype.Field{Name: "n", Type: reflect.TypeOf(int64(0))})
	err := frametest.RunErr(bigframe.ReadCSV([]string{path}, typ))
	if err == nil {
		t.Fatal("expected error")
	}
	if !strings.Contains(err.Error(), "readcsv") {
		t.Errorf("got %q, want readcsv error", err.Error())
	}
}
