// Copyright 2018 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

// Package frametest provides utilities for testing Bigframe user code.
// The utilities here are generally not optimized for performance or
// robustness; they are strictly intended for unit testing.
package frametest

import (
	"context"
	"reflect"
	"testing"

	"github.com/grailbio/bigframe"
	"github.com/grailbio/bigframe/exec"
	"github.com/grailbio/bigframe/frameio"
)

// Run evaluates the provided dataframe in local execution mode,
// returning a scanner for the result. Errors are reported as fatal
// to the provided t instance. Run is intended for unit testing of
// DataFrame implementations.
func Run(t *testing.T, df bigframe.DataFrame) *frameio.Scanner {
	t.Helper()
	ctx := context.Background()
	fn := bigframe.Func(func() bigframe.DataFrame { return df })
	sess := exec.Start(exec.Local)
	res, err := sess.Run(ctx, fn)
	if err != nil {
		t.Fatal(err)
	}
	return res.Scan(ctx)
}

// RunErr evaluates the provided dataframe in local execution mode and
// returns the evaluation error, if any.
func RunErr(df bigframe.DataFrame) error {
	ctx := context.Background()
	fn := bigframe.Func(func() bigframe.DataFrame { return df })
	sess := exec.Start(exec.Local)
	_, err := sess.Run(ctx, fn)
	return err
}

// ScanAll scans all entries from the scanner into the provided
// columns, which must be pointers to slices of the correct column
// types. For example, to read all values from a dataframe with a
// string column and an int column:
//
//	var (
//		strings []string
//		ints    []int
//	)
//	ScanAll(test, scan, &strings, &ints)
//
// Errors are reported as fatal to the provided t instance.
func ScanAll(t *testing.T, scan *frameio.Scanner, cols ...interface{}) {
	t.Helper()
	vs := make([]reflect.Value, len(cols))
	elemTypes := make([]reflect.Type, len(cols))
	for i := range vs {
		vs[i] = reflect.Indirect(reflect.ValueOf(cols[i]))
		vs[i].Set(vs[i].Slice(0, 0))
		elemTypes[i] = vs[i].Type().Elem()
	}
	ctx := context.Background()
	args := make([]interface{}, len(cols))
	for n := 0; ; n++ {
		for i := range vs {
			vs[i].Set(reflect.Append(vs[i], reflect.Zero(elemTypes[i])))
			args[i] = vs[i].Index(n).Addr().Interface()
		}
		if !scan.Scan(ctx, args...) {
			for i := range vs {
				vs[i].Set(vs[i].Slice(0, n))
			}
			break
		}
	}
	if err := scan.Err(); err != nil {
		t.Fatal(err)
	}
}

// RunAndScan evaluates the provided dataframe and scans its results
// into the provided slice pointers. Errors are reported as fatal to
// the provided t instance.
func RunAndScan(t *testing.T, df bigframe.DataFrame, cols ...interface{}) {
	t.Helper()
	ScanAll(t, Run(t, df), cols...)
}

// SeriesOf evaluates the provided column-keyed series and returns its
// keys and values in materialized order. It is a convenience for
// testing reductions.
func SeriesOf(t *testing.T, series bigframe.Series) (keys []string, values []float64) {
	t.Helper()
	RunAndScan(t, series, &keys, &values)
	return keys, values
}
