// Copyright 2018 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package frameio

import (
	"context"
	"strings"
	"testing"

	"github.com/grailbio/bigframe/frame"
)

func TestScanner(t *testing.T) {
	var (
		ctx = context.Background()
		f   = frame.Columns([]string{"s", "n"}, []string{"a", "b"}, []int{1, 2})
		s   = Scanner{Reader: FrameReader(f), Type: f.Type()}
	)
	var (
		str string
		n   int
	)
	var rows int
	for s.Scan(ctx, &str, &n) {
		rows++
	}
	if err := s.Err(); err != nil {
		t.Fatal(err)
	}
	if got, want := rows, 2; got != want {
		t.Errorf("got %v, want %v", got, want)
	}
	if got, want := str, "b"; got != want {
		t.Errorf("got %v, want %v", got, want)
	}
	if got, want := n, 2; got != want {
		t.Errorf("got %v, want %v", got, want)
	}
}

func TestScannerTypeError(t *testing.T) {
	var (
		ctx = context.Background()
		f   = frame.Columns([]string{"s"}, []string{"a"})
		s   = Scanner{Reader: FrameReader(f), Type: f.Type()}
	)
	var x float64
	if s.Scan(ctx, &x) {
		t.Fatal("scan of mistyped column succeeded")
	}
	if err := s.Err(); err == nil || !strings.Contains(err.Error(), `column s`) {
		t.Errorf("error %v does not name column", err)
	}
}

func TestScanv(t *testing.T) {
	var (
		ctx = context.Background()
		f   = frame.Columns([]string{"n"}, []int{1, 2, 3})
		s   = Scanner{Reader: FrameReader(f), Type: f.Type()}
	)
	ns := make([]int, 2)
	n, ok := s.Scanv(ctx, ns)
	if !ok || n != 2 {
		t.Fatalf("got %v, %v", n, ok)
	}
	n, _ = s.Scanv(ctx, ns)
	if got, want := n, 1; got != want {
		t.Errorf("got %v, want %v", got, want)
	}
	if err := s.Err(); err != nil {
		t.Fatal(err)
	}
}
