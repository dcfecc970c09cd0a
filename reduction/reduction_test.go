// Copyright 2019 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package reduction_test

import (
	"sort"
	"strings"
	"testing"

	"github.com/grailbio/bigframe/reduction"
)

func TestRegisterLocation(t *testing.T) {
	reduction.Register("testRegisterLocation", reduction.FullAxisOf(reduction.Sum))
	var message string
	func() {
		defer func() { message = recover().(string) }()
		reduction.Register("testRegisterLocation", reduction.FullAxisOf(reduction.Sum))
	}()
	if want := "reduction_test.go:16"; !strings.HasSuffix(message, want) {
		t.Errorf("got panic %q, want suffix %q", message, want)
	}
}

func TestRegisterErrors(t *testing.T) {
	for _, c := range []struct {
		message string
		f       func()
	}{
		{"empty op name", func() { reduction.Register("", reduction.FullAxisOf(reduction.Sum)) }},
		{"no kernels", func() { reduction.Register("testNoKernels", reduction.Reduction{}) }},
		{"incomplete tree kernel", func() {
			reduction.Register("testBadTree", reduction.Reduction{Tree: &reduction.Tree{Size: 1}})
		}},
	} {
		message := mustPanic(t, c.f)
		if !strings.Contains(message, c.message) {
			t.Errorf("got panic %q, want %q", message, c.message)
		}
	}
}

func TestLookup(t *testing.T) {
	for _, c := range []struct {
		op          string
		distributed bool
	}{
		{"sum", true},
		{"mean", true},
		{"var", true},
		{"kurt", false},
		{"skew", false},
		{"median", false},
	} {
		red, ok := reduction.Lookup(c.op)
		if !ok {
			t.Fatalf("%s: not registered", c.op)
		}
		if got, want := red.Distributed(), c.distributed; got != want {
			t.Errorf("%s: distributed %v, want %v", c.op, got, want)
		}
		if red.Baseline == nil {
			t.Errorf("%s: no baseline", c.op)
		}
	}
	if _, ok := reduction.Lookup("argmax"); ok {
		t.Error("lookup of unregistered op succeeded")
	}
}

func TestNames(t *testing.T) {
	names := reduction.Names()
	if !sort.StringsAreSorted(names) {
		t.Errorf("names not sorted: %v", names)
	}
	index := make(map[string]bool)
	for _, name := range names {
		index[name] = true
	}
	for _, name := range []string{"sum", "prod", "count", "mean", "min", "max", "var", "std", "kurt", "skew", "median"} {
		if !index[name] {
			t.Errorf("builtin %s not registered", name)
		}
	}
}

func TestFullAxisOf(t *testing.T) {
	red := reduction.FullAxisOf(reduction.Median)
	if !red.Distributed() {
		t.Error("full-axis reduction not distributed")
	}
	if red.Tree != nil {
		t.Error("unexpected tree kernel")
	}
	values := []float64{3, 1, 2}
	if got, want := red.FullAxis(values), red.Baseline(values); got != want {
		t.Errorf("full-axis %v != baseline %v", got, want)
	}
}

func mustPanic(t *testing.T, f func()) (message string) {
	t.Helper()
	defer func() {
		if v := recover(); v == nil {
			t.Error("expected panic")
		} else {
			message = v.(string)
		}
	}()
	f()
	return
}
