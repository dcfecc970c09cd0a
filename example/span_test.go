// Copyright 2020 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package example_test

import (
	"reflect"
	"testing"

	"github.com/grailbio/bigframe"
	"github.com/grailbio/bigframe/example"
	"github.com/grailbio/bigframe/frametest"
)

func TestSpan(t *testing.T) {
	df := bigframe.Const(3,
		bigframe.Col{Name: "x", Values: []float64{3, 1, 4, 1, 5, 9, 2, 6}},
		bigframe.Col{Name: "n", Values: []int{10, 40, 20, 30, 50, 70, 60, 80}},
	)
	keys, values := frametest.SeriesOf(t, example.Span(df))
	if got, want := keys, []string{"x", "n"}; !reflect.DeepEqual(got, want) {
		t.Errorf("got %v, want %v", got, want)
	}
	if got, want := values, []float64{8, 70}; !reflect.DeepEqual(got, want) {
		t.Errorf("got %v, want %v", got, want)
	}
}
