// Copyright 2019 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package frametype

import (
	"reflect"
	"testing"
)

var (
	typeOfString = reflect.TypeOf("")
	typeOfInt    = reflect.TypeOf(0)
)

func TestType(t *testing.T) {
	fields := []Field{{"a", typeOfString}, {"b", typeOfInt}, {"c", typeOfString}}
	typ := New(fields...)
	if got, want := Fields(typ), fields; !reflect.DeepEqual(got, want) {
		t.Errorf("got %v, want %v", got, want)
	}
	if !Assignable(typ, typ) {
		t.Error("types should be assignable to themselves")
	}
	if !Equal(typ, New(fields...)) {
		t.Error("types should equal themselves")
	}
	if Equal(typ, New(Field{"a", typeOfString}, Field{"x", typeOfInt}, Field{"c", typeOfString})) {
		t.Error("renamed column should break equality")
	}
	if got, want := String(typ), "frame[a:string, b:int, c:string]"; got != want {
		t.Errorf("got %v, want %v", got, want)
	}
}

func TestNewDuplicate(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Error("expected panic")
		}
	}()
	New(Field{"a", typeOfInt}, Field{"a", typeOfString})
}

func TestSelect(t *testing.T) {
	typ := New(Field{"a", typeOfString}, Field{"b", typeOfInt}, Field{"c", typeOfInt})
	sel, indices, err := Select(typ, "c", "a")
	if err != nil {
		t.Fatal(err)
	}
	if got, want := indices, []int{2, 0}; !reflect.DeepEqual(got, want) {
		t.Errorf("got %v, want %v", got, want)
	}
	if got, want := String(sel), "frame[c:int, a:string]"; got != want {
		t.Errorf("got %v, want %v", got, want)
	}
	if _, _, err = Select(typ, "z"); err == nil {
		t.Error("expected error for unknown column")
	}
}

func TestNumeric(t *testing.T) {
	typ := New(
		Field{"name", typeOfString},
		Field{"x", reflect.TypeOf(float64(0))},
		Field{"n", typeOfInt},
		Field{"ok", reflect.TypeOf(false)},
	)
	if got, want := NumericColumns(typ), []int{1, 2}; !reflect.DeepEqual(got, want) {
		t.Errorf("got %v, want %v", got, want)
	}
}

func TestSliceConcat(t *testing.T) {
	typ := New(Field{"a", typeOfString}, Field{"b", typeOfInt}, Field{"c", typeOfInt})
	if got, want := String(Slice(typ, 1, 3)), "frame[b:int, c:int]"; got != want {
		t.Errorf("got %v, want %v", got, want)
	}
	cat := Concat(Slice(typ, 0, 1), Slice(typ, 2, 3))
	if got, want := String(cat), "frame[a:string, c:int]"; got != want {
		t.Errorf("got %v, want %v", got, want)
	}
}

func TestSeriesOf(t *testing.T) {
	typ := SeriesOf(typeOfString)
	if !IsSeries(typ) {
		t.Errorf("%s should be a series schema", String(typ))
	}
	if IsSeries(New(Field{"a", typeOfString})) {
		t.Error("single column is not a series schema")
	}
}
