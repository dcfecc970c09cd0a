// Copyright 2019 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package bigframe

import (
	"reflect"
	"testing"

	"github.com/grailbio/bigframe/frametype"
	"github.com/grailbio/bigframe/typecheck"
)

var sqlTestType = frametype.New(
	frametype.Field{Name: "id", Type: reflect.TypeOf(int64(0))},
	frametype.Field{Name: "score", Type: reflect.TypeOf(float64(0))},
)

func TestSQLQuery(t *testing.T) {
	whole := &sqlFrame{Type: sqlTestType, table: "events", key: "id", lo: 0, hi: 10, nparts: 1}
	if got, want := whole.query(0), `SELECT "id", "score" FROM "events"`; got != want {
		t.Errorf("got %q, want %q", got, want)
	}

	s := &sqlFrame{Type: sqlTestType, table: "events", key: "id", lo: 0, hi: 10, nparts: 3}
	for part, want := range map[int]string{
		// The first partition also takes keys below the range and NULL
		// keys; the last takes keys at or above the range.
		0: `SELECT "id", "score" FROM "events" WHERE "id" < 3 OR "id" IS NULL`,
		1: `SELECT "id", "score" FROM "events" WHERE "id" >= 3 AND "id" < 6`,
		2: `SELECT "id", "score" FROM "events" WHERE "id" >= 6`,
	} {
		if got := s.query(part); got != want {
			t.Errorf("partition %d: got %q, want %q", part, got, want)
		}
	}
}

func TestSQLBounds(t *testing.T) {
	cases := []struct {
		lo, hi int64
		nparts int
	}{
		{0, 10, 3},
		{-5, 5, 4},
		// More partitions than keys: some strides are empty.
		{0, 7, 10},
		// Large enough that computing (hi-lo)*i naively would overflow.
		{1 << 40, 3 << 60, 7},
	}
	for _, c := range cases {
		s := &sqlFrame{lo: c.lo, hi: c.hi, nparts: c.nparts}
		if got, want := s.bound(0), c.lo; got != want {
			t.Errorf("[%d, %d) / %d: got %v, want %v", c.lo, c.hi, c.nparts, got, want)
		}
		if got, want := s.bound(c.nparts), c.hi; got != want {
			t.Errorf("[%d, %d) / %d: got %v, want %v", c.lo, c.hi, c.nparts, got, want)
		}
		base := (c.hi - c.lo) / int64(c.nparts)
		for i := 1; i <= c.nparts; i++ {
			if stride := s.bound(i) - s.bound(i-1); stride != base && stride != base+1 {
				t.Errorf("[%d, %d) / %d: stride %d at %d", c.lo, c.hi, c.nparts, stride, i)
			}
		}
	}
}

func TestReadSQLError(t *testing.T) {
	for _, c := range []struct {
		message string
		fn      func()
	}{
		{"readsql: invalid partition count 0", func() { ReadSQL(sqlTestType, "", "events", "id", 0, 10, 0) }},
		{"readsql: empty key range [5, 5)", func() { ReadSQL(sqlTestType, "", "events", "id", 5, 5, 1) }},
		{"readsql: no columns", func() { ReadSQL(frametype.New(), "", "events", "id", 0, 10, 1) }},
	} {
		func() {
			defer func() {
				e := recover()
				if e == nil {
					t.Errorf("%s: expected panic", c.message)
					return
				}
				err, ok := e.(*typecheck.Error)
				if !ok {
					t.Errorf("expected type error, got %v", e)
					return
				}
				if got, want := err.Err.Error(), c.message; got != want {
					t.Errorf("got %q, want %q", got, want)
				}
			}()
			c.fn()
		}()
	}
}

func TestReadSQLFrame(t *testing.T) {
	df := ReadSQL(sqlTestType, "postgres://localhost/test", "events", "id", 0, 1000, 8)
	if got, want := df.NumPart(), 8; got != want {
		t.Errorf("got %v, want %v", got, want)
	}
	if got, want := df.Op(), "sql(events)"; got != want {
		t.Errorf("got %v, want %v", got, want)
	}
	if got, want := frametype.String(df), "frame[id:int64, score:float64]"; got != want {
		t.Errorf("got %v, want %v", got, want)
	}
}
