// Copyright 2019 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package bigframe

import (
	"context"
	"fmt"
	"math"
	"reflect"
	"strings"

	"github.com/grailbio/bigframe/frame"
	"github.com/grailbio/bigframe/frameio"
	"github.com/grailbio/bigframe/frametype"
	"github.com/grailbio/bigframe/typecheck"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
)

type sqlFrame struct {
	frametype.Type
	dsn    string
	table  string
	key    string
	lo, hi int64
	nparts int
}

// ReadSQL returns a dataframe that reads a PostgreSQL table through
// range partitioning on an integer key column: the key range [lo, hi)
// is split into nparts contiguous strides, and each partition selects
// the rows whose key falls in its stride. Rows with keys outside the
// range are not lost: the first partition also takes keys below the
// range along with NULL keys, and the last partition takes keys at or
// above the range. typ names the columns to select and their Go
// types. NULL values of float columns read as NaN; NULLs elsewhere
// fail the scan.
//
// The dsn is a pgx connection string. Each partition opens its own
// connection when read, so nparts bounds the number of concurrent
// connections an evaluation may hold.
func ReadSQL(typ frametype.Type, dsn, table, key string, lo, hi int64, nparts int) DataFrame {
	if nparts < 1 {
		typecheck.Panicf(1, "readsql: invalid partition count %d", nparts)
	}
	if hi <= lo {
		typecheck.Panicf(1, "readsql: empty key range [%d, %d)", lo, hi)
	}
	if typ.NumOut() == 0 {
		typecheck.Panic(1, "readsql: no columns")
	}
	return &sqlFrame{Type: typ, dsn: dsn, table: table, key: key, lo: lo, hi: hi, nparts: nparts}
}

func (s *sqlFrame) Op() string   { return fmt.Sprintf("sql(%s)", s.table) }
func (s *sqlFrame) NumPart() int { return s.nparts }
func (*sqlFrame) NumDep() int    { return 0 }
func (*sqlFrame) Dep(i int) Dep  { panic("no deps") }

// bound returns the i'th stride boundary, lo + floor((hi-lo)*i/nparts)
// computed without overflowing the product.
func (s *sqlFrame) bound(i int) int64 {
	r, n := s.hi-s.lo, int64(s.nparts)
	return s.lo + r/n*int64(i) + r%n*int64(i)/n
}

func (s *sqlFrame) query(part int) string {
	cols := make([]string, s.NumOut())
	for i := range cols {
		cols[i] = pgx.Identifier{s.Name(i)}.Sanitize()
	}
	var b strings.Builder
	fmt.Fprintf(&b, "SELECT %s FROM %s", strings.Join(cols, ", "), pgx.Identifier{s.table}.Sanitize())
	if s.nparts == 1 {
		return b.String()
	}
	key := pgx.Identifier{s.key}.Sanitize()
	switch {
	case part == 0:
		fmt.Fprintf(&b, " WHERE %s < %d OR %s IS NULL", key, s.bound(1), key)
	case part == s.nparts-1:
		fmt.Fprintf(&b, " WHERE %s >= %d", key, s.bound(part))
	default:
		fmt.Fprintf(&b, " WHERE %s >= %d AND %s < %d", key, s.bound(part), key, s.bound(part+1))
	}
	return b.String()
}

type sqlReader struct {
	op    *sqlFrame
	part  int
	conn  *pgx.Conn
	rows  pgx.Rows
	fcols []int
	nulls []pgtype.Float8
	dest  []interface{}
	err   error
}

func (r *sqlReader) Read(ctx context.Context, out frame.Frame) (int, error) {
	if r.err != nil {
		return 0, r.err
	}
	if !frametype.Assignable(out, r.op) {
		return 0, errTypeError
	}
	if r.conn == nil {
		r.conn, r.err = pgx.Connect(ctx, r.op.dsn)
		if r.err != nil {
			return 0, r.err
		}
		r.rows, r.err = r.conn.Query(ctx, r.op.query(r.part))
		if r.err != nil {
			return 0, r.err
		}
		for i := 0; i < r.op.NumOut(); i++ {
			switch r.op.Out(i).Kind() {
			case reflect.Float32, reflect.Float64:
				r.fcols = append(r.fcols, i)
			}
		}
		r.nulls = make([]pgtype.Float8, len(r.fcols))
		r.dest = make([]interface{}, r.op.NumOut())
	}
	var n int
	for n < out.Len() && r.rows.Next() {
		for i := range r.dest {
			r.dest[i] = out.Index(i, n).Addr().Interface()
		}
		for j, i := range r.fcols {
			r.dest[i] = &r.nulls[j]
		}
		if err := r.rows.Scan(r.dest...); err != nil {
			r.err = err
			return n, err
		}
		for j, i := range r.fcols {
			if r.nulls[j].Valid {
				out.Index(i, n).SetFloat(r.nulls[j].Float64)
			} else {
				out.Index(i, n).SetFloat(math.NaN())
			}
		}
		n++
	}
	if n == out.Len() {
		return n, nil
	}
	err := r.rows.Err()
	r.rows.Close()
	if cerr := r.conn.Close(context.Background()); cerr != nil && err == nil {
		err = cerr
	}
	if err == nil {
		err = frameio.EOF
	}
	r.err = err
	return n, err
}

func (s *sqlFrame) Reader(part int, deps []frameio.Reader) frameio.Reader {
	return &sqlReader{op: s, part: part}
}
