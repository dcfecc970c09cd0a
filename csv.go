// Copyright 2019 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package bigframe

import (
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"math"
	"reflect"
	"strconv"

	"github.com/grailbio/base/errors"
	"github.com/grailbio/base/file"
	"github.com/grailbio/base/log"
	"github.com/grailbio/bigframe/frame"
	"github.com/grailbio/bigframe/frameio"
	"github.com/grailbio/bigframe/frametype"
	"github.com/grailbio/bigframe/typecheck"
)

// A CSVOption configures CSV reading and writing.
type CSVOption func(*csvConfig)

type csvConfig struct {
	comma    rune
	noHeader bool
}

func makeCSVConfig(opts []CSVOption) csvConfig {
	conf := csvConfig{comma: ','}
	for _, opt := range opts {
		opt(&conf)
	}
	return conf
}

// Comma sets the field delimiter. The default is ','.
func Comma(r rune) CSVOption {
	return func(conf *csvConfig) { conf.comma = r }
}

// NoHeader configures headerless files: ReadCSV treats the first
// record of each file as data, and WriteCSV omits the header record.
func NoHeader() CSVOption {
	return func(conf *csvConfig) { conf.noHeader = true }
}

// csvParser returns the field parser for a column of the given type,
// or nil if the type cannot be read from CSV. Empty fields of float
// columns parse as NaN, the missing-value convention for numeric
// columns.
func csvParser(typ reflect.Type) func(v reflect.Value, field string) error {
	switch typ.Kind() {
	case reflect.String:
		return func(v reflect.Value, field string) error {
			v.SetString(field)
			return nil
		}
	case reflect.Bool:
		return func(v reflect.Value, field string) error {
			b, err := strconv.ParseBool(field)
			if err != nil {
				return err
			}
			v.SetBool(b)
			return nil
		}
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		bits := typ.Bits()
		return func(v reflect.Value, field string) error {
			x, err := strconv.ParseInt(field, 10, bits)
			if err != nil {
				return err
			}
			v.SetInt(x)
			return nil
		}
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		bits := typ.Bits()
		return func(v reflect.Value, field string) error {
			x, err := strconv.ParseUint(field, 10, bits)
			if err != nil {
				return err
			}
			v.SetUint(x)
			return nil
		}
	case reflect.Float32, reflect.Float64:
		bits := typ.Bits()
		return func(v reflect.Value, field string) error {
			if field == "" {
				v.SetFloat(math.NaN())
				return nil
			}
			x, err := strconv.ParseFloat(field, bits)
			if err != nil {
				return err
			}
			v.SetFloat(x)
			return nil
		}
	}
	return nil
}

// csvFormatter returns the field formatter for a column of the given
// type, or nil if the type cannot be written to CSV. NaN values of
// float columns format as empty fields, so written files read back
// with ReadCSV's missing-value convention.
func csvFormatter(typ reflect.Type) func(v reflect.Value) string {
	switch typ.Kind() {
	case reflect.String:
		return func(v reflect.Value) string { return v.String() }
	case reflect.Bool:
		return func(v reflect.Value) string { return strconv.FormatBool(v.Bool()) }
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return func(v reflect.Value) string { return strconv.FormatInt(v.Int(), 10) }
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return func(v reflect.Value) string { return strconv.FormatUint(v.Uint(), 10) }
	case reflect.Float32, reflect.Float64:
		bits := typ.Bits()
		return func(v reflect.Value) string {
			x := v.Float()
			if math.IsNaN(x) {
				return ""
			}
			return strconv.FormatFloat(x, 'g', -1, bits)
		}
	}
	return nil
}

type csvFrame struct {
	frametype.Type
	paths []string
	conf  csvConfig
	parse []func(v reflect.Value, field string) error
}

// ReadCSV returns a dataframe that reads comma-separated records
// from the named files, one partition per file. Paths are resolved
// with GRAIL's file library, so they may refer to URLs into a
// distributed object store such as S3. Records parse per typ's
// column types; string, bool, integer and float columns are
// supported, and empty fields of float columns parse as NaN. Unless
// NoHeader is given, the first record of each file is skipped.
//
// ReadCSV panics with a type error if no paths are given or if typ
// has a column that cannot be parsed from CSV. Parse errors are
// fatal: they fail evaluation instead of retrying.
func ReadCSV(paths []string, typ frametype.Type, opts ...CSVOption) DataFrame {
	if len(paths) == 0 {
		typecheck.Panic(1, "readcsv: no paths")
	}
	c := &csvFrame{Type: typ, paths: paths, conf: makeCSVConfig(opts)}
	c.parse = make([]func(v reflect.Value, field string) error, typ.NumOut())
	for i := range c.parse {
		if c.parse[i] = csvParser(typ.Out(i)); c.parse[i] == nil {
			typecheck.Panicf(1, "readcsv: cannot parse column %s of type %s from CSV", typ.Name(i), typ.Out(i))
		}
	}
	return c
}

func (c *csvFrame) Op() string {
	if len(c.paths) == 1 {
		return fmt.Sprintf("csv(%s)", c.paths[0])
	}
	return fmt.Sprintf("csv(%s, %d files)", c.paths[0], len(c.paths))
}

func (c *csvFrame) NumPart() int { return len(c.paths) }
func (*csvFrame) NumDep() int    { return 0 }
func (*csvFrame) Dep(i int) Dep  { panic("no deps") }

type csvReader struct {
	op   *csvFrame
	path string
	file file.File
	csv  *csv.Reader
	err  error
}

func (r *csvReader) Read(ctx context.Context, out frame.Frame) (int, error) {
	if r.err != nil {
		return 0, r.err
	}
	if !frametype.Assignable(out, r.op) {
		return 0, errTypeError
	}
	if r.file == nil {
		r.file, r.err = file.Open(ctx, r.path)
		if r.err != nil {
			return 0, r.err
		}
		r.csv = csv.NewReader(r.file.Reader(context.Background()))
		r.csv.Comma = r.op.conf.comma
		r.csv.FieldsPerRecord = r.op.NumOut()
		r.csv.ReuseRecord = true
		if !r.op.conf.noHeader {
			if _, err := r.csv.Read(); err != nil && err != io.EOF {
				r.err = errors.E(errors.Fatal, "readcsv", r.path, err)
				return 0, r.err
			}
		}
	}
	var n int
	for n < out.Len() {
		record, err := r.csv.Read()
		if err == io.EOF {
			if err := r.file.Close(ctx); err != nil {
				log.Error.Printf("%s: close: %v", r.path, err)
			}
			r.err = frameio.EOF
			return n, frameio.EOF
		}
		if err != nil {
			r.err = errors.E(errors.Fatal, "readcsv", r.path, err)
			return n, r.err
		}
		for i, field := range record {
			if err := r.op.parse[i](out.Index(i, n), field); err != nil {
				r.err = errors.E(errors.Fatal, "readcsv", r.path, err)
				return n, r.err
			}
		}
		n++
	}
	return n, nil
}

func (c *csvFrame) Reader(part int, deps []frameio.Reader) frameio.Reader {
	return &csvReader{op: c, path: c.paths[part]}
}

// Rows sampled per file to infer a schema.
const inferRows = 100

// InferCSV sniffs a schema from the named file: column names come
// from the header record, column types from the first rows. Fields
// that parse as integers yield int64 columns, other numeric fields
// float64, everything else string. Columns with missing values in
// the sample are widened to float64 so the missing fields can read
// as NaN; so are columns with no values at all. With NoHeader,
// columns are named f0, f1, and so on.
func InferCSV(ctx context.Context, path string, opts ...CSVOption) (typ frametype.Type, err error) {
	conf := makeCSVConfig(opts)
	f, err := file.Open(ctx, path)
	if err != nil {
		return nil, err
	}
	defer file.CloseAndReport(ctx, f, &err)
	r := csv.NewReader(f.Reader(ctx))
	r.Comma = conf.comma
	r.ReuseRecord = true
	first, err := r.Read()
	if err == io.EOF {
		return nil, errors.E("infercsv", path, "empty file")
	}
	if err != nil {
		return nil, errors.E("infercsv", path, err)
	}
	names := make([]string, len(first))
	seen := make(map[string]bool)
	for i := range names {
		name := first[i]
		if conf.noHeader {
			name = fmt.Sprintf("f%d", i)
		}
		if name == "" {
			return nil, errors.E("infercsv", path, fmt.Sprintf("empty name for column %d", i))
		}
		if seen[name] {
			return nil, errors.E("infercsv", path, fmt.Sprintf("duplicate column %q", name))
		}
		seen[name] = true
		names[i] = name
	}
	const (
		kindNone = iota
		kindInt
		kindFloat
		kindString
	)
	kinds := make([]int, len(names))
	missing := make([]bool, len(names))
	sample := func(record []string) {
		for i, field := range record {
			if field == "" {
				missing[i] = true
				continue
			}
			kind := kindString
			if _, err := strconv.ParseInt(field, 10, 64); err == nil {
				kind = kindInt
			} else if _, err := strconv.ParseFloat(field, 64); err == nil {
				kind = kindFloat
			}
			if kind > kinds[i] {
				kinds[i] = kind
			}
		}
	}
	rows := inferRows
	if conf.noHeader {
		sample(first)
		rows--
	}
	for ; rows > 0; rows-- {
		record, err := r.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, errors.E("infercsv", path, err)
		}
		sample(record)
	}
	fields := make([]frametype.Field, len(names))
	for i := range fields {
		var t reflect.Type
		switch {
		case kinds[i] == kindString:
			t = typeOfString
		case kinds[i] == kindInt && !missing[i]:
			t = typeOfInt64
		default:
			t = reflect.TypeOf(float64(0))
		}
		fields[i] = frametype.Field{Name: names[i], Type: t}
	}
	return frametype.New(fields...), nil
}

type csvWriteFrame struct {
	DataFrame
	prefix string
	conf   csvConfig
	format []func(v reflect.Value) string
}

// WriteCSV returns a dataframe that passes df through while writing
// each partition as a comma-separated file named
// "prefix-nnnn-of-mmmm". Unless NoHeader is given, each file starts
// with a header record naming df's columns. NaN values of float
// columns are written as empty fields. Like ReadCSV, WriteCSV
// resolves the prefix with GRAIL's file library.
//
// WriteCSV panics with a type error if df has a column that cannot
// be formatted as CSV.
func WriteCSV(df DataFrame, prefix string, opts ...CSVOption) DataFrame {
	w := &csvWriteFrame{DataFrame: df, prefix: prefix, conf: makeCSVConfig(opts)}
	w.format = make([]func(v reflect.Value) string, df.NumOut())
	for i := range w.format {
		if w.format[i] = csvFormatter(df.Out(i)); w.format[i] == nil {
			typecheck.Panicf(1, "writecsv: cannot format column %s of type %s as CSV", df.Name(i), df.Out(i))
		}
	}
	return w
}

func (w *csvWriteFrame) Op() string { return fmt.Sprintf("writecsv(%s)", w.prefix) }

type csvWriteReader struct {
	frameio.Reader
	op     *csvWriteFrame
	path   string
	file   file.File
	csv    *csv.Writer
	record []string
}

func (r *csvWriteReader) Read(ctx context.Context, f frame.Frame) (int, error) {
	if r.file == nil {
		var err error
		r.file, err = file.Create(ctx, r.path)
		if err != nil {
			return 0, err
		}
		r.csv = csv.NewWriter(r.file.Writer(context.Background()))
		r.csv.Comma = r.op.conf.comma
		r.record = make([]string, r.op.NumOut())
		if !r.op.conf.noHeader {
			for i := range r.record {
				r.record[i] = r.op.Name(i)
			}
			if err := r.csv.Write(r.record); err != nil {
				return 0, err
			}
		}
	}
	n, err := r.Reader.Read(ctx, f)
	if err == nil || err == frameio.EOF {
		for row := 0; row < n; row++ {
			for i := range r.record {
				r.record[i] = r.op.format[i](f.Index(i, row))
			}
			if werr := r.csv.Write(r.record); werr != nil {
				return n, werr
			}
		}
		if err == frameio.EOF {
			r.csv.Flush()
			if werr := r.csv.Error(); werr != nil {
				return n, werr
			}
			if werr := r.file.Close(ctx); werr != nil {
				return n, werr
			}
		}
	} else {
		r.file.Discard(context.Background())
	}
	return n, err
}

func (w *csvWriteFrame) Reader(part int, deps []frameio.Reader) frameio.Reader {
	return &csvWriteReader{
		Reader: w.DataFrame.Reader(part, deps),
		op:     w,
		path:   partPath(w.prefix, part, w.NumPart()),
	}
}
