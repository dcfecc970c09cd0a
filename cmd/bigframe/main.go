// Copyright 2019 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

// Bigframe is a demo program that computes column reductions over
// sets of CSV files, local or in S3. It infers a column schema from
// the first input, reads every input into a single frame, and prints
// one line per reduction and numeric column. Reductions with
// registered kernels are computed by the cluster; the rest fall back
// to local execution.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"reflect"
	"sort"
	"strings"

	"github.com/grailbio/base/file"
	"github.com/grailbio/base/log"
	"github.com/grailbio/bigframe"
	"github.com/grailbio/bigframe/frameconfig"
	"github.com/grailbio/bigframe/frametype"
	"github.com/grailbio/bigframe/reduction"
)

var reduceCSV = bigframe.Func(func(paths []string, schema, op, out string) bigframe.DataFrame {
	df := bigframe.ReadCSV(paths, parseSchema(schema))
	var result bigframe.DataFrame = bigframe.Reduce(df, op)
	if out != "" {
		result = bigframe.WriteCSV(result, out+"-"+op)
	}
	return result
})

func main() {
	var (
		ops = flag.String("ops", "sum", "comma-separated list of reductions to compute")
		out = flag.String("out", "", "if nonempty, write each result to <out>-<op> as CSV")
	)
	log.AddFlags()
	sess, shutdown := frameconfig.Parse()
	defer shutdown()
	if flag.NArg() == 0 {
		fmt.Fprintln(os.Stderr, "usage: bigframe [-ops sum,mean,...] [-out prefix] paths...")
		os.Exit(2)
	}
	registered := make(map[string]bool)
	for _, name := range reduction.Names() {
		registered[name] = true
	}
	opList := strings.Split(*ops, ",")
	for _, op := range opList {
		if !registered[op] {
			log.Fatalf("unknown reduction %q; available: %s", op, strings.Join(reduction.Names(), ", "))
		}
	}

	ctx := context.Background()
	paths := expand(ctx, flag.Args())
	if len(paths) == 0 {
		log.Fatal("no input files")
	}
	typ, err := bigframe.InferCSV(ctx, paths[0])
	if err != nil {
		log.Fatal(err)
	}
	schema := formatSchema(typ)
	log.Printf("reading %d files with schema %s", len(paths), frametype.String(typ))
	for _, op := range opList {
		res, err := sess.Run(ctx, reduceCSV, paths, schema, op, *out)
		if err != nil {
			log.Fatal(err)
		}
		scan := res.Scan(ctx)
		var (
			key   string
			value float64
		)
		for scan.Scan(ctx, &key, &value) {
			fmt.Printf("%s\t%s\t%g\n", op, key, value)
		}
		if err := scan.Err(); err != nil {
			log.Fatal(err)
		}
	}
}

// expand interprets each argument as either a CSV file or a prefix to
// list, keeping the listed paths that name CSV files.
func expand(ctx context.Context, args []string) []string {
	var paths []string
	for _, arg := range args {
		if strings.HasSuffix(arg, ".csv") {
			paths = append(paths, arg)
			continue
		}
		lst := file.List(ctx, arg, true)
		for lst.Scan() {
			if strings.HasSuffix(lst.Path(), ".csv") {
				paths = append(paths, lst.Path())
			}
		}
		if err := lst.Err(); err != nil {
			log.Fatal(err)
		}
	}
	sort.Strings(paths)
	return paths
}

// formatSchema renders typ in the form "name:type,...,name:type" so
// that it can be passed as a func argument.
func formatSchema(typ frametype.Type) string {
	fields := make([]string, typ.NumOut())
	for i := range fields {
		fields[i] = typ.Name(i) + ":" + typ.Out(i).String()
	}
	return strings.Join(fields, ",")
}

func parseSchema(s string) frametype.Type {
	var fields []frametype.Field
	for _, field := range strings.Split(s, ",") {
		parts := strings.SplitN(field, ":", 2)
		if len(parts) != 2 {
			log.Panicf("invalid schema field %q", field)
		}
		var t reflect.Type
		switch parts[1] {
		case "int64":
			t = reflect.TypeOf(int64(0))
		case "float64":
			t = reflect.TypeOf(float64(0))
		case "string":
			t = reflect.TypeOf("")
		default:
			log.Panicf("unsupported column type %q", parts[1])
		}
		fields = append(fields, frametype.Field{Name: parts[0], Type: t})
	}
	return frametype.New(fields...)
}
