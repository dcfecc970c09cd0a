// Copyright 2019 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

/*
	Package bigframe implements a distributed dataframe system. A
	dataframe is a large collection of rows with a fixed schema of
	named, typed columns, split into partitions that are processed in
	parallel. Users compose computations from sources (Const,
	ReaderFunc, ReadCSV, ReadSQL), transforms (Select, Filter, Apply,
	Head), and reductions (Reduce, RowReduce, and per-op sugar like Sum
	and Mean); the exec package takes care of the details of parallel
	execution.

	Bigframe jobs can run locally, but use bigmachine for distribution
	among a cluster of compute nodes. In either case, user code does
	not change; the details of distribution are handled by the
	combination of bigmachine and bigframe.

	Reductions dispatch through the reduction package's registry. Ops
	with a registered tree or full-axis kernel execute natively across
	the cluster; ops with only a serial baseline default to local
	execution on a single task, and bigframe warns once per op when
	this happens. Registering a kernel for an op (see package
	reduction) upgrades it to native execution without changing its
	results.

	Because Go cannot easily serialize code to be sent over the wire and
	executed remotely, bigframe programs have to be written with a few
	constraints:

	1. All dataframes must be constructed by bigframe funcs
	(bigframe.Func), and all such functions must be instantiated before
	exec.Start is called. This rule is easy to follow: if funcs are
	global variables, and exec.Start is called from a program's main,
	then the program is compliant.

	2. The driver program must be compiled on the same GOOS and GOARCH
	as the target architecture. When running locally, this is not a
	concern, but programs that require distribution must be run from a
	linux/amd64 binary.

	User provided functions in Bigframe

	Functions provided to the various bigframe combinators (e.g.,
	bigframe.Apply) may take an additional argument of type
	context.Context. If specified, then the lifetime of the context is
	tied to that of the underlying task. Additionally, the context
	carries a metrics scope (github.com/grailbio/bigframe/metrics.Scope)
	which can be used to update metric values during data processing.
*/
package bigframe
