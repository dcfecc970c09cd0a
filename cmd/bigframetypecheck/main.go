// Standalone bigframe typechecker (alpha).
//
// This is new and in testing. Please report any issues:
// https://github.com/grailbio/bigframe/issues.
//
// TODO: Consider merging this into the main `bigframe` command, when it's well-tested.
// TODO: Consider supporting the golangci-lint plugin interface.
package main

import (
	"github.com/grailbio/bigframe/analysis/typecheck"
	"golang.org/x/tools/go/analysis/singlechecker"
)

func main() {
	singlechecker.Main(typecheck.Analyzer)
}
