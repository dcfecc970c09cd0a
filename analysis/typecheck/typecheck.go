// Package typecheck implements a static analysis pass that checks
// the arguments of bigframe func invocations.
package typecheck

import (
	"fmt"
	"go/ast"
	"go/types"

	"golang.org/x/tools/go/analysis"
	"golang.org/x/tools/go/analysis/passes/inspect"
	"golang.org/x/tools/go/ast/inspector"
	"golang.org/x/tools/go/types/typeutil"
)

var Analyzer = &analysis.Analyzer{
	Name: "bigframe_typecheck",
	Doc: `check bigframe func call arguments

Basic typechecker for bigframe programs that inspects session.Run and
session.Must calls to ensure the arguments are compatible with the Func.
Checks are limited by static analysis and are best-effort. For example, the call
	session.Must(ctx, chooseFunc(), args...)
cannot be checked, because it uses chooseFunc() instead of a simple identifier.

Typechecking does not include any frame operations yet.`,
	Requires: []*analysis.Analyzer{inspect.Analyzer},
	Run:      run,
}

const (
	funcFullName     = "github.com/grailbio/bigframe.Func"
	execMustFullName = "(*github.com/grailbio/bigframe/exec.Session).Must"
	execRunFullName  = "(*github.com/grailbio/bigframe/exec.Session).Run"
)

func run(pass *analysis.Pass) (interface{}, error) {
	inspect := pass.ResultOf[inspect.Analyzer].(*inspector.Inspector)
	declared := collectFuncDecls(pass, inspect)
	inspect.Preorder([]ast.Node{&ast.CallExpr{}}, func(node ast.Node) {
		checkRunCall(pass, declared, node.(*ast.CallExpr))
	})
	return nil, nil
}

// collectFuncDecls records the signature of every top-level var bound
// to a bigframe.Func call, keyed by the var's name.
//
// TODO: ValueSpec captures top-level vars only; consider non-top-level
// ones too. If we do, the map must be keyed by a global identifier.
// TODO: export these signatures as Facts to allow checking across
// packages.
func collectFuncDecls(pass *analysis.Pass, inspect *inspector.Inspector) map[string]*types.Signature {
	declared := make(map[string]*types.Signature)
	inspect.Preorder([]ast.Node{&ast.ValueSpec{}}, func(node ast.Node) {
		spec := node.(*ast.ValueSpec)
		for i, value := range spec.Values {
			call, ok := value.(*ast.CallExpr)
			if !ok {
				continue
			}
			fn := typeutil.StaticCallee(pass.TypesInfo, call)
			if fn == nil || fn.FullName() != funcFullName {
				continue
			}
			if len(call.Args) != 1 {
				panic(fmt.Errorf("unexpected arguments to bigframe.Func: %v", call.Args))
			}
			impl := call.Args[0]
			sig, ok := pass.TypesInfo.TypeOf(impl).(*types.Signature)
			if !ok {
				pass.ReportRangef(impl, "argument to bigframe.Func must be a function, not %v", pass.TypesInfo.TypeOf(impl))
				continue
			}
			ok = true
			for j := 0; j < sig.Params().Len(); j++ {
				param := sig.Params().At(j)
				if err := checkValidFuncArg(param.Type()); err != nil {
					pass.Reportf(param.Pos(),
						"bigframe type error: Func argument %q [%d]: %v", param.Name(), j, err)
					ok = false
				}
			}
			if !ok {
				continue
			}
			declared[spec.Names[i].Name] = pass.TypesInfo.TypeOf(impl).Underlying().(*types.Signature)
		}
	})
	return declared
}

// checkRunCall checks a single session.Run or session.Must call
// against the declared func signatures.
func checkRunCall(pass *analysis.Pass, declared map[string]*types.Signature, call *ast.CallExpr) {
	fn := typeutil.StaticCallee(pass.TypesInfo, call)
	if fn == nil {
		return
	}
	if name := fn.FullName(); name != execRunFullName && name != execMustFullName {
		return
	}
	ident, ok := call.Args[1].(*ast.Ident)
	if !ok {
		// The func expression is more complicated than a simple
		// identifier. Give up on typechecking this call.
		return
	}
	sig, ok := declared[ident.Name]
	if !ok {
		// TODO: Propagate bigframe.Func types as Facts so we can do a
		// better job here.
		return
	}
	params := sig.Params()
	args := call.Args[2:]
	if want, got := params.Len(), len(args); want != got {
		pass.ReportRangef(ident,
			"bigframe type error: %s requires %d arguments, but got %d",
			ident.Name, want, got)
		return
	}
	for i, arg := range args {
		want := params.At(i).Type()
		got := pass.TypesInfo.TypeOf(arg)
		if !types.AssignableTo(got, want) {
			pass.ReportRangef(arg,
				"bigframe type error: func %q argument %q [%d] requires %v, but got %v",
				ident.Name, params.At(i).Name(), i, want, got)
		}
	}
}

func checkValidFuncArg(typ types.Type) error {
	switch typ.(type) {
	case *types.Tuple:
		panic("Tuple not expected")
	default:
		// TODO: Consider investigating other types more thoroughly.
		return nil

	case *types.Chan, *types.Signature:
		return fmt.Errorf("unsupported argument type: %s (can't be serialized)", typ.String())
	}
}
