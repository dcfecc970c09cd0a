// Tests the static frame typechecker.
//
// This is a correctly-typed Go program (even though it's incomplete and thus
// not runnable, for simplicity). However, its bigframe Func invocation is
// incorrectly typed, and the static typechecker find that, in this case.
package main

import (
	"context"

	"github.com/grailbio/bigframe"
	"github.com/grailbio/bigframe/exec"
)

var testFunc = bigframe.Func(func(argInt int, argString string) bigframe.DataFrame {
	return nil
})

func main() {
	ctx := context.Background()
	var session *exec.Session
	_ = session.Must(ctx, testFunc, "i should be an int", "i'm ok")
}
