// Copyright 2020 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package exec

import (
	"os"
	"strings"
)

// command renders the current process's command line so that it can
// be pasted into sh verbatim.
func command() string {
	quoted := make([]string, len(os.Args))
	for i, arg := range os.Args {
		// Single quotes pass everything through literally; embedded
		// single quotes are closed, escaped, and reopened.
		quoted[i] = "'" + strings.Replace(arg, "'", `'\''`, -1) + "'"
	}
	return strings.Join(quoted, " ")
}
