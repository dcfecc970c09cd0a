// Copyright 2019 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package exec

import (
	"github.com/grailbio/base/config"
	"github.com/grailbio/bigmachine"
)

// The "bigframe" config instance produces a started *Session. The
// config system (and thus the profile) selects the bigmachine system;
// with no system configured, the session runs in-process.
func init() {
	config.Register("bigframe", func(inst *config.Constructor) {
		sess := newSession()
		inst.IntVar(&sess.p, "parallelism", 1024, "allowable parallelism for the job")
		inst.FloatVar(&sess.maxLoad, "max-load", DefaultMaxLoad, "per-machine maximum load")
		var system bigmachine.System
		inst.InstanceVar(&system, "system", "", "the bigmachine system used for job execution")
		inst.Doc = "bigframe configures the bigframe runtime"
		inst.New = func() (interface{}, error) {
			if system == nil {
				sess.executor = newLocalExecutor()
			} else {
				sess.executor = newBigmachineExecutor(system)
			}
			sess.start()
			return sess, nil
		}
	})
}
