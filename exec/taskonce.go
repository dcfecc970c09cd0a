// Copyright 2018 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package exec

import "sync"

// errOnce runs an action at most once, remembering the error it
// returned for subsequent callers.
type errOnce struct {
	once sync.Once
	err  error
}

// Do invokes the action on the first call; every call returns the
// error from that single invocation.
func (o *errOnce) Do(do func() error) error {
	o.once.Do(func() {
		o.err = do()
	})
	return o.err
}

// taskOnce runs actions at most once per key. It is safe for
// concurrent use.
type taskOnce sync.Map

// Do invokes the action at most once for the given key, returning
// the error of the key's single invocation.
func (t *taskOnce) Do(key interface{}, do func() error) error {
	v, _ := (*sync.Map)(t).LoadOrStore(key, new(errOnce))
	return v.(*errOnce).Do(do)
}
