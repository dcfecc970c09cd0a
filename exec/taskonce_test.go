// Copyright 2018 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package exec

import (
	"errors"
	"sync"
	"sync/atomic"
	"testing"
)

func TestTaskOnce(t *testing.T) {
	var (
		once  taskOnce
		calls uint32
		wg    sync.WaitGroup
	)
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := once.Do("compile", func() error {
				atomic.AddUint32(&calls, 1)
				return nil
			}); err != nil {
				t.Error(err)
			}
		}()
	}
	wg.Wait()
	if got, want := atomic.LoadUint32(&calls), uint32(1); got != want {
		t.Errorf("got %v calls, want %v", got, want)
	}
}

func TestTaskOnceError(t *testing.T) {
	var (
		once   taskOnce
		broken = errors.New("compile failed")
	)
	if got, want := once.Do(1, func() error { return broken }), broken; got != want {
		t.Errorf("got %v, want %v", got, want)
	}
	// The error sticks to its key; other keys are unaffected.
	if got, want := once.Do(1, func() error { panic("ran twice") }), broken; got != want {
		t.Errorf("got %v, want %v", got, want)
	}
	if err := once.Do(2, func() error { return nil }); err != nil {
		t.Errorf("unexpected error %v", err)
	}
}
