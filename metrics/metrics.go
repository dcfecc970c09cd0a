// Copyright 2019 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

// Package metrics defines measures of dataframe processing that user
// code can update during evaluation. Metric values are aggregated in
// scopes: each task runs with a scope attached to its context (see
// ScopedContext), the executor merges task scopes as tasks complete,
// and the merged values are available from the session's results.
//
// Metrics must be created at package initialization time so that
// driver and worker processes agree on metric identities.
package metrics

import (
	"encoding/gob"
	"sync"
	"sync/atomic"
	"time"
)

func init() {
	gob.Register(&counterInstance{})
	gob.Register(&timerInstance{})
}

var (
	mu sync.Mutex
	// metrics maps all registered metrics by id. We reserve index 0 to minimize
	// the chances of zero-valued metrics instances being used uninitialized.
	metrics = []Metric{nil}
)

func newMetric(makeMetric func(id int) Metric) {
	mu.Lock()
	metrics = append(metrics, makeMetric(len(metrics)))
	mu.Unlock()
}

// A Metric is a measure aggregated in scopes. Metric instances
// travel between processes inside scopes, so instance types are
// registered with gob.
type Metric interface {
	metricID() int
	newInstance() interface{}

	merge(interface{}, interface{})
}

// Counter is a cumulative counter.
type Counter struct {
	id int
}

// NewCounter creates, registers, and returns a new Counter.
func NewCounter() Counter {
	var c Counter
	newMetric(func(id int) Metric {
		c.id = id
		return c
	})
	return c
}

// Value returns the current value of c in scope.
func (c Counter) Value(scope *Scope) int64 {
	return atomic.LoadInt64(&scope.instance(c).(*counterInstance).Value)
}

// Incr increments c's value in scope by n.
func (c Counter) Incr(scope *Scope, n int64) {
	atomic.AddInt64(&scope.instance(c).(*counterInstance).Value, n)
}

func (c Counter) metricID() int            { return c.id }
func (c Counter) newInstance() interface{} { return new(counterInstance) }

func (c Counter) merge(x, y interface{}) {
	atomic.AddInt64(&x.(*counterInstance).Value, atomic.LoadInt64(&y.(*counterInstance).Value))
}

type counterInstance struct {
	Value int64
}

// Timer accumulates the duration and invocation count of timed
// sections, e.g., the time an evaluation spends in a user function.
type Timer struct {
	id int
}

// NewTimer creates, registers, and returns a new Timer.
func NewTimer() Timer {
	var t Timer
	newMetric(func(id int) Metric {
		t.id = id
		return t
	})
	return t
}

// Value returns the total duration recorded by t in scope.
func (t Timer) Value(scope *Scope) time.Duration {
	return time.Duration(atomic.LoadInt64(&scope.instance(t).(*timerInstance).Nanos))
}

// Count returns the number of durations recorded by t in scope.
func (t Timer) Count(scope *Scope) int64 {
	return atomic.LoadInt64(&scope.instance(t).(*timerInstance).Count)
}

// Add records d in scope.
func (t Timer) Add(scope *Scope, d time.Duration) {
	inst := scope.instance(t).(*timerInstance)
	atomic.AddInt64(&inst.Nanos, int64(d))
	atomic.AddInt64(&inst.Count, 1)
}

// Time starts timing a section, returning a function that stops
// timing and records the elapsed duration in scope.
func (t Timer) Time(scope *Scope) (stop func()) {
	start := time.Now()
	return func() { t.Add(scope, time.Since(start)) }
}

func (t Timer) metricID() int            { return t.id }
func (t Timer) newInstance() interface{} { return new(timerInstance) }

func (t Timer) merge(x, y interface{}) {
	xinst, yinst := x.(*timerInstance), y.(*timerInstance)
	atomic.AddInt64(&xinst.Nanos, atomic.LoadInt64(&yinst.Nanos))
	atomic.AddInt64(&xinst.Count, atomic.LoadInt64(&yinst.Count))
}

type timerInstance struct {
	Nanos int64
	Count int64
}
