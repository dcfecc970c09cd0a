// Copyright 2019 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package exec

import (
	"context"
	"math/rand"
	"sync"
	"testing"
	"time"
)

// TestTaskSubscriber exercises the subscription mechanism under
// concurrent state changes: every task whose state was set must be
// reported to the subscriber, and an unsubscribed subscriber must see
// nothing.
func TestTaskSubscriber(t *testing.T) {
	const (
		numTasks   = 50000
		numWriters = 8
	)
	var (
		sub     = NewTaskSubscriber()
		gone    = NewTaskSubscriber()
		tasks   = make([]*Task, numTasks)
		mu      sync.Mutex
		touched = make(map[*Task]bool)
	)
	for i := range tasks {
		tasks[i] = &Task{}
		tasks[i].Subscribe(sub)
		tasks[i].Subscribe(gone)
		tasks[i].Unsubscribe(gone)
	}
	var writers sync.WaitGroup
	for w := 0; w < numWriters; w++ {
		writers.Add(1)
		go func(seed int64) {
			defer writers.Done()
			r := rand.New(rand.NewSource(seed))
			for j := 0; j < numTasks/numWriters; j++ {
				task := tasks[r.Intn(len(tasks))]
				task.Set(TaskState(1 + r.Intn(int(maxState)-1)))
				mu.Lock()
				touched[task] = true
				mu.Unlock()
			}
		}(int64(w))
	}
	seen := make(map[*Task]bool)
	drain := func() {
		for _, task := range sub.Tasks() {
			seen[task] = true
		}
	}
	donec := make(chan struct{})
	go func() {
		writers.Wait()
		close(donec)
	}()
loop:
	for {
		select {
		case <-sub.Ready():
			drain()
		case <-donec:
			drain()
			break loop
		}
	}
	for task := range touched {
		if !seen[task] {
			t.Fatalf("task %v changed state but was not reported", task)
		}
	}
	if got, want := len(gone.Tasks()), 0; got != want {
		t.Errorf("unsubscribed subscriber saw %v tasks, want %v", got, want)
	}
}

func TestTaskWaitState(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	task := &Task{}
	statec := make(chan TaskState, 1)
	go func() {
		state, err := task.WaitState(ctx, TaskOk)
		if err != nil {
			t.Error(err)
		}
		statec <- state
	}()
	task.Set(TaskRunning)
	task.Set(TaskOk)
	select {
	case state := <-statec:
		if got, want := state, TaskOk; got != want {
			t.Errorf("got %v, want %v", got, want)
		}
	case <-time.After(10 * time.Second):
		t.Fatal("timed out waiting for TaskOk")
	}
}

func TestTaskWaitCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	task := &Task{}
	errc := make(chan error, 1)
	go func() {
		_, err := task.WaitState(ctx, TaskOk)
		errc <- err
	}()
	cancel()
	if got, want := <-errc, context.Canceled; got != want {
		t.Errorf("got %v, want %v", got, want)
	}
}
