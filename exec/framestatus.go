// Copyright 2019 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package exec

import (
	"context"

	"github.com/grailbio/base/status"
	"github.com/grailbio/bigframe"
)

// frameStatus is the information directly displayed for a frame's status.
type frameStatus struct {
	// frame is the data frame to which this status information applies.
	frame bigframe.DataFrame
	// counts is the count of tasks, by state, computing this frame.
	counts [maxState]int32
}

// printTo prints s to t, translating our internal representation of the
// status of a frame to a human-consumable string.
func (s frameStatus) printTo(t *status.Task) {
	idle := s.counts[TaskInit] + s.counts[TaskWaiting]
	if s.counts[TaskLost] > 0 || s.counts[TaskErr] > 0 {
		// Provide a more detailed view if there are tasks that are lost or in
		// error.
		t.Printf("tasks idle/running/done(lost)/error: %d/%d/%d(%d)/%d",
			idle, s.counts[TaskRunning], s.counts[TaskOk], s.counts[TaskLost], s.counts[TaskErr])
		return
	}
	t.Printf("tasks idle/running/done: %d/%d/%d", idle, s.counts[TaskRunning], s.counts[TaskOk])
}

// iterTasks calls f for each task in the full graph specified by tasks.
// f is called exactly once for each task.
func iterTasks(tasks []*Task, f func(*Task)) {
	visited := make(map[*Task]bool)
	var iter func(*Task)
	iter = func(t *Task) {
		if visited[t] {
			return
		}
		visited[t] = true
		f(t)
		for _, d := range t.Deps {
			for i := 0; i < d.NumTask(); i++ {
				iter(d.Task(i))
			}
		}
	}
	for _, t := range tasks {
		iter(t)
	}
}

// maintainFrameGroup maintains a status.Group that tracks the evaluation
// status of the frames computed by tasks. This is usually called in a
// goroutine and returns only when ctx is done.
func maintainFrameGroup(ctx context.Context, tasks []*Task, group *status.Group) {
	frameToStatusTask := make(map[bigframe.DataFrame]*status.Task)
	// We set up the status tasks in compilation order for stable display.
	iterTasks(tasks, func(t *Task) {
		for _, f := range t.Frames {
			if _, ok := frameToStatusTask[f]; !ok {
				frameToStatusTask[f] = group.Start(f.Op())
			}
		}
		group.Printf("count: %d", len(frameToStatusTask))
	})
	statusc := make(chan frameStatus)
	go monitorFrameStatus(ctx, tasks, group, statusc)
	for s := range statusc {
		s.printTo(frameToStatusTask[s.frame])
	}
	for _, statusTask := range frameToStatusTask {
		statusTask.Printf("tasks done")
		statusTask.Done()
	}
	group.Printf("count: %d; done", len(frameToStatusTask))
}

// monitorFrameStatus continually sends frameStatus updates to statusc as
// the states of tasks are updated. It closes statusc when ctx is done.
func monitorFrameStatus(ctx context.Context, tasks []*Task, group *status.Group, statusc chan<- frameStatus) {
	sub := NewTaskSubscriber()
	taskToLastState := make(map[*Task]TaskState)
	frameToStatus := make(map[bigframe.DataFrame]frameStatus)
	iterTasks(tasks, func(t *Task) {
		// Subscribe to updates before we grab the initial state so that we
		// are guaranteed to see every subsequent update.
		t.Subscribe(sub)
		taskState := t.State()
		taskToLastState[t] = taskState
		for _, f := range t.Frames {
			s := frameToStatus[f]
			s.frame = f
			s.counts[taskState]++
			frameToStatus[f] = s
			statusc <- s
		}
	})
	defer func() {
		iterTasks(tasks, func(t *Task) {
			t.Unsubscribe(sub)
		})
	}()
loop:
	for {
		select {
		case <-sub.Ready():
			for _, task := range sub.Tasks() {
				lastState := taskToLastState[task]
				state := task.State()
				for _, f := range task.Frames {
					s := frameToStatus[f]
					s.counts[lastState]--
					s.counts[state]++
					frameToStatus[f] = s
					statusc <- s
				}
				taskToLastState[task] = state
			}
		case <-ctx.Done():
			break loop
		}
	}
	close(statusc)
}
