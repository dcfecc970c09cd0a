// Copyright 2019 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package exec

import (
	"encoding/json"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/grailbio/bigframe"
)

// traceEvent is an event in the Chrome tracing format. The fields are
// mirrored exactly. For more details, see:
//
//	https://docs.google.com/document/d/1CvAClvFfyA5R-PhYUmn5OOQtYMH4h6I0nSsKchNAySU/preview
type traceEvent struct {
	Pid  int                    `json:"pid"`
	Tid  int                    `json:"tid"`
	Ts   int64                  `json:"ts"`
	Ph   string                 `json:"ph"`
	Dur  int64                  `json:"dur,omitempty"`
	Name string                 `json:"name"`
	Cat  string                 `json:"cat,omitempty"`
	Args map[string]interface{} `json:"args"`
}

// A tracer collects session events in the Chrome tracing format so
// they can be inspected with chrome://tracing. Machines appear as
// Chrome "processes"; task and invocation events are recorded against
// the machine that ran them. Virtual thread IDs keep concurrent
// events on separate rows, and begin/end pairs are folded into
// complete ("X") events at render time.
type tracer struct {
	mu sync.Mutex

	events        []traceEvent
	taskEvents    map[*Task][]traceEvent
	compileEvents map[compileKey][]traceEvent

	machinePids     map[*frameMachine]int
	machineTidPools map[*frameMachine]tidPool

	// firstEvent is used to store the time of the first observed
	// event so that the offsets in the trace are meaningful.
	firstEvent time.Time
}

// tidPool allocates virtual thread IDs. Slice indexes are the IDs;
// the value records whether an ID is free. The pool grows to the peak
// number of unmatched "B" events.
type tidPool []bool

// compileKey is the key used for compilation events, which are scoped to a
// (machine, invocation).
type compileKey struct {
	addr string
	inv  uint64
}

func newTracer() *tracer {
	return &tracer{
		taskEvents:      make(map[*Task][]traceEvent),
		compileEvents:   make(map[compileKey][]traceEvent),
		machinePids:     make(map[*frameMachine]int),
		machineTidPools: make(map[*frameMachine]tidPool),
	}
}

// Event records an event for subject, which must be a *Task or a
// bigframe.Invocation. ph is the Chrome tracing phase; args are
// interleaved key-value metadata and must have even length. A nil
// mach attributes the event to the evaluator itself.
func (t *tracer) Event(mach *frameMachine, subject interface{}, ph string, args ...interface{}) {
	if t == nil {
		return
	}
	if len(args)%2 != 0 {
		panic("trace.Event: invalid arguments")
	}
	var event traceEvent
	event.Args = make(map[string]interface{}, len(args)/2)
	for i := 0; i < len(args); i += 2 {
		event.Args[fmt.Sprint(args[i])] = args[i+1]
	}
	event.Ph = ph
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.firstEvent.IsZero() {
		t.firstEvent = time.Now()
		event.Ts = 0
	} else {
		event.Ts = time.Since(t.firstEvent).Nanoseconds() / 1e3
	}
	if mach != nil {
		pid, ok := t.machinePids[mach]
		if !ok {
			pid = len(t.machinePids) + 1 // pid=0 is reserved for evaluator events
			t.machinePids[mach] = pid
			// Attach "process" name metadata so we can identify where a task is running.
			t.events = append(t.events, traceEvent{
				Pid:  pid,
				Ts:   event.Ts,
				Ph:   "M",
				Name: "process_name",
				Args: map[string]interface{}{
					"name": mach.Addr,
				},
			})
		}
		event.Pid = pid
	}
	switch arg := subject.(type) {
	case *Task:
		event.Name = arg.Name.String()
		event.Cat = "task"
		t.assignTid(mach, ph, t.taskEvents[arg], &event)
		t.taskEvents[arg] = append(t.taskEvents[arg], event)
	case bigframe.Invocation:
		event.Name = fmt.Sprint(arg.Index)
		event.Cat = "invocation"
		key := compileKey{mach.Addr, arg.Index}
		t.assignTid(mach, ph, t.compileEvents[key], &event)
		t.compileEvents[key] = append(t.compileEvents[key], event)
	default:
		panic(fmt.Sprintf("unsupported subject type %T", subject))
	}
}

// assignTid picks event's thread ID from mach's pool: "B" events
// acquire an ID and "E" events reuse and release the ID of the "B"
// they close. events holds the subject's prior events.
func (t *tracer) assignTid(mach *frameMachine, ph string, events []traceEvent, event *traceEvent) {
	event.Tid = 0
	tidPool := t.machineTidPools[mach]
	switch ph {
	case "B":
		event.Tid = tidPool.Acquire()
		t.machineTidPools[mach] = tidPool
	case "E":
		if len(events) == 0 {
			break
		}
		lastEvent := events[len(events)-1]
		if lastEvent.Ph != "B" {
			break
		}
		event.Tid = lastEvent.Tid
		tidPool.Release(event.Tid)
	}
}

// Marshal writes the captured trace to w as a Chrome trace envelope.
func (t *tracer) Marshal(w io.Writer) error {
	t.mu.Lock()
	events := make([]traceEvent, len(t.events))
	copy(events, t.events)
	for _, v := range t.taskEvents {
		events = appendCoalesce(events, v, t.firstEvent)
	}
	for _, v := range t.compileEvents {
		events = appendCoalesce(events, v, t.firstEvent)
	}
	t.mu.Unlock()

	envelope := struct {
		TraceEvents []traceEvent `json:"traceEvents"`
	}{events}
	enc := json.NewEncoder(w)
	return enc.Encode(envelope)
}

// appendCoalesce appends events to list, pairing each "B" with its
// "E" into one complete "X" event and pruning orphans of either
// kind.
func appendCoalesce(list []traceEvent, events []traceEvent, firstEvent time.Time) []traceEvent {
	var begIndex = -1
	for _, event := range events {
		if event.Ph == "B" && begIndex < 0 {
			begIndex = len(list)
		}
		if event.Ph == "E" && begIndex >= 0 {
			list[begIndex].Ph = "X"
			list[begIndex].Dur = event.Ts - list[begIndex].Ts
			if list[begIndex].Dur == 0 {
				list[begIndex].Dur = 1
			}
			for k, v := range event.Args {
				if _, ok := list[begIndex].Args[k]; !ok {
					list[begIndex].Args[k] = v
				}
			}
			// A retry on the same machine starts a fresh pair.
			begIndex = -1
		} else if event.Ph != "E" {
			list = append(list, event)
		} // drop unmatched "E"s
	}
	if begIndex >= 0 {
		// We have an unmatched "B". Drop it.
		copy(list[begIndex:], list[begIndex+1:])
		list = list[:len(list)-1]
	}
	return list
}

// Acquire returns a free thread ID, growing the pool when none is
// available. IDs are 1-indexed; 0 is left to events with no
// meaningful thread.
func (p *tidPool) Acquire() int {
	for tid, available := range *p {
		if available {
			(*p)[tid] = false
			return tid + 1
		}
	}
	// Nothing available in the pool, so grow it.
	tid := len(*p)
	*p = append(*p, false)
	return tid + 1
}

// Release returns a previously acquired thread ID to the pool.
func (p tidPool) Release(tid int) {
	if p[tid-1] {
		panic("releasing unallocated tid")
	}
	p[tid-1] = true
}
