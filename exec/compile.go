// Copyright 2018 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package exec

import (
	"fmt"
	"strings"

	"github.com/grailbio/base/log"
	"github.com/grailbio/bigframe"
	"github.com/grailbio/bigframe/frameio"
)

// Pipeline returns the sequence of frames that may be pipelined
// starting from frame. Frames that do not have shuffle dependencies
// may be pipelined together.
func pipeline(frame bigframe.DataFrame) (frames []bigframe.DataFrame) {
	for {
		// Stop at *Results, so we can re-use previous tasks.
		if _, ok := frame.(*Result); ok {
			return
		}
		frames = append(frames, frame)
		if frame.NumDep() != 1 {
			return
		}
		dep := frame.Dep(0)
		if dep.Shuffle {
			return
		}
		frame = dep.DataFrame
	}
}

// Compile compiles the provided frame into a set of task graphs,
// each representing the computation for one partition of the frame.
// The frame is produced by the provided invocation. Compile coalesces
// frame operations that can be pipelined into single tasks, creating
// wide dependencies only at shuffle boundaries. The provided namer
// must mint names that are unique to the session. The order in which
// the namer is invoked is guaranteed to be deterministic.
//
// TODO(marius): we don't currently reuse tasks across compilations,
// even though this could sometimes safely be done (when the number
// of partitions and the kind of partitioner matches at shuffle
// boundaries). We should at least support this use case to avoid
// redundant computations.
func compile(namer taskNamer, inv bigframe.Invocation, frame bigframe.DataFrame) ([]*Task, error) {
	// Reuse tasks from a previous invocation.
	if result, ok := frame.(*Result); ok {
		return result.tasks, nil
	}
	// Pipeline frames and create a task for each underlying partition,
	// pipelining the eligible computations.
	tasks := make([]*Task, frame.NumPart())
	frames := pipeline(frame)
	ops := make([]string, 0, len(frames)+1)
	ops = append(ops, fmt.Sprintf("inv%x", inv.Index))
	for i := len(frames) - 1; i >= 0; i-- {
		ops = append(ops, frames[i].Op())
	}
	opName := namer.New(strings.Join(ops, "_"))
	for i := range tasks {
		tasks[i] = &Task{
			Type:         frames[0],
			Name:         TaskName{Op: opName, Part: i, NumPart: len(tasks)},
			Invocation:   inv,
			NumPartition: 1,
			Frames:       frames,
		}
	}
	// Pipeline execution, folding multiple frame operations
	// into a single task by composing their readers.
	for i := len(frames) - 1; i >= 0; i-- {
		for part := range tasks {
			var (
				part   = part
				reader = frames[i].Reader
				prev   = tasks[part].Do
			)
			if prev == nil {
				// First frame reads the input directly.
				tasks[part].Do = func(readers []frameio.Reader) frameio.Reader {
					return reader(part, readers)
				}
			} else {
				// Subsequent frames read the previous frame's output.
				tasks[part].Do = func(readers []frameio.Reader) frameio.Reader {
					return reader(part, []frameio.Reader{prev(readers)})
				}
			}
		}
	}
	// Now capture the dependencies for this task set;
	// they are encoded in the last frame.
	lastFrame := frames[len(frames)-1]
	for i := 0; i < lastFrame.NumDep(); i++ {
		dep := lastFrame.Dep(i)
		deptasks, err := compile(namer, inv, dep.DataFrame)
		if err != nil {
			return nil, err
		}
		// These needn't be shuffle deps, for example if we terminated
		// pipelining early because we're reusing a result.
		if !dep.Shuffle {
			if len(tasks) != len(deptasks) {
				log.Panicf("tasks:%d deptasks:%d", len(tasks), len(deptasks))
			}
			for part := range tasks {
				tasks[part].Deps = append(tasks[part].Deps,
					TaskDep{Head: deptasks[part]})
			}
			continue
		}

		// Assign a partitioner and partition width to our dependencies, so
		// that these are properly partitioned at the time of computation.
		for _, task := range deptasks {
			task.NumPartition = frame.NumPart()
			task.Partitioner = dep.Partition
		}
		// The dependency tasks are a phase: they share all of their
		// downstream consumers, which read them a partition at a time.
		deptasks[0].Group = deptasks

		// Each partition reads different partitions from all of the previous
		// tasks's partitions.
		for partition := range tasks {
			tasks[partition].Deps = append(tasks[partition].Deps,
				TaskDep{Head: deptasks[0], Partition: partition, Ordered: dep.Ordered})
		}
	}
	return tasks, nil
}

type taskNamer map[string]int

func (n taskNamer) New(name string) string {
	c := n[name]
	n[name]++
	if c == 0 {
		return name
	}
	return fmt.Sprintf("%s%d", name, c)
}
