// Copyright 2018 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package exec

import (
	"bufio"
	"context"
	"encoding/gob"
	"fmt"
	"io"
	"io/ioutil"
	"math/rand"
	"net/http"
	"runtime"
	"runtime/debug"
	"sync"
	"time"

	"github.com/grailbio/base/backgroundcontext"
	"github.com/grailbio/base/errors"
	"github.com/grailbio/base/limiter"
	"github.com/grailbio/base/log"
	"github.com/grailbio/base/retry"
	"github.com/grailbio/base/status"
	"github.com/grailbio/bigframe"
	"github.com/grailbio/bigframe/frame"
	"github.com/grailbio/bigframe/frameio"
	"github.com/grailbio/bigframe/metrics"
	"github.com/grailbio/bigframe/stats"
	"github.com/grailbio/bigmachine"
)

func init() {
	gob.Register(invocationRef{})
}

const (
	// StatsPollInterval is the period at which task statistics are polled.
	statsPollInterval = 10 * time.Second

	// StatTimeout is the maximum amount of time allowed to retrieve
	// machine stats, per iteration.
	statTimeout = 5 * time.Second
)

// RetryPolicy is the default retry policy used for machine calls.
var retryPolicy = retry.Backoff(time.Second, 5*time.Second, 1.5)

// FatalErr is used to match fatal errors.
var fatalErr = errors.E(errors.Fatal)

// DoShuffleReaders determines whether reader tasks should be
// shuffled in order to avoid potential thundering herd issues.
// This should only be used in testing when deterministic ordering
// matters.
//
// TODO(marius): make this a session option instead.
var DoShuffleReaders = true

func init() {
	gob.Register(&worker{})
}

// BigmachineExecutor is an executor that runs individual tasks on
// bigmachine machines.
type bigmachineExecutor struct {
	system bigmachine.System
	params []bigmachine.Param

	sess *Session
	b    *bigmachine.B

	worker *worker
	mgr    *machineManager

	// invCache caches gob-encoded invocations on disk so that each
	// invocation is encoded once and then streamed to every machine
	// that compiles it.
	invCache *invDiskCache

	status *status.Group

	mu sync.Mutex

	locations map[*Task]*frameMachine
	stats     map[string]stats.Values

	// Invocations and invocationDeps are used to track dependencies
	// between invocations so that we can execute arbitrary graphs of
	// frames on bigmachine workers. Note that this requires that we
	// hold on to the invocations, which is somewhat unfortunate, but
	// I don't see a clean way around it.
	invocations    map[uint64]bigframe.Invocation
	invocationDeps map[uint64]map[uint64]bool
}

func newBigmachineExecutor(system bigmachine.System, params ...bigmachine.Param) *bigmachineExecutor {
	return &bigmachineExecutor{system: system, params: params}
}

// Start registers the bigframe worker with bigmachine, starts the
// bigmachine, and then starts cluster management.
//
// TODO(marius): provide fine-grained fault tolerance.
func (b *bigmachineExecutor) Start(sess *Session) (shutdown func()) {
	b.sess = sess
	b.b = bigmachine.Start(b.system)
	b.locations = make(map[*Task]*frameMachine)
	b.stats = make(map[string]stats.Values)
	if status := sess.Status(); status != nil {
		b.status = status.Group("bigmachine")
	}
	b.invocations = make(map[uint64]bigframe.Invocation)
	b.invocationDeps = make(map[uint64]map[uint64]bool)
	b.worker = new(worker)
	b.invCache = newInvDiskCache()
	b.mgr = newMachineManager(b.b, b.params, b.status, sess.Parallelism(), sess.MaxLoad(), b.worker)
	ctx, cancel := context.WithCancel(backgroundcontext.Get())
	go b.mgr.Do(ctx)
	return func() {
		cancel()
		b.invCache.close()
		b.b.Shutdown()
	}
}

func (b *bigmachineExecutor) Name() string { return "bigmachine" }

func (b *bigmachineExecutor) Runnable(task *Task) {
	task.Lock()
	switch task.state {
	case TaskWaiting, TaskRunning:
		task.Unlock()
		return
	}
	task.state = TaskWaiting
	task.Broadcast()
	task.Unlock()
	go b.run(task)
}

type invocationRef struct{ Index uint64 }

func (b *bigmachineExecutor) compile(ctx context.Context, m *frameMachine, inv bigframe.Invocation) error {
	// Substitute Result arguments for an invocation ref and record the
	// dependency.
	b.mu.Lock()
	for i, arg := range inv.Args {
		result, ok := arg.(*Result)
		if !ok {
			continue
		}
		inv.Args[i] = invocationRef{result.inv.Index}
		if _, ok := b.invocations[result.inv.Index]; !ok {
			b.mu.Unlock()
			return fmt.Errorf("invalid result invocation %x", result.inv.Index)
		}
		if b.invocationDeps[inv.Index] == nil {
			b.invocationDeps[inv.Index] = make(map[uint64]bool)
		}
		b.invocationDeps[inv.Index][result.inv.Index] = true
	}
	b.invocations[inv.Index] = inv

	// Now traverse the invocation graph bottom-up, making sure
	// everything on the machine is compiled. We produce a valid order,
	// but we don't capture opportunities for parallel compilations.
	// This seems needless for most uses.
	var (
		todo        = []uint64{inv.Index}
		invocations []bigframe.Invocation
	)
	for len(todo) > 0 {
		var i uint64
		i, todo = todo[0], todo[1:]
		invocations = append(invocations, b.invocations[i])
		for j := range b.invocationDeps[i] {
			todo = append(todo, j)
		}
	}
	b.mu.Unlock()

	for i := len(invocations) - 1; i >= 0; i-- {
		inv := invocations[i]
		err := m.Compiles.Do(inv.Index, func() error {
			b.sess.tracer.Event(m, inv, "B")
			err := b.compileInv(ctx, m, inv)
			if err == nil {
				b.sess.tracer.Event(m, inv, "E")
			} else {
				b.sess.tracer.Event(m, inv, "E", "error", err)
			}
			return err
		})
		if err != nil {
			return err
		}
	}
	return nil
}

// compileInv compiles inv on machine m, streaming the gob-encoded
// invocation from the local disk cache. The invocation is encoded
// and cached at most once per session; each call attempt opens a
// fresh stream, as a partially consumed stream cannot be retried.
func (b *bigmachineExecutor) compileInv(ctx context.Context, m *frameMachine, inv bigframe.Invocation) error {
	for retries := 0; ; retries++ {
		invReader, err := b.invCache.getOrCreate(inv.Index, func(w io.Writer) error {
			return gob.NewEncoder(w).Encode(inv)
		})
		if err != nil {
			return err
		}
		err = m.Call(ctx, "Worker.Compile", invReader, nil)
		if closeErr := invReader.Close(); closeErr != nil && err == nil {
			err = closeErr
		}
		if err == nil || !errors.IsTemporary(err) {
			return err
		}
		if err = retry.Wait(ctx, retryPolicy, retries); err != nil {
			return err
		}
	}
}

func (b *bigmachineExecutor) run(task *Task) {
	ctx := backgroundcontext.Get()
	task.Status.Print("waiting for a machine")

	// Use the invocation's index as the priority so that tasks from
	// earlier invocations are scheduled first.
	offerc, cancel := b.mgr.Offer(int(task.Invocation.Index), 1)
	defer cancel()
	var m *frameMachine
	select {
	case <-ctx.Done():
		task.Error(ctx.Err())
		return
	case m = <-offerc:
	}

	numTasks := m.Stats.Int("tasks")
	numTasks.Add(1)
	m.UpdateStatus()
	defer func() {
		numTasks.Add(-1)
		m.UpdateStatus()
	}()

	// Make sure that the invocation has been compiled on the selected
	// machine.
compile:
	for {
		err := b.compile(ctx, m, task.Invocation)
		switch {
		case err == nil:
			break compile
		case ctx.Err() == nil && (err == context.Canceled || err == context.DeadlineExceeded):
			// In this case, we've caught a context error from a prior
			// invocation. We're going to try to run it again. Note that this
			// is racy: the behavior remains correct but may imply additional
			// data transfer. C'est la vie.
			m.Compiles.Forget(task.Invocation.Index)
		case errors.Is(errors.Net, err), errors.IsTemporary(err):
			// Compilations don't involve invoking user code, nor do they
			// involve dependencies other than potentially uploading data from
			// the driver node, so we interpret errors more strictly.
			task.Status.Printf("task lost while compiling bigframe.Func: %v", err)
			task.Set(TaskLost)
			m.Done(1, err)
			return
		default:
			task.Errorf("failed to compile invocation on machine %s: %v", m.Addr, err)
			m.Done(1, err)
			return
		}
	}

	// Populate the run request. Include the locations of all dependent
	// outputs so that the receiving worker can read from them.
	req := taskRunRequest{
		Task:       task.Name,
		Invocation: task.Invocation.Index,
		Locations:  make(map[TaskName]string),
	}
	for _, dep := range task.Deps {
		for i := 0; i < dep.NumTask(); i++ {
			deptask := dep.Task(i)
			depm := b.location(deptask)
			if depm == nil {
				// TODO(marius): make this a separate state, or a separate
				// error type?
				task.Errorf("task %s has no location", deptask.Name)
				m.Done(1, nil)
				return
			}
			req.Locations[deptask.Name] = depm.Addr
		}
	}
	task.Status.Print(m.Addr)

	// While we're running, also update task stats directly into the task's status.
	// TODO(marius): also aggregate stats across all tasks.
	ctx, cancel = context.WithCancel(ctx)
	defer cancel()
	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case <-time.After(statsPollInterval):
			}
			var vals stats.Values
			if err := m.Call(ctx, "Worker.Stats", struct{}{}, &vals); err != nil {
				if err != context.Canceled {
					log.Error.Printf("Worker.Stats: %v", err)
				}
				return
			}
			task.Status.Printf("%s: %s", m.Addr, vals)
			b.mu.Lock()
			name := fmt.Sprintf("%s(%x)", task.Name, task.Invocation.Index)
			b.stats[name] = vals
			b.mu.Unlock()
			b.updateStatus()
		}
	}()

	task.Set(TaskRunning)
	b.sess.tracer.Event(m, task, "B")
	var reply taskRunReply
	err := m.RetryCall(ctx, "Worker.Run", req, &reply)
	m.Done(1, err)
	switch {
	case err == nil:
		b.sess.tracer.Event(m, task, "E")
		task.Scope.Merge(&reply.Scope)
		b.setLocation(task, m)
		task.Set(TaskOk)
		m.Assign(task)
	case ctx.Err() != nil:
		b.sess.tracer.Event(m, task, "E", "error", err)
		task.Error(err)
	case errors.Match(fatalErr, err):
		// Fatal errors aren't retryable.
		b.sess.tracer.Event(m, task, "E", "error", err)
		task.Error(err)
	default:
		// Everything else we consider as the task being lost. It'll get
		// resubmitted by the evaluator.
		b.sess.tracer.Event(m, task, "E", "error", err)
		task.Status.Printf("lost task during task evaluation: %v", err)
		task.Set(TaskLost)
	}
}

func (b *bigmachineExecutor) Reader(ctx context.Context, task *Task, partition int) frameio.Reader {
	m := b.location(task)
	if m == nil {
		return frameio.ErrReader(errors.E(errors.NotExist, fmt.Sprintf("task %s", task.Name)))
	}
	// TODO(marius): access the store here, too, in case it's a shared one (e.g., s3)
	return newMachineReader(m.Machine, taskPartition{task.Name, partition})
}

func (b *bigmachineExecutor) HandleDebug(handler *http.ServeMux) {
	b.b.HandleDebug(handler)
}

// Location returns the machine on which the results of the provided
// task resides.
func (b *bigmachineExecutor) location(task *Task) *frameMachine {
	b.mu.Lock()
	m := b.locations[task]
	b.mu.Unlock()
	return m
}

func (b *bigmachineExecutor) setLocation(task *Task, m *frameMachine) {
	b.mu.Lock()
	b.locations[task] = m
	b.mu.Unlock()
}

func (b *bigmachineExecutor) updateStatus() {
	total := make(stats.Values)
	b.mu.Lock()
	for _, stat := range b.stats {
		for k, v := range stat {
			total[k] += v
		}
	}
	b.mu.Unlock()
	b.status.Print(total)
}

// A worker is the bigmachine service that runs individual tasks and serves
// the results of previous runs. Currently all output is buffered in memory.
type worker struct {
	// Exported just satisfies gob's persnickety nature: we need at least
	// one exported field.
	Exported struct{}

	b     *bigmachine.B
	store Store

	mu       sync.Mutex
	compiles taskOnce
	tasks    map[uint64]map[TaskName]*Task
	frames   map[uint64]bigframe.DataFrame
	stats    *stats.Map

	commitLimiter *limiter.Limiter
}

func (w *worker) Init(b *bigmachine.B) error {
	w.tasks = make(map[uint64]map[TaskName]*Task)
	w.frames = make(map[uint64]bigframe.DataFrame)
	w.b = b
	dir, err := ioutil.TempDir("", "bigframe")
	if err != nil {
		return err
	}
	w.store = &fileStore{Prefix: dir + "/"}
	w.stats = stats.NewMap()
	// Set up a limiter to limit the number of concurrent commits
	// that are allowed to happen in the worker.
	//
	// TODO(marius): we should treat commits like tasks and apply
	// load balancing/limiting instead.
	w.commitLimiter = limiter.New()
	procs := b.System().Maxprocs()
	if procs == 0 {
		procs = runtime.GOMAXPROCS(0)
	}
	w.commitLimiter.Release(procs)
	return nil
}

// FuncLocations returns the creation locations of the funcs registered
// in this binary. It is used to verify that worker machines run the
// same set of funcs as the driver.
func (w *worker) FuncLocations(ctx context.Context, _ struct{}, locs *[]string) error {
	*locs = bigframe.FuncLocations()
	return nil
}

// Compile compiles an invocation on the worker and stores the
// resulting tasks. The invocation is received as a gob-encoded
// stream. Compile is idempotent: it will compile each invocation at
// most once.
func (w *worker) Compile(ctx context.Context, invReader io.Reader, _ *struct{}) (err error) {
	defer func() {
		if e := recover(); e != nil {
			err = fmt.Errorf("invocation panic! %v", e)
			err = errors.E(errors.Fatal, err)
		}
	}()
	var inv bigframe.Invocation
	if err := gob.NewDecoder(invReader).Decode(&inv); err != nil {
		return err
	}
	return w.compiles.Do(inv.Index, func() error {
		// Substitute invocation refs for the results of the invocation.
		// The executor must ensure that all references have been compiled.
		for i, arg := range inv.Args {
			ref, ok := arg.(invocationRef)
			if !ok {
				continue
			}
			w.mu.Lock()
			inv.Args[i], ok = w.frames[ref.Index]
			w.mu.Unlock()
			if !ok {
				return fmt.Errorf("worker.Compile: invalid invocation reference %x", ref.Index)
			}
		}
		frame := inv.Invoke()
		tasks, err := compile(make(taskNamer), inv, frame)
		if err != nil {
			return err
		}
		all := make(map[*Task]bool)
		for _, task := range tasks {
			task.all(all)
		}
		named := make(map[TaskName]*Task)
		for task := range all {
			named[task.Name] = task
		}
		w.mu.Lock()
		w.tasks[inv.Index] = named
		w.frames[inv.Index] = &Result{DataFrame: frame, tasks: tasks}
		w.mu.Unlock()
		return nil
	})
}

// TaskRunRequest contains all data required to run an individual task.
type taskRunRequest struct {
	// Invocation is the invocation from which the task was compiled.
	Invocation uint64

	// Task is the name of the task compiled from Invocation.
	Task TaskName

	// Locations contains the locations of the output of each dependency.
	Locations map[TaskName]string
}

// A taskRunReply is returned by a successful Worker.Run call. It
// carries the metrics recorded while the task ran so that they may be
// merged into the driver's task graph.
type taskRunReply struct {
	Scope metrics.Scope
}

// Run runs an individual task as described in the request. Run
// returns a nil error when the task was successfully run and its
// output deposited in a local buffer.
func (w *worker) Run(ctx context.Context, req taskRunRequest, reply *taskRunReply) (err error) {
	recordsOut := w.stats.Int("write")
	w.mu.Lock()
	named := w.tasks[req.Invocation]
	w.mu.Unlock()
	if named == nil {
		return errors.E(errors.Fatal, fmt.Errorf("invocation %x not compiled", req.Invocation))
	}
	task := named[req.Task]
	if task == nil {
		return errors.E(errors.Fatal, fmt.Errorf("task %s not found", req.Task))
	}

	task.Lock()
	if task.state != TaskInit {
		for task.state <= TaskRunning {
			log.Printf("runtask: %s already running. Waiting for it to finish.", task.Name)
			err = task.Wait(ctx)
			if err != nil {
				break
			}
		}
		task.Unlock()
		if e := task.Err(); e != nil {
			err = e
		}
		if err == nil {
			reply.Scope.Merge(&task.Scope)
		}
		return err
	}
	task.state = TaskRunning
	task.Unlock()
	ctx = metrics.ScopedContext(ctx, &task.Scope)
	stop := TaskDuration.Time(&task.Scope)
	defer func() {
		stop()
		if e := recover(); e != nil {
			stack := debug.Stack()
			err = fmt.Errorf("panic while evaluating frame: %v\n%s", e, string(stack))
			err = errors.E(err, errors.Fatal)
		}
		if err != nil {
			log.Printf("task %s error: %v", req.Task, err)
			task.Error(errors.Recover(err))
		} else {
			reply.Scope.Merge(&task.Scope)
			task.Set(TaskOk)
		}
	}()

	// Gather inputs from the bigmachine cluster, dialing machines
	// as necessary.
	var (
		totalRecordsIn *stats.Int
		recordsIn      *stats.Int
	)
	if len(task.Deps) > 0 {
		totalRecordsIn = w.stats.Int("inrecords")
		recordsIn = w.stats.Int("read")
	}
	in := make([]frameio.Reader, 0, len(task.Deps))
	for _, dep := range task.Deps {
		reader := new(multiReader)
		reader.q = make([]frameio.Reader, dep.NumTask())
		// We shuffle the tasks here so that we don't encounter "thundering herd"
		// issues were partitions are read sequentially from the same (ordered)
		// list of machines. Ordered dependencies (e.g. row renumbering)
		// are exempt: their readers must observe task order.
		//
		// TODO(marius): possibly we should perform proper load balancing here
		shuffled := rand.Perm(dep.NumTask())

	Tasks:
		for j := 0; j < dep.NumTask(); j++ {
			k := j
			if DoShuffleReaders && !dep.Ordered {
				k = shuffled[j]
			}
			deptask := dep.Task(k)
			// If we have it locally, or if we're using a shared backend store
			// (e.g., S3), then read it directly.
			info, err := w.store.Stat(ctx, deptask.Name, dep.Partition)
			if err == nil {
				rc, err := w.store.Open(ctx, deptask.Name, dep.Partition, 0)
				if err == nil {
					defer rc.Close()
					reader.q[j] = frameio.NewDecodingReader(rc)
					totalRecordsIn.Add(info.Records)
					continue Tasks
				}
			}
			// Find the location of the task.
			addr := req.Locations[deptask.Name]
			if addr == "" {
				return fmt.Errorf("no location for input task %s", deptask.Name)
			}
			machine, err := w.b.Dial(ctx, addr)
			if err != nil {
				return err
			}
			tp := taskPartition{deptask.Name, dep.Partition}
			if err := machine.Call(ctx, "Worker.Stat", tp, &info); err != nil {
				return err
			}
			r := newMachineReader(machine, tp)
			reader.q[j] = &statsReader{r, recordsIn}
			totalRecordsIn.Add(info.Records)
			defer r.Close()
		}
		in = append(in, reader)
	}

	// Stream partition output directly to the underlying store, but
	// through a buffer because the column encoder can make small
	// writes.
	//
	// TODO(marius): switch to using a monotasks-like arrangement
	// instead once we also have memory management, in order to control
	// buffer growth.
	type partition struct {
		wc  writeCommitter
		buf *bufio.Writer
		*frameio.Encoder
	}
	partitions := make([]*partition, task.NumPartition)
	for p := range partitions {
		wc, err := w.store.Create(ctx, task.Name, p)
		if err != nil {
			return err
		}
		// TODO(marius): pool the writers so we can reuse them.
		part := new(partition)
		part.wc = wc
		part.buf = bufio.NewWriter(wc)
		part.Encoder = frameio.NewEncoder(part.buf)
		partitions[p] = part
	}
	defer func() {
		for p, part := range partitions {
			if part == nil {
				continue
			}
			if err := part.wc.Discard(ctx); err != nil {
				log.Printf("discard %s partition %d: %v", task.Name, p, err)
			}
		}
	}()
	out := task.Do(in)
	count := make([]int64, task.NumPartition)
	switch {
	case task.NumOut() == 0:
		// If there are no output columns, just drive the computation.
		_, err := out.Read(ctx, frame.Empty)
		if err == frameio.EOF {
			err = nil
		}
		return err
	case task.NumPartition > 1:
		partitioner := task.Partitioner
		if partitioner == nil {
			partitioner = hashPartition
		}
		const psize = defaultChunksize / 100
		var (
			partitionv = make([]frame.Frame, task.NumPartition)
			lens       = make([]int, task.NumPartition)
		)
		for i := range partitionv {
			partitionv[i] = frame.Make(task.Type, psize, psize)
		}
		in := frame.Make(task.Type, defaultChunksize, defaultChunksize)
		for {
			n, err := out.Read(ctx, in)
			if err != nil && err != frameio.EOF {
				return err
			}
			for i := 0; i < n; i++ {
				p := partitioner(in, i, task.NumPartition)
				j := lens[p]
				frame.Copy(partitionv[p].Slice(j, j+1), in.Slice(i, i+1))
				lens[p]++
				count[p]++
				// Flush when we fill up.
				if lens[p] == psize {
					if err := partitions[p].Encode(partitionv[p]); err != nil {
						return err
					}
					partitionv[p].Clear()
					lens[p] = 0
				}
			}
			recordsOut.Add(int64(n))
			if err == frameio.EOF {
				break
			}
		}
		// Flush remaining data.
		for p, n := range lens {
			if n == 0 {
				continue
			}
			if err := partitions[p].Encode(partitionv[p].Slice(0, n)); err != nil {
				return err
			}
		}
	default:
		in := frame.Make(task.Type, defaultChunksize, defaultChunksize)
		for {
			n, err := out.Read(ctx, in)
			if err != nil && err != frameio.EOF {
				return err
			}
			if err := partitions[0].Encode(in.Slice(0, n)); err != nil {
				return err
			}
			recordsOut.Add(int64(n))
			count[0] += int64(n)
			if err == frameio.EOF {
				break
			}
		}
	}

	if err := w.commitLimiter.Acquire(ctx, 1); err != nil {
		return err
	}
	defer w.commitLimiter.Release(1)
	for i, part := range partitions {
		if err := part.buf.Flush(); err != nil {
			return err
		}
		partitions[i] = nil
		if err := part.wc.Commit(ctx, count[i]); err != nil {
			return err
		}
	}
	partitions = nil
	return nil
}

func (w *worker) Stats(ctx context.Context, _ struct{}, values *stats.Values) error {
	*values = w.stats.Values()
	return nil
}

// TaskPartition names a partition of a task.
type taskPartition struct {
	// Task is the name of the task whose output is to be read.
	Task TaskName
	// Partition is the partition number to read.
	Partition int
}

// Stat returns the frameInfo for a task's partition.
func (w *worker) Stat(ctx context.Context, tp taskPartition, info *frameInfo) (err error) {
	*info, err = w.store.Stat(ctx, tp.Task, tp.Partition)
	return
}

// Read reads a partition of a task's stored output.
func (w *worker) Read(ctx context.Context, req readRequest, rc *io.ReadCloser) (err error) {
	*rc, err = w.store.Open(ctx, req.Task, req.Partition, req.Offset)
	return
}

type machineRPCReader struct {
	ctx context.Context
	// Machine is the machine from which task data is read.
	machine *bigmachine.Machine
	// TaskPartition is the task and partition that should be read.
	taskPartition taskPartition
	err           error
	reader        io.ReadCloser // The raw data from the remote worker
	bytes         int64         // Cumulative # of bytes read from the worker.
	retries       int
}

// readRequest is the request payload for Worker.Read.
type readRequest struct {
	// Task is the name of the task whose output is to be read.
	Task TaskName
	// Partition is the partition number to read.
	Partition int
	// Offset is the start offset of the read
	Offset int64
}

func (r *machineRPCReader) Read(data []byte) (int, error) {
	for {
		if r.err != nil {
			return 0, r.err
		}
		if r.reader == nil {
			if r.retries > 0 {
				log.Printf("Worker.Read %s: retrying(%d) rpc from offset %d",
					r.taskPartition.Task, r.retries, r.bytes)
			}
			if err := r.machine.RetryCall(r.ctx, "Worker.Read",
				readRequest{r.taskPartition.Task, r.taskPartition.Partition, r.bytes}, &r.reader); err != nil {
				// machine.Call retries on temp errors, so we don't need to retry here.
				r.err = err
				return 0, r.err
			}
		}
		n, err := r.reader.Read(data)
		if err == nil || err == io.EOF {
			r.err = err
			r.bytes += int64(n)
			return n, err
		}
		// Here, we blindly retry regardless of error kind/severity.
		// This allows us to retry on errors such as aws-sdk or io.UnexpectedEOF.
		// The subsequent call to Worker.Read will detect any permanent
		// errors in any case.
		log.Error.Printf("machineReader %s: error (%d) at %d bytes: %v",
			r.machine.Addr, r.retries, r.bytes, err)
		r.reader.Close()
		r.reader = nil
		r.retries++
		if r.err = retry.Wait(r.ctx, retryPolicy, r.retries); r.err != nil {
			return 0, r.err
		}
	}
}

func (r *machineRPCReader) Close() error {
	if r.reader == nil {
		return nil
	}
	err := r.reader.Close()
	r.reader = nil
	return err
}

// MachineReader reads a taskPartition from a machine. It issues the
// (streaming) read RPC on the first call to Read so that data are
// not buffered unnecessarily. MachineReaders close themselves after
// they have been read to completion; they should otherwise be closed
// if they are not read to completion.
type machineReader struct {
	// Machine is the machine from which task data is read.
	Machine *bigmachine.Machine
	// TaskPartition is the task and partition that should be read.
	TaskPartition taskPartition

	reader frameio.Reader
	rpc    *machineRPCReader
}

func newMachineReader(machine *bigmachine.Machine, partition taskPartition) *machineReader {
	m := &machineReader{
		Machine:       machine,
		TaskPartition: partition,
	}
	return m
}

func (m *machineReader) Read(ctx context.Context, f frame.Frame) (int, error) {
	if m.rpc == nil {
		m.rpc = &machineRPCReader{
			ctx:           ctx,
			machine:       m.Machine,
			taskPartition: m.TaskPartition,
		}
		m.reader = frameio.NewDecodingReader(m.rpc)
	}
	n, err := m.reader.Read(ctx, f)
	return n, err
}

func (m *machineReader) Close() error {
	if m.rpc != nil {
		return m.rpc.Close()
	}
	return nil
}

type statsReader struct {
	reader  frameio.Reader
	numRead *stats.Int
}

func (s *statsReader) Read(ctx context.Context, f frame.Frame) (n int, err error) {
	n, err = s.reader.Read(ctx, f)
	s.numRead.Add(int64(n))
	return
}
