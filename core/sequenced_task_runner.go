package core

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"
)

// RepeatingTaskHandle controls the lifecycle of a repeating task
type RepeatingTaskHandle interface {
	Stop()
	IsStopped() bool
}

// SequencedTaskRunner runs its tasks one at a time, in posting order, on
// whichever pool worker picks up its runLoop. The runLoop executes a single
// task and re-posts itself, so a long queue never pins a worker.
type SequencedTaskRunner struct {
	name          string
	threadPool    ThreadPool
	queue         TaskQueue
	mu            sync.Mutex
	isRunning     bool
	activeRunners int32 // atomic guard for concurrency assertion
	closed        atomic.Bool
	rejected      atomic.Int64
}

func NewSequencedTaskRunner(threadPool ThreadPool) *SequencedTaskRunner {
	return &SequencedTaskRunner{
		name:       "sequenced",
		threadPool: threadPool,
		queue:      NewFIFOTaskQueue(),
	}
}

// SetName sets the name used in stats and metric labels.
func (r *SequencedTaskRunner) SetName(name string) {
	r.mu.Lock()
	r.name = name
	r.mu.Unlock()
}

// Name returns the runner name.
func (r *SequencedTaskRunner) Name() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.name
}

func (r *SequencedTaskRunner) PostDelayedTaskWithTraits(task Task, delay time.Duration, traits TaskTraits) {
	if r.closed.Load() {
		r.rejected.Add(1)
		return
	}
	if err := r.threadPool.PostDelayedInternal(task, delay, traits, r); err != nil {
		r.rejected.Add(1)
	}
}

func (r *SequencedTaskRunner) PostDelayedTask(task Task, delay time.Duration) {
	r.PostDelayedTaskWithTraits(task, delay, DefaultTaskTraits())
}

// PostTask submits task (using default Traits)
func (r *SequencedTaskRunner) PostTask(task Task) {
	r.PostTaskWithTraits(task, DefaultTaskTraits())
}

// PostTaskWithTraits submits task with traits
func (r *SequencedTaskRunner) PostTaskWithTraits(task Task, traits TaskTraits) {
	if r.closed.Load() {
		r.rejected.Add(1)
		return
	}
	r.queue.Push(task, traits)
	r.scheduleRunLoop(traits)
}

func (r *SequencedTaskRunner) runLoop(ctx context.Context) {
	// Strictly one goroutine at a time
	if n := atomic.AddInt32(&r.activeRunners, 1); n > 1 {
		panic(fmt.Sprintf("SequencedTaskRunner: concurrent runLoop detected (count=%d)", n))
	}
	defer atomic.AddInt32(&r.activeRunners, -1)

	runCtx := context.WithValue(ctx, taskRunnerKey, r)

	if item, ok := r.queue.Pop(); ok {
		func() {
			defer func() { _ = recover() }()
			item.Task(runCtx)
		}()
	}

	// Yield to the scheduler between every task
	r.mu.Lock()
	if r.queue.IsEmpty() || r.closed.Load() {
		r.isRunning = false
		r.mu.Unlock()
		return
	}
	r.mu.Unlock()

	nextTraits, _ := r.queue.PeekTraits()
	r.postRunLoop(nextTraits)
}

// scheduleRunLoop starts runLoop (if not already running)
func (r *SequencedTaskRunner) scheduleRunLoop(traits TaskTraits) {
	r.mu.Lock()
	if r.isRunning {
		r.mu.Unlock()
		return
	}
	r.isRunning = true
	r.mu.Unlock()

	r.postRunLoop(traits)
}

func (r *SequencedTaskRunner) postRunLoop(traits TaskTraits) {
	if err := r.threadPool.PostInternal(r.runLoop, traits); err != nil {
		r.rejected.Add(1)
		r.mu.Lock()
		r.isRunning = false
		r.mu.Unlock()
	}
}

// =============================================================================
// Repeating Task Implementation
// =============================================================================

type repeatingTaskHandle struct {
	task     Task
	interval time.Duration
	traits   TaskTraits
	stopped  atomic.Bool
}

func (h *repeatingTaskHandle) Stop() {
	h.stopped.Store(true)
}

func (h *repeatingTaskHandle) IsStopped() bool {
	return h.stopped.Load()
}

// next wraps the task so that every run schedules the following one.
func (h *repeatingTaskHandle) next() Task {
	return func(ctx context.Context) {
		runner := GetCurrentTaskRunner(ctx)
		if h.IsStopped() {
			return
		}
		if r, ok := runner.(*SequencedTaskRunner); ok && r.IsClosed() {
			return
		}

		h.task(ctx)

		if !h.IsStopped() && runner != nil {
			runner.PostDelayedTaskWithTraits(h.next(), h.interval, h.traits)
		}
	}
}

// PostRepeatingTask submits a task that repeats at a fixed interval
func (r *SequencedTaskRunner) PostRepeatingTask(task Task, interval time.Duration) RepeatingTaskHandle {
	return r.PostRepeatingTaskWithInitialDelay(task, 0, interval, DefaultTaskTraits())
}

// PostRepeatingTaskWithInitialDelay submits a repeating task whose first run
// happens after initialDelay; later runs are spaced by interval.
func (r *SequencedTaskRunner) PostRepeatingTaskWithInitialDelay(
	task Task,
	initialDelay, interval time.Duration,
	traits TaskTraits,
) RepeatingTaskHandle {
	handle := &repeatingTaskHandle{
		task:     task,
		interval: interval,
		traits:   traits,
	}

	if initialDelay > 0 {
		r.PostDelayedTaskWithTraits(handle.next(), initialDelay, traits)
	} else {
		r.PostTaskWithTraits(handle.next(), traits)
	}
	return handle
}

// =============================================================================
// Shutdown and Lifecycle Management
// =============================================================================

// Shutdown marks the runner closed and drops pending tasks.
// A task that is already executing is not interrupted.
func (r *SequencedTaskRunner) Shutdown() {
	r.closed.Store(true)

	r.mu.Lock()
	r.queue.Clear()
	r.mu.Unlock()
}

// IsClosed returns true if the runner has been shut down.
func (r *SequencedTaskRunner) IsClosed() bool {
	return r.closed.Load()
}

// Stats returns a snapshot for the snapshot poller.
func (r *SequencedTaskRunner) Stats() RunnerStats {
	r.mu.Lock()
	name, running := r.name, r.isRunning
	r.mu.Unlock()

	stats := RunnerStats{
		Name:     name,
		Type:     "sequenced",
		Pending:  r.queue.Len(),
		Rejected: r.rejected.Load(),
		Closed:   r.closed.Load(),
	}
	if running {
		stats.Running = 1
	}
	return stats
}
