package timeslice

import (
	"context"
	"runtime/debug"
	"sync"
	"time"

	"github.com/Swind/go-timeslice/core"
)

// GoroutineThreadPool manages a set of worker goroutines
// Responsible for pulling tasks from the TaskScheduler and executing them
type GoroutineThreadPool struct {
	id        string
	workers   int
	scheduler *core.TaskScheduler
	wg        sync.WaitGroup
	ctx       context.Context
	cancel    context.CancelFunc
	running   bool
	runningMu sync.RWMutex
}

var _ core.ThreadPool = (*GoroutineThreadPool)(nil)

// NewGoroutineThreadPool creates a pool with a FIFO ready queue
func NewGoroutineThreadPool(id string, workers int) *GoroutineThreadPool {
	return NewGoroutineThreadPoolWithConfig(id, workers, nil)
}

// NewGoroutineThreadPoolWithConfig creates a FIFO pool with custom handlers and metrics
func NewGoroutineThreadPoolWithConfig(id string, workers int, config *core.TaskSchedulerConfig) *GoroutineThreadPool {
	return newPool(id, core.NewFIFOTaskSchedulerWithConfig(id, workers, config))
}

// NewPriorityGoroutineThreadPool creates a pool whose ready queue orders by task priority
func NewPriorityGoroutineThreadPool(id string, workers int) *GoroutineThreadPool {
	return NewPriorityGoroutineThreadPoolWithConfig(id, workers, nil)
}

// NewPriorityGoroutineThreadPoolWithConfig creates a priority pool with custom handlers and metrics
func NewPriorityGoroutineThreadPoolWithConfig(id string, workers int, config *core.TaskSchedulerConfig) *GoroutineThreadPool {
	return newPool(id, core.NewPriorityTaskSchedulerWithConfig(id, workers, config))
}

func newPool(id string, scheduler *core.TaskScheduler) *GoroutineThreadPool {
	return &GoroutineThreadPool{
		id:        id,
		workers:   scheduler.WorkerCount(),
		scheduler: scheduler,
	}
}

// Start starts all worker goroutines
func (tg *GoroutineThreadPool) Start(ctx context.Context) {
	tg.runningMu.Lock()
	defer tg.runningMu.Unlock()

	if tg.running {
		return
	}

	tg.ctx, tg.cancel = context.WithCancel(ctx)
	tg.running = true

	for i := 0; i < tg.workers; i++ {
		tg.wg.Add(1)
		go tg.workerLoop(i, tg.ctx)
	}
}

// Stop stops the thread pool, dropping queued tasks
func (tg *GoroutineThreadPool) Stop() {
	// Always shut the scheduler down so queued closures are released,
	// even if the pool was never started
	tg.scheduler.Shutdown()

	tg.runningMu.Lock()
	if !tg.running {
		tg.runningMu.Unlock()
		return
	}
	tg.runningMu.Unlock()

	if tg.cancel != nil {
		tg.cancel()
	}
	tg.Join()

	tg.runningMu.Lock()
	tg.running = false
	tg.runningMu.Unlock()
}

// StopGraceful stops the thread pool gracefully, waiting for queued tasks to complete
// Returns error if timeout is exceeded before tasks complete
func (tg *GoroutineThreadPool) StopGraceful(timeout time.Duration) error {
	tg.runningMu.Lock()
	if !tg.running {
		tg.runningMu.Unlock()
		return nil
	}
	tg.runningMu.Unlock()

	err := tg.scheduler.ShutdownGraceful(timeout)

	if tg.cancel != nil {
		tg.cancel()
	}
	tg.Join()

	tg.runningMu.Lock()
	tg.running = false
	tg.runningMu.Unlock()

	return err
}

// ID returns the ID of the thread pool
func (tg *GoroutineThreadPool) ID() string {
	return tg.id
}

// IsRunning returns whether the thread pool is running
func (tg *GoroutineThreadPool) IsRunning() bool {
	tg.runningMu.RLock()
	defer tg.runningMu.RUnlock()
	return tg.running
}

// workerLoop is the main loop for each worker
func (tg *GoroutineThreadPool) workerLoop(id int, ctx context.Context) {
	defer tg.wg.Done()
	stopCh := ctx.Done()

	for {
		item, ok := tg.scheduler.GetWork(stopCh)
		if !ok {
			return
		}
		tg.runTask(ctx, id, item)
	}
}

func (tg *GoroutineThreadPool) runTask(ctx context.Context, workerID int, item core.TaskItem) {
	tg.scheduler.OnTaskStart()
	start := time.Now()

	defer func() {
		tg.scheduler.OnTaskEnd()
		tg.scheduler.GetMetrics().RecordTaskDuration(tg.id, item.Traits.Priority, time.Since(start))
		if r := recover(); r != nil {
			tg.scheduler.GetMetrics().RecordTaskPanic(tg.id, r)
			tg.scheduler.GetPanicHandler().HandlePanic(ctx, tg.id, workerID, r, debug.Stack())
		}
	}()

	item.Task(ctx)
}

// Join waits for all worker goroutines to finish
func (tg *GoroutineThreadPool) Join() {
	tg.wg.Wait()
}

// WorkerCount returns the number of workers
func (tg *GoroutineThreadPool) WorkerCount() int {
	return tg.workers
}

func (tg *GoroutineThreadPool) QueuedTaskCount() int {
	return tg.scheduler.QueuedTaskCount()
}

func (tg *GoroutineThreadPool) ActiveTaskCount() int {
	return tg.scheduler.ActiveTaskCount()
}

func (tg *GoroutineThreadPool) DelayedTaskCount() int {
	return tg.scheduler.DelayedTaskCount()
}

func (tg *GoroutineThreadPool) PostInternal(task core.Task, traits core.TaskTraits) error {
	return tg.scheduler.PostInternal(task, traits)
}

func (tg *GoroutineThreadPool) PostDelayedInternal(task core.Task, delay time.Duration, traits core.TaskTraits, target core.TaskRunner) error {
	return tg.scheduler.PostDelayedInternal(task, delay, traits, target)
}

// Stats returns a snapshot for the snapshot poller.
func (tg *GoroutineThreadPool) Stats() core.PoolStats {
	return core.PoolStats{
		ID:      tg.id,
		Workers: tg.workers,
		Queued:  tg.QueuedTaskCount(),
		Active:  tg.ActiveTaskCount(),
		Delayed: tg.DelayedTaskCount(),
		Running: tg.IsRunning(),
	}
}
