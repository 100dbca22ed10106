package core

import (
	"errors"
	"fmt"
	"sync/atomic"
	"time"
)

// ErrRejected is returned when work is posted to a scheduler that is shutting down.
var ErrRejected = errors.New("task rejected: scheduler is shutting down")

// TaskScheduler is the ready queue shared by the workers of one pool.
type TaskScheduler struct {
	name        string
	queue       TaskQueue
	signal      chan struct{}
	workerCount int

	delayManager *DelayManager

	metricQueued int32 // Waiting in ReadyQueue
	metricActive int32 // Executing in Worker

	panicHandler        PanicHandler
	metrics             Metrics
	rejectedTaskHandler RejectedTaskHandler

	shuttingDown atomic.Bool
}

func NewPriorityTaskScheduler(workerCount int) *TaskScheduler {
	return NewPriorityTaskSchedulerWithConfig("priority", workerCount, nil)
}

func NewPriorityTaskSchedulerWithConfig(name string, workerCount int, config *TaskSchedulerConfig) *TaskScheduler {
	return newTaskScheduler(name, workerCount, NewPriorityTaskQueue(), config)
}

func NewFIFOTaskScheduler(workerCount int) *TaskScheduler {
	return NewFIFOTaskSchedulerWithConfig("fifo", workerCount, nil)
}

func NewFIFOTaskSchedulerWithConfig(name string, workerCount int, config *TaskSchedulerConfig) *TaskScheduler {
	return newTaskScheduler(name, workerCount, NewFIFOTaskQueue(), config)
}

func newTaskScheduler(name string, workerCount int, queue TaskQueue, config *TaskSchedulerConfig) *TaskScheduler {
	if workerCount < 1 {
		workerCount = 1
	}
	cfg := config.withDefaults()
	return &TaskScheduler{
		name:                name,
		queue:               queue,
		signal:              make(chan struct{}, workerCount*2),
		workerCount:         workerCount,
		delayManager:        NewDelayManager(),
		panicHandler:        cfg.PanicHandler,
		metrics:             cfg.Metrics,
		rejectedTaskHandler: cfg.RejectedTaskHandler,
	}
}

// PostInternal queues task for the next free worker.
func (s *TaskScheduler) PostInternal(task Task, traits TaskTraits) error {
	if s.shuttingDown.Load() {
		s.rejectedTaskHandler.HandleRejectedTask(s.name, "shutting down")
		s.metrics.RecordTaskRejected(s.name, "shutting down")
		return ErrRejected
	}

	s.queue.Push(task, traits)
	depth := atomic.AddInt32(&s.metricQueued, 1)
	s.metrics.RecordQueueDepth(s.name, int(depth))

	select {
	case s.signal <- struct{}{}:
	default:
		// Signal channel full, but task is already queued
	}
	return nil
}

// PostDelayedInternal hands task to the DelayManager, which posts it to target once delay elapses.
func (s *TaskScheduler) PostDelayedInternal(task Task, delay time.Duration, traits TaskTraits, target TaskRunner) error {
	if s.shuttingDown.Load() {
		s.rejectedTaskHandler.HandleRejectedTask(s.name, "shutting down")
		s.metrics.RecordTaskRejected(s.name, "shutting down")
		return ErrRejected
	}
	s.delayManager.AddDelayedTask(task, delay, traits, target)
	return nil
}

// GetWork blocks until a task is available or stopCh closes (Called by Worker)
func (s *TaskScheduler) GetWork(stopCh <-chan struct{}) (TaskItem, bool) {
	for {
		if item, ok := s.queue.Pop(); ok {
			depth := atomic.AddInt32(&s.metricQueued, -1)
			s.metrics.RecordQueueDepth(s.name, int(depth))
			return item, true
		}

		select {
		case <-s.signal:
			continue
		case <-stopCh:
			return TaskItem{}, false
		}
	}
}

// Shutdown stops accepting work and drops everything still queued.
func (s *TaskScheduler) Shutdown() {
	s.shuttingDown.Store(true)
	s.delayManager.Stop()

	// Release queued tasks so parked closures and their buffers can be collected
	s.queue.Clear()
	atomic.StoreInt32(&s.metricQueued, 0)
}

// ShutdownGraceful waits for all queued and active tasks to complete
// Returns error if timeout is exceeded before tasks complete
func (s *TaskScheduler) ShutdownGraceful(timeout time.Duration) error {
	s.shuttingDown.Store(true)
	s.delayManager.Stop()

	deadline := time.After(timeout)
	ticker := time.NewTicker(10 * time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case <-deadline:
			s.queue.Clear()
			atomic.StoreInt32(&s.metricQueued, 0)
			return fmt.Errorf("shutdown graceful timeout after %v, forced clearing", timeout)
		case <-ticker.C:
			if s.QueuedTaskCount() == 0 && s.ActiveTaskCount() == 0 {
				return nil
			}
		}
	}
}

// IsShuttingDown reports whether Shutdown or ShutdownGraceful has been called.
func (s *TaskScheduler) IsShuttingDown() bool { return s.shuttingDown.Load() }

// Metrics
func (s *TaskScheduler) Name() string         { return s.name }
func (s *TaskScheduler) WorkerCount() int     { return s.workerCount }
func (s *TaskScheduler) QueuedTaskCount() int { return int(atomic.LoadInt32(&s.metricQueued)) }
func (s *TaskScheduler) ActiveTaskCount() int { return int(atomic.LoadInt32(&s.metricActive)) }
func (s *TaskScheduler) DelayedTaskCount() int {
	return s.delayManager.TaskCount()
}

func (s *TaskScheduler) OnTaskStart() {
	atomic.AddInt32(&s.metricActive, 1)
}

func (s *TaskScheduler) OnTaskEnd() {
	atomic.AddInt32(&s.metricActive, -1)
}

// GetPanicHandler returns the panic handler for this scheduler
func (s *TaskScheduler) GetPanicHandler() PanicHandler {
	return s.panicHandler
}

// GetMetrics returns the metrics collector for this scheduler
func (s *TaskScheduler) GetMetrics() Metrics {
	return s.metrics
}
