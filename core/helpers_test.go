package core

import (
	"context"
	"sync"
	"time"
)

// =============================================================================
// MockThreadPool: records posted tasks; the test runs them by hand
// =============================================================================

type postedTask struct {
	Task   Task
	Traits TaskTraits
}

type delayedPost struct {
	Task   Task
	Delay  time.Duration
	Traits TaskTraits
	Target TaskRunner
}

type MockThreadPool struct {
	mu          sync.Mutex
	id          string
	postedTasks []postedTask
	delayed     []delayedPost
	rejectAll   bool
}

func newMockThreadPool(id string) *MockThreadPool {
	return &MockThreadPool{id: id}
}

func (m *MockThreadPool) PostInternal(task Task, traits TaskTraits) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.rejectAll {
		return ErrRejected
	}
	m.postedTasks = append(m.postedTasks, postedTask{task, traits})
	return nil
}

func (m *MockThreadPool) PostDelayedInternal(task Task, delay time.Duration, traits TaskTraits, target TaskRunner) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.rejectAll {
		return ErrRejected
	}
	m.delayed = append(m.delayed, delayedPost{task, delay, traits, target})
	return nil
}

func (m *MockThreadPool) Start(ctx context.Context) {}
func (m *MockThreadPool) Stop()                     {}
func (m *MockThreadPool) ID() string                { return m.id }
func (m *MockThreadPool) IsRunning() bool           { return true }
func (m *MockThreadPool) WorkerCount() int          { return 1 }
func (m *MockThreadPool) QueuedTaskCount() int      { return m.pending() }
func (m *MockThreadPool) ActiveTaskCount() int      { return 0 }
func (m *MockThreadPool) DelayedTaskCount() int     { return len(m.delayed) }

func (m *MockThreadPool) pending() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.postedTasks)
}

// runNext runs the oldest posted task (simulates one worker step).
func (m *MockThreadPool) runNext(ctx context.Context) bool {
	m.mu.Lock()
	if len(m.postedTasks) == 0 {
		m.mu.Unlock()
		return false
	}
	next := m.postedTasks[0]
	m.postedTasks = m.postedTasks[1:]
	m.mu.Unlock()

	next.Task(ctx)
	return true
}

// runAll runs posted tasks until none are left.
func (m *MockThreadPool) runAll(ctx context.Context) int {
	n := 0
	for m.runNext(ctx) {
		n++
	}
	return n
}

// fireDelayed posts every delayed task to its target, as the DelayManager would.
func (m *MockThreadPool) fireDelayed() int {
	m.mu.Lock()
	fired := m.delayed
	m.delayed = nil
	m.mu.Unlock()

	for _, d := range fired {
		d.Target.PostTaskWithTraits(d.Task, d.Traits)
	}
	return len(fired)
}

// =============================================================================
// testThreadPool: real workers on a TaskScheduler
// =============================================================================

type testThreadPool struct {
	scheduler *TaskScheduler
	ctx       context.Context
	cancel    context.CancelFunc
	wg        sync.WaitGroup
}

func newTestThreadPool() *testThreadPool {
	return &testThreadPool{
		scheduler: NewFIFOTaskScheduler(2),
	}
}

func (tp *testThreadPool) start() {
	tp.ctx, tp.cancel = context.WithCancel(context.Background())
	for i := 0; i < tp.scheduler.WorkerCount(); i++ {
		tp.wg.Add(1)
		go tp.worker()
	}
}

func (tp *testThreadPool) worker() {
	defer tp.wg.Done()
	for {
		item, ok := tp.scheduler.GetWork(tp.ctx.Done())
		if !ok {
			return
		}
		tp.scheduler.OnTaskStart()
		func() {
			defer tp.scheduler.OnTaskEnd()
			item.Task(tp.ctx)
		}()
	}
}

func (tp *testThreadPool) stop() {
	tp.scheduler.Shutdown()
	if tp.cancel != nil {
		tp.cancel()
	}
	tp.wg.Wait()
}

func (tp *testThreadPool) PostInternal(task Task, traits TaskTraits) error {
	return tp.scheduler.PostInternal(task, traits)
}

func (tp *testThreadPool) PostDelayedInternal(task Task, delay time.Duration, traits TaskTraits, target TaskRunner) error {
	return tp.scheduler.PostDelayedInternal(task, delay, traits, target)
}

func (tp *testThreadPool) Start(ctx context.Context) {}
func (tp *testThreadPool) Stop()                     {}
func (tp *testThreadPool) ID() string                { return "test-pool" }
func (tp *testThreadPool) IsRunning() bool           { return true }
func (tp *testThreadPool) WorkerCount() int          { return tp.scheduler.WorkerCount() }
func (tp *testThreadPool) QueuedTaskCount() int      { return tp.scheduler.QueuedTaskCount() }
func (tp *testThreadPool) ActiveTaskCount() int      { return tp.scheduler.ActiveTaskCount() }
func (tp *testThreadPool) DelayedTaskCount() int     { return tp.scheduler.DelayedTaskCount() }

// =============================================================================
// TestMetrics: records every call
// =============================================================================

type TestMetrics struct {
	mu          sync.Mutex
	durations   []string
	panics      []string
	depths      []int
	rejections  []string
	reschedules []string
	timeslices  map[string][]int
}

func NewTestMetrics() *TestMetrics {
	return &TestMetrics{timeslices: make(map[string][]int)}
}

func (m *TestMetrics) RecordTaskDuration(runnerName string, priority TaskPriority, duration time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.durations = append(m.durations, runnerName)
}

func (m *TestMetrics) RecordTaskPanic(runnerName string, panicInfo any) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.panics = append(m.panics, runnerName)
}

func (m *TestMetrics) RecordQueueDepth(runnerName string, depth int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.depths = append(m.depths, depth)
}

func (m *TestMetrics) RecordTaskRejected(runnerName string, reason string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rejections = append(m.rejections, runnerName+": "+reason)
}

func (m *TestMetrics) RecordReschedule(function string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.reschedules = append(m.reschedules, function)
}

func (m *TestMetrics) RecordTimeslice(function string, percent int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.timeslices[function] = append(m.timeslices[function], percent)
}

// =============================================================================
// Handlers that capture what they were given
// =============================================================================

type TestPanicHandler struct {
	mu     sync.Mutex
	calls  []string
	panics []any
}

func (h *TestPanicHandler) HandlePanic(ctx context.Context, runnerName string, workerID int, panicInfo any, stackTrace []byte) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.calls = append(h.calls, runnerName)
	h.panics = append(h.panics, panicInfo)
}

func (h *TestPanicHandler) CallCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.calls)
}

type TestRejectedTaskHandler struct {
	mu      sync.Mutex
	reasons []string
}

func (h *TestRejectedTaskHandler) HandleRejectedTask(runnerName string, reason string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.reasons = append(h.reasons, reason)
}

func (h *TestRejectedTaskHandler) Count() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.reasons)
}

type logEntry struct {
	level  string
	msg    string
	fields []Field
}

type captureLogger struct {
	mu      sync.Mutex
	entries []logEntry
}

func (l *captureLogger) add(level, msg string, fields []Field) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.entries = append(l.entries, logEntry{level, msg, fields})
}

func (l *captureLogger) Debug(msg string, fields ...Field) { l.add("debug", msg, fields) }
func (l *captureLogger) Info(msg string, fields ...Field)  { l.add("info", msg, fields) }
func (l *captureLogger) Warn(msg string, fields ...Field)  { l.add("warn", msg, fields) }
func (l *captureLogger) Error(msg string, fields ...Field) { l.add("error", msg, fields) }

func (l *captureLogger) messages(level string) []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	var out []string
	for _, e := range l.entries {
		if e.level == level {
			out = append(out, e.msg)
		}
	}
	return out
}

