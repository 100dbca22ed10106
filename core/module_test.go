package core

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"
)

// countdown reschedules itself until n reaches zero, charging a full quantum
// per hop, and returns how many hops it took.
func countdown(env *Env, args []Term) (Term, error) {
	n, ok := GetInt(args[0])
	if !ok || n < 0 {
		return nil, env.BadArg("n must be a non-negative int")
	}
	hops, _ := GetInt(args[1])
	hops++
	if n == 0 {
		return hops, nil
	}
	env.ConsumeTimeslice(FullQuantum)
	return env.Schedule("countdown", 0, countdown, n-1, hops)
}

func newModuleWithPools(t *testing.T, opts ...ModuleOption) (*Module, *MockThreadPool, *MockThreadPool) {
	t.Helper()
	regular := newMockThreadPool("regular")
	dirty := newMockThreadPool("dirty")
	m := NewModule("test", regular, dirty, opts...)
	if err := m.Register("countdown", 2, countdown, 0); err != nil {
		t.Fatalf("Register() = %v", err)
	}
	return m, regular, dirty
}

// TestModule_Reschedule verifies a call runs as a chain of hops
// Given: A function that reschedules itself three times
// When: The regular pool is drained one task at a time
// Then: Each hop is a separate task and the final result comes back through Wait
func TestModule_Reschedule(t *testing.T) {
	metrics := NewTestMetrics()
	m, regular, _ := newModuleWithPools(t, WithMetrics(metrics))

	call := m.Call(context.Background(), "countdown", 3, 0)
	if got := regular.pending(); got != 1 {
		t.Fatalf("pending = %d after Call, want 1", got)
	}

	hops := regular.runAll(context.Background())
	if hops != 4 {
		t.Errorf("tasks run = %d, want 4", hops)
	}

	got, err := call.Wait(context.Background())
	if err != nil {
		t.Fatalf("Wait() error = %v", err)
	}
	if got != 4 {
		t.Errorf("result = %v, want 4", got)
	}
	if call.Hops() != 4 || call.Function() != "countdown" {
		t.Errorf("Hops() = %d, Function() = %q, want 4 and countdown", call.Hops(), call.Function())
	}

	stats := m.Stats()
	if stats.Reschedules != 3 || stats.Completed != 1 || stats.InFlight != 0 || stats.Functions != 1 {
		t.Errorf("Stats() = %+v", stats)
	}

	metrics.mu.Lock()
	defer metrics.mu.Unlock()
	if len(metrics.reschedules) != 3 {
		t.Errorf("reschedule metrics = %v, want 3", metrics.reschedules)
	}
	if got := metrics.timeslices["countdown"]; len(got) != 3 || got[0] != FullQuantum {
		t.Errorf("timeslice metrics = %v, want three full quanta", got)
	}
}

// TestModule_ContinuationQueuesBehindOtherWork verifies a yielded call lets other tasks run
// Given: A call whose first hop yields
// When: Another task is posted while the call is queued
// Then: The continuation runs after that task
func TestModule_ContinuationQueuesBehindOtherWork(t *testing.T) {
	m, regular, _ := newModuleWithPools(t)

	call := m.Call(context.Background(), "countdown", 1, 0)
	var order []string
	_ = regular.PostInternal(func(ctx context.Context) { order = append(order, "other") }, DefaultTaskTraits())

	regular.runNext(context.Background()) // first hop, yields
	regular.runNext(context.Background()) // other
	order = append(order, "continuation")
	regular.runNext(context.Background())

	if len(order) != 2 || order[0] != "other" {
		t.Errorf("order = %v, want other before continuation", order)
	}
	if _, err := call.Wait(context.Background()); err != nil {
		t.Errorf("Wait() error = %v", err)
	}

	regular.mu.Lock()
	defer regular.mu.Unlock()
	if len(regular.postedTasks) != 0 {
		t.Errorf("pending = %d, want 0", len(regular.postedTasks))
	}
}

// TestModule_HopTraits verifies hops are posted at the call's priority with the function as category
func TestModule_HopTraits(t *testing.T) {
	m, regular, _ := newModuleWithPools(t)
	m.Call(context.Background(), "countdown", 1, 0)

	regular.mu.Lock()
	traits := regular.postedTasks[0].Traits
	regular.mu.Unlock()

	if traits.Priority != TaskPriorityUserVisible || traits.Category != "countdown" {
		t.Errorf("traits = %+v, want user_visible/countdown", traits)
	}
}

// TestModule_CancelledBetweenHops verifies cancellation at a suspension point
// Given: A call that parks a resource and yields
// When: The context is cancelled before the next hop runs
// Then: The call fails with context.Canceled and the parked buffer is released
func TestModule_CancelledBetweenHops(t *testing.T) {
	logger := &captureLogger{}
	m, regular, _ := newModuleWithPools(t, WithLogger(logger))

	park := func(env *Env, args []Term) (Term, error) {
		id := env.Resources().Put(make([]byte, 8))
		return env.Schedule("resume", 0, func(env *Env, args []Term) (Term, error) {
			return "unreachable", nil
		}, id)
	}
	if err := m.Register("park", 0, park, 0); err != nil {
		t.Fatal(err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	call := m.Call(ctx, "park")
	regular.runNext(context.Background())
	if got := m.Resources().Len(); got != 1 {
		t.Fatalf("resources = %d after first hop, want 1", got)
	}

	cancel()
	regular.runAll(context.Background())

	_, err := call.Wait(context.Background())
	if !errors.Is(err, context.Canceled) {
		t.Errorf("Wait() error = %v, want context.Canceled", err)
	}
	if got := m.Resources().Len(); got != 0 {
		t.Errorf("resources = %d after cancel, want 0", got)
	}
	if call.Hops() != 1 {
		t.Errorf("Hops() = %d, want 1", call.Hops())
	}
	if msgs := logger.messages("info"); len(msgs) != 1 {
		t.Errorf("info logs = %v, want one cancellation", msgs)
	}
}

// TestModule_UnknownFunction verifies an unregistered name is an argument error
func TestModule_UnknownFunction(t *testing.T) {
	m, regular, _ := newModuleWithPools(t)

	_, err := m.Call(context.Background(), "nope", 1).Wait(context.Background())

	if !errors.Is(err, ErrUnknownFunction) || !IsBadArg(err) {
		t.Errorf("error = %v, want ErrUnknownFunction matching ErrBadArg", err)
	}
	if !strings.Contains(err.Error(), "test:nope/1") {
		t.Errorf("error = %q, want it to name test:nope/1", err)
	}
	if regular.pending() != 0 {
		t.Error("unknown function should not post a task")
	}
}

// TestModule_Arity verifies a call with the wrong number of arguments is refused
func TestModule_Arity(t *testing.T) {
	m, _, _ := newModuleWithPools(t)

	_, err := m.Call(context.Background(), "countdown", 1).Wait(context.Background())

	var argErr *ArgumentError
	if !errors.As(err, &argErr) || argErr.Function != "countdown" {
		t.Errorf("error = %v, want ArgumentError for countdown", err)
	}
	if m.Stats().InFlight != 0 {
		t.Error("refused call should not count as in flight")
	}
}

// TestModule_BadArgFromFunction verifies errors from the function reach the caller
func TestModule_BadArgFromFunction(t *testing.T) {
	m, regular, _ := newModuleWithPools(t)

	call := m.Call(context.Background(), "countdown", "three", 0)
	regular.runAll(context.Background())

	_, err := call.Wait(context.Background())
	if !IsBadArg(err) {
		t.Errorf("error = %v, want bad argument", err)
	}
	if !strings.Contains(err.Error(), "countdown: bad argument") {
		t.Errorf("error = %q", err)
	}
}

// TestModule_DirtyRouting verifies FlagDirtyCPU sends hops to the dirty pool
// Given: A dirty function that schedules a regular continuation
// When: The call is started
// Then: The first hop is on the dirty pool and the continuation on the regular pool
func TestModule_DirtyRouting(t *testing.T) {
	m, regular, dirty := newModuleWithPools(t)

	heavy := func(env *Env, args []Term) (Term, error) {
		return env.Schedule("light", 0, func(env *Env, args []Term) (Term, error) {
			return "done", nil
		})
	}
	if err := m.Register("heavy", 0, heavy, FlagDirtyCPU); err != nil {
		t.Fatal(err)
	}

	call := m.Call(context.Background(), "heavy")
	if regular.pending() != 0 || dirty.pending() != 1 {
		t.Fatalf("regular = %d, dirty = %d, want 0 and 1", regular.pending(), dirty.pending())
	}

	dirty.runAll(context.Background())
	if regular.pending() != 1 {
		t.Fatalf("regular = %d after dirty hop, want 1", regular.pending())
	}
	regular.runAll(context.Background())

	got, err := call.Wait(context.Background())
	if err != nil || got != "done" {
		t.Errorf("Wait() = %v, %v, want done", got, err)
	}
}

// TestModule_NilDirtyPoolFallsBack verifies a module without a dirty pool uses the regular one
func TestModule_NilDirtyPoolFallsBack(t *testing.T) {
	regular := newMockThreadPool("regular")
	m := NewModule("test", regular, nil)
	_ = m.Register("heavy", 0, func(env *Env, args []Term) (Term, error) { return 1, nil }, FlagDirtyCPU)

	m.Call(context.Background(), "heavy")
	if regular.pending() != 1 {
		t.Errorf("regular pending = %d, want 1", regular.pending())
	}
}

// TestModule_Panic verifies a panicking function fails only its own call
// Given: A function that parks a buffer, schedules, then panics
// When: The hop runs
// Then: The call fails with ErrNativePanic, the handler is told and the buffer released
func TestModule_Panic(t *testing.T) {
	handler := &TestPanicHandler{}
	metrics := NewTestMetrics()
	m, regular, _ := newModuleWithPools(t, WithPanicHandler(handler), WithMetrics(metrics))

	boom := func(env *Env, args []Term) (Term, error) {
		id := env.Resources().Put([]byte{1})
		_, _ = env.Schedule("next", 0, countdown, id)
		panic("boom")
	}
	_ = m.Register("boom", 0, boom, 0)

	call := m.Call(context.Background(), "boom")
	regular.runAll(context.Background())

	_, err := call.Wait(context.Background())
	if !errors.Is(err, ErrNativePanic) {
		t.Errorf("error = %v, want ErrNativePanic", err)
	}
	if handler.CallCount() != 1 || handler.calls[0] != "boom" {
		t.Errorf("panic handler calls = %v, want [boom]", handler.calls)
	}
	if m.Resources().Len() != 0 {
		t.Errorf("resources = %d, want 0", m.Resources().Len())
	}
	if regular.pending() != 0 {
		t.Error("continuation of a panicked hop should not be posted")
	}
	metrics.mu.Lock()
	defer metrics.mu.Unlock()
	if len(metrics.panics) != 1 {
		t.Errorf("panic metrics = %v, want 1", metrics.panics)
	}
}

// TestModule_PoolRejects verifies a refused post fails the call and releases its resources
func TestModule_PoolRejects(t *testing.T) {
	m, regular, _ := newModuleWithPools(t)

	park := func(env *Env, args []Term) (Term, error) {
		id := env.Resources().Put([]byte{1})
		return env.Schedule("resume", 0, countdown, id, 0)
	}
	_ = m.Register("park", 0, park, 0)

	call := m.Call(context.Background(), "park")
	regular.rejectAll = true
	regular.runNext(context.Background())

	_, err := call.Wait(context.Background())
	if !errors.Is(err, ErrRejected) {
		t.Errorf("error = %v, want ErrRejected", err)
	}
	if m.Resources().Len() != 0 {
		t.Errorf("resources = %d, want 0", m.Resources().Len())
	}
	if stats := m.Stats(); stats.InFlight != 0 || stats.Completed != 1 {
		t.Errorf("Stats() = %+v, want call completed", stats)
	}
}

// TestModule_Close verifies a closed module refuses calls and registrations
func TestModule_Close(t *testing.T) {
	m, regular, _ := newModuleWithPools(t)
	m.Close()

	_, err := m.Call(context.Background(), "countdown", 1, 0).Wait(context.Background())
	if !errors.Is(err, ErrModuleClosed) {
		t.Errorf("Call error = %v, want ErrModuleClosed", err)
	}
	if err := m.Register("x", 0, countdown, 0); !errors.Is(err, ErrModuleClosed) {
		t.Errorf("Register error = %v, want ErrModuleClosed", err)
	}
	if regular.pending() != 0 {
		t.Error("closed module should not post")
	}
}

// TestModule_ShutdownFinishesQueuedCalls verifies a hop dropped from a stopped pool still completes its call
// Given: A call whose first hop parked a buffer and queued its continuation
// When: The module is shut down before the continuation runs
// Then: The call fails with ErrModuleClosed, the buffer is released and the stale task is a no-op
func TestModule_ShutdownFinishesQueuedCalls(t *testing.T) {
	m, regular, _ := newModuleWithPools(t)

	resumed := 0
	park := func(env *Env, args []Term) (Term, error) {
		id := env.Resources().Put(make([]byte, 8))
		return env.Schedule("resume", 0, func(env *Env, args []Term) (Term, error) {
			resumed++
			return "resumed", nil
		}, id)
	}
	if err := m.Register("park", 0, park, 0); err != nil {
		t.Fatal(err)
	}

	call := m.Call(context.Background(), "park")
	regular.runNext(context.Background())
	if got := m.Resources().Len(); got != 1 {
		t.Fatalf("resources = %d after first hop, want 1", got)
	}

	if got := m.Shutdown(); got != 1 {
		t.Errorf("Shutdown() = %d, want 1", got)
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if _, err := call.Wait(ctx); !errors.Is(err, ErrModuleClosed) {
		t.Errorf("Wait() error = %v, want ErrModuleClosed", err)
	}
	stats := m.Stats()
	if stats.InFlight != 0 || stats.Completed != 1 || stats.Resources != 0 {
		t.Errorf("Stats() = %+v, want 0 in flight, 1 completed, 0 parked", stats)
	}

	// The pool still holds the continuation; running it must not touch the call
	regular.runAll(context.Background())
	if resumed != 0 || call.Hops() != 1 {
		t.Errorf("resumed = %d, Hops() = %d, want 0 and 1", resumed, call.Hops())
	}
	if got := m.Stats().Completed; got != 1 {
		t.Errorf("Completed = %d after stale task, want 1", got)
	}
	if got := m.Shutdown(); got != 0 {
		t.Errorf("second Shutdown() = %d, want 0", got)
	}
}

// TestModule_ShutdownLeavesStartedHopsAlone verifies finished calls are not reported twice
func TestModule_ShutdownLeavesStartedHopsAlone(t *testing.T) {
	m, regular, _ := newModuleWithPools(t)

	call := m.Call(context.Background(), "countdown", 2, 0)
	regular.runAll(context.Background())

	if got := m.Shutdown(); got != 0 {
		t.Errorf("Shutdown() = %d, want 0", got)
	}
	if _, err := call.Wait(context.Background()); err != nil {
		t.Errorf("Wait() = %v, want nil", err)
	}
	if got := m.Stats().Completed; got != 1 {
		t.Errorf("Completed = %d, want 1", got)
	}
}

// TestModule_RegisterValidation verifies malformed registrations are refused
func TestModule_RegisterValidation(t *testing.T) {
	m := NewModule("test", newMockThreadPool("regular"), nil)

	if err := m.Register("", 0, countdown, 0); err == nil {
		t.Error("empty name accepted")
	}
	if err := m.Register("f", 0, nil, 0); err == nil {
		t.Error("nil function accepted")
	}
	if err := m.Register("f", -1, countdown, 0); err == nil {
		t.Error("negative arity accepted")
	}
	if m.Functions() != 0 {
		t.Errorf("Functions() = %d, want 0", m.Functions())
	}
}

// TestModule_Invoke verifies Invoke waits for a call on real workers
func TestModule_Invoke(t *testing.T) {
	tp := newTestThreadPool()
	tp.start()
	defer tp.stop()

	m := NewModule("test", tp, nil)
	_ = m.Register("countdown", 2, countdown, 0)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	got, err := m.Invoke(ctx, "countdown", 10, 0)
	if err != nil || got != 11 {
		t.Errorf("Invoke() = %v, %v, want 11", got, err)
	}
}

// TestCall_WaitContext verifies Wait gives up when its own context ends
func TestCall_WaitContext(t *testing.T) {
	m, _, _ := newModuleWithPools(t)
	call := m.Call(context.Background(), "countdown", 1, 0)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	if _, err := call.Wait(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("Wait() error = %v, want DeadlineExceeded", err)
	}
	select {
	case <-call.Done():
		t.Error("call should still be pending")
	default:
	}
}

// TestEnv_ScheduleTwice verifies a hop may schedule only one continuation
func TestEnv_ScheduleTwice(t *testing.T) {
	m, regular, _ := newModuleWithPools(t)

	twice := func(env *Env, args []Term) (Term, error) {
		if _, err := env.Schedule("a", 0, countdown, 0, 0); err != nil {
			return nil, err
		}
		return env.Schedule("b", 0, countdown, 0, 0)
	}
	_ = m.Register("twice", 0, twice, 0)

	call := m.Call(context.Background(), "twice")
	regular.runAll(context.Background())

	_, err := call.Wait(context.Background())
	if !IsBadArg(err) || !strings.Contains(err.Error(), "already scheduled") {
		t.Errorf("error = %v, want already scheduled", err)
	}
}

// TestEnv_ScheduleNilFunction verifies a nil continuation is refused
func TestEnv_ScheduleNilFunction(t *testing.T) {
	env := newEnv(context.Background(), NewModule("test", newMockThreadPool("r"), nil), "f")

	if _, err := env.Schedule("g", 0, nil); !IsBadArg(err) {
		t.Errorf("Schedule(nil) error = %v, want bad argument", err)
	}
	if env.Function() != "f" || env.Context() == nil || env.Logger() == nil {
		t.Error("env accessors not populated")
	}
}

// TestEnv_ScheduleCopiesArgs verifies the continuation keeps its own argument slice
func TestEnv_ScheduleCopiesArgs(t *testing.T) {
	env := newEnv(context.Background(), NewModule("test", newMockThreadPool("r"), nil), "f")
	args := []Term{1, 2}

	if _, err := env.Schedule("g", 0, countdown, args...); err != nil {
		t.Fatal(err)
	}
	args[0] = 99

	if env.pending.args[0] != 1 {
		t.Errorf("pending args = %v, want a copy", env.pending.args)
	}
}
