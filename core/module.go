package core

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"sync"
	"sync/atomic"
)

// =============================================================================
// Module - native functions run as hops on host pools
// =============================================================================

// Module is a table of native functions and the host that runs them.
//
// A call runs as one or more hops. Each hop is a single Task on the regular
// pool (or the dirty pool for FlagDirtyCPU) with a fresh Quantum. A hop that
// returns through Env.Schedule is re-posted as a new task, possibly to a
// different worker; the stepping function never calls itself across that
// boundary. The caller's context is checked before every hop, so a cancelled
// call stops at its next suspension point.
type Module struct {
	name    string
	regular ThreadPool
	dirty   ThreadPool

	functions sync.Map // map[string]*nativeEntry
	pending   sync.Map // map[*Call]*pendingHop, hops posted but not started
	resources *ResourceStore

	logger       Logger
	metrics      Metrics
	panicHandler PanicHandler

	inFlight    atomic.Int64
	completed   atomic.Int64
	reschedules atomic.Int64

	closed atomic.Bool
}

type nativeEntry struct {
	name  string
	arity int
	fn    NativeFunc
	flags NativeFlags
}

// ModuleOption configures a Module.
type ModuleOption func(*Module)

// WithLogger sets the module logger (default: no logging).
func WithLogger(logger Logger) ModuleOption {
	return func(m *Module) { m.logger = logger }
}

// WithMetrics sets the metrics sink for reschedules and timeslice usage.
func WithMetrics(metrics Metrics) ModuleOption {
	return func(m *Module) { m.metrics = metrics }
}

// WithPanicHandler sets the handler for panics raised by native functions.
func WithPanicHandler(handler PanicHandler) ModuleOption {
	return func(m *Module) { m.panicHandler = handler }
}

// WithResourceStore shares a resource store between modules.
func WithResourceStore(store *ResourceStore) ModuleOption {
	return func(m *Module) { m.resources = store }
}

// NewModule creates a module whose functions run on regular, and on dirty
// when flagged FlagDirtyCPU. A nil dirty pool falls back to regular.
func NewModule(name string, regular, dirty ThreadPool, opts ...ModuleOption) *Module {
	if dirty == nil {
		dirty = regular
	}
	m := &Module{
		name:         name,
		regular:      regular,
		dirty:        dirty,
		resources:    NewResourceStore(),
		logger:       NewNoOpLogger(),
		metrics:      &NilMetrics{},
		panicHandler: &DefaultPanicHandler{},
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Name returns the module name.
func (m *Module) Name() string { return m.name }

// Resources returns the module's resource store.
func (m *Module) Resources() *ResourceStore { return m.resources }

// Register adds a callable function. Registering a name twice replaces it.
func (m *Module) Register(name string, arity int, fn NativeFunc, flags NativeFlags) error {
	if m.closed.Load() {
		return ErrModuleClosed
	}
	if name == "" || fn == nil || arity < 0 {
		return fmt.Errorf("register %q: invalid native function", name)
	}
	m.functions.Store(name, &nativeEntry{name: name, arity: arity, fn: fn, flags: flags})
	m.logger.Debug("native function registered",
		F("module", m.name), F("function", name), F("arity", arity), F("dirty", flags&FlagDirtyCPU != 0))
	return nil
}

// Functions returns the number of registered functions.
func (m *Module) Functions() int {
	n := 0
	m.functions.Range(func(_, _ any) bool {
		n++
		return true
	})
	return n
}

// Call starts name with args and returns immediately. Lookup and arity
// failures are reported through the returned Call.
func (m *Module) Call(ctx context.Context, name string, args ...Term) *Call {
	call := newCall(name)
	if m.closed.Load() {
		call.finish(nil, ErrModuleClosed)
		return call
	}

	raw, ok := m.functions.Load(name)
	if !ok {
		call.finish(nil, fmt.Errorf("%s:%s/%d: %w", m.name, name, len(args), ErrUnknownFunction))
		return call
	}
	entry := raw.(*nativeEntry)
	if len(args) != entry.arity {
		call.finish(nil, BadArg(name, "arity %d, want %d", len(args), entry.arity))
		return call
	}

	m.inFlight.Add(1)
	hop := &pendingHop{name: entry.name, fn: entry.fn, flags: entry.flags, args: args}
	m.post(ctx, call, hop, TaskTraits{Priority: call.priority, Category: entry.name})
	return call
}

// Invoke is Call followed by Wait.
func (m *Module) Invoke(ctx context.Context, name string, args ...Term) (Term, error) {
	return m.Call(ctx, name, args...).Wait(ctx)
}

func (m *Module) poolFor(flags NativeFlags) ThreadPool {
	if flags&FlagDirtyCPU != 0 {
		return m.dirty
	}
	return m.regular
}

func (m *Module) post(ctx context.Context, call *Call, hop *pendingHop, traits TaskTraits) {
	m.pending.Store(call, hop)
	task := func(_ context.Context) {
		// Shutdown may already have finished the call
		if _, ok := m.pending.LoadAndDelete(call); !ok {
			return
		}
		m.runHop(ctx, call, hop)
	}
	if err := m.poolFor(hop.flags).PostInternal(task, traits); err != nil {
		if _, ok := m.pending.LoadAndDelete(call); !ok {
			return
		}
		m.releaseResources(hop.args)
		m.complete(call, nil, fmt.Errorf("%s: %w", hop.name, err))
	}
}

func (m *Module) runHop(ctx context.Context, call *Call, hop *pendingHop) {
	if err := ctx.Err(); err != nil {
		m.logger.Info("native call cancelled at suspension point",
			F("function", hop.name), F("hops", call.hops.Load()), F("error", err))
		m.releaseResources(hop.args)
		m.complete(call, nil, err)
		return
	}

	env := newEnv(ctx, m, hop.name)
	call.hops.Add(1)
	result, err := m.invoke(env, hop)

	if consumed := env.quantum.Consumed(); consumed > 0 {
		m.metrics.RecordTimeslice(hop.name, consumed)
	}

	next := env.pending
	if err != nil {
		if next != nil {
			m.releaseResources(next.args)
		}
		m.complete(call, nil, err)
		return
	}
	if next == nil {
		m.complete(call, result, nil)
		return
	}

	m.reschedules.Add(1)
	m.metrics.RecordReschedule(hop.name)
	m.logger.Debug("native function rescheduled",
		F("function", hop.name), F("next", next.name), F("consumed", env.quantum.Consumed()))

	// Same priority as the call itself: the continuation queues behind
	// whatever was posted while this hop ran
	m.post(ctx, call, next, TaskTraits{Priority: call.priority, Category: next.name})
}

func (m *Module) invoke(env *Env, hop *pendingHop) (result Term, err error) {
	defer func() {
		if r := recover(); r != nil {
			m.metrics.RecordTaskPanic(hop.name, r)
			m.panicHandler.HandlePanic(env.ctx, hop.name, -1, r, debug.Stack())
			if env.pending != nil {
				m.releaseResources(env.pending.args)
				env.pending = nil
			}
			result, err = nil, fmt.Errorf("%s: %w: %v", hop.name, ErrNativePanic, r)
		}
	}()
	return hop.fn(env, hop.args)
}

func (m *Module) complete(call *Call, result Term, err error) {
	m.inFlight.Add(-1)
	m.completed.Add(1)
	call.finish(result, err)
}

// releaseResources drops buffers parked for a hop that will never run.
func (m *Module) releaseResources(args []Term) {
	for _, arg := range args {
		if id, ok := GetResource(arg); ok {
			m.resources.Release(id)
		}
	}
}

// Close rejects further calls. Calls already running finish normally, and
// hops already queued still run unless Shutdown finishes them first.
func (m *Module) Close() {
	m.closed.Store(true)
}

// Shutdown closes the module and finishes every call whose next hop was
// posted but never started with ErrModuleClosed, releasing the resources
// that hop carried. Call it after the pools have stopped, when queued hops
// can no longer run. It returns the number of calls it finished.
func (m *Module) Shutdown() int {
	m.Close()
	n := 0
	m.pending.Range(func(key, _ any) bool {
		raw, ok := m.pending.LoadAndDelete(key)
		if !ok {
			return true
		}
		call, hop := key.(*Call), raw.(*pendingHop)
		m.releaseResources(hop.args)
		m.complete(call, nil, fmt.Errorf("%s: %w", hop.name, ErrModuleClosed))
		n++
		return true
	})
	if n > 0 {
		m.logger.Info("module shut down with queued calls",
			F("module", m.name), F("finished", n))
	}
	return n
}

// Stats returns a snapshot for the snapshot poller.
func (m *Module) Stats() ModuleStats {
	return ModuleStats{
		Name:        m.name,
		Functions:   m.Functions(),
		InFlight:    int(m.inFlight.Load()),
		Completed:   m.completed.Load(),
		Reschedules: m.reschedules.Load(),
		Resources:   m.resources.Len(),
	}
}

// =============================================================================
// Call
// =============================================================================

// Call is the pending result of Module.Call.
type Call struct {
	function string
	priority TaskPriority
	done     chan struct{}
	once     sync.Once
	hops     atomic.Int64
	result   Term
	err      error
}

func newCall(function string) *Call {
	return &Call{function: function, priority: TaskPriorityUserVisible, done: make(chan struct{})}
}

func (c *Call) finish(result Term, err error) {
	c.once.Do(func() {
		c.result, c.err = result, err
		close(c.done)
	})
}

// Function returns the name the call was started with.
func (c *Call) Function() string { return c.function }

// Done is closed when the call has a result.
func (c *Call) Done() <-chan struct{} { return c.done }

// Hops returns how many hops have started so far.
func (c *Call) Hops() int { return int(c.hops.Load()) }

// Wait blocks until the call finishes or ctx is done.
func (c *Call) Wait(ctx context.Context) (Term, error) {
	select {
	case <-c.done:
		return c.result, c.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// IsBadArg reports whether err is an argument error.
func IsBadArg(err error) bool {
	return errors.Is(err, ErrBadArg)
}
