package core

import "context"

// NativeFlags select where a native function runs.
type NativeFlags uint8

const (
	// FlagDirtyCPU runs the function on the module's dirty pool, where a
	// long uninterrupted run does not hold up regular work.
	FlagDirtyCPU NativeFlags = 1 << iota
)

// NativeFunc is a function callable through a Module.
//
// It either returns a final result, returns an error (an ArgumentError for
// rejected input), or returns the term produced by Env.Schedule to continue
// later in a new hop.
type NativeFunc func(env *Env, args []Term) (Term, error)

// scheduled is the term Env.Schedule hands back to the native function.
type scheduled struct {
	name string
}

type pendingHop struct {
	name  string
	fn    NativeFunc
	flags NativeFlags
	args  []Term
}

// Env is the environment of one native-function hop. It is only valid for
// the duration of that hop and must not be retained.
type Env struct {
	ctx      context.Context
	module   *Module
	function string
	quantum  *Quantum
	pending  *pendingHop
}

func newEnv(ctx context.Context, m *Module, function string) *Env {
	return &Env{
		ctx:      ctx,
		module:   m,
		function: function,
		quantum:  NewQuantum(),
	}
}

// Context returns the caller's context.
func (e *Env) Context() context.Context { return e.ctx }

// Function returns the name the current hop runs under.
func (e *Env) Function() string { return e.function }

// Quantum returns the timeslice of the current hop.
func (e *Env) Quantum() *Quantum { return e.quantum }

// ConsumeTimeslice charges percent of the hop's quantum and reports whether
// the quantum is exhausted.
func (e *Env) ConsumeTimeslice(percent int) bool {
	return e.quantum.ChargeAndCheck(percent)
}

// Resources returns the module's resource store.
func (e *Env) Resources() *ResourceStore { return e.module.resources }

// Logger returns the module's logger.
func (e *Env) Logger() Logger { return e.module.logger }

// BadArg builds an ArgumentError for the current function.
func (e *Env) BadArg(format string, a ...any) error {
	return BadArg(e.function, format, a...)
}

// Schedule asks the host to run fn with args in a later hop, after the
// current one returns. The native function must return the resulting term.
// The args slice is copied; it is the whole of the state the next hop sees.
func (e *Env) Schedule(name string, flags NativeFlags, fn NativeFunc, args ...Term) (Term, error) {
	if fn == nil {
		return nil, e.BadArg("schedule %q: nil function", name)
	}
	if e.pending != nil {
		return nil, e.BadArg("schedule %q: %q already scheduled in this hop", name, e.pending.name)
	}
	e.pending = &pendingHop{
		name:  name,
		fn:    fn,
		flags: flags,
		args:  append([]Term(nil), args...),
	}
	return scheduled{name: name}, nil
}
