package bitwise

import (
	"fmt"
	"time"

	"github.com/Swind/go-timeslice/core"
)

const (
	// DefaultSliceBytes is the first episode's slice budget.
	DefaultSliceBytes uint64 = 4 * 1024 * 1024

	// DefaultMinSliceBytes keeps the slice budget from reaching zero.
	DefaultMinSliceBytes uint64 = 1

	// DefaultCostUnit is the cost of 1% of a 1ms quantum.
	DefaultCostUnit = 10 * time.Microsecond
)

// Engine runs chunked transforms. It holds configuration only and is safe
// for concurrent use; all per-task state lives in State.
type Engine struct {
	transform    ByteFunc
	defaultSlice uint64
	minSlice     uint64
	costUnit     time.Duration
	clock        func() time.Time
	chunkHook    func(lo, hi uint64)
}

// Option configures an Engine.
type Option func(*Engine)

// WithTransform replaces XOR with f. A nil f keeps XOR.
func WithTransform(f ByteFunc) Option {
	return func(e *Engine) {
		if f != nil {
			e.transform = f
		}
	}
}

// WithDefaultSliceBytes sets the first episode's slice budget.
func WithDefaultSliceBytes(n uint64) Option {
	return func(e *Engine) {
		if n > 0 {
			e.defaultSlice = n
		}
	}
}

// WithMinSliceBytes sets the floor the adaptive sizer never goes below,
// unless the episode itself processed less.
func WithMinSliceBytes(n uint64) Option {
	return func(e *Engine) {
		if n > 0 {
			e.minSlice = n
		}
	}
}

// WithCostUnit sets how much measured time counts as 1% of the quantum.
func WithCostUnit(d time.Duration) Option {
	return func(e *Engine) {
		if d > 0 {
			e.costUnit = d
		}
	}
}

// WithClock replaces time.Now for chunk cost measurement.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) {
		if now != nil {
			e.clock = now
		}
	}
}

// WithChunkHook calls hook with every chunk range after it is written.
func WithChunkHook(hook func(lo, hi uint64)) Option {
	return func(e *Engine) { e.chunkHook = hook }
}

// NewEngine returns an engine with XOR, a 4 MiB first slice and a 10µs cost unit.
func NewEngine(opts ...Option) *Engine {
	e := &Engine{
		transform:    XOR,
		defaultSlice: DefaultSliceBytes,
		minSlice:     DefaultMinSliceBytes,
		costUnit:     DefaultCostUnit,
		clock:        time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// DefaultSlice returns the first episode's slice budget.
func (e *Engine) DefaultSlice() uint64 { return e.defaultSlice }

// State is a task between or during episodes. Output is owned by whoever
// holds the State.
type State struct {
	Source     []byte
	Param      byte
	SliceBytes uint64
	Cursor     uint64
	Output     []byte
	Yields     int
}

// Done reports whether every byte has been written.
func (s *State) Done() bool {
	return s.Cursor == uint64(len(s.Source))
}

// Continuation is everything needed to resume a suspended task. The output
// buffer itself is parked in a core.ResourceStore under Output.
type Continuation struct {
	Source     []byte
	Param      byte
	SliceBytes uint64
	Cursor     uint64
	Output     core.ResourceID
	Yields     int
}

// Continuation packages s for the host, with its output parked under id.
func (s *State) Continuation(id core.ResourceID) Continuation {
	return Continuation{
		Source:     s.Source,
		Param:      s.Param,
		SliceBytes: s.SliceBytes,
		Cursor:     s.Cursor,
		Output:     id,
		Yields:     s.Yields,
	}
}

// Start begins a fresh task. It returns false for an empty source, which
// needs no task at all.
func (e *Engine) Start(src []byte, param byte) (*State, bool) {
	if len(src) == 0 {
		return nil, false
	}
	return &State{
		Source:     src,
		Param:      param,
		SliceBytes: e.defaultSlice,
		Output:     make([]byte, len(src)),
	}, true
}

// Resume rebuilds the State of a suspended task around its output buffer.
func Resume(c Continuation, output []byte) (*State, error) {
	n := uint64(len(c.Source))
	switch {
	case n == 0:
		return nil, fmt.Errorf("empty source")
	case c.SliceBytes == 0:
		return nil, fmt.Errorf("slice budget is zero")
	case c.Cursor > n:
		return nil, fmt.Errorf("cursor %d past end %d", c.Cursor, n)
	case uint64(len(output)) != n:
		return nil, fmt.Errorf("output length %d, want %d", len(output), n)
	case c.Yields < 0:
		return nil, fmt.Errorf("negative yield count %d", c.Yields)
	}
	return &State{
		Source:     c.Source,
		Param:      c.Param,
		SliceBytes: c.SliceBytes,
		Cursor:     c.Cursor,
		Output:     output,
		Yields:     c.Yields,
	}, nil
}

// Step runs one episode: chunks of st.SliceBytes until the buffer is done
// (returns true) or budget reports exhaustion (returns false, with the
// slice resized and the yield counted). The chunk that reaches the end is
// never charged.
func (e *Engine) Step(st *State, budget Budget) bool {
	n := uint64(len(st.Source))
	episodeStart := st.Cursor
	mon := monitor{budget: budget, unit: e.costUnit}

	for {
		end := chunkEnd(st.Cursor, st.SliceBytes, n)
		began := e.clock()
		e.apply(st.Output, st.Source, st.Param, st.Cursor, end)
		st.Cursor = end
		if end == n {
			return true
		}
		if !mon.charge(e.clock().Sub(began)) {
			continue
		}

		st.SliceBytes = AdjustSliceSize(st.Cursor-episodeStart, mon.consumed, e.minSlice)
		st.Yields++
		return false
	}
}

// Apply is the uninterrupted fast path: one chunk over the whole source.
// It never yields. An empty source is returned as is.
func (e *Engine) Apply(src []byte, param byte) ([]byte, int) {
	if len(src) == 0 {
		return src, 0
	}
	out := make([]byte, len(src))
	e.apply(out, src, param, 0, uint64(len(src)))
	return out, 0
}

// Run drives st to completion against budgets from next, one episode per
// budget. It is the in-process equivalent of the host rescheduling loop.
func (e *Engine) Run(st *State, next func() Budget) ([]byte, int) {
	for !e.Step(st, next()) {
	}
	return st.Output, st.Yields
}
