// Package probe measures how responsive a pool is while other work runs on it.
package probe

import (
	"context"
	"sync"
	"time"

	"github.com/Swind/go-timeslice/core"
)

// Stats summarizes the lateness observed by a Heartbeat.
type Stats struct {
	Samples int
	Max     time.Duration
	Mean    time.Duration
	Total   time.Duration
}

// Heartbeat is a repeating task that records how late each run starts
// compared to when it was due. On a pool whose workers are all held by
// long-running tasks, lateness grows with the length of those tasks.
type Heartbeat struct {
	runner   *core.SequencedTaskRunner
	interval time.Duration
	now      func() time.Time
	onSample func(late time.Duration)
	traits   core.TaskTraits

	mu     sync.Mutex
	due    time.Time
	stats  Stats
	handle core.RepeatingTaskHandle
}

// HeartbeatOption configures a Heartbeat.
type HeartbeatOption func(*Heartbeat)

// WithClock replaces time.Now.
func WithClock(now func() time.Time) HeartbeatOption {
	return func(h *Heartbeat) { h.now = now }
}

// WithSampleHook is called with every lateness sample, e.g. to feed a histogram.
func WithSampleHook(fn func(late time.Duration)) HeartbeatOption {
	return func(h *Heartbeat) { h.onSample = fn }
}

// WithTraits sets the traits each beat is posted with (default: user visible,
// the same as native calls).
func WithTraits(traits core.TaskTraits) HeartbeatOption {
	return func(h *Heartbeat) { h.traits = traits }
}

// NewHeartbeat creates a heartbeat that beats every interval on runner.
func NewHeartbeat(runner *core.SequencedTaskRunner, interval time.Duration, opts ...HeartbeatOption) *Heartbeat {
	h := &Heartbeat{
		runner:   runner,
		interval: interval,
		now:      time.Now,
		traits:   core.DefaultTaskTraits(),
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Start begins beating. Calling Start on a running heartbeat does nothing.
func (h *Heartbeat) Start() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.handle != nil && !h.handle.IsStopped() {
		return
	}
	h.due = time.Time{}
	h.handle = h.runner.PostRepeatingTaskWithInitialDelay(h.beat, 0, h.interval, h.traits)
}

// Stop ends the heartbeat after the current beat, if any.
func (h *Heartbeat) Stop() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.handle != nil {
		h.handle.Stop()
	}
}

// Reset clears the collected samples.
func (h *Heartbeat) Reset() {
	h.mu.Lock()
	h.stats = Stats{}
	h.due = time.Time{}
	h.mu.Unlock()
}

// Stats returns the samples collected so far.
func (h *Heartbeat) Stats() Stats {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.stats
}

func (h *Heartbeat) beat(_ context.Context) {
	now := h.now()

	h.mu.Lock()
	var late time.Duration
	sampled := !h.due.IsZero()
	if sampled {
		late = max(now.Sub(h.due), 0)
		h.stats.Samples++
		h.stats.Total += late
		h.stats.Max = max(h.stats.Max, late)
		h.stats.Mean = h.stats.Total / time.Duration(h.stats.Samples)
	}
	h.due = now.Add(h.interval)
	h.mu.Unlock()

	if sampled && h.onSample != nil {
		h.onSample(late)
	}
}
