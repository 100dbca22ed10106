package prometheus

import (
	"context"
	"sync"
	"time"

	"github.com/Swind/go-timeslice/core"
	prom "github.com/prometheus/client_golang/prometheus"
)

// RunnerSnapshotProvider provides current runner stats snapshots.
type RunnerSnapshotProvider interface {
	Stats() core.RunnerStats
}

// PoolSnapshotProvider provides current pool stats snapshots.
type PoolSnapshotProvider interface {
	Stats() core.PoolStats
}

// ModuleSnapshotProvider provides current native module stats snapshots.
type ModuleSnapshotProvider interface {
	Stats() core.ModuleStats
}

// SnapshotPoller periodically exports runner, pool and module Stats()
// snapshots into Prometheus gauges.
type SnapshotPoller struct {
	interval time.Duration

	mu      sync.RWMutex
	runners map[string]RunnerSnapshotProvider
	pools   map[string]PoolSnapshotProvider
	modules map[string]ModuleSnapshotProvider

	runnerPending  *prom.GaugeVec
	runnerRunning  *prom.GaugeVec
	runnerRejected *prom.GaugeVec
	runnerClosed   *prom.GaugeVec

	poolQueued  *prom.GaugeVec
	poolActive  *prom.GaugeVec
	poolDelayed *prom.GaugeVec
	poolWorkers *prom.GaugeVec
	poolRunning *prom.GaugeVec

	moduleInFlight    *prom.GaugeVec
	moduleCompleted   *prom.GaugeVec
	moduleReschedules *prom.GaugeVec
	moduleResources   *prom.GaugeVec

	stateMu sync.Mutex
	running bool
	cancel  context.CancelFunc
	done    chan struct{}
}

// NewSnapshotPoller creates a snapshot poller and registers its collectors.
func NewSnapshotPoller(reg prom.Registerer, interval time.Duration) (*SnapshotPoller, error) {
	if reg == nil {
		reg = prom.DefaultRegisterer
	}
	if interval <= 0 {
		interval = time.Second
	}

	gauge := func(name, help string, labels ...string) *prom.GaugeVec {
		return prom.NewGaugeVec(prom.GaugeOpts{Namespace: DefaultNamespace, Name: name, Help: help}, labels)
	}

	p := &SnapshotPoller{
		interval: interval,
		runners:  make(map[string]RunnerSnapshotProvider),
		pools:    make(map[string]PoolSnapshotProvider),
		modules:  make(map[string]ModuleSnapshotProvider),

		runnerPending:  gauge("runner_pending", "Number of pending tasks per runner.", "runner", "type"),
		runnerRunning:  gauge("runner_running", "Number of running tasks per runner.", "runner", "type"),
		runnerRejected: gauge("runner_rejected_total", "Runner rejected task count snapshot.", "runner", "type"),
		runnerClosed:   gauge("runner_closed", "Runner closed state (1=closed, 0=open).", "runner", "type"),

		poolQueued:  gauge("pool_queued", "Queued tasks per pool.", "pool"),
		poolActive:  gauge("pool_active", "Active tasks per pool.", "pool"),
		poolDelayed: gauge("pool_delayed", "Delayed tasks per pool.", "pool"),
		poolWorkers: gauge("pool_workers", "Worker count per pool.", "pool"),
		poolRunning: gauge("pool_running", "Pool running state (1=running, 0=stopped).", "pool"),

		moduleInFlight:    gauge("module_in_flight", "Native calls started and not yet finished.", "module"),
		moduleCompleted:   gauge("module_completed_total", "Native calls finished, snapshot.", "module"),
		moduleReschedules: gauge("module_reschedules_total", "Continuations scheduled by native calls, snapshot.", "module"),
		moduleResources:   gauge("module_resources", "Buffers parked between hops.", "module"),
	}

	for _, g := range []**prom.GaugeVec{
		&p.runnerPending, &p.runnerRunning, &p.runnerRejected, &p.runnerClosed,
		&p.poolQueued, &p.poolActive, &p.poolDelayed, &p.poolWorkers, &p.poolRunning,
		&p.moduleInFlight, &p.moduleCompleted, &p.moduleReschedules, &p.moduleResources,
	} {
		registered, err := registerCollector(reg, *g)
		if err != nil {
			return nil, err
		}
		*g = registered
	}
	return p, nil
}

// AddRunner adds or replaces a runner snapshot provider by name.
func (p *SnapshotPoller) AddRunner(name string, provider RunnerSnapshotProvider) {
	if p == nil || provider == nil {
		return
	}
	p.mu.Lock()
	p.runners[normalizeLabel(name, "runner")] = provider
	p.mu.Unlock()
}

// AddPool adds or replaces a pool snapshot provider by name.
func (p *SnapshotPoller) AddPool(name string, provider PoolSnapshotProvider) {
	if p == nil || provider == nil {
		return
	}
	p.mu.Lock()
	p.pools[normalizeLabel(name, "pool")] = provider
	p.mu.Unlock()
}

// AddModule adds or replaces a module snapshot provider by name.
func (p *SnapshotPoller) AddModule(name string, provider ModuleSnapshotProvider) {
	if p == nil || provider == nil {
		return
	}
	p.mu.Lock()
	p.modules[normalizeLabel(name, "module")] = provider
	p.mu.Unlock()
}

// Start begins periodic polling; repeated calls are no-ops.
func (p *SnapshotPoller) Start(ctx context.Context) {
	if p == nil {
		return
	}

	p.stateMu.Lock()
	if p.running {
		p.stateMu.Unlock()
		return
	}
	pollCtx, cancel := context.WithCancel(ctx)
	p.cancel = cancel
	p.done = make(chan struct{})
	p.running = true
	p.stateMu.Unlock()

	go p.loop(pollCtx, p.done)
}

// Stop stops periodic polling; repeated calls are safe.
func (p *SnapshotPoller) Stop() {
	if p == nil {
		return
	}

	p.stateMu.Lock()
	if !p.running {
		p.stateMu.Unlock()
		return
	}
	cancel, done := p.cancel, p.done
	p.running = false
	p.cancel = nil
	p.done = nil
	p.stateMu.Unlock()

	cancel()
	<-done
}

// CollectOnce takes one snapshot of every provider.
func (p *SnapshotPoller) CollectOnce() {
	p.mu.RLock()
	defer p.mu.RUnlock()

	for name, provider := range p.runners {
		stats := provider.Stats()
		typeLabel := normalizeLabel(stats.Type, "unknown")
		p.runnerPending.WithLabelValues(name, typeLabel).Set(float64(stats.Pending))
		p.runnerRunning.WithLabelValues(name, typeLabel).Set(float64(stats.Running))
		p.runnerRejected.WithLabelValues(name, typeLabel).Set(float64(stats.Rejected))
		p.runnerClosed.WithLabelValues(name, typeLabel).Set(boolGauge(stats.Closed))
	}

	for name, provider := range p.pools {
		stats := provider.Stats()
		p.poolQueued.WithLabelValues(name).Set(float64(stats.Queued))
		p.poolActive.WithLabelValues(name).Set(float64(stats.Active))
		p.poolDelayed.WithLabelValues(name).Set(float64(stats.Delayed))
		p.poolWorkers.WithLabelValues(name).Set(float64(stats.Workers))
		p.poolRunning.WithLabelValues(name).Set(boolGauge(stats.Running))
	}

	for name, provider := range p.modules {
		stats := provider.Stats()
		p.moduleInFlight.WithLabelValues(name).Set(float64(stats.InFlight))
		p.moduleCompleted.WithLabelValues(name).Set(float64(stats.Completed))
		p.moduleReschedules.WithLabelValues(name).Set(float64(stats.Reschedules))
		p.moduleResources.WithLabelValues(name).Set(float64(stats.Resources))
	}
}

func (p *SnapshotPoller) loop(ctx context.Context, done chan struct{}) {
	defer close(done)

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	p.CollectOnce()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.CollectOnce()
		}
	}
}

func boolGauge(b bool) float64 {
	if b {
		return 1
	}
	return 0
}
