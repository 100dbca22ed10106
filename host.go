package timeslice

import (
	"context"
	"fmt"
	"sync"

	"github.com/Swind/go-timeslice/bitwise"
	"github.com/Swind/go-timeslice/core"
)

// ModuleName is the name the bitwise functions are registered under.
const ModuleName = "bitwise"

// Host bundles the regular pool, the dirty pool and the module that runs
// native functions on them.
type Host struct {
	Regular *GoroutineThreadPool
	Dirty   *GoroutineThreadPool
	Module  *core.Module
}

// HostConfig configures NewHost.
type HostConfig struct {
	Workers      int
	DirtyWorkers int
	Scheduler    *core.TaskSchedulerConfig
	Engine       *bitwise.Engine
	ModuleOpts   []core.ModuleOption
}

// NewHost builds and starts a host with the bitwise functions loaded.
// The regular pool orders by priority; continuations are posted at the
// priority of the call that started them.
func NewHost(ctx context.Context, cfg HostConfig) (*Host, error) {
	regular := NewPriorityGoroutineThreadPoolWithConfig("regular", max(cfg.Workers, 1), cfg.Scheduler)
	dirty := NewGoroutineThreadPoolWithConfig("dirty-cpu", max(cfg.DirtyWorkers, 1), cfg.Scheduler)

	module := core.NewModule(ModuleName, regular, dirty, cfg.ModuleOpts...)
	if _, err := bitwise.Load(module, cfg.Engine); err != nil {
		return nil, fmt.Errorf("new host: %w", err)
	}

	regular.Start(ctx)
	dirty.Start(ctx)
	return &Host{Regular: regular, Dirty: dirty, Module: module}, nil
}

// Stop closes the module and stops both pools. Calls whose next hop was
// still queued finish with core.ErrModuleClosed.
func (h *Host) Stop() {
	h.Module.Close()
	h.Regular.Stop()
	h.Dirty.Stop()
	h.Module.Shutdown()
}

// =============================================================================
// Global Host Helper (Singleton)
// =============================================================================

var (
	globalHost *Host
	globalMu   sync.Mutex
)

// InitGlobalHost initializes the process-wide host. Repeated calls are no-ops.
func InitGlobalHost(workers, dirtyWorkers int) error {
	globalMu.Lock()
	defer globalMu.Unlock()

	if globalHost != nil {
		return nil
	}

	host, err := NewHost(context.Background(), HostConfig{Workers: workers, DirtyWorkers: dirtyWorkers})
	if err != nil {
		return err
	}
	globalHost = host
	return nil
}

// GetGlobalHost returns the global host.
// It panics if InitGlobalHost has not been called.
func GetGlobalHost() *Host {
	globalMu.Lock()
	defer globalMu.Unlock()

	if globalHost == nil {
		panic("global host not initialized. Call InitGlobalHost() first.")
	}
	return globalHost
}

// ShutdownGlobalHost stops the global host.
func ShutdownGlobalHost() {
	globalMu.Lock()
	defer globalMu.Unlock()

	if globalHost != nil {
		globalHost.Stop()
		globalHost = nil
	}
}

// Exor runs one of the bitwise functions on the global host.
func Exor(ctx context.Context, function string, src []byte, param byte) (bitwise.Result, error) {
	return bitwise.Call(ctx, GetGlobalHost().Module, function, src, param)
}
