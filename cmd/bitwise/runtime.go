package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	prom "github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	timeslice "github.com/Swind/go-timeslice"
	"github.com/Swind/go-timeslice/bitwise"
	"github.com/Swind/go-timeslice/core"
	promexp "github.com/Swind/go-timeslice/observability/prometheus"
)

const pollInterval = time.Second

// runtime is one started host plus its metrics plumbing.
type runtime struct {
	cfg      Config
	logger   *slog.Logger
	host     *timeslice.Host
	exporter *promexp.MetricsExporter
	poller   *promexp.SnapshotPoller
	server   *http.Server
}

func startRuntime(ctx context.Context, cfg Config, logger *slog.Logger) (*runtime, error) {
	engineOpts, err := cfg.Engine.options()
	if err != nil {
		return nil, err
	}

	reg := prom.NewRegistry()
	exporter, err := promexp.NewMetricsExporter(promexp.DefaultNamespace, reg, promexp.ExporterOptions{})
	if err != nil {
		return nil, fmt.Errorf("metrics exporter: %w", err)
	}
	poller, err := promexp.NewSnapshotPoller(reg, pollInterval)
	if err != nil {
		return nil, fmt.Errorf("snapshot poller: %w", err)
	}

	coreLogger := core.NewSlogLogger(logger)
	host, err := timeslice.NewHost(ctx, timeslice.HostConfig{
		Workers:      cfg.Workers,
		DirtyWorkers: cfg.DirtyWorkers,
		Scheduler: &core.TaskSchedulerConfig{
			PanicHandler:        &core.DefaultPanicHandler{Logger: coreLogger},
			Metrics:             exporter,
			RejectedTaskHandler: &core.DefaultRejectedTaskHandler{Logger: coreLogger},
		},
		Engine: bitwise.NewEngine(engineOpts...),
		ModuleOpts: []core.ModuleOption{
			core.WithLogger(coreLogger),
			core.WithMetrics(exporter),
			core.WithPanicHandler(&core.DefaultPanicHandler{Logger: coreLogger}),
		},
	})
	if err != nil {
		return nil, err
	}

	poller.AddPool(host.Regular.ID(), host.Regular)
	poller.AddPool(host.Dirty.ID(), host.Dirty)
	poller.AddModule(host.Module.Name(), host.Module)
	poller.Start(ctx)

	rt := &runtime{
		cfg:      cfg,
		logger:   logger,
		host:     host,
		exporter: exporter,
		poller:   poller,
	}

	if cfg.MetricsAddr != "" {
		if err := rt.serveMetrics(reg); err != nil {
			rt.Close()
			return nil, err
		}
	}

	logger.Debug("host started",
		"workers", cfg.Workers, "dirty_workers", cfg.DirtyWorkers, "slice", cfg.Engine.SliceBytes)
	return rt, nil
}

func (rt *runtime) serveMetrics(reg *prom.Registry) error {
	ln, err := net.Listen("tcp", rt.cfg.MetricsAddr)
	if err != nil {
		return fmt.Errorf("metrics listen: %w", err)
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	rt.server = &http.Server{Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	go func() {
		if err := rt.server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			rt.logger.Error("metrics server stopped", "error", err)
		}
	}()
	rt.logger.Info("serving metrics", "addr", ln.Addr().String())
	return nil
}

// newRunner returns a sequenced runner on the regular pool, for probes.
func (rt *runtime) newRunner(name string) *core.SequencedTaskRunner {
	runner := core.NewSequencedTaskRunner(rt.host.Regular)
	runner.SetName(name)
	rt.poller.AddRunner(name, runner)
	return runner
}

func (rt *runtime) Close() {
	if rt.server != nil {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		_ = rt.server.Shutdown(ctx)
		cancel()
	}
	rt.poller.Stop()
	rt.host.Stop()
}
