package prometheus

import (
	"errors"
	"fmt"
	"time"

	"github.com/Swind/go-timeslice/core"
	prom "github.com/prometheus/client_golang/prometheus"
)

// DefaultNamespace prefixes every collector registered by this package.
const DefaultNamespace = "timeslice"

// ExporterOptions controls collector configuration.
type ExporterOptions struct {
	DurationBuckets []float64
	LatenessBuckets []float64
}

// MetricsExporter adapts core.Metrics to Prometheus collectors. It also
// takes heartbeat lateness samples through ObserveLateness.
type MetricsExporter struct {
	taskDurationSeconds *prom.HistogramVec
	taskPanicTotal      *prom.CounterVec
	taskRejectedTotal   *prom.CounterVec
	queueDepth          *prom.GaugeVec
	rescheduleTotal     *prom.CounterVec
	timeslicePercent    *prom.HistogramVec
	latenessSeconds     prom.Histogram
}

var _ core.Metrics = (*MetricsExporter)(nil)

// timesliceBuckets cover the 1..100 range a quantum is charged in.
var timesliceBuckets = []float64{1, 5, 10, 25, 50, 75, 90, 100}

// NewMetricsExporter creates and registers Prometheus collectors for core.Metrics.
func NewMetricsExporter(namespace string, reg prom.Registerer, opts ExporterOptions) (*MetricsExporter, error) {
	if namespace == "" {
		namespace = DefaultNamespace
	}
	if reg == nil {
		reg = prom.DefaultRegisterer
	}
	buckets := opts.DurationBuckets
	if len(buckets) == 0 {
		buckets = prom.DefBuckets
	}
	lateBuckets := opts.LatenessBuckets
	if len(lateBuckets) == 0 {
		lateBuckets = prom.ExponentialBuckets(0.0001, 4, 9)
	}

	durationVec := prom.NewHistogramVec(prom.HistogramOpts{
		Namespace: namespace,
		Name:      "task_duration_seconds",
		Help:      "Task execution duration in seconds.",
		Buckets:   buckets,
	}, []string{"pool", "priority"})
	panicVec := prom.NewCounterVec(prom.CounterOpts{
		Namespace: namespace,
		Name:      "task_panic_total",
		Help:      "Total number of task panics.",
	}, []string{"pool"})
	rejectedVec := prom.NewCounterVec(prom.CounterOpts{
		Namespace: namespace,
		Name:      "task_rejected_total",
		Help:      "Total number of rejected tasks.",
	}, []string{"pool", "reason"})
	queueDepthVec := prom.NewGaugeVec(prom.GaugeOpts{
		Namespace: namespace,
		Name:      "queue_depth",
		Help:      "Current ready queue depth.",
	}, []string{"pool"})
	rescheduleVec := prom.NewCounterVec(prom.CounterOpts{
		Namespace: namespace,
		Name:      "reschedule_total",
		Help:      "Native function hops that ended by scheduling a continuation.",
	}, []string{"function"})
	timesliceVec := prom.NewHistogramVec(prom.HistogramOpts{
		Namespace: namespace,
		Name:      "timeslice_percent",
		Help:      "Percent of the quantum a native function hop consumed.",
		Buckets:   timesliceBuckets,
	}, []string{"function"})
	lateness := prom.NewHistogram(prom.HistogramOpts{
		Namespace: namespace,
		Name:      "heartbeat_lateness_seconds",
		Help:      "How late heartbeat tasks started compared to when they were due.",
		Buckets:   lateBuckets,
	})

	var err error
	if durationVec, err = registerCollector(reg, durationVec); err != nil {
		return nil, err
	}
	if panicVec, err = registerCollector(reg, panicVec); err != nil {
		return nil, err
	}
	if rejectedVec, err = registerCollector(reg, rejectedVec); err != nil {
		return nil, err
	}
	if queueDepthVec, err = registerCollector(reg, queueDepthVec); err != nil {
		return nil, err
	}
	if rescheduleVec, err = registerCollector(reg, rescheduleVec); err != nil {
		return nil, err
	}
	if timesliceVec, err = registerCollector(reg, timesliceVec); err != nil {
		return nil, err
	}
	if lateness, err = registerCollector(reg, lateness); err != nil {
		return nil, err
	}

	return &MetricsExporter{
		taskDurationSeconds: durationVec,
		taskPanicTotal:      panicVec,
		taskRejectedTotal:   rejectedVec,
		queueDepth:          queueDepthVec,
		rescheduleTotal:     rescheduleVec,
		timeslicePercent:    timesliceVec,
		latenessSeconds:     lateness,
	}, nil
}

// RecordTaskDuration records task execution duration.
func (m *MetricsExporter) RecordTaskDuration(poolName string, priority core.TaskPriority, duration time.Duration) {
	if m == nil {
		return
	}
	m.taskDurationSeconds.WithLabelValues(normalizeLabel(poolName, "unknown"), priority.String()).Observe(duration.Seconds())
}

// RecordTaskPanic records task panic events.
func (m *MetricsExporter) RecordTaskPanic(poolName string, panicInfo any) {
	if m == nil {
		return
	}
	m.taskPanicTotal.WithLabelValues(normalizeLabel(poolName, "unknown")).Inc()
}

// RecordQueueDepth records queue depth.
func (m *MetricsExporter) RecordQueueDepth(poolName string, depth int) {
	if m == nil {
		return
	}
	m.queueDepth.WithLabelValues(normalizeLabel(poolName, "unknown")).Set(float64(depth))
}

// RecordTaskRejected records task rejection events.
func (m *MetricsExporter) RecordTaskRejected(poolName string, reason string) {
	if m == nil {
		return
	}
	m.taskRejectedTotal.WithLabelValues(normalizeLabel(poolName, "unknown"), normalizeLabel(reason, "unknown")).Inc()
}

// RecordReschedule counts a hop of function that scheduled a continuation.
func (m *MetricsExporter) RecordReschedule(function string) {
	if m == nil {
		return
	}
	m.rescheduleTotal.WithLabelValues(normalizeLabel(function, "unknown")).Inc()
}

// RecordTimeslice observes how much of its quantum a hop of function used.
func (m *MetricsExporter) RecordTimeslice(function string, percent int) {
	if m == nil {
		return
	}
	m.timeslicePercent.WithLabelValues(normalizeLabel(function, "unknown")).Observe(float64(percent))
}

// ObserveLateness records one heartbeat lateness sample.
func (m *MetricsExporter) ObserveLateness(late time.Duration) {
	if m == nil {
		return
	}
	m.latenessSeconds.Observe(late.Seconds())
}

func normalizeLabel(v string, fallback string) string {
	if v == "" {
		return fallback
	}
	return v
}

func registerCollector[T prom.Collector](reg prom.Registerer, collector T) (T, error) {
	err := reg.Register(collector)
	if err == nil {
		return collector, nil
	}

	var alreadyRegisteredErr prom.AlreadyRegisteredError
	if errors.As(err, &alreadyRegisteredErr) {
		existing, ok := alreadyRegisteredErr.ExistingCollector.(T)
		if !ok {
			return collector, fmt.Errorf("collector type mismatch for %T", collector)
		}
		return existing, nil
	}

	return collector, err
}
