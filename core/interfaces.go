package core

import (
	"context"
	"time"
)

// =============================================================================
// PanicHandler: Interface for handling task panics
// =============================================================================

// PanicHandler is called when a task or native function panics during execution.
//
// Implementations should be thread-safe as they may be called concurrently.
type PanicHandler interface {
	// HandlePanic is called when a task panics.
	//
	// Parameters:
	// - ctx: The context from the panicked task
	// - runnerName: The pool, runner or native function where the panic occurred
	// - workerID: The ID of the worker (-1 when not raised on a pool worker)
	// - panicInfo: The panic value recovered from the task
	// - stackTrace: The stack trace at the time of panic
	HandlePanic(ctx context.Context, runnerName string, workerID int, panicInfo any, stackTrace []byte)
}

// DefaultPanicHandler reports panics through a Logger (slog by default).
type DefaultPanicHandler struct {
	Logger Logger
}

// HandlePanic logs the panic at error level.
func (h *DefaultPanicHandler) HandlePanic(ctx context.Context, runnerName string, workerID int, panicInfo any, stackTrace []byte) {
	logger := h.Logger
	if logger == nil {
		logger = NewDefaultLogger()
	}
	logger.Error("task panicked",
		F("runner", runnerName),
		F("worker", workerID),
		F("panic", panicInfo),
		F("stack", string(stackTrace)),
	)
}

// =============================================================================
// Metrics: Interface for observability and monitoring
// =============================================================================

// Metrics defines the interface for collecting execution metrics.
//
// Methods should be non-blocking and fast: they run on worker goroutines
// between native-function hops.
type Metrics interface {
	// RecordTaskDuration records how long a task (one hop) took to execute.
	RecordTaskDuration(runnerName string, priority TaskPriority, duration time.Duration)

	// RecordTaskPanic records that a task panicked during execution.
	RecordTaskPanic(runnerName string, panicInfo any)

	// RecordQueueDepth records the current queue depth.
	RecordQueueDepth(runnerName string, depth int)

	// RecordTaskRejected records that a task was rejected (e.g., during shutdown).
	RecordTaskRejected(runnerName string, reason string)

	// RecordReschedule records that a native function yielded and was
	// rescheduled through Env.Schedule.
	RecordReschedule(function string)

	// RecordTimeslice records the percent of a quantum one hop reported
	// through Quantum.ChargeAndCheck. It may exceed 100.
	RecordTimeslice(function string, percent int)
}

// NilMetrics provides a no-op metrics implementation that does nothing.
// This is the default when no metrics interface is provided.
type NilMetrics struct{}

func (m *NilMetrics) RecordTaskDuration(runnerName string, priority TaskPriority, duration time.Duration) {
}
func (m *NilMetrics) RecordTaskPanic(runnerName string, panicInfo any)    {}
func (m *NilMetrics) RecordQueueDepth(runnerName string, depth int)       {}
func (m *NilMetrics) RecordTaskRejected(runnerName string, reason string) {}
func (m *NilMetrics) RecordReschedule(function string)                    {}
func (m *NilMetrics) RecordTimeslice(function string, percent int)        {}

// =============================================================================
// RejectedTaskHandler: Interface for handling rejected tasks
// =============================================================================

// RejectedTaskHandler is called when a task is rejected by the scheduler,
// which happens once the scheduler is shutting down.
//
// Implementations should be thread-safe as they may be called concurrently.
type RejectedTaskHandler interface {
	HandleRejectedTask(runnerName string, reason string)
}

// DefaultRejectedTaskHandler logs rejected tasks at warn level.
type DefaultRejectedTaskHandler struct {
	Logger Logger
}

// HandleRejectedTask logs the rejected task.
func (h *DefaultRejectedTaskHandler) HandleRejectedTask(runnerName string, reason string) {
	logger := h.Logger
	if logger == nil {
		logger = NewDefaultLogger()
	}
	logger.Warn("task rejected", F("runner", runnerName), F("reason", reason))
}

// =============================================================================
// TaskSchedulerConfig: Configuration for TaskScheduler
// =============================================================================

// TaskSchedulerConfig holds configuration options for TaskScheduler.
// All handlers are optional; if not provided, default implementations will be used.
type TaskSchedulerConfig struct {
	// PanicHandler is called when a task panics. Defaults to DefaultPanicHandler.
	PanicHandler PanicHandler

	// Metrics is called to record task execution metrics. Defaults to NilMetrics.
	Metrics Metrics

	// RejectedTaskHandler is called when a task is rejected. Defaults to DefaultRejectedTaskHandler.
	RejectedTaskHandler RejectedTaskHandler
}

// DefaultTaskSchedulerConfig returns a config with default handlers.
func DefaultTaskSchedulerConfig() *TaskSchedulerConfig {
	return &TaskSchedulerConfig{
		PanicHandler:        &DefaultPanicHandler{},
		Metrics:             &NilMetrics{},
		RejectedTaskHandler: &DefaultRejectedTaskHandler{},
	}
}

func (c *TaskSchedulerConfig) withDefaults() *TaskSchedulerConfig {
	out := DefaultTaskSchedulerConfig()
	if c == nil {
		return out
	}
	if c.PanicHandler != nil {
		out.PanicHandler = c.PanicHandler
	}
	if c.Metrics != nil {
		out.Metrics = c.Metrics
	}
	if c.RejectedTaskHandler != nil {
		out.RejectedTaskHandler = c.RejectedTaskHandler
	}
	return out
}
