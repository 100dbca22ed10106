package core

import (
	"context"
	"time"
)

// Task is the unit of work (Closure)
type Task func(ctx context.Context)

// =============================================================================
// TaskTraits: Define task attributes (priority, category)
// =============================================================================

type TaskPriority int

const (
	// TaskPriorityBestEffort: Lowest priority
	TaskPriorityBestEffort TaskPriority = iota

	// TaskPriorityUserVisible: Default priority
	TaskPriorityUserVisible

	// TaskPriorityUserBlocking: Highest priority
	TaskPriorityUserBlocking
)

// String returns the metric label form of the priority.
func (p TaskPriority) String() string {
	switch p {
	case TaskPriorityUserBlocking:
		return "user_blocking"
	case TaskPriorityUserVisible:
		return "user_visible"
	case TaskPriorityBestEffort:
		return "best_effort"
	default:
		return "unknown"
	}
}

type TaskTraits struct {
	Priority TaskPriority
	// Category names the native function a task belongs to; used for metric labels.
	Category string
}

func DefaultTaskTraits() TaskTraits {
	return TaskTraits{Priority: TaskPriorityUserVisible}
}

func TraitsUserBlocking() TaskTraits {
	return TaskTraits{Priority: TaskPriorityUserBlocking}
}

func TraitsBestEffort() TaskTraits {
	return TaskTraits{Priority: TaskPriorityBestEffort}
}

func TraitsUserVisible() TaskTraits {
	return TaskTraits{Priority: TaskPriorityUserVisible}
}

// =============================================================================
// TaskRunner: Define task submission interface
// =============================================================================
type TaskRunner interface {
	PostTask(task Task)
	PostTaskWithTraits(task Task, traits TaskTraits)
	PostDelayedTask(task Task, delay time.Duration)
	PostDelayedTaskWithTraits(task Task, delay time.Duration, traits TaskTraits)
}

// ThreadPool is the execution engine a runner or module posts work into.
type ThreadPool interface {
	PostInternal(task Task, traits TaskTraits) error
	PostDelayedInternal(task Task, delay time.Duration, traits TaskTraits, target TaskRunner) error

	Start(ctx context.Context)
	Stop()
	ID() string
	IsRunning() bool

	WorkerCount() int
	QueuedTaskCount() int
	ActiveTaskCount() int
	DelayedTaskCount() int
}

// =============================================================================
// Context Helper
// =============================================================================
type taskRunnerKeyType struct{}

var taskRunnerKey taskRunnerKeyType

func GetCurrentTaskRunner(ctx context.Context) TaskRunner {
	if v := ctx.Value(taskRunnerKey); v != nil {
		return v.(TaskRunner)
	}
	return nil
}
