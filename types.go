package timeslice

import "github.com/Swind/go-timeslice/core"

// Re-export commonly used types from core package for convenience.
// This allows users to import only the timeslice package for most use cases.

// Task is the unit of work (Closure)
type Task = core.Task

// TaskTraits defines task attributes (priority, category)
type TaskTraits = core.TaskTraits

// TaskPriority defines the priority levels for tasks
type TaskPriority = core.TaskPriority

// TaskRunner is the interface for posting tasks
type TaskRunner = core.TaskRunner

// SequencedTaskRunner ensures sequential execution of tasks
type SequencedTaskRunner = core.SequencedTaskRunner

// ThreadPool is re-exported for type compatibility
type ThreadPool = core.ThreadPool

// Module is a table of native functions run as hops on host pools
type Module = core.Module

// Term is a host value passed to or returned from a native function
type Term = core.Term

// Priority constants
const (
	TaskPriorityBestEffort   TaskPriority = core.TaskPriorityBestEffort
	TaskPriorityUserVisible  TaskPriority = core.TaskPriorityUserVisible
	TaskPriorityUserBlocking TaskPriority = core.TaskPriorityUserBlocking
)

// Convenience functions for creating TaskTraits
var (
	DefaultTaskTraits  = core.DefaultTaskTraits
	TraitsUserBlocking = core.TraitsUserBlocking
	TraitsBestEffort   = core.TraitsBestEffort
	TraitsUserVisible  = core.TraitsUserVisible
)

// NewSequencedTaskRunner creates a new SequencedTaskRunner with the given thread pool.
func NewSequencedTaskRunner(pool ThreadPool) *SequencedTaskRunner {
	return core.NewSequencedTaskRunner(pool)
}

// GetCurrentTaskRunner retrieves the current TaskRunner from context
var GetCurrentTaskRunner = core.GetCurrentTaskRunner
