package core

import (
	"container/heap"
	"sync"
	"time"
)

const (
	defaultQueueCap     = 16
	compactMinCap       = 64 // Don't compact if capacity is less than this
	compactShrinkFactor = 4  // Trigger compaction when len < cap/4
)

// TaskItem is a queued task together with its traits and the time it was queued.
type TaskItem struct {
	Task     Task
	Traits   TaskTraits
	QueuedAt time.Time
}

// TaskQueue defines the interface for different queue implementations
type TaskQueue interface {
	Push(t Task, traits TaskTraits)
	Pop() (TaskItem, bool)
	PeekTraits() (TaskTraits, bool)
	Len() int
	IsEmpty() bool
	Clear()
}

// =============================================================================
// FIFOTaskQueue
// =============================================================================

type FIFOTaskQueue struct {
	mu    sync.Mutex
	tasks []TaskItem
}

func NewFIFOTaskQueue() *FIFOTaskQueue {
	return &FIFOTaskQueue{
		tasks: make([]TaskItem, 0, defaultQueueCap),
	}
}

func (q *FIFOTaskQueue) Push(t Task, traits TaskTraits) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.tasks = append(q.tasks, TaskItem{Task: t, Traits: traits, QueuedAt: time.Now()})
}

func (q *FIFOTaskQueue) Pop() (TaskItem, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.tasks) == 0 {
		return TaskItem{}, false
	}

	item := q.tasks[0]
	// Zero the vacated slot so the closure (and any buffer it captured) can be collected
	q.tasks[0] = TaskItem{}
	q.tasks = q.tasks[1:]
	q.compactLocked()

	return item, true
}

func (q *FIFOTaskQueue) compactLocked() {
	n := len(q.tasks)
	c := cap(q.tasks)

	if c < compactMinCap {
		return
	}
	if n == 0 {
		q.tasks = make([]TaskItem, 0, defaultQueueCap)
		return
	}
	if n*compactShrinkFactor >= c {
		return
	}

	shrunk := make([]TaskItem, n, max(c/2, defaultQueueCap, n))
	copy(shrunk, q.tasks)
	q.tasks = shrunk
}

func (q *FIFOTaskQueue) PeekTraits() (TaskTraits, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.tasks) == 0 {
		return TaskTraits{}, false
	}
	return q.tasks[0].Traits, true
}

func (q *FIFOTaskQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.tasks)
}

func (q *FIFOTaskQueue) IsEmpty() bool {
	return q.Len() == 0
}

// Clear removes all tasks from the queue and releases references
func (q *FIFOTaskQueue) Clear() {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.tasks = make([]TaskItem, 0, defaultQueueCap)
}

// =============================================================================
// PriorityTaskQueue: Min-Heap based queue with Stability (FIFO for same priority)
// =============================================================================

type priorityItem struct {
	TaskItem
	sequence uint64
}

type priorityHeap []*priorityItem

func (h priorityHeap) Len() int { return len(h) }

// Less puts the highest priority first, then the smallest sequence (FIFO)
func (h priorityHeap) Less(i, j int) bool {
	if h[i].Traits.Priority != h[j].Traits.Priority {
		return h[i].Traits.Priority > h[j].Traits.Priority
	}
	return h[i].sequence < h[j].sequence
}

func (h priorityHeap) Swap(i, j int) { h[i], h[j] = h[j], h[i] }

func (h *priorityHeap) Push(x any) {
	*h = append(*h, x.(*priorityItem))
}

func (h *priorityHeap) Pop() any {
	old := *h
	n := len(old)
	item := old[n-1]
	old[n-1] = nil
	*h = old[:n-1]
	return item
}

type PriorityTaskQueue struct {
	mu           sync.Mutex
	pq           priorityHeap
	nextSequence uint64
}

func NewPriorityTaskQueue() *PriorityTaskQueue {
	return &PriorityTaskQueue{
		pq: make(priorityHeap, 0, defaultQueueCap),
	}
}

func (q *PriorityTaskQueue) Push(t Task, traits TaskTraits) {
	q.mu.Lock()
	defer q.mu.Unlock()

	heap.Push(&q.pq, &priorityItem{
		TaskItem: TaskItem{Task: t, Traits: traits, QueuedAt: time.Now()},
		sequence: q.nextSequence,
	})
	q.nextSequence++
}

func (q *PriorityTaskQueue) Pop() (TaskItem, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.pq) == 0 {
		return TaskItem{}, false
	}
	return heap.Pop(&q.pq).(*priorityItem).TaskItem, true
}

func (q *PriorityTaskQueue) PeekTraits() (TaskTraits, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.pq) == 0 {
		return TaskTraits{}, false
	}
	return q.pq[0].Traits, true
}

func (q *PriorityTaskQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.pq)
}

func (q *PriorityTaskQueue) IsEmpty() bool {
	return q.Len() == 0
}

// Clear removes all tasks from the queue and releases references
func (q *PriorityTaskQueue) Clear() {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.pq = make(priorityHeap, 0, defaultQueueCap)
	q.nextSequence = 0
}
