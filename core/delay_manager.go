package core

import (
	"container/heap"
	"context"
	"sync"
	"time"
)

// DelayedTask represents a task scheduled for the future
type DelayedTask struct {
	RunAt  time.Time
	Task   Task
	Traits TaskTraits
	Target TaskRunner
}

type delayedTaskHeap []*DelayedTask

func (h delayedTaskHeap) Len() int           { return len(h) }
func (h delayedTaskHeap) Less(i, j int) bool { return h[i].RunAt.Before(h[j].RunAt) }
func (h delayedTaskHeap) Swap(i, j int)      { h[i], h[j] = h[j], h[i] }

func (h *delayedTaskHeap) Push(x any) { *h = append(*h, x.(*DelayedTask)) }

func (h *delayedTaskHeap) Pop() any {
	old := *h
	n := len(old)
	item := old[n-1]
	old[n-1] = nil
	*h = old[:n-1]
	return item
}

// DelayManager owns one timer goroutine that posts delayed tasks to their
// target runner when they come due.
type DelayManager struct {
	pq     delayedTaskHeap
	mu     sync.Mutex
	wakeup chan struct{}
	ctx    context.Context
	cancel context.CancelFunc
}

func NewDelayManager() *DelayManager {
	ctx, cancel := context.WithCancel(context.Background())
	dm := &DelayManager{
		wakeup: make(chan struct{}, 1),
		ctx:    ctx,
		cancel: cancel,
	}
	go dm.loop()
	return dm
}

func (dm *DelayManager) AddDelayedTask(task Task, delay time.Duration, traits TaskTraits, target TaskRunner) {
	dm.mu.Lock()
	item := &DelayedTask{
		RunAt:  time.Now().Add(delay),
		Task:   task,
		Traits: traits,
		Target: target,
	}
	heap.Push(&dm.pq, item)
	earliest := dm.pq[0] == item
	dm.mu.Unlock()

	if earliest {
		select {
		case dm.wakeup <- struct{}{}:
		default:
		}
	}
}

func (dm *DelayManager) loop() {
	timer := time.NewTimer(time.Hour)
	timer.Stop()

	for {
		next, ok := dm.nextRun()
		if !ok {
			// Nothing pending; sleep until woken
			next = 1000 * time.Hour
		}
		timer.Reset(next)

		select {
		case <-dm.ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
			dm.postExpired()
		case <-dm.wakeup:
			if !timer.Stop() {
				select {
				case <-timer.C:
				default:
				}
			}
		}
	}
}

// nextRun returns how long until the earliest task is due; false when the heap is empty.
func (dm *DelayManager) nextRun() (time.Duration, bool) {
	dm.mu.Lock()
	defer dm.mu.Unlock()

	if len(dm.pq) == 0 {
		return 0, false
	}
	return max(time.Until(dm.pq[0].RunAt), 0), true
}

func (dm *DelayManager) postExpired() {
	dm.mu.Lock()
	now := time.Now()
	var expired []*DelayedTask
	for len(dm.pq) > 0 && !dm.pq[0].RunAt.After(now) {
		expired = append(expired, heap.Pop(&dm.pq).(*DelayedTask))
	}
	dm.mu.Unlock()

	// Post outside the lock: a target may call back into AddDelayedTask
	for _, item := range expired {
		item.Target.PostTaskWithTraits(item.Task, item.Traits)
	}
}

func (dm *DelayManager) Stop() {
	dm.cancel()

	dm.mu.Lock()
	dm.pq = nil
	dm.mu.Unlock()
}

func (dm *DelayManager) TaskCount() int {
	dm.mu.Lock()
	defer dm.mu.Unlock()
	return len(dm.pq)
}
