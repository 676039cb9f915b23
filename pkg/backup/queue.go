package backup

import (
	"errors"
	"sort"
	"sync"

	"github.com/jasonzli-DEV/D-Drive-sub001/pkg/store"
)

// ErrRunCancelled is reported to waiters when a queued or running task is
// stopped before completing.
var ErrRunCancelled = errors.New("task run cancelled")

// item is one pending run. done is closed when the run finishes (or is
// cancelled while still queued), with err carrying the outcome.
type item struct {
	task *store.Task
	seq  uint64
	done chan struct{}
	err  error
}

func (it *item) finish(err error) {
	it.err = err
	close(it.done)
}

// queue orders pending runs by priority ascending, then enqueue order.
// A task can be queued at most once.
type queue struct {
	mu    sync.Mutex
	seq   uint64
	items []*item
	byID  map[string]*item

	// wake has capacity 1; the worker blocks on it when the queue is empty.
	wake chan struct{}
}

func newQueue() *queue {
	return &queue{
		byID: make(map[string]*item),
		wake: make(chan struct{}, 1),
	}
}

// push enqueues a run. Returns the item and false if the task was already
// queued (the existing item is returned so callers can still wait on it).
func (q *queue) push(task *store.Task) (*item, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if existing, ok := q.byID[task.ID]; ok {
		return existing, false
	}

	q.seq++
	it := &item{task: task, seq: q.seq, done: make(chan struct{})}
	q.items = append(q.items, it)
	q.byID[task.ID] = it

	sort.SliceStable(q.items, func(i, j int) bool {
		if q.items[i].task.Priority != q.items[j].task.Priority {
			return q.items[i].task.Priority < q.items[j].task.Priority
		}
		return q.items[i].seq < q.items[j].seq
	})

	select {
	case q.wake <- struct{}{}:
	default:
	}
	return it, true
}

// pop removes and returns the head of the queue, or nil when empty.
func (q *queue) pop() *item {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.items) == 0 {
		return nil
	}
	it := q.items[0]
	q.items = q.items[1:]
	delete(q.byID, it.task.ID)
	return it
}

// remove drops a still-queued run and notifies its waiters with
// ErrRunCancelled. Returns false if the task is not queued.
func (q *queue) remove(taskID string) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	it, ok := q.byID[taskID]
	if !ok {
		return false
	}
	delete(q.byID, taskID)
	for i, cand := range q.items {
		if cand == it {
			q.items = append(q.items[:i], q.items[i+1:]...)
			break
		}
	}
	it.finish(ErrRunCancelled)
	return true
}

// has reports whether the task is queued.
func (q *queue) has(taskID string) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	_, ok := q.byID[taskID]
	return ok
}

// drain cancels everything still queued. Called on shutdown.
func (q *queue) drain() {
	q.mu.Lock()
	defer q.mu.Unlock()
	for _, it := range q.items {
		delete(q.byID, it.task.ID)
		it.finish(ErrRunCancelled)
	}
	q.items = nil
}
