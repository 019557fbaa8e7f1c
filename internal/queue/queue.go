package queue

import (
	"context"
	"sync"

	"crashrelay/internal/domain"
)

// TaskQueue is an unbounded FIFO of lifecycle tasks. Any number of
// producers may enqueue; a single dispatcher dequeues.
type TaskQueue struct {
	mu    sync.Mutex
	items []domain.Task
	// ready holds at most one wakeup for a blocked Dequeue.
	ready chan struct{}
}

func New() *TaskQueue {
	return &TaskQueue{
		items: make([]domain.Task, 0, 64),
		ready: make(chan struct{}, 1),
	}
}

// Enqueue appends t to the tail. It always succeeds.
func (q *TaskQueue) Enqueue(t domain.Task) bool {
	q.mu.Lock()
	q.items = append(q.items, t)
	q.mu.Unlock()

	queueEnqueuedTotal.WithLabelValues(string(t.Kind)).Inc()
	queueDepth.Inc()
	q.signal()
	return true
}

// Dequeue removes and returns the head, blocking until a task is available
// or ctx is done.
func (q *TaskQueue) Dequeue(ctx context.Context) (domain.Task, error) {
	for {
		if t, ok := q.TryDequeue(); ok {
			return t, nil
		}
		select {
		case <-ctx.Done():
			return domain.Task{}, ctx.Err()
		case <-q.ready:
		}
	}
}

// TryDequeue removes and returns the head without blocking. ok is false
// when the queue is empty.
func (q *TaskQueue) TryDequeue() (domain.Task, bool) {
	q.mu.Lock()
	if len(q.items) == 0 {
		q.mu.Unlock()
		return domain.Task{}, false
	}
	t := q.items[0]
	q.items[0] = domain.Task{}
	q.items = q.items[1:]
	q.mu.Unlock()

	queueDepth.Dec()
	return t, true
}

// Len reports the number of queued tasks.
func (q *TaskQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

func (q *TaskQueue) signal() {
	select {
	case q.ready <- struct{}{}:
	default:
	}
}
