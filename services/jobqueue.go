package services

import (
	"context"
	"errors"
	"sync"
)

var errQueueClosed = errors.New("job queue closed")

// jobQueue is an unbounded FIFO of job ids. Push never blocks; Pop blocks
// until an id is available, the context ends, or the queue is closed.
type jobQueue struct {
	mu     sync.Mutex
	items  []string
	ready  chan struct{}
	closed chan struct{}
	once   sync.Once
}

func newJobQueue() *jobQueue {
	return &jobQueue{
		ready:  make(chan struct{}, 1),
		closed: make(chan struct{}),
	}
}

// Push appends ids in order
func (q *jobQueue) Push(ids ...string) {
	if len(ids) == 0 {
		return
	}
	q.mu.Lock()
	q.items = append(q.items, ids...)
	q.mu.Unlock()
	q.signal()
}

// Pop removes and returns the oldest id
func (q *jobQueue) Pop(ctx context.Context) (string, error) {
	for {
		q.mu.Lock()
		if len(q.items) > 0 {
			id := q.items[0]
			q.items[0] = ""
			q.items = q.items[1:]
			more := len(q.items) > 0
			q.mu.Unlock()
			// Wake the next waiter; signals coalesce in the 1-slot channel.
			if more {
				q.signal()
			}
			return id, nil
		}
		q.mu.Unlock()

		select {
		case <-q.ready:
		case <-q.closed:
			return "", errQueueClosed
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}
}

// Len returns the number of ids waiting
func (q *jobQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// Close wakes every blocked Pop with errQueueClosed
func (q *jobQueue) Close() {
	q.once.Do(func() { close(q.closed) })
}

func (q *jobQueue) signal() {
	select {
	case q.ready <- struct{}{}:
	default:
	}
}
