package utils

import (
	"context"
	"errors"
	"sync"
)

var ErrClosed = errors.New("[svsync] event queue is closed")
var ErrOverflow = errors.New("[svsync] event queue is overflowed")

// EventQueue is a bounded FIFO handoff between a producer running under
// someone else's lock and a consumer goroutine. Push never blocks; a full
// queue overflows instead, which the producer reports and drops.
type EventQueue[T any] struct {
	mu     sync.Mutex
	items  []T
	limit  int
	closed bool
	signal chan struct{}
}

func NewEventQueue[T any](limit int) *EventQueue[T] {
	return &EventQueue[T]{
		limit:  limit,
		signal: make(chan struct{}, 1),
	}
}

func (q *EventQueue[T]) Push(item T) error {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return ErrClosed
	}
	if q.limit > 0 && len(q.items) >= q.limit {
		q.mu.Unlock()
		return ErrOverflow
	}
	q.items = append(q.items, item)
	q.mu.Unlock()
	select {
	case q.signal <- struct{}{}:
	default:
	}
	return nil
}

// Pop blocks for the next item. Returns ErrClosed once the queue is both
// closed and drained.
func (q *EventQueue[T]) Pop(ctx context.Context) (item T, err error) {
	for {
		q.mu.Lock()
		if len(q.items) > 0 {
			item = q.items[0]
			q.items = q.items[1:]
			q.mu.Unlock()
			return item, nil
		}
		closed := q.closed
		q.mu.Unlock()
		if closed {
			return item, ErrClosed
		}
		select {
		case <-q.signal:
		case <-ctx.Done():
			return item, ctx.Err()
		}
	}
}

func (q *EventQueue[T]) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

func (q *EventQueue[T]) Close() {
	q.mu.Lock()
	q.closed = true
	q.mu.Unlock()
	select {
	case q.signal <- struct{}{}:
	default:
	}
}
