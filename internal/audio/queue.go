package audio

import (
	"context"
	"sync"
)

// DefaultQueueCapacity is the number of capture buffers held before the oldest is dropped
const DefaultQueueCapacity = 5

// DropOldestQueue is a bounded FIFO of audio buffers.
// Push never blocks: when the queue is full the oldest buffer is discarded to make room.
// It is meant to sit between a capture callback and a single long-lived consumer.
type DropOldestQueue struct {
	items    [][]byte
	capacity int
	dropped  uint64
	closed   bool
	notify   chan struct{}
	mu       sync.Mutex
}

// NewDropOldestQueue creates a queue holding at most capacity buffers
func NewDropOldestQueue(capacity int) *DropOldestQueue {
	if capacity <= 0 {
		capacity = DefaultQueueCapacity
	}
	return &DropOldestQueue{
		items:    make([][]byte, 0, capacity),
		capacity: capacity,
		notify:   make(chan struct{}, 1),
	}
}

// Push copies buf into the queue. It reports whether an older buffer was dropped.
// Pushing to a closed queue is a no-op.
func (q *DropOldestQueue) Push(buf []byte) (dropped bool) {
	item := make([]byte, len(buf))
	copy(item, buf)

	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return false
	}
	if len(q.items) >= q.capacity {
		q.items[0] = nil
		q.items = q.items[1:]
		q.dropped++
		dropped = true
	}
	q.items = append(q.items, item)
	q.mu.Unlock()

	q.signal()
	return dropped
}

// Pop blocks until a buffer is available, the queue is closed and drained, or ctx is done.
// ok is false once no more buffers will be delivered.
func (q *DropOldestQueue) Pop(ctx context.Context) (buf []byte, ok bool) {
	for {
		q.mu.Lock()
		if len(q.items) > 0 {
			buf = q.items[0]
			q.items[0] = nil
			q.items = q.items[1:]
			q.mu.Unlock()
			return buf, true
		}
		closed := q.closed
		q.mu.Unlock()

		if closed {
			return nil, false
		}

		select {
		case <-q.notify:
		case <-ctx.Done():
			return nil, false
		}
	}
}

// Close stops accepting buffers. Buffers already queued can still be popped.
func (q *DropOldestQueue) Close() {
	q.mu.Lock()
	q.closed = true
	q.mu.Unlock()
	q.signal()
}

// Len returns the number of queued buffers
func (q *DropOldestQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// Dropped returns how many buffers were discarded on overflow
func (q *DropOldestQueue) Dropped() uint64 {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.dropped
}

func (q *DropOldestQueue) signal() {
	select {
	case q.notify <- struct{}{}:
	default:
	}
}
