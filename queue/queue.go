// Package queue provides the bounded FIFO hand-off between the network-facing
// listener and the host's serialized executor.
//
// Producers are the per-connection decode loops; the consumer is the single
// executor. Ownership of an Item transfers to the consumer at enqueue time.
// On close, every resident item is resolved with a synthetic shutdown
// response so no waiter can hang forever.
package queue

import (
	"errors"
	"sync"
	"time"

	"github.com/pithecene-io/tether/types"
)

// ErrClosed is returned by Enqueue and Dequeue once the queue has been
// closed (host shutting down).
var ErrClosed = errors.New("execution queue closed")

// ShutdownDiagnostic is the diagnostic text of synthetic responses delivered
// to items still resident when the queue closes.
const ShutdownDiagnostic = "host shutting down"

// Item is a unit of work moving from a connection handler to the executor.
// Created on decode, destroyed after the executor delivers a result into the
// response channel.
type Item struct {
	Request    *types.Request
	EnqueuedAt time.Time
	// Remote identifies the originating connection, for logging only.
	Remote string

	resolveOnce sync.Once
	resp        chan *types.Response
}

// NewItem wraps a decoded request for enqueueing.
func NewItem(req *types.Request, remote string) *Item {
	return &Item{
		Request:    req,
		EnqueuedAt: time.Now(),
		Remote:     remote,
		resp:       make(chan *types.Response, 1),
	}
}

// Resolve delivers the response for this item. Exactly one delivery wins;
// later calls are no-ops, so a waiter can never be double-resolved.
func (it *Item) Resolve(resp *types.Response) {
	it.resolveOnce.Do(func() {
		it.resp <- resp
	})
}

// Response returns the channel the item's result is delivered on.
func (it *Item) Response() <-chan *types.Response {
	return it.resp
}

// Queue is a bounded, mutex-guarded FIFO. Enqueue blocks while the queue is
// at capacity; Dequeue blocks while it is empty. Both fail with ErrClosed
// after Close.
type Queue struct {
	mu       sync.Mutex
	notFull  *sync.Cond
	notEmpty *sync.Cond
	items    []*Item
	capacity int
	closed   bool
}

// New creates a queue with the given capacity. Capacity must be positive.
func New(capacity int) *Queue {
	if capacity <= 0 {
		capacity = 1
	}
	q := &Queue{capacity: capacity}
	q.notFull = sync.NewCond(&q.mu)
	q.notEmpty = sync.NewCond(&q.mu)
	return q
}

// Enqueue appends an item, blocking until capacity is available or the queue
// is closed. Never blocks indefinitely past Close.
func (q *Queue) Enqueue(it *Item) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	for len(q.items) >= q.capacity && !q.closed {
		q.notFull.Wait()
	}
	if q.closed {
		return ErrClosed
	}

	q.items = append(q.items, it)
	q.notEmpty.Signal()
	return nil
}

// Dequeue removes and returns the oldest item, blocking until one is
// available. Returns ErrClosed once the queue is closed and drained.
func (q *Queue) Dequeue() (*Item, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	for len(q.items) == 0 && !q.closed {
		q.notEmpty.Wait()
	}
	if len(q.items) == 0 {
		return nil, ErrClosed
	}

	return q.popLocked(), nil
}

// TryDequeue removes and returns the oldest item without blocking.
// The second return is false when the queue is empty or closed-and-drained.
func (q *Queue) TryDequeue() (*Item, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.items) == 0 {
		return nil, false
	}
	return q.popLocked(), true
}

func (q *Queue) popLocked() *Item {
	it := q.items[0]
	q.items[0] = nil
	q.items = q.items[1:]
	q.notFull.Signal()
	return it
}

// Len returns the number of resident items.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// Closed reports whether Close has been called.
func (q *Queue) Closed() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.closed
}

// Close marks the queue closed, wakes every blocked producer and consumer,
// and resolves each resident item with a synthetic shutdown error response.
// Returns the number of items drained. Safe to call more than once.
func (q *Queue) Close() int {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return 0
	}
	q.closed = true
	drained := q.items
	q.items = nil
	q.notFull.Broadcast()
	q.notEmpty.Broadcast()
	q.mu.Unlock()

	for _, it := range drained {
		it.Resolve(types.NewErrorResponse(it.Request.ID, ShutdownDiagnostic, ""))
	}
	return len(drained)
}
