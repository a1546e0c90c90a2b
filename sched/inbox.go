package sched

import "sync/atomic"

// Inbox is a single-producer single-consumer queue of work indices, the
// watcher's channel to one worker. Push never blocks; a full inbox is
// reported to the caller.
type Inbox[T any] struct {
	buf  []T
	head atomic.Uint64
	tail atomic.Uint64
}

func NewInbox[T any](depth int) *Inbox[T] {
	if depth <= 0 {
		depth = 1
	}
	return &Inbox[T]{buf: make([]T, depth)}
}

func (q *Inbox[T]) Push(v T) bool {
	head, tail := q.head.Load(), q.tail.Load()
	if head-tail >= uint64(len(q.buf)) {
		return false
	}
	q.buf[head%uint64(len(q.buf))] = v
	q.head.Store(head + 1)
	return true
}

func (q *Inbox[T]) Pop() (v T, ok bool) {
	head, tail := q.head.Load(), q.tail.Load()
	if tail == head {
		return v, false
	}
	v = q.buf[tail%uint64(len(q.buf))]
	q.tail.Store(tail + 1)
	return v, true
}

func (q *Inbox[T]) Len() int { return int(q.head.Load() - q.tail.Load()) }
