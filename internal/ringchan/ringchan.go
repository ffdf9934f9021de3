// Package ringchan provides a bounded channel that never blocks producers.
package ringchan

import (
	"context"
	"sync/atomic"
)

// RingChannel is a bounded buffer with overwrite-oldest semantics.
//
// The host goroutine posts link notifications with Send and never blocks;
// application goroutines wait with Receive. When nobody consumes, the oldest
// notification is discarded.
//
//	q := ringchan.New[LinkEvent](4)
//	q.Send(ev)                   // host side
//	ev, err := q.Receive(ctx)    // application side
type RingChannel[T any] struct {
	ch          chan T
	written     atomic.Int64
	overwritten atomic.Int64
}

// New creates a RingChannel with the given capacity; capacity must be > 0
func New[T any](capacity int) *RingChannel[T] {
	if capacity <= 0 {
		panic("ringchan: capacity must be > 0")
	}
	return &RingChannel[T]{ch: make(chan T, capacity)}
}

// Send inserts v, discarding the oldest element when full. It reports
// whether an element was dropped.
func (rc *RingChannel[T]) Send(v T) bool {
	dropped := false
	for {
		select {
		case rc.ch <- v:
			rc.written.Add(1)
			return dropped
		default:
		}
		select {
		case <-rc.ch:
			rc.overwritten.Add(1)
			dropped = true
		default:
		}
	}
}

// Receive blocks until a value is available or ctx ends
func (rc *RingChannel[T]) Receive(ctx context.Context) (T, error) {
	select {
	case v := <-rc.ch:
		return v, nil
	case <-ctx.Done():
		var zero T
		return zero, ctx.Err()
	}
}

// TryReceive returns a buffered value without blocking
func (rc *RingChannel[T]) TryReceive() (T, bool) {
	select {
	case v := <-rc.ch:
		return v, true
	default:
		var zero T
		return zero, false
	}
}

// Drain discards every buffered value
func (rc *RingChannel[T]) Drain() int {
	n := 0
	for {
		if _, ok := rc.TryReceive(); !ok {
			return n
		}
		n++
	}
}

// Len returns the number of buffered elements
func (rc *RingChannel[T]) Len() int {
	return len(rc.ch)
}

// Cap returns the capacity
func (rc *RingChannel[T]) Cap() int {
	return cap(rc.ch)
}

// Overwritten returns how many elements were discarded by Send
func (rc *RingChannel[T]) Overwritten() int64 {
	return rc.overwritten.Load()
}

// Written returns how many elements were accepted by Send
func (rc *RingChannel[T]) Written() int64 {
	return rc.written.Load()
}
