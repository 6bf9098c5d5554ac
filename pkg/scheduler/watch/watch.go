// Package watch implements a single-writer, many-reader "latest value"
// channel: every subscriber eventually observes the most recently sent
// value, and slow subscribers never block the sender or fall behind (a new
// send simply overwrites whatever a subscriber hadn't yet read). This is
// the Go counterpart of Rust's tokio::sync::watch, which ActionState
// subscriptions are built on throughout the scheduling pipeline.
//
// One quirk is deliberately preserved: Subscribe does not hand the new
// receiver the sender's current value — it only sees values sent after
// subscription. A caller that wants a late subscriber to observe the
// current value must explicitly call Resend. This mirrors tokio::sync::watch
// itself and is the reason CacheLookupScheduler's find_existing_action has
// to re-broadcast explicitly (see pkg/scheduler/cachelookup).
package watch

import (
	"context"
	"sync"
)

// Sender publishes values of type T to any number of Receivers.
type Sender[T any] struct {
	mu      sync.Mutex
	current T
	subs    []chan T
}

// New creates a Sender holding an initial value and no subscribers.
func New[T any](initial T) *Sender[T] {
	return &Sender[T]{current: initial}
}

// Send publishes v as the new current value to every existing subscriber.
// A subscriber that hasn't consumed the previous value loses it — only the
// latest value is ever delivered.
func (s *Sender[T]) Send(v T) {
	s.mu.Lock()
	s.current = v
	subs := append([]chan T(nil), s.subs...)
	s.mu.Unlock()

	for _, ch := range subs {
		select {
		case <-ch: // drop a stale unread value
		default:
		}
		select {
		case ch <- v:
		default: // receiver's buffer is momentarily full; next Send wins anyway
		}
	}
}

// Resend re-publishes the current value to every subscriber, used when a
// fresh subscriber needs to observe a value that was already sent before it
// subscribed (Subscribe itself never delivers the current value).
func (s *Sender[T]) Resend() {
	s.mu.Lock()
	v := s.current
	s.mu.Unlock()
	s.Send(v)
}

// Value returns the most recently sent value.
func (s *Sender[T]) Value() T {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.current
}

// Subscribe registers a new Receiver. The receiver observes only values
// sent after this call; call Resend on the Sender if the current value
// needs to reach it too.
func (s *Sender[T]) Subscribe() *Receiver[T] {
	ch := make(chan T, 1)
	s.mu.Lock()
	s.subs = append(s.subs, ch)
	s.mu.Unlock()
	return &Receiver[T]{ch: ch}
}

// Receiver observes the latest value sent by a Sender.
type Receiver[T any] struct {
	ch chan T
}

// Chan exposes the underlying channel for use in a select statement.
func (r *Receiver[T]) Chan() <-chan T { return r.ch }

// Recv blocks until the next value arrives or ctx is done.
func (r *Receiver[T]) Recv(ctx context.Context) (T, error) {
	select {
	case v := <-r.ch:
		return v, nil
	case <-ctx.Done():
		var zero T
		return zero, ctx.Err()
	}
}
