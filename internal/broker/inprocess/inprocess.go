// Package inprocess implements broker.Broker as a bounded Go channel, the
// default transport when broker_url is empty.
package inprocess

import (
	"context"
	"fmt"

	"github.com/mbarrow/framewatch/internal/broker"
)

// Broker is a bounded in-memory task queue.
type Broker struct {
	ch chan broker.Task
}

// New creates a Broker with the given queue capacity.
func New(capacity int) *Broker {
	if capacity < 1 {
		capacity = 1
	}
	return &Broker{ch: make(chan broker.Task, capacity)}
}

// Enqueue publishes a task, returning an error immediately if the queue is
// full rather than blocking the caller indefinitely.
func (b *Broker) Enqueue(ctx context.Context, task broker.Task) error {
	select {
	case b.ch <- task:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	default:
		return fmt.Errorf("inprocess broker: queue full")
	}
}

// Consume returns a new channel that a goroutine feeds from the internal
// queue, closing it when ctx is done.
func (b *Broker) Consume(ctx context.Context) (<-chan broker.Task, error) {
	out := make(chan broker.Task)
	go func() {
		defer close(out)
		for {
			select {
			case <-ctx.Done():
				return
			case t, ok := <-b.ch:
				if !ok {
					return
				}
				select {
				case out <- t:
				case <-ctx.Done():
					return
				}
			}
		}
	}()
	return out, nil
}

// Close is a no-op for the in-process broker; there is no external
// connection to release.
func (b *Broker) Close() error { return nil }
