package events

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"time"
)

const (
	defaultQueueSize = 64
	sinkTimeout      = 30 * time.Second
)

// Dispatcher fans events out to sinks on a background goroutine so slow
// sinks never delay a poll tick. Events are dropped when the queue is full.
type Dispatcher struct {
	sinks []Sink
	queue chan Event

	mu     sync.RWMutex
	closed bool
	done   chan struct{}
}

// NewDispatcher starts delivering to sinks. Close must be called to flush.
func NewDispatcher(sinks ...Sink) *Dispatcher {
	d := &Dispatcher{
		sinks: sinks,
		queue: make(chan Event, defaultQueueSize),
		done:  make(chan struct{}),
	}
	go d.run()
	return d
}

// Publish queues ev for delivery.
func (d *Dispatcher) Publish(ev Event) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	if d.closed {
		return
	}

	select {
	case d.queue <- ev:
	default:
		slog.Warn("Event queue full, dropping event", "kind", ev.Kind, "group", ev.Group)
	}
}

func (d *Dispatcher) run() {
	defer close(d.done)

	for ev := range d.queue {
		for _, s := range d.sinks {
			ctx, cancel := context.WithTimeout(context.Background(), sinkTimeout)
			if err := s.Handle(ctx, ev); err != nil {
				slog.Warn("Event sink failed", "sink", s.Name(), "kind", ev.Kind, "error", err)
			}
			cancel()
		}
	}
}

// Close delivers the queued events, then closes sinks that hold resources.
func (d *Dispatcher) Close() error {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return nil
	}
	d.closed = true
	close(d.queue)
	d.mu.Unlock()

	<-d.done

	for _, s := range d.sinks {
		if c, ok := s.(io.Closer); ok {
			if err := c.Close(); err != nil {
				slog.Warn("Failed to close event sink", "sink", s.Name(), "error", err)
			}
		}
	}
	return nil
}
