// README: Best-effort fan-out of notifications with independent bounded retry.
package notify

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

const (
	defaultRetries = 3
	defaultBackoff = 200 * time.Millisecond
	defaultTimeout = 10 * time.Second
)

// Dispatcher sends each event on its own goroutine. A failed event never blocks
// or fails the caller, and never affects the other events of the same batch.
type Dispatcher struct {
	sink    Sink
	log     *slog.Logger
	retries int
	backoff time.Duration
	timeout time.Duration
	wg      sync.WaitGroup
}

type Option func(*Dispatcher)

func WithRetries(n int) Option {
	return func(d *Dispatcher) {
		if n > 0 {
			d.retries = n
		}
	}
}

func WithBackoff(b time.Duration) Option {
	return func(d *Dispatcher) {
		if b > 0 {
			d.backoff = b
		}
	}
}

func NewDispatcher(sink Sink, log *slog.Logger, opts ...Option) *Dispatcher {
	d := &Dispatcher{
		sink:    sink,
		log:     log,
		retries: defaultRetries,
		backoff: defaultBackoff,
		timeout: defaultTimeout,
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Dispatch returns immediately. Delivery outlives the caller's context.
func (d *Dispatcher) Dispatch(ctx context.Context, events ...Event) {
	base := context.WithoutCancel(ctx)
	for _, e := range events {
		d.wg.Add(1)
		go func(e Event) {
			defer d.wg.Done()
			d.deliver(base, e)
		}(e)
	}
}

func (d *Dispatcher) deliver(ctx context.Context, e Event) {
	ctx, cancel := context.WithTimeout(ctx, d.timeout)
	defer cancel()

	var err error
retry:
	for attempt := 1; attempt <= d.retries; attempt++ {
		if err = d.sink.Send(ctx, e); err == nil {
			notificationsSent.WithLabelValues(e.Type).Inc()
			return
		}
		d.log.WarnContext(ctx, "notification attempt failed",
			"type", e.Type, "booking_id", e.BookingID, "attempt", attempt, "error", err)
		if attempt == d.retries {
			break
		}
		select {
		case <-ctx.Done():
			break retry
		case <-time.After(d.backoff * time.Duration(attempt)):
		}
	}
	notificationsFailed.WithLabelValues(e.Type).Inc()
	d.log.ErrorContext(ctx, "notification dropped",
		"type", e.Type, "booking_id", e.BookingID, "recipient", e.Recipient.ID, "error", err)
}

// Close waits for in-flight deliveries.
func (d *Dispatcher) Close() {
	d.wg.Wait()
}
