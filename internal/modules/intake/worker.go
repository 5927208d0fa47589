// README: Intake worker: drains the bid queue into pending bookings.
package intake

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"golang.org/x/sync/errgroup"

	"drivebid/internal/modules/bid"
	"drivebid/internal/modules/bidqueue"
	"drivebid/internal/modules/booking"
	"drivebid/internal/modules/notify"
)

type Outcome string

const (
	OutcomePersisted    Outcome = "persisted"
	OutcomeDuplicate    Outcome = "duplicate"
	OutcomeMalformed    Outcome = "malformed"
	OutcomeRetry        Outcome = "retry"
	OutcomeDeadLettered Outcome = "dead_lettered"
)

var (
	messagesProcessed = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "intake_messages_total",
		Help: "Bid queue messages handled by the intake worker, by outcome",
	}, []string{"outcome"})
	processingDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "intake_processing_duration_seconds",
		Help:    "Time spent handling one bid queue message",
		Buckets: prometheus.DefBuckets,
	})
)

// Persister turns a validated envelope into a booking. created is false when
// the envelope was already persisted by an earlier delivery.
type Persister interface {
	Intake(ctx context.Context, env bid.Envelope) (b *booking.Booking, created bool, err error)
}

type Notifier interface {
	Dispatch(ctx context.Context, events ...notify.Event)
}

type Config struct {
	Concurrency       int
	BatchSize         int
	WaitTime          time.Duration
	VisibilityTimeout time.Duration
	HandleTimeout     time.Duration
	MaxReceives       int
}

func (c Config) withDefaults() Config {
	if c.Concurrency <= 0 {
		c.Concurrency = 1
	}
	if c.BatchSize <= 0 {
		c.BatchSize = 10
	}
	if c.WaitTime <= 0 {
		c.WaitTime = 5 * time.Second
	}
	if c.VisibilityTimeout <= 0 {
		c.VisibilityTimeout = 30 * time.Second
	}
	if c.HandleTimeout <= 0 || c.HandleTimeout >= c.VisibilityTimeout {
		c.HandleTimeout = c.VisibilityTimeout / 2
	}
	if c.MaxReceives <= 0 {
		c.MaxReceives = 5
	}
	return c
}

type Worker struct {
	queue    bidqueue.Queue
	bookings Persister
	notifier Notifier
	cfg      Config
	log      *slog.Logger
}

func NewWorker(queue bidqueue.Queue, bookings Persister, notifier Notifier, cfg Config, log *slog.Logger) *Worker {
	return &Worker{
		queue:    queue,
		bookings: bookings,
		notifier: notifier,
		cfg:      cfg.withDefaults(),
		log:      log.With("component", "intake"),
	}
}

// Run polls with cfg.Concurrency goroutines until ctx is cancelled.
func (w *Worker) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)
	for i := 0; i < w.cfg.Concurrency; i++ {
		poller := i
		g.Go(func() error {
			return w.poll(ctx, poller)
		})
	}
	w.log.Info("intake worker started", "concurrency", w.cfg.Concurrency, "max_receives", w.cfg.MaxReceives)
	err := g.Wait()
	w.log.Info("intake worker stopped")
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

func (w *Worker) poll(ctx context.Context, poller int) error {
	backoff := 100 * time.Millisecond
	for {
		if ctx.Err() != nil {
			return nil
		}
		msgs, err := w.queue.ReceiveBatch(ctx, bidqueue.ReceiveOptions{
			MaxMessages:       w.cfg.BatchSize,
			WaitTime:          w.cfg.WaitTime,
			VisibilityTimeout: w.cfg.VisibilityTimeout,
		})
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			w.log.Warn("receive failed", "poller", poller, "error", err, "retry_in", backoff)
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(backoff):
			}
			backoff = min(backoff*2, 5*time.Second)
			continue
		}
		backoff = 100 * time.Millisecond
		for _, msg := range msgs {
			w.Process(ctx, msg)
		}
	}
}

// Process handles one delivery. Malformed messages are acknowledged and
// dropped. Persistence failures leave the message unacknowledged so it is
// redelivered, until the receive budget is spent and it is dead-lettered.
func (w *Worker) Process(ctx context.Context, msg bidqueue.Message) Outcome {
	start := time.Now()
	outcome := w.process(ctx, msg)
	processingDuration.Observe(time.Since(start).Seconds())
	messagesProcessed.WithLabelValues(string(outcome)).Inc()
	return outcome
}

func (w *Worker) process(ctx context.Context, msg bidqueue.Message) Outcome {
	log := w.log.With("message_id", msg.ID, "receive_count", msg.ReceiveCount)

	if t := msg.Attributes[bid.AttrMessageType]; t != bid.MessageTypeBidPlaced {
		log.Error("discarding message of unexpected type", "type", t)
		w.ack(ctx, log, msg)
		return OutcomeMalformed
	}
	env, err := bid.Decode(msg.Body)
	if err != nil {
		log.Error("discarding malformed bid", "error", err)
		w.ack(ctx, log, msg)
		return OutcomeMalformed
	}

	hctx, cancel := context.WithTimeout(ctx, w.cfg.HandleTimeout)
	b, created, err := w.bookings.Intake(hctx, env)
	cancel()
	if err != nil {
		if errors.Is(err, bid.ErrInvalidEnvelope) {
			log.Error("discarding invalid bid", "error", err)
			w.ack(ctx, log, msg)
			return OutcomeMalformed
		}
		if msg.ReceiveCount >= w.cfg.MaxReceives {
			reason := fmt.Sprintf("persist failed after %d attempts: %v", msg.ReceiveCount, err)
			if dlErr := w.queue.DeadLetter(ctx, msg, reason); dlErr != nil {
				log.Error("dead-letter failed", "error", dlErr)
				return OutcomeRetry
			}
			log.Error("bid dead-lettered", "error", err)
			return OutcomeDeadLettered
		}
		log.Warn("persist failed; leaving for redelivery", "attempt", msg.ReceiveCount, "error", err)
		return OutcomeRetry
	}

	w.ack(ctx, log, msg)
	if !created {
		log.Info("duplicate bid skipped", "booking_id", b.ID)
		return OutcomeDuplicate
	}
	log.Info("bid persisted", "booking_id", b.ID, "vehicle_id", b.Vehicle.ID)
	w.notifier.Dispatch(ctx, booking.PlacedNotifications(b, time.Now().UTC())...)
	return OutcomePersisted
}

// ack failures are logged only; the redelivery that follows is absorbed by
// idempotent persistence.
func (w *Worker) ack(ctx context.Context, log *slog.Logger, msg bidqueue.Message) {
	if err := w.queue.Acknowledge(ctx, msg); err != nil {
		log.Warn("acknowledge failed", "error", err)
	}
}
