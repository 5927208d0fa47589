// README: Bid queue messages, receive options and the at-least-once queue contract.
package bidqueue

import (
	"context"
	"errors"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	ErrStaleReceipt    = errors.New("receipt handle is no longer valid")
	ErrMessageNotFound = errors.New("message not found")
)

// Message is one delivery of a queued body. ReceiptHandle identifies this delivery only;
// after a redelivery the previous handle can no longer acknowledge the message.
type Message struct {
	ID            string
	Body          []byte
	Attributes    map[string]string
	ReceiptHandle string
	ReceiveCount  int
	EnqueuedAt    time.Time
}

type ReceiveOptions struct {
	MaxMessages       int
	WaitTime          time.Duration
	VisibilityTimeout time.Duration
}

func (o ReceiveOptions) normalized() ReceiveOptions {
	if o.MaxMessages <= 0 {
		o.MaxMessages = 1
	}
	if o.MaxMessages > 100 {
		o.MaxMessages = 100
	}
	if o.WaitTime < 0 {
		o.WaitTime = 0
	}
	if o.VisibilityTimeout <= 0 {
		o.VisibilityTimeout = 30 * time.Second
	}
	return o
}

// DeadLetter is a message that exhausted its delivery budget.
type DeadLetter struct {
	Message
	Reason string
	DeadAt time.Time
}

// Queue delivers each message at least once. A received message stays invisible to other
// consumers until its visibility timeout elapses or it is acknowledged.
type Queue interface {
	Enqueue(ctx context.Context, body []byte, attrs map[string]string) (string, error)
	ReceiveBatch(ctx context.Context, opts ReceiveOptions) ([]Message, error)
	Acknowledge(ctx context.Context, msg Message) error
	DeadLetter(ctx context.Context, msg Message, reason string) error
	DeadLetters(ctx context.Context, limit int) ([]DeadLetter, error)
	Requeue(ctx context.Context, messageID string) error
}

var (
	messagesEnqueued = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "bidqueue_messages_enqueued_total",
		Help: "Messages accepted by the bid queue",
	}, []string{"queue"})
	messagesDeadLettered = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "bidqueue_messages_dead_lettered_total",
		Help: "Messages moved to the dead-letter list",
	}, []string{"queue"})
)

const pollInterval = 200 * time.Millisecond
