// README: In-process bid queue with the same delivery semantics as the Redis store (tests, local runs).
package bidqueue

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
)

type memMessage struct {
	msg      Message
	visible  time.Time
	inflight bool
	reason   string
	deadAt   time.Time
}

type MemoryQueue struct {
	mu    sync.Mutex
	name  string
	now   func() time.Time
	order []string
	msgs  map[string]*memMessage
	dead  []string
}

func NewMemoryQueue(name string) *MemoryQueue {
	return &MemoryQueue{name: name, now: time.Now, msgs: map[string]*memMessage{}}
}

// WithClock replaces the clock used for visibility deadlines.
func (q *MemoryQueue) WithClock(now func() time.Time) *MemoryQueue {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.now = now
	return q
}

func (q *MemoryQueue) Enqueue(_ context.Context, body []byte, attrs map[string]string) (string, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	id := uuid.NewString()
	copied := make(map[string]string, len(attrs))
	for k, v := range attrs {
		copied[k] = v
	}
	q.msgs[id] = &memMessage{msg: Message{
		ID:         id,
		Body:       append([]byte(nil), body...),
		Attributes: copied,
		EnqueuedAt: q.now(),
	}}
	q.order = append(q.order, id)
	messagesEnqueued.WithLabelValues(q.name).Inc()
	return id, nil
}

func (q *MemoryQueue) ReceiveBatch(ctx context.Context, opts ReceiveOptions) ([]Message, error) {
	opts = opts.normalized()
	deadline := time.Now().Add(opts.WaitTime)
	for {
		if msgs := q.claim(opts); len(msgs) > 0 {
			return msgs, nil
		}
		remaining := time.Until(deadline)
		if remaining <= 0 {
			return nil, nil
		}
		wait := 10 * time.Millisecond
		if remaining < wait {
			wait = remaining
		}
		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, ctx.Err()
		case <-timer.C:
		}
	}
}

func (q *MemoryQueue) claim(opts ReceiveOptions) []Message {
	q.mu.Lock()
	defer q.mu.Unlock()
	now := q.now()
	var out []Message
	for _, id := range q.order {
		if len(out) == opts.MaxMessages {
			break
		}
		m := q.msgs[id]
		if m.inflight && now.Before(m.visible) {
			continue
		}
		m.inflight = true
		m.visible = now.Add(opts.VisibilityTimeout)
		m.msg.ReceiveCount++
		m.msg.ReceiptHandle = uuid.NewString()
		out = append(out, m.msg)
	}
	return out
}

func (q *MemoryQueue) Acknowledge(_ context.Context, msg Message) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	m, ok := q.msgs[msg.ID]
	if !ok {
		return nil
	}
	if m.msg.ReceiptHandle != msg.ReceiptHandle {
		return ErrStaleReceipt
	}
	delete(q.msgs, msg.ID)
	q.order = remove(q.order, msg.ID)
	return nil
}

func (q *MemoryQueue) DeadLetter(_ context.Context, msg Message, reason string) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	m, ok := q.msgs[msg.ID]
	if !ok {
		return ErrMessageNotFound
	}
	if m.msg.ReceiptHandle != msg.ReceiptHandle {
		return ErrStaleReceipt
	}
	q.order = remove(q.order, msg.ID)
	m.inflight = false
	m.reason = reason
	m.deadAt = q.now()
	m.msg.ReceiptHandle = ""
	q.dead = append([]string{msg.ID}, q.dead...)
	messagesDeadLettered.WithLabelValues(q.name).Inc()
	return nil
}

func (q *MemoryQueue) DeadLetters(_ context.Context, limit int) ([]DeadLetter, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if limit <= 0 {
		limit = 50
	}
	var out []DeadLetter
	for _, id := range q.dead {
		if len(out) == limit {
			break
		}
		m := q.msgs[id]
		out = append(out, DeadLetter{Message: m.msg, Reason: m.reason, DeadAt: m.deadAt})
	}
	return out, nil
}

func (q *MemoryQueue) Requeue(_ context.Context, messageID string) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	for i, id := range q.dead {
		if id != messageID {
			continue
		}
		q.dead = append(q.dead[:i], q.dead[i+1:]...)
		m := q.msgs[id]
		m.msg.ReceiveCount = 0
		m.reason = ""
		m.deadAt = time.Time{}
		q.order = append(q.order, id)
		return nil
	}
	return ErrMessageNotFound
}

// Len reports messages that are ready or in flight (dead letters excluded).
func (q *MemoryQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.order)
}

func remove(ids []string, id string) []string {
	for i, v := range ids {
		if v == id {
			return append(ids[:i], ids[i+1:]...)
		}
	}
	return ids
}
