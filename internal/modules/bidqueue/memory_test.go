// README: In-memory queue tests: visibility timeout, redelivery and dead-lettering.
package bidqueue

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeClock struct{ t time.Time }

func (c *fakeClock) now() time.Time          { return c.t }
func (c *fakeClock) advance(d time.Duration) { c.t = c.t.Add(d) }

func newTestQueue() (*MemoryQueue, *fakeClock) {
	clk := &fakeClock{t: time.Date(2024, 5, 1, 9, 0, 0, 0, time.UTC)}
	return NewMemoryQueue("test").WithClock(clk.now), clk
}

var opts = ReceiveOptions{MaxMessages: 10, VisibilityTimeout: 30 * time.Second}

func TestReceiveHidesMessageDuringVisibilityWindow(t *testing.T) {
	ctx := context.Background()
	q, clk := newTestQueue()
	id, err := q.Enqueue(ctx, []byte(`{}`), map[string]string{"MessageType": "BID_PLACED"})
	require.NoError(t, err)

	first, err := q.ReceiveBatch(ctx, opts)
	require.NoError(t, err)
	require.Len(t, first, 1)
	assert.Equal(t, id, first[0].ID)
	assert.Equal(t, 1, first[0].ReceiveCount)
	assert.Equal(t, "BID_PLACED", first[0].Attributes["MessageType"])

	second, err := q.ReceiveBatch(ctx, opts)
	require.NoError(t, err)
	assert.Empty(t, second, "message must stay invisible to other consumers")

	clk.advance(31 * time.Second)
	redelivered, err := q.ReceiveBatch(ctx, opts)
	require.NoError(t, err)
	require.Len(t, redelivered, 1)
	assert.Equal(t, 2, redelivered[0].ReceiveCount)
	assert.NotEqual(t, first[0].ReceiptHandle, redelivered[0].ReceiptHandle)

	assert.ErrorIs(t, q.Acknowledge(ctx, first[0]), ErrStaleReceipt)
	require.NoError(t, q.Acknowledge(ctx, redelivered[0]))
	assert.Equal(t, 0, q.Len())
	require.NoError(t, q.Acknowledge(ctx, redelivered[0]), "acknowledging twice is harmless")
}

func TestReceiveEmptyBatchOnTimeout(t *testing.T) {
	q, _ := newTestQueue()
	started := time.Now()
	msgs, err := q.ReceiveBatch(context.Background(), ReceiveOptions{MaxMessages: 1, WaitTime: 50 * time.Millisecond})
	require.NoError(t, err)
	assert.Empty(t, msgs)
	assert.GreaterOrEqual(t, time.Since(started), 50*time.Millisecond)
}

func TestReceiveHonoursContext(t *testing.T) {
	q, _ := newTestQueue()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := q.ReceiveBatch(ctx, ReceiveOptions{WaitTime: time.Second})
	assert.ErrorIs(t, err, context.Canceled)
}

func TestReceiveRespectsMaxMessages(t *testing.T) {
	ctx := context.Background()
	q, _ := newTestQueue()
	for i := 0; i < 5; i++ {
		_, err := q.Enqueue(ctx, []byte("x"), nil)
		require.NoError(t, err)
	}
	msgs, err := q.ReceiveBatch(ctx, ReceiveOptions{MaxMessages: 3})
	require.NoError(t, err)
	assert.Len(t, msgs, 3)
	rest, err := q.ReceiveBatch(ctx, ReceiveOptions{MaxMessages: 10})
	require.NoError(t, err)
	assert.Len(t, rest, 2)
}

func TestDeadLetterAndRequeue(t *testing.T) {
	ctx := context.Background()
	q, _ := newTestQueue()
	id, err := q.Enqueue(ctx, []byte("poison"), nil)
	require.NoError(t, err)
	msgs, err := q.ReceiveBatch(ctx, opts)
	require.NoError(t, err)
	require.Len(t, msgs, 1)

	require.NoError(t, q.DeadLetter(ctx, msgs[0], "persist failed"))
	assert.Equal(t, 0, q.Len())

	dead, err := q.DeadLetters(ctx, 10)
	require.NoError(t, err)
	require.Len(t, dead, 1)
	assert.Equal(t, id, dead[0].ID)
	assert.Equal(t, "persist failed", dead[0].Reason)

	require.NoError(t, q.Requeue(ctx, id))
	assert.ErrorIs(t, q.Requeue(ctx, id), ErrMessageNotFound)
	again, err := q.ReceiveBatch(ctx, opts)
	require.NoError(t, err)
	require.Len(t, again, 1)
	assert.Equal(t, 1, again[0].ReceiveCount)
}
