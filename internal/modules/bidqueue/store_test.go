// README: Redis-backed queue tests (skipped without DRIVEBID_TEST_REDIS).
package bidqueue

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"drivebid/internal/testutil"
)

func newRedisStore(t *testing.T) *Store {
	t.Helper()
	client := testutil.NewTestRedis(t)
	return NewStore(client, "test-"+uuid.NewString())
}

func TestStoreDeliveryLifecycle(t *testing.T) {
	ctx := context.Background()
	s := newRedisStore(t)
	clock := time.Now()
	s.now = func() time.Time { return clock }

	id, err := s.Enqueue(ctx, []byte(`{"amount":1000}`), map[string]string{"MessageType": "BID_PLACED"})
	require.NoError(t, err)

	msgs, err := s.ReceiveBatch(ctx, ReceiveOptions{MaxMessages: 5, VisibilityTimeout: 10 * time.Second})
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	assert.Equal(t, id, msgs[0].ID)
	assert.Equal(t, `{"amount":1000}`, string(msgs[0].Body))
	assert.Equal(t, "BID_PLACED", msgs[0].Attributes["MessageType"])
	assert.Equal(t, 1, msgs[0].ReceiveCount)

	hidden, err := s.ReceiveBatch(ctx, ReceiveOptions{MaxMessages: 5, VisibilityTimeout: 10 * time.Second})
	require.NoError(t, err)
	assert.Empty(t, hidden)

	clock = clock.Add(11 * time.Second)
	again, err := s.ReceiveBatch(ctx, ReceiveOptions{MaxMessages: 5, VisibilityTimeout: 10 * time.Second})
	require.NoError(t, err)
	require.Len(t, again, 1)
	assert.Equal(t, 2, again[0].ReceiveCount)

	assert.ErrorIs(t, s.Acknowledge(ctx, msgs[0]), ErrStaleReceipt)
	require.NoError(t, s.Acknowledge(ctx, again[0]))
	require.NoError(t, s.Acknowledge(ctx, again[0]))
}

func TestStoreDeadLetterRequeue(t *testing.T) {
	ctx := context.Background()
	s := newRedisStore(t)

	id, err := s.Enqueue(ctx, []byte("poison"), nil)
	require.NoError(t, err)
	msgs, err := s.ReceiveBatch(ctx, ReceiveOptions{MaxMessages: 1, VisibilityTimeout: time.Minute})
	require.NoError(t, err)
	require.Len(t, msgs, 1)

	require.NoError(t, s.DeadLetter(ctx, msgs[0], "exceeded 5 receives"))
	dead, err := s.DeadLetters(ctx, 10)
	require.NoError(t, err)
	require.Len(t, dead, 1)
	assert.Equal(t, id, dead[0].ID)
	assert.Equal(t, "exceeded 5 receives", dead[0].Reason)

	require.NoError(t, s.Requeue(ctx, id))
	back, err := s.ReceiveBatch(ctx, ReceiveOptions{MaxMessages: 1, VisibilityTimeout: time.Minute})
	require.NoError(t, err)
	require.Len(t, back, 1)
	assert.Equal(t, 1, back[0].ReceiveCount)
}
