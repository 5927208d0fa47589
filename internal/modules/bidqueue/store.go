// README: Redis-backed bid queue (ready list, in-flight sorted set, dead-letter list).
package bidqueue

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// claimScript returns expired in-flight messages to the ready list, then claims up to
// ARGV[3] messages for ARGV[2] milliseconds.
var claimScript = redis.NewScript(`
local now = tonumber(ARGV[1])
local vis = tonumber(ARGV[2])
local max = tonumber(ARGV[3])
local expired = redis.call('ZRANGEBYSCORE', KEYS[2], '-inf', now)
for _, id in ipairs(expired) do
  redis.call('ZREM', KEYS[2], id)
  redis.call('RPUSH', KEYS[1], id)
end
local out = {}
for i = 1, max do
  local id = redis.call('RPOP', KEYS[1])
  if not id then break end
  local key = KEYS[3] .. id
  if redis.call('EXISTS', key) == 1 then
    local count = redis.call('HINCRBY', key, 'receive_count', 1)
    local receipt = ARGV[4] .. ':' .. i
    redis.call('HSET', key, 'receipt', receipt)
    redis.call('ZADD', KEYS[2], now + vis, id)
    local f = redis.call('HMGET', key, 'body', 'attrs', 'enqueued_at')
    table.insert(out, {id, f[1] or '', f[2] or '', f[3] or '0', count, receipt})
  end
end
return out
`)

var ackScript = redis.NewScript(`
local current = redis.call('HGET', KEYS[2], 'receipt')
if not current then return 0 end
if current ~= ARGV[2] then return -1 end
redis.call('ZREM', KEYS[1], ARGV[1])
redis.call('DEL', KEYS[2])
return 1
`)

var deadLetterScript = redis.NewScript(`
local current = redis.call('HGET', KEYS[2], 'receipt')
if not current then return 0 end
if current ~= ARGV[2] then return -1 end
redis.call('ZREM', KEYS[1], ARGV[1])
redis.call('HSET', KEYS[2], 'reason', ARGV[3], 'dead_at', ARGV[4])
redis.call('HDEL', KEYS[2], 'receipt')
redis.call('LPUSH', KEYS[3], ARGV[1])
return 1
`)

var requeueScript = redis.NewScript(`
local removed = redis.call('LREM', KEYS[1], 0, ARGV[1])
if removed == 0 then return 0 end
redis.call('HSET', KEYS[3], 'receive_count', 0)
redis.call('HDEL', KEYS[3], 'reason', 'dead_at', 'receipt')
redis.call('LPUSH', KEYS[2], ARGV[1])
return 1
`)

type Store struct {
	redis *redis.Client
	name  string
	now   func() time.Time
}

func NewStore(redis *redis.Client, name string) *Store {
	if name == "" {
		name = "bids"
	}
	return &Store{redis: redis, name: name, now: time.Now}
}

// Keys share a hash tag so the scripts stay single-slot on a cluster.
func (s *Store) readyKey() string    { return fmt.Sprintf("{bidqueue:%s}:ready", s.name) }
func (s *Store) inflightKey() string { return fmt.Sprintf("{bidqueue:%s}:inflight", s.name) }
func (s *Store) deadKey() string     { return fmt.Sprintf("{bidqueue:%s}:dead", s.name) }
func (s *Store) msgPrefix() string   { return fmt.Sprintf("{bidqueue:%s}:msg:", s.name) }
func (s *Store) msgKey(id string) string {
	return s.msgPrefix() + id
}

func (s *Store) Enqueue(ctx context.Context, body []byte, attrs map[string]string) (string, error) {
	id := uuid.NewString()
	rawAttrs, err := json.Marshal(attrs)
	if err != nil {
		return "", fmt.Errorf("marshal attributes: %w", err)
	}
	_, err = s.redis.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HSet(ctx, s.msgKey(id),
			"body", body,
			"attrs", rawAttrs,
			"enqueued_at", s.now().UnixMilli(),
			"receive_count", 0,
		)
		pipe.LPush(ctx, s.readyKey(), id)
		return nil
	})
	if err != nil {
		return "", fmt.Errorf("enqueue: %w", err)
	}
	messagesEnqueued.WithLabelValues(s.name).Inc()
	return id, nil
}

// ReceiveBatch polls until at least one message is claimed or WaitTime elapses.
// An empty batch on timeout is not an error.
func (s *Store) ReceiveBatch(ctx context.Context, opts ReceiveOptions) ([]Message, error) {
	opts = opts.normalized()
	deadline := time.Now().Add(opts.WaitTime)
	for {
		msgs, err := s.claim(ctx, opts)
		if err != nil {
			return nil, err
		}
		if len(msgs) > 0 {
			return msgs, nil
		}
		remaining := time.Until(deadline)
		if remaining <= 0 {
			return nil, nil
		}
		wait := pollInterval
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

func (s *Store) claim(ctx context.Context, opts ReceiveOptions) ([]Message, error) {
	res, err := claimScript.Run(ctx, s.redis,
		[]string{s.readyKey(), s.inflightKey(), s.msgPrefix()},
		s.now().UnixMilli(), opts.VisibilityTimeout.Milliseconds(), opts.MaxMessages, uuid.NewString(),
	).Slice()
	if err != nil {
		return nil, fmt.Errorf("claim messages: %w", err)
	}
	msgs := make([]Message, 0, len(res))
	for _, row := range res {
		fields, ok := row.([]interface{})
		if !ok || len(fields) != 6 {
			return nil, fmt.Errorf("claim messages: unexpected reply %v", row)
		}
		msg := Message{
			ID:            asString(fields[0]),
			Body:          []byte(asString(fields[1])),
			ReceiveCount:  int(asInt(fields[4])),
			ReceiptHandle: asString(fields[5]),
			EnqueuedAt:    time.UnixMilli(asInt(fields[3])),
		}
		if raw := asString(fields[2]); raw != "" {
			if err := json.Unmarshal([]byte(raw), &msg.Attributes); err != nil {
				return nil, fmt.Errorf("decode attributes of %s: %w", msg.ID, err)
			}
		}
		msgs = append(msgs, msg)
	}
	return msgs, nil
}

// Acknowledge deletes the message. Acknowledging an already deleted message is a no-op.
func (s *Store) Acknowledge(ctx context.Context, msg Message) error {
	n, err := ackScript.Run(ctx, s.redis,
		[]string{s.inflightKey(), s.msgKey(msg.ID)},
		msg.ID, msg.ReceiptHandle,
	).Int()
	if err != nil {
		return fmt.Errorf("acknowledge %s: %w", msg.ID, err)
	}
	if n < 0 {
		return ErrStaleReceipt
	}
	return nil
}

func (s *Store) DeadLetter(ctx context.Context, msg Message, reason string) error {
	n, err := deadLetterScript.Run(ctx, s.redis,
		[]string{s.inflightKey(), s.msgKey(msg.ID), s.deadKey()},
		msg.ID, msg.ReceiptHandle, reason, s.now().UnixMilli(),
	).Int()
	if err != nil {
		return fmt.Errorf("dead-letter %s: %w", msg.ID, err)
	}
	switch {
	case n < 0:
		return ErrStaleReceipt
	case n == 0:
		return ErrMessageNotFound
	}
	messagesDeadLettered.WithLabelValues(s.name).Inc()
	return nil
}

func (s *Store) DeadLetters(ctx context.Context, limit int) ([]DeadLetter, error) {
	if limit <= 0 {
		limit = 50
	}
	ids, err := s.redis.LRange(ctx, s.deadKey(), 0, int64(limit-1)).Result()
	if err != nil {
		return nil, fmt.Errorf("list dead letters: %w", err)
	}
	if len(ids) == 0 {
		return nil, nil
	}
	pipe := s.redis.Pipeline()
	cmds := make([]*redis.MapStringStringCmd, len(ids))
	for i, id := range ids {
		cmds[i] = pipe.HGetAll(ctx, s.msgKey(id))
	}
	if _, err := pipe.Exec(ctx); err != nil && err != redis.Nil {
		return nil, fmt.Errorf("load dead letters: %w", err)
	}
	out := make([]DeadLetter, 0, len(ids))
	for i, id := range ids {
		h := cmds[i].Val()
		if len(h) == 0 {
			continue
		}
		dl := DeadLetter{
			Message: Message{
				ID:           id,
				Body:         []byte(h["body"]),
				ReceiveCount: atoi(h["receive_count"]),
				EnqueuedAt:   time.UnixMilli(int64(atoi(h["enqueued_at"]))),
			},
			Reason: h["reason"],
			DeadAt: time.UnixMilli(int64(atoi(h["dead_at"]))),
		}
		if raw := h["attrs"]; raw != "" {
			_ = json.Unmarshal([]byte(raw), &dl.Attributes)
		}
		out = append(out, dl)
	}
	return out, nil
}

// Requeue moves a dead-lettered message back to the ready list with a fresh delivery budget.
func (s *Store) Requeue(ctx context.Context, messageID string) error {
	n, err := requeueScript.Run(ctx, s.redis,
		[]string{s.deadKey(), s.readyKey(), s.msgKey(messageID)},
		messageID,
	).Int()
	if err != nil {
		return fmt.Errorf("requeue %s: %w", messageID, err)
	}
	if n == 0 {
		return ErrMessageNotFound
	}
	return nil
}

func asString(v interface{}) string {
	switch t := v.(type) {
	case string:
		return t
	case []byte:
		return string(t)
	case nil:
		return ""
	default:
		return fmt.Sprint(t)
	}
}

func asInt(v interface{}) int64 {
	switch t := v.(type) {
	case int64:
		return t
	case string:
		n, _ := strconv.ParseInt(t, 10, 64)
		return n
	default:
		return 0
	}
}

func atoi(s string) int {
	n, _ := strconv.Atoi(s)
	return n
}
