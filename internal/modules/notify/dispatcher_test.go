// README: Dispatcher and Kafka sink tests: independent retries, detached delivery context, message keys.
package notify

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type flakySink struct {
	mu       sync.Mutex
	failures map[string]int
	calls    map[string]int
	sent     []Event
}

func (s *flakySink) Send(_ context.Context, e Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := string(e.Recipient.ID)
	s.calls[key]++
	if s.failures[key] > 0 {
		s.failures[key]--
		return errors.New("broker unavailable")
	}
	s.sent = append(s.sent, e)
	return nil
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestDispatcherRetriesIndependently(t *testing.T) {
	sink := &flakySink{
		failures: map[string]int{"renter": 1, "owner": 10},
		calls:    map[string]int{},
	}
	d := NewDispatcher(sink, discardLogger(), WithRetries(3), WithBackoff(time.Millisecond))

	d.Dispatch(context.Background(),
		Event{Type: TypeBidPlaced, BookingID: "b1", Recipient: Recipient{ID: "renter"}},
		Event{Type: TypeBidReceived, BookingID: "b1", Recipient: Recipient{ID: "owner"}},
	)
	d.Close()

	require.Len(t, sink.sent, 1)
	assert.Equal(t, TypeBidPlaced, sink.sent[0].Type)
	assert.Equal(t, 2, sink.calls["renter"])
	assert.Equal(t, 3, sink.calls["owner"])
}

func TestDispatchOutlivesCallerContext(t *testing.T) {
	sink := &flakySink{failures: map[string]int{}, calls: map[string]int{}}
	d := NewDispatcher(sink, discardLogger())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	d.Dispatch(ctx, Event{Type: TypeStatusChanged, BookingID: "b2", Recipient: Recipient{ID: "renter"}})
	d.Close()

	require.Len(t, sink.sent, 1)
}

type captureWriter struct {
	msgs []kafka.Message
}

func (w *captureWriter) WriteMessages(_ context.Context, msgs ...kafka.Message) error {
	w.msgs = append(w.msgs, msgs...)
	return nil
}

func (w *captureWriter) Close() error { return nil }

func TestKafkaSinkKeysByBooking(t *testing.T) {
	w := &captureWriter{}
	sink := &KafkaSink{writer: w}

	err := sink.Send(context.Background(), Event{
		Type:      TypeStatusChanged,
		BookingID: "booking-7",
		Status:    "approved",
		Recipient: Recipient{ID: "u1", Role: "renter"},
	})
	require.NoError(t, err)
	require.Len(t, w.msgs, 1)
	assert.Equal(t, "booking-7", string(w.msgs[0].Key))
	assert.Contains(t, string(w.msgs[0].Value), `"status":"approved"`)
	assert.Equal(t, "type", w.msgs[0].Headers[0].Key)
}
