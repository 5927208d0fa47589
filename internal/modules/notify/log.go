// README: Sink that only logs, used when no broker is configured.
package notify

import (
	"context"
	"log/slog"
)

type LogSink struct {
	log *slog.Logger
}

func NewLogSink(log *slog.Logger) *LogSink {
	return &LogSink{log: log}
}

func (s *LogSink) Send(ctx context.Context, e Event) error {
	s.log.InfoContext(ctx, "notification",
		"type", e.Type,
		"booking_id", e.BookingID,
		"recipient", e.Recipient.ID,
		"role", e.Recipient.Role,
		"status", e.Status,
	)
	return nil
}
