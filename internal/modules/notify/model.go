// README: Notification events emitted by intake and booking transitions.
package notify

import (
	"context"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"drivebid/internal/types"
)

const (
	TypeBidPlaced     = "BID_PLACED"
	TypeBidReceived   = "BID_RECEIVED"
	TypeStatusChanged = "BOOKING_STATUS_CHANGED"
)

type Recipient struct {
	ID    types.ID `json:"id"`
	Email string   `json:"email"`
	Name  string   `json:"name"`
	Role  string   `json:"role"`
}

type Event struct {
	Type        string     `json:"type"`
	BookingID   types.ID   `json:"bookingId"`
	VehicleID   types.ID   `json:"vehicleId"`
	VehicleName string     `json:"vehicleName"`
	Status      string     `json:"status"`
	StartDate   types.Date `json:"startDate"`
	EndDate     types.Date `json:"endDate"`
	Recipient   Recipient  `json:"recipient"`
	OccurredAt  time.Time  `json:"occurredAt"`
}

// Sink delivers a single event. Implementations may be retried.
type Sink interface {
	Send(ctx context.Context, e Event) error
}

var (
	notificationsSent = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "notify_events_sent_total",
		Help: "Notification events delivered to the sink",
	}, []string{"type"})
	notificationsFailed = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "notify_events_failed_total",
		Help: "Notification events dropped after exhausting retries",
	}, []string{"type"})
)
