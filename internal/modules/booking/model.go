// README: Booking aggregate and status definitions.
package booking

import (
	"time"

	"drivebid/internal/modules/bid"
	"drivebid/internal/types"
)

type Status string

const (
	StatusNone     Status = "none"
	StatusPending  Status = "pending"
	StatusApproved Status = "approved"
	StatusRejected Status = "rejected"
	StatusStarted  Status = "started"
	StatusEnded    Status = "ended"
	StatusReviewed Status = "reviewed"
)

// Committed statuses hold the vehicle for their date range.
var committedStatuses = []Status{StatusApproved, StatusStarted, StatusEnded, StatusReviewed}

func (s Status) Committed() bool {
	for _, c := range committedStatuses {
		if s == c {
			return true
		}
	}
	return false
}

func ParseStatus(v string) (Status, bool) {
	s := Status(v)
	switch s {
	case StatusPending, StatusApproved, StatusRejected, StatusStarted, StatusEnded, StatusReviewed:
		return s, true
	}
	return "", false
}

// Booking is a persisted bid. Snapshots are copied at submission time and never change.
type Booking struct {
	ID                 types.ID            `json:"id"`
	DedupKey           string              `json:"-"`
	Vehicle            bid.VehicleSnapshot `json:"vehicle"`
	From               bid.Party           `json:"from"`
	Owner              bid.Party           `json:"owner"`
	Amount             float64             `json:"amount"`
	SelectedAddons     []bid.Addon         `json:"selectedAddons"`
	StartDate          types.Date          `json:"startDate"`
	EndDate            types.Date          `json:"endDate"`
	StartOdometerValue *float64            `json:"startOdometerValue"`
	EndOdometerValue   *float64            `json:"endOdometerValue"`
	Status             Status              `json:"status"`
	StatusVersion      int                 `json:"-"`
	CreatedAt          time.Time           `json:"createdAt"`
	UpdatedAt          time.Time           `json:"updatedAt"`
}

func (b *Booking) Range() types.DateRange {
	return types.DateRange{Start: b.StartDate, End: b.EndDate}
}

// Patch carries the odometer readings a transition records.
type Patch struct {
	StartOdometer *float64
	EndOdometer   *float64
}

type Event struct {
	ID         int64
	BookingID  types.ID
	FromStatus Status
	ToStatus   Status
	ActorType  string
	ActorID    *types.ID
	CreatedAt  time.Time
}

const (
	ActorRenter = "renter"
	ActorOwner  = "owner"
	ActorSystem = "system"
)

// Filter narrows List. Exactly one of OwnerID or RenterID is set by the service.
type Filter struct {
	OwnerID   types.ID
	RenterID  types.ID
	VehicleID types.ID
	Status    Status
	Limit     uint64
	Offset    uint64
}

// AllowedTransitions represents the booking state flow as code.
var AllowedTransitions = map[Status][]Status{
	StatusNone:     {StatusPending},
	StatusPending:  {StatusApproved, StatusRejected},
	StatusApproved: {StatusStarted},
	StatusStarted:  {StatusEnded},
	StatusEnded:    {StatusReviewed},
}

func CanTransition(from, to Status) bool {
	next, ok := AllowedTransitions[from]
	if !ok {
		return false
	}
	for _, s := range next {
		if s == to {
			return true
		}
	}
	return false
}

// Overlaps reports whether two inclusive calendar ranges share at least one day.
func Overlaps(a, b types.DateRange) bool {
	return a.Overlaps(b)
}
