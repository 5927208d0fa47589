// README: Builds notification events for booking lifecycle changes.
package booking

import (
	"time"

	"drivebid/internal/modules/bid"
	"drivebid/internal/modules/notify"
)

func recipient(p bid.Party, role string) notify.Recipient {
	return notify.Recipient{ID: p.ID, Email: p.Email, Name: p.Name, Role: role}
}

func event(kind string, b *Booking, to notify.Recipient, at time.Time) notify.Event {
	return notify.Event{
		Type:        kind,
		BookingID:   b.ID,
		VehicleID:   b.Vehicle.ID,
		VehicleName: b.Vehicle.Name,
		Status:      string(b.Status),
		StartDate:   b.StartDate,
		EndDate:     b.EndDate,
		Recipient:   to,
		OccurredAt:  at,
	}
}

// PlacedNotifications tells the renter the bid was placed and the owner a bid arrived.
func PlacedNotifications(b *Booking, at time.Time) []notify.Event {
	return []notify.Event{
		event(notify.TypeBidPlaced, b, recipient(b.From, ActorRenter), at),
		event(notify.TypeBidReceived, b, recipient(b.Owner, ActorOwner), at),
	}
}

// StatusNotifications addresses the party that did not cause the transition.
func StatusNotifications(b *Booking, actorType string, at time.Time) []notify.Event {
	to := recipient(b.From, ActorRenter)
	if actorType == ActorRenter {
		to = recipient(b.Owner, ActorOwner)
	}
	return []notify.Event{event(notify.TypeStatusChanged, b, to, at)}
}
