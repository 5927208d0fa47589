// README: Bid envelope: the wire payload that crosses the queue between submission and intake.
package bid

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"drivebid/internal/types"
)

// MessageTypeBidPlaced is the queue message attribute value for new bids.
const MessageTypeBidPlaced = "BID_PLACED"

// AttrMessageType is the queue attribute key carrying the message type.
const AttrMessageType = "MessageType"

// Party is a point-in-time copy of a renter or owner.
type Party struct {
	ID       types.ID `json:"id" validate:"required"`
	Username string   `json:"username"`
	Email    string   `json:"email" validate:"omitempty,email"`
	Name     string   `json:"name"`
	City     string   `json:"city"`
}

// VehicleSnapshot is a copy of the vehicle as it was when the bid was placed.
type VehicleSnapshot struct {
	ID        types.ID `json:"id" validate:"required"`
	Name      string   `json:"name" validate:"required"`
	Company   string   `json:"company"`
	ModelYear int      `json:"modelYear" validate:"omitempty,gte=1900"`
	Price     float64  `json:"price" validate:"gte=0"`
	Color     string   `json:"color"`
	Mileage   float64  `json:"mileage" validate:"gte=0"`
	FuelType  string   `json:"fuelType"`
	Category  string   `json:"category"`
	City      string   `json:"city"`
	Status    string   `json:"status"`
}

type Addon struct {
	Name  string  `json:"name" validate:"required"`
	Price float64 `json:"price" validate:"gte=0"`
}

// Envelope is never persisted as-is; intake turns it into a booking and discards it.
//
// Nonce is optional on the wire. Producers that set it (the HTTP path always
// does) can submit identical terms twice as separate bids; without it the
// dedup key falls back to the terms alone. Odometer readings are accepted for
// compatibility but ignored at intake: they belong to the start and end of
// the rental.
type Envelope struct {
	Vehicle            VehicleSnapshot `json:"vehicle"`
	From               Party           `json:"from"`
	Owner              Party           `json:"owner"`
	Amount             float64         `json:"amount" validate:"gte=0.01,lte=9999999999.99"`
	StartDate          types.Date      `json:"startDate"`
	EndDate            types.Date      `json:"endDate"`
	StartOdometerValue *float64        `json:"startOdometerValue,omitempty" validate:"omitempty,gte=0,lte=9999999999.99"`
	EndOdometerValue   *float64        `json:"endOdometerValue,omitempty" validate:"omitempty,gte=0,lte=9999999999.99"`
	SelectedAddons     []Addon         `json:"selectedAddons" validate:"dive"`
	Status             string          `json:"status" validate:"omitempty,eq=pending"`
	Nonce              string          `json:"nonce,omitempty" validate:"omitempty,max=128"`
}

func (e Envelope) Range() types.DateRange {
	return types.DateRange{Start: e.StartDate, End: e.EndDate}
}

// DedupKey is stable across redeliveries of the same submission.
func (e Envelope) DedupKey() string {
	parts := []string{
		e.From.ID.String(),
		e.Vehicle.ID.String(),
		e.StartDate.String(),
		e.EndDate.String(),
		strconv.FormatFloat(e.Amount, 'f', 2, 64),
		e.Nonce,
	}
	sum := sha256.Sum256([]byte(strings.Join(parts, "|")))
	return hex.EncodeToString(sum[:])
}

func (e Envelope) Marshal() ([]byte, error) {
	return json.Marshal(e)
}

// Decode parses and validates a queue message body.
func Decode(body []byte) (Envelope, error) {
	var e Envelope
	if err := json.Unmarshal(body, &e); err != nil {
		return Envelope{}, fmt.Errorf("%w: %v", ErrInvalidEnvelope, err)
	}
	if err := Validate(e); err != nil {
		return Envelope{}, err
	}
	return e, nil
}
