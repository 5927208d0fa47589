// README: Fare inputs, fee configuration and the settlement breakdown.
package pricing

import (
	"errors"

	"drivebid/internal/types"
)

const (
	DefaultFreeDistance   = 300
	DefaultExcessRate     = 10
	DefaultPlatformFeePct = 2
)

var ErrInvalidRequest = errors.New("invalid settlement request")

type LineItem struct {
	Name  string
	Price float64
}

// Request describes a finished rental.
type Request struct {
	Amount        float64
	StartDate     types.Date
	EndDate       types.Date
	StartOdometer float64
	EndOdometer   float64
	Addons        []LineItem
}

type TaxKind string

const (
	TaxPercentage TaxKind = "percentage"
	TaxFixed      TaxKind = "fixed"
)

type Tax struct {
	ID    int64
	Name  string
	Kind  TaxKind
	Value float64
}

// Fees is the fee configuration in force when a rental ends.
type Fees struct {
	PlatformFeePct float64
	FreeDistance   float64
	ExcessRate     float64
	Taxes          []Tax
}

type TaxLine struct {
	Name   string  `json:"name"`
	Kind   TaxKind `json:"kind"`
	Amount float64 `json:"amount"`
}

type Settlement struct {
	NumberOfDays   int       `json:"numberOfDays"`
	BaseAmount     float64   `json:"baseAmount"`
	DistanceDriven float64   `json:"distanceDriven"`
	ExcessDistance float64   `json:"excessDistance"`
	Fine           float64   `json:"fine"`
	AddonsTotal    float64   `json:"addonsTotal"`
	Subtotal       float64   `json:"subtotal"`
	PlatformFee    float64   `json:"platformFee"`
	Taxes          []TaxLine `json:"taxes"`
	TaxesTotal     float64   `json:"taxesTotal"`
	Total          float64   `json:"total"`
}
