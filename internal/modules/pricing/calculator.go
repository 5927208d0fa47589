// README: Pure fare and settlement computation.
package pricing

import (
	"fmt"
	"math"
)

// Compute derives the amount owed for a finished rental. The platform fee is
// charged on base plus add-ons only, and taxes apply to the base amount only.
// Monetary outputs are rounded to two decimals after all arithmetic.
func Compute(req Request, fees Fees) (Settlement, error) {
	if req.StartDate.IsZero() || req.EndDate.IsZero() || req.EndDate.Before(req.StartDate) {
		return Settlement{}, fmt.Errorf("%w: date range", ErrInvalidRequest)
	}
	if req.Amount < 0 {
		return Settlement{}, fmt.Errorf("%w: negative amount", ErrInvalidRequest)
	}
	if req.EndOdometer < req.StartOdometer {
		return Settlement{}, fmt.Errorf("%w: end odometer below start odometer", ErrInvalidRequest)
	}

	days := req.StartDate.DaysUntil(req.EndDate)
	base := req.Amount * float64(days+1)

	driven := req.EndOdometer - req.StartOdometer
	excess := math.Max(0, driven-fees.FreeDistance)
	fine := excess * fees.ExcessRate

	var addons float64
	for _, a := range req.Addons {
		addons += a.Price
	}

	subtotal := base + fine + addons
	platformFee := (subtotal - fine) * fees.PlatformFeePct / 100

	var taxesTotal float64
	lines := make([]TaxLine, 0, len(fees.Taxes))
	for _, t := range fees.Taxes {
		var amt float64
		switch t.Kind {
		case TaxPercentage:
			amt = base * t.Value / 100
		case TaxFixed:
			amt = t.Value
		default:
			continue
		}
		taxesTotal += amt
		lines = append(lines, TaxLine{Name: t.Name, Kind: t.Kind, Amount: round2(amt)})
	}

	total := subtotal + platformFee + taxesTotal

	return Settlement{
		NumberOfDays:   days,
		BaseAmount:     round2(base),
		DistanceDriven: driven,
		ExcessDistance: excess,
		Fine:           round2(fine),
		AddonsTotal:    round2(addons),
		Subtotal:       round2(subtotal),
		PlatformFee:    round2(platformFee),
		Taxes:          lines,
		TaxesTotal:     round2(taxesTotal),
		Total:          round2(total),
	}, nil
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
