// README: Booking error taxonomy.
package booking

import (
	"errors"
	"fmt"
)

var (
	ErrBadRequest            = errors.New("bad request")
	ErrNotFound              = errors.New("booking not found")
	ErrForbidden             = errors.New("caller may not act on this booking")
	ErrInvalidState          = errors.New("invalid state transition")
	ErrConflict              = errors.New("booking state conflict")
	ErrVehicleBooked         = fmt.Errorf("%w: vehicle already booked for these dates", ErrConflict)
	ErrSettlementUnavailable = errors.New("settlement unavailable")
)

// IsConflict reports whether err should surface as a conflict to the caller.
func IsConflict(err error) bool {
	return errors.Is(err, ErrConflict) || errors.Is(err, ErrInvalidState)
}

func alreadyResolved(s Status) error {
	return fmt.Errorf("%w: booking already %s", ErrConflict, s)
}

func invalidTransition(from, to Status) error {
	return fmt.Errorf("%w: cannot move booking from %s to %s", ErrInvalidState, from, to)
}

func badRequest(msg string) error {
	return fmt.Errorf("%w: %s", ErrBadRequest, msg)
}
