// README: Structural validation of bid envelopes before and after they cross the queue.
package bid

import (
	"errors"
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"
)

var (
	ErrInvalidEnvelope    = errors.New("invalid bid")
	ErrVehicleNotFound    = errors.New("vehicle not found")
	ErrRenterNotFound     = errors.New("renter not found")
	ErrOwnVehicle         = errors.New("owners cannot bid on their own vehicle")
	ErrVehicleUnavailable = errors.New("vehicle is not available for rent")
)

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New()
	v.RegisterStructValidation(envelopeRules, Envelope{})
	return v
}

func envelopeRules(sl validator.StructLevel) {
	e := sl.Current().Interface().(Envelope)
	if e.StartDate.IsZero() {
		sl.ReportError(e.StartDate, "startDate", "StartDate", "required", "")
	}
	if e.EndDate.IsZero() {
		sl.ReportError(e.EndDate, "endDate", "EndDate", "required", "")
	}
	if !e.StartDate.IsZero() && !e.EndDate.IsZero() && e.EndDate.Before(e.StartDate) {
		sl.ReportError(e.EndDate, "endDate", "EndDate", "daterange", "")
	}
	if e.From.ID != "" && e.From.ID == e.Owner.ID {
		sl.ReportError(e.From.ID, "from", "From", "notowner", "")
	}
	if e.StartOdometerValue != nil && e.EndOdometerValue != nil && *e.EndOdometerValue < *e.StartOdometerValue {
		sl.ReportError(e.EndOdometerValue, "endOdometerValue", "EndOdometerValue", "odometer", "")
	}
}

// Validate returns an error wrapping ErrInvalidEnvelope that lists every failed field.
func Validate(e Envelope) error {
	err := validate.Struct(e)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return fmt.Errorf("%w: %v", ErrInvalidEnvelope, err)
	}
	msgs := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		msgs = append(msgs, fmt.Sprintf("'%s': %s", fe.Namespace(), message(fe)))
	}
	return fmt.Errorf("%w: %s", ErrInvalidEnvelope, strings.Join(msgs, "; "))
}

func message(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "this field is required"
	case "gt":
		return "should be greater than " + fe.Param()
	case "gte", "min":
		return "should be greater or equal than " + fe.Param()
	case "max", "lte":
		return "should be less or equal than " + fe.Param()
	case "email":
		return "should be a valid email address"
	case "eq":
		return "should be " + fe.Param()
	case "daterange":
		return "end date must not be before start date"
	case "notowner":
		return "renter and owner must differ"
	case "odometer":
		return "end odometer must not be below start odometer"
	}
	return "incorrect value passed"
}
