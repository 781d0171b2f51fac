package scheduling

import (
	"errors"
	"fmt"
)

// Errors returned by the booking workflow. Handlers map them to HTTP codes
// with errors.Is.
var (
	ErrInvalidDate       = errors.New("invalid date")
	ErrNotFound          = errors.New("not found")
	ErrDoctorUnavailable = errors.New("doctor is not accepting appointments")
	ErrSlotNotOffered    = errors.New("time slot is not offered on that date")
	ErrSlotTaken         = errors.New("time slot is already booked")
	ErrUnauthorized      = errors.New("not permitted for this caller")
	ErrValidation        = errors.New("validation failed")
	ErrInvalidStatus     = errors.New("invalid appointment status")
	ErrStatusConflict    = errors.New("appointment status was changed by another request")
)

// ValidationError names the input field that failed. It matches ErrValidation
// under errors.Is.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Reason)
}

func (e *ValidationError) Is(target error) bool {
	return target == ErrValidation
}

func requiredField(field string) error {
	return &ValidationError{Field: field, Reason: "is required"}
}

// Kind returns the stable name of a domain error for API responses, or
// "Internal" for anything unrecognised.
func Kind(err error) string {
	switch {
	case errors.Is(err, ErrInvalidDate):
		return "InvalidDate"
	case errors.Is(err, ErrNotFound):
		return "NotFound"
	case errors.Is(err, ErrDoctorUnavailable):
		return "DoctorUnavailable"
	case errors.Is(err, ErrSlotNotOffered):
		return "SlotNotOffered"
	case errors.Is(err, ErrSlotTaken):
		return "SlotTaken"
	case errors.Is(err, ErrUnauthorized):
		return "Unauthorized"
	case errors.Is(err, ErrValidation):
		return "ValidationError"
	case errors.Is(err, ErrInvalidStatus):
		return "InvalidStatus"
	case errors.Is(err, ErrStatusConflict):
		return "StatusConflict"
	}
	return "Internal"
}
