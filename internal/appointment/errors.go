package appointment

import (
	"context"
	"errors"
	"fmt"
)

// Every error returned by the service wraps exactly one of these. All but
// ErrUnavailable need different input before a retry can succeed.
var (
	ErrInvalidTimeWindow        = errors.New("invalid time window")
	ErrInvalidSchedulingRequest = errors.New("invalid scheduling request")
	ErrSchedulingConflict       = errors.New("scheduling conflict")
	ErrPatientNotFound          = errors.New("patient not found")
	ErrDoctorNotFound           = errors.New("doctor not found")
	ErrAppointmentNotFound      = errors.New("appointment not found")
	ErrIllegalStateTransition   = errors.New("illegal state transition")

	// ErrUnavailable marks transient infrastructure failures (timeouts, lost
	// connections, busy locks). The same request may succeed later.
	ErrUnavailable = errors.New("scheduling backend unavailable")
)

func invalidWindow(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalidTimeWindow, fmt.Sprintf(format, args...))
}

func invalidRequest(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalidSchedulingRequest, fmt.Sprintf(format, args...))
}

func illegalTransition(action string, from Status) error {
	return fmt.Errorf("%w: cannot %s appointment in status %s", ErrIllegalStateTransition, action, from)
}

// transient tags deadline and cancellation errors as ErrUnavailable so
// callers can tell them apart from validation failures.
func transient(op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, ErrUnavailable) {
		return fmt.Errorf("%s: %w", op, err)
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%s: %w: %v", op, ErrUnavailable, err)
	}
	return fmt.Errorf("%s: %w", op, err)
}
