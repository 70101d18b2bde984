package emergency

import (
	"errors"
	"fmt"
)

var (
	ErrHospitalNotRegistered = errors.New("hospital not registered")
	ErrNoBedsAvailable       = errors.New("no beds available at this hospital")
	ErrCaseNotFound          = errors.New("case not found")
)

// TransitionError is returned when an event is not allowed from the case's
// current status.
type TransitionError struct {
	CaseID  int64
	Current CaseStatus
	Event   Event
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("cannot %s case %d with status: %s", e.Event, e.CaseID, e.Current)
}

// ValidationError reports a missing or out-of-range input field.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	if e.Reason == "" {
		return fmt.Sprintf("%s is required", e.Field)
	}
	return fmt.Sprintf("%s %s", e.Field, e.Reason)
}
