package emergency

import (
	"time"
)

// Event names a lifecycle transition.
type Event string

const (
	EventCreate   Event = "create"
	EventAccept   Event = "accept"
	EventComplete Event = "complete"
)

type transitionRule struct {
	from CaseStatus
	path []CaseStatus
}

// Every permitted transition. Accept walks through Doctor Assigned on its way
// to En Route inside a single update.
var transitions = map[Event]transitionRule{
	EventCreate:   {from: "", path: []CaseStatus{StatusBedReserved}},
	EventAccept:   {from: StatusBedReserved, path: []CaseStatus{StatusDoctorAssigned, StatusEnRoute}},
	EventComplete: {from: StatusEnRoute, path: []CaseStatus{StatusCompleted}},
}

// CanApply reports whether ev is allowed from status.
func CanApply(status CaseStatus, ev Event) bool {
	rule, ok := transitions[ev]
	return ok && rule.from == status
}

// IsTerminal reports whether no event is allowed from status.
func IsTerminal(status CaseStatus) bool {
	for _, rule := range transitions {
		if rule.from == status {
			return false
		}
	}
	return true
}

// IsVisibleToOperator reports whether a case in status belongs on the
// operator dashboard.
func IsVisibleToOperator(status CaseStatus) bool {
	switch status {
	case StatusBedReserved, StatusEnRoute, StatusCompleted:
		return true
	}
	return false
}

// applyTransition validates ev against the case's current status and moves
// the case along the rule's path, recording each step.
func applyTransition(c *Case, ev Event, now time.Time) error {
	if !CanApply(c.Status, ev) {
		return &TransitionError{CaseID: c.ID, Current: c.Status, Event: ev}
	}
	for _, next := range transitions[ev].path {
		c.history = append(c.history, TransitionRecord{From: c.Status, To: next, At: now})
		c.Status = next
	}
	c.UpdatedAt = now
	return nil
}
