package domain

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// TransitionError reports a status change that is not reachable from the
// appointment's current status.
type TransitionError struct {
	ID   uuid.UUID
	From Status
	To   Status
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("appointment %s: invalid transition %s -> %s", e.ID, e.From, e.To)
}

//	pending     -> approved | refused | cancelled | rescheduled
//	approved    -> cancelled | completed | rescheduled
//	rescheduled -> pending | rescheduled | cancelled
//
// refused, cancelled and completed are terminal.
var transitions = map[Status][]Status{
	StatusPending:     {StatusApproved, StatusRefused, StatusCancelled, StatusRescheduled},
	StatusApproved:    {StatusCancelled, StatusCompleted, StatusRescheduled},
	StatusRescheduled: {StatusPending, StatusRescheduled, StatusCancelled},
	StatusRefused:     {},
	StatusCancelled:   {},
	StatusCompleted:   {},
}

func CanTransition(from, to Status) bool {
	for _, s := range transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// UpdatableStatus reports whether s may be assigned through a generic
// reschedule instead of a named transition.
func UpdatableStatus(s Status) bool {
	return s == StatusPending || s == StatusRescheduled
}

func transition(a Appointment, to Status, at time.Time) (Appointment, error) {
	if !CanTransition(a.Status, to) {
		return a, &TransitionError{ID: a.ID, From: a.Status, To: to}
	}
	a.Status = to
	a.UpdatedAt = at.UTC()
	return a, nil
}

func Approve(a Appointment, at time.Time) (Appointment, error) {
	return transition(a, StatusApproved, at)
}

func Refuse(a Appointment, reason string, at time.Time) (Appointment, error) {
	out, err := transition(a, StatusRefused, at)
	if err != nil {
		return a, err
	}
	out.CancelReason = reason
	return out, nil
}

func Cancel(a Appointment, reason string, at time.Time) (Appointment, error) {
	out, err := transition(a, StatusCancelled, at)
	if err != nil {
		return a, err
	}
	out.CancelReason = reason
	return out, nil
}

func Complete(a Appointment, at time.Time) (Appointment, error) {
	return transition(a, StatusCompleted, at)
}

// Reschedule moves a to window w, optionally replacing its description and
// assigning a new status. Terminal appointments are never modified.
func Reschedule(a Appointment, w Window, description *string, status *Status, at time.Time) (Appointment, error) {
	if a.Status.IsTerminal() {
		to := a.Status
		if status != nil {
			to = *status
		}
		return a, &TransitionError{ID: a.ID, From: a.Status, To: to}
	}
	if status != nil && *status != a.Status {
		if !UpdatableStatus(*status) || !CanTransition(a.Status, *status) {
			return a, &TransitionError{ID: a.ID, From: a.Status, To: *status}
		}
		a.Status = *status
	}
	w = w.UTC()
	a.StartTime = w.Start
	a.EndTime = w.End
	if description != nil {
		a.Description = *description
	}
	a.UpdatedAt = at.UTC()
	return a, nil
}
