package models

import "time"

// Status is the lifecycle status of an appointment.
type Status string

const (
	StatusBooked      Status = "booked"
	StatusConfirmed   Status = "confirmed"
	StatusCheckedIn   Status = "checked_in"
	StatusCompleted   Status = "completed"
	StatusNoShow      Status = "no_show"
	StatusCancelled   Status = "cancelled"
	StatusRescheduled Status = "rescheduled"
)

// ActiveStatuses are the statuses that occupy calendar time.
var ActiveStatuses = []Status{StatusBooked, StatusConfirmed, StatusCheckedIn}

// transitions is the allowed status transition table. Statuses absent from the
// map are terminal.
var transitions = map[Status][]Status{
	StatusBooked:      {StatusCancelled, StatusRescheduled, StatusCheckedIn, StatusNoShow, StatusConfirmed},
	StatusConfirmed:   {StatusCancelled, StatusRescheduled, StatusCheckedIn, StatusNoShow},
	StatusCheckedIn:   {StatusCompleted, StatusNoShow},
	StatusRescheduled: {StatusBooked, StatusCancelled},
}

// CanTransition reports whether the status change is allowed by the table.
func CanTransition(from, to Status) bool {
	for _, s := range transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// IsValidStatus reports whether s is one of the seven known statuses.
func IsValidStatus(s Status) bool {
	switch s {
	case StatusBooked, StatusConfirmed, StatusCheckedIn, StatusCompleted,
		StatusNoShow, StatusCancelled, StatusRescheduled:
		return true
	}
	return false
}

// IsActive reports whether the status occupies calendar time.
func (s Status) IsActive() bool {
	for _, a := range ActiveStatuses {
		if s == a {
			return true
		}
	}
	return false
}

// IsTerminal reports whether the status has no outgoing transitions.
func (s Status) IsTerminal() bool {
	return len(transitions[s]) == 0 && IsValidStatus(s)
}

// Appointment is the central mutable entity. Times of day are minutes since
// midnight within Date's calendar day.
type Appointment struct {
	ID              int64     `json:"id"`
	ClientID        int64     `json:"client_id"`
	ProviderID      int64     `json:"provider_id"`
	ServiceID       int64     `json:"service_id"`
	Date            time.Time `json:"date"`
	StartMinute     int       `json:"start_minute"`
	Duration        int       `json:"duration"`
	Status          Status    `json:"status"`
	Notes           string    `json:"notes,omitempty"`
	CalendarEventID string    `json:"calendar_event_id,omitempty"`
	RescheduledTo   int64     `json:"rescheduled_to,omitempty"`
	ReminderSent    bool      `json:"reminder_sent"`
	CreatedAt       time.Time `json:"created_at"`
	UpdatedAt       time.Time `json:"updated_at"`
	Version         int64     `json:"version"`
}

// EndMinute returns the derived end time, start + duration.
func (a *Appointment) EndMinute() int {
	return a.StartMinute + a.Duration
}

// StartAt returns the absolute start time of the appointment.
func (a *Appointment) StartAt() time.Time {
	day := time.Date(a.Date.Year(), a.Date.Month(), a.Date.Day(), 0, 0, 0, 0, a.Date.Location())
	return day.Add(time.Duration(a.StartMinute) * time.Minute)
}

// EndAt returns the absolute end time of the appointment.
func (a *Appointment) EndAt() time.Time {
	return a.StartAt().Add(time.Duration(a.Duration) * time.Minute)
}

// Overlaps reports whether the appointment intersects [start, end) minutes on
// the same date. Half-open semantics: back-to-back appointments do not overlap.
func (a *Appointment) Overlaps(start, end int) bool {
	return a.StartMinute < end && start < a.EndMinute()
}
