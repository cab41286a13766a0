package models

import "time"

// Activity log actions.
const (
	ActionBooked       = "booked"
	ActionConfirmed    = "confirmed"
	ActionCancelled    = "cancelled"
	ActionRescheduled  = "rescheduled"
	ActionCheckedIn    = "checked_in"
	ActionNoShow       = "no_show"
	ActionCompleted    = "completed"
	ActionCalendarSync = "calendar_sync"
)

// ActivityLogEntry is an append-only audit record. Entries are never mutated
// after creation.
type ActivityLogEntry struct {
	ID            int64     `json:"id"`
	AppointmentID int64     `json:"appointment_id"`
	Actor         string    `json:"actor"`
	Action        string    `json:"action"`
	Before        string    `json:"before,omitempty"`
	After         string    `json:"after,omitempty"`
	Note          string    `json:"note,omitempty"`
	CreatedAt     time.Time `json:"created_at"`
}
