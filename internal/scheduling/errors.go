package scheduling

import (
	"fmt"
	"time"

	"github.com/jjgao/openslots/internal/interval"
	"github.com/jjgao/openslots/internal/models"
)

// ValidationError reports missing or malformed input.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation failed on %s: %s", e.Field, e.Reason)
}

// NotFoundError reports a referenced entity that does not exist.
type NotFoundError struct {
	Entity string
	ID     int64
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s %d not found", e.Entity, e.ID)
}

// PreconditionError reports an illegal status transition or a business
// precondition that does not hold (inactive provider, service not offered).
type PreconditionError struct {
	AppointmentID int64
	Current       models.Status
	Attempted     models.Status
	Reason        string
}

func (e *PreconditionError) Error() string {
	if e.Current != "" || e.Attempted != "" {
		return fmt.Sprintf("appointment %d: illegal transition %s -> %s", e.AppointmentID, e.Current, e.Attempted)
	}
	return e.Reason
}

// ConflictError reports a requested slot that is not available.
type ConflictError struct {
	ProviderID int64
	Date       time.Time
	Start      int
	Duration   int
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("slot %s-%s on %s not available for provider %d",
		interval.FormatClock(e.Start), interval.FormatClock(e.Start+e.Duration),
		e.Date.Format("2006-01-02"), e.ProviderID)
}

// Timing sides for WindowViolation.
const (
	TooEarly = "too early"
	TooLate  = "too late"
)

// WindowViolation reports a check-in or no-show attempted outside its policy
// window.
type WindowViolation struct {
	AppointmentID int64
	Operation     string
	Side          string // TooEarly or TooLate
	Hint          string
}

func (e *WindowViolation) Error() string {
	msg := fmt.Sprintf("%s for appointment %d is %s", e.Operation, e.AppointmentID, e.Side)
	if e.Hint != "" {
		msg += ": " + e.Hint
	}
	return msg
}
