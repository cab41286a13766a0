package models

import "time"

// AvailabilityRule is one recurring or bounded block of open time for a
// provider on a day of week. Times are minutes since midnight.
type AvailabilityRule struct {
	ID            int64        `json:"id"`
	ProviderID    int64        `json:"provider_id"`
	DayOfWeek     time.Weekday `json:"day_of_week"`
	StartMinute   int          `json:"start_minute"`
	EndMinute     int          `json:"end_minute"`
	Recurring     bool         `json:"recurring"`
	EffectiveFrom *time.Time   `json:"effective_from,omitempty"`
	EffectiveTo   *time.Time   `json:"effective_to,omitempty"`
	CreatedAt     time.Time    `json:"created_at"`
	UpdatedAt     time.Time    `json:"updated_at"`
}

// AppliesTo reports whether the rule contributes open time on the given date.
// Recurring rules match on day of week alone; bounded rules additionally
// require the date to fall inside the effective range. A missing bound is
// unbounded on that side.
func (r *AvailabilityRule) AppliesTo(date time.Time) bool {
	if date.Weekday() != r.DayOfWeek {
		return false
	}
	if r.Recurring {
		return true
	}
	day := dateOnly(date)
	if r.EffectiveFrom != nil && day.Before(dateOnly(*r.EffectiveFrom)) {
		return false
	}
	if r.EffectiveTo != nil && day.After(dateOnly(*r.EffectiveTo)) {
		return false
	}
	return true
}

// ProviderException blocks time for one provider on one date. Nil minute
// bounds, or bounds covering the whole day, block the entire day.
type ProviderException struct {
	ID          int64     `json:"id"`
	ProviderID  int64     `json:"provider_id"`
	Date        time.Time `json:"date"`
	StartMinute *int      `json:"start_minute,omitempty"`
	EndMinute   *int      `json:"end_minute,omitempty"`
	Reason      string    `json:"reason,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
}

// IsFullDay reports whether the exception blocks the entire day.
func (e *ProviderException) IsFullDay() bool {
	if e.StartMinute == nil || e.EndMinute == nil {
		return true
	}
	return *e.StartMinute <= 0 && *e.EndMinute >= 24*60
}

// BusinessException blocks time for the whole business on one date. Unlike a
// provider exception, one without time bounds blocks nothing and is skipped.
type BusinessException struct {
	ID          int64     `json:"id"`
	Date        time.Time `json:"date"`
	StartMinute *int      `json:"start_minute,omitempty"`
	EndMinute   *int      `json:"end_minute,omitempty"`
	Reason      string    `json:"reason,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
}

// HasTimes reports whether the exception carries subtractable time bounds.
func (e *BusinessException) HasTimes() bool {
	return e.StartMinute != nil && e.EndMinute != nil
}

// BusinessHoliday closes the business entirely for a date. Recurring holidays
// match month and day across years.
type BusinessHoliday struct {
	ID        int64     `json:"id"`
	Date      time.Time `json:"date"`
	Recurring bool      `json:"recurring"`
	Name      string    `json:"name,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// Matches reports whether the holiday closes the business on the given date.
func (h *BusinessHoliday) Matches(date time.Time) bool {
	if h.Recurring {
		return h.Date.Month() == date.Month() && h.Date.Day() == date.Day()
	}
	return dateOnly(h.Date).Equal(dateOnly(date))
}

func dateOnly(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}
