// Package availability resolves a provider's bookable time for a date by
// layering recurring schedule rules, exceptions, holidays and existing
// appointments.
package availability

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/jjgao/openslots/internal/interval"
	"github.com/jjgao/openslots/internal/models"
)

// Store provides the reference data the resolver reads. Implementations must
// return appointments regardless of status; the resolver decides which occupy
// time.
type Store interface {
	GetAvailabilityRules(ctx context.Context, providerID int64) ([]models.AvailabilityRule, error)
	GetProviderExceptions(ctx context.Context, providerID int64, date time.Time) ([]models.ProviderException, error)
	GetBusinessExceptions(ctx context.Context, date time.Time) ([]models.BusinessException, error)
	ListBusinessHolidays(ctx context.Context) ([]models.BusinessHoliday, error)
	GetAppointmentsForDay(ctx context.Context, providerID int64, date time.Time) ([]models.Appointment, error)
}

// Slot is one bookable start time for presentation.
type Slot struct {
	StartMinute int    `json:"start_minute"`
	Start       string `json:"start"` // "10:00"
	End         string `json:"end"`   // "11:00"
}

// Resolver derives final availability for a provider and date.
type Resolver struct {
	store    Store
	slotStep int
	logger   zerolog.Logger
}

// NewResolver creates a resolver with the given slot grid step in minutes.
func NewResolver(store Store, slotStep int, logger zerolog.Logger) *Resolver {
	if slotStep <= 0 {
		slotStep = 15
	}
	return &Resolver{
		store:    store,
		slotStep: slotStep,
		logger:   logger.With().Str("component", "availability").Logger(),
	}
}

// Resolve returns the final bookable windows for the provider on the date.
// excludeID, when non-zero, names an appointment whose occupied time is
// ignored; used when re-checking a slot during that appointment's reschedule.
func (r *Resolver) Resolve(ctx context.Context, providerID int64, date time.Time, excludeID int64) (interval.Set, error) {
	closed, err := r.isClosedDay(ctx, date)
	if err != nil {
		return nil, err
	}
	if closed {
		// A holiday yields no availability regardless of recurring rules.
		return nil, nil
	}

	windows, err := r.openWindows(ctx, providerID, date)
	if err != nil {
		return nil, err
	}
	if windows.IsEmpty() {
		return nil, nil
	}

	windows, err = r.applyExceptions(ctx, windows, providerID, date)
	if err != nil {
		return nil, err
	}
	if windows.IsEmpty() {
		return nil, nil
	}

	return r.applyAppointments(ctx, windows, providerID, date, excludeID)
}

// IsSlotAvailable checks whether [start, start+duration) fits entirely inside
// the provider's resolved availability for the date.
func (r *Resolver) IsSlotAvailable(ctx context.Context, providerID int64, date time.Time, start, duration int, excludeID int64) (bool, error) {
	if duration <= 0 || start < 0 || start+duration > interval.MinutesPerDay {
		return false, nil
	}
	windows, err := r.Resolve(ctx, providerID, date, excludeID)
	if err != nil {
		return false, err
	}
	return windows.Contains(start, start+duration), nil
}

// Slots enumerates bookable start times at the configured grid step for the
// requested duration.
func (r *Resolver) Slots(ctx context.Context, providerID int64, date time.Time, duration int) ([]Slot, error) {
	if duration <= 0 {
		return nil, fmt.Errorf("duration must be positive, got %d", duration)
	}

	windows, err := r.Resolve(ctx, providerID, date, 0)
	if err != nil {
		return nil, err
	}

	starts := windows.Slots(duration, r.slotStep)
	slots := make([]Slot, 0, len(starts))
	for _, start := range starts {
		slots = append(slots, Slot{
			StartMinute: start,
			Start:       interval.FormatClock(start),
			End:         interval.FormatClock(start + duration),
		})
	}
	return slots, nil
}

func (r *Resolver) isClosedDay(ctx context.Context, date time.Time) (bool, error) {
	holidays, err := r.store.ListBusinessHolidays(ctx)
	if err != nil {
		return false, fmt.Errorf("list holidays: %w", err)
	}
	for i := range holidays {
		if holidays[i].Matches(date) {
			r.logger.Debug().
				Time("date", date).
				Str("holiday", holidays[i].Name).
				Msg("business closed for holiday")
			return true, nil
		}
	}
	return false, nil
}

func (r *Resolver) openWindows(ctx context.Context, providerID int64, date time.Time) (interval.Set, error) {
	rules, err := r.store.GetAvailabilityRules(ctx, providerID)
	if err != nil {
		return nil, fmt.Errorf("get availability rules: %w", err)
	}

	var windows []interval.Window
	for i := range rules {
		if !rules[i].AppliesTo(date) {
			continue
		}
		windows = append(windows, interval.Window{Start: rules[i].StartMinute, End: rules[i].EndMinute})
	}
	return interval.Merge(windows), nil
}

// applyExceptions subtracts provider exceptions first, then business
// exceptions. A provider exception without time bounds blocks the whole day;
// a business exception without bounds is skipped.
func (r *Resolver) applyExceptions(ctx context.Context, windows interval.Set, providerID int64, date time.Time) (interval.Set, error) {
	provExceptions, err := r.store.GetProviderExceptions(ctx, providerID, date)
	if err != nil {
		return nil, fmt.Errorf("get provider exceptions: %w", err)
	}
	for i := range provExceptions {
		if provExceptions[i].IsFullDay() {
			return nil, nil
		}
		windows = windows.Subtract(*provExceptions[i].StartMinute, *provExceptions[i].EndMinute)
	}

	bizExceptions, err := r.store.GetBusinessExceptions(ctx, date)
	if err != nil {
		return nil, fmt.Errorf("get business exceptions: %w", err)
	}
	for i := range bizExceptions {
		if !bizExceptions[i].HasTimes() {
			continue
		}
		windows = windows.Subtract(*bizExceptions[i].StartMinute, *bizExceptions[i].EndMinute)
	}

	return windows, nil
}

func (r *Resolver) applyAppointments(ctx context.Context, windows interval.Set, providerID int64, date time.Time, excludeID int64) (interval.Set, error) {
	appointments, err := r.store.GetAppointmentsForDay(ctx, providerID, date)
	if err != nil {
		return nil, fmt.Errorf("get appointments: %w", err)
	}

	for i := range appointments {
		a := &appointments[i]
		if a.ID == excludeID {
			continue
		}
		if !a.Status.IsActive() {
			continue
		}
		windows = windows.Subtract(a.StartMinute, a.EndMinute())
	}
	return windows, nil
}
