// Package scheduling implements the appointment lifecycle: booking, guarded
// status transitions and the time-based policies around them.
package scheduling

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/jjgao/openslots/internal/availability"
	"github.com/jjgao/openslots/internal/config"
	"github.com/jjgao/openslots/internal/interval"
	"github.com/jjgao/openslots/internal/metrics"
	"github.com/jjgao/openslots/internal/models"
)

// Store provides the persistence operations the lifecycle needs. Lookups for
// absent rows return sql.ErrNoRows.
type Store interface {
	GetAppointment(ctx context.Context, id int64) (*models.Appointment, error)
	CreateAppointment(ctx context.Context, a *models.Appointment) error
	UpdateAppointmentStatusVersioned(ctx context.Context, id, version int64, status models.Status) error
	RescheduleAppointment(ctx context.Context, id, version int64, replacement *models.Appointment) error
	SetAppointmentCalendarEvent(ctx context.Context, id int64, eventID string) error
	CountActiveAppointments(ctx context.Context, clientID int64) (int, error)

	GetClient(ctx context.Context, id int64) (*models.Client, error)
	GetProvider(ctx context.Context, id int64) (*models.Provider, error)
	GetService(ctx context.Context, id int64) (*models.Service, error)
	SetClientFirstVisit(ctx context.Context, clientID int64, visit time.Time) error
	SetClientLastVisit(ctx context.Context, clientID int64, visit time.Time) error
	IncrementClientNoShow(ctx context.Context, clientID int64) error

	AppendActivityLog(ctx context.Context, entry *models.ActivityLogEntry) error
}

// CalendarSync pushes appointments to an external calendar. Both operations
// are best-effort from the lifecycle's point of view.
type CalendarSync interface {
	SyncAppointment(ctx context.Context, a *models.Appointment) (string, error)
	DeleteEvent(ctx context.Context, eventID string) error
}

// EventPublisher notifies downstream consumers of lifecycle events.
type EventPublisher interface {
	Publish(eventType string, payload interface{})
}

// Result is the outcome of a lifecycle operation. Warnings carry failures of
// best-effort side effects (calendar sync, audit logging) that did not fail
// the operation itself.
type Result struct {
	Appointment *models.Appointment
	Warnings    []string
}

// BookRequest carries the input for booking a new appointment.
type BookRequest struct {
	ClientID    int64
	ProviderID  int64
	ServiceID   int64
	Date        time.Time
	StartMinute int
	Duration    int
	Notes       string
	Actor       string
}

// RescheduleRequest carries the changes for a reschedule. At least one of
// NewDate, NewStartMinute or NewProviderID must be set.
type RescheduleRequest struct {
	NewDate        *time.Time
	NewStartMinute *int
	NewProviderID  *int64
	Notes          string
	Actor          string
}

// Limits bounds how far ahead and how many appointments a client may book.
type Limits struct {
	MinAdvance         time.Duration
	MaxAdvance         time.Duration
	MaxActivePerClient int
}

// Service is the appointment lifecycle service.
type Service struct {
	store    Store
	resolver *availability.Resolver
	calendar CalendarSync
	bus      EventPublisher
	policy   config.Scheduling
	limits   Limits
	logger   zerolog.Logger
	now      func() time.Time

	// Serializes the read-check-write booking sequence per provider so two
	// concurrent bookings cannot claim the same slot.
	mu            sync.Mutex
	providerLocks map[int64]*sync.Mutex
}

// NewService creates the lifecycle service. calendar and bus may be nil.
func NewService(store Store, resolver *availability.Resolver, calendar CalendarSync, bus EventPublisher, policy config.Scheduling, limits Limits, logger *zerolog.Logger) *Service {
	return &Service{
		store:         store,
		resolver:      resolver,
		calendar:      calendar,
		bus:           bus,
		policy:        policy,
		limits:        limits,
		logger:        logger.With().Str("component", "scheduling").Logger(),
		now:           time.Now,
		providerLocks: make(map[int64]*sync.Mutex),
	}
}

// GetAvailability returns the final bookable windows for a provider and date.
func (s *Service) GetAvailability(ctx context.Context, providerID int64, date time.Time) (interval.Set, error) {
	return s.resolver.Resolve(ctx, providerID, date, 0)
}

// GetSlots returns bookable start times for the requested duration.
func (s *Service) GetSlots(ctx context.Context, providerID int64, date time.Time, duration int) ([]availability.Slot, error) {
	return s.resolver.Slots(ctx, providerID, date, duration)
}

// IsSlotAvailable checks one specific interval, optionally ignoring an
// appointment's own occupied time.
func (s *Service) IsSlotAvailable(ctx context.Context, providerID int64, date time.Time, start, duration int, excludeID int64) (bool, error) {
	return s.resolver.IsSlotAvailable(ctx, providerID, date, start, duration, excludeID)
}

// Get returns one appointment.
func (s *Service) Get(ctx context.Context, id int64) (*models.Appointment, error) {
	return s.getAppointment(ctx, id)
}

// Book creates a new appointment in status Booked after validating the
// request and confirming the slot is free.
func (s *Service) Book(ctx context.Context, req BookRequest) (*Result, error) {
	if err := s.validateBookRequest(&req); err != nil {
		return nil, err
	}

	client, err := s.store.GetClient(ctx, req.ClientID)
	if err != nil {
		return nil, s.notFound("client", req.ClientID, err)
	}
	provider, service, err := s.checkProviderService(ctx, req.ProviderID, req.ServiceID)
	if err != nil {
		return nil, err
	}
	if !service.AllowsDuration(req.Duration) {
		return nil, &ValidationError{Field: "duration", Reason: fmt.Sprintf("service %q does not offer a %d minute duration", service.Name, req.Duration)}
	}

	startAt := atMinute(req.Date, req.StartMinute)
	if err := s.checkAdvanceWindow(startAt); err != nil {
		return nil, err
	}

	if s.limits.MaxActivePerClient > 0 {
		active, err := s.store.CountActiveAppointments(ctx, req.ClientID)
		if err != nil {
			return nil, fmt.Errorf("count active appointments: %w", err)
		}
		if active >= s.limits.MaxActivePerClient {
			return nil, &PreconditionError{Reason: fmt.Sprintf("client %d already has %d active appointments", req.ClientID, active)}
		}
	}

	unlock := s.lockProvider(req.ProviderID)
	defer unlock()

	free, err := s.resolver.IsSlotAvailable(ctx, req.ProviderID, req.Date, req.StartMinute, req.Duration, 0)
	if err != nil {
		return nil, err
	}
	if !free {
		metrics.IncSlotConflict()
		return nil, &ConflictError{ProviderID: req.ProviderID, Date: req.Date, Start: req.StartMinute, Duration: req.Duration}
	}

	now := s.now()
	appointment := &models.Appointment{
		ClientID:    req.ClientID,
		ProviderID:  provider.ID,
		ServiceID:   service.ID,
		Date:        req.Date,
		StartMinute: req.StartMinute,
		Duration:    req.Duration,
		Status:      models.StatusBooked,
		Notes:       req.Notes,
		CreatedAt:   now,
		UpdatedAt:   now,
		Version:     1,
	}
	if err := s.store.CreateAppointment(ctx, appointment); err != nil {
		return nil, fmt.Errorf("create appointment: %w", err)
	}

	result := &Result{Appointment: appointment}

	if client.FirstVisit == nil {
		if err := s.store.SetClientFirstVisit(ctx, client.ID, startAt); err != nil {
			result.warn(s.logger, "set client first visit", err)
		}
	}

	s.logActivity(ctx, result, appointment.ID, req.Actor, models.ActionBooked, "", string(models.StatusBooked), req.Notes)
	s.publish("appointment.booked", appointment)
	s.syncCalendar(ctx, result, appointment)
	metrics.IncAppointment(models.ActionBooked)

	s.logger.Info().
		Int64("appointment_id", appointment.ID).
		Int64("provider_id", appointment.ProviderID).
		Time("date", appointment.Date).
		Str("start", interval.FormatClock(appointment.StartMinute)).
		Msg("appointment booked")

	return result, nil
}

// Confirm moves a booked appointment to Confirmed.
func (s *Service) Confirm(ctx context.Context, id int64, actor string) (*Result, error) {
	appointment, err := s.getAppointment(ctx, id)
	if err != nil {
		return nil, err
	}

	result := &Result{Appointment: appointment}
	if err := s.transition(ctx, result, appointment, models.StatusConfirmed, actor, ""); err != nil {
		return nil, err
	}
	s.syncCalendar(ctx, result, appointment)
	return result, nil
}

// Cancel moves an appointment to Cancelled and clears any external calendar
// linkage.
func (s *Service) Cancel(ctx context.Context, id int64, reason, actor string) (*Result, error) {
	appointment, err := s.getAppointment(ctx, id)
	if err != nil {
		return nil, err
	}

	result := &Result{Appointment: appointment}
	if err := s.transition(ctx, result, appointment, models.StatusCancelled, actor, reason); err != nil {
		return nil, err
	}
	s.clearCalendarEvent(ctx, result, appointment)
	return result, nil
}

// Reschedule closes the appointment and opens a replacement at the new
// target. The old appointment moves to Rescheduled and stops occupying time;
// the replacement starts over in Booked.
func (s *Service) Reschedule(ctx context.Context, id int64, req RescheduleRequest) (*Result, error) {
	if req.NewDate == nil && req.NewStartMinute == nil && req.NewProviderID == nil {
		return nil, &ValidationError{Field: "reschedule", Reason: "at least one of new date, new start time or new provider is required"}
	}

	appointment, err := s.getAppointment(ctx, id)
	if err != nil {
		return nil, err
	}
	if !models.CanTransition(appointment.Status, models.StatusRescheduled) {
		return nil, &PreconditionError{AppointmentID: id, Current: appointment.Status, Attempted: models.StatusRescheduled}
	}

	targetDate := appointment.Date
	if req.NewDate != nil {
		targetDate = *req.NewDate
	}
	targetStart := appointment.StartMinute
	if req.NewStartMinute != nil {
		targetStart = *req.NewStartMinute
	}
	targetProvider := appointment.ProviderID
	if req.NewProviderID != nil {
		targetProvider = *req.NewProviderID
	}
	if targetStart < 0 || targetStart+appointment.Duration > interval.MinutesPerDay {
		return nil, &ValidationError{Field: "start_minute", Reason: "appointment must fit within one calendar day"}
	}

	// The new provider must still offer the appointment's service.
	if _, _, err := s.checkProviderService(ctx, targetProvider, appointment.ServiceID); err != nil {
		return nil, err
	}

	unlock := s.lockProvider(targetProvider)
	defer unlock()

	free, err := s.resolver.IsSlotAvailable(ctx, targetProvider, targetDate, targetStart, appointment.Duration, appointment.ID)
	if err != nil {
		return nil, err
	}
	if !free {
		metrics.IncSlotConflict()
		return nil, &ConflictError{ProviderID: targetProvider, Date: targetDate, Start: targetStart, Duration: appointment.Duration}
	}

	now := s.now()
	replacement := &models.Appointment{
		ClientID:    appointment.ClientID,
		ProviderID:  targetProvider,
		ServiceID:   appointment.ServiceID,
		Date:        targetDate,
		StartMinute: targetStart,
		Duration:    appointment.Duration,
		Status:      models.StatusBooked,
		Notes:       req.Notes,
		CreatedAt:   now,
		UpdatedAt:   now,
		Version:     1,
	}
	// One transaction: a version conflict on the close (a concurrent
	// transition on the old row) must not leave the replacement behind.
	if err := s.store.RescheduleAppointment(ctx, appointment.ID, appointment.Version, replacement); err != nil {
		return nil, fmt.Errorf("reschedule appointment %d: %w", appointment.ID, err)
	}
	before := appointment.Status
	appointment.Status = models.StatusRescheduled
	appointment.RescheduledTo = replacement.ID
	appointment.Version++

	result := &Result{Appointment: replacement}
	s.logActivity(ctx, result, appointment.ID, req.Actor, models.ActionRescheduled, string(before), string(models.StatusRescheduled),
		fmt.Sprintf("replaced by appointment %d", replacement.ID))
	s.logActivity(ctx, result, replacement.ID, req.Actor, models.ActionBooked, "", string(models.StatusBooked), req.Notes)
	s.publish("appointment.rescheduled", replacement)
	metrics.IncAppointment(models.ActionRescheduled)

	// Move the calendar event over to the replacement.
	if appointment.CalendarEventID != "" {
		s.clearCalendarEvent(ctx, result, appointment)
	}
	s.syncCalendar(ctx, result, replacement)

	s.logger.Info().
		Int64("appointment_id", appointment.ID).
		Int64("replacement_id", replacement.ID).
		Msg("appointment rescheduled")

	return result, nil
}

// CheckIn marks arrival. It is only legal inside the configured window around
// the scheduled start.
func (s *Service) CheckIn(ctx context.Context, id int64, actor string) (*Result, error) {
	appointment, err := s.getAppointment(ctx, id)
	if err != nil {
		return nil, err
	}
	if !models.CanTransition(appointment.Status, models.StatusCheckedIn) {
		return nil, &PreconditionError{AppointmentID: id, Current: appointment.Status, Attempted: models.StatusCheckedIn}
	}

	now := s.now()
	start := appointment.StartAt()
	if now.Before(start.Add(-s.policy.CheckInBefore())) {
		return nil, &WindowViolation{AppointmentID: id, Operation: "check-in", Side: TooEarly}
	}
	if now.After(start.Add(s.policy.CheckInAfter())) {
		return nil, &WindowViolation{
			AppointmentID: id,
			Operation:     "check-in",
			Side:          TooLate,
			Hint:          "consider marking the appointment as a no-show",
		}
	}

	result := &Result{Appointment: appointment}
	if err := s.transition(ctx, result, appointment, models.StatusCheckedIn, actor, ""); err != nil {
		return nil, err
	}
	s.syncCalendar(ctx, result, appointment)
	return result, nil
}

// MarkNoShow records a no-show once the grace period past the scheduled
// start has elapsed, and increments the client's no-show counter.
func (s *Service) MarkNoShow(ctx context.Context, id int64, actor string) (*Result, error) {
	appointment, err := s.getAppointment(ctx, id)
	if err != nil {
		return nil, err
	}
	if !models.CanTransition(appointment.Status, models.StatusNoShow) {
		return nil, &PreconditionError{AppointmentID: id, Current: appointment.Status, Attempted: models.StatusNoShow}
	}

	if s.now().Before(appointment.StartAt().Add(s.policy.NoShowGrace())) {
		return nil, &WindowViolation{AppointmentID: id, Operation: "no-show", Side: TooEarly}
	}

	result := &Result{Appointment: appointment}
	if err := s.transition(ctx, result, appointment, models.StatusNoShow, actor, ""); err != nil {
		return nil, err
	}

	if err := s.store.IncrementClientNoShow(ctx, appointment.ClientID); err != nil {
		result.warn(s.logger, "increment client no-show counter", err)
	}
	s.clearCalendarEvent(ctx, result, appointment)
	return result, nil
}

// Complete closes a checked-in appointment and updates the client's last
// visit date.
func (s *Service) Complete(ctx context.Context, id int64, actor string) (*Result, error) {
	appointment, err := s.getAppointment(ctx, id)
	if err != nil {
		return nil, err
	}

	result := &Result{Appointment: appointment}
	if err := s.transition(ctx, result, appointment, models.StatusCompleted, actor, ""); err != nil {
		return nil, err
	}

	if err := s.store.SetClientLastVisit(ctx, appointment.ClientID, appointment.StartAt()); err != nil {
		result.warn(s.logger, "set client last visit", err)
	}
	s.syncCalendar(ctx, result, appointment)
	return result, nil
}

func (s *Service) validateBookRequest(req *BookRequest) error {
	switch {
	case req.ClientID <= 0:
		return &ValidationError{Field: "client_id", Reason: "required"}
	case req.ProviderID <= 0:
		return &ValidationError{Field: "provider_id", Reason: "required"}
	case req.ServiceID <= 0:
		return &ValidationError{Field: "service_id", Reason: "required"}
	case req.Date.IsZero():
		return &ValidationError{Field: "date", Reason: "required"}
	case req.Duration <= 0:
		return &ValidationError{Field: "duration", Reason: "must be positive"}
	case req.StartMinute < 0 || req.StartMinute+req.Duration > interval.MinutesPerDay:
		return &ValidationError{Field: "start_minute", Reason: "appointment must fit within one calendar day"}
	}
	return nil
}

// checkProviderService loads both entities and verifies the provider is
// active and offers the service.
func (s *Service) checkProviderService(ctx context.Context, providerID, serviceID int64) (*models.Provider, *models.Service, error) {
	provider, err := s.store.GetProvider(ctx, providerID)
	if err != nil {
		return nil, nil, s.notFound("provider", providerID, err)
	}
	if !provider.IsActive {
		return nil, nil, &PreconditionError{Reason: fmt.Sprintf("provider %d is inactive", providerID)}
	}

	service, err := s.store.GetService(ctx, serviceID)
	if err != nil {
		return nil, nil, s.notFound("service", serviceID, err)
	}
	if !provider.OffersService(serviceID) {
		return nil, nil, &PreconditionError{Reason: fmt.Sprintf("provider %d does not offer service %q", providerID, service.Name)}
	}
	return provider, service, nil
}

func (s *Service) checkAdvanceWindow(startAt time.Time) error {
	now := s.now()
	if startAt.Before(now.Add(s.limits.MinAdvance)) {
		return &ValidationError{Field: "date", Reason: "appointment start is in the past or too soon"}
	}
	if s.limits.MaxAdvance > 0 && startAt.After(now.Add(s.limits.MaxAdvance)) {
		return &ValidationError{Field: "date", Reason: "appointment start is too far in the future"}
	}
	return nil
}

// transition applies a guarded status change and the shared side effects:
// audit entry, event, metric.
func (s *Service) transition(ctx context.Context, result *Result, a *models.Appointment, to models.Status, actor, note string) error {
	if !models.CanTransition(a.Status, to) {
		return &PreconditionError{AppointmentID: a.ID, Current: a.Status, Attempted: to}
	}

	if err := s.store.UpdateAppointmentStatusVersioned(ctx, a.ID, a.Version, to); err != nil {
		return fmt.Errorf("update appointment %d status: %w", a.ID, err)
	}

	before := a.Status
	a.Status = to
	a.Version++
	a.UpdatedAt = s.now()

	s.logActivity(ctx, result, a.ID, actor, string(to), string(before), string(to), note)
	s.publish("appointment."+string(to), a)
	metrics.IncAppointment(string(to))

	s.logger.Info().
		Int64("appointment_id", a.ID).
		Str("from", string(before)).
		Str("to", string(to)).
		Msg("appointment status changed")
	return nil
}

func (s *Service) getAppointment(ctx context.Context, id int64) (*models.Appointment, error) {
	if id <= 0 {
		return nil, &ValidationError{Field: "appointment_id", Reason: "required"}
	}
	appointment, err := s.store.GetAppointment(ctx, id)
	if err != nil {
		return nil, s.notFound("appointment", id, err)
	}
	return appointment, nil
}

func (s *Service) notFound(entity string, id int64, err error) error {
	if errors.Is(err, sql.ErrNoRows) {
		return &NotFoundError{Entity: entity, ID: id}
	}
	return fmt.Errorf("get %s %d: %w", entity, id, err)
}

// syncCalendar pushes the appointment to the external calendar. Failures are
// surfaced as warnings, never as the operation's error.
func (s *Service) syncCalendar(ctx context.Context, result *Result, a *models.Appointment) {
	if s.calendar == nil {
		return
	}

	eventID, err := s.calendar.SyncAppointment(ctx, a)
	if err != nil {
		result.warn(s.logger, "calendar sync", err)
		return
	}
	if eventID == a.CalendarEventID {
		return
	}
	a.CalendarEventID = eventID
	if err := s.store.SetAppointmentCalendarEvent(ctx, a.ID, eventID); err != nil {
		result.warn(s.logger, "store calendar event id", err)
		return
	}
	s.logActivity(ctx, result, a.ID, "system", models.ActionCalendarSync, "", eventID, "")
	metrics.IncCalendarSync(true)
}

// clearCalendarEvent removes the external event and the stored linkage.
func (s *Service) clearCalendarEvent(ctx context.Context, result *Result, a *models.Appointment) {
	if a.CalendarEventID == "" {
		return
	}

	if s.calendar != nil {
		if err := s.calendar.DeleteEvent(ctx, a.CalendarEventID); err != nil {
			result.warn(s.logger, "delete calendar event", err)
			metrics.IncCalendarSync(false)
		}
	}
	if err := s.store.SetAppointmentCalendarEvent(ctx, a.ID, ""); err != nil {
		result.warn(s.logger, "clear calendar event id", err)
		return
	}
	a.CalendarEventID = ""
}

func (s *Service) logActivity(ctx context.Context, result *Result, appointmentID int64, actor, action, before, after, note string) {
	if actor == "" {
		actor = "system"
	}
	entry := &models.ActivityLogEntry{
		AppointmentID: appointmentID,
		Actor:         actor,
		Action:        action,
		Before:        before,
		After:         after,
		Note:          note,
		CreatedAt:     s.now(),
	}
	if err := s.store.AppendActivityLog(ctx, entry); err != nil {
		result.warn(s.logger, "append activity log", err)
	}
}

func (s *Service) publish(eventType string, payload interface{}) {
	if s.bus != nil {
		s.bus.Publish(eventType, payload)
	}
}

func (s *Service) lockProvider(providerID int64) func() {
	s.mu.Lock()
	lock, ok := s.providerLocks[providerID]
	if !ok {
		lock = &sync.Mutex{}
		s.providerLocks[providerID] = lock
	}
	s.mu.Unlock()

	lock.Lock()
	return lock.Unlock
}

func (r *Result) warn(logger zerolog.Logger, what string, err error) {
	logger.Warn().Err(err).Msg(what + " failed")
	r.Warnings = append(r.Warnings, fmt.Sprintf("%s failed: %v", what, err))
}

func atMinute(date time.Time, minute int) time.Time {
	day := time.Date(date.Year(), date.Month(), date.Day(), 0, 0, 0, 0, date.Location())
	return day.Add(time.Duration(minute) * time.Minute)
}
