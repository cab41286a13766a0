// Package reminders notifies clients ahead of their upcoming appointments.
package reminders

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"github.com/jjgao/openslots/internal/metrics"
	"github.com/jjgao/openslots/internal/models"
)

// AppointmentStore provides the appointments that may need a reminder.
type AppointmentStore interface {
	// GetUpcomingAppointments returns active appointments starting within the
	// window that have not been reminded yet.
	GetUpcomingAppointments(ctx context.Context, within time.Duration) ([]models.Appointment, error)

	// MarkReminderSent flags an appointment so it is not reminded twice.
	MarkReminderSent(ctx context.Context, appointmentID int64) error
}

// Notifier delivers one reminder.
type Notifier interface {
	SendReminder(ctx context.Context, a *models.Appointment) error
}

// Config holds the reminder loop settings.
type Config struct {
	// CheckInterval is how often to look for upcoming appointments.
	// Default 15 minutes.
	CheckInterval time.Duration

	// HoursBefore is how far ahead of the start reminders go out. Default 24.
	HoursBefore int

	// SendRate caps notifications per second. Default 20, burst 30.
	SendRate float64
}

// Service runs the reminder loop.
type Service struct {
	config   Config
	store    AppointmentStore
	notifier Notifier
	limiter  *rate.Limiter
	logger   zerolog.Logger

	mu      sync.Mutex
	running bool
	stopCh  chan struct{}
	wg      sync.WaitGroup
}

func NewService(config Config, store AppointmentStore, notifier Notifier, logger *zerolog.Logger) *Service {
	if config.CheckInterval <= 0 {
		config.CheckInterval = 15 * time.Minute
	}
	if config.HoursBefore <= 0 {
		config.HoursBefore = 24
	}
	if config.SendRate <= 0 {
		config.SendRate = 20
	}

	return &Service{
		config:   config,
		store:    store,
		notifier: notifier,
		limiter:  rate.NewLimiter(rate.Limit(config.SendRate), 30),
		logger:   logger.With().Str("component", "reminders").Logger(),
		stopCh:   make(chan struct{}),
	}
}

// Start begins the check loop.
func (s *Service) Start(ctx context.Context) {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return
	}
	s.running = true
	s.mu.Unlock()

	s.wg.Add(1)
	go s.loop(ctx)

	s.logger.Info().
		Dur("check_interval", s.config.CheckInterval).
		Int("hours_before", s.config.HoursBefore).
		Msg("reminder service started")
}

// Stop halts the loop and waits for an in-flight pass.
func (s *Service) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	s.running = false
	s.mu.Unlock()

	close(s.stopCh)
	s.wg.Wait()
	s.logger.Info().Msg("reminder service stopped")
}

func (s *Service) loop(ctx context.Context) {
	defer s.wg.Done()

	ticker := time.NewTicker(s.config.CheckInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-s.stopCh:
			return
		case <-ticker.C:
			s.ProcessDue(ctx)
		}
	}
}

// ProcessDue sends reminders for every appointment inside the window.
func (s *Service) ProcessDue(ctx context.Context) {
	window := time.Duration(s.config.HoursBefore) * time.Hour
	upcoming, err := s.store.GetUpcomingAppointments(ctx, window)
	if err != nil {
		s.logger.Error().Err(err).Msg("load upcoming appointments")
		return
	}

	for i := range upcoming {
		appointment := &upcoming[i]
		if err := s.limiter.Wait(ctx); err != nil {
			return
		}

		if err := s.notifier.SendReminder(ctx, appointment); err != nil {
			metrics.IncReminder(false)
			s.logger.Error().Err(err).Int64("appointment_id", appointment.ID).Msg("send reminder")
			continue
		}
		if err := s.store.MarkReminderSent(ctx, appointment.ID); err != nil {
			s.logger.Error().Err(err).Int64("appointment_id", appointment.ID).Msg("mark reminder sent")
			continue
		}

		metrics.IncReminder(true)
		s.logger.Debug().Int64("appointment_id", appointment.ID).Msg("reminder sent")
	}
}
