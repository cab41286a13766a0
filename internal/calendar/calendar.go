// Package calendar mirrors appointments into a Google Calendar. All failures
// are the caller's to treat as best-effort.
package calendar

import (
	"context"
	"fmt"
	"os"

	"github.com/rs/zerolog"
	"golang.org/x/oauth2/google"
	"google.golang.org/api/calendar/v3"
	"google.golang.org/api/option"

	"github.com/jjgao/openslots/internal/interval"
	"github.com/jjgao/openslots/internal/models"
)

// Service pushes appointment events to one calendar.
type Service struct {
	client     *calendar.Service
	calendarID string
	logger     zerolog.Logger
}

// NewService builds the Google Calendar client from a service account
// credentials file.
func NewService(ctx context.Context, credentialsFile, calendarID string, logger *zerolog.Logger) (*Service, error) {
	data, err := os.ReadFile(credentialsFile)
	if err != nil {
		return nil, fmt.Errorf("read calendar credentials: %w", err)
	}
	creds, err := google.CredentialsFromJSON(ctx, data, calendar.CalendarScope)
	if err != nil {
		return nil, fmt.Errorf("parse calendar credentials: %w", err)
	}
	client, err := calendar.NewService(ctx, option.WithCredentials(creds))
	if err != nil {
		return nil, fmt.Errorf("create calendar client: %w", err)
	}
	return &Service{
		client:     client,
		calendarID: calendarID,
		logger:     logger.With().Str("component", "calendar").Logger(),
	}, nil
}

// SyncAppointment creates or updates the event mirroring the appointment and
// returns the event ID.
func (s *Service) SyncAppointment(ctx context.Context, a *models.Appointment) (string, error) {
	event := buildEvent(a)

	if a.CalendarEventID != "" {
		updated, err := s.client.Events.Update(s.calendarID, a.CalendarEventID, event).Context(ctx).Do()
		if err != nil {
			return "", fmt.Errorf("update calendar event %s: %w", a.CalendarEventID, err)
		}
		return updated.Id, nil
	}

	created, err := s.client.Events.Insert(s.calendarID, event).Context(ctx).Do()
	if err != nil {
		return "", fmt.Errorf("insert calendar event: %w", err)
	}
	s.logger.Debug().Int64("appointment_id", a.ID).Str("event_id", created.Id).Msg("calendar event created")
	return created.Id, nil
}

// DeleteEvent removes an event.
func (s *Service) DeleteEvent(ctx context.Context, eventID string) error {
	if err := s.client.Events.Delete(s.calendarID, eventID).Context(ctx).Do(); err != nil {
		return fmt.Errorf("delete calendar event %s: %w", eventID, err)
	}
	return nil
}

func buildEvent(a *models.Appointment) *calendar.Event {
	return &calendar.Event{
		Summary: fmt.Sprintf("Appointment #%d (%s)", a.ID, interval.FormatClock(a.StartMinute)),
		Description: fmt.Sprintf("Client %d, provider %d, service %d.\n%s",
			a.ClientID, a.ProviderID, a.ServiceID, a.Notes),
		Start: &calendar.EventDateTime{
			DateTime: a.StartAt().Format("2006-01-02T15:04:05-07:00"),
		},
		End: &calendar.EventDateTime{
			DateTime: a.EndAt().Format("2006-01-02T15:04:05-07:00"),
		},
	}
}
