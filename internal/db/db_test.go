package db

import (
	"context"
	"database/sql"
	"io"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jjgao/openslots/internal/models"
)

func openTestDB(t *testing.T) *DB {
	t.Helper()
	logger := zerolog.New(io.Discard)
	database, err := NewDB(filepath.Join(t.TempDir(), "test.db"), &logger)
	require.NoError(t, err)
	t.Cleanup(func() { database.Close() })
	return database
}

func seedCatalog(t *testing.T, database *DB) (clientID, providerID, serviceID int64) {
	t.Helper()
	ctx := context.Background()

	service := &models.Service{Name: "Consultation", Durations: []int{30, 60}}
	require.NoError(t, database.CreateService(ctx, service))

	provider := &models.Provider{Name: "Dr. Okafor", IsActive: true, ServiceIDs: []int64{service.ID}}
	require.NoError(t, database.CreateProvider(ctx, provider))

	client := &models.Client{Name: "Dana Webb", Phone: "+15550100"}
	require.NoError(t, database.CreateClient(ctx, client))

	return client.ID, provider.ID, service.ID
}

func TestCatalogRoundTrip(t *testing.T) {
	database := openTestDB(t)
	ctx := context.Background()
	clientID, providerID, serviceID := seedCatalog(t, database)

	provider, err := database.GetProvider(ctx, providerID)
	require.NoError(t, err)
	assert.Equal(t, "Dr. Okafor", provider.Name)
	assert.True(t, provider.IsActive)
	assert.Equal(t, []int64{serviceID}, provider.ServiceIDs)

	service, err := database.GetService(ctx, serviceID)
	require.NoError(t, err)
	assert.Equal(t, []int{30, 60}, service.Durations)

	client, err := database.GetClient(ctx, clientID)
	require.NoError(t, err)
	assert.Nil(t, client.FirstVisit)
	assert.Equal(t, 0, client.NoShowCount)

	_, err = database.GetProvider(ctx, 999)
	assert.ErrorIs(t, err, sql.ErrNoRows)
}

func TestClientVisitTracking(t *testing.T) {
	database := openTestDB(t)
	ctx := context.Background()
	clientID, _, _ := seedCatalog(t, database)

	first := time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC)
	require.NoError(t, database.SetClientFirstVisit(ctx, clientID, first))

	// Earliest booking wins: a second write must not overwrite.
	require.NoError(t, database.SetClientFirstVisit(ctx, clientID, first.AddDate(0, 0, 7)))

	require.NoError(t, database.IncrementClientNoShow(ctx, clientID))
	require.NoError(t, database.IncrementClientNoShow(ctx, clientID))

	client, err := database.GetClient(ctx, clientID)
	require.NoError(t, err)
	require.NotNil(t, client.FirstVisit)
	assert.True(t, client.FirstVisit.Equal(first))
	assert.Equal(t, 2, client.NoShowCount)
}

func TestScheduleRoundTrip(t *testing.T) {
	database := openTestDB(t)
	ctx := context.Background()
	_, providerID, _ := seedCatalog(t, database)
	date := time.Date(2026, 3, 2, 0, 0, 0, 0, time.UTC)

	from := date
	rule := &models.AvailabilityRule{
		ProviderID: providerID, DayOfWeek: time.Monday,
		StartMinute: 540, EndMinute: 1020, EffectiveFrom: &from,
	}
	require.NoError(t, database.CreateAvailabilityRule(ctx, rule))

	rules, err := database.GetAvailabilityRules(ctx, providerID)
	require.NoError(t, err)
	require.Len(t, rules, 1)
	assert.Equal(t, time.Monday, rules[0].DayOfWeek)
	assert.False(t, rules[0].Recurring)
	require.NotNil(t, rules[0].EffectiveFrom)
	assert.True(t, rules[0].EffectiveFrom.Equal(from))
	assert.Nil(t, rules[0].EffectiveTo)

	// Full-day exception has nil bounds.
	require.NoError(t, database.CreateProviderException(ctx, &models.ProviderException{
		ProviderID: providerID, Date: date, Reason: "sick leave",
	}))
	exceptions, err := database.GetProviderExceptions(ctx, providerID, date)
	require.NoError(t, err)
	require.Len(t, exceptions, 1)
	assert.True(t, exceptions[0].IsFullDay())
	assert.Equal(t, "sick leave", exceptions[0].Reason)

	// No exceptions on another date.
	exceptions, err = database.GetProviderExceptions(ctx, providerID, date.AddDate(0, 0, 1))
	require.NoError(t, err)
	assert.Empty(t, exceptions)

	start, end := 720, 780
	require.NoError(t, database.CreateBusinessException(ctx, &models.BusinessException{
		Date: date, StartMinute: &start, EndMinute: &end,
	}))
	business, err := database.GetBusinessExceptions(ctx, date)
	require.NoError(t, err)
	require.Len(t, business, 1)
	require.True(t, business[0].HasTimes())
	assert.Equal(t, 720, *business[0].StartMinute)

	require.NoError(t, database.CreateBusinessHoliday(ctx, &models.BusinessHoliday{
		Date: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC), Recurring: true, Name: "New Year",
	}))
	holidays, err := database.ListBusinessHolidays(ctx)
	require.NoError(t, err)
	require.Len(t, holidays, 1)
	assert.True(t, holidays[0].Recurring)
}

func newAppointment(clientID, providerID, serviceID int64, date time.Time, start int) *models.Appointment {
	now := time.Date(2026, 2, 20, 12, 0, 0, 0, time.UTC)
	return &models.Appointment{
		ClientID: clientID, ProviderID: providerID, ServiceID: serviceID,
		Date: date, StartMinute: start, Duration: 60,
		Status: models.StatusBooked, Version: 1,
		CreatedAt: now, UpdatedAt: now,
	}
}

func TestAppointmentRoundTrip(t *testing.T) {
	database := openTestDB(t)
	ctx := context.Background()
	clientID, providerID, serviceID := seedCatalog(t, database)
	date := time.Date(2026, 3, 2, 0, 0, 0, 0, time.UTC)

	a := newAppointment(clientID, providerID, serviceID, date, 600)
	a.Notes = "first visit"
	require.NoError(t, database.CreateAppointment(ctx, a))
	require.NotZero(t, a.ID)

	got, err := database.GetAppointment(ctx, a.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusBooked, got.Status)
	assert.True(t, got.Date.Equal(date))
	assert.Equal(t, 600, got.StartMinute)
	assert.Equal(t, "first visit", got.Notes)
	assert.Equal(t, int64(1), got.Version)

	_, err = database.GetAppointment(ctx, 999)
	assert.ErrorIs(t, err, sql.ErrNoRows)
}

func TestVersionedStatusUpdate(t *testing.T) {
	database := openTestDB(t)
	ctx := context.Background()
	clientID, providerID, serviceID := seedCatalog(t, database)
	date := time.Date(2026, 3, 2, 0, 0, 0, 0, time.UTC)

	a := newAppointment(clientID, providerID, serviceID, date, 600)
	require.NoError(t, database.CreateAppointment(ctx, a))

	require.NoError(t, database.UpdateAppointmentStatusVersioned(ctx, a.ID, 1, models.StatusConfirmed))

	got, err := database.GetAppointment(ctx, a.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusConfirmed, got.Status)
	assert.Equal(t, int64(2), got.Version)

	// Stale version loses.
	err = database.UpdateAppointmentStatusVersioned(ctx, a.ID, 1, models.StatusCancelled)
	assert.ErrorIs(t, err, ErrConcurrentModification)

	// Missing row is distinguishable from a version mismatch.
	err = database.UpdateAppointmentStatusVersioned(ctx, 999, 1, models.StatusCancelled)
	assert.ErrorIs(t, err, sql.ErrNoRows)
}

func TestRescheduleAppointment(t *testing.T) {
	database := openTestDB(t)
	ctx := context.Background()
	clientID, providerID, serviceID := seedCatalog(t, database)
	date := time.Date(2026, 3, 2, 0, 0, 0, 0, time.UTC)

	old := newAppointment(clientID, providerID, serviceID, date, 600)
	require.NoError(t, database.CreateAppointment(ctx, old))

	replacement := newAppointment(clientID, providerID, serviceID, date, 840)
	require.NoError(t, database.RescheduleAppointment(ctx, old.ID, 1, replacement))
	require.NotZero(t, replacement.ID)

	got, err := database.GetAppointment(ctx, old.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusRescheduled, got.Status)
	assert.Equal(t, replacement.ID, got.RescheduledTo)
	assert.Equal(t, int64(2), got.Version)

	stored, err := database.GetAppointment(ctx, replacement.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusBooked, stored.Status)
	assert.Equal(t, 840, stored.StartMinute)
}

func TestRescheduleAppointmentVersionConflict(t *testing.T) {
	database := openTestDB(t)
	ctx := context.Background()
	clientID, providerID, serviceID := seedCatalog(t, database)
	date := time.Date(2026, 3, 2, 0, 0, 0, 0, time.UTC)

	old := newAppointment(clientID, providerID, serviceID, date, 600)
	require.NoError(t, database.CreateAppointment(ctx, old))

	// A concurrent transition bumped the version after the caller's read.
	require.NoError(t, database.UpdateAppointmentStatusVersioned(ctx, old.ID, 1, models.StatusCancelled))

	replacement := newAppointment(clientID, providerID, serviceID, date, 840)
	err := database.RescheduleAppointment(ctx, old.ID, 1, replacement)
	assert.ErrorIs(t, err, ErrConcurrentModification)

	// The whole transaction rolled back: no replacement row survives.
	appts, err := database.GetAppointmentsForDay(ctx, providerID, date)
	require.NoError(t, err)
	require.Len(t, appts, 1)
	assert.Equal(t, old.ID, appts[0].ID)

	err = database.RescheduleAppointment(ctx, 999, 1, replacement)
	assert.ErrorIs(t, err, sql.ErrNoRows)
}

func TestAppointmentsForDayAndActiveCount(t *testing.T) {
	database := openTestDB(t)
	ctx := context.Background()
	clientID, providerID, serviceID := seedCatalog(t, database)
	date := time.Date(2026, 3, 2, 0, 0, 0, 0, time.UTC)

	first := newAppointment(clientID, providerID, serviceID, date, 600)
	require.NoError(t, database.CreateAppointment(ctx, first))
	second := newAppointment(clientID, providerID, serviceID, date, 840)
	require.NoError(t, database.CreateAppointment(ctx, second))
	otherDay := newAppointment(clientID, providerID, serviceID, date.AddDate(0, 0, 1), 600)
	require.NoError(t, database.CreateAppointment(ctx, otherDay))

	day, err := database.GetAppointmentsForDay(ctx, providerID, date)
	require.NoError(t, err)
	require.Len(t, day, 2)
	assert.Equal(t, 600, day[0].StartMinute)
	assert.Equal(t, 840, day[1].StartMinute)

	count, err := database.CountActiveAppointments(ctx, clientID)
	require.NoError(t, err)
	assert.Equal(t, 3, count)

	require.NoError(t, database.UpdateAppointmentStatusVersioned(ctx, first.ID, 1, models.StatusCancelled))
	count, err = database.CountActiveAppointments(ctx, clientID)
	require.NoError(t, err)
	assert.Equal(t, 2, count)
}

func TestSetAppointmentCalendarEvent(t *testing.T) {
	database := openTestDB(t)
	ctx := context.Background()
	clientID, providerID, serviceID := seedCatalog(t, database)

	a := newAppointment(clientID, providerID, serviceID, time.Date(2026, 3, 2, 0, 0, 0, 0, time.UTC), 600)
	require.NoError(t, database.CreateAppointment(ctx, a))

	require.NoError(t, database.SetAppointmentCalendarEvent(ctx, a.ID, "evt-1"))
	got, err := database.GetAppointment(ctx, a.ID)
	require.NoError(t, err)
	assert.Equal(t, "evt-1", got.CalendarEventID)

	require.NoError(t, database.SetAppointmentCalendarEvent(ctx, a.ID, ""))
	got, err = database.GetAppointment(ctx, a.ID)
	require.NoError(t, err)
	assert.Empty(t, got.CalendarEventID)

	assert.ErrorIs(t, database.SetAppointmentCalendarEvent(ctx, 999, "evt-2"), sql.ErrNoRows)
}

func TestDeleteOldAppointments(t *testing.T) {
	database := openTestDB(t)
	ctx := context.Background()
	clientID, providerID, serviceID := seedCatalog(t, database)
	old := time.Date(2025, 1, 10, 0, 0, 0, 0, time.UTC)
	recent := time.Date(2026, 3, 2, 0, 0, 0, 0, time.UTC)

	done := newAppointment(clientID, providerID, serviceID, old, 600)
	done.Status = models.StatusCompleted
	require.NoError(t, database.CreateAppointment(ctx, done))

	// Old but still active rows are never purged.
	stale := newAppointment(clientID, providerID, serviceID, old, 840)
	require.NoError(t, database.CreateAppointment(ctx, stale))

	current := newAppointment(clientID, providerID, serviceID, recent, 600)
	require.NoError(t, database.CreateAppointment(ctx, current))

	deleted, err := database.DeleteOldAppointments(ctx, time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
	require.NoError(t, err)
	assert.Equal(t, int64(1), deleted)

	_, err = database.GetAppointment(ctx, done.ID)
	assert.ErrorIs(t, err, sql.ErrNoRows)
	_, err = database.GetAppointment(ctx, stale.ID)
	assert.NoError(t, err)
}

func TestActivityLog(t *testing.T) {
	database := openTestDB(t)
	ctx := context.Background()

	entries := []models.ActivityLogEntry{
		{AppointmentID: 1, Actor: "reception", Action: models.ActionBooked, After: "booked", CreatedAt: time.Now()},
		{AppointmentID: 1, Actor: "reception", Action: models.ActionConfirmed, Before: "booked", After: "confirmed", CreatedAt: time.Now()},
		{AppointmentID: 2, Actor: "system", Action: models.ActionCancelled, CreatedAt: time.Now()},
	}
	for i := range entries {
		require.NoError(t, database.AppendActivityLog(ctx, &entries[i]))
	}

	history, err := database.GetActivityLog(ctx, 1)
	require.NoError(t, err)
	require.Len(t, history, 2)
	assert.Equal(t, models.ActionBooked, history[0].Action)
	assert.Equal(t, models.ActionConfirmed, history[1].Action)
	assert.Equal(t, "booked", history[1].Before)
}

func TestAuditTableExport(t *testing.T) {
	database := openTestDB(t)
	ctx := context.Background()
	seedCatalog(t, database)

	names, err := database.GetTableNames(ctx)
	require.NoError(t, err)
	assert.Contains(t, names, "appointments")
	assert.Contains(t, names, "activity_log")

	rows, columns, err := database.GetTableData(ctx, "clients")
	require.NoError(t, err)
	assert.Contains(t, columns, "name")
	require.Len(t, rows, 1)

	_, _, err = database.GetTableData(ctx, "sqlite_master")
	assert.Error(t, err)
}

func TestListAppointmentsForClient(t *testing.T) {
	database := openTestDB(t)
	ctx := context.Background()
	clientID, providerID, serviceID := seedCatalog(t, database)

	later := time.Date(2026, 3, 9, 0, 0, 0, 0, time.UTC)
	earlier := time.Date(2026, 3, 2, 0, 0, 0, 0, time.UTC)
	for _, a := range []*models.Appointment{
		{ClientID: clientID, ProviderID: providerID, ServiceID: serviceID, Date: earlier, StartMinute: 600, Duration: 30, Status: models.StatusCompleted},
		{ClientID: clientID, ProviderID: providerID, ServiceID: serviceID, Date: later, StartMinute: 540, Duration: 30, Status: models.StatusBooked},
	} {
		require.NoError(t, database.CreateAppointment(ctx, a))
	}

	appts, err := database.ListAppointmentsForClient(ctx, clientID)
	require.NoError(t, err)
	require.Len(t, appts, 2)
	assert.Equal(t, later, appts[0].Date)
	assert.Equal(t, earlier, appts[1].Date)

	appts, err = database.ListAppointmentsForClient(ctx, 999)
	require.NoError(t, err)
	assert.Empty(t, appts)
}

func TestSetProviderActive(t *testing.T) {
	database := openTestDB(t)
	ctx := context.Background()
	_, providerID, _ := seedCatalog(t, database)

	require.NoError(t, database.SetProviderActive(ctx, providerID, false))
	provider, err := database.GetProvider(ctx, providerID)
	require.NoError(t, err)
	assert.False(t, provider.IsActive)

	assert.ErrorIs(t, database.SetProviderActive(ctx, 999, true), sql.ErrNoRows)
}

func TestDeleteAvailabilityRule(t *testing.T) {
	database := openTestDB(t)
	ctx := context.Background()
	_, providerID, _ := seedCatalog(t, database)

	rule := &models.AvailabilityRule{ProviderID: providerID, DayOfWeek: time.Monday, StartMinute: 540, EndMinute: 1020, Recurring: true}
	require.NoError(t, database.CreateAvailabilityRule(ctx, rule))

	require.NoError(t, database.DeleteAvailabilityRule(ctx, rule.ID))
	rules, err := database.GetAvailabilityRules(ctx, providerID)
	require.NoError(t, err)
	assert.Empty(t, rules)

	assert.ErrorIs(t, database.DeleteAvailabilityRule(ctx, rule.ID), sql.ErrNoRows)
}
