package db

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/jjgao/openslots/internal/models"
)

const appointmentColumns = `id, client_id, provider_id, service_id, date, start_minute, duration,
	status, notes, calendar_event_id, rescheduled_to, reminder_sent, version, created_at, updated_at`

// GetAppointment returns one appointment or sql.ErrNoRows.
func (db *DB) GetAppointment(ctx context.Context, id int64) (*models.Appointment, error) {
	row := db.QueryRowContext(ctx,
		`SELECT `+appointmentColumns+` FROM appointments WHERE id = ?`, id)
	return scanAppointment(row)
}

// CreateAppointment inserts the appointment and fills in its assigned ID.
func (db *DB) CreateAppointment(ctx context.Context, a *models.Appointment) error {
	result, err := db.ExecContext(ctx, `
		INSERT INTO appointments (
			client_id, provider_id, service_id, date, start_minute, duration,
			status, notes, calendar_event_id, rescheduled_to, reminder_sent, version, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		a.ClientID, a.ProviderID, a.ServiceID, fmtDate(a.Date), a.StartMinute, a.Duration,
		string(a.Status), a.Notes, a.CalendarEventID, a.RescheduledTo, a.ReminderSent, a.Version, a.CreatedAt, a.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert appointment: %w", err)
	}
	a.ID, err = result.LastInsertId()
	if err != nil {
		return fmt.Errorf("get last id: %w", err)
	}
	return nil
}

// UpdateAppointmentStatusVersioned changes the status only if the stored
// version still matches, bumping the version on success.
func (db *DB) UpdateAppointmentStatusVersioned(ctx context.Context, id, version int64, status models.Status) error {
	result, err := db.ExecContext(ctx, `
		UPDATE appointments
		SET status = ?, version = version + 1, updated_at = ?
		WHERE id = ? AND version = ?`,
		string(status), time.Now(), id, version,
	)
	if err != nil {
		return fmt.Errorf("update appointment status: %w", err)
	}
	return db.checkVersioned(ctx, result, id)
}

// RescheduleAppointment inserts the replacement and closes the old
// appointment in one transaction, so a version conflict on the close leaves
// no replacement row behind. Fills in the replacement's assigned ID on
// success.
func (db *DB) RescheduleAppointment(ctx context.Context, id, version int64, replacement *models.Appointment) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin reschedule: %w", err)
	}
	defer tx.Rollback()

	result, err := tx.ExecContext(ctx, `
		INSERT INTO appointments (
			client_id, provider_id, service_id, date, start_minute, duration,
			status, notes, calendar_event_id, rescheduled_to, reminder_sent, version, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		replacement.ClientID, replacement.ProviderID, replacement.ServiceID, fmtDate(replacement.Date),
		replacement.StartMinute, replacement.Duration, string(replacement.Status), replacement.Notes,
		replacement.CalendarEventID, replacement.RescheduledTo, replacement.ReminderSent,
		replacement.Version, replacement.CreatedAt, replacement.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert replacement appointment: %w", err)
	}
	replacementID, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("get last id: %w", err)
	}

	result, err = tx.ExecContext(ctx, `
		UPDATE appointments
		SET status = ?, rescheduled_to = ?, version = version + 1, updated_at = ?
		WHERE id = ? AND version = ?`,
		string(models.StatusRescheduled), replacementID, time.Now(), id, version,
	)
	if err != nil {
		return fmt.Errorf("mark appointment rescheduled: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		tx.Rollback()
		return db.checkVersioned(ctx, result, id)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit reschedule: %w", err)
	}
	replacement.ID = replacementID
	return nil
}

// SetAppointmentCalendarEvent stores (or clears) the external calendar
// event linked to the appointment.
func (db *DB) SetAppointmentCalendarEvent(ctx context.Context, id int64, eventID string) error {
	result, err := db.ExecContext(ctx,
		`UPDATE appointments SET calendar_event_id = ?, updated_at = ? WHERE id = ?`,
		eventID, time.Now(), id,
	)
	if err != nil {
		return fmt.Errorf("set calendar event: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return sql.ErrNoRows
	}
	return nil
}

// CountActiveAppointments counts the client's appointments still occupying
// a slot.
func (db *DB) CountActiveAppointments(ctx context.Context, clientID int64) (int, error) {
	query, args := activeStatusQuery(
		`SELECT COUNT(*) FROM appointments WHERE client_id = ? AND status IN (%s)`,
		clientID,
	)
	var count int
	if err := db.QueryRowContext(ctx, query, args...).Scan(&count); err != nil {
		return 0, fmt.Errorf("count active appointments: %w", err)
	}
	return count, nil
}

// GetAppointmentsForDay returns all of a provider's appointments on the date,
// regardless of status. The resolver decides which ones occupy time.
func (db *DB) GetAppointmentsForDay(ctx context.Context, providerID int64, date time.Time) ([]models.Appointment, error) {
	rows, err := db.QueryContext(ctx,
		`SELECT `+appointmentColumns+` FROM appointments WHERE provider_id = ? AND date = ? ORDER BY start_minute`,
		providerID, fmtDate(date),
	)
	if err != nil {
		return nil, fmt.Errorf("query appointments: %w", err)
	}
	defer rows.Close()

	var out []models.Appointment
	for rows.Next() {
		a, err := scanAppointment(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *a)
	}
	return out, rows.Err()
}

// ListAppointmentsForClient returns a client's appointments, newest date
// first.
func (db *DB) ListAppointmentsForClient(ctx context.Context, clientID int64) ([]models.Appointment, error) {
	rows, err := db.QueryContext(ctx,
		`SELECT `+appointmentColumns+` FROM appointments WHERE client_id = ? ORDER BY date DESC, start_minute`,
		clientID,
	)
	if err != nil {
		return nil, fmt.Errorf("query appointments: %w", err)
	}
	defer rows.Close()

	var out []models.Appointment
	for rows.Next() {
		a, err := scanAppointment(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *a)
	}
	return out, rows.Err()
}

// GetUpcomingAppointments returns active appointments starting within the
// given window that have not had a reminder sent yet.
func (db *DB) GetUpcomingAppointments(ctx context.Context, within time.Duration) ([]models.Appointment, error) {
	now := time.Now()
	until := now.Add(within)

	query, args := activeStatusQuery(
		`SELECT `+appointmentColumns+` FROM appointments
		WHERE reminder_sent = 0 AND date >= ? AND date <= ? AND status IN (%s)
		ORDER BY date, start_minute`,
		fmtDate(now), fmtDate(until),
	)
	rows, err := db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query upcoming appointments: %w", err)
	}
	defer rows.Close()

	var out []models.Appointment
	for rows.Next() {
		a, err := scanAppointment(rows)
		if err != nil {
			return nil, err
		}
		// The date filter is day-granular; trim to the exact window.
		start := a.StartAt()
		if start.Before(now) || start.After(until) {
			continue
		}
		out = append(out, *a)
	}
	return out, rows.Err()
}

// MarkReminderSent flags the appointment so it is not reminded twice.
func (db *DB) MarkReminderSent(ctx context.Context, id int64) error {
	result, err := db.ExecContext(ctx,
		`UPDATE appointments SET reminder_sent = 1, updated_at = ? WHERE id = ?`,
		time.Now(), id,
	)
	if err != nil {
		return fmt.Errorf("mark reminder sent: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return sql.ErrNoRows
	}
	return nil
}

// DeleteOldAppointments removes terminal appointments dated before the
// cutoff. Used by the retention cleanup.
func (db *DB) DeleteOldAppointments(ctx context.Context, before time.Time) (int64, error) {
	result, err := db.ExecContext(ctx, `
		DELETE FROM appointments
		WHERE date < ? AND status IN (?, ?, ?, ?)`,
		fmtDate(before),
		string(models.StatusCompleted), string(models.StatusNoShow),
		string(models.StatusCancelled), string(models.StatusRescheduled),
	)
	if err != nil {
		return 0, fmt.Errorf("delete old appointments: %w", err)
	}
	return result.RowsAffected()
}

// checkVersioned distinguishes a missing row from a version mismatch after a
// guarded update touched nothing.
func (db *DB) checkVersioned(ctx context.Context, result sql.Result, id int64) error {
	affected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if affected > 0 {
		return nil
	}

	var exists int
	err = db.QueryRowContext(ctx, `SELECT 1 FROM appointments WHERE id = ?`, id).Scan(&exists)
	if err == sql.ErrNoRows {
		return sql.ErrNoRows
	}
	if err != nil {
		return err
	}
	return ErrConcurrentModification
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanAppointment(row rowScanner) (*models.Appointment, error) {
	var (
		a       models.Appointment
		date    string
		status  string
		notes   sql.NullString
		eventID sql.NullString
	)
	err := row.Scan(
		&a.ID, &a.ClientID, &a.ProviderID, &a.ServiceID, &date, &a.StartMinute, &a.Duration,
		&status, &notes, &eventID, &a.RescheduledTo, &a.ReminderSent, &a.Version, &a.CreatedAt, &a.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	if a.Date, err = parseDate(date); err != nil {
		return nil, fmt.Errorf("parse appointment date %q: %w", date, err)
	}
	a.Status = models.Status(status)
	a.Notes = notes.String
	a.CalendarEventID = eventID.String
	return &a, nil
}

// activeStatusQuery expands the active status set into placeholders for a
// query with a single %s IN-list slot.
func activeStatusQuery(format string, leading ...interface{}) (string, []interface{}) {
	placeholders := make([]string, len(models.ActiveStatuses))
	args := append([]interface{}{}, leading...)
	for i, s := range models.ActiveStatuses {
		placeholders[i] = "?"
		args = append(args, string(s))
	}
	return fmt.Sprintf(format, strings.Join(placeholders, ", ")), args
}
