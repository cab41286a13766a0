package db

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/jjgao/openslots/internal/models"
)

// GetAvailabilityRules returns all of a provider's rules. Filtering by date
// happens in the resolver.
func (db *DB) GetAvailabilityRules(ctx context.Context, providerID int64) ([]models.AvailabilityRule, error) {
	rows, err := db.QueryContext(ctx, `
		SELECT id, provider_id, day_of_week, start_minute, end_minute, recurring, effective_from, effective_to, created_at
		FROM availability_rules WHERE provider_id = ? ORDER BY day_of_week, start_minute`,
		providerID,
	)
	if err != nil {
		return nil, fmt.Errorf("query availability rules: %w", err)
	}
	defer rows.Close()

	var out []models.AvailabilityRule
	for rows.Next() {
		var (
			r        models.AvailabilityRule
			day      int
			from, to sql.NullString
		)
		if err := rows.Scan(&r.ID, &r.ProviderID, &day, &r.StartMinute, &r.EndMinute, &r.Recurring, &from, &to, &r.CreatedAt); err != nil {
			return nil, err
		}
		r.DayOfWeek = time.Weekday(day)
		if r.EffectiveFrom, err = nullDate(from); err != nil {
			return nil, err
		}
		if r.EffectiveTo, err = nullDate(to); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// CreateAvailabilityRule inserts a rule and fills in its assigned ID.
func (db *DB) CreateAvailabilityRule(ctx context.Context, r *models.AvailabilityRule) error {
	result, err := db.ExecContext(ctx, `
		INSERT INTO availability_rules (provider_id, day_of_week, start_minute, end_minute, recurring, effective_from, effective_to)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		r.ProviderID, int(r.DayOfWeek), r.StartMinute, r.EndMinute, r.Recurring,
		dateOrNil(r.EffectiveFrom), dateOrNil(r.EffectiveTo),
	)
	if err != nil {
		return fmt.Errorf("insert availability rule: %w", err)
	}
	r.ID, err = result.LastInsertId()
	return err
}

// DeleteAvailabilityRule removes a rule.
func (db *DB) DeleteAvailabilityRule(ctx context.Context, id int64) error {
	result, err := db.ExecContext(ctx, `DELETE FROM availability_rules WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete availability rule: %w", err)
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

// GetProviderExceptions returns a provider's exceptions for one date.
func (db *DB) GetProviderExceptions(ctx context.Context, providerID int64, date time.Time) ([]models.ProviderException, error) {
	rows, err := db.QueryContext(ctx, `
		SELECT id, provider_id, date, start_minute, end_minute, reason, created_at
		FROM provider_exceptions WHERE provider_id = ? AND date = ?`,
		providerID, fmtDate(date),
	)
	if err != nil {
		return nil, fmt.Errorf("query provider exceptions: %w", err)
	}
	defer rows.Close()

	var out []models.ProviderException
	for rows.Next() {
		var (
			e          models.ProviderException
			day        string
			start, end sql.NullInt64
			reason     sql.NullString
		)
		if err := rows.Scan(&e.ID, &e.ProviderID, &day, &start, &end, &reason, &e.CreatedAt); err != nil {
			return nil, err
		}
		if e.Date, err = parseDate(day); err != nil {
			return nil, err
		}
		e.StartMinute = nullMinute(start)
		e.EndMinute = nullMinute(end)
		e.Reason = reason.String
		out = append(out, e)
	}
	return out, rows.Err()
}

// CreateProviderException inserts an exception. Nil bounds block the whole
// day.
func (db *DB) CreateProviderException(ctx context.Context, e *models.ProviderException) error {
	result, err := db.ExecContext(ctx, `
		INSERT INTO provider_exceptions (provider_id, date, start_minute, end_minute, reason)
		VALUES (?, ?, ?, ?, ?)`,
		e.ProviderID, fmtDate(e.Date), minuteOrNil(e.StartMinute), minuteOrNil(e.EndMinute), e.Reason,
	)
	if err != nil {
		return fmt.Errorf("insert provider exception: %w", err)
	}
	e.ID, err = result.LastInsertId()
	return err
}

// GetBusinessExceptions returns business-wide exceptions for one date.
func (db *DB) GetBusinessExceptions(ctx context.Context, date time.Time) ([]models.BusinessException, error) {
	rows, err := db.QueryContext(ctx, `
		SELECT id, date, start_minute, end_minute, reason, created_at
		FROM business_exceptions WHERE date = ?`,
		fmtDate(date),
	)
	if err != nil {
		return nil, fmt.Errorf("query business exceptions: %w", err)
	}
	defer rows.Close()

	var out []models.BusinessException
	for rows.Next() {
		var (
			e          models.BusinessException
			day        string
			start, end sql.NullInt64
			reason     sql.NullString
		)
		if err := rows.Scan(&e.ID, &day, &start, &end, &reason, &e.CreatedAt); err != nil {
			return nil, err
		}
		if e.Date, err = parseDate(day); err != nil {
			return nil, err
		}
		e.StartMinute = nullMinute(start)
		e.EndMinute = nullMinute(end)
		e.Reason = reason.String
		out = append(out, e)
	}
	return out, rows.Err()
}

// CreateBusinessException inserts a business-wide exception.
func (db *DB) CreateBusinessException(ctx context.Context, e *models.BusinessException) error {
	result, err := db.ExecContext(ctx, `
		INSERT INTO business_exceptions (date, start_minute, end_minute, reason)
		VALUES (?, ?, ?, ?)`,
		fmtDate(e.Date), minuteOrNil(e.StartMinute), minuteOrNil(e.EndMinute), e.Reason,
	)
	if err != nil {
		return fmt.Errorf("insert business exception: %w", err)
	}
	e.ID, err = result.LastInsertId()
	return err
}

// ListBusinessHolidays returns every holiday. The set is small; recurring
// matching happens in the resolver.
func (db *DB) ListBusinessHolidays(ctx context.Context) ([]models.BusinessHoliday, error) {
	rows, err := db.QueryContext(ctx,
		`SELECT id, date, recurring, name, created_at FROM business_holidays ORDER BY date`)
	if err != nil {
		return nil, fmt.Errorf("query business holidays: %w", err)
	}
	defer rows.Close()

	var out []models.BusinessHoliday
	for rows.Next() {
		var (
			h    models.BusinessHoliday
			day  string
			name sql.NullString
		)
		if err := rows.Scan(&h.ID, &day, &h.Recurring, &name, &h.CreatedAt); err != nil {
			return nil, err
		}
		if h.Date, err = parseDate(day); err != nil {
			return nil, err
		}
		h.Name = name.String
		out = append(out, h)
	}
	return out, rows.Err()
}

// CreateBusinessHoliday inserts a holiday.
func (db *DB) CreateBusinessHoliday(ctx context.Context, h *models.BusinessHoliday) error {
	result, err := db.ExecContext(ctx,
		`INSERT INTO business_holidays (date, recurring, name) VALUES (?, ?, ?)`,
		fmtDate(h.Date), h.Recurring, h.Name,
	)
	if err != nil {
		return fmt.Errorf("insert business holiday: %w", err)
	}
	h.ID, err = result.LastInsertId()
	return err
}

func nullDate(s sql.NullString) (*time.Time, error) {
	if !s.Valid || s.String == "" {
		return nil, nil
	}
	t, err := parseDate(s.String)
	if err != nil {
		return nil, fmt.Errorf("parse date %q: %w", s.String, err)
	}
	return &t, nil
}

func dateOrNil(t *time.Time) interface{} {
	if t == nil {
		return nil
	}
	return fmtDate(*t)
}

func nullMinute(n sql.NullInt64) *int {
	if !n.Valid {
		return nil
	}
	m := int(n.Int64)
	return &m
}

func minuteOrNil(m *int) interface{} {
	if m == nil {
		return nil
	}
	return *m
}
