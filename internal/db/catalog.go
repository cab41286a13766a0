package db

import (
	"context"
	"database/sql"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/jjgao/openslots/internal/models"
)

// GetClient returns one client or sql.ErrNoRows.
func (db *DB) GetClient(ctx context.Context, id int64) (*models.Client, error) {
	var (
		c            models.Client
		phone, email sql.NullString
		first, last  sql.NullTime
	)
	err := db.QueryRowContext(ctx, `
		SELECT id, name, phone, email, first_visit, last_visit, no_show_count, created_at, updated_at
		FROM clients WHERE id = ?`, id,
	).Scan(&c.ID, &c.Name, &phone, &email, &first, &last, &c.NoShowCount, &c.CreatedAt, &c.UpdatedAt)
	if err != nil {
		return nil, err
	}
	c.Phone = phone.String
	c.Email = email.String
	if first.Valid {
		c.FirstVisit = &first.Time
	}
	if last.Valid {
		c.LastVisit = &last.Time
	}
	return &c, nil
}

// CreateClient inserts a client and fills in its assigned ID.
func (db *DB) CreateClient(ctx context.Context, c *models.Client) error {
	result, err := db.ExecContext(ctx,
		`INSERT INTO clients (name, phone, email) VALUES (?, ?, ?)`,
		c.Name, c.Phone, c.Email,
	)
	if err != nil {
		return fmt.Errorf("insert client: %w", err)
	}
	c.ID, err = result.LastInsertId()
	return err
}

// SetClientFirstVisit records the client's first appointment time. Only an
// unset value is written, so the earliest booking wins.
func (db *DB) SetClientFirstVisit(ctx context.Context, clientID int64, visit time.Time) error {
	_, err := db.ExecContext(ctx,
		`UPDATE clients SET first_visit = ?, updated_at = ? WHERE id = ? AND first_visit IS NULL`,
		visit, time.Now(), clientID,
	)
	if err != nil {
		return fmt.Errorf("set client first visit: %w", err)
	}
	return nil
}

// SetClientLastVisit records the client's most recent completed appointment.
func (db *DB) SetClientLastVisit(ctx context.Context, clientID int64, visit time.Time) error {
	_, err := db.ExecContext(ctx,
		`UPDATE clients SET last_visit = ?, updated_at = ? WHERE id = ?`,
		visit, time.Now(), clientID,
	)
	if err != nil {
		return fmt.Errorf("set client last visit: %w", err)
	}
	return nil
}

// IncrementClientNoShow bumps the client's no-show counter.
func (db *DB) IncrementClientNoShow(ctx context.Context, clientID int64) error {
	_, err := db.ExecContext(ctx,
		`UPDATE clients SET no_show_count = no_show_count + 1, updated_at = ? WHERE id = ?`,
		time.Now(), clientID,
	)
	if err != nil {
		return fmt.Errorf("increment no-show count: %w", err)
	}
	return nil
}

// GetProvider returns one provider with its offered services, or
// sql.ErrNoRows.
func (db *DB) GetProvider(ctx context.Context, id int64) (*models.Provider, error) {
	var p models.Provider
	err := db.QueryRowContext(ctx,
		`SELECT id, name, is_active, created_at, updated_at FROM providers WHERE id = ?`, id,
	).Scan(&p.ID, &p.Name, &p.IsActive, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		return nil, err
	}

	rows, err := db.QueryContext(ctx,
		`SELECT service_id FROM provider_services WHERE provider_id = ? ORDER BY service_id`, id)
	if err != nil {
		return nil, fmt.Errorf("query provider services: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var serviceID int64
		if err := rows.Scan(&serviceID); err != nil {
			return nil, err
		}
		p.ServiceIDs = append(p.ServiceIDs, serviceID)
	}
	return &p, rows.Err()
}

// CreateProvider inserts a provider and its service links.
func (db *DB) CreateProvider(ctx context.Context, p *models.Provider) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	result, err := tx.ExecContext(ctx,
		`INSERT INTO providers (name, is_active) VALUES (?, ?)`, p.Name, p.IsActive)
	if err != nil {
		return fmt.Errorf("insert provider: %w", err)
	}
	if p.ID, err = result.LastInsertId(); err != nil {
		return err
	}
	for _, serviceID := range p.ServiceIDs {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO provider_services (provider_id, service_id) VALUES (?, ?)`, p.ID, serviceID); err != nil {
			return fmt.Errorf("link provider service: %w", err)
		}
	}
	return tx.Commit()
}

// SetProviderActive toggles whether the provider accepts bookings.
func (db *DB) SetProviderActive(ctx context.Context, id int64, active bool) error {
	result, err := db.ExecContext(ctx,
		`UPDATE providers SET is_active = ?, updated_at = ? WHERE id = ?`, active, time.Now(), id)
	if err != nil {
		return fmt.Errorf("set provider active: %w", err)
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

// GetService returns one service or sql.ErrNoRows.
func (db *DB) GetService(ctx context.Context, id int64) (*models.Service, error) {
	var (
		s         models.Service
		durations string
	)
	err := db.QueryRowContext(ctx,
		`SELECT id, name, durations, created_at, updated_at FROM services WHERE id = ?`, id,
	).Scan(&s.ID, &s.Name, &durations, &s.CreatedAt, &s.UpdatedAt)
	if err != nil {
		return nil, err
	}
	if s.Durations, err = parseDurations(durations); err != nil {
		return nil, fmt.Errorf("service %d: %w", id, err)
	}
	return &s, nil
}

// CreateService inserts a service and fills in its assigned ID.
func (db *DB) CreateService(ctx context.Context, s *models.Service) error {
	result, err := db.ExecContext(ctx,
		`INSERT INTO services (name, durations) VALUES (?, ?)`,
		s.Name, formatDurations(s.Durations),
	)
	if err != nil {
		return fmt.Errorf("insert service: %w", err)
	}
	s.ID, err = result.LastInsertId()
	return err
}

// Durations are persisted as a comma-separated minute list, e.g. "30,60,90".
func formatDurations(durations []int) string {
	parts := make([]string, len(durations))
	for i, d := range durations {
		parts[i] = strconv.Itoa(d)
	}
	return strings.Join(parts, ",")
}

func parseDurations(s string) ([]int, error) {
	if s == "" {
		return nil, nil
	}
	parts := strings.Split(s, ",")
	out := make([]int, 0, len(parts))
	for _, p := range parts {
		d, err := strconv.Atoi(strings.TrimSpace(p))
		if err != nil {
			return nil, fmt.Errorf("parse durations %q: %w", s, err)
		}
		out = append(out, d)
	}
	return out, nil
}
