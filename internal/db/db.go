// Package db is the sqlite persistence layer. It implements the store
// interfaces consumed by the availability resolver and the scheduling
// service.
package db

import (
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "github.com/mattn/go-sqlite3" // sqlite3 driver
	"github.com/rs/zerolog"
)

// ErrConcurrentModification is returned when a versioned update hits a row
// whose version has moved on.
var ErrConcurrentModification = errors.New("concurrent modification")

// DB wraps the sqlite connection.
type DB struct {
	*sql.DB
	logger zerolog.Logger
}

// NewDB opens the database at path and runs migrations.
func NewDB(path string, logger *zerolog.Logger) (*DB, error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create database directory: %w", err)
	}

	dsn := path + "?_journal_mode=WAL&_synchronous=NORMAL&_busy_timeout=5000"
	conn, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	conn.SetMaxOpenConns(10)
	conn.SetMaxIdleConns(5)
	conn.SetConnMaxLifetime(time.Hour)

	if err := conn.Ping(); err != nil {
		return nil, fmt.Errorf("connect to database: %w", err)
	}
	if _, err := conn.Exec("PRAGMA foreign_keys = ON"); err != nil {
		return nil, fmt.Errorf("enable foreign keys: %w", err)
	}

	instance := &DB{DB: conn, logger: logger.With().Str("component", "db").Logger()}
	if err := instance.createTables(); err != nil {
		return nil, err
	}

	instance.logger.Info().Str("path", path).Msg("database initialized")
	return instance, nil
}

func (db *DB) createTables() error {
	queries := []string{
		`CREATE TABLE IF NOT EXISTS clients (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			name TEXT NOT NULL,
			phone TEXT,
			email TEXT,
			first_visit DATETIME,
			last_visit DATETIME,
			no_show_count INTEGER NOT NULL DEFAULT 0,
			created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
			updated_at DATETIME DEFAULT CURRENT_TIMESTAMP
		)`,

		`CREATE TABLE IF NOT EXISTS providers (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			name TEXT NOT NULL,
			is_active BOOLEAN NOT NULL DEFAULT 1,
			created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
			updated_at DATETIME DEFAULT CURRENT_TIMESTAMP
		)`,

		`CREATE TABLE IF NOT EXISTS services (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			name TEXT NOT NULL,
			durations TEXT NOT NULL,
			created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
			updated_at DATETIME DEFAULT CURRENT_TIMESTAMP
		)`,

		`CREATE TABLE IF NOT EXISTS provider_services (
			provider_id INTEGER NOT NULL,
			service_id INTEGER NOT NULL,
			PRIMARY KEY (provider_id, service_id),
			FOREIGN KEY (provider_id) REFERENCES providers(id),
			FOREIGN KEY (service_id) REFERENCES services(id)
		)`,

		// Times are stored as minutes since midnight; dates as YYYY-MM-DD.
		`CREATE TABLE IF NOT EXISTS availability_rules (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			provider_id INTEGER NOT NULL,
			day_of_week INTEGER NOT NULL,
			start_minute INTEGER NOT NULL,
			end_minute INTEGER NOT NULL,
			recurring BOOLEAN NOT NULL DEFAULT 1,
			effective_from TEXT,
			effective_to TEXT,
			created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
			FOREIGN KEY (provider_id) REFERENCES providers(id)
		)`,

		`CREATE TABLE IF NOT EXISTS provider_exceptions (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			provider_id INTEGER NOT NULL,
			date TEXT NOT NULL,
			start_minute INTEGER,
			end_minute INTEGER,
			reason TEXT,
			created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
			FOREIGN KEY (provider_id) REFERENCES providers(id)
		)`,

		`CREATE TABLE IF NOT EXISTS business_exceptions (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			date TEXT NOT NULL,
			start_minute INTEGER,
			end_minute INTEGER,
			reason TEXT,
			created_at DATETIME DEFAULT CURRENT_TIMESTAMP
		)`,

		`CREATE TABLE IF NOT EXISTS business_holidays (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			date TEXT NOT NULL,
			recurring BOOLEAN NOT NULL DEFAULT 0,
			name TEXT,
			created_at DATETIME DEFAULT CURRENT_TIMESTAMP
		)`,

		`CREATE TABLE IF NOT EXISTS appointments (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			client_id INTEGER NOT NULL,
			provider_id INTEGER NOT NULL,
			service_id INTEGER NOT NULL,
			date TEXT NOT NULL,
			start_minute INTEGER NOT NULL,
			duration INTEGER NOT NULL,
			status TEXT NOT NULL DEFAULT 'booked',
			notes TEXT,
			calendar_event_id TEXT NOT NULL DEFAULT '',
			rescheduled_to INTEGER NOT NULL DEFAULT 0,
			reminder_sent BOOLEAN NOT NULL DEFAULT 0,
			version INTEGER NOT NULL DEFAULT 1,
			created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
			updated_at DATETIME DEFAULT CURRENT_TIMESTAMP,
			FOREIGN KEY (client_id) REFERENCES clients(id),
			FOREIGN KEY (provider_id) REFERENCES providers(id),
			FOREIGN KEY (service_id) REFERENCES services(id)
		)`,

		`CREATE TABLE IF NOT EXISTS activity_log (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			appointment_id INTEGER NOT NULL,
			actor TEXT NOT NULL,
			action TEXT NOT NULL,
			before TEXT,
			after TEXT,
			note TEXT,
			created_at DATETIME DEFAULT CURRENT_TIMESTAMP
		)`,

		`CREATE INDEX IF NOT EXISTS idx_rules_provider_day ON availability_rules(provider_id, day_of_week)`,
		`CREATE INDEX IF NOT EXISTS idx_provider_exceptions_date ON provider_exceptions(provider_id, date)`,
		`CREATE INDEX IF NOT EXISTS idx_business_exceptions_date ON business_exceptions(date)`,
		`CREATE INDEX IF NOT EXISTS idx_appointments_provider_date ON appointments(provider_id, date)`,
		`CREATE INDEX IF NOT EXISTS idx_appointments_client_status ON appointments(client_id, status)`,
		`CREATE INDEX IF NOT EXISTS idx_activity_appointment ON activity_log(appointment_id)`,
	}

	for _, q := range queries {
		if _, err := db.Exec(q); err != nil {
			return fmt.Errorf("exec migration %s: %w", trimSQL(q), err)
		}
	}
	return nil
}

func trimSQL(s string) string {
	s = strings.TrimSpace(s)
	if len(s) > 60 {
		return s[:60] + "..."
	}
	return s
}

func (db *DB) Close() error {
	return db.DB.Close()
}

const dateLayout = "2006-01-02"

func fmtDate(t time.Time) string {
	return t.Format(dateLayout)
}

func parseDate(s string) (time.Time, error) {
	return time.ParseInLocation(dateLayout, s, time.UTC)
}
