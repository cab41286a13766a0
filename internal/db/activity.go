package db

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/jjgao/openslots/internal/models"
)

// AppendActivityLog records one lifecycle action.
func (db *DB) AppendActivityLog(ctx context.Context, entry *models.ActivityLogEntry) error {
	result, err := db.ExecContext(ctx, `
		INSERT INTO activity_log (appointment_id, actor, action, before, after, note, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		entry.AppointmentID, entry.Actor, entry.Action, entry.Before, entry.After, entry.Note, entry.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert activity entry: %w", err)
	}
	entry.ID, err = result.LastInsertId()
	return err
}

// GetActivityLog returns an appointment's history, oldest first.
func (db *DB) GetActivityLog(ctx context.Context, appointmentID int64) ([]models.ActivityLogEntry, error) {
	rows, err := db.QueryContext(ctx, `
		SELECT id, appointment_id, actor, action, before, after, note, created_at
		FROM activity_log WHERE appointment_id = ? ORDER BY id`,
		appointmentID,
	)
	if err != nil {
		return nil, fmt.Errorf("query activity log: %w", err)
	}
	defer rows.Close()

	var out []models.ActivityLogEntry
	for rows.Next() {
		var (
			e                   models.ActivityLogEntry
			before, after, note sql.NullString
		)
		if err := rows.Scan(&e.ID, &e.AppointmentID, &e.Actor, &e.Action, &before, &after, &note, &e.CreatedAt); err != nil {
			return nil, err
		}
		e.Before = before.String
		e.After = after.String
		e.Note = note.String
		out = append(out, e)
	}
	return out, rows.Err()
}

// AuditTableNames are the tables included in audit exports.
var AuditTableNames = []string{
	"clients",
	"providers",
	"services",
	"availability_rules",
	"provider_exceptions",
	"business_exceptions",
	"business_holidays",
	"appointments",
	"activity_log",
}

// GetTableNames returns the tables to export.
func (db *DB) GetTableNames(ctx context.Context) ([]string, error) {
	return AuditTableNames, nil
}

// GetTableData returns all rows from a table as maps.
func (db *DB) GetTableData(ctx context.Context, tableName string) (result []map[string]interface{}, columns []string, err error) {
	// Only whitelisted names reach the query string.
	validTable := false
	for _, t := range AuditTableNames {
		if t == tableName {
			validTable = true
			break
		}
	}
	if !validTable {
		return nil, nil, fmt.Errorf("invalid table name: %s", tableName)
	}

	rows, err := db.QueryContext(ctx, fmt.Sprintf("PRAGMA table_info(%s)", tableName))
	if err != nil {
		return nil, nil, err
	}
	for rows.Next() {
		var cid int
		var name, typeName string
		var notNull, pk int
		var dfltValue sql.NullString
		if errScan := rows.Scan(&cid, &name, &typeName, &notNull, &dfltValue, &pk); errScan != nil {
			rows.Close()
			return nil, nil, errScan
		}
		columns = append(columns, name)
	}
	rows.Close()

	if len(columns) == 0 {
		return nil, nil, fmt.Errorf("table %s has no columns", tableName)
	}

	dataRows, err := db.QueryContext(ctx, fmt.Sprintf("SELECT * FROM %s", tableName))
	if err != nil {
		return nil, nil, err
	}
	defer dataRows.Close()

	for dataRows.Next() {
		values := make([]interface{}, len(columns))
		valuePtrs := make([]interface{}, len(columns))
		for i := range values {
			valuePtrs[i] = &values[i]
		}
		if errScan := dataRows.Scan(valuePtrs...); errScan != nil {
			return nil, nil, errScan
		}
		row := make(map[string]interface{})
		for i, col := range columns {
			row[col] = values[i]
		}
		result = append(result, row)
	}
	return result, columns, dataRows.Err()
}
