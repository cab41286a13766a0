// Package export produces the monthly audit workbook and prunes data past
// the retention window.
package export

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// TableExporter provides access to database tables for export.
type TableExporter interface {
	GetTableNames(ctx context.Context) ([]string, error)
	GetTableData(ctx context.Context, tableName string) ([]map[string]interface{}, []string, error)
}

// DataCleaner removes records past the retention window.
type DataCleaner interface {
	// DeleteOldAppointments deletes terminal appointments dated before the
	// cutoff, returning the number removed.
	DeleteOldAppointments(ctx context.Context, before time.Time) (int64, error)
}

// Config holds the audit export settings.
type Config struct {
	// ExportPath is the directory workbooks are written to.
	ExportPath string

	// DataRetentionDays is how long closed appointments are kept. Default 365.
	DataRetentionDays int

	// BusinessName labels the workbook filename.
	BusinessName string

	// ExportOnStart runs an export immediately when the scheduler starts.
	ExportOnStart bool
}

// Service runs the monthly export and cleanup.
type Service struct {
	config   Config
	exporter TableExporter
	writer   func() ExcelWriter
	cleaner  DataCleaner
	logger   zerolog.Logger
	stopCh   chan struct{}
	wg       sync.WaitGroup
	mu       sync.Mutex
	running  bool
}

// NewService creates the audit exporter. cleaner may be nil to disable
// retention cleanup.
func NewService(config Config, exporter TableExporter, writerFactory func() ExcelWriter, cleaner DataCleaner, logger *zerolog.Logger) *Service {
	if config.DataRetentionDays <= 0 {
		config.DataRetentionDays = 365
	}
	if config.ExportPath == "" {
		config.ExportPath = "exports"
	}
	if config.BusinessName == "" {
		config.BusinessName = "openslots"
	}

	return &Service{
		config:   config,
		exporter: exporter,
		writer:   writerFactory,
		cleaner:  cleaner,
		logger:   logger.With().Str("component", "export").Logger(),
		stopCh:   make(chan struct{}),
	}
}

// Start begins the monthly scheduler.
func (s *Service) Start() {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return
	}
	s.running = true
	s.mu.Unlock()

	if s.config.ExportOnStart {
		go s.RunExportAndCleanup()
	}

	s.wg.Add(1)
	go s.loop()

	s.logger.Info().Int("retention_days", s.config.DataRetentionDays).Msg("audit export started")
}

// Stop shuts the scheduler down and waits for a running export.
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
	s.logger.Info().Msg("audit export stopped")
}

func (s *Service) loop() {
	defer s.wg.Done()

	nextRun := nextFirstOfMonth(time.Now())
	timer := time.NewTimer(time.Until(nextRun))
	defer timer.Stop()

	s.logger.Info().Time("next_run", nextRun).Msg("audit export scheduled")

	for {
		select {
		case <-s.stopCh:
			return
		case <-timer.C:
			s.RunExportAndCleanup()
			nextRun = nextFirstOfMonth(time.Now())
			timer.Reset(time.Until(nextRun))
			s.logger.Info().Time("next_run", nextRun).Msg("audit export scheduled")
		}
	}
}

func nextFirstOfMonth(now time.Time) time.Time {
	return time.Date(now.Year(), now.Month()+1, 1, 0, 1, 0, 0, now.Location())
}

// Filename returns the workbook name for the month containing t,
// e.g. "openslots_2026-02.xlsx".
func (s *Service) Filename(t time.Time) string {
	return fmt.Sprintf("%s_%s.xlsx", s.config.BusinessName, t.Format("2006-01"))
}

// RunExportAndCleanup performs one export followed by retention cleanup.
func (s *Service) RunExportAndCleanup() {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Minute)
	defer cancel()

	if err := s.exportData(ctx); err != nil {
		s.logger.Error().Err(err).Msg("audit export failed")
	}
	if err := s.cleanupOldData(ctx); err != nil {
		s.logger.Error().Err(err).Msg("retention cleanup failed")
	}
}

func (s *Service) exportData(ctx context.Context) error {
	if s.exporter == nil || s.writer == nil {
		return fmt.Errorf("exporter or writer not configured")
	}

	tables, err := s.exporter.GetTableNames(ctx)
	if err != nil {
		return fmt.Errorf("get table names: %w", err)
	}
	if len(tables) == 0 {
		s.logger.Info().Msg("no tables to export")
		return nil
	}

	excel := s.writer()
	defer excel.Close()
	for _, tableName := range tables {
		data, columns, err := s.exporter.GetTableData(ctx, tableName)
		if err != nil {
			s.logger.Error().Err(err).Str("table", tableName).Msg("get table data")
			continue
		}
		if err := excel.AddSheet(tableName); err != nil {
			s.logger.Error().Err(err).Str("table", tableName).Msg("add sheet")
			continue
		}
		if err := excel.WriteHeader(columns); err != nil {
			s.logger.Error().Err(err).Str("table", tableName).Msg("write header")
			continue
		}
		for _, row := range data {
			rowData := make([]interface{}, len(columns))
			for i, col := range columns {
				rowData[i] = row[col]
			}
			if err := excel.WriteRow(rowData); err != nil {
				s.logger.Error().Err(err).Str("table", tableName).Msg("write row")
			}
		}
		s.logger.Debug().Str("table", tableName).Int("rows", len(data)).Msg("exported table")
	}

	if err := os.MkdirAll(s.config.ExportPath, 0o755); err != nil {
		return fmt.Errorf("create export directory: %w", err)
	}
	// The workbook covers the month just ended.
	path := filepath.Join(s.config.ExportPath, s.Filename(time.Now().AddDate(0, -1, 0)))
	if err := excel.SaveToFile(path); err != nil {
		return fmt.Errorf("save workbook: %w", err)
	}

	s.logger.Info().Str("path", path).Msg("audit workbook written")
	return nil
}

func (s *Service) cleanupOldData(ctx context.Context) error {
	if s.cleaner == nil {
		return nil
	}

	cutoff := time.Now().AddDate(0, 0, -s.config.DataRetentionDays)
	deleted, err := s.cleaner.DeleteOldAppointments(ctx, cutoff)
	if err != nil {
		return fmt.Errorf("delete old appointments: %w", err)
	}

	s.logger.Info().Int64("deleted", deleted).Int("retention_days", s.config.DataRetentionDays).Msg("old appointments removed")
	return nil
}

// ExportNow triggers an immediate export.
func (s *Service) ExportNow() error {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Minute)
	defer cancel()
	return s.exportData(ctx)
}

// CleanupNow triggers an immediate cleanup.
func (s *Service) CleanupNow() error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Minute)
	defer cancel()
	return s.cleanupOldData(ctx)
}
