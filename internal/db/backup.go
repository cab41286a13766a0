package db

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/rs/zerolog"
)

// BackupService copies the sqlite file to a backup directory on an interval
// and prunes old copies.
type BackupService struct {
	dbPath    string
	storage   string
	interval  time.Duration
	retention int
	logger    zerolog.Logger
}

func NewBackupService(dbPath, storagePath string, intervalHours, retentionDays int, logger *zerolog.Logger) *BackupService {
	if intervalHours <= 0 {
		intervalHours = 24
	}
	return &BackupService{
		dbPath:    dbPath,
		storage:   storagePath,
		interval:  time.Duration(intervalHours) * time.Hour,
		retention: retentionDays,
		logger:    logger.With().Str("component", "backup").Logger(),
	}
}

// Start runs the backup loop until the context is cancelled. The first backup
// runs immediately.
func (s *BackupService) Start(ctx context.Context) {
	s.logger.Info().Dur("interval", s.interval).Msg("backup service started")

	if err := s.PerformBackup(); err != nil {
		s.logger.Error().Err(err).Msg("initial backup failed")
	}

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := s.PerformBackup(); err != nil {
				s.logger.Error().Err(err).Msg("scheduled backup failed")
			}
			s.CleanupOldBackups()
		}
	}
}

// PerformBackup copies the database file into the storage directory with a
// timestamped name.
func (s *BackupService) PerformBackup() error {
	if err := os.MkdirAll(s.storage, 0o755); err != nil {
		return fmt.Errorf("create backup directory: %w", err)
	}

	backupPath := filepath.Join(s.storage, fmt.Sprintf("backup_%s.db", time.Now().Format("20060102_150405")))
	s.logger.Info().Str("path", backupPath).Msg("performing database backup")

	source, err := os.Open(s.dbPath)
	if err != nil {
		return err
	}
	defer source.Close()

	destination, err := os.Create(backupPath)
	if err != nil {
		return err
	}
	defer destination.Close()

	if _, err = io.Copy(destination, source); err != nil {
		return err
	}

	s.logger.Info().Msg("backup completed")
	return nil
}

// CleanupOldBackups deletes backups older than the retention window.
func (s *BackupService) CleanupOldBackups() {
	if s.retention <= 0 {
		return
	}

	files, err := os.ReadDir(s.storage)
	if err != nil {
		s.logger.Error().Err(err).Msg("read backup directory for cleanup")
		return
	}

	cutoff := time.Now().AddDate(0, 0, -s.retention)
	for _, file := range files {
		if file.IsDir() {
			continue
		}
		info, err := file.Info()
		if err != nil {
			continue
		}
		if info.ModTime().Before(cutoff) {
			s.logger.Info().Str("file", file.Name()).Msg("deleting old backup")
			os.Remove(filepath.Join(s.storage, file.Name()))
		}
	}
}
