package config

import (
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Server struct {
		Port int `yaml:"port"`
	} `yaml:"server"`

	Database struct {
		Path string `yaml:"path"`
	} `yaml:"database"`

	Redis struct {
		Address  string `yaml:"address"`
		Password string `yaml:"password"`
		DB       int    `yaml:"db"`
		CacheTTL int    `yaml:"cache_ttl_seconds"`
	} `yaml:"redis"`

	Calendar struct {
		Enabled         bool   `yaml:"enabled"`
		CredentialsFile string `yaml:"credentials_file"`
		CalendarID      string `yaml:"calendar_id"`
	} `yaml:"calendar"`

	Monitoring struct {
		HealthCheckPort   int  `yaml:"health_check_port"`
		PrometheusEnabled bool `yaml:"prometheus_enabled"`
		PrometheusPort    int  `yaml:"prometheus_port"`
	} `yaml:"monitoring"`

	Scheduling Scheduling `yaml:"scheduling"`

	Booking struct {
		MinAdvanceMinutes  int `yaml:"min_advance_minutes"`
		MaxAdvanceDays     int `yaml:"max_advance_days"`
		MaxActivePerClient int `yaml:"max_active_per_client"`
	} `yaml:"booking"`

	Audit struct {
		Enabled           bool   `yaml:"enabled"`
		ExportPath        string `yaml:"export_path"`
		DataRetentionDays int    `yaml:"data_retention_days"`
		BusinessName      string `yaml:"business_name"`
	} `yaml:"audit"`

	Backup struct {
		Enabled       bool   `yaml:"enabled"`
		IntervalHours int    `yaml:"interval_hours"`
		Path          string `yaml:"path"`
		RetentionDays int    `yaml:"retention_days"`
	} `yaml:"backup"`
}

// Scheduling holds the time-based lifecycle policy. Zero values fall back to
// the documented defaults via the accessor methods.
type Scheduling struct {
	CheckInBeforeMinutes int `yaml:"check_in_before_minutes"` // default 60
	CheckInAfterMinutes  int `yaml:"check_in_after_minutes"`  // default 30
	NoShowGraceMinutes   int `yaml:"no_show_grace_minutes"`   // default 30
	SlotStepMinutes      int `yaml:"slot_step_minutes"`       // default 15
	ReminderHoursBefore  int `yaml:"reminder_hours_before"`   // default 24
}

// CheckInBefore returns how early before the start check-in opens.
func (s Scheduling) CheckInBefore() time.Duration {
	if s.CheckInBeforeMinutes <= 0 {
		return 60 * time.Minute
	}
	return time.Duration(s.CheckInBeforeMinutes) * time.Minute
}

// CheckInAfter returns how long after the start check-in stays open.
func (s Scheduling) CheckInAfter() time.Duration {
	if s.CheckInAfterMinutes <= 0 {
		return 30 * time.Minute
	}
	return time.Duration(s.CheckInAfterMinutes) * time.Minute
}

// NoShowGrace returns the minimum elapsed time past the start before a
// no-show may be recorded.
func (s Scheduling) NoShowGrace() time.Duration {
	if s.NoShowGraceMinutes <= 0 {
		return 30 * time.Minute
	}
	return time.Duration(s.NoShowGraceMinutes) * time.Minute
}

// SlotStep returns the slot grid granularity in minutes.
func (s Scheduling) SlotStep() int {
	if s.SlotStepMinutes <= 0 {
		return 15
	}
	return s.SlotStepMinutes
}

func Load(path string) (*Config, error) {
	if path == "" {
		path = "configs/config.yaml"
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	// Support ${ENV_VAR} placeholders in YAML config.
	data = []byte(os.ExpandEnv(string(data)))

	var cfg Config
	if err = yaml.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}

	if cfg.Database.Path == "" {
		cfg.Database.Path = "data/openslots.db"
	}

	if err = os.MkdirAll(filepath.Dir(cfg.Database.Path), 0o755); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func (c *Config) BookingMinAdvance() time.Duration {
	if c.Booking.MinAdvanceMinutes <= 0 {
		return 0
	}
	return time.Duration(c.Booking.MinAdvanceMinutes) * time.Minute
}

func (c *Config) BookingMaxAdvance() time.Duration {
	if c.Booking.MaxAdvanceDays <= 0 {
		return 90 * 24 * time.Hour
	}
	return time.Duration(c.Booking.MaxAdvanceDays) * 24 * time.Hour
}
