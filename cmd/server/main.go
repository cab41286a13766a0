package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/jjgao/openslots/internal/api"
	"github.com/jjgao/openslots/internal/availability"
	"github.com/jjgao/openslots/internal/calendar"
	"github.com/jjgao/openslots/internal/config"
	"github.com/jjgao/openslots/internal/db"
	"github.com/jjgao/openslots/internal/events"
	"github.com/jjgao/openslots/internal/export"
	"github.com/jjgao/openslots/internal/metrics"
	"github.com/jjgao/openslots/internal/models"
	"github.com/jjgao/openslots/internal/reminders"
	"github.com/jjgao/openslots/internal/scheduling"
)

// busNotifier publishes reminders as events for downstream consumers.
type busNotifier struct {
	bus *events.Bus
}

func (n *busNotifier) SendReminder(_ context.Context, a *models.Appointment) error {
	n.bus.Publish("appointment.reminder", a)
	return nil
}

func main() {
	output := zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.RFC3339}
	logger := zerolog.New(output).With().Timestamp().Logger()

	if err := godotenv.Load(); err != nil {
		logger.Debug().Msg("no .env file found, using environment variables")
	}

	cfg, err := config.Load(os.Getenv("OPENSLOTS_CONFIG_PATH"))
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to load config")
	}

	database, err := db.NewDB(cfg.Database.Path, &logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("open db error")
	}
	defer database.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var rdb *redis.Client
	if cfg.Redis.Address != "" {
		rdb = redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Address,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
	}

	var calendarSync scheduling.CalendarSync
	if cfg.Calendar.Enabled {
		cal, err := calendar.NewService(ctx, cfg.Calendar.CredentialsFile, cfg.Calendar.CalendarID, &logger)
		if err != nil {
			logger.Error().Err(err).Msg("calendar disabled: client init failed")
		} else {
			calendarSync = cal
		}
	}

	bus := events.NewBus()
	bus.Subscribe("", func(e events.Event) {
		logger.Debug().Str("event", e.Type).Msg("lifecycle event")
	})

	resolver := availability.NewResolver(database, cfg.Scheduling.SlotStep(), logger)
	scheduler := scheduling.NewService(database, resolver, calendarSync, bus, cfg.Scheduling, scheduling.Limits{
		MinAdvance:         cfg.BookingMinAdvance(),
		MaxAdvance:         cfg.BookingMaxAdvance(),
		MaxActivePerClient: cfg.Booking.MaxActivePerClient,
	}, &logger)

	if cfg.Monitoring.HealthCheckPort == 0 {
		cfg.Monitoring.HealthCheckPort = 8090
	}
	go startHealthServer(ctx, cfg.Monitoring.HealthCheckPort, database, rdb, &logger)

	if cfg.Monitoring.PrometheusEnabled {
		if cfg.Monitoring.PrometheusPort == 0 {
			cfg.Monitoring.PrometheusPort = 9090
		}
		metrics.Register()
		go startMetricsServer(ctx, cfg.Monitoring.PrometheusPort, &logger)
	}

	if cfg.Backup.Enabled {
		backup := db.NewBackupService(cfg.Database.Path, cfg.Backup.Path, cfg.Backup.IntervalHours, cfg.Backup.RetentionDays, &logger)
		go backup.Start(ctx)
	}

	if cfg.Audit.Enabled {
		exporter := export.NewService(export.Config{
			ExportPath:        cfg.Audit.ExportPath,
			DataRetentionDays: cfg.Audit.DataRetentionDays,
			BusinessName:      cfg.Audit.BusinessName,
		}, database, export.NewExcelizeWriter, database, &logger)
		exporter.Start()
		defer exporter.Stop()
	}

	reminder := reminders.NewService(reminders.Config{
		HoursBefore: cfg.Scheduling.ReminderHoursBefore,
	}, database, &busNotifier{bus: bus}, &logger)
	reminder.Start(ctx)
	defer reminder.Stop()

	if cfg.Server.Port == 0 {
		cfg.Server.Port = 8080
	}
	server := api.NewServer(cfg.Server.Port, scheduler, database, os.Getenv("OPENSLOTS_API_KEY"), &logger)
	if rdb != nil && cfg.Redis.CacheTTL > 0 {
		server.UseRedisCache(rdb, time.Duration(cfg.Redis.CacheTTL)*time.Second)
	}

	go func() {
		<-ctx.Done()
		ctxShutdown, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = server.Shutdown(ctxShutdown)
	}()

	logger.Info().Msg("openslots started")
	if err := server.Start(); err != nil {
		logger.Fatal().Err(err).Msg("api server error")
	}
}

func startHealthServer(ctx context.Context, port int, database *db.DB, rdb *redis.Client, logger *zerolog.Logger) {
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	mux.HandleFunc("/readyz", func(w http.ResponseWriter, _ *http.Request) {
		ctxPing, cancel := context.WithTimeout(ctx, time.Second)
		defer cancel()
		if err := database.PingContext(ctxPing); err != nil {
			http.Error(w, "db not ready", http.StatusServiceUnavailable)
			return
		}
		if rdb != nil {
			if err := rdb.Ping(ctxPing).Err(); err != nil {
				http.Error(w, "redis not ready", http.StatusServiceUnavailable)
				return
			}
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ready"))
	})

	srv := &http.Server{Addr: fmt.Sprintf(":%d", port), Handler: mux}
	go func() {
		<-ctx.Done()
		ctxShutdown, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()
		_ = srv.Shutdown(ctxShutdown)
	}()
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.Error().Err(err).Msg("health server error")
	}
}

func startMetricsServer(ctx context.Context, port int, logger *zerolog.Logger) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())

	srv := &http.Server{Addr: fmt.Sprintf(":%d", port), Handler: mux}
	go func() {
		<-ctx.Done()
		ctxShutdown, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()
		_ = srv.Shutdown(ctxShutdown)
	}()
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.Error().Err(err).Msg("metrics server error")
	}
}
