// Package api exposes the booking system over HTTP JSON.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"github.com/jjgao/openslots/internal/models"
	"github.com/jjgao/openslots/internal/scheduling"
)

// HistoryStore provides appointment history lookups.
type HistoryStore interface {
	GetActivityLog(ctx context.Context, appointmentID int64) ([]models.ActivityLogEntry, error)
}

// Server serves the booking API.
type Server struct {
	scheduler *scheduling.Service
	history   HistoryStore
	logger    zerolog.Logger
	server    *http.Server
	apiKey    string

	cache    *redis.Client
	cacheTTL time.Duration

	mu       sync.Mutex
	limiters map[string]*rate.Limiter
}

// NewServer builds the HTTP server. apiKey may be empty to disable
// authentication.
func NewServer(port int, scheduler *scheduling.Service, history HistoryStore, apiKey string, logger *zerolog.Logger) *Server {
	s := &Server{
		scheduler: scheduler,
		history:   history,
		apiKey:    apiKey,
		logger:    logger.With().Str("component", "api").Logger(),
		limiters:  make(map[string]*rate.Limiter),
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/api/v1/availability", s.handleAvailability)
	mux.HandleFunc("/api/v1/slots", s.handleSlots)
	mux.HandleFunc("/api/v1/appointments", s.handleAppointments)
	mux.HandleFunc("/api/v1/appointments/", s.handleAppointmentByID)

	s.server = &http.Server{
		Addr:         fmt.Sprintf(":%d", port),
		Handler:      s.middleware(mux),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 30 * time.Second,
	}
	return s
}

// UseRedisCache enables response caching for the availability endpoints.
func (s *Server) UseRedisCache(client *redis.Client, ttl time.Duration) {
	s.cache = client
	s.cacheTTL = ttl
}

// Start serves until the listener fails or Shutdown is called.
func (s *Server) Start() error {
	s.logger.Info().Str("addr", s.server.Addr).Msg("api server listening")
	if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown drains in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.server.Shutdown(ctx)
}

// Handler returns the configured handler, for tests.
func (s *Server) Handler() http.Handler {
	return s.server.Handler
}

// middleware applies request IDs, auth, rate limiting and request logging.
func (s *Server) middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestID := uuid.NewString()
		w.Header().Set("X-Request-ID", requestID)

		if s.apiKey != "" && r.Header.Get("x-api-key") != s.apiKey {
			writeError(w, http.StatusUnauthorized, "invalid or missing API key")
			return
		}

		if !s.allow(clientIP(r)) {
			writeError(w, http.StatusTooManyRequests, "rate limit exceeded")
			return
		}

		start := time.Now()
		next.ServeHTTP(w, r)
		s.logger.Debug().
			Str("request_id", requestID).
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Dur("elapsed", time.Since(start)).
			Msg("request handled")
	})
}

// allow checks the per-IP limiter: 60 requests per minute, burst of 20.
func (s *Server) allow(ip string) bool {
	s.mu.Lock()
	limiter, ok := s.limiters[ip]
	if !ok {
		limiter = rate.NewLimiter(rate.Every(time.Second), 20)
		s.limiters[ip] = limiter
	}
	s.mu.Unlock()
	return limiter.Allow()
}

func clientIP(r *http.Request) string {
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		return fwd
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

func (s *Server) readCache(ctx context.Context, key string, out any) bool {
	if s.cache == nil || s.cacheTTL <= 0 {
		return false
	}
	val, err := s.cache.Get(ctx, key).Result()
	if err != nil {
		return false
	}
	return json.Unmarshal([]byte(val), out) == nil
}

func (s *Server) writeCache(ctx context.Context, key string, val any) {
	if s.cache == nil || s.cacheTTL <= 0 {
		return
	}
	data, err := json.Marshal(val)
	if err != nil {
		return
	}
	_ = s.cache.Set(ctx, key, data, s.cacheTTL).Err()
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// writeServiceError maps the scheduling error kinds onto HTTP statuses.
func (s *Server) writeServiceError(w http.ResponseWriter, err error) {
	var (
		validation   *scheduling.ValidationError
		notFound     *scheduling.NotFoundError
		precondition *scheduling.PreconditionError
		conflict     *scheduling.ConflictError
		window       *scheduling.WindowViolation
	)
	switch {
	case errors.As(err, &validation):
		writeError(w, http.StatusBadRequest, validation.Error())
	case errors.As(err, &notFound):
		writeError(w, http.StatusNotFound, notFound.Error())
	case errors.As(err, &conflict):
		writeError(w, http.StatusConflict, conflict.Error())
	case errors.As(err, &precondition):
		writeError(w, http.StatusConflict, precondition.Error())
	case errors.As(err, &window):
		writeError(w, http.StatusUnprocessableEntity, window.Error())
	default:
		s.logger.Error().Err(err).Msg("internal error")
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}
