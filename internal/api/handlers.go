package api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/jjgao/openslots/internal/interval"
	"github.com/jjgao/openslots/internal/metrics"
	"github.com/jjgao/openslots/internal/models"
	"github.com/jjgao/openslots/internal/scheduling"
)

const dateLayout = "2006-01-02"

// WindowResponse is one bookable window.
type WindowResponse struct {
	Start string `json:"start"` // HH:MM
	End   string `json:"end"`   // HH:MM
}

// AvailabilityResponse is the response for GET /api/v1/availability.
type AvailabilityResponse struct {
	ProviderID int64            `json:"provider_id"`
	Date       string           `json:"date"`
	Windows    []WindowResponse `json:"windows"`
}

// SlotResponse is one bookable start time.
type SlotResponse struct {
	Start string `json:"start"` // HH:MM
	End   string `json:"end"`   // HH:MM
}

// SlotsResponse is the response for GET /api/v1/slots.
type SlotsResponse struct {
	ProviderID int64          `json:"provider_id"`
	Date       string         `json:"date"`
	Duration   int            `json:"duration_minutes"`
	Slots      []SlotResponse `json:"slots"`
}

// BookAppointmentRequest is the request body for POST /api/v1/appointments.
type BookAppointmentRequest struct {
	ClientID   int64  `json:"client_id"`
	ProviderID int64  `json:"provider_id"`
	ServiceID  int64  `json:"service_id"`
	Date       string `json:"date"`       // YYYY-MM-DD
	StartTime  string `json:"start_time"` // HH:MM
	Duration   int    `json:"duration_minutes"`
	Notes      string `json:"notes,omitempty"`
	Actor      string `json:"actor,omitempty"`
}

// TransitionRequest is the request body for status transition endpoints.
type TransitionRequest struct {
	Reason string `json:"reason,omitempty"`
	Actor  string `json:"actor,omitempty"`
}

// RescheduleAppointmentRequest is the request body for POST
// /api/v1/appointments/{id}/reschedule.
type RescheduleAppointmentRequest struct {
	NewDate       string `json:"new_date,omitempty"`       // YYYY-MM-DD
	NewStartTime  string `json:"new_start_time,omitempty"` // HH:MM
	NewProviderID *int64 `json:"new_provider_id,omitempty"`
	Notes         string `json:"notes,omitempty"`
	Actor         string `json:"actor,omitempty"`
}

// AppointmentResponse mirrors one appointment.
type AppointmentResponse struct {
	ID              int64    `json:"id"`
	ClientID        int64    `json:"client_id"`
	ProviderID      int64    `json:"provider_id"`
	ServiceID       int64    `json:"service_id"`
	Date            string   `json:"date"`
	Start           string   `json:"start"`
	End             string   `json:"end"`
	Duration        int      `json:"duration_minutes"`
	Status          string   `json:"status"`
	Notes           string   `json:"notes,omitempty"`
	CalendarEventID string   `json:"calendar_event_id,omitempty"`
	RescheduledTo   int64    `json:"rescheduled_to,omitempty"`
	Warnings        []string `json:"warnings,omitempty"`
}

func appointmentResponse(a *models.Appointment, warnings []string) AppointmentResponse {
	return AppointmentResponse{
		ID:              a.ID,
		ClientID:        a.ClientID,
		ProviderID:      a.ProviderID,
		ServiceID:       a.ServiceID,
		Date:            a.Date.Format(dateLayout),
		Start:           interval.FormatClock(a.StartMinute),
		End:             interval.FormatClock(a.EndMinute()),
		Duration:        a.Duration,
		Status:          string(a.Status),
		Notes:           a.Notes,
		CalendarEventID: a.CalendarEventID,
		RescheduledTo:   a.RescheduledTo,
		Warnings:        warnings,
	}
}

// handleAvailability returns the final bookable windows.
// GET /api/v1/availability?provider_id=1&date=YYYY-MM-DD
func (s *Server) handleAvailability(w http.ResponseWriter, r *http.Request) {
	metrics.IncHTTP("availability")
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed; use GET")
		return
	}

	providerID, date, err := providerAndDate(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	cacheKey := fmt.Sprintf("availability:%d:%s", providerID, date.Format(dateLayout))
	var response AvailabilityResponse
	if s.readCache(r.Context(), cacheKey, &response) {
		writeJSON(w, http.StatusOK, response)
		return
	}

	windows, err := s.scheduler.GetAvailability(r.Context(), providerID, date)
	if err != nil {
		s.writeServiceError(w, err)
		return
	}

	response = AvailabilityResponse{
		ProviderID: providerID,
		Date:       date.Format(dateLayout),
		Windows:    make([]WindowResponse, 0, len(windows)),
	}
	for _, win := range windows {
		response.Windows = append(response.Windows, WindowResponse{
			Start: interval.FormatClock(win.Start),
			End:   interval.FormatClock(win.End),
		})
	}

	s.writeCache(r.Context(), cacheKey, response)
	writeJSON(w, http.StatusOK, response)
}

// handleSlots returns bookable start times for a duration.
// GET /api/v1/slots?provider_id=1&date=YYYY-MM-DD&duration=60
func (s *Server) handleSlots(w http.ResponseWriter, r *http.Request) {
	metrics.IncHTTP("slots")
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed; use GET")
		return
	}

	providerID, date, err := providerAndDate(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	duration, err := strconv.Atoi(r.URL.Query().Get("duration"))
	if err != nil || duration <= 0 {
		writeError(w, http.StatusBadRequest, "duration must be a positive number of minutes")
		return
	}

	cacheKey := fmt.Sprintf("slots:%d:%s:%d", providerID, date.Format(dateLayout), duration)
	var response SlotsResponse
	if s.readCache(r.Context(), cacheKey, &response) {
		writeJSON(w, http.StatusOK, response)
		return
	}

	slots, err := s.scheduler.GetSlots(r.Context(), providerID, date, duration)
	if err != nil {
		s.writeServiceError(w, err)
		return
	}

	response = SlotsResponse{
		ProviderID: providerID,
		Date:       date.Format(dateLayout),
		Duration:   duration,
		Slots:      make([]SlotResponse, 0, len(slots)),
	}
	for _, slot := range slots {
		response.Slots = append(response.Slots, SlotResponse{Start: slot.Start, End: slot.End})
	}

	s.writeCache(r.Context(), cacheKey, response)
	writeJSON(w, http.StatusOK, response)
}

// handleAppointments books a new appointment.
// POST /api/v1/appointments
func (s *Server) handleAppointments(w http.ResponseWriter, r *http.Request) {
	metrics.IncHTTP("book")
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed; use POST")
		return
	}

	var req BookAppointmentRequest
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	date, err := time.Parse(dateLayout, req.Date)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid date format; expected YYYY-MM-DD")
		return
	}
	start, err := interval.ParseClock(req.StartTime)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid start_time format; expected HH:MM")
		return
	}

	result, err := s.scheduler.Book(r.Context(), scheduling.BookRequest{
		ClientID:    req.ClientID,
		ProviderID:  req.ProviderID,
		ServiceID:   req.ServiceID,
		Date:        date,
		StartMinute: start,
		Duration:    req.Duration,
		Notes:       req.Notes,
		Actor:       req.Actor,
	})
	if err != nil {
		s.writeServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, appointmentResponse(result.Appointment, result.Warnings))
}

// handleAppointmentByID routes /api/v1/appointments/{id}[/{action}].
func (s *Server) handleAppointmentByID(w http.ResponseWriter, r *http.Request) {
	parts := strings.Split(strings.TrimPrefix(r.URL.Path, "/api/v1/appointments/"), "/")
	if len(parts) == 0 || parts[0] == "" {
		writeError(w, http.StatusBadRequest, "invalid path")
		return
	}
	id, err := strconv.ParseInt(parts[0], 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid appointment id")
		return
	}

	if len(parts) == 1 {
		s.handleGetAppointment(w, r, id)
		return
	}
	if len(parts) != 2 {
		writeError(w, http.StatusNotFound, "not found")
		return
	}

	switch parts[1] {
	case "history":
		s.handleHistory(w, r, id)
	case "reschedule":
		s.handleReschedule(w, r, id)
	case "confirm", "cancel", "check-in", "no-show", "complete":
		s.handleTransition(w, r, id, parts[1])
	default:
		writeError(w, http.StatusNotFound, "not found")
	}
}

// handleGetAppointment returns one appointment.
// GET /api/v1/appointments/{id}
func (s *Server) handleGetAppointment(w http.ResponseWriter, r *http.Request, id int64) {
	metrics.IncHTTP("get_appointment")
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed; use GET")
		return
	}

	appointment, err := s.scheduler.Get(r.Context(), id)
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, appointmentResponse(appointment, nil))
}

// handleHistory returns the appointment's audit trail.
// GET /api/v1/appointments/{id}/history
func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request, id int64) {
	metrics.IncHTTP("history")
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed; use GET")
		return
	}

	// 404 for unknown appointments rather than an empty history.
	if _, err := s.scheduler.Get(r.Context(), id); err != nil {
		s.writeServiceError(w, err)
		return
	}

	entries, err := s.history.GetActivityLog(r.Context(), id)
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	if entries == nil {
		entries = []models.ActivityLogEntry{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"history": entries})
}

// handleTransition applies one of the simple status transitions.
// POST /api/v1/appointments/{id}/{confirm|cancel|check-in|no-show|complete}
func (s *Server) handleTransition(w http.ResponseWriter, r *http.Request, id int64, action string) {
	metrics.IncHTTP(action)
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed; use POST")
		return
	}

	var req TransitionRequest
	if r.Body != nil && r.ContentLength != 0 {
		decoder := json.NewDecoder(r.Body)
		decoder.DisallowUnknownFields()
		if err := decoder.Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid JSON body")
			return
		}
	}

	var (
		result *scheduling.Result
		err    error
	)
	switch action {
	case "confirm":
		result, err = s.scheduler.Confirm(r.Context(), id, req.Actor)
	case "cancel":
		result, err = s.scheduler.Cancel(r.Context(), id, req.Reason, req.Actor)
	case "check-in":
		result, err = s.scheduler.CheckIn(r.Context(), id, req.Actor)
	case "no-show":
		result, err = s.scheduler.MarkNoShow(r.Context(), id, req.Actor)
	case "complete":
		result, err = s.scheduler.Complete(r.Context(), id, req.Actor)
	}
	if err != nil {
		s.writeServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, appointmentResponse(result.Appointment, result.Warnings))
}

// handleReschedule closes the appointment and books its replacement.
// POST /api/v1/appointments/{id}/reschedule
func (s *Server) handleReschedule(w http.ResponseWriter, r *http.Request, id int64) {
	metrics.IncHTTP("reschedule")
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed; use POST")
		return
	}

	var req RescheduleAppointmentRequest
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	change := scheduling.RescheduleRequest{
		NewProviderID: req.NewProviderID,
		Notes:         req.Notes,
		Actor:         req.Actor,
	}
	if req.NewDate != "" {
		date, err := time.Parse(dateLayout, req.NewDate)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid new_date format; expected YYYY-MM-DD")
			return
		}
		change.NewDate = &date
	}
	if req.NewStartTime != "" {
		start, err := interval.ParseClock(req.NewStartTime)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid new_start_time format; expected HH:MM")
			return
		}
		change.NewStartMinute = &start
	}

	result, err := s.scheduler.Reschedule(r.Context(), id, change)
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, appointmentResponse(result.Appointment, result.Warnings))
}

func providerAndDate(r *http.Request) (int64, time.Time, error) {
	providerID, err := strconv.ParseInt(r.URL.Query().Get("provider_id"), 10, 64)
	if err != nil || providerID <= 0 {
		return 0, time.Time{}, fmt.Errorf("provider_id is required")
	}
	date, err := time.Parse(dateLayout, r.URL.Query().Get("date"))
	if err != nil {
		return 0, time.Time{}, fmt.Errorf("invalid date format; expected YYYY-MM-DD")
	}
	return providerID, date, nil
}
