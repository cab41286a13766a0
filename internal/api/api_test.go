package api

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jjgao/openslots/internal/availability"
	"github.com/jjgao/openslots/internal/config"
	"github.com/jjgao/openslots/internal/db"
	"github.com/jjgao/openslots/internal/models"
	"github.com/jjgao/openslots/internal/scheduling"
)

type testEnv struct {
	srv        *httptest.Server
	clientID   int64
	providerID int64
	serviceID  int64
	date       string
}

func setupTestServer(t *testing.T, apiKey string) *testEnv {
	t.Helper()
	ctx := t.Context()
	logger := zerolog.New(io.Discard)

	database, err := db.NewDB(filepath.Join(t.TempDir(), "api.db"), &logger)
	require.NoError(t, err)
	t.Cleanup(func() { database.Close() })

	service := &models.Service{Name: "Consultation", Durations: []int{30, 60}}
	require.NoError(t, database.CreateService(ctx, service))
	provider := &models.Provider{Name: "Dr. Okafor", IsActive: true, ServiceIDs: []int64{service.ID}}
	require.NoError(t, database.CreateProvider(ctx, provider))
	client := &models.Client{Name: "Dana Webb"}
	require.NoError(t, database.CreateClient(ctx, client))

	// One week out keeps the booking inside the advance window regardless of
	// when the test runs.
	date := time.Now().UTC().AddDate(0, 0, 7)
	require.NoError(t, database.CreateAvailabilityRule(ctx, &models.AvailabilityRule{
		ProviderID: provider.ID, DayOfWeek: date.Weekday(),
		StartMinute: 540, EndMinute: 1020, Recurring: true,
	}))

	resolver := availability.NewResolver(database, 15, logger)
	scheduler := scheduling.NewService(database, resolver, nil, nil, config.Scheduling{}, scheduling.Limits{}, &logger)
	server := NewServer(0, scheduler, database, apiKey, &logger)

	srv := httptest.NewServer(server.Handler())
	t.Cleanup(srv.Close)

	return &testEnv{
		srv:        srv,
		clientID:   client.ID,
		providerID: provider.ID,
		serviceID:  service.ID,
		date:       date.Format("2006-01-02"),
	}
}

func (e *testEnv) do(t *testing.T, method, path string, body any) (*http.Response, []byte) {
	t.Helper()
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(data)
	}
	req, err := http.NewRequest(method, e.srv.URL+path, reader)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp, data
}

func (e *testEnv) book(t *testing.T, start string) AppointmentResponse {
	t.Helper()
	resp, body := e.do(t, http.MethodPost, "/api/v1/appointments", BookAppointmentRequest{
		ClientID: e.clientID, ProviderID: e.providerID, ServiceID: e.serviceID,
		Date: e.date, StartTime: start, Duration: 60, Actor: "reception",
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode, string(body))
	var appointment AppointmentResponse
	require.NoError(t, json.Unmarshal(body, &appointment))
	return appointment
}

func TestAvailabilityEndpoint(t *testing.T) {
	env := setupTestServer(t, "")

	resp, body := env.do(t, http.MethodGet,
		fmt.Sprintf("/api/v1/availability?provider_id=%d&date=%s", env.providerID, env.date), nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var got AvailabilityResponse
	require.NoError(t, json.Unmarshal(body, &got))
	assert.Equal(t, env.providerID, got.ProviderID)
	require.Len(t, got.Windows, 1)
	assert.Equal(t, "09:00", got.Windows[0].Start)
	assert.Equal(t, "17:00", got.Windows[0].End)
}

func TestAvailabilityValidation(t *testing.T) {
	env := setupTestServer(t, "")

	tests := []struct {
		name string
		path string
	}{
		{"missing provider", "/api/v1/availability?date=2026-03-02"},
		{"bad date", fmt.Sprintf("/api/v1/availability?provider_id=%d&date=02-03-2026", env.providerID)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp, _ := env.do(t, http.MethodGet, tt.path, nil)
			assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
		})
	}

	resp, _ := env.do(t, http.MethodPost, "/api/v1/availability?provider_id=1&date=2026-03-02", nil)
	assert.Equal(t, http.StatusMethodNotAllowed, resp.StatusCode)
}

func TestSlotsEndpoint(t *testing.T) {
	env := setupTestServer(t, "")
	env.book(t, "10:00")

	resp, body := env.do(t, http.MethodGet,
		fmt.Sprintf("/api/v1/slots?provider_id=%d&date=%s&duration=60", env.providerID, env.date), nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var got SlotsResponse
	require.NoError(t, json.Unmarshal(body, &got))
	starts := make(map[string]bool, len(got.Slots))
	for _, s := range got.Slots {
		starts[s.Start] = true
	}
	assert.True(t, starts["09:00"])
	assert.True(t, starts["11:00"])
	assert.False(t, starts["10:00"])
	assert.False(t, starts["09:15"])
}

func TestBookEndpoint(t *testing.T) {
	env := setupTestServer(t, "")

	appointment := env.book(t, "10:00")
	assert.Equal(t, "booked", appointment.Status)
	assert.Equal(t, "10:00", appointment.Start)
	assert.Equal(t, "11:00", appointment.End)

	t.Run("conflict", func(t *testing.T) {
		resp, _ := env.do(t, http.MethodPost, "/api/v1/appointments", BookAppointmentRequest{
			ClientID: env.clientID, ProviderID: env.providerID, ServiceID: env.serviceID,
			Date: env.date, StartTime: "10:30", Duration: 60,
		})
		assert.Equal(t, http.StatusConflict, resp.StatusCode)
	})

	t.Run("unknown client", func(t *testing.T) {
		resp, _ := env.do(t, http.MethodPost, "/api/v1/appointments", BookAppointmentRequest{
			ClientID: 999, ProviderID: env.providerID, ServiceID: env.serviceID,
			Date: env.date, StartTime: "13:00", Duration: 60,
		})
		assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	})

	t.Run("bad duration", func(t *testing.T) {
		resp, _ := env.do(t, http.MethodPost, "/api/v1/appointments", BookAppointmentRequest{
			ClientID: env.clientID, ProviderID: env.providerID, ServiceID: env.serviceID,
			Date: env.date, StartTime: "13:00", Duration: 45,
		})
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	})

	t.Run("unknown field rejected", func(t *testing.T) {
		resp, _ := env.do(t, http.MethodPost, "/api/v1/appointments", map[string]any{
			"client_id": env.clientID, "surprise": true,
		})
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	})
}

func TestGetAndTransitions(t *testing.T) {
	env := setupTestServer(t, "")
	appointment := env.book(t, "10:00")
	base := fmt.Sprintf("/api/v1/appointments/%d", appointment.ID)

	resp, body := env.do(t, http.MethodGet, base, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var got AppointmentResponse
	require.NoError(t, json.Unmarshal(body, &got))
	assert.Equal(t, appointment.ID, got.ID)

	resp, body = env.do(t, http.MethodPost, base+"/confirm", TransitionRequest{Actor: "reception"})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.NoError(t, json.Unmarshal(body, &got))
	assert.Equal(t, "confirmed", got.Status)

	// Completing a confirmed appointment is illegal.
	resp, _ = env.do(t, http.MethodPost, base+"/complete", nil)
	assert.Equal(t, http.StatusConflict, resp.StatusCode)

	resp, body = env.do(t, http.MethodPost, base+"/cancel", TransitionRequest{Reason: "client called"})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.NoError(t, json.Unmarshal(body, &got))
	assert.Equal(t, "cancelled", got.Status)

	resp, body = env.do(t, http.MethodGet, base+"/history", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var history struct {
		History []models.ActivityLogEntry `json:"history"`
	}
	require.NoError(t, json.Unmarshal(body, &history))
	require.Len(t, history.History, 3)
	assert.Equal(t, models.ActionBooked, history.History[0].Action)
	assert.Equal(t, "client called", history.History[2].Note)

	resp, _ = env.do(t, http.MethodGet, "/api/v1/appointments/999", nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	resp, _ = env.do(t, http.MethodGet, "/api/v1/appointments/abc", nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestRescheduleEndpoint(t *testing.T) {
	env := setupTestServer(t, "")
	appointment := env.book(t, "10:00")
	base := fmt.Sprintf("/api/v1/appointments/%d", appointment.ID)

	resp, body := env.do(t, http.MethodPost, base+"/reschedule", RescheduleAppointmentRequest{
		NewStartTime: "14:00", Actor: "reception",
	})
	require.Equal(t, http.StatusOK, resp.StatusCode, string(body))

	var replacement AppointmentResponse
	require.NoError(t, json.Unmarshal(body, &replacement))
	assert.NotEqual(t, appointment.ID, replacement.ID)
	assert.Equal(t, "14:00", replacement.Start)
	assert.Equal(t, "booked", replacement.Status)

	resp, body = env.do(t, http.MethodGet, base, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var old AppointmentResponse
	require.NoError(t, json.Unmarshal(body, &old))
	assert.Equal(t, "rescheduled", old.Status)
	assert.Equal(t, replacement.ID, old.RescheduledTo)

	t.Run("no change", func(t *testing.T) {
		resp, _ := env.do(t, http.MethodPost,
			fmt.Sprintf("/api/v1/appointments/%d/reschedule", replacement.ID),
			RescheduleAppointmentRequest{})
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	})
}

func TestAPIKeyAuth(t *testing.T) {
	env := setupTestServer(t, "secret")
	path := fmt.Sprintf("/api/v1/availability?provider_id=%d&date=%s", env.providerID, env.date)

	resp, _ := env.do(t, http.MethodGet, path, nil)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	req, err := http.NewRequest(http.MethodGet, env.srv.URL+path, nil)
	require.NoError(t, err)
	req.Header.Set("x-api-key", "secret")
	authed, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer authed.Body.Close()
	assert.Equal(t, http.StatusOK, authed.StatusCode)
	assert.NotEmpty(t, authed.Header.Get("X-Request-ID"))
}
