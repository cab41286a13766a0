package calendar

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/jjgao/openslots/internal/models"
)

func TestBuildEvent(t *testing.T) {
	a := &models.Appointment{
		ID:          42,
		ClientID:    7,
		ProviderID:  3,
		ServiceID:   1,
		Date:        time.Date(2026, 3, 2, 0, 0, 0, 0, time.UTC),
		StartMinute: 600,
		Duration:    60,
		Notes:       "first visit",
	}

	event := buildEvent(a)

	assert.Equal(t, "Appointment #42 (10:00)", event.Summary)
	assert.Contains(t, event.Description, "Client 7")
	assert.Contains(t, event.Description, "first visit")
	assert.Equal(t, "2026-03-02T10:00:00+00:00", event.Start.DateTime)
	assert.Equal(t, "2026-03-02T11:00:00+00:00", event.End.DateTime)
}
