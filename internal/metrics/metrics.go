package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	once sync.Once

	appointmentTransitions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "openslots",
			Name:      "appointment_transitions_total",
			Help:      "Count of appointment lifecycle transitions by action.",
		},
		[]string{"action"},
	)

	slotConflicts = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "openslots",
			Name:      "slot_conflicts_total",
			Help:      "Count of booking attempts rejected because the slot was taken.",
		},
	)

	calendarSync = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "openslots",
			Name:      "calendar_sync_total",
			Help:      "Count of calendar sync attempts by outcome.",
		},
		[]string{"outcome"},
	)

	httpRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "openslots",
			Name:      "http_requests_total",
			Help:      "Count of API requests by endpoint.",
		},
		[]string{"endpoint"},
	)

	remindersSent = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "openslots",
			Name:      "reminders_sent_total",
			Help:      "Count of appointment reminder attempts by outcome.",
		},
		[]string{"outcome"},
	)
)

// Register registers metrics (idempotent).
func Register() {
	once.Do(func() {
		prometheus.MustRegister(appointmentTransitions, slotConflicts, calendarSync, httpRequests, remindersSent)
	})
}

func IncAppointment(action string) {
	appointmentTransitions.WithLabelValues(action).Inc()
}

func IncSlotConflict() {
	slotConflicts.Inc()
}

func IncCalendarSync(ok bool) {
	outcome := "success"
	if !ok {
		outcome = "failure"
	}
	calendarSync.WithLabelValues(outcome).Inc()
}

func IncHTTP(endpoint string) {
	httpRequests.WithLabelValues(endpoint).Inc()
}

func IncReminder(ok bool) {
	outcome := "success"
	if !ok {
		outcome = "failure"
	}
	remindersSent.WithLabelValues(outcome).Inc()
}
