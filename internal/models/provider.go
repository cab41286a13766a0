package models

import "time"

// Provider offers services and owns a recurring schedule.
type Provider struct {
	ID         int64     `json:"id"`
	Name       string    `json:"name"`
	ServiceIDs []int64   `json:"service_ids"`
	IsActive   bool      `json:"is_active"`
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`
}

// OffersService reports whether the provider offers the given service.
func (p *Provider) OffersService(serviceID int64) bool {
	for _, id := range p.ServiceIDs {
		if id == serviceID {
			return true
		}
	}
	return false
}

// Service is a bookable service with a fixed set of allowed durations.
type Service struct {
	ID          int64     `json:"id"`
	Name        string    `json:"name"`
	Durations   []int     `json:"durations"` // allowed durations in minutes
	Description string    `json:"description,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// AllowsDuration reports whether the duration is one of the service's options.
func (s *Service) AllowsDuration(minutes int) bool {
	for _, d := range s.Durations {
		if d == minutes {
			return true
		}
	}
	return false
}

// Client is the person appointments are booked for. FirstVisit, LastVisit and
// NoShowCount are derived fields maintained by the lifecycle.
type Client struct {
	ID          int64      `json:"id"`
	Name        string     `json:"name"`
	Phone       string     `json:"phone,omitempty"`
	Email       string     `json:"email,omitempty"`
	FirstVisit  *time.Time `json:"first_visit,omitempty"`
	LastVisit   *time.Time `json:"last_visit,omitempty"`
	NoShowCount int        `json:"no_show_count"`
	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
}
