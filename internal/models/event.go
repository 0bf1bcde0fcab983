package models

import (
	"time"

	"github.com/google/uuid"
)

// EventStatus is the phase of an event.
type EventStatus string

const (
	EventStatusPlanning EventStatus = "planning"
	EventStatusActive   EventStatus = "active"
	EventStatusPacking  EventStatus = "packing"
	EventStatusEnded    EventStatus = "ended"
)

// Valid reports whether s is a known status.
func (s EventStatus) Valid() bool {
	switch s {
	case EventStatusPlanning, EventStatusActive, EventStatusPacking, EventStatusEnded:
		return true
	}
	return false
}

// Event is a trip; the top-level aggregate for members and items.
type Event struct {
	ID          uuid.UUID   `json:"id"`
	Name        string      `json:"name"`
	Description string      `json:"description"`
	Location    string      `json:"location"`
	Source      string      `json:"source,omitempty"`
	Destination string      `json:"destination,omitempty"`
	StartDate   *time.Time  `json:"start_date,omitempty"`
	EndDate     *time.Time  `json:"end_date,omitempty"`
	OwnerID     uuid.UUID   `json:"owner_id"`
	Status      EventStatus `json:"status"`
	CreatedAt   time.Time   `json:"created_at"`
	UpdatedAt   time.Time   `json:"updated_at"`
}

// Ended reports whether the event reached its terminal state.
func (e *Event) Ended() bool { return e.Status == EventStatusEnded }

// EventSummary is the short form returned alongside invites.
type EventSummary struct {
	ID        uuid.UUID   `json:"id"`
	Name      string      `json:"name"`
	Location  string      `json:"location"`
	StartDate *time.Time  `json:"start_date,omitempty"`
	EndDate   *time.Time  `json:"end_date,omitempty"`
	Status    EventStatus `json:"status"`
}

// Summary returns the short form of e.
func (e *Event) Summary() EventSummary {
	return EventSummary{
		ID:        e.ID,
		Name:      e.Name,
		Location:  e.Location,
		StartDate: e.StartDate,
		EndDate:   e.EndDate,
		Status:    e.Status,
	}
}

// PackedRatio is packed/total, or 0 for an event with no items.
func PackedRatio(total, packed int) float64 {
	if total <= 0 {
		return 0
	}
	return float64(packed) / float64(total)
}

// DeriveStatus maps item completion onto an event phase. A fully packed event
// stays in packing: ending an event is always explicit.
func DeriveStatus(total, packed int) EventStatus {
	r := PackedRatio(total, packed)
	switch {
	case r <= 0:
		return EventStatusPlanning
	case r < 0.5:
		return EventStatusActive
	default:
		return EventStatusPacking
	}
}
