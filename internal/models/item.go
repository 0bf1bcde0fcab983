package models

import (
	"time"

	"github.com/google/uuid"
)

// ItemStatus is the packing workflow state of an item.
type ItemStatus string

const (
	ItemStatusNotStarted ItemStatus = "not_started"
	ItemStatusInProgress ItemStatus = "in_progress"
	ItemStatusPacked     ItemStatus = "packed"
	ItemStatusDelivered  ItemStatus = "delivered"
)

// ItemStatuses lists every status in workflow order.
var ItemStatuses = []ItemStatus{ItemStatusNotStarted, ItemStatusInProgress, ItemStatusPacked, ItemStatusDelivered}

// Valid reports whether s is one of the four workflow states.
func (s ItemStatus) Valid() bool {
	for _, v := range ItemStatuses {
		if s == v {
			return true
		}
	}
	return false
}

// Packed reports whether s counts towards the packed ratio.
func (s ItemStatus) Packed() bool {
	return s == ItemStatusPacked || s == ItemStatusDelivered
}

// Item priorities.
const (
	PriorityLow    = "low"
	PriorityMedium = "medium"
	PriorityHigh   = "high"
)

// ValidPriority reports whether p is a known priority.
func ValidPriority(p string) bool {
	return p == PriorityLow || p == PriorityMedium || p == PriorityHigh
}

// Item is a packing task within an event.
type Item struct {
	ID           uuid.UUID  `json:"id"`
	EventID      uuid.UUID  `json:"event_id"`
	Name         string     `json:"name"`
	Description  string     `json:"description"`
	Quantity     string     `json:"quantity"`
	CategoryID   *uuid.UUID `json:"category_id,omitempty"`
	Priority     string     `json:"priority"`
	IsShared     bool       `json:"is_shared"`
	Status       ItemStatus `json:"status"`
	IsPacked     bool       `json:"is_packed"`
	AssignedToID *uuid.UUID `json:"assigned_to_id,omitempty"`
	CreatedByID  uuid.UUID  `json:"created_by_id"`
	CreatedAt    time.Time  `json:"created_at"`
	UpdatedAt    time.Time  `json:"updated_at"`
}

// SetStatus updates the status and keeps IsPacked in step with it.
func (i *Item) SetStatus(s ItemStatus) {
	i.Status = s
	i.IsPacked = s.Packed()
}

// AssignedTo reports whether the item is assigned to userID.
func (i *Item) AssignedTo(userID uuid.UUID) bool {
	return i.AssignedToID != nil && *i.AssignedToID == userID
}
