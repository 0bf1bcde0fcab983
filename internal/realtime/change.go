package realtime

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/google/uuid"
)

// ChangeType names a state change pushed to event subscribers.
type ChangeType string

const (
	ChangeEventUpdated      ChangeType = "event.updated"
	ChangeEventEnded        ChangeType = "event.ended"
	ChangeEventDeleted      ChangeType = "event.deleted"
	ChangeItemCreated       ChangeType = "item.created"
	ChangeItemUpdated       ChangeType = "item.updated"
	ChangeItemStatusChanged ChangeType = "item.status_changed"
	ChangeItemDeleted       ChangeType = "item.deleted"
	ChangeMemberInvited     ChangeType = "member.invited"
	ChangeMemberJoined      ChangeType = "member.joined"
	ChangeMemberDeclined    ChangeType = "member.declined"
	ChangeMemberRoleChanged ChangeType = "member.role_changed"
	ChangeMemberRemoved     ChangeType = "member.removed"
)

// Change describes one committed mutation of an event.
type Change struct {
	Type    ChangeType  `json:"type"`
	EventID uuid.UUID   `json:"event_id"`
	ActorID uuid.UUID   `json:"actor_id"`
	Data    interface{} `json:"data,omitempty"`
	At      time.Time   `json:"at"`
}

// NewChange stamps a change with the current time.
func NewChange(t ChangeType, eventID, actorID uuid.UUID, data interface{}) Change {
	return Change{Type: t, EventID: eventID, ActorID: actorID, Data: data, At: time.Now().UTC()}
}

// Publisher delivers committed changes to subscribers of an event. Delivery is
// best effort; implementations log failures instead of returning them.
type Publisher interface {
	Publish(eventID uuid.UUID, change Change)
}

// NopPublisher drops every change.
type NopPublisher struct{}

// Publish implements Publisher.
func (NopPublisher) Publish(uuid.UUID, Change) {}

// Recorder keeps published changes in memory. Used by tests.
type Recorder struct {
	mu      sync.Mutex
	changes []Change
}

// Publish implements Publisher.
func (r *Recorder) Publish(_ uuid.UUID, change Change) {
	r.mu.Lock()
	r.changes = append(r.changes, change)
	r.mu.Unlock()
}

// Types returns the recorded change types in order.
func (r *Recorder) Types() []ChangeType {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]ChangeType, 0, len(r.changes))
	for _, c := range r.changes {
		out = append(out, c.Type)
	}
	return out
}

func marshalChange(change Change) (json.RawMessage, error) {
	return json.Marshal(change)
}
