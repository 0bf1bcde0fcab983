package realtime

import (
	"encoding/json"
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

const (
	// PingInterval and PongWait are used for heartbeat.
	PingInterval = 30
	PongWait     = 60
)

// Hub maintains event_id -> set of connections and broadcasts changes.
// With Redis configured a change is published once and every instance
// holding subscribers for the event broadcasts it locally.
type Hub struct {
	// eventID -> map[clientID]*Client
	rooms    map[uuid.UUID]map[string]*Client
	subs     map[uuid.UUID]func() // cancel Redis subscription per event
	mu       sync.RWMutex
	logger   *zap.Logger
	redis    RedisPublisher
	redisSub RedisSubscriber
}

// RedisPublisher is the interface for publishing to Redis (for cross-instance broadcast).
type RedisPublisher interface {
	PublishEventMessage(eventID uuid.UUID, event string, payload []byte) error
}

// RedisSubscriber subscribes to event channels and invokes handler for incoming messages.
type RedisSubscriber interface {
	SubscribeEvent(eventID uuid.UUID, handler func(event string, payload []byte)) (cancel func(), err error)
}

// NewHub creates a new WebSocket hub. redisPub and redisSub may be nil.
func NewHub(logger *zap.Logger, redisPub RedisPublisher, redisSub RedisSubscriber) *Hub {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Hub{
		rooms:    make(map[uuid.UUID]map[string]*Client),
		subs:     make(map[uuid.UUID]func()),
		logger:   logger,
		redis:    redisPub,
		redisSub: redisSub,
	}
}

// Register adds a client to an event room. Starts the Redis subscription for the event if first client.
func (h *Hub) Register(c *Client) {
	h.mu.Lock()
	if h.rooms[c.EventID] == nil {
		h.rooms[c.EventID] = make(map[string]*Client)
		if h.redisSub != nil {
			eventID := c.EventID
			cancel, err := h.redisSub.SubscribeEvent(eventID, func(event string, payload []byte) {
				h.deliver(eventID, event, payload)
			})
			if err != nil {
				h.logger.Warn("redis subscribe failed", zap.String("event_id", eventID.String()), zap.Error(err))
			} else {
				h.subs[eventID] = cancel
			}
		}
	}
	h.rooms[c.EventID][c.ID] = c
	h.mu.Unlock()
	h.logger.Debug("client joined event", zap.String("client_id", c.ID), zap.String("event_id", c.EventID.String()))
}

// Unregister removes a client from an event room and closes its send channel.
// Cancels the Redis subscription when the last client leaves.
func (h *Hub) Unregister(c *Client) {
	h.mu.Lock()
	h.removeLocked(c)
	h.mu.Unlock()
	h.logger.Debug("client left event", zap.String("client_id", c.ID), zap.String("event_id", c.EventID.String()))
}

// Disconnect closes every connection userID holds on eventID on this instance.
func (h *Hub) Disconnect(eventID, userID uuid.UUID) int {
	h.mu.Lock()
	var dropped []*Client
	for _, c := range h.rooms[eventID] {
		if c.UserID == userID {
			dropped = append(dropped, c)
		}
	}
	for _, c := range dropped {
		h.removeLocked(c)
	}
	h.mu.Unlock()
	if len(dropped) > 0 {
		h.logger.Info("disconnected removed member",
			zap.String("event_id", eventID.String()),
			zap.String("user_id", userID.String()),
			zap.Int("connections", len(dropped)),
		)
	}
	return len(dropped)
}

// removeLocked must be called with h.mu held. A client is removed and its
// channel closed at most once.
func (h *Hub) removeLocked(c *Client) {
	m, ok := h.rooms[c.EventID]
	if !ok {
		return
	}
	if _, ok := m[c.ID]; !ok {
		return
	}
	delete(m, c.ID)
	close(c.send)
	if len(m) == 0 {
		delete(h.rooms, c.EventID)
		if cancel, ok := h.subs[c.EventID]; ok {
			cancel()
			delete(h.subs, c.EventID)
		}
	}
}

// Broadcast sends a message to all clients of an event on this instance.
func (h *Hub) Broadcast(eventID uuid.UUID, event string, payload interface{}) {
	var data []byte
	switch v := payload.(type) {
	case []byte:
		data = v
	case json.RawMessage:
		data = v
	default:
		data, _ = json.Marshal(payload)
	}
	msg := WSMessage{Event: event, Data: data}

	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, c := range h.rooms[eventID] {
		select {
		case c.send <- msg:
		default:
			// buffer full, skip
		}
	}
}

// Publish implements Publisher.
func (h *Hub) Publish(eventID uuid.UUID, change Change) {
	data, err := marshalChange(change)
	if err != nil {
		h.logger.Warn("marshal change", zap.String("type", string(change.Type)), zap.Error(err))
		return
	}
	h.mu.RLock()
	_, subscribed := h.subs[eventID]
	h.mu.RUnlock()

	if h.redis != nil {
		if err := h.redis.PublishEventMessage(eventID, string(change.Type), data); err != nil {
			h.logger.Warn("redis publish failed", zap.String("event_id", eventID.String()), zap.Error(err))
			subscribed = false
		}
	}
	if !subscribed {
		h.deliver(eventID, string(change.Type), data)
	}
}

// deliver broadcasts a change locally. A member.removed change also drops the
// removed user's connections, so they stop receiving the event's changes.
func (h *Hub) deliver(eventID uuid.UUID, event string, payload []byte) {
	h.Broadcast(eventID, event, json.RawMessage(payload))
	if event != string(ChangeMemberRemoved) {
		return
	}
	var removed struct {
		Data struct {
			UserID *uuid.UUID `json:"user_id"`
		} `json:"data"`
	}
	if err := json.Unmarshal(payload, &removed); err != nil {
		h.logger.Warn("decode member.removed", zap.String("event_id", eventID.String()), zap.Error(err))
		return
	}
	if removed.Data.UserID != nil {
		h.Disconnect(eventID, *removed.Data.UserID)
	}
}

// ClientCount returns the number of clients connected to an event on this instance.
func (h *Hub) ClientCount(eventID uuid.UUID) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.rooms[eventID])
}

// SendToClient sends a message to a single client of an event.
func (h *Hub) SendToClient(eventID uuid.UUID, clientID string, event string, payload interface{}) {
	data, err := json.Marshal(payload)
	if err != nil {
		return
	}
	msg := WSMessage{Event: event, Data: data}
	h.mu.RLock()
	defer h.mu.RUnlock()
	c, ok := h.rooms[eventID][clientID]
	if !ok || c == nil {
		return
	}
	select {
	case c.send <- msg:
	default:
	}
}
