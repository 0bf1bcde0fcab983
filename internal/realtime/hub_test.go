package realtime

import (
	"encoding/json"
	"errors"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testClient(h *Hub, eventID uuid.UUID) *Client {
	return &Client{ID: uuid.NewString(), EventID: eventID, UserID: uuid.New(), hub: h, send: make(chan WSMessage, 4)}
}

func TestHubBroadcastsToEventRoomOnly(t *testing.T) {
	h := NewHub(nil, nil, nil)
	ev, other := uuid.New(), uuid.New()
	a, b, c := testClient(h, ev), testClient(h, ev), testClient(h, other)
	h.Register(a)
	h.Register(b)
	h.Register(c)
	assert.Equal(t, 2, h.ClientCount(ev))

	h.Publish(ev, NewChange(ChangeItemCreated, ev, uuid.New(), map[string]string{"name": "Tent"}))

	for _, cl := range []*Client{a, b} {
		require.Len(t, cl.send, 1)
		msg := <-cl.send
		assert.Equal(t, "item.created", msg.Event)
		var got Change
		require.NoError(t, json.Unmarshal(msg.Data, &got))
		assert.Equal(t, ev, got.EventID)
	}
	assert.Empty(t, c.send)

	h.Unregister(a)
	h.Unregister(b)
	assert.Equal(t, 0, h.ClientCount(ev))
}

// fakeBus delivers published messages to subscribers synchronously, standing
// in for a Redis channel shared by several instances.
type fakeBus struct {
	mu       sync.Mutex
	next     int
	handlers map[uuid.UUID]map[int]func(string, []byte)
	fail     bool
}

func (b *fakeBus) PublishEventMessage(eventID uuid.UUID, event string, payload []byte) error {
	if b.fail {
		return errors.New("redis down")
	}
	b.mu.Lock()
	var hs []func(string, []byte)
	for _, fn := range b.handlers[eventID] {
		hs = append(hs, fn)
	}
	b.mu.Unlock()
	for _, fn := range hs {
		fn(event, payload)
	}
	return nil
}

func (b *fakeBus) SubscribeEvent(eventID uuid.UUID, handler func(string, []byte)) (func(), error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.handlers == nil {
		b.handlers = map[uuid.UUID]map[int]func(string, []byte){}
	}
	if b.handlers[eventID] == nil {
		b.handlers[eventID] = map[int]func(string, []byte){}
	}
	b.next++
	id := b.next
	b.handlers[eventID][id] = handler
	return func() {
		b.mu.Lock()
		delete(b.handlers[eventID], id)
		b.mu.Unlock()
	}, nil
}

func TestHubCrossInstanceDelivery(t *testing.T) {
	bus := &fakeBus{}
	h1 := NewHub(nil, bus, bus)
	h2 := NewHub(nil, bus, bus)
	ev := uuid.New()
	local, remote := testClient(h1, ev), testClient(h2, ev)
	h1.Register(local)
	h2.Register(remote)

	h1.Publish(ev, NewChange(ChangeEventEnded, ev, uuid.New(), nil))

	require.Len(t, local.send, 1, "delivered once through the subscription")
	require.Len(t, remote.send, 1)
	assert.Equal(t, "event.ended", (<-remote.send).Event)
}

func TestHubFallsBackToLocalWhenRedisFails(t *testing.T) {
	bus := &fakeBus{}
	h := NewHub(nil, bus, bus)
	ev := uuid.New()
	cl := testClient(h, ev)
	h.Register(cl)

	bus.fail = true
	h.Publish(ev, NewChange(ChangeEventUpdated, ev, uuid.New(), nil))
	require.Len(t, cl.send, 1)
}

func TestRecorderTypes(t *testing.T) {
	r := &Recorder{}
	ev := uuid.New()
	r.Publish(ev, NewChange(ChangeMemberInvited, ev, uuid.Nil, nil))
	r.Publish(ev, NewChange(ChangeMemberJoined, ev, uuid.Nil, nil))
	assert.Equal(t, []ChangeType{ChangeMemberInvited, ChangeMemberJoined}, r.Types())
}

func TestHubDropsRemovedMember(t *testing.T) {
	h := NewHub(nil, nil, nil)
	ev := uuid.New()
	stay, gone := testClient(h, ev), testClient(h, ev)
	second := &Client{ID: uuid.NewString(), EventID: ev, UserID: gone.UserID, hub: h, send: make(chan WSMessage, 4)}
	h.Register(stay)
	h.Register(gone)
	h.Register(second)

	removedUser := gone.UserID
	h.Publish(ev, NewChange(ChangeMemberRemoved, ev, uuid.New(), map[string]any{"user_id": removedUser}))
	h.Publish(ev, NewChange(ChangeItemCreated, ev, uuid.New(), nil))
	h.Publish(ev, NewChange(ChangeEventDeleted, ev, uuid.New(), nil))

	assert.Equal(t, 1, h.ClientCount(ev))
	for _, cl := range []*Client{gone, second} {
		msg, ok := <-cl.send
		require.True(t, ok)
		assert.Equal(t, "member.removed", msg.Event)
		_, ok = <-cl.send
		assert.False(t, ok, "send channel closed after removal")
	}
	assert.Len(t, stay.send, 3)

	// The read loop unregisters on its way out; that must not close twice.
	h.Unregister(gone)
	assert.Equal(t, 1, h.ClientCount(ev))
}

func TestHubDropsRemovedMemberAcrossInstances(t *testing.T) {
	bus := &fakeBus{}
	h1 := NewHub(nil, bus, bus)
	h2 := NewHub(nil, bus, bus)
	ev := uuid.New()
	local := testClient(h1, ev)
	remote := testClient(h2, ev)
	h1.Register(local)
	h2.Register(remote)

	h1.Publish(ev, NewChange(ChangeMemberRemoved, ev, local.UserID, map[string]any{"user_id": remote.UserID}))

	assert.Equal(t, 0, h2.ClientCount(ev))
	assert.Equal(t, 1, h1.ClientCount(ev))
	h1.Publish(ev, NewChange(ChangeItemCreated, ev, local.UserID, nil))
	assert.Len(t, local.send, 2)
}

func TestDisconnectIgnoresOtherEvents(t *testing.T) {
	h := NewHub(nil, nil, nil)
	ev, other := uuid.New(), uuid.New()
	cl := testClient(h, other)
	h.Register(cl)
	assert.Equal(t, 0, h.Disconnect(ev, cl.UserID))
	assert.Equal(t, 1, h.ClientCount(other))
}
