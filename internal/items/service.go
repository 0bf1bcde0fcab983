package items

import (
	"context"
	"errors"
	"strings"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/packpal/backend/internal/apperr"
	"github.com/packpal/backend/internal/events"
	"github.com/packpal/backend/internal/members"
	"github.com/packpal/backend/internal/models"
	"github.com/packpal/backend/internal/realtime"
	"github.com/packpal/backend/internal/store"
)

// DefaultQuantity is stored when an item is created without a quantity.
const DefaultQuantity = "1"

// Input holds the fields of an item. On update nil fields are left unchanged.
type Input struct {
	Name         *string
	Description  *string
	Quantity     *string
	CategoryID   *uuid.UUID
	Priority     *string
	IsShared     *bool
	AssignedToID *uuid.UUID
}

// StatusChange is the result of UpdateStatus. Event is set when the event status moved.
type StatusChange struct {
	Item  models.Item   `json:"item"`
	Event *models.Event `json:"event,omitempty"`
}

// Service is the item tracker.
type Service struct {
	store  store.Store
	pub    realtime.Publisher
	logger *zap.Logger
}

// NewService creates an item service. pub may be nil.
func NewService(st store.Store, pub realtime.Publisher, logger *zap.Logger) *Service {
	if pub == nil {
		pub = realtime.NopPublisher{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{store: st, pub: pub, logger: logger}
}

func trimmed(p *string) string {
	if p == nil {
		return ""
	}
	return strings.TrimSpace(*p)
}

// openEvent locks an event that is not ended and returns the actor's entry if
// it holds one of roles.
func openEvent(ctx context.Context, q store.Querier, eventID, actor uuid.UUID, roles ...models.Role) (*models.Membership, error) {
	ev, err := members.LockEvent(ctx, q, eventID)
	if err != nil {
		return nil, err
	}
	m, err := members.Require(ctx, q, eventID, actor, roles...)
	if err != nil {
		return nil, err
	}
	if ev.Ended() {
		return nil, apperr.ErrAlreadyEnded
	}
	return m, nil
}

func checkAssignee(ctx context.Context, q store.Querier, eventID, userID uuid.UUID) error {
	m, err := q.GetMembershipByEventUser(ctx, eventID, userID)
	if errors.Is(err, store.ErrNotFound) {
		return apperr.ErrInvalidAssignee
	}
	if err != nil {
		return apperr.Unavailable("get membership", err)
	}
	if !m.Accepted() {
		return apperr.ErrInvalidAssignee
	}
	return nil
}

func getItem(ctx context.Context, q store.Querier, itemID uuid.UUID) (*models.Item, error) {
	it, err := q.GetItem(ctx, itemID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, apperr.ErrItemNotFound
	}
	if err != nil {
		return nil, apperr.Unavailable("get item", err)
	}
	return it, nil
}

// lockItem locks the item's event and re-reads the item under the lock.
func lockItem(ctx context.Context, q store.Querier, itemID, actor uuid.UUID, roles ...models.Role) (*models.Item, *models.Membership, error) {
	it, err := getItem(ctx, q, itemID)
	if err != nil {
		return nil, nil, err
	}
	m, err := openEvent(ctx, q, it.EventID, actor, roles...)
	if err != nil {
		return nil, nil, err
	}
	if it, err = getItem(ctx, q, itemID); err != nil {
		return nil, nil, err
	}
	return it, m, nil
}

// Create adds an item to an open event. Owner and admins only. The item is
// assigned to the actor unless another accepted member is named.
func (s *Service) Create(ctx context.Context, eventID, actor uuid.UUID, in Input) (*models.Item, error) {
	name := trimmed(in.Name)
	if name == "" {
		return nil, apperr.ErrNameRequired
	}
	priority := models.PriorityMedium
	if p := trimmed(in.Priority); p != "" {
		if !models.ValidPriority(p) {
			return nil, apperr.ErrInvalidPriority
		}
		priority = p
	}
	quantity := trimmed(in.Quantity)
	if quantity == "" {
		quantity = DefaultQuantity
	}
	assignee := actor
	if in.AssignedToID != nil {
		assignee = *in.AssignedToID
	}
	it := &models.Item{
		EventID:      eventID,
		Name:         name,
		Description:  trimmed(in.Description),
		Quantity:     quantity,
		CategoryID:   in.CategoryID,
		Priority:     priority,
		IsShared:     in.IsShared != nil && *in.IsShared,
		AssignedToID: &assignee,
		CreatedByID:  actor,
	}
	it.SetStatus(models.ItemStatusNotStarted)

	var changed *models.Event
	err := s.store.Tx(ctx, func(q store.Querier) error {
		if _, err := openEvent(ctx, q, eventID, actor, models.EditorRoles...); err != nil {
			return err
		}
		if assignee != actor {
			if err := checkAssignee(ctx, q, eventID, assignee); err != nil {
				return err
			}
		}
		if err := q.CreateItem(ctx, it); err != nil {
			return apperr.Unavailable("create item", err)
		}
		ev, moved, err := events.Recompute(ctx, q, eventID)
		if err != nil {
			return err
		}
		if moved {
			changed = ev
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.pub.Publish(eventID, realtime.NewChange(realtime.ChangeItemCreated, eventID, actor, it))
	s.publishStatus(eventID, actor, changed)
	return it, nil
}

func (s *Service) publishStatus(eventID, actor uuid.UUID, ev *models.Event) {
	if ev != nil {
		s.pub.Publish(eventID, realtime.NewChange(realtime.ChangeEventUpdated, eventID, actor, ev))
	}
}

// Get returns an item. Any accepted member of its event may read.
func (s *Service) Get(ctx context.Context, itemID, actor uuid.UUID) (*models.Item, error) {
	it, err := getItem(ctx, s.store, itemID)
	if err != nil {
		return nil, err
	}
	if _, err := members.Require(ctx, s.store, it.EventID, actor, models.AnyRole...); err != nil {
		return nil, err
	}
	return it, nil
}

// ListByEvent returns the items of an event. Any accepted member may read.
func (s *Service) ListByEvent(ctx context.Context, eventID, actor uuid.UUID) ([]models.Item, error) {
	if _, err := s.store.GetEvent(ctx, eventID); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, apperr.ErrEventNotFound
		}
		return nil, apperr.Unavailable("get event", err)
	}
	if _, err := members.Require(ctx, s.store, eventID, actor, models.AnyRole...); err != nil {
		return nil, err
	}
	list, err := s.store.ListItems(ctx, eventID)
	if err != nil {
		return nil, apperr.Unavailable("list items", err)
	}
	if list == nil {
		list = []models.Item{}
	}
	return list, nil
}

// UpdateStatus moves an item through the packing workflow. Owner, admins and
// the assignee may do this while the event is open. The event status is
// recomputed in the same transaction.
func (s *Service) UpdateStatus(ctx context.Context, itemID, actor uuid.UUID, status models.ItemStatus) (*StatusChange, error) {
	if !status.Valid() {
		return nil, apperr.ErrInvalidStatus
	}
	var res StatusChange
	err := s.store.Tx(ctx, func(q store.Querier) error {
		it, m, err := lockItem(ctx, q, itemID, actor, models.AnyRole...)
		if err != nil {
			return err
		}
		if !m.Role.In(models.EditorRoles...) && !it.AssignedTo(actor) {
			return apperr.ErrForbidden
		}
		it.SetStatus(status)
		if err := q.UpdateItem(ctx, it); err != nil {
			return apperr.Unavailable("update item", err)
		}
		ev, moved, err := events.Recompute(ctx, q, it.EventID)
		if err != nil {
			return err
		}
		res.Item = *it
		if moved {
			res.Event = ev
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	eventID := res.Item.EventID
	s.pub.Publish(eventID, realtime.NewChange(realtime.ChangeItemStatusChanged, eventID, actor, res.Item))
	s.publishStatus(eventID, actor, res.Event)
	return &res, nil
}

// Update edits an item of an open event. Owner and admins only.
func (s *Service) Update(ctx context.Context, itemID, actor uuid.UUID, in Input) (*models.Item, error) {
	if in.Name != nil && trimmed(in.Name) == "" {
		return nil, apperr.ErrNameRequired
	}
	if in.Priority != nil && !models.ValidPriority(trimmed(in.Priority)) {
		return nil, apperr.ErrInvalidPriority
	}
	var updated models.Item
	err := s.store.Tx(ctx, func(q store.Querier) error {
		it, _, err := lockItem(ctx, q, itemID, actor, models.EditorRoles...)
		if err != nil {
			return err
		}
		if in.AssignedToID != nil && !it.AssignedTo(*in.AssignedToID) {
			if err := checkAssignee(ctx, q, it.EventID, *in.AssignedToID); err != nil {
				return err
			}
			it.AssignedToID = in.AssignedToID
		}
		if in.Name != nil {
			it.Name = trimmed(in.Name)
		}
		if in.Description != nil {
			it.Description = trimmed(in.Description)
		}
		if in.Quantity != nil {
			it.Quantity = trimmed(in.Quantity)
		}
		if in.CategoryID != nil {
			it.CategoryID = in.CategoryID
		}
		if in.Priority != nil {
			it.Priority = trimmed(in.Priority)
		}
		if in.IsShared != nil {
			it.IsShared = *in.IsShared
		}
		if err := q.UpdateItem(ctx, it); err != nil {
			return apperr.Unavailable("update item", err)
		}
		updated = *it
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.pub.Publish(updated.EventID, realtime.NewChange(realtime.ChangeItemUpdated, updated.EventID, actor, updated))
	return &updated, nil
}

// Delete removes an item of an open event. Owner and admins only.
func (s *Service) Delete(ctx context.Context, itemID, actor uuid.UUID) error {
	var (
		eventID uuid.UUID
		changed *models.Event
	)
	err := s.store.Tx(ctx, func(q store.Querier) error {
		it, _, err := lockItem(ctx, q, itemID, actor, models.EditorRoles...)
		if err != nil {
			return err
		}
		eventID = it.EventID
		if err := q.DeleteItem(ctx, itemID); err != nil {
			return apperr.Unavailable("delete item", err)
		}
		ev, moved, err := events.Recompute(ctx, q, eventID)
		if err != nil {
			return err
		}
		if moved {
			changed = ev
		}
		return nil
	})
	if err != nil {
		return err
	}
	s.pub.Publish(eventID, realtime.NewChange(realtime.ChangeItemDeleted, eventID, actor, map[string]uuid.UUID{"id": itemID}))
	s.publishStatus(eventID, actor, changed)
	return nil
}
