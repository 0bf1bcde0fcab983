package events

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/packpal/backend/internal/apperr"
	"github.com/packpal/backend/internal/members"
	"github.com/packpal/backend/internal/models"
	"github.com/packpal/backend/internal/realtime"
	"github.com/packpal/backend/internal/store"
	"github.com/packpal/backend/pkg/queue"
	"github.com/packpal/backend/pkg/storage"
)

// Archives serves packing-list archives of ended events.
type Archives interface {
	ArchiveURL(ctx context.Context, eventID uuid.UUID) (string, error)
}

// Jobs enqueues archive uploads.
type Jobs interface {
	EnqueueEventArchive(ctx context.Context, payload queue.EventArchivePayload) error
}

// Input holds the editable fields of an event. On update nil fields are left unchanged.
type Input struct {
	Name        *string
	Description *string
	Location    *string
	Source      *string
	Destination *string
	StartDate   *time.Time
	EndDate     *time.Time
}

// Details is an event with everything its page shows.
type Details struct {
	models.Event
	Owner    *models.UserPublic  `json:"owner,omitempty"`
	Members  []models.MemberView `json:"members"`
	Items    []models.Item       `json:"items"`
	Progress Progress            `json:"progress"`
}

// Progress summarizes item completion of an event.
type Progress struct {
	EventID uuid.UUID                 `json:"event_id"`
	Total   int                       `json:"total"`
	Packed  int                       `json:"packed"`
	Ratio   float64                   `json:"ratio"`
	Percent int                       `json:"percent"`
	Counts  map[models.ItemStatus]int `json:"counts"`
	Status  models.EventStatus        `json:"status"`
	Derived models.EventStatus        `json:"derived_status"`
}

// Service is the event aggregate.
type Service struct {
	store    store.Store
	pub      realtime.Publisher
	archives Archives
	jobs     Jobs
	logger   *zap.Logger
}

// NewService creates an event service. pub may be nil.
func NewService(st store.Store, pub realtime.Publisher, logger *zap.Logger) *Service {
	if pub == nil {
		pub = realtime.NopPublisher{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{store: st, pub: pub, logger: logger}
}

// SetArchives enables archive downloads.
func (s *Service) SetArchives(a Archives) { s.archives = a }

// SetJobs enables archive uploads after End.
func (s *Service) SetJobs(j Jobs) { s.jobs = j }

func validDates(start, end *time.Time) error {
	if start != nil && end != nil && end.Before(*start) {
		return apperr.ErrInvalidDates
	}
	return nil
}

func str(p *string) string {
	if p == nil {
		return ""
	}
	return strings.TrimSpace(*p)
}

// Create opens a new event owned by owner. The owner entry is written in the same transaction.
func (s *Service) Create(ctx context.Context, owner uuid.UUID, in Input) (*models.Event, error) {
	name := str(in.Name)
	if name == "" {
		return nil, apperr.ErrNameRequired
	}
	if err := validDates(in.StartDate, in.EndDate); err != nil {
		return nil, err
	}
	ev := &models.Event{
		Name:        name,
		Description: str(in.Description),
		Location:    str(in.Location),
		Source:      str(in.Source),
		Destination: str(in.Destination),
		StartDate:   in.StartDate,
		EndDate:     in.EndDate,
		OwnerID:     owner,
		Status:      models.EventStatusPlanning,
	}
	err := s.store.Tx(ctx, func(q store.Querier) error {
		u, err := q.GetUserByID(ctx, owner)
		if errors.Is(err, store.ErrNotFound) {
			return apperr.ErrUserNotFound
		}
		if err != nil {
			return apperr.Unavailable("get user", err)
		}
		if err := q.CreateEvent(ctx, ev); err != nil {
			return apperr.Unavailable("create event", err)
		}
		_, err = members.AddOwner(ctx, q, ev.ID, owner, u.Email)
		return err
	})
	if err != nil {
		return nil, err
	}
	s.logger.Info("event created", zap.String("event_id", ev.ID.String()), zap.String("owner_id", owner.String()))
	return ev, nil
}

func (s *Service) getEvent(ctx context.Context, q store.Querier, eventID uuid.UUID) (*models.Event, error) {
	ev, err := q.GetEvent(ctx, eventID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, apperr.ErrEventNotFound
	}
	if err != nil {
		return nil, apperr.Unavailable("get event", err)
	}
	return ev, nil
}

// Get returns the event with its owner, members, items and progress. Any accepted member may read.
func (s *Service) Get(ctx context.Context, eventID, actor uuid.UUID) (*Details, error) {
	ev, err := s.getEvent(ctx, s.store, eventID)
	if err != nil {
		return nil, err
	}
	if _, err := members.Require(ctx, s.store, eventID, actor, models.AnyRole...); err != nil {
		return nil, err
	}
	d := &Details{Event: *ev, Members: []models.MemberView{}, Items: []models.Item{}}
	if owner, err := s.store.GetUserByID(ctx, ev.OwnerID); err == nil {
		p := owner.ToPublic()
		d.Owner = &p
	}
	if list, err := s.store.ListMembers(ctx, eventID); err != nil {
		return nil, apperr.Unavailable("list members", err)
	} else if list != nil {
		d.Members = list
	}
	if items, err := s.store.ListItems(ctx, eventID); err != nil {
		return nil, apperr.Unavailable("list items", err)
	} else if items != nil {
		d.Items = items
	}
	d.Progress = progressOf(ev, countItems(d.Items))
	return d, nil
}

// ListMine returns events the user has accepted membership of, optionally filtered by status.
func (s *Service) ListMine(ctx context.Context, userID uuid.UUID, status *models.EventStatus) ([]models.Event, error) {
	if status != nil && !status.Valid() {
		return nil, apperr.Invalid("unknown status filter")
	}
	list, err := s.store.ListEventsForUser(ctx, userID, status)
	if err != nil {
		return nil, apperr.Unavailable("list events", err)
	}
	if list == nil {
		list = []models.Event{}
	}
	return list, nil
}

// Update edits an open event. Owner and admins only.
func (s *Service) Update(ctx context.Context, eventID, actor uuid.UUID, in Input) (*models.Event, error) {
	if in.Name != nil && str(in.Name) == "" {
		return nil, apperr.ErrNameRequired
	}
	var updated models.Event
	err := s.store.Tx(ctx, func(q store.Querier) error {
		ev, err := openEvent(ctx, q, eventID, actor, models.EditorRoles...)
		if err != nil {
			return err
		}
		if in.Name != nil {
			ev.Name = str(in.Name)
		}
		if in.Description != nil {
			ev.Description = str(in.Description)
		}
		if in.Location != nil {
			ev.Location = str(in.Location)
		}
		if in.Source != nil {
			ev.Source = str(in.Source)
		}
		if in.Destination != nil {
			ev.Destination = str(in.Destination)
		}
		if in.StartDate != nil {
			ev.StartDate = in.StartDate
		}
		if in.EndDate != nil {
			ev.EndDate = in.EndDate
		}
		if err := validDates(ev.StartDate, ev.EndDate); err != nil {
			return err
		}
		if err := q.UpdateEvent(ctx, ev); err != nil {
			return apperr.Unavailable("update event", err)
		}
		updated = *ev
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.pub.Publish(eventID, realtime.NewChange(realtime.ChangeEventUpdated, eventID, actor, updated))
	return &updated, nil
}

// openEvent locks an event that is not ended and checks the actor's role.
func openEvent(ctx context.Context, q store.Querier, eventID, actor uuid.UUID, roles ...models.Role) (*models.Event, error) {
	ev, err := members.LockEvent(ctx, q, eventID)
	if err != nil {
		return nil, err
	}
	if _, err := members.Require(ctx, q, eventID, actor, roles...); err != nil {
		return nil, err
	}
	if ev.Ended() {
		return nil, apperr.ErrAlreadyEnded
	}
	return ev, nil
}

// Delete removes an open event with its members and items. Owner only.
func (s *Service) Delete(ctx context.Context, eventID, actor uuid.UUID) error {
	err := s.store.Tx(ctx, func(q store.Querier) error {
		if _, err := openEvent(ctx, q, eventID, actor, models.OwnerOnly...); err != nil {
			return err
		}
		if err := q.DeleteEvent(ctx, eventID); err != nil {
			return apperr.Unavailable("delete event", err)
		}
		return nil
	})
	if err != nil {
		return err
	}
	s.pub.Publish(eventID, realtime.NewChange(realtime.ChangeEventDeleted, eventID, actor, nil))
	s.logger.Info("event deleted", zap.String("event_id", eventID.String()))
	return nil
}

// End moves the event to its terminal state. Owner only; ending twice fails.
func (s *Service) End(ctx context.Context, eventID, actor uuid.UUID) (*models.Event, error) {
	var ended models.Event
	err := s.store.Tx(ctx, func(q store.Querier) error {
		ev, err := openEvent(ctx, q, eventID, actor, models.OwnerOnly...)
		if err != nil {
			return err
		}
		ev.Status = models.EventStatusEnded
		if err := q.UpdateEvent(ctx, ev); err != nil {
			return apperr.Unavailable("end event", err)
		}
		ended = *ev
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.pub.Publish(eventID, realtime.NewChange(realtime.ChangeEventEnded, eventID, actor, ended))
	if s.jobs != nil {
		if err := s.jobs.EnqueueEventArchive(ctx, queue.EventArchivePayload{EventID: eventID}); err != nil {
			s.logger.Warn("enqueue event archive", zap.String("event_id", eventID.String()), zap.Error(err))
		}
	}
	s.logger.Info("event ended", zap.String("event_id", eventID.String()))
	return &ended, nil
}

// Recompute derives the status of an open event from its items and stores it.
// Must run inside the transaction that changed the items, after LockEvent.
// Ended events are left untouched. Reports whether the status changed.
func Recompute(ctx context.Context, q store.Querier, eventID uuid.UUID) (*models.Event, bool, error) {
	ev, err := q.GetEvent(ctx, eventID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, false, apperr.ErrEventNotFound
	}
	if err != nil {
		return nil, false, apperr.Unavailable("get event", err)
	}
	if ev.Ended() {
		return ev, false, nil
	}
	counts, err := q.CountItemsByStatus(ctx, eventID)
	if err != nil {
		return nil, false, apperr.Unavailable("count items", err)
	}
	total, packed := tally(counts)
	next := models.DeriveStatus(total, packed)
	if next == ev.Status {
		return ev, false, nil
	}
	ev.Status = next
	if err := q.UpdateEvent(ctx, ev); err != nil {
		return nil, false, apperr.Unavailable("update event status", err)
	}
	return ev, true, nil
}

func tally(counts map[models.ItemStatus]int) (total, packed int) {
	for status, n := range counts {
		total += n
		if status.Packed() {
			packed += n
		}
	}
	return total, packed
}

func countItems(items []models.Item) map[models.ItemStatus]int {
	counts := make(map[models.ItemStatus]int, len(models.ItemStatuses))
	for _, i := range items {
		counts[i.Status]++
	}
	return counts
}

func progressOf(ev *models.Event, counts map[models.ItemStatus]int) Progress {
	full := make(map[models.ItemStatus]int, len(models.ItemStatuses))
	for _, s := range models.ItemStatuses {
		full[s] = counts[s]
	}
	total, packed := tally(full)
	ratio := models.PackedRatio(total, packed)
	return Progress{
		EventID: ev.ID,
		Total:   total,
		Packed:  packed,
		Ratio:   ratio,
		Percent: int(ratio*100 + 0.5),
		Counts:  full,
		Status:  ev.Status,
		Derived: models.DeriveStatus(total, packed),
	}
}

// Progress returns item counts and the packed ratio. Any accepted member may read.
func (s *Service) Progress(ctx context.Context, eventID, actor uuid.UUID) (*Progress, error) {
	ev, err := s.getEvent(ctx, s.store, eventID)
	if err != nil {
		return nil, err
	}
	if _, err := members.Require(ctx, s.store, eventID, actor, models.AnyRole...); err != nil {
		return nil, err
	}
	counts, err := s.store.CountItemsByStatus(ctx, eventID)
	if err != nil {
		return nil, apperr.Unavailable("count items", err)
	}
	p := progressOf(ev, counts)
	return &p, nil
}

// ArchiveURL returns a download link for the packing-list archive of an ended event.
func (s *Service) ArchiveURL(ctx context.Context, eventID, actor uuid.UUID) (string, error) {
	ev, err := s.getEvent(ctx, s.store, eventID)
	if err != nil {
		return "", err
	}
	if _, err := members.Require(ctx, s.store, eventID, actor, models.AnyRole...); err != nil {
		return "", err
	}
	if !ev.Ended() || s.archives == nil {
		return "", apperr.ErrArchiveNotFound
	}
	url, err := s.archives.ArchiveURL(ctx, eventID)
	if errors.Is(err, storage.ErrObjectNotFound) {
		return "", apperr.ErrArchiveNotFound
	}
	if err != nil {
		return "", apperr.Unavailable("archive url", err)
	}
	return url, nil
}

// Archive is the packing-list snapshot stored when an event ends.
type Archive struct {
	Event      models.Event        `json:"event"`
	Members    []models.MemberView `json:"members"`
	Items      []models.Item       `json:"items"`
	Progress   Progress            `json:"progress"`
	ArchivedAt time.Time           `json:"archived_at"`
}

// BuildArchive snapshots an event for storage.
func BuildArchive(ctx context.Context, q store.Querier, eventID uuid.UUID) (*Archive, error) {
	ev, err := q.GetEvent(ctx, eventID)
	if err != nil {
		return nil, err
	}
	list, err := q.ListMembers(ctx, eventID)
	if err != nil {
		return nil, err
	}
	for i := range list {
		list[i].InviteToken = nil
	}
	items, err := q.ListItems(ctx, eventID)
	if err != nil {
		return nil, err
	}
	return &Archive{
		Event:      *ev,
		Members:    list,
		Items:      items,
		Progress:   progressOf(ev, countItems(items)),
		ArchivedAt: time.Now().UTC(),
	}, nil
}
