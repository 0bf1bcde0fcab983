package store

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/packpal/backend/internal/models"
)

// Memory is an in-process Store. A transaction holds the store lock for its
// whole duration and is rolled back by restoring a snapshot.
type Memory struct {
	*memQueries

	mu   sync.Mutex
	data memData
	last time.Time
}

type memData struct {
	users   map[uuid.UUID]models.User
	events  map[uuid.UUID]models.Event
	members map[uuid.UUID]models.Membership
	items   map[uuid.UUID]models.Item
	emails  map[uuid.UUID]models.EmailLog
}

func newMemData() memData {
	return memData{
		users:   make(map[uuid.UUID]models.User),
		events:  make(map[uuid.UUID]models.Event),
		members: make(map[uuid.UUID]models.Membership),
		items:   make(map[uuid.UUID]models.Item),
		emails:  make(map[uuid.UUID]models.EmailLog),
	}
}

func (d memData) clone() memData {
	c := newMemData()
	for k, v := range d.users {
		c.users[k] = v
	}
	for k, v := range d.events {
		c.events[k] = v
	}
	for k, v := range d.members {
		c.members[k] = v
	}
	for k, v := range d.items {
		c.items[k] = v
	}
	for k, v := range d.emails {
		c.emails[k] = v
	}
	return c
}

// NewMemory returns an empty in-memory store.
func NewMemory() *Memory {
	m := &Memory{data: newMemData()}
	m.memQueries = &memQueries{m: m}
	return m
}

// Tx runs fn with exclusive access to the store.
func (m *Memory) Tx(ctx context.Context, fn func(q Querier) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	snapshot := m.data.clone()
	if err := fn(&memQueries{m: m, inTx: true}); err != nil {
		m.data = snapshot
		return err
	}
	return nil
}

// now returns strictly increasing timestamps so ordering by creation time is stable.
func (m *Memory) now() time.Time {
	t := time.Now().UTC()
	if !t.After(m.last) {
		t = m.last.Add(time.Microsecond)
	}
	m.last = t
	return t
}

type memQueries struct {
	m    *Memory
	inTx bool
}

func (q *memQueries) enter() func() {
	if q.inTx {
		return func() {}
	}
	q.m.mu.Lock()
	return q.m.mu.Unlock
}

func (q *memQueries) d() *memData { return &q.m.data }

func conflict(what string) error { return fmt.Errorf("%w: %s", ErrConflict, what) }

// ===== Users =====

func (q *memQueries) CreateUser(_ context.Context, u *models.User) error {
	defer q.enter()()
	for _, existing := range q.d().users {
		if existing.Email == u.Email {
			return conflict("users_email_key")
		}
	}
	u.ID = uuid.New()
	u.CreatedAt = q.m.now()
	u.UpdatedAt = u.CreatedAt
	q.d().users[u.ID] = *u
	return nil
}

func (q *memQueries) GetUserByID(_ context.Context, id uuid.UUID) (*models.User, error) {
	defer q.enter()()
	u, ok := q.d().users[id]
	if !ok {
		return nil, ErrNotFound
	}
	return &u, nil
}

func (q *memQueries) GetUserByEmail(_ context.Context, email string) (*models.User, error) {
	defer q.enter()()
	for _, u := range q.d().users {
		if u.Email == email {
			u := u
			return &u, nil
		}
	}
	return nil, ErrNotFound
}

func (q *memQueries) UpdateUserPassword(_ context.Context, id uuid.UUID, hash string) error {
	defer q.enter()()
	u, ok := q.d().users[id]
	if !ok {
		return ErrNotFound
	}
	u.Password = hash
	u.UpdatedAt = q.m.now()
	q.d().users[id] = u
	return nil
}

func (q *memQueries) TouchLastLogin(_ context.Context, id uuid.UUID, at time.Time) error {
	defer q.enter()()
	u, ok := q.d().users[id]
	if !ok {
		return ErrNotFound
	}
	u.LastLogin = &at
	q.d().users[id] = u
	return nil
}

// ===== Events =====

func (q *memQueries) CreateEvent(_ context.Context, e *models.Event) error {
	defer q.enter()()
	e.ID = uuid.New()
	e.CreatedAt = q.m.now()
	e.UpdatedAt = e.CreatedAt
	q.d().events[e.ID] = *e
	return nil
}

func (q *memQueries) GetEvent(_ context.Context, id uuid.UUID) (*models.Event, error) {
	defer q.enter()()
	e, ok := q.d().events[id]
	if !ok {
		return nil, ErrNotFound
	}
	return &e, nil
}

func (q *memQueries) LockEvent(ctx context.Context, id uuid.UUID) (*models.Event, error) {
	return q.GetEvent(ctx, id)
}

func (q *memQueries) ListEventsForUser(_ context.Context, userID uuid.UUID, status *models.EventStatus) ([]models.Event, error) {
	defer q.enter()()
	var list []models.Event
	for _, m := range q.d().members {
		if !m.HeldBy(userID) || !m.Accepted() {
			continue
		}
		e, ok := q.d().events[m.EventID]
		if !ok {
			continue
		}
		if status != nil && e.Status != *status {
			continue
		}
		list = append(list, e)
	}
	sort.Slice(list, func(i, j int) bool { return list[i].CreatedAt.After(list[j].CreatedAt) })
	return list, nil
}

func (q *memQueries) UpdateEvent(_ context.Context, e *models.Event) error {
	defer q.enter()()
	if _, ok := q.d().events[e.ID]; !ok {
		return ErrNotFound
	}
	e.UpdatedAt = q.m.now()
	q.d().events[e.ID] = *e
	return nil
}

func (q *memQueries) DeleteEvent(_ context.Context, id uuid.UUID) error {
	defer q.enter()()
	d := q.d()
	if _, ok := d.events[id]; !ok {
		return ErrNotFound
	}
	delete(d.events, id)
	for k, m := range d.members {
		if m.EventID == id {
			delete(d.members, k)
		}
	}
	for k, i := range d.items {
		if i.EventID == id {
			delete(d.items, k)
		}
	}
	for k, l := range d.emails {
		if l.EventID == id {
			delete(d.emails, k)
		}
	}
	return nil
}

// ===== Memberships =====

func (q *memQueries) checkMembershipUnique(m *models.Membership) error {
	for _, other := range q.d().members {
		if other.ID == m.ID {
			continue
		}
		if m.InviteToken != nil && other.InviteToken != nil && *other.InviteToken == *m.InviteToken {
			return conflict("event_members_invite_token_key")
		}
		if other.EventID != m.EventID {
			continue
		}
		switch {
		case other.InviteEmail == m.InviteEmail:
			return conflict("event_members_event_id_invite_email_key")
		case m.UserID != nil && other.HeldBy(*m.UserID):
			return conflict("uq_event_members_user")
		case m.Role == models.RoleOwner && other.Role == models.RoleOwner:
			return conflict("uq_event_members_owner")
		}
	}
	return nil
}

func (q *memQueries) CreateMembership(_ context.Context, m *models.Membership) error {
	defer q.enter()()
	if _, ok := q.d().events[m.EventID]; !ok {
		return ErrNotFound
	}
	m.ID = uuid.New()
	if err := q.checkMembershipUnique(m); err != nil {
		return err
	}
	m.CreatedAt = q.m.now()
	m.UpdatedAt = m.CreatedAt
	q.d().members[m.ID] = *m
	return nil
}

func (q *memQueries) GetMembership(_ context.Context, id uuid.UUID) (*models.Membership, error) {
	defer q.enter()()
	m, ok := q.d().members[id]
	if !ok {
		return nil, ErrNotFound
	}
	return &m, nil
}

func (q *memQueries) findMembership(match func(models.Membership) bool) (*models.Membership, error) {
	defer q.enter()()
	for _, m := range q.d().members {
		if match(m) {
			m := m
			return &m, nil
		}
	}
	return nil, ErrNotFound
}

func (q *memQueries) GetMembershipByToken(_ context.Context, token string) (*models.Membership, error) {
	return q.findMembership(func(m models.Membership) bool {
		return m.InviteToken != nil && *m.InviteToken == token
	})
}

func (q *memQueries) GetMembershipByEventUser(_ context.Context, eventID, userID uuid.UUID) (*models.Membership, error) {
	return q.findMembership(func(m models.Membership) bool {
		return m.EventID == eventID && m.HeldBy(userID)
	})
}

func (q *memQueries) GetMembershipByEventEmail(_ context.Context, eventID uuid.UUID, email string) (*models.Membership, error) {
	return q.findMembership(func(m models.Membership) bool {
		return m.EventID == eventID && m.InviteEmail == email
	})
}

func (q *memQueries) ListMembers(_ context.Context, eventID uuid.UUID) ([]models.MemberView, error) {
	defer q.enter()()
	var list []models.MemberView
	for _, m := range q.d().members {
		if m.EventID != eventID {
			continue
		}
		v := models.MemberView{Membership: m}
		if m.UserID != nil {
			if u, ok := q.d().users[*m.UserID]; ok {
				v.FirstName, v.LastName = u.FirstName, u.LastName
			}
		}
		list = append(list, v)
	}
	sort.Slice(list, func(i, j int) bool { return list[i].CreatedAt.Before(list[j].CreatedAt) })
	return list, nil
}

func (q *memQueries) UpdateMembership(_ context.Context, m *models.Membership) error {
	defer q.enter()()
	existing, ok := q.d().members[m.ID]
	if !ok {
		return ErrNotFound
	}
	m.EventID = existing.EventID
	m.InviteEmail = existing.InviteEmail
	if err := q.checkMembershipUnique(m); err != nil {
		return err
	}
	m.UpdatedAt = q.m.now()
	q.d().members[m.ID] = *m
	return nil
}

func (q *memQueries) DeleteMembership(_ context.Context, id uuid.UUID) error {
	defer q.enter()()
	if _, ok := q.d().members[id]; !ok {
		return ErrNotFound
	}
	delete(q.d().members, id)
	return nil
}

// ===== Items =====

func (q *memQueries) CreateItem(_ context.Context, i *models.Item) error {
	defer q.enter()()
	if _, ok := q.d().events[i.EventID]; !ok {
		return ErrNotFound
	}
	i.ID = uuid.New()
	i.CreatedAt = q.m.now()
	i.UpdatedAt = i.CreatedAt
	q.d().items[i.ID] = *i
	return nil
}

func (q *memQueries) GetItem(_ context.Context, id uuid.UUID) (*models.Item, error) {
	defer q.enter()()
	i, ok := q.d().items[id]
	if !ok {
		return nil, ErrNotFound
	}
	return &i, nil
}

func (q *memQueries) ListItems(_ context.Context, eventID uuid.UUID) ([]models.Item, error) {
	defer q.enter()()
	var list []models.Item
	for _, i := range q.d().items {
		if i.EventID == eventID {
			list = append(list, i)
		}
	}
	sort.Slice(list, func(a, b int) bool { return list[a].CreatedAt.Before(list[b].CreatedAt) })
	return list, nil
}

func (q *memQueries) UpdateItem(_ context.Context, i *models.Item) error {
	defer q.enter()()
	if _, ok := q.d().items[i.ID]; !ok {
		return ErrNotFound
	}
	i.UpdatedAt = q.m.now()
	q.d().items[i.ID] = *i
	return nil
}

func (q *memQueries) DeleteItem(_ context.Context, id uuid.UUID) error {
	defer q.enter()()
	if _, ok := q.d().items[id]; !ok {
		return ErrNotFound
	}
	delete(q.d().items, id)
	return nil
}

func (q *memQueries) CountItemsByStatus(_ context.Context, eventID uuid.UUID) (map[models.ItemStatus]int, error) {
	defer q.enter()()
	counts := make(map[models.ItemStatus]int, len(models.ItemStatuses))
	for _, i := range q.d().items {
		if i.EventID == eventID {
			counts[i.Status]++
		}
	}
	return counts, nil
}

// ===== Email logs =====

func (q *memQueries) CreateEmailLog(_ context.Context, l *models.EmailLog) error {
	defer q.enter()()
	l.ID = uuid.New()
	l.CreatedAt = q.m.now()
	q.d().emails[l.ID] = *l
	return nil
}

func (q *memQueries) UpdateEmailLog(_ context.Context, l *models.EmailLog) error {
	defer q.enter()()
	existing, ok := q.d().emails[l.ID]
	if !ok {
		return ErrNotFound
	}
	existing.Status = l.Status
	existing.SentAt = l.SentAt
	existing.ErrorMessage = l.ErrorMessage
	q.d().emails[l.ID] = existing
	return nil
}

func (q *memQueries) ListEmailLogs(_ context.Context, eventID uuid.UUID) ([]models.EmailLog, error) {
	defer q.enter()()
	var list []models.EmailLog
	for _, l := range q.d().emails {
		if l.EventID == eventID {
			list = append(list, l)
		}
	}
	sort.Slice(list, func(i, j int) bool { return list[i].CreatedAt.After(list[j].CreatedAt) })
	return list, nil
}
