package store

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/packpal/backend/internal/models"
)

var (
	// ErrNotFound is returned when no row matches a lookup.
	ErrNotFound = errors.New("store: not found")
	// ErrConflict is returned when a write violates a unique constraint.
	ErrConflict = errors.New("store: conflict")
)

// Querier is the read/write surface shared by the pool and a transaction.
type Querier interface {
	CreateUser(ctx context.Context, u *models.User) error
	GetUserByID(ctx context.Context, id uuid.UUID) (*models.User, error)
	GetUserByEmail(ctx context.Context, email string) (*models.User, error)
	UpdateUserPassword(ctx context.Context, id uuid.UUID, hash string) error
	TouchLastLogin(ctx context.Context, id uuid.UUID, at time.Time) error

	CreateEvent(ctx context.Context, e *models.Event) error
	GetEvent(ctx context.Context, id uuid.UUID) (*models.Event, error)
	// LockEvent reads the event row and holds it until the transaction ends.
	LockEvent(ctx context.Context, id uuid.UUID) (*models.Event, error)
	ListEventsForUser(ctx context.Context, userID uuid.UUID, status *models.EventStatus) ([]models.Event, error)
	UpdateEvent(ctx context.Context, e *models.Event) error
	DeleteEvent(ctx context.Context, id uuid.UUID) error

	CreateMembership(ctx context.Context, m *models.Membership) error
	GetMembership(ctx context.Context, id uuid.UUID) (*models.Membership, error)
	GetMembershipByToken(ctx context.Context, token string) (*models.Membership, error)
	GetMembershipByEventUser(ctx context.Context, eventID, userID uuid.UUID) (*models.Membership, error)
	GetMembershipByEventEmail(ctx context.Context, eventID uuid.UUID, email string) (*models.Membership, error)
	ListMembers(ctx context.Context, eventID uuid.UUID) ([]models.MemberView, error)
	UpdateMembership(ctx context.Context, m *models.Membership) error
	DeleteMembership(ctx context.Context, id uuid.UUID) error

	CreateItem(ctx context.Context, i *models.Item) error
	GetItem(ctx context.Context, id uuid.UUID) (*models.Item, error)
	ListItems(ctx context.Context, eventID uuid.UUID) ([]models.Item, error)
	UpdateItem(ctx context.Context, i *models.Item) error
	DeleteItem(ctx context.Context, id uuid.UUID) error
	CountItemsByStatus(ctx context.Context, eventID uuid.UUID) (map[models.ItemStatus]int, error)

	CreateEmailLog(ctx context.Context, l *models.EmailLog) error
	UpdateEmailLog(ctx context.Context, l *models.EmailLog) error
	ListEmailLogs(ctx context.Context, eventID uuid.UUID) ([]models.EmailLog, error)
}

// Store is a Querier that can also run a function in one transaction.
// If fn returns an error nothing it wrote is kept.
type Store interface {
	Querier
	Tx(ctx context.Context, fn func(q Querier) error) error
}
