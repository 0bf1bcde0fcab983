package members

import (
	"context"
	"errors"

	"github.com/google/uuid"

	"github.com/packpal/backend/internal/apperr"
	"github.com/packpal/backend/internal/models"
	"github.com/packpal/backend/internal/store"
)

// LockEvent loads the event row and holds it for the rest of the transaction,
// so all mutations of one event serialize.
func LockEvent(ctx context.Context, q store.Querier, eventID uuid.UUID) (*models.Event, error) {
	ev, err := q.LockEvent(ctx, eventID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, apperr.ErrEventNotFound
	}
	if err != nil {
		return nil, apperr.Unavailable("lock event", err)
	}
	return ev, nil
}

// Require returns the caller's accepted entry if its role is one of roles.
// Pending or declined entries never authorize.
func Require(ctx context.Context, q store.Querier, eventID, userID uuid.UUID, roles ...models.Role) (*models.Membership, error) {
	m, err := q.GetMembershipByEventUser(ctx, eventID, userID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, apperr.ErrNotMember
	}
	if err != nil {
		return nil, apperr.Unavailable("get membership", err)
	}
	if !m.Accepted() {
		return nil, apperr.ErrNotMember
	}
	if !models.Requires(roles...)(m.Role) {
		return nil, apperr.ErrForbidden
	}
	return m, nil
}

// AddOwner records userID as the owner of a freshly created event. Must run in
// the transaction that created the event.
func AddOwner(ctx context.Context, q store.Querier, eventID, userID uuid.UUID, email string) (*models.Membership, error) {
	m := &models.Membership{
		EventID:      eventID,
		UserID:       &userID,
		Role:         models.RoleOwner,
		InviteStatus: models.InviteStatusAccepted,
		InviteEmail:  models.NormalizeEmail(email),
	}
	if err := q.CreateMembership(ctx, m); err != nil {
		if errors.Is(err, store.ErrConflict) {
			return nil, apperr.ErrDuplicateOwner
		}
		return nil, apperr.Unavailable("create owner membership", err)
	}
	return m, nil
}
