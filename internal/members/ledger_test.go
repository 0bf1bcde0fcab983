package members

import (
	"context"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/packpal/backend/internal/apperr"
	"github.com/packpal/backend/internal/auth"
	"github.com/packpal/backend/internal/models"
	"github.com/packpal/backend/internal/realtime"
	"github.com/packpal/backend/internal/store"
	"github.com/packpal/backend/pkg/queue"
	"github.com/packpal/backend/pkg/utils"
)

type fakeJobs struct {
	mu      sync.Mutex
	invites []queue.InviteEmailPayload
}

func (f *fakeJobs) EnqueueInviteEmail(_ context.Context, p queue.InviteEmailPayload) error {
	f.mu.Lock()
	f.invites = append(f.invites, p)
	f.mu.Unlock()
	return nil
}

type fixture struct {
	ctx    context.Context
	store  *store.Memory
	auth   *auth.Service
	ledger *Ledger
	pub    *realtime.Recorder
	jobs   *fakeJobs
	owner  *models.User
	event  *models.Event
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		ctx:   context.Background(),
		store: store.NewMemory(),
		pub:   &realtime.Recorder{},
		jobs:  &fakeJobs{},
	}
	f.auth = auth.NewService(f.store, auth.NewJWTService("test-secret", 1), nil)
	f.ledger = NewLedger(f.store, f.auth, f.pub, nil)
	f.ledger.SetJobs(f.jobs)
	f.owner = f.register(t, "owner@example.com", "Olive")
	f.event = f.newEvent(t, f.owner)
	return f
}

func (f *fixture) register(t *testing.T, email, first string) *models.User {
	t.Helper()
	sess, err := f.auth.Register(f.ctx, auth.RegisterInput{Email: email, Password: "secret1", FirstName: first})
	require.NoError(t, err)
	u, err := f.store.GetUserByID(f.ctx, sess.User.ID)
	require.NoError(t, err)
	return u
}

func (f *fixture) newEvent(t *testing.T, owner *models.User) *models.Event {
	t.Helper()
	ev := &models.Event{Name: "Lake trip", OwnerID: owner.ID, Status: models.EventStatusPlanning}
	require.NoError(t, f.store.Tx(f.ctx, func(q store.Querier) error {
		if err := q.CreateEvent(f.ctx, ev); err != nil {
			return err
		}
		_, err := AddOwner(f.ctx, q, ev.ID, owner.ID, owner.Email)
		return err
	}))
	return ev
}

// join adds user as an accepted member with role.
func (f *fixture) join(t *testing.T, user *models.User, role models.Role) *models.Membership {
	t.Helper()
	res, err := f.ledger.InviteDirect(f.ctx, f.event.ID, f.owner.ID, InviteInput{Email: user.Email, Role: role})
	require.NoError(t, err)
	return &res.Membership
}

func (f *fixture) end(t *testing.T) {
	t.Helper()
	ev, err := f.store.GetEvent(f.ctx, f.event.ID)
	require.NoError(t, err)
	ev.Status = models.EventStatusEnded
	require.NoError(t, f.store.UpdateEvent(f.ctx, ev))
}

func TestAddOwnerIsUnique(t *testing.T) {
	f := newFixture(t)
	other := f.register(t, "other@example.com", "Oscar")
	err := f.store.Tx(f.ctx, func(q store.Querier) error {
		_, err := AddOwner(f.ctx, q, f.event.ID, other.ID, other.Email)
		return err
	})
	assert.ErrorIs(t, err, apperr.ErrDuplicateOwner)
}

func TestAuthorize(t *testing.T) {
	f := newFixture(t)
	viewer := f.register(t, "v@example.com", "Vic")
	f.join(t, viewer, models.RoleViewer)

	ok, err := f.ledger.Authorize(f.ctx, f.event.ID, f.owner.ID, models.OwnerOnly...)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = f.ledger.Authorize(f.ctx, f.event.ID, viewer.ID, models.EditorRoles...)
	require.NoError(t, err)
	assert.False(t, ok)

	ok, err = f.ledger.Authorize(f.ctx, f.event.ID, viewer.ID, models.AnyRole...)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = f.ledger.Authorize(f.ctx, f.event.ID, uuid.New(), models.AnyRole...)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestInviteCreatesPendingEntry(t *testing.T) {
	f := newFixture(t)

	res, err := f.ledger.Invite(f.ctx, f.event.ID, f.owner.ID, InviteInput{Email: " New@Example.com ", Role: models.RoleMember})
	require.NoError(t, err)
	assert.Equal(t, models.InviteStatusPending, res.Membership.InviteStatus)
	assert.Equal(t, "new@example.com", res.Membership.InviteEmail)
	assert.Nil(t, res.Membership.UserID)
	assert.NotEmpty(t, res.Token)
	assert.Empty(t, res.TemporaryPassword)

	require.Len(t, f.jobs.invites, 1)
	assert.Equal(t, res.Token, f.jobs.invites[0].Token)
	assert.Equal(t, "Olive", f.jobs.invites[0].InviterName)
	assert.Equal(t, []realtime.ChangeType{realtime.ChangeMemberInvited}, f.pub.Types())

	// Pending entries never authorize.
	ok, err := f.ledger.Authorize(f.ctx, f.event.ID, uuid.New(), models.AnyRole...)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestInviteSameEmailTwice(t *testing.T) {
	f := newFixture(t)
	_, err := f.ledger.Invite(f.ctx, f.event.ID, f.owner.ID, InviteInput{Email: "twice@example.com", Role: models.RoleMember})
	require.NoError(t, err)

	_, err = f.ledger.Invite(f.ctx, f.event.ID, f.owner.ID, InviteInput{Email: "TWICE@example.com", Role: models.RoleViewer})
	assert.ErrorIs(t, err, apperr.ErrAlreadyInvited)
	_, err = f.ledger.InviteDirect(f.ctx, f.event.ID, f.owner.ID, InviteInput{Email: "twice@example.com"})
	assert.ErrorIs(t, err, apperr.ErrAlreadyInvited)

	list, err := f.ledger.List(f.ctx, f.event.ID, f.owner.ID)
	require.NoError(t, err)
	assert.Len(t, list, 2)
}

func TestInviteExistingMember(t *testing.T) {
	f := newFixture(t)
	_, err := f.ledger.Invite(f.ctx, f.event.ID, f.owner.ID, InviteInput{Email: f.owner.Email, Role: models.RoleAdmin})
	assert.ErrorIs(t, err, apperr.ErrAlreadyInvited)
}

func TestInviteValidation(t *testing.T) {
	f := newFixture(t)
	member := f.register(t, "m@example.com", "Mia")
	f.join(t, member, models.RoleMember)

	_, err := f.ledger.Invite(f.ctx, f.event.ID, f.owner.ID, InviteInput{Email: "bad", Role: models.RoleMember})
	assert.ErrorIs(t, err, apperr.ErrInvalidEmail)

	_, err = f.ledger.Invite(f.ctx, f.event.ID, f.owner.ID, InviteInput{Email: "x@example.com", Role: models.RoleOwner})
	assert.ErrorIs(t, err, apperr.ErrInvalidRole)

	_, err = f.ledger.Invite(f.ctx, f.event.ID, member.ID, InviteInput{Email: "x@example.com", Role: models.RoleMember})
	assert.ErrorIs(t, err, apperr.ErrForbidden)

	_, err = f.ledger.Invite(f.ctx, uuid.New(), f.owner.ID, InviteInput{Email: "x@example.com"})
	assert.ErrorIs(t, err, apperr.ErrEventNotFound)
}

func TestInviteDefaultsToMember(t *testing.T) {
	f := newFixture(t)
	res, err := f.ledger.Invite(f.ctx, f.event.ID, f.owner.ID, InviteInput{Email: "d@example.com"})
	require.NoError(t, err)
	assert.Equal(t, models.RoleMember, res.Membership.Role)
}

func TestInviteDirectProvisionsAccount(t *testing.T) {
	f := newFixture(t)

	res, err := f.ledger.InviteDirect(f.ctx, f.event.ID, f.owner.ID, InviteInput{Email: "fresh@example.com", Role: models.RoleViewer})
	require.NoError(t, err)
	assert.True(t, res.AccountCreated)
	assert.Equal(t, models.InviteStatusAccepted, res.Membership.InviteStatus)
	assert.Nil(t, res.Membership.InviteToken)
	require.NotNil(t, res.Membership.UserID)
	assert.GreaterOrEqual(t, len(res.TemporaryPassword), 12)

	u, err := f.store.GetUserByEmail(f.ctx, "fresh@example.com")
	require.NoError(t, err)
	assert.Equal(t, *res.Membership.UserID, u.ID)
	assert.NotEqual(t, res.TemporaryPassword, u.Password)
	assert.True(t, utils.CheckPassword(res.TemporaryPassword, u.Password))

	_, err = f.auth.Login(f.ctx, "fresh@example.com", res.TemporaryPassword)
	assert.NoError(t, err)

	require.Len(t, f.jobs.invites, 1)
	assert.Empty(t, f.jobs.invites[0].Token)
	assert.Equal(t, []realtime.ChangeType{realtime.ChangeMemberJoined}, f.pub.Types())
}

func TestInviteDirectLinksExistingAccount(t *testing.T) {
	f := newFixture(t)
	known := f.register(t, "known@example.com", "Kim")

	res, err := f.ledger.InviteDirect(f.ctx, f.event.ID, f.owner.ID, InviteInput{Email: known.Email, Role: models.RoleAdmin})
	require.NoError(t, err)
	assert.False(t, res.AccountCreated)
	assert.Empty(t, res.TemporaryPassword)
	require.NotNil(t, res.Membership.UserID)
	assert.Equal(t, known.ID, *res.Membership.UserID)
}

func TestAcceptRoundTrip(t *testing.T) {
	f := newFixture(t)
	inv, err := f.ledger.Invite(f.ctx, f.event.ID, f.owner.ID, InviteInput{Email: "guest@example.com", Role: models.RoleMember})
	require.NoError(t, err)

	details, err := f.ledger.GetInvite(f.ctx, inv.Token)
	require.NoError(t, err)
	assert.False(t, details.UserExists)
	assert.Equal(t, "Lake trip", details.EventName)
	assert.Equal(t, "Olive", details.InviterName)

	_, err = f.ledger.AcceptInvite(f.ctx, inv.Token, nil)
	assert.ErrorIs(t, err, apperr.ErrPasswordRequired)

	res, err := f.ledger.AcceptInvite(f.ctx, inv.Token, &CredentialSetup{FirstName: "Gus", Password: "secret1"})
	require.NoError(t, err)
	assert.Equal(t, models.InviteStatusAccepted, res.Membership.InviteStatus)
	assert.Nil(t, res.Membership.InviteToken)
	require.NotNil(t, res.Membership.UserID)
	assert.Equal(t, res.User.ID, *res.Membership.UserID)
	assert.NotEmpty(t, res.Token)
	assert.Equal(t, f.event.ID, res.Event.ID)

	stored, err := f.store.GetMembership(f.ctx, res.Membership.ID)
	require.NoError(t, err)
	assert.Nil(t, stored.InviteToken)
	assert.True(t, stored.Accepted())

	ok, err := f.ledger.Authorize(f.ctx, f.event.ID, res.User.ID, models.AnyRole...)
	require.NoError(t, err)
	assert.True(t, ok)

	_, err = f.ledger.AcceptInvite(f.ctx, inv.Token, nil)
	assert.ErrorIs(t, err, apperr.ErrInviteNotFound)
}

func TestAcceptWithExistingAccount(t *testing.T) {
	f := newFixture(t)
	known := f.register(t, "known@example.com", "Kim")
	inv, err := f.ledger.Invite(f.ctx, f.event.ID, f.owner.ID, InviteInput{Email: known.Email, Role: models.RoleViewer})
	require.NoError(t, err)
	require.NotNil(t, inv.Membership.UserID)

	details, err := f.ledger.GetInvite(f.ctx, inv.Token)
	require.NoError(t, err)
	assert.True(t, details.UserExists)

	res, err := f.ledger.AcceptInvite(f.ctx, inv.Token, nil)
	require.NoError(t, err)
	assert.Equal(t, known.ID, res.User.ID)
}

func TestDeclineInvite(t *testing.T) {
	f := newFixture(t)
	inv, err := f.ledger.Invite(f.ctx, f.event.ID, f.owner.ID, InviteInput{Email: "nope@example.com"})
	require.NoError(t, err)

	m, err := f.ledger.DeclineInvite(f.ctx, inv.Token)
	require.NoError(t, err)
	assert.Equal(t, models.InviteStatusDeclined, m.InviteStatus)
	assert.Nil(t, m.InviteToken)

	_, err = f.ledger.AcceptInvite(f.ctx, inv.Token, &CredentialSetup{Password: "secret1"})
	assert.ErrorIs(t, err, apperr.ErrInviteNotFound)

	_, err = f.ledger.Invite(f.ctx, f.event.ID, f.owner.ID, InviteInput{Email: "nope@example.com"})
	assert.ErrorIs(t, err, apperr.ErrAlreadyInvited)
}

func TestChangeRole(t *testing.T) {
	f := newFixture(t)
	admin := f.register(t, "a@example.com", "Ada")
	adminEntry := f.join(t, admin, models.RoleAdmin)
	member := f.register(t, "m@example.com", "Mia")
	memberEntry := f.join(t, member, models.RoleMember)

	m, err := f.ledger.ChangeRole(f.ctx, f.event.ID, f.owner.ID, memberEntry.ID, models.RoleViewer)
	require.NoError(t, err)
	assert.Equal(t, models.RoleViewer, m.Role)

	_, err = f.ledger.ChangeRole(f.ctx, f.event.ID, admin.ID, memberEntry.ID, models.RoleAdmin)
	assert.ErrorIs(t, err, apperr.ErrForbidden)

	_, err = f.ledger.ChangeRole(f.ctx, f.event.ID, f.owner.ID, adminEntry.ID, "superuser")
	assert.ErrorIs(t, err, apperr.ErrInvalidRole)

	_, err = f.ledger.ChangeRole(f.ctx, f.event.ID, f.owner.ID, uuid.New(), models.RoleMember)
	assert.ErrorIs(t, err, apperr.ErrMembershipNotFound)
}

func TestOwnerEntryIsProtected(t *testing.T) {
	f := newFixture(t)
	admin := f.register(t, "a@example.com", "Ada")
	f.join(t, admin, models.RoleAdmin)
	ownerEntry, err := f.store.GetMembershipByEventUser(f.ctx, f.event.ID, f.owner.ID)
	require.NoError(t, err)

	_, err = f.ledger.ChangeRole(f.ctx, f.event.ID, f.owner.ID, ownerEntry.ID, models.RoleAdmin)
	assert.ErrorIs(t, err, apperr.ErrInvalidTarget)

	err = f.ledger.Remove(f.ctx, f.event.ID, admin.ID, ownerEntry.ID)
	assert.ErrorIs(t, err, apperr.ErrInvalidTarget)

	err = f.ledger.Remove(f.ctx, f.event.ID, f.owner.ID, ownerEntry.ID)
	assert.ErrorIs(t, err, apperr.ErrInvalidTarget)
}

func TestRemove(t *testing.T) {
	f := newFixture(t)
	admin := f.register(t, "a@example.com", "Ada")
	adminEntry := f.join(t, admin, models.RoleAdmin)
	member := f.register(t, "m@example.com", "Mia")
	memberEntry := f.join(t, member, models.RoleMember)

	item := &models.Item{EventID: f.event.ID, Name: "Tent", Status: models.ItemStatusNotStarted, AssignedToID: &member.ID, CreatedByID: f.owner.ID}
	require.NoError(t, f.store.CreateItem(f.ctx, item))

	err := f.ledger.Remove(f.ctx, f.event.ID, admin.ID, adminEntry.ID)
	assert.ErrorIs(t, err, apperr.ErrInvalidTarget, "self removal")

	err = f.ledger.Remove(f.ctx, f.event.ID, member.ID, adminEntry.ID)
	assert.ErrorIs(t, err, apperr.ErrForbidden)

	require.NoError(t, f.ledger.Remove(f.ctx, f.event.ID, admin.ID, memberEntry.ID))
	ok, err := f.ledger.Authorize(f.ctx, f.event.ID, member.ID, models.AnyRole...)
	require.NoError(t, err)
	assert.False(t, ok)

	got, err := f.store.GetItem(f.ctx, item.ID)
	require.NoError(t, err)
	assert.Nil(t, got.AssignedToID)
}

func TestEndedEventFreezesLedger(t *testing.T) {
	f := newFixture(t)
	member := f.register(t, "m@example.com", "Mia")
	memberEntry := f.join(t, member, models.RoleMember)
	pending, err := f.ledger.Invite(f.ctx, f.event.ID, f.owner.ID, InviteInput{Email: "late@example.com"})
	require.NoError(t, err)
	f.end(t)

	_, err = f.ledger.Invite(f.ctx, f.event.ID, f.owner.ID, InviteInput{Email: "x@example.com"})
	assert.ErrorIs(t, err, apperr.ErrAlreadyEnded)
	_, err = f.ledger.InviteDirect(f.ctx, f.event.ID, f.owner.ID, InviteInput{Email: "x@example.com"})
	assert.ErrorIs(t, err, apperr.ErrAlreadyEnded)
	_, err = f.ledger.ChangeRole(f.ctx, f.event.ID, f.owner.ID, memberEntry.ID, models.RoleViewer)
	assert.ErrorIs(t, err, apperr.ErrAlreadyEnded)
	err = f.ledger.Remove(f.ctx, f.event.ID, f.owner.ID, memberEntry.ID)
	assert.ErrorIs(t, err, apperr.ErrAlreadyEnded)
	_, err = f.ledger.AcceptInvite(f.ctx, pending.Token, &CredentialSetup{Password: "secret1"})
	assert.ErrorIs(t, err, apperr.ErrAlreadyEnded)

	// Reads still work.
	list, err := f.ledger.List(f.ctx, f.event.ID, member.ID)
	require.NoError(t, err)
	assert.Len(t, list, 3)
}

func TestInviteBatch(t *testing.T) {
	f := newFixture(t)
	_, err := f.ledger.Invite(f.ctx, f.event.ID, f.owner.ID, InviteInput{Email: "dup@example.com"})
	require.NoError(t, err)

	outcomes, err := f.ledger.InviteBatch(f.ctx, f.event.ID, f.owner.ID, []InviteInput{
		{Email: "one@example.com", Role: models.RoleMember},
		{Email: "dup@example.com", Role: models.RoleMember},
		{Email: "broken", Role: models.RoleMember},
	}, InviteModeDirect)
	require.NoError(t, err)
	require.Len(t, outcomes, 3)
	assert.Equal(t, OutcomeInvited, outcomes[0].Status)
	assert.True(t, outcomes[0].Result.AccountCreated)
	assert.Equal(t, OutcomeAlreadyInvited, outcomes[1].Status)
	assert.Equal(t, OutcomeError, outcomes[2].Status)
	assert.Equal(t, "invalid_email", outcomes[2].Code)

	_, err = f.ledger.InviteBatch(f.ctx, f.event.ID, f.owner.ID, nil, InviteModeToken)
	assert.Equal(t, apperr.KindInvalidInput, apperr.KindOf(err))

	stranger := f.register(t, "s@example.com", "Sam")
	_, err = f.ledger.InviteBatch(f.ctx, f.event.ID, stranger.ID, []InviteInput{{Email: "z@example.com"}}, InviteModeToken)
	assert.ErrorIs(t, err, apperr.ErrNotMember)
}

func TestListRequiresMembership(t *testing.T) {
	f := newFixture(t)
	stranger := f.register(t, "s@example.com", "Sam")
	_, err := f.ledger.List(f.ctx, f.event.ID, stranger.ID)
	assert.ErrorIs(t, err, apperr.ErrNotMember)
}

func TestConcurrentInvitesOneWins(t *testing.T) {
	f := newFixture(t)
	const n = 20
	errs := make([]error, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			email := "A@x.com"
			if i%2 == 1 {
				email = "a@x.com"
			}
			in := InviteInput{Email: email, Role: models.RoleMember}
			if i%3 == 0 {
				_, errs[i] = f.ledger.InviteDirect(f.ctx, f.event.ID, f.owner.ID, in)
			} else {
				_, errs[i] = f.ledger.Invite(f.ctx, f.event.ID, f.owner.ID, in)
			}
		}(i)
	}
	wg.Wait()

	ok := 0
	for _, err := range errs {
		if err == nil {
			ok++
			continue
		}
		assert.ErrorIs(t, err, apperr.ErrAlreadyInvited)
	}
	assert.Equal(t, 1, ok)

	list, err := f.store.ListMembers(f.ctx, f.event.ID)
	require.NoError(t, err)
	assert.Len(t, list, 2)
}
