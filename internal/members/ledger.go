package members

import (
	"context"
	"errors"
	"strings"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/packpal/backend/internal/apperr"
	"github.com/packpal/backend/internal/auth"
	"github.com/packpal/backend/internal/models"
	"github.com/packpal/backend/internal/realtime"
	"github.com/packpal/backend/internal/store"
	"github.com/packpal/backend/pkg/queue"
	"github.com/packpal/backend/pkg/utils"
)

const (
	// MaxBatchSize caps the number of addresses in one batch invite.
	MaxBatchSize = 50
	// TemporaryPasswordLength is the length of passwords generated for provisioned accounts.
	TemporaryPasswordLength = 16
)

// Principals creates accounts and signs session tokens.
type Principals interface {
	CreatePrincipal(ctx context.Context, q store.Querier, email, firstName, lastName, passwordHash string) (*models.User, error)
	IssueSessionToken(u *models.User) (string, error)
}

// Jobs enqueues invite mail.
type Jobs interface {
	EnqueueInviteEmail(ctx context.Context, payload queue.InviteEmailPayload) error
}

// InviteInput describes one invitee.
type InviteInput struct {
	Email     string      `json:"email"`
	Role      models.Role `json:"role"`
	FirstName string      `json:"first_name"`
	LastName  string      `json:"last_name"`
}

// InviteResult is the outcome of a single invite. TemporaryPassword is only
// set when a direct invite provisioned a new account, and is returned only here.
type InviteResult struct {
	Membership        models.Membership   `json:"membership"`
	Event             models.EventSummary `json:"event"`
	Token             string              `json:"token,omitempty"`
	TemporaryPassword string              `json:"temporary_password,omitempty"`
	AccountCreated    bool                `json:"account_created"`
}

// InviteDetails is the public view of a pending invite.
type InviteDetails struct {
	Email       string      `json:"email"`
	Role        models.Role `json:"role"`
	EventID     uuid.UUID   `json:"event_id"`
	EventName   string      `json:"event_name"`
	UserExists  bool        `json:"user_exists"`
	FirstName   string      `json:"first_name,omitempty"`
	LastName    string      `json:"last_name,omitempty"`
	InviterName string      `json:"inviter_name"`
}

// CredentialSetup supplies the account details for an invitee without an account.
type CredentialSetup struct {
	FirstName string `json:"first_name"`
	LastName  string `json:"last_name"`
	Password  string `json:"password"`
}

// AcceptResult is returned when an invite is accepted.
type AcceptResult struct {
	Membership models.Membership   `json:"membership"`
	User       models.UserPublic   `json:"user"`
	Token      string              `json:"token"`
	Event      models.EventSummary `json:"event"`
}

// Ledger is the membership ledger and invitation workflow of events.
type Ledger struct {
	store      store.Store
	principals Principals
	pub        realtime.Publisher
	jobs       Jobs
	logger     *zap.Logger
}

// NewLedger creates a ledger. pub may be nil.
func NewLedger(st store.Store, principals Principals, pub realtime.Publisher, logger *zap.Logger) *Ledger {
	if pub == nil {
		pub = realtime.NopPublisher{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Ledger{store: st, principals: principals, pub: pub, logger: logger}
}

// SetJobs enables invite mail. Without it invites are only visible in the app.
func (l *Ledger) SetJobs(j Jobs) { l.jobs = j }

// Authorize reports whether userID holds an accepted entry with one of roles.
func (l *Ledger) Authorize(ctx context.Context, eventID, userID uuid.UUID, roles ...models.Role) (bool, error) {
	_, err := Require(ctx, l.store, eventID, userID, roles...)
	switch {
	case err == nil:
		return true, nil
	case errors.Is(err, apperr.ErrNotMember), errors.Is(err, apperr.ErrForbidden):
		return false, nil
	}
	return false, err
}

// List returns every ledger entry of an event. Any accepted member may list.
func (l *Ledger) List(ctx context.Context, eventID, actor uuid.UUID) ([]models.MemberView, error) {
	if _, err := l.store.GetEvent(ctx, eventID); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, apperr.ErrEventNotFound
		}
		return nil, apperr.Unavailable("get event", err)
	}
	if _, err := Require(ctx, l.store, eventID, actor, models.AnyRole...); err != nil {
		return nil, err
	}
	list, err := l.store.ListMembers(ctx, eventID)
	if err != nil {
		return nil, apperr.Unavailable("list members", err)
	}
	return list, nil
}

// Invite creates a pending entry with a one-time token (token path).
func (l *Ledger) Invite(ctx context.Context, eventID, inviter uuid.UUID, in InviteInput) (*InviteResult, error) {
	return l.invite(ctx, eventID, inviter, in, false)
}

// InviteDirect adds the invitee as an accepted member immediately, provisioning
// an account with a temporary password when none exists.
func (l *Ledger) InviteDirect(ctx context.Context, eventID, inviter uuid.UUID, in InviteInput) (*InviteResult, error) {
	return l.invite(ctx, eventID, inviter, in, true)
}

func normalizeInput(in InviteInput) (string, models.Role, error) {
	email := models.NormalizeEmail(in.Email)
	if !utils.ValidEmail(email) {
		return "", "", apperr.ErrInvalidEmail
	}
	role := in.Role
	if role == "" {
		role = models.RoleMember
	}
	if !role.Assignable() {
		return "", "", apperr.ErrInvalidRole
	}
	return email, role, nil
}

// openForEditing locks the event and checks the inviter may change its ledger.
func openForEditing(ctx context.Context, q store.Querier, eventID, actor uuid.UUID, roles ...models.Role) (*models.Event, error) {
	ev, err := LockEvent(ctx, q, eventID)
	if err != nil {
		return nil, err
	}
	if _, err := Require(ctx, q, eventID, actor, roles...); err != nil {
		return nil, err
	}
	if ev.Ended() {
		return nil, apperr.ErrAlreadyEnded
	}
	return ev, nil
}

func (l *Ledger) invite(ctx context.Context, eventID, inviter uuid.UUID, in InviteInput, direct bool) (*InviteResult, error) {
	email, role, err := normalizeInput(in)
	if err != nil {
		return nil, err
	}

	res := &InviteResult{}
	var inviterName string
	err = l.store.Tx(ctx, func(q store.Querier) error {
		ev, err := openForEditing(ctx, q, eventID, inviter, models.EditorRoles...)
		if err != nil {
			return err
		}
		res.Event = ev.Summary()

		if _, err := q.GetMembershipByEventEmail(ctx, eventID, email); err == nil {
			return apperr.ErrAlreadyInvited
		} else if !errors.Is(err, store.ErrNotFound) {
			return apperr.Unavailable("get membership", err)
		}

		user, err := q.GetUserByEmail(ctx, email)
		switch {
		case errors.Is(err, store.ErrNotFound):
			user = nil
		case err != nil:
			return apperr.Unavailable("get user", err)
		default:
			if _, err := q.GetMembershipByEventUser(ctx, eventID, user.ID); err == nil {
				return apperr.ErrAlreadyInvited
			} else if !errors.Is(err, store.ErrNotFound) {
				return apperr.Unavailable("get membership", err)
			}
		}

		m := &models.Membership{EventID: eventID, Role: role, InviteEmail: email}
		if direct {
			if user == nil {
				temp, err := utils.GenerateTemporaryPassword(TemporaryPasswordLength)
				if err != nil {
					return err
				}
				hash, err := utils.HashPassword(temp)
				if err != nil {
					return err
				}
				user, err = l.principals.CreatePrincipal(ctx, q, email, firstNameOrLocalPart(in.FirstName, email), in.LastName, hash)
				if err != nil {
					return err
				}
				res.TemporaryPassword = temp
				res.AccountCreated = true
			}
			m.UserID = &user.ID
			m.InviteStatus = models.InviteStatusAccepted
		} else {
			token, err := utils.GenerateToken()
			if err != nil {
				return err
			}
			m.InviteToken = &token
			m.InviteStatus = models.InviteStatusPending
			if user != nil {
				m.UserID = &user.ID
			}
			res.Token = token
		}

		if err := q.CreateMembership(ctx, m); err != nil {
			if errors.Is(err, store.ErrConflict) {
				return apperr.ErrAlreadyInvited
			}
			return apperr.Unavailable("create membership", err)
		}
		res.Membership = *m

		if u, err := q.GetUserByID(ctx, inviter); err == nil {
			inviterName = u.FullName()
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	change := realtime.ChangeMemberInvited
	if direct {
		change = realtime.ChangeMemberJoined
	}
	l.pub.Publish(eventID, realtime.NewChange(change, eventID, inviter, res.Membership))
	l.enqueueInviteEmail(ctx, res, inviterName)

	l.logger.Info("member invited",
		zap.String("event_id", eventID.String()),
		zap.String("membership_id", res.Membership.ID.String()),
		zap.String("role", string(role)),
		zap.Bool("direct", direct),
		zap.Bool("account_created", res.AccountCreated),
	)
	return res, nil
}

func (l *Ledger) enqueueInviteEmail(ctx context.Context, res *InviteResult, inviterName string) {
	if l.jobs == nil {
		return
	}
	err := l.jobs.EnqueueInviteEmail(ctx, queue.InviteEmailPayload{
		EventID:        res.Membership.EventID,
		MembershipID:   res.Membership.ID,
		RecipientEmail: res.Membership.InviteEmail,
		EventName:      res.Event.Name,
		InviterName:    inviterName,
		Role:           string(res.Membership.Role),
		Token:          res.Token,
	})
	if err != nil {
		l.logger.Warn("enqueue invite email", zap.String("membership_id", res.Membership.ID.String()), zap.Error(err))
	}
}

func firstNameOrLocalPart(first, email string) string {
	if f := strings.TrimSpace(first); f != "" {
		return f
	}
	if i := strings.IndexByte(email, '@'); i > 0 {
		return email[:i]
	}
	return email
}

// InviteMode selects which path a batch invite uses.
type InviteMode string

const (
	InviteModeDirect InviteMode = "direct"
	InviteModeToken  InviteMode = "token"
)

// Batch outcome statuses.
const (
	OutcomeInvited        = "invited"
	OutcomeAlreadyInvited = "already_invited"
	OutcomeError          = "error"
)

// BatchOutcome reports what happened to one address of a batch invite.
type BatchOutcome struct {
	Email  string        `json:"email"`
	Status string        `json:"status"`
	Error  string        `json:"error,omitempty"`
	Code   string        `json:"code,omitempty"`
	Result *InviteResult `json:"result,omitempty"`
}

// InviteBatch invites every address and reports each outcome without aborting
// on per-address failures. Errors that apply to the whole batch (unknown event,
// caller not allowed, event ended) are returned directly.
func (l *Ledger) InviteBatch(ctx context.Context, eventID, inviter uuid.UUID, inputs []InviteInput, mode InviteMode) ([]BatchOutcome, error) {
	if len(inputs) == 0 {
		return nil, apperr.Invalid("at least one email is required")
	}
	if len(inputs) > MaxBatchSize {
		return nil, apperr.Invalid("too many invites in one request")
	}
	if err := l.store.Tx(ctx, func(q store.Querier) error {
		_, err := openForEditing(ctx, q, eventID, inviter, models.EditorRoles...)
		return err
	}); err != nil {
		return nil, err
	}

	outcomes := make([]BatchOutcome, 0, len(inputs))
	for _, in := range inputs {
		var (
			res *InviteResult
			err error
		)
		if mode == InviteModeToken {
			res, err = l.Invite(ctx, eventID, inviter, in)
		} else {
			res, err = l.InviteDirect(ctx, eventID, inviter, in)
		}
		out := BatchOutcome{Email: models.NormalizeEmail(in.Email)}
		switch {
		case err == nil:
			out.Status = OutcomeInvited
			out.Result = res
		case errors.Is(err, apperr.ErrAlreadyInvited):
			out.Status = OutcomeAlreadyInvited
		default:
			out.Status = OutcomeError
			out.Code = apperr.CodeOf(err)
			out.Error = err.Error()
			if apperr.KindOf(err) == apperr.KindUnavailable || apperr.KindOf(err) == apperr.KindInternal {
				l.logger.Error("batch invite", zap.String("event_id", eventID.String()), zap.Error(err))
				out.Error = "internal error"
			}
		}
		outcomes = append(outcomes, out)
	}
	return outcomes, nil
}

// GetInvite returns the public details of a pending invite.
func (l *Ledger) GetInvite(ctx context.Context, token string) (*InviteDetails, error) {
	m, err := l.membershipByToken(ctx, l.store, token)
	if err != nil {
		return nil, err
	}
	if m.InviteStatus != models.InviteStatusPending {
		return nil, apperr.ErrAlreadyProcessed
	}
	ev, err := l.store.GetEvent(ctx, m.EventID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, apperr.ErrInviteNotFound
		}
		return nil, apperr.Unavailable("get event", err)
	}
	d := &InviteDetails{
		Email:     m.InviteEmail,
		Role:      m.Role,
		EventID:   ev.ID,
		EventName: ev.Name,
	}
	if owner, err := l.store.GetUserByID(ctx, ev.OwnerID); err == nil {
		d.InviterName = owner.FullName()
	}
	if u, err := l.store.GetUserByEmail(ctx, m.InviteEmail); err == nil {
		d.UserExists = true
		d.FirstName, d.LastName = u.FirstName, u.LastName
	} else if !errors.Is(err, store.ErrNotFound) {
		return nil, apperr.Unavailable("get user", err)
	}
	return d, nil
}

func (l *Ledger) membershipByToken(ctx context.Context, q store.Querier, token string) (*models.Membership, error) {
	if token == "" {
		return nil, apperr.ErrInviteNotFound
	}
	m, err := q.GetMembershipByToken(ctx, token)
	if errors.Is(err, store.ErrNotFound) {
		return nil, apperr.ErrInviteNotFound
	}
	if err != nil {
		return nil, apperr.Unavailable("get membership", err)
	}
	return m, nil
}

// pendingByToken resolves a token and re-reads the entry under the event lock.
func (l *Ledger) pendingByToken(ctx context.Context, q store.Querier, token string) (*models.Membership, *models.Event, error) {
	m, err := l.membershipByToken(ctx, q, token)
	if err != nil {
		return nil, nil, err
	}
	ev, err := LockEvent(ctx, q, m.EventID)
	if err != nil {
		return nil, nil, err
	}
	m, err = q.GetMembership(ctx, m.ID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, nil, apperr.ErrInviteNotFound
	}
	if err != nil {
		return nil, nil, apperr.Unavailable("get membership", err)
	}
	if m.InviteStatus != models.InviteStatusPending || m.InviteToken == nil || *m.InviteToken != token {
		return nil, nil, apperr.ErrAlreadyProcessed
	}
	if ev.Ended() {
		return nil, nil, apperr.ErrAlreadyEnded
	}
	return m, ev, nil
}

// AcceptInvite redeems a token. The invitee's account is resolved by the
// invite email, or created from setup when none exists.
func (l *Ledger) AcceptInvite(ctx context.Context, token string, setup *CredentialSetup) (*AcceptResult, error) {
	res := &AcceptResult{}
	var joined models.Membership
	err := l.store.Tx(ctx, func(q store.Querier) error {
		m, ev, err := l.pendingByToken(ctx, q, token)
		if err != nil {
			return err
		}

		user, err := l.resolveInvitee(ctx, q, m, setup)
		if err != nil {
			return err
		}

		m.UserID = &user.ID
		m.InviteStatus = models.InviteStatusAccepted
		m.InviteToken = nil
		if err := q.UpdateMembership(ctx, m); err != nil {
			if errors.Is(err, store.ErrConflict) {
				return apperr.ErrAlreadyInvited
			}
			return apperr.Unavailable("update membership", err)
		}

		session, err := l.principals.IssueSessionToken(user)
		if err != nil {
			return err
		}
		joined = *m
		res.Membership = *m
		res.User = user.ToPublic()
		res.Token = session
		res.Event = ev.Summary()
		return nil
	})
	if err != nil {
		return nil, err
	}
	l.pub.Publish(joined.EventID, realtime.NewChange(realtime.ChangeMemberJoined, joined.EventID, *joined.UserID, joined))
	l.logger.Info("invite accepted", zap.String("event_id", joined.EventID.String()), zap.String("membership_id", joined.ID.String()))
	return res, nil
}

func (l *Ledger) resolveInvitee(ctx context.Context, q store.Querier, m *models.Membership, setup *CredentialSetup) (*models.User, error) {
	var (
		user *models.User
		err  error
	)
	if m.UserID != nil {
		user, err = q.GetUserByID(ctx, *m.UserID)
	} else {
		user, err = q.GetUserByEmail(ctx, m.InviteEmail)
	}
	if err == nil {
		return user, nil
	}
	if !errors.Is(err, store.ErrNotFound) {
		return nil, apperr.Unavailable("get user", err)
	}

	if setup == nil || setup.Password == "" {
		return nil, apperr.ErrPasswordRequired
	}
	if len(setup.Password) < auth.MinPasswordLength {
		return nil, apperr.ErrPasswordTooShort
	}
	hash, err := utils.HashPassword(setup.Password)
	if err != nil {
		return nil, err
	}
	return l.principals.CreatePrincipal(ctx, q, m.InviteEmail, firstNameOrLocalPart(setup.FirstName, m.InviteEmail), setup.LastName, hash)
}

// DeclineInvite marks a pending invite declined and burns its token.
func (l *Ledger) DeclineInvite(ctx context.Context, token string) (*models.Membership, error) {
	var declined models.Membership
	err := l.store.Tx(ctx, func(q store.Querier) error {
		m, _, err := l.pendingByToken(ctx, q, token)
		if err != nil {
			return err
		}
		m.InviteStatus = models.InviteStatusDeclined
		m.InviteToken = nil
		if err := q.UpdateMembership(ctx, m); err != nil {
			return apperr.Unavailable("update membership", err)
		}
		declined = *m
		return nil
	})
	if err != nil {
		return nil, err
	}
	actor := uuid.Nil
	if declined.UserID != nil {
		actor = *declined.UserID
	}
	l.pub.Publish(declined.EventID, realtime.NewChange(realtime.ChangeMemberDeclined, declined.EventID, actor, declined))
	return &declined, nil
}

// targetEntry loads a ledger entry and checks it belongs to eventID.
func targetEntry(ctx context.Context, q store.Querier, eventID, membershipID uuid.UUID) (*models.Membership, error) {
	m, err := q.GetMembership(ctx, membershipID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, apperr.ErrMembershipNotFound
	}
	if err != nil {
		return nil, apperr.Unavailable("get membership", err)
	}
	if m.EventID != eventID {
		return nil, apperr.ErrMembershipNotFound
	}
	return m, nil
}

// ChangeRole sets a new role on a non-owner entry. Only the owner may do this.
func (l *Ledger) ChangeRole(ctx context.Context, eventID, actor, membershipID uuid.UUID, newRole models.Role) (*models.Membership, error) {
	if !newRole.Assignable() {
		return nil, apperr.ErrInvalidRole
	}
	var updated models.Membership
	err := l.store.Tx(ctx, func(q store.Querier) error {
		if _, err := openForEditing(ctx, q, eventID, actor, models.OwnerOnly...); err != nil {
			return err
		}
		m, err := targetEntry(ctx, q, eventID, membershipID)
		if err != nil {
			return err
		}
		if m.Role == models.RoleOwner {
			return apperr.ErrInvalidTarget
		}
		m.Role = newRole
		if err := q.UpdateMembership(ctx, m); err != nil {
			return apperr.Unavailable("update membership", err)
		}
		updated = *m
		return nil
	})
	if err != nil {
		return nil, err
	}
	l.pub.Publish(eventID, realtime.NewChange(realtime.ChangeMemberRoleChanged, eventID, actor, updated))
	return &updated, nil
}

// Remove deletes a non-owner entry other than the caller's own. Items assigned
// to the removed user become unassigned.
func (l *Ledger) Remove(ctx context.Context, eventID, actor, membershipID uuid.UUID) error {
	var removed models.Membership
	err := l.store.Tx(ctx, func(q store.Querier) error {
		if _, err := openForEditing(ctx, q, eventID, actor, models.EditorRoles...); err != nil {
			return err
		}
		m, err := targetEntry(ctx, q, eventID, membershipID)
		if err != nil {
			return err
		}
		if m.Role == models.RoleOwner || m.HeldBy(actor) {
			return apperr.ErrInvalidTarget
		}
		if err := q.DeleteMembership(ctx, m.ID); err != nil {
			return apperr.Unavailable("delete membership", err)
		}
		if m.UserID != nil {
			if err := unassignItems(ctx, q, eventID, *m.UserID); err != nil {
				return err
			}
		}
		removed = *m
		return nil
	})
	if err != nil {
		return err
	}
	l.pub.Publish(eventID, realtime.NewChange(realtime.ChangeMemberRemoved, eventID, actor, removed))
	return nil
}

func unassignItems(ctx context.Context, q store.Querier, eventID, userID uuid.UUID) error {
	items, err := q.ListItems(ctx, eventID)
	if err != nil {
		return apperr.Unavailable("list items", err)
	}
	for i := range items {
		if !items[i].AssignedTo(userID) {
			continue
		}
		items[i].AssignedToID = nil
		if err := q.UpdateItem(ctx, &items[i]); err != nil {
			return apperr.Unavailable("update item", err)
		}
	}
	return nil
}
