package models

import (
	"time"

	"github.com/google/uuid"
)

// InviteStatus is the lifecycle state of a membership entry.
type InviteStatus string

const (
	InviteStatusPending  InviteStatus = "pending"
	InviteStatusAccepted InviteStatus = "accepted"
	InviteStatusDeclined InviteStatus = "declined"
)

// Membership is one ledger entry: a user's (or pending email's) role in an event.
// UserID stays nil until the invited email resolves to an account.
type Membership struct {
	ID           uuid.UUID    `json:"id"`
	EventID      uuid.UUID    `json:"event_id"`
	UserID       *uuid.UUID   `json:"user_id,omitempty"`
	Role         Role         `json:"role"`
	InviteStatus InviteStatus `json:"invite_status"`
	InviteToken  *string      `json:"-"`
	InviteEmail  string       `json:"invite_email"`
	CreatedAt    time.Time    `json:"created_at"`
	UpdatedAt    time.Time    `json:"updated_at"`
}

// Accepted reports whether the entry grants its role.
func (m *Membership) Accepted() bool { return m.InviteStatus == InviteStatusAccepted }

// HeldBy reports whether the entry is linked to userID.
func (m *Membership) HeldBy(userID uuid.UUID) bool {
	return m.UserID != nil && *m.UserID == userID
}

// MemberView is a ledger entry joined with the linked account, for member lists.
type MemberView struct {
	Membership
	FirstName string `json:"first_name,omitempty"`
	LastName  string `json:"last_name,omitempty"`
}
