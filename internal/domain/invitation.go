package domain

import (
	"time"

	"github.com/google/uuid"
)

type InvitationType string

const (
	InvitationPlayer         InvitationType = "PLAYER"
	InvitationAssistantCoach InvitationType = "ASSISTANT_COACH"
)

func (t InvitationType) Valid() bool {
	return t == InvitationPlayer || t == InvitationAssistantCoach
}

// Role granted to whoever accepts an invitation of this type.
func (t InvitationType) Role() Role {
	if t == InvitationAssistantCoach {
		return RoleAssistantCoach
	}
	return RolePlayer
}

// TokenReason explains why a token cannot be used.
type TokenReason string

const (
	ReasonNotFound    TokenReason = "NOT_FOUND"
	ReasonExpired     TokenReason = "EXPIRED"
	ReasonAlreadyUsed TokenReason = "ALREADY_USED"
)

// Invitation as persisted. Only the digest of the token is stored.
type Invitation struct {
	TokenHash string         `json:"-"`
	ClubID    uuid.UUID      `json:"club_id"`
	Type      InvitationType `json:"type"`
	CreatedBy uuid.UUID      `json:"created_by"`
	CreatedAt time.Time      `json:"created_at"`
	ExpiresAt time.Time      `json:"expires_at"`
	UsedAt    *time.Time     `json:"used_at,omitempty"`
	UsedBy    *uuid.UUID     `json:"used_by,omitempty"`
}

func (i Invitation) IsUsed() bool { return i.UsedAt != nil }

func (i Invitation) IsExpired(now time.Time) bool { return !now.Before(i.ExpiresAt) }

func (i Invitation) IsValid(now time.Time) bool { return !i.IsUsed() && !i.IsExpired(now) }

// Reason reports why the invitation is unusable at now, or "" if it is valid.
// A used invitation reports ALREADY_USED even after it expires.
func (i Invitation) Reason(now time.Time) TokenReason {
	if i.IsUsed() {
		return ReasonAlreadyUsed
	}
	if i.IsExpired(now) {
		return ReasonExpired
	}
	return ""
}

func (i Invitation) Status(now time.Time) string {
	switch i.Reason(now) {
	case ReasonAlreadyUsed:
		return "used"
	case ReasonExpired:
		return "expired"
	}
	return "pending"
}
