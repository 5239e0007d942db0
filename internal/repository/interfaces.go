package repository

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/you/club-membership/internal/domain"
)

var (
	ErrNotFound      = errors.New("not found")
	ErrAlreadyExists = errors.New("already exists")
	// ErrConditionFailed is returned when a conditional update matched no row.
	ErrConditionFailed = errors.New("condition failed")
)

type UserStore interface {
	UpsertUser(ctx context.Context, u domain.User) error
	GetUser(ctx context.Context, id uuid.UUID) (domain.User, error)
}

type ClubStore interface {
	CreateClub(ctx context.Context, c domain.Club) error
	GetClub(ctx context.Context, id uuid.UUID) (domain.Club, error)
}

type InvitationStore interface {
	CreateInvitation(ctx context.Context, inv domain.Invitation) error
	GetInvitation(ctx context.Context, tokenHash string) (domain.Invitation, error)
	ListInvitations(ctx context.Context, clubID uuid.UUID) ([]domain.Invitation, error)
	// ConsumeInvitation atomically sets used_at/used_by when the invitation is
	// unused and unexpired at now. ErrConditionFailed otherwise (including
	// when the token is unknown).
	ConsumeInvitation(ctx context.Context, tokenHash string, userID uuid.UUID, now time.Time) (domain.Invitation, error)
}

type MembershipStore interface {
	GetMembership(ctx context.Context, userID uuid.UUID) (domain.Membership, error)
	ListMembers(ctx context.Context, clubID uuid.UUID) ([]domain.Member, error)
	// InsertMembership fails with ErrAlreadyExists if the user has a membership.
	InsertMembership(ctx context.Context, m domain.Membership) error
	DeleteMembership(ctx context.Context, clubID, userID uuid.UUID) error
}

type SubscriptionLedger interface {
	CreateSubscription(ctx context.Context, s domain.Subscription) error
	GetSubscription(ctx context.Context, clubID uuid.UUID) (domain.Subscription, error)
	// ReserveTeamSlot increments current_team_count only while below max_teams.
	// ErrConditionFailed when the limit is reached.
	ReserveTeamSlot(ctx context.Context, clubID uuid.UUID, now time.Time) (domain.Subscription, error)
	ReleaseTeamSlot(ctx context.Context, clubID uuid.UUID, now time.Time) (domain.Subscription, error)
	UpdatePlan(ctx context.Context, clubID uuid.UUID, planID string, maxTeams *int, now time.Time) (domain.Subscription, error)
}

type TeamStore interface {
	CreateTeam(ctx context.Context, t domain.Team) error
	ListTeams(ctx context.Context, clubID uuid.UUID) ([]domain.Team, error)
	DeleteTeam(ctx context.Context, clubID, teamID uuid.UUID) error
}

// Tx is a transactional view of every store.
type Tx interface {
	UserStore
	ClubStore
	InvitationStore
	MembershipStore
	SubscriptionLedger
	TeamStore
}

// Repo exposes the stores directly (each call is its own transaction) and
// InTx for multi-statement atomic work. fn's error rolls the transaction back.
type Repo interface {
	Tx
	InTx(ctx context.Context, fn func(tx Tx) error) error
}
