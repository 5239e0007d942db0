package usecase

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/you/club-membership/internal/domain"
	"github.com/you/club-membership/internal/repository"
)

const maxInviteDays = 90

type InvitationService struct {
	Deps
	tracer trace.Tracer
}

func NewInvitationService(d Deps) *InvitationService {
	return &InvitationService{Deps: d.withDefaults(), tracer: otel.Tracer("club-membership/invitation")}
}

type IssuedInvitation struct {
	Token     string                `json:"token"`
	ClubID    uuid.UUID             `json:"club_id"`
	Type      domain.InvitationType `json:"type"`
	ExpiresAt time.Time             `json:"expires_at"`
}

// Issue creates an invitation for clubID. expiresInDays of 0 means the default.
func (s *InvitationService) Issue(ctx context.Context, actorID, clubID uuid.UUID, typ domain.InvitationType, expiresInDays int) (IssuedInvitation, error) {
	if !typ.Valid() {
		return IssuedInvitation{}, fmt.Errorf("%w: invitation type %q", ErrInvalidArgument, typ)
	}
	if expiresInDays == 0 {
		expiresInDays = s.InviteDefaultDays
	}
	if expiresInDays < 0 || expiresInDays > maxInviteDays {
		return IssuedInvitation{}, fmt.Errorf("%w: expires_in_days must be between 1 and %d", ErrInvalidArgument, maxInviteDays)
	}
	if _, err := s.Repo.GetClub(ctx, clubID); err != nil {
		return IssuedInvitation{}, notFound(err)
	}
	if _, err := authorize(ctx, s.Repo, actorID, clubID, domain.ActionIssueInvitation); err != nil {
		return IssuedInvitation{}, err
	}

	token, err := newToken()
	if err != nil {
		return IssuedInvitation{}, fmt.Errorf("generate token: %w", err)
	}
	now := s.now()
	inv := domain.Invitation{
		TokenHash: HashToken(token),
		ClubID:    clubID,
		Type:      typ,
		CreatedBy: actorID,
		CreatedAt: now,
		ExpiresAt: now.AddDate(0, 0, expiresInDays),
	}
	if err := s.Repo.CreateInvitation(ctx, inv); err != nil {
		return IssuedInvitation{}, notFound(err)
	}
	s.Metrics.InvitationsIssued.Inc()
	s.Log.Infof("invitation issued club=%s type=%s ref=%s", clubID, typ, tokenRef(token))
	return IssuedInvitation{Token: token, ClubID: clubID, Type: typ, ExpiresAt: inv.ExpiresAt}, nil
}

// Validation is the read-only view of a token. Reason is set when !Valid.
type Validation struct {
	Valid    bool
	ClubID   uuid.UUID
	ClubName string
	Type     domain.InvitationType
	Reason   domain.TokenReason
}

// Validate never writes; calling it any number of times leaves usedAt alone.
func (s *InvitationService) Validate(ctx context.Context, token string) (Validation, error) {
	return s.validate(ctx, s.Repo, token)
}

func (s *InvitationService) validate(ctx context.Context, q repository.Tx, token string) (Validation, error) {
	if token == "" {
		return Validation{Reason: domain.ReasonNotFound}, nil
	}
	inv, err := q.GetInvitation(ctx, HashToken(token))
	if errors.Is(err, repository.ErrNotFound) {
		return Validation{Reason: domain.ReasonNotFound}, nil
	}
	if err != nil {
		return Validation{}, err
	}
	v := Validation{ClubID: inv.ClubID, Type: inv.Type}
	if reason := inv.Reason(s.now()); reason != "" {
		v.Reason = reason
		return v, nil
	}
	club, err := q.GetClub(ctx, inv.ClubID)
	if errors.Is(err, repository.ErrNotFound) {
		return Validation{Reason: domain.ReasonNotFound}, nil
	}
	if err != nil {
		return Validation{}, err
	}
	v.Valid, v.ClubName = true, club.Name
	return v, nil
}

// ConsumeTx spends the token inside tx with a single conditional update.
// Exactly one concurrent caller wins; the rest get a *TokenError.
func (s *InvitationService) ConsumeTx(ctx context.Context, tx repository.Tx, token string, userID uuid.UUID) (domain.Invitation, error) {
	ctx, span := s.tracer.Start(ctx, "invitation.consume", trace.WithAttributes(
		attribute.String("token.ref", tokenRef(token)),
		attribute.String("user.id", userID.String()),
	))
	defer span.End()

	now := s.now()
	hash := HashToken(token)
	inv, err := tx.ConsumeInvitation(ctx, hash, userID, now)
	if err == nil {
		s.Metrics.InvitationConsumes.WithLabelValues("ok").Inc()
		span.SetAttributes(attribute.Bool("consume.success", true))
		return inv, nil
	}
	if !errors.Is(err, repository.ErrConditionFailed) {
		span.RecordError(err)
		return domain.Invitation{}, err
	}

	// the update already decided the outcome; this read only names the reason
	reason := domain.ReasonAlreadyUsed
	cur, err := tx.GetInvitation(ctx, hash)
	switch {
	case errors.Is(err, repository.ErrNotFound):
		reason = domain.ReasonNotFound
	case err != nil:
		return domain.Invitation{}, err
	case cur.Reason(now) == domain.ReasonExpired:
		reason = domain.ReasonExpired
	}
	s.Metrics.InvitationConsumes.WithLabelValues(string(reason)).Inc()
	span.SetAttributes(attribute.String("consume.reason", string(reason)))
	return domain.Invitation{}, &TokenError{Reason: reason}
}

type InvitationView struct {
	ID        string                `json:"id"`
	Type      domain.InvitationType `json:"type"`
	Status    string                `json:"status"`
	CreatedBy uuid.UUID             `json:"created_by"`
	CreatedAt time.Time             `json:"created_at"`
	ExpiresAt time.Time             `json:"expires_at"`
	UsedAt    *time.Time            `json:"used_at,omitempty"`
	UsedBy    *uuid.UUID            `json:"used_by,omitempty"`
}

// List returns clubID's invitations, newest first, without their tokens.
func (s *InvitationService) List(ctx context.Context, actorID, clubID uuid.UUID) ([]InvitationView, error) {
	if _, err := authorize(ctx, s.Repo, actorID, clubID, domain.ActionIssueInvitation); err != nil {
		return nil, err
	}
	list, err := s.Repo.ListInvitations(ctx, clubID)
	if err != nil {
		return nil, err
	}
	now := s.now()
	res := make([]InvitationView, 0, len(list))
	for _, inv := range list {
		res = append(res, InvitationView{
			ID:        inv.TokenHash[:12],
			Type:      inv.Type,
			Status:    inv.Status(now),
			CreatedBy: inv.CreatedBy,
			CreatedAt: inv.CreatedAt,
			ExpiresAt: inv.ExpiresAt,
			UsedAt:    inv.UsedAt,
			UsedBy:    inv.UsedBy,
		})
	}
	return res, nil
}
