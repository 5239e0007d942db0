package usecase

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/you/club-membership/internal/domain"
	"github.com/you/club-membership/internal/infra"
	"github.com/you/club-membership/internal/repository"
)

// MembershipService runs the join/transfer protocol and club roster changes.
type MembershipService struct {
	Deps
	inv    *InvitationService
	tracer trace.Tracer
}

func NewMembershipService(d Deps, inv *InvitationService) *MembershipService {
	return &MembershipService{Deps: d.withDefaults(), inv: inv, tracer: otel.Tracer("club-membership/membership")}
}

// BeginJoin validates the token and either joins directly (no current club)
// or asks for confirmation before leaving the current club. A transfer never
// consumes the token here.
func (s *MembershipService) BeginJoin(ctx context.Context, token string, userID uuid.UUID) (domain.JoinOutcome, error) {
	ctx, span := s.tracer.Start(ctx, "membership.begin_join", trace.WithAttributes(attribute.String("user.id", userID.String())))
	defer span.End()

	v, cur, out, err := s.precheck(ctx, span, token, userID)
	if err != nil || out != nil {
		return deref(out), err
	}
	if cur == nil {
		transition(span, domain.JoinDirect)
		return s.commitJoin(ctx, span, token, userID, true)
	}

	from, err := s.Repo.GetClub(ctx, cur.ClubID)
	if err != nil && !errors.Is(err, repository.ErrNotFound) {
		return domain.JoinOutcome{}, err
	}
	transition(span, domain.JoinTransferConfirmPending)
	clubID := v.ClubID
	return domain.JoinOutcome{
		State:        domain.JoinTransferConfirmPending,
		ClubID:       &clubID,
		ClubName:     v.ClubName,
		FromClubName: from.Name,
		Role:         v.Type.Role(),
	}, nil
}

// ConfirmJoin re-validates the token and performs the leave+join in one
// transaction together with consuming the token.
func (s *MembershipService) ConfirmJoin(ctx context.Context, token string, userID uuid.UUID) (domain.JoinOutcome, error) {
	ctx, span := s.tracer.Start(ctx, "membership.confirm_join", trace.WithAttributes(attribute.String("user.id", userID.String())))
	defer span.End()

	if _, _, out, err := s.precheck(ctx, span, token, userID); err != nil || out != nil {
		return deref(out), err
	}
	return s.commitJoin(ctx, span, token, userID, false)
}

// ConsumeInvitation is the consume endpoint. It only joins users without a
// club; moving between clubs goes through BeginJoin and ConfirmJoin.
func (s *MembershipService) ConsumeInvitation(ctx context.Context, token string, userID uuid.UUID) (uuid.UUID, error) {
	ctx, span := s.tracer.Start(ctx, "membership.consume_invitation", trace.WithAttributes(attribute.String("user.id", userID.String())))
	defer span.End()

	_, cur, pre, err := s.precheck(ctx, span, token, userID)
	if err != nil {
		return uuid.Nil, err
	}
	out := deref(pre)
	if pre == nil {
		if cur != nil {
			return uuid.Nil, ErrAlreadyInClub
		}
		transition(span, domain.JoinDirect)
		if out, err = s.commitJoin(ctx, span, token, userID, true); err != nil {
			return uuid.Nil, err
		}
	}

	switch out.State {
	case domain.JoinJoined:
		return *out.ClubID, nil
	case domain.JoinTransferConfirmPending:
		return uuid.Nil, ErrAlreadyInClub
	}
	switch out.Reason {
	case domain.ReasonAlreadyMember:
		return uuid.Nil, ErrAlreadyMember
	case domain.ReasonOwnerCannotLeave:
		return uuid.Nil, ErrOwnerCannotLeave
	case domain.ReasonAlreadyInClub:
		return uuid.Nil, ErrAlreadyInClub
	}
	return uuid.Nil, &TokenError{Reason: domain.TokenReason(out.Reason)}
}

// precheck returns the user's current membership (nil if none) and a
// non-nil outcome when the attempt must stop before commit.
func (s *MembershipService) precheck(ctx context.Context, span trace.Span, token string, userID uuid.UUID) (Validation, *domain.Membership, *domain.JoinOutcome, error) {
	transition(span, domain.JoinTokenPending)
	v, err := s.inv.Validate(ctx, token)
	if err != nil {
		return v, nil, nil, err
	}
	if !v.Valid {
		return v, nil, s.abort(span, string(v.Reason)), nil
	}
	transition(span, domain.JoinTokenValidated)

	cur, err := s.Repo.GetMembership(ctx, userID)
	switch {
	case errors.Is(err, repository.ErrNotFound):
		return v, nil, nil, nil
	case err != nil:
		return v, nil, nil, err
	}
	if reason := blockedReason(cur, v.ClubID); reason != "" {
		return v, &cur, s.abort(span, reason), nil
	}
	return v, &cur, nil, nil
}

func blockedReason(cur domain.Membership, target uuid.UUID) string {
	if cur.ClubID == target {
		return domain.ReasonAlreadyMember
	}
	if cur.Role == domain.RoleOwner {
		return domain.ReasonOwnerCannotLeave
	}
	return ""
}

// commitJoin is the only place a token is consumed for a join. Consume,
// leave and join share one transaction. A direct join never leaves a club:
// if the user joined one since the precheck, it stops with
// TRANSFER_CONFIRM_PENDING. Storage failures after a successful consume are
// consistency faults; a concurrent membership insert is an abort.
func (s *MembershipService) commitJoin(ctx context.Context, span trace.Span, token string, userID uuid.UUID, direct bool) (domain.JoinOutcome, error) {
	ctx, cancel := context.WithTimeout(ctx, s.OperationTimeout)
	defer cancel()

	var (
		out      domain.JoinOutcome
		consumed *domain.Invitation
		previous *domain.Membership
	)
	err := s.Repo.InTx(ctx, func(tx repository.Tx) error {
		inv, err := s.inv.ConsumeTx(ctx, tx, token, userID)
		if err != nil {
			return err
		}
		consumed = &inv

		old, err := tx.GetMembership(ctx, userID)
		switch {
		case err == nil:
			if reason := blockedReason(old, inv.ClubID); reason != "" {
				return &abortError{reason: reason}
			}
			if direct {
				return s.needsConfirm(ctx, tx, inv, old)
			}
			if err := tx.DeleteMembership(ctx, old.ClubID, userID); err != nil {
				return fmt.Errorf("leave club %s: %w", old.ClubID, err)
			}
			previous = &old
		case !errors.Is(err, repository.ErrNotFound):
			return err
		}

		m := domain.Membership{UserID: userID, ClubID: inv.ClubID, Role: inv.Type.Role(), JoinedAt: s.now()}
		if err := tx.InsertMembership(ctx, m); err != nil {
			if errors.Is(err, repository.ErrAlreadyExists) {
				return &abortError{reason: domain.ReasonAlreadyInClub}
			}
			return fmt.Errorf("join club %s: %w", inv.ClubID, err)
		}
		club, err := tx.GetClub(ctx, inv.ClubID)
		if err != nil {
			return fmt.Errorf("load club %s: %w", inv.ClubID, err)
		}
		clubID := club.ID
		out = domain.JoinOutcome{State: domain.JoinJoined, ClubID: &clubID, ClubName: club.Name, Role: m.Role}
		return nil
	})

	var (
		tokenErr *TokenError
		abort    *abortError
		confirm  *confirmNeeded
	)
	switch {
	case err == nil:
	case errors.As(err, &confirm):
		transition(span, domain.JoinTransferConfirmPending)
		return confirm.out, nil
	case errors.As(err, &tokenErr):
		return deref(s.abort(span, string(tokenErr.Reason))), nil
	case errors.As(err, &abort):
		return deref(s.abort(span, abort.reason)), nil
	case consumed != nil:
		return domain.JoinOutcome{}, s.fault(ctx, span, token, userID, consumed.ClubID, err)
	default:
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return domain.JoinOutcome{}, err
	}

	kind := "direct"
	if previous != nil {
		kind = "transfer"
		s.Notifier.Notify(previous.ClubID, TopicMembers)
	}
	s.Notifier.Notify(*out.ClubID, TopicMembers)
	s.Metrics.Joins.WithLabelValues(kind).Inc()
	transition(span, domain.JoinJoined)
	s.Log.Infof("user %s joined club %s (%s)", userID, *out.ClubID, kind)
	return out, nil
}

// needsConfirm builds the outcome for a direct join that found a membership
// inside the transaction.
func (s *MembershipService) needsConfirm(ctx context.Context, tx repository.Tx, inv domain.Invitation, cur domain.Membership) error {
	to, err := tx.GetClub(ctx, inv.ClubID)
	if err != nil {
		return fmt.Errorf("load club %s: %w", inv.ClubID, err)
	}
	from, err := tx.GetClub(ctx, cur.ClubID)
	if err != nil && !errors.Is(err, repository.ErrNotFound) {
		return err
	}
	clubID := to.ID
	return &confirmNeeded{out: domain.JoinOutcome{
		State:        domain.JoinTransferConfirmPending,
		ClubID:       &clubID,
		ClubName:     to.Name,
		FromClubName: from.Name,
		Role:         inv.Type.Role(),
	}}
}

func (s *MembershipService) abort(span trace.Span, reason string) *domain.JoinOutcome {
	transition(span, domain.JoinAborted)
	span.SetAttributes(attribute.String("join.abort_reason", reason))
	out := domain.Aborted(reason)
	return &out
}

func (s *MembershipService) fault(ctx context.Context, span trace.Span, token string, userID, clubID uuid.UUID, cause error) error {
	ferr := &ConsistencyFaultError{UserID: userID, ClubID: clubID, TokenRef: tokenRef(token), Err: cause}
	span.RecordError(ferr)
	span.SetStatus(codes.Error, "consistency fault")

	// the request context may be the thing that failed
	actx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.OperationTimeout)
	defer cancel()
	alertErr := s.Alerter.Alert(actx, infra.Alert{
		Kind:    infra.AlertConsistencyFault,
		Message: ferr.Error(),
		Attributes: map[string]string{
			"user_id":   userID.String(),
			"club_id":   clubID.String(),
			"token_ref": ferr.TokenRef,
		},
		At: s.now(),
	})
	if alertErr != nil {
		s.Log.Errorf("alert delivery failed: %v", alertErr)
	}
	return ferr
}

func transition(span trace.Span, st domain.JoinState) {
	span.AddEvent("join.state", trace.WithAttributes(attribute.String("state", string(st))))
}

func deref(out *domain.JoinOutcome) domain.JoinOutcome {
	if out == nil {
		return domain.JoinOutcome{}
	}
	return *out
}

// CreateClub creates a club owned by ownerID together with its owner
// membership and a subscription on the default plan.
func (s *MembershipService) CreateClub(ctx context.Context, ownerID uuid.UUID, name, description string) (domain.Club, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return domain.Club{}, fmt.Errorf("%w: club name required", ErrInvalidArgument)
	}
	now := s.now()
	club := domain.Club{ID: uuid.New(), Name: name, Description: strings.TrimSpace(description), OwnerID: ownerID, CreatedAt: now}
	plan := s.Plans.DefaultPlan()

	err := s.Repo.InTx(ctx, func(tx repository.Tx) error {
		if _, err := tx.GetMembership(ctx, ownerID); err == nil {
			return ErrAlreadyInClub
		} else if !errors.Is(err, repository.ErrNotFound) {
			return err
		}
		if err := tx.CreateClub(ctx, club); err != nil {
			return err
		}
		err := tx.InsertMembership(ctx, domain.Membership{UserID: ownerID, ClubID: club.ID, Role: domain.RoleOwner, JoinedAt: now})
		if errors.Is(err, repository.ErrAlreadyExists) {
			return ErrAlreadyInClub
		}
		if err != nil {
			return err
		}
		return tx.CreateSubscription(ctx, domain.Subscription{ClubID: club.ID, PlanID: plan.ID, MaxTeams: plan.MaxTeams, UpdatedAt: now})
	})
	if err != nil {
		return domain.Club{}, err
	}
	s.Log.Infof("club %s created by %s on plan %s", club.ID, ownerID, plan.ID)
	return club, nil
}

func (s *MembershipService) ListMembers(ctx context.Context, actorID, clubID uuid.UUID) ([]domain.Member, error) {
	if _, err := authorize(ctx, s.Repo, actorID, clubID, domain.ActionViewMembers); err != nil {
		return nil, err
	}
	return s.Repo.ListMembers(ctx, clubID)
}

// RemoveMember deletes targetID's membership in clubID. Nobody removes
// themselves or the owner through this path.
func (s *MembershipService) RemoveMember(ctx context.Context, actorID, clubID, targetID uuid.UUID) error {
	if actorID == targetID {
		return ErrCannotRemoveSelf
	}
	err := s.Repo.InTx(ctx, func(tx repository.Tx) error {
		actor, err := authorize(ctx, tx, actorID, clubID, domain.ActionRemoveMember)
		if err != nil {
			return err
		}
		target, err := tx.GetMembership(ctx, targetID)
		if errors.Is(err, repository.ErrNotFound) || (err == nil && target.ClubID != clubID) {
			return ErrNotFound
		}
		if err != nil {
			return err
		}
		if target.Role == domain.RoleOwner {
			return ErrCannotRemoveOwner
		}
		if !domain.CanRemove(actor.Role, target.Role) {
			return ErrForbidden
		}
		return notFound(tx.DeleteMembership(ctx, clubID, targetID))
	})
	if err != nil {
		return err
	}
	s.Notifier.Notify(clubID, TopicMembers)
	s.Log.Infof("user %s removed from club %s by %s", targetID, clubID, actorID)
	return nil
}

// MembershipOf returns the user's current membership, if any.
func (s *MembershipService) MembershipOf(ctx context.Context, userID uuid.UUID) (domain.Membership, error) {
	m, err := s.Repo.GetMembership(ctx, userID)
	return m, notFound(err)
}
