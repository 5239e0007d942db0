package usecase

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/you/club-membership/internal/domain"
	"github.com/you/club-membership/internal/infra"
	"github.com/you/club-membership/internal/repository"
)

// AdmissionController gates plan-limited resources and owns plan changes.
type AdmissionController struct {
	Deps
	tracer trace.Tracer
}

func NewAdmissionController(d Deps) *AdmissionController {
	return &AdmissionController{Deps: d.withDefaults(), tracer: otel.Tracer("club-membership/admission")}
}

// CreateFunc inserts the gated resource using tx.
type CreateFunc func(ctx context.Context, tx repository.Tx) error

func (a *AdmissionController) CanCreate(ctx context.Context, clubID uuid.UUID, kind domain.ResourceKind) (bool, error) {
	if kind != domain.ResourceTeam {
		return false, ErrUnknownResource
	}
	sub, err := a.Repo.GetSubscription(ctx, clubID)
	if err != nil {
		return false, notFound(err)
	}
	return sub.CanCreateTeam(), nil
}

// CreateGated reserves a slot and runs create in the same transaction. The
// limit is checked by the reserving UPDATE itself, so concurrent callers can
// never jointly exceed it. On denial nothing is written.
func (a *AdmissionController) CreateGated(ctx context.Context, clubID uuid.UUID, kind domain.ResourceKind, create CreateFunc) (domain.Subscription, error) {
	if kind != domain.ResourceTeam {
		return domain.Subscription{}, ErrUnknownResource
	}
	ctx, cancel := context.WithTimeout(ctx, a.OperationTimeout)
	defer cancel()
	ctx, span := a.tracer.Start(ctx, "admission.create_gated", trace.WithAttributes(
		attribute.String("club.id", clubID.String()),
		attribute.String("resource.kind", string(kind)),
	))
	defer span.End()

	var sub domain.Subscription
	err := a.Repo.InTx(ctx, func(tx repository.Tx) error {
		s, err := tx.ReserveTeamSlot(ctx, clubID, a.now())
		if errors.Is(err, repository.ErrConditionFailed) {
			return &AdmissionDeniedError{Kind: kind, Current: s.CurrentTeamCount, Limit: s.MaxTeams}
		}
		if err != nil {
			return notFound(err)
		}
		if err := create(ctx, tx); err != nil {
			return err
		}
		sub = s
		return nil
	})

	var denied *AdmissionDeniedError
	if errors.As(err, &denied) {
		a.Metrics.AdmissionDenied.Inc()
		span.SetAttributes(attribute.Bool("admission.denied", true), attribute.Int("admission.current", denied.Current))
		a.Log.Infof("admission denied club=%s kind=%s current=%d", clubID, kind, denied.Current)
		return domain.Subscription{}, err
	}
	if err != nil {
		span.RecordError(err)
		return domain.Subscription{}, err
	}
	span.SetAttributes(attribute.Int("admission.current", sub.CurrentTeamCount))
	return sub, nil
}

func (a *AdmissionController) CreateTeam(ctx context.Context, actorID, clubID uuid.UUID, name string) (domain.Team, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return domain.Team{}, fmt.Errorf("%w: team name required", ErrInvalidArgument)
	}
	if _, err := authorize(ctx, a.Repo, actorID, clubID, domain.ActionCreateTeam); err != nil {
		return domain.Team{}, err
	}
	team := domain.Team{ID: uuid.New(), ClubID: clubID, Name: name, CreatedAt: a.now()}
	_, err := a.CreateGated(ctx, clubID, domain.ResourceTeam, func(ctx context.Context, tx repository.Tx) error {
		return tx.CreateTeam(ctx, team)
	})
	if err != nil {
		return domain.Team{}, err
	}
	a.Notifier.Notify(clubID, TopicTeams)
	return team, nil
}

// DeleteTeam removes the team and frees its slot in one transaction.
func (a *AdmissionController) DeleteTeam(ctx context.Context, actorID, clubID, teamID uuid.UUID) error {
	if _, err := authorize(ctx, a.Repo, actorID, clubID, domain.ActionDeleteTeam); err != nil {
		return err
	}
	err := a.Repo.InTx(ctx, func(tx repository.Tx) error {
		if err := tx.DeleteTeam(ctx, clubID, teamID); err != nil {
			return notFound(err)
		}
		_, err := tx.ReleaseTeamSlot(ctx, clubID, a.now())
		return err
	})
	if err != nil {
		return err
	}
	a.Notifier.Notify(clubID, TopicTeams)
	return nil
}

func (a *AdmissionController) ListTeams(ctx context.Context, actorID, clubID uuid.UUID) ([]domain.Team, error) {
	if _, err := authorize(ctx, a.Repo, actorID, clubID, domain.ActionViewMembers); err != nil {
		return nil, err
	}
	return a.Repo.ListTeams(ctx, clubID)
}

func (a *AdmissionController) Status(ctx context.Context, actorID, clubID uuid.UUID) (domain.SubscriptionStatus, error) {
	if _, err := authorize(ctx, a.Repo, actorID, clubID, domain.ActionViewSubscription); err != nil {
		return domain.SubscriptionStatus{}, err
	}
	sub, err := a.Repo.GetSubscription(ctx, clubID)
	if err != nil {
		return domain.SubscriptionStatus{}, notFound(err)
	}
	return sub.Status(), nil
}

// ChangePlan moves the club to planID. Existing teams are kept even when the
// new limit is lower; the club then stays over limit until usage drops.
func (a *AdmissionController) ChangePlan(ctx context.Context, actorID, clubID uuid.UUID, planID string) (domain.SubscriptionStatus, error) {
	ctx, span := a.tracer.Start(ctx, "admission.change_plan", trace.WithAttributes(
		attribute.String("club.id", clubID.String()),
		attribute.String("plan.id", planID),
	))
	defer span.End()

	plan, err := a.Plans.Get(planID)
	if errors.Is(err, infra.ErrUnknownPlan) {
		return domain.SubscriptionStatus{}, fmt.Errorf("%w: %v", ErrInvalidArgument, err)
	}
	if _, err := authorize(ctx, a.Repo, actorID, clubID, domain.ActionManageSubscription); err != nil {
		return domain.SubscriptionStatus{}, err
	}
	sub, err := a.Repo.UpdatePlan(ctx, clubID, plan.ID, plan.MaxTeams, a.now())
	if err != nil {
		return domain.SubscriptionStatus{}, notFound(err)
	}
	if sub.OverLimit() {
		a.Log.Warnf("club %s is over limit on plan %s: %d teams, max %d", clubID, plan.ID, sub.CurrentTeamCount, *sub.MaxTeams)
	}
	a.Log.Infof("club %s moved to plan %s", clubID, plan.ID)
	return sub.Status(), nil
}

// CancelPlan returns the club to the default plan.
func (a *AdmissionController) CancelPlan(ctx context.Context, actorID, clubID uuid.UUID) (domain.SubscriptionStatus, error) {
	return a.ChangePlan(ctx, actorID, clubID, a.Plans.DefaultPlan().ID)
}
