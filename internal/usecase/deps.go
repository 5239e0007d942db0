package usecase

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/you/club-membership/internal/domain"
	"github.com/you/club-membership/internal/infra"
	"github.com/you/club-membership/internal/repository"
)

const (
	TopicMembers = "members.changed"
	TopicTeams   = "teams.changed"
)

// ChangeNotifier tells connected clients that a club list changed.
type ChangeNotifier interface {
	Notify(clubID uuid.UUID, topic string)
}

type nopNotifier struct{}

func (nopNotifier) Notify(uuid.UUID, string) {}

// Deps are shared by every service. Zero fields get working defaults.
type Deps struct {
	Repo              repository.Repo
	Log               infra.Logger
	Metrics           *infra.Metrics
	Alerter           infra.Alerter
	Notifier          ChangeNotifier
	Plans             *infra.PlanCatalog
	Now               func() time.Time
	OperationTimeout  time.Duration
	InviteDefaultDays int
}

func (d Deps) withDefaults() Deps {
	if d.Log == nil {
		d.Log = infra.NewNopLogger()
	}
	if d.Metrics == nil {
		d.Metrics = infra.NewDetachedMetrics()
	}
	if d.Alerter == nil {
		d.Alerter = &infra.LogAlerter{Log: d.Log, Metrics: d.Metrics}
	}
	if d.Notifier == nil {
		d.Notifier = nopNotifier{}
	}
	if d.Plans == nil {
		d.Plans = infra.DefaultPlanCatalog()
	}
	if d.Now == nil {
		d.Now = time.Now
	}
	if d.OperationTimeout <= 0 {
		d.OperationTimeout = 5 * time.Second
	}
	if d.InviteDefaultDays <= 0 {
		d.InviteDefaultDays = 7
	}
	return d
}

func (d Deps) now() time.Time { return d.Now().UTC() }

// authorize loads the actor's membership and checks it grants action in clubID.
func authorize(ctx context.Context, q repository.MembershipStore, actorID, clubID uuid.UUID, action domain.Action) (domain.Membership, error) {
	m, err := q.GetMembership(ctx, actorID)
	if errors.Is(err, repository.ErrNotFound) {
		return domain.Membership{}, ErrForbidden
	}
	if err != nil {
		return domain.Membership{}, err
	}
	if m.ClubID != clubID || !domain.Can(m.Role, action) {
		return domain.Membership{}, ErrForbidden
	}
	return m, nil
}

func notFound(err error) error {
	if errors.Is(err, repository.ErrNotFound) {
		return ErrNotFound
	}
	return err
}
