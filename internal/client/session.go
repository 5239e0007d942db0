package client

import (
	"context"
	"errors"
	"sync"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/you/club-membership/internal/domain"
	"github.com/you/club-membership/internal/infra"
	"github.com/you/club-membership/internal/optimistic"
)

var ErrNotListed = errors.New("client: item is not in the list")

// Session is the signed-in user's view of one club. Create it at sign-in,
// pass it to whatever renders members and teams, and Close it at sign-out.
type Session struct {
	client *Client
	log    infra.Logger

	Members *optimistic.Controller[domain.Member, uuid.UUID]
	Teams   *optimistic.Controller[domain.Team, uuid.UUID]

	mu     sync.RWMutex
	clubID uuid.UUID
}

func memberKey(m domain.Member) uuid.UUID { return m.UserID }
func teamKey(t domain.Team) uuid.UUID { return t.ID }

func NewSession(c *Client, clubID uuid.UUID, log infra.Logger, opts ...optimistic.Option) *Session {
	if log == nil {
		log = infra.NewNopLogger()
	}
	s := &Session{client: c, log: log, clubID: clubID}
	opts = append([]optimistic.Option{optimistic.WithLogger(log)}, opts...)
	s.Members = optimistic.New(memberKey, func(ctx context.Context) ([]domain.Member, error) {
		return c.ListMembers(ctx, s.ClubID())
	}, opts...)
	s.Teams = optimistic.New(teamKey, func(ctx context.Context) ([]domain.Team, error) {
		return c.ListTeams(ctx, s.ClubID())
	}, opts...)
	return s
}

func (s *Session) ClubID() uuid.UUID {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.clubID
}

// Load fetches both lists.
func (s *Session) Load(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return s.Members.Load(ctx) })
	g.Go(func() error { return s.Teams.Load(ctx) })
	return g.Wait()
}

func (s *Session) RemoveMember(ctx context.Context, userID uuid.UUID) optimistic.Result[domain.Member] {
	var target *domain.Member
	for _, m := range s.Members.Items() {
		if m.UserID == userID {
			target = &m
			break
		}
	}
	if target == nil {
		return optimistic.Result[domain.Member]{State: optimistic.RolledBack, Err: ErrNotListed}
	}
	clubID := s.ClubID()
	return s.Members.Apply(ctx, optimistic.Mutation[domain.Member]{
		Kind: optimistic.Remove,
		Item: *target,
		Commit: func(ctx context.Context, m domain.Member) (domain.Member, error) {
			return domain.Member{}, s.client.RemoveMember(ctx, clubID, m.UserID)
		},
	})
}

// CreateTeam shows the team under a temporary id until the server assigns one.
func (s *Session) CreateTeam(ctx context.Context, name string) optimistic.Result[domain.Team] {
	clubID := s.ClubID()
	return s.Teams.Apply(ctx, optimistic.Mutation[domain.Team]{
		Kind: optimistic.Add,
		Item: domain.Team{ID: uuid.New(), ClubID: clubID, Name: name},
		Commit: func(ctx context.Context, t domain.Team) (domain.Team, error) {
			return s.client.CreateTeam(ctx, clubID, t.Name)
		},
	})
}

func (s *Session) DeleteTeam(ctx context.Context, teamID uuid.UUID) optimistic.Result[domain.Team] {
	var target *domain.Team
	for _, t := range s.Teams.Items() {
		if t.ID == teamID {
			target = &t
			break
		}
	}
	if target == nil {
		return optimistic.Result[domain.Team]{State: optimistic.RolledBack, Err: ErrNotListed}
	}
	clubID := s.ClubID()
	return s.Teams.Apply(ctx, optimistic.Mutation[domain.Team]{
		Kind: optimistic.Remove,
		Item: *target,
		Commit: func(ctx context.Context, t domain.Team) (domain.Team, error) {
			return domain.Team{}, s.client.DeleteTeam(ctx, clubID, t.ID)
		},
	})
}

// Join starts joining with an invitation token. A TRANSFER_CONFIRM_PENDING
// outcome needs ConfirmTransfer.
func (s *Session) Join(ctx context.Context, token string) (domain.JoinOutcome, error) {
	out, err := s.client.Join(ctx, token)
	if err != nil {
		return out, err
	}
	return out, s.afterJoin(ctx, out)
}

func (s *Session) ConfirmTransfer(ctx context.Context, token string) (domain.JoinOutcome, error) {
	out, err := s.client.ConfirmTransfer(ctx, token)
	if err != nil {
		return out, err
	}
	return out, s.afterJoin(ctx, out)
}

// afterJoin moves the session to the joined club and reloads its lists.
func (s *Session) afterJoin(ctx context.Context, out domain.JoinOutcome) error {
	if out.State != domain.JoinJoined || out.ClubID == nil {
		return nil
	}
	s.mu.Lock()
	s.clubID = *out.ClubID
	s.mu.Unlock()
	s.log.Infof("session moved to club %s", *out.ClubID)
	return s.Load(ctx)
}

func (s *Session) Close() {
	s.Members.Close()
	s.Teams.Close()
}
