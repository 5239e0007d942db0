// Package memory is an in-process repository.Repo. Transactions run against a
// cloned state under the store mutex and replace it on success, so every
// conditional update has the same all-or-nothing behaviour as the Postgres store.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/you/club-membership/internal/domain"
	"github.com/you/club-membership/internal/repository"
)

var _ repository.Repo = (*Store)(nil)

type state struct {
	users       map[uuid.UUID]domain.User
	clubs       map[uuid.UUID]domain.Club
	invitations map[string]domain.Invitation
	memberships map[uuid.UUID]domain.Membership
	subs        map[uuid.UUID]domain.Subscription
	teams       map[uuid.UUID]domain.Team
}

func newState() *state {
	return &state{
		users:       map[uuid.UUID]domain.User{},
		clubs:       map[uuid.UUID]domain.Club{},
		invitations: map[string]domain.Invitation{},
		memberships: map[uuid.UUID]domain.Membership{},
		subs:        map[uuid.UUID]domain.Subscription{},
		teams:       map[uuid.UUID]domain.Team{},
	}
}

// clone copies the maps. Values hold pointers (UsedAt, MaxTeams) that are
// replaced, never written through, so a shallow value copy is enough.
func (s *state) clone() *state {
	c := newState()
	for k, v := range s.users {
		c.users[k] = v
	}
	for k, v := range s.clubs {
		c.clubs[k] = v
	}
	for k, v := range s.invitations {
		c.invitations[k] = v
	}
	for k, v := range s.memberships {
		c.memberships[k] = v
	}
	for k, v := range s.subs {
		c.subs[k] = v
	}
	for k, v := range s.teams {
		c.teams[k] = v
	}
	return c
}

type Store struct {
	mu sync.Mutex
	st *state
}

func New() *Store {
	return &Store{st: newState()}
}

// InTx must not call the Store's own methods from fn; use tx.
func (s *Store) InTx(ctx context.Context, fn func(tx repository.Tx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	next := s.st.clone()
	if err := fn(&txn{st: next}); err != nil {
		return err
	}
	// a deadline that passed while fn ran rolls back, like a cancelled pg tx
	if err := ctx.Err(); err != nil {
		return err
	}
	s.st = next
	return nil
}

func (s *Store) do(ctx context.Context, fn func(t *txn) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return fn(&txn{st: s.st})
}

func (s *Store) UpsertUser(ctx context.Context, u domain.User) error {
	return s.do(ctx, func(t *txn) error { return t.UpsertUser(ctx, u) })
}

func (s *Store) GetUser(ctx context.Context, id uuid.UUID) (u domain.User, err error) {
	err = s.do(ctx, func(t *txn) error { u, err = t.GetUser(ctx, id); return err })
	return u, err
}

func (s *Store) CreateClub(ctx context.Context, c domain.Club) error {
	return s.do(ctx, func(t *txn) error { return t.CreateClub(ctx, c) })
}

func (s *Store) GetClub(ctx context.Context, id uuid.UUID) (c domain.Club, err error) {
	err = s.do(ctx, func(t *txn) error { c, err = t.GetClub(ctx, id); return err })
	return c, err
}

func (s *Store) CreateInvitation(ctx context.Context, inv domain.Invitation) error {
	return s.do(ctx, func(t *txn) error { return t.CreateInvitation(ctx, inv) })
}

func (s *Store) GetInvitation(ctx context.Context, tokenHash string) (inv domain.Invitation, err error) {
	err = s.do(ctx, func(t *txn) error { inv, err = t.GetInvitation(ctx, tokenHash); return err })
	return inv, err
}

func (s *Store) ListInvitations(ctx context.Context, clubID uuid.UUID) (list []domain.Invitation, err error) {
	err = s.do(ctx, func(t *txn) error { list, err = t.ListInvitations(ctx, clubID); return err })
	return list, err
}

func (s *Store) ConsumeInvitation(ctx context.Context, tokenHash string, userID uuid.UUID, now time.Time) (inv domain.Invitation, err error) {
	err = s.do(ctx, func(t *txn) error { inv, err = t.ConsumeInvitation(ctx, tokenHash, userID, now); return err })
	return inv, err
}

func (s *Store) GetMembership(ctx context.Context, userID uuid.UUID) (m domain.Membership, err error) {
	err = s.do(ctx, func(t *txn) error { m, err = t.GetMembership(ctx, userID); return err })
	return m, err
}

func (s *Store) ListMembers(ctx context.Context, clubID uuid.UUID) (list []domain.Member, err error) {
	err = s.do(ctx, func(t *txn) error { list, err = t.ListMembers(ctx, clubID); return err })
	return list, err
}

func (s *Store) InsertMembership(ctx context.Context, m domain.Membership) error {
	return s.do(ctx, func(t *txn) error { return t.InsertMembership(ctx, m) })
}

func (s *Store) DeleteMembership(ctx context.Context, clubID, userID uuid.UUID) error {
	return s.do(ctx, func(t *txn) error { return t.DeleteMembership(ctx, clubID, userID) })
}

func (s *Store) CreateSubscription(ctx context.Context, sub domain.Subscription) error {
	return s.do(ctx, func(t *txn) error { return t.CreateSubscription(ctx, sub) })
}

func (s *Store) GetSubscription(ctx context.Context, clubID uuid.UUID) (sub domain.Subscription, err error) {
	err = s.do(ctx, func(t *txn) error { sub, err = t.GetSubscription(ctx, clubID); return err })
	return sub, err
}

func (s *Store) ReserveTeamSlot(ctx context.Context, clubID uuid.UUID, now time.Time) (sub domain.Subscription, err error) {
	err = s.do(ctx, func(t *txn) error { sub, err = t.ReserveTeamSlot(ctx, clubID, now); return err })
	return sub, err
}

func (s *Store) ReleaseTeamSlot(ctx context.Context, clubID uuid.UUID, now time.Time) (sub domain.Subscription, err error) {
	err = s.do(ctx, func(t *txn) error { sub, err = t.ReleaseTeamSlot(ctx, clubID, now); return err })
	return sub, err
}

func (s *Store) UpdatePlan(ctx context.Context, clubID uuid.UUID, planID string, maxTeams *int, now time.Time) (sub domain.Subscription, err error) {
	err = s.do(ctx, func(t *txn) error { sub, err = t.UpdatePlan(ctx, clubID, planID, maxTeams, now); return err })
	return sub, err
}

func (s *Store) CreateTeam(ctx context.Context, team domain.Team) error {
	return s.do(ctx, func(t *txn) error { return t.CreateTeam(ctx, team) })
}

func (s *Store) ListTeams(ctx context.Context, clubID uuid.UUID) (list []domain.Team, err error) {
	err = s.do(ctx, func(t *txn) error { list, err = t.ListTeams(ctx, clubID); return err })
	return list, err
}

func (s *Store) DeleteTeam(ctx context.Context, clubID, teamID uuid.UUID) error {
	return s.do(ctx, func(t *txn) error { return t.DeleteTeam(ctx, clubID, teamID) })
}

// txn operates on a state without locking; the caller holds Store.mu.
type txn struct {
	st *state
}

var _ repository.Tx = (*txn)(nil)

func (t *txn) UpsertUser(_ context.Context, u domain.User) error {
	t.st.users[u.ID] = u
	return nil
}

func (t *txn) GetUser(_ context.Context, id uuid.UUID) (domain.User, error) {
	u, ok := t.st.users[id]
	if !ok {
		return domain.User{}, repository.ErrNotFound
	}
	return u, nil
}

func (t *txn) CreateClub(_ context.Context, c domain.Club) error {
	if _, ok := t.st.clubs[c.ID]; ok {
		return repository.ErrAlreadyExists
	}
	t.st.clubs[c.ID] = c
	return nil
}

func (t *txn) GetClub(_ context.Context, id uuid.UUID) (domain.Club, error) {
	c, ok := t.st.clubs[id]
	if !ok {
		return domain.Club{}, repository.ErrNotFound
	}
	return c, nil
}

func (t *txn) CreateInvitation(_ context.Context, inv domain.Invitation) error {
	if _, ok := t.st.invitations[inv.TokenHash]; ok {
		return repository.ErrAlreadyExists
	}
	if _, ok := t.st.clubs[inv.ClubID]; !ok {
		return repository.ErrNotFound
	}
	t.st.invitations[inv.TokenHash] = inv
	return nil
}

func (t *txn) GetInvitation(_ context.Context, tokenHash string) (domain.Invitation, error) {
	inv, ok := t.st.invitations[tokenHash]
	if !ok {
		return domain.Invitation{}, repository.ErrNotFound
	}
	return inv, nil
}

func (t *txn) ListInvitations(_ context.Context, clubID uuid.UUID) ([]domain.Invitation, error) {
	var res []domain.Invitation
	for _, inv := range t.st.invitations {
		if inv.ClubID == clubID {
			res = append(res, inv)
		}
	}
	sort.Slice(res, func(i, j int) bool {
		if !res[i].CreatedAt.Equal(res[j].CreatedAt) {
			return res[i].CreatedAt.After(res[j].CreatedAt)
		}
		return res[i].TokenHash < res[j].TokenHash
	})
	return res, nil
}

func (t *txn) ConsumeInvitation(_ context.Context, tokenHash string, userID uuid.UUID, now time.Time) (domain.Invitation, error) {
	inv, ok := t.st.invitations[tokenHash]
	if !ok || inv.UsedAt != nil || !now.Before(inv.ExpiresAt) {
		return domain.Invitation{}, repository.ErrConditionFailed
	}
	usedAt, usedBy := now, userID
	inv.UsedAt, inv.UsedBy = &usedAt, &usedBy
	t.st.invitations[tokenHash] = inv
	return inv, nil
}

func (t *txn) GetMembership(_ context.Context, userID uuid.UUID) (domain.Membership, error) {
	m, ok := t.st.memberships[userID]
	if !ok {
		return domain.Membership{}, repository.ErrNotFound
	}
	return m, nil
}

func (t *txn) ListMembers(_ context.Context, clubID uuid.UUID) ([]domain.Member, error) {
	var res []domain.Member
	for _, m := range t.st.memberships {
		if m.ClubID != clubID {
			continue
		}
		u := t.st.users[m.UserID]
		res = append(res, domain.Member{Membership: m, Email: u.Email, FirstName: u.FirstName, LastName: u.LastName})
	}
	sort.Slice(res, func(i, j int) bool {
		if !res[i].JoinedAt.Equal(res[j].JoinedAt) {
			return res[i].JoinedAt.Before(res[j].JoinedAt)
		}
		return res[i].UserID.String() < res[j].UserID.String()
	})
	return res, nil
}

func (t *txn) InsertMembership(_ context.Context, m domain.Membership) error {
	if _, ok := t.st.memberships[m.UserID]; ok {
		return repository.ErrAlreadyExists
	}
	if _, ok := t.st.clubs[m.ClubID]; !ok {
		return repository.ErrNotFound
	}
	t.st.memberships[m.UserID] = m
	return nil
}

func (t *txn) DeleteMembership(_ context.Context, clubID, userID uuid.UUID) error {
	m, ok := t.st.memberships[userID]
	if !ok || m.ClubID != clubID {
		return repository.ErrNotFound
	}
	delete(t.st.memberships, userID)
	return nil
}

func (t *txn) CreateSubscription(_ context.Context, s domain.Subscription) error {
	if _, ok := t.st.subs[s.ClubID]; ok {
		return repository.ErrAlreadyExists
	}
	t.st.subs[s.ClubID] = s
	return nil
}

func (t *txn) GetSubscription(_ context.Context, clubID uuid.UUID) (domain.Subscription, error) {
	s, ok := t.st.subs[clubID]
	if !ok {
		return domain.Subscription{}, repository.ErrNotFound
	}
	return s, nil
}

func (t *txn) ReserveTeamSlot(_ context.Context, clubID uuid.UUID, now time.Time) (domain.Subscription, error) {
	s, ok := t.st.subs[clubID]
	if !ok {
		return domain.Subscription{}, repository.ErrNotFound
	}
	if !s.CanCreateTeam() {
		return s, repository.ErrConditionFailed
	}
	s.CurrentTeamCount++
	s.UpdatedAt = now
	t.st.subs[clubID] = s
	return s, nil
}

func (t *txn) ReleaseTeamSlot(_ context.Context, clubID uuid.UUID, now time.Time) (domain.Subscription, error) {
	s, ok := t.st.subs[clubID]
	if !ok {
		return domain.Subscription{}, repository.ErrNotFound
	}
	if s.CurrentTeamCount > 0 {
		s.CurrentTeamCount--
	}
	s.UpdatedAt = now
	t.st.subs[clubID] = s
	return s, nil
}

func (t *txn) UpdatePlan(_ context.Context, clubID uuid.UUID, planID string, maxTeams *int, now time.Time) (domain.Subscription, error) {
	s, ok := t.st.subs[clubID]
	if !ok {
		return domain.Subscription{}, repository.ErrNotFound
	}
	s.PlanID = planID
	s.MaxTeams = copyInt(maxTeams)
	s.UpdatedAt = now
	t.st.subs[clubID] = s
	return s, nil
}

func (t *txn) CreateTeam(_ context.Context, team domain.Team) error {
	if _, ok := t.st.teams[team.ID]; ok {
		return repository.ErrAlreadyExists
	}
	if _, ok := t.st.clubs[team.ClubID]; !ok {
		return repository.ErrNotFound
	}
	t.st.teams[team.ID] = team
	return nil
}

func (t *txn) ListTeams(_ context.Context, clubID uuid.UUID) ([]domain.Team, error) {
	var res []domain.Team
	for _, team := range t.st.teams {
		if team.ClubID == clubID {
			res = append(res, team)
		}
	}
	sort.Slice(res, func(i, j int) bool {
		if !res[i].CreatedAt.Equal(res[j].CreatedAt) {
			return res[i].CreatedAt.Before(res[j].CreatedAt)
		}
		return res[i].ID.String() < res[j].ID.String()
	})
	return res, nil
}

func (t *txn) DeleteTeam(_ context.Context, clubID, teamID uuid.UUID) error {
	team, ok := t.st.teams[teamID]
	if !ok || team.ClubID != clubID {
		return repository.ErrNotFound
	}
	delete(t.st.teams, teamID)
	return nil
}

func copyInt(v *int) *int {
	if v == nil {
		return nil
	}
	n := *v
	return &n
}
