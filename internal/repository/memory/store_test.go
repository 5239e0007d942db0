package memory

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/you/club-membership/internal/domain"
	"github.com/you/club-membership/internal/repository"
)

var now = time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

func seedClub(t *testing.T, s *Store, maxTeams *int) uuid.UUID {
	t.Helper()
	ctx := context.Background()
	id := uuid.New()
	require.NoError(t, s.CreateClub(ctx, domain.Club{ID: id, Name: "Club", OwnerID: uuid.New(), CreatedAt: now}))
	require.NoError(t, s.CreateSubscription(ctx, domain.Subscription{ClubID: id, PlanID: "test", MaxTeams: maxTeams, UpdatedAt: now}))
	return id
}

func TestConsumeInvitation_OnlyOnce(t *testing.T) {
	ctx := context.Background()
	s := New()
	club := seedClub(t, s, nil)
	require.NoError(t, s.CreateInvitation(ctx, domain.Invitation{
		TokenHash: "h1", ClubID: club, Type: domain.InvitationPlayer, CreatedAt: now, ExpiresAt: now.Add(time.Hour),
	}))

	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		wins []uuid.UUID
	)
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			u := uuid.New()
			if _, err := s.ConsumeInvitation(ctx, "h1", u, now); err == nil {
				mu.Lock()
				wins = append(wins, u)
				mu.Unlock()
			} else {
				assert.ErrorIs(t, err, repository.ErrConditionFailed)
			}
		}()
	}
	wg.Wait()
	require.Len(t, wins, 1)

	inv, err := s.GetInvitation(ctx, "h1")
	require.NoError(t, err)
	require.NotNil(t, inv.UsedBy)
	assert.Equal(t, wins[0], *inv.UsedBy)
}

func TestConsumeInvitation_ExpiredAndUnknown(t *testing.T) {
	ctx := context.Background()
	s := New()
	club := seedClub(t, s, nil)
	require.NoError(t, s.CreateInvitation(ctx, domain.Invitation{
		TokenHash: "h1", ClubID: club, Type: domain.InvitationPlayer, CreatedAt: now, ExpiresAt: now.Add(time.Hour),
	}))

	_, err := s.ConsumeInvitation(ctx, "h1", uuid.New(), now.Add(time.Hour))
	assert.ErrorIs(t, err, repository.ErrConditionFailed)
	_, err = s.ConsumeInvitation(ctx, "nope", uuid.New(), now)
	assert.ErrorIs(t, err, repository.ErrConditionFailed)

	inv, err := s.GetInvitation(ctx, "h1")
	require.NoError(t, err)
	assert.False(t, inv.IsUsed())
}

func TestTeamSlots(t *testing.T) {
	ctx := context.Background()
	s := New()
	two := 2
	club := seedClub(t, s, &two)

	for i := 0; i < 2; i++ {
		_, err := s.ReserveTeamSlot(ctx, club, now)
		require.NoError(t, err)
	}
	sub, err := s.ReserveTeamSlot(ctx, club, now)
	assert.ErrorIs(t, err, repository.ErrConditionFailed)
	assert.Equal(t, 2, sub.CurrentTeamCount)

	for i := 0; i < 3; i++ {
		sub, err = s.ReleaseTeamSlot(ctx, club, now)
		require.NoError(t, err)
	}
	assert.Equal(t, 0, sub.CurrentTeamCount, "count never goes negative")

	_, err = s.ReserveTeamSlot(ctx, uuid.New(), now)
	assert.ErrorIs(t, err, repository.ErrNotFound)
}

func TestInTx_RollsBackOnError(t *testing.T) {
	ctx := context.Background()
	s := New()
	club := seedClub(t, s, nil)
	user := uuid.New()
	boom := errors.New("boom")

	err := s.InTx(ctx, func(tx repository.Tx) error {
		require.NoError(t, tx.InsertMembership(ctx, domain.Membership{UserID: user, ClubID: club, Role: domain.RolePlayer, JoinedAt: now}))
		return boom
	})
	assert.ErrorIs(t, err, boom)

	_, err = s.GetMembership(ctx, user)
	assert.ErrorIs(t, err, repository.ErrNotFound)
}

func TestInTx_RollsBackWhenContextEnds(t *testing.T) {
	s := New()
	club := seedClub(t, s, nil)
	user := uuid.New()
	ctx, cancel := context.WithCancel(context.Background())

	err := s.InTx(ctx, func(tx repository.Tx) error {
		cancel()
		return tx.InsertMembership(ctx, domain.Membership{UserID: user, ClubID: club, Role: domain.RolePlayer, JoinedAt: now})
	})
	assert.ErrorIs(t, err, context.Canceled)

	_, err = s.GetMembership(context.Background(), user)
	assert.ErrorIs(t, err, repository.ErrNotFound)

	_, err = s.GetClub(ctx, club)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestMemberships_OnePerUser(t *testing.T) {
	ctx := context.Background()
	s := New()
	a := seedClub(t, s, nil)
	b := seedClub(t, s, nil)
	user := uuid.New()
	require.NoError(t, s.UpsertUser(ctx, domain.User{ID: user, Email: "u@example.com", FirstName: "U"}))

	require.NoError(t, s.InsertMembership(ctx, domain.Membership{UserID: user, ClubID: a, Role: domain.RolePlayer, JoinedAt: now}))
	err := s.InsertMembership(ctx, domain.Membership{UserID: user, ClubID: b, Role: domain.RolePlayer, JoinedAt: now})
	assert.ErrorIs(t, err, repository.ErrAlreadyExists)

	assert.ErrorIs(t, s.DeleteMembership(ctx, b, user), repository.ErrNotFound)

	members, err := s.ListMembers(ctx, a)
	require.NoError(t, err)
	require.Len(t, members, 1)
	assert.Equal(t, "u@example.com", members[0].Email)

	require.NoError(t, s.DeleteMembership(ctx, a, user))
	require.NoError(t, s.InsertMembership(ctx, domain.Membership{UserID: user, ClubID: b, Role: domain.RolePlayer, JoinedAt: now}))
}

func TestUpdatePlan_CopiesLimit(t *testing.T) {
	ctx := context.Background()
	s := New()
	club := seedClub(t, s, nil)
	limit := 3
	_, err := s.UpdatePlan(ctx, club, "starter", &limit, now)
	require.NoError(t, err)
	limit = 99

	sub, err := s.GetSubscription(ctx, club)
	require.NoError(t, err)
	require.NotNil(t, sub.MaxTeams)
	assert.Equal(t, 3, *sub.MaxTeams)
}
