package pg

import (
	"context"
	"errors"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/you/club-membership/internal/domain"
	"github.com/you/club-membership/internal/repository"
)

func newRepo(t *testing.T) (*PGRepo, *pgxpool.Pool) {
	t.Helper()
	dsn := os.Getenv("TEST_DATABASE_URL")
	if dsn == "" {
		t.Skip("TEST_DATABASE_URL not set")
	}
	ctx := context.Background()
	pool, err := pgxpool.New(ctx, dsn)
	require.NoError(t, err)
	t.Cleanup(pool.Close)
	require.NoError(t, Migrate(ctx, pool))
	return NewPGRepo(pool), pool
}

func seedClub(t *testing.T, r *PGRepo, pool *pgxpool.Pool, maxTeams *int) uuid.UUID {
	t.Helper()
	ctx := context.Background()
	now := time.Now().UTC().Truncate(time.Microsecond)
	id := uuid.New()
	require.NoError(t, r.CreateClub(ctx, domain.Club{ID: id, Name: "Club", OwnerID: uuid.New(), CreatedAt: now}))
	require.NoError(t, r.CreateSubscription(ctx, domain.Subscription{ClubID: id, PlanID: "test", MaxTeams: maxTeams, UpdatedAt: now}))
	t.Cleanup(func() {
		_, _ = pool.Exec(context.Background(), "DELETE FROM clubs WHERE id=$1", id)
	})
	return id
}

func TestPG_ConsumeInvitationOnce(t *testing.T) {
	r, pool := newRepo(t)
	ctx := context.Background()
	club := seedClub(t, r, pool, nil)
	now := time.Now().UTC().Truncate(time.Microsecond)
	hash := "it-" + uuid.NewString()
	require.NoError(t, r.CreateInvitation(ctx, domain.Invitation{
		TokenHash: hash, ClubID: club, Type: domain.InvitationPlayer, CreatedBy: uuid.New(), CreatedAt: now, ExpiresAt: now.Add(time.Hour),
	}))

	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		wins int
	)
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := r.ConsumeInvitation(ctx, hash, uuid.New(), now)
			if err == nil {
				mu.Lock()
				wins++
				mu.Unlock()
				return
			}
			assert.ErrorIs(t, err, repository.ErrConditionFailed)
		}()
	}
	wg.Wait()
	assert.Equal(t, 1, wins)

	_, err := r.ConsumeInvitation(ctx, "missing-"+hash, uuid.New(), now)
	assert.ErrorIs(t, err, repository.ErrConditionFailed)
}

func TestPG_TeamSlotsRespectLimit(t *testing.T) {
	r, pool := newRepo(t)
	ctx := context.Background()
	three := 3
	club := seedClub(t, r, pool, &three)
	now := time.Now().UTC()

	var (
		wg sync.WaitGroup
		mu sync.Mutex
		ok int
	)
	for i := 0; i < 12; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := r.ReserveTeamSlot(ctx, club, now); err == nil {
				mu.Lock()
				ok++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, 3, ok)

	sub, err := r.ReserveTeamSlot(ctx, club, now)
	assert.ErrorIs(t, err, repository.ErrConditionFailed)
	assert.Equal(t, 3, sub.CurrentTeamCount)
}

func TestPG_InTxRollsBack(t *testing.T) {
	r, pool := newRepo(t)
	ctx := context.Background()
	club := seedClub(t, r, pool, nil)
	user := uuid.New()
	boom := errors.New("boom")

	err := r.InTx(ctx, func(tx repository.Tx) error {
		if err := tx.InsertMembership(ctx, domain.Membership{UserID: user, ClubID: club, Role: domain.RolePlayer, JoinedAt: time.Now()}); err != nil {
			return err
		}
		return boom
	})
	assert.ErrorIs(t, err, boom)

	_, err = r.GetMembership(ctx, user)
	assert.ErrorIs(t, err, repository.ErrNotFound)
}

func TestPG_MembershipPerUser(t *testing.T) {
	r, pool := newRepo(t)
	ctx := context.Background()
	a := seedClub(t, r, pool, nil)
	b := seedClub(t, r, pool, nil)
	user := uuid.New()
	t.Cleanup(func() { _, _ = pool.Exec(context.Background(), "DELETE FROM users WHERE id=$1", user) })
	require.NoError(t, r.UpsertUser(ctx, domain.User{ID: user, Email: "it@example.com", FirstName: "It"}))

	require.NoError(t, r.InsertMembership(ctx, domain.Membership{UserID: user, ClubID: a, Role: domain.RolePlayer, JoinedAt: time.Now()}))
	err := r.InsertMembership(ctx, domain.Membership{UserID: user, ClubID: b, Role: domain.RolePlayer, JoinedAt: time.Now()})
	assert.ErrorIs(t, err, repository.ErrAlreadyExists)

	members, err := r.ListMembers(ctx, a)
	require.NoError(t, err)
	require.Len(t, members, 1)
	assert.Equal(t, "it@example.com", members[0].Email)

	assert.ErrorIs(t, r.DeleteMembership(ctx, b, user), repository.ErrNotFound)
	require.NoError(t, r.DeleteMembership(ctx, a, user))
}
