package usecase

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/you/club-membership/internal/domain"
	"github.com/you/club-membership/internal/repository"
)

func TestCreateTeam_DeniedAtLimit(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	club, owner := f.club(t, "Club")
	_, err := f.adm.ChangePlan(ctx, owner, club.ID, "starter")
	require.NoError(t, err)

	for i := 0; i < 3; i++ {
		_, err := f.adm.CreateTeam(ctx, owner, club.ID, fmt.Sprintf("U%d", 10+i))
		require.NoError(t, err)
	}

	_, err = f.adm.CreateTeam(ctx, owner, club.ID, "U13")
	var denied *AdmissionDeniedError
	require.True(t, errors.As(err, &denied), "got %v", err)
	assert.Equal(t, 3, denied.Current)
	require.NotNil(t, denied.Limit)
	assert.Equal(t, 3, *denied.Limit)
	assert.Equal(t, float64(1), testutil.ToFloat64(f.metrics.AdmissionDenied))

	status, err := f.adm.Status(ctx, owner, club.ID)
	require.NoError(t, err)
	assert.Equal(t, 3, status.CurrentTeamCount)
	assert.False(t, status.CanCreateTeam)

	teams, err := f.adm.ListTeams(ctx, owner, club.ID)
	require.NoError(t, err)
	assert.Len(t, teams, 3)
	assert.True(t, f.notifier.has(club.ID, TopicTeams))
}

func TestCreateGated_ConcurrentNeverExceedsLimit(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	club, owner := f.club(t, "Club")
	_, err := f.adm.ChangePlan(ctx, owner, club.ID, "pro")
	require.NoError(t, err)

	const callers = 40
	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		ok, deny int
	)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := f.adm.CreateTeam(ctx, owner, club.ID, fmt.Sprintf("team-%d", i))
			mu.Lock()
			defer mu.Unlock()
			var denied *AdmissionDeniedError
			switch {
			case err == nil:
				ok++
			case errors.As(err, &denied):
				deny++
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}(i)
	}
	wg.Wait()

	assert.Equal(t, 10, ok)
	assert.Equal(t, callers-10, deny)
	sub, err := f.store.GetSubscription(ctx, club.ID)
	require.NoError(t, err)
	assert.Equal(t, 10, sub.CurrentTeamCount)
	teams, err := f.store.ListTeams(ctx, club.ID)
	require.NoError(t, err)
	assert.Len(t, teams, 10)
}

func TestChangePlan_DowngradeKeepsTeams(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	club, owner := f.club(t, "Club")
	_, err := f.adm.ChangePlan(ctx, owner, club.ID, "pro")
	require.NoError(t, err)
	for i := 0; i < 4; i++ {
		_, err := f.adm.CreateTeam(ctx, owner, club.ID, fmt.Sprintf("t%d", i))
		require.NoError(t, err)
	}

	status, err := f.adm.ChangePlan(ctx, owner, club.ID, "starter")
	require.NoError(t, err)
	assert.Equal(t, "starter", status.PlanID)
	assert.Equal(t, 4, status.CurrentTeamCount)
	assert.True(t, status.OverLimit)
	assert.False(t, status.CanCreateTeam)

	teams, err := f.store.ListTeams(ctx, club.ID)
	require.NoError(t, err)
	assert.Len(t, teams, 4)

	// deleting down to 2 reopens creation
	for _, team := range teams[:2] {
		require.NoError(t, f.adm.DeleteTeam(ctx, owner, club.ID, team.ID))
	}
	can, err := f.adm.CanCreate(ctx, club.ID, domain.ResourceTeam)
	require.NoError(t, err)
	assert.True(t, can)
	_, err = f.adm.CreateTeam(ctx, owner, club.ID, "again")
	assert.NoError(t, err)
}

func TestChangePlan_UnlimitedAndCancel(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	club, owner := f.club(t, "Club")

	status, err := f.adm.ChangePlan(ctx, owner, club.ID, "academy")
	require.NoError(t, err)
	assert.Nil(t, status.MaxTeams)
	assert.True(t, status.CanCreateTeam)

	status, err = f.adm.CancelPlan(ctx, owner, club.ID)
	require.NoError(t, err)
	assert.Equal(t, "free", status.PlanID)
}

func TestChangePlan_Rejections(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	club, owner := f.club(t, "Club")
	player := f.join(t, club.ID, owner, "p", domain.InvitationPlayer)

	_, err := f.adm.ChangePlan(ctx, owner, club.ID, "platinum")
	assert.ErrorIs(t, err, ErrInvalidArgument)

	_, err = f.adm.ChangePlan(ctx, player, club.ID, "pro")
	assert.ErrorIs(t, err, ErrForbidden)

	_, err = f.adm.Status(ctx, player, club.ID)
	assert.ErrorIs(t, err, ErrForbidden)
}

func TestDeleteTeam_FreesSlot(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	club, owner := f.club(t, "Club")

	team, err := f.adm.CreateTeam(ctx, owner, club.ID, "First")
	require.NoError(t, err)
	_, err = f.adm.CreateTeam(ctx, owner, club.ID, "Second")
	require.Error(t, err, "free plan allows one team")

	require.NoError(t, f.adm.DeleteTeam(ctx, owner, club.ID, team.ID))
	assert.ErrorIs(t, f.adm.DeleteTeam(ctx, owner, club.ID, team.ID), ErrNotFound)

	sub, err := f.store.GetSubscription(ctx, club.ID)
	require.NoError(t, err)
	assert.Equal(t, 0, sub.CurrentTeamCount)
	_, err = f.adm.CreateTeam(ctx, owner, club.ID, "Second")
	assert.NoError(t, err)
}

func TestCreateGated_FailedCreateRollsBackReservation(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	club, _ := f.club(t, "Club")
	boom := errors.New("insert failed")

	_, err := f.adm.CreateGated(ctx, club.ID, domain.ResourceTeam, func(context.Context, repository.Tx) error {
		return boom
	})
	assert.ErrorIs(t, err, boom)

	sub, err := f.store.GetSubscription(ctx, club.ID)
	require.NoError(t, err)
	assert.Equal(t, 0, sub.CurrentTeamCount)
}

func TestCreateGated_UnknownKind(t *testing.T) {
	f := newFixture(t)
	club, _ := f.club(t, "Club")
	_, err := f.adm.CreateGated(context.Background(), club.ID, "STADIUM", nil)
	assert.ErrorIs(t, err, ErrUnknownResource)
	_, err = f.adm.CanCreate(context.Background(), club.ID, "STADIUM")
	assert.ErrorIs(t, err, ErrUnknownResource)
}

func TestCreateTeam_Permissions(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	club, owner := f.club(t, "Club")
	assistant := f.join(t, club.ID, owner, "a", domain.InvitationAssistantCoach)

	_, err := f.adm.CreateTeam(ctx, assistant, club.ID, "U9")
	assert.ErrorIs(t, err, ErrForbidden)
	_, err = f.adm.CreateTeam(ctx, owner, club.ID, " ")
	assert.ErrorIs(t, err, ErrInvalidArgument)

	// assistants can view subscription status
	_, err = f.adm.Status(ctx, assistant, club.ID)
	assert.NoError(t, err)
}
