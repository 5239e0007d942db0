package client

import (
	"context"
	"errors"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/you/club-membership/internal/domain"
	"github.com/you/club-membership/internal/infra"
	"github.com/you/club-membership/internal/optimistic"
	"github.com/you/club-membership/internal/repository/memory"
	transport "github.com/you/club-membership/internal/transport/http"
	uc "github.com/you/club-membership/internal/usecase"
)

var secret = []byte("session-test-secret")

func startServer(t *testing.T) string {
	t.Helper()
	store := memory.New()
	d := uc.Deps{Repo: store}
	inv := uc.NewInvitationService(d)
	h := transport.NewHandlers(inv, uc.NewMembershipService(d, inv), uc.NewAdmissionController(d), nil, infra.NewNopLogger())
	srv := httptest.NewServer(transport.NewRouter(h, transport.RouterConfig{
		Auth: &transport.Auth{Secret: secret, Users: store, Log: infra.NewNopLogger()},
	}))
	t.Cleanup(srv.Close)
	return srv.URL
}

func clientFor(t *testing.T, baseURL, first string) (*Client, domain.User) {
	t.Helper()
	u := domain.User{ID: uuid.New(), Email: first + "@example.com", FirstName: first}
	tok, err := transport.SignToken(secret, u, time.Hour)
	require.NoError(t, err)
	return New(baseURL, tok, nil), u
}

func memberIDs(ms []domain.Member) []uuid.UUID {
	ids := make([]uuid.UUID, 0, len(ms))
	for _, m := range ms {
		ids = append(ids, m.UserID)
	}
	return ids
}

// joined returns a client whose user accepted a PLAYER invitation to clubID.
func joined(t *testing.T, baseURL string, owner *Client, clubID uuid.UUID, first string) (*Client, domain.User) {
	t.Helper()
	ctx := context.Background()
	c, u := clientFor(t, baseURL, first)
	token, err := owner.IssueInvitation(ctx, clubID, domain.InvitationPlayer, 0)
	require.NoError(t, err)
	_, err = c.ConsumeInvitation(ctx, token)
	require.NoError(t, err)
	return c, u
}

func TestSession_FailedRemovalRestoresMember(t *testing.T) {
	ctx := context.Background()
	base := startServer(t)
	owner, _ := clientFor(t, base, "owner")
	club, err := owner.CreateClub(ctx, "Club", "")
	require.NoError(t, err)
	player, _ := joined(t, base, owner, club.ID, "pat")
	_, other := joined(t, base, owner, club.ID, "otto")

	s := NewSession(player, club.ID, nil)
	defer s.Close()
	require.NoError(t, s.Load(ctx))
	before := memberIDs(s.Members.Items())
	require.Len(t, before, 3)

	res := s.RemoveMember(ctx, other.ID)
	assert.Equal(t, optimistic.RolledBack, res.State)

	var rb *optimistic.RollbackError
	require.True(t, errors.As(res.Err, &rb))
	var apiErr *APIError
	require.True(t, errors.As(res.Err, &apiErr))
	assert.Equal(t, 403, apiErr.Status)
	assert.Equal(t, "FORBIDDEN", apiErr.Code)

	assert.ElementsMatch(t, before, memberIDs(s.Members.Items()), "member reappears after rollback")
}

func TestSession_OwnerRemovesMember(t *testing.T) {
	ctx := context.Background()
	base := startServer(t)
	owner, _ := clientFor(t, base, "owner")
	club, err := owner.CreateClub(ctx, "Club", "")
	require.NoError(t, err)
	_, p := joined(t, base, owner, club.ID, "pat")

	s := NewSession(owner, club.ID, nil)
	defer s.Close()
	require.NoError(t, s.Load(ctx))

	res := s.RemoveMember(ctx, p.ID)
	require.Equal(t, optimistic.Committed, res.State, "%v", res.Err)
	assert.NotContains(t, memberIDs(s.Members.Items()), p.ID)

	server, err := owner.ListMembers(ctx, club.ID)
	require.NoError(t, err)
	assert.ElementsMatch(t, memberIDs(server), memberIDs(s.Members.Items()))

	res = s.RemoveMember(ctx, p.ID)
	assert.ErrorIs(t, res.Err, ErrNotListed)
}

func TestSession_TeamLimitRollsBack(t *testing.T) {
	ctx := context.Background()
	base := startServer(t)
	owner, _ := clientFor(t, base, "owner")
	club, err := owner.CreateClub(ctx, "Club", "")
	require.NoError(t, err)

	s := NewSession(owner, club.ID, nil, optimistic.WithCommitTimeout(5*time.Second))
	defer s.Close()
	require.NoError(t, s.Load(ctx))

	first := s.CreateTeam(ctx, "U10")
	require.Equal(t, optimistic.Committed, first.State, "%v", first.Err)
	assert.NotEqual(t, uuid.Nil, first.Item.ID)

	second := s.CreateTeam(ctx, "U11")
	assert.Equal(t, optimistic.RolledBack, second.State)
	var apiErr *APIError
	require.True(t, errors.As(second.Err, &apiErr))
	assert.Equal(t, "LIMIT_EXCEEDED", apiErr.Code)
	assert.Equal(t, 1, apiErr.Current)
	require.NotNil(t, apiErr.Limit)
	assert.Equal(t, 1, *apiErr.Limit)

	teams := s.Teams.Items()
	require.Len(t, teams, 1)
	assert.Equal(t, first.Item.ID, teams[0].ID)

	res := s.DeleteTeam(ctx, first.Item.ID)
	require.Equal(t, optimistic.Committed, res.State)
	assert.Empty(t, s.Teams.Items())
}

func TestSession_TransferMovesSession(t *testing.T) {
	ctx := context.Background()
	base := startServer(t)
	xOwner, _ := clientFor(t, base, "xo")
	yOwner, _ := clientFor(t, base, "yo")
	x, err := xOwner.CreateClub(ctx, "Club X", "")
	require.NoError(t, err)
	y, err := yOwner.CreateClub(ctx, "Club Y", "")
	require.NoError(t, err)
	b, bu := joined(t, base, xOwner, x.ID, "b")

	s := NewSession(b, x.ID, nil)
	defer s.Close()
	require.NoError(t, s.Load(ctx))

	token, err := yOwner.IssueInvitation(ctx, y.ID, domain.InvitationPlayer, 3)
	require.NoError(t, err)
	info, err := b.ValidateInvitation(ctx, token)
	require.NoError(t, err)
	assert.True(t, info.IsValid)
	assert.Equal(t, "Club Y", info.ClubName)

	out, err := s.Join(ctx, token)
	require.NoError(t, err)
	require.Equal(t, domain.JoinTransferConfirmPending, out.State)
	assert.Equal(t, x.ID, s.ClubID())

	out, err = s.ConfirmTransfer(ctx, token)
	require.NoError(t, err)
	require.Equal(t, domain.JoinJoined, out.State)
	assert.Equal(t, y.ID, s.ClubID())
	assert.Contains(t, memberIDs(s.Members.Items()), bu.ID)

	me, err := b.Me(ctx)
	require.NoError(t, err)
	assert.Equal(t, y.ID, me.ClubID)
}

func TestClient_ErrorsCarryCodes(t *testing.T) {
	ctx := context.Background()
	base := startServer(t)
	c, _ := clientFor(t, base, "c")

	_, err := c.ConsumeInvitation(ctx, "missing")
	var apiErr *APIError
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, 404, apiErr.Status)
	assert.Equal(t, "NOT_FOUND", apiErr.Code)

	anon := New(base, "", nil)
	_, err = anon.CreateClub(ctx, "x", "")
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, 401, apiErr.Status)
}
