package usecase

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/you/club-membership/internal/domain"
	"github.com/you/club-membership/internal/infra"
	"github.com/you/club-membership/internal/repository"
	"github.com/you/club-membership/internal/repository/memory"
)

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

type recordingAlerter struct {
	mu     sync.Mutex
	alerts []infra.Alert
}

func (r *recordingAlerter) Alert(_ context.Context, a infra.Alert) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.alerts = append(r.alerts, a)
	return nil
}

func (r *recordingAlerter) all() []infra.Alert {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]infra.Alert(nil), r.alerts...)
}

type recordingNotifier struct {
	mu     sync.Mutex
	events []string
}

func (r *recordingNotifier) Notify(clubID uuid.UUID, topic string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, clubID.String()+":"+topic)
}

func (r *recordingNotifier) has(clubID uuid.UUID, topic string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, e := range r.events {
		if e == clubID.String()+":"+topic {
			return true
		}
	}
	return false
}

type fixture struct {
	store    *memory.Store
	clock    *fakeClock
	alerts   *recordingAlerter
	notifier *recordingNotifier
	metrics  *infra.Metrics
	inv      *InvitationService
	mem      *MembershipService
	adm      *AdmissionController
}

func newFixture(t testing.TB) *fixture {
	return newFixtureWithRepo(t, nil)
}

// newFixtureWithRepo wraps the memory store with wrap, if given.
func newFixtureWithRepo(t testing.TB, wrap func(repository.Repo) repository.Repo) *fixture {
	t.Helper()
	f := &fixture{
		store:    memory.New(),
		clock:    &fakeClock{t: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)},
		alerts:   &recordingAlerter{},
		notifier: &recordingNotifier{},
		metrics:  infra.NewDetachedMetrics(),
	}
	var repo repository.Repo = f.store
	if wrap != nil {
		repo = wrap(repo)
	}
	d := Deps{
		Repo:     repo,
		Metrics:  f.metrics,
		Alerter:  f.alerts,
		Notifier: f.notifier,
		Now:      f.clock.Now,
	}
	f.inv = NewInvitationService(d)
	f.mem = NewMembershipService(d, f.inv)
	f.adm = NewAdmissionController(d)
	return f
}

func (f *fixture) user(t testing.TB, first string) uuid.UUID {
	t.Helper()
	id := uuid.New()
	require.NoError(t, f.store.UpsertUser(context.Background(), domain.User{ID: id, Email: first + "@example.com", FirstName: first}))
	return id
}

// club creates a club owned by a new user and returns both.
func (f *fixture) club(t testing.TB, name string) (domain.Club, uuid.UUID) {
	t.Helper()
	owner := f.user(t, name+"-owner")
	c, err := f.mem.CreateClub(context.Background(), owner, name, "")
	require.NoError(t, err)
	return c, owner
}

func (f *fixture) invite(t testing.TB, clubID, actor uuid.UUID, typ domain.InvitationType) string {
	t.Helper()
	issued, err := f.inv.Issue(context.Background(), actor, clubID, typ, 0)
	require.NoError(t, err)
	return issued.Token
}

// join puts a fresh user into clubID with the given invitation type.
func (f *fixture) join(t testing.TB, clubID, owner uuid.UUID, first string, typ domain.InvitationType) uuid.UUID {
	t.Helper()
	u := f.user(t, first)
	out, err := f.mem.BeginJoin(context.Background(), f.invite(t, clubID, owner, typ), u)
	require.NoError(t, err)
	require.Equal(t, domain.JoinJoined, out.State)
	return u
}

func (f *fixture) membership(t testing.TB, userID uuid.UUID) (domain.Membership, bool) {
	t.Helper()
	m, err := f.store.GetMembership(context.Background(), userID)
	if err == repository.ErrNotFound {
		return domain.Membership{}, false
	}
	require.NoError(t, err)
	return m, true
}
