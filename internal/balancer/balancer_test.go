package balancer

import (
	"context"
	"math/rand"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"outreach-relay-go/internal/assignment"
	"outreach-relay-go/internal/metrics"
	"outreach-relay-go/internal/model"
	"outreach-relay-go/internal/pool"
	"outreach-relay-go/internal/store"
)

type fixture struct {
	mem         *store.Memory
	assignments *assignment.Store
	balancer    *Balancer
}

func newFixture(t *testing.T, opts ...Option) *fixture {
	t.Helper()
	mem := store.NewMemory()
	as := assignment.New(mem)
	p := pool.New(mem, metrics.NewUnregistered())
	opts = append([]Option{WithRand(rand.New(rand.NewSource(1)))}, opts...)
	return &fixture{mem: mem, assignments: as, balancer: New(mem, p, as, opts...)}
}

func (f *fixture) provider(t *testing.T, name string, mutate ...func(*model.Provider)) *model.Provider {
	t.Helper()
	p := &model.Provider{Name: name, MinIntervalSeconds: 60, MaxIntervalSeconds: 120, DailyEmailLimit: 100, HourlyEmailLimit: 50, IsActive: true}
	for _, m := range mutate {
		m(p)
	}
	require.NoError(t, f.mem.CreateProvider(context.Background(), p))
	return p
}

func (f *fixture) account(t *testing.T, providerID uint, email string, dailyCount int, lastUsed *time.Time) *model.Account {
	t.Helper()
	a := &model.Account{
		ProviderID:  providerID,
		Email:       email,
		HourlyLimit: 100,
		DailyLimit:  100,
		DailyCount:  dailyCount,
		LastUsed:    lastUsed,
		Status:      model.AccountActive,
		IsActive:    true,
		Transport:   model.TransportDummy,
	}
	require.NoError(t, f.mem.CreateAccount(context.Background(), a))
	return a
}

func TestWeightedSelectionFavoursLessUsedAccount(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	prov := f.provider(t, "p")
	now := time.Now()
	a := f.account(t, prov.ID, "a@x", 90, &now)
	b := f.account(t, prov.ID, "b@x", 10, &now)

	picks := map[uint]int{}
	for i := 0; i < 1000; i++ {
		acc, err := f.balancer.SelectAccount(ctx, prov, nil)
		require.NoError(t, err)
		require.NotNil(t, acc)
		picks[acc.ID]++
	}

	assert.Greater(t, picks[b.ID], picks[a.ID])
	// 0.63 vs 0.07 once the recency term is near zero
	assert.InDelta(t, 0.9, float64(picks[b.ID])/1000, 0.05)
}

func TestAccountWeight(t *testing.T) {
	now := time.Now()
	hourAgo := now.Add(-2 * time.Hour)

	full := &model.Account{DailyCount: 100, DailyLimit: 100, LastUsed: &now}
	assert.InDelta(t, 0.7*0.05, AccountWeight(full, now), 1e-9)

	idle := &model.Account{DailyCount: 0, DailyLimit: 100, LastUsed: &hourAgo}
	assert.InDelta(t, 1.0, AccountWeight(idle, now), 1e-9)

	never := &model.Account{DailyCount: 50, DailyLimit: 100}
	assert.InDelta(t, 0.7*0.5+0.3, AccountWeight(never, now), 1e-9)
}

func TestProviderSelection(t *testing.T) {
	ctx := context.Background()

	t.Run("excludes providers without available accounts", func(t *testing.T) {
		f := newFixture(t)
		exhausted := f.provider(t, "exhausted")
		f.account(t, exhausted.ID, "full@x", 100, nil)
		open := f.provider(t, "open")
		f.account(t, open.ID, "free@x", 99, nil)

		for i := 0; i < 50; i++ {
			got, err := f.balancer.SelectProvider(ctx)
			require.NoError(t, err)
			require.NotNil(t, got)
			assert.Equal(t, open.ID, got.ID)
		}
	})

	t.Run("nothing available", func(t *testing.T) {
		f := newFixture(t)
		f.provider(t, "empty")
		got, err := f.balancer.SelectProvider(ctx)
		require.NoError(t, err)
		assert.Nil(t, got)
	})

	t.Run("favours the less used provider", func(t *testing.T) {
		f := newFixture(t)
		busy := f.provider(t, "busy")
		f.account(t, busy.ID, "busy@x", 90, nil)
		idle := f.provider(t, "idle")
		f.account(t, idle.ID, "idle@x", 10, nil)

		picks := map[uint]int{}
		for i := 0; i < 1000; i++ {
			got, err := f.balancer.SelectProvider(ctx)
			require.NoError(t, err)
			picks[got.ID]++
		}
		assert.Greater(t, picks[idle.ID], picks[busy.ID])
	})
}

func TestProviderRatio(t *testing.T) {
	assert.Equal(t, 1.0, ProviderRatio(nil))
	assert.InDelta(t, 0.5, ProviderRatio([]model.Account{
		{DailyCount: 40, DailyLimit: 100},
		{DailyCount: 60, DailyLimit: 100},
	}), 1e-9)
}

func TestAutoRotationPicksLeastRecentlyUsed(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	prov := f.provider(t, "p", func(p *model.Provider) { p.EnableAutoRotation = true })
	recent := time.Now().Add(-time.Minute)
	older := time.Now().Add(-time.Hour)
	f.account(t, prov.ID, "recent@x", 0, &recent)
	f.account(t, prov.ID, "older@x", 0, &older)
	never := f.account(t, prov.ID, "never@x", 50, nil)

	acc, err := f.balancer.SelectAccount(ctx, prov, nil)
	require.NoError(t, err)
	assert.Equal(t, never.ID, acc.ID)
}

func TestRandomPolicyOnlyReturnsAvailable(t *testing.T) {
	f := newFixture(t, WithDefaultPolicy(model.PolicyRandom))
	ctx := context.Background()
	prov := f.provider(t, "p")
	f.account(t, prov.ID, "full@x", 100, nil)
	free := f.account(t, prov.ID, "free@x", 0, nil)

	for i := 0; i < 20; i++ {
		acc, err := f.balancer.SelectAccount(ctx, prov, nil)
		require.NoError(t, err)
		assert.Equal(t, free.ID, acc.ID)
	}
}

func TestStickyAssignmentWins(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	prov := f.provider(t, "p")
	busy := f.account(t, prov.ID, "busy@x", 95, nil)
	f.account(t, prov.ID, "idle@x", 0, nil)

	_, err := f.assignments.CreateOrUpdate(ctx, 7, busy.ID, prov.ID, nil)
	require.NoError(t, err)

	recipient := uint(7)
	for i := 0; i < 20; i++ {
		acc, err := f.balancer.SelectAccount(ctx, prov, &recipient)
		require.NoError(t, err)
		assert.Equal(t, busy.ID, acc.ID)
	}
}

func TestOptimalAccountReleasesStaleAssignment(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	prov := f.provider(t, "p")
	stale := f.account(t, prov.ID, "stale@x", 0, nil)
	other := f.account(t, prov.ID, "other@x", 0, nil)

	first, err := f.assignments.CreateOrUpdate(ctx, 3, stale.ID, prov.ID, nil)
	require.NoError(t, err)

	stale.IsActive = false
	require.NoError(t, f.mem.CreateAccount(ctx, stale))

	acc, err := f.balancer.OptimalAccount(ctx, 3, nil)
	require.NoError(t, err)
	require.NotNil(t, acc)
	assert.Equal(t, other.ID, acc.ID)

	rows := f.mem.AssignmentsFor(3)
	require.Len(t, rows, 2)
	assert.Equal(t, first.ID, rows[0].ID)
	assert.False(t, rows[0].IsActive)
	assert.True(t, rows[1].IsActive)
	assert.Equal(t, other.ID, rows[1].AccountID)
}

func TestOptimalAccountAbsentWhenNothingAvailable(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	prov := f.provider(t, "p")
	only := f.account(t, prov.ID, "only@x", 0, nil)
	_, err := f.assignments.CreateOrUpdate(ctx, 3, only.ID, prov.ID, nil)
	require.NoError(t, err)

	require.NoError(t, f.mem.SetAccountStatus(ctx, only.ID, model.AccountError))

	acc, err := f.balancer.OptimalAccount(ctx, 3, nil)
	require.NoError(t, err)
	assert.Nil(t, acc)

	active, err := f.assignments.GetActive(ctx, 3)
	require.NoError(t, err)
	assert.Nil(t, active)
}

func TestOptimalAccountRecordsAssignment(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	prov := f.provider(t, "p")
	f.account(t, prov.ID, "a@x", 0, nil)
	campaign := uint(11)

	acc, err := f.balancer.OptimalAccount(ctx, 5, &campaign)
	require.NoError(t, err)
	require.NotNil(t, acc)

	active, err := f.assignments.GetActive(ctx, 5)
	require.NoError(t, err)
	require.NotNil(t, active)
	assert.Equal(t, acc.ID, active.AccountID)
	assert.Equal(t, prov.ID, active.ProviderID)
	assert.Equal(t, campaign, *active.CampaignID)
}

func TestOptimalAccountKeepsAssignedSenderAcrossProviders(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	first := f.provider(t, "p1")
	second := f.provider(t, "p2")
	assigned := f.account(t, first.ID, "a@p1", 0, nil)
	f.account(t, second.ID, "b@p2", 0, nil)

	_, err := f.assignments.CreateOrUpdate(ctx, 42, assigned.ID, first.ID, nil)
	require.NoError(t, err)

	for i := 0; i < 100; i++ {
		acc, err := f.balancer.OptimalAccount(ctx, 42, nil)
		require.NoError(t, err)
		require.NotNil(t, acc)
		require.Equal(t, assigned.ID, acc.ID, "call %d", i)
	}

	rows := f.mem.AssignmentsFor(42)
	require.Len(t, rows, 1)
	assert.True(t, rows[0].IsActive)
}

func TestOptimalAccountLeavesInactiveProvider(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	first := f.provider(t, "p1")
	second := f.provider(t, "p2")
	assigned := f.account(t, first.ID, "a@p1", 0, nil)
	other := f.account(t, second.ID, "b@p2", 0, nil)

	_, err := f.assignments.CreateOrUpdate(ctx, 8, assigned.ID, first.ID, nil)
	require.NoError(t, err)

	first.IsActive = false
	require.NoError(t, f.mem.CreateProvider(ctx, first))

	acc, err := f.balancer.OptimalAccount(ctx, 8, nil)
	require.NoError(t, err)
	require.NotNil(t, acc)
	assert.Equal(t, other.ID, acc.ID)
}
