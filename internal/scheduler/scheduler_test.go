package scheduler

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"outreach-relay-go/internal/assignment"
	"outreach-relay-go/internal/balancer"
	"outreach-relay-go/internal/campaign"
	"outreach-relay-go/internal/config"
	"outreach-relay-go/internal/metrics"
	"outreach-relay-go/internal/model"
	"outreach-relay-go/internal/pool"
	"outreach-relay-go/internal/queue"
	"outreach-relay-go/internal/render"
	"outreach-relay-go/internal/sendtime"
	"outreach-relay-go/internal/store"
	"outreach-relay-go/internal/transport"
)

// fakeTriggers counts calls; OnQueueTick blocks while block is non-nil
type fakeTriggers struct {
	mu     sync.Mutex
	calls  map[string]int
	block  chan struct{}
	failOn string
}

func newFakeTriggers() *fakeTriggers {
	return &fakeTriggers{calls: map[string]int{}}
}

func (f *fakeTriggers) hit(name string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls[name]++
	if f.failOn == name {
		return errors.New("boom")
	}
	return nil
}

func (f *fakeTriggers) count(name string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[name]
}

func (f *fakeTriggers) OnHourlyTick(context.Context) error { return f.hit(JobHourly) }
func (f *fakeTriggers) OnDailyTick(context.Context) error  { return f.hit(JobDaily) }

func (f *fakeTriggers) OnDistributionTick(context.Context, *uint, int) (map[uint]int, error) {
	return nil, f.hit(JobDistribution)
}

func (f *fakeTriggers) OnQueueTick(ctx context.Context, _ int) (queue.Result, error) {
	if f.block != nil {
		select {
		case <-f.block:
		case <-ctx.Done():
		}
	}
	return queue.Result{}, f.hit(JobQueue)
}

func (f *fakeTriggers) OnPurgeTick(context.Context, int) (int64, error) { return 0, f.hit("purge") }

func testConfig() *config.SchedulerConfig {
	return &config.SchedulerConfig{
		QueueCron:        "*/30 * * * * *",
		DistributionCron: "0 */15 * * * *",
		HourlyCron:       "0 0 * * * *",
		DailyCron:        "0 0 0 * * *",
		QueueLimit:       100,
	}
}

func TestSchedulerRestart(t *testing.T) {
	sched := NewScheduler(testConfig(), newFakeTriggers())

	require.NoError(t, sched.Start())
	assert.True(t, sched.IsRunning())
	assert.Error(t, sched.Start(), "second start must fail while running")

	require.NoError(t, sched.Stop())
	assert.False(t, sched.IsRunning())

	require.NoError(t, sched.Start())
	assert.True(t, sched.IsRunning())
	require.NotNil(t, sched.ctx)
	assert.NoError(t, sched.ctx.Err(), "scheduler context should be active after restart")
	require.NoError(t, sched.Stop())
}

func TestSchedulerRejectsBadCron(t *testing.T) {
	cfg := testConfig()
	cfg.HourlyCron = "every hour"
	sched := NewScheduler(cfg, newFakeTriggers())
	assert.Error(t, sched.Start())
	assert.False(t, sched.IsRunning())
}

func TestNextRuns(t *testing.T) {
	cfg := testConfig()
	cfg.DailyCron = ""
	sched := NewScheduler(cfg, newFakeTriggers())
	assert.Empty(t, sched.NextRuns())

	require.NoError(t, sched.Start())
	defer sched.Stop()

	next := sched.NextRuns()
	assert.Len(t, next, 3)
	assert.NotContains(t, next, JobDaily)
	assert.True(t, next[JobQueue].After(time.Now().Add(-time.Second)))
	assert.True(t, next[JobHourly].Sub(time.Now()) <= time.Hour)

	st := sched.Status()
	assert.True(t, st.Running)
	require.Len(t, st.Jobs, 4)
	assert.Equal(t, JobDaily, st.Jobs[0].Name)
}

func TestRunOnce(t *testing.T) {
	triggers := newFakeTriggers()
	sched := NewScheduler(testConfig(), triggers)
	ctx := context.Background()

	require.NoError(t, sched.RunOnce(ctx, JobHourly))
	require.NoError(t, sched.RunOnce(ctx, JobDistribution))
	assert.Equal(t, 1, triggers.count(JobHourly))
	assert.Equal(t, 1, triggers.count(JobDistribution))

	assert.ErrorIs(t, sched.RunOnce(ctx, "weekly"), ErrUnknownJob)

	triggers.failOn = JobDaily
	assert.Error(t, sched.RunOnce(ctx, JobDaily))
	st := sched.Status()
	for _, j := range st.Jobs {
		if j.Name == JobDaily {
			assert.Equal(t, "boom", j.LastError)
			assert.False(t, j.LastRun.IsZero())
		}
	}
}

func TestOverlappingRunIsSkipped(t *testing.T) {
	triggers := newFakeTriggers()
	triggers.block = make(chan struct{})
	sched := NewScheduler(testConfig(), triggers)
	ctx := context.Background()

	done := make(chan error, 1)
	go func() { done <- sched.RunOnce(ctx, JobQueue) }()

	require.Eventually(t, func() bool {
		return errors.Is(sched.RunOnce(ctx, JobQueue), ErrJobRunning)
	}, time.Second, 10*time.Millisecond)

	close(triggers.block)
	require.NoError(t, <-done)
	assert.Equal(t, 1, triggers.count(JobQueue))

	// free again once the first run returned
	require.NoError(t, sched.RunOnce(ctx, JobQueue))
	assert.Equal(t, 2, triggers.count(JobQueue))
}

func TestExclusiveSharesTheJobGuard(t *testing.T) {
	sched := NewScheduler(testConfig(), newFakeTriggers())
	ctx := context.Background()

	release := make(chan struct{})
	entered := make(chan struct{})
	done := make(chan error, 1)
	go func() {
		done <- sched.Exclusive(ctx, JobDistribution, func(context.Context) error {
			close(entered)
			<-release
			return nil
		})
	}()
	<-entered

	assert.ErrorIs(t, sched.RunOnce(ctx, JobDistribution), ErrJobRunning)
	assert.ErrorIs(t, sched.Exclusive(ctx, JobDistribution, func(context.Context) error { return nil }), ErrJobRunning)
	assert.NoError(t, sched.Exclusive(ctx, JobQueue, func(context.Context) error { return nil }))

	close(release)
	require.NoError(t, <-done)
	assert.NoError(t, sched.RunOnce(ctx, JobDistribution))
	assert.ErrorIs(t, sched.Exclusive(ctx, "weekly", func(context.Context) error { return nil }), ErrUnknownJob)
}

func newTasks(t *testing.T) (*Tasks, *store.Memory) {
	t.Helper()
	mem := store.NewMemory()
	m := metrics.NewUnregistered()
	p := pool.New(mem, m)
	as := assignment.New(mem)
	b := balancer.New(mem, p, as)
	st := sendtime.New(mem)
	engine := campaign.NewEngine(mem, p, b, st, render.NewSimple(), m)
	d := queue.NewDispatcher(queue.Deps{
		Store: mem, Pool: p, Assignments: as, Balancer: b, SendTime: st,
		Transport: transport.NewDummy(), Metrics: m,
	}, config.QueueConfig{Workers: 2})
	return NewTasks(p, engine, d, 30), mem
}

func TestTasksResetCounters(t *testing.T) {
	tasks, mem := newTasks(t)
	ctx := context.Background()

	provider := &model.Provider{Name: "p", MinIntervalSeconds: 60, MaxIntervalSeconds: 60, DailyEmailLimit: 10, HourlyEmailLimit: 5, IsActive: true}
	require.NoError(t, mem.CreateProvider(ctx, provider))
	acc := &model.Account{ProviderID: provider.ID, Email: "a@example.com", HourlyLimit: 5, DailyLimit: 10, HourlyCount: 5, DailyCount: 8, Status: model.AccountActive, IsActive: true, Transport: model.TransportDummy}
	require.NoError(t, mem.CreateAccount(ctx, acc))

	require.NoError(t, tasks.OnHourlyTick(ctx))
	got, err := mem.GetAccount(ctx, acc.ID)
	require.NoError(t, err)
	assert.Zero(t, got.HourlyCount)
	assert.Equal(t, 8, got.DailyCount)

	old := &model.QueueItem{RecipientEmail: "x@example.com", Subject: "s", Body: "b", Status: model.StatusSent, Priority: model.PriorityMedium, ScheduledTime: time.Now()}
	require.NoError(t, mem.CreateQueueItem(ctx, old))
	mem.TouchQueueItem(old.ID, time.Now().AddDate(0, 0, -40))

	require.NoError(t, tasks.OnDailyTick(ctx))
	got, err = mem.GetAccount(ctx, acc.ID)
	require.NoError(t, err)
	assert.Zero(t, got.DailyCount)
	_, err = mem.GetQueueItem(ctx, old.ID)
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestDistributionTickWithExhaustedLimits(t *testing.T) {
	tasks, mem := newTasks(t)
	ctx := context.Background()

	provider := &model.Provider{Name: "p", MinIntervalSeconds: 60, MaxIntervalSeconds: 60, DailyEmailLimit: 10, HourlyEmailLimit: 5, IsActive: true}
	require.NoError(t, mem.CreateProvider(ctx, provider))
	acc := &model.Account{ProviderID: provider.ID, Email: "a@example.com", HourlyLimit: 5, DailyLimit: 10, DailyCount: 10, Status: model.AccountActive, IsActive: true, Transport: model.TransportDummy}
	require.NoError(t, mem.CreateAccount(ctx, acc))

	counts, err := tasks.OnDistributionTick(ctx, nil, 10)
	require.NoError(t, err)
	assert.Empty(t, counts)

	_, err = tasks.OnDistributionTick(ctx, new(uint), 10)
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestQueueAndPurgeTicks(t *testing.T) {
	tasks, mem := newTasks(t)
	ctx := context.Background()

	res, err := tasks.OnQueueTick(ctx, 10)
	require.NoError(t, err)
	assert.Zero(t, res.Picked)

	_, err = tasks.OnPurgeTick(ctx, 0)
	assert.Error(t, err)

	item := &model.QueueItem{RecipientEmail: "x@example.com", Subject: "s", Body: "b", Status: model.StatusCancelled, Priority: model.PriorityMedium, ScheduledTime: time.Now()}
	require.NoError(t, mem.CreateQueueItem(ctx, item))
	mem.TouchQueueItem(item.ID, time.Now().AddDate(0, 0, -8))
	n, err := tasks.OnPurgeTick(ctx, 7)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
}
