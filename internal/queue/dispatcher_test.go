package queue

import (
	"context"
	"math/rand"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"outreach-relay-go/internal/assignment"
	"outreach-relay-go/internal/balancer"
	"outreach-relay-go/internal/campaign"
	"outreach-relay-go/internal/config"
	"outreach-relay-go/internal/events"
	"outreach-relay-go/internal/metrics"
	"outreach-relay-go/internal/model"
	"outreach-relay-go/internal/pool"
	"outreach-relay-go/internal/render"
	"outreach-relay-go/internal/sendtime"
	"outreach-relay-go/internal/store"
	"outreach-relay-go/internal/transport"
)

type fixture struct {
	mem        *store.Memory
	deps       Deps
	dispatcher *Dispatcher
	dummy      *transport.Dummy
	recorder   *events.Recorder
	provider   *model.Provider
	account    *model.Account
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	ctx := context.Background()
	mem := store.NewMemory()
	m := metrics.NewUnregistered()
	p := pool.New(mem, m)
	as := assignment.New(mem)
	dummy := transport.NewDummy()
	recorder := &events.Recorder{}

	deps := Deps{
		Store:       mem,
		Pool:        p,
		Assignments: as,
		Balancer:    balancer.New(mem, p, as, balancer.WithRand(rand.New(rand.NewSource(1)))),
		SendTime:    sendtime.New(mem, sendtime.WithRand(rand.New(rand.NewSource(1)))),
		Transport:   dummy,
		Events:      recorder,
		Metrics:     m,
	}
	f := &fixture{
		mem:        mem,
		deps:       deps,
		dispatcher: NewDispatcher(deps, config.QueueConfig{Workers: 4, SendTimeout: time.Second, ExpireAfter: 48 * time.Hour}),
		dummy:      dummy,
		recorder:   recorder,
	}

	f.provider = &model.Provider{Name: "primary", MinIntervalSeconds: 60, MaxIntervalSeconds: 120, DailyEmailLimit: 100, HourlyEmailLimit: 10, IsActive: true}
	require.NoError(t, mem.CreateProvider(ctx, f.provider))
	f.account = &model.Account{ProviderID: f.provider.ID, Email: "jane.doe@example.com", HourlyLimit: 10, DailyLimit: 100, Status: model.AccountActive, IsActive: true, Transport: model.TransportDummy}
	require.NoError(t, mem.CreateAccount(ctx, f.account))
	return f
}

// item inserts a due item straight into the store
func (f *fixture) item(t *testing.T, status model.QueueStatus, mutate ...func(*model.QueueItem)) *model.QueueItem {
	t.Helper()
	q := &model.QueueItem{
		RecipientEmail: "ada@example.com",
		Subject:        "Hello",
		Body:           "Hi",
		ProviderID:     f.provider.ID,
		AccountID:      f.account.ID,
		SenderEmail:    f.account.Email,
		Priority:       model.PriorityMedium,
		ScheduledTime:  time.Now().Add(-time.Minute),
		Status:         status,
	}
	for _, m := range mutate {
		m(q)
	}
	require.NoError(t, f.mem.CreateQueueItem(context.Background(), q))
	return q
}

func (f *fixture) reload(t *testing.T, id uint) *model.QueueItem {
	t.Helper()
	q, err := f.mem.GetQueueItem(context.Background(), id)
	require.NoError(t, err)
	return q
}

func (f *fixture) accountState(t *testing.T) *model.Account {
	t.Helper()
	a, err := f.mem.GetAccount(context.Background(), f.account.ID)
	require.NoError(t, err)
	return a
}

func TestDistributeThenDispatchRoundTrip(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	seq := &model.Sequence{Name: "intro", Steps: []model.Step{{Position: 1, Subject: "Hi {first_name}", Body: "Hello {full_name}"}}}
	require.NoError(t, f.mem.CreateSequence(ctx, seq))
	c := &model.Campaign{Name: "spring", Status: model.CampaignActive, SequenceID: seq.ID}
	require.NoError(t, f.mem.CreateCampaign(ctx, c))
	r := &model.Recipient{FirstName: "Ada", LastName: "Lovelace", Email: "ada@example.com"}
	require.NoError(t, f.mem.CreateRecipient(ctx, r))
	require.NoError(t, f.mem.CreateProgress(ctx, &model.SequenceProgress{RecipientID: r.ID, CampaignID: c.ID, CurrentStepID: seq.Steps[0].ID, NextMessageDate: time.Now().Add(-time.Hour), Status: model.ProgressPending}))

	engine := campaign.NewEngine(f.mem, f.deps.Pool, f.deps.Balancer, f.deps.SendTime, render.NewSimple(), f.deps.Metrics)
	before := time.Now()
	n, err := engine.Distribute(ctx, c.ID, 1)
	require.NoError(t, err)
	require.Equal(t, 1, n)

	items, err := f.mem.ListQueueItems(ctx, store.QueueFilter{})
	require.NoError(t, err)
	require.Len(t, items, 1)
	item := items[0]
	assert.Equal(t, model.StatusScheduled, item.Status)
	assert.False(t, item.ScheduledTime.Before(before.Add(60*time.Second)))

	// nothing is due yet
	res, err := f.dispatcher.ProcessQueue(ctx, 10)
	require.NoError(t, err)
	assert.Zero(t, res.Picked)

	f.dispatcher.now = func() time.Time { return item.ScheduledTime.Add(time.Second) }
	res, err = f.dispatcher.ProcessQueue(ctx, 10)
	require.NoError(t, err)
	assert.Equal(t, Result{Picked: 1, Sent: 1}, res)

	sent := f.reload(t, item.ID)
	assert.Equal(t, model.StatusSent, sent.Status)
	assert.NotNil(t, sent.SentTime)
	assert.NotEmpty(t, sent.MessageID)

	acc := f.accountState(t)
	assert.Equal(t, 1, acc.HourlyCount)
	assert.Equal(t, 1, acc.DailyCount)

	active, err := f.deps.Assignments.GetActive(ctx, r.ID)
	require.NoError(t, err)
	require.NotNil(t, active)
	assert.Equal(t, 1, active.TotalSent)

	require.Len(t, f.dummy.Sent(), 1)
	assert.Equal(t, "Hi Ada", f.dummy.Sent()[0].Subject)

	evs := f.recorder.Events()
	require.Len(t, evs, 1)
	assert.Equal(t, events.EmailSent, evs[0].Type)
}

func TestProcessQueueOrdersByPriority(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	low := f.item(t, model.StatusQueued, func(q *model.QueueItem) { q.Priority = model.PriorityLow; q.ScheduledTime = time.Now().Add(-time.Hour) })
	high := f.item(t, model.StatusScheduled, func(q *model.QueueItem) { q.Priority = model.PriorityHigh })

	res, err := f.dispatcher.ProcessQueue(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Sent)
	assert.Equal(t, model.StatusSent, f.reload(t, high.ID).Status)
	assert.Equal(t, model.StatusQueued, f.reload(t, low.ID).Status)
}

func TestProcessQueueNeverExceedsAccountLimit(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.account.HourlyLimit = 3
	require.NoError(t, f.mem.CreateAccount(ctx, f.account))
	for i := 0; i < 10; i++ {
		f.item(t, model.StatusQueued)
	}

	res, err := f.dispatcher.ProcessQueue(ctx, 100)
	require.NoError(t, err)
	assert.Equal(t, 10, res.Picked)
	assert.Equal(t, 3, res.Sent)
	assert.Equal(t, 7, res.Deferred)

	acc := f.accountState(t)
	assert.Equal(t, 3, acc.HourlyCount)

	queued, err := f.mem.ListQueueItems(ctx, store.QueueFilter{Status: model.StatusQueued})
	require.NoError(t, err)
	assert.Empty(t, queued)

	// deferred items wait for the next hourly reset
	deferred, err := f.mem.ListQueueItems(ctx, store.QueueFilter{Status: model.StatusScheduled})
	require.NoError(t, err)
	require.Len(t, deferred, 7)
	for _, q := range deferred {
		assert.True(t, q.ScheduledTime.After(time.Now()))
		assert.Equal(t, 1, q.ScheduledTime.Minute())
	}
}

func (f *fixture) secondAccount(t *testing.T, email string) *model.Account {
	t.Helper()
	a := &model.Account{ProviderID: f.provider.ID, Email: email, HourlyLimit: 10, DailyLimit: 100, Status: model.AccountActive, IsActive: true, Transport: model.TransportDummy}
	require.NoError(t, f.mem.CreateAccount(context.Background(), a))
	return a
}

func TestDisabledAccountItemsMoveToHealthyAccount(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	healthy := f.secondAccount(t, "john.roe@example.com")

	stuck := make([]*model.QueueItem, 3)
	for i := range stuck {
		stuck[i] = f.item(t, model.StatusQueued, func(q *model.QueueItem) { q.ScheduledTime = time.Now().Add(-time.Hour) })
	}
	own := f.item(t, model.StatusScheduled, func(q *model.QueueItem) {
		q.AccountID = healthy.ID
		q.SenderEmail = healthy.Email
	})
	require.NoError(t, f.mem.SetAccountStatus(ctx, f.account.ID, model.AccountError))

	for i := 0; i < 2; i++ {
		_, err := f.dispatcher.ProcessQueue(ctx, 3)
		require.NoError(t, err)
	}

	assert.Equal(t, model.StatusSent, f.reload(t, own.ID).Status)
	for _, q := range stuck {
		got := f.reload(t, q.ID)
		assert.Equal(t, model.StatusSent, got.Status)
		assert.Equal(t, healthy.ID, got.AccountID)
		assert.Equal(t, healthy.Email, got.SenderEmail)
	}
	assert.Len(t, f.dummy.Sent(), 4)
}

func TestDisabledAccountWithoutReplacementLeavesDueWindow(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	q := f.item(t, model.StatusQueued)
	require.NoError(t, f.mem.SetAccountStatus(ctx, f.account.ID, model.AccountError))

	res, err := f.dispatcher.ProcessQueue(ctx, 10)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Deferred)

	got := f.reload(t, q.ID)
	assert.Equal(t, model.StatusScheduled, got.Status)
	assert.True(t, got.ScheduledTime.After(time.Now()))

	due, err := f.mem.DueQueueItems(ctx, time.Now(), 10)
	require.NoError(t, err)
	assert.Empty(t, due)
}

func TestExhaustedAccountDoesNotBlockQueue(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	healthy := f.secondAccount(t, "john.roe@example.com")

	f.account.DailyCount = f.account.DailyLimit
	require.NoError(t, f.mem.CreateAccount(ctx, f.account))
	stuck := make([]*model.QueueItem, 3)
	for i := range stuck {
		stuck[i] = f.item(t, model.StatusQueued, func(q *model.QueueItem) { q.ScheduledTime = time.Now().Add(-time.Hour) })
	}
	own := f.item(t, model.StatusQueued, func(q *model.QueueItem) {
		q.AccountID = healthy.ID
		q.SenderEmail = healthy.Email
	})

	now := time.Now()
	f.dispatcher.now = func() time.Time { return now }
	for i := 0; i < 2; i++ {
		_, err := f.dispatcher.ProcessQueue(ctx, 3)
		require.NoError(t, err)
	}

	assert.Equal(t, model.StatusSent, f.reload(t, own.ID).Status)
	y, m, d := now.Date()
	midnight := time.Date(y, m, d+1, 0, 0, 0, 0, now.Location())
	for _, q := range stuck {
		got := f.reload(t, q.ID)
		assert.Equal(t, model.StatusScheduled, got.Status)
		assert.Equal(t, f.account.ID, got.AccountID, "sticky sender kept while it only lacks capacity")
		assert.True(t, got.ScheduledTime.After(midnight))
	}
}

func TestFailedDeliveryRecordsError(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	q := f.item(t, model.StatusQueued)
	f.dummy.Fail("550 mailbox unavailable")

	res, err := f.dispatcher.ProcessQueue(ctx, 10)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Failed)

	got := f.reload(t, q.ID)
	assert.Equal(t, model.StatusError, got.Status)
	assert.Equal(t, 1, got.RetryCount)
	assert.Equal(t, "550 mailbox unavailable", got.Error)

	acc := f.accountState(t)
	assert.Zero(t, acc.HourlyCount)
	assert.Equal(t, model.AccountActive, acc.Status)

	evs := f.recorder.Events()
	require.Len(t, evs, 1)
	assert.Equal(t, events.EmailFailed, evs[0].Type)
}

func TestAuthFailureDisablesAccount(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.item(t, model.StatusQueued)
	f.dummy.Fail("535 5.7.8 Username and Password not accepted")

	_, err := f.dispatcher.ProcessQueue(ctx, 10)
	require.NoError(t, err)
	assert.Equal(t, model.AccountError, f.accountState(t).Status)
}

func TestRetry(t *testing.T) {
	ctx := context.Background()

	t.Run("refused at max retries", func(t *testing.T) {
		f := newFixture(t)
		q := f.item(t, model.StatusQueued)
		q.Status = model.StatusError
		q.RetryCount = model.MaxRetries
		require.NoError(t, f.mem.UpdateQueueItem(ctx, q))

		_, err := f.dispatcher.Retry(ctx, q.ID)
		assert.ErrorIs(t, err, ErrRetryExhausted)

		got := f.reload(t, q.ID)
		assert.Equal(t, model.StatusError, got.Status)
		assert.Equal(t, model.MaxRetries, got.RetryCount)
	})

	t.Run("only from error", func(t *testing.T) {
		f := newFixture(t)
		q := f.item(t, model.StatusQueued)
		_, err := f.dispatcher.Retry(ctx, q.ID)
		assert.ErrorIs(t, err, ErrInvalidTransition)
	})

	t.Run("dispatches immediately", func(t *testing.T) {
		f := newFixture(t)
		q := f.item(t, model.StatusQueued, func(q *model.QueueItem) { q.ScheduledTime = time.Now().Add(time.Hour) })
		q.Status = model.StatusError
		q.RetryCount = 2
		q.Error = "timeout"
		require.NoError(t, f.mem.UpdateQueueItem(ctx, q))

		got, err := f.dispatcher.Retry(ctx, q.ID)
		require.NoError(t, err)
		assert.Equal(t, model.StatusSent, got.Status)
		assert.Empty(t, got.Error)
		assert.Equal(t, 2, got.RetryCount)
	})
}

func TestCancel(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	q := f.item(t, model.StatusScheduled)
	got, err := f.dispatcher.Cancel(ctx, q.ID)
	require.NoError(t, err)
	assert.Equal(t, model.StatusCancelled, got.Status)

	_, err = f.dispatcher.Cancel(ctx, q.ID)
	assert.ErrorIs(t, err, ErrInvalidTransition)

	sent := f.item(t, model.StatusSent)
	_, err = f.dispatcher.Cancel(ctx, sent.ID)
	assert.ErrorIs(t, err, ErrInvalidTransition)

	failed := f.item(t, model.StatusError)
	got, err = f.dispatcher.Cancel(ctx, failed.ID)
	require.NoError(t, err)
	assert.Equal(t, model.StatusCancelled, got.Status)

	// cancelled items are never dispatched
	res, err := f.dispatcher.ProcessQueue(ctx, 10)
	require.NoError(t, err)
	assert.Zero(t, res.Picked)

	_, err = f.dispatcher.Cancel(ctx, 999)
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestPurgeOld(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	old := time.Now().AddDate(0, 0, -31)

	oldSent := f.item(t, model.StatusSent)
	f.mem.TouchQueueItem(oldSent.ID, old)
	oldCancelled := f.item(t, model.StatusCancelled)
	f.mem.TouchQueueItem(oldCancelled.ID, old)
	oldQueued := f.item(t, model.StatusQueued)
	f.mem.TouchQueueItem(oldQueued.ID, old)
	recentSent := f.item(t, model.StatusSent)

	n, err := f.dispatcher.PurgeOld(ctx, 30)
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)

	_, err = f.mem.GetQueueItem(ctx, oldSent.ID)
	assert.ErrorIs(t, err, store.ErrNotFound)
	f.reload(t, oldQueued.ID)
	f.reload(t, recentSent.ID)

	_, err = f.dispatcher.PurgeOld(ctx, 0)
	assert.Error(t, err)
}

func TestExpireStale(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	stale := f.item(t, model.StatusScheduled, func(q *model.QueueItem) { q.ScheduledTime = time.Now().Add(-72 * time.Hour) })
	fresh := f.item(t, model.StatusQueued)

	n, err := f.dispatcher.ExpireStale(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
	assert.Equal(t, model.StatusExpired, f.reload(t, stale.ID).Status)
	assert.Equal(t, model.StatusQueued, f.reload(t, fresh.ID).Status)
}

func TestEnqueueResolvesSender(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	r := &model.Recipient{FirstName: "Ada", Email: "ada@example.com"}
	require.NoError(t, f.mem.CreateRecipient(ctx, r))

	before := time.Now()
	q := &model.QueueItem{RecipientID: &r.ID, RecipientEmail: r.Email, Subject: "Hello", Body: "Hi"}
	require.NoError(t, f.dispatcher.Enqueue(ctx, q))

	assert.NotZero(t, q.ID)
	assert.Equal(t, f.provider.ID, q.ProviderID)
	assert.Equal(t, f.account.ID, q.AccountID)
	assert.Equal(t, "jane.doe@example.com", q.SenderEmail)
	assert.Equal(t, "Jane Doe", q.SenderName)
	assert.Equal(t, model.StatusScheduled, q.Status)
	assert.False(t, q.ScheduledTime.Before(before.Add(60*time.Second)))

	active, err := f.deps.Assignments.GetActive(ctx, r.ID)
	require.NoError(t, err)
	require.NotNil(t, active)
	assert.Equal(t, f.account.ID, active.AccountID)
}

func TestEnqueueRejectsInvalidItem(t *testing.T) {
	f := newFixture(t)
	err := f.dispatcher.Enqueue(context.Background(), &model.QueueItem{RecipientEmail: "ada@example.com"})
	assert.True(t, model.IsValidationError(err))
}

func TestDispatchResolvesMissingAccount(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	q := f.item(t, model.StatusQueued, func(q *model.QueueItem) {
		q.ProviderID = 0
		q.AccountID = 0
		q.SenderEmail = ""
	})

	res, err := f.dispatcher.ProcessQueue(ctx, 10)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Sent)

	got := f.reload(t, q.ID)
	assert.Equal(t, f.account.ID, got.AccountID)
	assert.Equal(t, "jane.doe@example.com", got.SenderEmail)
}
