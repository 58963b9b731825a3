package scheduler

import (
	"context"
	"errors"
	"fmt"

	"github.com/sirupsen/logrus"

	"outreach-relay-go/internal/campaign"
	"outreach-relay-go/internal/pool"
	"outreach-relay-go/internal/queue"
)

// Triggers are the periodic entry points of the engine
type Triggers interface {
	OnHourlyTick(ctx context.Context) error
	OnDailyTick(ctx context.Context) error
	OnDistributionTick(ctx context.Context, campaignID *uint, limit int) (map[uint]int, error)
	OnQueueTick(ctx context.Context, limit int) (queue.Result, error)
	OnPurgeTick(ctx context.Context, days int) (int64, error)
}

// Tasks implements Triggers on top of the pool, the campaign engine and the
// queue dispatcher
type Tasks struct {
	pool       *pool.Pool
	engine     *campaign.Engine
	dispatcher *queue.Dispatcher
	purgeDays  int
}

// NewTasks creates the trigger implementation
func NewTasks(p *pool.Pool, e *campaign.Engine, d *queue.Dispatcher, purgeDays int) *Tasks {
	if purgeDays <= 0 {
		purgeDays = 30
	}
	return &Tasks{pool: p, engine: e, dispatcher: d, purgeDays: purgeDays}
}

// OnHourlyTick resets hourly counters
func (t *Tasks) OnHourlyTick(ctx context.Context) error {
	return t.pool.ResetHourly(ctx)
}

// OnDailyTick resets daily counters and purges old queue items
func (t *Tasks) OnDailyTick(ctx context.Context) error {
	if err := t.pool.ResetDaily(ctx); err != nil {
		return err
	}
	if _, err := t.dispatcher.PurgeOld(ctx, t.purgeDays); err != nil {
		return err
	}
	return nil
}

// OnDistributionTick distributes one campaign, or every active campaign when
// campaignID is nil. Exhausted limits are not an error for a tick.
func (t *Tasks) OnDistributionTick(ctx context.Context, campaignID *uint, limit int) (map[uint]int, error) {
	if campaignID != nil {
		n, err := t.engine.Distribute(ctx, *campaignID, limit)
		if err != nil {
			return nil, err
		}
		return map[uint]int{*campaignID: n}, nil
	}

	counts, err := t.engine.DistributeAll(ctx, limit, false)
	if errors.Is(err, campaign.ErrLimitsReached) {
		logrus.Warn("All email accounts reached their limits, skipping distribution")
		return map[uint]int{}, nil
	}
	return counts, err
}

// OnQueueTick expires stale items, dispatches due ones and refreshes the
// available accounts gauge
func (t *Tasks) OnQueueTick(ctx context.Context, limit int) (queue.Result, error) {
	if _, err := t.dispatcher.ExpireStale(ctx); err != nil {
		logrus.WithError(err).Error("Failed to expire stale queue items")
	}
	res, err := t.dispatcher.ProcessQueue(ctx, limit)
	if _, cerr := t.pool.CountAvailable(context.WithoutCancel(ctx)); cerr != nil {
		logrus.WithError(cerr).Warn("Failed to count available accounts")
	}
	return res, err
}

// OnPurgeTick deletes terminal items older than days
func (t *Tasks) OnPurgeTick(ctx context.Context, days int) (int64, error) {
	n, err := t.dispatcher.PurgeOld(ctx, days)
	if err != nil {
		return 0, fmt.Errorf("purge tick: %w", err)
	}
	return n, nil
}
