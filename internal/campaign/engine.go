// Package campaign moves recipients through their campaign sequences and
// turns each due step into a scheduled queue item.
package campaign

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"outreach-relay-go/internal/balancer"
	"outreach-relay-go/internal/metrics"
	"outreach-relay-go/internal/model"
	"outreach-relay-go/internal/pool"
	"outreach-relay-go/internal/render"
	"outreach-relay-go/internal/sendtime"
	"outreach-relay-go/internal/store"
)

// ErrLimitsReached is returned by DistributeAll when every provider has
// exhausted its daily capacity and force was not given.
var ErrLimitsReached = errors.New("all email sending limits reached")

// Engine is the campaign progression engine
type Engine struct {
	store    store.Store
	pool     *pool.Pool
	balancer *balancer.Balancer
	sendtime *sendtime.Scheduler
	renderer render.Renderer
	metrics  *metrics.Metrics
	now      func() time.Time
}

// NewEngine creates a campaign engine
func NewEngine(s store.Store, p *pool.Pool, b *balancer.Balancer, st *sendtime.Scheduler, r render.Renderer, m *metrics.Metrics) *Engine {
	return &Engine{
		store:    s,
		pool:     p,
		balancer: b,
		sendtime: st,
		renderer: r,
		metrics:  m,
		now:      time.Now,
	}
}

// Distribute queues the due steps of up to limit recipients of one campaign
// and returns how many queue items were created.
func (e *Engine) Distribute(ctx context.Context, campaignID uint, limit int) (int, error) {
	c, err := e.store.GetCampaign(ctx, campaignID)
	if err != nil {
		return 0, fmt.Errorf("failed to load campaign %d: %w", campaignID, err)
	}

	e.metrics.DistributionRuns.Inc()
	now := e.now()
	due, err := e.store.DueProgress(ctx, c.ID, now, limit)
	if err != nil {
		return 0, fmt.Errorf("failed to load due recipients: %w", err)
	}
	if len(due) == 0 {
		return 0, nil
	}

	reached, err := e.pool.AllLimitsReached(ctx, nil)
	if err != nil {
		return 0, err
	}
	if reached {
		logrus.WithField("campaign_id", c.ID).Warn("All email sending limits reached, skipping distribution")
		return 0, nil
	}

	steps, err := e.store.ListSteps(ctx, c.SequenceID)
	if err != nil {
		return 0, fmt.Errorf("failed to load sequence %d: %w", c.SequenceID, err)
	}

	queued := 0
	for i := range due {
		if err := ctx.Err(); err != nil {
			return queued, err
		}
		ok, err := e.distributeOne(ctx, c, steps, &due[i], now)
		if err != nil {
			return queued, err
		}
		if ok {
			queued++
		}
	}

	logrus.WithField("campaign_id", c.ID).Infof("Queued %d emails for campaign %s", queued, c.Name)
	return queued, nil
}

// distributeOne returns false when the recipient was skipped for this run or
// its step was claimed by a concurrent one
func (e *Engine) distributeOne(ctx context.Context, c *model.Campaign, steps []model.Step, progress *model.SequenceProgress, dueBy time.Time) (bool, error) {
	log := logrus.WithFields(logrus.Fields{
		"campaign_id":  c.ID,
		"recipient_id": progress.RecipientID,
	})

	recipient, err := e.store.GetRecipient(ctx, progress.RecipientID)
	if errors.Is(err, store.ErrNotFound) {
		log.Warn("Recipient no longer exists, skipping")
		return false, nil
	}
	if err != nil {
		return false, err
	}

	current := -1
	for i := range steps {
		if steps[i].ID == progress.CurrentStepID {
			current = i
			break
		}
	}
	if current < 0 {
		log.Warnf("Step %d is not part of sequence %d, skipping", progress.CurrentStepID, c.SequenceID)
		return false, nil
	}
	step := steps[current]

	campaignID := c.ID
	acc, err := e.balancer.OptimalAccount(ctx, recipient.ID, &campaignID)
	if err != nil {
		return false, err
	}
	if acc == nil {
		e.metrics.RecipientsSkipped.Inc()
		log.Warnf("No available email account for %s", recipient.Email)
		return false, nil
	}

	provider, err := e.store.GetProvider(ctx, acc.ProviderID)
	if err != nil {
		return false, fmt.Errorf("failed to load provider %d: %w", acc.ProviderID, err)
	}

	recipientID := recipient.ID
	stepID := step.ID
	item := &model.QueueItem{
		RecipientName:  recipient.FullName(),
		RecipientEmail: recipient.Email,
		RecipientID:    &recipientID,
		CampaignID:     &campaignID,
		CampaignStepID: &stepID,
		ProviderID:     provider.ID,
		AccountID:      acc.ID,
		SenderName:     model.SenderName(provider, acc),
		SenderEmail:    acc.Email,
		Subject:        e.renderer.Render(step.Subject, recipient),
		Body:           e.renderer.Render(step.Body, recipient),
		HTMLBody:       e.renderer.Render(step.HTMLBody, recipient),
		Priority:       model.PriorityMedium,
		ScheduledTime:  e.sendtime.NaturalSendTime(provider),
		Status:         model.StatusScheduled,
	}
	if err := item.Validate(e.now()); err != nil {
		log.WithError(err).Warn("Rendered step is not a valid email, skipping")
		return false, nil
	}

	// Claim the step before queueing so overlapping runs queue it once
	previous := *progress
	now := e.now()
	if current+1 < len(steps) {
		next := steps[current+1]
		progress.CurrentStepID = next.ID
		progress.NextMessageDate = now.AddDate(0, 0, next.DelayDays)
		progress.Status = model.ProgressInProgress
	} else {
		progress.Status = model.ProgressCompleted
	}
	progress.LastMessageDate = &now
	err = e.store.AdvanceProgress(ctx, progress, previous.CurrentStepID, dueBy)
	if errors.Is(err, store.ErrConflict) {
		log.Debug("Step already claimed by another distribution run, skipping")
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to advance progress %d: %w", progress.ID, err)
	}

	if err := e.store.CreateQueueItem(ctx, item); err != nil {
		if rerr := e.store.UpdateProgress(context.WithoutCancel(ctx), &previous); rerr != nil {
			log.WithError(rerr).Error("Failed to release claimed step")
		}
		return false, fmt.Errorf("failed to create queue item: %w", err)
	}
	e.metrics.ItemsQueued.Inc()

	log.WithField("queue_item_id", item.ID).Debugf("Scheduled step %d for %s at %s", step.Position, recipient.Email, item.ScheduledTime.Format(time.RFC3339))
	return true, nil
}

// DistributeAll runs Distribute for every active campaign. Without force it
// refuses to run when every provider is out of daily capacity.
func (e *Engine) DistributeAll(ctx context.Context, limit int, force bool) (map[uint]int, error) {
	if !force {
		reached, err := e.pool.AllLimitsReached(ctx, nil)
		if err != nil {
			return nil, err
		}
		if reached {
			return nil, ErrLimitsReached
		}
	}

	campaigns, err := e.store.ListCampaigns(ctx, model.CampaignActive)
	if err != nil {
		return nil, fmt.Errorf("failed to list campaigns: %w", err)
	}

	counts := make(map[uint]int, len(campaigns))
	for _, c := range campaigns {
		n, err := e.Distribute(ctx, c.ID, limit)
		if err != nil {
			logrus.WithError(err).WithField("campaign_id", c.ID).Error("Campaign distribution failed")
			continue
		}
		counts[c.ID] = n
	}
	return counts, nil
}
