// Package queue owns the outbound email queue: enqueueing, the delivery
// state machine, the dispatch worker pool and housekeeping.
package queue

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"

	"outreach-relay-go/internal/assignment"
	"outreach-relay-go/internal/balancer"
	"outreach-relay-go/internal/config"
	"outreach-relay-go/internal/events"
	"outreach-relay-go/internal/metrics"
	"outreach-relay-go/internal/model"
	"outreach-relay-go/internal/pool"
	"outreach-relay-go/internal/sendtime"
	"outreach-relay-go/internal/store"
	"outreach-relay-go/internal/transport"
)

var (
	// ErrInvalidTransition is returned when the item's state does not allow the request
	ErrInvalidTransition = errors.New("invalid queue item state transition")
	// ErrRetryExhausted is returned when an item already used all its retries
	ErrRetryExhausted = errors.New("maximum retry count reached")
)

// resetGrace keeps postponed items clear of the counter reset tick
const resetGrace = time.Minute

// Deps are the collaborators of a Dispatcher
type Deps struct {
	Store       store.Store
	Pool        *pool.Pool
	Assignments *assignment.Store
	Balancer    *balancer.Balancer
	SendTime    *sendtime.Scheduler
	Transport   transport.Transport
	Events      events.Publisher
	Metrics     *metrics.Metrics
}

// Dispatcher is the queue dispatcher
type Dispatcher struct {
	Deps
	cfg     config.QueueConfig
	limiter *rate.Limiter
	now     func() time.Time
}

// Result summarizes one ProcessQueue run
type Result struct {
	Picked   int `json:"picked"`
	Sent     int `json:"sent"`
	Failed   int `json:"failed"`
	Deferred int `json:"deferred"`
	Skipped  int `json:"skipped"`
}

type outcome int

const (
	outcomeSkipped outcome = iota
	outcomeSent
	outcomeFailed
	outcomeDeferred
)

// NewDispatcher creates a dispatcher
func NewDispatcher(deps Deps, cfg config.QueueConfig) *Dispatcher {
	if cfg.Workers <= 0 {
		cfg.Workers = 1
	}
	if cfg.SendTimeout <= 0 {
		cfg.SendTimeout = time.Minute
	}
	if deps.Events == nil {
		deps.Events = events.Nop{}
	}

	limit := rate.Inf
	if cfg.MaxPerSecond > 0 {
		limit = rate.Limit(cfg.MaxPerSecond)
	}
	burst := cfg.Burst
	if burst <= 0 {
		burst = 1
	}

	return &Dispatcher{
		Deps:    deps,
		cfg:     cfg,
		limiter: rate.NewLimiter(limit, burst),
		now:     time.Now,
	}
}

// Enqueue validates a directly submitted item, resolves its sender and
// schedules it behind the provider's last delivery.
func (d *Dispatcher) Enqueue(ctx context.Context, item *model.QueueItem) error {
	now := d.now()
	if err := item.Validate(now); err != nil {
		return err
	}
	if err := d.resolveSender(ctx, item); err != nil {
		return err
	}

	if item.Status == model.StatusQueued && item.ProviderID != 0 {
		provider, err := d.Store.GetProvider(ctx, item.ProviderID)
		if err != nil {
			return fmt.Errorf("failed to load provider %d: %w", item.ProviderID, err)
		}
		slot, err := d.SendTime.ProviderNextSlot(ctx, provider)
		if err != nil {
			return err
		}
		if item.ScheduledTime.Before(slot) {
			item.ScheduledTime = slot
			item.Status = model.StatusScheduled
		}
	}

	if err := d.Store.CreateQueueItem(ctx, item); err != nil {
		return fmt.Errorf("failed to create queue item: %w", err)
	}
	d.Metrics.ItemsQueued.Inc()

	if item.AccountID == 0 {
		logrus.WithField("queue_item_id", item.ID).Warn("Queued email has no sending account yet, it will be resolved at dispatch")
	}
	return nil
}

// resolveSender fills provider, account and sender identity: the
// recipient's sticky assignment first, then the first active provider and
// its next available account.
func (d *Dispatcher) resolveSender(ctx context.Context, item *model.QueueItem) error {
	if item.RecipientID != nil && (item.ProviderID == 0 || item.AccountID == 0) {
		current, err := d.Assignments.GetActive(ctx, *item.RecipientID)
		if err != nil {
			return err
		}
		if current != nil {
			item.ProviderID = current.ProviderID
			item.AccountID = current.AccountID
		}
	}

	if item.ProviderID == 0 {
		providers, err := d.Store.ListProviders(ctx, true)
		if err != nil {
			return fmt.Errorf("failed to list providers: %w", err)
		}
		if len(providers) == 0 {
			return nil
		}
		item.ProviderID = providers[0].ID
	}

	provider, err := d.Store.GetProvider(ctx, item.ProviderID)
	if err != nil {
		return fmt.Errorf("failed to load provider %d: %w", item.ProviderID, err)
	}

	if item.AccountID == 0 {
		acc, err := d.Balancer.SelectAccount(ctx, provider, item.RecipientID)
		if err != nil {
			return err
		}
		if acc == nil {
			return nil
		}
		item.AccountID = acc.ID
		if item.RecipientID != nil {
			current, err := d.Assignments.GetActive(ctx, *item.RecipientID)
			if err != nil {
				return err
			}
			if current == nil {
				if _, err := d.Assignments.CreateOrUpdate(ctx, *item.RecipientID, acc.ID, provider.ID, item.CampaignID); err != nil {
					return err
				}
			}
		}
	}

	if item.SenderEmail == "" || item.SenderName == "" {
		acc, err := d.Store.GetAccount(ctx, item.AccountID)
		if err != nil {
			return fmt.Errorf("failed to load account %d: %w", item.AccountID, err)
		}
		if item.SenderEmail == "" {
			item.SenderEmail = acc.Email
		}
		if item.SenderName == "" {
			item.SenderName = model.SenderName(provider, acc)
		}
	}
	return nil
}

// ProcessQueue delivers up to limit due items on a bounded worker pool
func (d *Dispatcher) ProcessQueue(ctx context.Context, limit int) (Result, error) {
	items, err := d.Store.DueQueueItems(ctx, d.now(), limit)
	if err != nil {
		return Result{}, fmt.Errorf("failed to load due queue items: %w", err)
	}
	res := Result{Picked: len(items)}
	if len(items) == 0 {
		return res, nil
	}

	jobs := make(chan model.QueueItem, len(items))
	for _, item := range items {
		jobs <- item
	}
	close(jobs)

	var mu sync.Mutex
	var wg sync.WaitGroup
	workers := min(d.cfg.Workers, len(items))
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for item := range jobs {
				if ctx.Err() != nil {
					return
				}
				o := d.dispatch(ctx, item)
				mu.Lock()
				switch o {
				case outcomeSent:
					res.Sent++
				case outcomeFailed:
					res.Failed++
				case outcomeDeferred:
					res.Deferred++
				default:
					res.Skipped++
				}
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	logrus.Infof("Queue run: picked %d, sent %d, failed %d, deferred %d", res.Picked, res.Sent, res.Failed, res.Deferred)
	return res, ctx.Err()
}

// dispatch delivers one item. The account lock is held from the
// availability check until the counters are updated.
func (d *Dispatcher) dispatch(ctx context.Context, item model.QueueItem) outcome {
	log := logrus.WithFields(logrus.Fields{
		"queue_item_id": item.ID,
		"account_id":    item.AccountID,
		"provider_id":   item.ProviderID,
	})

	if item.AccountID == 0 {
		before := item.Status
		if err := d.resolveSender(ctx, &item); err != nil {
			log.WithError(err).Error("Failed to resolve sender")
			return outcomeSkipped
		}
		if item.AccountID == 0 {
			return d.postpone(ctx, log, &item, d.nextHour(), "No available email account")
		}
		if err := d.Store.UpdateQueueItem(ctx, &item, before); err != nil {
			log.WithError(err).Warn("Queue item changed while resolving its sender")
			return outcomeSkipped
		}
		log = log.WithField("account_id", item.AccountID)
	}

	assigned, err := d.Store.GetAccount(ctx, item.AccountID)
	switch {
	case errors.Is(err, store.ErrNotFound) || (err == nil && !assigned.Usable()):
		if o, ok := d.reassign(ctx, log, &item); !ok {
			return o
		}
		log = log.WithField("account_id", item.AccountID)
	case err != nil:
		log.WithError(err).Error("Failed to load sending account")
		return outcomeSkipped
	}

	unlock := d.Pool.LockAccount(item.AccountID)
	defer unlock()

	acc, ok, err := d.Pool.IsAvailable(ctx, item.AccountID)
	if err != nil {
		log.WithError(err).Error("Failed to load sending account")
		return outcomeSkipped
	}
	if !ok {
		return d.postpone(ctx, log, &item, d.capacityReset(acc),
			fmt.Sprintf("Email account %d has no capacity", item.AccountID))
	}

	previous := item.Status
	item.Status = model.StatusSending
	if err := d.Store.UpdateQueueItem(ctx, &item, previous); err != nil {
		if errors.Is(err, store.ErrConflict) {
			log.Debug("Queue item was claimed or cancelled concurrently")
		} else {
			log.WithError(err).Error("Failed to claim queue item")
		}
		return outcomeSkipped
	}

	if err := d.limiter.Wait(ctx); err != nil {
		item.Status = previous
		if uerr := d.Store.UpdateQueueItem(context.WithoutCancel(ctx), &item, model.StatusSending); uerr != nil {
			log.WithError(uerr).Error("Failed to release queue item")
		}
		return outcomeSkipped
	}

	msg := d.message(&item, acc)
	sendCtx, cancel := context.WithTimeout(ctx, d.cfg.SendTimeout)
	start := time.Now()
	result, err := d.Transport.Send(sendCtx, acc, msg)
	cancel()
	d.Metrics.DispatchTime.Observe(time.Since(start).Seconds())
	if err != nil {
		result = transport.Result{Success: false, Detail: err.Error()}
	}

	// the outcome must be recorded even if the tick is shutting down
	recordCtx := context.WithoutCancel(ctx)
	if result.Success {
		d.markSent(recordCtx, log, &item, acc, result)
		return outcomeSent
	}
	d.markFailed(recordCtx, log, &item, acc, result)
	return outcomeFailed
}

// postpone moves an item that cannot be sent now out of the due window, so
// it does not hold the head of the queue on every tick
func (d *Dispatcher) postpone(ctx context.Context, log *logrus.Entry, item *model.QueueItem, until time.Time, reason string) outcome {
	previous := item.Status
	item.Status = model.StatusScheduled
	item.ScheduledTime = until
	if err := d.Store.UpdateQueueItem(ctx, item, previous); err != nil {
		log.WithError(err).Warn("Queue item changed while deferring it")
		return outcomeSkipped
	}
	d.Metrics.SendsDeferred.Inc()
	log.Warnf("%s, deferring until %s", reason, until.Format(time.RFC3339))
	return outcomeDeferred
}

// nextHour is shortly after the next hourly counter reset
func (d *Dispatcher) nextHour() time.Time {
	return d.now().Truncate(time.Hour).Add(time.Hour + resetGrace)
}

// capacityReset is when an account out of capacity can send again
func (d *Dispatcher) capacityReset(acc *model.Account) time.Time {
	if acc != nil && acc.DailyCount >= acc.DailyLimit {
		y, m, day := d.now().Date()
		return time.Date(y, m, day+1, 0, 0, 0, 0, d.now().Location()).Add(resetGrace)
	}
	return d.nextHour()
}

// reassign moves an item off an account that can no longer send. When no
// replacement exists it reports false with the outcome of the dispatch.
func (d *Dispatcher) reassign(ctx context.Context, log *logrus.Entry, item *model.QueueItem) (outcome, bool) {
	from := item.AccountID
	acc, err := d.replacementAccount(ctx, item)
	if err != nil {
		log.WithError(err).Error("Failed to find a replacement account")
		return outcomeSkipped, false
	}
	if acc == nil {
		return d.postpone(ctx, log, item, d.nextHour(),
			fmt.Sprintf("Email account %d cannot send and no other account is available", from)), false
	}
	provider, err := d.Store.GetProvider(ctx, acc.ProviderID)
	if err != nil {
		log.WithError(err).Errorf("Failed to load provider %d", acc.ProviderID)
		return outcomeSkipped, false
	}

	item.ProviderID = provider.ID
	item.AccountID = acc.ID
	item.SenderEmail = acc.Email
	item.SenderName = model.SenderName(provider, acc)
	if err := d.Store.UpdateQueueItem(ctx, item, item.Status); err != nil {
		log.WithError(err).Warn("Queue item changed while reassigning its sender")
		return outcomeSkipped, false
	}
	log.WithField("previous_account_id", from).Infof("Email account %d cannot send, reassigned to %s", from, acc.Email)
	return outcomeSkipped, true
}

func (d *Dispatcher) replacementAccount(ctx context.Context, item *model.QueueItem) (*model.Account, error) {
	if item.RecipientID != nil {
		return d.Balancer.OptimalAccount(ctx, *item.RecipientID, item.CampaignID)
	}
	provider, err := d.Balancer.SelectProvider(ctx)
	if err != nil || provider == nil {
		return nil, err
	}
	return d.Balancer.SelectAccount(ctx, provider, nil)
}

func (d *Dispatcher) message(item *model.QueueItem, acc *model.Account) transport.Message {
	if item.MessageID == "" {
		_, domain, _ := strings.Cut(acc.Email, "@")
		if domain == "" {
			domain = "localhost"
		}
		item.MessageID = uuid.NewString() + "@" + domain
	}
	fromEmail := item.SenderEmail
	if fromEmail == "" {
		fromEmail = acc.Email
	}
	return transport.Message{
		MessageID:   item.MessageID,
		FromName:    item.SenderName,
		FromEmail:   fromEmail,
		ToName:      item.RecipientName,
		To:          item.RecipientEmail,
		Subject:     item.Subject,
		Text:        item.Body,
		HTML:        item.HTMLBody,
		Attachments: item.Attachments,
		Date:        d.now(),
	}
}

func (d *Dispatcher) markSent(ctx context.Context, log *logrus.Entry, item *model.QueueItem, acc *model.Account, result transport.Result) {
	now := d.now()
	item.Status = model.StatusSent
	item.SentTime = &now
	item.Error = ""
	if err := d.Store.UpdateQueueItem(ctx, item, model.StatusSending); err != nil {
		log.WithError(err).Error("Failed to mark queue item as sent")
	}

	if _, err := d.Pool.RecordSendLocked(ctx, acc.ID); err != nil {
		log.WithError(err).Error("Failed to record send against account limits")
	}
	if item.RecipientID != nil {
		if err := d.Assignments.RecordSentEmail(ctx, *item.RecipientID, item.CampaignID); err != nil {
			log.WithError(err).Error("Failed to update sender assignment")
		}
	}

	d.Metrics.SendSuccesses.Inc()
	log.Infof("Sent email to %s (%s)", item.RecipientEmail, result.Detail)
	d.publish(ctx, events.EmailSent, item, result.Detail)
}

func (d *Dispatcher) markFailed(ctx context.Context, log *logrus.Entry, item *model.QueueItem, acc *model.Account, result transport.Result) {
	item.Status = model.StatusError
	item.Error = result.Detail
	item.RetryCount++
	if err := d.Store.UpdateQueueItem(ctx, item, model.StatusSending); err != nil {
		log.WithError(err).Error("Failed to mark queue item as failed")
	}

	if transport.IsAuthFailure(result.Detail) {
		d.Metrics.AuthFailures.Inc()
		if err := d.Pool.MarkError(ctx, acc.ID, result.Detail); err != nil {
			log.WithError(err).Error("Failed to disable account")
		}
	}

	d.Metrics.SendFailures.Inc()
	log.Errorf("Failed to send email to %s (attempt %d): %s", item.RecipientEmail, item.RetryCount, result.Detail)
	d.publish(ctx, events.EmailFailed, item, result.Detail)
}

func (d *Dispatcher) publish(ctx context.Context, kind string, item *model.QueueItem, detail string) {
	e := events.Event{
		Type:        kind,
		QueueItemID: item.ID,
		AccountID:   item.AccountID,
		ProviderID:  item.ProviderID,
		CampaignID:  item.CampaignID,
		Recipient:   item.RecipientEmail,
		MessageID:   item.MessageID,
		Detail:      detail,
		RetryCount:  item.RetryCount,
		OccurredAt:  d.now(),
	}
	if err := d.Events.Publish(ctx, e); err != nil {
		logrus.WithField("queue_item_id", item.ID).Warnf("Failed to publish %s event: %v", kind, err)
	}
}

// Retry moves a failed item back to Queued and dispatches it right away
func (d *Dispatcher) Retry(ctx context.Context, id uint) (*model.QueueItem, error) {
	item, err := d.Store.GetQueueItem(ctx, id)
	if err != nil {
		return nil, err
	}
	if item.Status != model.StatusError {
		return nil, fmt.Errorf("cannot retry email with status %s: %w", item.Status, ErrInvalidTransition)
	}
	if item.RetryCount >= model.MaxRetries {
		return nil, fmt.Errorf("email %d failed %d times: %w", id, item.RetryCount, ErrRetryExhausted)
	}

	item.Status = model.StatusQueued
	item.Error = ""
	item.ScheduledTime = d.now()
	if err := d.Store.UpdateQueueItem(ctx, item, model.StatusError); err != nil {
		if errors.Is(err, store.ErrConflict) {
			return nil, fmt.Errorf("email %d changed concurrently: %w", id, ErrInvalidTransition)
		}
		return nil, err
	}

	d.dispatch(ctx, *item)
	return d.Store.GetQueueItem(ctx, id)
}

// Cancel stops an item that has not been handed to the transport
func (d *Dispatcher) Cancel(ctx context.Context, id uint) (*model.QueueItem, error) {
	item, err := d.Store.GetQueueItem(ctx, id)
	if err != nil {
		return nil, err
	}
	if !model.CanTransition(item.Status, model.StatusCancelled) {
		return nil, fmt.Errorf("cannot cancel email with status %s: %w", item.Status, ErrInvalidTransition)
	}

	previous := item.Status
	item.Status = model.StatusCancelled
	if err := d.Store.UpdateQueueItem(ctx, item, previous); err != nil {
		if errors.Is(err, store.ErrConflict) {
			return nil, fmt.Errorf("email %d changed concurrently: %w", id, ErrInvalidTransition)
		}
		return nil, err
	}
	logrus.WithField("queue_item_id", id).Info("Email cancelled")
	return item, nil
}

// PurgeOld deletes terminal items not modified for the given number of days
func (d *Dispatcher) PurgeOld(ctx context.Context, days int) (int64, error) {
	if days <= 0 {
		return 0, fmt.Errorf("purge days must be positive, got %d", days)
	}
	cutoff := d.now().AddDate(0, 0, -days)
	n, err := d.Store.DeleteQueueItems(ctx, model.TerminalStatuses, cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to purge queue: %w", err)
	}
	d.Metrics.ItemsPurged.Add(float64(n))
	logrus.Infof("Purged %d queue items older than %d days", n, days)
	return n, nil
}

// ExpireStale marks items that stayed undispatched for longer than
// queue.expire_after as Expired. A zero setting disables expiry.
func (d *Dispatcher) ExpireStale(ctx context.Context) (int64, error) {
	if d.cfg.ExpireAfter <= 0 {
		return 0, nil
	}
	n, err := d.Store.ExpireQueueItems(ctx, d.now().Add(-d.cfg.ExpireAfter))
	if err != nil {
		return 0, fmt.Errorf("failed to expire queue items: %w", err)
	}
	if n > 0 {
		logrus.Warnf("Expired %d queue items not dispatched within %s", n, d.cfg.ExpireAfter)
	}
	return n, nil
}
