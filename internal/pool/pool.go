// Package pool tracks per-account send counters against their hourly and
// daily caps.
package pool

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"outreach-relay-go/internal/lock"
	"outreach-relay-go/internal/metrics"
	"outreach-relay-go/internal/model"
	"outreach-relay-go/internal/store"
)

// ErrLimitReached is returned by RecordSend when the account has no capacity left
var ErrLimitReached = errors.New("account sending limit reached")

// Pool is the rate limited account pool
type Pool struct {
	store   store.Store
	locks   *lock.Keyed
	metrics *metrics.Metrics
	now     func() time.Time
}

// New creates a pool over the given store
func New(s store.Store, m *metrics.Metrics) *Pool {
	return &Pool{
		store:   s,
		locks:   lock.NewKeyed(),
		metrics: m,
		now:     time.Now,
	}
}

// LockAccount serializes work on one account. RecordSend takes the same lock,
// so callers holding it must use RecordSendLocked.
func (p *Pool) LockAccount(accountID uint) func() {
	return p.locks.Lock(accountID)
}

// AvailableAccounts returns the accounts of a provider that can send right now
func (p *Pool) AvailableAccounts(ctx context.Context, providerID uint) ([]model.Account, error) {
	accounts, err := p.store.ListAccounts(ctx, store.AccountFilter{ProviderID: &providerID, ActiveOnly: true})
	if err != nil {
		return nil, fmt.Errorf("failed to list accounts for provider %d: %w", providerID, err)
	}
	available := accounts[:0]
	for _, a := range accounts {
		if a.Available() {
			available = append(available, a)
		}
	}
	return available, nil
}

// CountAvailable counts the accounts of every active provider that can send
// right now and publishes the total on the available accounts gauge
func (p *Pool) CountAvailable(ctx context.Context) (int, error) {
	providers, err := p.store.ListProviders(ctx, true)
	if err != nil {
		return 0, fmt.Errorf("failed to list providers: %w", err)
	}
	total := 0
	for _, prov := range providers {
		accounts, err := p.AvailableAccounts(ctx, prov.ID)
		if err != nil {
			return 0, err
		}
		total += len(accounts)
	}
	p.metrics.AvailableAccounts.Set(float64(total))
	return total, nil
}

// IsAvailable reloads one account and reports whether it can send
func (p *Pool) IsAvailable(ctx context.Context, accountID uint) (*model.Account, bool, error) {
	acc, err := p.store.GetAccount(ctx, accountID)
	if err != nil {
		return nil, false, err
	}
	return acc, acc.Available(), nil
}

// RecordSend counts one delivered email against the account
func (p *Pool) RecordSend(ctx context.Context, accountID uint) (*model.Account, error) {
	unlock := p.locks.Lock(accountID)
	defer unlock()
	return p.RecordSendLocked(ctx, accountID)
}

// RecordSendLocked is RecordSend for callers already holding LockAccount
func (p *Pool) RecordSendLocked(ctx context.Context, accountID uint) (*model.Account, error) {
	acc, err := p.store.IncrementAccountUsage(ctx, accountID, p.now())
	if errors.Is(err, store.ErrConflict) {
		return nil, ErrLimitReached
	}
	if err != nil {
		return nil, fmt.Errorf("failed to record send for account %d: %w", accountID, err)
	}

	if acc.DailyCount >= acc.DailyLimit {
		logrus.WithField("account_id", acc.ID).Warnf("Email account %s has reached its daily sending limit", acc.Email)
	}
	if acc.HourlyCount >= acc.HourlyLimit {
		logrus.WithField("account_id", acc.ID).Warnf("Email account %s has reached its hourly sending limit", acc.Email)
	}
	return acc, nil
}

// ResetHourly zeroes every hourly counter. Daily counters are untouched.
func (p *Pool) ResetHourly(ctx context.Context) error {
	n, err := p.store.ResetAccountCounters(ctx, false)
	if err != nil {
		return err
	}
	p.metrics.CounterResets.WithLabelValues("hourly").Inc()
	logrus.Infof("Reset hourly counters for %d accounts", n)
	return nil
}

// ResetDaily zeroes every daily AND hourly counter. The daily reset is a
// superset of the hourly one, unlike ResetHourly which leaves daily counts.
func (p *Pool) ResetDaily(ctx context.Context) error {
	n, err := p.store.ResetAccountCounters(ctx, true)
	if err != nil {
		return err
	}
	p.metrics.CounterResets.WithLabelValues("daily").Inc()
	logrus.Infof("Reset daily and hourly counters for %d accounts", n)
	return nil
}

// MarkError takes an account out of rotation after a credential failure
func (p *Pool) MarkError(ctx context.Context, accountID uint, reason string) error {
	if err := p.store.SetAccountStatus(ctx, accountID, model.AccountError); err != nil {
		return fmt.Errorf("failed to mark account %d as error: %w", accountID, err)
	}
	logrus.WithField("account_id", accountID).Errorf("Email account disabled after authentication failure: %s", reason)
	return nil
}

// AllLimitsReached is the global throttle guard. With a provider id it
// reports whether every account of that provider has exhausted its daily
// limit; without, whether that holds for every active provider.
func (p *Pool) AllLimitsReached(ctx context.Context, providerID *uint) (bool, error) {
	if providerID != nil {
		return p.providerExhausted(ctx, *providerID)
	}

	providers, err := p.store.ListProviders(ctx, true)
	if err != nil {
		return false, fmt.Errorf("failed to list providers: %w", err)
	}
	for _, prov := range providers {
		exhausted, err := p.providerExhausted(ctx, prov.ID)
		if err != nil {
			return false, err
		}
		if !exhausted {
			return false, nil
		}
	}
	return true, nil
}

func (p *Pool) providerExhausted(ctx context.Context, providerID uint) (bool, error) {
	accounts, err := p.store.ListAccounts(ctx, store.AccountFilter{ProviderID: &providerID, ActiveOnly: true})
	if err != nil {
		return false, fmt.Errorf("failed to list accounts for provider %d: %w", providerID, err)
	}
	for _, a := range accounts {
		if a.DailyCount < a.DailyLimit {
			return false, nil
		}
	}
	return true, nil
}
