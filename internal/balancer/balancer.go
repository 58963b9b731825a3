// Package balancer picks the provider and account that should send the next
// email to a recipient.
package balancer

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"outreach-relay-go/internal/assignment"
	"outreach-relay-go/internal/model"
	"outreach-relay-go/internal/pool"
	"outreach-relay-go/internal/store"
)

const (
	minWeight      = 0.05
	usageShare     = 0.7
	recencyShare   = 0.3
	recencyHorizon = 3600.0
)

// Balancer is the two-level weighted load balancer
type Balancer struct {
	store       store.Store
	pool        *pool.Pool
	assignments *assignment.Store
	policy      model.SelectionPolicy

	mu  sync.Mutex
	rnd *rand.Rand
	now func() time.Time
}

// Option configures a Balancer
type Option func(*Balancer)

// WithRand replaces the random source, mainly for reproducible tests
func WithRand(r *rand.Rand) Option {
	return func(b *Balancer) { b.rnd = r }
}

// WithDefaultPolicy sets the policy used by providers that do not pick one
func WithDefaultPolicy(p model.SelectionPolicy) Option {
	return func(b *Balancer) { b.policy = p }
}

// New creates a balancer
func New(s store.Store, p *pool.Pool, a *assignment.Store, opts ...Option) *Balancer {
	b := &Balancer{
		store:       s,
		pool:        p,
		assignments: a,
		policy:      model.PolicyWeightedUsage,
		rnd:         rand.New(rand.NewSource(time.Now().UnixNano())),
		now:         time.Now,
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

func (b *Balancer) float64() float64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.rnd.Float64()
}

func (b *Balancer) intn(n int) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.rnd.Intn(n)
}

// draw returns the index picked by a cumulative draw over weights, or -1
// when the weights sum to zero.
func (b *Balancer) draw(weights []float64) int {
	total := 0.0
	for _, w := range weights {
		total += w
	}
	if total <= 0 {
		return -1
	}
	r := b.float64()
	cumulative := 0.0
	for i, w := range weights {
		cumulative += w / total
		if r < cumulative {
			return i
		}
	}
	return -1
}

type providerUsage struct {
	provider  model.Provider
	ratio     float64
	available int
}

// ProviderRatio returns the aggregate daily usage of the provider's active accounts
func ProviderRatio(accounts []model.Account) float64 {
	sent, limit := 0, 0
	for _, a := range accounts {
		sent += a.DailyCount
		limit += a.DailyLimit
	}
	if limit == 0 {
		return 1.0
	}
	return float64(sent) / float64(limit)
}

// SelectProvider returns the provider to send from, or nil when no active
// provider has an available account.
func (b *Balancer) SelectProvider(ctx context.Context) (*model.Provider, error) {
	providers, err := b.store.ListProviders(ctx, true)
	if err != nil {
		return nil, fmt.Errorf("failed to list providers: %w", err)
	}

	candidates := make([]providerUsage, 0, len(providers))
	for _, prov := range providers {
		id := prov.ID
		accounts, err := b.store.ListAccounts(ctx, store.AccountFilter{ProviderID: &id, ActiveOnly: true})
		if err != nil {
			return nil, fmt.Errorf("failed to list accounts for provider %d: %w", id, err)
		}
		available := 0
		for i := range accounts {
			if accounts[i].Available() {
				available++
			}
		}
		if available == 0 {
			continue
		}
		candidates = append(candidates, providerUsage{provider: prov, ratio: ProviderRatio(accounts), available: available})
	}
	if len(candidates) == 0 {
		return nil, nil
	}

	weights := make([]float64, len(candidates))
	for i, c := range candidates {
		weights[i] = max(minWeight, 1-c.ratio)
	}
	if i := b.draw(weights); i >= 0 {
		p := candidates[i].provider
		return &p, nil
	}

	best := 0
	for i, c := range candidates {
		if c.ratio < candidates[best].ratio {
			best = i
		}
	}
	p := candidates[best].provider
	return &p, nil
}

// AccountWeight is the weighted usage score of an account
func AccountWeight(a *model.Account, now time.Time) float64 {
	usage := max(minWeight, 1-a.DailyRatio())
	recency := min(1.0, a.SecondsSinceLastUse(now)/recencyHorizon)
	return usageShare*usage + recencyShare*recency
}

// SelectAccount picks an available account of the provider. A recipient
// already assigned to a usable account of this provider keeps it.
func (b *Balancer) SelectAccount(ctx context.Context, provider *model.Provider, recipientID *uint) (*model.Account, error) {
	if recipientID != nil {
		current, err := b.assignments.GetActive(ctx, *recipientID)
		if err != nil {
			return nil, err
		}
		if current != nil && current.ProviderID == provider.ID {
			acc, ok, err := b.pool.IsAvailable(ctx, current.AccountID)
			if err != nil && !errors.Is(err, store.ErrNotFound) {
				return nil, err
			}
			if ok && acc.ProviderID == provider.ID {
				return acc, nil
			}
		}
	}

	accounts, err := b.pool.AvailableAccounts(ctx, provider.ID)
	if err != nil {
		return nil, err
	}
	if len(accounts) == 0 {
		return nil, nil
	}

	now := b.now()
	switch provider.EffectivePolicy(b.policy) {
	case model.PolicyRandom:
		a := accounts[b.intn(len(accounts))]
		return &a, nil
	case model.PolicyLeastRecentlyUsed:
		best := 0
		for i := range accounts {
			if accounts[i].SecondsSinceLastUse(now) > accounts[best].SecondsSinceLastUse(now) {
				best = i
			}
		}
		a := accounts[best]
		return &a, nil
	}

	weights := make([]float64, len(accounts))
	for i := range accounts {
		weights[i] = AccountWeight(&accounts[i], now)
	}
	if i := b.draw(weights); i >= 0 {
		a := accounts[i]
		return &a, nil
	}

	best := 0
	for i := range accounts {
		if accounts[i].DailyRatio() < accounts[best].DailyRatio() {
			best = i
		}
	}
	a := accounts[best]
	return &a, nil
}

// OptimalAccount resolves the account that should send to the recipient
// next. An assigned account that can still send is returned as is, otherwise
// a new pick is recorded as the recipient's assignment. A nil account
// with a nil error means nothing can send right now.
func (b *Balancer) OptimalAccount(ctx context.Context, recipientID uint, campaignID *uint) (*model.Account, error) {
	current, err := b.assignments.GetActive(ctx, recipientID)
	if err != nil {
		return nil, err
	}
	if current != nil {
		acc, ok, err := b.pool.IsAvailable(ctx, current.AccountID)
		if err != nil && !errors.Is(err, store.ErrNotFound) {
			return nil, err
		}
		if ok {
			ok, err = b.providerActive(ctx, acc.ProviderID)
			if err != nil {
				return nil, err
			}
		}
		if ok {
			return acc, nil
		}
		logrus.WithFields(logrus.Fields{
			"recipient_id": recipientID,
			"account_id":   current.AccountID,
		}).Info("Assigned account is no longer available, releasing assignment")
		if err := b.assignments.Deactivate(ctx, current); err != nil {
			return nil, err
		}
	}

	provider, err := b.SelectProvider(ctx)
	if err != nil {
		return nil, err
	}
	if provider == nil {
		logrus.Warn("No active provider has an available account")
		return nil, nil
	}

	acc, err := b.SelectAccount(ctx, provider, &recipientID)
	if err != nil {
		return nil, err
	}
	if acc == nil {
		logrus.WithField("provider_id", provider.ID).Warnf("No available account for provider %s", provider.Name)
		return nil, nil
	}

	if _, err := b.assignments.CreateOrUpdate(ctx, recipientID, acc.ID, provider.ID, campaignID); err != nil {
		return nil, err
	}
	return acc, nil
}

func (b *Balancer) providerActive(ctx context.Context, providerID uint) (bool, error) {
	p, err := b.store.GetProvider(ctx, providerID)
	if errors.Is(err, store.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return p.IsActive, nil
}
