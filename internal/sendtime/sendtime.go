// Package sendtime computes when the next email of a provider may leave.
package sendtime

import (
	"context"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"outreach-relay-go/internal/lock"
	"outreach-relay-go/internal/model"
	"outreach-relay-go/internal/store"
)

const (
	minJitterSeconds = 5
	maxJitterSeconds = 30
)

// Scheduler hands out send slots per provider
type Scheduler struct {
	store store.Store
	locks *lock.Keyed

	mu       sync.Mutex
	rnd      *rand.Rand
	reserved map[uint]time.Time
	now      func() time.Time
}

// Option configures a Scheduler
type Option func(*Scheduler)

// WithRand replaces the random source
func WithRand(r *rand.Rand) Option {
	return func(s *Scheduler) { s.rnd = r }
}

// WithClock replaces time.Now
func WithClock(now func() time.Time) Option {
	return func(s *Scheduler) { s.now = now }
}

// New creates a send time scheduler
func New(st store.Store, opts ...Option) *Scheduler {
	s := &Scheduler{
		store:    st,
		locks:    lock.NewKeyed(),
		rnd:      rand.New(rand.NewSource(time.Now().UnixNano())),
		reserved: make(map[uint]time.Time),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// between returns a uniform integer in [lo, hi]
func (s *Scheduler) between(lo, hi int) int {
	if hi <= lo {
		return lo
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return lo + s.rnd.Intn(hi-lo+1)
}

// Interval returns the gap the provider wants between two sends
func (s *Scheduler) Interval(p *model.Provider) time.Duration {
	seconds := p.MinIntervalSeconds
	if p.EnableRandomIntervals {
		seconds = s.between(p.MinIntervalSeconds, p.MaxIntervalSeconds)
	}
	return time.Duration(seconds) * time.Second
}

// NextSendTime returns last plus the provider interval. A nil last means now.
func (s *Scheduler) NextSendTime(p *model.Provider, last *time.Time) time.Time {
	base := s.now()
	if last != nil {
		base = *last
	}
	return base.Add(s.Interval(p))
}

// NaturalSendTime returns the next slot for a campaign email: one interval
// from now plus 5 to 30 seconds of jitter. Slots already handed out for the
// provider in this process push the base forward, so back to back calls are
// spaced by at least the provider interval.
func (s *Scheduler) NaturalSendTime(p *model.Provider) time.Time {
	unlock := s.locks.Lock(p.ID)
	defer unlock()

	base := s.now()
	if r, ok := s.reservation(p.ID); ok && r.After(base) {
		base = r
	}
	slot := s.NextSendTime(p, &base).Add(time.Duration(s.between(minJitterSeconds, maxJitterSeconds)) * time.Second)
	s.reserve(p.ID, slot)
	return slot
}

// LastSendTime returns when the provider last delivered an email, or now
func (s *Scheduler) LastSendTime(ctx context.Context, providerID uint) (time.Time, error) {
	last, err := s.store.LastSentTime(ctx, providerID)
	if err != nil {
		return time.Time{}, fmt.Errorf("failed to load last send time for provider %d: %w", providerID, err)
	}
	if last == nil {
		return s.now(), nil
	}
	return *last, nil
}

// ProviderNextSlot returns the slot for a directly enqueued email: one
// interval after the provider's last delivery or reservation.
func (s *Scheduler) ProviderNextSlot(ctx context.Context, p *model.Provider) (time.Time, error) {
	unlock := s.locks.Lock(p.ID)
	defer unlock()

	base, err := s.LastSendTime(ctx, p.ID)
	if err != nil {
		return time.Time{}, err
	}
	if r, ok := s.reservation(p.ID); ok && r.After(base) {
		base = r
	}
	slot := s.NextSendTime(p, &base)
	s.reserve(p.ID, slot)
	return slot, nil
}

func (s *Scheduler) reservation(providerID uint) (time.Time, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.reserved[providerID]
	return t, ok
}

func (s *Scheduler) reserve(providerID uint, at time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.reserved[providerID] = at
	// forget reservations that are already in the past
	now := s.now()
	for id, t := range s.reserved {
		if t.Before(now) {
			delete(s.reserved, id)
		}
	}
}
