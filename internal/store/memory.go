package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"outreach-relay-go/internal/model"
)

// Memory is an in-process Store. Records are copied on the way in and out so
// callers never share state with the store.
type Memory struct {
	mu sync.RWMutex

	nextID      uint
	providers   map[uint]model.Provider
	accounts    map[uint]model.Account
	assignments map[uint]model.Assignment
	queue       map[uint]model.QueueItem
	recipients  map[uint]model.Recipient
	campaigns   map[uint]model.Campaign
	steps       map[uint]model.Step
	progress    map[uint]model.SequenceProgress
}

// NewMemory returns an empty in-memory store
func NewMemory() *Memory {
	return &Memory{
		providers:   make(map[uint]model.Provider),
		accounts:    make(map[uint]model.Account),
		assignments: make(map[uint]model.Assignment),
		queue:       make(map[uint]model.QueueItem),
		recipients:  make(map[uint]model.Recipient),
		campaigns:   make(map[uint]model.Campaign),
		steps:       make(map[uint]model.Step),
		progress:    make(map[uint]model.SequenceProgress),
	}
}

func (m *Memory) id() uint {
	m.nextID++
	return m.nextID
}

func stamp(created, updated *time.Time) {
	now := time.Now()
	if created.IsZero() {
		*created = now
	}
	*updated = now
}

func copyQueueItem(q model.QueueItem) model.QueueItem {
	if q.Attachments != nil {
		q.Attachments = append([]string(nil), q.Attachments...)
	}
	return q
}

func (m *Memory) CreateProvider(_ context.Context, p *model.Provider) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if p.ID == 0 {
		p.ID = m.id()
	}
	stamp(&p.CreatedAt, &p.UpdatedAt)
	m.providers[p.ID] = *p
	return nil
}

func (m *Memory) GetProvider(_ context.Context, id uint) (*model.Provider, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	p, ok := m.providers[id]
	if !ok {
		return nil, ErrNotFound
	}
	return &p, nil
}

func (m *Memory) ListProviders(_ context.Context, activeOnly bool) ([]model.Provider, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]model.Provider, 0, len(m.providers))
	for _, p := range m.providers {
		if activeOnly && !p.IsActive {
			continue
		}
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *Memory) CreateAccount(_ context.Context, a *model.Account) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if a.ID == 0 {
		a.ID = m.id()
	}
	stamp(&a.CreatedAt, &a.UpdatedAt)
	m.accounts[a.ID] = *a
	return nil
}

func (m *Memory) GetAccount(_ context.Context, id uint) (*model.Account, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	a, ok := m.accounts[id]
	if !ok {
		return nil, ErrNotFound
	}
	return &a, nil
}

func (m *Memory) ListAccounts(_ context.Context, f AccountFilter) ([]model.Account, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]model.Account, 0)
	for _, a := range m.accounts {
		if f.ProviderID != nil && a.ProviderID != *f.ProviderID {
			continue
		}
		if f.ActiveOnly && !a.IsActive {
			continue
		}
		out = append(out, a)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *Memory) IncrementAccountUsage(_ context.Context, id uint, at time.Time) (*model.Account, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.accounts[id]
	if !ok {
		return nil, ErrNotFound
	}
	if a.HourlyCount >= a.HourlyLimit || a.DailyCount >= a.DailyLimit {
		return nil, ErrConflict
	}
	a.HourlyCount++
	a.DailyCount++
	used := at
	a.LastUsed = &used
	a.UpdatedAt = time.Now()
	m.accounts[id] = a
	return &a, nil
}

func (m *Memory) ResetAccountCounters(_ context.Context, daily bool) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for id, a := range m.accounts {
		a.HourlyCount = 0
		if daily {
			a.DailyCount = 0
		}
		m.accounts[id] = a
	}
	return int64(len(m.accounts)), nil
}

func (m *Memory) SetAccountStatus(_ context.Context, id uint, status model.AccountStatus) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.accounts[id]
	if !ok {
		return ErrNotFound
	}
	a.Status = status
	a.UpdatedAt = time.Now()
	m.accounts[id] = a
	return nil
}

func (m *Memory) ActiveAssignments(_ context.Context, recipientID uint) ([]model.Assignment, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]model.Assignment, 0, 1)
	for _, a := range m.assignments {
		if a.RecipientID == recipientID && a.IsActive {
			out = append(out, a)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].AssignedAt.Equal(out[j].AssignedAt) {
			return out[i].ID > out[j].ID
		}
		return out[i].AssignedAt.After(out[j].AssignedAt)
	})
	return out, nil
}

func (m *Memory) InsertActiveAssignment(_ context.Context, a *model.Assignment) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for id, existing := range m.assignments {
		if existing.RecipientID == a.RecipientID && existing.IsActive {
			existing.IsActive = false
			existing.UpdatedAt = time.Now()
			m.assignments[id] = existing
		}
	}
	a.ID = m.id()
	a.IsActive = true
	stamp(&a.CreatedAt, &a.UpdatedAt)
	m.assignments[a.ID] = *a
	return nil
}

func (m *Memory) UpdateAssignment(_ context.Context, a *model.Assignment) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.assignments[a.ID]; !ok {
		return ErrNotFound
	}
	a.UpdatedAt = time.Now()
	m.assignments[a.ID] = *a
	return nil
}

func (m *Memory) DeactivateAssignment(_ context.Context, id uint) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.assignments[id]
	if !ok {
		return ErrNotFound
	}
	a.IsActive = false
	a.UpdatedAt = time.Now()
	m.assignments[id] = a
	return nil
}

// AssignmentsFor returns every assignment of a recipient, active or not
func (m *Memory) AssignmentsFor(recipientID uint) []model.Assignment {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []model.Assignment
	for _, a := range m.assignments {
		if a.RecipientID == recipientID {
			out = append(out, a)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (m *Memory) CreateQueueItem(_ context.Context, q *model.QueueItem) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if q.ID == 0 {
		q.ID = m.id()
	}
	stamp(&q.CreatedAt, &q.UpdatedAt)
	m.queue[q.ID] = copyQueueItem(*q)
	return nil
}

func (m *Memory) GetQueueItem(_ context.Context, id uint) (*model.QueueItem, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	q, ok := m.queue[id]
	if !ok {
		return nil, ErrNotFound
	}
	q = copyQueueItem(q)
	return &q, nil
}

func (m *Memory) ListQueueItems(_ context.Context, f QueueFilter) ([]model.QueueItem, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]model.QueueItem, 0)
	for _, q := range m.queue {
		if f.Status != "" && q.Status != f.Status {
			continue
		}
		if f.CampaignID != nil && (q.CampaignID == nil || *q.CampaignID != *f.CampaignID) {
			continue
		}
		out = append(out, copyQueueItem(q))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID > out[j].ID })
	if f.Limit > 0 && len(out) > f.Limit {
		out = out[:f.Limit]
	}
	return out, nil
}

func (m *Memory) DueQueueItems(_ context.Context, now time.Time, limit int) ([]model.QueueItem, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]model.QueueItem, 0)
	for _, q := range m.queue {
		if (q.Status == model.StatusQueued || q.Status == model.StatusScheduled) && !q.ScheduledTime.After(now) {
			out = append(out, copyQueueItem(q))
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Priority != out[j].Priority {
			return out[i].Priority > out[j].Priority
		}
		if !out[i].ScheduledTime.Equal(out[j].ScheduledTime) {
			return out[i].ScheduledTime.Before(out[j].ScheduledTime)
		}
		return out[i].ID < out[j].ID
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *Memory) UpdateQueueItem(_ context.Context, q *model.QueueItem, from ...model.QueueStatus) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	current, ok := m.queue[q.ID]
	if !ok {
		return ErrConflict
	}
	if len(from) > 0 {
		matched := false
		for _, s := range from {
			if current.Status == s {
				matched = true
				break
			}
		}
		if !matched {
			return ErrConflict
		}
	}
	q.CreatedAt = current.CreatedAt
	q.UpdatedAt = time.Now()
	m.queue[q.ID] = copyQueueItem(*q)
	return nil
}

func (m *Memory) LastSentTime(_ context.Context, providerID uint) (*time.Time, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var last *time.Time
	for _, q := range m.queue {
		if q.ProviderID != providerID || q.Status != model.StatusSent || q.SentTime == nil {
			continue
		}
		if last == nil || q.SentTime.After(*last) {
			t := *q.SentTime
			last = &t
		}
	}
	return last, nil
}

func (m *Memory) DeleteQueueItems(_ context.Context, statuses []model.QueueStatus, modifiedBefore time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var n int64
	for id, q := range m.queue {
		if !q.UpdatedAt.Before(modifiedBefore) {
			continue
		}
		for _, s := range statuses {
			if q.Status == s {
				delete(m.queue, id)
				n++
				break
			}
		}
	}
	return n, nil
}

func (m *Memory) ExpireQueueItems(_ context.Context, scheduledBefore time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var n int64
	for id, q := range m.queue {
		if (q.Status == model.StatusQueued || q.Status == model.StatusScheduled) && q.ScheduledTime.Before(scheduledBefore) {
			q.Status = model.StatusExpired
			q.UpdatedAt = time.Now()
			m.queue[id] = q
			n++
		}
	}
	return n, nil
}

// TouchQueueItem overrides the last-modified time of an item
func (m *Memory) TouchQueueItem(id uint, at time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if q, ok := m.queue[id]; ok {
		q.UpdatedAt = at
		m.queue[id] = q
	}
}

func (m *Memory) CreateRecipient(_ context.Context, r *model.Recipient) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if r.ID == 0 {
		r.ID = m.id()
	}
	stamp(&r.CreatedAt, &r.UpdatedAt)
	m.recipients[r.ID] = *r
	return nil
}

func (m *Memory) GetRecipient(_ context.Context, id uint) (*model.Recipient, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	r, ok := m.recipients[id]
	if !ok {
		return nil, ErrNotFound
	}
	return &r, nil
}

func (m *Memory) CreateCampaign(_ context.Context, c *model.Campaign) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if c.ID == 0 {
		c.ID = m.id()
	}
	stamp(&c.CreatedAt, &c.UpdatedAt)
	m.campaigns[c.ID] = *c
	return nil
}

func (m *Memory) GetCampaign(_ context.Context, id uint) (*model.Campaign, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	c, ok := m.campaigns[id]
	if !ok {
		return nil, ErrNotFound
	}
	return &c, nil
}

func (m *Memory) ListCampaigns(_ context.Context, status model.CampaignStatus) ([]model.Campaign, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]model.Campaign, 0)
	for _, c := range m.campaigns {
		if status != "" && c.Status != status {
			continue
		}
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *Memory) CreateSequence(_ context.Context, s *model.Sequence) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if s.ID == 0 {
		s.ID = m.id()
	}
	stamp(&s.CreatedAt, &s.UpdatedAt)
	for i := range s.Steps {
		step := &s.Steps[i]
		if step.ID == 0 {
			step.ID = m.id()
		}
		step.SequenceID = s.ID
		stamp(&step.CreatedAt, &step.UpdatedAt)
		m.steps[step.ID] = *step
	}
	return nil
}

func (m *Memory) ListSteps(_ context.Context, sequenceID uint) ([]model.Step, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]model.Step, 0)
	for _, s := range m.steps {
		if s.SequenceID == sequenceID {
			out = append(out, s)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Position != out[j].Position {
			return out[i].Position < out[j].Position
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

func (m *Memory) CreateProgress(_ context.Context, p *model.SequenceProgress) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if p.ID == 0 {
		p.ID = m.id()
	}
	stamp(&p.CreatedAt, &p.UpdatedAt)
	m.progress[p.ID] = *p
	return nil
}

func (m *Memory) DueProgress(_ context.Context, campaignID uint, now time.Time, limit int) ([]model.SequenceProgress, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]model.SequenceProgress, 0)
	for _, p := range m.progress {
		if p.CampaignID != campaignID {
			continue
		}
		if p.Status != model.ProgressPending && p.Status != model.ProgressInProgress {
			continue
		}
		if p.NextMessageDate.After(now) {
			continue
		}
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].NextMessageDate.Equal(out[j].NextMessageDate) {
			return out[i].NextMessageDate.Before(out[j].NextMessageDate)
		}
		return out[i].ID < out[j].ID
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *Memory) AdvanceProgress(_ context.Context, p *model.SequenceProgress, fromStepID uint, dueBy time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	current, ok := m.progress[p.ID]
	if !ok || current.CurrentStepID != fromStepID || current.NextMessageDate.After(dueBy) {
		return ErrConflict
	}
	if current.Status != model.ProgressPending && current.Status != model.ProgressInProgress {
		return ErrConflict
	}
	p.CreatedAt = current.CreatedAt
	p.UpdatedAt = time.Now()
	m.progress[p.ID] = *p
	return nil
}

func (m *Memory) UpdateProgress(_ context.Context, p *model.SequenceProgress) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.progress[p.ID]; !ok {
		return ErrNotFound
	}
	p.UpdatedAt = time.Now()
	m.progress[p.ID] = *p
	return nil
}

// GetProgress returns a progress row by id
func (m *Memory) GetProgress(id uint) (*model.SequenceProgress, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	p, ok := m.progress[id]
	if !ok {
		return nil, ErrNotFound
	}
	return &p, nil
}

func (m *Memory) Ping(context.Context) error { return nil }
