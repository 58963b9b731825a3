// Package store is the persistence layer consumed by the distribution engine.
// Two implementations exist: Gorm for MySQL/Postgres and Memory for tests and
// dependency-free runs.
package store

import (
	"context"
	"errors"
	"time"

	"outreach-relay-go/internal/model"
)

var (
	// ErrNotFound is returned when a point lookup matches no record
	ErrNotFound = errors.New("record not found")
	// ErrConflict is returned when a conditional update matched no row
	ErrConflict = errors.New("record changed concurrently or condition not met")
)

// AccountFilter narrows ListAccounts
type AccountFilter struct {
	ProviderID *uint
	ActiveOnly bool
}

// QueueFilter narrows ListQueueItems
type QueueFilter struct {
	Status     model.QueueStatus
	CampaignID *uint
	Limit      int
}

// Store is the full set of persistence operations the engine relies on
type Store interface {
	CreateProvider(ctx context.Context, p *model.Provider) error
	GetProvider(ctx context.Context, id uint) (*model.Provider, error)
	ListProviders(ctx context.Context, activeOnly bool) ([]model.Provider, error)

	CreateAccount(ctx context.Context, a *model.Account) error
	GetAccount(ctx context.Context, id uint) (*model.Account, error)
	ListAccounts(ctx context.Context, f AccountFilter) ([]model.Account, error)
	// IncrementAccountUsage adds one send to both counters if neither is at
	// its limit, else returns ErrConflict.
	IncrementAccountUsage(ctx context.Context, id uint, at time.Time) (*model.Account, error)
	ResetAccountCounters(ctx context.Context, daily bool) (int64, error)
	SetAccountStatus(ctx context.Context, id uint, status model.AccountStatus) error

	ActiveAssignments(ctx context.Context, recipientID uint) ([]model.Assignment, error)
	// InsertActiveAssignment deactivates every active assignment of the
	// recipient and inserts a in one transaction.
	InsertActiveAssignment(ctx context.Context, a *model.Assignment) error
	UpdateAssignment(ctx context.Context, a *model.Assignment) error
	DeactivateAssignment(ctx context.Context, id uint) error

	CreateQueueItem(ctx context.Context, q *model.QueueItem) error
	GetQueueItem(ctx context.Context, id uint) (*model.QueueItem, error)
	ListQueueItems(ctx context.Context, f QueueFilter) ([]model.QueueItem, error)
	// DueQueueItems returns Queued/Scheduled items with scheduled_time <= now,
	// priority desc then scheduled_time asc.
	DueQueueItems(ctx context.Context, now time.Time, limit int) ([]model.QueueItem, error)
	// UpdateQueueItem saves q only if its stored status is one of from.
	UpdateQueueItem(ctx context.Context, q *model.QueueItem, from ...model.QueueStatus) error
	LastSentTime(ctx context.Context, providerID uint) (*time.Time, error)
	DeleteQueueItems(ctx context.Context, statuses []model.QueueStatus, modifiedBefore time.Time) (int64, error)
	ExpireQueueItems(ctx context.Context, scheduledBefore time.Time) (int64, error)

	CreateRecipient(ctx context.Context, r *model.Recipient) error
	GetRecipient(ctx context.Context, id uint) (*model.Recipient, error)

	CreateCampaign(ctx context.Context, c *model.Campaign) error
	GetCampaign(ctx context.Context, id uint) (*model.Campaign, error)
	ListCampaigns(ctx context.Context, status model.CampaignStatus) ([]model.Campaign, error)

	CreateSequence(ctx context.Context, s *model.Sequence) error
	// ListSteps returns the steps of a sequence ordered by position
	ListSteps(ctx context.Context, sequenceID uint) ([]model.Step, error)

	CreateProgress(ctx context.Context, p *model.SequenceProgress) error
	DueProgress(ctx context.Context, campaignID uint, now time.Time, limit int) ([]model.SequenceProgress, error)
	// AdvanceProgress writes p only while the stored row is still due at
	// dueBy on fromStepID, and returns ErrConflict otherwise. Concurrent
	// distribution runs use it to claim a recipient's step.
	AdvanceProgress(ctx context.Context, p *model.SequenceProgress, fromStepID uint, dueBy time.Time) error
	UpdateProgress(ctx context.Context, p *model.SequenceProgress) error

	Ping(ctx context.Context) error
}

var (
	_ Store = (*Gorm)(nil)
	_ Store = (*Memory)(nil)
)
