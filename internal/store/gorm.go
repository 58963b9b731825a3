package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"

	"outreach-relay-go/internal/model"
)

// Gorm implements Store on top of a *gorm.DB
type Gorm struct {
	db *gorm.DB
}

// NewGorm wraps an initialized gorm connection
func NewGorm(db *gorm.DB) *Gorm {
	return &Gorm{db: db}
}

func notFound(err error) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return fmt.Errorf("%w: %v", ErrNotFound, err)
	}
	return err
}

func (g *Gorm) CreateProvider(ctx context.Context, p *model.Provider) error {
	if err := g.db.WithContext(ctx).Create(p).Error; err != nil {
		return fmt.Errorf("failed to create provider: %w", err)
	}
	return nil
}

func (g *Gorm) GetProvider(ctx context.Context, id uint) (*model.Provider, error) {
	var p model.Provider
	if err := g.db.WithContext(ctx).First(&p, id).Error; err != nil {
		return nil, notFound(err)
	}
	return &p, nil
}

func (g *Gorm) ListProviders(ctx context.Context, activeOnly bool) ([]model.Provider, error) {
	var providers []model.Provider
	q := g.db.WithContext(ctx).Order("id")
	if activeOnly {
		q = q.Where("is_active = ?", true)
	}
	if err := q.Find(&providers).Error; err != nil {
		return nil, fmt.Errorf("failed to list providers: %w", err)
	}
	return providers, nil
}

func (g *Gorm) CreateAccount(ctx context.Context, a *model.Account) error {
	if err := g.db.WithContext(ctx).Create(a).Error; err != nil {
		return fmt.Errorf("failed to create account: %w", err)
	}
	return nil
}

func (g *Gorm) GetAccount(ctx context.Context, id uint) (*model.Account, error) {
	var a model.Account
	if err := g.db.WithContext(ctx).First(&a, id).Error; err != nil {
		return nil, notFound(err)
	}
	return &a, nil
}

func (g *Gorm) ListAccounts(ctx context.Context, f AccountFilter) ([]model.Account, error) {
	var accounts []model.Account
	q := g.db.WithContext(ctx).Order("id")
	if f.ProviderID != nil {
		q = q.Where("provider_id = ?", *f.ProviderID)
	}
	if f.ActiveOnly {
		q = q.Where("is_active = ?", true)
	}
	if err := q.Find(&accounts).Error; err != nil {
		return nil, fmt.Errorf("failed to list accounts: %w", err)
	}
	return accounts, nil
}

func (g *Gorm) IncrementAccountUsage(ctx context.Context, id uint, at time.Time) (*model.Account, error) {
	result := g.db.WithContext(ctx).Model(&model.Account{}).
		Where("id = ? AND hourly_count < hourly_limit AND daily_count < daily_limit", id).
		Updates(map[string]interface{}{
			"hourly_count": gorm.Expr("hourly_count + 1"),
			"daily_count":  gorm.Expr("daily_count + 1"),
			"last_used":    at,
		})
	if result.Error != nil {
		return nil, fmt.Errorf("failed to record account usage: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return nil, ErrConflict
	}
	return g.GetAccount(ctx, id)
}

func (g *Gorm) ResetAccountCounters(ctx context.Context, daily bool) (int64, error) {
	updates := map[string]interface{}{"hourly_count": 0}
	if daily {
		updates["daily_count"] = 0
	}
	result := g.db.WithContext(ctx).Model(&model.Account{}).Where("1 = 1").Updates(updates)
	if result.Error != nil {
		return 0, fmt.Errorf("failed to reset account counters: %w", result.Error)
	}
	return result.RowsAffected, nil
}

func (g *Gorm) SetAccountStatus(ctx context.Context, id uint, status model.AccountStatus) error {
	result := g.db.WithContext(ctx).Model(&model.Account{}).Where("id = ?", id).Update("status", status)
	if result.Error != nil {
		return fmt.Errorf("failed to update account status: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

func (g *Gorm) ActiveAssignments(ctx context.Context, recipientID uint) ([]model.Assignment, error) {
	var assignments []model.Assignment
	err := g.db.WithContext(ctx).
		Where("recipient_id = ? AND is_active = ?", recipientID, true).
		Order("assigned_at desc, id desc").
		Find(&assignments).Error
	if err != nil {
		return nil, fmt.Errorf("failed to get active assignments: %w", err)
	}
	return assignments, nil
}

func (g *Gorm) InsertActiveAssignment(ctx context.Context, a *model.Assignment) error {
	return g.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Model(&model.Assignment{}).
			Where("recipient_id = ? AND is_active = ?", a.RecipientID, true).
			Update("is_active", false).Error; err != nil {
			return fmt.Errorf("failed to deactivate assignments: %w", err)
		}
		a.IsActive = true
		if err := tx.Create(a).Error; err != nil {
			return fmt.Errorf("failed to create assignment: %w", err)
		}
		return nil
	})
}

func (g *Gorm) UpdateAssignment(ctx context.Context, a *model.Assignment) error {
	if err := g.db.WithContext(ctx).Save(a).Error; err != nil {
		return fmt.Errorf("failed to update assignment: %w", err)
	}
	return nil
}

func (g *Gorm) DeactivateAssignment(ctx context.Context, id uint) error {
	err := g.db.WithContext(ctx).Model(&model.Assignment{}).Where("id = ?", id).Update("is_active", false).Error
	if err != nil {
		return fmt.Errorf("failed to deactivate assignment: %w", err)
	}
	return nil
}

func (g *Gorm) CreateQueueItem(ctx context.Context, q *model.QueueItem) error {
	if err := g.db.WithContext(ctx).Create(q).Error; err != nil {
		return fmt.Errorf("failed to create queue item: %w", err)
	}
	return nil
}

func (g *Gorm) GetQueueItem(ctx context.Context, id uint) (*model.QueueItem, error) {
	var q model.QueueItem
	if err := g.db.WithContext(ctx).First(&q, id).Error; err != nil {
		return nil, notFound(err)
	}
	return &q, nil
}

func (g *Gorm) ListQueueItems(ctx context.Context, f QueueFilter) ([]model.QueueItem, error) {
	var items []model.QueueItem
	q := g.db.WithContext(ctx).Order("id desc")
	if f.Status != "" {
		q = q.Where("status = ?", f.Status)
	}
	if f.CampaignID != nil {
		q = q.Where("campaign_id = ?", *f.CampaignID)
	}
	if f.Limit > 0 {
		q = q.Limit(f.Limit)
	}
	if err := q.Find(&items).Error; err != nil {
		return nil, fmt.Errorf("failed to list queue items: %w", err)
	}
	return items, nil
}

func (g *Gorm) DueQueueItems(ctx context.Context, now time.Time, limit int) ([]model.QueueItem, error) {
	var items []model.QueueItem
	err := g.db.WithContext(ctx).
		Where("status IN ? AND scheduled_time <= ?", model.DispatchableStatuses, now).
		Order("priority desc, scheduled_time asc").
		Limit(limit).
		Find(&items).Error
	if err != nil {
		return nil, fmt.Errorf("failed to get due queue items: %w", err)
	}
	return items, nil
}

func (g *Gorm) UpdateQueueItem(ctx context.Context, q *model.QueueItem, from ...model.QueueStatus) error {
	tx := g.db.WithContext(ctx).Model(&model.QueueItem{}).Where("id = ?", q.ID)
	if len(from) > 0 {
		tx = tx.Where("status IN ?", from)
	}
	q.UpdatedAt = time.Now()
	result := tx.Select("*").Omit("id", "created_at").Updates(q)
	if result.Error != nil {
		return fmt.Errorf("failed to update queue item: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return ErrConflict
	}
	return nil
}

func (g *Gorm) LastSentTime(ctx context.Context, providerID uint) (*time.Time, error) {
	var item model.QueueItem
	err := g.db.WithContext(ctx).
		Where("provider_id = ? AND status = ? AND sent_time IS NOT NULL", providerID, model.StatusSent).
		Order("sent_time desc").
		First(&item).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get last sent time: %w", err)
	}
	return item.SentTime, nil
}

func (g *Gorm) DeleteQueueItems(ctx context.Context, statuses []model.QueueStatus, modifiedBefore time.Time) (int64, error) {
	result := g.db.WithContext(ctx).
		Where("status IN ? AND updated_at < ?", statuses, modifiedBefore).
		Delete(&model.QueueItem{})
	if result.Error != nil {
		return 0, fmt.Errorf("failed to purge queue items: %w", result.Error)
	}
	return result.RowsAffected, nil
}

func (g *Gorm) ExpireQueueItems(ctx context.Context, scheduledBefore time.Time) (int64, error) {
	result := g.db.WithContext(ctx).Model(&model.QueueItem{}).
		Where("status IN ? AND scheduled_time < ?", model.DispatchableStatuses, scheduledBefore).
		Update("status", model.StatusExpired)
	if result.Error != nil {
		return 0, fmt.Errorf("failed to expire queue items: %w", result.Error)
	}
	return result.RowsAffected, nil
}

func (g *Gorm) CreateRecipient(ctx context.Context, r *model.Recipient) error {
	if err := g.db.WithContext(ctx).Create(r).Error; err != nil {
		return fmt.Errorf("failed to create recipient: %w", err)
	}
	return nil
}

func (g *Gorm) GetRecipient(ctx context.Context, id uint) (*model.Recipient, error) {
	var r model.Recipient
	if err := g.db.WithContext(ctx).First(&r, id).Error; err != nil {
		return nil, notFound(err)
	}
	return &r, nil
}

func (g *Gorm) CreateCampaign(ctx context.Context, c *model.Campaign) error {
	if err := g.db.WithContext(ctx).Create(c).Error; err != nil {
		return fmt.Errorf("failed to create campaign: %w", err)
	}
	return nil
}

func (g *Gorm) GetCampaign(ctx context.Context, id uint) (*model.Campaign, error) {
	var c model.Campaign
	if err := g.db.WithContext(ctx).First(&c, id).Error; err != nil {
		return nil, notFound(err)
	}
	return &c, nil
}

func (g *Gorm) ListCampaigns(ctx context.Context, status model.CampaignStatus) ([]model.Campaign, error) {
	var campaigns []model.Campaign
	q := g.db.WithContext(ctx).Order("id")
	if status != "" {
		q = q.Where("status = ?", status)
	}
	if err := q.Find(&campaigns).Error; err != nil {
		return nil, fmt.Errorf("failed to list campaigns: %w", err)
	}
	return campaigns, nil
}

func (g *Gorm) CreateSequence(ctx context.Context, s *model.Sequence) error {
	if err := g.db.WithContext(ctx).Create(s).Error; err != nil {
		return fmt.Errorf("failed to create sequence: %w", err)
	}
	return nil
}

func (g *Gorm) ListSteps(ctx context.Context, sequenceID uint) ([]model.Step, error) {
	var steps []model.Step
	err := g.db.WithContext(ctx).Where("sequence_id = ?", sequenceID).Order("position, id").Find(&steps).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list steps: %w", err)
	}
	return steps, nil
}

func (g *Gorm) CreateProgress(ctx context.Context, p *model.SequenceProgress) error {
	if err := g.db.WithContext(ctx).Create(p).Error; err != nil {
		return fmt.Errorf("failed to create sequence progress: %w", err)
	}
	return nil
}

func (g *Gorm) DueProgress(ctx context.Context, campaignID uint, now time.Time, limit int) ([]model.SequenceProgress, error) {
	var rows []model.SequenceProgress
	err := g.db.WithContext(ctx).
		Where("campaign_id = ? AND status IN ? AND next_message_date <= ?",
			campaignID, []model.ProgressStatus{model.ProgressPending, model.ProgressInProgress}, now).
		Order("next_message_date asc").
		Limit(limit).
		Find(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("failed to get due sequence progress: %w", err)
	}
	return rows, nil
}

func (g *Gorm) AdvanceProgress(ctx context.Context, p *model.SequenceProgress, fromStepID uint, dueBy time.Time) error {
	p.UpdatedAt = time.Now()
	result := g.db.WithContext(ctx).Model(&model.SequenceProgress{}).
		Where("id = ? AND current_step_id = ? AND status IN ? AND next_message_date <= ?",
			p.ID, fromStepID, []model.ProgressStatus{model.ProgressPending, model.ProgressInProgress}, dueBy).
		Select("*").Omit("id", "created_at").
		Updates(p)
	if result.Error != nil {
		return fmt.Errorf("failed to advance sequence progress: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return ErrConflict
	}
	return nil
}

func (g *Gorm) UpdateProgress(ctx context.Context, p *model.SequenceProgress) error {
	if err := g.db.WithContext(ctx).Save(p).Error; err != nil {
		return fmt.Errorf("failed to update sequence progress: %w", err)
	}
	return nil
}

func (g *Gorm) Ping(ctx context.Context) error {
	sqlDB, err := g.db.DB()
	if err != nil {
		return fmt.Errorf("failed to get underlying SQL DB: %w", err)
	}
	return sqlDB.PingContext(ctx)
}
