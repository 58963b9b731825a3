package model

import (
	"strings"
	"time"
)

// Recipient is a contact that campaigns send to
type Recipient struct {
	ID        uint      `json:"id" gorm:"primaryKey;autoIncrement"`
	FirstName string    `json:"first_name" gorm:"type:varchar(255)"`
	LastName  string    `json:"last_name" gorm:"type:varchar(255)"`
	Email     string    `json:"email" gorm:"type:varchar(255);not null;uniqueIndex"`
	Company   string    `json:"company" gorm:"type:varchar(255)"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// TableName specifies the table name for Recipient
func (Recipient) TableName() string {
	return "recipients"
}

// FullName joins first and last name, skipping empty parts
func (r *Recipient) FullName() string {
	return strings.TrimSpace(strings.Join([]string{r.FirstName, r.LastName}, " "))
}

// CampaignStatus is the lifecycle state of a campaign
type CampaignStatus string

const (
	CampaignDraft     CampaignStatus = "Draft"
	CampaignActive    CampaignStatus = "Active"
	CampaignPaused    CampaignStatus = "Paused"
	CampaignCompleted CampaignStatus = "Completed"
)

// Campaign ties a sequence to the recipients progressing through it
type Campaign struct {
	ID         uint           `json:"id" gorm:"primaryKey;autoIncrement"`
	Name       string         `json:"name" gorm:"type:varchar(255);not null;uniqueIndex"`
	Status     CampaignStatus `json:"status" gorm:"type:varchar(20);not null;default:Draft;index"`
	SequenceID uint           `json:"sequence_id" gorm:"not null"`
	CreatedAt  time.Time      `json:"created_at"`
	UpdatedAt  time.Time      `json:"updated_at"`
}

// TableName specifies the table name for Campaign
func (Campaign) TableName() string {
	return "campaigns"
}

// Sequence is an ordered outreach plan
type Sequence struct {
	ID        uint      `json:"id" gorm:"primaryKey;autoIncrement"`
	Name      string    `json:"name" gorm:"type:varchar(255);not null"`
	Steps     []Step    `json:"steps,omitempty" gorm:"foreignKey:SequenceID"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// TableName specifies the table name for Sequence
func (Sequence) TableName() string {
	return "sequences"
}

// Step is one message of a sequence. DelayDays is the wait before this step
// is sent, counted from the previous one.
type Step struct {
	ID         uint      `json:"id" gorm:"primaryKey;autoIncrement"`
	SequenceID uint      `json:"sequence_id" gorm:"not null;index"`
	Position   int       `json:"position" gorm:"not null"`
	DelayDays  int       `json:"delay_days" gorm:"not null;default:0"`
	Subject    string    `json:"subject" gorm:"type:varchar(998);not null"`
	Body       string    `json:"body" gorm:"type:text;not null"`
	HTMLBody   string    `json:"html_body" gorm:"type:text"`
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`
}

// TableName specifies the table name for Step
func (Step) TableName() string {
	return "sequence_steps"
}

// ProgressStatus tracks a recipient through a campaign sequence
type ProgressStatus string

const (
	ProgressPending    ProgressStatus = "Pending"
	ProgressInProgress ProgressStatus = "InProgress"
	ProgressCompleted  ProgressStatus = "Completed"
)

// SequenceProgress is a recipient's position in a campaign's sequence
type SequenceProgress struct {
	ID              uint           `json:"id" gorm:"primaryKey;autoIncrement"`
	RecipientID     uint           `json:"recipient_id" gorm:"not null;index"`
	CampaignID      uint           `json:"campaign_id" gorm:"not null;index:idx_progress_due,priority:1"`
	CurrentStepID   uint           `json:"current_step_id" gorm:"not null"`
	NextMessageDate time.Time      `json:"next_message_date" gorm:"index:idx_progress_due,priority:3"`
	Status          ProgressStatus `json:"status" gorm:"type:varchar(20);not null;default:Pending;index:idx_progress_due,priority:2"`
	LastMessageDate *time.Time     `json:"last_message_date"`
	CreatedAt       time.Time      `json:"created_at"`
	UpdatedAt       time.Time      `json:"updated_at"`
}

// TableName specifies the table name for SequenceProgress
func (SequenceProgress) TableName() string {
	return "sequence_progress"
}

// AllModels lists every persisted type, in migration order
func AllModels() []interface{} {
	return []interface{}{
		&Provider{}, &Account{}, &Assignment{}, &QueueItem{},
		&Recipient{}, &Campaign{}, &Sequence{}, &Step{}, &SequenceProgress{},
	}
}
