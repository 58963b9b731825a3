package model

import (
	"time"
)

// Assignment is the sticky mapping from a recipient to one account/provider pair
type Assignment struct {
	ID          uint       `json:"id" gorm:"primaryKey;autoIncrement"`
	RecipientID uint       `json:"recipient_id" gorm:"not null;index:idx_assignment_recipient_active"`
	AccountID   uint       `json:"account_id" gorm:"not null;index"`
	ProviderID  uint       `json:"provider_id" gorm:"not null"`
	CampaignID  *uint      `json:"campaign_id"`
	AssignedAt  time.Time  `json:"assigned_at"`
	IsActive    bool       `json:"is_active" gorm:"not null;index:idx_assignment_recipient_active"`
	TotalSent   int        `json:"total_sent" gorm:"not null;default:0"`
	LastSentAt  *time.Time `json:"last_sent_at"`
	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
}

// TableName specifies the table name for Assignment
func (Assignment) TableName() string {
	return "sender_assignments"
}
