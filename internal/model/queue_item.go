package model

import (
	"strings"
	"time"
)

// QueueStatus is the dispatch state of a queue item
type QueueStatus string

const (
	StatusQueued    QueueStatus = "Queued"
	StatusScheduled QueueStatus = "Scheduled"
	StatusSending   QueueStatus = "Sending"
	StatusSent      QueueStatus = "Sent"
	StatusError     QueueStatus = "Error"
	StatusCancelled QueueStatus = "Cancelled"
	StatusExpired   QueueStatus = "Expired"
)

// MaxRetries is the number of delivery attempts after which an item stays in Error
const MaxRetries = 3

// DispatchableStatuses are picked up by the queue tick
var DispatchableStatuses = []QueueStatus{StatusQueued, StatusScheduled}

// TerminalStatuses are eligible for purge
var TerminalStatuses = []QueueStatus{StatusSent, StatusError, StatusCancelled, StatusExpired}

var transitions = map[QueueStatus][]QueueStatus{
	StatusQueued:    {StatusSending, StatusScheduled, StatusCancelled, StatusExpired},
	StatusScheduled: {StatusSending, StatusQueued, StatusCancelled, StatusExpired},
	StatusSending:   {StatusSent, StatusError, StatusQueued, StatusScheduled},
	StatusError:     {StatusQueued, StatusCancelled},
}

// CanTransition reports whether the state machine allows from -> to.
// Sending may fall back to Queued/Scheduled when dispatch is deferred before
// the transport is called. A Sending item is already in the transport and
// cannot be cancelled.
func CanTransition(from, to QueueStatus) bool {
	for _, s := range transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// Priority orders dispatch, higher first
type Priority int

const (
	PriorityLow    Priority = 1
	PriorityMedium Priority = 2
	PriorityHigh   Priority = 3
)

// QueueItem is one pending or executed outbound email
type QueueItem struct {
	ID             uint        `json:"id" gorm:"primaryKey;autoIncrement"`
	RecipientName  string      `json:"recipient_name" gorm:"type:varchar(255)"`
	RecipientEmail string      `json:"recipient_email" gorm:"type:varchar(255);not null"`
	RecipientID    *uint       `json:"recipient_id" gorm:"index"`
	CampaignID     *uint       `json:"campaign_id" gorm:"index"`
	CampaignStepID *uint       `json:"campaign_step_id"`
	ProviderID     uint        `json:"provider_id" gorm:"index:idx_queue_provider_status"`
	AccountID      uint        `json:"account_id" gorm:"index"`
	SenderName     string      `json:"sender_name" gorm:"type:varchar(255)"`
	SenderEmail    string      `json:"sender_email" gorm:"type:varchar(255)"`
	Subject        string      `json:"subject" gorm:"type:varchar(998);not null"`
	Body           string      `json:"body" gorm:"type:text;not null"`
	HTMLBody       string      `json:"html_body" gorm:"type:text"`
	Attachments    []string    `json:"attachments" gorm:"serializer:json;type:text"`
	Priority       Priority    `json:"priority" gorm:"not null;default:2;index:idx_queue_due,priority:2"`
	ScheduledTime  time.Time   `json:"scheduled_time" gorm:"not null;index:idx_queue_due,priority:3"`
	Status         QueueStatus `json:"status" gorm:"type:varchar(20);not null;index:idx_queue_due,priority:1;index:idx_queue_provider_status"`
	RetryCount     int         `json:"retry_count" gorm:"not null;default:0"`
	Error          string      `json:"error" gorm:"type:text"`
	SentTime       *time.Time  `json:"sent_time"`
	MessageID      string      `json:"message_id" gorm:"type:varchar(255)"`
	CreatedAt      time.Time   `json:"created_at"`
	UpdatedAt      time.Time   `json:"updated_at" gorm:"index"`
}

// TableName specifies the table name for QueueItem
func (QueueItem) TableName() string {
	return "queue_items"
}

// Validate checks required fields and fills defaults for a new item
func (q *QueueItem) Validate(now time.Time) error {
	if strings.TrimSpace(q.RecipientEmail) == "" {
		return invalid("queue item", "recipient_email", "is required")
	}
	if strings.TrimSpace(q.Subject) == "" {
		return invalid("queue item", "subject", "is required")
	}
	if strings.TrimSpace(q.Body) == "" {
		return invalid("queue item", "body", "is required")
	}
	if q.ScheduledTime.IsZero() {
		q.ScheduledTime = now
	}
	if q.Status == "" {
		q.Status = StatusQueued
	}
	if q.Status != StatusQueued && q.Status != StatusScheduled {
		return invalid("queue item", "status", "must be Queued or Scheduled on creation")
	}
	if q.Priority == 0 {
		q.Priority = PriorityMedium
	}
	if q.Priority < PriorityLow || q.Priority > PriorityHigh {
		return invalid("queue item", "priority", "is out of range")
	}
	return nil
}
