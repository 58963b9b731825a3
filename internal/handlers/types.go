package handlers

import (
	"time"

	"outreach-relay-go/internal/model"
)

// ProviderRequest represents the request structure for creating a provider
type ProviderRequest struct {
	Name                  string `json:"name" binding:"required"`
	MinIntervalSeconds    *int   `json:"min_interval_seconds"`
	MaxIntervalSeconds    *int   `json:"max_interval_seconds"`
	EnableRandomIntervals bool   `json:"enable_random_intervals"`
	EnableAutoRotation    bool   `json:"enable_auto_rotation"`
	SelectionPolicy       string `json:"selection_policy"`
	DefaultSenderName     string `json:"default_sender_name"`
	DailyEmailLimit       *int   `json:"daily_email_limit"`
	HourlyEmailLimit      *int   `json:"hourly_email_limit"`
	IsActive              *bool  `json:"is_active"`
}

// toModel applies the column defaults of the providers table
func (r ProviderRequest) toModel() *model.Provider {
	p := &model.Provider{
		Name:                  r.Name,
		MinIntervalSeconds:    intOr(r.MinIntervalSeconds, 60),
		MaxIntervalSeconds:    intOr(r.MaxIntervalSeconds, 300),
		EnableRandomIntervals: r.EnableRandomIntervals,
		EnableAutoRotation:    r.EnableAutoRotation,
		SelectionPolicy:       model.SelectionPolicy(r.SelectionPolicy),
		DefaultSenderName:     r.DefaultSenderName,
		DailyEmailLimit:       intOr(r.DailyEmailLimit, 500),
		HourlyEmailLimit:      intOr(r.HourlyEmailLimit, 50),
		IsActive:              true,
	}
	if r.IsActive != nil {
		p.IsActive = *r.IsActive
	}
	return p
}

// AccountRequest represents the request structure for creating an account.
// Missing limits are taken from the provider.
type AccountRequest struct {
	ProviderID   uint   `json:"provider_id" binding:"required"`
	Email        string `json:"email" binding:"required,email"`
	HourlyLimit  int    `json:"hourly_limit"`
	DailyLimit   int    `json:"daily_limit"`
	Transport    string `json:"transport"`
	SMTPHost     string `json:"smtp_host"`
	SMTPPort     int    `json:"smtp_port"`
	Username     string `json:"username"`
	Password     string `json:"password"`
	UseTLS       bool   `json:"use_tls"`
	RefreshToken string `json:"refresh_token"`
	SaveSentCopy bool   `json:"save_sent_copy"`
	IMAPHost     string `json:"imap_host"`
	IMAPPort     int    `json:"imap_port"`
	IsActive     *bool  `json:"is_active"`
}

func (r AccountRequest) toModel() *model.Account {
	a := &model.Account{
		ProviderID:   r.ProviderID,
		Email:        r.Email,
		HourlyLimit:  r.HourlyLimit,
		DailyLimit:   r.DailyLimit,
		Transport:    model.TransportKind(r.Transport),
		SMTPHost:     r.SMTPHost,
		SMTPPort:     r.SMTPPort,
		Username:     r.Username,
		Password:     r.Password,
		UseTLS:       r.UseTLS,
		RefreshToken: r.RefreshToken,
		SaveSentCopy: r.SaveSentCopy,
		IMAPHost:     r.IMAPHost,
		IMAPPort:     r.IMAPPort,
		IsActive:     true,
	}
	if r.IsActive != nil {
		a.IsActive = *r.IsActive
	}
	return a
}

// EnqueueRequest represents a directly submitted email
type EnqueueRequest struct {
	RecipientEmail string     `json:"recipient_email" binding:"required,email"`
	RecipientName  string     `json:"recipient_name"`
	RecipientID    *uint      `json:"recipient_id"`
	CampaignID     *uint      `json:"campaign_id"`
	ProviderID     uint       `json:"provider_id"`
	AccountID      uint       `json:"account_id"`
	SenderName     string     `json:"sender_name"`
	SenderEmail    string     `json:"sender_email"`
	Subject        string     `json:"subject"`
	Body           string     `json:"body"`
	HTMLBody       string     `json:"html_body"`
	Attachments    []string   `json:"attachments"`
	Priority       int        `json:"priority"`
	ScheduledTime  *time.Time `json:"scheduled_time"`
}

func (r EnqueueRequest) toModel() *model.QueueItem {
	q := &model.QueueItem{
		RecipientEmail: r.RecipientEmail,
		RecipientName:  r.RecipientName,
		RecipientID:    r.RecipientID,
		CampaignID:     r.CampaignID,
		ProviderID:     r.ProviderID,
		AccountID:      r.AccountID,
		SenderName:     r.SenderName,
		SenderEmail:    r.SenderEmail,
		Subject:        r.Subject,
		Body:           r.Body,
		HTMLBody:       r.HTMLBody,
		Attachments:    r.Attachments,
		Priority:       model.Priority(r.Priority),
		Status:         model.StatusQueued,
	}
	if r.ScheduledTime != nil {
		q.ScheduledTime = *r.ScheduledTime
	}
	return q
}

// DistributeRequest triggers a distribution run
type DistributeRequest struct {
	CampaignID *uint `json:"campaign_id"`
	Limit      int   `json:"limit"`
	Force      bool  `json:"force"`
}

// DistributeResponse reports how many emails were queued per campaign
type DistributeResponse struct {
	Counts map[uint]int `json:"counts"`
	Total  int          `json:"total"`
}

// ProviderLimits is the remaining capacity of one provider
type ProviderLimits struct {
	ProviderID        uint   `json:"provider_id"`
	Name              string `json:"name"`
	AvailableAccounts int    `json:"available_accounts"`
	LimitsReached     bool   `json:"limits_reached"`
}

// LimitsResponse is the global throttle guard view
type LimitsResponse struct {
	AllLimitsReached bool             `json:"all_limits_reached"`
	Providers        []ProviderLimits `json:"providers"`
}

// HealthResponse represents the health check response
type HealthResponse struct {
	Status    string            `json:"status"`
	Timestamp time.Time         `json:"timestamp"`
	Database  string            `json:"database"`
	Scheduler map[string]string `json:"scheduler"`

	AvailableAccounts int `json:"available_accounts"`
}

// ErrorResponse represents an error response
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
	Code    int    `json:"code"`
}

func intOr(v *int, def int) int {
	if v == nil {
		return def
	}
	return *v
}
