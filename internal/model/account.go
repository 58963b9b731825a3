package model

import (
	"strings"
	"time"
	"unicode"
)

// AccountStatus is the operational health of an account
type AccountStatus string

const (
	AccountActive   AccountStatus = "Active"
	AccountError    AccountStatus = "Error"
	AccountInactive AccountStatus = "Inactive"
)

// TransportKind selects the delivery mechanism of an account
type TransportKind string

const (
	TransportSMTP     TransportKind = "smtp"
	TransportGmailAPI TransportKind = "gmail_api"
	TransportDummy    TransportKind = "dummy"
)

// Account is a single sending identity with its own rate limits
type Account struct {
	ID          uint          `json:"id" gorm:"primaryKey;autoIncrement"`
	ProviderID  uint          `json:"provider_id" gorm:"not null;index"`
	Email       string        `json:"email" gorm:"type:varchar(255);not null;uniqueIndex"`
	HourlyLimit int           `json:"hourly_limit" gorm:"not null"`
	DailyLimit  int           `json:"daily_limit" gorm:"not null"`
	HourlyCount int           `json:"hourly_count" gorm:"not null;default:0"`
	DailyCount  int           `json:"daily_count" gorm:"not null;default:0"`
	LastUsed    *time.Time    `json:"last_used"`
	Status      AccountStatus `json:"status" gorm:"type:varchar(20);not null;default:Active"`
	IsActive    bool          `json:"is_active" gorm:"index"`

	Transport    TransportKind `json:"transport" gorm:"type:varchar(20);not null;default:smtp"`
	SMTPHost     string        `json:"smtp_host" gorm:"type:varchar(255)"`
	SMTPPort     int           `json:"smtp_port"`
	Username     string        `json:"username" gorm:"type:varchar(255)"`
	Password     string        `json:"-" gorm:"type:varchar(255)"`
	UseTLS       bool          `json:"use_tls"`
	RefreshToken string        `json:"-" gorm:"type:text"`
	SaveSentCopy bool          `json:"save_sent_copy"`
	IMAPHost     string        `json:"imap_host" gorm:"type:varchar(255)"`
	IMAPPort     int           `json:"imap_port"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// TableName specifies the table name for Account
func (Account) TableName() string {
	return "accounts"
}

// Validate checks the limits before the account is persisted
func (a *Account) Validate() error {
	if strings.TrimSpace(a.Email) == "" {
		return invalid("account", "email", "is required")
	}
	if a.ProviderID == 0 {
		return invalid("account", "provider_id", "is required")
	}
	if a.DailyLimit <= 0 {
		return invalid("account", "daily_limit", "must be greater than zero")
	}
	if a.HourlyLimit <= 0 {
		return invalid("account", "hourly_limit", "must be greater than zero")
	}
	if a.HourlyLimit > a.DailyLimit {
		return invalid("account", "hourly_limit", "cannot be greater than daily_limit")
	}
	switch a.Transport {
	case TransportSMTP, TransportGmailAPI, TransportDummy:
	default:
		return invalid("account", "transport", "is unknown")
	}
	return nil
}

// ApplyProviderDefaults fills missing limits from the provider
func (a *Account) ApplyProviderDefaults(p *Provider) {
	if a.DailyLimit == 0 {
		a.DailyLimit = p.DailyEmailLimit
	}
	if a.HourlyLimit == 0 {
		a.HourlyLimit = p.HourlyEmailLimit
	}
	if a.Status == "" {
		a.Status = AccountActive
	}
	if a.Transport == "" {
		a.Transport = TransportSMTP
	}
}

// Available reports whether the account can take one more send right now
func (a *Account) Available() bool {
	return a.Usable() &&
		a.HourlyCount < a.HourlyLimit &&
		a.DailyCount < a.DailyLimit
}

// Usable reports whether the account may send at all, ignoring its counters
func (a *Account) Usable() bool {
	return a.IsActive && a.Status == AccountActive
}

// DailyRatio is daily_count/daily_limit, or 1 when the limit is not positive
func (a *Account) DailyRatio() float64 {
	if a.DailyLimit <= 0 {
		return 1.0
	}
	return float64(a.DailyCount) / float64(a.DailyLimit)
}

// SecondsSinceLastUse treats a never used account as very old
func (a *Account) SecondsSinceLastUse(now time.Time) float64 {
	if a.LastUsed == nil {
		return now.Sub(time.Date(1900, 1, 1, 0, 0, 0, 0, time.UTC)).Seconds()
	}
	return now.Sub(*a.LastUsed).Seconds()
}

// SenderName is the display name used on outgoing mail: the provider
// default, else the title-cased local part of the account email.
func SenderName(p *Provider, a *Account) string {
	if p != nil && p.DefaultSenderName != "" {
		return p.DefaultSenderName
	}
	local, _, _ := strings.Cut(a.Email, "@")
	local = strings.ReplaceAll(local, ".", " ")

	var b strings.Builder
	prevLetter := false
	for _, r := range local {
		if unicode.IsLetter(r) {
			if prevLetter {
				b.WriteRune(unicode.ToLower(r))
			} else {
				b.WriteRune(unicode.ToUpper(r))
			}
			prevLetter = true
			continue
		}
		b.WriteRune(r)
		prevLetter = false
	}
	return b.String()
}
