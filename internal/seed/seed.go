// Package seed loads providers, accounts and campaign fixtures from YAML.
package seed

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/sirupsen/logrus"
	yaml "go.yaml.in/yaml/v3"

	"outreach-relay-go/internal/model"
	"outreach-relay-go/internal/store"
)

// File is the document layout of a seed file
type File struct {
	Providers  []Provider  `yaml:"providers"`
	Recipients []Recipient `yaml:"recipients"`
	Campaigns  []Campaign  `yaml:"campaigns"`
}

// Provider is a provider with its accounts
type Provider struct {
	Name                  string    `yaml:"name"`
	MinIntervalSeconds    *int      `yaml:"min_interval_seconds"`
	MaxIntervalSeconds    *int      `yaml:"max_interval_seconds"`
	EnableRandomIntervals bool      `yaml:"enable_random_intervals"`
	EnableAutoRotation    bool      `yaml:"enable_auto_rotation"`
	SelectionPolicy       string    `yaml:"selection_policy"`
	DefaultSenderName     string    `yaml:"default_sender_name"`
	DailyEmailLimit       *int      `yaml:"daily_email_limit"`
	HourlyEmailLimit      *int      `yaml:"hourly_email_limit"`
	Inactive              bool      `yaml:"inactive"`
	Accounts              []Account `yaml:"accounts"`
}

// Account is one sending identity. Limits default to the provider's.
type Account struct {
	Email        string `yaml:"email"`
	HourlyLimit  int    `yaml:"hourly_limit"`
	DailyLimit   int    `yaml:"daily_limit"`
	Transport    string `yaml:"transport"`
	SMTPHost     string `yaml:"smtp_host"`
	SMTPPort     int    `yaml:"smtp_port"`
	Username     string `yaml:"username"`
	Password     string `yaml:"password"`
	UseTLS       bool   `yaml:"use_tls"`
	RefreshToken string `yaml:"refresh_token"`
	SaveSentCopy bool   `yaml:"save_sent_copy"`
	IMAPHost     string `yaml:"imap_host"`
	IMAPPort     int    `yaml:"imap_port"`
	Inactive     bool   `yaml:"inactive"`
}

// Recipient is a contact
type Recipient struct {
	FirstName string `yaml:"first_name"`
	LastName  string `yaml:"last_name"`
	Email     string `yaml:"email"`
	Company   string `yaml:"company"`
}

// Campaign is a campaign, its sequence and the recipients enrolled in it
type Campaign struct {
	Name       string   `yaml:"name"`
	Status     string   `yaml:"status"`
	Steps      []Step   `yaml:"steps"`
	Recipients []string `yaml:"recipients"`
}

// Step is one message of the campaign sequence, in file order
type Step struct {
	Subject   string `yaml:"subject"`
	Body      string `yaml:"body"`
	HTMLBody  string `yaml:"html_body"`
	DelayDays int    `yaml:"delay_days"`
}

// Summary counts what Apply created
type Summary struct {
	Providers  int
	Accounts   int
	Recipients int
	Campaigns  int
	Enrolled   int
}

// LoadFile reads and validates a seed file
func LoadFile(path string) (*File, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open seed file: %w", err)
	}
	defer f.Close()
	return Load(f)
}

// Load decodes a seed document, rejecting unknown keys, and validates it
func Load(r io.Reader) (*File, error) {
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)

	var doc File
	if err := dec.Decode(&doc); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("yaml unmarshal: %w", err)
	}
	if err := doc.Validate(); err != nil {
		return nil, err
	}
	return &doc, nil
}

// Validate checks every entity with the same rules the API applies
func (f *File) Validate() error {
	names := map[string]bool{}
	for _, p := range f.Providers {
		if names[p.Name] {
			return fmt.Errorf("duplicate provider %q", p.Name)
		}
		names[p.Name] = true

		prov := p.model()
		if err := prov.Validate(); err != nil {
			return err
		}
		for _, a := range p.Accounts {
			acc := a.model(prov)
			acc.ProviderID = 1 // assigned by Apply
			if err := acc.Validate(); err != nil {
				return fmt.Errorf("provider %s: %w", p.Name, err)
			}
		}
	}

	known := map[string]bool{}
	for _, r := range f.Recipients {
		if r.Email == "" {
			return fmt.Errorf("recipient without email")
		}
		known[r.Email] = true
	}
	for _, c := range f.Campaigns {
		if c.Name == "" {
			return fmt.Errorf("campaign without name")
		}
		if len(c.Steps) == 0 {
			return fmt.Errorf("campaign %s has no steps", c.Name)
		}
		switch model.CampaignStatus(c.Status) {
		case "", model.CampaignDraft, model.CampaignActive, model.CampaignPaused, model.CampaignCompleted:
		default:
			return fmt.Errorf("campaign %s has unknown status %q", c.Name, c.Status)
		}
		for i, s := range c.Steps {
			if s.Subject == "" || s.Body == "" {
				return fmt.Errorf("campaign %s step %d needs a subject and a body", c.Name, i+1)
			}
			if s.DelayDays < 0 {
				return fmt.Errorf("campaign %s step %d has a negative delay", c.Name, i+1)
			}
		}
		for _, email := range c.Recipients {
			if !known[email] {
				return fmt.Errorf("campaign %s enrolls unknown recipient %s", c.Name, email)
			}
		}
	}
	return nil
}

// Apply persists the document. Enrolled recipients become due for the first
// step at now plus its delay.
func (f *File) Apply(ctx context.Context, s store.Store, now time.Time) (Summary, error) {
	var sum Summary
	for _, p := range f.Providers {
		prov := p.model()
		if err := s.CreateProvider(ctx, prov); err != nil {
			return sum, fmt.Errorf("failed to create provider %s: %w", p.Name, err)
		}
		sum.Providers++
		for _, a := range p.Accounts {
			acc := a.model(prov)
			acc.ProviderID = prov.ID
			if err := s.CreateAccount(ctx, acc); err != nil {
				return sum, fmt.Errorf("failed to create account %s: %w", a.Email, err)
			}
			sum.Accounts++
		}
		logrus.Infof("Seeded provider %s with %d accounts", prov.Name, len(p.Accounts))
	}

	recipients := make(map[string]uint, len(f.Recipients))
	for _, r := range f.Recipients {
		rec := &model.Recipient{FirstName: r.FirstName, LastName: r.LastName, Email: r.Email, Company: r.Company}
		if err := s.CreateRecipient(ctx, rec); err != nil {
			return sum, fmt.Errorf("failed to create recipient %s: %w", r.Email, err)
		}
		recipients[r.Email] = rec.ID
		sum.Recipients++
	}

	for _, c := range f.Campaigns {
		seq := &model.Sequence{Name: c.Name}
		for i, st := range c.Steps {
			seq.Steps = append(seq.Steps, model.Step{
				Position:  i + 1,
				Subject:   st.Subject,
				Body:      st.Body,
				HTMLBody:  st.HTMLBody,
				DelayDays: st.DelayDays,
			})
		}
		if err := s.CreateSequence(ctx, seq); err != nil {
			return sum, fmt.Errorf("failed to create sequence for %s: %w", c.Name, err)
		}

		status := model.CampaignStatus(c.Status)
		if status == "" {
			status = model.CampaignDraft
		}
		camp := &model.Campaign{Name: c.Name, Status: status, SequenceID: seq.ID}
		if err := s.CreateCampaign(ctx, camp); err != nil {
			return sum, fmt.Errorf("failed to create campaign %s: %w", c.Name, err)
		}
		sum.Campaigns++

		first := seq.Steps[0]
		for _, email := range c.Recipients {
			progress := &model.SequenceProgress{
				RecipientID:     recipients[email],
				CampaignID:      camp.ID,
				CurrentStepID:   first.ID,
				NextMessageDate: now.AddDate(0, 0, first.DelayDays),
				Status:          model.ProgressPending,
			}
			if err := s.CreateProgress(ctx, progress); err != nil {
				return sum, fmt.Errorf("failed to enroll %s in %s: %w", email, c.Name, err)
			}
			sum.Enrolled++
		}
		logrus.Infof("Seeded campaign %s (%s) with %d steps and %d recipients", camp.Name, camp.Status, len(seq.Steps), len(c.Recipients))
	}
	return sum, nil
}

func (p Provider) model() *model.Provider {
	prov := &model.Provider{
		Name:                  p.Name,
		MinIntervalSeconds:    intOr(p.MinIntervalSeconds, 60),
		MaxIntervalSeconds:    intOr(p.MaxIntervalSeconds, 300),
		EnableRandomIntervals: p.EnableRandomIntervals,
		EnableAutoRotation:    p.EnableAutoRotation,
		SelectionPolicy:       model.SelectionPolicy(p.SelectionPolicy),
		DefaultSenderName:     p.DefaultSenderName,
		DailyEmailLimit:       intOr(p.DailyEmailLimit, 500),
		HourlyEmailLimit:      intOr(p.HourlyEmailLimit, 50),
		IsActive:              !p.Inactive,
	}
	return prov
}

func (a Account) model(p *model.Provider) *model.Account {
	acc := &model.Account{
		Email:        a.Email,
		HourlyLimit:  a.HourlyLimit,
		DailyLimit:   a.DailyLimit,
		Transport:    model.TransportKind(a.Transport),
		SMTPHost:     a.SMTPHost,
		SMTPPort:     a.SMTPPort,
		Username:     a.Username,
		Password:     a.Password,
		UseTLS:       a.UseTLS,
		RefreshToken: a.RefreshToken,
		SaveSentCopy: a.SaveSentCopy,
		IMAPHost:     a.IMAPHost,
		IMAPPort:     a.IMAPPort,
		IsActive:     !a.Inactive,
	}
	acc.ApplyProviderDefaults(p)
	return acc
}

func intOr(v *int, def int) int {
	if v == nil {
		return def
	}
	return *v
}
