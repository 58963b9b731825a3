package transport

import (
	"context"
	"encoding/base64"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
	gmail "google.golang.org/api/gmail/v1"
	"google.golang.org/api/option"

	"outreach-relay-go/internal/model"
)

const gmailAttempts = 3

// Gmail sends through the Gmail API using each account's refresh token
type Gmail struct {
	oauth *oauth2.Config
	// overrides the token source, for tests against a fake endpoint
	clientOptions []option.ClientOption

	mu       sync.Mutex
	services map[uint]*gmailService
}

type gmailService struct {
	token string
	svc   *gmail.Service
}

// NewGmail creates a Gmail API transport
func NewGmail(clientID, clientSecret string, opts ...option.ClientOption) *Gmail {
	return &Gmail{
		oauth: &oauth2.Config{
			ClientID:     clientID,
			ClientSecret: clientSecret,
			Scopes:       []string{gmail.GmailSendScope},
			Endpoint:     google.Endpoint,
		},
		clientOptions: opts,
		services:      make(map[uint]*gmailService),
	}
}

func (g *Gmail) service(acc *model.Account) (*gmail.Service, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if cached, ok := g.services[acc.ID]; ok && cached.token == acc.RefreshToken {
		return cached.svc, nil
	}

	opts := g.clientOptions
	if len(opts) == 0 {
		if acc.RefreshToken == "" {
			return nil, fmt.Errorf("account %s has no Gmail refresh token", acc.Email)
		}
		// the token source outlives any single send, so it gets its own context
		ts := g.oauth.TokenSource(context.Background(), &oauth2.Token{RefreshToken: acc.RefreshToken})
		opts = []option.ClientOption{option.WithTokenSource(ts)}
	}

	svc, err := gmail.NewService(context.Background(), opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create Gmail service: %w", err)
	}
	g.services[acc.ID] = &gmailService{token: acc.RefreshToken, svc: svc}
	return svc, nil
}

// Send implements Transport
func (g *Gmail) Send(ctx context.Context, acc *model.Account, msg Message) (Result, error) {
	raw, err := Compose(msg)
	if err != nil {
		return failed(err.Error()), nil
	}
	svc, err := g.service(acc)
	if err != nil {
		return failed(err.Error()), nil
	}

	message := &gmail.Message{Raw: base64.URLEncoding.EncodeToString(raw)}

	var lastErr error
	for attempt := 1; attempt <= gmailAttempts; attempt++ {
		sent, err := svc.Users.Messages.Send("me", message).Context(ctx).Do()
		if err == nil {
			return Result{Success: true, Detail: fmt.Sprintf("gmail id %s", sent.Id)}, nil
		}
		lastErr = err
		logrus.Warnf("Gmail send from %s failed (attempt %d/%d): %v", acc.Email, attempt, gmailAttempts, err)

		if !isRateLimited(err) {
			break
		}
		wait := time.Duration(attempt*attempt) * time.Second
		select {
		case <-ctx.Done():
			return failed(ctx.Err().Error()), nil
		case <-time.After(wait):
		}
	}
	return failed(lastErr.Error()), nil
}

func isRateLimited(err error) bool {
	s := strings.ToLower(err.Error())
	return strings.Contains(s, "quota") || strings.Contains(s, "rate")
}

// TestConnection fetches the account profile
func (g *Gmail) TestConnection(ctx context.Context, acc *model.Account) error {
	svc, err := g.service(acc)
	if err != nil {
		return err
	}
	if _, err := svc.Users.GetProfile("me").Context(ctx).Do(); err != nil {
		return fmt.Errorf("failed to test Gmail API connection: %w", err)
	}
	return nil
}
