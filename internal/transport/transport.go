// Package transport delivers composed emails through an account's
// configured channel.
package transport

import (
	"context"
	"strings"
	"time"

	"outreach-relay-go/internal/model"
)

// Message is one outgoing email
type Message struct {
	MessageID   string
	FromName    string
	FromEmail   string
	ToName      string
	To          string
	Subject     string
	Text        string
	HTML        string
	Attachments []string
	Date        time.Time
}

// Result is the outcome of a delivery attempt. Detail carries the
// server response or failure reason.
type Result struct {
	Success bool
	Detail  string
}

func failed(detail string) Result {
	return Result{Success: false, Detail: detail}
}

// Transport sends a message from an account. A failed delivery is reported
// through Result; the error is reserved for attempts that could not be made.
type Transport interface {
	Send(ctx context.Context, account *model.Account, msg Message) (Result, error)
}

// Tester verifies account credentials without sending mail
type Tester interface {
	TestConnection(ctx context.Context, account *model.Account) error
}

var authMarkers = []string{
	"authentication",
	"auth",
	"login",
	"username and password",
	"535",
	"invalid_grant",
}

// IsAuthFailure reports whether a failure detail points at bad credentials
func IsAuthFailure(detail string) bool {
	d := strings.ToLower(detail)
	for _, m := range authMarkers {
		if strings.Contains(d, m) {
			return true
		}
	}
	return false
}
