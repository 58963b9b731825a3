package transport

import (
	"bytes"
	"context"
	"crypto/tls"
	"fmt"
	"net"
	"strconv"
	"time"

	"github.com/emersion/go-imap"
	"github.com/emersion/go-imap/client"
	"github.com/sirupsen/logrus"

	"outreach-relay-go/internal/model"
)

// SentMailbox is the IMAP folder delivered messages are copied to
const SentMailbox = "Sent"

// Mailbox stores a copy of a delivered message
type Mailbox interface {
	Append(ctx context.Context, acc *model.Account, raw []byte, date time.Time) error
}

// IMAPMailbox appends to the account's Sent folder over IMAPS
type IMAPMailbox struct {
	Folder string
}

// Append implements Mailbox
func (m *IMAPMailbox) Append(ctx context.Context, acc *model.Account, raw []byte, date time.Time) error {
	if acc.IMAPHost == "" {
		return fmt.Errorf("account %s has no IMAP server configured", acc.Email)
	}
	port := acc.IMAPPort
	if port == 0 {
		port = 993
	}

	dialer := &net.Dialer{Timeout: 30 * time.Second}
	if deadline, ok := ctx.Deadline(); ok {
		dialer.Deadline = deadline
	}
	c, err := client.DialWithDialerTLS(dialer, net.JoinHostPort(acc.IMAPHost, strconv.Itoa(port)), &tls.Config{ServerName: acc.IMAPHost})
	if err != nil {
		return fmt.Errorf("failed to connect to IMAP server: %w", err)
	}
	defer c.Logout()

	username := acc.Username
	if username == "" {
		username = acc.Email
	}
	if err := c.Login(username, acc.Password); err != nil {
		return fmt.Errorf("failed to login to IMAP server: %w", err)
	}

	folder := m.Folder
	if folder == "" {
		folder = SentMailbox
	}
	if err := c.Append(folder, []string{imap.SeenFlag}, date, bytes.NewBuffer(raw)); err != nil {
		return fmt.Errorf("failed to append to %s: %w", folder, err)
	}
	return nil
}

// SentCopier wraps a transport and files a copy of each delivered message
// for accounts with save_sent_copy set. A failed copy is logged and does not
// change the delivery result.
type SentCopier struct {
	next    Transport
	mailbox Mailbox
}

// NewSentCopier wraps next
func NewSentCopier(next Transport, mailbox Mailbox) *SentCopier {
	return &SentCopier{next: next, mailbox: mailbox}
}

// Send implements Transport
func (s *SentCopier) Send(ctx context.Context, acc *model.Account, msg Message) (Result, error) {
	res, err := s.next.Send(ctx, acc, msg)
	if err != nil || !res.Success || !acc.SaveSentCopy {
		return res, err
	}

	raw, cerr := Compose(msg)
	if cerr == nil {
		cerr = s.mailbox.Append(ctx, acc, raw, msg.Date)
	}
	if cerr != nil {
		logrus.WithField("account_id", acc.ID).Warnf("Failed to save sent copy of %s: %v", msg.MessageID, cerr)
	}
	return res, nil
}

// TestConnection implements Tester by delegating to the wrapped transport
func (s *SentCopier) TestConnection(ctx context.Context, acc *model.Account) error {
	tester, ok := s.next.(Tester)
	if !ok {
		return fmt.Errorf("transport cannot test connections")
	}
	return tester.TestConnection(ctx, acc)
}
