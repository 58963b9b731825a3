package transport

import (
	"context"
	"crypto/tls"
	"fmt"
	"net"
	"net/smtp"
	"strconv"
	"time"

	"github.com/sirupsen/logrus"

	"outreach-relay-go/internal/model"
)

const implicitTLSPort = 465

// SMTP delivers through the account's SMTP server
type SMTP struct {
	dialTimeout time.Duration
	tlsConfig   *tls.Config
}

// NewSMTP creates an SMTP transport
func NewSMTP(dialTimeout time.Duration) *SMTP {
	if dialTimeout <= 0 {
		dialTimeout = 30 * time.Second
	}
	return &SMTP{dialTimeout: dialTimeout}
}

func (s *SMTP) tlsFor(host string) *tls.Config {
	if s.tlsConfig != nil {
		cfg := s.tlsConfig.Clone()
		cfg.ServerName = host
		return cfg
	}
	return &tls.Config{ServerName: host, MinVersion: tls.VersionTLS12}
}

// connect dials, upgrades and authenticates. The caller must Close the client.
func (s *SMTP) connect(ctx context.Context, acc *model.Account) (*smtp.Client, error) {
	if acc.SMTPHost == "" || acc.SMTPPort == 0 {
		return nil, fmt.Errorf("account %s has no SMTP server configured", acc.Email)
	}
	addr := net.JoinHostPort(acc.SMTPHost, strconv.Itoa(acc.SMTPPort))

	dialer := &net.Dialer{Timeout: s.dialTimeout}
	var conn net.Conn
	var err error
	if acc.SMTPPort == implicitTLSPort {
		conn, err = (&tls.Dialer{NetDialer: dialer, Config: s.tlsFor(acc.SMTPHost)}).DialContext(ctx, "tcp", addr)
	} else {
		conn, err = dialer.DialContext(ctx, "tcp", addr)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to connect to %s: %w", addr, err)
	}
	if deadline, ok := ctx.Deadline(); ok {
		_ = conn.SetDeadline(deadline)
	}

	c, err := smtp.NewClient(conn, acc.SMTPHost)
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to start SMTP session: %w", err)
	}

	if acc.UseTLS && acc.SMTPPort != implicitTLSPort {
		if ok, _ := c.Extension("STARTTLS"); !ok {
			c.Close()
			return nil, fmt.Errorf("server %s does not support STARTTLS", addr)
		}
		if err := c.StartTLS(s.tlsFor(acc.SMTPHost)); err != nil {
			c.Close()
			return nil, fmt.Errorf("failed to start TLS: %w", err)
		}
	}

	if acc.Password != "" {
		username := acc.Username
		if username == "" {
			username = acc.Email
		}
		if err := c.Auth(smtp.PlainAuth("", username, acc.Password, acc.SMTPHost)); err != nil {
			c.Close()
			return nil, fmt.Errorf("authentication failed: %w", err)
		}
	}
	return c, nil
}

// Send implements Transport
func (s *SMTP) Send(ctx context.Context, acc *model.Account, msg Message) (Result, error) {
	raw, err := Compose(msg)
	if err != nil {
		return failed(err.Error()), nil
	}

	c, err := s.connect(ctx, acc)
	if err != nil {
		return failed(err.Error()), nil
	}
	defer c.Close()

	if err := c.Mail(msg.FromEmail); err != nil {
		return failed(fmt.Sprintf("MAIL FROM rejected: %v", err)), nil
	}
	if err := c.Rcpt(msg.To); err != nil {
		return failed(fmt.Sprintf("RCPT TO rejected: %v", err)), nil
	}
	w, err := c.Data()
	if err != nil {
		return failed(fmt.Sprintf("DATA rejected: %v", err)), nil
	}
	if _, err := w.Write(raw); err != nil {
		return failed(fmt.Sprintf("failed to write message: %v", err)), nil
	}
	if err := w.Close(); err != nil {
		return failed(fmt.Sprintf("message rejected: %v", err)), nil
	}
	if err := c.Quit(); err != nil {
		logrus.Debugf("SMTP QUIT for %s failed after delivery: %v", acc.Email, err)
	}

	return Result{Success: true, Detail: fmt.Sprintf("accepted by %s", acc.SMTPHost)}, nil
}

// TestConnection logs in without sending anything
func (s *SMTP) TestConnection(ctx context.Context, acc *model.Account) error {
	c, err := s.connect(ctx, acc)
	if err != nil {
		return err
	}
	defer c.Close()
	return c.Quit()
}
