package transport

import (
	"context"
	"sync"

	"github.com/sirupsen/logrus"

	"outreach-relay-go/internal/model"
)

// Dummy logs messages instead of delivering them
type Dummy struct {
	mu       sync.Mutex
	failWith string
	sent     []Message
}

// NewDummy creates a dummy transport
func NewDummy() *Dummy {
	return &Dummy{}
}

// Send implements Transport
func (d *Dummy) Send(_ context.Context, acc *model.Account, msg Message) (Result, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.failWith != "" {
		return failed(d.failWith), nil
	}
	d.sent = append(d.sent, msg)
	logrus.WithField("account_id", acc.ID).Infof("Dummy delivery from %s to %s: %s", msg.FromEmail, msg.To, msg.Subject)
	return Result{Success: true, Detail: "dummy"}, nil
}

// Sent returns the messages accepted so far
func (d *Dummy) Sent() []Message {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]Message(nil), d.sent...)
}

// Fail switches the transport into failure mode; an empty detail switches it back
func (d *Dummy) Fail(detail string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.failWith = detail
}

// TestConnection implements Tester
func (d *Dummy) TestConnection(context.Context, *model.Account) error {
	return nil
}
