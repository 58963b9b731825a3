package transport

import (
	"context"
	"fmt"

	"outreach-relay-go/internal/model"
)

// Router picks the transport matching each account's kind
type Router struct {
	routes map[model.TransportKind]Transport
}

// NewRouter creates a router over the given transports
func NewRouter(routes map[model.TransportKind]Transport) *Router {
	return &Router{routes: routes}
}

// Send implements Transport
func (r *Router) Send(ctx context.Context, acc *model.Account, msg Message) (Result, error) {
	t, ok := r.routes[acc.Transport]
	if !ok {
		return failed(fmt.Sprintf("no transport configured for %q", acc.Transport)), nil
	}
	return t.Send(ctx, acc, msg)
}

// TestConnection implements Tester
func (r *Router) TestConnection(ctx context.Context, acc *model.Account) error {
	t, ok := r.routes[acc.Transport]
	if !ok {
		return fmt.Errorf("no transport configured for %q", acc.Transport)
	}
	tester, ok := t.(Tester)
	if !ok {
		return fmt.Errorf("transport %q cannot test connections", acc.Transport)
	}
	return tester.TestConnection(ctx, acc)
}
