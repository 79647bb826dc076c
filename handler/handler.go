// Package handler defines the capability contract between the server core
// and event consumers.
//
// A Handler is initialized once per connection with static options and
// returns a State that receives every event decoded on that connection, in
// wire order. The server treats handler-internal state as opaque and does
// not synchronize on its behalf; handlers shared across connections must
// provide their own concurrency safety.
package handler

import (
	"context"

	"github.com/inletio/inletd/protocol"
)

// Handler creates per-connection handler state.
type Handler interface {
	// Init is called once per accepted connection, before any event is
	// dispatched. opts are the static handler options from configuration;
	// they are immutable for the connection's lifetime. Init must not
	// capture connection-specific runtime resources.
	Init(ctx context.Context, opts map[string]any) (State, error)
}

// State consumes the events of one connection sequentially.
//
// A non-nil error aborts the remainder of the current batch and takes the
// connection down its abnormal-termination path; the server never retries.
// States that also implement io.Closer are closed on connection teardown.
type State interface {
	HandleEvent(ctx context.Context, ev protocol.Event) error
}

// Func adapts a function literal to a Handler whose state is the function
// itself. Handy for tests and inline wiring.
type Func func(ctx context.Context, ev protocol.Event) error

// Init returns the function as its own per-connection state.
func (f Func) Init(context.Context, map[string]any) (State, error) {
	return stateFunc(f), nil
}

type stateFunc func(ctx context.Context, ev protocol.Event) error

func (f stateFunc) HandleEvent(ctx context.Context, ev protocol.Event) error {
	return f(ctx, ev)
}
