package server

// Hooks receives connection lifecycle notifications for instrumentation.
//
// The contract is fire-and-forget: implementations must be safe for
// concurrent use across connections, and a panicking hook never affects
// protocol handling.
type Hooks interface {
	// ConnectionStart fires when a connection's worker begins.
	ConnectionStart(remoteAddr string)
	// ConnectionStop fires exactly once when a connection's worker ends,
	// clean or not.
	ConnectionStop(remoteAddr string)
	// MessageReceived fires once per decoded batch with the batch tag.
	MessageReceived(tag string)
	// EventHandled fires once per event after the handler returns.
	EventHandled()
	// AckSent fires after an ack frame has been written.
	AckSent()
	// ConnectionError fires on abnormal termination, before ConnectionStop.
	ConnectionError(remoteAddr string, err error)
}

// NopHooks is the default Hooks implementation; every notification is a no-op.
type NopHooks struct{}

func (NopHooks) ConnectionStart(string)        {}
func (NopHooks) ConnectionStop(string)         {}
func (NopHooks) MessageReceived(string)        {}
func (NopHooks) EventHandled()                 {}
func (NopHooks) AckSent()                      {}
func (NopHooks) ConnectionError(string, error) {}

var _ Hooks = NopHooks{}

// fire invokes a hook, swallowing panics so instrumentation can never break
// a connection.
func fire(f func()) {
	defer func() { _ = recover() }()
	f()
}
