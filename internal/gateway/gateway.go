// Package gateway defines the messaging-gateway capability the pairing
// workflow runs against: opening a connection, requesting a registration
// credential, sending messages, and the asynchronous connection event
// stream. Connection establishment, the cryptographic handshake and message
// encoding all live on the remote side of this boundary.
package gateway

import (
	"context"
	"errors"
)

// Close reasons reported by the gateway. A terminal reason means retrying
// cannot succeed (the registration target itself refused the link).
const (
	ReasonAuthRejected      = "auth_rejected"
	ReasonAlreadyRegistered = "already_registered"
)

// ErrConnClosed is returned by operations on a connection that has closed.
var ErrConnClosed = errors.New("gateway connection closed")

// EventKind discriminates gateway connection events.
type EventKind int

const (
	// EventCredential signals the connection is unregistered and a scan
	// token is available. The code flow reacts by requesting a pairing
	// code; the QR flow delivers the token directly.
	EventCredential EventKind = iota
	// EventOpened signals the device linkage was confirmed.
	EventOpened
	// EventClosed signals the connection closed, with a reason and a
	// terminal flag.
	EventClosed
)

// Event is one asynchronous gateway connection event.
type Event struct {
	Kind     EventKind
	Token    string // scan token (EventCredential)
	Reason   string // close reason (EventClosed)
	Terminal bool   // retrying cannot succeed (EventClosed)
}

// Conn is a live gateway connection, owned exclusively by one session.
//
// Events are delivered strictly in arrival order on a single channel; the
// channel is closed when the connection ends.
type Conn interface {
	// Events returns the connection event stream.
	Events() <-chan Event

	// RequestCredential asks the gateway for a pairing code for target.
	RequestCredential(ctx context.Context, target string) (string, error)

	// Send delivers a message payload to target through the gateway.
	Send(ctx context.Context, target, payload string) error

	// Close releases the connection. Safe to call more than once.
	Close() error
}

// Client opens gateway connections. storage is the session's ephemeral
// storage location; the gateway persists its credential/key material there
// in its own format and reuses it on subsequent opens. Callers never parse
// the contents, they only delete the location on cleanup.
type Client interface {
	Open(ctx context.Context, storage string) (Conn, error)
}
