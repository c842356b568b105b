package pairing

import "errors"

// Caller-visible pairing failures. Every one of these passes through the
// session's one-shot responded gate; cleanup failures are logged and never
// surfaced.
var (
	// ErrInvalidTarget rejects a missing or malformed registration target
	// before any session is created.
	ErrInvalidTarget = errors.New("invalid registration target")

	// ErrGatewayUnavailable covers failed connection opens and failed
	// credential requests.
	ErrGatewayUnavailable = errors.New("gateway unavailable")

	// ErrPairingTimeout is delivered when the deadline expires before the
	// device linkage is confirmed.
	ErrPairingTimeout = errors.New("pairing deadline exceeded")

	// ErrAlreadyRegistered is delivered when the gateway reports the target
	// is already linked. Never retried.
	ErrAlreadyRegistered = errors.New("target already registered")

	// ErrLinkRejected is delivered on any other terminal close reason
	// (authentication rejected). Never retried.
	ErrLinkRejected = errors.New("pairing rejected by gateway")

	// ErrRetryExhausted is delivered when non-terminal closes exceed the
	// retry ceiling.
	ErrRetryExhausted = errors.New("reconnect attempts exhausted")
)
