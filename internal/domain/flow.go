package domain

import "time"

// CredentialKind selects how the registering device receives its credential.
type CredentialKind int

const (
	// KindCode delivers an 8-character pairing code typed on the device.
	KindCode CredentialKind = iota
	// KindQR delivers a scan token rendered as a QR image.
	KindQR
)

// String returns the kind name for logging.
func (k CredentialKind) String() string {
	if k == KindQR {
		return "qr"
	}
	return "code"
}

// ExhaustPolicy decides what happens when the retry ceiling is reached.
type ExhaustPolicy int

const (
	// ExhaustError surfaces a retry-exhausted failure to the caller.
	ExhaustError ExhaustPolicy = iota
	// ExhaustQRFallback switches a code-flow session to the QR flow once,
	// with a fresh attempt budget, instead of failing.
	ExhaustQRFallback
)

// Flow is the configuration value object driving one pairing session:
// credential kind, deadline, retry ceiling, backoff interval and the
// exhaust policy. The code and QR flows share the orchestrator and differ
// only in this value.
type Flow struct {
	Kind          CredentialKind
	Deadline      time.Duration
	MaxAttempts   int
	Backoff       time.Duration
	ExhaustPolicy ExhaustPolicy
}

// Outcome is the single payload delivered to the original caller per
// session: a pairing code, a scan token, a connection confirmation, or an
// error. Exactly one of these is populated.
type Outcome struct {
	SessionID string
	Code      string // pairing code (code flow)
	QRToken   string // scan token (QR flow)
	Connected bool   // linkage confirmed without a prior credential
	Err       error
}
