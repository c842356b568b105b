// Package pairing implements the pairing session lifecycle: the state
// machine that requests a registration credential from the gateway, reacts
// to asynchronous connection events, enforces bounded retries and
// deadlines, and guarantees exactly-once delivery of the outcome plus
// deterministic cleanup of ephemeral state.
package pairing

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"github.com/linklocal/pairgate/internal/domain"
	"github.com/linklocal/pairgate/internal/gateway"
	"github.com/linklocal/pairgate/internal/store"
)

// linkedNotice is the confirmation message sent to the registration target
// once the device linkage is confirmed.
const linkedNotice = "Your device has been linked successfully."

// completedBuffer bounds the completion signal queue consumed by the
// process supervisor in single-session deployments.
const completedBuffer = 8

// stepResult is the verdict of consuming one connection's event stream.
type stepResult int

const (
	stepDone stepResult = iota
	stepRetry
	stepFailed
	stepAborted
)

// Orchestrator drives pairing sessions through the lifecycle state machine.
// Each session runs as an independent workflow goroutine; sessions share no
// mutable state except the registry.
type Orchestrator struct {
	registry    *store.Registry
	gw          gateway.Client
	deadlines   *DeadlineSupervisor
	cleaner     *Cleaner
	storageRoot string

	relay        *Relay
	fallbackFlow domain.Flow
	fallbackSet  bool

	completed chan string
}

// NewOrchestrator creates an orchestrator and wires itself as the
// supervisor's timeout transition.
func NewOrchestrator(registry *store.Registry, gw gateway.Client, deadlines *DeadlineSupervisor, cleaner *Cleaner, storageRoot string) *Orchestrator {
	o := &Orchestrator{
		registry:    registry,
		gw:          gw,
		deadlines:   deadlines,
		cleaner:     cleaner,
		storageRoot: storageRoot,
		completed:   make(chan string, completedBuffer),
	}
	deadlines.setExpireFunc(o.expire)
	return o
}

// SetRelay enables the credential relay step after linkage.
func (o *Orchestrator) SetRelay(relay *Relay) {
	o.relay = relay
}

// SetFallbackFlow installs the QR flow variant used by the
// ExhaustQRFallback policy.
func (o *Orchestrator) SetFallbackFlow(flow domain.Flow) {
	o.fallbackFlow = flow
	o.fallbackSet = true
}

// Completed signals finished session IDs, after cleanup and after the
// outcome was delivered. A single-session deployment uses this to decide
// process lifetime; the state machine itself never terminates the host.
func (o *Orchestrator) Completed() <-chan string {
	return o.completed
}

// Begin creates a session, arms its deadline and starts the workflow
// goroutine. The returned session's Outcome channel delivers the one-shot
// result. The workflow is detached from the caller's context lifetime.
func (o *Orchestrator) Begin(ctx context.Context, target string, flow domain.Flow) (*domain.Session, error) {
	sess := domain.NewSession(uuid.NewString(), target, flow)
	sess.Deadline = time.Now().Add(flow.Deadline)

	if err := o.registry.Register(sess); err != nil {
		return nil, fmt.Errorf("register session: %w", err)
	}

	runCtx, cancel := context.WithCancelCause(context.WithoutCancel(ctx))
	sess.SetCancel(cancel)
	o.deadlines.Arm(sess.ID, flow.Deadline)

	slog.Info("Pairing session started",
		"session_id", sess.ID,
		"flow", flow.Kind.String(),
		"deadline", flow.Deadline,
	)

	go o.run(runCtx, sess)
	return sess, nil
}

// run is the bounded per-session workflow loop: open a connection, consume
// its events in arrival order, and either finish or back off and retry with
// an explicit attempt counter.
func (o *Orchestrator) run(ctx context.Context, sess *domain.Session) {
	defer o.finish(sess)

	fellBack := false
	for {
		flow := sess.Flow()
		sess.SetPhase(domain.PhaseInitiating)

		if err := o.ensureStorage(sess); err != nil {
			o.fail(sess, err)
			return
		}

		conn, err := o.gw.Open(ctx, sess.WorkingStorage())
		if err != nil {
			if ctx.Err() != nil {
				o.abort(sess, context.Cause(ctx))
				return
			}
			o.fail(sess, fmt.Errorf("%w: %v", ErrGatewayUnavailable, err))
			return
		}
		sess.ReplaceConn(conn)
		sess.SetPhase(domain.PhaseAwaitingCredential)

		result, resultErr := o.consume(ctx, sess, conn, flow)
		switch result {
		case stepDone:
			return
		case stepFailed:
			o.fail(sess, resultErr)
			return
		case stepAborted:
			o.abort(sess, resultErr)
			return
		case stepRetry:
		}

		sess.SetPhase(domain.PhaseClosedRetry)
		if closer := sess.TakeConn(); closer != nil {
			_ = closer.Close()
		}

		attempt := sess.IncrementAttempt()
		slog.Info("Gateway connection closed, backing off",
			"session_id", sess.ID,
			"attempt", attempt,
			"backoff", flow.Backoff,
		)

		select {
		case <-time.After(flow.Backoff):
		case <-ctx.Done():
			o.abort(sess, context.Cause(ctx))
			return
		}

		if attempt >= flow.MaxAttempts {
			if flow.ExhaustPolicy == domain.ExhaustQRFallback && flow.Kind == domain.KindCode && o.fallbackSet && !fellBack {
				fellBack = true
				sess.SwitchFlow(o.fallbackFlow)
				slog.Info("Retry ceiling reached, falling back to QR flow", "session_id", sess.ID)
				continue
			}
			o.fail(sess, ErrRetryExhausted)
			return
		}
	}
}

// consume processes one connection's event stream strictly in arrival
// order until the session finishes, the connection closes, or the workflow
// context is canceled.
func (o *Orchestrator) consume(ctx context.Context, sess *domain.Session, conn gateway.Conn, flow domain.Flow) (stepResult, error) {
	for {
		select {
		case <-ctx.Done():
			return stepAborted, context.Cause(ctx)
		case ev, ok := <-conn.Events():
			if !ok {
				// Stream ended without an explicit close reason.
				return stepRetry, nil
			}

			switch ev.Kind {
			case gateway.EventCredential:
				if err := o.issueCredential(ctx, sess, conn, ev.Token, flow); err != nil {
					if ctx.Err() != nil {
						return stepAborted, context.Cause(ctx)
					}
					return stepFailed, err
				}
			case gateway.EventOpened:
				o.completeLink(ctx, sess, conn)
				return stepDone, nil
			case gateway.EventClosed:
				if ev.Terminal {
					return stepFailed, terminalCloseError(ev.Reason)
				}
				slog.Info("Gateway reported non-terminal close", "session_id", sess.ID, "reason", ev.Reason)
				return stepRetry, nil
			}
		}
	}
}

// issueCredential delivers the pairing credential to the caller once. For
// the code flow it first asks the gateway for a pairing code; for the QR
// flow the scan token from the event is the credential. A credential event
// arriving after the outcome was delivered is a no-op.
func (o *Orchestrator) issueCredential(ctx context.Context, sess *domain.Session, conn gateway.Conn, token string, flow domain.Flow) error {
	if sess.Responded() {
		return nil
	}

	switch flow.Kind {
	case domain.KindQR:
		sess.SetPhase(domain.PhaseCredentialIssued)
		if sess.Respond(domain.Outcome{SessionID: sess.ID, QRToken: token}) {
			slog.Info("Scan token issued", "session_id", sess.ID)
		}
	case domain.KindCode:
		code, err := conn.RequestCredential(ctx, sess.RegistrationTarget)
		if err != nil {
			return fmt.Errorf("%w: %v", ErrGatewayUnavailable, err)
		}
		sess.SetPhase(domain.PhaseCredentialIssued)
		if sess.Respond(domain.Outcome{SessionID: sess.ID, Code: code}) {
			slog.Info("Pairing code issued", "session_id", sess.ID, "target", sess.RegistrationTarget)
		}
	}
	return nil
}

// completeLink runs the post-connection protocol: cancel the deadline,
// optionally relay the credential material, confirm the linkage to the
// registration target, and hand the session over for cleanup.
func (o *Orchestrator) completeLink(ctx context.Context, sess *domain.Session, conn gateway.Conn) {
	sess.SetPhase(domain.PhaseConnecting)
	o.deadlines.Cancel(sess.ID)

	if o.relay != nil {
		if err := o.relay.Deliver(ctx, sess, conn); err != nil {
			slog.Warn("Credential relay failed", "session_id", sess.ID, "error", err)
		}
	}

	if sess.RegistrationTarget != "" {
		if err := conn.Send(ctx, sess.RegistrationTarget, linkedNotice); err != nil {
			slog.Warn("Failed to send linkage confirmation", "session_id", sess.ID, "error", err)
		}
	}

	sess.SetPhase(domain.PhaseConnected)
	if sess.Respond(domain.Outcome{SessionID: sess.ID, Connected: true}) {
		slog.Info("Device linked before credential delivery", "session_id", sess.ID)
	}
	slog.Info("Device linkage confirmed", "session_id", sess.ID, "attempts", sess.AttemptCount())
}

// fail moves the session to ClosedTerminal and delivers the error outcome
// unless one was already delivered.
func (o *Orchestrator) fail(sess *domain.Session, err error) {
	sess.SetPhase(domain.PhaseClosedTerminal)
	if sess.Respond(domain.Outcome{SessionID: sess.ID, Err: err}) {
		slog.Info("Pairing session failed", "session_id", sess.ID, "error", err)
		return
	}
	slog.Debug("Suppressing failure after outcome delivery", "session_id", sess.ID, "error", err)
}

// abort handles workflow cancellation: deadline expiry becomes a timeout
// outcome, anything else (shutdown) is surfaced as-is.
func (o *Orchestrator) abort(sess *domain.Session, cause error) {
	if errors.Is(cause, ErrPairingTimeout) {
		sess.SetPhase(domain.PhaseTimedOut)
		if sess.Respond(domain.Outcome{SessionID: sess.ID, Err: ErrPairingTimeout}) {
			slog.Info("Pairing session timed out", "session_id", sess.ID)
		}
		return
	}
	if cause == nil {
		cause = context.Canceled
	}
	o.fail(sess, cause)
}

// finish cancels the deadline, releases all session resources and emits the
// completion signal. Runs on every workflow exit path.
func (o *Orchestrator) finish(sess *domain.Session) {
	o.deadlines.Cancel(sess.ID)
	o.cleaner.Cleanup(sess.ID)

	select {
	case o.completed <- sess.ID:
	default:
	}
}

// expire is the supervisor's timeout transition: cancel the workflow with
// the timeout cause, which also aborts any in-flight retry backoff.
func (o *Orchestrator) expire(sess *domain.Session) {
	sess.CancelWith(ErrPairingTimeout)
}

// ensureStorage allocates the session's working storage on the first
// attempt; retries reuse the same location.
func (o *Orchestrator) ensureStorage(sess *domain.Session) error {
	if sess.WorkingStorage() != "" {
		return nil
	}
	dir := filepath.Join(o.storageRoot, sess.ID)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return fmt.Errorf("allocate working storage: %w", err)
	}
	sess.SetWorkingStorage(dir)
	return nil
}

func terminalCloseError(reason string) error {
	if reason == gateway.ReasonAlreadyRegistered {
		return ErrAlreadyRegistered
	}
	return fmt.Errorf("%w: %s", ErrLinkRejected, reason)
}
