package pairing

import (
	"log/slog"
	"sync"
	"time"

	"github.com/linklocal/pairgate/internal/domain"
	"github.com/linklocal/pairgate/internal/store"
)

// DeadlineSupervisor arms one expiry timer per session and races it against
// the pairing workflow. Any transition reaching Connected or a terminal
// phase must cancel the timer so a stale expiry never fires against a
// reused or already-cleaned-up identifier.
type DeadlineSupervisor struct {
	registry *store.Registry

	mu     sync.Mutex
	timers map[string]*time.Timer
	expire func(*domain.Session)
}

// NewDeadlineSupervisor creates a supervisor over the given registry.
func NewDeadlineSupervisor(registry *store.Registry) *DeadlineSupervisor {
	return &DeadlineSupervisor{
		registry: registry,
		timers:   make(map[string]*time.Timer),
	}
}

// setExpireFunc installs the timeout transition invoked on expiry. Wired by
// the orchestrator at construction.
func (d *DeadlineSupervisor) setExpireFunc(fn func(*domain.Session)) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.expire = fn
}

// Arm starts (or restarts) the expiry timer for a session.
func (d *DeadlineSupervisor) Arm(id string, duration time.Duration) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if prev, ok := d.timers[id]; ok {
		prev.Stop()
	}
	d.timers[id] = time.AfterFunc(duration, func() { d.fire(id) })
}

// Cancel stops the expiry timer for a session. Safe to call when no timer
// is armed.
func (d *DeadlineSupervisor) Cancel(id string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if timer, ok := d.timers[id]; ok {
		timer.Stop()
		delete(d.timers, id)
	}
}

func (d *DeadlineSupervisor) fire(id string) {
	d.mu.Lock()
	delete(d.timers, id)
	expire := d.expire
	d.mu.Unlock()

	sess, err := d.registry.Lookup(id)
	if err != nil {
		// Session already completed and cleaned up.
		return
	}
	if phase := sess.Phase(); phase == domain.PhaseConnected || phase.Terminal() {
		return
	}

	slog.Info("Pairing deadline expired", "session_id", id, "phase", sess.Phase())
	if expire != nil {
		expire(sess)
	}
}

// armed reports whether a timer is currently armed for id. Test hook.
func (d *DeadlineSupervisor) armed(id string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	_, ok := d.timers[id]
	return ok
}
