package pairing

import (
	"log/slog"
	"os"

	"github.com/linklocal/pairgate/internal/store"
)

// Cleaner releases a session's ephemeral resources: the working storage
// directory, the gateway connection handle if still held, and the registry
// entry. Cleanup is best-effort and idempotent; failures are logged, never
// propagated to callers.
type Cleaner struct {
	registry *store.Registry
}

// NewCleaner creates a cleaner over the given registry.
func NewCleaner(registry *store.Registry) *Cleaner {
	return &Cleaner{registry: registry}
}

// Cleanup releases everything the session owns. Safe to invoke multiple
// times for the same id.
func (c *Cleaner) Cleanup(id string) {
	sess, err := c.registry.Lookup(id)
	if err != nil {
		slog.Debug("Session already cleaned up", "session_id", id)
		return
	}

	if conn := sess.TakeConn(); conn != nil {
		if err := conn.Close(); err != nil {
			slog.Warn("Failed to release gateway connection", "session_id", id, "error", err)
		}
	}

	if dir := sess.WorkingStorage(); dir != "" {
		if err := os.RemoveAll(dir); err != nil {
			slog.Warn("Failed to delete working storage", "session_id", id, "dir", dir, "error", err)
		}
	}

	if err := c.registry.Remove(id); err != nil {
		slog.Debug("Session removed concurrently", "session_id", id)
	}

	slog.Info("Session cleaned up", "session_id", id, "phase", sess.Phase())
}
