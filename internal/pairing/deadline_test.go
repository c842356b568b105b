package pairing

import (
	"sync/atomic"
	"testing"
	"time"

	"github.com/linklocal/pairgate/internal/domain"
	"github.com/linklocal/pairgate/internal/store"
	"github.com/stretchr/testify/require"
)

func TestDeadlineSupervisor_ArmFires(t *testing.T) {
	registry := store.NewRegistry()
	d := NewDeadlineSupervisor(registry)

	var fired atomic.Int32
	d.setExpireFunc(func(*domain.Session) { fired.Add(1) })

	sess := domain.NewSession("sess-1", "", domain.Flow{})
	require.NoError(t, registry.Register(sess))

	d.Arm(sess.ID, 10*time.Millisecond)

	require.Eventually(t, func() bool { return fired.Load() == 1 }, time.Second, 5*time.Millisecond)
	require.False(t, d.armed(sess.ID))
}

func TestDeadlineSupervisor_CancelPreventsFire(t *testing.T) {
	registry := store.NewRegistry()
	d := NewDeadlineSupervisor(registry)

	var fired atomic.Int32
	d.setExpireFunc(func(*domain.Session) { fired.Add(1) })

	sess := domain.NewSession("sess-1", "", domain.Flow{})
	require.NoError(t, registry.Register(sess))

	d.Arm(sess.ID, 15*time.Millisecond)
	d.Cancel(sess.ID)

	time.Sleep(40 * time.Millisecond)
	require.Zero(t, fired.Load())
}

func TestDeadlineSupervisor_ExpiredSessionGone(t *testing.T) {
	registry := store.NewRegistry()
	d := NewDeadlineSupervisor(registry)

	var fired atomic.Int32
	d.setExpireFunc(func(*domain.Session) { fired.Add(1) })

	// Session was cleaned up before the timer fired.
	d.Arm("sess-gone", 10*time.Millisecond)

	time.Sleep(40 * time.Millisecond)
	require.Zero(t, fired.Load())
	require.False(t, d.armed("sess-gone"))
}

func TestDeadlineSupervisor_ConnectedSessionNotExpired(t *testing.T) {
	registry := store.NewRegistry()
	d := NewDeadlineSupervisor(registry)

	var fired atomic.Int32
	d.setExpireFunc(func(*domain.Session) { fired.Add(1) })

	sess := domain.NewSession("sess-1", "", domain.Flow{})
	sess.SetPhase(domain.PhaseConnected)
	require.NoError(t, registry.Register(sess))

	d.Arm(sess.ID, 10*time.Millisecond)

	time.Sleep(40 * time.Millisecond)
	require.Zero(t, fired.Load())
}

func TestDeadlineSupervisor_RearmReplacesTimer(t *testing.T) {
	registry := store.NewRegistry()
	d := NewDeadlineSupervisor(registry)

	var fired atomic.Int32
	d.setExpireFunc(func(*domain.Session) { fired.Add(1) })

	sess := domain.NewSession("sess-1", "", domain.Flow{})
	require.NoError(t, registry.Register(sess))

	d.Arm(sess.ID, 10*time.Millisecond)
	d.Arm(sess.ID, 10*time.Millisecond)

	require.Eventually(t, func() bool { return fired.Load() > 0 }, time.Second, 5*time.Millisecond)
	time.Sleep(30 * time.Millisecond)
	require.Equal(t, int32(1), fired.Load())
}
