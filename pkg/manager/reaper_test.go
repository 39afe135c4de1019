package manager

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/burrowctl/burrow/pkg/storage"
	"github.com/burrowctl/burrow/pkg/types"
)

func seedWorker(t *testing.T, store storage.Store, hostname, addr string, role types.NodeRole, status types.NodeStatus, lastSeen time.Time) {
	t.Helper()
	err := store.InsertWorker(&types.Worker{
		ID:           hostname + "-id",
		Hostname:     hostname,
		VPNAddress:   addr,
		Platform:     types.PlatformLinux,
		Role:         role,
		Status:       status,
		RegisteredAt: lastSeen,
		LastSeen:     lastSeen,
	})
	require.NoError(t, err)
}

func TestSweepDemotesStaleWorkers(t *testing.T) {
	m, store, _ := newTestManager(t, nil)
	reaper := NewStaleReaper(store, m.broker, 0, 60*time.Second)

	now := time.Now()
	seedWorker(t, store, "fresh-1", "100.64.9.1", types.NodeRoleWorker, types.NodeStatusOnline, now.Add(-10*time.Second))
	seedWorker(t, store, "stale-1", "100.64.9.2", types.NodeRoleWorker, types.NodeStatusOnline, now.Add(-5*time.Minute))
	seedWorker(t, store, "gone-1", "100.64.9.3", types.NodeRoleWorker, types.NodeStatusOffline, now.Add(-time.Hour))

	reaper.Sweep(now)

	fresh, err := store.GetWorker("fresh-1")
	require.NoError(t, err)
	assert.Equal(t, types.NodeStatusOnline, fresh.Status)

	stale, err := store.GetWorker("stale-1")
	require.NoError(t, err)
	assert.Equal(t, types.NodeStatusOffline, stale.Status)

	// Demotion never deletes; the record stays for later recovery.
	_, err = store.GetWorker("gone-1")
	assert.NoError(t, err)
}

func TestSweepSkipsLeader(t *testing.T) {
	m, store, _ := newTestManager(t, nil)
	require.NoError(t, m.Startup(context.Background()))
	reaper := NewStaleReaper(store, m.broker, 0, 60*time.Second)

	// A leader that has not "heartbeated" in hours is still never demoted.
	reaper.Sweep(time.Now().Add(6 * time.Hour))

	leader, err := store.GetWorker("leader-1")
	require.NoError(t, err)
	assert.Equal(t, types.NodeStatusOnline, leader.Status)
}

func TestSweepThenHeartbeatRecovers(t *testing.T) {
	m, store, _ := newTestManager(t, nil)
	reaper := NewStaleReaper(store, m.broker, 0, 60*time.Second)

	now := time.Now()
	seedWorker(t, store, "pi-1", "100.64.9.4", types.NodeRoleWorker, types.NodeStatusOnline, now.Add(-2*time.Minute))
	reaper.Sweep(now)

	worker, err := store.GetWorker("pi-1")
	require.NoError(t, err)
	require.Equal(t, types.NodeStatusOffline, worker.Status)

	known, err := m.ProcessHeartbeat(&types.HeartbeatPayload{Hostname: "pi-1"})
	require.NoError(t, err)
	assert.True(t, known)

	worker, err = store.GetWorker("pi-1")
	require.NoError(t, err)
	assert.Equal(t, types.NodeStatusOnline, worker.Status)

	// The next sweep sees a fresh heartbeat and leaves the worker alone.
	reaper.Sweep(time.Now())
	worker, err = store.GetWorker("pi-1")
	require.NoError(t, err)
	assert.Equal(t, types.NodeStatusOnline, worker.Status)
}

func TestReaperDefaults(t *testing.T) {
	_, store, _ := newTestManager(t, nil)
	reaper := NewStaleReaper(store, nil, 0, 0)
	assert.Equal(t, DefaultReapInterval, reaper.interval)
	assert.Equal(t, DefaultStaleThreshold, reaper.threshold)
}
