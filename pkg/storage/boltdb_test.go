package storage

import (
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/burrowctl/burrow/pkg/errdefs"
	"github.com/burrowctl/burrow/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) *BoltStore {
	t.Helper()
	s, err := NewBoltStore(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func testWorker(hostname, addr string) *types.Worker {
	now := time.Now().UTC()
	return &types.Worker{
		ID:           hostname,
		Hostname:     hostname,
		VPNAddress:   addr,
		Platform:     types.PlatformLinux,
		Role:         types.NodeRoleWorker,
		Status:       types.NodeStatusOnline,
		RegisteredAt: now,
		LastSeen:     now,
	}
}

func TestInsertWorkerHostnameUnique(t *testing.T) {
	s := newTestStore(t)

	require.NoError(t, s.InsertWorker(testWorker("worker-a", "100.64.0.5")))

	err := s.InsertWorker(testWorker("worker-a", "100.64.0.6"))
	assert.True(t, errors.Is(err, errdefs.ErrAlreadyRegistered))

	workers, err := s.ListWorkers(WorkerFilter{})
	require.NoError(t, err)
	assert.Len(t, workers, 1)
}

func TestWorkerSecretsSurvivePersistence(t *testing.T) {
	s := newTestStore(t)

	w := testWorker("worker-a", "100.64.0.5")
	w.EncryptedSecret = []byte("sealed-bytes")
	w.SecretHash = "deadbeef"
	require.NoError(t, s.InsertWorker(w))

	got, err := s.GetWorker("worker-a")
	require.NoError(t, err)
	assert.Equal(t, []byte("sealed-bytes"), got.EncryptedSecret)
	assert.Equal(t, "deadbeef", got.SecretHash)

	// Mutations through UpdateWorker keep the secret material intact.
	updated, err := s.UpdateWorker("worker-a", func(w *types.Worker) error {
		w.Status = types.NodeStatusOffline
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, []byte("sealed-bytes"), updated.EncryptedSecret)
	assert.Equal(t, "deadbeef", updated.SecretHash)

	workers, err := s.ListWorkers(WorkerFilter{})
	require.NoError(t, err)
	require.Len(t, workers, 1)
	assert.Equal(t, "deadbeef", workers[0].SecretHash)

	// The wire encoding still hides both fields.
	wire, err := json.Marshal(got)
	require.NoError(t, err)
	assert.NotContains(t, string(wire), "sealed-bytes")
	assert.NotContains(t, string(wire), "deadbeef")
}

func TestUpdateWorker(t *testing.T) {
	s := newTestStore(t)
	require.NoError(t, s.InsertWorker(testWorker("worker-a", "100.64.0.5")))

	updated, err := s.UpdateWorker("worker-a", func(w *types.Worker) error {
		w.Status = types.NodeStatusOffline
		w.AgentVersion = "0.2.0"
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, types.NodeStatusOffline, updated.Status)

	got, err := s.GetWorker("worker-a")
	require.NoError(t, err)
	assert.Equal(t, "0.2.0", got.AgentVersion)

	_, err = s.UpdateWorker("absent", func(w *types.Worker) error { return nil })
	assert.True(t, errors.Is(err, errdefs.ErrNotFound))
}

func TestUpsertLeaderSingleLeaderInvariant(t *testing.T) {
	s := newTestStore(t)

	old := testWorker("old-leader", "100.64.0.1")
	old.Role = types.NodeRoleLeader
	require.NoError(t, s.InsertWorker(old))
	require.NoError(t, s.InsertWorker(testWorker("worker-a", "100.64.0.5")))

	leader, err := s.UpsertLeader("new-leader", "100.64.0.2")
	require.NoError(t, err)
	assert.Equal(t, types.NodeRoleLeader, leader.Role)

	leaders, err := s.ListWorkers(WorkerFilter{Role: types.NodeRoleLeader})
	require.NoError(t, err)
	require.Len(t, leaders, 1)
	assert.Equal(t, "new-leader", leaders[0].Hostname)

	// The plain worker survives the sweep.
	_, err = s.GetWorker("worker-a")
	assert.NoError(t, err)
}

func TestListWorkersFilter(t *testing.T) {
	s := newTestStore(t)

	online := testWorker("worker-a", "100.64.0.5")
	offline := testWorker("worker-b", "100.64.0.6")
	offline.Status = types.NodeStatusOffline
	require.NoError(t, s.InsertWorker(online))
	require.NoError(t, s.InsertWorker(offline))

	got, err := s.ListWorkers(WorkerFilter{Status: types.NodeStatusOnline})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "worker-a", got[0].Hostname)
}

func TestGetWorkerByVPNAddress(t *testing.T) {
	s := newTestStore(t)
	require.NoError(t, s.InsertWorker(testWorker("worker-a", "100.64.0.5")))

	got, err := s.GetWorkerByVPNAddress("100.64.0.5")
	require.NoError(t, err)
	assert.Equal(t, "worker-a", got.Hostname)

	_, err = s.GetWorkerByVPNAddress("100.64.0.99")
	assert.True(t, errors.Is(err, errdefs.ErrNotFound))
}

func TestDeleteWorker(t *testing.T) {
	s := newTestStore(t)
	require.NoError(t, s.InsertWorker(testWorker("worker-a", "100.64.0.5")))

	existed, err := s.DeleteWorker("worker-a")
	require.NoError(t, err)
	assert.True(t, existed)

	existed, err = s.DeleteWorker("worker-a")
	require.NoError(t, err)
	assert.False(t, existed)
}

func testToken(tok string, maxUses int, ttl time.Duration) *types.JoinToken {
	now := time.Now().UTC()
	return &types.JoinToken{
		Token:     tok,
		CreatedAt: now,
		ExpiresAt: now.Add(ttl),
		Role:      types.NodeRoleWorker,
		MaxUses:   maxUses,
		Uses:      0,
		IsActive:  true,
	}
}

func TestConsumeTokenLifecycle(t *testing.T) {
	s := newTestStore(t)
	require.NoError(t, s.CreateToken(testToken("tok-1", 2, time.Hour)))
	now := time.Now().UTC()

	_, err := s.ConsumeToken("tok-1", now)
	require.NoError(t, err)
	_, err = s.ConsumeToken("tok-1", now)
	require.NoError(t, err)

	_, err = s.ConsumeToken("tok-1", now)
	assert.True(t, errors.Is(err, errdefs.ErrTokenExhausted))
}

func TestConsumeTokenExpired(t *testing.T) {
	s := newTestStore(t)
	require.NoError(t, s.CreateToken(testToken("tok-exp", 1, -time.Minute)))

	_, err := s.ConsumeToken("tok-exp", time.Now().UTC())
	assert.True(t, errors.Is(err, errdefs.ErrTokenExpired))
}

func TestConsumeTokenRevoked(t *testing.T) {
	s := newTestStore(t)
	require.NoError(t, s.CreateToken(testToken("tok-rev", 1, time.Hour)))
	require.NoError(t, s.RevokeToken("tok-rev"))

	_, err := s.ConsumeToken("tok-rev", time.Now().UTC())
	assert.True(t, errors.Is(err, errdefs.ErrTokenInvalid))
}

func TestConsumeTokenUnknown(t *testing.T) {
	s := newTestStore(t)
	_, err := s.ConsumeToken("nope", time.Now().UTC())
	assert.True(t, errors.Is(err, errdefs.ErrTokenInvalid))
}

// A single-use token redeemed by many concurrent callers must succeed
// exactly once.
func TestConsumeTokenSingleUseConcurrent(t *testing.T) {
	s := newTestStore(t)
	require.NoError(t, s.CreateToken(testToken("tok-single", 1, time.Hour)))
	now := time.Now().UTC()

	const n = 64
	var wg sync.WaitGroup
	results := make(chan error, n)

	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := s.ConsumeToken("tok-single", now)
			results <- err
		}()
	}
	wg.Wait()
	close(results)

	succeeded, exhausted := 0, 0
	for err := range results {
		switch {
		case err == nil:
			succeeded++
		case errors.Is(err, errdefs.ErrTokenExhausted):
			exhausted++
		default:
			t.Fatalf("unexpected error: %v", err)
		}
	}
	assert.Equal(t, 1, succeeded)
	assert.Equal(t, n-1, exhausted)
}

func testService(id string) *types.ServiceDefinition {
	now := time.Now().UTC()
	return &types.ServiceDefinition{
		ServiceID: id,
		Name:      id,
		Image:     "nginx:latest",
		Ports:     map[string]int{"80/tcp": 8080},
		CreatedAt: now,
		UpdatedAt: now,
	}
}

func TestServiceCatalogCRUD(t *testing.T) {
	s := newTestStore(t)

	require.NoError(t, s.CreateService(testService("svc-1")))
	assert.True(t, errors.Is(s.CreateService(testService("svc-1")), errdefs.ErrConflict))

	svc, err := s.GetService("svc-1")
	require.NoError(t, err)
	svc.Description = "web frontend"
	require.NoError(t, s.UpdateService(svc))

	got, err := s.GetService("svc-1")
	require.NoError(t, err)
	assert.Equal(t, "web frontend", got.Description)

	require.NoError(t, s.DeleteService("svc-1"))
	_, err = s.GetService("svc-1")
	assert.True(t, errors.Is(err, errdefs.ErrNotFound))
}

func testDeployment(id, serviceID, hostname string, status types.DeploymentStatus) *types.Deployment {
	return &types.Deployment{
		ID:             id,
		ServiceID:      serviceID,
		WorkerHostname: hostname,
		Status:         status,
		ContainerName:  serviceID + "-" + id,
		CreatedAt:      time.Now().UTC(),
	}
}

func TestDeploymentSlotUniqueness(t *testing.T) {
	s := newTestStore(t)

	first := testDeployment("dep-1", "svc-1", "worker-a", types.DeploymentDeploying)
	require.NoError(t, s.PutDeployment(first))

	// A second live deployment for the same slot is rejected.
	second := testDeployment("dep-2", "svc-1", "worker-a", types.DeploymentDeploying)
	assert.True(t, errors.Is(s.PutDeployment(second), errdefs.ErrConflict))

	// Same service on a different worker is fine.
	other := testDeployment("dep-3", "svc-1", "worker-b", types.DeploymentRunning)
	require.NoError(t, s.PutDeployment(other))

	// The owner may transition freely while holding the slot.
	first.Status = types.DeploymentRunning
	require.NoError(t, s.PutDeployment(first))

	got, err := s.GetDeploymentBySlot("svc-1", "worker-a")
	require.NoError(t, err)
	assert.Equal(t, "dep-1", got.ID)
}

func TestDeploymentSlotRetainedThroughTerminalStatus(t *testing.T) {
	s := newTestStore(t)

	d := testDeployment("dep-1", "svc-1", "worker-a", types.DeploymentRunning)
	require.NoError(t, s.PutDeployment(d))

	d.Status = types.DeploymentFailed
	d.RetryCount = 1
	require.NoError(t, s.PutDeployment(d))

	// The dead occupant still owns the slot so a replacement can find
	// it and carry its retry count.
	got, err := s.GetDeploymentBySlot("svc-1", "worker-a")
	require.NoError(t, err)
	assert.Equal(t, "dep-1", got.ID)
	assert.Equal(t, 1, got.RetryCount)

	// A second row for the same (service, worker) pair is rejected
	// until the occupant is deleted.
	replacement := testDeployment("dep-2", "svc-1", "worker-a", types.DeploymentDeploying)
	assert.True(t, errors.Is(s.PutDeployment(replacement), errdefs.ErrConflict))

	require.NoError(t, s.DeleteDeployment("dep-1"))
	require.NoError(t, s.PutDeployment(replacement))
}

func TestDeleteDeploymentReleasesSlot(t *testing.T) {
	s := newTestStore(t)

	d := testDeployment("dep-1", "svc-1", "worker-a", types.DeploymentRunning)
	require.NoError(t, s.PutDeployment(d))
	require.NoError(t, s.DeleteDeployment("dep-1"))

	_, err := s.GetDeployment("dep-1")
	assert.True(t, errors.Is(err, errdefs.ErrNotFound))

	replacement := testDeployment("dep-2", "svc-1", "worker-a", types.DeploymentDeploying)
	require.NoError(t, s.PutDeployment(replacement))
}

func TestListDeploymentsFilters(t *testing.T) {
	s := newTestStore(t)

	require.NoError(t, s.PutDeployment(testDeployment("dep-1", "svc-1", "worker-a", types.DeploymentRunning)))
	require.NoError(t, s.PutDeployment(testDeployment("dep-2", "svc-2", "worker-a", types.DeploymentRunning)))
	require.NoError(t, s.PutDeployment(testDeployment("dep-3", "svc-1", "worker-b", types.DeploymentStopped)))

	all, err := s.ListDeployments()
	require.NoError(t, err)
	assert.Len(t, all, 3)

	byService, err := s.ListDeploymentsByService("svc-1")
	require.NoError(t, err)
	assert.Len(t, byService, 2)

	byWorker, err := s.ListDeploymentsByWorker("worker-a")
	require.NoError(t, err)
	assert.Len(t, byWorker, 2)
}
