package deploy

import (
	"context"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/burrowctl/burrow/pkg/client"
	"github.com/burrowctl/burrow/pkg/errdefs"
	"github.com/burrowctl/burrow/pkg/events"
	"github.com/burrowctl/burrow/pkg/storage"
	"github.com/burrowctl/burrow/pkg/types"
)

type fakeAgent struct {
	deployReqs   []*types.DeployRequest
	deployResult *types.DeployResult
	deployErr    error
	stopErr      error
	restartErr   error
	removeErr    error
	logsVal      string
	logsErr      error
	removed      []string
}

func (f *fakeAgent) Health(ctx context.Context) (*types.AgentHealth, error) {
	return &types.AgentHealth{Status: "ok"}, nil
}

func (f *fakeAgent) Info(ctx context.Context) (*types.AgentInfo, error) {
	return &types.AgentInfo{}, nil
}

func (f *fakeAgent) Deploy(ctx context.Context, req *types.DeployRequest) (*types.DeployResult, error) {
	f.deployReqs = append(f.deployReqs, req)
	if f.deployErr != nil {
		return nil, f.deployErr
	}
	if f.deployResult != nil {
		return f.deployResult, nil
	}
	return &types.DeployResult{Success: true, ContainerID: "ctr-" + req.ContainerName, ContainerName: req.ContainerName}, nil
}

func (f *fakeAgent) StopContainer(ctx context.Context, req *types.ContainerOpRequest) error {
	return f.stopErr
}

func (f *fakeAgent) RestartContainer(ctx context.Context, req *types.ContainerOpRequest) error {
	return f.restartErr
}

func (f *fakeAgent) RemoveContainer(ctx context.Context, req *types.ContainerOpRequest) error {
	f.removed = append(f.removed, req.ContainerName)
	return f.removeErr
}

func (f *fakeAgent) Logs(ctx context.Context, containerName string, tail int) (string, error) {
	if f.logsErr != nil {
		return "", f.logsErr
	}
	return f.logsVal, nil
}

func (f *fakeAgent) ContainerStatus(ctx context.Context, containerName string) (*types.ContainerStatusInfo, error) {
	return nil, errdefs.NotFound("no container %s", containerName)
}

func (f *fakeAgent) ListContainers(ctx context.Context) ([]types.ContainerStatusInfo, error) {
	return nil, nil
}

func (f *fakeAgent) Upgrade(ctx context.Context, image string) error { return nil }

func (f *fakeAgent) Claim(ctx context.Context, req *types.AgentClaimRequest) error { return nil }

func (f *fakeAgent) Release(ctx context.Context) error { return nil }

type fakeResolver struct {
	workers map[string]*types.Worker
	agents  map[string]*fakeAgent
}

func (r *fakeResolver) AgentFor(hostname string) (client.AgentAPI, *types.Worker, error) {
	worker, ok := r.workers[hostname]
	if !ok {
		return nil, nil, errdefs.NotFound("worker %s not registered", hostname)
	}
	return r.agents[hostname], worker, nil
}

func (r *fakeResolver) addWorker(hostname string, status types.NodeStatus) *fakeAgent {
	agent := &fakeAgent{}
	r.workers[hostname] = &types.Worker{
		Hostname:   hostname,
		VPNAddress: "100.64.0.2",
		Role:       types.NodeRoleWorker,
		Status:     status,
	}
	r.agents[hostname] = agent
	return agent
}

func newTestEngine(t *testing.T) (*Engine, *fakeResolver, storage.Store) {
	t.Helper()
	store, err := storage.NewBoltStore(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	resolver := &fakeResolver{workers: map[string]*types.Worker{}, agents: map[string]*fakeAgent{}}
	engine := NewEngine(store, resolver, events.NewBroker())
	return engine, resolver, store
}

func seedService(t *testing.T, e *Engine, serviceID string) *types.ServiceDefinition {
	t.Helper()
	svc, err := e.CreateService(&types.ServiceDefinition{
		ServiceID: serviceID,
		Image:     "nginx:latest",
		Ports:     map[string]int{"80/tcp": 8080},
		Env:       map[string]string{"MODE": "prod"},
	}, "test")
	require.NoError(t, err)
	return svc
}

func TestDeployRunsService(t *testing.T) {
	engine, resolver, _ := newTestEngine(t)
	agent := resolver.addWorker("worker-a", types.NodeStatusOnline)
	seedService(t, engine, "svc-1")

	d, err := engine.Deploy(context.Background(), "svc-1", "worker-a")
	require.NoError(t, err)
	assert.Equal(t, types.DeploymentRunning, d.Status)
	assert.True(t, strings.HasPrefix(d.ContainerName, "svc-1-"))
	assert.NotEmpty(t, d.ContainerID)
	assert.NotNil(t, d.DeployedAt)

	require.Len(t, agent.deployReqs, 1)
	req := agent.deployReqs[0]
	assert.Equal(t, "nginx:latest", req.Image)
	assert.Equal(t, map[string]int{"80/tcp": 8080}, req.Ports)
	assert.Equal(t, d.ContainerName, req.ContainerName)

	// The record embeds a deploy-time snapshot of the definition.
	require.NotNil(t, d.DeployedConfig)
	assert.Equal(t, "nginx:latest", d.DeployedConfig.Image)
}

func TestDeployPreconditions(t *testing.T) {
	engine, resolver, _ := newTestEngine(t)
	resolver.addWorker("worker-a", types.NodeStatusOnline)
	resolver.addWorker("worker-off", types.NodeStatusOffline)
	seedService(t, engine, "svc-1")

	_, err := engine.Deploy(context.Background(), "ghost-svc", "worker-a")
	assert.ErrorIs(t, err, errdefs.ErrNotFound)

	_, err = engine.Deploy(context.Background(), "svc-1", "ghost-worker")
	assert.ErrorIs(t, err, errdefs.ErrNotFound)

	_, err = engine.Deploy(context.Background(), "svc-1", "worker-off")
	assert.ErrorIs(t, err, errdefs.ErrPreconditionFailed)
}

func TestDeployConflictOnLiveSlot(t *testing.T) {
	engine, resolver, _ := newTestEngine(t)
	resolver.addWorker("worker-a", types.NodeStatusOnline)
	seedService(t, engine, "svc-1")

	_, err := engine.Deploy(context.Background(), "svc-1", "worker-a")
	require.NoError(t, err)

	_, err = engine.Deploy(context.Background(), "svc-1", "worker-a")
	assert.ErrorIs(t, err, errdefs.ErrConflict)
}

func TestDeployReplacesFailedSlot(t *testing.T) {
	engine, resolver, store := newTestEngine(t)
	agent := resolver.addWorker("worker-a", types.NodeStatusOnline)
	seedService(t, engine, "svc-1")

	agent.deployResult = &types.DeployResult{Success: false, Error: "image pull failed"}
	failed, err := engine.Deploy(context.Background(), "svc-1", "worker-a")
	require.NoError(t, err)
	assert.Equal(t, types.DeploymentFailed, failed.Status)
	assert.Equal(t, "image pull failed", failed.Error)
	assert.Equal(t, 1, failed.RetryCount)

	// Replacement reuses the slot under a fresh id and name and carries
	// the retry count forward.
	agent.deployResult = nil
	replacement, err := engine.Deploy(context.Background(), "svc-1", "worker-a")
	require.NoError(t, err)
	assert.Equal(t, types.DeploymentRunning, replacement.Status)
	assert.NotEqual(t, failed.ID, replacement.ID)
	assert.NotEqual(t, failed.ContainerName, replacement.ContainerName)
	assert.Equal(t, 1, replacement.RetryCount)

	_, err = store.GetDeployment(failed.ID)
	assert.ErrorIs(t, err, errdefs.ErrNotFound)
}

func TestStopAndRestart(t *testing.T) {
	engine, resolver, _ := newTestEngine(t)
	resolver.addWorker("worker-a", types.NodeStatusOnline)
	seedService(t, engine, "svc-1")

	d, err := engine.Deploy(context.Background(), "svc-1", "worker-a")
	require.NoError(t, err)

	stopped, err := engine.Stop(context.Background(), d.ID)
	require.NoError(t, err)
	assert.Equal(t, types.DeploymentStopped, stopped.Status)
	assert.NotNil(t, stopped.StoppedAt)

	// Stopping a stopped deployment is a disallowed transition.
	_, err = engine.Stop(context.Background(), d.ID)
	assert.ErrorIs(t, err, errdefs.ErrPreconditionFailed)

	// A stopped deployment restarts under its original container name.
	restarted, err := engine.Restart(context.Background(), d.ID)
	require.NoError(t, err)
	assert.Equal(t, types.DeploymentRunning, restarted.Status)
	assert.Equal(t, d.ContainerName, restarted.ContainerName)
	assert.Nil(t, restarted.StoppedAt)
}

func TestRestartFailedDeploymentRejected(t *testing.T) {
	engine, resolver, _ := newTestEngine(t)
	agent := resolver.addWorker("worker-a", types.NodeStatusOnline)
	seedService(t, engine, "svc-1")

	agent.deployErr = errdefs.ImageNotFound("no such image")
	failed, err := engine.Deploy(context.Background(), "svc-1", "worker-a")
	require.NoError(t, err)
	require.Equal(t, types.DeploymentFailed, failed.Status)

	_, err = engine.Restart(context.Background(), failed.ID)
	assert.ErrorIs(t, err, errdefs.ErrPreconditionFailed)
}

func TestStopTransientErrorKeepsState(t *testing.T) {
	engine, resolver, store := newTestEngine(t)
	agent := resolver.addWorker("worker-a", types.NodeStatusOnline)
	seedService(t, engine, "svc-1")

	d, err := engine.Deploy(context.Background(), "svc-1", "worker-a")
	require.NoError(t, err)

	agent.stopErr = errdefs.Unreachable("connection refused")
	_, err = engine.Stop(context.Background(), d.ID)
	assert.ErrorIs(t, err, errdefs.ErrUnreachable)

	// The deployment stays running with the error stamped for the
	// operator to retry.
	current, err := store.GetDeployment(d.ID)
	require.NoError(t, err)
	assert.Equal(t, types.DeploymentRunning, current.Status)
	assert.Contains(t, current.Error, "connection refused")
}

func TestRemoveIsBestEffort(t *testing.T) {
	engine, resolver, store := newTestEngine(t)
	agent := resolver.addWorker("worker-a", types.NodeStatusOnline)
	seedService(t, engine, "svc-1")

	d, err := engine.Deploy(context.Background(), "svc-1", "worker-a")
	require.NoError(t, err)

	agent.removeErr = errdefs.Unreachable("worker rebooting")
	require.NoError(t, engine.Remove(context.Background(), d.ID))

	assert.Equal(t, []string{d.ContainerName}, agent.removed)
	_, err = store.GetDeployment(d.ID)
	assert.ErrorIs(t, err, errdefs.ErrNotFound)

	// With no live deployment left the service can be deleted.
	assert.NoError(t, engine.DeleteService("svc-1"))
}

func TestDeleteServiceInUse(t *testing.T) {
	engine, resolver, _ := newTestEngine(t)
	resolver.addWorker("worker-a", types.NodeStatusOnline)
	seedService(t, engine, "svc-1")

	_, err := engine.Deploy(context.Background(), "svc-1", "worker-a")
	require.NoError(t, err)

	err = engine.DeleteService("svc-1")
	assert.ErrorIs(t, err, errdefs.ErrConflict)
}

func TestLogs(t *testing.T) {
	engine, resolver, _ := newTestEngine(t)
	agent := resolver.addWorker("worker-a", types.NodeStatusOnline)
	seedService(t, engine, "svc-1")

	d, err := engine.Deploy(context.Background(), "svc-1", "worker-a")
	require.NoError(t, err)

	agent.logsVal = "line1\nline2\n"
	logs, err := engine.Logs(context.Background(), d.ID, 100)
	require.NoError(t, err)
	require.NotNil(t, logs)
	assert.Equal(t, "line1\nline2\n", *logs)

	// An unreachable agent yields a nil body, not an error.
	agent.logsErr = errdefs.Unreachable("connection refused")
	logs, err = engine.Logs(context.Background(), d.ID, 100)
	require.NoError(t, err)
	assert.Nil(t, logs)
}

func TestRefreshHealth(t *testing.T) {
	engine, resolver, store := newTestEngine(t)
	resolver.addWorker("worker-a", types.NodeStatusOnline)

	healthSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/healthz" {
			w.WriteHeader(http.StatusOK)
			return
		}
		w.WriteHeader(http.StatusNotFound)
	}))
	defer healthSrv.Close()

	u, err := url.Parse(healthSrv.URL)
	require.NoError(t, err)
	port, err := strconv.Atoi(u.Port())
	require.NoError(t, err)
	resolver.workers["worker-a"].VPNAddress = u.Hostname()

	_, err = engine.CreateService(&types.ServiceDefinition{
		ServiceID:  "svc-health",
		Image:      "nginx:latest",
		HealthPath: "/healthz",
		HealthPort: port,
	}, "test")
	require.NoError(t, err)

	d, err := engine.Deploy(context.Background(), "svc-health", "worker-a")
	require.NoError(t, err)

	engine.RefreshHealth(context.Background())

	current, err := store.GetDeployment(d.ID)
	require.NoError(t, err)
	require.NotNil(t, current.Healthy)
	assert.True(t, *current.Healthy)
	assert.WithinDuration(t, time.Now(), *current.LastHealthCheck, time.Minute)
}
