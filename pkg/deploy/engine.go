package deploy

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/burrowctl/burrow/pkg/client"
	"github.com/burrowctl/burrow/pkg/errdefs"
	"github.com/burrowctl/burrow/pkg/events"
	"github.com/burrowctl/burrow/pkg/log"
	"github.com/burrowctl/burrow/pkg/metrics"
	"github.com/burrowctl/burrow/pkg/storage"
	"github.com/burrowctl/burrow/pkg/types"
)

// shortIDLen is how much of the deployment id goes into the container
// name.
const shortIDLen = 8

// AgentResolver looks up a worker and an authenticated client for its
// agent. The cluster manager implements it.
type AgentResolver interface {
	AgentFor(hostname string) (client.AgentAPI, *types.Worker, error)
}

// Engine drives the deployment state machine:
//
//	pending -> deploying -> running -> stopped -> removing -> deleted
//	           deploying -> failed
//	           running   -> failed
//
// At most one deployment per (service, worker) may be live, that is in
// deploying or running.
type Engine struct {
	store    storage.Store
	resolver AgentResolver
	broker   *events.Broker
	logger   zerolog.Logger
}

// NewEngine creates a deployment engine.
func NewEngine(store storage.Store, resolver AgentResolver, broker *events.Broker) *Engine {
	return &Engine{
		store:    store,
		resolver: resolver,
		broker:   broker,
		logger:   log.WithComponent("deploy"),
	}
}

// Deploy places a service on a worker. A failed or stopped deployment
// in the same slot is replaced; a live one is a conflict.
func (e *Engine) Deploy(ctx context.Context, serviceID, hostname string) (*types.Deployment, error) {
	svc, err := e.store.GetService(serviceID)
	if err != nil {
		return nil, err
	}
	agent, worker, err := e.resolver.AgentFor(hostname)
	if err != nil {
		return nil, err
	}
	if worker.Status != types.NodeStatusOnline {
		return nil, errdefs.PreconditionFailed("worker %s is %s, not online", hostname, worker.Status)
	}

	retryCount := 0
	if existing, err := e.store.GetDeploymentBySlot(serviceID, hostname); err == nil {
		if existing.Status.Live() {
			return nil, errdefs.Conflict("service %s already %s on %s", serviceID, existing.Status, hostname)
		}
		// Replace the dead occupant of the slot with a fresh id.
		retryCount = existing.RetryCount
		if err := e.store.DeleteDeployment(existing.ID); err != nil {
			return nil, err
		}
	} else if !errors.Is(err, errdefs.ErrNotFound) {
		return nil, err
	}

	now := time.Now()
	snapshot := *svc
	d := &types.Deployment{
		ID:             uuid.New().String(),
		ServiceID:      serviceID,
		WorkerHostname: hostname,
		Status:         types.DeploymentDeploying,
		DeployedConfig: &snapshot,
		CreatedAt:      now,
		RetryCount:     retryCount,
	}
	d.ContainerName = containerName(serviceID, d.ID)
	if err := e.store.PutDeployment(d); err != nil {
		return nil, err
	}

	e.logger.Info().
		Str("deployment_id", d.ID).
		Str("service_id", serviceID).
		Str("worker", hostname).
		Str("image", svc.Image).
		Msg("Deploying service")
	e.broker.Emit(events.EventDeployStarted, "deploying "+serviceID+" on "+hostname, map[string]string{
		"deployment_id": d.ID,
		"service_id":    serviceID,
		"worker":        hostname,
	})

	result, err := agent.Deploy(ctx, deployRequest(d.ContainerName, svc))
	if err != nil {
		return e.markFailed(d, err.Error())
	}
	if !result.Success {
		return e.markFailed(d, result.Error)
	}

	deployedAt := time.Now()
	d.Status = types.DeploymentRunning
	d.ContainerID = result.ContainerID
	d.DeployedAt = &deployedAt
	d.Error = ""
	if err := e.store.PutDeployment(d); err != nil {
		return nil, err
	}

	metrics.DeploysTotal.WithLabelValues("success").Inc()
	e.broker.Emit(events.EventDeployRunning, serviceID+" running on "+hostname, map[string]string{
		"deployment_id": d.ID,
		"container_id":  d.ContainerID,
	})
	return d, nil
}

func (e *Engine) markFailed(d *types.Deployment, reason string) (*types.Deployment, error) {
	d.Status = types.DeploymentFailed
	d.Error = reason
	d.RetryCount++
	if err := e.store.PutDeployment(d); err != nil {
		return nil, err
	}

	e.logger.Error().
		Str("deployment_id", d.ID).
		Str("worker", d.WorkerHostname).
		Str("reason", reason).
		Msg("Deploy failed")
	metrics.DeploysTotal.WithLabelValues("failed").Inc()
	e.broker.Emit(events.EventDeployFailed, "deploy of "+d.ServiceID+" failed: "+reason, map[string]string{
		"deployment_id": d.ID,
	})
	return d, nil
}

// Stop stops a running deployment's container.
func (e *Engine) Stop(ctx context.Context, id string) (*types.Deployment, error) {
	d, err := e.store.GetDeployment(id)
	if err != nil {
		return nil, err
	}
	if d.Status != types.DeploymentRunning {
		return nil, errdefs.PreconditionFailed("cannot stop a %s deployment", d.Status)
	}

	agent, _, err := e.resolver.AgentFor(d.WorkerHostname)
	if err != nil {
		return nil, err
	}
	if err := agent.StopContainer(ctx, &types.ContainerOpRequest{ContainerName: d.ContainerName}); err != nil {
		return e.stampTransient(d, err)
	}

	stoppedAt := time.Now()
	d.Status = types.DeploymentStopped
	d.StoppedAt = &stoppedAt
	d.Error = ""
	if err := e.store.PutDeployment(d); err != nil {
		return nil, err
	}
	e.broker.Emit(events.EventDeployStopped, d.ServiceID+" stopped on "+d.WorkerHostname, map[string]string{
		"deployment_id": d.ID,
	})
	return d, nil
}

// Restart restarts a running deployment or brings a stopped one back
// under its original container name.
func (e *Engine) Restart(ctx context.Context, id string) (*types.Deployment, error) {
	d, err := e.store.GetDeployment(id)
	if err != nil {
		return nil, err
	}
	if d.Status != types.DeploymentRunning && d.Status != types.DeploymentStopped {
		return nil, errdefs.PreconditionFailed("cannot restart a %s deployment", d.Status)
	}

	agent, _, err := e.resolver.AgentFor(d.WorkerHostname)
	if err != nil {
		return nil, err
	}
	if err := agent.RestartContainer(ctx, &types.ContainerOpRequest{ContainerName: d.ContainerName}); err != nil {
		return e.stampTransient(d, err)
	}

	d.Status = types.DeploymentRunning
	d.StoppedAt = nil
	d.Error = ""
	if err := e.store.PutDeployment(d); err != nil {
		return nil, err
	}
	e.broker.Emit(events.EventDeployRunning, d.ServiceID+" restarted on "+d.WorkerHostname, map[string]string{
		"deployment_id": d.ID,
	})
	return d, nil
}

// stampTransient records a worker I/O failure without advancing the
// state machine; the operator retries.
func (e *Engine) stampTransient(d *types.Deployment, opErr error) (*types.Deployment, error) {
	d.Error = opErr.Error()
	if err := e.store.PutDeployment(d); err != nil {
		return nil, err
	}
	return nil, opErr
}

// Remove tears down a deployment's container best-effort and deletes
// the record.
func (e *Engine) Remove(ctx context.Context, id string) error {
	d, err := e.store.GetDeployment(id)
	if err != nil {
		return err
	}

	d.Status = types.DeploymentRemoving
	if err := e.store.PutDeployment(d); err != nil {
		return err
	}

	if agent, _, err := e.resolver.AgentFor(d.WorkerHostname); err == nil {
		if err := agent.RemoveContainer(ctx, &types.ContainerOpRequest{ContainerName: d.ContainerName}); err != nil {
			e.logger.Warn().
				Err(err).
				Str("deployment_id", d.ID).
				Str("container", d.ContainerName).
				Msg("Container removal failed, deleting record anyway")
		}
	}

	if err := e.store.DeleteDeployment(d.ID); err != nil {
		return err
	}
	e.broker.Emit(events.EventDeployRemoved, d.ServiceID+" removed from "+d.WorkerHostname, map[string]string{
		"deployment_id": d.ID,
	})
	return nil
}

// Logs fetches the container log tail. A nil result with no error means
// the agent was unreachable.
func (e *Engine) Logs(ctx context.Context, id string, tail int) (*string, error) {
	d, err := e.store.GetDeployment(id)
	if err != nil {
		return nil, err
	}
	agent, _, err := e.resolver.AgentFor(d.WorkerHostname)
	if err != nil {
		return nil, err
	}

	logs, err := agent.Logs(ctx, d.ContainerName, tail)
	if err != nil {
		if errors.Is(err, errdefs.ErrUnreachable) || errors.Is(err, errdefs.ErrTimeout) {
			return nil, nil
		}
		return nil, err
	}
	return &logs, nil
}

// Get returns one deployment.
func (e *Engine) Get(id string) (*types.Deployment, error) {
	return e.store.GetDeployment(id)
}

// List returns all deployments.
func (e *Engine) List() ([]*types.Deployment, error) {
	return e.store.ListDeployments()
}

// ListByWorker returns a worker's deployments.
func (e *Engine) ListByWorker(hostname string) ([]*types.Deployment, error) {
	return e.store.ListDeploymentsByWorker(hostname)
}

func containerName(serviceID, deploymentID string) string {
	short := deploymentID
	if len(short) > shortIDLen {
		short = short[:shortIDLen]
	}
	return serviceID + "-" + short
}

func deployRequest(name string, svc *types.ServiceDefinition) *types.DeployRequest {
	return &types.DeployRequest{
		ContainerName: name,
		Image:         svc.Image,
		Ports:         svc.Ports,
		Env:           svc.Env,
		Volumes:       svc.Volumes,
		Command:       svc.Command,
		RestartPolicy: svc.RestartPolicy,
		Network:       svc.Network,
	}
}
