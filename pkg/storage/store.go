package storage

import (
	"time"

	"github.com/burrowctl/burrow/pkg/types"
)

// WorkerFilter narrows ListWorkers; zero values match everything
type WorkerFilter struct {
	Status types.NodeStatus
	Role   types.NodeRole
}

// Store defines the interface for cluster state storage.
// Implemented by the BoltDB-backed store.
type Store interface {
	// Workers
	UpsertLeader(hostname, vpnAddress string) (*types.Worker, error)
	InsertWorker(worker *types.Worker) error
	UpdateWorker(hostname string, mutate func(*types.Worker) error) (*types.Worker, error)
	GetWorker(hostname string) (*types.Worker, error)
	GetWorkerByVPNAddress(addr string) (*types.Worker, error)
	ListWorkers(filter WorkerFilter) ([]*types.Worker, error)
	DeleteWorker(hostname string) (bool, error)

	// Join tokens
	CreateToken(token *types.JoinToken) error
	GetToken(token string) (*types.JoinToken, error)
	ValidateToken(token string, now time.Time) error
	ConsumeToken(token string, now time.Time) (*types.JoinToken, error)
	RevokeToken(token string) error
	ListTokens() ([]*types.JoinToken, error)

	// Service catalog
	CreateService(svc *types.ServiceDefinition) error
	GetService(serviceID string) (*types.ServiceDefinition, error)
	ListServices() ([]*types.ServiceDefinition, error)
	UpdateService(svc *types.ServiceDefinition) error
	DeleteService(serviceID string) error

	// Deployments
	PutDeployment(d *types.Deployment) error
	GetDeployment(id string) (*types.Deployment, error)
	GetDeploymentBySlot(serviceID, hostname string) (*types.Deployment, error)
	ListDeployments() ([]*types.Deployment, error)
	ListDeploymentsByService(serviceID string) ([]*types.Deployment, error)
	ListDeploymentsByWorker(hostname string) ([]*types.Deployment, error)
	DeleteDeployment(id string) error

	// Utility
	Close() error
}
