package deploy

import (
	"time"

	"github.com/burrowctl/burrow/pkg/errdefs"
	"github.com/burrowctl/burrow/pkg/types"
)

// CreateService adds a catalog entry.
func (e *Engine) CreateService(svc *types.ServiceDefinition, createdBy string) (*types.ServiceDefinition, error) {
	if svc.ServiceID == "" || svc.Image == "" {
		return nil, errdefs.Invalid("service_id and image are required")
	}
	if svc.Name == "" {
		svc.Name = svc.ServiceID
	}
	if svc.RestartPolicy == "" {
		svc.RestartPolicy = types.RestartUnlessStopped
	}

	now := time.Now()
	svc.CreatedAt = now
	svc.UpdatedAt = now
	svc.CreatedBy = createdBy
	if err := e.store.CreateService(svc); err != nil {
		return nil, err
	}
	e.logger.Info().Str("service_id", svc.ServiceID).Str("image", svc.Image).Msg("Service created")
	return svc, nil
}

// GetService returns one catalog entry.
func (e *Engine) GetService(serviceID string) (*types.ServiceDefinition, error) {
	return e.store.GetService(serviceID)
}

// ListServices returns the catalog.
func (e *Engine) ListServices() ([]*types.ServiceDefinition, error) {
	return e.store.ListServices()
}

// UpdateService overwrites a catalog entry. Existing deployments keep
// their deploy-time snapshot; the new definition applies to future
// deploys.
func (e *Engine) UpdateService(svc *types.ServiceDefinition) (*types.ServiceDefinition, error) {
	if svc.ServiceID == "" || svc.Image == "" {
		return nil, errdefs.Invalid("service_id and image are required")
	}
	current, err := e.store.GetService(svc.ServiceID)
	if err != nil {
		return nil, err
	}
	svc.CreatedAt = current.CreatedAt
	svc.CreatedBy = current.CreatedBy
	svc.UpdatedAt = time.Now()
	if err := e.store.UpdateService(svc); err != nil {
		return nil, err
	}
	return svc, nil
}

// DeleteService removes a catalog entry. A service with any live
// deployment cannot be deleted.
func (e *Engine) DeleteService(serviceID string) error {
	deployments, err := e.store.ListDeploymentsByService(serviceID)
	if err != nil {
		return err
	}
	for _, d := range deployments {
		if d.Status.Live() {
			return errdefs.Conflict("service %s is in use by deployment %s on %s", serviceID, d.ID, d.WorkerHostname)
		}
	}
	return e.store.DeleteService(serviceID)
}
