package deploy

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/burrowctl/burrow/pkg/client"
	"github.com/burrowctl/burrow/pkg/types"
)

// DefaultHealthInterval is how often running deployments are probed.
const DefaultHealthInterval = 30 * time.Second

// RunHealthChecks probes deployments until the context is cancelled.
func (e *Engine) RunHealthChecks(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = DefaultHealthInterval
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			e.RefreshHealth(ctx)
		case <-ctx.Done():
			return
		}
	}
}

// RefreshHealth probes every running deployment whose service declares
// a health endpoint and stamps the result on the record.
func (e *Engine) RefreshHealth(ctx context.Context) {
	deployments, err := e.store.ListDeployments()
	if err != nil {
		e.logger.Error().Err(err).Msg("Health refresh failed to list deployments")
		return
	}

	for _, d := range deployments {
		if d.Status != types.DeploymentRunning {
			continue
		}
		cfg := d.DeployedConfig
		if cfg == nil || cfg.HealthPath == "" {
			continue
		}

		_, worker, err := e.resolver.AgentFor(d.WorkerHostname)
		if err != nil {
			continue
		}

		port := cfg.HealthPort
		if port == 0 {
			port = d.ExposedPort
		}
		if port == 0 {
			continue
		}

		healthy := e.probe(ctx, fmt.Sprintf("http://%s:%d%s", worker.VPNAddress, port, cfg.HealthPath))
		now := time.Now()
		d.Healthy = &healthy
		d.LastHealthCheck = &now
		if err := e.store.PutDeployment(d); err != nil {
			e.logger.Error().Err(err).Str("deployment_id", d.ID).Msg("Health stamp failed")
		}
	}
}

func (e *Engine) probe(ctx context.Context, url string) bool {
	ctx, cancel := context.WithTimeout(ctx, client.ProbeTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return false
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return false
	}
	defer resp.Body.Close()
	return resp.StatusCode >= 200 && resp.StatusCode < 400
}
