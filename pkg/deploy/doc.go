// Package deploy implements the service catalog and the deployment
// engine: placing services on workers, driving the per-deployment state
// machine, relaying container operations to agents, and refreshing
// deployment health.
package deploy
