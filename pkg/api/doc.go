// Package api exposes the leader's control plane over HTTP: onboarding
// scripts, worker registration and heartbeats, join token management,
// the worker and service catalogs, deployments, peer discovery, and
// Prometheus metrics.
package api
