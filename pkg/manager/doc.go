// Package manager implements the leader-side control plane: join token
// issuance, worker registration and re-registration, heartbeat
// ingestion, stale worker demotion, mesh peer discovery and claiming,
// agent self-upgrades, and onboarding script generation.
package manager
