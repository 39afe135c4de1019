package manager

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/burrowctl/burrow/pkg/client"
	"github.com/burrowctl/burrow/pkg/config"
	"github.com/burrowctl/burrow/pkg/errdefs"
	"github.com/burrowctl/burrow/pkg/events"
	"github.com/burrowctl/burrow/pkg/log"
	"github.com/burrowctl/burrow/pkg/metrics"
	"github.com/burrowctl/burrow/pkg/security"
	"github.com/burrowctl/burrow/pkg/storage"
	"github.com/burrowctl/burrow/pkg/types"
	"github.com/burrowctl/burrow/pkg/vpn"
)

// secretBytes is the entropy of a freshly minted node secret.
const secretBytes = 32

// Manager is the leader-side coordinator: it owns worker onboarding,
// heartbeat ingestion, command relay, discovery and claiming, and
// rolling upgrades.
type Manager struct {
	cfg    *config.Leader
	store  storage.Store
	vault  *security.Vault
	broker *events.Broker
	mesh   vpn.Mesh
	dial   client.Dialer
	logger zerolog.Logger
}

// New creates a Manager. mesh may be nil when discovery is not needed
// (tests); dial defaults to the production agent client.
func New(cfg *config.Leader, store storage.Store, vault *security.Vault, broker *events.Broker, mesh vpn.Mesh) *Manager {
	return &Manager{
		cfg:    cfg,
		store:  store,
		vault:  vault,
		broker: broker,
		mesh:   mesh,
		dial:   client.DialAgent,
		logger: log.WithComponent("manager"),
	}
}

// SetDialer overrides the agent dialer, for tests.
func (m *Manager) SetDialer(dial client.Dialer) {
	m.dial = dial
}

// Startup registers the leader's own worker row. It runs once at
// process start; the row's last_seen is refreshed so the reaper never
// demotes a freshly started leader.
func (m *Manager) Startup(ctx context.Context) error {
	leader, err := m.store.UpsertLeader(m.cfg.Hostname, m.cfg.VPNAddress)
	if err != nil {
		return fmt.Errorf("register leader: %w", err)
	}
	m.logger.Info().
		Str("hostname", leader.Hostname).
		Str("vpn_address", leader.VPNAddress).
		Msg("Leader registered")
	m.broker.Emit(events.EventLeaderRegistered, "leader "+leader.Hostname+" registered", nil)
	return nil
}

// Register redeems a join token. A re-registration of a known hostname
// refreshes the record without minting a new secret; the token is only
// consumed when a new worker row is created.
func (m *Manager) Register(ctx context.Context, req *types.RegisterRequest) (*types.RegisterResponse, error) {
	if req.Token == "" || req.Hostname == "" || req.VPNAddress == "" {
		return nil, errdefs.Invalid("token, hostname and vpn_address are required")
	}

	now := time.Now()
	if err := m.store.ValidateToken(req.Token, now); err != nil {
		return nil, err
	}

	if existing, err := m.store.GetWorker(req.Hostname); err == nil {
		return m.reregister(existing, req, now)
	} else if !errors.Is(err, errdefs.ErrNotFound) {
		return nil, err
	}

	// Consume before insert: of N concurrent redeemers of a single-use
	// token, exactly one passes this line.
	token, err := m.store.ConsumeToken(req.Token, now)
	if err != nil {
		return nil, err
	}

	secret, err := security.RandomToken(secretBytes)
	if err != nil {
		return nil, errdefs.Internal("mint node secret: %v", err)
	}
	sealed, err := m.vault.SealString(secret)
	if err != nil {
		return nil, errdefs.Internal("seal node secret: %v", err)
	}

	worker := &types.Worker{
		ID:              newID(),
		Hostname:        req.Hostname,
		VPNAddress:      req.VPNAddress,
		Platform:        platformOrUnknown(req.Platform),
		Role:            token.Role,
		Status:          types.NodeStatusOnline,
		AgentVersion:    req.AgentVersion,
		RegisteredAt:    now,
		LastSeen:        now,
		EncryptedSecret: sealed,
		SecretHash:      security.Hash(secret),
	}
	if req.Capabilities != nil {
		worker.Capabilities = *req.Capabilities
	}

	if err := m.store.InsertWorker(worker); err != nil {
		if errors.Is(err, errdefs.ErrAlreadyRegistered) {
			// Lost an insert race for the same hostname; treat as a
			// re-registration. The consumed use stays consumed.
			if existing, getErr := m.store.GetWorker(req.Hostname); getErr == nil {
				return m.reregister(existing, req, now)
			}
		}
		return nil, err
	}

	m.logger.Info().
		Str("hostname", worker.Hostname).
		Str("vpn_address", worker.VPNAddress).
		Str("role", string(worker.Role)).
		Msg("Worker registered")
	m.broker.Emit(events.EventWorkerJoined, "worker "+worker.Hostname+" joined", map[string]string{
		"hostname": worker.Hostname,
	})

	node := registeredNode(worker)
	node.Metadata = map[string]string{"unode_secret": secret}
	return &types.RegisterResponse{Unode: node}, nil
}

func (m *Manager) reregister(existing *types.Worker, req *types.RegisterRequest, now time.Time) (*types.RegisterResponse, error) {
	updated, err := m.store.UpdateWorker(existing.Hostname, func(w *types.Worker) error {
		w.VPNAddress = req.VPNAddress
		w.Platform = platformOrUnknown(req.Platform)
		w.Status = types.NodeStatusOnline
		w.LastSeen = now
		if req.AgentVersion != "" {
			w.AgentVersion = req.AgentVersion
		}
		if req.Capabilities != nil {
			w.Capabilities = *req.Capabilities
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	m.logger.Info().Str("hostname", existing.Hostname).Msg("Worker re-registered")
	// No secret in the response: it was disclosed at first registration.
	return &types.RegisterResponse{Unode: registeredNode(updated)}, nil
}

// ProcessHeartbeat ingests a worker heartbeat. It reports whether the
// worker exists so unknown workers can be told to re-register.
func (m *Manager) ProcessHeartbeat(payload *types.HeartbeatPayload) (bool, error) {
	if payload.Hostname == "" {
		return false, errdefs.Invalid("heartbeat requires hostname")
	}

	wasOffline := false
	_, err := m.store.UpdateWorker(payload.Hostname, func(w *types.Worker) error {
		wasOffline = w.Status == types.NodeStatusOffline
		w.Status = types.NodeStatusOnline
		w.LastSeen = time.Now()
		w.ServicesRunning = payload.ServicesRunning
		w.Capabilities = payload.Capabilities
		if payload.AgentVersion != "" {
			w.AgentVersion = payload.AgentVersion
		}
		return nil
	})
	if err != nil {
		if errors.Is(err, errdefs.ErrNotFound) {
			metrics.HeartbeatsTotal.WithLabelValues("unknown").Inc()
			return false, nil
		}
		metrics.HeartbeatsTotal.WithLabelValues("error").Inc()
		return false, err
	}

	metrics.HeartbeatsTotal.WithLabelValues("ok").Inc()
	if wasOffline {
		m.broker.Emit(events.EventWorkerOnline, "worker "+payload.Hostname+" back online", map[string]string{
			"hostname": payload.Hostname,
		})
	}
	return true, nil
}

// GetWorker returns one worker.
func (m *Manager) GetWorker(hostname string) (*types.Worker, error) {
	return m.store.GetWorker(hostname)
}

// ListWorkers returns workers matching the filter.
func (m *Manager) ListWorkers(filter storage.WorkerFilter) ([]*types.Worker, error) {
	return m.store.ListWorkers(filter)
}

// RemoveWorker deletes a worker record. The leader's own record is
// protected.
func (m *Manager) RemoveWorker(hostname string) error {
	worker, err := m.store.GetWorker(hostname)
	if err != nil {
		return err
	}
	if worker.Role == types.NodeRoleLeader {
		return errdefs.PreconditionFailed("cannot remove the leader")
	}

	if _, err := m.store.DeleteWorker(hostname); err != nil {
		return err
	}
	m.broker.Emit(events.EventWorkerRemoved, "worker "+hostname+" removed", map[string]string{
		"hostname": hostname,
	})
	return nil
}

// ReleaseWorker unbinds the agent and deletes the worker record, so the
// peer shows up as available to any leader afterwards.
func (m *Manager) ReleaseWorker(ctx context.Context, hostname string) error {
	worker, err := m.store.GetWorker(hostname)
	if err != nil {
		return err
	}
	if worker.Role == types.NodeRoleLeader {
		return errdefs.PreconditionFailed("cannot release the leader")
	}

	if agent, err := m.agentFor(worker); err == nil {
		if err := agent.Release(ctx); err != nil {
			m.logger.Warn().Err(err).Str("hostname", hostname).Msg("Agent release call failed, removing record anyway")
		}
	}
	if _, err := m.store.DeleteWorker(hostname); err != nil {
		return err
	}
	m.broker.Emit(events.EventWorkerRemoved, "worker "+hostname+" released", map[string]string{
		"hostname": hostname,
	})
	return nil
}

// Claim registers an available peer without a join token and pushes the
// minted secret to the agent. The worker row only survives if the agent
// accepted the claim.
func (m *Manager) Claim(ctx context.Context, req *types.ClaimRequest) (*types.RegisterResponse, error) {
	if req.Hostname == "" || req.VPNAddress == "" {
		return nil, errdefs.Invalid("hostname and vpn_address are required")
	}

	secret, err := security.RandomToken(secretBytes)
	if err != nil {
		return nil, errdefs.Internal("mint node secret: %v", err)
	}
	sealed, err := m.vault.SealString(secret)
	if err != nil {
		return nil, errdefs.Internal("seal node secret: %v", err)
	}

	now := time.Now()
	worker := &types.Worker{
		ID:              newID(),
		Hostname:        req.Hostname,
		VPNAddress:      req.VPNAddress,
		Platform:        types.PlatformUnknown,
		Role:            types.NodeRoleWorker,
		Status:          types.NodeStatusConnecting,
		RegisteredAt:    now,
		LastSeen:        now,
		EncryptedSecret: sealed,
		SecretHash:      security.Hash(secret),
	}
	if err := m.store.InsertWorker(worker); err != nil {
		return nil, err
	}

	agent := m.dial(req.VPNAddress, secret)
	if err := agent.Claim(ctx, &types.AgentClaimRequest{
		LeaderURL: m.LeaderURL(),
		Secret:    secret,
	}); err != nil {
		// The agent never learned the secret; keep the store clean.
		if _, delErr := m.store.DeleteWorker(req.Hostname); delErr != nil {
			m.logger.Error().Err(delErr).Str("hostname", req.Hostname).Msg("Rollback of failed claim left a stale row")
		}
		return nil, err
	}

	updated, err := m.store.UpdateWorker(req.Hostname, func(w *types.Worker) error {
		w.Status = types.NodeStatusOnline
		return nil
	})
	if err != nil {
		return nil, err
	}

	m.logger.Info().Str("hostname", req.Hostname).Str("vpn_address", req.VPNAddress).Msg("Peer claimed")
	m.broker.Emit(events.EventWorkerClaimed, "worker "+req.Hostname+" claimed", map[string]string{
		"hostname": req.Hostname,
	})

	node := registeredNode(updated)
	node.Metadata = map[string]string{"unode_secret": secret}
	return &types.RegisterResponse{Unode: node}, nil
}

// UpgradeWorker relays a self-upgrade to one worker.
func (m *Manager) UpgradeWorker(ctx context.Context, hostname, image string) error {
	worker, err := m.store.GetWorker(hostname)
	if err != nil {
		return err
	}
	agent, err := m.agentFor(worker)
	if err != nil {
		return err
	}
	if err := agent.Upgrade(ctx, image); err != nil {
		metrics.UpgradesTotal.WithLabelValues("failed").Inc()
		return err
	}
	metrics.UpgradesTotal.WithLabelValues("accepted").Inc()
	m.broker.Emit(events.EventWorkerUpgraded, "worker "+hostname+" upgrading to "+image, map[string]string{
		"hostname": hostname,
		"image":    image,
	})
	return nil
}

// UpgradeAll rolls an upgrade across every online worker, one at a
// time. Failures are collected, not fatal.
func (m *Manager) UpgradeAll(ctx context.Context, image string) (*types.UpgradeAllResult, error) {
	if image == "" {
		return nil, errdefs.Invalid("image is required")
	}

	workers, err := m.store.ListWorkers(storage.WorkerFilter{
		Status: types.NodeStatusOnline,
		Role:   types.NodeRoleWorker,
	})
	if err != nil {
		return nil, err
	}

	result := &types.UpgradeAllResult{
		Total:     len(workers),
		Image:     image,
		Succeeded: []string{},
		Failed:    []types.UpgradeFailure{},
	}
	for _, worker := range workers {
		if err := m.UpgradeWorker(ctx, worker.Hostname, image); err != nil {
			result.Failed = append(result.Failed, types.UpgradeFailure{
				Hostname: worker.Hostname,
				Error:    err.Error(),
			})
			continue
		}
		result.Succeeded = append(result.Succeeded, worker.Hostname)
	}
	return result, nil
}

// LeaderURL is the control plane URL workers use to reach this leader.
func (m *Manager) LeaderURL() string {
	host := m.cfg.VPNAddress
	if host == "" {
		host = m.cfg.Hostname
	}
	return fmt.Sprintf("http://%s:%d", host, m.cfg.PublicPort)
}

// agentFor dials a worker's agent with its unsealed secret.
func (m *Manager) agentFor(worker *types.Worker) (client.AgentAPI, error) {
	secret, err := m.vault.UnsealString(worker.EncryptedSecret)
	if err != nil {
		return nil, errdefs.Internal("unseal secret for %s: %v", worker.Hostname, err)
	}
	return m.dial(worker.VPNAddress, secret), nil
}

// AgentFor exposes agentFor to the deployment engine.
func (m *Manager) AgentFor(hostname string) (client.AgentAPI, *types.Worker, error) {
	worker, err := m.store.GetWorker(hostname)
	if err != nil {
		return nil, nil, err
	}
	agent, err := m.agentFor(worker)
	if err != nil {
		return nil, nil, err
	}
	return agent, worker, nil
}

// VerifyWorkerSecret authenticates an inbound worker request by hash
// comparison; the plaintext is never recovered on this path.
func (m *Manager) VerifyWorkerSecret(hostname, presented string) bool {
	worker, err := m.store.GetWorker(hostname)
	if err != nil {
		return false
	}
	return security.VerifyHash(presented, worker.SecretHash)
}

func registeredNode(w *types.Worker) *types.RegisteredNode {
	return &types.RegisteredNode{
		Hostname:     w.Hostname,
		VPNAddress:   w.VPNAddress,
		Platform:     w.Platform,
		Role:         w.Role,
		Status:       w.Status,
		AgentVersion: w.AgentVersion,
		RegisteredAt: w.RegisteredAt,
	}
}

func platformOrUnknown(p types.Platform) types.Platform {
	switch p {
	case types.PlatformLinux, types.PlatformMacOS, types.PlatformWindows:
		return p
	default:
		return types.PlatformUnknown
	}
}
