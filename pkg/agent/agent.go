package agent

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/burrowctl/burrow/pkg/client"
	"github.com/burrowctl/burrow/pkg/config"
	"github.com/burrowctl/burrow/pkg/errdefs"
	"github.com/burrowctl/burrow/pkg/log"
	containerruntime "github.com/burrowctl/burrow/pkg/runtime"
	"github.com/burrowctl/burrow/pkg/types"
)

// Version is stamped at build time.
var Version = "dev"

// stateFile persists the agent's binding across restarts.
const stateFile = "agent.json"

type boundState struct {
	LeaderURL  string `json:"leader_url"`
	NodeSecret string `json:"node_secret"`
}

// WorkerAgent runs on every worker: it keeps a heartbeat flowing to the
// leader and executes container operations the leader sends back.
type WorkerAgent struct {
	cfg     *config.Agent
	runtime containerruntime.Runtime
	sampler *Sampler
	logger  zerolog.Logger

	mu     sync.RWMutex
	leader *client.LeaderClient
	state  boundState
}

// New creates a worker agent. A persisted binding from a previous run
// takes precedence over the (possibly empty) environment values.
func New(cfg *config.Agent, rt containerruntime.Runtime) (*WorkerAgent, error) {
	if err := os.MkdirAll(cfg.DataDir, 0o700); err != nil {
		return nil, fmt.Errorf("create data dir: %w", err)
	}

	a := &WorkerAgent{
		cfg:     cfg,
		runtime: rt,
		sampler: NewSampler(),
		logger:  log.WithComponent("agent"),
		state:   boundState{LeaderURL: cfg.LeaderURL, NodeSecret: cfg.NodeSecret},
	}
	if err := a.loadState(); err != nil {
		return nil, err
	}
	if a.state.LeaderURL != "" {
		a.leader = client.NewLeaderClient(a.state.LeaderURL, a.state.NodeSecret)
	}
	return a, nil
}

// Bound reports whether the agent has a leader binding.
func (a *WorkerAgent) Bound() bool {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.state.LeaderURL != "" && a.state.NodeSecret != ""
}

// LeaderURL returns the bound leader URL, or "".
func (a *WorkerAgent) LeaderURL() string {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.state.LeaderURL
}

// VerifySecret compares a presented secret against the bound one in
// constant time.
func (a *WorkerAgent) VerifySecret(presented string) bool {
	a.mu.RLock()
	defer a.mu.RUnlock()
	if a.state.NodeSecret == "" {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(presented), []byte(a.state.NodeSecret)) == 1
}

// Join redeems a join token against a leader and stores the issued
// binding.
func (a *WorkerAgent) Join(ctx context.Context, leaderURL, token string) error {
	lc := client.NewLeaderClient(leaderURL, "")
	resp, err := lc.Register(ctx, &types.RegisterRequest{
		Token:        token,
		Hostname:     a.cfg.Hostname,
		VPNAddress:   a.cfg.VPNAddress,
		Platform:     currentPlatform(),
		AgentVersion: Version,
		Capabilities: a.capabilities(ctx),
	})
	if err != nil {
		return err
	}

	secret := resp.Unode.Metadata["unode_secret"]
	if secret == "" {
		return errdefs.Internal("leader did not issue a node secret")
	}
	return a.bind(leaderURL, secret)
}

// Claim accepts a leader-pushed binding. An unbound agent accepts any
// claim; a bound one only re-binds when the caller presented the
// current secret, which the HTTP layer has already verified.
func (a *WorkerAgent) Claim(req *types.AgentClaimRequest) error {
	if req.LeaderURL == "" || req.Secret == "" {
		return errdefs.Invalid("claim requires leader_url and secret")
	}
	return a.bind(req.LeaderURL, req.Secret)
}

// Release drops the binding so another leader may claim this agent.
func (a *WorkerAgent) Release() error {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.state = boundState{}
	a.leader = nil
	if err := a.saveState(); err != nil {
		return err
	}
	a.logger.Info().Msg("Agent released from leader")
	return nil
}

func (a *WorkerAgent) bind(leaderURL, secret string) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.state = boundState{LeaderURL: leaderURL, NodeSecret: secret}
	a.leader = client.NewLeaderClient(leaderURL, secret)
	if err := a.saveState(); err != nil {
		return err
	}
	a.logger.Info().Str("leader_url", leaderURL).Msg("Agent bound to leader")
	return nil
}

// Run drives the heartbeat loop until the context is cancelled. An
// unbound agent idles, checking periodically whether a claim arrived.
func (a *WorkerAgent) Run(ctx context.Context) error {
	a.logger.Info().
		Str("hostname", a.cfg.Hostname).
		Str("vpn_address", a.cfg.VPNAddress).
		Dur("interval", a.cfg.HeartbeatInterval).
		Bool("bound", a.Bound()).
		Msg("Agent heartbeat loop starting")

	ticker := time.NewTicker(a.cfg.HeartbeatInterval)
	defer ticker.Stop()

	a.beat(ctx)
	for {
		select {
		case <-ticker.C:
			a.beat(ctx)
		case <-ctx.Done():
			a.logger.Info().Msg("Agent heartbeat loop stopped")
			return ctx.Err()
		}
	}
}

func (a *WorkerAgent) beat(ctx context.Context) {
	a.mu.RLock()
	leader := a.leader
	a.mu.RUnlock()
	if leader == nil {
		return
	}

	payload := &types.HeartbeatPayload{
		Hostname:        a.cfg.Hostname,
		Status:          types.NodeStatusOnline,
		AgentVersion:    Version,
		ServicesRunning: a.runningContainers(ctx),
		Capabilities:    *a.capabilities(ctx),
		Metrics:         a.sampler.Sample(),
	}
	if err := leader.Heartbeat(ctx, payload); err != nil {
		a.logger.Warn().Err(err).Msg("Heartbeat failed")
	}
}

func (a *WorkerAgent) runningContainers(ctx context.Context) []string {
	infos, err := a.runtime.List(ctx)
	if err != nil {
		return nil
	}
	var names []string
	for _, info := range infos {
		if info.Status == "running" {
			names = append(names, info.ContainerName)
		}
	}
	return names
}

func (a *WorkerAgent) capabilities(ctx context.Context) *types.Capabilities {
	caps := a.sampler.Capabilities()
	caps.Docker = a.runtime.Available(ctx)
	return caps
}

func (a *WorkerAgent) loadState() error {
	data, err := os.ReadFile(a.statePath())
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("read agent state: %w", err)
	}
	var st boundState
	if err := json.Unmarshal(data, &st); err != nil {
		return fmt.Errorf("parse agent state: %w", err)
	}
	if st.LeaderURL != "" && st.NodeSecret != "" {
		a.state = st
	}
	return nil
}

func (a *WorkerAgent) saveState() error {
	data, err := json.Marshal(a.state)
	if err != nil {
		return fmt.Errorf("encode agent state: %w", err)
	}
	if err := os.WriteFile(a.statePath(), data, 0o600); err != nil {
		return fmt.Errorf("write agent state: %w", err)
	}
	return nil
}

func (a *WorkerAgent) statePath() string {
	return filepath.Join(a.cfg.DataDir, stateFile)
}

func currentPlatform() types.Platform {
	switch runtime.GOOS {
	case "darwin":
		return types.PlatformMacOS
	case "windows":
		return types.PlatformWindows
	default:
		return types.PlatformLinux
	}
}
