package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

// Defaults shared by both halves of the control plane.
const (
	DefaultLeaderPort        = 8443
	DefaultAgentPort         = 8444
	DefaultDataDir           = "/var/lib/burrow"
	DefaultHeartbeatInterval = 15 * time.Second
)

// Leader configures the leader process.
type Leader struct {
	Hostname     string
	VPNAddress   string
	MasterSecret string
	// OperatorToken authorizes operator API calls. It defaults to the
	// master secret when not set separately.
	OperatorToken string
	DataDir       string
	Port          int
	// PublicPort is the externally reachable port used when composing
	// join and bootstrap URLs; it may differ from Port behind a proxy.
	PublicPort int
}

// Agent configures a worker agent process.
type Agent struct {
	Hostname          string
	VPNAddress        string
	LeaderURL         string
	NodeSecret        string
	DataDir           string
	Port              int
	HeartbeatInterval time.Duration
}

// LeaderFromEnv reads leader configuration from the environment. The
// master secret is mandatory; everything else has a default.
func LeaderFromEnv() (*Leader, error) {
	cfg := &Leader{
		Hostname:     getenv("LEADER_HOSTNAME", ""),
		VPNAddress:   os.Getenv("VPN_ADDRESS"),
		MasterSecret: os.Getenv("BURROW_MASTER_SECRET"),
		DataDir:      getenv("DATA_DIR", DefaultDataDir),
	}
	if cfg.Hostname == "" {
		hostname, err := os.Hostname()
		if err != nil {
			return nil, fmt.Errorf("LEADER_HOSTNAME unset and hostname lookup failed: %w", err)
		}
		cfg.Hostname = hostname
	}
	if cfg.MasterSecret == "" {
		return nil, fmt.Errorf("BURROW_MASTER_SECRET is required")
	}
	cfg.OperatorToken = getenv("BURROW_OPERATOR_TOKEN", cfg.MasterSecret)

	var err error
	if cfg.Port, err = getenvInt("MANAGER_PORT", DefaultLeaderPort); err != nil {
		return nil, err
	}
	if cfg.PublicPort, err = getenvInt("PUBLIC_PORT", cfg.Port); err != nil {
		return nil, err
	}
	return cfg, nil
}

// AgentFromEnv reads agent configuration from the environment. The
// leader URL and node secret may legitimately be empty: an unbound
// agent waits to be claimed.
func AgentFromEnv() (*Agent, error) {
	cfg := &Agent{
		Hostname:   os.Getenv("NODE_HOSTNAME"),
		VPNAddress: os.Getenv("VPN_ADDRESS"),
		LeaderURL:  os.Getenv("LEADER_URL"),
		NodeSecret: os.Getenv("NODE_SECRET"),
		DataDir:    getenv("DATA_DIR", DefaultDataDir),
	}
	if cfg.Hostname == "" {
		hostname, err := os.Hostname()
		if err != nil {
			return nil, fmt.Errorf("NODE_HOSTNAME unset and hostname lookup failed: %w", err)
		}
		cfg.Hostname = hostname
	}

	var err error
	if cfg.Port, err = getenvInt("MANAGER_PORT", DefaultAgentPort); err != nil {
		return nil, err
	}
	if cfg.HeartbeatInterval, err = getenvDuration("HEARTBEAT_INTERVAL", DefaultHeartbeatInterval); err != nil {
		return nil, err
	}
	return cfg, nil
}

func getenv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getenvInt(key string, fallback int) (int, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("%s: invalid integer %q", key, v)
	}
	return n, nil
}

// getenvDuration accepts either a Go duration string ("30s") or a bare
// number of seconds.
func getenvDuration(key string, fallback time.Duration) (time.Duration, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	if n, err := strconv.Atoi(v); err == nil {
		return time.Duration(n) * time.Second, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("%s: invalid duration %q", key, v)
	}
	return d, nil
}
