package config

import (
	"testing"
	"time"
)

func TestLeaderFromEnv(t *testing.T) {
	t.Setenv("LEADER_HOSTNAME", "leader-1")
	t.Setenv("VPN_ADDRESS", "100.64.0.1")
	t.Setenv("BURROW_MASTER_SECRET", "super-secret")
	t.Setenv("MANAGER_PORT", "9000")
	t.Setenv("PUBLIC_PORT", "443")
	t.Setenv("DATA_DIR", "/tmp/burrow")

	cfg, err := LeaderFromEnv()
	if err != nil {
		t.Fatalf("LeaderFromEnv() error = %v", err)
	}
	if cfg.Hostname != "leader-1" || cfg.VPNAddress != "100.64.0.1" {
		t.Errorf("identity = %q/%q", cfg.Hostname, cfg.VPNAddress)
	}
	if cfg.Port != 9000 || cfg.PublicPort != 443 {
		t.Errorf("ports = %d/%d", cfg.Port, cfg.PublicPort)
	}
	if cfg.DataDir != "/tmp/burrow" {
		t.Errorf("data dir = %q", cfg.DataDir)
	}
}

func TestLeaderFromEnvRequiresMasterSecret(t *testing.T) {
	t.Setenv("LEADER_HOSTNAME", "leader-1")
	t.Setenv("BURROW_MASTER_SECRET", "")

	if _, err := LeaderFromEnv(); err == nil {
		t.Fatal("expected error for missing master secret")
	}
}

func TestLeaderPublicPortDefaultsToPort(t *testing.T) {
	t.Setenv("LEADER_HOSTNAME", "leader-1")
	t.Setenv("BURROW_MASTER_SECRET", "s")
	t.Setenv("MANAGER_PORT", "9000")
	t.Setenv("PUBLIC_PORT", "")

	cfg, err := LeaderFromEnv()
	if err != nil {
		t.Fatalf("LeaderFromEnv() error = %v", err)
	}
	if cfg.PublicPort != 9000 {
		t.Errorf("PublicPort = %d, want 9000", cfg.PublicPort)
	}
}

func TestOperatorTokenDefaultsToMasterSecret(t *testing.T) {
	t.Setenv("LEADER_HOSTNAME", "leader-1")
	t.Setenv("BURROW_MASTER_SECRET", "super-secret")
	t.Setenv("BURROW_OPERATOR_TOKEN", "")

	cfg, err := LeaderFromEnv()
	if err != nil {
		t.Fatalf("LeaderFromEnv() error = %v", err)
	}
	if cfg.OperatorToken != "super-secret" {
		t.Errorf("OperatorToken = %q, want master secret", cfg.OperatorToken)
	}

	t.Setenv("BURROW_OPERATOR_TOKEN", "separate")
	cfg, err = LeaderFromEnv()
	if err != nil {
		t.Fatalf("LeaderFromEnv() error = %v", err)
	}
	if cfg.OperatorToken != "separate" {
		t.Errorf("OperatorToken = %q, want %q", cfg.OperatorToken, "separate")
	}
}

func TestAgentFromEnv(t *testing.T) {
	t.Setenv("NODE_HOSTNAME", "worker-a")
	t.Setenv("VPN_ADDRESS", "100.64.0.2")
	t.Setenv("LEADER_URL", "http://100.64.0.1:8443")
	t.Setenv("NODE_SECRET", "issued")
	t.Setenv("HEARTBEAT_INTERVAL", "30")
	t.Setenv("MANAGER_PORT", "")

	cfg, err := AgentFromEnv()
	if err != nil {
		t.Fatalf("AgentFromEnv() error = %v", err)
	}
	if cfg.Hostname != "worker-a" || cfg.LeaderURL != "http://100.64.0.1:8443" {
		t.Errorf("cfg = %+v", cfg)
	}
	if cfg.HeartbeatInterval != 30*time.Second {
		t.Errorf("HeartbeatInterval = %v, want 30s", cfg.HeartbeatInterval)
	}
	if cfg.Port != DefaultAgentPort {
		t.Errorf("Port = %d, want %d", cfg.Port, DefaultAgentPort)
	}
}

func TestAgentFromEnvUnbound(t *testing.T) {
	t.Setenv("NODE_HOSTNAME", "worker-b")
	t.Setenv("LEADER_URL", "")
	t.Setenv("NODE_SECRET", "")
	t.Setenv("HEARTBEAT_INTERVAL", "")

	cfg, err := AgentFromEnv()
	if err != nil {
		t.Fatalf("AgentFromEnv() error = %v", err)
	}
	if cfg.LeaderURL != "" || cfg.NodeSecret != "" {
		t.Errorf("unbound agent cfg = %+v", cfg)
	}
	if cfg.HeartbeatInterval != DefaultHeartbeatInterval {
		t.Errorf("HeartbeatInterval = %v", cfg.HeartbeatInterval)
	}
}

func TestHeartbeatIntervalDurationString(t *testing.T) {
	t.Setenv("NODE_HOSTNAME", "worker-c")
	t.Setenv("HEARTBEAT_INTERVAL", "45s")

	cfg, err := AgentFromEnv()
	if err != nil {
		t.Fatalf("AgentFromEnv() error = %v", err)
	}
	if cfg.HeartbeatInterval != 45*time.Second {
		t.Errorf("HeartbeatInterval = %v, want 45s", cfg.HeartbeatInterval)
	}
}

func TestInvalidPort(t *testing.T) {
	t.Setenv("LEADER_HOSTNAME", "leader-1")
	t.Setenv("BURROW_MASTER_SECRET", "s")
	t.Setenv("MANAGER_PORT", "not-a-port")

	if _, err := LeaderFromEnv(); err == nil {
		t.Fatal("expected error for invalid port")
	}
}
