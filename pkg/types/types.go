package types

import (
	"time"
)

// Platform identifies the operating system of a worker host.
type Platform string

const (
	PlatformLinux   Platform = "linux"
	PlatformMacOS   Platform = "macos"
	PlatformWindows Platform = "windows"
	PlatformUnknown Platform = "unknown"
)

// NodeRole defines the role of a node in the fleet
type NodeRole string

const (
	NodeRoleLeader  NodeRole = "leader"
	NodeRoleStandby NodeRole = "standby"
	NodeRoleWorker  NodeRole = "worker"
)

// NodeStatus represents the current state of a worker
type NodeStatus string

const (
	NodeStatusOnline     NodeStatus = "online"
	NodeStatusOffline    NodeStatus = "offline"
	NodeStatusConnecting NodeStatus = "connecting"
	NodeStatusError      NodeStatus = "error"
)

// Capabilities tracks what a worker host can run
type Capabilities struct {
	Docker         bool  `json:"docker"`
	GPU            bool  `json:"gpu"`
	LeaderEligible bool  `json:"leader_eligible"`
	MemoryMB       int64 `json:"memory_mb"`
	CPUCores       int   `json:"cpu_cores"`
	DiskGB         int64 `json:"disk_gb"`
}

// Worker represents a registered host in the fleet.
//
// EncryptedSecret and SecretHash never cross the wire: the encrypted copy
// exists so the leader can authenticate to the worker, the hash so inbound
// worker requests can be checked without decryption.
type Worker struct {
	ID              string            `json:"id"`
	Hostname        string            `json:"hostname"`
	VPNAddress      string            `json:"vpn_address"`
	Platform        Platform          `json:"platform"`
	Role            NodeRole          `json:"role"`
	Status          NodeStatus        `json:"status"`
	Capabilities    Capabilities      `json:"capabilities"`
	Labels          map[string]string `json:"labels,omitempty"`
	ServicesRunning []string          `json:"services_running,omitempty"`
	AgentVersion    string            `json:"agent_version,omitempty"`
	RegisteredAt    time.Time         `json:"registered_at"`
	LastSeen        time.Time         `json:"last_seen"`
	EncryptedSecret []byte            `json:"-"`
	SecretHash      string            `json:"-"`
}

// JoinToken authorizes a bounded number of worker registrations
type JoinToken struct {
	Token     string    `json:"token"`
	CreatedAt time.Time `json:"created_at"`
	ExpiresAt time.Time `json:"expires_at"`
	CreatedBy string    `json:"created_by,omitempty"`
	Role      NodeRole  `json:"role"`
	MaxUses   int       `json:"max_uses"`
	Uses      int       `json:"uses"`
	IsActive  bool      `json:"is_active"`
}

// Expired reports whether the token is past its expiry
func (t *JoinToken) Expired(now time.Time) bool {
	return now.After(t.ExpiresAt)
}

// Exhausted reports whether every permitted use has been consumed
func (t *JoinToken) Exhausted() bool {
	return t.Uses >= t.MaxUses
}

// RestartPolicy defines container restart behavior
type RestartPolicy string

const (
	RestartNo            RestartPolicy = "no"
	RestartAlways        RestartPolicy = "always"
	RestartUnlessStopped RestartPolicy = "unless-stopped"
	RestartOnFailure     RestartPolicy = "on-failure"
)

// ServiceDefinition is a catalog entry describing a deployable workload.
// Deployments embed an immutable snapshot taken at deploy time.
type ServiceDefinition struct {
	ServiceID     string            `json:"service_id"`
	Name          string            `json:"name"`
	Description   string            `json:"description,omitempty"`
	Image         string            `json:"image"`
	Ports         map[string]int    `json:"ports,omitempty"` // container port spec -> host port
	Env           map[string]string `json:"env,omitempty"`
	Volumes       []string          `json:"volumes,omitempty"`
	Command       []string          `json:"command,omitempty"`
	RestartPolicy RestartPolicy     `json:"restart_policy,omitempty"`
	Network       string            `json:"network,omitempty"`
	HealthPath    string            `json:"health_path,omitempty"`
	HealthPort    int               `json:"health_port,omitempty"`
	Tags          []string          `json:"tags,omitempty"`
	Metadata      map[string]string `json:"metadata,omitempty"`
	CreatedAt     time.Time         `json:"created_at"`
	UpdatedAt     time.Time         `json:"updated_at"`
	CreatedBy     string            `json:"created_by,omitempty"`
}

// DeploymentStatus represents the state of a deployment
type DeploymentStatus string

const (
	DeploymentPending   DeploymentStatus = "pending"
	DeploymentDeploying DeploymentStatus = "deploying"
	DeploymentRunning   DeploymentStatus = "running"
	DeploymentStopped   DeploymentStatus = "stopped"
	DeploymentFailed    DeploymentStatus = "failed"
	DeploymentRemoving  DeploymentStatus = "removing"
)

// Live reports whether the status occupies the (service, worker) slot
func (s DeploymentStatus) Live() bool {
	return s == DeploymentDeploying || s == DeploymentRunning
}

// Deployment is a single instance of a service on a specific worker
type Deployment struct {
	ID              string             `json:"id"`
	ServiceID       string             `json:"service_id"`
	WorkerHostname  string             `json:"worker_hostname"`
	Status          DeploymentStatus   `json:"status"`
	ContainerID     string             `json:"container_id,omitempty"`
	ContainerName   string             `json:"container_name"`
	DeployedConfig  *ServiceDefinition `json:"deployed_config,omitempty"`
	CreatedAt       time.Time          `json:"created_at"`
	DeployedAt      *time.Time         `json:"deployed_at,omitempty"`
	StoppedAt       *time.Time         `json:"stopped_at,omitempty"`
	LastHealthCheck *time.Time         `json:"last_health_check,omitempty"`
	Healthy         *bool              `json:"healthy,omitempty"`
	Error           string             `json:"error,omitempty"`
	RetryCount      int                `json:"retry_count"`
	ExposedPort     int                `json:"exposed_port,omitempty"`
}

// NodeMetrics is a point-in-time resource sample carried by heartbeats
type NodeMetrics struct {
	CPUPercent     float64   `json:"cpu_percent"`
	MemoryPercent  float64   `json:"memory_percent"`
	DiskPercent    float64   `json:"disk_percent"`
	ContainerCount int       `json:"container_count"`
	Timestamp      time.Time `json:"timestamp"`
}

// HeartbeatPayload is what a worker agent POSTs to the leader
type HeartbeatPayload struct {
	Hostname        string       `json:"hostname"`
	Status          NodeStatus   `json:"status"`
	AgentVersion    string       `json:"agent_version,omitempty"`
	ServicesRunning []string     `json:"services_running,omitempty"`
	Capabilities    Capabilities `json:"capabilities"`
	Metrics         *NodeMetrics `json:"metrics,omitempty"`
}

// RegisterRequest is the body of POST /register
type RegisterRequest struct {
	Token        string        `json:"token"`
	Hostname     string        `json:"hostname"`
	VPNAddress   string        `json:"vpn_address"`
	Platform     Platform      `json:"platform,omitempty"`
	AgentVersion string        `json:"agent_version,omitempty"`
	Capabilities *Capabilities `json:"capabilities,omitempty"`
}

// RegisteredNode is the worker view returned by register/claim responses.
// Metadata carries the plaintext secret under "unode_secret" exactly once,
// on first registration; it is never persisted or listed afterwards.
type RegisteredNode struct {
	Hostname     string            `json:"hostname"`
	VPNAddress   string            `json:"vpn_address"`
	Platform     Platform          `json:"platform"`
	Role         NodeRole          `json:"role"`
	Status       NodeStatus        `json:"status"`
	AgentVersion string            `json:"agent_version,omitempty"`
	RegisteredAt time.Time         `json:"registered_at"`
	Metadata     map[string]string `json:"metadata,omitempty"`
}

// RegisterResponse is returned by POST /register
type RegisterResponse struct {
	Unode *RegisteredNode `json:"unode"`
}

// DeployRequest is what the leader relays to an agent's POST /deploy
type DeployRequest struct {
	ContainerName string            `json:"container_name"`
	Image         string            `json:"image"`
	Ports         map[string]int    `json:"ports,omitempty"`
	Env           map[string]string `json:"env,omitempty"`
	Volumes       []string          `json:"volumes,omitempty"`
	Command       []string          `json:"command,omitempty"`
	RestartPolicy RestartPolicy     `json:"restart_policy,omitempty"`
	Network       string            `json:"network,omitempty"`
}

// DeployResult is the agent's answer to a deploy
type DeployResult struct {
	Success       bool   `json:"success"`
	ContainerID   string `json:"container_id,omitempty"`
	ContainerName string `json:"container_name,omitempty"`
	Status        string `json:"status,omitempty"`
	Error         string `json:"error,omitempty"`
}

// ContainerOpRequest names the container for stop/restart/remove
type ContainerOpRequest struct {
	ContainerName string `json:"container_name"`
	TimeoutSec    int    `json:"timeout_sec,omitempty"`
}

// ContainerOpResult is the agent's answer to stop/restart/remove
type ContainerOpResult struct {
	Success bool   `json:"success"`
	Error   string `json:"error,omitempty"`
}

// ContainerStatusInfo describes one container on a worker
type ContainerStatusInfo struct {
	ContainerID   string `json:"container_id"`
	ContainerName string `json:"container_name"`
	Image         string `json:"image,omitempty"`
	Status        string `json:"status"`
}

// UpgradeRequest asks an agent to replace its own image
type UpgradeRequest struct {
	Image string `json:"image"`
}

// AgentHealth is the unauthenticated GET /health answer of an agent
type AgentHealth struct {
	Status          string `json:"status"`
	Hostname        string `json:"hostname"`
	AgentVersion    string `json:"agent_version"`
	DockerAvailable bool   `json:"docker_available"`
}

// AgentInfo is the unauthenticated GET /info answer, used by discovery
type AgentInfo struct {
	Hostname   string `json:"hostname"`
	VPNAddress string `json:"vpn_address"`
	LeaderURL  string `json:"leader_url,omitempty"`
	Bound      bool   `json:"bound"`
}

// ClaimRequest registers an available peer without a join token
type ClaimRequest struct {
	Hostname   string `json:"hostname"`
	VPNAddress string `json:"vpn_address"`
}

// AgentClaimRequest is what the leader pushes to a claimed agent so the
// agent learns its new binding and shared secret
type AgentClaimRequest struct {
	LeaderURL string `json:"leader_url"`
	Secret    string `json:"secret"`
}

// ErrorResponse is the JSON body of every non-2xx control plane answer
type ErrorResponse struct {
	Error string `json:"error"`
	Kind  string `json:"kind,omitempty"`
}

// PeerCategory classifies a mesh peer during discovery
type PeerCategory string

const (
	PeerRegistered PeerCategory = "registered"
	PeerAvailable  PeerCategory = "available"
	PeerUnknown    PeerCategory = "unknown"
)

// DiscoveredPeer is one categorized entry from a discovery sweep
type DiscoveredPeer struct {
	Hostname   string       `json:"hostname"`
	VPNAddress string       `json:"vpn_address"`
	Category   PeerCategory `json:"category"`
	LeaderURL  string       `json:"leader_url,omitempty"`
}

// DiscoveryResult aggregates a discovery sweep
type DiscoveryResult struct {
	Registered []DiscoveredPeer `json:"registered"`
	Available  []DiscoveredPeer `json:"available"`
	Unknown    []DiscoveredPeer `json:"unknown"`
	Counts     map[string]int   `json:"counts"`
}

// UpgradeFailure records one worker that failed a rolling upgrade
type UpgradeFailure struct {
	Hostname string `json:"hostname"`
	Error    string `json:"error"`
}

// UpgradeAllResult aggregates a rolling upgrade across workers
type UpgradeAllResult struct {
	Total     int              `json:"total"`
	Succeeded []string         `json:"succeeded"`
	Failed    []UpgradeFailure `json:"failed"`
	Image     string           `json:"image"`
}

// CreateTokenRequest is the body of POST /tokens
type CreateTokenRequest struct {
	Role       NodeRole `json:"role,omitempty"`
	MaxUses    int      `json:"max_uses,omitempty"`
	TTLMinutes int      `json:"ttl_minutes,omitempty"`
}

// JoinTokenResponse carries a fresh token plus ready-to-paste commands
type JoinTokenResponse struct {
	Token            string    `json:"token"`
	ExpiresAt        time.Time `json:"expires_at"`
	JoinCommand      string    `json:"join_command"`
	JoinCommandPS    string    `json:"join_command_ps"`
	BootstrapCommand string    `json:"bootstrap_command"`
	BootstrapCmdPS   string    `json:"bootstrap_command_ps"`
}

// CreateDeploymentRequest is the body of POST /deployments
type CreateDeploymentRequest struct {
	ServiceID      string `json:"service_id"`
	WorkerHostname string `json:"worker_hostname"`
}
