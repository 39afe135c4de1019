package client

import (
	"context"

	"github.com/burrowctl/burrow/pkg/types"
)

// AgentAPI is the surface the leader drives on a worker agent.
// *AgentClient implements it; tests substitute fakes.
type AgentAPI interface {
	Health(ctx context.Context) (*types.AgentHealth, error)
	Info(ctx context.Context) (*types.AgentInfo, error)
	Deploy(ctx context.Context, req *types.DeployRequest) (*types.DeployResult, error)
	StopContainer(ctx context.Context, req *types.ContainerOpRequest) error
	RestartContainer(ctx context.Context, req *types.ContainerOpRequest) error
	RemoveContainer(ctx context.Context, req *types.ContainerOpRequest) error
	Logs(ctx context.Context, containerName string, tail int) (string, error)
	ContainerStatus(ctx context.Context, containerName string) (*types.ContainerStatusInfo, error)
	ListContainers(ctx context.Context) ([]types.ContainerStatusInfo, error)
	Upgrade(ctx context.Context, image string) error
	Claim(ctx context.Context, req *types.AgentClaimRequest) error
	Release(ctx context.Context) error
}

// Dialer builds an AgentAPI for a worker's VPN address and secret.
type Dialer func(vpnAddress, secret string) AgentAPI

// DialAgent is the production dialer.
func DialAgent(vpnAddress, secret string) AgentAPI {
	return NewAgentClient(vpnAddress, secret)
}
