package manager

import (
	"context"
	"errors"

	"github.com/burrowctl/burrow/pkg/errdefs"
	"github.com/burrowctl/burrow/pkg/types"
)

// DiscoverPeers sweeps the mesh and categorizes every peer:
//
//   - registered: hostname or VPN address matches a worker row
//   - available:  a reachable agent that is not registered here
//   - unknown:    no agent answered the probe
func (m *Manager) DiscoverPeers(ctx context.Context) (*types.DiscoveryResult, error) {
	if m.mesh == nil {
		return nil, errdefs.RuntimeUnavailable("no mesh configured")
	}
	peers, err := m.mesh.Peers(ctx)
	if err != nil {
		return nil, err
	}

	result := &types.DiscoveryResult{
		Registered: []types.DiscoveredPeer{},
		Available:  []types.DiscoveredPeer{},
		Unknown:    []types.DiscoveredPeer{},
	}

	for _, peer := range peers {
		if peer.VPNAddress == "" {
			continue
		}
		dp := types.DiscoveredPeer{Hostname: peer.Hostname, VPNAddress: peer.VPNAddress}

		if m.isRegistered(peer.Hostname, peer.VPNAddress) {
			dp.Category = types.PeerRegistered
			result.Registered = append(result.Registered, dp)
			continue
		}

		// Probe for an agent; offline peers are not probed.
		if !peer.Online || !m.probeAgent(ctx, &dp) {
			dp.Category = types.PeerUnknown
			result.Unknown = append(result.Unknown, dp)
			continue
		}
		dp.Category = types.PeerAvailable
		result.Available = append(result.Available, dp)
	}

	result.Counts = map[string]int{
		"registered": len(result.Registered),
		"available":  len(result.Available),
		"unknown":    len(result.Unknown),
	}
	return result, nil
}

func (m *Manager) isRegistered(hostname, vpnAddress string) bool {
	if hostname != "" {
		if _, err := m.store.GetWorker(hostname); err == nil {
			return true
		} else if !errors.Is(err, errdefs.ErrNotFound) {
			return false
		}
	}
	_, err := m.store.GetWorkerByVPNAddress(vpnAddress)
	return err == nil
}

// probeAgent checks for a live agent and, when one answers, fills in
// the binding details from its info endpoint.
func (m *Manager) probeAgent(ctx context.Context, dp *types.DiscoveredPeer) bool {
	agent := m.dial(dp.VPNAddress, "")
	if _, err := agent.Health(ctx); err != nil {
		return false
	}
	if info, err := agent.Info(ctx); err == nil {
		if info.Hostname != "" {
			dp.Hostname = info.Hostname
		}
		dp.LeaderURL = info.LeaderURL
	}
	return true
}
