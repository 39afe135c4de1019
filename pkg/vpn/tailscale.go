package vpn

import (
	"context"
	"encoding/json"
	"fmt"
	"os/exec"
	"strings"

	"github.com/burrowctl/burrow/pkg/errdefs"
)

// Peer is one node visible on the mesh.
type Peer struct {
	Hostname   string
	VPNAddress string
	Online     bool
	OS         string
	Self       bool
}

// Mesh lists the nodes reachable over the VPN. The tailscale CLI is the
// production implementation; tests substitute a static list.
type Mesh interface {
	Self(ctx context.Context) (*Peer, error)
	Peers(ctx context.Context) ([]Peer, error)
}

// TailscaleMesh shells out to the tailscale CLI. The daemon owns the
// wireguard state; `tailscale status --json` is the stable read surface.
type TailscaleMesh struct {
	// Binary overrides the tailscale executable path, for tests.
	Binary string
}

func (m *TailscaleMesh) binary() string {
	if m.Binary != "" {
		return m.Binary
	}
	return "tailscale"
}

// Self returns this node's mesh identity.
func (m *TailscaleMesh) Self(ctx context.Context) (*Peer, error) {
	status, err := m.status(ctx)
	if err != nil {
		return nil, err
	}
	if status.Self == nil {
		return nil, errdefs.Unreachable("tailscale reports no self node")
	}
	p := peerFromStatus(status.Self)
	p.Self = true
	return &p, nil
}

// Peers returns every other node on the tailnet, online or not.
func (m *TailscaleMesh) Peers(ctx context.Context) ([]Peer, error) {
	status, err := m.status(ctx)
	if err != nil {
		return nil, err
	}

	peers := make([]Peer, 0, len(status.Peer))
	for _, ps := range status.Peer {
		peers = append(peers, peerFromStatus(ps))
	}
	return peers, nil
}

func (m *TailscaleMesh) status(ctx context.Context) (*tailscaleStatus, error) {
	out, err := exec.CommandContext(ctx, m.binary(), "status", "--json").Output()
	if err != nil {
		return nil, errdefs.Unreachable("tailscale status: %v", err)
	}
	return parseStatus(out)
}

// tailscaleStatus mirrors the fields of `tailscale status --json` that
// discovery needs.
type tailscaleStatus struct {
	Self *peerStatus            `json:"Self"`
	Peer map[string]*peerStatus `json:"Peer"`
}

type peerStatus struct {
	HostName     string   `json:"HostName"`
	DNSName      string   `json:"DNSName"`
	OS           string   `json:"OS"`
	TailscaleIPs []string `json:"TailscaleIPs"`
	Online       bool     `json:"Online"`
}

func parseStatus(data []byte) (*tailscaleStatus, error) {
	var status tailscaleStatus
	if err := json.Unmarshal(data, &status); err != nil {
		return nil, fmt.Errorf("parse tailscale status: %w", err)
	}
	return &status, nil
}

func peerFromStatus(ps *peerStatus) Peer {
	addr := ""
	for _, ip := range ps.TailscaleIPs {
		// Prefer the IPv4 address; agents listen on it.
		if !strings.Contains(ip, ":") {
			addr = ip
			break
		}
	}
	if addr == "" && len(ps.TailscaleIPs) > 0 {
		addr = ps.TailscaleIPs[0]
	}

	hostname := ps.HostName
	if hostname == "" {
		hostname = strings.SplitN(ps.DNSName, ".", 2)[0]
	}
	return Peer{
		Hostname:   hostname,
		VPNAddress: addr,
		Online:     ps.Online,
		OS:         ps.OS,
	}
}

// StaticMesh serves a fixed peer list, for tests and offline tooling.
type StaticMesh struct {
	Node     Peer
	PeerList []Peer
}

func (m *StaticMesh) Self(ctx context.Context) (*Peer, error) {
	p := m.Node
	return &p, nil
}

func (m *StaticMesh) Peers(ctx context.Context) ([]Peer, error) {
	return append([]Peer(nil), m.PeerList...), nil
}
