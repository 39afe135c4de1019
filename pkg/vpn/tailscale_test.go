package vpn

import (
	"testing"
)

const statusFixture = `{
  "Self": {
    "HostName": "leader-1",
    "DNSName": "leader-1.example.ts.net.",
    "OS": "linux",
    "TailscaleIPs": ["100.64.0.1", "fd7a:115c:a1e0::1"],
    "Online": true
  },
  "Peer": {
    "keyA": {
      "HostName": "worker-a",
      "DNSName": "worker-a.example.ts.net.",
      "OS": "linux",
      "TailscaleIPs": ["100.64.0.2", "fd7a:115c:a1e0::2"],
      "Online": true
    },
    "keyB": {
      "HostName": "",
      "DNSName": "worker-b.example.ts.net.",
      "OS": "darwin",
      "TailscaleIPs": ["fd7a:115c:a1e0::3"],
      "Online": false
    }
  }
}`

func TestParseStatus(t *testing.T) {
	status, err := parseStatus([]byte(statusFixture))
	if err != nil {
		t.Fatalf("parseStatus() error = %v", err)
	}

	self := peerFromStatus(status.Self)
	if self.Hostname != "leader-1" {
		t.Errorf("self hostname = %q", self.Hostname)
	}
	if self.VPNAddress != "100.64.0.1" {
		t.Errorf("self address = %q, want the IPv4 address", self.VPNAddress)
	}

	if len(status.Peer) != 2 {
		t.Fatalf("got %d peers, want 2", len(status.Peer))
	}

	a := peerFromStatus(status.Peer["keyA"])
	if a.Hostname != "worker-a" || a.VPNAddress != "100.64.0.2" || !a.Online {
		t.Errorf("peer a = %+v", a)
	}

	b := peerFromStatus(status.Peer["keyB"])
	if b.Hostname != "worker-b" {
		t.Errorf("peer b hostname = %q, want DNS-derived worker-b", b.Hostname)
	}
	if b.VPNAddress != "fd7a:115c:a1e0::3" {
		t.Errorf("peer b address = %q, want IPv6 fallback", b.VPNAddress)
	}
	if b.Online {
		t.Error("peer b should be offline")
	}
}

func TestParseStatusInvalid(t *testing.T) {
	if _, err := parseStatus([]byte("not json")); err == nil {
		t.Fatal("expected parse error")
	}
}

func TestStaticMesh(t *testing.T) {
	m := &StaticMesh{
		Node:     Peer{Hostname: "leader", VPNAddress: "100.64.0.1"},
		PeerList: []Peer{{Hostname: "w1", VPNAddress: "100.64.0.2", Online: true}},
	}

	self, err := m.Self(t.Context())
	if err != nil || self.Hostname != "leader" {
		t.Fatalf("Self() = %+v, %v", self, err)
	}
	peers, err := m.Peers(t.Context())
	if err != nil || len(peers) != 1 {
		t.Fatalf("Peers() = %+v, %v", peers, err)
	}
}
