package manager

import (
	"fmt"
	"strings"
	"text/template"
)

// DefaultAgentImage is the image the generated scripts run as the
// worker agent.
const DefaultAgentImage = "ghcr.io/burrowctl/agent:latest"

// ScriptKind selects which flavor of onboarding script to render.
type ScriptKind string

const (
	// ScriptJoin assumes the container runtime and VPN are present and
	// only registers and starts the agent.
	ScriptJoin ScriptKind = "join"
	// ScriptBootstrap installs the runtime and VPN first.
	ScriptBootstrap ScriptKind = "bootstrap"
)

// ScriptShell selects the target shell.
type ScriptShell string

const (
	ShellPosix      ScriptShell = "sh"
	ShellPowershell ScriptShell = "ps1"
)

type scriptData struct {
	Token      string
	LeaderURL  string
	AgentImage string
	AgentPort  int
}

// RenderScript produces the onboarding script for a token. The output
// is complete and self-contained; the only dynamic parts are the token
// literal and the leader address.
func (m *Manager) RenderScript(kind ScriptKind, shell ScriptShell, token string) (string, error) {
	tmpl, ok := scripts[string(kind)+"/"+string(shell)]
	if !ok {
		return "", fmt.Errorf("no script for %s/%s", kind, shell)
	}

	var buf strings.Builder
	err := tmpl.Execute(&buf, scriptData{
		Token:      token,
		LeaderURL:  m.LeaderURL(),
		AgentImage: DefaultAgentImage,
		AgentPort:  8444,
	})
	if err != nil {
		return "", fmt.Errorf("render %s/%s script: %w", kind, shell, err)
	}
	return buf.String(), nil
}

var scripts = map[string]*template.Template{
	"join/sh":       template.Must(template.New("join-sh").Parse(joinSh)),
	"join/ps1":      template.Must(template.New("join-ps1").Parse(joinPs1)),
	"bootstrap/sh":  template.Must(template.New("bootstrap-sh").Parse(bootstrapSh)),
	"bootstrap/ps1": template.Must(template.New("bootstrap-ps1").Parse(bootstrapPs1)),
}

const joinSh = `#!/bin/sh
# burrow join script. Registers this machine with the leader and starts
# the agent. Requires a container runtime and a connected mesh VPN.
set -eu

LEADER_URL="{{.LeaderURL}}"
TOKEN="{{.Token}}"
NODE_HOSTNAME="${NODE_HOSTNAME:-$(hostname)}"
VPN_ADDRESS="${VPN_ADDRESS:-$(tailscale ip -4 2>/dev/null | head -n 1)}"

if [ -z "$VPN_ADDRESS" ]; then
  echo "error: no VPN address; is tailscale up?" >&2
  exit 1
fi

echo "Registering $NODE_HOSTNAME ($VPN_ADDRESS) with $LEADER_URL"
RESPONSE=$(curl -fsS -X POST "$LEADER_URL/register" \
  -H 'Content-Type: application/json' \
  -d "{\"token\":\"$TOKEN\",\"hostname\":\"$NODE_HOSTNAME\",\"vpn_address\":\"$VPN_ADDRESS\",\"platform\":\"linux\"}")

NODE_SECRET=$(printf '%s' "$RESPONSE" | sed -n 's/.*"unode_secret":"\([^"]*\)".*/\1/p')
if [ -z "$NODE_SECRET" ]; then
  echo "error: registration did not return a node secret" >&2
  echo "$RESPONSE" >&2
  exit 1
fi

docker rm -f burrow-agent >/dev/null 2>&1 || true
docker run -d --name burrow-agent --restart always \
  --network host \
  -v /run/containerd/containerd.sock:/run/containerd/containerd.sock \
  -v /var/lib/burrow:/var/lib/burrow \
  -e LEADER_URL="$LEADER_URL" \
  -e NODE_SECRET="$NODE_SECRET" \
  -e NODE_HOSTNAME="$NODE_HOSTNAME" \
  -e VPN_ADDRESS="$VPN_ADDRESS" \
  -e MANAGER_PORT="{{.AgentPort}}" \
  {{.AgentImage}}

echo "Agent started. This node is now part of the fleet."
`

const joinPs1 = `# burrow join script (PowerShell). Registers this machine with the
# leader and starts the agent.
$ErrorActionPreference = "Stop"

$LeaderUrl = "{{.LeaderURL}}"
$Token = "{{.Token}}"
$NodeHostname = if ($env:NODE_HOSTNAME) { $env:NODE_HOSTNAME } else { $env:COMPUTERNAME }
$VpnAddress = if ($env:VPN_ADDRESS) { $env:VPN_ADDRESS } else { (tailscale ip -4 | Select-Object -First 1) }

if (-not $VpnAddress) {
  Write-Error "no VPN address; is tailscale up?"
}

Write-Host "Registering $NodeHostname ($VpnAddress) with $LeaderUrl"
$Body = @{ token = $Token; hostname = $NodeHostname; vpn_address = $VpnAddress; platform = "windows" } | ConvertTo-Json
$Response = Invoke-RestMethod -Method Post -Uri "$LeaderUrl/register" -ContentType "application/json" -Body $Body

$NodeSecret = $Response.unode.metadata.unode_secret
if (-not $NodeSecret) {
  Write-Error "registration did not return a node secret"
}

docker rm -f burrow-agent 2>$null
docker run -d --name burrow-agent --restart always ` + "`" + `
  -p {{.AgentPort}}:{{.AgentPort}} ` + "`" + `
  -v burrow-data:/var/lib/burrow ` + "`" + `
  -e LEADER_URL=$LeaderUrl ` + "`" + `
  -e NODE_SECRET=$NodeSecret ` + "`" + `
  -e NODE_HOSTNAME=$NodeHostname ` + "`" + `
  -e VPN_ADDRESS=$VpnAddress ` + "`" + `
  -e MANAGER_PORT={{.AgentPort}} ` + "`" + `
  {{.AgentImage}}

Write-Host "Agent started. This node is now part of the fleet."
`

const bootstrapSh = `#!/bin/sh
# burrow bootstrap script. Installs the container runtime and mesh VPN,
# connects, then joins the fleet.
set -eu

if ! command -v docker >/dev/null 2>&1; then
  echo "Installing container runtime..."
  curl -fsSL https://get.docker.com | sh
fi

if ! command -v tailscale >/dev/null 2>&1; then
  echo "Installing tailscale..."
  curl -fsSL https://tailscale.com/install.sh | sh
fi

if ! tailscale ip -4 >/dev/null 2>&1; then
  echo "Connecting to the mesh VPN..."
  tailscale up
fi

curl -fsSL "{{.LeaderURL}}/join/{{.Token}}" | sh
`

const bootstrapPs1 = `# burrow bootstrap script (PowerShell). Installs the container runtime
# and mesh VPN, connects, then joins the fleet.
$ErrorActionPreference = "Stop"

if (-not (Get-Command docker -ErrorAction SilentlyContinue)) {
  Write-Host "Installing container runtime..."
  winget install --accept-package-agreements --accept-source-agreements Docker.DockerDesktop
}

if (-not (Get-Command tailscale -ErrorAction SilentlyContinue)) {
  Write-Host "Installing tailscale..."
  winget install --accept-package-agreements --accept-source-agreements Tailscale.Tailscale
}

if (-not (tailscale ip -4 2>$null)) {
  Write-Host "Connecting to the mesh VPN..."
  tailscale up
}

Invoke-WebRequest -UseBasicParsing "{{.LeaderURL}}/join/{{.Token}}/ps1" | Invoke-Expression
`
