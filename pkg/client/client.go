package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/burrowctl/burrow/pkg/errdefs"
	"github.com/burrowctl/burrow/pkg/types"
)

// SecretHeader carries the shared node secret on agent-bound requests.
const SecretHeader = "X-Node-Secret"

// DefaultAgentPort is the port worker agents listen on.
const DefaultAgentPort = 8444

// Per-operation timeouts. Probes stay short so discovery sweeps over
// dead peers finish quickly; deploys and upgrades pull images.
const (
	ProbeTimeout   = 2 * time.Second
	ShortTimeout   = 5 * time.Second
	DefaultTimeout = 30 * time.Second
	DeployTimeout  = 120 * time.Second
)

// AgentClient is the leader's HTTP client for one worker agent.
type AgentClient struct {
	baseURL    string
	secret     string
	httpClient *http.Client
}

// NewAgentClient builds a client for the agent at the given VPN address.
// The secret is the worker's plaintext node secret; it may be empty for
// clients that only hit the unauthenticated probe endpoints.
func NewAgentClient(vpnAddress, secret string) *AgentClient {
	return &AgentClient{
		baseURL:    fmt.Sprintf("http://%s:%d", vpnAddress, DefaultAgentPort),
		secret:     secret,
		httpClient: &http.Client{},
	}
}

// NewAgentClientURL builds a client for an explicit base URL, for tests
// and non-standard ports.
func NewAgentClientURL(baseURL, secret string) *AgentClient {
	return &AgentClient{
		baseURL:    baseURL,
		secret:     secret,
		httpClient: &http.Client{},
	}
}

// Health probes the agent's unauthenticated health endpoint.
func (c *AgentClient) Health(ctx context.Context) (*types.AgentHealth, error) {
	var out types.AgentHealth
	if err := c.do(ctx, http.MethodGet, "/health", ProbeTimeout, false, nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Info probes the agent's unauthenticated identity endpoint.
func (c *AgentClient) Info(ctx context.Context) (*types.AgentInfo, error) {
	var out types.AgentInfo
	if err := c.do(ctx, http.MethodGet, "/info", ProbeTimeout, false, nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Deploy asks the agent to run a container.
func (c *AgentClient) Deploy(ctx context.Context, req *types.DeployRequest) (*types.DeployResult, error) {
	var out types.DeployResult
	if err := c.do(ctx, http.MethodPost, "/deploy", DeployTimeout, true, req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// StopContainer stops a container on the agent.
func (c *AgentClient) StopContainer(ctx context.Context, req *types.ContainerOpRequest) error {
	var out types.ContainerOpResult
	return c.do(ctx, http.MethodPost, "/stop", DefaultTimeout, true, req, &out)
}

// RestartContainer restarts a container on the agent.
func (c *AgentClient) RestartContainer(ctx context.Context, req *types.ContainerOpRequest) error {
	var out types.ContainerOpResult
	return c.do(ctx, http.MethodPost, "/restart", DefaultTimeout, true, req, &out)
}

// RemoveContainer removes a container on the agent.
func (c *AgentClient) RemoveContainer(ctx context.Context, req *types.ContainerOpRequest) error {
	var out types.ContainerOpResult
	return c.do(ctx, http.MethodPost, "/remove", DefaultTimeout, true, req, &out)
}

// Logs fetches the trailing lines of a container's output.
func (c *AgentClient) Logs(ctx context.Context, containerName string, tail int) (string, error) {
	path := "/logs/" + url.PathEscape(containerName)
	if tail > 0 {
		path += "?tail=" + strconv.Itoa(tail)
	}
	var out struct {
		Logs string `json:"logs"`
	}
	if err := c.do(ctx, http.MethodGet, path, DefaultTimeout, true, nil, &out); err != nil {
		return "", err
	}
	return out.Logs, nil
}

// ContainerStatus reports one container's state on the agent.
func (c *AgentClient) ContainerStatus(ctx context.Context, containerName string) (*types.ContainerStatusInfo, error) {
	var out types.ContainerStatusInfo
	path := "/status/" + url.PathEscape(containerName)
	if err := c.do(ctx, http.MethodGet, path, DefaultTimeout, true, nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// ListContainers enumerates containers on the agent.
func (c *AgentClient) ListContainers(ctx context.Context) ([]types.ContainerStatusInfo, error) {
	var out []types.ContainerStatusInfo
	if err := c.do(ctx, http.MethodGet, "/containers", DefaultTimeout, true, nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// Upgrade asks the agent to replace itself with a new image. The agent
// acknowledges before tearing itself down, so a successful call means
// accepted, not completed.
func (c *AgentClient) Upgrade(ctx context.Context, image string) error {
	return c.do(ctx, http.MethodPost, "/upgrade", DeployTimeout, true, &types.UpgradeRequest{Image: image}, nil)
}

// Claim pushes a leader binding and node secret to an unbound agent.
func (c *AgentClient) Claim(ctx context.Context, req *types.AgentClaimRequest) error {
	return c.do(ctx, http.MethodPost, "/claim", ShortTimeout, true, req, nil)
}

// Release tells the agent to drop its leader binding so another leader
// may claim it.
func (c *AgentClient) Release(ctx context.Context) error {
	return c.do(ctx, http.MethodPost, "/release", ShortTimeout, true, nil, nil)
}

func (c *AgentClient) do(ctx context.Context, method, path string, timeout time.Duration, auth bool, in, out any) error {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	var body io.Reader
	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if auth {
		req.Header.Set(SecretHeader, c.secret)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return errdefs.Timeout("agent %s: %s %s", c.baseURL, method, path)
		}
		return errdefs.Unreachable("agent %s: %v", c.baseURL, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return decodeError(resp)
	}
	if out != nil && resp.StatusCode != http.StatusNoContent {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return fmt.Errorf("decode response: %w", err)
		}
	}
	return nil
}

// decodeError turns a non-2xx response into a kinded error, preferring
// the kind carried in the body over a status-code guess.
func decodeError(resp *http.Response) error {
	var body types.ErrorResponse
	data, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	if err := json.Unmarshal(data, &body); err == nil && body.Error != "" {
		if body.Kind != "" {
			return errdefs.FromKindString(body.Kind, "%s", body.Error)
		}
		return kindFromStatus(resp.StatusCode, body.Error)
	}
	return kindFromStatus(resp.StatusCode, http.StatusText(resp.StatusCode))
}

func kindFromStatus(status int, msg string) error {
	switch status {
	case http.StatusNotFound:
		return errdefs.NotFound("%s", msg)
	case http.StatusUnauthorized:
		return errdefs.Unauthorized("%s", msg)
	case http.StatusConflict:
		return errdefs.Conflict("%s", msg)
	case http.StatusBadGateway:
		return errdefs.Unreachable("%s", msg)
	case http.StatusGatewayTimeout:
		return errdefs.Timeout("%s", msg)
	default:
		return errdefs.Internal("%s", msg)
	}
}
