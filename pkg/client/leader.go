package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/burrowctl/burrow/pkg/errdefs"
	"github.com/burrowctl/burrow/pkg/types"
)

// LeaderClient is a worker agent's HTTP client for the leader.
type LeaderClient struct {
	baseURL    string
	secret     string
	httpClient *http.Client
}

// NewLeaderClient builds a client for the leader's control plane URL.
// The secret is the node secret issued at registration; it is empty
// until the agent has joined.
func NewLeaderClient(leaderURL, secret string) *LeaderClient {
	return &LeaderClient{
		baseURL:    strings.TrimRight(leaderURL, "/"),
		secret:     secret,
		httpClient: &http.Client{},
	}
}

// SetSecret updates the node secret after a successful join or claim.
func (c *LeaderClient) SetSecret(secret string) {
	c.secret = secret
}

// Register redeems a join token. The response metadata carries the node
// secret exactly once.
func (c *LeaderClient) Register(ctx context.Context, req *types.RegisterRequest) (*types.RegisterResponse, error) {
	var out types.RegisterResponse
	if err := c.do(ctx, http.MethodPost, "/register", DefaultTimeout, req, &out); err != nil {
		return nil, err
	}
	if out.Unode == nil {
		return nil, errdefs.Internal("register response missing node")
	}
	return &out, nil
}

// Heartbeat reports liveness and a metrics sample to the leader.
func (c *LeaderClient) Heartbeat(ctx context.Context, payload *types.HeartbeatPayload) error {
	return c.do(ctx, http.MethodPost, "/heartbeat", ShortTimeout, payload, nil)
}

func (c *LeaderClient) do(ctx context.Context, method, path string, timeout time.Duration, in, out any) error {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	var body *bytes.Reader
	data, err := json.Marshal(in)
	if err != nil {
		return fmt.Errorf("encode request: %w", err)
	}
	body = bytes.NewReader(data)

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.secret != "" {
		req.Header.Set(SecretHeader, c.secret)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return errdefs.Timeout("leader %s: %s %s", c.baseURL, method, path)
		}
		return errdefs.Unreachable("leader %s: %v", c.baseURL, err)
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
