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

	"github.com/burrowctl/burrow/pkg/errdefs"
	"github.com/burrowctl/burrow/pkg/types"
)

// OperatorClient drives the leader's operator API from the CLI.
type OperatorClient struct {
	baseURL    string
	token      string
	httpClient *http.Client
}

// NewOperatorClient builds a client for the leader at baseURL,
// authenticated with the operator bearer token.
func NewOperatorClient(baseURL, token string) *OperatorClient {
	return &OperatorClient{
		baseURL:    baseURL,
		token:      token,
		httpClient: &http.Client{},
	}
}

// CreateToken mints a join token. ttlMinutes of zero takes the leader's
// default lifetime.
func (c *OperatorClient) CreateToken(ctx context.Context, maxUses, ttlMinutes int) (*types.JoinTokenResponse, error) {
	var out types.JoinTokenResponse
	err := c.do(ctx, http.MethodPost, "/tokens", &types.CreateTokenRequest{
		MaxUses:    maxUses,
		TTLMinutes: ttlMinutes,
	}, &out)
	if err != nil {
		return nil, err
	}
	return &out, nil
}

// GetService fetches one catalog entry.
func (c *OperatorClient) GetService(ctx context.Context, serviceID string) (*types.ServiceDefinition, error) {
	var out types.ServiceDefinition
	if err := c.do(ctx, http.MethodGet, "/services/"+url.PathEscape(serviceID), nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// CreateService registers a catalog entry.
func (c *OperatorClient) CreateService(ctx context.Context, svc *types.ServiceDefinition) (*types.ServiceDefinition, error) {
	var out types.ServiceDefinition
	if err := c.do(ctx, http.MethodPost, "/services", svc, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// UpdateService overwrites a catalog entry.
func (c *OperatorClient) UpdateService(ctx context.Context, svc *types.ServiceDefinition) (*types.ServiceDefinition, error) {
	var out types.ServiceDefinition
	if err := c.do(ctx, http.MethodPut, "/services/"+url.PathEscape(svc.ServiceID), svc, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *OperatorClient) do(ctx context.Context, method, path string, in, out any) error {
	ctx, cancel := context.WithTimeout(ctx, DefaultTimeout)
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
	req.Header.Set("Authorization", "Bearer "+c.token)

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
	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return fmt.Errorf("decode response: %w", err)
		}
	}
	return nil
}
