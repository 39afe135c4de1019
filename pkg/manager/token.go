package manager

import (
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/burrowctl/burrow/pkg/errdefs"
	"github.com/burrowctl/burrow/pkg/events"
	"github.com/burrowctl/burrow/pkg/security"
	"github.com/burrowctl/burrow/pkg/types"
)

// Token issuance defaults.
const (
	defaultTokenTTL     = 24 * time.Hour
	defaultTokenMaxUses = 1
	tokenBytes          = 32
)

// CreateJoinToken mints a join token and composes the ready-to-paste
// command pairs for it.
func (m *Manager) CreateJoinToken(createdBy string, req *types.CreateTokenRequest) (*types.JoinTokenResponse, error) {
	role := types.NodeRoleWorker
	if req.Role != "" {
		if req.Role != types.NodeRoleWorker && req.Role != types.NodeRoleStandby {
			return nil, errdefs.Invalid("role %q cannot be granted by token", req.Role)
		}
		role = req.Role
	}

	maxUses := req.MaxUses
	if maxUses <= 0 {
		maxUses = defaultTokenMaxUses
	}
	ttl := defaultTokenTTL
	if req.TTLMinutes > 0 {
		ttl = time.Duration(req.TTLMinutes) * time.Minute
	}

	value, err := security.RandomToken(tokenBytes)
	if err != nil {
		return nil, errdefs.Internal("mint token: %v", err)
	}

	now := time.Now()
	token := &types.JoinToken{
		Token:     value,
		CreatedAt: now,
		ExpiresAt: now.Add(ttl),
		CreatedBy: createdBy,
		Role:      role,
		MaxUses:   maxUses,
		IsActive:  true,
	}
	if err := m.store.CreateToken(token); err != nil {
		return nil, err
	}

	m.logger.Info().
		Str("role", string(role)).
		Int("max_uses", maxUses).
		Time("expires_at", token.ExpiresAt).
		Msg("Join token created")
	m.broker.Emit(events.EventTokenCreated, "join token created", map[string]string{
		"role": string(role),
	})

	base := m.LeaderURL()
	return &types.JoinTokenResponse{
		Token:            value,
		ExpiresAt:        token.ExpiresAt,
		JoinCommand:      fmt.Sprintf("curl -fsSL %s/join/%s | sh", base, value),
		JoinCommandPS:    fmt.Sprintf("iwr -useb %s/join/%s/ps1 | iex", base, value),
		BootstrapCommand: fmt.Sprintf("curl -fsSL %s/bootstrap/%s | sh", base, value),
		BootstrapCmdPS:   fmt.Sprintf("iwr -useb %s/bootstrap/%s/ps1 | iex", base, value),
	}, nil
}

// ValidateToken checks a token without consuming a use. The script
// endpoints use it so a revoked or exhausted token cannot fetch an
// onboarding script.
func (m *Manager) ValidateToken(token string) error {
	return m.store.ValidateToken(token, time.Now())
}

// RevokeToken deactivates a join token.
func (m *Manager) RevokeToken(token string) error {
	if err := m.store.RevokeToken(token); err != nil {
		return err
	}
	m.broker.Emit(events.EventTokenRevoked, "join token revoked", nil)
	return nil
}

// ListTokens returns every stored token.
func (m *Manager) ListTokens() ([]*types.JoinToken, error) {
	return m.store.ListTokens()
}

func newID() string {
	return uuid.New().String()
}
