package manager

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRenderScriptVariants(t *testing.T) {
	m, _, _ := newTestManager(t, nil)
	const token = "tok-abc123"

	tests := []struct {
		kind     ScriptKind
		shell    ScriptShell
		contains []string
	}{
		{ScriptJoin, ShellPosix, []string{"#!/bin/sh", "set -eu", "/register", token, "http://100.64.0.1:8443"}},
		{ScriptJoin, ShellPowershell, []string{"Invoke-RestMethod", "unode_secret", token}},
		{ScriptBootstrap, ShellPosix, []string{"#!/bin/sh", "get.docker.com", "tailscale", "http://100.64.0.1:8443/join/" + token}},
		{ScriptBootstrap, ShellPowershell, []string{"winget install", "tailscale", "http://100.64.0.1:8443/join/" + token + "/ps1"}},
	}
	for _, tt := range tests {
		t.Run(string(tt.kind)+"/"+string(tt.shell), func(t *testing.T) {
			out, err := m.RenderScript(tt.kind, tt.shell, token)
			require.NoError(t, err)
			for _, want := range tt.contains {
				assert.Contains(t, out, want)
			}
			// Rendered scripts contain no leftover template actions.
			assert.NotContains(t, out, "{{")
		})
	}
}

func TestRenderScriptUnknownKind(t *testing.T) {
	m, _, _ := newTestManager(t, nil)

	_, err := m.RenderScript(ScriptKind("teardown"), ShellPosix, "tok")
	require.Error(t, err)
	assert.True(t, strings.Contains(err.Error(), "teardown"))
}

func TestJoinScriptStartsAgent(t *testing.T) {
	m, _, _ := newTestManager(t, nil)

	out, err := m.RenderScript(ScriptJoin, ShellPosix, "tok-1")
	require.NoError(t, err)
	assert.Contains(t, out, "docker run -d --name burrow-agent")
	assert.Contains(t, out, DefaultAgentImage)
	assert.Contains(t, out, "NODE_SECRET")
}
