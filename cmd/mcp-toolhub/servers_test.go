package main

import (
	"bytes"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ajitpratap0/mcp-toolhub/pkg/config"
)

func resetAddFlags() {
	addName, addArgs, addEnv, addURL, addAPIKey = "", nil, nil, "", ""
}

func TestServerFromFlags(t *testing.T) {
	t.Cleanup(resetAddFlags)

	resetAddFlags()
	addArgs = []string{"-y", "server-fs"}
	addEnv = []string{"ROOT=/tmp"}
	cfg, err := serverFromFlags([]string{"fs", "npx"})
	require.NoError(t, err)
	assert.Equal(t, config.ServerConfig{
		ID:   "fs",
		Name: "fs",
		Spec: config.StdioSpec{Command: "npx", Args: []string{"-y", "server-fs"}, Env: map[string]string{"ROOT": "/tmp"}},
	}, cfg)
	assert.Equal(t, "npx -y server-fs", target(cfg))

	resetAddFlags()
	addURL, addAPIKey, addName = "https://search.example.com/sse", "k", "Search"
	cfg, err = serverFromFlags([]string{"search"})
	require.NoError(t, err)
	assert.Equal(t, config.HTTPSpec{URL: "https://search.example.com/sse", APIKey: "k"}, cfg.Spec)
	assert.Equal(t, "Search", cfg.Name)

	_, err = serverFromFlags([]string{"search", "npx"})
	assert.Error(t, err)

	resetAddFlags()
	_, err = serverFromFlags([]string{"nothing"})
	assert.Error(t, err)

	addEnv = []string{"NOVALUE"}
	_, err = serverFromFlags([]string{"fs", "npx"})
	assert.Error(t, err)
}

func TestServersAddListRemove(t *testing.T) {
	t.Cleanup(resetAddFlags)
	saved := settings
	t.Cleanup(func() { settings = saved })
	settings.ConfigPath = filepath.Join(t.TempDir(), "servers.yaml")
	settings.RedisURL, settings.SQLitePath = "", ""

	run := func(args ...string) string {
		t.Helper()
		var out bytes.Buffer
		rootCmd.SetOut(&out)
		rootCmd.SetArgs(args)
		require.NoError(t, rootCmd.Execute())
		return out.String()
	}

	assert.Contains(t, run("servers", "add", "fs", "mcp-fs", "--arg", "/tmp"), "added fs")
	resetAddFlags()
	assert.Contains(t, run("servers", "add", "web", "--url", "http://localhost:9000/sse"), "added web")

	out := run("servers", "list")
	assert.Contains(t, out, "mcp-fs /tmp")
	assert.Contains(t, out, "http://localhost:9000/sse")

	assert.Contains(t, run("servers", "remove", "fs"), "removed fs")

	servers, err := config.NewFileStore(settings.ConfigPath).Load(t.Context())
	require.NoError(t, err)
	require.Len(t, servers, 1)
	assert.Equal(t, "web", servers[0].ID)
}
