package agent

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pilot-net/netcheck/agent/internal/config"
)

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg := config.DefaultConfig()
	cfg.Storage.Backend = "memory"
	cfg.Geo.Provider = "none"
	require.NoError(t, cfg.Validate())
	return cfg
}

func TestNewLogger(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger(config.LogConfig{Level: "warn", Format: "json"}, &buf)

	logger.Info("hidden")
	logger.Warn("shown", "k", "v")

	out := buf.String()
	assert.NotContains(t, out, "hidden")
	assert.Contains(t, out, `"msg":"shown"`)
	assert.Contains(t, out, `"k":"v"`)
}

func TestNew_WiresComponents(t *testing.T) {
	app, err := New(context.Background(), testConfig(t), NewLogger(config.LogConfig{Level: "error"}, nil))
	require.NoError(t, err)
	defer app.Close()

	assert.NotNil(t, app.Controller)
	assert.NotNil(t, app.Hops)
	assert.NotNil(t, app.System)
	assert.False(t, app.Controller.Running())

	reports, err := app.Reports.List(context.Background())
	require.NoError(t, err)
	assert.Empty(t, reports)
}

func TestProfileResolution(t *testing.T) {
	cfg := testConfig(t)
	app, err := New(context.Background(), cfg, NewLogger(config.LogConfig{Level: "error"}, nil))
	require.NoError(t, err)
	defer app.Close()

	p, err := app.Profile("")
	require.NoError(t, err)
	assert.Equal(t, app.Profiles.Default().ID, p.ID)

	cfg.Diagnostics.DefaultProfile = "gamer"
	p, err = app.Profile("")
	require.NoError(t, err)
	assert.Equal(t, "gamer", p.ID)

	_, err = app.Profile("does-not-exist")
	assert.Error(t, err)
}

func TestLoadProfiles_File(t *testing.T) {
	path := filepath.Join(t.TempDir(), "profiles.yaml")
	yml := `
profiles:
  - id: branch-voip
    name: Branch VoIP
    description: SIP trunk reachability
    connectivity_targets:
      - ip: sip.example.net
        proto: tcp
        ports: [5060]
`
	require.NoError(t, os.WriteFile(path, []byte(yml), 0o644))

	cfg := testConfig(t)
	cfg.ProfilesFile = path
	reg, err := LoadProfiles(cfg)
	require.NoError(t, err)

	p, err := reg.Get("branch-voip")
	require.NoError(t, err)
	assert.Equal(t, "Branch VoIP", p.Name)

	cfg.ProfilesFile = filepath.Join(t.TempDir(), "missing.yaml")
	_, err = LoadProfiles(cfg)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "loading profiles")
}
