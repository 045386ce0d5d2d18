package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/bryanchriswhite/propview/internal/acquisition"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestManager(t *testing.T) *Manager {
	t.Helper()
	path := filepath.Join(t.TempDir(), "propview", "config.yaml")
	m, err := NewManager(path)
	require.NoError(t, err)
	return m
}

func TestNewManagerCreatesDefaults(t *testing.T) {
	m := newTestManager(t)

	_, err := os.Stat(m.GetConfigPath())
	require.NoError(t, err)

	cfg := m.Get()
	assert.Equal(t, 8080, cfg.ServerPort)
	assert.Equal(t, "info", cfg.LogLevel)
	assert.Equal(t, "sim", cfg.Device.Driver)
	assert.Equal(t, []string{"Base"}, cfg.Device.Sim.Settings)
	assert.Equal(t, 500*time.Millisecond, cfg.Engine.WaitTimeout)
	assert.Equal(t, 4, cfg.Engine.QueueDepth)
	assert.Equal(t, 10, cfg.Display.FPS)
	assert.True(t, cfg.Overlay.Enabled)
	assert.NoError(t, cfg.Validate())
}

func TestManagerReloadsSavedFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	m, err := NewManager(path)
	require.NoError(t, err)

	cfg := m.Get()
	cfg.Engine.QueueDepth = 6
	cfg.Engine.UsageMode = "automatic"
	cfg.Device.Sim.Settings = []string{"A", "B"}
	cfg.Engine.WaitTimeout = 2 * time.Second
	require.NoError(t, m.Update(cfg))

	reloaded, err := NewManager(path)
	require.NoError(t, err)
	got := reloaded.Get()
	assert.Equal(t, 6, got.Engine.QueueDepth)
	assert.Equal(t, "automatic", got.Engine.UsageMode)
	assert.Equal(t, []string{"A", "B"}, got.Device.Sim.Settings)
	assert.Equal(t, 2*time.Second, got.Engine.WaitTimeout)
}

func TestGetReturnsCopy(t *testing.T) {
	m := newTestManager(t)

	cfg := m.Get()
	cfg.ServerPort = 1
	cfg.Device.Sim.Settings[0] = "changed"

	again := m.Get()
	assert.Equal(t, 8080, again.ServerPort)
	assert.Equal(t, "Base", again.Device.Sim.Settings[0])
}

func TestUpdateRejectsInvalid(t *testing.T) {
	m := newTestManager(t)

	cfg := m.Get()
	cfg.Engine.QueueDepth = 0
	err := m.Update(cfg)
	require.Error(t, err)
	assert.ErrorIs(t, err, acquisition.ErrInvalidConfig)
	assert.Equal(t, 4, m.Get().Engine.QueueDepth)
}

func TestSet(t *testing.T) {
	m := newTestManager(t)

	require.NoError(t, m.Set("engine.queue_depth", "8"))
	require.NoError(t, m.Set("engine.wait_timeout", "250ms"))
	require.NoError(t, m.Set("overlay.enabled", "false"))
	require.NoError(t, m.Set("ENGINE.USAGE_MODE", "automatic"))

	cfg := m.Get()
	assert.Equal(t, 8, cfg.Engine.QueueDepth)
	assert.Equal(t, 250*time.Millisecond, cfg.Engine.WaitTimeout)
	assert.False(t, cfg.Overlay.Enabled)
	assert.Equal(t, "automatic", cfg.Engine.UsageMode)

	reloaded, err := NewManager(m.GetConfigPath())
	require.NoError(t, err)
	assert.Equal(t, 8, reloaded.Get().Engine.QueueDepth)

	t.Run("unknown key", func(t *testing.T) {
		assert.Error(t, m.Set("engine.nope", "1"))
	})

	t.Run("invalid value keeps previous", func(t *testing.T) {
		assert.Error(t, m.Set("engine.usage_mode", "sometimes"))
		assert.Equal(t, "automatic", m.Get().Engine.UsageMode)
		assert.Equal(t, "automatic", m.GetViper().GetString("engine.usage_mode"))
	})
}

func TestEnvOverride(t *testing.T) {
	t.Setenv("PROPVIEW_ENGINE_QUEUE_DEPTH", "7")
	t.Setenv("PROPVIEW_LOG_LEVEL", "debug")

	m := newTestManager(t)
	assert.Equal(t, 7, m.Get().Engine.QueueDepth)
	assert.Equal(t, "debug", m.GetLogLevel())
}

func TestPortAndLogLevel(t *testing.T) {
	m := newTestManager(t)

	require.NoError(t, m.SetPort(9090))
	assert.Equal(t, 9090, m.GetPort())
	assert.Error(t, m.SetPort(70000))
	assert.Equal(t, 9090, m.GetPort())

	require.NoError(t, m.SetLogLevel("warn"))
	assert.Equal(t, "warn", m.GetLogLevel())
	assert.Error(t, m.SetLogLevel("loud"))
}

func TestEngineConfiguration(t *testing.T) {
	t.Parallel()

	cfg := Defaults()
	cfg.Engine.UsageMode = "Automatic"
	cfg.Display.Surfaces = 3

	ec := cfg.EngineConfiguration()
	assert.Equal(t, acquisition.UsageAutomatic, ec.UsageMode)
	assert.Equal(t, 3, ec.DisplaySurfaces)
	assert.Equal(t, cfg.Engine.RecordSequenceSize, ec.RecordSequenceSize)
	assert.NoError(t, ec.Validate())
}

func TestValidate(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"port", func(c *Config) { c.ServerPort = -1 }},
		{"log level", func(c *Config) { c.LogLevel = "verbose" }},
		{"driver", func(c *Config) { c.Device.Driver = "" }},
		{"open timeout", func(c *Config) { c.Device.OpenTimeout = 0 }},
		{"fps", func(c *Config) { c.Display.FPS = 0 }},
		{"display depth", func(c *Config) { c.Display.QueueDepth = 1 }},
		{"sim settings", func(c *Config) { c.Device.Sim.Settings = nil }},
		{"sim size", func(c *Config) { c.Device.Sim.Width = 0 }},
		{"usage mode", func(c *Config) { c.Engine.UsageMode = "random" }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			cfg := Defaults()
			tt.mutate(cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}
