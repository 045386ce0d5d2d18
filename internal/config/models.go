package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/bryanchriswhite/propview/internal/acquisition"
	"github.com/bryanchriswhite/propview/internal/logger"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

// EnvPrefix prefixes environment overrides, e.g. PROPVIEW_ENGINE_QUEUE_DEPTH
const EnvPrefix = "PROPVIEW"

// Config represents the application configuration
type Config struct {
	ServerPort int    `json:"server_port" yaml:"server_port" mapstructure:"server_port"`
	LogLevel   string `json:"log_level" yaml:"log_level" mapstructure:"log_level"`

	Device  DeviceConfig  `json:"device" yaml:"device" mapstructure:"device"`
	Engine  EngineConfig  `json:"engine" yaml:"engine" mapstructure:"engine"`
	Display DisplayConfig `json:"display" yaml:"display" mapstructure:"display"`
	Overlay OverlayConfig `json:"overlay" yaml:"overlay" mapstructure:"overlay"`
	Export  ExportConfig  `json:"export" yaml:"export" mapstructure:"export"`
}

// DeviceConfig selects and opens the camera
type DeviceConfig struct {
	Driver      string        `json:"driver" yaml:"driver" mapstructure:"driver"`
	Serial      string        `json:"serial" yaml:"serial" mapstructure:"serial"`
	OpenTimeout time.Duration `json:"open_timeout" yaml:"open_timeout" mapstructure:"open_timeout"`
	Sim         SimConfig     `json:"sim" yaml:"sim" mapstructure:"sim"`
}

// SimConfig configures the simulated camera driver
type SimConfig struct {
	Settings      []string      `json:"settings" yaml:"settings" mapstructure:"settings"`
	Width         int           `json:"width" yaml:"width" mapstructure:"width"`
	Height        int           `json:"height" yaml:"height" mapstructure:"height"`
	FrameInterval time.Duration `json:"frame_interval" yaml:"frame_interval" mapstructure:"frame_interval"`
	BufferCount   int           `json:"buffer_count" yaml:"buffer_count" mapstructure:"buffer_count"`

	// SettingLatency overrides FrameInterval per setting name
	SettingLatency map[string]time.Duration `json:"setting_latency" yaml:"setting_latency" mapstructure:"setting_latency"`
}

// EngineConfig is the persisted part of the acquisition engine configuration
type EngineConfig struct {
	QueueDepth             int           `json:"queue_depth" yaml:"queue_depth" mapstructure:"queue_depth"`
	UsageMode              string        `json:"usage_mode" yaml:"usage_mode" mapstructure:"usage_mode"`
	ContinuousRecording    bool          `json:"continuous_recording" yaml:"continuous_recording" mapstructure:"continuous_recording"`
	ForwardIncomplete      bool          `json:"forward_incomplete" yaml:"forward_incomplete" mapstructure:"forward_incomplete"`
	WaitTimeout            time.Duration `json:"wait_timeout" yaml:"wait_timeout" mapstructure:"wait_timeout"`
	TimeoutAbortThreshold  int           `json:"timeout_abort_threshold" yaml:"timeout_abort_threshold" mapstructure:"timeout_abort_threshold"`
	FailureThreshold       int           `json:"failure_threshold" yaml:"failure_threshold" mapstructure:"failure_threshold"`
	RecordSequenceSize     int           `json:"record_sequence_size" yaml:"record_sequence_size" mapstructure:"record_sequence_size"`
	MultiFrameSequenceSize int           `json:"multi_frame_sequence_size" yaml:"multi_frame_sequence_size" mapstructure:"multi_frame_sequence_size"`
}

// DisplayConfig represents the preview surfaces
type DisplayConfig struct {
	Surfaces   int `json:"surfaces" yaml:"surfaces" mapstructure:"surfaces"`
	QueueDepth int `json:"queue_depth" yaml:"queue_depth" mapstructure:"queue_depth"`
	FPS        int `json:"fps" yaml:"fps" mapstructure:"fps"`
}

// OverlayConfig represents overlay configuration
type OverlayConfig struct {
	Enabled bool `json:"enabled" yaml:"enabled" mapstructure:"enabled"`
}

// ExportConfig controls where recorded sequences are written
type ExportConfig struct {
	Dir    string `json:"dir" yaml:"dir" mapstructure:"dir"`
	Prefix string `json:"prefix" yaml:"prefix" mapstructure:"prefix"`
}

// EngineConfiguration returns the acquisition configuration described by c
func (c *Config) EngineConfiguration() acquisition.Configuration {
	return acquisition.Configuration{
		QueueDepth:             c.Engine.QueueDepth,
		UsageMode:              acquisition.UsageMode(strings.ToLower(c.Engine.UsageMode)),
		ContinuousRecording:    c.Engine.ContinuousRecording,
		ForwardIncomplete:      c.Engine.ForwardIncomplete,
		WaitTimeout:            c.Engine.WaitTimeout,
		TimeoutAbortThreshold:  c.Engine.TimeoutAbortThreshold,
		FailureThreshold:       c.Engine.FailureThreshold,
		RecordSequenceSize:     c.Engine.RecordSequenceSize,
		MultiFrameSequenceSize: c.Engine.MultiFrameSequenceSize,
		DisplaySurfaces:        c.Display.Surfaces,
		DisplayQueueDepth:      c.Display.QueueDepth,
	}
}

// Validate checks the whole configuration
func (c *Config) Validate() error {
	// 0 lets the listener pick a free port
	if c.ServerPort < 0 || c.ServerPort > 65535 {
		return fmt.Errorf("invalid server_port %d", c.ServerPort)
	}
	if _, ok := logger.ParseLevel(c.LogLevel); !ok {
		return fmt.Errorf("invalid log_level %q (use: debug, info, warn, error)", c.LogLevel)
	}
	if c.Device.Driver == "" {
		return errors.New("device.driver must be set")
	}
	if c.Device.OpenTimeout <= 0 {
		return fmt.Errorf("device.open_timeout must be positive, got %s", c.Device.OpenTimeout)
	}
	if c.Display.FPS < 1 {
		return fmt.Errorf("display.fps must be at least 1, got %d", c.Display.FPS)
	}
	if err := c.EngineConfiguration().Validate(); err != nil {
		return err
	}
	if c.Device.Driver == "sim" {
		s := c.Device.Sim
		if len(s.Settings) == 0 {
			return errors.New("device.sim.settings must name at least one setting")
		}
		if s.Width < 1 || s.Height < 1 || s.BufferCount < 1 {
			return fmt.Errorf("device.sim: width, height and buffer_count must be positive")
		}
	}
	return nil
}

func (c *Config) clone() *Config {
	cp := *c
	cp.Device.Sim.Settings = append([]string(nil), c.Device.Sim.Settings...)
	cp.Device.Sim.SettingLatency = make(map[string]time.Duration, len(c.Device.Sim.SettingLatency))
	for k, v := range c.Device.Sim.SettingLatency {
		cp.Device.Sim.SettingLatency[k] = v
	}
	return &cp
}

// Defaults returns the built-in configuration
func Defaults() *Config {
	engine := acquisition.DefaultConfiguration()
	home, _ := os.UserHomeDir()

	return &Config{
		ServerPort: 8080,
		LogLevel:   "info",
		Device: DeviceConfig{
			Driver:      "sim",
			Serial:      "auto",
			OpenTimeout: 3 * time.Second,
			Sim: SimConfig{
				Settings:       []string{"Base"},
				Width:          640,
				Height:         480,
				FrameInterval:  33 * time.Millisecond,
				BufferCount:    16,
				SettingLatency: map[string]time.Duration{},
			},
		},
		Engine: EngineConfig{
			QueueDepth:             engine.QueueDepth,
			UsageMode:              string(engine.UsageMode),
			ContinuousRecording:    engine.ContinuousRecording,
			ForwardIncomplete:      engine.ForwardIncomplete,
			WaitTimeout:            engine.WaitTimeout,
			TimeoutAbortThreshold:  engine.TimeoutAbortThreshold,
			FailureThreshold:       engine.FailureThreshold,
			RecordSequenceSize:     engine.RecordSequenceSize,
			MultiFrameSequenceSize: engine.MultiFrameSequenceSize,
		},
		Display: DisplayConfig{
			Surfaces:   engine.DisplaySurfaces,
			QueueDepth: engine.DisplayQueueDepth,
			FPS:        10,
		},
		Overlay: OverlayConfig{Enabled: true},
		Export: ExportConfig{
			Dir:    filepath.Join(home, "propview", "sequences"),
			Prefix: "seq_",
		},
	}
}

// Manager handles configuration
type Manager struct {
	configPath string
	config     *Config
	v          *viper.Viper
	mu         sync.RWMutex
}

// NewManager creates a new configuration manager. A missing config file is
// created with defaults.
func NewManager(configFile string) (*Manager, error) {
	actualConfigPath := configFile
	if actualConfigPath == "" {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("failed to get home directory: %w", err)
		}
		actualConfigPath = filepath.Join(homeDir, ".config", "propview", "config.yaml")
	}

	if err := os.MkdirAll(filepath.Dir(actualConfigPath), 0755); err != nil {
		return nil, fmt.Errorf("failed to create config directory: %w", err)
	}

	m := &Manager{
		configPath: actualConfigPath,
		v:          newViper(actualConfigPath),
	}

	if _, err := os.Stat(m.configPath); os.IsNotExist(err) {
		logger.WithComponent("config").Info().
			Str("path", m.configPath).
			Msg("Config file not found, creating new config")
		m.config = Defaults()
		if err := m.Save(); err != nil {
			return nil, fmt.Errorf("failed to create default config: %w", err)
		}
	}

	if err := m.load(); err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	logger.WithComponent("config").Info().
		Str("path", m.configPath).
		Str("driver", m.config.Device.Driver).
		Msg("Config loaded")

	return m, nil
}

// newViper builds a viper instance knowing every key, so environment
// overrides apply to keys missing from the file
func newViper(path string) *viper.Viper {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("yaml")
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	d := Defaults()
	v.SetDefault("server_port", d.ServerPort)
	v.SetDefault("log_level", d.LogLevel)
	v.SetDefault("device.driver", d.Device.Driver)
	v.SetDefault("device.serial", d.Device.Serial)
	v.SetDefault("device.open_timeout", d.Device.OpenTimeout)
	v.SetDefault("device.sim.settings", d.Device.Sim.Settings)
	v.SetDefault("device.sim.width", d.Device.Sim.Width)
	v.SetDefault("device.sim.height", d.Device.Sim.Height)
	v.SetDefault("device.sim.frame_interval", d.Device.Sim.FrameInterval)
	v.SetDefault("device.sim.buffer_count", d.Device.Sim.BufferCount)
	v.SetDefault("device.sim.setting_latency", map[string]string{})
	v.SetDefault("engine.queue_depth", d.Engine.QueueDepth)
	v.SetDefault("engine.usage_mode", d.Engine.UsageMode)
	v.SetDefault("engine.continuous_recording", d.Engine.ContinuousRecording)
	v.SetDefault("engine.forward_incomplete", d.Engine.ForwardIncomplete)
	v.SetDefault("engine.wait_timeout", d.Engine.WaitTimeout)
	v.SetDefault("engine.timeout_abort_threshold", d.Engine.TimeoutAbortThreshold)
	v.SetDefault("engine.failure_threshold", d.Engine.FailureThreshold)
	v.SetDefault("engine.record_sequence_size", d.Engine.RecordSequenceSize)
	v.SetDefault("engine.multi_frame_sequence_size", d.Engine.MultiFrameSequenceSize)
	v.SetDefault("display.surfaces", d.Display.Surfaces)
	v.SetDefault("display.queue_depth", d.Display.QueueDepth)
	v.SetDefault("display.fps", d.Display.FPS)
	v.SetDefault("overlay.enabled", d.Overlay.Enabled)
	v.SetDefault("export.dir", d.Export.Dir)
	v.SetDefault("export.prefix", d.Export.Prefix)
	return v
}

// load reads the configuration file through viper, applying defaults and
// environment overrides
func (m *Manager) load() error {
	if err := m.v.ReadInConfig(); err != nil {
		return err
	}
	cfg, err := m.decode()
	if err != nil {
		return err
	}

	m.mu.Lock()
	m.config = cfg
	m.mu.Unlock()
	return nil
}

func (m *Manager) decode() (*Config, error) {
	var cfg Config
	if err := m.v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	if cfg.Device.Sim.SettingLatency == nil {
		cfg.Device.Sim.SettingLatency = map[string]time.Duration{}
	}
	return &cfg, nil
}

// Get returns a copy of the current configuration
func (m *Manager) Get() *Config {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.config == nil {
		return Defaults()
	}
	return m.config.clone()
}

// Save saves the current configuration to disk
func (m *Manager) Save() error {
	m.mu.RLock()
	cfg := m.config
	m.mu.RUnlock()

	if cfg == nil {
		cfg = Defaults()
	}

	logger.WithComponent("config").Debug().
		Str("path", m.configPath).
		Msg("Saving config")

	configDir := filepath.Dir(m.configPath)
	if err := os.MkdirAll(configDir, 0755); err != nil {
		logger.WithComponent("config").Error().
			Err(err).
			Str("config_dir", configDir).
			Msg("Failed to create config directory")
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		logger.WithComponent("config").Error().
			Err(err).
			Msg("Failed to marshal config")
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(m.configPath, data, 0644); err != nil {
		logger.WithComponent("config").Error().
			Err(err).
			Str("path", m.configPath).
			Msg("Failed to write config")
		return err
	}

	logger.WithComponent("config").Info().
		Str("path", m.configPath).
		Msg("Config saved successfully")
	return nil
}

// Update validates and replaces the entire configuration
func (m *Manager) Update(cfg *Config) error {
	if err := cfg.Validate(); err != nil {
		return err
	}
	m.mu.Lock()
	m.config = cfg.clone()
	m.mu.Unlock()

	if err := m.Save(); err != nil {
		return err
	}
	return m.v.ReadInConfig()
}

// Set changes one dotted key, validates the result and saves it. Values are
// converted to the key's type by viper's weak decoding.
func (m *Manager) Set(key, value string) error {
	key = strings.ToLower(key)
	if !m.IsKey(key) {
		return fmt.Errorf("unknown configuration key: %s", key)
	}

	previous := m.v.Get(key)
	m.v.Set(key, value)
	cfg, err := m.decode()
	if err == nil {
		err = cfg.Validate()
	}
	if err != nil {
		m.v.Set(key, previous)
		return fmt.Errorf("invalid value for %s: %w", key, err)
	}
	return m.Update(cfg)
}

// IsKey reports whether key names a configuration leaf
func (m *Manager) IsKey(key string) bool {
	for _, k := range m.Keys() {
		if k == key {
			return true
		}
	}
	return false
}

// Keys returns every known configuration key
func (m *Manager) Keys() []string {
	keys := m.v.AllKeys()
	sort.Strings(keys)
	return keys
}

// SetPort sets the server port
func (m *Manager) SetPort(port int) error {
	cfg := m.Get()
	cfg.ServerPort = port
	return m.Update(cfg)
}

// GetPort gets the server port
func (m *Manager) GetPort() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.config.ServerPort
}

// SetLogLevel sets the log level
func (m *Manager) SetLogLevel(level string) error {
	cfg := m.Get()
	cfg.LogLevel = level
	return m.Update(cfg)
}

// GetLogLevel gets the log level
func (m *Manager) GetLogLevel() string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.config.LogLevel
}

// GetConfigPath returns the path to the config file
func (m *Manager) GetConfigPath() string {
	return m.configPath
}

// GetViper exposes the viper instance backing the manager
func (m *Manager) GetViper() *viper.Viper {
	return m.v
}
