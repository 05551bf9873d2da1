// Package config provides configuration management for the lab server and
// agent.
package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"runtime"
	"sync"
	"time"
)

const (
	RoleServer = "server"
	RoleAgent  = "agent"
)

// Config represents the application configuration
type Config struct {
	General    GeneralConfig    `json:"general"`
	Database   DatabaseConfig   `json:"database"`
	Redis      RedisConfig      `json:"redis"`
	Auth       AuthConfig       `json:"auth"`
	Relay      RelayConfig      `json:"relay"`
	Screencast ScreencastConfig `json:"screencast"`
	Agent      AgentConfig      `json:"agent"`
}

// GeneralConfig contains general application settings
type GeneralConfig struct {
	// Role is "server" or "agent"
	Role string `json:"role"`

	// ServerAddr is the lab server's address as seen by agents. Empty means
	// scan the local subnet.
	ServerAddr string `json:"server_addr,omitempty"`

	// ListenAddr is where the server's HTTP API listens
	ListenAddr string `json:"listen_addr"`

	// DeviceToken is the shared secret lab devices present
	DeviceToken string `json:"device_token,omitempty"`

	// UIEnabled starts the agent's local UI
	UIEnabled bool `json:"ui_enabled"`

	// UIAddr is the local UI listen address
	UIAddr string `json:"ui_addr"`

	// StartOnBoot registers the agent to start at login
	StartOnBoot bool `json:"start_on_boot"`
}

// DatabaseConfig selects the persistence backend
type DatabaseConfig struct {
	// DSN is a PostgreSQL connection string. Empty means in-memory.
	DSN string `json:"dsn,omitempty"`
}

// RedisConfig enables the shared control lock and rate limiter
type RedisConfig struct {
	Addr     string `json:"addr,omitempty"`
	Password string `json:"password,omitempty"`
	DB       int    `json:"db,omitempty"`
}

// AuthConfig holds controller token settings
type AuthConfig struct {
	JWTSecret string `json:"jwt_secret,omitempty"`
}

// RelayConfig tunes the websocket relay
type RelayConfig struct {
	ControlTTLMillis int      `json:"control_ttl_ms"`
	SendQueue        int      `json:"send_queue"`
	SessionLimit     int      `json:"session_limit_per_minute"`
	AllowOrigins     []string `json:"allow_origins,omitempty"`
}

// ScreencastConfig tunes frame production on agents
type ScreencastConfig struct {
	IntervalMillis int `json:"interval_ms"`
	Quality        int `json:"quality"`
}

// AgentConfig contains agent-only settings
type AgentConfig struct {
	// HardwareAddress overrides interface detection
	HardwareAddress string `json:"hardware_address,omitempty"`

	// PowerReport sends power on/off records at start and shutdown
	PowerReport bool `json:"power_report"`

	// InjectInput drives the local desktop; disable for view-only stations
	InjectInput bool `json:"inject_input"`
}

// DefaultConfig returns a new Config with sensible defaults
func DefaultConfig() *Config {
	return &Config{
		General: GeneralConfig{
			Role:       RoleAgent,
			ListenAddr: ":8080",
			UIEnabled:  true,
			UIAddr:     "127.0.0.1:0",
		},
		Relay: RelayConfig{
			ControlTTLMillis: 30000,
			SendQueue:        64,
			SessionLimit:     10,
		},
		Screencast: ScreencastConfig{
			IntervalMillis: 1000,
			Quality:        60,
		},
		Agent: AgentConfig{
			PowerReport: true,
			InjectInput: true,
		},
	}
}

// Clone returns a copy that shares no state with c
func (c *Config) Clone() *Config {
	out := *c
	out.Relay.AllowOrigins = append([]string(nil), c.Relay.AllowOrigins...)
	return &out
}

// Redacted returns a copy with secrets blanked, for display
func (c *Config) Redacted() *Config {
	out := c.Clone()
	out.General.DeviceToken = ""
	out.Auth.JWTSecret = ""
	out.Redis.Password = ""
	out.Database.DSN = ""
	return out
}

// ControlTTL returns the control token lifetime
func (c *Config) ControlTTL() time.Duration {
	return time.Duration(c.Relay.ControlTTLMillis) * time.Millisecond
}

// ScreencastInterval returns the capture period
func (c *Config) ScreencastInterval() time.Duration {
	return time.Duration(c.Screencast.IntervalMillis) * time.Millisecond
}

// Validate checks the settings the selected role depends on
func (c *Config) Validate() error {
	var errs []error
	switch c.General.Role {
	case RoleServer:
		if c.Auth.JWTSecret == "" {
			errs = append(errs, errors.New("auth.jwt_secret is required for the server"))
		}
		if c.General.ListenAddr == "" {
			errs = append(errs, errors.New("general.listen_addr is required for the server"))
		}
		// An empty token would let any client register as a device
		if c.General.DeviceToken == "" {
			errs = append(errs, errors.New("general.device_token is required for the server"))
		}
	case RoleAgent:
	default:
		errs = append(errs, fmt.Errorf("unknown role %q", c.General.Role))
	}
	if c.Relay.ControlTTLMillis <= 0 {
		errs = append(errs, errors.New("relay.control_ttl_ms must be positive"))
	}
	if c.Screencast.IntervalMillis <= 0 {
		errs = append(errs, errors.New("screencast.interval_ms must be positive"))
	}
	if q := c.Screencast.Quality; q < 1 || q > 100 {
		errs = append(errs, fmt.Errorf("screencast.quality %d out of range 1-100", q))
	}
	return errors.Join(errs...)
}

// Manager handles loading and saving configuration
type Manager struct {
	mu         sync.Mutex
	configPath string
	config     *Config
	onChanged  func()
}

// NewManager creates a configuration manager using the per-user config
// directory.
func NewManager() (*Manager, error) {
	configPath, err := getConfigPath()
	if err != nil {
		return nil, err
	}
	return NewManagerAt(configPath), nil
}

// NewManagerAt creates a configuration manager for an explicit file
func NewManagerAt(path string) *Manager {
	return &Manager{
		configPath: path,
		config:     DefaultConfig(),
	}
}

// Path returns the config file location
func (m *Manager) Path() string {
	return m.configPath
}

// getConfigPath returns the path to the configuration file
func getConfigPath() (string, error) {
	var configDir string

	switch runtime.GOOS {
	case "darwin":
		home, err := os.UserHomeDir()
		if err != nil {
			return "", err
		}
		configDir = filepath.Join(home, "Library", "Application Support", "labwatch")
	case "windows":
		appData := os.Getenv("APPDATA")
		if appData == "" {
			home, err := os.UserHomeDir()
			if err != nil {
				return "", err
			}
			appData = filepath.Join(home, "AppData", "Roaming")
		}
		configDir = filepath.Join(appData, "labwatch")
	default:
		home, err := os.UserHomeDir()
		if err != nil {
			return "", err
		}
		configDir = filepath.Join(home, ".config", "labwatch")
	}

	return filepath.Join(configDir, "config.json"), nil
}

// Load reads the configuration from disk. A missing file keeps the defaults.
func (m *Manager) Load() error {
	m.mu.Lock()
	data, err := os.ReadFile(m.configPath)
	if os.IsNotExist(err) {
		m.mu.Unlock()
		return nil
	}
	if err != nil {
		m.mu.Unlock()
		return err
	}

	cfg := DefaultConfig()
	if err := json.Unmarshal(data, cfg); err != nil {
		m.mu.Unlock()
		return fmt.Errorf("parse %s: %w", m.configPath, err)
	}
	m.config = cfg
	cb := m.onChanged
	m.mu.Unlock()

	if cb != nil {
		cb()
	}
	return nil
}

// Save writes the configuration to disk
func (m *Manager) Save() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	data, err := json.MarshalIndent(m.config, "", "  ")
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(m.configPath), 0755); err != nil {
		return err
	}

	log.Printf("Config: Saving configuration to %s (%d bytes)", m.configPath, len(data))
	return os.WriteFile(m.configPath, data, 0600)
}

// Get returns the current configuration
func (m *Manager) Get() *Config {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.config
}

// Set updates the configuration
func (m *Manager) Set(config *Config) {
	m.mu.Lock()
	m.config = config
	cb := m.onChanged
	m.mu.Unlock()
	if cb != nil {
		cb()
	}
}

// RegisterChangeCallback registers a function to be called when config changes
func (m *Manager) RegisterChangeCallback(fn func()) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onChanged = fn
}
