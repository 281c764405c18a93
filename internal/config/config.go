package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
)

const (
	DefaultConfigFilename = "config.json"
	DefaultMaxToolRounds  = 8
)

// Provider is the static configuration of one known backend.
type Provider struct {
	Name     string   `json:"name"`
	APIBase  string   `json:"api_base_url,omitempty"`
	APIKey   string   `json:"api_key,omitempty"`
	Models   []string `json:"models,omitempty"`
	Disabled bool     `json:"disabled,omitempty"`
}

// ResolveAPIKey returns the provider credential. Values of the form
// "env:NAME" are read from the environment so secrets can stay out of the
// config file.
func (p *Provider) ResolveAPIKey() string {
	if name, ok := strings.CutPrefix(p.APIKey, "env:"); ok {
		return os.Getenv(name)
	}
	return p.APIKey
}

// MCPServer describes one tool server: either a command to spawn or an SSE
// endpoint URL.
type MCPServer struct {
	Command string   `json:"command,omitempty"`
	Args    []string `json:"args,omitempty"`
	URL     string   `json:"url,omitempty"`
}

// Defaults hold per-installation assistant defaults applied when a caller
// leaves the matching option empty.
type Defaults struct {
	Provider      string `json:"provider,omitempty"`
	Model         string `json:"model,omitempty"`
	MaxToolRounds int    `json:"max_tool_rounds,omitempty"`
	Stream        bool   `json:"stream,omitempty"`
}

type Config struct {
	Providers  []Provider           `json:"providers"`
	Defaults   Defaults             `json:"defaults"`
	MCPServers map[string]MCPServer `json:"mcp_servers,omitempty"`
}

// FindProvider returns the configuration entry for name, or nil.
func (c *Config) FindProvider(name string) *Provider {
	for i := range c.Providers {
		if c.Providers[i].Name == name {
			return &c.Providers[i]
		}
	}
	return nil
}

type Manager struct {
	configPath  string
	configValue atomic.Value
}

func NewManager(baseDir string) *Manager {
	return &Manager{
		configPath: filepath.Join(baseDir, DefaultConfigFilename),
	}
}

func (m *Manager) Load() (*Config, error) {
	data, err := os.ReadFile(m.configPath)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}

	var cfg Config
	if err := json.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	// Set defaults
	if cfg.Defaults.MaxToolRounds == 0 {
		cfg.Defaults.MaxToolRounds = DefaultMaxToolRounds
	}

	m.configValue.Store(&cfg)
	return &cfg, nil
}

func (m *Manager) Get() *Config {
	if v := m.configValue.Load(); v != nil {
		return v.(*Config)
	}

	cfg, err := m.Load()
	if err != nil {
		// Return a config with defaults if loading fails
		return &Config{
			Defaults: Defaults{MaxToolRounds: DefaultMaxToolRounds},
		}
	}
	return cfg
}

func (m *Manager) Save(cfg *Config) error {
	if err := os.MkdirAll(filepath.Dir(m.configPath), 0755); err != nil {
		return fmt.Errorf("create config dir: %w", err)
	}

	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}

	if err := os.WriteFile(m.configPath, data, 0644); err != nil {
		return fmt.Errorf("write config file: %w", err)
	}

	m.configValue.Store(cfg)
	return nil
}

func (m *Manager) GetPath() string {
	return m.configPath
}

func (m *Manager) Exists() bool {
	_, err := os.Stat(m.configPath)
	return err == nil
}
