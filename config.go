package hive

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

	"github.com/everbots/hive/isolate"
)

// Config is the host configuration, loaded from a YAML file. Zero values
// fall back to the defaults under the hive home directory.
type Config struct {
	// Home overrides the base directory for all state.
	Home string `yaml:"home,omitempty"`

	// CredentialsPath is the credential pool file.
	CredentialsPath string `yaml:"credentials_path,omitempty"`

	// RegistryPath is the tenant registry file.
	RegistryPath string `yaml:"registry_path,omitempty"`

	// DBPath is the audit event database.
	DBPath string `yaml:"db_path,omitempty"`

	// Listen is the admin HTTP listen address.
	Listen string `yaml:"listen,omitempty"`

	// Runner selects the worker backend: "exec" or "docker".
	Runner string `yaml:"runner,omitempty"`

	// WorkerCommand is the command spawned per tenant by the exec runner.
	WorkerCommand []string `yaml:"worker_command,omitempty"`

	// WorkerImage is the container image used by the docker runner.
	WorkerImage string `yaml:"worker_image,omitempty"`

	// AuthHelper is the command for the provider auth shim used during
	// tenant sign-in.
	AuthHelper []string `yaml:"auth_helper,omitempty"`

	// Limits override the default per-tenant resource limits.
	Limits *LimitsConfig `yaml:"limits,omitempty"`

	// Telegram configures the admin notification bot.
	Telegram TelegramConfig `yaml:"telegram,omitempty"`
}

// LimitsConfig mirrors the per-tenant resource limits in YAML form.
type LimitsConfig struct {
	MaxMemoryMB   int `yaml:"max_memory_mb"`
	MaxCPUPercent int `yaml:"max_cpu_percent"`
	MaxDiskMB     int `yaml:"max_disk_mb"`
	MaxOpenFiles  int `yaml:"max_open_files"`
	MaxConns      int `yaml:"max_connections"`
}

// TelegramConfig holds the admin bot settings. Token may also come from
// the HIVE_TELEGRAM_TOKEN environment variable.
type TelegramConfig struct {
	Token   string  `yaml:"token,omitempty"`
	ChatID  int64   `yaml:"chat_id,omitempty"`
	Admins  []int64 `yaml:"admins,omitempty"`
	Enabled bool    `yaml:"enabled,omitempty"`
}

// DefaultConfigPath returns the default config file location.
func DefaultConfigPath() string {
	return filepath.Join(Home(), "config.yaml")
}

// LoadConfig reads a YAML config file. A missing file yields the default
// configuration rather than an error, so a fresh host needs no setup.
func LoadConfig(path string) (*Config, error) {
	cfg := &Config{}
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		cfg.applyDefaults()
		return cfg, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}
	cfg.applyDefaults()
	return cfg, nil
}

func (c *Config) applyDefaults() {
	if c.Home == "" {
		c.Home = Home()
	}
	if c.CredentialsPath == "" {
		c.CredentialsPath = filepath.Join(c.Home, "credentials.json")
	}
	if c.RegistryPath == "" {
		c.RegistryPath = filepath.Join(c.Home, "tenants.json")
	}
	if c.DBPath == "" {
		c.DBPath = filepath.Join(c.Home, "hive.db")
	}
	if c.Listen == "" {
		c.Listen = "127.0.0.1:8420"
	}
	if c.Runner == "" {
		c.Runner = "exec"
	}
	if len(c.WorkerCommand) == 0 {
		c.WorkerCommand = []string{"python3", "main.py"}
	}
	if len(c.AuthHelper) == 0 {
		c.AuthHelper = []string{"python3", "-m", "hive_runtime.auth"}
	}
	if c.Telegram.Token == "" {
		c.Telegram.Token = os.Getenv("HIVE_TELEGRAM_TOKEN")
	}
}

// ResourceLimits converts the YAML limits to the isolate form, falling back
// to the defaults for unset fields.
func (c *Config) ResourceLimits() isolate.ResourceLimits {
	limits := isolate.DefaultLimits
	if c.Limits == nil {
		return limits
	}
	if c.Limits.MaxMemoryMB > 0 {
		limits.MaxMemoryMB = c.Limits.MaxMemoryMB
	}
	if c.Limits.MaxCPUPercent > 0 {
		limits.MaxCPUPercent = c.Limits.MaxCPUPercent
	}
	if c.Limits.MaxDiskMB > 0 {
		limits.MaxDiskMB = c.Limits.MaxDiskMB
	}
	if c.Limits.MaxOpenFiles > 0 {
		limits.MaxOpenFiles = c.Limits.MaxOpenFiles
	}
	if c.Limits.MaxConns > 0 {
		limits.MaxConns = c.Limits.MaxConns
	}
	return limits
}
