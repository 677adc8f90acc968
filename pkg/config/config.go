// Package config loads the tool configuration from a YAML file with
// environment variable overrides for deployment-specific values and
// secrets.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"github.com/dpnlabs/dpn/pkg/telemetry"
)

// Environment variable overrides. Credentials are only ever read from the
// environment, never from the config file.
const (
	EnvConfigPath      = "DPN_CONFIG"
	EnvDataDir         = "DPN_DATA_DIR"
	EnvAWSRegion       = "DPN_AWS_REGION"
	EnvDatabricksHost  = "DATABRICKS_HOST"
	EnvDatabricksToken = "DATABRICKS_TOKEN"
)

// Config is the root configuration.
type Config struct {
	// DataDir holds the WAL directory, state database, and lock file.
	DataDir string `yaml:"data_dir" validate:"required"`

	// LockTimeout bounds how long a run waits for the engine lock.
	LockTimeout time.Duration `yaml:"lock_timeout"`

	// NamingPatterns optionally points at a pattern override file.
	NamingPatterns string `yaml:"naming_patterns,omitempty"`

	AWS        AWSConfig               `yaml:"aws"`
	Databricks DatabricksConfig        `yaml:"databricks"`
	Logging    telemetry.LoggingConfig `yaml:"logging"`
	Metrics    MetricsConfig           `yaml:"metrics"`
}

// AWSConfig configures the AWS provider.
type AWSConfig struct {
	// Region is the deployment region and the default for generated names.
	Region string `yaml:"region" validate:"required"`

	// Profile selects a shared-credentials profile; empty uses the
	// default credential chain.
	Profile string `yaml:"profile,omitempty"`
}

// DatabricksConfig configures the Databricks provider. The token comes
// from DATABRICKS_TOKEN, never from the file.
type DatabricksConfig struct {
	Host string `yaml:"host,omitempty" validate:"omitempty,url"`

	// Timeout bounds each REST call.
	Timeout time.Duration `yaml:"timeout"`
}

// MetricsConfig configures the optional metrics endpoint served by
// long-running commands.
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Listen  string `yaml:"listen,omitempty"`
}

// Defaults applied before the file is read.
func defaultConfig() Config {
	return Config{
		DataDir:     defaultDataDir(),
		LockTimeout: 30 * time.Second,
		Databricks:  DatabricksConfig{Timeout: 60 * time.Second},
		Logging:     telemetry.LoggingConfig{Level: "info", Format: "console"},
		Metrics:     MetricsConfig{Listen: "127.0.0.1:9190"},
	}
}

func defaultDataDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".dpn"
	}
	return filepath.Join(home, ".dpn")
}

// Load reads configuration from path. An empty path falls back to
// DPN_CONFIG, then to ~/.dpn/config.yaml; a missing default file yields
// the built-in defaults. Environment overrides are applied last.
func Load(path string) (*Config, error) {
	cfg := defaultConfig()

	explicit := path != ""
	if path == "" {
		path = os.Getenv(EnvConfigPath)
		explicit = path != ""
	}
	if path == "" {
		path = filepath.Join(defaultDataDir(), "config.yaml")
	}

	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("parsing config %s: %w", path, err)
		}
	case os.IsNotExist(err) && !explicit:
		// Defaults only.
	default:
		return nil, fmt.Errorf("reading config %s: %w", path, err)
	}

	applyEnvOverrides(&cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv(EnvDataDir); v != "" {
		cfg.DataDir = v
	}
	if v := os.Getenv(EnvAWSRegion); v != "" {
		cfg.AWS.Region = v
	}
	if v := os.Getenv(EnvDatabricksHost); v != "" {
		cfg.Databricks.Host = v
	}
}

// Validate checks the assembled configuration.
func (c *Config) Validate() error {
	if c.LockTimeout <= 0 {
		return fmt.Errorf("lock_timeout must be positive, got %s", c.LockTimeout)
	}
	if err := validator.New().Struct(c); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	return nil
}

// WALDir returns the WAL directory under the data directory.
func (c *Config) WALDir() string {
	return filepath.Join(c.DataDir, "wal")
}

// StatePath returns the state database path under the data directory.
func (c *Config) StatePath() string {
	return filepath.Join(c.DataDir, "state.db")
}

// DatabricksToken reads the API token from the environment.
func DatabricksToken() string {
	return os.Getenv(EnvDatabricksToken)
}
