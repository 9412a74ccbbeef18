package config

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// ErrConfigNotFound is returned when no config file exists
var ErrConfigNotFound = errors.New("config file not found")

// ErrConfigInsecure is returned when the config file is writable by others
var ErrConfigInsecure = errors.New("config file has insecure permissions")

// ErrConfigSymlink is returned when the config file is a symlink
var ErrConfigSymlink = errors.New("config file is a symlink")

// ErrConfigNotOwnedByUser is returned when the config file is not owned by the current user
var ErrConfigNotOwnedByUser = errors.New("config file not owned by current user")

// Loader handles configuration loading from file and environment.
type Loader struct {
	configPath string
	explicit   bool
	vaultDir   string
}

// NewLoader creates a config loader. An empty configPath loads FileName
// from the vault directory if it exists.
func NewLoader(configPath string) *Loader {
	return &Loader{
		configPath: configPath,
		explicit:   configPath != "",
	}
}

// WithVaultDir sets a vault directory that takes precedence over the
// environment and the config file. The default config file is looked up in it.
func (l *Loader) WithVaultDir(dir string) *Loader {
	l.vaultDir = dir
	return l
}

// Load reads configuration from file and environment.
func (l *Loader) Load() (*Config, error) {
	cfg := DefaultConfig()

	if dir := os.Getenv(EnvDir); dir != "" {
		cfg.VaultDir = dir
	}
	if l.vaultDir != "" {
		cfg.VaultDir = l.vaultDir
	}

	path := l.configPath
	if path == "" {
		path = filepath.Join(cfg.VaultDir, FileName)
	}
	if err := loadFile(path, cfg); err != nil {
		if !errors.Is(err, ErrConfigNotFound) || l.explicit {
			return nil, fmt.Errorf("load config file %s: %w", path, err)
		}
	}

	if err := l.loadEnv(cfg); err != nil {
		return nil, fmt.Errorf("load env config: %w", err)
	}
	if l.vaultDir != "" {
		cfg.VaultDir = l.vaultDir
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

// loadFile parses the YAML file at path into cfg.
// The file is opened without following symlinks and checked on the open
// descriptor, so it cannot be swapped between check and read.
func loadFile(path string, cfg *Config) error {
	f, err := openConfigFile(path)
	if err != nil {
		return err
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return fmt.Errorf("failed to stat config file: %w", err)
	}

	if err := checkFileSecurity(info); err != nil {
		return err
	}

	content, err := io.ReadAll(f)
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}

	if err := yaml.Unmarshal(content, cfg); err != nil {
		return fmt.Errorf("failed to parse config file: %w", err)
	}
	return nil
}

// loadEnv overrides config from environment variables.
func (l *Loader) loadEnv(cfg *Config) error {
	if v := os.Getenv(EnvDir); v != "" {
		cfg.VaultDir = v
	}

	if v := os.Getenv(EnvPrefix + "KDF_ITERATIONS"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("parse KDF_ITERATIONS: %w", err)
		}
		cfg.KDFIterations = n
	}

	if v := os.Getenv(EnvPrefix + "LOG_LEVEL"); v != "" {
		cfg.Log.Level = strings.ToLower(v)
	}

	if v := os.Getenv(EnvPrefix + "LOG_FORMAT"); v != "" {
		cfg.Log.Format = strings.ToLower(v)
	}

	if v := os.Getenv(EnvPrefix + "AUDIT"); v != "" {
		enabled, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("parse AUDIT: %w", err)
		}
		cfg.Audit.Enabled = enabled
	}

	return nil
}

// Save writes cfg to path with owner-only permissions.
func Save(path string, cfg *Config) error {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}
