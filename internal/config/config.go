// Package config loads the safelogger configuration file.
package config

import (
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strings"

	"github.com/forest6511/safelogger/pkg/crypto"
	"github.com/forest6511/safelogger/pkg/vault"
)

// FileName is the name of the configuration file inside the vault directory
const FileName = "config.yaml"

// Environment variables
const (
	EnvPrefix     = "SAFELOGGER_"
	EnvDir        = EnvPrefix + "DIR"
	EnvPassphrase = EnvPrefix + "PASSPHRASE"
)

// Tool policy actions
const (
	ActionAllow = "allow"
	ActionDeny  = "deny"
)

// Config holds all application configuration.
type Config struct {
	Version       int             `yaml:"version"`
	VaultDir      string          `yaml:"vault_dir"`
	KDFIterations int             `yaml:"kdf_iterations"`
	Log           LogConfig       `yaml:"log"`
	Freshness     FreshnessConfig `yaml:"freshness"`
	Generator     GeneratorConfig `yaml:"generator"`
	Audit         AuditConfig     `yaml:"audit"`
	MCP           MCPConfig       `yaml:"mcp"`
}

// LogConfig for logging behavior.
type LogConfig struct {
	Level  string `yaml:"level"`  // debug, info, warn, error
	Format string `yaml:"format"` // console, json
}

// FreshnessConfig sets the password age classes in days.
type FreshnessConfig struct {
	AgingDays int `yaml:"aging_days"`
	StaleDays int `yaml:"stale_days"`
}

// GeneratorConfig holds the password generator defaults.
type GeneratorConfig struct {
	Length int     `yaml:"length"`
	Digits bool    `yaml:"digits"`
	Upper  bool    `yaml:"upper"`
	Ratio  float64 `yaml:"ratio"` // share of lowercase letters
}

// AuditConfig for the audit log.
type AuditConfig struct {
	Enabled bool `yaml:"enabled"`
}

// MCPConfig restricts the tools served by the MCP server.
type MCPConfig struct {
	DefaultAction string   `yaml:"default_action"`
	DeniedTools   []string `yaml:"denied_tools"`
	AllowedTools  []string `yaml:"allowed_tools"`
}

// DefaultDir returns ~/.safelogger, or .safelogger if the home directory
// is unknown.
func DefaultDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".safelogger"
	}
	return filepath.Join(home, ".safelogger")
}

// DefaultConfig returns config with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		Version:       1,
		VaultDir:      DefaultDir(),
		KDFIterations: crypto.DefaultIterations,
		Log: LogConfig{
			Level:  "warn",
			Format: "console",
		},
		Freshness: FreshnessConfig{
			AgingDays: vault.DefaultAgingDays,
			StaleDays: vault.DefaultStaleDays,
		},
		Generator: GeneratorConfig{
			Length: 16,
			Digits: true,
			Upper:  true,
			Ratio:  0.5,
		},
		Audit: AuditConfig{
			Enabled: true,
		},
		MCP: MCPConfig{
			DefaultAction: ActionAllow,
		},
	}
}

// Validate checks configuration validity.
func (c *Config) Validate() error {
	if c.Version != 1 {
		return fmt.Errorf("unsupported config version: %d", c.Version)
	}

	if c.VaultDir == "" {
		return errors.New("vault_dir is required")
	}

	if c.KDFIterations < crypto.MinIterations {
		return fmt.Errorf("kdf_iterations must be at least %d", crypto.MinIterations)
	}

	validLevels := map[string]bool{
		"debug": true, "info": true, "warn": true, "error": true,
	}
	if !validLevels[c.Log.Level] {
		return fmt.Errorf("invalid log level: %s", c.Log.Level)
	}

	validFormats := map[string]bool{"console": true, "json": true}
	if !validFormats[c.Log.Format] {
		return fmt.Errorf("invalid log format: %s", c.Log.Format)
	}

	if c.Freshness.AgingDays <= 0 {
		return errors.New("freshness.aging_days must be positive")
	}
	if c.Freshness.StaleDays <= c.Freshness.AgingDays {
		return errors.New("freshness.stale_days must be greater than freshness.aging_days")
	}

	if c.Generator.Length < vault.MinGeneratedLength || c.Generator.Length > vault.MaxGeneratedLength {
		return fmt.Errorf("generator.length must be between %d and %d", vault.MinGeneratedLength, vault.MaxGeneratedLength)
	}
	if math.IsNaN(c.Generator.Ratio) || c.Generator.Ratio < 0 || c.Generator.Ratio > 1 {
		return errors.New("generator.ratio must be between 0 and 1")
	}

	if c.MCP.DefaultAction != ActionDeny && c.MCP.DefaultAction != ActionAllow {
		return fmt.Errorf("invalid mcp.default_action: %s (must be '%s' or '%s')", c.MCP.DefaultAction, ActionDeny, ActionAllow)
	}

	return nil
}

// AuditDir returns the audit log directory.
func (c *Config) AuditDir() string {
	return filepath.Join(c.VaultDir, "audit")
}

// LockStatePath returns the unlock throttling state file.
func (c *Config) LockStatePath() string {
	return filepath.Join(c.VaultDir, "lock_state.json")
}

// BackupPath returns the snapshot written before re-keying.
func (c *Config) BackupPath() string {
	return filepath.Join(c.VaultDir, "vault.db.bak")
}

// IsToolAllowed checks if an MCP tool may be served.
// Evaluation order:
// 1. denied_tools → deny
// 2. allowed_tools → allow
// 3. default_action
func (m MCPConfig) IsToolAllowed(tool string) (allowed bool, reason string) {
	for _, denied := range m.DeniedTools {
		if matchTool(tool, denied) {
			return false, fmt.Sprintf("tool '%s' matches denied pattern '%s'", tool, denied)
		}
	}

	for _, allowed := range m.AllowedTools {
		if matchTool(tool, allowed) {
			return true, ""
		}
	}

	if m.DefaultAction == ActionAllow {
		return true, ""
	}
	return false, fmt.Sprintf("tool '%s' not in allowed_tools list", tool)
}

// matchTool matches a tool name exactly, or by prefix when pattern ends
// with '*' ("record_*").
func matchTool(tool, pattern string) bool {
	if prefix, ok := strings.CutSuffix(pattern, "*"); ok {
		return strings.HasPrefix(tool, prefix)
	}
	return tool == pattern
}
