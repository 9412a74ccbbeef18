package config_test

import (
	"os"
	"path/filepath"
	"runtime"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/forest6511/safelogger/internal/config"
	"github.com/forest6511/safelogger/pkg/crypto"
)

func writeConfig(t *testing.T, dir, content string) string {
	t.Helper()
	path := filepath.Join(dir, config.FileName)
	require.NoError(t, os.WriteFile(path, []byte(content), 0600))
	return path
}

func TestDefaultConfig(t *testing.T) {
	cfg := config.DefaultConfig()

	assert.NotEmpty(t, cfg.VaultDir)
	assert.Equal(t, crypto.DefaultIterations, cfg.KDFIterations)
	assert.Equal(t, "warn", cfg.Log.Level)
	assert.Equal(t, 150, cfg.Freshness.AgingDays)
	assert.Equal(t, 240, cfg.Freshness.StaleDays)
	assert.True(t, cfg.Audit.Enabled)
	assert.NoError(t, cfg.Validate())
}

func TestConfigValidate(t *testing.T) {
	tests := []struct {
		name    string
		modify  func(*config.Config)
		wantErr string
	}{
		{
			name:    "valid config",
			modify:  func(c *config.Config) {},
			wantErr: "",
		},
		{
			name:    "unsupported version",
			modify:  func(c *config.Config) { c.Version = 2 },
			wantErr: "unsupported config version",
		},
		{
			name:    "missing vault dir",
			modify:  func(c *config.Config) { c.VaultDir = "" },
			wantErr: "vault_dir is required",
		},
		{
			name:    "too few iterations",
			modify:  func(c *config.Config) { c.KDFIterations = 10 },
			wantErr: "kdf_iterations must be at least",
		},
		{
			name:    "invalid log level",
			modify:  func(c *config.Config) { c.Log.Level = "invalid" },
			wantErr: "invalid log level",
		},
		{
			name:    "invalid log format",
			modify:  func(c *config.Config) { c.Log.Format = "text" },
			wantErr: "invalid log format",
		},
		{
			name:    "stale before aging",
			modify:  func(c *config.Config) { c.Freshness.StaleDays = c.Freshness.AgingDays },
			wantErr: "freshness.stale_days must be greater",
		},
		{
			name:    "generator too short",
			modify:  func(c *config.Config) { c.Generator.Length = 5 },
			wantErr: "generator.length must be between",
		},
		{
			name:    "ratio out of range",
			modify:  func(c *config.Config) { c.Generator.Ratio = 1.5 },
			wantErr: "generator.ratio must be between",
		},
		{
			name:    "invalid mcp action",
			modify:  func(c *config.Config) { c.MCP.DefaultAction = "maybe" },
			wantErr: "invalid mcp.default_action",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := config.DefaultConfig()
			tt.modify(cfg)

			err := cfg.Validate()
			if tt.wantErr != "" {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.wantErr)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestLoaderDefaultsWithoutFile(t *testing.T) {
	dir := t.TempDir()
	t.Setenv(config.EnvDir, dir)

	cfg, err := config.NewLoader("").Load()
	require.NoError(t, err)

	assert.Equal(t, dir, cfg.VaultDir)
	assert.Equal(t, filepath.Join(dir, "audit"), cfg.AuditDir())
	assert.Equal(t, filepath.Join(dir, "lock_state.json"), cfg.LockStatePath())
	assert.Equal(t, filepath.Join(dir, "vault.db.bak"), cfg.BackupPath())
}

func TestLoaderFile(t *testing.T) {
	dir := t.TempDir()
	t.Setenv(config.EnvDir, dir)
	writeConfig(t, dir, `
version: 1
kdf_iterations: 2000
log:
  level: debug
  format: json
freshness:
  aging_days: 90
  stale_days: 180
generator:
  length: 24
  digits: false
mcp:
  default_action: deny
  allowed_tools: ["record_*"]
`)

	cfg, err := config.NewLoader("").Load()
	require.NoError(t, err)

	assert.Equal(t, 2000, cfg.KDFIterations)
	assert.Equal(t, "debug", cfg.Log.Level)
	assert.Equal(t, "json", cfg.Log.Format)
	assert.Equal(t, 90, cfg.Freshness.AgingDays)
	assert.Equal(t, 180, cfg.Freshness.StaleDays)
	assert.Equal(t, 24, cfg.Generator.Length)
	assert.False(t, cfg.Generator.Digits)
	assert.True(t, cfg.Generator.Upper, "unset fields keep their defaults")
	assert.Equal(t, config.ActionDeny, cfg.MCP.DefaultAction)
}

func TestLoaderEnv(t *testing.T) {
	dir := t.TempDir()
	t.Setenv(config.EnvDir, dir)
	t.Setenv("SAFELOGGER_LOG_LEVEL", "ERROR")
	t.Setenv("SAFELOGGER_KDF_ITERATIONS", "5000")
	t.Setenv("SAFELOGGER_AUDIT", "false")
	writeConfig(t, dir, "version: 1\nlog:\n  level: debug\n")

	cfg, err := config.NewLoader("").Load()
	require.NoError(t, err)

	assert.Equal(t, "error", cfg.Log.Level, "environment overrides the file")
	assert.Equal(t, 5000, cfg.KDFIterations)
	assert.False(t, cfg.Audit.Enabled)

	t.Setenv("SAFELOGGER_KDF_ITERATIONS", "many")
	_, err = config.NewLoader("").Load()
	assert.ErrorContains(t, err, "KDF_ITERATIONS")
}

func TestLoaderWithVaultDir(t *testing.T) {
	envDir := t.TempDir()
	flagDir := t.TempDir()
	t.Setenv(config.EnvDir, envDir)
	writeConfig(t, envDir, "version: 1\nkdf_iterations: 3000\n")
	writeConfig(t, flagDir, `
version: 1
vault_dir: /elsewhere
kdf_iterations: 1000
freshness:
  aging_days: 10
  stale_days: 20
`)

	cfg, err := config.NewLoader("").WithVaultDir(flagDir).Load()
	require.NoError(t, err)

	assert.Equal(t, flagDir, cfg.VaultDir, "the vault dir beats env and file")
	assert.Equal(t, 1000, cfg.KDFIterations, "config is read from the vault dir")
	assert.Equal(t, 10, cfg.Freshness.AgingDays)
	assert.Equal(t, 20, cfg.Freshness.StaleDays)
}

func TestLoaderErrors(t *testing.T) {
	t.Run("explicit path missing", func(t *testing.T) {
		_, err := config.NewLoader(filepath.Join(t.TempDir(), "missing.yaml")).Load()
		assert.ErrorIs(t, err, config.ErrConfigNotFound)
	})

	t.Run("invalid yaml", func(t *testing.T) {
		path := writeConfig(t, t.TempDir(), "version: [")
		_, err := config.NewLoader(path).Load()
		assert.ErrorContains(t, err, "failed to parse config file")
	})

	t.Run("invalid values", func(t *testing.T) {
		path := writeConfig(t, t.TempDir(), "version: 1\ngenerator:\n  ratio: 2\n")
		_, err := config.NewLoader(path).Load()
		assert.ErrorContains(t, err, "invalid config")
	})

	t.Run("world writable", func(t *testing.T) {
		if runtime.GOOS == "windows" {
			t.Skip("permission bits are not enforced on Windows")
		}
		path := writeConfig(t, t.TempDir(), "version: 1\n")
		require.NoError(t, os.Chmod(path, 0666))

		_, err := config.NewLoader(path).Load()
		assert.ErrorIs(t, err, config.ErrConfigInsecure)
	})

	t.Run("symlink", func(t *testing.T) {
		if runtime.GOOS == "windows" {
			t.Skip("symlinks require privileges on Windows")
		}
		dir := t.TempDir()
		target := writeConfig(t, dir, "version: 1\n")
		link := filepath.Join(dir, "link.yaml")
		require.NoError(t, os.Symlink(target, link))

		_, err := config.NewLoader(link).Load()
		assert.ErrorIs(t, err, config.ErrConfigSymlink)
	})
}

func TestSaveRoundTrip(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "nested", config.FileName)

	cfg := config.DefaultConfig()
	cfg.VaultDir = dir
	cfg.Generator.Length = 32
	require.NoError(t, config.Save(path, cfg))

	if runtime.GOOS != "windows" {
		info, err := os.Stat(path)
		require.NoError(t, err)
		assert.Equal(t, os.FileMode(0600), info.Mode().Perm())
	}

	loaded, err := config.NewLoader(path).Load()
	require.NoError(t, err)
	assert.Equal(t, 32, loaded.Generator.Length)
}

func TestIsToolAllowed(t *testing.T) {
	tests := []struct {
		name   string
		policy config.MCPConfig
		tool   string
		want   bool
	}{
		{"default allow", config.MCPConfig{DefaultAction: config.ActionAllow}, "record_list", true},
		{"default deny", config.MCPConfig{DefaultAction: config.ActionDeny}, "record_list", false},
		{"allowed exact", config.MCPConfig{DefaultAction: config.ActionDeny, AllowedTools: []string{"record_list"}}, "record_list", true},
		{"allowed prefix", config.MCPConfig{DefaultAction: config.ActionDeny, AllowedTools: []string{"record_*"}}, "record_exists", true},
		{"prefix does not match other", config.MCPConfig{DefaultAction: config.ActionDeny, AllowedTools: []string{"record_*"}}, "vault_health", false},
		{"denied wins over allowed", config.MCPConfig{DefaultAction: config.ActionAllow, DeniedTools: []string{"record_*"}, AllowedTools: []string{"record_list"}}, "record_list", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			allowed, reason := tt.policy.IsToolAllowed(tt.tool)
			assert.Equal(t, tt.want, allowed)
			if !allowed {
				assert.NotEmpty(t, reason)
			}
		})
	}
}
