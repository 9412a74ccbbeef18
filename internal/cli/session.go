package cli

import (
	"github.com/rs/zerolog"

	"github.com/forest6511/safelogger/internal/config"
	"github.com/forest6511/safelogger/pkg/audit"
	"github.com/forest6511/safelogger/pkg/store"
	"github.com/forest6511/safelogger/pkg/vault"
)

// Session is a vault engine over an opened store.
type Session struct {
	Vault  *vault.Vault
	Store  *store.SQLiteStore
	Audit  *audit.Logger // nil when auditing is disabled
	Config *config.Config
}

// Open opens the store in cfg.VaultDir and builds the engine over it.
// source tags audit events (audit.SourceCLI or audit.SourceMCP).
func Open(cfg *config.Config, log zerolog.Logger, source string) (*Session, error) {
	s, err := store.Open(cfg.VaultDir)
	if err != nil {
		return nil, err
	}

	opts := []vault.Option{
		vault.WithLogger(log.With().Str("component", "vault").Logger()),
		vault.WithIterations(cfg.KDFIterations),
		vault.WithFreshness(cfg.Freshness.AgingDays, cfg.Freshness.StaleDays),
		vault.WithLockStatePath(cfg.LockStatePath()),
	}

	var auditLog *audit.Logger
	if cfg.Audit.Enabled {
		auditLog = audit.NewLogger(cfg.AuditDir(), source)
		opts = append(opts, vault.WithAudit(auditLog))
	}

	return &Session{
		Vault:  vault.New(s, opts...),
		Store:  s,
		Audit:  auditLog,
		Config: cfg,
	}, nil
}

// Close locks the vault and closes the store.
func (s *Session) Close() error {
	s.Vault.Logoff()
	return s.Store.Close()
}
