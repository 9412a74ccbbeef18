// Package mcp implements the MCP (Model Context Protocol) server for safelogger.
// AI agents never receive stored passwords: tools return metadata, masked
// values and freshness reports only.
package mcp

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/rs/zerolog"

	"github.com/forest6511/safelogger/internal/cli"
	"github.com/forest6511/safelogger/internal/config"
	"github.com/forest6511/safelogger/pkg/audit"
	"github.com/forest6511/safelogger/pkg/vault"
)

// Version is reported to MCP clients.
const Version = "0.1.0"

// ErrNoPassphrase is returned when no master passphrase is available.
var ErrNoPassphrase = errors.New("no passphrase provided: set " + config.EnvPassphrase + " environment variable")

// Server represents the MCP server for safelogger.
type Server struct {
	server  *mcp.Server
	session *cli.Session
	vault   *vault.Vault
	audit   *audit.Logger
	cfg     *config.Config
	log     zerolog.Logger
	tools   []string // registered tool names
}

// ServerOptions contains configuration options for the MCP server.
type ServerOptions struct {
	// Config is the loaded configuration. Required.
	Config *config.Config

	// Passphrase is the master passphrase for the vault.
	// If empty, the server reads SAFELOGGER_PASSPHRASE and clears it.
	Passphrase string

	// Logger receives server diagnostics. Defaults to zerolog.Nop().
	Logger *zerolog.Logger
}

// NewServer opens and unlocks the vault and creates a new MCP server instance.
func NewServer(opts *ServerOptions) (*Server, error) {
	if opts == nil || opts.Config == nil {
		return nil, errors.New("mcp: config is required")
	}

	log := zerolog.Nop()
	if opts.Logger != nil {
		log = *opts.Logger
	}

	passphrase := opts.Passphrase
	if passphrase == "" {
		passphrase = os.Getenv(config.EnvPassphrase)
		// Clear the environment variable after reading
		os.Unsetenv(config.EnvPassphrase)
	}
	if passphrase == "" {
		return nil, ErrNoPassphrase
	}

	session, err := cli.Open(opts.Config, log, audit.SourceMCP)
	if err != nil {
		return nil, fmt.Errorf("failed to open vault: %w", err)
	}

	ok, err := session.Vault.Authenticate(passphrase)
	if err != nil {
		session.Close()
		return nil, fmt.Errorf("failed to unlock vault: %w", err)
	}
	if !ok {
		session.Close()
		return nil, errors.New("failed to unlock vault: invalid passphrase or vault not initialized")
	}

	s := newServer(session.Vault, session.Audit, opts.Config, log)
	s.session = session
	return s, nil
}

// newServer wires the MCP server around an unlocked vault.
func newServer(v *vault.Vault, a *audit.Logger, cfg *config.Config, log zerolog.Logger) *Server {
	s := &Server{
		server: mcp.NewServer(
			&mcp.Implementation{
				Name:    "safelogger",
				Version: Version,
			},
			nil,
		),
		vault: v,
		audit: a,
		cfg:   cfg,
		log:   log.With().Str("component", "mcp").Logger(),
	}
	s.registerTools()
	return s
}

// registerTools registers every tool permitted by the mcp section of the
// config.
func (s *Server) registerTools() {
	// record_list - List records with metadata (no passwords)
	s.addTool(&mcp.Tool{
		Name:        "record_list",
		Description: "List credential records with user name, last change date, age and freshness. Optional query filters names (substring or glob). Does NOT return passwords.",
	}, func(t *mcp.Tool) { mcp.AddTool(s.server, t, s.handleRecordList) })

	// record_exists - Check if a record exists
	s.addTool(&mcp.Tool{
		Name:        "record_exists",
		Description: "Check if a record name exists and return its metadata. Does NOT return the password.",
	}, func(t *mcp.Tool) { mcp.AddTool(s.server, t, s.handleRecordExists) })

	// record_get_masked - Get masked password
	s.addTool(&mcp.Tool{
		Name:        "record_get_masked",
		Description: "Get a masked version of a record's password (e.g., '****WXYZ') and its length.",
	}, func(t *mcp.Tool) { mcp.AddTool(s.server, t, s.handleRecordGetMasked) })

	// record_archive - Archived password intervals
	s.addTool(&mcp.Tool{
		Name:        "record_archive",
		Description: "List the periods during which earlier passwords of a record were active. Does NOT return the passwords.",
	}, func(t *mcp.Tool) { mcp.AddTool(s.server, t, s.handleRecordArchive) })

	// password_generate - Generate a new password
	s.addTool(&mcp.Tool{
		Name:        "password_generate",
		Description: "Generate a random password. Defaults come from the generator section of the config.",
	}, func(t *mcp.Tool) { mcp.AddTool(s.server, t, s.handlePasswordGenerate) })

	// vault_health - Security report
	s.addTool(&mcp.Tool{
		Name:        "vault_health",
		Description: "Security report: score, weak and duplicate passwords, and records whose password is aging or stale.",
	}, func(t *mcp.Tool) { mcp.AddTool(s.server, t, s.handleVaultHealth) })
}

func (s *Server) addTool(t *mcp.Tool, register func(*mcp.Tool)) {
	if allowed, reason := s.cfg.MCP.IsToolAllowed(t.Name); !allowed {
		s.log.Debug().Str("tool", t.Name).Str("reason", reason).Msg("tool disabled")
		return
	}
	register(t)
	s.tools = append(s.tools, t.Name)
}

// Tools returns the names of the registered tools.
func (s *Server) Tools() []string {
	return append([]string(nil), s.tools...)
}

// Run starts the MCP server using stdio transport.
func (s *Server) Run(ctx context.Context) error {
	defer s.Close()

	s.log.Info().Strs("tools", s.tools).Msg("serving MCP over stdio")
	return s.server.Run(ctx, &mcp.StdioTransport{})
}

// Close locks the vault and closes the store.
func (s *Server) Close() error {
	if s.session != nil {
		return s.session.Close()
	}
	s.vault.Logoff()
	return nil
}
