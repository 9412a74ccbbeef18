package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/forest6511/safelogger/internal/logging"
	"github.com/forest6511/safelogger/internal/mcp"
)

func init() {
	rootCmd.AddCommand(mcpServerCmd)
}

// mcpServerCmd starts the MCP server for AI coding assistant integration
var mcpServerCmd = &cobra.Command{
	Use:   "mcp-server",
	Short: "Start the MCP server for AI assistant integration",
	Long: `Start the MCP server that gives AI assistants read access to vault metadata.

The server implements the Model Context Protocol (MCP) over stdio transport.
AI agents never receive stored passwords.

Available tools:
  - record_list:       List records with age and freshness (no passwords)
  - record_exists:     Check if a record exists with metadata
  - record_get_masked: Get masked password (e.g., "****WXYZ")
  - record_archive:    List periods of earlier passwords (no passwords)
  - password_generate: Generate a new random password
  - vault_health:      Security score and aging/stale records

Authentication:
  Set SAFELOGGER_PASSPHRASE environment variable before starting the server.
  The passphrase is read once and immediately cleared from the environment.

  SECURITY NOTE: On Linux, the environment variable may briefly be visible
  via /proc/<pid>/environ before it is cleared.

Policy:
  The mcp section of config.yaml can deny tools:
    mcp:
      default_action: allow
      denied_tools: ["record_get_masked"]

Example MCP client configuration:
  {
    "mcpServers": {
      "safelogger": {
        "type": "stdio",
        "command": "/path/to/safelogger",
        "args": ["mcp-server"],
        "env": {
          "SAFELOGGER_PASSPHRASE": "your-master-passphrase"
        }
      }
    }
  }`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runMCPServer(cmd.Context())
	},
}

func runMCPServer(parent context.Context) error {
	if parent == nil {
		parent = context.Background()
	}
	log := logging.Component(logger, "mcp-server")

	server, err := mcp.NewServer(&mcp.ServerOptions{
		Config: cfg,
		Logger: &log,
	})
	if err != nil {
		return fmt.Errorf("failed to create MCP server: %w", err)
	}

	// Set up signal handling for graceful shutdown
	ctx, stop := signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := server.Run(ctx); err != nil {
		// Don't report context canceled as an error
		if ctx.Err() != nil {
			return nil
		}
		return fmt.Errorf("MCP server error: %w", err)
	}
	return nil
}
