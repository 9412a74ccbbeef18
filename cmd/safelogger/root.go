package main

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/forest6511/safelogger/internal/cli"
	"github.com/forest6511/safelogger/internal/config"
	"github.com/forest6511/safelogger/internal/logging"
	"github.com/forest6511/safelogger/pkg/audit"
	"github.com/forest6511/safelogger/pkg/crypto"
	"github.com/forest6511/safelogger/pkg/vault"
)

var (
	configPath string
	vaultDir   string

	cfg    *config.Config
	logger = zerolog.Nop()
)

// stdin is shared so buffered input is not lost between prompts
var stdin = bufio.NewReader(os.Stdin)

var rootCmd = &cobra.Command{
	Use:   "safelogger",
	Short: "safelogger keeps a local, encrypted log of your credentials",
	Long: `safelogger stores account credentials encrypted under one master passphrase,
remembers every password a record had, and tells you which passwords are
getting old.`,
	SilenceUsage:  true,
	SilenceErrors: true,
	// PersistentPreRunE runs before every subcommand and loads the config.
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		loaded, err := config.NewLoader(configPath).WithVaultDir(vaultDir).Load()
		if err != nil {
			return fmt.Errorf("failed to load config: %w", err)
		}

		l, err := logging.New(loaded.Log, os.Stderr)
		if err != nil {
			return err
		}
		cfg, logger = loaded, l
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "Config file (default: <vault dir>/config.yaml)")
	rootCmd.PersistentFlags().StringVar(&vaultDir, "vault-dir", "", "Vault directory (default: ~/.safelogger)")

	rootCmd.AddCommand(initCmd)
}

// initCmd creates the master key of a new vault
var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Initializes a new vault",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		session, err := openVault()
		if err != nil {
			return err
		}
		defer session.Close()

		first, err := session.Vault.IsFirstUse()
		if err != nil {
			return err
		}
		if !first {
			return fmt.Errorf("vault already initialized at %s", cfg.VaultDir)
		}

		fmt.Println("Initializing new vault...")
		passphrase := os.Getenv(config.EnvPassphrase)
		if passphrase == "" {
			passphrase, err = readNewPassphrase("master passphrase")
			if err != nil {
				return err
			}
		}

		if err := session.Vault.UpdateKey(passphrase); err != nil {
			return describeError("failed to initialize vault", err)
		}

		// Leave a config file behind for the user to edit
		if configPath == "" {
			path := filepath.Join(cfg.VaultDir, config.FileName)
			if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
				if err := config.Save(path, cfg); err != nil {
					printWarning("failed to write config file: %v", err)
				}
			}
		}

		printSuccess("Vault initialized at %s", cfg.VaultDir)
		return nil
	},
}

// openVault opens the vault in the configured directory without unlocking it.
func openVault() (*cli.Session, error) {
	session, err := cli.Open(cfg, logger, audit.SourceCLI)
	if err != nil {
		return nil, fmt.Errorf("failed to open vault: %w", err)
	}
	return session, nil
}

// unlockVault opens the vault and authenticates. The master passphrase is
// taken from SAFELOGGER_PASSPHRASE or prompted for.
func unlockVault() (*cli.Session, error) {
	session, err := openVault()
	if err != nil {
		return nil, err
	}

	if session.Vault.State() == vault.Uninitialized {
		session.Close()
		return nil, errors.New("vault is not initialized: run 'safelogger init' first")
	}

	passphrase := os.Getenv(config.EnvPassphrase)
	if passphrase == "" {
		passphrase, err = readPassword("Enter master passphrase: ")
		if err != nil {
			session.Close()
			return nil, err
		}
	}

	ok, err := session.Vault.Authenticate(passphrase)
	if err != nil {
		session.Close()
		return nil, fmt.Errorf("failed to unlock vault: %w", err)
	}
	if !ok {
		remaining := session.Vault.RemainingCooldown()
		session.Close()
		if remaining > 0 {
			return nil, fmt.Errorf("failed to unlock vault: too many attempts, wait %v", remaining.Round(time.Second))
		}
		return nil, errors.New("failed to unlock vault: invalid master passphrase")
	}
	return session, nil
}

// readPassword reads a line without echo when stdin is a terminal.
func readPassword(prompt string) (string, error) {
	fmt.Fprint(os.Stderr, prompt)
	fd := int(os.Stdin.Fd())
	if !term.IsTerminal(fd) {
		// Fallback for piped input
		return readLine()
	}

	b, err := term.ReadPassword(fd)
	fmt.Fprintln(os.Stderr)
	if err != nil {
		return "", fmt.Errorf("failed to read password: %w", err)
	}
	defer crypto.SecureWipe(b)
	return string(b), nil
}

// readNewPassphrase prompts twice and validates the result.
func readNewPassphrase(what string) (string, error) {
	p1, err := readPassword(fmt.Sprintf("Enter %s: ", what))
	if err != nil {
		return "", err
	}
	p2, err := readPassword(fmt.Sprintf("Confirm %s: ", what))
	if err != nil {
		return "", err
	}
	if p1 != p2 {
		return "", fmt.Errorf("%ss do not match", what)
	}
	if result := vault.ValidatePassphrase(p1); result != vault.Legal {
		return "", fmt.Errorf("%s %s", what, result)
	}
	return p1, nil
}

// readLine reads a single line from stdin, trimming trailing newline
func readLine() (string, error) {
	line, err := stdin.ReadString('\n')
	if err != nil && err != io.EOF {
		return "", fmt.Errorf("failed to read input: %w", err)
	}
	value := strings.TrimSuffix(line, "\n")
	return strings.TrimSuffix(value, "\r"), nil
}

// confirm asks a yes/no question; anything but y or yes is no.
func confirm(prompt string) bool {
	fmt.Fprintf(os.Stderr, "%s [y/N]: ", prompt)
	answer, err := readLine()
	if err != nil {
		return false
	}
	answer = strings.ToLower(strings.TrimSpace(answer))
	return answer == "y" || answer == "yes"
}

// describeError turns engine errors into messages for the terminal.
func describeError(action string, err error) error {
	if reason, ok := vault.ValidationReason(err); ok {
		return fmt.Errorf("%s: %s", action, reason)
	}
	return fmt.Errorf("%s: %w", action, err)
}

// parseDuration parses a duration string like "30d", "1y", "24h"
func parseDuration(s string) (time.Duration, error) {
	if len(s) < 2 {
		return 0, fmt.Errorf("duration too short: %s", s)
	}

	unit := s[len(s)-1]
	valueStr := s[:len(s)-1]

	var value int
	if _, err := fmt.Sscanf(valueStr, "%d", &value); err != nil {
		return 0, fmt.Errorf("invalid duration value: %s", valueStr)
	}
	if value < 0 {
		return 0, fmt.Errorf("duration must not be negative: %s", s)
	}

	switch unit {
	case 'h':
		return time.Duration(value) * time.Hour, nil
	case 'd':
		return time.Duration(value) * 24 * time.Hour, nil
	case 'w':
		return time.Duration(value) * 7 * 24 * time.Hour, nil
	case 'm':
		return time.Duration(value) * 30 * 24 * time.Hour, nil
	case 'y':
		return time.Duration(value) * 365 * 24 * time.Hour, nil
	default:
		// Try standard time.ParseDuration
		return time.ParseDuration(s)
	}
}
