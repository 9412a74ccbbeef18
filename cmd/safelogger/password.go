package main

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/forest6511/safelogger/pkg/vault"
)

var passwdNoBackup bool

func init() {
	rootCmd.AddCommand(passwdCmd)

	passwdCmd.Flags().BoolVar(&passwdNoBackup, "no-backup", false, "Do not back up the vault before changing the passphrase")
}

// passwdCmd changes the master passphrase.
var passwdCmd = &cobra.Command{
	Use:   "passwd",
	Short: "Change the master passphrase",
	Long: `Change the master passphrase and re-encrypt every record.

This operation:
  1. Unlocks the vault with the current passphrase
  2. Decrypts every record
  3. Creates a backup of the vault (vault.db.bak)
  4. Re-encrypts all current and archived passwords under the new passphrase

The change is atomic: either fully succeeds or has no effect.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		session, err := unlockVault()
		if err != nil {
			return err
		}
		defer session.Close()

		// Re-encryption needs every stored password
		records, err := session.Vault.ListRecords()
		if err != nil {
			return fmt.Errorf("failed to list records: %w", err)
		}

		passphrase, err := readNewPassphrase("new master passphrase")
		if err != nil {
			return err
		}

		if !passwdNoBackup {
			if err := session.Store.Backup(cfg.BackupPath()); err != nil {
				return fmt.Errorf("failed to back up vault: %w", err)
			}
			printInfo("Backup written to %s", cfg.BackupPath())
		}

		fmt.Printf("Re-encrypting %s...\n", plural(len(records), "record"))
		if err := session.Vault.UpdateKey(passphrase); err != nil {
			if errors.Is(err, vault.ErrIncompleteKnowledge) {
				return errors.New("the vault changed while re-encrypting, please retry")
			}
			return describeError("failed to change passphrase", err)
		}

		printSuccess("Master passphrase changed")
		return nil
	},
}
