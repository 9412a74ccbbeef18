package main

import (
	"errors"
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/forest6511/safelogger/internal/cli"
	"github.com/forest6511/safelogger/pkg/vault"
)

// Record command flags
var (
	addUser     string
	addGenerate bool

	listShow bool

	updateName     string
	updateUser     string
	updatePassword bool
	updateGenerate bool
	updateYes      bool

	removeForce bool

	archiveShow bool
)

func init() {
	rootCmd.AddCommand(addCmd)
	rootCmd.AddCommand(listCmd)
	rootCmd.AddCommand(showCmd)
	rootCmd.AddCommand(updateCmd)
	rootCmd.AddCommand(removeCmd)
	rootCmd.AddCommand(archiveCmd)

	addCmd.Flags().StringVarP(&addUser, "user", "u", "", "User name for the account (required)")
	addCmd.Flags().BoolVarP(&addGenerate, "generate", "g", false, "Generate the password with the configured generator")
	_ = addCmd.MarkFlagRequired("user")

	listCmd.Flags().BoolVar(&listShow, "show", false, "Show passwords")

	updateCmd.Flags().StringVar(&updateName, "name", "", "New record name")
	updateCmd.Flags().StringVarP(&updateUser, "user", "u", "", "New user name")
	updateCmd.Flags().BoolVarP(&updatePassword, "password", "p", false, "Prompt for a new password")
	updateCmd.Flags().BoolVarP(&updateGenerate, "generate", "g", false, "Generate a new password")
	updateCmd.Flags().BoolVarP(&updateYes, "yes", "y", false, "Accept a password this record used before")
	updateCmd.MarkFlagsMutuallyExclusive("password", "generate")

	removeCmd.Flags().BoolVarP(&removeForce, "force", "f", false, "Skip confirmation prompt")

	archiveCmd.Flags().BoolVar(&archiveShow, "show", false, "Show archived passwords")
}

// addCmd adds a record
var addCmd = &cobra.Command{
	Use:   "add NAME",
	Short: "Adds a credential record",
	Example: `  safelogger add github --user alice
  safelogger add work/mail --user alice@example.com --generate`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		session, err := unlockVault()
		if err != nil {
			return err
		}
		defer session.Close()

		password, err := newRecordPassword(addGenerate)
		if err != nil {
			return err
		}

		rec, err := session.Vault.AddRecord(args[0], addUser, password)
		if err != nil {
			return describeError("failed to add record", err)
		}

		printSuccess("Record '%s' added", rec.Name)
		if addGenerate {
			fmt.Println(password)
		}
		return nil
	},
}

// newRecordPassword generates a password or prompts for one twice.
func newRecordPassword(generate bool) (string, error) {
	if generate {
		g := cfg.Generator
		return vault.GeneratePassword(g.Length, g.Digits, g.Upper, g.Ratio)
	}

	p1, err := readPassword("Enter password: ")
	if err != nil {
		return "", err
	}
	p2, err := readPassword("Confirm password: ")
	if err != nil {
		return "", err
	}
	if p1 != p2 {
		return "", errors.New("passwords do not match")
	}
	return p1, nil
}

// listCmd lists records
var listCmd = &cobra.Command{
	Use:   "list [PATTERN]",
	Short: "Lists records with their password age",
	Long: `Lists records with user name, last change date, age and freshness.

PATTERN filters by name: a glob (e.g. "work/*") must match the whole name,
anything else matches as a case-insensitive substring.`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		session, err := unlockVault()
		if err != nil {
			return err
		}
		defer session.Close()

		records, err := session.Vault.ListRecords()
		if err != nil {
			return fmt.Errorf("failed to list records: %w", err)
		}

		var query string
		if len(args) == 1 {
			query = args[0]
		}
		records, err = cli.FilterRecords(query, records)
		if err != nil {
			return err
		}

		if len(records) == 0 {
			fmt.Println("No records found")
			return nil
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		header := "NAME\tUSER\tLAST CHANGED\tAGE\t"
		if listShow {
			header += "PASSWORD\t"
		}
		fmt.Fprintln(w, header+"FRESHNESS")
		for _, rec := range records {
			line := fmt.Sprintf("%s\t%s\t%s\t%dd\t", rec.Name, rec.UserName, rec.LastChanged, rec.AgeInDays)
			if listShow {
				line += rec.Password + "\t"
			}
			// colour codes last so they do not skew the column widths
			fmt.Fprintln(w, line+freshnessLabel(rec.Freshness))
		}
		return w.Flush()
	},
}

// showCmd shows one record including its password
var showCmd = &cobra.Command{
	Use:   "show NAME",
	Short: "Shows a record and its password",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		session, err := unlockVault()
		if err != nil {
			return err
		}
		defer session.Close()

		rec, err := session.Vault.FindRecord(args[0])
		if err != nil {
			return fmt.Errorf("failed to find record '%s': %w", args[0], err)
		}

		fmt.Printf("Name:         %s\n", rec.Name)
		fmt.Printf("User:         %s\n", rec.UserName)
		fmt.Printf("Password:     %s\n", rec.Password)
		fmt.Printf("Last changed: %s (%s ago)\n", rec.LastChanged, plural(rec.AgeInDays, "day"))
		fmt.Printf("Freshness:    %s\n", freshnessLabel(rec.Freshness))
		return nil
	},
}

// updateCmd changes a record
var updateCmd = &cobra.Command{
	Use:   "update NAME",
	Short: "Changes the name, user name or password of a record",
	Long: `Changes the name, user name or password of a record. A new password
archives the current one.

Reusing a password the record had before asks for confirmation unless --yes
is given.`,
	Example: `  safelogger update github --password
  safelogger update github --generate
  safelogger update github --name github.com --user bob`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		session, err := unlockVault()
		if err != nil {
			return err
		}
		defer session.Close()

		rec, err := session.Vault.FindRecord(args[0])
		if err != nil {
			return fmt.Errorf("failed to find record '%s': %w", args[0], err)
		}

		name, user, password := rec.Name, rec.UserName, rec.Password
		if cmd.Flags().Changed("name") {
			name = updateName
		}
		if cmd.Flags().Changed("user") {
			user = updateUser
		}
		if updatePassword || updateGenerate {
			password, err = newRecordPassword(updateGenerate)
			if err != nil {
				return err
			}
		}

		err = session.Vault.UpdateRecord(rec, name, user, password, updateYes)
		if errors.Is(err, vault.ErrPasswordReused) {
			if !confirm("This password was used before for this record. Use it anyway?") {
				fmt.Println("Aborted")
				return nil
			}
			err = session.Vault.UpdateRecord(rec, name, user, password, true)
		}
		if err != nil {
			return describeError("failed to update record", err)
		}

		printSuccess("Record '%s' updated", name)
		if updateGenerate {
			fmt.Println(password)
		}
		return nil
	},
}

// removeCmd removes records and their archive
var removeCmd = &cobra.Command{
	Use:   "remove NAME...",
	Short: "Removes records and their archived passwords",
	Long: `Removes records and their archived passwords.

Names may be glob patterns (e.g. "old/*").`,
	Aliases: []string{"rm"},
	Args:    cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		session, err := unlockVault()
		if err != nil {
			return err
		}
		defer session.Close()

		records, err := session.Vault.ListRecords()
		if err != nil {
			return fmt.Errorf("failed to list records: %w", err)
		}

		names, err := cli.ExpandPatterns(args, cli.RecordNames(records))
		if err != nil {
			return err
		}

		if !removeForce {
			fmt.Fprintf(os.Stderr, "This will remove %s:\n", plural(len(names), "record"))
			for _, name := range names {
				fmt.Fprintf(os.Stderr, "  - %s\n", name)
			}
			if !confirm("Are you sure?") {
				fmt.Println("Aborted")
				return nil
			}
		}

		byName := make(map[string]vault.PreviewRecord, len(records))
		for _, rec := range records {
			byName[rec.Name] = rec
		}
		for _, name := range names {
			if err := session.Vault.RemoveRecord(byName[name]); err != nil {
				return fmt.Errorf("failed to remove record '%s': %w", name, err)
			}
			printSuccess("Record '%s' removed", name)
		}
		return nil
	},
}

// archiveCmd lists archived passwords
var archiveCmd = &cobra.Command{
	Use:   "archive [NAME]",
	Short: "Lists the passwords a record had before",
	Long: `Lists the periods during which earlier passwords were active, for one record
or for the whole vault. Passwords are masked unless --show is given.`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		session, err := unlockVault()
		if err != nil {
			return err
		}
		defer session.Close()

		records, err := session.Vault.ListRecords()
		if err != nil {
			return fmt.Errorf("failed to list records: %w", err)
		}
		names := make(map[int64]string, len(records))
		for _, rec := range records {
			names[rec.ID] = rec.Name
		}

		var entries []vault.ArchiveEntry
		if len(args) == 1 {
			rec, err := session.Vault.FindRecord(args[0])
			if err != nil {
				return fmt.Errorf("failed to find record '%s': %w", args[0], err)
			}
			entries, err = session.Vault.GetArchive(rec.ID)
			if err != nil {
				return fmt.Errorf("failed to read archive: %w", err)
			}
		} else {
			entries, err = session.Vault.GetAllArchiveEntries()
			if err != nil {
				return fmt.Errorf("failed to read archive: %w", err)
			}
		}

		if len(entries) == 0 {
			fmt.Println("No archived passwords")
			return nil
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "NAME\tFROM\tUNTIL\tPASSWORD")
		for _, e := range entries {
			password := cli.MaskPassword(e.Password)
			if archiveShow {
				password = e.Password
			}
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", names[e.RecordID], e.ActiveFrom, e.ActiveUntil, password)
		}
		return w.Flush()
	},
}
