package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/forest6511/safelogger/internal/config"
	"github.com/forest6511/safelogger/pkg/vault"
)

const (
	defaultPasswordCount = 1
	maxPasswordCount     = 100
)

// Generate command flags
var (
	generateLength   int
	generateCount    int
	generateNoDigits bool
	generateNoUpper  bool
	generateRatio    float64
)

func init() {
	rootCmd.AddCommand(generateCmd)

	generateCmd.Flags().IntVarP(&generateLength, "length", "l", 0, fmt.Sprintf("Password length (%d-%d, default from config)", vault.MinGeneratedLength, vault.MaxGeneratedLength))
	generateCmd.Flags().IntVarP(&generateCount, "count", "n", defaultPasswordCount, "Number of passwords to generate (1-100)")
	generateCmd.Flags().BoolVar(&generateNoDigits, "no-digits", false, "Exclude digits")
	generateCmd.Flags().BoolVar(&generateNoUpper, "no-upper", false, "Exclude uppercase letters")
	generateCmd.Flags().Float64Var(&generateRatio, "ratio", 0, "Share of lowercase letters (0-1, default from config)")
}

var generateCmd = &cobra.Command{
	Use:   "generate",
	Short: "Generate secure random passwords",
	Long: `Generate cryptographically secure random passwords.

Defaults come from the generator section of the config file.

Examples:
  # Generate a password with the configured defaults
  safelogger generate

  # Generate a 32-character password without digits
  safelogger generate -l 32 --no-digits

  # Generate 5 mostly uppercase passwords
  safelogger generate -n 5 --ratio 0.2`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		gen := generatorOptions(cfg.Generator, cmd)
		passwords, err := generatePasswords(gen, generateCount)
		if err != nil {
			return err
		}
		for _, password := range passwords {
			fmt.Println(password)
		}
		return nil
	},
}

// generatorOptions applies the flags the user set on top of the defaults.
func generatorOptions(defaults config.GeneratorConfig, cmd *cobra.Command) config.GeneratorConfig {
	gen := defaults
	if cmd.Flags().Changed("length") {
		gen.Length = generateLength
	}
	if generateNoDigits {
		gen.Digits = false
	}
	if generateNoUpper {
		gen.Upper = false
	}
	if cmd.Flags().Changed("ratio") {
		gen.Ratio = generateRatio
	}
	return gen
}

// generatePasswords returns count passwords built with gen.
func generatePasswords(gen config.GeneratorConfig, count int) ([]string, error) {
	if count < 1 {
		return nil, fmt.Errorf("count must be at least 1")
	}
	if count > maxPasswordCount {
		return nil, fmt.Errorf("count must be at most %d", maxPasswordCount)
	}

	passwords := make([]string, count)
	for i := range passwords {
		password, err := vault.GeneratePassword(gen.Length, gen.Digits, gen.Upper, gen.Ratio)
		if err != nil {
			return nil, fmt.Errorf("failed to generate password: %w", err)
		}
		passwords[i] = password
	}
	return passwords, nil
}
