package main

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/forest6511/safelogger/pkg/security"
)

// Security command flags
var (
	securityAll  bool
	securityJSON bool
)

// securityCmd is the root security command.
var securityCmd = &cobra.Command{
	Use:   "security",
	Short: "Analyze vault security health",
	Long: `Analyze the security health of your vault and get recommendations.

The security score is calculated from:
  - Password Strength (0-30): Average strength of the passwords
  - Uniqueness (0-30): Share of records with a unique password
  - Freshness (0-40): Fresh records count fully, aging ones half

Example:
  safelogger security         # Show security score and top issues
  safelogger security --all   # List every issue and all suggestions
  safelogger security --json  # Output in JSON format`,
	Args: cobra.NoArgs,
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

		limits := security.SummaryLimits()
		if securityAll {
			limits = security.Unlimited()
		}
		report, err := security.Analyze(records, limits)
		if err != nil {
			return fmt.Errorf("failed to analyze vault: %w", err)
		}

		if securityJSON {
			return outputSecurityJSON(report)
		}
		outputSecurityText(report, securityAll)
		return nil
	},
}

// outputSecurityJSON outputs the security report as JSON.
func outputSecurityJSON(report *security.Report) error {
	data, err := json.MarshalIndent(report, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(data))
	return nil
}

// outputSecurityText outputs the security report as formatted text.
func outputSecurityText(report *security.Report, all bool) {
	rating := "Needs Attention"
	ratingColor := errorColor
	switch {
	case report.Overall >= 90:
		rating, ratingColor = "Excellent", successColor
	case report.Overall >= 70:
		rating, ratingColor = "Good", successColor
	case report.Overall >= 50:
		rating, ratingColor = "Fair", warningColor
	}

	ratingColor.Printf("Security Score: %d/100 (%s)\n\n", report.Overall, rating)

	c := report.Components
	fmt.Println("Components:")
	fmt.Printf("  Password Strength: %2d/%d %s\n", c.Strength, security.StrengthWeight, progressBar(c.Strength, security.StrengthWeight))
	fmt.Printf("  Uniqueness:        %2d/%d %s\n", c.Uniqueness, security.UniquenessWeight, progressBar(c.Uniqueness, security.UniquenessWeight))
	fmt.Printf("  Freshness:         %2d/%d %s\n", c.Freshness, security.FreshnessWeight, progressBar(c.Freshness, security.FreshnessWeight))
	fmt.Println()

	f := report.Freshness
	fmt.Printf("Records: %d fresh, %d aging, %d stale\n\n", f.Fresh, f.Aging, f.Stale)

	if len(report.Issues) > 0 {
		title := "Top Issues"
		if all {
			title = "Issues"
		}
		warningColor.Printf("%s (%d):\n", title, len(report.Issues))
		for i, issue := range report.Issues {
			label := strings.ToUpper(string(issue.Type))
			if issue.Severity == security.SeverityCritical {
				label = errorColor.Sprint(label)
			}
			fmt.Printf("  %d. [%s] %s: %s\n", i+1, label, strings.Join(issue.Names, ", "), issue.Description)
		}
		fmt.Println()
	}

	if len(report.Suggestions) > 0 {
		infoColor.Println("Suggestions:")
		for _, suggestion := range report.Suggestions {
			fmt.Printf("  - %s\n", suggestion)
		}
		fmt.Println()
	}

	if report.Limited {
		fmt.Println("Some lists were shortened. Use --all for the full report.")
	}
}

func init() {
	rootCmd.AddCommand(securityCmd)

	securityCmd.Flags().BoolVarP(&securityAll, "all", "a", false, "List every issue")
	securityCmd.Flags().BoolVar(&securityJSON, "json", false, "Output in JSON format")
}
