package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/fatih/color"

	"github.com/forest6511/safelogger/pkg/vault"
)

var (
	successColor = color.New(color.FgGreen)
	warningColor = color.New(color.FgYellow)
	errorColor   = color.New(color.FgRed, color.Bold)
	infoColor    = color.New(color.FgCyan)
)

func printSuccess(format string, args ...any) {
	successColor.Fprintf(os.Stdout, "✓ "+format+"\n", args...)
}

func printWarning(format string, args ...any) {
	warningColor.Fprintf(os.Stderr, "Warning: "+format+"\n", args...)
}

func printError(format string, args ...any) {
	errorColor.Fprintf(os.Stderr, "Error: "+format+"\n", args...)
}

func printInfo(format string, args ...any) {
	infoColor.Fprintf(os.Stderr, format+"\n", args...)
}

// freshnessLabel colours a freshness class the way the list view shows it.
func freshnessLabel(f vault.Freshness) string {
	switch f {
	case vault.Aging:
		return warningColor.Sprint(f.String())
	case vault.Stale:
		return errorColor.Sprint(f.String())
	default:
		return successColor.Sprint(f.String())
	}
}

// progressBar creates a simple ASCII progress bar.
func progressBar(value, maxVal int) string {
	width := 20
	filled := 0
	if maxVal > 0 {
		filled = value * width / maxVal
	}
	return "[" + strings.Repeat("█", filled) + strings.Repeat("░", width-filled) + "]"
}

// plural returns "1 record" or "n records".
func plural(n int, noun string) string {
	if n == 1 {
		return fmt.Sprintf("1 %s", noun)
	}
	return fmt.Sprintf("%d %ss", n, noun)
}
