// Package main provides the safelogger CLI application.
package main

import (
	"os"

	"github.com/awnumar/memguard"
)

func main() {
	// Wipe locked buffers on interrupt
	memguard.CatchInterrupt()
	defer memguard.Purge()

	if err := rootCmd.Execute(); err != nil {
		printError("%v", err)
		memguard.Purge()
		os.Exit(1)
	}
}
