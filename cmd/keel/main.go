package main

import (
	"os"

	"github.com/spf13/cobra"

	storecmd "github.com/rzbill/keel/internal/cmd/store"
	logpkg "github.com/rzbill/keel/pkg/log"
)

func main() {
	// Respect KEEL_LOG_LEVEL for CLI output
	level := os.Getenv("KEEL_LOG_LEVEL")
	parsed, err := logpkg.ParseLevel(level)
	if err != nil || level == "" {
		parsed = logpkg.InfoLevel
	}
	logger := logpkg.NewLogger(
		logpkg.WithLevel(parsed),
		logpkg.WithFormatter(&logpkg.TextFormatter{}),
		logpkg.WithOutput(logpkg.NewConsoleOutput()),
	)

	// Redirect standard library logs (used by Pebble and database/sql) to
	// our logger
	logpkg.RedirectStdLog(logger)

	rootCmd := &cobra.Command{
		Use:   "keel",
		Short: "Keel actor storage CLI",
		Long:  "Keel hosts durable actor state. This CLI inspects and edits stored state offline.",
	}
	rootCmd.AddCommand(storecmd.NewCommand())

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
