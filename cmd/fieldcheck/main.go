// Package main provides the fieldcheck binary entry point.
// Fieldcheck is the field-workforce attendance client: it acquires a
// GPS fix, resolves a display address, and submits check-in/check-out
// events with optional photo proof to the attendance backend.
package main

import (
	"fmt"
	"log/slog"
	"os"
	"runtime"
	"strings"

	"github.com/spf13/cobra"
)

const (
	Version = "0.1.0"
	appName = "fieldcheck"
)

func main() {
	// Add panic recovery
	defer func() {
		if r := recover(); r != nil {
			buf := make([]byte, 4096)
			n := runtime.Stack(buf, false)
			_, _ = fmt.Fprintf(os.Stderr, "PANIC: %v\nStack trace:\n%s\n", r, string(buf[:n]))
			os.Exit(2)
		}
	}()

	if err := rootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	var logLevel string

	cmd := &cobra.Command{
		Use:   appName,
		Short: "Field attendance client",
		Long: `Fieldcheck submits GPS-verified attendance events for field employees.

A check-in or check-out acquires a position fix, resolves it to a display
address (falling back to raw coordinates when the geocoder is unavailable),
commits the attendance transition, and then uploads and links an optional
verification photo. Photo failures after the commit degrade to warnings and
never invalidate the attendance record.`,
		PersistentPreRun: func(*cobra.Command, []string) {
			configureLogging(logLevel)
		},
		SilenceUsage: true,
	}

	cmd.PersistentFlags().StringVar(&logLevel, "log-level", "warn", "Log level (debug, info, warn, error)")

	cmd.AddCommand(checkInCmd())
	cmd.AddCommand(checkOutCmd())
	cmd.AddCommand(configCmd())
	cmd.AddCommand(versionCmd())

	return cmd
}

func configureLogging(level string) {
	var lvl slog.Level
	switch strings.ToLower(level) {
	case "debug":
		lvl = slog.LevelDebug
	case "info":
		lvl = slog.LevelInfo
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelWarn
	}

	handler := slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: lvl})
	slog.SetDefault(slog.New(handler))
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the fieldcheck version",
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "%s %s\n", appName, Version)
		},
	}
}
