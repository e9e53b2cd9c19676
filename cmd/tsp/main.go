// Command tsp is a client and server for RFC 3161 timestamping.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/remiblancher/tsp/internal/audit"
)

// Build-time variables (injected by GoReleaser)
var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

// Global flags
var auditLogPath string

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "tsp",
	Short: "RFC 3161 timestamping client and server",
	Long: `tsp is a command-line tool for RFC 3161 trusted timestamping.

It builds timestamp requests, talks to TSA servers over HTTP, verifies
the returned tokens against trust anchors, and can itself serve as a
timestamping authority.

Examples:
  # Request a timestamp for a file
  tsp stamp --data file.txt --url https://tsa.example.com/tsa -o token.tsr

  # Request using a saved endpoint profile
  tsp stamp --data file.txt --profile profiles/example.yaml -o token.tsr

  # Verify a token
  tsp verify token.tsr --data file.txt --ca ca.crt

  # Inspect a token
  tsp info token.tsr

  # Run a TSA server
  tsp serve --port 8318 --cert tsa.crt --key tsa.key`,
	Version: fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, date),
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if auditLogPath == "" {
			auditLogPath = os.Getenv("TSP_AUDIT_LOG")
		}
		if auditLogPath != "" {
			if err := audit.InitFile(auditLogPath); err != nil {
				return fmt.Errorf("failed to initialize audit log: %w", err)
			}
		}
		return nil
	},
	PersistentPostRunE: func(cmd *cobra.Command, args []string) error {
		return audit.Close()
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&auditLogPath, "audit-log", "",
		"Path to audit log file (or set TSP_AUDIT_LOG env var)")

	rootCmd.AddCommand(requestCmd)
	rootCmd.AddCommand(stampCmd)
	rootCmd.AddCommand(verifyCmd)
	rootCmd.AddCommand(infoCmd)
	rootCmd.AddCommand(serveCmd)
}
