package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/remiblancher/tsp/pkg/tsp"
)

var infoCmd = &cobra.Command{
	Use:   "info <token-file>",
	Short: "Display timestamp token information",
	Long: `Display detailed information about a timestamp token.

Shows serial number, generation time, policy, hash algorithm, accuracy
and signer information.

Examples:
  tsp info token.tsr`,
	Args: cobra.ExactArgs(1),
	RunE: runInfo,
}

func runInfo(cmd *cobra.Command, args []string) error {
	data, err := os.ReadFile(args[0])
	if err != nil {
		return fmt.Errorf("failed to read token: %w", err)
	}

	token, err := tsp.ParseToken(data)
	if err != nil {
		return fmt.Errorf("failed to parse token: %w", err)
	}

	info := token.Info
	fmt.Printf("Timestamp Token: %s\n", args[0])
	fmt.Printf("  Version:  %d\n", info.Version)
	fmt.Printf("  Policy:   %s\n", info.Policy)
	fmt.Printf("  Serial:   %s\n", info.SerialNumber)
	fmt.Printf("  GenTime:  %s\n", info.GenTime.Format("2006-01-02T15:04:05.000Z07:00"))

	if alg, err := token.HashAlgorithm(); err == nil {
		fmt.Printf("  Hash:     %s\n", alg)
	} else {
		fmt.Printf("  Hash:     %s (unrecognized)\n", info.MessageImprint.HashAlgorithm)
	}
	fmt.Printf("  Imprint:  %x\n", info.MessageImprint.HashedMessage)

	if !info.Accuracy.IsZero() {
		fmt.Printf("  Accuracy: %s\n", info.Accuracy.Duration())
	}
	fmt.Printf("  Ordering: %s\n", formatBool(info.Ordering))
	if info.Nonce != nil {
		fmt.Printf("  Nonce:    %x\n", info.Nonce)
	}

	if len(token.Certificates) > 0 {
		fmt.Printf("  Certificates (%d):\n", len(token.Certificates))
		for _, cert := range token.Certificates {
			fmt.Printf("    %s (serial %s)\n", cert.Subject, cert.SerialNumber)
		}
	}
	return nil
}
