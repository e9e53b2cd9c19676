package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/remiblancher/tsp/internal/audit"
	"github.com/remiblancher/tsp/internal/crypto"
	"github.com/remiblancher/tsp/pkg/receipt"
	"github.com/remiblancher/tsp/pkg/tsp"
)

var verifyCmd = &cobra.Command{
	Use:   "verify <token-file>",
	Short: "Verify a timestamp token",
	Long: `Verify a timestamp token.

Verifies:
  - The message imprint matches the data file
  - The token signature is valid
  - The signer certificate chain is trusted and allows timestamping

Examples:
  # Verify token against data and trust anchors
  tsp verify token.tsr --data file.txt --ca ca.crt

  # Verify and emit a signed COSE receipt
  tsp verify token.tsr --data file.txt --ca ca.crt \
    --receipt receipt.cbor --receipt-key issuer.key`,
	Args: cobra.ExactArgs(1),
	RunE: runVerify,
}

var (
	verifyData       string
	verifyCA         string
	verifyHash       string
	verifyReceipt    string
	verifyReceiptKey string
	verifyIssuer     string
)

func init() {
	verifyCmd.Flags().StringVar(&verifyData, "data", "", "Original data file (required)")
	verifyCmd.Flags().StringVar(&verifyCA, "ca", "", "CA certificate(s) for verification (required)")
	verifyCmd.Flags().StringVar(&verifyHash, "hash", "", "Hash algorithm override (default: from token)")
	verifyCmd.Flags().StringVar(&verifyReceipt, "receipt", "", "Write a signed COSE receipt to this file")
	verifyCmd.Flags().StringVar(&verifyReceiptKey, "receipt-key", "", "PEM key signing the receipt")
	verifyCmd.Flags().StringVar(&verifyIssuer, "issuer", "", "Issuer name recorded in the receipt")
	_ = verifyCmd.MarkFlagRequired("data")
	_ = verifyCmd.MarkFlagRequired("ca")
}

func runVerify(cmd *cobra.Command, args []string) error {
	tokenDER, err := os.ReadFile(args[0])
	if err != nil {
		return fmt.Errorf("failed to read token: %w", err)
	}
	token, err := tsp.ParseToken(tokenDER)
	if err != nil {
		return fmt.Errorf("failed to parse token: %w", err)
	}

	alg, err := token.HashAlgorithm()
	if verifyHash != "" {
		alg, err = tsp.ParseDigestAlgorithm(verifyHash)
	}
	if err != nil {
		return err
	}

	digest, err := computeFileDigest(verifyData, alg)
	if err != nil {
		return err
	}
	roots, err := loadCertPool(verifyCA)
	if err != nil {
		return err
	}

	result, err := tsp.Verify(token, tsp.VerifyOptions{
		Digest:    digest,
		Algorithm: alg,
		Roots:     roots,
	})

	auditResult := audit.ResultFailure
	reason := ""
	if err == nil && result.Accepted {
		auditResult = audit.ResultSuccess
	} else if result != nil {
		reason = result.Reason.String()
	}
	event := audit.NewEvent(audit.EventVerify, auditResult).
		WithObject(audit.Object{Type: "token", Path: args[0]}).
		WithContext(audit.Context{
			Algorithm: alg.String(),
			Reason:    reason,
			Verified:  auditResult == audit.ResultSuccess,
		})
	if auditErr := audit.Log(event); auditErr != nil {
		return auditErr
	}

	if err != nil {
		return fmt.Errorf("verification failed: %w", err)
	}
	if !result.Accepted {
		return fmt.Errorf("token rejected: %s", result.Reason)
	}

	fmt.Println("Token is valid")
	fmt.Printf("  GenTime: %s\n", result.GenTime.Format("2006-01-02T15:04:05.000Z07:00"))
	fmt.Printf("  Serial:  %s\n", result.SerialNumber)
	if result.SignerCert != nil {
		fmt.Printf("  Signer:  %s\n", result.SignerCert.Subject)
	}

	if verifyReceipt != "" {
		if verifyReceiptKey == "" {
			return fmt.Errorf("--receipt-key is required with --receipt")
		}
		signer, err := crypto.LoadSigner(verifyReceiptKey, nil)
		if err != nil {
			return err
		}
		data, err := receipt.Issue(token, result, &receipt.Config{
			Issuer: verifyIssuer,
			Signer: signer,
		})
		if err != nil {
			return err
		}
		if err := os.WriteFile(verifyReceipt, data, 0644); err != nil {
			return fmt.Errorf("failed to write receipt: %w", err)
		}

		event := audit.NewEvent(audit.EventReceiptIssued, audit.ResultSuccess).
			WithObject(audit.Object{Type: "receipt", Path: verifyReceipt})
		if err := audit.Log(event); err != nil {
			return err
		}
		fmt.Printf("Receipt written to %s\n", verifyReceipt)
	}
	return nil
}
