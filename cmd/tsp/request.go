package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/remiblancher/tsp/internal/audit"
	"github.com/remiblancher/tsp/pkg/tsp"
)

var requestCmd = &cobra.Command{
	Use:   "request",
	Short: "Create a timestamp request",
	Long: `Create an RFC 3161 timestamp request for a file.

The request can be sent to a TSA server to obtain a timestamp token.

Examples:
  # Create request with SHA-256 hash
  tsp request --data file.txt -o request.tsq

  # Create request with SHA-512 hash and a nonce
  tsp request --data file.txt --hash sha512 --nonce -o request.tsq

  # Request a specific policy
  tsp request --data file.txt --policy "1.3.6.1.4.1.13762.3" -o request.tsq`,
	RunE: runRequest,
}

var (
	requestData   string
	requestHash   string
	requestPolicy string
	requestNonce  bool
	requestCerts  bool
	requestOutput string
)

func init() {
	requestCmd.Flags().StringVar(&requestData, "data", "", "File to timestamp (required)")
	requestCmd.Flags().StringVar(&requestHash, "hash", "sha256", "Hash algorithm (sha256, sha384, sha512, sha3-256...)")
	requestCmd.Flags().StringVar(&requestPolicy, "policy", "", "Requested TSA policy OID")
	requestCmd.Flags().BoolVar(&requestNonce, "nonce", true, "Include random nonce")
	requestCmd.Flags().BoolVar(&requestCerts, "certs", true, "Ask the TSA to embed its certificate")
	requestCmd.Flags().StringVarP(&requestOutput, "out", "o", "", "Output file (required)")
	_ = requestCmd.MarkFlagRequired("data")
	_ = requestCmd.MarkFlagRequired("out")
}

func runRequest(cmd *cobra.Command, args []string) error {
	alg, err := tsp.ParseDigestAlgorithm(requestHash)
	if err != nil {
		return err
	}

	digest, err := computeFileDigest(requestData, alg)
	if err != nil {
		return err
	}

	policy, err := parseOID(requestPolicy)
	if err != nil {
		return err
	}

	req, err := tsp.NewRequest(digest, alg, tsp.RequestOptions{
		Policy:  policy,
		Nonce:   requestNonce,
		CertReq: requestCerts,
	})
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}

	reqDER, err := req.Marshal()
	if err != nil {
		return fmt.Errorf("failed to marshal request: %w", err)
	}

	if err := os.WriteFile(requestOutput, reqDER, 0644); err != nil {
		return fmt.Errorf("failed to write request: %w", err)
	}

	event := audit.NewEvent(audit.EventRequest, audit.ResultSuccess).
		WithObject(audit.Object{Type: "request", Path: requestOutput}).
		WithContext(audit.Context{Algorithm: alg.String(), Policy: requestPolicy, Nonce: requestNonce})
	if err := audit.Log(event); err != nil {
		return err
	}

	fmt.Printf("Timestamp request written to %s\n", requestOutput)
	fmt.Printf("  Hash:  %s\n", alg)
	fmt.Printf("  Nonce: %s\n", formatBool(requestNonce))
	return nil
}
