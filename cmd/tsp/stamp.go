package main

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/remiblancher/tsp/internal/audit"
	"github.com/remiblancher/tsp/internal/config"
	"github.com/remiblancher/tsp/pkg/tsp"
	"github.com/remiblancher/tsp/profiles"
)

var stampCmd = &cobra.Command{
	Use:   "stamp",
	Short: "Request a timestamp from a TSA server",
	Long: `Request a timestamp token for a file from an RFC 3161 TSA server.

The command hashes the file, sends a timestamp request over HTTP and
stores the returned token. With --ca the token is also verified before
it is written.

Examples:
  # Stamp a file against a TSA endpoint
  tsp stamp --data file.txt --url https://tsa.example.com/tsa -o token.tsr

  # Use a saved endpoint profile (a YAML file or a builtin name)
  tsp stamp --data file.txt --profile freetsa -o token.tsr

  # Stamp and verify in one step
  tsp stamp --data file.txt --url https://tsa.example.com/tsa --ca ca.crt -o token.tsr`,
	RunE: runStamp,
}

var (
	stampData    string
	stampURL     string
	stampProfile string
	stampHash    string
	stampPolicy  string
	stampNonce   bool
	stampCA      string
	stampOutput  string
)

func init() {
	stampCmd.Flags().StringVar(&stampData, "data", "", "File to timestamp (required)")
	stampCmd.Flags().StringVar(&stampURL, "url", "", "TSA endpoint URL")
	stampCmd.Flags().StringVar(&stampProfile, "profile", "", "TSA endpoint profile (YAML)")
	stampCmd.Flags().StringVar(&stampHash, "hash", "sha256", "Hash algorithm")
	stampCmd.Flags().StringVar(&stampPolicy, "policy", "", "Requested TSA policy OID")
	stampCmd.Flags().BoolVar(&stampNonce, "nonce", true, "Include random nonce")
	stampCmd.Flags().StringVar(&stampCA, "ca", "", "CA bundle to verify the token against")
	stampCmd.Flags().StringVarP(&stampOutput, "out", "o", "", "Output token file (required)")
	_ = stampCmd.MarkFlagRequired("data")
	_ = stampCmd.MarkFlagRequired("out")
}

func runStamp(cmd *cobra.Command, args []string) error {
	url := stampURL
	hashName := stampHash
	nonce := stampNonce
	caBundle := stampCA
	policyStr := stampPolicy
	certReq := true

	var clientOpts []tsp.ClientOption
	if stampProfile != "" {
		profile, err := loadEndpointProfile(stampProfile)
		if err != nil {
			return err
		}
		if url == "" {
			url = profile.URL
		}
		if !cmd.Flags().Changed("hash") && profile.Hash != "" {
			hashName = profile.Hash
		}
		if !cmd.Flags().Changed("nonce") {
			nonce = profile.WantNonce()
		}
		if !cmd.Flags().Changed("policy") && profile.Policy != "" {
			policyStr = profile.Policy
		}
		if caBundle == "" {
			caBundle = profile.CABundle
		}
		certReq = profile.WantCert()

		clientOpts = append(clientOpts, tsp.WithTimeout(profile.RequestTimeout()))
		if profile.Auth != nil {
			password, err := profile.Auth.Password()
			if err != nil {
				return err
			}
			clientOpts = append(clientOpts, tsp.WithBasicAuth(profile.Auth.Username, password))
		}
		for k, v := range profile.Headers {
			clientOpts = append(clientOpts, tsp.WithHeader(k, v))
		}
	}
	if url == "" {
		return fmt.Errorf("either --url or --profile is required")
	}

	alg, err := tsp.ParseDigestAlgorithm(hashName)
	if err != nil {
		return err
	}
	digest, err := computeFileDigest(stampData, alg)
	if err != nil {
		return err
	}
	policy, err := parseOID(policyStr)
	if err != nil {
		return err
	}

	client := tsp.NewClient(clientOpts...)
	_, resp, err := client.RequestTimestamp(context.Background(), url, alg, digest, tsp.RequestOptions{
		Policy:  policy,
		Nonce:   nonce,
		CertReq: certReq,
	})

	result := audit.ResultSuccess
	status := "granted"
	if err != nil {
		result = audit.ResultFailure
		if resp != nil {
			status = resp.StatusString()
		} else {
			status = "transport failure"
		}
	}
	event := audit.NewEvent(audit.EventResponse, result).
		WithObject(audit.Object{Type: "response", Endpoint: url}).
		WithContext(audit.Context{Algorithm: alg.String(), Status: status, Nonce: nonce})
	if auditErr := audit.Log(event); auditErr != nil {
		return auditErr
	}
	if err != nil {
		return fmt.Errorf("timestamp request failed: %w", err)
	}

	token := resp.Token

	if caBundle != "" {
		roots, err := loadCertPool(caBundle)
		if err != nil {
			return err
		}
		verifyResult, err := tsp.Verify(token, tsp.VerifyOptions{
			Digest:    digest,
			Algorithm: alg,
			Roots:     roots,
		})
		if err != nil {
			return fmt.Errorf("verification failed: %w", err)
		}
		if !verifyResult.Accepted {
			return fmt.Errorf("token rejected: %s", verifyResult.Reason)
		}
		fmt.Printf("Token verified: genTime %s, serial %s\n",
			verifyResult.GenTime.Format("2006-01-02T15:04:05.000Z07:00"),
			verifyResult.SerialNumber)
	}

	if err := os.WriteFile(stampOutput, token.Raw, 0644); err != nil {
		return fmt.Errorf("failed to write token: %w", err)
	}

	fmt.Printf("Timestamp token written to %s\n", stampOutput)
	fmt.Printf("  GenTime: %s\n", token.GenTime().Format("2006-01-02T15:04:05.000Z07:00"))
	fmt.Printf("  Serial:  %s\n", token.SerialNumber())
	return nil
}

// loadEndpointProfile resolves --profile: a path on disk first, then the
// builtin profiles shipped with the binary.
func loadEndpointProfile(name string) (*config.Profile, error) {
	if _, err := os.Stat(name); err == nil {
		return config.LoadProfile(name)
	}
	data, err := profiles.Read(name)
	if err != nil {
		return nil, err
	}
	return config.LoadProfileFromBytes(data)
}
