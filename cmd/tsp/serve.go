package main

import (
	"crypto"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/remiblancher/tsp/internal/api/server"
	"github.com/remiblancher/tsp/internal/audit"
	tspcrypto "github.com/remiblancher/tsp/internal/crypto"
	"github.com/remiblancher/tsp/pkg/tsp"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start an RFC 3161 HTTP timestamp server",
	Long: `Start an RFC 3161 compliant HTTP timestamp server.

The server accepts POST requests with a DER TimeStampReq body and
returns a DER TimeStampResp. The signing key can live in a PEM file or
behind PKCS#11.

HTTP API:
  POST / with Content-Type: application/timestamp-query
  Returns Content-Type: application/timestamp-reply

Examples:
  # Serve with a software key
  tsp serve --port 8318 --cert tsa.crt --key tsa.key

  # With custom policy and accuracy
  tsp serve --port 8318 --cert tsa.crt --key tsa.key \
    --policy "1.3.6.1.4.1.13762.3" --accuracy 1

  # With an HSM-held key
  tsp serve --port 8318 --cert tsa.crt --hsm-config hsm.yaml`,
	RunE: runServe,
}

var (
	serveHost       string
	servePort       int
	serveCert       string
	serveChain      string
	serveKey        string
	servePassphrase string
	servePolicy     string
	serveAccuracy   int
	serveHSMConfig  string
)

func init() {
	serveCmd.Flags().StringVar(&serveHost, "host", "", "Listen address")
	serveCmd.Flags().IntVar(&servePort, "port", 8318, "HTTP server port")
	serveCmd.Flags().StringVar(&serveCert, "cert", "", "TSA certificate (PEM, required)")
	serveCmd.Flags().StringVar(&serveChain, "chain", "", "Additional chain certificates (PEM)")
	serveCmd.Flags().StringVar(&serveKey, "key", "", "TSA private key (PEM, required unless --hsm-config)")
	serveCmd.Flags().StringVar(&servePassphrase, "passphrase", "", "Key passphrase (or env:VARNAME)")
	serveCmd.Flags().StringVar(&servePolicy, "policy", "1.3.6.1.4.1.13762.3", "TSA policy OID")
	serveCmd.Flags().IntVar(&serveAccuracy, "accuracy", 1, "Timestamp accuracy in seconds")
	serveCmd.Flags().StringVar(&serveHSMConfig, "hsm-config", "", "HSM configuration file (YAML)")
	_ = serveCmd.MarkFlagRequired("cert")
}

func runServe(cmd *cobra.Command, args []string) error {
	cert, err := loadCertificate(serveCert)
	if err != nil {
		return fmt.Errorf("failed to load certificate: %w", err)
	}
	extraCerts, err := loadExtraCerts(serveChain)
	if err != nil {
		return fmt.Errorf("failed to load chain: %w", err)
	}

	var signer crypto.Signer
	switch {
	case serveHSMConfig != "":
		hsmCfg, err := tspcrypto.LoadHSMConfig(serveHSMConfig)
		if err != nil {
			return fmt.Errorf("failed to load HSM config: %w", err)
		}
		p11Cfg, err := hsmCfg.ToPKCS11Config()
		if err != nil {
			return err
		}
		hsmSigner, err := tspcrypto.NewPKCS11Signer(*p11Cfg)
		if err != nil {
			return fmt.Errorf("failed to open HSM signer: %w", err)
		}
		defer hsmSigner.Close()
		signer = hsmSigner
	case serveKey != "":
		signer, err = tspcrypto.LoadSigner(serveKey, tspcrypto.ResolvePassphrase(servePassphrase))
		if err != nil {
			return fmt.Errorf("failed to load key: %w", err)
		}
	default:
		return fmt.Errorf("either --key or --hsm-config is required")
	}

	policy, err := parseOID(servePolicy)
	if err != nil {
		return err
	}

	responder := &tsp.Responder{
		Config: &tsp.TokenConfig{
			Certificate: cert,
			Signer:      signer,
			Policy:      policy,
			Accuracy:    tsp.Accuracy{Seconds: serveAccuracy},
			IncludeTSA:  true,
			ExtraCerts:  extraCerts,
		},
	}

	event := audit.NewEvent(audit.EventServe, audit.ResultSuccess).
		WithObject(audit.Object{Type: "server", Endpoint: fmt.Sprintf("%s:%d", serveHost, servePort)}).
		WithContext(audit.Context{Policy: servePolicy})
	if err := audit.Log(event); err != nil {
		return err
	}

	srv := server.New(&server.Config{
		Host:         serveHost,
		Port:         servePort,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
		Responder:    responder,
	}, version)
	return srv.Start()
}
