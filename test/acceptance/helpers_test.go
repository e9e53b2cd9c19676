//go:build acceptance

// Package acceptance contains black-box CLI acceptance tests (TestA_*).
// Run with: go test -tags=acceptance ./test/acceptance/...
package acceptance

import (
	"bytes"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/pem"
	"fmt"
	"math/big"
	"net"
	"net/http"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

// tspBinary is the path to the tsp binary.
// Set via TSP_BINARY env var or default to ./bin/tsp in the repo root.
var tspBinary string

func init() {
	if bin := os.Getenv("TSP_BINARY"); bin != "" {
		tspBinary = bin
	} else {
		tspBinary = "../../bin/tsp"
	}
}

// runTSP executes the tsp CLI with the given arguments and returns stdout.
// Fails the test if the command returns a non-zero exit code.
func runTSP(t *testing.T, args ...string) string {
	t.Helper()
	cmd := exec.Command(tspBinary, args...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()
	if err != nil {
		t.Fatalf("tsp %s failed: %v\nstderr: %s\nstdout: %s",
			strings.Join(args, " "), err, stderr.String(), stdout.String())
	}
	return stdout.String()
}

// runTSPExpectError executes tsp and expects it to fail.
// Returns the combined output (stdout + stderr).
func runTSPExpectError(t *testing.T, args ...string) string {
	t.Helper()
	cmd := exec.Command(tspBinary, args...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()
	if err == nil {
		t.Fatalf("tsp %s expected to fail but succeeded\nstdout: %s",
			strings.Join(args, " "), stdout.String())
	}
	return stdout.String() + stderr.String()
}

// tsaMaterial holds the PEM files of a freshly generated TSA identity.
type tsaMaterial struct {
	certPath string
	keyPath  string
}

// setupTSA generates a self-signed timestamping certificate and key pair
// and writes them as PEM files under a temp directory.
func setupTSA(t *testing.T) tsaMaterial {
	t.Helper()
	dir := t.TempDir()

	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		t.Fatalf("failed to generate TSA key: %v", err)
	}
	template := &x509.Certificate{
		SerialNumber:          big.NewInt(1),
		Subject:               pkix.Name{CommonName: "Acceptance TSA"},
		NotBefore:             time.Now().Add(-time.Hour),
		NotAfter:              time.Now().Add(24 * time.Hour),
		KeyUsage:              x509.KeyUsageDigitalSignature,
		ExtKeyUsage:           []x509.ExtKeyUsage{x509.ExtKeyUsageTimeStamping},
		BasicConstraintsValid: true,
	}
	certDER, err := x509.CreateCertificate(rand.Reader, template, template, &key.PublicKey, key)
	if err != nil {
		t.Fatalf("failed to create TSA certificate: %v", err)
	}
	keyDER, err := x509.MarshalPKCS8PrivateKey(key)
	if err != nil {
		t.Fatalf("failed to marshal TSA key: %v", err)
	}

	certPath := filepath.Join(dir, "tsa.crt")
	keyPath := filepath.Join(dir, "tsa.key")
	writePEM(t, certPath, "CERTIFICATE", certDER)
	writePEM(t, keyPath, "PRIVATE KEY", keyDER)
	return tsaMaterial{certPath: certPath, keyPath: keyPath}
}

func writePEM(t *testing.T, path, blockType string, der []byte) {
	t.Helper()
	data := pem.EncodeToMemory(&pem.Block{Type: blockType, Bytes: der})
	if err := os.WriteFile(path, data, 0600); err != nil {
		t.Fatalf("failed to write %s: %v", path, err)
	}
}

// writeTestFile creates a file with the given content in a temp directory.
func writeTestFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("failed to write test file: %v", err)
	}
	return path
}

// startServer launches `tsp serve` on a free port and waits until the
// ready endpoint answers. The server is stopped when the test ends.
func startServer(t *testing.T, tsa tsaMaterial) string {
	t.Helper()

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("failed to reserve a port: %v", err)
	}
	port := ln.Addr().(*net.TCPAddr).Port
	ln.Close()

	cmd := exec.Command(tspBinary, "serve",
		"--host", "127.0.0.1",
		"--port", fmt.Sprint(port),
		"--cert", tsa.certPath,
		"--key", tsa.keyPath,
	)
	var output bytes.Buffer
	cmd.Stdout = &output
	cmd.Stderr = &output
	if err := cmd.Start(); err != nil {
		t.Fatalf("failed to start server: %v", err)
	}
	t.Cleanup(func() {
		cmd.Process.Kill()
		cmd.Wait()
	})

	base := fmt.Sprintf("http://127.0.0.1:%d", port)
	deadline := time.Now().Add(10 * time.Second)
	for time.Now().Before(deadline) {
		resp, err := http.Get(base + "/ready")
		if err == nil {
			resp.Body.Close()
			if resp.StatusCode == http.StatusOK {
				return base
			}
		}
		time.Sleep(100 * time.Millisecond)
	}
	t.Fatalf("server did not become ready\noutput: %s", output.String())
	return ""
}

// assertFileExists fails the test if the path does not exist or is empty.
func assertFileExists(t *testing.T, path string) {
	t.Helper()
	info, err := os.Stat(path)
	if err != nil {
		t.Fatalf("expected file %s: %v", path, err)
	}
	if info.Size() == 0 {
		t.Fatalf("file %s is empty", path)
	}
}

// assertOutputContains fails the test if output does not contain substr.
func assertOutputContains(t *testing.T, output, substr string) {
	t.Helper()
	if !strings.Contains(output, substr) {
		t.Fatalf("output does not contain %q:\n%s", substr, output)
	}
}
