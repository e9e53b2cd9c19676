// Package config loads TSA endpoint profiles from YAML.
//
// A profile bundles everything needed to talk to one TSA: the endpoint
// URL, the digest algorithm, the requested policy, transport settings and
// trust anchors. Profiles keep CLI invocations short and reproducible.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/remiblancher/tsp/pkg/tsp"
)

// Profile describes one TSA endpoint and how to query it.
type Profile struct {
	Name        string `yaml:"name"`
	Description string `yaml:"description,omitempty"`

	// URL is the TSA endpoint. Required.
	URL string `yaml:"url"`

	// Hash names the digest algorithm (sha256, sha384, sha512, sha3-256...).
	// Defaults to sha256.
	Hash string `yaml:"hash,omitempty"`

	// Policy is the policy OID requested from the TSA, dotted form.
	Policy string `yaml:"policy,omitempty"`

	// Nonce controls whether a fresh nonce is sent. Defaults to true.
	Nonce *bool `yaml:"nonce,omitempty"`

	// CertReq asks the TSA to embed its certificate. Defaults to true.
	CertReq *bool `yaml:"cert_req,omitempty"`

	// Timeout bounds each round trip, as a Go duration string.
	Timeout string `yaml:"timeout,omitempty"`

	// CABundle points at a PEM file with the trust anchors for
	// verification.
	CABundle string `yaml:"ca_bundle,omitempty"`

	Auth    *AuthConfig       `yaml:"auth,omitempty"`
	Headers map[string]string `yaml:"headers,omitempty"`
}

// AuthConfig carries HTTP basic auth credentials. The password is never
// stored in the profile; it is read from the named environment variable.
type AuthConfig struct {
	Username    string `yaml:"username"`
	PasswordEnv string `yaml:"password_env"`
}

// Password resolves the password from the environment.
func (a *AuthConfig) Password() (string, error) {
	if a.PasswordEnv == "" {
		return "", nil
	}
	v, ok := os.LookupEnv(a.PasswordEnv)
	if !ok {
		return "", fmt.Errorf("environment variable %s is not set", a.PasswordEnv)
	}
	return v, nil
}

// LoadProfile loads and validates a profile from a YAML file.
func LoadProfile(path string) (*Profile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read profile file: %w", err)
	}
	p, err := LoadProfileFromBytes(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", filepath.Base(path), err)
	}
	return p, nil
}

// LoadProfileFromBytes parses and validates a profile from YAML bytes.
func LoadProfileFromBytes(data []byte) (*Profile, error) {
	var p Profile
	if err := yaml.Unmarshal(data, &p); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}
	if err := p.Validate(); err != nil {
		return nil, err
	}
	return &p, nil
}

// Validate checks the profile for consistency.
func (p *Profile) Validate() error {
	if p.URL == "" {
		return fmt.Errorf("profile %q: url is required", p.Name)
	}
	if !strings.HasPrefix(p.URL, "http://") && !strings.HasPrefix(p.URL, "https://") {
		return fmt.Errorf("profile %q: url must be http or https", p.Name)
	}
	if p.Hash != "" {
		if _, err := tsp.ParseDigestAlgorithm(p.Hash); err != nil {
			return fmt.Errorf("profile %q: %w", p.Name, err)
		}
	}
	if p.Timeout != "" {
		if _, err := time.ParseDuration(p.Timeout); err != nil {
			return fmt.Errorf("profile %q: invalid timeout: %w", p.Name, err)
		}
	}
	if p.Auth != nil && p.Auth.Username == "" {
		return fmt.Errorf("profile %q: auth.username is required when auth is set", p.Name)
	}
	return nil
}

// DigestAlgorithm resolves the profile's digest algorithm.
func (p *Profile) DigestAlgorithm() (tsp.DigestAlgorithm, error) {
	name := p.Hash
	if name == "" {
		name = "sha256"
	}
	return tsp.ParseDigestAlgorithm(name)
}

// RequestTimeout resolves the profile's timeout, defaulting to 30s.
func (p *Profile) RequestTimeout() time.Duration {
	if p.Timeout == "" {
		return 30 * time.Second
	}
	d, err := time.ParseDuration(p.Timeout)
	if err != nil {
		return 30 * time.Second
	}
	return d
}

// WantNonce reports whether requests should carry a nonce.
func (p *Profile) WantNonce() bool {
	return p.Nonce == nil || *p.Nonce
}

// WantCert reports whether the TSA is asked to embed its certificate.
func (p *Profile) WantCert() bool {
	return p.CertReq == nil || *p.CertReq
}
