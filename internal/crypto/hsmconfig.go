package crypto

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// HSMConfig is the YAML configuration for a PKCS#11 signing key.
type HSMConfig struct {
	Type   string         `yaml:"type"`
	PKCS11 PKCS11Settings `yaml:"pkcs11"`
}

// PKCS11Settings holds PKCS#11 specific configuration.
type PKCS11Settings struct {
	// Lib is the path to the PKCS#11 library (.so/.dylib/.dll)
	Lib string `yaml:"lib"`

	// Token identifies the token by label
	Token string `yaml:"token"`

	// TokenSerial identifies the token by serial number
	TokenSerial string `yaml:"token_serial"`

	// Slot identifies the token by slot ID
	Slot *uint `yaml:"slot"`

	// PinEnv names the environment variable holding the PIN
	PinEnv string `yaml:"pin_env"`

	// KeyLabel is the CKA_LABEL of the signing key
	KeyLabel string `yaml:"key_label"`

	// KeyID is the CKA_ID of the signing key, hex encoded
	KeyID string `yaml:"key_id"`
}

// LoadHSMConfig loads and validates an HSM configuration from a YAML file.
func LoadHSMConfig(path string) (*HSMConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read HSM config file: %w", err)
	}

	var cfg HSMConfig
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse HSM config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid HSM config: %w", err)
	}
	return &cfg, nil
}

// Validate checks the configuration.
func (c *HSMConfig) Validate() error {
	if c.Type != "pkcs11" {
		return fmt.Errorf("unsupported HSM type: %s (only 'pkcs11' is supported)", c.Type)
	}
	if c.PKCS11.Lib == "" {
		return fmt.Errorf("pkcs11.lib is required")
	}
	if c.PKCS11.Token == "" && c.PKCS11.TokenSerial == "" && c.PKCS11.Slot == nil {
		return fmt.Errorf("at least one of pkcs11.token, pkcs11.token_serial, or pkcs11.slot is required")
	}
	if c.PKCS11.PinEnv == "" {
		return fmt.Errorf("pkcs11.pin_env is required (PIN must be provided via environment variable)")
	}
	if c.PKCS11.KeyLabel == "" && c.PKCS11.KeyID == "" {
		return fmt.Errorf("at least one of pkcs11.key_label or pkcs11.key_id is required")
	}
	return nil
}

// GetPIN retrieves the PIN from the environment variable.
func (c *HSMConfig) GetPIN() (string, error) {
	pin := os.Getenv(c.PKCS11.PinEnv)
	if pin == "" {
		return "", fmt.Errorf("environment variable %s is not set or empty", c.PKCS11.PinEnv)
	}
	return pin, nil
}

// ToPKCS11Config resolves the PIN and builds the signer configuration.
func (c *HSMConfig) ToPKCS11Config() (*PKCS11Config, error) {
	pin, err := c.GetPIN()
	if err != nil {
		return nil, err
	}
	return &PKCS11Config{
		ModulePath:  c.PKCS11.Lib,
		TokenLabel:  c.PKCS11.Token,
		TokenSerial: c.PKCS11.TokenSerial,
		SlotID:      c.PKCS11.Slot,
		PIN:         pin,
		KeyLabel:    c.PKCS11.KeyLabel,
		KeyID:       c.PKCS11.KeyID,
	}, nil
}
