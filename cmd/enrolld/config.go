// config.go - Configuration management for the enrollment service
package main

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
)

// Config represents the application configuration
type Config struct {
	// Service settings
	ListenAddr          string `json:"listen_addr"`
	ChallengeTTLSeconds int    `json:"challenge_ttl_seconds"`
	ReceiptTimeoutSecs  int    `json:"receipt_timeout_seconds"`

	// Bin generation defaults
	DefaultBinCount int `json:"default_bin_count"`
	MaxBinCount     int `json:"max_bin_count"`

	// File paths
	LedgerPath        string `json:"ledger_path"`
	CommitmentDBPath  string `json:"commitment_db_path"`
	ParticipationPath string `json:"participation_path"`

	// Logging
	LogLevel string `json:"log_level"`
	LogFile  string `json:"log_file"`

	// Rate limiting (per wallet)
	RateLimitTokens int `json:"rate_limit_tokens"`
	RateRefillSecs  int `json:"rate_refill_seconds"`

	// Security
	EnableAudit  bool   `json:"enable_audit"`
	AuditLogPath string `json:"audit_log_path"`
}

// DefaultConfig returns the default configuration
func DefaultConfig() *Config {
	return &Config{
		ListenAddr:          ":8080",
		ChallengeTTLSeconds: 3600,
		ReceiptTimeoutSecs:  30,
		DefaultBinCount:     4,
		MaxBinCount:         10,
		LedgerPath:          "ledger.json",
		CommitmentDBPath:    "commitments.db",
		ParticipationPath:   "participations.json",
		LogLevel:            "info",
		LogFile:             "enrolld.log",
		RateLimitTokens:     10,
		RateRefillSecs:      60,
		EnableAudit:         true,
		AuditLogPath:        "audit.log",
	}
}

// LoadConfig loads configuration from file or creates default
func LoadConfig(configPath string) (*Config, error) {
	if _, err := os.Stat(configPath); err == nil {
		file, err := os.Open(configPath)
		if err != nil {
			return nil, fmt.Errorf("failed to open config file: %w", err)
		}
		defer file.Close()

		var config Config
		if err := json.NewDecoder(file).Decode(&config); err != nil {
			return nil, fmt.Errorf("failed to decode config file: %w", err)
		}
		return &config, nil
	}

	// Create default config and save it
	config := DefaultConfig()
	if err := SaveConfig(config, configPath); err != nil {
		return nil, fmt.Errorf("failed to save default config: %w", err)
	}
	return config, nil
}

// SaveConfig saves configuration to file
func SaveConfig(config *Config, configPath string) error {
	dir := filepath.Dir(configPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	file, err := os.Create(configPath)
	if err != nil {
		return fmt.Errorf("failed to create config file: %w", err)
	}
	defer file.Close()

	encoder := json.NewEncoder(file)
	encoder.SetIndent("", "  ")
	if err := encoder.Encode(config); err != nil {
		return fmt.Errorf("failed to encode config: %w", err)
	}
	return nil
}

// Validate validates the configuration
func (c *Config) Validate() error {
	if c.ListenAddr == "" {
		return fmt.Errorf("listen_addr must be set")
	}
	if c.ChallengeTTLSeconds <= 0 {
		return fmt.Errorf("challenge_ttl_seconds must be positive")
	}
	if c.ReceiptTimeoutSecs <= 0 {
		return fmt.Errorf("receipt_timeout_seconds must be positive")
	}
	if c.DefaultBinCount <= 0 {
		return fmt.Errorf("default_bin_count must be positive")
	}
	if c.MaxBinCount < c.DefaultBinCount {
		return fmt.Errorf("max_bin_count must be at least default_bin_count")
	}
	if c.RateLimitTokens <= 0 {
		return fmt.Errorf("rate_limit_tokens must be positive")
	}
	if c.RateRefillSecs <= 0 {
		return fmt.Errorf("rate_refill_seconds must be positive")
	}
	return nil
}
