// Package config loads runtime configuration from the environment.
package config

import (
	"fmt"

	"github.com/caarlos0/env/v11"
)

// Config holds the settings of the core's operator tooling.
type Config struct {
	// LedgerPath is the SQLite database file holding the ledger chain.
	LedgerPath string `env:"PNA_LEDGER_PATH" envDefault:"pna-ledger.db"`
	// RulePackDir holds the YAML regulation rule packs.
	RulePackDir string `env:"PNA_RULEPACK_DIR" envDefault:"rulepacks"`
	// LogLevel is one of DEBUG, INFO, WARN, ERROR.
	LogLevel string `env:"PNA_LOG_LEVEL" envDefault:"INFO"`
}

// Load parses configuration from environment variables.
func Load() (*Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return nil, fmt.Errorf("config: parse environment: %w", err)
	}
	return &cfg, nil
}
