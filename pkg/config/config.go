// Package config loads and validates the gateway configuration.
//
// Config files are JSON with comments and trailing commas (standardized via
// hujson before decoding). `${VAR}` occurrences in the file are substituted
// from environment variables before parsing; unknown variables become empty
// strings. Unknown fields are rejected.
package config

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"regexp"

	"github.com/tailscale/hujson"
)

// Defaults applied when the file leaves fields unset.
const (
	DefaultHost     = "0.0.0.0"
	DefaultPort     = 18789
	DefaultAuthMode = "token"
	DefaultToken    = "dev-token"

	// TokenEnvVar overrides the default auth token when set.
	TokenEnvVar = "GATEWAY_TOKEN"
)

// AuthConfig controls gateway.connect authentication.
type AuthConfig struct {
	Mode  string `json:"mode"`
	Token string `json:"token"`
}

// GatewayConfig is the network listener section.
type GatewayConfig struct {
	Host string     `json:"host"`
	Port int        `json:"port"`
	Auth AuthConfig `json:"auth"`
}

// PluginsConfig controls plugin enablement and slot assignment.
type PluginsConfig struct {
	Allow []string          `json:"allow"`
	Deny  []string          `json:"deny"`
	Slots map[string]string `json:"slots"`
}

// TransportConfig describes how to reach an account's broker bridge.
type TransportConfig struct {
	Type    string   `json:"type"`
	URL     string   `json:"url,omitempty"`
	Command string   `json:"command,omitempty"`
	Args    []string `json:"args,omitempty"`
}

// AccountConfig declares one broker account.
type AccountConfig struct {
	AccountID         string           `json:"accountId"`
	ConnectorID       string           `json:"connectorId"`
	ProviderAccountID string           `json:"providerAccountId"`
	Mode              string           `json:"mode"`
	Label             string           `json:"label"`
	AllowedSymbols    []string         `json:"allowedSymbols"`
	Transport         *TransportConfig `json:"transport,omitempty"`
}

// CandlesFeedConfig controls candle polling.
type CandlesFeedConfig struct {
	Enabled                bool           `json:"enabled"`
	PollSecondsByTimeframe map[string]int `json:"pollSecondsByTimeframe"`
}

// TicksFeedConfig controls price tick streaming.
type TicksFeedConfig struct {
	Enabled bool `json:"enabled"`
}

// FeedsConfig is the feeds section.
type FeedsConfig struct {
	Candles    CandlesFeedConfig `json:"candles"`
	PriceTicks TicksFeedConfig   `json:"priceTicks"`
}

// Config is the full gateway configuration.
type Config struct {
	Gateway  GatewayConfig   `json:"gateway"`
	Plugins  PluginsConfig   `json:"plugins"`
	Accounts []AccountConfig `json:"accounts"`
	Feeds    FeedsConfig     `json:"feeds"`
}

var envVarPattern = regexp.MustCompile(`\$\{([A-Z0-9_]+)\}`)

// Load reads, expands, parses, and validates a config file.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	return Parse(data)
}

// Parse loads configuration from raw JSONC bytes.
func Parse(data []byte) (*Config, error) {
	standardized, err := hujson.Standardize(data)
	if err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	expanded := expandEnv(standardized)

	cfg := Default()
	decoder := json.NewDecoder(bytes.NewReader(expanded))
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(cfg); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	applyDefaults(cfg)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Default returns the configuration used when no file is present.
func Default() *Config {
	cfg := &Config{}
	applyDefaults(cfg)
	return cfg
}

func applyDefaults(cfg *Config) {
	if cfg.Gateway.Host == "" {
		cfg.Gateway.Host = DefaultHost
	}
	if cfg.Gateway.Port == 0 {
		cfg.Gateway.Port = DefaultPort
	}
	if cfg.Gateway.Auth.Mode == "" {
		cfg.Gateway.Auth.Mode = DefaultAuthMode
	}
	if cfg.Gateway.Auth.Token == "" {
		if token := os.Getenv(TokenEnvVar); token != "" {
			cfg.Gateway.Auth.Token = token
		} else {
			cfg.Gateway.Auth.Token = DefaultToken
		}
	}
	if cfg.Plugins.Slots == nil {
		cfg.Plugins.Slots = map[string]string{"memory": "sqlite_fts"}
	}
}

// Validate checks structural constraints.
func (c *Config) Validate() error {
	if c.Gateway.Port < 1 || c.Gateway.Port > 65535 {
		return fmt.Errorf("gateway.port must be in [1, 65535], got %d", c.Gateway.Port)
	}
	switch c.Gateway.Auth.Mode {
	case "token", "none":
	default:
		return fmt.Errorf("gateway.auth.mode must be 'token' or 'none', got %q", c.Gateway.Auth.Mode)
	}
	if c.Gateway.Auth.Mode == "token" && c.Gateway.Auth.Token == "" {
		return fmt.Errorf("gateway.auth.token must be set in token mode")
	}
	seen := map[string]bool{}
	for _, account := range c.Accounts {
		if account.AccountID == "" {
			return fmt.Errorf("accounts[].accountId must be non-empty")
		}
		if seen[account.AccountID] {
			return fmt.Errorf("duplicate account id: %s", account.AccountID)
		}
		seen[account.AccountID] = true
	}
	return nil
}

// expandEnv substitutes ${VAR} from the environment; unknown variables
// expand to the empty string.
func expandEnv(data []byte) []byte {
	return envVarPattern.ReplaceAllFunc(data, func(match []byte) []byte {
		name := envVarPattern.FindSubmatch(match)[1]
		return []byte(os.Getenv(string(name)))
	})
}
