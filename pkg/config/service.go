package config

import (
	"bytes"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"

	"dario.cat/mergo"
)

// Service holds the live configuration and serializes patches against it.
type Service struct {
	mu     sync.Mutex
	cfg    Config
	logger *slog.Logger
}

// NewService wraps a loaded configuration.
func NewService(cfg *Config) *Service {
	return &Service{
		cfg:    *cfg,
		logger: slog.With("component", "config"),
	}
}

// Get returns a copy of the current configuration.
func (s *Service) Get() Config {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cfg
}

// Patch deep-merges a partial configuration into the current one. The patch
// is schema-checked first (unknown fields rejected) and the merged result
// revalidated; on any failure the current configuration is left untouched.
func (s *Service) Patch(patch map[string]any) (Config, error) {
	patchJSON, err := json.Marshal(patch)
	if err != nil {
		return Config{}, fmt.Errorf("failed to encode patch: %w", err)
	}

	var overlay Config
	decoder := json.NewDecoder(bytes.NewReader(patchJSON))
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(&overlay); err != nil {
		return Config{}, fmt.Errorf("invalid config patch: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	merged := s.cfg
	if err := mergo.Merge(&merged, overlay, mergo.WithOverride); err != nil {
		return Config{}, fmt.Errorf("failed to merge config patch: %w", err)
	}
	if err := merged.Validate(); err != nil {
		return Config{}, err
	}

	s.cfg = merged
	s.logger.Info("Configuration patched")
	return merged, nil
}

// Schema describes the configuration shape for clients. The description is
// intentionally plain data so it serializes straight onto the wire.
func Schema() map[string]any {
	return map[string]any{
		"gateway": map[string]any{
			"host": map[string]any{"type": "string", "default": DefaultHost},
			"port": map[string]any{"type": "integer", "minimum": 1, "maximum": 65535, "default": DefaultPort},
			"auth": map[string]any{
				"mode":  map[string]any{"type": "string", "enum": []string{"token", "none"}},
				"token": map[string]any{"type": "string", "env": TokenEnvVar},
			},
		},
		"plugins": map[string]any{
			"allow": map[string]any{"type": "array", "items": "string"},
			"deny":  map[string]any{"type": "array", "items": "string"},
			"slots": map[string]any{"type": "object", "values": "string"},
		},
		"accounts": map[string]any{
			"type": "array",
			"items": map[string]any{
				"accountId":         map[string]any{"type": "string", "required": true},
				"connectorId":       map[string]any{"type": "string"},
				"providerAccountId": map[string]any{"type": "string"},
				"mode":              map[string]any{"type": "string", "enum": []string{"demo", "live", "paper"}},
				"label":             map[string]any{"type": "string"},
				"allowedSymbols":    map[string]any{"type": "array", "items": "string"},
				"transport": map[string]any{
					"type":    map[string]any{"type": "string", "enum": []string{"stdio", "http"}},
					"url":     map[string]any{"type": "string"},
					"command": map[string]any{"type": "string"},
					"args":    map[string]any{"type": "array", "items": "string"},
				},
			},
		},
		"feeds": map[string]any{
			"candles": map[string]any{
				"enabled":                map[string]any{"type": "boolean"},
				"pollSecondsByTimeframe": map[string]any{"type": "object", "values": "integer"},
			},
			"priceTicks": map[string]any{
				"enabled": map[string]any{"type": "boolean"},
			},
		},
	}
}
