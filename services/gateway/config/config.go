// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package config loads and validates the gateway configuration.
//
// Precedence, lowest to highest: built-in defaults, the YAML/JSON config
// file, RELAY_* environment variables.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/AleutianAI/AleutianRelay/services/gateway/breaker"
	"github.com/AleutianAI/AleutianRelay/services/gateway/cache"
	"github.com/AleutianAI/AleutianRelay/services/gateway/datatypes"
	"github.com/AleutianAI/AleutianRelay/services/gateway/routing"
	"github.com/AleutianAI/AleutianRelay/services/gateway/stream"
)

// GatewayConfig contains all gateway configuration.
//
// Thread Safety: Safe to read concurrently. Not safe to modify after
// creation.
type GatewayConfig struct {
	// Server contains HTTP listener settings.
	Server ServerConfig `json:"server" yaml:"server"`

	// Provider contains upstream provider settings.
	Provider ProviderConfig `json:"provider" yaml:"provider"`

	// Stream contains per-call timeout and retry settings.
	Stream StreamConfig `json:"stream" yaml:"stream"`

	// Breaker contains circuit breaker settings.
	Breaker BreakerConfig `json:"breaker" yaml:"breaker"`

	// Routing contains fallback selection settings.
	Routing RoutingConfig `json:"routing" yaml:"routing"`

	// Cache contains cache store and TTL settings.
	Cache CacheConfig `json:"cache" yaml:"cache"`
}

// ServerConfig contains HTTP listener settings.
type ServerConfig struct {
	ListenAddr string `json:"listen_addr" yaml:"listen_addr"`
}

// ProviderConfig contains upstream provider settings.
type ProviderConfig struct {
	// BaseURL is the OpenAI-compatible endpoint root.
	BaseURL string `json:"base_url" yaml:"base_url"`

	// APIKeyEnv names the environment variable holding the bearer token.
	// The key itself never lives in the config file.
	APIKeyEnv string `json:"api_key_env" yaml:"api_key_env"`
}

// StreamConfig contains per-call timeout and retry settings.
type StreamConfig struct {
	TimeoutMs         int     `json:"timeout_ms" yaml:"timeout_ms"`
	RetryMaxAttempts  int     `json:"retry_max_attempts" yaml:"retry_max_attempts"`
	BackoffBaseMs     int     `json:"backoff_base_ms" yaml:"backoff_base_ms"`
	BackoffMultiplier float64 `json:"backoff_multiplier" yaml:"backoff_multiplier"`
	BackoffCapMs      int     `json:"backoff_cap_ms" yaml:"backoff_cap_ms"`
	JitterFactor      float64 `json:"jitter_factor" yaml:"jitter_factor"`
}

// BreakerConfig contains circuit breaker settings.
type BreakerConfig struct {
	FailureThreshold   int `json:"failure_threshold" yaml:"failure_threshold"`
	CooldownMs         int `json:"cooldown_ms" yaml:"cooldown_ms"`
	MonitoringWindowMs int `json:"monitoring_window_ms" yaml:"monitoring_window_ms"`
	HalfOpenProbes     int `json:"half_open_probes" yaml:"half_open_probes"`
	HalfOpenSuccesses  int `json:"half_open_successes" yaml:"half_open_successes"`
}

// RoutingConfig contains fallback selection settings.
type RoutingConfig struct {
	// Stages orders the fallback comparators. Valid entries: knownGood,
	// costTier, reliability.
	Stages []string `json:"stages" yaml:"stages"`

	// Models carries per-model routing attributes, keyed by
	// "provider/model".
	Models map[string]ModelAttributes `json:"models" yaml:"models"`

	// ExclusionFile lists models held out of rotation, one key per line.
	// Watched for changes at runtime.
	ExclusionFile string `json:"exclusion_file" yaml:"exclusion_file"`
}

// ModelAttributes carries routing attributes for one model.
type ModelAttributes struct {
	KnownGood bool `json:"known_good" yaml:"known_good"`
	CostTier  int  `json:"cost_tier" yaml:"cost_tier"`
}

// CacheConfig contains cache store and TTL settings.
type CacheConfig struct {
	// Dir is the BadgerDB directory. Empty selects the in-memory store.
	Dir string `json:"dir" yaml:"dir"`

	// DefaultTTLByCategorySec overrides the 5-minute default per
	// category.
	DefaultTTLByCategorySec map[string]int `json:"default_ttl_by_category_sec" yaml:"default_ttl_by_category_sec"`
}

// DefaultGatewayConfig returns production defaults.
func DefaultGatewayConfig() GatewayConfig {
	return GatewayConfig{
		Server: ServerConfig{
			ListenAddr: ":8090",
		},
		Provider: ProviderConfig{
			BaseURL:   "http://localhost:11434",
			APIKeyEnv: "RELAY_PROVIDER_API_KEY",
		},
		Stream: StreamConfig{
			TimeoutMs:         60_000,
			RetryMaxAttempts:  4,
			BackoffBaseMs:     500,
			BackoffMultiplier: 2.0,
			BackoffCapMs:      10_000,
			JitterFactor:      0.2,
		},
		Breaker: BreakerConfig{
			FailureThreshold:   5,
			CooldownMs:         30_000,
			MonitoringWindowMs: 60_000,
			HalfOpenProbes:     2,
			HalfOpenSuccesses:  2,
		},
		Routing: RoutingConfig{
			Stages: []string{routing.StageKnownGood, routing.StageCostTier, routing.StageReliability},
		},
		Cache: CacheConfig{},
	}
}

// LoadGatewayConfig loads configuration with defaults, optional file, and
// environment overrides.
//
// # Inputs
//
//   - configPath: Path to a YAML/JSON config file. Empty or missing file
//     falls back to defaults.
//
// # Outputs
//
//   - GatewayConfig: Merged configuration.
//   - error: Non-nil if the file exists but is invalid, or validation
//     fails.
func LoadGatewayConfig(configPath string) (GatewayConfig, error) {
	config := DefaultGatewayConfig()

	if configPath != "" {
		if err := loadConfigFile(configPath, &config); err != nil {
			return config, fmt.Errorf("load config file: %w", err)
		}
	}

	loadConfigFromEnv(&config)

	if err := config.Validate(); err != nil {
		return config, fmt.Errorf("invalid config: %w", err)
	}

	return config, nil
}

func loadConfigFile(path string, config *GatewayConfig) error {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil // File doesn't exist, use defaults
		}
		return err
	}

	// Try YAML first, then JSON
	if err := yaml.Unmarshal(data, config); err != nil {
		if jsonErr := json.Unmarshal(data, config); jsonErr != nil {
			return fmt.Errorf("parse config (tried YAML and JSON): YAML error: %v, JSON error: %w", err, jsonErr)
		}
	}

	return nil
}

func loadConfigFromEnv(config *GatewayConfig) {
	if v := os.Getenv("RELAY_LISTEN_ADDR"); v != "" {
		config.Server.ListenAddr = v
	}
	if v := os.Getenv("RELAY_PROVIDER_BASE_URL"); v != "" {
		config.Provider.BaseURL = v
	}

	// Stream
	if v := os.Getenv("RELAY_STREAM_TIMEOUT_MS"); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			config.Stream.TimeoutMs = i
		}
	}
	if v := os.Getenv("RELAY_RETRY_MAX_ATTEMPTS"); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			config.Stream.RetryMaxAttempts = i
		}
	}
	if v := os.Getenv("RELAY_BACKOFF_BASE_MS"); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			config.Stream.BackoffBaseMs = i
		}
	}
	if v := os.Getenv("RELAY_BACKOFF_CAP_MS"); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			config.Stream.BackoffCapMs = i
		}
	}
	if v := os.Getenv("RELAY_BACKOFF_MULTIPLIER"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			config.Stream.BackoffMultiplier = f
		}
	}
	if v := os.Getenv("RELAY_JITTER_FACTOR"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			config.Stream.JitterFactor = f
		}
	}

	// Breaker
	if v := os.Getenv("RELAY_BREAKER_FAILURE_THRESHOLD"); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			config.Breaker.FailureThreshold = i
		}
	}
	if v := os.Getenv("RELAY_BREAKER_COOLDOWN_MS"); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			config.Breaker.CooldownMs = i
		}
	}
	if v := os.Getenv("RELAY_BREAKER_HALF_OPEN_PROBES"); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			config.Breaker.HalfOpenProbes = i
		}
	}
	if v := os.Getenv("RELAY_BREAKER_HALF_OPEN_SUCCESSES"); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			config.Breaker.HalfOpenSuccesses = i
		}
	}

	// Routing / cache
	if v := os.Getenv("RELAY_EXCLUSION_FILE"); v != "" {
		config.Routing.ExclusionFile = v
	}
	if v := os.Getenv("RELAY_CACHE_DIR"); v != "" {
		config.Cache.Dir = v
	}
}

// Validate checks that the configuration is valid.
func (c GatewayConfig) Validate() error {
	if c.Server.ListenAddr == "" {
		return fmt.Errorf("listen_addr must not be empty")
	}
	if c.Provider.BaseURL == "" {
		return fmt.Errorf("provider base_url must not be empty")
	}
	if c.Stream.TimeoutMs < 1 {
		return fmt.Errorf("stream timeout_ms must be >= 1")
	}
	if c.Stream.RetryMaxAttempts < 1 {
		return fmt.Errorf("retry_max_attempts must be >= 1")
	}
	if c.Stream.BackoffMultiplier < 1.0 {
		return fmt.Errorf("backoff_multiplier must be >= 1.0")
	}
	if c.Stream.JitterFactor < 0 || c.Stream.JitterFactor > 1 {
		return fmt.Errorf("jitter_factor must be between 0 and 1")
	}
	if c.Breaker.FailureThreshold < 1 {
		return fmt.Errorf("breaker failure_threshold must be >= 1")
	}
	if c.Breaker.CooldownMs < 1 {
		return fmt.Errorf("breaker cooldown_ms must be >= 1")
	}
	if c.Breaker.HalfOpenProbes < 1 {
		return fmt.Errorf("breaker half_open_probes must be >= 1")
	}
	if c.Breaker.HalfOpenSuccesses < 1 {
		return fmt.Errorf("breaker half_open_successes must be >= 1")
	}
	if c.Breaker.HalfOpenSuccesses > c.Breaker.HalfOpenProbes {
		return fmt.Errorf("breaker half_open_successes (%d) must not exceed half_open_probes (%d)",
			c.Breaker.HalfOpenSuccesses, c.Breaker.HalfOpenProbes)
	}
	for _, stage := range c.Routing.Stages {
		switch stage {
		case routing.StageKnownGood, routing.StageCostTier, routing.StageReliability:
		default:
			return fmt.Errorf("unknown routing stage %q", stage)
		}
	}
	for key := range c.Routing.Models {
		if err := datatypes.ModelKey(key).Validate(); err != nil {
			return fmt.Errorf("routing model %q: %w", key, err)
		}
	}
	return nil
}

// ToStreamConfig converts the stream section for stream.NewClient.
func (c GatewayConfig) ToStreamConfig() stream.Config {
	return stream.Config{
		BaseURL:           c.Provider.BaseURL,
		APIKey:            os.Getenv(c.Provider.APIKeyEnv),
		Timeout:           time.Duration(c.Stream.TimeoutMs) * time.Millisecond,
		MaxAttempts:       c.Stream.RetryMaxAttempts,
		BackoffBase:       time.Duration(c.Stream.BackoffBaseMs) * time.Millisecond,
		BackoffMultiplier: c.Stream.BackoffMultiplier,
		BackoffCap:        time.Duration(c.Stream.BackoffCapMs) * time.Millisecond,
		JitterFactor:      c.Stream.JitterFactor,
	}
}

// ToBreakerConfig converts the breaker section for breaker.NewRegistry.
func (c GatewayConfig) ToBreakerConfig() breaker.Config {
	return breaker.Config{
		FailureThreshold:  c.Breaker.FailureThreshold,
		Cooldown:          time.Duration(c.Breaker.CooldownMs) * time.Millisecond,
		MonitoringWindow:  time.Duration(c.Breaker.MonitoringWindowMs) * time.Millisecond,
		HalfOpenProbes:    c.Breaker.HalfOpenProbes,
		HalfOpenSuccesses: c.Breaker.HalfOpenSuccesses,
	}
}

// ToRoutingPolicy converts the routing section for routing.NewManager.
func (c GatewayConfig) ToRoutingPolicy() routing.Policy {
	return routing.Policy{Stages: c.Routing.Stages}
}

// ToModelInfos converts per-model attributes for routing.NewManager.
func (c GatewayConfig) ToModelInfos() map[datatypes.ModelKey]routing.ModelInfo {
	out := make(map[datatypes.ModelKey]routing.ModelInfo, len(c.Routing.Models))
	for key, attrs := range c.Routing.Models {
		out[datatypes.ModelKey(key)] = routing.ModelInfo{
			KnownGood: attrs.KnownGood,
			CostTier:  attrs.CostTier,
		}
	}
	return out
}

// ToCacheTTLs converts the cache TTL section for cache.NewLayer.
func (c GatewayConfig) ToCacheTTLs() map[string]time.Duration {
	out := make(map[string]time.Duration, len(c.Cache.DefaultTTLByCategorySec))
	for category, seconds := range c.Cache.DefaultTTLByCategorySec {
		out[category] = time.Duration(seconds) * time.Second
	}
	return out
}

// OpenCacheStore opens the configured cache store: Badger when a
// directory is set, otherwise in-memory.
func (c GatewayConfig) OpenCacheStore() (cache.Store, error) {
	if c.Cache.Dir == "" {
		return cache.NewMemoryStore(), nil
	}
	return cache.NewBadgerStore(cache.BadgerConfig{Path: c.Cache.Dir})
}
