// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package config loads the worlds pipeline configuration.
//
// Description:
//
//	Defaults are embedded from worlds.yaml. An optional user file is merged
//	on top, then a .env file is loaded (if present) and WORLDS_* variables
//	override individual fields. The result is validated with struct tags.
//
// Thread Safety:
//
//	Get is safe for concurrent use. Reset is for tests only.
package config

import (
	_ "embed"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/AleutianAI/AleutianWorlds/services/worlds/oracle"
	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

//go:embed worlds.yaml
var defaultConfigYAML []byte

// MaxYAMLFileSize bounds user configuration files.
const MaxYAMLFileSize = 1 << 20

// Config is the complete pipeline configuration.
type Config struct {
	Artifacts   ArtifactsConfig   `yaml:"artifacts" validate:"required"`
	Storage     StorageConfig     `yaml:"storage"`
	Knowledge   KnowledgeConfig   `yaml:"knowledge" validate:"required"`
	Synthesizer SynthesizerConfig `yaml:"synthesizer"`
	Resolver    ResolverConfig    `yaml:"resolver"`
	Controller  ControllerConfig  `yaml:"controller" validate:"required"`
	Critic      CriticConfig      `yaml:"critic" validate:"required"`
	Render      RenderConfig      `yaml:"render"`
	Oracle      OracleConfig      `yaml:"oracle" validate:"required"`
	Server      ServerConfig      `yaml:"server"`
	Telemetry   TelemetryConfig   `yaml:"telemetry"`
}

// ArtifactsConfig locates the run's file handoff directory.
type ArtifactsConfig struct {
	Dir string `yaml:"dir" validate:"required"`
}

// StorageConfig locates the BadgerDB directory.
type StorageConfig struct {
	BadgerDir string `yaml:"badger_dir"`
}

// InMemory reports whether the store should live in RAM only.
func (s StorageConfig) InMemory() bool { return s.BadgerDir == "memory" }

// ResolvedBadgerDir returns BadgerDir or the default under the user's home.
func (s StorageConfig) ResolvedBadgerDir() string {
	if s.BadgerDir != "" {
		return s.BadgerDir
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(os.TempDir(), "aleutian-worlds")
	}
	return filepath.Join(home, ".aleutian", "cache", "worlds")
}

// KnowledgeConfig configures the documentation index.
type KnowledgeConfig struct {
	CorpusPath     string        `yaml:"corpus_path"`
	Embedder       string        `yaml:"embedder" validate:"oneof=tfidf ollama genai"`
	EmbeddingURL   string        `yaml:"embedding_url" validate:"omitempty,url"`
	EmbeddingModel string        `yaml:"embedding_model"`
	TopK           int           `yaml:"top_k" validate:"min=1,max=23"`
	Watch          bool          `yaml:"watch"`
	CacheTTL       time.Duration `yaml:"cache_ttl"`
}

// SynthesizerConfig configures gin compilation.
type SynthesizerConfig struct {
	ReferenceGinPath string `yaml:"reference_gin_path"`
	UseOracle        bool   `yaml:"use_oracle"`
}

// ResolverConfig configures parameter grounding.
type ResolverConfig struct {
	UseOracle bool `yaml:"use_oracle"`
}

// ControllerConfig bounds the refinement loop.
type ControllerConfig struct {
	MaxIterations int  `yaml:"max_iterations" validate:"min=0,max=50"`
	StopOnStable  bool `yaml:"stop_on_stable"`
}

// CriticConfig configures frame sampling for the motion critic.
type CriticConfig struct {
	FrameCount   int     `yaml:"frame_count" validate:"min=1,max=128"`
	SkipFraction float64 `yaml:"skip_fraction" validate:"min=0,lt=1"`
}

// RenderConfig configures the external render command.
type RenderConfig struct {
	Command []string      `yaml:"command"`
	Timeout time.Duration `yaml:"timeout"`
}

// OracleConfig configures providers per role and opt-in middleware.
type OracleConfig struct {
	Retry     RetryConfig           `yaml:"retry"`
	RateLimit RateLimitConfig       `yaml:"rate_limit"`
	Roles     map[string]RoleConfig `yaml:"roles" validate:"dive"`
}

// RetryConfig enables oracle.Retry when MaxAttempts > 1.
type RetryConfig struct {
	MaxAttempts int           `yaml:"max_attempts" validate:"min=0,max=10"`
	BaseDelay   time.Duration `yaml:"base_delay"`
}

// RateLimitConfig enables oracle.RateLimit when QPS > 0.
type RateLimitConfig struct {
	QPS   float64 `yaml:"qps" validate:"min=0"`
	Burst int     `yaml:"burst" validate:"min=0"`
}

// RoleConfig is one role's provider choice.
type RoleConfig struct {
	Provider  string `yaml:"provider" validate:"omitempty,oneof=ollama anthropic openai gemini genai"`
	Model     string `yaml:"model"`
	BaseURL   string `yaml:"base_url" validate:"omitempty,url"`
	KeepAlive string `yaml:"keep_alive"`
	NumCtx    int    `yaml:"num_ctx" validate:"min=0"`
}

// ServerConfig configures the HTTP API.
type ServerConfig struct {
	Addr string `yaml:"addr"`

	// MaxConcurrentRuns bounds refinement runs driven by the server at once.
	MaxConcurrentRuns int64 `yaml:"max_concurrent_runs" validate:"min=1"`
	Debug             bool  `yaml:"debug"`
}

// TelemetryConfig selects the trace exporter for the server.
type TelemetryConfig struct {
	Exporter     string `yaml:"exporter" validate:"oneof=none stdout otlp"`
	OTLPEndpoint string `yaml:"otlp_endpoint"`
	ServiceName  string `yaml:"service_name"`
}

// RoleDefaults converts the YAML roles into oracle defaults. Keys are
// matched case-insensitively against the oracle role names.
func (c *Config) RoleDefaults() oracle.RoleConfig {
	out := make(oracle.RoleConfig, len(c.Oracle.Roles))
	for name, rc := range c.Oracle.Roles {
		out[oracle.Role(strings.ToUpper(name))] = oracle.ProviderConfig{
			Provider:  rc.Provider,
			Model:     rc.Model,
			BaseURL:   rc.BaseURL,
			KeepAlive: rc.KeepAlive,
			NumCtx:    rc.NumCtx,
		}
	}
	return out
}

// Middlewares returns the oracle middleware enabled by configuration.
// Retry is only installed when more than one attempt is configured.
func (c *Config) Middlewares() []oracle.Middleware {
	var mws []oracle.Middleware
	if c.Oracle.Retry.MaxAttempts > 1 {
		mws = append(mws, oracle.Retry(c.Oracle.Retry.MaxAttempts, c.Oracle.Retry.BaseDelay))
	}
	if rl := oracle.RateLimit(c.Oracle.RateLimit.QPS, c.Oracle.RateLimit.Burst); rl != nil {
		mws = append(mws, rl)
	}
	return mws
}

var (
	configMu      sync.RWMutex
	cachedConfig  *Config
	configLoadErr error
	configLoaded  bool
)

// Get returns the process-wide configuration, loading it on first use from
// WORLDS_CONFIG (if set).
func Get() (*Config, error) {
	configMu.RLock()
	if configLoaded {
		cfg, err := cachedConfig, configLoadErr
		configMu.RUnlock()
		return cfg, err
	}
	configMu.RUnlock()

	configMu.Lock()
	defer configMu.Unlock()
	if !configLoaded {
		cachedConfig, configLoadErr = Load(os.Getenv("WORLDS_CONFIG"))
		configLoaded = true
	}
	return cachedConfig, configLoadErr
}

// Reset clears the cached configuration. For testing only.
func Reset() {
	configMu.Lock()
	defer configMu.Unlock()
	cachedConfig = nil
	configLoadErr = nil
	configLoaded = false
}

// Load builds a configuration from the embedded defaults, an optional user
// file, .env, and the environment.
//
// Inputs:
//   - path: Optional YAML file merged over the defaults. Empty skips it.
//
// Outputs:
//   - *Config: Validated configuration.
//   - error: Non-nil on unreadable or oversized files, YAML errors, bad
//     environment values, or validation failures.
func Load(path string) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(defaultConfigYAML, &cfg); err != nil {
		return nil, fmt.Errorf("config: parsing embedded defaults: %w", err)
	}

	if path != "" {
		data, err := readLimited(path)
		if err != nil {
			return nil, err
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("config: parsing %s: %w", path, err)
		}
	}

	_ = godotenv.Load()

	if err := applyEnv(&cfg); err != nil {
		return nil, err
	}
	if err := Validate(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks struct constraints.
func Validate(cfg *Config) error {
	if err := validator.New().Struct(cfg); err != nil {
		return fmt.Errorf("config: invalid: %w", err)
	}
	return nil
}

func readLimited(path string) ([]byte, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	if info.Size() > MaxYAMLFileSize {
		return nil, fmt.Errorf("config: %s exceeds maximum size (%d > %d)", path, info.Size(), MaxYAMLFileSize)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	return data, nil
}

func applyEnv(cfg *Config) error {
	setString := func(env string, dst *string) {
		if v := strings.TrimSpace(os.Getenv(env)); v != "" {
			*dst = v
		}
	}
	setString("WORLDS_ARTIFACT_DIR", &cfg.Artifacts.Dir)
	setString("WORLDS_BADGER_DIR", &cfg.Storage.BadgerDir)
	setString("WORLDS_CORPUS_PATH", &cfg.Knowledge.CorpusPath)
	setString("WORLDS_EMBEDDER", &cfg.Knowledge.Embedder)
	setString("EMBEDDING_SERVICE_URL", &cfg.Knowledge.EmbeddingURL)
	setString("EMBEDDING_MODEL", &cfg.Knowledge.EmbeddingModel)
	setString("WORLDS_REFERENCE_GIN", &cfg.Synthesizer.ReferenceGinPath)
	setString("WORLDS_SERVER_ADDR", &cfg.Server.Addr)
	setString("WORLDS_TRACE_EXPORTER", &cfg.Telemetry.Exporter)
	setString("OTEL_EXPORTER_OTLP_ENDPOINT", &cfg.Telemetry.OTLPEndpoint)

	if v := strings.TrimSpace(os.Getenv("WORLDS_MAX_ITERATIONS")); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("config: WORLDS_MAX_ITERATIONS: %w", err)
		}
		cfg.Controller.MaxIterations = n
	}
	if v := strings.TrimSpace(os.Getenv("WORLDS_STOP_ON_STABLE")); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("config: WORLDS_STOP_ON_STABLE: %w", err)
		}
		cfg.Controller.StopOnStable = b
	}
	if v := strings.TrimSpace(os.Getenv("WORLDS_RENDER_COMMAND")); v != "" {
		cfg.Render.Command = strings.Fields(v)
	}
	return nil
}
