// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package oracle

import (
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/awnumar/memguard"
)

// Provider constants for supported oracle backends.
const (
	ProviderOllama    = "ollama"
	ProviderAnthropic = "anthropic"
	ProviderOpenAI    = "openai"
	ProviderGemini    = "gemini"
	ProviderGenAI     = "genai"
)

// Role names one stage that consults an oracle. Each role may use a
// different provider and model.
type Role string

// Oracle roles.
const (
	RoleExtract Role = "EXTRACT"
	RoleResolve Role = "RESOLVE"
	RoleSynth   Role = "SYNTH"
	RolePlan    Role = "PLAN"
	RoleCritic  Role = "CRITIC"
)

// AllRoles lists every role in a stable order.
var AllRoles = []Role{RoleExtract, RolePlan, RoleResolve, RoleSynth, RoleCritic}

// ValidProviders contains the set of valid provider names.
var ValidProviders = []string{ProviderOllama, ProviderAnthropic, ProviderOpenAI, ProviderGemini, ProviderGenAI}

// ProviderConfig holds the configuration for a single provider instance.
//
// Description:
//
//	APIKey is sealed in a memguard enclave. It is opened only inside
//	ProviderFactory.CreateChatClient and the plaintext buffer is destroyed
//	right after the client is built.
type ProviderConfig struct {
	// Provider is one of ValidProviders.
	Provider string

	// Model is the provider-specific model identifier.
	Model string

	// BaseURL is an optional endpoint override. For Ollama it is the
	// server root; for cloud providers the API URL.
	BaseURL string

	// APIKey is nil for Ollama and for unset keys.
	APIKey *memguard.Enclave

	// KeepAlive and NumCtx are Ollama-specific.
	KeepAlive string
	NumCtx    int
}

// HasKey reports whether an API key is sealed in the config.
func (c ProviderConfig) HasKey() bool { return c.APIKey != nil }

// identity is used to share one client between roles with the same backend.
func (c ProviderConfig) identity() string {
	return strings.Join([]string{c.Provider, c.Model, c.BaseURL, c.KeepAlive, fmt.Sprint(c.NumCtx)}, "|")
}

// RoleConfig maps each role to its provider configuration.
type RoleConfig map[Role]ProviderConfig

func isValidProvider(provider string) bool {
	for _, p := range ValidProviders {
		if provider == p {
			return true
		}
	}
	return false
}

// ResolveOllamaURL resolves the Ollama server URL from environment variables.
//
// Description:
//
//	Resolution order:
//	  1. OLLAMA_BASE_URL (preferred)
//	  2. OLLAMA_URL (deprecated, emits warning)
//	  3. http://localhost:11434 (default)
func ResolveOllamaURL() string {
	if url := os.Getenv("OLLAMA_BASE_URL"); url != "" {
		return url
	}
	if url := os.Getenv("OLLAMA_URL"); url != "" {
		slog.Warn("OLLAMA_URL is deprecated, use OLLAMA_BASE_URL instead",
			slog.String("ollama_url", url))
		return url
	}
	return "http://localhost:11434"
}

// InferProvider infers the provider from a model name prefix, or returns ""
// when unknown.
func InferProvider(model string) string {
	switch {
	case strings.HasPrefix(model, "claude-"):
		return ProviderAnthropic
	case strings.HasPrefix(model, "gpt-"), strings.HasPrefix(model, "o1"), strings.HasPrefix(model, "o3"):
		return ProviderOpenAI
	case strings.HasPrefix(model, "gemini-"):
		return ProviderGemini
	}
	return ""
}

// LoadRoleConfig builds the per-role configuration from defaults and the
// environment.
//
// Description:
//
//	For every role, WORLDS_<ROLE>_PROVIDER and WORLDS_<ROLE>_MODEL override
//	the defaults. Provider keys come from ANTHROPIC_API_KEY, OPENAI_API_KEY
//	and GEMINI_API_KEY (GOOGLE_API_KEY is accepted for genai) and are sealed
//	immediately.
//
// Inputs:
//   - defaults: Per-role defaults, usually from the YAML config. Roles that
//     are absent default to Ollama with an empty model.
//
// Outputs:
//   - RoleConfig: Complete configuration for AllRoles.
//   - error: Non-nil on an invalid provider, or an explicit provider
//     without any model.
func LoadRoleConfig(defaults RoleConfig) (RoleConfig, error) {
	out := make(RoleConfig, len(AllRoles))
	for _, role := range AllRoles {
		cfg, err := loadSingleRoleConfig(role, defaults[role])
		if err != nil {
			return nil, fmt.Errorf("loading %s role config: %w", strings.ToLower(string(role)), err)
		}
		out[role] = cfg
	}
	return out, nil
}

func loadSingleRoleConfig(role Role, def ProviderConfig) (ProviderConfig, error) {
	providerEnv := fmt.Sprintf("WORLDS_%s_PROVIDER", role)
	modelEnv := fmt.Sprintf("WORLDS_%s_MODEL", role)

	cfg := def
	explicitProvider := os.Getenv(providerEnv)
	if explicitProvider != "" {
		cfg.Provider = strings.ToLower(explicitProvider)
	}
	if cfg.Provider == "" {
		cfg.Provider = ProviderOllama
	}
	if !isValidProvider(cfg.Provider) {
		return ProviderConfig{}, fmt.Errorf("invalid provider %q for %s (valid: %v)", cfg.Provider, providerEnv, ValidProviders)
	}
	if model := os.Getenv(modelEnv); model != "" {
		cfg.Model = model
	}

	switch cfg.Provider {
	case ProviderOllama:
		if cfg.BaseURL == "" {
			cfg.BaseURL = ResolveOllamaURL()
		}
	case ProviderAnthropic:
		cfg.APIKey = sealEnv("ANTHROPIC_API_KEY")
	case ProviderOpenAI:
		cfg.APIKey = sealEnv("OPENAI_API_KEY")
	case ProviderGemini:
		cfg.APIKey = sealEnv("GEMINI_API_KEY")
	case ProviderGenAI:
		cfg.APIKey = sealEnv("GEMINI_API_KEY", "GOOGLE_API_KEY")
	}

	if explicitProvider != "" && cfg.Model == "" {
		return ProviderConfig{}, fmt.Errorf(
			"%s is %q but no model specified (set %s)",
			providerEnv, cfg.Provider, modelEnv,
		)
	}
	return cfg, nil
}
