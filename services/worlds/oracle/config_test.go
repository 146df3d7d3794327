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
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func clearRoleEnv(t *testing.T) {
	t.Helper()
	for _, role := range AllRoles {
		t.Setenv("WORLDS_"+string(role)+"_PROVIDER", "")
		t.Setenv("WORLDS_"+string(role)+"_MODEL", "")
	}
	for _, k := range []string{"OLLAMA_BASE_URL", "OLLAMA_URL", "ANTHROPIC_API_KEY", "OPENAI_API_KEY", "GEMINI_API_KEY", "GOOGLE_API_KEY"} {
		t.Setenv(k, "")
	}
}

func TestLoadRoleConfig_DefaultsToOllama(t *testing.T) {
	clearRoleEnv(t)
	rc, err := LoadRoleConfig(RoleConfig{RoleExtract: {Model: "qwen2.5"}})
	require.NoError(t, err)
	require.Len(t, rc, len(AllRoles))

	ext := rc[RoleExtract]
	assert.Equal(t, ProviderOllama, ext.Provider)
	assert.Equal(t, "qwen2.5", ext.Model)
	assert.Equal(t, "http://localhost:11434", ext.BaseURL)
	assert.False(t, ext.HasKey())
}

func TestLoadRoleConfig_EnvOverridesAndSealsKey(t *testing.T) {
	clearRoleEnv(t)
	t.Setenv("WORLDS_CRITIC_PROVIDER", "OpenAI")
	t.Setenv("WORLDS_CRITIC_MODEL", "gpt-4o")
	t.Setenv("OPENAI_API_KEY", "sk-test-key")

	rc, err := LoadRoleConfig(nil)
	require.NoError(t, err)
	critic := rc[RoleCritic]
	assert.Equal(t, ProviderOpenAI, critic.Provider)
	assert.Equal(t, "gpt-4o", critic.Model)
	require.True(t, critic.HasKey())

	var seen string
	require.NoError(t, withSecret(critic.APIKey, func(s string) error { seen = s; return nil }))
	assert.Equal(t, "sk-test-key", seen)
}

func TestLoadRoleConfig_ExplicitProviderWithoutModel(t *testing.T) {
	clearRoleEnv(t)
	t.Setenv("WORLDS_PLAN_PROVIDER", "anthropic")
	_, err := LoadRoleConfig(nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "WORLDS_PLAN_MODEL")
}

func TestLoadRoleConfig_InvalidProvider(t *testing.T) {
	clearRoleEnv(t)
	t.Setenv("WORLDS_SYNTH_PROVIDER", "mystery")
	_, err := LoadRoleConfig(nil)
	require.Error(t, err)
}

func TestResolveOllamaURL(t *testing.T) {
	clearRoleEnv(t)
	assert.Equal(t, "http://localhost:11434", ResolveOllamaURL())
	t.Setenv("OLLAMA_URL", "http://legacy:1")
	assert.Equal(t, "http://legacy:1", ResolveOllamaURL())
	t.Setenv("OLLAMA_BASE_URL", "http://preferred:2")
	assert.Equal(t, "http://preferred:2", ResolveOllamaURL())
}

func TestInferProvider(t *testing.T) {
	assert.Equal(t, ProviderAnthropic, InferProvider("claude-sonnet-4"))
	assert.Equal(t, ProviderOpenAI, InferProvider("gpt-4o"))
	assert.Equal(t, ProviderGemini, InferProvider("gemini-2.0-flash"))
	assert.Equal(t, "", InferProvider("llava"))
}

func TestSealSecret_EmptyIsNil(t *testing.T) {
	assert.Nil(t, SealSecret("  "))
}

func TestProviderFactory_MissingKey(t *testing.T) {
	f := NewProviderFactory(nil)
	for _, p := range []string{ProviderAnthropic, ProviderOpenAI, ProviderGemini} {
		_, err := f.CreateChatClient(context.Background(), ProviderConfig{Provider: p, Model: "m"})
		assert.Error(t, err, p)
	}
	_, err := f.CreateChatClient(context.Background(), ProviderConfig{Provider: "nope"})
	assert.Error(t, err)
}

func TestProviderFactory_RoleClientsShareBackends(t *testing.T) {
	f := NewProviderFactory(nil)
	ollama := ProviderConfig{Provider: ProviderOllama, Model: "llama3", BaseURL: "http://localhost:11434"}
	clients, err := f.CreateRoleClients(context.Background(), RoleConfig{
		RoleExtract: ollama,
		RolePlan:    ollama,
		RoleCritic:  {Provider: ProviderOllama, Model: "llava", BaseURL: "http://localhost:11434"},
	})
	require.NoError(t, err)
	require.Len(t, clients, 3)
	assert.Same(t, clients[RoleExtract], clients[RolePlan])
	assert.NotSame(t, clients[RoleExtract], clients[RoleCritic])
}
