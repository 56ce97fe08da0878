package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestDefaultValidates(t *testing.T) {
	if err := Default().Validate(); err != nil {
		t.Fatalf("default config invalid: %v", err)
	}
}

func TestLoadMergesOverDefaults(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	doc := `
llm:
  chatProvider: google
  chatModel: gemini-2.0-flash
agent:
  maxSteps: 5
`
	if err := os.WriteFile(path, []byte(doc), 0o600); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.LLM.ChatProvider != ProviderGoogle {
		t.Errorf("chatProvider = %q, want google", cfg.LLM.ChatProvider)
	}
	if cfg.Agent.MaxSteps != 5 {
		t.Errorf("maxSteps = %d, want 5", cfg.Agent.MaxSteps)
	}
	// Untouched sections keep defaults.
	if cfg.Agent.MemoryWindow != 10 {
		t.Errorf("memoryWindow = %d, want default 10", cfg.Agent.MemoryWindow)
	}
	if cfg.Mongo.Kind != MongoMemory {
		t.Errorf("mongo.kind = %q, want memory", cfg.Mongo.Kind)
	}
}

func TestValidateRejections(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*Config)
	}{
		{"unknown provider", func(c *Config) { c.LLM.ChatProvider = "cohere" }},
		{"zero max steps", func(c *Config) { c.Agent.MaxSteps = 0 }},
		{"zero token limit", func(c *Config) { c.Agent.TokenLimit = 0 }},
		{"unknown mongo kind", func(c *Config) { c.Mongo.Kind = "dynamo" }},
		{"remote without uri", func(c *Config) { c.Mongo.Kind = MongoRemote; c.Mongo.URI = "" }},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := Default()
			tc.mutate(cfg)
			if err := cfg.Validate(); err == nil {
				t.Fatal("expected validation error")
			}
		})
	}
}

func TestApplyEnvOverrides(t *testing.T) {
	env := map[string]string{
		"EMA_CHAT_PROVIDER": "Anthropic",
		"EMA_CHAT_MODEL":    "claude-sonnet-4-20250514",
		"OPENAI_API_KEY":    "sk-test",
		"GEMINI_API_BASE":   "https://example.test/v1",
		"HTTPS_PROXY":       "http://upper:8080",
		"https_proxy":       "http://lower:8080",
	}
	cfg := Default()
	ApplyEnv(cfg, func(k string) string { return env[k] })

	if cfg.LLM.ChatProvider != ProviderAnthropic {
		t.Errorf("chatProvider = %q, want anthropic", cfg.LLM.ChatProvider)
	}
	if cfg.LLM.ChatModel != "claude-sonnet-4-20250514" {
		t.Errorf("chatModel = %q", cfg.LLM.ChatModel)
	}
	if cfg.LLM.OpenAI.Key != "sk-test" {
		t.Errorf("openai key not applied")
	}
	if cfg.LLM.Google.BaseURL != "https://example.test/v1" {
		t.Errorf("gemini base not applied")
	}
	if cfg.System.HTTPSProxy != "http://upper:8080" {
		t.Errorf("https proxy = %q, want upper-case variable to win", cfg.System.HTTPSProxy)
	}
}

func TestProviderSelection(t *testing.T) {
	cfg := Default()
	cfg.LLM.OpenAI.Key = "o"
	cfg.LLM.Google.Key = "g"
	cfg.LLM.Anthropic.Key = "a"

	cfg.LLM.ChatProvider = ProviderGoogle
	if got := cfg.LLM.Provider().Key; got != "g" {
		t.Errorf("google provider key = %q", got)
	}
	cfg.LLM.ChatProvider = ProviderAnthropic
	if got := cfg.LLM.Provider().Key; got != "a" {
		t.Errorf("anthropic provider key = %q", got)
	}
	cfg.LLM.ChatProvider = ProviderOpenAI
	if got := cfg.LLM.Provider().Key; got != "o" {
		t.Errorf("openai provider key = %q", got)
	}
}
