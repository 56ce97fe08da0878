package config

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// Load reads the YAML file at path, merges it over defaults, applies
// environment overrides, and validates the result. An empty path loads
// defaults plus environment overrides only.
func Load(path string) (*Config, error) {
	cfg := Default()
	if strings.TrimSpace(path) != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config: %w", err)
		}
		if err := decodeStrictYAML(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config %s: %w", path, err)
		}
	}
	ApplyEnv(cfg, os.Getenv)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func decodeStrictYAML(data []byte, cfg *Config) error {
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	if err := decoder.Decode(cfg); err != nil {
		if err == io.EOF {
			return nil
		}
		return err
	}
	if err := decoder.Decode(&struct{}{}); err != io.EOF {
		return fmt.Errorf("expected a single YAML document")
	}
	return nil
}

// ApplyEnv applies recognized environment overrides onto cfg. The getenv
// function is injectable for tests. Upper-case proxy variables win over
// lower-case ones.
func ApplyEnv(cfg *Config, getenv func(string) string) {
	if v := getenv("EMA_CHAT_PROVIDER"); v != "" {
		cfg.LLM.ChatProvider = ChatProvider(strings.ToLower(v))
	}
	if v := getenv("EMA_CHAT_MODEL"); v != "" {
		cfg.LLM.ChatModel = v
	}
	if v := getenv("OPENAI_API_KEY"); v != "" {
		cfg.LLM.OpenAI.Key = v
	}
	if v := getenv("OPENAI_API_BASE"); v != "" {
		cfg.LLM.OpenAI.BaseURL = v
	}
	if v := getenv("GEMINI_API_KEY"); v != "" {
		cfg.LLM.Google.Key = v
	}
	if v := getenv("GEMINI_API_BASE"); v != "" {
		cfg.LLM.Google.BaseURL = v
	}
	if v := getenv("ANTHROPIC_API_KEY"); v != "" {
		cfg.LLM.Anthropic.Key = v
	}

	if v := firstNonEmpty(getenv("HTTP_PROXY"), getenv("http_proxy")); v != "" {
		cfg.System.HTTPProxy = v
	}
	if v := firstNonEmpty(getenv("HTTPS_PROXY"), getenv("https_proxy")); v != "" {
		cfg.System.HTTPSProxy = v
	}
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
