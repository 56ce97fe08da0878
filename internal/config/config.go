// Package config loads and validates the server configuration from YAML,
// applying environment overrides after decode.
package config

import (
	"fmt"
	"time"
)

// ChatProvider selects the LLM backend for the reasoning loop.
type ChatProvider string

const (
	ProviderOpenAI    ChatProvider = "openai"
	ProviderGoogle    ChatProvider = "google"
	ProviderAnthropic ChatProvider = "anthropic"
)

// ProviderConfig holds per-provider connection settings.
type ProviderConfig struct {
	Key        string `yaml:"key"`
	BaseURL    string `yaml:"baseUrl"`
	HTTPProxy  string `yaml:"httpProxy"`
	HTTPSProxy string `yaml:"httpsProxy"`
}

// RetryConfig mirrors the LLM client retry policy. Delays are milliseconds.
type RetryConfig struct {
	Enabled         bool    `yaml:"enabled"`
	MaxRetries      int     `yaml:"maxRetries"`
	InitialDelayMs  int     `yaml:"initialDelayMs"`
	MaxDelayMs      int     `yaml:"maxDelayMs"`
	ExponentialBase float64 `yaml:"exponentialBase"`
}

// LLMConfig configures the chat provider and its retry policy.
type LLMConfig struct {
	ChatProvider ChatProvider   `yaml:"chatProvider"`
	ChatModel    string         `yaml:"chatModel"`
	OpenAI       ProviderConfig `yaml:"openai"`
	Google       ProviderConfig `yaml:"google"`
	Anthropic    ProviderConfig `yaml:"anthropic"`
	Retry        RetryConfig    `yaml:"retry"`
}

// Provider returns the connection settings for the selected chat provider.
func (c LLMConfig) Provider() ProviderConfig {
	switch c.ChatProvider {
	case ProviderGoogle:
		return c.Google
	case ProviderAnthropic:
		return c.Anthropic
	default:
		return c.OpenAI
	}
}

// AgentConfig bounds the reasoning loop.
type AgentConfig struct {
	MaxSteps         int    `yaml:"maxSteps"`
	TokenLimit       int    `yaml:"tokenLimit"`
	SystemPromptFile string `yaml:"systemPromptFile"`
	// MemoryWindow is the number of recent buffer messages injected into
	// the system prompt in place of the {MEMORY_BUFFER} token.
	MemoryWindow int `yaml:"memoryWindow"`
}

// ToolsConfig gates the built-in tools. The reply tool is always enabled.
type ToolsConfig struct {
	RememberShortTerm bool `yaml:"rememberShortTerm"`
	RememberLongTerm  bool `yaml:"rememberLongTerm"`
	SearchMemory      bool `yaml:"searchMemory"`
	ScheduleTask      bool `yaml:"scheduleTask"`
}

// MongoKind selects the document store backend.
type MongoKind string

const (
	MongoMemory MongoKind = "memory"
	MongoRemote MongoKind = "remote"
)

// MongoConfig configures the document store.
type MongoConfig struct {
	Kind   MongoKind `yaml:"kind"`
	URI    string    `yaml:"uri"`
	DBName string    `yaml:"dbName"`
}

// SystemConfig holds process-level settings.
type SystemConfig struct {
	DataRoot   string `yaml:"dataRoot"`
	HTTPProxy  string `yaml:"httpProxy"`
	HTTPSProxy string `yaml:"httpsProxy"`
}

// ServerConfig configures the HTTP/SSE surface.
type ServerConfig struct {
	Host     string `yaml:"host"`
	HTTPPort int    `yaml:"httpPort"`
}

// AgendaConfig configures the job scheduler. Durations are milliseconds.
type AgendaConfig struct {
	DefaultConcurrency int `yaml:"defaultConcurrency"`
	MaxConcurrency     int `yaml:"maxConcurrency"`
	LockLifetimeMs     int `yaml:"lockLifetimeMs"`
	ProcessEveryMs     int `yaml:"processEveryMs"`
}

// Config is the root configuration record.
type Config struct {
	LLM    LLMConfig    `yaml:"llm"`
	Agent  AgentConfig  `yaml:"agent"`
	Tools  ToolsConfig  `yaml:"tools"`
	Mongo  MongoConfig  `yaml:"mongo"`
	System SystemConfig `yaml:"system"`
	Server ServerConfig `yaml:"server"`
	Agenda AgendaConfig `yaml:"agenda"`
}

// Default returns the configuration used when no file is supplied.
func Default() *Config {
	return &Config{
		LLM: LLMConfig{
			ChatProvider: ProviderOpenAI,
			ChatModel:    "gpt-4o-mini",
			Retry: RetryConfig{
				Enabled:         true,
				MaxRetries:      3,
				InitialDelayMs:  500,
				MaxDelayMs:      30000,
				ExponentialBase: 2.0,
			},
		},
		Agent: AgentConfig{
			MaxSteps:     10,
			TokenLimit:   64000,
			MemoryWindow: 10,
		},
		Tools: ToolsConfig{
			RememberShortTerm: true,
			RememberLongTerm:  true,
			SearchMemory:      true,
			ScheduleTask:      true,
		},
		Mongo: MongoConfig{
			Kind:   MongoMemory,
			DBName: "ema",
		},
		System: SystemConfig{DataRoot: "./data"},
		Server: ServerConfig{Host: "127.0.0.1", HTTPPort: 9527},
		Agenda: AgendaConfig{
			DefaultConcurrency: 5,
			MaxConcurrency:     20,
			LockLifetimeMs:     600000,
			ProcessEveryMs:     1000,
		},
	}
}

// Validate checks the configuration for values the runtime cannot work with.
func (c *Config) Validate() error {
	switch c.LLM.ChatProvider {
	case ProviderOpenAI, ProviderGoogle, ProviderAnthropic:
	default:
		return fmt.Errorf("llm.chatProvider: unknown provider %q", c.LLM.ChatProvider)
	}
	if c.Agent.MaxSteps <= 0 {
		return fmt.Errorf("agent.maxSteps must be > 0, got %d", c.Agent.MaxSteps)
	}
	if c.Agent.TokenLimit <= 0 {
		return fmt.Errorf("agent.tokenLimit must be > 0, got %d", c.Agent.TokenLimit)
	}
	switch c.Mongo.Kind {
	case MongoMemory, MongoRemote:
	default:
		return fmt.Errorf("mongo.kind: unknown kind %q", c.Mongo.Kind)
	}
	if c.Mongo.Kind == MongoRemote && c.Mongo.URI == "" {
		return fmt.Errorf("mongo.uri is required when mongo.kind is %q", MongoRemote)
	}
	return nil
}

// InitialDelay converts the millisecond initial delay to a duration.
func (r RetryConfig) InitialDelay() time.Duration {
	return time.Duration(r.InitialDelayMs) * time.Millisecond
}

// MaxDelay converts the millisecond cap to a duration.
func (r RetryConfig) MaxDelay() time.Duration {
	return time.Duration(r.MaxDelayMs) * time.Millisecond
}
