// Package llm abstracts the chat providers behind a single Generate call.
// Providers: OpenAI and Google (both through the OpenAI-compatible API) and
// Anthropic. Retries are applied inside the client per the configured
// policy; cancellation always wins over retries.
package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"github.com/haasonsaas/ema/internal/config"
	"github.com/haasonsaas/ema/internal/retry"
	"github.com/haasonsaas/ema/pkg/models"
)

// ToolDef describes a tool advertised to the model.
type ToolDef struct {
	Name        string
	Description string
	Parameters  json.RawMessage
}

// Request is one generate call.
type Request struct {
	SystemPrompt string
	Messages     []models.Message
	Tools        []ToolDef
	MaxTokens    int
}

// Response is the model's answer.
type Response struct {
	Message      models.Message
	FinishReason string
	TotalTokens  int
}

// Client generates model responses. Implementations honor context
// cancellation.
type Client interface {
	Generate(ctx context.Context, req *Request) (*Response, error)
}

// New builds the configured provider client wrapped with the retry policy.
func New(cfg config.LLMConfig, system config.SystemConfig, logger *slog.Logger) (Client, error) {
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "llm", "provider", string(cfg.ChatProvider))

	provider := cfg.Provider()
	httpClient, err := proxiedHTTPClient(provider, system)
	if err != nil {
		return nil, err
	}

	var inner Client
	switch cfg.ChatProvider {
	case config.ProviderOpenAI:
		inner, err = newOpenAIClient(provider, cfg.ChatModel, "", httpClient)
	case config.ProviderGoogle:
		inner, err = newOpenAIClient(provider, cfg.ChatModel, googleOpenAIBase, httpClient)
	case config.ProviderAnthropic:
		inner, err = newAnthropicClient(provider, cfg.ChatModel, httpClient)
	default:
		return nil, fmt.Errorf("llm: unknown chat provider %q", cfg.ChatProvider)
	}
	if err != nil {
		return nil, err
	}

	policy := retry.Policy{
		Enabled:      cfg.Retry.Enabled,
		MaxRetries:   cfg.Retry.MaxRetries,
		InitialDelay: cfg.Retry.InitialDelay(),
		MaxDelay:     cfg.Retry.MaxDelay(),
		Base:         cfg.Retry.ExponentialBase,
	}
	return &retriedClient{inner: inner, policy: policy, logger: logger}, nil
}

// retriedClient wraps a provider client with the configured retry policy.
type retriedClient struct {
	inner  Client
	policy retry.Policy
	logger *slog.Logger
}

func (c *retriedClient) Generate(ctx context.Context, req *Request) (*Response, error) {
	return retry.DoWithValue(ctx, c.policy, func(ctx context.Context) (*Response, error) {
		return c.inner.Generate(ctx, req)
	}, func(attempt int, err error, delay time.Duration) {
		c.logger.Warn("generate failed, retrying",
			"attempt", attempt,
			"delay", delay,
			"error", err,
		)
	})
}

// proxiedHTTPClient builds an http.Client honoring per-provider proxy
// settings, falling back to the system-level ones.
func proxiedHTTPClient(provider config.ProviderConfig, system config.SystemConfig) (*http.Client, error) {
	httpProxy := provider.HTTPProxy
	if httpProxy == "" {
		httpProxy = system.HTTPProxy
	}
	httpsProxy := provider.HTTPSProxy
	if httpsProxy == "" {
		httpsProxy = system.HTTPSProxy
	}
	if httpProxy == "" && httpsProxy == "" {
		return &http.Client{Timeout: 5 * time.Minute}, nil
	}

	proxyURLRaw := httpsProxy
	if proxyURLRaw == "" {
		proxyURLRaw = httpProxy
	}
	proxyURL, err := url.Parse(proxyURLRaw)
	if err != nil {
		return nil, fmt.Errorf("llm: invalid proxy url %q: %w", proxyURLRaw, err)
	}
	transport := http.DefaultTransport.(*http.Transport).Clone()
	transport.Proxy = http.ProxyURL(proxyURL)
	return &http.Client{Timeout: 5 * time.Minute, Transport: transport}, nil
}
