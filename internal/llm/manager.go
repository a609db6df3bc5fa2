package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/GRECA-CT-UFSM/P4-and-LLM/internal/config"
	"github.com/GRECA-CT-UFSM/P4-and-LLM/internal/flow"
	"github.com/GRECA-CT-UFSM/P4-and-LLM/internal/logging"
	"github.com/GRECA-CT-UFSM/P4-and-LLM/internal/metrics"
	"github.com/GRECA-CT-UFSM/P4-and-LLM/internal/prompt"
)

// New builds the backend selected by cfg. Errors here are configuration
// errors and should stop the process.
func New(ctx context.Context, cfg config.BackendConfig) (Backend, error) {
	model := cfg.ResolvedModel()

	switch cfg.NormalizedProvider() {
	case config.ProviderHosted:
		return NewOpenAIBackend(cfg.APIKey, cfg.BaseURL, model, cfg.Temperature)
	case config.ProviderLocal:
		return NewOllamaBackend(ctx, cfg.LocalHost, model, cfg.Temperature)
	case config.ProviderAnthropic:
		return NewAnthropicBackend(cfg.APIKey, cfg.BaseURL, model, cfg.Temperature)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownProvider, cfg.Provider)
	}
}

// Client implements Invoker on top of a Backend: it assembles the prompt,
// bounds the call with a timeout and optionally caches replies.
type Client struct {
	backend Backend
	timeout time.Duration
	cache   *ResponseCache
	metrics *metrics.Handler
}

type ClientOption func(*Client)

// WithCache enables the response cache. A zero ttl leaves it disabled.
func WithCache(ttl time.Duration) ClientOption {
	return func(c *Client) {
		if ttl > 0 {
			c.cache = NewResponseCache(ttl)
		}
	}
}

func WithMetrics(h *metrics.Handler) ClientOption {
	return func(c *Client) {
		c.metrics = h
	}
}

func NewClient(backend Backend, timeout time.Duration, opts ...ClientOption) *Client {
	c := &Client{backend: backend, timeout: timeout}
	for _, opt := range opts {
		opt(c)
	}

	logging.Info("[LLM] Client initialized with provider: %s, timeout: %s, cache: %t",
		backend.Name(), timeout, c.cache != nil)
	return c
}

func (c *Client) Name() string {
	return c.backend.Name()
}

// Invoke sends one flow to the backend and returns the raw reply text.
func (c *Client) Invoke(ctx context.Context, tpl *prompt.Template, rec flow.Record) (string, error) {
	flowJSON, err := json.Marshal(rec)
	if err != nil {
		return "", fmt.Errorf("serializing flow %d: %w", rec.FlowID, err)
	}

	var cacheKey string
	if c.cache != nil {
		cacheKey = c.cache.Key(tpl.Version, rec)
		if raw, ok := c.cache.Get(cacheKey); ok {
			logging.Debug("[LLM] Cache hit for flow_id=%d", rec.FlowID)
			return raw, nil
		}
	}

	if c.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}

	start := time.Now()
	raw, err := c.backend.Complete(ctx, tpl.Assemble(string(flowJSON)))
	c.metrics.ObserveInferenceLatency(time.Since(start), c.backend.Name(), err == nil)
	if err != nil {
		return "", err
	}

	if c.cache != nil {
		c.cache.Set(cacheKey, raw)
	}
	return raw, nil
}

// CacheStats reports the response cache state, or nil when disabled.
func (c *Client) CacheStats() map[string]interface{} {
	if c.cache == nil {
		return nil
	}
	return c.cache.Stats()
}
