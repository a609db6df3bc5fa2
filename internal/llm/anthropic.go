package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"github.com/GRECA-CT-UFSM/P4-and-LLM/internal/prompt"
)

const defaultAnthropicURL = "https://api.anthropic.com"

// AnthropicBackend calls the Messages API. System segments are joined into
// the top-level system field since the API accepts only user/assistant turns.
type AnthropicBackend struct {
	apiKey      string
	baseURL     string
	model       string
	temperature float32
	httpClient  *http.Client
}

type anthropicRequest struct {
	Model       string             `json:"model"`
	MaxTokens   int                `json:"max_tokens"`
	System      string             `json:"system,omitempty"`
	Temperature float32            `json:"temperature"`
	Messages    []anthropicMessage `json:"messages"`
}

type anthropicMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type anthropicResponse struct {
	Content []struct {
		Type string `json:"type"`
		Text string `json:"text"`
	} `json:"content"`
	Usage struct {
		InputTokens  int `json:"input_tokens"`
		OutputTokens int `json:"output_tokens"`
	} `json:"usage"`
}

func NewAnthropicBackend(apiKey, baseURL, model string, temperature float32) (*AnthropicBackend, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("anthropic provider: %w", ErrMissingCredential)
	}
	if baseURL == "" {
		baseURL = defaultAnthropicURL
	}
	return &AnthropicBackend{
		apiKey:      apiKey,
		baseURL:     strings.TrimRight(baseURL, "/"),
		model:       model,
		temperature: temperature,
		httpClient:  &http.Client{},
	}, nil
}

func (a *AnthropicBackend) Name() string {
	return "anthropic"
}

func (a *AnthropicBackend) Complete(ctx context.Context, messages []prompt.Message) (string, error) {
	req := anthropicRequest{
		Model:       a.model,
		MaxTokens:   256,
		Temperature: a.temperature,
	}

	var system []string
	for _, m := range messages {
		if m.Role == "system" {
			system = append(system, m.Content)
			continue
		}
		req.Messages = append(req.Messages, anthropicMessage{Role: m.Role, Content: m.Content})
	}
	req.System = strings.Join(system, "\n\n")

	body, err := postJSON(ctx, a.httpClient, a.baseURL+"/v1/messages", req, map[string]string{
		"x-api-key":         a.apiKey,
		"anthropic-version": "2023-06-01",
	})
	if err != nil {
		return "", fmt.Errorf("failed to call Anthropic API: %w", err)
	}

	var resp anthropicResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return "", fmt.Errorf("failed to parse Anthropic response: %w", err)
	}

	for _, c := range resp.Content {
		if c.Type == "text" {
			return c.Text, nil
		}
	}
	return "", ErrEmptyResponse
}
