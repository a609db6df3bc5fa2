package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/GRECA-CT-UFSM/P4-and-LLM/internal/prompt"
)

// OllamaBackend is the local provider, talking to an Ollama daemon.
type OllamaBackend struct {
	host        string
	model       string
	temperature float32
	httpClient  *http.Client
}

type ollamaChatRequest struct {
	Model    string           `json:"model"`
	Messages []prompt.Message `json:"messages"`
	Stream   bool             `json:"stream"`
	Format   string           `json:"format,omitempty"`
	Options  struct {
		Temperature float32 `json:"temperature"`
	} `json:"options"`
}

type ollamaChatResponse struct {
	Message struct {
		Role    string `json:"role"`
		Content string `json:"content"`
	} `json:"message"`
	Done  bool   `json:"done"`
	Error string `json:"error"`
}

// NewOllamaBackend probes host with GET /api/tags and fails when the daemon
// does not answer.
func NewOllamaBackend(ctx context.Context, host, model string, temperature float32) (*OllamaBackend, error) {
	o := &OllamaBackend{
		host:        strings.TrimRight(host, "/"),
		model:       model,
		temperature: temperature,
		httpClient:  &http.Client{},
	}

	if err := o.Ping(ctx); err != nil {
		return nil, err
	}
	return o, nil
}

func (o *OllamaBackend) Name() string {
	return "ollama"
}

// Ping checks that the daemon answers within five seconds.
func (o *OllamaBackend) Ping(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, o.host+"/api/tags", nil)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrBackendUnreachable, err)
	}
	resp, err := o.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %s: %v", ErrBackendUnreachable, o.host, err)
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("%w: %s returned status %d", ErrBackendUnreachable, o.host, resp.StatusCode)
	}
	return nil
}

func (o *OllamaBackend) Complete(ctx context.Context, messages []prompt.Message) (string, error) {
	chatReq := ollamaChatRequest{
		Model:    o.model,
		Messages: messages,
		Stream:   false,
		Format:   "json",
	}
	chatReq.Options.Temperature = o.temperature

	body, err := postJSON(ctx, o.httpClient, o.host+"/api/chat", chatReq, nil)
	if err != nil {
		return "", fmt.Errorf("ollama chat: %w", err)
	}

	var chatResp ollamaChatResponse
	if err := json.Unmarshal(body, &chatResp); err != nil {
		return "", fmt.Errorf("ollama chat: malformed response: %w", err)
	}
	if chatResp.Error != "" {
		return "", fmt.Errorf("ollama chat: %s", chatResp.Error)
	}
	if chatResp.Message.Content == "" {
		return "", ErrEmptyResponse
	}
	return chatResp.Message.Content, nil
}

// postJSON sends payload and returns the body of a 2xx response.
func postJSON(ctx context.Context, client *http.Client, url string, payload interface{}, headers map[string]string) ([]byte, error) {
	reqBody, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(reqBody))
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		httpReq.Header.Set(k, v)
	}

	resp, err := client.Do(httpReq)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("status %d: %s", resp.StatusCode, truncate(string(body), 200))
	}
	return body, nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
