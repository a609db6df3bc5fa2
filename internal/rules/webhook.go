package rules

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/GRECA-CT-UFSM/P4-and-LLM/internal/config"
	"github.com/GRECA-CT-UFSM/P4-and-LLM/internal/logging"
)

// WebhookPayload is the body POSTed for every intent.
type WebhookPayload struct {
	Event     string    `json:"event"`
	Timestamp time.Time `json:"timestamp"`
	Intent    Intent    `json:"intent"`
}

// WebhookInstaller POSTs intents to an HTTP data-plane agent with retry.
type WebhookInstaller struct {
	config *config.WebhookConfig
	client *http.Client
}

func NewWebhookInstaller(cfg *config.WebhookConfig) *WebhookInstaller {
	return &WebhookInstaller{
		config: cfg,
		client: &http.Client{
			Timeout: time.Duration(cfg.TimeoutSeconds) * time.Second,
		},
	}
}

func (wi *WebhookInstaller) Name() string {
	return "webhook"
}

// Apply sends the intent, retrying up to RetryCount times.
func (wi *WebhookInstaller) Apply(ctx context.Context, in Intent) (Ack, error) {
	payload, err := json.Marshal(WebhookPayload{
		Event:     "rule_intent",
		Timestamp: time.Now().UTC(),
		Intent:    in,
	})
	if err != nil {
		return Ack{}, err
	}

	attempts := wi.config.RetryCount
	if attempts < 1 {
		attempts = 1
	}

	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		err := wi.send(ctx, payload)
		if err == nil {
			logging.Info("[WEBHOOK] Intent for flow %d delivered to %s", in.FlowID, wi.config.Endpoint)
			return Ack{Installer: wi.Name(), Reference: wi.config.Endpoint, AppliedAt: time.Now().UTC()}, nil
		}

		lastErr = err
		logging.Error("[WEBHOOK] Attempt %d/%d failed for flow %d: %v", attempt, attempts, in.FlowID, err)

		if attempt < attempts {
			select {
			case <-ctx.Done():
				return Ack{}, ctx.Err()
			case <-time.After(time.Duration(wi.config.RetryDelaySeconds) * time.Second):
			}
		}
	}

	return Ack{}, fmt.Errorf("webhook failed after %d attempts: %w", attempts, lastErr)
}

func (wi *WebhookInstaller) send(ctx context.Context, payload []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, wi.config.Endpoint, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", "FlowGuard-Webhook/1.0")
	if wi.config.AuthToken != "" {
		req.Header.Set("Authorization", "Bearer "+wi.config.AuthToken)
	}

	resp, err := wi.client.Do(req)
	if err != nil {
		return fmt.Errorf("webhook request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		bodyBytes, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("webhook returned status %d: %s", resp.StatusCode, string(bodyBytes))
	}
	return nil
}
