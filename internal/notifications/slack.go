package notifications

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

type SlackProvider struct {
	config *config.SlackConfig
	client *http.Client
}

func NewSlackProvider(cfg *config.SlackConfig) *SlackProvider {
	timeout := time.Duration(cfg.TimeoutSeconds) * time.Second
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &SlackProvider{
		config: cfg,
		client: &http.Client{Timeout: timeout},
	}
}

func (sp *SlackProvider) Name() string {
	return "slack"
}

func (sp *SlackProvider) IsEnabled() bool {
	return sp.config.Enabled && sp.config.WebhookURL != "" && sp.config.WebhookURL != "${SLACK_WEBHOOK_URL}"
}

// Send posts a mitigation alert to the incoming webhook.
func (sp *SlackProvider) Send(ctx context.Context, n *Notification) error {
	if !sp.IsEnabled() {
		return nil
	}

	if err := sp.sendToSlack(ctx, sp.buildSlackPayload(n)); err != nil {
		logging.Error("[SLACK] ✗ Failed to send Slack message: %v", err)
		return err
	}

	logging.Info("[SLACK] ✓ Alert sent for flow_id=%d (target %s)", n.FlowID, n.TargetIP)
	return nil
}

func (sp *SlackProvider) sendToSlack(ctx context.Context, payload interface{}) error {
	payloadJSON, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, sp.config.WebhookURL, bytes.NewReader(payloadJSON))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", "FlowGuard/1.0")

	resp, err := sp.client.Do(req)
	if err != nil {
		return fmt.Errorf("slack webhook request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("slack webhook returned status %d: %s", resp.StatusCode, string(body))
	}
	return nil
}

func (sp *SlackProvider) buildSlackPayload(n *Notification) map[string]interface{} {
	fields := []map[string]interface{}{
		{"title": "Target", "value": fmt.Sprintf("`%s`", n.TargetIP), "short": true},
		{"title": "Flow", "value": fmt.Sprintf("%d", n.FlowID), "short": true},
		{"title": "Rule", "value": fmt.Sprintf("%s / %s", n.Table, n.Action), "short": true},
		{"title": "Installer", "value": n.Installer, "short": true},
		{"title": "Timestamp", "value": n.Timestamp.Format("2006-01-02 15:04:05 MST"), "short": false},
	}
	if n.Reference != "" {
		fields = append(fields, map[string]interface{}{"title": "Reference", "value": n.Reference, "short": true})
	}

	// Monitor mode records intents without applying them.
	color, title := "#ff0000", ":rotating_light: FlowGuard drop rule installed"
	if n.Installer == "monitor" {
		color, title = "#ffaa00", ":eyes: FlowGuard drop rule (monitor only)"
	}

	attachment := map[string]interface{}{
		"fallback": fmt.Sprintf("FlowGuard: drop %s (flow %d)", n.TargetIP, n.FlowID),
		"color":    color,
		"title":    title,
		"fields":   fields,
		"ts":       n.Timestamp.Unix(),
	}

	payload := map[string]interface{}{
		"username":    "FlowGuard",
		"icon_emoji":  ":shield:",
		"attachments": []map[string]interface{}{attachment},
	}
	if sp.config.Channel != "" {
		payload["channel"] = sp.config.Channel
	}
	return payload
}
