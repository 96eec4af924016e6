package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// Discord delivers alerts through a Discord webhook.
type Discord struct {
	webhookURL string
	client     *http.Client
}

// NewDiscord creates a Discord sender for the given webhook URL.
func NewDiscord(webhookURL string) *Discord {
	return &Discord{
		webhookURL: webhookURL,
		client:     &http.Client{Timeout: 10 * time.Second},
	}
}

// Send posts the alert to the webhook with the subject in bold.
func (d *Discord) Send(ctx context.Context, subject, body string) error {
	payload, err := json.Marshal(map[string]string{
		"content": fmt.Sprintf("**%s**\n%s", subject, body),
	})
	if err != nil {
		return fmt.Errorf("discord: marshal payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, d.webhookURL, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("discord: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := d.client.Do(req)
	if err != nil {
		return fmt.Errorf("discord: send: %w", err)
	}
	defer resp.Body.Close()

	// Discord answers 204 No Content on success.
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return fmt.Errorf("discord: unexpected status %d: %s", resp.StatusCode, snippet)
	}
	return nil
}

// Name returns the sender identifier.
func (d *Discord) Name() string { return "discord" }
