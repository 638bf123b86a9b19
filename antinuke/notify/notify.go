package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sync"
)

// Out-of-band destination for license lifecycle alerts. Delivery is best-effort: callers log errors and carry on.
type Notifier interface {
	Notify(ctx context.Context, msg string) error
}

// Posts messages to a Discord-style incoming webhook.
type WebhookNotifier struct {
	WebhookURL string
	Client     *http.Client
}

var _ Notifier = (*WebhookNotifier)(nil)

func NewWebhookNotifier(webhookURL string, logger *slog.Logger) *WebhookNotifier {
	return &WebhookNotifier{
		WebhookURL: webhookURL,
		Client:     NewClient(WithLogger(logger)),
	}
}

type WebhookBody struct {
	Content string `json:"content"`
}

func (n *WebhookNotifier) Notify(ctx context.Context, msg string) error {
	body, err := json.Marshal(WebhookBody{Content: msg})
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.WebhookURL, bytes.NewBuffer(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := n.Client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("failed webhook POST request. status=%d", resp.StatusCode)
	}
	return nil
}

// Writes notifications to the log. Used when no webhook is configured.
type LogNotifier struct {
	Logger *slog.Logger
}

func (n *LogNotifier) Notify(ctx context.Context, msg string) error {
	n.Logger.Info("notification", "msg", msg)
	return nil
}

// Records notifications in memory, for tests.
type MemNotifier struct {
	mu   sync.Mutex
	msgs []string
}

func (n *MemNotifier) Notify(ctx context.Context, msg string) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.msgs = append(n.msgs, msg)
	return nil
}

func (n *MemNotifier) Messages() []string {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]string{}, n.msgs...)
}
