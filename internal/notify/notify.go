package notify

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"
)

// Notifier posts plain-text messages to an ntfy-style endpoint. A nil
// Notifier or one without an endpoint does nothing.
type Notifier struct {
	endpoint string
	client   *http.Client
	logger   *slog.Logger
}

// New creates a notifier for endpoint. An empty endpoint disables it.
func New(logger *slog.Logger, client *http.Client, endpoint string) *Notifier {
	if logger == nil {
		logger = slog.Default()
	}
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}
	return &Notifier{endpoint: strings.TrimSpace(endpoint), client: client, logger: logger}
}

// Enabled reports whether messages are delivered anywhere.
func (n *Notifier) Enabled() bool {
	return n != nil && n.endpoint != ""
}

// Notify sends title and message. Failures are logged, not returned.
func (n *Notifier) Notify(ctx context.Context, title, message string) {
	if !n.Enabled() {
		return
	}
	if err := Send(ctx, n.client, n.endpoint, title, message); err != nil {
		n.logger.Warn("notification failed", "endpoint", n.endpoint, "error", err)
		return
	}
	n.logger.Debug("notification sent", "endpoint", n.endpoint, "title", title)
}

// Send posts message to endpoint. title travels in the ntfy Title header.
func Send(ctx context.Context, client *http.Client, endpoint, title, message string) error {
	c := client
	if c == nil {
		c = http.DefaultClient
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(message))
	if err != nil {
		return err
	}

	req.Header.Set("Content-Type", "text/plain")
	if title != "" {
		req.Header.Set("Title", title)
	}

	resp, err := c.Do(req)
	if err != nil {
		return err
	}
	defer func() {
		_ = resp.Body.Close()
	}()
	_, _ = io.Copy(io.Discard, resp.Body)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("ntfy notification failed: status=%d", resp.StatusCode)
	}
	return nil
}
