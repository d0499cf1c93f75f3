package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"deployhook/internal/deployment"
)

const (
	defaultTimeout    = 10 * time.Second
	maxErrorBodyBytes = 512
)

// Slack posts messages to a Slack-compatible incoming webhook.
type Slack struct {
	URL        string
	Retries    int
	RetryDelay time.Duration
	client     *http.Client
}

// SlackConfig configures a Slack transport.
type SlackConfig struct {
	URL        string
	Retries    int
	RetryDelay time.Duration
	Timeout    time.Duration
}

// NewSlack creates a transport. Retries is the number of extra attempts.
func NewSlack(cfg SlackConfig) *Slack {
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}
	if cfg.Retries < 0 {
		cfg.Retries = 0
	}
	if cfg.RetryDelay <= 0 {
		cfg.RetryDelay = time.Second
	}
	return &Slack{
		URL:        cfg.URL,
		Retries:    cfg.Retries,
		RetryDelay: cfg.RetryDelay,
		client:     &http.Client{Timeout: cfg.Timeout},
	}
}

// Send posts msg, retrying on transport errors and non-2xx responses.
func (s *Slack) Send(ctx context.Context, msg Message) error {
	if s.URL == "" {
		return errors.New("no webhook URL configured")
	}

	body, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("marshal message: %w", err)
	}

	var lastErr error
	for attempt := 0; attempt <= s.Retries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return fmt.Errorf("notification cancelled after %d attempts: %w", attempt, lastErr)
			case <-time.After(s.RetryDelay):
			}
		}

		lastErr = s.post(ctx, body)
		if lastErr == nil {
			return nil
		}
		if ctx.Err() != nil {
			break
		}
	}
	return lastErr
}

func (s *Slack) post(ctx context.Context, body []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.URL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("webhook request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBodyBytes))
		return fmt.Errorf("webhook returned status %d: %s", resp.StatusCode, string(respBody))
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	return nil
}

// Sender delivers a formatted message.
type Sender interface {
	Send(ctx context.Context, msg Message) error
}

// Notifier formats deployment reports and sends them.
type Notifier struct {
	Sender  Sender
	Options FormatOptions
	Logger  *slog.Logger
}

// NewNotifier creates a notifier. opts.Channel is the fallback channel for
// apps that do not name one.
func NewNotifier(sender Sender, opts FormatOptions, logger *slog.Logger) *Notifier {
	if logger == nil {
		logger = slog.Default()
	}
	return &Notifier{Sender: sender, Options: opts, Logger: logger}
}

// Notify implements deployment.Notifier.
func (n *Notifier) Notify(ctx context.Context, report *deployment.Report) error {
	msg := Format(report, n.Options)
	if err := n.Sender.Send(ctx, msg); err != nil {
		return fmt.Errorf("notify %s: %w", report.Request.Target, err)
	}
	n.Logger.Debug("notification sent", "target", report.Request.Target, "channel", msg.Channel)
	return nil
}

var _ deployment.Notifier = (*Notifier)(nil)
