package transport

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/mattjoyce/courier/internal/channel"
)

// WebhookPayload is the JSON body delivered to webhook channels.
type WebhookPayload struct {
	Channel    string   `json:"channel"`
	Recipients []string `json:"recipients"`
	Subject    string   `json:"subject,omitempty"`
	Content    string   `json:"content"`
	Timestamp  string   `json:"timestamp"`
}

// Webhook delivers one JSON request per message. When the channel has a
// secret the body is signed with HMAC-SHA256.
type Webhook struct {
	client *http.Client
	logger *slog.Logger
	now    func() time.Time
}

func NewWebhook(client *http.Client, logger *slog.Logger) *Webhook {
	return &Webhook{client: client, logger: logger, now: time.Now}
}

func (t *Webhook) Send(ctx context.Context, msg Message) error {
	s, err := msg.Channel.Webhook()
	if err != nil {
		return err
	}

	body, err := json.Marshal(WebhookPayload{
		Channel:    msg.Channel.ID,
		Recipients: msg.Recipients,
		Subject:    msg.Subject,
		Content:    msg.Content,
		Timestamp:  t.now().UTC().Format(time.RFC3339),
	})
	if err != nil {
		return fmt.Errorf("marshal webhook payload: %w", err)
	}

	method := strings.ToUpper(s.Method)
	if method == "" {
		method = http.MethodPost
	}
	req, err := http.NewRequestWithContext(ctx, method, s.URL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build webhook request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range s.Headers {
		req.Header.Set(k, v)
	}
	if s.Secret != "" {
		header := s.SignatureHeader
		if header == "" {
			header = DefaultSignatureHeader
		}
		req.Header.Set(header, Sign(body, s.Secret))
	}

	if err := do(t.client, req); err != nil {
		return err
	}
	t.logger.Debug("webhook delivered", "channel_id", msg.Channel.ID, "url", RedactURL(s.URL))
	return nil
}

// Probe sends a HEAD request with the channel's headers. Receivers that
// reject HEAD with 405 still count as reachable.
func (t *Webhook) Probe(ctx context.Context, ch channel.Channel) error {
	s, err := ch.Webhook()
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodHead, s.URL, nil)
	if err != nil {
		return fmt.Errorf("build webhook probe: %w", err)
	}
	for k, v := range s.Headers {
		req.Header.Set(k, v)
	}
	return reachable(t.client, req)
}
