package transport

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/mattjoyce/courier/internal/channel"
)

type pushNotification struct {
	Title string `json:"title,omitempty"`
	Body  string `json:"body"`
}

type pushRequest struct {
	To           string           `json:"to,omitempty"`
	Priority     string           `json:"priority,omitempty"`
	DryRun       bool             `json:"dry_run,omitempty"`
	Notification pushNotification `json:"notification"`
}

// Push posts one FCM-legacy style request per device token.
type Push struct {
	client *http.Client
	logger *slog.Logger
}

func NewPush(client *http.Client, logger *slog.Logger) *Push {
	return &Push{client: client, logger: logger}
}

func (t *Push) post(ctx context.Context, s channel.PushSettings, payload pushRequest) (*http.Request, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal push payload: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.Endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build push request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "key="+s.APIKey)
	return req, nil
}

func (t *Push) Send(ctx context.Context, msg Message) error {
	s, err := msg.Channel.Push()
	if err != nil {
		return err
	}
	for _, token := range msg.Recipients {
		req, err := t.post(ctx, s, pushRequest{
			To:           token,
			Priority:     s.Priority,
			Notification: pushNotification{Title: msg.Subject, Body: msg.Content},
		})
		if err != nil {
			return err
		}
		if err := do(t.client, req); err != nil {
			return fmt.Errorf("push to device: %w", err)
		}
	}
	t.logger.Debug("push accepted", "channel_id", msg.Channel.ID, "devices", len(msg.Recipients))
	return nil
}

// Probe submits a dry-run request; the gateway authenticates it without
// delivering anything.
func (t *Push) Probe(ctx context.Context, ch channel.Channel) error {
	s, err := ch.Push()
	if err != nil {
		return err
	}
	req, err := t.post(ctx, s, pushRequest{DryRun: true, Notification: pushNotification{Body: "probe"}})
	if err != nil {
		return err
	}
	return reachable(t.client, req)
}
