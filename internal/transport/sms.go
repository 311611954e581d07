package transport

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"

	"github.com/mattjoyce/courier/internal/channel"
)

const DefaultSMSBaseURL = "https://api.twilio.com/2010-04-01"

// SMS posts one message per recipient to a Twilio-compatible REST gateway.
// The first failing recipient aborts the send.
type SMS struct {
	client *http.Client
	logger *slog.Logger
}

func NewSMS(client *http.Client, logger *slog.Logger) *SMS {
	return &SMS{client: client, logger: logger}
}

func smsBase(s channel.SMSSettings) string {
	if s.BaseURL != "" {
		return strings.TrimRight(s.BaseURL, "/")
	}
	return DefaultSMSBaseURL
}

func (t *SMS) Send(ctx context.Context, msg Message) error {
	s, err := msg.Channel.SMS()
	if err != nil {
		return err
	}
	endpoint := fmt.Sprintf("%s/Accounts/%s/Messages.json", smsBase(s), url.PathEscape(s.AccountID))

	body := msg.Content
	if body == "" {
		body = msg.Subject
	}

	for _, to := range msg.Recipients {
		form := url.Values{}
		form.Set("To", to)
		form.Set("From", s.From)
		form.Set("Body", body)

		req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(form.Encode()))
		if err != nil {
			return fmt.Errorf("build sms request: %w", err)
		}
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
		req.SetBasicAuth(s.AccountID, s.Token)

		if err := do(t.client, req); err != nil {
			return fmt.Errorf("sms to %s: %w", to, err)
		}
		t.logger.Debug("sms accepted", "channel_id", msg.Channel.ID, "to", to)
	}
	return nil
}

// Probe fetches the account resource, which only succeeds with valid
// credentials.
func (t *SMS) Probe(ctx context.Context, ch channel.Channel) error {
	s, err := ch.SMS()
	if err != nil {
		return err
	}
	endpoint := fmt.Sprintf("%s/Accounts/%s.json", smsBase(s), url.PathEscape(s.AccountID))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return fmt.Errorf("build sms probe: %w", err)
	}
	req.SetBasicAuth(s.AccountID, s.Token)
	return do(t.client, req)
}
