package channel

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEmailSettingsDecode(t *testing.T) {
	ch := Channel{ID: "email-1", Type: TypeEmail, Config: map[string]any{
		"smtp": map[string]any{"host": "smtp.example.com", "port": "587", "user": "bot@example.com", "pass": "p"},
	}}

	s, err := ch.Email()
	require.NoError(t, err)
	assert.Equal(t, "smtp.example.com:587", s.Addr())
	assert.Equal(t, "bot@example.com", s.Sender())

	s.From = "alerts@example.com"
	assert.Equal(t, "alerts@example.com", s.Sender())
}

func TestWebhookSettingsDecodeHeaders(t *testing.T) {
	ch := Channel{ID: "wh", Type: TypeWebhook, Config: map[string]any{
		"webhook": map[string]any{
			"url":     "https://hooks.example.com/x",
			"secret":  "s3cret",
			"headers": map[string]any{"X-Team": "sec"},
		},
	}}

	s, err := ch.Webhook()
	require.NoError(t, err)
	assert.Equal(t, "https://hooks.example.com/x", s.URL)
	assert.Equal(t, map[string]string{"X-Team": "sec"}, s.Headers)
}

func TestSettingsDecodeWrongType(t *testing.T) {
	ch := Channel{ID: "wh", Type: TypeWebhook}
	_, err := ch.Email()
	assert.ErrorContains(t, err, "not email")
}

func TestSettingsDecodeMissingBlock(t *testing.T) {
	ch := Channel{ID: "sms-1", Type: TypeSMS, Config: map[string]any{}}
	_, err := ch.SMS()
	assert.ErrorContains(t, err, "sms configuration is required")
}

func TestRedacted(t *testing.T) {
	ch := Channel{ID: "email-1", Type: TypeEmail, Config: map[string]any{
		"smtp": map[string]any{"host": "h", "pass": "hunter2"},
	}}

	red := ch.Redacted()
	assert.Equal(t, "********", red.Config["smtp"].(map[string]any)["pass"])
	assert.Equal(t, "h", red.Config["smtp"].(map[string]any)["host"])
	assert.Equal(t, "hunter2", ch.Config["smtp"].(map[string]any)["pass"], "original untouched")
}
