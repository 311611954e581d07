package channel

import (
	"fmt"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// Port accepts both numeric and quoted-string ports from config files and JSON.
type Port int

func (p *Port) UnmarshalYAML(value *yaml.Node) error {
	n, err := strconv.Atoi(strings.TrimSpace(value.Value))
	if err != nil {
		return fmt.Errorf("invalid port %q", value.Value)
	}
	*p = Port(n)
	return nil
}

// EmailSettings is the decoded "smtp" block of an email channel.
type EmailSettings struct {
	Host string `yaml:"host"`
	Port Port   `yaml:"port"`
	User string `yaml:"user"`
	Pass string `yaml:"pass"`
	// From defaults to User when empty.
	From string `yaml:"from"`
}

// Sender returns the envelope sender address.
func (s EmailSettings) Sender() string {
	if s.From != "" {
		return s.From
	}
	return s.User
}

// Addr returns host:port for dialing.
func (s EmailSettings) Addr() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

// SMSSettings is the decoded "sms" block of an SMS channel.
type SMSSettings struct {
	AccountID string `yaml:"account_id"`
	Token     string `yaml:"token"`
	From      string `yaml:"from"`
	BaseURL   string `yaml:"base_url"`
}

// WebhookSettings is the decoded "webhook" block of a webhook channel.
type WebhookSettings struct {
	URL             string            `yaml:"url"`
	Method          string            `yaml:"method"`
	Secret          string            `yaml:"secret"`
	SignatureHeader string            `yaml:"signature_header"`
	Headers         map[string]string `yaml:"headers"`
}

// PushSettings is the decoded "push" block of a push channel.
type PushSettings struct {
	Endpoint string `yaml:"endpoint"`
	APIKey   string `yaml:"api_key"`
	Priority string `yaml:"priority"`
}

// Email decodes the channel's smtp block.
func (c Channel) Email() (EmailSettings, error) {
	var s EmailSettings
	err := c.decode(TypeEmail, &s)
	return s, err
}

// SMS decodes the channel's sms block.
func (c Channel) SMS() (SMSSettings, error) {
	var s SMSSettings
	err := c.decode(TypeSMS, &s)
	return s, err
}

// Webhook decodes the channel's webhook block.
func (c Channel) Webhook() (WebhookSettings, error) {
	var s WebhookSettings
	err := c.decode(TypeWebhook, &s)
	return s, err
}

// Push decodes the channel's push block.
func (c Channel) Push() (PushSettings, error) {
	var s PushSettings
	err := c.decode(TypePush, &s)
	return s, err
}

// decode round-trips the type's config block through YAML into out so that
// maps loaded from YAML files and from JSON request bodies decode the same way.
func (c Channel) decode(want Type, out any) error {
	if c.Type != want {
		return fmt.Errorf("channel %q is %s, not %s", c.ID, c.Type, want)
	}
	sc := schemas[want]
	block, ok := asMap(c.Config[sc.block])
	if !ok {
		return fmt.Errorf("channel %q: %s configuration is required", c.ID, sc.block)
	}
	raw, err := yaml.Marshal(block)
	if err != nil {
		return fmt.Errorf("channel %q: encode %s block: %w", c.ID, sc.block, err)
	}
	if err := yaml.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("channel %q: decode %s block: %w", c.ID, sc.block, err)
	}
	return nil
}

func asMap(v any) (map[string]any, bool) {
	switch m := v.(type) {
	case map[string]any:
		return m, true
	case map[any]any:
		out := make(map[string]any, len(m))
		for k, vv := range m {
			out[fmt.Sprint(k)] = vv
		}
		return out, true
	default:
		return nil, false
	}
}
