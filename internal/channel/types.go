package channel

import (
	"errors"
	"fmt"
	"sort"
)

// Type identifies the transport family a channel delivers through.
type Type string

const (
	TypeEmail   Type = "email"
	TypeSMS     Type = "sms"
	TypeWebhook Type = "webhook"
	TypePush    Type = "push"
)

// Types returns every supported channel type in a stable order.
func Types() []Type {
	out := make([]Type, 0, len(schemas))
	for t := range schemas {
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Known reports whether t is a supported channel type.
func (t Type) Known() bool {
	_, ok := schemas[t]
	return ok
}

var ErrChannelExists = errors.New("channel already exists")

// Channel is a configured delivery endpoint. Config holds the type-specific
// block (e.g. "smtp" for email) exactly as it was loaded.
type Channel struct {
	ID      string         `json:"id" yaml:"id"`
	Type    Type           `json:"type" yaml:"type"`
	Name    string         `json:"name" yaml:"name"`
	Config  map[string]any `json:"config" yaml:"config"`
	Enabled bool           `json:"enabled" yaml:"enabled"`
}

// Clone returns a deep copy so callers never share config maps with the registry.
func (c Channel) Clone() Channel {
	out := c
	if c.Config != nil {
		out.Config = cloneMap(c.Config)
	}
	return out
}

func (c Channel) String() string {
	return fmt.Sprintf("%s (%s)", c.ID, c.Type)
}

func cloneMap(in map[string]any) map[string]any {
	out := make(map[string]any, len(in))
	for k, v := range in {
		out[k] = cloneValue(v)
	}
	return out
}

func cloneValue(v any) any {
	switch t := v.(type) {
	case map[string]any:
		return cloneMap(t)
	case map[any]any:
		m := make(map[any]any, len(t))
		for k, vv := range t {
			m[k] = cloneValue(vv)
		}
		return m
	case []any:
		s := make([]any, len(t))
		for i, vv := range t {
			s[i] = cloneValue(vv)
		}
		return s
	case []string:
		return append([]string(nil), t...)
	default:
		return v
	}
}
