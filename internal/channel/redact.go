package channel

import "strings"

const redacted = "********"

var secretKeys = map[string]struct{}{
	"pass":       {},
	"password":   {},
	"token":      {},
	"auth_token": {},
	"api_key":    {},
	"secret":     {},
}

// Redacted returns a copy of ch with credential values masked, for listing
// channels over the API or on a terminal.
func (c Channel) Redacted() Channel {
	out := c.Clone()
	if out.Config != nil {
		redactMap(out.Config)
	}
	return out
}

func redactMap(m map[string]any) {
	for k, v := range m {
		if _, secret := secretKeys[strings.ToLower(k)]; secret {
			if s, ok := v.(string); ok && s == "" {
				continue
			}
			m[k] = redacted
			continue
		}
		if nested, ok := v.(map[string]any); ok {
			redactMap(nested)
		}
	}
}
