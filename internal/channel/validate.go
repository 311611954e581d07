package channel

import (
	"fmt"
	"math"
	"net/url"
	"strconv"
	"strings"
)

type fieldKind int

const (
	kindString fieldKind = iota
	kindPort
	kindURL
)

type field struct {
	key  string
	kind fieldKind
}

// schema is the configuration shape a channel type declares: one named block
// plus the keys that must be present and non-empty inside it.
type schema struct {
	block    string
	required []field
}

var schemas = map[Type]schema{
	TypeEmail: {
		block: "smtp",
		required: []field{
			{key: "host", kind: kindString},
			{key: "port", kind: kindPort},
			{key: "user", kind: kindString},
			{key: "pass", kind: kindString},
		},
	},
	TypeSMS: {
		block: "sms",
		required: []field{
			{key: "account_id", kind: kindString},
			{key: "token", kind: kindString},
			{key: "from", kind: kindString},
		},
	},
	TypeWebhook: {
		block: "webhook",
		required: []field{
			{key: "url", kind: kindURL},
		},
	},
	TypePush: {
		block: "push",
		required: []field{
			{key: "endpoint", kind: kindURL},
			{key: "api_key", kind: kindString},
		},
	},
}

// ValidationResult lists every problem found in a channel's configuration.
type ValidationResult struct {
	Valid  bool     `json:"valid"`
	Errors []string `json:"errors"`
}

// Validate checks ch.Config against the schema its type declares. A missing
// or empty block is reported once; otherwise each missing or malformed key
// gets its own error.
func Validate(ch Channel) ValidationResult {
	sc, ok := schemas[ch.Type]
	if !ok {
		return ValidationResult{Errors: []string{fmt.Sprintf("unsupported channel type %q", ch.Type)}}
	}

	raw, present := ch.Config[sc.block]
	block, isMap := asMap(raw)
	switch {
	case !present || raw == nil || (isMap && len(block) == 0):
		return ValidationResult{Errors: []string{fmt.Sprintf("%s configuration is required", sc.block)}}
	case !isMap:
		return ValidationResult{Errors: []string{fmt.Sprintf("%s configuration must be an object", sc.block)}}
	}

	errs := make([]string, 0)
	for _, f := range sc.required {
		path := sc.block + "." + f.key
		v, ok := block[f.key]
		if !ok || isEmpty(v) {
			errs = append(errs, path+" is required")
			continue
		}
		if msg := checkKind(f.kind, v); msg != "" {
			errs = append(errs, path+" "+msg)
		}
	}
	return ValidationResult{Valid: len(errs) == 0, Errors: errs}
}

func isEmpty(v any) bool {
	switch t := v.(type) {
	case nil:
		return true
	case string:
		return strings.TrimSpace(t) == ""
	case map[string]any:
		return len(t) == 0
	case []any:
		return len(t) == 0
	default:
		return false
	}
}

func checkKind(kind fieldKind, v any) string {
	switch kind {
	case kindPort:
		n, ok := toInt(v)
		if !ok || n < 1 || n > 65535 {
			return "must be a port number between 1 and 65535"
		}
	case kindURL:
		s, ok := v.(string)
		if !ok {
			return "must be a string"
		}
		u, err := url.Parse(s)
		if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
			return "must be an absolute http or https URL"
		}
	default:
		if _, ok := v.(string); !ok {
			return "must be a string"
		}
	}
	return ""
}

func toInt(v any) (int, bool) {
	switch n := v.(type) {
	case int:
		return n, true
	case int64:
		return int(n), true
	case uint64:
		return int(n), true
	case float64:
		if n != math.Trunc(n) {
			return 0, false
		}
		return int(n), true
	case string:
		i, err := strconv.Atoi(strings.TrimSpace(n))
		return i, err == nil
	default:
		return 0, false
	}
}
