// Package doctor validates a loaded courier configuration beyond what the
// loader enforces: channel schemas, template variable hygiene, token scopes,
// ledger settings and leftover ${VAR} references.
package doctor

import (
	"encoding/json"
	"fmt"
	"net/url"
	"strings"

	"github.com/mattjoyce/courier/internal/auth"
	"github.com/mattjoyce/courier/internal/channel"
	"github.com/mattjoyce/courier/internal/config"
	"github.com/mattjoyce/courier/internal/templates"
)

// Result holds the outcome of a validation run.
type Result struct {
	Valid    bool    `json:"valid"`
	Errors   []Issue `json:"errors,omitempty"`
	Warnings []Issue `json:"warnings,omitempty"`
}

// Issue describes a single validation error or warning.
type Issue struct {
	Category string `json:"category"`
	Message  string `json:"message"`
	Field    string `json:"field,omitempty"`
}

// Doctor validates a loaded configuration.
type Doctor struct {
	cfg *config.Config
}

// New creates a Doctor from a loaded config.
func New(cfg *config.Config) *Doctor {
	return &Doctor{cfg: cfg}
}

// Validate runs all checks and returns a result.
func (d *Doctor) Validate() *Result {
	r := &Result{Valid: true}

	d.validateChannels(r)
	d.validateTemplates(r)
	d.validateAPIConfig(r)
	d.validateTokenScopes(r)
	d.validateLedger(r)
	d.warnMissingEnvVars(r)
	d.warnDeprecatedSyntax(r)

	r.Valid = len(r.Errors) == 0
	return r
}

func (d *Doctor) addError(r *Result, category, field, msg string) {
	r.Errors = append(r.Errors, Issue{Category: category, Field: field, Message: msg})
}

func (d *Doctor) addWarning(r *Result, category, field, msg string) {
	r.Warnings = append(r.Warnings, Issue{Category: category, Field: field, Message: msg})
}

// validateChannels reports schema problems. A broken enabled channel will
// fail every send and is an error; a broken disabled one is only a warning.
func (d *Doctor) validateChannels(r *Result) {
	seen := make(map[string]int)
	for i, ch := range d.cfg.Channels {
		field := fmt.Sprintf("channels[%d]", i)

		if ch.ID == "" {
			d.addError(r, "channels", field+".id", "channel id is required")
			continue
		}
		if prev, dup := seen[ch.ID]; dup {
			d.addError(r, "channels", field+".id",
				fmt.Sprintf("channel id %q duplicates channels[%d]", ch.ID, prev))
		}
		seen[ch.ID] = i

		res := channel.Validate(ch)
		if res.Valid {
			continue
		}
		for _, msg := range res.Errors {
			if ch.Enabled {
				d.addError(r, "channels", field, fmt.Sprintf("%s: %s", ch.ID, msg))
			} else {
				d.addWarning(r, "channels", field, fmt.Sprintf("%s (disabled): %s", ch.ID, msg))
			}
		}
	}

	if len(d.cfg.Channels) == 0 {
		d.addWarning(r, "channels", "channels", "no channels configured")
	}
}

// validateTemplates warns about markers without a declaration and
// declarations never used. Neither breaks lenient rendering.
func (d *Doctor) validateTemplates(r *Result) {
	seen := make(map[string]int)
	for i, t := range d.cfg.Templates {
		field := fmt.Sprintf("templates[%d]", i)

		if t.ID == "" {
			d.addError(r, "templates", field+".id", "template id is required")
			continue
		}
		if prev, dup := seen[t.ID]; dup {
			d.addWarning(r, "templates", field+".id",
				fmt.Sprintf("template %q replaces templates[%d]", t.ID, prev))
		}
		seen[t.ID] = i

		if strings.TrimSpace(t.Content) == "" {
			d.addWarning(r, "templates", field+".content",
				fmt.Sprintf("template %q has empty content", t.ID))
		}

		undeclared, unused := templates.Lint(t)
		for _, name := range undeclared {
			d.addWarning(r, "templates", field+".variables",
				fmt.Sprintf("template %q uses %s but does not declare it", t.ID, templates.Marker(name)))
		}
		for _, name := range unused {
			d.addWarning(r, "templates", field+".variables",
				fmt.Sprintf("template %q declares %q but never uses it", t.ID, name))
		}
	}
}

// validateAPIConfig checks API server settings.
func (d *Doctor) validateAPIConfig(r *Result) {
	if !d.cfg.API.Enabled {
		return
	}
	if d.cfg.API.Listen == "" {
		d.addError(r, "api", "api.listen", "api.listen is required when API is enabled")
	}
	if d.cfg.API.Auth.APIKey == "" && len(d.cfg.API.Auth.Tokens) == 0 {
		d.addError(r, "api", "api.auth", "API enabled but no api_key or tokens configured; every request would be rejected")
	}
	if d.cfg.API.MaxBulk < 0 {
		d.addError(r, "api", "api.max_bulk", "api.max_bulk must not be negative")
	}

	for i, origin := range d.cfg.API.CORSOrigins {
		field := fmt.Sprintf("api.cors_origins[%d]", i)
		if origin == "*" {
			d.addWarning(r, "api", field, "any website can call the API from a browser")
			continue
		}
		u, err := url.Parse(origin)
		if err != nil || u.Scheme == "" || u.Host == "" || (u.Path != "" && u.Path != "/") {
			d.addError(r, "api", field, fmt.Sprintf("invalid origin %q (want scheme://host[:port])", origin))
		}
	}
}

func (d *Doctor) validateTokenScopes(r *Result) {
	seen := make(map[string]int)
	for i, token := range d.cfg.API.Auth.Tokens {
		if prev, dup := seen[token.Token]; dup && token.Token != "" {
			d.addError(r, "token_scopes", fmt.Sprintf("api.auth.tokens[%d].token", i),
				fmt.Sprintf("token duplicates api.auth.tokens[%d]", prev))
		}
		seen[token.Token] = i

		for j, scope := range token.Scopes {
			field := fmt.Sprintf("api.auth.tokens[%d].scopes[%d]", i, j)
			scope = strings.TrimSpace(scope)
			if !auth.IsKnownScope(scope) {
				d.addError(r, "token_scopes", field,
					fmt.Sprintf("unknown scope %q (known: %s)", scope, strings.Join(auth.Known, ", ")))
			}
		}
	}
}

func (d *Doctor) validateLedger(r *Result) {
	l := d.cfg.Ledger
	switch l.Backend {
	case config.BackendMemory:
		if d.cfg.API.Enabled {
			d.addWarning(r, "ledger", "ledger.backend",
				"memory ledger loses delivery history and statistics on restart")
		}
	case config.BackendSQLite:
		if l.Path == "" {
			d.addError(r, "ledger", "ledger.path", "ledger.path is required for the sqlite backend")
		}
	case config.BackendRedis:
		if l.Redis.Addr == "" {
			d.addError(r, "ledger", "ledger.redis.addr", "ledger.redis.addr is required for the redis backend")
		}
		if l.Redis.DB < 0 {
			d.addError(r, "ledger", "ledger.redis.db", "ledger.redis.db must not be negative")
		}
	default:
		d.addError(r, "ledger", "ledger.backend", fmt.Sprintf("unknown ledger backend %q", l.Backend))
	}
}

// warnMissingEnvVars warns about ${VAR} references the environment did not
// resolve. Enabled channels are already rejected by the loader.
func (d *Doctor) warnMissingEnvVars(r *Result) {
	for i, ch := range d.cfg.Channels {
		walkStrings(ch.Config, fmt.Sprintf("channels[%d].config", i), func(field, value string) {
			for _, name := range config.UnresolvedEnvVars(value) {
				d.addWarning(r, "env_vars", field, fmt.Sprintf("environment variable ${%s} not set", name))
			}
		})
	}

	for i, token := range d.cfg.API.Auth.Tokens {
		if token.Token == "" {
			d.addWarning(r, "env_vars", fmt.Sprintf("api.auth.tokens[%d].token", i),
				"token value is empty (possibly unresolved environment variable)")
		}
	}
}

func (d *Doctor) warnDeprecatedSyntax(r *Result) {
	if d.cfg.API.Auth.APIKey != "" && len(d.cfg.API.Auth.Tokens) == 0 {
		d.addWarning(r, "auth", "api.auth.api_key",
			"api_key grants full access; prefer tokens with scopes")
	}
}

func walkStrings(m map[string]any, path string, fn func(field, value string)) {
	for k, v := range m {
		field := path + "." + k
		switch t := v.(type) {
		case string:
			fn(field, t)
		case map[string]any:
			walkStrings(t, field, fn)
		}
	}
}

// FormatHuman returns a human-readable validation report.
func FormatHuman(r *Result) string {
	var b strings.Builder

	if r.Valid && len(r.Warnings) == 0 {
		b.WriteString("Configuration valid.\n")
		return b.String()
	}

	if r.Valid && len(r.Warnings) > 0 {
		b.WriteString("Configuration valid")
		fmt.Fprintf(&b, " (%d warning(s))\n", len(r.Warnings))
	}

	if !r.Valid {
		fmt.Fprintf(&b, "Configuration invalid (%d error(s), %d warning(s))\n", len(r.Errors), len(r.Warnings))
	}

	for _, e := range r.Errors {
		if e.Field != "" {
			fmt.Fprintf(&b, "  ERROR [%s] %s: %s\n", e.Category, e.Field, e.Message)
		} else {
			fmt.Fprintf(&b, "  ERROR [%s] %s\n", e.Category, e.Message)
		}
	}
	for _, w := range r.Warnings {
		if w.Field != "" {
			fmt.Fprintf(&b, "  WARN  [%s] %s: %s\n", w.Category, w.Field, w.Message)
		} else {
			fmt.Fprintf(&b, "  WARN  [%s] %s\n", w.Category, w.Message)
		}
	}

	return b.String()
}

// FormatJSON returns the result as indented JSON.
func FormatJSON(r *Result) (string, error) {
	data, err := json.MarshalIndent(r, "", "  ")
	if err != nil {
		return "", err
	}
	return string(data), nil
}
