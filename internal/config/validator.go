package config

import (
	"fmt"
	"slices"
)

var (
	validLogLevels  = []string{"debug", "info", "warn", "error"}
	validLogFormats = []string{"json", "text"}
	validBackends   = []string{BackendMemory, BackendSQLite, BackendRedis}
)

// validate performs structural validation. Channel and template hygiene is
// left to the doctor so `config check` can report every problem at once.
func validate(cfg *Config) error {
	if !slices.Contains(validLogLevels, cfg.Service.LogLevel) {
		return fmt.Errorf("service.log_level must be one of: debug, info, warn, error (got %q)", cfg.Service.LogLevel)
	}
	if !slices.Contains(validLogFormats, cfg.Service.LogFormat) {
		return fmt.Errorf("service.log_format must be json or text (got %q)", cfg.Service.LogFormat)
	}

	if cfg.Transports.Timeout <= 0 {
		return fmt.Errorf("transports.timeout must be positive")
	}

	switch cfg.Ledger.Backend {
	case BackendSQLite:
		if cfg.Ledger.Path == "" {
			return fmt.Errorf("ledger.path is required for the sqlite backend")
		}
	case BackendRedis:
		if cfg.Ledger.Redis.Addr == "" {
			return fmt.Errorf("ledger.redis.addr is required for the redis backend")
		}
		if err := unresolved("ledger.redis.password", cfg.Ledger.Redis.Password); err != nil {
			return err
		}
	case BackendMemory:
	default:
		return fmt.Errorf("ledger.backend must be one of %v (got %q)", validBackends, cfg.Ledger.Backend)
	}

	if cfg.API.Enabled {
		if cfg.API.Listen == "" {
			return fmt.Errorf("api.listen is required when the API is enabled")
		}
		if err := unresolved("api.auth.api_key", cfg.API.Auth.APIKey); err != nil {
			return err
		}
		for i, tok := range cfg.API.Auth.Tokens {
			field := fmt.Sprintf("api.auth.tokens[%d]", i)
			if tok.Token == "" {
				return fmt.Errorf("%s.token is required", field)
			}
			if err := unresolved(field+".token", tok.Token); err != nil {
				return err
			}
			if len(tok.Scopes) == 0 {
				return fmt.Errorf("%s.scopes must be non-empty", field)
			}
		}
	}

	// Secrets of enabled channels must not reach a transport as ${VAR}.
	for i, ch := range cfg.Channels {
		if !ch.Enabled || ch.Config == nil {
			continue
		}
		if err := checkUnresolvedEnvVars(ch.Config, fmt.Sprintf("channels[%d] (%s).config", i, ch.ID)); err != nil {
			return err
		}
	}

	return nil
}

func unresolved(field, value string) error {
	if m := envVarPattern.FindStringSubmatch(value); len(m) > 1 {
		return fmt.Errorf("%s: environment variable ${%s} is not set", field, m[1])
	}
	return nil
}

// checkUnresolvedEnvVars recursively checks for ${VAR} placeholders in config values.
func checkUnresolvedEnvVars(data map[string]any, path string) error {
	for key, value := range data {
		switch v := value.(type) {
		case string:
			if err := unresolved(path+"."+key, v); err != nil {
				return err
			}
		case map[string]any:
			if err := checkUnresolvedEnvVars(v, path+"."+key); err != nil {
				return err
			}
		}
	}
	return nil
}

// UnresolvedEnvVars returns the names of ${VAR} references left in s.
func UnresolvedEnvVars(s string) []string {
	var names []string
	for _, m := range envVarPattern.FindAllStringSubmatch(s, -1) {
		names = append(names, m[1])
	}
	return names
}
