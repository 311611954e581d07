package config

import (
	"time"

	"github.com/mattjoyce/courier/internal/auth"
	"github.com/mattjoyce/courier/internal/channel"
	"github.com/mattjoyce/courier/internal/templates"
)

// Ledger backends.
const (
	BackendMemory = "memory"
	BackendSQLite = "sqlite"
	BackendRedis  = "redis"
)

// Config represents the complete courier configuration.
type Config struct {
	Service    ServiceConfig        `yaml:"service"`
	Render     RenderConfig         `yaml:"render"`
	Bulk       BulkConfig           `yaml:"bulk"`
	Transports TransportsConfig     `yaml:"transports"`
	Ledger     LedgerConfig         `yaml:"ledger"`
	API        APIConfig            `yaml:"api,omitempty"`
	Channels   []channel.Channel    `yaml:"channels,omitempty"`
	Templates  []templates.Template `yaml:"templates,omitempty"`

	// TemplateFiles are doublestar globs, relative to the file declaring them.
	TemplateFiles []string `yaml:"template_files,omitempty"`
	Include       []string `yaml:"include,omitempty"`

	// SourceFiles lists every file that contributed to this config, root first.
	SourceFiles []string `yaml:"-"`
}

// ServiceConfig defines core service settings.
type ServiceConfig struct {
	Name      string `yaml:"name"`
	LogLevel  string `yaml:"log_level"`
	LogFormat string `yaml:"log_format"`
	// DryRun swaps every transport for the in-memory recorder.
	DryRun bool `yaml:"dry_run"`
}

// RenderConfig controls template substitution.
type RenderConfig struct {
	// Strict rejects renders that leave declared variables unbound.
	Strict bool `yaml:"strict"`
}

// BulkConfig bounds bulk fan-out. Zero takes the default, a negative value
// removes the limit.
type BulkConfig struct {
	MaxConcurrency int `yaml:"max_concurrency"`
}

// TransportsConfig holds settings shared by every transport.
type TransportsConfig struct {
	Timeout time.Duration `yaml:"timeout"`
}

// LedgerConfig selects the delivery ledger backend.
type LedgerConfig struct {
	Backend string      `yaml:"backend"`
	Path    string      `yaml:"path"`
	Redis   RedisConfig `yaml:"redis"`
}

// RedisConfig defines the redis ledger connection.
type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
	Prefix   string `yaml:"prefix"`
}

// APIConfig defines HTTP API server settings.
type APIConfig struct {
	Enabled bool          `yaml:"enabled"`
	Listen  string        `yaml:"listen"`
	MaxBulk int           `yaml:"max_bulk"`
	Auth    APIAuthConfig `yaml:"auth"`

	// CORSOrigins lists browser origins allowed to call the API.
	CORSOrigins []string `yaml:"cors_origins,omitempty"`
}

// APIAuthConfig defines API authentication settings.
type APIAuthConfig struct {
	// APIKey is the admin bearer token (full access).
	APIKey string             `yaml:"api_key"`
	Tokens []auth.TokenConfig `yaml:"tokens,omitempty"`
}

// Defaults returns a Config with the values used when a file leaves them out.
func Defaults() *Config {
	return &Config{
		Service: ServiceConfig{
			Name:      "courier",
			LogLevel:  "info",
			LogFormat: "json",
		},
		Bulk:       BulkConfig{MaxConcurrency: 16},
		Transports: TransportsConfig{Timeout: 10 * time.Second},
		Ledger: LedgerConfig{
			Backend: BackendMemory,
			Path:    "./data/ledger.db",
			Redis:   RedisConfig{Addr: "localhost:6379", Prefix: "courier"},
		},
		API: APIConfig{
			Enabled: false,
			Listen:  "127.0.0.1:8080",
			MaxBulk: 1000,
		},
	}
}
