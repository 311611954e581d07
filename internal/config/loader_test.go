package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mattjoyce/courier/internal/channel"
)

func writeTestFile(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
}

func TestLoadAppliesDefaults(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	writeTestFile(t, path, "service:\n  name: test\n")

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "test", cfg.Service.Name)
	assert.Equal(t, "info", cfg.Service.LogLevel)
	assert.Equal(t, "json", cfg.Service.LogFormat)
	assert.Equal(t, 16, cfg.Bulk.MaxConcurrency)
	assert.Equal(t, 10*time.Second, cfg.Transports.Timeout)
	assert.Equal(t, BackendMemory, cfg.Ledger.Backend)
	assert.Equal(t, "127.0.0.1:8080", cfg.API.Listen)
	assert.Equal(t, 1000, cfg.API.MaxBulk)
	assert.Equal(t, []string{path}, cfg.SourceFiles)
}

func TestLoadFullConfig(t *testing.T) {
	dir := t.TempDir()
	writeTestFile(t, filepath.Join(dir, "config.yaml"), `
service:
  log_level: debug
  log_format: text
  dry_run: true
render:
  strict: true
bulk:
  max_concurrency: -1
transports:
  timeout: 3s
ledger:
  backend: sqlite
  path: ./ledger.db
api:
  enabled: true
  listen: 0.0.0.0:9000
  auth:
    api_key: admin
    tokens:
      - token: sender
        scopes: [notify:rw]
channels:
  - id: ops-email
    type: email
    name: Ops
    enabled: true
    config:
      smtp:
        host: smtp.example.com
        port: 587
        user: ops
        pass: secret
templates:
  - id: welcome
    name: Welcome
    subject: Hi {{name}}
    content: Welcome, {{name}}
    variables: [name]
`)

	// Directory argument resolves to config.yaml.
	cfg, err := Load(dir)
	require.NoError(t, err)

	assert.Equal(t, "debug", cfg.Service.LogLevel)
	assert.True(t, cfg.Service.DryRun)
	assert.True(t, cfg.Render.Strict)
	assert.Equal(t, -1, cfg.Bulk.MaxConcurrency)
	assert.Equal(t, 3*time.Second, cfg.Transports.Timeout)
	assert.Equal(t, BackendSQLite, cfg.Ledger.Backend)
	assert.Equal(t, "0.0.0.0:9000", cfg.API.Listen)
	require.Len(t, cfg.API.Auth.Tokens, 1)
	assert.Equal(t, []string{"notify:rw"}, cfg.API.Auth.Tokens[0].Scopes)

	require.Len(t, cfg.Channels, 1)
	ch := cfg.Channels[0]
	assert.Equal(t, channel.TypeEmail, ch.Type)
	settings, err := ch.Email()
	require.NoError(t, err)
	assert.Equal(t, "smtp.example.com", settings.Host)
	assert.Equal(t, channel.Port(587), settings.Port)

	require.Len(t, cfg.Templates, 1)
	assert.Equal(t, []string{"name"}, cfg.Templates[0].Variables)
}

func TestLoadEnvInterpolation(t *testing.T) {
	t.Setenv("COURIER_TEST_KEY", "from-env")
	t.Setenv("COURIER_TEST_PASS", "hunter2")

	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	writeTestFile(t, path, `
api:
  enabled: true
  auth:
    api_key: ${COURIER_TEST_KEY}
channels:
  - id: ops
    type: email
    enabled: true
    config:
      smtp:
        host: smtp.example.com
        port: 25
        user: ops
        pass: ${COURIER_TEST_PASS}
`)

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "from-env", cfg.API.Auth.APIKey)
	settings, err := cfg.Channels[0].Email()
	require.NoError(t, err)
	assert.Equal(t, "hunter2", settings.Pass)
}

func TestLoadUnresolvedEnvVars(t *testing.T) {
	tests := []struct {
		name    string
		yaml    string
		wantErr string
	}{
		{
			name:    "api key",
			yaml:    "api:\n  enabled: true\n  auth:\n    api_key: ${COURIER_UNSET_KEY}\n",
			wantErr: "${COURIER_UNSET_KEY} is not set",
		},
		{
			name: "enabled channel secret",
			yaml: `
channels:
  - id: hook
    type: webhook
    enabled: true
    config:
      webhook:
        url: https://example.com/hook
        secret: ${COURIER_UNSET_SECRET}
`,
			wantErr: "channels[0] (hook).config.webhook.secret",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "config.yaml")
			writeTestFile(t, path, tt.yaml)
			_, err := Load(path)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestLoadDisabledChannelMayKeepPlaceholders(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	writeTestFile(t, path, `
channels:
  - id: hook
    type: webhook
    enabled: false
    config:
      webhook:
        url: https://example.com/hook
        secret: ${COURIER_UNSET_SECRET}
`)
	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Len(t, cfg.Channels, 1)
}

func TestLoadValidation(t *testing.T) {
	tests := []struct {
		name    string
		yaml    string
		wantErr string
	}{
		{name: "log level", yaml: "service:\n  log_level: loud\n", wantErr: "service.log_level"},
		{name: "log format", yaml: "service:\n  log_format: xml\n", wantErr: "service.log_format"},
		{name: "negative timeout", yaml: "transports:\n  timeout: -1s\n", wantErr: "transports.timeout"},
		{name: "backend", yaml: "ledger:\n  backend: mongo\n", wantErr: "ledger.backend"},
		{name: "token without scopes", yaml: "api:\n  enabled: true\n  auth:\n    tokens:\n      - token: abc\n", wantErr: "api.auth.tokens[0].scopes"},
		{name: "empty token", yaml: "api:\n  enabled: true\n  auth:\n    tokens:\n      - scopes: [notify:ro]\n", wantErr: "api.auth.tokens[0].token"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "config.yaml")
			writeTestFile(t, path, tt.yaml)
			_, err := Load(path)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "config file not found")
}

func TestLoadIncludesMerge(t *testing.T) {
	dir := t.TempDir()
	root := filepath.Join(dir, "config.yaml")
	writeTestFile(t, root, `
service:
  name: base
include:
  - channels.yaml
  - conf.d/override.yaml
channels:
  - id: a
    type: webhook
    enabled: true
    config:
      webhook:
        url: https://a.example.com
`)
	writeTestFile(t, filepath.Join(dir, "channels.yaml"), `
channels:
  - id: b
    type: webhook
    enabled: true
    config:
      webhook:
        url: https://b.example.com
`)
	writeTestFile(t, filepath.Join(dir, "conf.d", "override.yaml"), `
service:
  name: overridden
ledger:
  backend: sqlite
  path: /tmp/courier-test.db
`)

	cfg, err := Load(root)
	require.NoError(t, err)

	assert.Equal(t, "overridden", cfg.Service.Name)
	assert.Equal(t, BackendSQLite, cfg.Ledger.Backend)
	require.Len(t, cfg.Channels, 2)
	assert.Equal(t, "a", cfg.Channels[0].ID)
	assert.Equal(t, "b", cfg.Channels[1].ID)
	assert.Equal(t, []string{
		root,
		filepath.Join(dir, "channels.yaml"),
		filepath.Join(dir, "conf.d", "override.yaml"),
	}, cfg.SourceFiles)
}

func TestLoadIncludeCycle(t *testing.T) {
	dir := t.TempDir()
	writeTestFile(t, filepath.Join(dir, "config.yaml"), "include: [a.yaml]\n")
	writeTestFile(t, filepath.Join(dir, "a.yaml"), "include: [config.yaml]\n")

	_, err := Load(dir)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "circular dependency")
}

func TestLoadIncludeMissing(t *testing.T) {
	dir := t.TempDir()
	writeTestFile(t, filepath.Join(dir, "config.yaml"), "include: [gone.yaml]\n")

	_, err := Load(dir)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "include[0]: file not found")
}

func TestLoadTemplateFiles(t *testing.T) {
	dir := t.TempDir()
	writeTestFile(t, filepath.Join(dir, "config.yaml"), `
template_files:
  - templates/**/*.yaml
templates:
  - id: inline
    content: inline
`)
	writeTestFile(t, filepath.Join(dir, "templates", "welcome.yaml"), `
id: welcome
subject: Hi {{name}}
content: Welcome {{name}}, your code is ${CODE}
variables: [name]
`)
	writeTestFile(t, filepath.Join(dir, "templates", "ops", "alerts.yaml"), `
templates:
  - id: disk
    content: Disk {{pct}}%
    variables: [pct]
  - id: cpu
    content: CPU {{pct}}%
    variables: [pct]
`)
	writeTestFile(t, filepath.Join(dir, "templates", "README.md"), "not a template\n")

	cfg, err := Load(dir)
	require.NoError(t, err)

	ids := make([]string, 0, len(cfg.Templates))
	for _, tpl := range cfg.Templates {
		ids = append(ids, tpl.ID)
	}
	// Matches are loaded in lexical path order.
	assert.Equal(t, []string{"inline", "disk", "cpu", "welcome"}, ids)
	assert.Equal(t, "Welcome {{name}}, your code is ${CODE}", cfg.Templates[3].Content)
	assert.Len(t, cfg.SourceFiles, 3)
}

func TestLoadTemplateFileWithoutID(t *testing.T) {
	dir := t.TempDir()
	writeTestFile(t, filepath.Join(dir, "config.yaml"), "template_files: [\"t/*.yaml\"]\n")
	writeTestFile(t, filepath.Join(dir, "t", "bad.yaml"), "content: no id here\n")

	_, err := Load(dir)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "template id is required")
}

func TestInterpolateEnvLeavesUnknown(t *testing.T) {
	t.Setenv("COURIER_KNOWN", "yes")
	assert.Equal(t, "yes ${COURIER_UNKNOWN_VAR}", interpolateEnv("${COURIER_KNOWN} ${COURIER_UNKNOWN_VAR}"))
}

func TestUnresolvedEnvVars(t *testing.T) {
	assert.Equal(t, []string{"A", "B_2"}, UnresolvedEnvVars("x ${A} y ${B_2}"))
	assert.Empty(t, UnresolvedEnvVars("plain"))
}
