package main

import (
	"encoding/json"
	"flag"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/mattjoyce/courier/internal/config"
	"github.com/mattjoyce/courier/internal/ledger"
	"github.com/mattjoyce/courier/internal/notify"
)

func captureOutputWithExitCode(t *testing.T, run func() int) (int, string, string) {
	t.Helper()

	oldStdout := os.Stdout
	oldStderr := os.Stderr

	stdoutR, stdoutW, err := os.Pipe()
	if err != nil {
		t.Fatalf("os.Pipe stdout failed: %v", err)
	}
	stderrR, stderrW, err := os.Pipe()
	if err != nil {
		t.Fatalf("os.Pipe stderr failed: %v", err)
	}

	os.Stdout = stdoutW
	os.Stderr = stderrW

	code := run()

	_ = stdoutW.Close()
	_ = stderrW.Close()
	os.Stdout = oldStdout
	os.Stderr = oldStderr

	stdoutBytes, _ := io.ReadAll(stdoutR)
	stderrBytes, _ := io.ReadAll(stderrR)

	_ = stdoutR.Close()
	_ = stderrR.Close()

	return code, string(stdoutBytes), string(stderrBytes)
}

func runCaptured(t *testing.T, args ...string) (int, string, string) {
	t.Helper()
	return captureOutputWithExitCode(t, func() int { return runCLI(args) })
}

func setVersionMetadataForTest(t *testing.T, v, commit, built string) {
	t.Helper()

	origVersion, origCommit, origBuildDate := version, gitCommit, buildDate
	version, gitCommit, buildDate = v, commit, built
	t.Cleanup(func() {
		version, gitCommit, buildDate = origVersion, origCommit, origBuildDate
	})
}

// writeConfig writes a dry-run configuration with a sqlite ledger into a
// fresh directory and returns the config file path.
func writeConfig(t *testing.T) string {
	t.Helper()

	dir := t.TempDir()
	body := `service:
  log_level: error
  dry_run: true
ledger:
  backend: sqlite
  path: ` + filepath.Join(dir, "data", "ledger.db") + `
channels:
  - id: ops
    type: webhook
    name: Ops hook
    enabled: true
    config:
      webhook:
        url: https://hooks.example.com/ops
        secret: s3cret
  - id: pager
    type: sms
    enabled: false
    config: {}
templates:
  - id: welcome
    subject: "Hi {{name}}"
    content: "Welcome aboard, {{name}}."
    variables: [name]
`
	path := filepath.Join(dir, "config.yaml")
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestRunVersionJSON(t *testing.T) {
	setVersionMetadataForTest(t, "1.2.3", "0123456789abcdef0123", "2026-03-04T05:06:07+02:00")

	code, stdout, _ := runCaptured(t, "version", "--json")
	if code != 0 {
		t.Fatalf("exit code = %d, want 0", code)
	}

	var info versionInfo
	if err := json.Unmarshal([]byte(stdout), &info); err != nil {
		t.Fatalf("unmarshal version JSON: %v\n%s", err, stdout)
	}
	if info.Version != "1.2.3" {
		t.Errorf("version = %q", info.Version)
	}
	if info.Commit != "0123456789ab" {
		t.Errorf("commit = %q, want shortened to 12 chars", info.Commit)
	}
	if info.BuildTime != "2026-03-04T03:06:07Z" {
		t.Errorf("build_time = %q, want UTC", info.BuildTime)
	}
}

func TestRunVersionRejectsArgs(t *testing.T) {
	code, _, stderr := runCaptured(t, "version", "extra")
	if code != 1 || !strings.Contains(stderr, "Usage: courier version") {
		t.Fatalf("code=%d stderr=%q", code, stderr)
	}
}

func TestRunCLIUsage(t *testing.T) {
	code, _, stderr := runCaptured(t)
	if code != 1 || !strings.Contains(stderr, "courier <noun> <action>") {
		t.Fatalf("no-args: code=%d stderr=%q", code, stderr)
	}

	code, stdout, _ := runCaptured(t, "help")
	if code != 0 || !strings.Contains(stdout, "channel test <id>") {
		t.Fatalf("help: code=%d stdout=%q", code, stdout)
	}

	code, _, stderr = runCaptured(t, "frobnicate")
	if code != 1 || !strings.Contains(stderr, "Unknown command: frobnicate") {
		t.Fatalf("unknown: code=%d stderr=%q", code, stderr)
	}

	code, _, stderr = runCaptured(t, "channel", "explode")
	if code != 1 || !strings.Contains(stderr, "Unknown channel action: explode") {
		t.Fatalf("unknown action: code=%d stderr=%q", code, stderr)
	}
}

func TestConfigLockAndCheck(t *testing.T) {
	path := writeConfig(t)
	dir := filepath.Dir(path)

	code, stdout, stderr := runCaptured(t, "config", "lock", "--config", path, "--dry-run")
	if code != 0 {
		t.Fatalf("dry-run lock: code=%d stderr=%s", code, stderr)
	}
	if !strings.Contains(stdout, "would be locked") {
		t.Errorf("dry-run output = %q", stdout)
	}
	if _, err := os.Stat(filepath.Join(dir, config.ChecksumFile)); !os.IsNotExist(err) {
		t.Fatalf("dry run wrote a manifest: %v", err)
	}

	code, stdout, stderr = runCaptured(t, "config", "lock", "--config", path, "-v")
	if code != 0 {
		t.Fatalf("lock: code=%d stderr=%s", code, stderr)
	}
	if !strings.Contains(stdout, "WROTE .checksums") || !strings.Contains(stdout, "config.yaml") {
		t.Errorf("verbose lock output = %q", stdout)
	}

	code, stdout, stderr = runCaptured(t, "config", "check", "--config", path, "--json")
	if code != 0 {
		t.Fatalf("check: code=%d stdout=%s stderr=%s", code, stdout, stderr)
	}
	var result struct {
		Valid bool `json:"valid"`
	}
	if err := json.Unmarshal([]byte(stdout), &result); err != nil {
		t.Fatalf("unmarshal check JSON: %v\n%s", err, stdout)
	}
	if !result.Valid {
		t.Fatalf("expected valid config, got %s", stdout)
	}

	// The disabled sms channel has no settings, which is only a warning.
	code, _, _ = runCaptured(t, "config", "check", "--config", path, "--strict")
	if code != 2 {
		t.Fatalf("strict check exit code = %d, want 2", code)
	}

	f, err := os.OpenFile(path, os.O_APPEND|os.O_WRONLY, 0)
	if err != nil {
		t.Fatalf("open config: %v", err)
	}
	_, _ = f.WriteString("\n# tampered\n")
	_ = f.Close()

	code, _, stderr = runCaptured(t, "config", "check", "--config", path)
	if code != 1 || !strings.Contains(stderr, "config verification failed") {
		t.Fatalf("tampered check: code=%d stderr=%q", code, stderr)
	}
}

func TestSendRecordsInLedger(t *testing.T) {
	path := writeConfig(t)

	code, stdout, stderr := runCaptured(t, "send",
		"--config", path,
		"--channel", "ops",
		"--to", "a@example.com,b@example.com",
		"--to", "c@example.com",
		"--template", "welcome",
		"--var", "name=Ada",
		"--json",
	)
	if code != 0 {
		t.Fatalf("send: code=%d stdout=%s stderr=%s", code, stdout, stderr)
	}

	var res notify.Result
	if err := json.Unmarshal([]byte(stdout), &res); err != nil {
		t.Fatalf("unmarshal result: %v\n%s", err, stdout)
	}
	if !res.Success || res.MessageID == "" || res.Channel != "ops" {
		t.Fatalf("unexpected result %+v", res)
	}

	code, stdout, stderr = runCaptured(t, "ledger", "status", res.MessageID, "--config", path, "--json")
	if code != 0 {
		t.Fatalf("ledger status: code=%d stderr=%s", code, stderr)
	}
	var st ledger.Status
	if err := json.Unmarshal([]byte(stdout), &st); err != nil {
		t.Fatalf("unmarshal status: %v\n%s", err, stdout)
	}
	if st.Recipients != 3 || st.Status != ledger.StateSent {
		t.Errorf("status = %+v", st)
	}

	code, stdout, _ = runCaptured(t, "ledger", "stats", "--config", path, "--json")
	if code != 0 {
		t.Fatalf("ledger stats: code=%d", code)
	}
	var stats ledger.Statistics
	if err := json.Unmarshal([]byte(stdout), &stats); err != nil {
		t.Fatalf("unmarshal stats: %v\n%s", err, stdout)
	}
	if stats.TotalSent != 1 || stats.Channels["ops"] != 1 {
		t.Errorf("stats = %+v", stats)
	}

	code, _, stderr = runCaptured(t, "ledger", "status", "no-such-id", "--config", path)
	if code != 1 || !strings.Contains(stderr, "Delivery not found") {
		t.Fatalf("missing status: code=%d stderr=%q", code, stderr)
	}
}

func TestSendFailures(t *testing.T) {
	path := writeConfig(t)

	tests := []struct {
		name string
		args []string
		want string
	}{
		{"unknown channel", []string{"--channel", "ghost", "--to", "x"}, "channel_not_found"},
		{"disabled channel", []string{"--channel", "pager", "--to", "x"}, "channel_disabled"},
		{"unknown template", []string{"--channel", "ops", "--to", "x", "--template", "nope"}, "template_not_found"},
		{"no recipients", []string{"--channel", "ops", "--content", "hi"}, "invalid_request"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			args := append([]string{"send", "--config", path}, tt.args...)
			code, stdout, _ := runCaptured(t, args...)
			if code != 1 {
				t.Fatalf("exit code = %d, want 1", code)
			}
			if !strings.Contains(stdout, tt.want) {
				t.Fatalf("stdout %q does not mention %q", stdout, tt.want)
			}
		})
	}

	code, _, stderr := runCaptured(t, "send", "--config", path, "--to", "x")
	if code != 1 || !strings.Contains(stderr, "--channel is required") {
		t.Fatalf("missing channel: code=%d stderr=%q", code, stderr)
	}
}

func TestChannelCommands(t *testing.T) {
	path := writeConfig(t)

	code, stdout, _ := runCaptured(t, "channel", "list", "--config", path)
	if code != 0 || !strings.Contains(stdout, "ops") || !strings.Contains(stdout, "pager") {
		t.Fatalf("list: code=%d stdout=%q", code, stdout)
	}

	code, stdout, _ = runCaptured(t, "channel", "list", "--config", path, "--json")
	if code != 0 {
		t.Fatalf("list --json: code=%d", code)
	}
	if strings.Contains(stdout, "s3cret") {
		t.Fatalf("channel list leaked a secret: %s", stdout)
	}

	code, stdout, _ = runCaptured(t, "channel", "validate", "ops", "--config", path)
	if code != 0 || !strings.Contains(stdout, "✓ ops") {
		t.Fatalf("validate ops: code=%d stdout=%q", code, stdout)
	}

	code, stdout, _ = runCaptured(t, "channel", "validate", "--config", path)
	if code != 1 || !strings.Contains(stdout, "✗ pager") {
		t.Fatalf("validate all: code=%d stdout=%q", code, stdout)
	}

	code, _, stderr := runCaptured(t, "channel", "validate", "ghost", "--config", path)
	if code != 1 || !strings.Contains(stderr, "Channel not found: ghost") {
		t.Fatalf("validate ghost: code=%d stderr=%q", code, stderr)
	}

	// Dry-run probes always succeed, disabled channels included.
	code, stdout, _ = runCaptured(t, "channel", "test", "pager", "--config", path)
	if code != 0 || !strings.Contains(stdout, "pager reachable") {
		t.Fatalf("test pager: code=%d stdout=%q", code, stdout)
	}

	code, stdout, _ = runCaptured(t, "channel", "test", "ghost", "--config", path)
	if code != 1 || !strings.Contains(stdout, "Channel not found") {
		t.Fatalf("test ghost: code=%d stdout=%q", code, stdout)
	}
}

func TestLedgerRejectsMemoryBackend(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte("service: {log_level: error}\n"), 0o600); err != nil {
		t.Fatal(err)
	}

	code, _, stderr := runCaptured(t, "ledger", "stats", "--config", path)
	if code != 1 || !strings.Contains(stderr, "memory ledger") {
		t.Fatalf("code=%d stderr=%q", code, stderr)
	}
}

func TestSystemStatusNotRunning(t *testing.T) {
	path := writeConfig(t)

	code, stdout, _ := runCaptured(t, "system", "status", "--config", path)
	if code != 0 || !strings.Contains(stdout, "not running") {
		t.Fatalf("code=%d stdout=%q", code, stdout)
	}
}

func TestStartRequiresAPI(t *testing.T) {
	path := writeConfig(t)

	code, _, stderr := runCaptured(t, "system", "start", "--config", path)
	if code != 1 || !strings.Contains(stderr, "api.enabled is false") {
		t.Fatalf("code=%d stderr=%q", code, stderr)
	}
}

func TestParseInterspersed(t *testing.T) {
	fs := flag.NewFlagSet("t", flag.ContinueOnError)
	cfg := fs.String("config", "", "")
	jsonOut := fs.Bool("json", false, "")

	got, err := parseInterspersed(fs, []string{"a", "--config", "x.yaml", "b", "--json"})
	if err != nil {
		t.Fatalf("parseInterspersed: %v", err)
	}
	if strings.Join(got, ",") != "a,b" || *cfg != "x.yaml" || !*jsonOut {
		t.Fatalf("positionals=%v config=%q json=%v", got, *cfg, *jsonOut)
	}
}

func TestVarListRejectsMalformed(t *testing.T) {
	v := varList{}
	if err := v.Set("name=Ada=Lovelace"); err != nil {
		t.Fatalf("Set: %v", err)
	}
	if v["name"] != "Ada=Lovelace" {
		t.Fatalf("name = %v", v["name"])
	}
	if err := v.Set("novalue"); err == nil {
		t.Fatal("expected error for missing '='")
	}
}
