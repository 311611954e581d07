package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"runtime/debug"
	"strings"
	"syscall"
	"time"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/mattjoyce/courier/internal/api"
	"github.com/mattjoyce/courier/internal/config"
	"github.com/mattjoyce/courier/internal/events"
	"github.com/mattjoyce/courier/internal/ledger"
	"github.com/mattjoyce/courier/internal/lock"
	"github.com/mattjoyce/courier/internal/log"
	"github.com/mattjoyce/courier/internal/notify"
	"github.com/mattjoyce/courier/internal/transport"
	"github.com/mattjoyce/courier/internal/tui/watch"
)

var (
	version   = "0.1.0-dev"
	gitCommit = "unknown"
	buildDate = "unknown"
)

type versionInfo struct {
	Version   string `json:"version"`
	Commit    string `json:"commit"`
	BuildTime string `json:"build_time"`
}

func main() {
	os.Exit(runCLI(os.Args[1:]))
}

func runCLI(cliArgs []string) int {
	if len(cliArgs) < 1 {
		printUsage(os.Stderr)
		return 1
	}

	noun := cliArgs[0]
	args := cliArgs[1:]

	switch noun {
	case "system":
		return runSystemNoun(args)
	case "config":
		return runConfigNoun(args)
	case "channel":
		return runChannelNoun(args)
	case "ledger":
		return runLedgerNoun(args)
	case "send":
		if hasHelpFlag(args) {
			printSendHelp()
			return 0
		}
		return runSend(args)
	case "watch":
		if hasHelpFlag(args) {
			printWatchHelp()
			return 0
		}
		return runWatch(args)
	case "version":
		return runVersion(args)
	case "help", "--help", "-h":
		printUsage(os.Stdout)
		return 0
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n\n", noun)
		printUsage(os.Stderr)
		return 1
	}
}

func runVersion(args []string) int {
	fs := flag.NewFlagSet("version", flag.ContinueOnError)
	jsonOut := fs.Bool("json", false, "Output version metadata as JSON")
	if err := fs.Parse(args); err != nil {
		fmt.Fprintf(os.Stderr, "Flag error: %v\n", err)
		return 1
	}
	if fs.NArg() > 0 {
		fmt.Fprintln(os.Stderr, "Usage: courier version [--json]")
		return 1
	}

	info := currentVersionInfo()
	if *jsonOut {
		return printJSON(info)
	}

	fmt.Printf("courier %s\n", info.Version)
	fmt.Printf("commit: %s\n", info.Commit)
	fmt.Printf("built_at: %s\n", info.BuildTime)
	return 0
}

func currentVersionInfo() versionInfo {
	info := versionInfo{
		Version:   strings.TrimSpace(version),
		Commit:    "unknown",
		BuildTime: "unknown",
	}
	if info.Version == "" {
		info.Version = "0.0.0-dev"
	}

	commit := strings.TrimSpace(gitCommit)
	if commit == "" || commit == "unknown" {
		commit = strings.TrimSpace(readBuildSetting("vcs.revision"))
	}
	if commit != "" {
		info.Commit = shortenCommit(commit)
	}

	built := strings.TrimSpace(buildDate)
	if built == "" || built == "unknown" {
		built = strings.TrimSpace(readBuildSetting("vcs.time"))
	}
	if t, err := time.Parse(time.RFC3339Nano, built); err == nil {
		info.BuildTime = t.UTC().Format(time.RFC3339)
	}
	return info
}

func shortenCommit(commit string) string {
	if len(commit) <= 12 {
		return commit
	}
	return commit[:12]
}

func readBuildSetting(key string) string {
	info, ok := debug.ReadBuildInfo()
	if !ok {
		return ""
	}
	for _, setting := range info.Settings {
		if setting.Key == key {
			return setting.Value
		}
	}
	return ""
}

func printUsage(w io.Writer) {
	fmt.Fprint(w, `courier - multi-channel notification dispatcher

Usage:
  courier <noun> <action> [flags]

System Commands:
  system start          Start the dispatcher and HTTP API in the foreground
  system status         Report whether a dispatcher holds the ledger lock

Config Commands:
  config check          Validate configuration and report warnings
  config lock           Authorize current state (update integrity hashes)

Channel Commands:
  channel list          Show configured channels (secrets redacted)
  channel validate      Check channel configs against their type schema
  channel test <id>     Probe a channel's transport without sending

Delivery Commands:
  send                  Send one notification through the configured ledger
  ledger stats          Show delivery statistics
  ledger status <id>    Show the ledger entry for a message id

General:
  watch                 Live dashboard for a running dispatcher
  version               Show version metadata
  help                  Show this help

Configuration is read from --config, $COURIER_CONFIG, or ./config.yaml.
`)
}

func isHelpToken(token string) bool {
	return token == "help" || token == "--help" || token == "-h"
}

func hasHelpFlag(args []string) bool {
	for _, arg := range args {
		if arg == "--help" || arg == "-h" {
			return true
		}
	}
	return false
}

func defaultConfigPath() string {
	if p := os.Getenv("COURIER_CONFIG"); p != "" {
		return p
	}
	return "config.yaml"
}

// parseInterspersed lets flags follow positional arguments, so both
// "channel test ops --config x" and "channel test --config x ops" work.
func parseInterspersed(fs *flag.FlagSet, args []string) ([]string, error) {
	var positionals []string
	for {
		if err := fs.Parse(args); err != nil {
			return nil, err
		}
		if fs.NArg() == 0 {
			return positionals, nil
		}
		positionals = append(positionals, fs.Arg(0))
		args = fs.Args()[1:]
	}
}

func printJSON(v any) int {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to render JSON: %v\n", err)
		return 1
	}
	fmt.Println(string(data))
	return 0
}

// cliLogger keeps one-shot command logs on stderr so stdout stays parseable.
func cliLogger(cfg *config.Config, component string) *slog.Logger {
	return log.New(os.Stderr, cfg.Service.LogLevel, cfg.Service.LogFormat).
		With(slog.String("component", component))
}

func openLedger(ctx context.Context, lc config.LedgerConfig) (ledger.Ledger, error) {
	switch lc.Backend {
	case config.BackendSQLite:
		l, err := ledger.OpenSQLite(ctx, lc.Path)
		if err != nil {
			return nil, err
		}
		return l, nil
	case config.BackendRedis:
		l, err := ledger.NewRedis(ctx, ledger.RedisOptions{
			Addr:     lc.Redis.Addr,
			Password: lc.Redis.Password,
			DB:       lc.Redis.DB,
			Prefix:   lc.Redis.Prefix,
		})
		if err != nil {
			return nil, err
		}
		return l, nil
	case config.BackendMemory, "":
		return ledger.NewMemory(), nil
	default:
		return nil, fmt.Errorf("unknown ledger backend %q", lc.Backend)
	}
}

func newService(cfg *config.Config, ldg ledger.Ledger, hub *events.Hub, logger *slog.Logger) (*notify.Service, error) {
	transports := transport.New(transport.Options{
		Timeout: cfg.Transports.Timeout,
		Logger:  logger,
	})
	if cfg.Service.DryRun {
		transports = transport.DryRun(transport.NewRecorder(logger))
	}

	return notify.New(notify.Options{
		Channels:       cfg.Channels,
		Templates:      cfg.Templates,
		Transports:     transports,
		Ledger:         ldg,
		Events:         hub,
		StrictRender:   cfg.Render.Strict,
		MaxConcurrency: cfg.Bulk.MaxConcurrency,
		Logger:         logger,
	})
}

func runSystemNoun(args []string) int {
	if len(args) < 1 {
		printSystemNounHelp(os.Stderr)
		return 1
	}
	if isHelpToken(args[0]) {
		printSystemNounHelp(os.Stdout)
		return 0
	}

	action := args[0]
	actionArgs := args[1:]

	switch action {
	case "start":
		if hasHelpFlag(actionArgs) {
			printSystemStartHelp()
			return 0
		}
		return runStart(actionArgs)
	case "status":
		if hasHelpFlag(actionArgs) {
			printSystemStatusHelp()
			return 0
		}
		return runSystemStatus(actionArgs)
	default:
		fmt.Fprintf(os.Stderr, "Unknown system action: %s\n", action)
		printSystemNounHelp(os.Stderr)
		return 1
	}
}

func printSystemNounHelp(w io.Writer) {
	fmt.Fprintln(w, "Usage: courier system <action>")
	fmt.Fprintln(w, "Actions: start, status")
}

func printSystemStartHelp() {
	fmt.Println("Usage: courier system start [--config PATH]")
	fmt.Println()
	fmt.Println("Start the dispatcher in the foreground. Serves the HTTP API and")
	fmt.Println("stops cleanly on SIGINT/SIGTERM.")
}

func printSystemStatusHelp() {
	fmt.Println("Usage: courier system status [--config PATH] [--json]")
	fmt.Println()
	fmt.Println("Report whether a dispatcher holds the ledger lock. Only sqlite")
	fmt.Println("ledgers are locked.")
}

func runStart(args []string) int {
	fs := flag.NewFlagSet("start", flag.ContinueOnError)
	configPath := fs.String("config", defaultConfigPath(), "Path to configuration file or directory")
	if err := fs.Parse(args); err != nil {
		fmt.Fprintf(os.Stderr, "Flag error: %v\n", err)
		return 1
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		return 1
	}
	if !cfg.API.Enabled {
		fmt.Fprintln(os.Stderr, "Nothing to serve: api.enabled is false. Use `courier send` for one-shot delivery.")
		return 1
	}

	log.Setup(cfg.Service.LogLevel, cfg.Service.LogFormat)
	logger := log.WithComponent("main")
	logger.Info("courier starting",
		"version", version,
		"config", *configPath,
		"ledger", cfg.Ledger.Backend,
		"dry_run", cfg.Service.DryRun,
	)

	if cfg.Ledger.Backend == config.BackendSQLite {
		lockPath := lock.PathFor(cfg.Ledger.Path)
		pidLock, err := lock.AcquirePIDLock(lockPath)
		if err != nil {
			logger.Error("failed to acquire PID lock (another instance may be running)", "path", lockPath, "error", err)
			return 1
		}
		defer pidLock.Release()
		logger.Info("acquired PID lock", "path", lockPath)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	ldg, err := openLedger(ctx, cfg.Ledger)
	if err != nil {
		logger.Error("failed to open ledger", "backend", cfg.Ledger.Backend, "error", err)
		return 1
	}
	defer ldg.Close()

	hub := events.NewHub(256)
	svc, err := newService(cfg, ldg, hub, log.WithComponent("notify"))
	if err != nil {
		logger.Error("failed to build notification service", "error", err)
		return 1
	}
	logger.Info("notification service ready",
		"channels", len(svc.Channels()),
		"templates", len(svc.Templates()),
	)

	apiServer := api.New(api.Config{
		Listen:      cfg.API.Listen,
		APIKey:      cfg.API.Auth.APIKey,
		Tokens:      cfg.API.Auth.Tokens,
		MaxBulk:     cfg.API.MaxBulk,
		CORSOrigins: cfg.API.CORSOrigins,
	}, svc, hub, log.WithComponent("api"))

	logger.Info("courier running (press Ctrl+C to stop)")
	if err := apiServer.Start(ctx); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("API server failed", "error", err)
		return 1
	}

	logger.Info("courier stopped")
	return 0
}

func runSystemStatus(args []string) int {
	fs := flag.NewFlagSet("status", flag.ContinueOnError)
	configPath := fs.String("config", defaultConfigPath(), "Path to configuration file or directory")
	jsonOut := fs.Bool("json", false, "Output as JSON")
	if err := fs.Parse(args); err != nil {
		fmt.Fprintf(os.Stderr, "Flag error: %v\n", err)
		return 1
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		return 1
	}

	type status struct {
		Backend  string `json:"backend"`
		LockPath string `json:"lock_path,omitempty"`
		Running  bool   `json:"running"`
		PID      int    `json:"pid,omitempty"`
	}
	st := status{Backend: cfg.Ledger.Backend}

	if cfg.Ledger.Backend != config.BackendSQLite {
		if *jsonOut {
			return printJSON(st)
		}
		fmt.Printf("Status unknown: the %s ledger is not locked. Query /healthz instead.\n", cfg.Ledger.Backend)
		return 0
	}

	st.LockPath = lock.PathFor(cfg.Ledger.Path)
	st.PID, st.Running = lock.Held(st.LockPath)
	if *jsonOut {
		return printJSON(st)
	}
	if st.Running {
		fmt.Printf("courier is running (pid %d, lock %s)\n", st.PID, st.LockPath)
	} else {
		fmt.Printf("courier is not running (lock %s is free)\n", st.LockPath)
	}
	return 0
}

func runWatch(args []string) int {
	fs := flag.NewFlagSet("watch", flag.ContinueOnError)
	apiURL := fs.String("api-url", "http://localhost:8080", "Courier API URL")
	apiKey := fs.String("api-key", os.Getenv("COURIER_API_KEY"), "API Bearer Token")
	if err := fs.Parse(args); err != nil {
		fmt.Fprintf(os.Stderr, "Flag error: %v\n", err)
		return 1
	}

	if *apiKey == "" {
		fmt.Fprintln(os.Stderr, "Error: API key required. Use --api-key or COURIER_API_KEY env var.")
		return 1
	}

	m := watch.New(strings.TrimRight(*apiURL, "/"), *apiKey)
	p := tea.NewProgram(m)
	if _, err := p.Run(); err != nil {
		fmt.Fprintf(os.Stderr, "TUI error: %v\n", err)
		return 1
	}
	return 0
}

func printWatchHelp() {
	fmt.Println("Usage: courier watch [flags]")
	fmt.Println()
	fmt.Println("Live dashboard: service health, per-channel delivery counts, and")
	fmt.Println("the event stream of a running dispatcher.")
	fmt.Println()
	fmt.Println("Flags:")
	fmt.Println("  --api-url URL    Courier API URL (default: http://localhost:8080)")
	fmt.Println("  --api-key KEY    API Bearer Token (or COURIER_API_KEY env var)")
	fmt.Println()
	fmt.Println("Keybindings:")
	fmt.Println("  q, Ctrl+C        Quit")
	fmt.Println("  ↑/↓, k/j         Select channel")
	fmt.Println("  t                Test selected channel")
	fmt.Println("  r                Refresh")
}
