package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/mattjoyce/courier/internal/channel"
	"github.com/mattjoyce/courier/internal/config"
	"github.com/mattjoyce/courier/internal/doctor"
	"github.com/mattjoyce/courier/internal/ledger"
	"github.com/mattjoyce/courier/internal/notify"
)

const commandTimeout = 2 * time.Minute

// stringList is a repeatable flag that also accepts comma-separated values.
type stringList []string

func (s *stringList) String() string { return strings.Join(*s, ",") }

func (s *stringList) Set(v string) error {
	for _, part := range strings.Split(v, ",") {
		if part = strings.TrimSpace(part); part != "" {
			*s = append(*s, part)
		}
	}
	return nil
}

// varList collects repeated --var key=value flags.
type varList map[string]any

func (v varList) String() string {
	keys := make([]string, 0, len(v))
	for k := range v {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return strings.Join(keys, ",")
}

func (v varList) Set(s string) error {
	key, value, ok := strings.Cut(s, "=")
	key = strings.TrimSpace(key)
	if !ok || key == "" {
		return fmt.Errorf("expected key=value, got %q", s)
	}
	v[key] = value
	return nil
}

// ---- config ----

func runConfigNoun(args []string) int {
	if len(args) < 1 {
		printConfigNounHelp(os.Stderr)
		return 1
	}
	if isHelpToken(args[0]) {
		printConfigNounHelp(os.Stdout)
		return 0
	}

	action := args[0]
	actionArgs := args[1:]

	switch action {
	case "check":
		if hasHelpFlag(actionArgs) {
			printConfigCheckHelp()
			return 0
		}
		return runConfigCheck(actionArgs)
	case "lock":
		if hasHelpFlag(actionArgs) {
			printConfigLockHelp()
			return 0
		}
		return runConfigLock(actionArgs)
	default:
		fmt.Fprintf(os.Stderr, "Unknown config action: %s\n", action)
		printConfigNounHelp(os.Stderr)
		return 1
	}
}

func printConfigNounHelp(w io.Writer) {
	fmt.Fprintln(w, "Usage: courier config <action>")
	fmt.Fprintln(w, "Actions: check, lock")
}

func printConfigCheckHelp() {
	fmt.Println("Usage: courier config check [--config PATH] [--format human|json] [--json] [--strict]")
	fmt.Println("Validate configuration: channel schemas, template variables, auth, and ledger settings.")
	fmt.Println("Exit codes: 0 ok, 1 errors, 2 warnings with --strict.")
}

func printConfigLockHelp() {
	fmt.Println("Usage: courier config lock [--config PATH] [-v|--verbose] [--dry-run]")
	fmt.Println("Authorize current configuration state by regenerating .checksums manifests.")
}

func runConfigCheck(args []string) int {
	var configPath, format string
	var strict, jsonOut bool

	fs := flag.NewFlagSet("check", flag.ContinueOnError)
	fs.StringVar(&configPath, "config", defaultConfigPath(), "Path to configuration")
	fs.BoolVar(&strict, "strict", false, "Treat warnings as errors")
	fs.StringVar(&format, "format", "human", "Output format (human, json)")
	fs.BoolVar(&jsonOut, "json", false, "Output in JSON")
	if err := fs.Parse(args); err != nil {
		fmt.Fprintf(os.Stderr, "Flag error: %v\n", err)
		return 1
	}
	if jsonOut {
		format = "json"
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Config load error: %v\n", err)
		return 1
	}

	result := doctor.New(cfg).Validate()

	switch format {
	case "json":
		out, err := doctor.FormatJSON(result)
		if err != nil {
			fmt.Fprintf(os.Stderr, "JSON format error: %v\n", err)
			return 1
		}
		fmt.Println(out)
	default:
		fmt.Print(doctor.FormatHuman(result))
	}

	if !result.Valid {
		return 1
	}
	if strict && len(result.Warnings) > 0 {
		return 2
	}
	return 0
}

func runConfigLock(args []string) int {
	var configPath string
	var verbose, verboseShort, dryRun bool

	fs := flag.NewFlagSet("lock", flag.ContinueOnError)
	fs.StringVar(&configPath, "config", defaultConfigPath(), "Path to configuration")
	fs.BoolVar(&verbose, "verbose", false, "Verbose output")
	fs.BoolVar(&verboseShort, "v", false, "Verbose output")
	fs.BoolVar(&dryRun, "dry-run", false, "Dry run")
	if err := fs.Parse(args); err != nil {
		fmt.Fprintf(os.Stderr, "Flag error: %v\n", err)
		return 1
	}
	isVerbose := verbose || verboseShort

	reports, err := config.Lock(configPath, dryRun)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to lock config: %v\n", err)
		return 1
	}

	files := 0
	for _, report := range reports {
		files += len(report.Files)
		if !isVerbose {
			continue
		}
		fmt.Printf("Processing directory: %s\n", report.ConfigDir)
		for _, f := range report.Files {
			fmt.Printf("  HASH %s %s\n", shortenHash(f.Hash), f.Filename)
		}
		if report.Written {
			fmt.Printf("  WROTE %s: %s\n", config.ChecksumFile, report.ChecksumPath)
		} else {
			fmt.Printf("  DRY-RUN %s: %s (not written)\n", config.ChecksumFile, report.ChecksumPath)
		}
	}

	if dryRun {
		fmt.Printf("Dry run: %d file(s) in %d directory(ies) would be locked\n", files, len(reports))
	} else {
		fmt.Printf("Locked %d file(s) in %d directory(ies)\n", files, len(reports))
	}
	return 0
}

func shortenHash(h string) string {
	if len(h) <= 16 {
		return h
	}
	return h[:16]
}

// ---- channel ----

func runChannelNoun(args []string) int {
	if len(args) < 1 {
		printChannelNounHelp(os.Stderr)
		return 1
	}
	if isHelpToken(args[0]) {
		printChannelNounHelp(os.Stdout)
		return 0
	}

	action := args[0]
	actionArgs := args[1:]

	switch action {
	case "list":
		if hasHelpFlag(actionArgs) {
			fmt.Println("Usage: courier channel list [--config PATH] [--json]")
			return 0
		}
		return runChannelList(actionArgs)
	case "validate":
		if hasHelpFlag(actionArgs) {
			fmt.Println("Usage: courier channel validate [--config PATH] [--json] [id...]")
			fmt.Println("Check channel configs against their type schema. Defaults to every channel.")
			return 0
		}
		return runChannelValidate(actionArgs)
	case "test":
		if hasHelpFlag(actionArgs) {
			fmt.Println("Usage: courier channel test <id> [--config PATH] [--json]")
			fmt.Println("Connect and authenticate with the channel's transport without sending a message.")
			return 0
		}
		return runChannelTest(actionArgs)
	default:
		fmt.Fprintf(os.Stderr, "Unknown channel action: %s\n", action)
		printChannelNounHelp(os.Stderr)
		return 1
	}
}

func printChannelNounHelp(w io.Writer) {
	fmt.Fprintln(w, "Usage: courier channel <action>")
	fmt.Fprintln(w, "Actions: list, validate, test")
}

func runChannelList(args []string) int {
	fs := flag.NewFlagSet("list", flag.ContinueOnError)
	configPath := fs.String("config", defaultConfigPath(), "Path to configuration")
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

	chans := make([]channel.Channel, 0, len(cfg.Channels))
	for _, ch := range cfg.Channels {
		chans = append(chans, ch.Redacted())
	}
	if *jsonOut {
		return printJSON(chans)
	}

	if len(chans) == 0 {
		fmt.Println("No channels configured")
		return 0
	}
	tw := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tTYPE\tENABLED\tNAME")
	for _, ch := range chans {
		fmt.Fprintf(tw, "%s\t%s\t%t\t%s\n", ch.ID, ch.Type, ch.Enabled, ch.Name)
	}
	_ = tw.Flush()
	return 0
}

func runChannelValidate(args []string) int {
	fs := flag.NewFlagSet("validate", flag.ContinueOnError)
	configPath := fs.String("config", defaultConfigPath(), "Path to configuration")
	jsonOut := fs.Bool("json", false, "Output as JSON")
	ids, err := parseInterspersed(fs, args)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Flag error: %v\n", err)
		return 1
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		return 1
	}

	byID := make(map[string]channel.Channel, len(cfg.Channels))
	for _, ch := range cfg.Channels {
		byID[ch.ID] = ch
	}
	targets := cfg.Channels
	if len(ids) > 0 {
		targets = nil
		for _, id := range ids {
			ch, ok := byID[id]
			if !ok {
				fmt.Fprintf(os.Stderr, "Channel not found: %s\n", id)
				return 1
			}
			targets = append(targets, ch)
		}
	}

	type entry struct {
		ID string `json:"id"`
		channel.ValidationResult
	}
	results := make([]entry, 0, len(targets))
	invalid := 0
	for _, ch := range targets {
		res := channel.Validate(ch)
		if !res.Valid {
			invalid++
		}
		results = append(results, entry{ID: ch.ID, ValidationResult: res})
	}

	if *jsonOut {
		if code := printJSON(results); code != 0 {
			return code
		}
	} else {
		for _, r := range results {
			if r.Valid {
				fmt.Printf("✓ %s\n", r.ID)
				continue
			}
			fmt.Printf("✗ %s\n", r.ID)
			for _, msg := range r.Errors {
				fmt.Printf("    %s\n", msg)
			}
		}
	}

	if invalid > 0 {
		return 1
	}
	return 0
}

func runChannelTest(args []string) int {
	fs := flag.NewFlagSet("test", flag.ContinueOnError)
	configPath := fs.String("config", defaultConfigPath(), "Path to configuration")
	jsonOut := fs.Bool("json", false, "Output as JSON")
	positionals, err := parseInterspersed(fs, args)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Flag error: %v\n", err)
		return 1
	}
	if len(positionals) != 1 {
		fmt.Fprintln(os.Stderr, "Usage: courier channel test <id> [--config PATH] [--json]")
		return 1
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		return 1
	}

	// Probes never touch the ledger.
	svc, err := newService(cfg, ledger.NewMemory(), nil, cliLogger(cfg, "notify"))
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to build service: %v\n", err)
		return 1
	}

	ctx, cancel := context.WithTimeout(context.Background(), commandTimeout)
	defer cancel()
	res := svc.TestChannel(ctx, positionals[0])

	if *jsonOut {
		printJSON(res)
	} else if res.Success {
		fmt.Printf("✓ %s reachable\n", res.ChannelID)
	} else {
		fmt.Printf("✗ %s: %s\n", res.ChannelID, res.Error)
	}
	if !res.Success {
		return 1
	}
	return 0
}

// ---- send ----

func printSendHelp() {
	fmt.Println("Usage: courier send --channel ID --to RECIPIENT [flags]")
	fmt.Println()
	fmt.Println("Send one notification and record it in the configured ledger.")
	fmt.Println()
	fmt.Println("Flags:")
	fmt.Println("  --config PATH      Configuration file or directory")
	fmt.Println("  --channel ID       Channel to send through")
	fmt.Println("  --to LIST          Recipient; repeat or comma-separate")
	fmt.Println("  --template ID      Render this template (subject/content ignored)")
	fmt.Println("  --var KEY=VALUE    Template variable; repeatable")
	fmt.Println("  --subject TEXT     Literal subject")
	fmt.Println("  --content TEXT     Literal content")
	fmt.Println("  --json             Print the result as JSON")
}

func runSend(args []string) int {
	var (
		configPath, channelID, templateID string
		subject, content                  string
		jsonOut                           bool
		recipients                        stringList
	)
	vars := varList{}

	fs := flag.NewFlagSet("send", flag.ContinueOnError)
	fs.StringVar(&configPath, "config", defaultConfigPath(), "Path to configuration")
	fs.StringVar(&channelID, "channel", "", "Channel id")
	fs.Var(&recipients, "to", "Recipient (repeatable, comma-separated)")
	fs.StringVar(&templateID, "template", "", "Template id")
	fs.Var(vars, "var", "Template variable key=value (repeatable)")
	fs.StringVar(&subject, "subject", "", "Subject")
	fs.StringVar(&content, "content", "", "Content")
	fs.BoolVar(&jsonOut, "json", false, "Output as JSON")
	if err := fs.Parse(args); err != nil {
		fmt.Fprintf(os.Stderr, "Flag error: %v\n", err)
		return 1
	}
	if channelID == "" {
		fmt.Fprintln(os.Stderr, "Error: --channel is required")
		return 1
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		return 1
	}

	ctx, cancel := context.WithTimeout(context.Background(), commandTimeout)
	defer cancel()

	ldg, err := openLedger(ctx, cfg.Ledger)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to open ledger: %v\n", err)
		return 1
	}
	defer ldg.Close()

	svc, err := newService(cfg, ldg, nil, cliLogger(cfg, "notify"))
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to build service: %v\n", err)
		return 1
	}

	res := svc.SendNotification(ctx, notify.Request{
		ChannelID:  channelID,
		Recipients: recipients,
		Template:   templateID,
		Variables:  vars,
		Subject:    subject,
		Content:    content,
	})

	if jsonOut {
		printJSON(res)
	} else if res.Success {
		fmt.Printf("sent %s via %s\n", res.MessageID, res.Channel)
	} else {
		fmt.Printf("failed [%s]: %s\n", res.Reason, res.Error)
	}
	if !res.Success {
		return 1
	}
	return 0
}

// ---- ledger ----

func runLedgerNoun(args []string) int {
	if len(args) < 1 {
		printLedgerNounHelp(os.Stderr)
		return 1
	}
	if isHelpToken(args[0]) {
		printLedgerNounHelp(os.Stdout)
		return 0
	}

	action := args[0]
	actionArgs := args[1:]

	switch action {
	case "stats":
		if hasHelpFlag(actionArgs) {
			fmt.Println("Usage: courier ledger stats [--config PATH] [--json]")
			return 0
		}
		return runLedgerStats(actionArgs)
	case "status":
		if hasHelpFlag(actionArgs) {
			fmt.Println("Usage: courier ledger status <message-id> [--config PATH] [--json]")
			return 0
		}
		return runLedgerStatus(actionArgs)
	default:
		fmt.Fprintf(os.Stderr, "Unknown ledger action: %s\n", action)
		printLedgerNounHelp(os.Stderr)
		return 1
	}
}

func printLedgerNounHelp(w io.Writer) {
	fmt.Fprintln(w, "Usage: courier ledger <action>")
	fmt.Fprintln(w, "Actions: stats, status")
}

// openConfiguredLedger refuses the memory backend, which has nothing to read
// outside the process that wrote it.
func openConfiguredLedger(ctx context.Context, configPath string) (ledger.Ledger, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	if cfg.Ledger.Backend == config.BackendMemory {
		return nil, fmt.Errorf("the memory ledger only lives inside a running server; query GET /statistics instead")
	}
	return openLedger(ctx, cfg.Ledger)
}

func runLedgerStats(args []string) int {
	fs := flag.NewFlagSet("stats", flag.ContinueOnError)
	configPath := fs.String("config", defaultConfigPath(), "Path to configuration")
	jsonOut := fs.Bool("json", false, "Output as JSON")
	if err := fs.Parse(args); err != nil {
		fmt.Fprintf(os.Stderr, "Flag error: %v\n", err)
		return 1
	}

	ctx, cancel := context.WithTimeout(context.Background(), commandTimeout)
	defer cancel()

	ldg, err := openConfiguredLedger(ctx, *configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}
	defer ldg.Close()

	stats, err := ldg.Statistics(ctx)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to read statistics: %v\n", err)
		return 1
	}
	if *jsonOut {
		return printJSON(stats)
	}

	fmt.Printf("Total sent: %d\n", stats.TotalSent)
	ids := make([]string, 0, len(stats.Channels))
	for id := range stats.Channels {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	tw := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	for _, id := range ids {
		fmt.Fprintf(tw, "  %s\t%d\n", id, stats.Channels[id])
	}
	_ = tw.Flush()
	return 0
}

func runLedgerStatus(args []string) int {
	fs := flag.NewFlagSet("status", flag.ContinueOnError)
	configPath := fs.String("config", defaultConfigPath(), "Path to configuration")
	jsonOut := fs.Bool("json", false, "Output as JSON")
	positionals, err := parseInterspersed(fs, args)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Flag error: %v\n", err)
		return 1
	}
	if len(positionals) != 1 {
		fmt.Fprintln(os.Stderr, "Usage: courier ledger status <message-id> [--config PATH] [--json]")
		return 1
	}

	ctx, cancel := context.WithTimeout(context.Background(), commandTimeout)
	defer cancel()

	ldg, err := openConfiguredLedger(ctx, *configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}
	defer ldg.Close()

	st, err := ldg.Get(ctx, positionals[0])
	if errors.Is(err, ledger.ErrNotFound) {
		fmt.Fprintf(os.Stderr, "Delivery not found: %s\n", positionals[0])
		return 1
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to read ledger: %v\n", err)
		return 1
	}
	if *jsonOut {
		return printJSON(st)
	}

	fmt.Printf("message_id: %s\n", st.MessageID)
	fmt.Printf("channel:    %s (%s)\n", st.Channel, st.ChannelType)
	fmt.Printf("status:     %s\n", st.Status)
	fmt.Printf("recipients: %d\n", st.Recipients)
	fmt.Printf("sent_at:    %s\n", st.SentAt.UTC().Format(time.RFC3339))
	return 0
}
