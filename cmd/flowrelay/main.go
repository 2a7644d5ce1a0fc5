// Command flowrelay exercises a FlowRelay configuration outside the host
// engine: validate credentials, preview rendered notifications, or post a
// test message to the configured channel.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	"golang.org/x/term"

	"github.com/flowrelay/flowrelay/internal/config"
	"github.com/flowrelay/flowrelay/internal/flow"
	"github.com/flowrelay/flowrelay/internal/logger"
	"github.com/flowrelay/flowrelay/internal/message"
	"github.com/flowrelay/flowrelay/internal/port/transport"

	_ "github.com/flowrelay/flowrelay/internal/adapter/slackbot"
	_ "github.com/flowrelay/flowrelay/internal/adapter/slackwebhook"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, "flowrelay:", err)
		os.Exit(1)
	}
}

func run() error {
	var (
		configPath  = flag.String("config", config.DefaultConfigFile, "path to the YAML configuration")
		check       = flag.Bool("check", false, "validate the configuration and credentials, then exit")
		dryRun      = flag.Bool("dry-run", false, "render the start and completion notifications as JSON without sending")
		text        = flag.String("message", "", "post this test message to the configured channel")
		promptToken = flag.Bool("prompt-token", false, "read the bot token from the terminal instead of config or environment")
	)
	flag.Parse()

	cfg, err := config.LoadFrom(*configPath)
	if *promptToken && cfg != nil {
		token, perr := readToken()
		if perr != nil {
			return perr
		}
		cfg.BotToken = token
		cfg.WebhookURL = ""
		err = cfg.Validate()
	}
	if err != nil {
		return fmt.Errorf("config: %w", err)
	}

	log, closeLog := logger.New(cfg.Logging)
	defer closeLog.Close()

	if *dryRun {
		return renderPreview(cfg)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	tr, err := transport.New(cfg.Mode(), cfg, log)
	if err != nil {
		return err
	}

	if *check {
		if !tr.Validate(ctx) {
			return fmt.Errorf("credential check failed for mode %q", cfg.Mode())
		}
		fmt.Printf("configuration ok: mode=%s channel=%s\n", cfg.Mode(), cfg.Channel)
		return nil
	}

	if *text == "" {
		flag.Usage()
		return fmt.Errorf("nothing to do: pass -check, -dry-run or -message")
	}

	builder := message.NewBuilder(cfg)
	if _, err := tr.SendMessage(ctx, builder.Custom(*text)); err != nil {
		return fmt.Errorf("send: %w", err)
	}
	fmt.Println("message sent")
	return nil
}

// readToken prompts for the bot token without echoing it. Refuses to run
// when stdin is not a terminal so the token cannot end up in shell history
// or pipeline logs by accident.
func readToken() (string, error) {
	fd := int(os.Stdin.Fd())
	if !term.IsTerminal(fd) {
		return "", fmt.Errorf("-prompt-token requires an interactive terminal")
	}

	fmt.Fprint(os.Stderr, "Bot token: ")
	raw, err := term.ReadPassword(fd)
	fmt.Fprintln(os.Stderr)
	if err != nil {
		return "", fmt.Errorf("read token: %w", err)
	}
	return strings.TrimSpace(string(raw)), nil
}

// renderPreview prints the start and completion documents a run with sample
// facts would produce.
func renderPreview(cfg *config.Config) error {
	facts := flow.Facts{
		RunName:     "sample_run",
		SessionID:   "00000000-0000-0000-0000-000000000000",
		CommandLine: "run main.wf -profile standard",
		WorkDir:     "/data/work",
		Start:       time.Now(),
		Duration:    92 * time.Second,
		Success:     true,
		Stats:       flow.Stats{Submitted: 12, Succeeded: 10, Cached: 2},
	}

	builder := message.NewBuilder(cfg)
	docs := map[string]message.Document{
		"start":    builder.Start(facts, ""),
		"complete": builder.Completed(facts, ""),
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(docs)
}
