// Concierged is a durable conversational agent daemon.
//
// It runs goal-directed conversations with tool use: inbound user
// messages are filtered for relevance, the language model proposes tool
// calls, flagged calls wait for human approval, and every completed
// turn is snapshotted to SQLite so sessions survive restarts. Signals
// arrive over an HTTP API and, optionally, an MQTT bridge.
// Configuration is loaded from a single YAML file discovered
// automatically (see [config.DefaultSearchPaths]).
//
// Usage:
//
//	concierged serve           Start the daemon
//	concierged version         Print version and build information
//	concierged -o json version Output version information as JSON
package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/voyagehq/concierge-agent/internal/buildinfo"
	"github.com/voyagehq/concierge-agent/internal/config"
	"github.com/voyagehq/concierge-agent/internal/connwatch"
	"github.com/voyagehq/concierge-agent/internal/events"
	"github.com/voyagehq/concierge-agent/internal/llm"
	"github.com/voyagehq/concierge-agent/internal/mqtt"
	"github.com/voyagehq/concierge-agent/internal/orchestrator"
	"github.com/voyagehq/concierge-agent/internal/snapshot"
	"github.com/voyagehq/concierge-agent/internal/tools"
	"github.com/voyagehq/concierge-agent/internal/usage"
	"github.com/voyagehq/concierge-agent/internal/web"
)

// main is intentionally minimal. It constructs the OS-level environment
// (context, stdio, argv) and delegates immediately to [run]. This keeps
// os.Exit, os.Stdout, and os.Args out of the application logic so that
// the full startup-to-shutdown lifecycle can be driven from tests.
func main() {
	ctx := context.Background()

	if err := run(ctx, os.Stdout, os.Stderr, os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "%s\n", err)
		os.Exit(1)
	}
}

// run is the real entry point for the concierged command. All OS-level
// dependencies are injected as parameters: ctx controls the lifetime of
// the process, stdout and stderr receive all program output, and args
// is os.Args[1:]. We parse arguments manually rather than using the
// flag package to avoid global state that interferes with parallel
// tests.
func run(ctx context.Context, stdout io.Writer, stderr io.Writer, args []string) error {
	var configPath string
	var outputFmt string // "text" (default) or "json"
	var command string

	for i := 0; i < len(args); i++ {
		switch {
		case args[i] == "-config" && i+1 < len(args):
			configPath = args[i+1]
			i++ // skip the value
		case strings.HasPrefix(args[i], "-config="):
			configPath = strings.TrimPrefix(args[i], "-config=")
		case (args[i] == "-o" || args[i] == "--output") && i+1 < len(args):
			outputFmt = args[i+1]
			i++
		case strings.HasPrefix(args[i], "-o="):
			outputFmt = strings.TrimPrefix(args[i], "-o=")
		case strings.HasPrefix(args[i], "--output="):
			outputFmt = strings.TrimPrefix(args[i], "--output=")
		case args[i] == "-h" || args[i] == "-help" || args[i] == "--help":
			return printUsage(stdout)
		case !strings.HasPrefix(args[i], "-") && command == "":
			command = args[i]
		default:
			return fmt.Errorf("unknown flag: %s", args[i])
		}
	}

	if outputFmt == "" {
		outputFmt = "text"
	}
	if outputFmt != "text" && outputFmt != "json" {
		return fmt.Errorf("unknown output format: %q (expected text or json)", outputFmt)
	}

	switch command {
	case "serve":
		return runServe(ctx, stdout, configPath)
	case "version":
		return runVersion(stdout, outputFmt)
	case "":
		return printUsage(stdout)
	default:
		return fmt.Errorf("unknown command: %s", command)
	}
}

// runVersion prints build metadata in the requested output format.
func runVersion(w io.Writer, outputFmt string) error {
	info := buildinfo.Info()
	if outputFmt == "json" {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(info)
	}
	fmt.Fprintln(w, buildinfo.String())
	for _, k := range []string{"version", "git_commit", "git_branch", "build_time", "go_version", "os", "arch"} {
		if v, ok := info[k]; ok {
			fmt.Fprintf(w, "  %-12s %s\n", k+":", v)
		}
	}
	return nil
}

// printUsage writes the top-level help text to w.
func printUsage(w io.Writer) error {
	fmt.Fprintln(w, "concierged - durable conversational agent daemon")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Usage: concierged [flags] <command>")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Commands:")
	fmt.Fprintln(w, "  serve        Start the daemon")
	fmt.Fprintln(w, "  version      Show version information")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Flags:")
	fmt.Fprintln(w, "  -config <path>    Path to config file (default: auto-discover)")
	fmt.Fprintln(w, "  -o, --output fmt  Output format: text (default) or json")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Config search order:")
	fmt.Fprintln(w, "  ./config.yaml, ~/.config/concierge/config.yaml, /etc/concierge/config.yaml")
	return nil
}

// runServe wires the full daemon: snapshot store, LLM providers, tool
// registry, conversation manager (with restart recovery), HTTP API, and
// the optional MQTT bridge. It blocks until SIGINT/SIGTERM or ctx
// cancellation, then shuts everything down gracefully.
func runServe(ctx context.Context, stdout io.Writer, configPath string) error {
	logger := newLogger(stdout, slog.LevelInfo)
	logger.Info("starting concierged",
		"version", buildinfo.Version, "commit", buildinfo.GitCommit, "built", buildinfo.BuildTime)

	cfgPath, err := config.FindConfig(configPath)
	if err != nil {
		return err
	}
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return fmt.Errorf("load config %s: %w", cfgPath, err)
	}

	// Reconfigure logger now that we know the desired level. The initial
	// Info-level logger covers only the startup banner.
	level, err := config.ParseLogLevel(cfg.LogLevel)
	if err != nil {
		return err
	}
	logger = newLogger(stdout, level)
	slog.SetDefault(logger)

	logger.Info("config loaded",
		"path", cfgPath,
		"port", cfg.Listen.Port,
		"model", cfg.LLM.DefaultModel,
	)

	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// --- Data directory and snapshot store ---
	if err := os.MkdirAll(cfg.DataDir, 0755); err != nil {
		return fmt.Errorf("create data directory %s: %w", cfg.DataDir, err)
	}
	dbPath := filepath.Join(cfg.DataDir, "concierge.db")
	store, err := snapshot.NewStore(dbPath)
	if err != nil {
		return fmt.Errorf("open snapshot database %s: %w", dbPath, err)
	}
	defer store.Close()
	logger.Info("snapshot database opened", "path", dbPath)

	// --- LLM providers ---
	service, err := buildLLMService(ctx, cfg, logger)
	if err != nil {
		return err
	}

	// --- Token usage tracking ---
	usagePath := filepath.Join(cfg.DataDir, "usage.db")
	usageStore, err := usage.NewStore(usagePath)
	if err != nil {
		return fmt.Errorf("open usage database %s: %w", usagePath, err)
	}
	defer usageStore.Close()
	service.SetUsage(usageStore)

	// --- Provider health monitoring ---
	connMgr := connwatch.NewManager(logger)
	connMgr.Watch(ctx, connwatch.WatcherConfig{
		Name:    "llm",
		Probe:   service.Ping,
		Backoff: connwatch.DefaultBackoffConfig(),
	})
	defer connMgr.Stop()

	// --- Tool registry ---
	registry := tools.NewRegistry(tools.Deps{
		SMTP:      cfg.SMTP,
		StripeKey: cfg.Stripe.APIKey,
	})

	// --- Conversation manager ---
	bus := events.New()
	manager := orchestrator.NewManager(ctx, orchestrator.Deps{
		Caps:     service,
		Registry: registry,
		Store:    store,
		Bus:      bus,
		Config:   cfg.Agent,
		Logger:   logger,
	})

	resumed, err := manager.Restore(store)
	if err != nil {
		return fmt.Errorf("restore sessions: %w", err)
	}
	if resumed > 0 {
		logger.Info("sessions resumed from snapshots", "count", resumed)
	}

	// --- HTTP API ---
	server := web.NewServer(cfg.Listen.Address, cfg.Listen.Port, manager, store, bus, cfg.SystemPrompt, logger)
	serverErr := make(chan error, 1)
	go func() {
		if err := server.Start(ctx); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
	}()

	// --- MQTT bridge (optional) ---
	var bridge *mqtt.Bridge
	if cfg.MQTT.Enabled {
		bridge = mqtt.New(cfg.MQTT, manager, bus, logger)
		go func() {
			if err := bridge.Start(ctx); err != nil {
				logger.Error("mqtt bridge failed", "error", err)
			}
		}()
	}

	select {
	case err := <-serverErr:
		return fmt.Errorf("api server: %w", err)
	case <-ctx.Done():
	}

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if bridge != nil {
		if err := bridge.Stop(shutdownCtx); err != nil {
			logger.Warn("mqtt shutdown error", "error", err)
		}
	}
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Warn("http shutdown error", "error", err)
	}
	return nil
}

// buildLLMService registers every configured provider on the router and
// resolves the default model once.
func buildLLMService(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*llm.Service, error) {
	router := llm.NewRouter("anthropic", "claude-sonnet-4-20250514")

	configured := 0
	if cfg.LLM.Anthropic.APIKey != "" {
		router.AddProvider("anthropic", llm.NewAnthropicClient(cfg.LLM.Anthropic.APIKey, logger))
		configured++
	}
	if cfg.LLM.OpenAI.APIKey != "" {
		router.AddProvider("openai", llm.NewOpenAIClient(cfg.LLM.OpenAI.APIKey, cfg.LLM.OpenAI.BaseURL, logger))
		configured++
	}
	if cfg.LLM.Google.APIKey != "" {
		google, err := llm.NewGoogleClient(ctx, cfg.LLM.Google.APIKey, logger)
		if err != nil {
			return nil, fmt.Errorf("configure google provider: %w", err)
		}
		router.AddProvider("google", google)
		configured++
	}
	if configured == 0 {
		return nil, fmt.Errorf("no LLM provider configured (set llm.anthropic.api_key, llm.openai.api_key, or llm.google.api_key)")
	}

	service, err := llm.NewService(router, cfg.LLM.DefaultModel, llm.Options{
		MaxTokens:   cfg.Agent.MaxTokens,
		Temperature: cfg.Agent.Temperature,
	}, logger)
	if err != nil {
		return nil, fmt.Errorf("configure LLM service: %w", err)
	}
	logger.Info("LLM service initialized", "model", service.Model(), "providers", router.Providers())
	return service, nil
}

func newLogger(w io.Writer, level slog.Level) *slog.Logger {
	return slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{
		Level:       level,
		ReplaceAttr: config.ReplaceLogLevelNames,
	}))
}
