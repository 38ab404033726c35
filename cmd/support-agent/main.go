// Support-agent is a customer-support chat backend. Each message is
// classified by a model and answered by a support, order or billing
// agent; conversations are persisted in SQLite or Postgres.
//
// Usage:
//
//	support-agent serve            Start the API server
//	support-agent ask <message>    Send a single message (for testing)
//	support-agent seed             Load sample orders, invoices and a conversation
//	support-agent version          Print version and build information
//	support-agent -o json version  Output version information as JSON
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
	"strings"
	"syscall"
	"time"

	"github.com/kaustubhduse/support-agent/internal/buildinfo"
	"github.com/kaustubhduse/support-agent/internal/commerce"
	"github.com/kaustubhduse/support-agent/internal/config"
	"github.com/kaustubhduse/support-agent/internal/memory"
)

// main constructs the OS-level environment and delegates to [run] so the
// full lifecycle can be driven from tests.
func main() {
	ctx := context.Background()

	if err := run(ctx, os.Stdout, os.Stderr, os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "%s\n", err)
		os.Exit(1)
	}
}

// run is the real entry point. Structured logs go to stdout; the caller
// prints a returned error to stderr. Arguments are parsed by hand to
// avoid the flag package's global state.
func run(ctx context.Context, stdout io.Writer, stderr io.Writer, args []string) error {
	var configPath string
	var outputFmt string // "text" (default) or "json"
	var command string
	var cmdArgs []string

	for i := 0; i < len(args); i++ {
		switch {
		case args[i] == "-config" && i+1 < len(args):
			configPath = args[i+1]
			i++
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
			if command != "" {
				cmdArgs = append(cmdArgs, args[i])
			} else {
				return fmt.Errorf("unknown flag: %s", args[i])
			}
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
	case "ask":
		if len(cmdArgs) == 0 {
			return fmt.Errorf("usage: support-agent ask <message>")
		}
		return runAsk(ctx, stdout, stderr, configPath, outputFmt, cmdArgs)
	case "seed":
		return runSeed(ctx, stdout, configPath)
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
	info := buildinfo.BuildInfo()
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
	fmt.Fprintln(w, "Support Agent - multi-agent customer support backend")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Usage: support-agent [flags] <command> [args]")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Commands:")
	fmt.Fprintln(w, "  serve           Start the API server")
	fmt.Fprintln(w, "  ask <message>   Send a single message (for testing)")
	fmt.Fprintln(w, "  seed            Load sample orders, invoices, refunds and a conversation")
	fmt.Fprintln(w, "  version         Show version information")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Flags:")
	fmt.Fprintln(w, "  -config <path>    Path to config file (default: auto-discover)")
	fmt.Fprintln(w, "  -o, --output fmt  Output format: text (default) or json")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Config search order:")
	fmt.Fprintln(w, "  ./config.yaml, ~/.config/support-agent/config.yaml, /etc/support-agent/config.yaml")
	fmt.Fprintln(w, "Without a config file, defaults are used and the API key is read from TOGETHER_API_KEY.")
	return nil
}

// runAsk sends one message through the full routing stack against the
// configured stores and prints the reply. Logs go to stderr so stdout
// carries only the reply.
func runAsk(ctx context.Context, stdout, stderr io.Writer, configPath, outputFmt string, args []string) error {
	cfg, _, err := loadConfig(configPath)
	if err != nil {
		return err
	}
	logger := configuredLogger(stderr, cfg)

	stores, err := openStores(ctx, cfg)
	if err != nil {
		return err
	}
	defer stores.Close()

	app, err := newApp(cfg, logger, stores)
	if err != nil {
		return err
	}

	message := strings.Join(args, " ")
	convID := "cli-" + time.Now().UTC().Format("20060102T150405")
	reply := app.chat.HandleIncomingMessage(ctx, convID, message)

	if outputFmt == "json" {
		enc := json.NewEncoder(stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(map[string]string{"conversationId": convID, "reply": reply})
	}
	fmt.Fprintln(stdout, reply)
	return nil
}

// runSeed loads the sample commerce records and conversation. Running it
// twice leaves the same data.
func runSeed(ctx context.Context, stdout io.Writer, configPath string) error {
	cfg, _, err := loadConfig(configPath)
	if err != nil {
		return err
	}
	logger := configuredLogger(stdout, cfg)

	stores, err := openStores(ctx, cfg)
	if err != nil {
		return err
	}
	defer stores.Close()

	if err := commerce.Seed(ctx, stores.commerce); err != nil {
		return fmt.Errorf("seed commerce data: %w", err)
	}
	if err := memory.Seed(ctx, stores.memory); err != nil {
		return fmt.Errorf("seed conversation: %w", err)
	}

	logger.Info("seed complete",
		"driver", cfg.Database.Driver,
		"orders", len(commerce.SeedOrders(time.Now())),
		"invoices", len(commerce.SeedInvoices(time.Now())),
		"refunds", len(commerce.SeedRefunds(time.Now())),
		"conversation", memory.SampleConversationID,
	)
	return nil
}

// runServe starts the API server and blocks until SIGINT or SIGTERM.
func runServe(ctx context.Context, stdout io.Writer, configPath string) error {
	cfg, cfgPath, err := loadConfig(configPath)
	if err != nil {
		return err
	}
	logger := configuredLogger(stdout, cfg)
	logger.Info("starting support-agent",
		"version", buildinfo.Version,
		"commit", buildinfo.GitCommit,
		"branch", buildinfo.GitBranch,
		"built", buildinfo.BuildTime,
	)
	logger.Info("config loaded",
		"path", cfgPath,
		"address", cfg.ListenAddr(),
		"provider", cfg.Models.Provider,
		"model", cfg.Models.Default,
		"database", cfg.Database.Driver,
	)

	ctx, cancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	stores, err := openStores(ctx, cfg)
	if err != nil {
		return err
	}
	defer stores.Close()

	app, err := newApp(cfg, logger, stores)
	if err != nil {
		return err
	}

	server, shutdownTelemetry, err := app.newServer(ctx, cfg)
	if err != nil {
		return err
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- server.Start(ctx)
	}()

	select {
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("api server: %w", err)
		}
	case <-ctx.Done():
		logger.Info("shutting down")
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Warn("api server shutdown", "error", err)
	}
	if err := shutdownTelemetry(shutdownCtx); err != nil {
		logger.Warn("telemetry shutdown", "error", err)
	}
	logger.Info("shutdown complete")
	return nil
}

// loadConfig locates and parses the YAML configuration file. Without an
// explicit path and with nothing found in the search paths, the defaults
// are used.
func loadConfig(explicit string) (*config.Config, string, error) {
	cfgPath, err := config.FindConfig(explicit)
	if err != nil {
		if explicit != "" {
			return nil, "", err
		}
		cfg := config.Default()
		return cfg, "(defaults)", cfg.Validate()
	}

	cfg, err := config.Load(cfgPath)
	if err != nil {
		return nil, cfgPath, fmt.Errorf("load config %s: %w", cfgPath, err)
	}
	return cfg, cfgPath, nil
}

// configuredLogger builds the logger for cfg's level and format.
// Validate has already rejected unknown levels.
func configuredLogger(w io.Writer, cfg *config.Config) *slog.Logger {
	level, _ := config.ParseLogLevel(cfg.LogLevel)
	return config.NewLogger(w, level, cfg.LogFormat)
}
