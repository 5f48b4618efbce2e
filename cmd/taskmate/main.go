// Taskmate is a task manager with a REST API and a chat agent that
// manages tasks through tool calls.
//
// Configuration is loaded from a single YAML or TOML file discovered
// automatically (see [config.DefaultSearchPaths]).
//
// Usage:
//
//	taskmate serve                          Start the API server
//	taskmate init [dir]                     Write a default config.yaml
//	taskmate chat -user <name> <message>    Run one chat turn and print tool records
//	taskmate adduser <name> <email> [pw]    Create a user and print its API token
//	taskmate token <name>                   Print (or create) a user's API token
//	taskmate history [-user <name>]         List persisted conversations
//	taskmate usage [-since 24h]             Summarize model token usage and cost
//	taskmate version                        Print version and build information
//	taskmate -o json version                Output version information as JSON
package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"sort"
	"strconv"
	"strings"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/nugget/taskmate/internal/api"
	"github.com/nugget/taskmate/internal/buildinfo"
	"github.com/nugget/taskmate/internal/config"
	"github.com/nugget/taskmate/internal/mqtt"
)

func main() {
	ctx := context.Background()

	if err := run(ctx, os.Stdout, os.Stderr, os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "%s\n", err)
		os.Exit(1)
	}
}

// run is the real entry point. Arguments are parsed by hand so that
// tests can call run concurrently without the flag package's globals.
// Structured logs from serve go to stdout; one-shot commands log to
// stderr so their output stays machine readable.
func run(ctx context.Context, stdout io.Writer, stderr io.Writer, args []string) error {
	var configPath string
	var outputFmt string
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
	case "init":
		dir := "."
		if len(cmdArgs) > 0 {
			dir = cmdArgs[0]
		}
		return runInit(stdout, dir)
	case "chat":
		return runChat(ctx, stdout, stderr, configPath, cmdArgs)
	case "adduser":
		if len(cmdArgs) < 2 {
			return fmt.Errorf("usage: taskmate adduser <username> <email> [password]")
		}
		return runAddUser(ctx, stdout, stderr, configPath, cmdArgs)
	case "token":
		if len(cmdArgs) != 1 {
			return fmt.Errorf("usage: taskmate token <username>")
		}
		return runToken(ctx, stdout, stderr, configPath, cmdArgs[0])
	case "history":
		return runHistory(ctx, stdout, stderr, configPath, outputFmt, cmdArgs)
	case "usage":
		return runUsage(ctx, stdout, stderr, configPath, outputFmt, cmdArgs)
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
	fmt.Fprintln(w, "Taskmate - task manager with a chat agent")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Usage: taskmate [flags] <command> [args]")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Commands:")
	fmt.Fprintln(w, "  serve                         Start the API server")
	fmt.Fprintln(w, "  init [dir]                    Write a default config.yaml (default: .)")
	fmt.Fprintln(w, "  chat -user <name> <message>   Run one chat turn as a user")
	fmt.Fprintln(w, "  adduser <name> <email> [pw]   Create a user")
	fmt.Fprintln(w, "  token <name>                  Print a user's API token")
	fmt.Fprintln(w, "  history [-user <name>] [-n N] List persisted conversations")
	fmt.Fprintln(w, "  usage [-user <name>] [-since D] Summarize model token usage and cost")
	fmt.Fprintln(w, "  version                       Show version information")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Flags:")
	fmt.Fprintln(w, "  -config <path>    Path to config file (default: auto-discover)")
	fmt.Fprintln(w, "  -o, --output fmt  Output format: text (default) or json")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Config search order:")
	fmt.Fprintln(w, "  "+strings.Join(config.DefaultSearchPaths(), ", "))
	return nil
}

// runServe loads config, builds every component, and serves the API
// until SIGINT or SIGTERM. The MQTT publisher runs alongside when a
// broker is configured.
func runServe(ctx context.Context, stdout io.Writer, configPath string) error {
	logger := config.NewLogger(stdout, slog.LevelInfo, "text")
	logger.Info("starting Taskmate", "version", buildinfo.Version, "commit", buildinfo.GitCommit, "branch", buildinfo.GitBranch, "built", buildinfo.BuildTime)

	cfg, cfgPath, err := loadConfig(configPath)
	if err != nil {
		return err
	}
	logger = configuredLogger(stdout, cfg)
	logger.Info("config loaded",
		"path", cfgPath,
		"port", cfg.Listen.Port,
		"database", cfg.Database.Driver,
		"provider", cfg.LLM.Provider,
		"model", cfg.LLM.Model,
	)

	ctx, cancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	a, err := newApp(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer a.Close()

	if a.saver != nil && cfg.Checkpoint.Retention > 0 {
		n, err := a.saver.Prune(ctx, cfg.Checkpoint.Retention)
		if err != nil {
			logger.Warn("checkpoint prune failed", "error", err)
		} else {
			logger.Info("pruned idle conversations", "removed", n, "retention", cfg.Checkpoint.Retention)
		}
	}

	server := api.NewServer(cfg.Listen.Address, cfg.Listen.Port, a.store, a.auth, a.chat, logger)
	server.SetEnums(a.enums)
	server.SetEvents(a.bus)
	server.SetMetrics(a.metrics)
	server.SetRateLimit(cfg.Auth.RateLimitPerMinute)
	server.SetMaxConnections(cfg.Listen.MaxConnections)
	server.SetUsage(a.usage)

	watcher, err := a.watchDependencies(ctx)
	if err != nil {
		return err
	}
	defer watcher.Stop()
	server.SetHealth(watcher)

	var pub *mqtt.Publisher
	if cfg.MQTT.Configured() {
		pub = mqtt.New(cfg.MQTT, a.bus, logger)
		logger.Info("mqtt publishing enabled", "broker", cfg.MQTT.Broker, "topic_prefix", cfg.MQTT.TopicPrefix)
	} else {
		logger.Info("mqtt publishing disabled (not configured)")
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		if err := server.Start(gctx); err != nil {
			return fmt.Errorf("server failed: %w", err)
		}
		return nil
	})
	if pub != nil {
		g.Go(func() error { return pub.Start(gctx) })
	}
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutdown signal received")

		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer shutdownCancel()
		if pub != nil {
			if err := pub.Stop(shutdownCtx); err != nil {
				logger.Error("mqtt shutdown failed", "error", err)
			}
		}
		return server.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	logger.Info("Taskmate stopped")
	return nil
}

// runChat runs a single chat turn as the named user and prints the
// resulting tool records as JSON.
func runChat(ctx context.Context, stdout, stderr io.Writer, configPath string, args []string) error {
	username, rest, err := takeFlag(args, "-user")
	if err != nil {
		return err
	}
	if username == "" || len(rest) == 0 {
		return fmt.Errorf("usage: taskmate chat -user <username> <message>")
	}

	cfg, _, err := loadConfig(configPath)
	if err != nil {
		return err
	}
	logger := configuredLogger(stderr, cfg)

	a, err := newApp(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer a.Close()

	user, err := a.store.GetUserByUsername(ctx, username)
	if err != nil {
		return fmt.Errorf("user %q: %w", username, err)
	}

	records, err := a.chat.ProcessChat(ctx, strings.Join(rest, " "), user.ID)
	if err != nil {
		return err
	}

	enc := json.NewEncoder(stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(records)
}

// runHistory lists persisted conversations, newest first. It needs
// checkpoint.persist; without it there is nothing to list.
func runHistory(ctx context.Context, stdout, stderr io.Writer, configPath, outputFmt string, args []string) error {
	username, rest, err := takeFlag(args, "-user")
	if err != nil {
		return err
	}
	limitArg, rest, err := takeFlag(rest, "-n")
	if err != nil {
		return err
	}
	if len(rest) > 0 {
		return fmt.Errorf("usage: taskmate history [-user <username>] [-n <limit>]")
	}
	limit := 20
	if limitArg != "" {
		if limit, err = strconv.Atoi(limitArg); err != nil || limit <= 0 {
			return fmt.Errorf("invalid limit %q", limitArg)
		}
	}

	cfg, _, err := loadConfig(configPath)
	if err != nil {
		return err
	}
	if !cfg.Checkpoint.Persist {
		return fmt.Errorf("conversation history requires checkpoint.persist")
	}
	a, err := newApp(ctx, cfg, configuredLogger(stderr, cfg))
	if err != nil {
		return err
	}
	defer a.Close()

	var actorID int64
	if username != "" {
		u, err := a.store.GetUserByUsername(ctx, username)
		if err != nil {
			return fmt.Errorf("user %q: %w", username, err)
		}
		actorID = u.ID
	}

	summaries, err := a.saver.List(ctx, actorID, limit)
	if err != nil {
		return err
	}
	if outputFmt == "json" {
		enc := json.NewEncoder(stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(summaries)
	}
	for _, s := range summaries {
		fmt.Fprintf(stdout, "%s  actor=%d  messages=%d  updated=%s\n",
			s.ConversationID, s.ActorID, s.MessageCount, s.UpdatedAt.Format(time.RFC3339))
	}
	return nil
}

// runUsage prints token and cost totals for the last -since window
// (default 720h), overall and per model.
func runUsage(ctx context.Context, stdout, stderr io.Writer, configPath, outputFmt string, args []string) error {
	username, rest, err := takeFlag(args, "-user")
	if err != nil {
		return err
	}
	sinceArg, rest, err := takeFlag(rest, "-since")
	if err != nil {
		return err
	}
	if len(rest) > 0 {
		return fmt.Errorf("usage: taskmate usage [-user <username>] [-since <duration>]")
	}
	window := 720 * time.Hour
	if sinceArg != "" {
		if window, err = time.ParseDuration(sinceArg); err != nil || window <= 0 {
			return fmt.Errorf("invalid duration %q", sinceArg)
		}
	}

	cfg, _, err := loadConfig(configPath)
	if err != nil {
		return err
	}
	a, err := newApp(ctx, cfg, configuredLogger(stderr, cfg))
	if err != nil {
		return err
	}
	defer a.Close()

	var actorID int64
	if username != "" {
		u, err := a.store.GetUserByUsername(ctx, username)
		if err != nil {
			return fmt.Errorf("user %q: %w", username, err)
		}
		actorID = u.ID
	}

	until := time.Now().UTC()
	since := until.Add(-window)
	total, err := a.usage.Summary(ctx, actorID, since, until)
	if err != nil {
		return err
	}
	byModel, err := a.usage.SummaryByModel(ctx, actorID, since, until)
	if err != nil {
		return err
	}

	if outputFmt == "json" {
		enc := json.NewEncoder(stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(map[string]any{"since": since, "until": until, "total": total, "by_model": byModel})
	}
	fmt.Fprintf(stdout, "%-24s %8d calls  %10d in  %10d out  $%.4f\n",
		"total", total.Records, total.InputTokens, total.OutputTokens, total.CostUSD)
	models := make([]string, 0, len(byModel))
	for m := range byModel {
		models = append(models, m)
	}
	sort.Strings(models)
	for _, m := range models {
		s := byModel[m]
		fmt.Fprintf(stdout, "%-24s %8d calls  %10d in  %10d out  $%.4f\n",
			m, s.Records, s.InputTokens, s.OutputTokens, s.CostUSD)
	}
	return nil
}

// takeFlag removes "name value" from args and returns the value and the
// remaining arguments.
func takeFlag(args []string, name string) (string, []string, error) {
	var value string
	rest := make([]string, 0, len(args))
	for i := 0; i < len(args); i++ {
		switch {
		case args[i] == name:
			if i+1 >= len(args) {
				return "", nil, fmt.Errorf("%s requires a value", name)
			}
			value = args[i+1]
			i++
		case strings.HasPrefix(args[i], name+"="):
			value = strings.TrimPrefix(args[i], name+"=")
		default:
			rest = append(rest, args[i])
		}
	}
	return value, rest, nil
}

// loadConfig locates and parses the configuration file. An explicit
// path must exist; otherwise the default locations are searched.
func loadConfig(explicit string) (*config.Config, string, error) {
	cfgPath, err := config.FindConfig(explicit)
	if err != nil {
		return nil, "", err
	}

	cfg, err := config.Load(cfgPath)
	if err != nil {
		return nil, cfgPath, fmt.Errorf("load config %s: %w", cfgPath, err)
	}

	return cfg, cfgPath, nil
}

// configuredLogger builds the logger described by cfg. The level was
// validated by config.Load.
func configuredLogger(w io.Writer, cfg *config.Config) *slog.Logger {
	level, _ := config.ParseLogLevel(cfg.LogLevel)
	return config.NewLogger(w, level, cfg.LogFormat)
}
