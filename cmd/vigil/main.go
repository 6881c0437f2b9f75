package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"gopkg.in/yaml.v3"

	"github.com/mattjoyce/vigil/internal/api"
	"github.com/mattjoyce/vigil/internal/config"
	"github.com/mattjoyce/vigil/internal/dispatch"
	"github.com/mattjoyce/vigil/internal/doctor"
	"github.com/mattjoyce/vigil/internal/events"
	"github.com/mattjoyce/vigil/internal/history"
	"github.com/mattjoyce/vigil/internal/lock"
	"github.com/mattjoyce/vigil/internal/log"
	"github.com/mattjoyce/vigil/internal/storage"
	"github.com/mattjoyce/vigil/internal/watcher"
)

const version = "0.2.0"

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	cmd := os.Args[1]
	args := os.Args[2:]

	switch cmd {
	// --- NOUNS ---
	case "system":
		os.Exit(runSystemNoun(args))
	case "config":
		os.Exit(runConfigNoun(args))
	case "rule":
		os.Exit(runRuleNoun(args))

	// --- ROOT ALIASES ---
	case "start":
		os.Exit(runStart(args))
	case "run":
		os.Exit(runOnce(args))
	case "version":
		fmt.Printf("vigil version %s\n", version)
		os.Exit(0)
	case "help", "--help", "-h":
		printUsage()
		os.Exit(0)

	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n\n", cmd)
		printUsage()
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Print(`vigil - YAML-configured file-watch rule dispatcher

Usage:
  vigil <noun> <action> [flags]

System Commands:
  system start      Watch configured paths and dispatch matching rules
                    (--once <path> dispatches one path and exits)
  start             Alias for 'system start'

Rule Commands:
  rule list         Show loaded rule groups and their predicates
  rule test <path>  Evaluate predicates against a path (runs nothing)

Config Commands:
  config check      Validate config against the host environment
  config lock       Write integrity checksums for the current config
  config show       Dump the effective configuration

One-shot:
  run <path>        Dispatch a single path as if it had changed, then exit

General:
  version           Show version information
  help              Show this help message

Common flags:
  --config <path>   Config file (default: $VIGIL_CONFIG, ./vigil.yaml,
                    ~/.config/vigil/vigil.yaml)
`)
}

// --- NOUN DISPATCHERS ---

func runSystemNoun(args []string) int {
	if len(args) < 1 {
		fmt.Fprintln(os.Stderr, "Usage: vigil system start [flags]")
		return 1
	}

	switch args[0] {
	case "start":
		return runStart(args[1:])
	case "help", "--help", "-h":
		fmt.Println("Usage: vigil system start [--config path]")
		return 0
	default:
		fmt.Fprintf(os.Stderr, "Unknown system action: %s\n", args[0])
		return 1
	}
}

func runConfigNoun(args []string) int {
	if len(args) < 1 {
		fmt.Fprintln(os.Stderr, "Usage: vigil config <check|lock|show> [flags]")
		return 1
	}

	switch args[0] {
	case "check":
		return runConfigCheck(args[1:])
	case "lock":
		return runConfigLock(args[1:])
	case "show":
		return runConfigShow(args[1:])
	case "help", "--help", "-h":
		fmt.Println("Usage: vigil config <check|lock|show> [--config path]")
		return 0
	default:
		fmt.Fprintf(os.Stderr, "Unknown config action: %s\n", args[0])
		return 1
	}
}

func runRuleNoun(args []string) int {
	if len(args) < 1 {
		fmt.Fprintln(os.Stderr, "Usage: vigil rule <list|test> [flags]")
		return 1
	}

	switch args[0] {
	case "list":
		return runRuleList(args[1:])
	case "test":
		return runRuleTest(args[1:])
	case "help", "--help", "-h":
		fmt.Println("Usage: vigil rule <list|test <path>> [--config path]")
		return 0
	default:
		fmt.Fprintf(os.Stderr, "Unknown rule action: %s\n", args[0])
		return 1
	}
}

// --- ACTIONS ---

func runStart(args []string) int {
	fs := flag.NewFlagSet("start", flag.ExitOnError)
	configPath := fs.String("config", "", "Path to configuration file")
	oncePath := fs.String("once", "", "Dispatch a single path then exit (no watcher)")
	if err := fs.Parse(args); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to parse flags: %v\n", err)
		return 1
	}

	if *oncePath != "" {
		var onceArgs []string
		if *configPath != "" {
			onceArgs = append(onceArgs, "--config", *configPath)
		}
		return runOnce(append(onceArgs, *oncePath))
	}

	cfg, resolvedPath, err := loadConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		return 1
	}

	log.Setup(cfg.Service.LogLevel)
	logger := log.WithComponent("main")
	logger.Info("vigil starting", "version", version, "config", resolvedPath)

	integrity, err := config.VerifyIntegrity(resolvedPath)
	if err != nil {
		logger.Warn("integrity check failed", "error", err)
	} else {
		for _, w := range integrity.Warnings {
			logger.Warn("integrity", "detail", w)
		}
	}

	rules, err := cfg.RuleSet()
	if err != nil {
		logger.Error("failed to compile rules", "error", err)
		return 1
	}
	logger.Info("rules compiled", "count", rules.Len())

	lockPath := filepath.Join(filepath.Dir(cfg.History.Path), "vigil.lock")
	pidLock, err := lock.Acquire(lockPath)
	if err != nil {
		logger.Error("failed to acquire PID lock (another instance may be running)", "path", lockPath, "error", err)
		return 1
	}
	defer pidLock.Release()
	logger.Info("acquired PID lock", "path", lockPath)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	db, err := storage.OpenSQLite(ctx, cfg.History.Path)
	if err != nil {
		logger.Error("failed to open history database", "path", cfg.History.Path, "error", err)
		return 1
	}
	defer db.Close()

	store := history.NewStore(db)
	if purged, err := store.Purge(ctx, cfg.History.Retention); err != nil {
		logger.Warn("history purge failed", "error", err)
	} else if purged > 0 {
		logger.Info("purged old run history", "rows", purged)
	}

	hub := events.NewHub(256)

	w, err := watcher.New(watcher.Config{
		Paths:    cfg.Watch.Paths,
		Ignore:   cfg.Watch.Ignore,
		Debounce: cfg.Service.Debounce,
	})
	if err != nil {
		logger.Error("failed to start watcher", "paths", cfg.Watch.Paths, "error", err)
		return 1
	}
	defer w.Close()
	logger.Info("watching", "paths", cfg.Watch.Paths, "debounce", cfg.Service.Debounce.String())

	disp := dispatch.New(rules, cfg.Service.ShellPath, hub, store)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	errCh := make(chan error, 2)

	go func() {
		if err := disp.Run(ctx, w.Events()); err != nil && err != context.Canceled {
			errCh <- fmt.Errorf("dispatcher: %w", err)
		}
	}()

	if cfg.API.Enabled {
		apiServer := api.New(api.Config{
			Listen: cfg.API.Listen,
			APIKey: cfg.API.Auth.APIKey,
		}, rules, store, hub, log.WithComponent("api"))
		go func() {
			if err := apiServer.Start(ctx); err != nil && err != context.Canceled {
				errCh <- fmt.Errorf("api: %w", err)
			}
		}()
		logger.Info("status API enabled", "listen", cfg.API.Listen)
	}

	logger.Info("vigil running (press Ctrl+C to stop)")

	select {
	case sig := <-sigCh:
		logger.Info("received shutdown signal", "signal", sig.String())
		cancel()
	case err := <-errCh:
		logger.Error("component failed", "error", err)
		cancel()
		return 1
	}

	logger.Info("vigil stopped")
	return 0
}

func runOnce(args []string) int {
	fs := flag.NewFlagSet("run", flag.ExitOnError)
	configPath := fs.String("config", "", "Path to configuration file")
	if err := fs.Parse(args); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to parse flags: %v\n", err)
		return 1
	}
	if fs.NArg() != 1 {
		fmt.Fprintln(os.Stderr, "Usage: vigil run <path> [--config path]")
		return 1
	}
	path := fs.Arg(0)

	cfg, _, err := loadConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		return 1
	}

	log.Setup(cfg.Service.LogLevel)

	rules, err := cfg.RuleSet()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to compile rules: %v\n", err)
		return 1
	}

	disp := dispatch.New(rules, cfg.Service.ShellPath, nil, nil)
	result := disp.Dispatch(context.Background(), path)

	if len(result.Matched) == 0 {
		fmt.Printf("No rule matched %s\n", path)
		return 0
	}
	if !result.Succeeded() {
		return 1
	}
	return 0
}

func runRuleList(args []string) int {
	fs := flag.NewFlagSet("list", flag.ExitOnError)
	configPath := fs.String("config", "", "Path to configuration file")
	if err := fs.Parse(args); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to parse flags: %v\n", err)
		return 1
	}

	cfg, _, err := loadConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		return 1
	}

	rules, err := cfg.RuleSet()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to compile rules: %v\n", err)
		return 1
	}

	for _, g := range rules.Groups() {
		pred := "any path"
		if g.When != nil {
			pred = g.When.Describe()
		}
		fmt.Printf("%s\n  when: %s\n", g.Name, pred)
		if len(g.Env) > 0 {
			fmt.Printf("  env: %d override(s)\n", len(g.Env))
		}
		if len(g.Commands) == 0 {
			fmt.Println("  commands: (none)")
			continue
		}
		for _, c := range g.Commands {
			fmt.Printf("  - %s: %s\n", c.Name, c.Run)
		}
	}
	return 0
}

func runRuleTest(args []string) int {
	fs := flag.NewFlagSet("test", flag.ExitOnError)
	configPath := fs.String("config", "", "Path to configuration file")
	if err := fs.Parse(args); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to parse flags: %v\n", err)
		return 1
	}
	if fs.NArg() != 1 {
		fmt.Fprintln(os.Stderr, "Usage: vigil rule test <path> [--config path]")
		return 1
	}
	path := fs.Arg(0)

	cfg, _, err := loadConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		return 1
	}

	rules, err := cfg.RuleSet()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to compile rules: %v\n", err)
		return 1
	}

	matched := rules.Matching(path)
	if len(matched) == 0 {
		fmt.Printf("%s matches no rules\n", path)
		return 0
	}
	fmt.Printf("%s matches:\n", path)
	for _, g := range matched {
		fmt.Printf("  %s (%d command(s))\n", g.Name, len(g.Commands))
	}
	return 0
}

func runConfigCheck(args []string) int {
	fs := flag.NewFlagSet("check", flag.ExitOnError)
	configPath := fs.String("config", "", "Path to configuration file")
	jsonOut := fs.Bool("json", false, "Output in structured JSON format")
	if err := fs.Parse(args); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to parse flags: %v\n", err)
		return 1
	}

	cfg, resolvedPath, err := loadConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Load error: %v\n", err)
		return 1
	}

	result := doctor.New(cfg, resolvedPath).Validate()

	if *jsonOut {
		data, _ := json.MarshalIndent(result, "", "  ")
		fmt.Println(string(data))
	} else {
		for _, e := range result.Errors {
			fmt.Printf("ERROR [%s] %s\n", e.Category, e.Message)
		}
		for _, w := range result.Warnings {
			fmt.Printf("WARN  [%s] %s\n", w.Category, w.Message)
		}
		if result.Valid {
			fmt.Println("Status: configuration check PASSED")
		} else {
			fmt.Println("Status: configuration check FAILED")
		}
	}

	if !result.Valid {
		return 1
	}
	return 0
}

func runConfigLock(args []string) int {
	fs := flag.NewFlagSet("lock", flag.ExitOnError)
	configPath := fs.String("config", "", "Path to configuration file")
	if err := fs.Parse(args); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to parse flags: %v\n", err)
		return 1
	}

	_, resolvedPath, err := loadConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Load error: %v\n", err)
		return 1
	}

	manifestPath, err := config.WriteChecksums(resolvedPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to write checksums: %v\n", err)
		return 1
	}
	fmt.Printf("Wrote %s\n", manifestPath)
	return 0
}

func runConfigShow(args []string) int {
	fs := flag.NewFlagSet("show", flag.ExitOnError)
	configPath := fs.String("config", "", "Path to configuration file")
	jsonOut := fs.Bool("json", false, "Output in structured JSON format")
	if err := fs.Parse(args); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to parse flags: %v\n", err)
		return 1
	}

	cfg, _, err := loadConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Load error: %v\n", err)
		return 1
	}

	if *jsonOut {
		data, _ := json.MarshalIndent(cfg, "", "  ")
		fmt.Println(string(data))
	} else {
		data, _ := yaml.Marshal(cfg)
		fmt.Print(string(data))
	}
	return 0
}

// loadConfig resolves the config path (explicit flag or discovery) and loads it.
func loadConfig(configPath string) (*config.Config, string, error) {
	if configPath == "" {
		discovered, err := config.Discover()
		if err != nil {
			return nil, "", err
		}
		configPath = discovered
	}

	abs, err := filepath.Abs(configPath)
	if err != nil {
		return nil, "", err
	}
	if info, statErr := os.Stat(abs); statErr == nil && info.IsDir() {
		abs = filepath.Join(abs, "vigil.yaml")
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, "", err
	}
	return cfg, abs, nil
}
