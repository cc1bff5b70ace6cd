package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/jvasek/meshbot/internal/api"
	"github.com/jvasek/meshbot/internal/builtin"
	"github.com/jvasek/meshbot/internal/command"
	"github.com/jvasek/meshbot/internal/config"
	"github.com/jvasek/meshbot/internal/dispatch"
	"github.com/jvasek/meshbot/internal/lock"
	"github.com/jvasek/meshbot/internal/log"
	"github.com/jvasek/meshbot/internal/mailbox"
	"github.com/jvasek/meshbot/internal/mesh"
	"github.com/jvasek/meshbot/internal/plugin"
	"github.com/jvasek/meshbot/internal/telemetry"
	"github.com/jvasek/meshbot/internal/tui/watch"
	"github.com/jvasek/meshbot/internal/weather"
)

var (
	version   = "0.1.0-dev"
	gitCommit = "unknown"
	buildDate = "unknown"
)

func main() {
	os.Exit(runCLI(os.Args[1:]))
}

func runCLI(cliArgs []string) int {
	if len(cliArgs) < 1 {
		printUsage()
		return 1
	}

	cmd := cliArgs[0]
	args := cliArgs[1:]

	switch cmd {
	case "start":
		return runStart(args)
	case "config":
		return runConfigNoun(args)
	case "plugin":
		return runPluginNoun(args)
	case "watch":
		return runWatch(args)
	case "version", "--version":
		return runVersion(args)
	case "help", "--help", "-h":
		printUsage()
		return 0
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n\n", cmd)
		printUsage()
		return 1
	}
}

func printUsage() {
	fmt.Println("Usage: meshbot <command> [flags]")
	fmt.Println()
	fmt.Println("Commands:")
	fmt.Println("  start            Run the bot (blocking)")
	fmt.Println("  config check     Validate configuration and integrity hashes")
	fmt.Println("  config lock      Regenerate configuration integrity hashes")
	fmt.Println("  plugin list      Show plugins discovered in the plugins directory")
	fmt.Println("  watch            Live status TUI over the API")
	fmt.Println("  version          Print version metadata")
	fmt.Println()
	fmt.Println("Run 'meshbot <command> --help' for command flags.")
}

func runConfigNoun(args []string) int {
	if len(args) < 1 {
		fmt.Fprintln(os.Stderr, "Usage: meshbot config <check|lock> [flags]")
		return 1
	}
	switch args[0] {
	case "check":
		return runConfigCheck(args[1:])
	case "lock":
		return runConfigLock(args[1:])
	default:
		fmt.Fprintf(os.Stderr, "Unknown config action: %s\n", args[0])
		return 1
	}
}

func runPluginNoun(args []string) int {
	if len(args) < 1 || args[0] != "list" {
		fmt.Fprintln(os.Stderr, "Usage: meshbot plugin list [flags]")
		return 1
	}
	return runPluginList(args[1:])
}

type versionInfo struct {
	Version   string `json:"version"`
	Commit    string `json:"commit"`
	BuildTime string `json:"build_time"`
}

func runVersion(args []string) int {
	fs := flag.NewFlagSet("version", flag.ContinueOnError)
	jsonOut := fs.Bool("json", false, "Output version metadata as JSON")
	if err := fs.Parse(args); err != nil {
		return 1
	}

	if *jsonOut {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		_ = enc.Encode(versionInfo{Version: version, Commit: gitCommit, BuildTime: buildDate})
		return 0
	}
	fmt.Printf("meshbot %s (commit %s, built %s)\n", version, gitCommit, buildDate)
	return 0
}

func runConfigCheck(args []string) int {
	fs := flag.NewFlagSet("config check", flag.ContinueOnError)
	configPath := fs.String("config", "./config.yaml", "Path to configuration file or directory")
	if err := fs.Parse(args); err != nil {
		return 1
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Config invalid: %v\n", err)
		return 1
	}
	if err := config.VerifyChecksums(*configPath); err != nil {
		fmt.Fprintf(os.Stderr, "Integrity check failed: %v\n", err)
		return 1
	}

	fmt.Printf("Config OK: device=%s channel=%d prefix=%q plugins=%s\n",
		cfg.Device, cfg.ChannelIndex, cfg.CommandPrefix, cfg.PluginsDir)
	return 0
}

func runConfigLock(args []string) int {
	fs := flag.NewFlagSet("config lock", flag.ContinueOnError)
	configPath := fs.String("config", "./config.yaml", "Path to configuration file or directory")
	if err := fs.Parse(args); err != nil {
		return 1
	}

	if _, err := config.Load(*configPath); err != nil {
		fmt.Fprintf(os.Stderr, "Refusing to lock invalid config: %v\n", err)
		return 1
	}
	if err := config.WriteChecksums(*configPath); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to write checksums: %v\n", err)
		return 1
	}
	fmt.Println("Configuration hashes regenerated.")
	return 0
}

func runPluginList(args []string) int {
	fs := flag.NewFlagSet("plugin list", flag.ContinueOnError)
	configPath := fs.String("config", "./config.yaml", "Path to configuration file or directory")
	jsonOut := fs.Bool("json", false, "Output as JSON")
	if err := fs.Parse(args); err != nil {
		return 1
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		return 1
	}
	log.Setup("ERROR", "text")

	reg := command.NewRegistry()
	if err := builtin.RegisterAll(reg, builtin.Options{Prefix: cfg.CommandPrefix}); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to register built-ins: %v\n", err)
		return 1
	}
	reports, err := plugin.Load(cfg.PluginsDir, reg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Plugin scan failed: %v\n", err)
		return 1
	}

	if *jsonOut {
		type row struct {
			Name     string   `json:"name"`
			Path     string   `json:"path"`
			Commands []string `json:"commands"`
			Skipped  []string `json:"skipped,omitempty"`
			Error    string   `json:"error,omitempty"`
		}
		rows := make([]row, 0, len(reports))
		for _, r := range reports {
			rows = append(rows, row{Name: r.Name, Path: r.Path, Commands: r.Commands, Skipped: r.Skipped, Error: r.Error()})
		}
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		_ = enc.Encode(rows)
		return 0
	}

	if len(reports) == 0 {
		fmt.Printf("No plugins found in %s\n", cfg.PluginsDir)
		return 0
	}
	for _, r := range reports {
		switch {
		case r.Err != nil:
			fmt.Printf("FAIL  %-12s %s (%v)\n", r.Name, r.Path, r.Err)
		case len(r.Skipped) > 0:
			fmt.Printf("OK    %-12s commands: %s (skipped: %s)\n",
				r.Name, strings.Join(r.Commands, ", "), strings.Join(r.Skipped, ", "))
		default:
			fmt.Printf("OK    %-12s commands: %s\n", r.Name, strings.Join(r.Commands, ", "))
		}
	}
	return 0
}

func runWatch(args []string) int {
	fs := flag.NewFlagSet("watch", flag.ContinueOnError)
	apiURL := fs.String("api-url", "http://127.0.0.1:8080", "Bot API URL")
	apiKey := fs.String("api-key", os.Getenv("MESHBOT_API_KEY"), "API Bearer token")
	if err := fs.Parse(args); err != nil {
		return 1
	}

	if *apiKey == "" {
		fmt.Fprintln(os.Stderr, "Error: API key required. Use --api-key or MESHBOT_API_KEY env var.")
		return 1
	}

	if err := watch.Run(*apiURL, *apiKey); err != nil {
		fmt.Fprintf(os.Stderr, "TUI error: %v\n", err)
		return 1
	}
	return 0
}

func runStart(args []string) int {
	fs := flag.NewFlagSet("start", flag.ContinueOnError)
	configPath := fs.String("config", "./config.yaml", "Path to configuration file or directory")
	if err := fs.Parse(args); err != nil {
		return 1
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		return 1
	}
	if err := config.VerifyChecksums(*configPath); err != nil {
		fmt.Fprintf(os.Stderr, "Config integrity check failed: %v\n", err)
		return 1
	}

	log.Setup(cfg.Log.Level, cfg.Log.Format)
	logger := log.WithComponent("main")
	logger.Info("meshbot starting", "version", version, "config", *configPath)

	held, err := lock.Acquire(cfg.LockPath)
	if err != nil {
		logger.Error("failed to acquire instance lock", "path", cfg.LockPath, "error", err)
		return 1
	}
	defer held.Release()
	logger.Info("acquired instance lock", "path", held.Path())

	box, err := mailbox.Open(cfg.Mailbox.Path, mailbox.Options{
		MaxBodyLen:    cfg.Mailbox.MaxBodyLen,
		QueueCapacity: cfg.Mailbox.QueueCapacity,
		Retention:     cfg.Mailbox.Retention,
	})
	if err != nil {
		logger.Error("failed to open mailbox", "path", cfg.Mailbox.Path, "error", err)
		return 1
	}
	defer box.Close()
	logger.Info("mailbox open", "path", cfg.Mailbox.Path)

	radio, err := mesh.Dial(cfg.Device)
	if err != nil {
		logger.Error("failed to connect to radio daemon", "device", cfg.Device, "error", err)
		return 1
	}
	defer radio.Close()
	logger.Info("radio connected", "device", cfg.Device)

	tracker := telemetry.New()
	reg := command.NewRegistry()
	if err := builtin.RegisterAll(reg, builtin.Options{
		Weather:             weather.New(cfg.Weather.Units, cfg.Weather.Lang),
		WeatherDefaultPlace: cfg.Weather.DefaultPlace,
		Prefix:              cfg.CommandPrefix,
	}); err != nil {
		logger.Error("failed to register built-in commands", "error", err)
		return 1
	}

	reports, err := plugin.Load(cfg.PluginsDir, reg)
	if err != nil {
		logger.Error("plugin scan failed", "plugins_dir", cfg.PluginsDir, "error", err)
		return 1
	}
	logger.Info("plugin load complete", "total", len(reports), "commands", len(reg.All()))

	env := &command.Env{
		Mailbox:      box,
		Telemetry:    tracker,
		Mesh:         radio,
		Logger:       log.WithComponent("handler"),
		ChannelIndex: cfg.ChannelIndex,
		MaxReplyLen:  cfg.MaxReplyLen,
	}
	disp := dispatch.New(cfg, reg, env)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	errCh := make(chan error, 2)

	go func() {
		if err := disp.Run(ctx); err != nil && err != context.Canceled {
			errCh <- fmt.Errorf("dispatch: %w", err)
		}
	}()

	if cfg.API.Enabled {
		srv := api.New(api.Config{Listen: cfg.API.Listen, Key: cfg.API.Key},
			reg, box, tracker, radio, reports, cfg.ChannelIndex)
		go func() {
			if err := srv.Start(ctx); err != nil && err != context.Canceled {
				errCh <- fmt.Errorf("api: %w", err)
			}
		}()
	}

	select {
	case sig := <-sigCh:
		logger.Info("received shutdown signal", "signal", sig)
		cancel()
	case err := <-errCh:
		logger.Error("component failed", "error", err)
		cancel()
		return 1
	}

	logger.Info("meshbot stopped")
	return 0
}
