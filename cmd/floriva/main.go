// Floriva is a plant monitor and irrigation controller.
//
// It samples air temperature, humidity, light and soil moisture,
// publishes telemetry to an MQTT broker, and switches a water pump on
// commands received over MQTT. Configuration is loaded from a single
// YAML file discovered automatically (see [config.DefaultSearchPaths]).
//
// Usage:
//
//	floriva serve          Run the monitor (default)
//	floriva init [dir]     Write a default config.yaml into dir
//	floriva version        Print version and build information
//	floriva -o json version
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/anndreipopa/Floriva/internal/buildinfo"
	"github.com/anndreipopa/Floriva/internal/calibration"
	"github.com/anndreipopa/Floriva/internal/command"
	"github.com/anndreipopa/Floriva/internal/config"
	"github.com/anndreipopa/Floriva/internal/connectivity"
	"github.com/anndreipopa/Floriva/internal/control"
	"github.com/anndreipopa/Floriva/internal/diag"
	"github.com/anndreipopa/Floriva/internal/events"
	"github.com/anndreipopa/Floriva/internal/hardware"
	"github.com/anndreipopa/Floriva/internal/metrics"
	"github.com/anndreipopa/Floriva/internal/mqtt"
	"github.com/anndreipopa/Floriva/internal/netlink"
	"github.com/anndreipopa/Floriva/internal/sampler"
)

// main constructs the OS-level environment (context, stdio, argv) and
// delegates to [run], keeping os.Exit and os.Args out of the
// application logic so the lifecycle can be driven from tests.
func main() {
	ctx := context.Background()

	if err := run(ctx, os.Stdout, os.Stderr, os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "%s\n", err)
		os.Exit(1)
	}
}

// run is the real entry point. Structured logs go to stdout; usage
// hints for bad invocations go to stderr. Arguments are parsed by hand
// so run can be called concurrently from tests without flag package
// globals.
func run(ctx context.Context, stdout io.Writer, stderr io.Writer, args []string) error {
	var configPath string
	var outputFmt string // "text" (default) or "json"
	var cmd string
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
		case !strings.HasPrefix(args[i], "-") && cmd == "":
			cmd = args[i]
		default:
			if cmd != "" {
				cmdArgs = append(cmdArgs, args[i])
			} else {
				printUsage(stderr)
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

	switch cmd {
	case "serve", "":
		return runServe(ctx, stdout, configPath)
	case "init":
		dir := "."
		if len(cmdArgs) > 0 {
			dir = cmdArgs[0]
		}
		return runInit(stdout, dir)
	case "version":
		return runVersion(stdout, outputFmt)
	default:
		printUsage(stderr)
		return fmt.Errorf("unknown command: %s", cmd)
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
	for _, k := range []string{"version", "sw_version", "git_commit", "git_branch", "build_time", "go_version", "platform"} {
		if v, ok := info[k]; ok {
			fmt.Fprintf(w, "  %-12s %s\n", k+":", v)
		}
	}
	return nil
}

// printUsage writes the top-level help text to w.
func printUsage(w io.Writer) error {
	fmt.Fprintln(w, "Floriva - plant monitor and irrigation controller")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Usage: floriva [flags] [command] [args]")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Commands:")
	fmt.Fprintln(w, "  serve        Run the monitor (default)")
	fmt.Fprintln(w, "  init [dir]   Write a default config.yaml (default: .)")
	fmt.Fprintln(w, "  version      Show version information")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Flags:")
	fmt.Fprintln(w, "  -config <path>    Path to config file (default: auto-discover)")
	fmt.Fprintln(w, "  -o, --output fmt  Output format: text (default) or json")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Config search order:")
	fmt.Fprintln(w, "  "+strings.Join(config.DefaultSearchPaths(), ", "))
	return nil
}

// runServe wires the components and runs the control loop until a
// signal arrives or ctx is cancelled.
func runServe(ctx context.Context, stdout io.Writer, configPath string) error {
	logger := newLogger(stdout, slog.LevelInfo, config.LogFormatText)
	logger.Info("starting Floriva", "version", buildinfo.Version, "commit", buildinfo.GitCommit, "branch", buildinfo.GitBranch, "built", buildinfo.BuildTime)

	cfg, cfgPath, err := loadConfig(configPath)
	if err != nil {
		return err
	}

	// ParseLogLevel was already checked by config.Validate.
	level, _ := config.ParseLogLevel(cfg.LogLevel)
	logger = newLogger(stdout, level, cfg.LogFormat)

	logger.Info("config loaded",
		"path", cfgPath,
		"driver", cfg.Hardware.Driver,
		"broker", cfg.MQTT.Broker,
		"device", cfg.MQTT.DeviceName,
	)

	// --- Metrics ---
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	m := metrics.New(reg)

	// --- Hardware ---
	// The pump is driven off before Open returns.
	hw, err := hardware.Open(cfg.Hardware, logger)
	if err != nil {
		return fmt.Errorf("open hardware: %w", err)
	}
	defer func() {
		if err := hw.Close(); err != nil {
			logger.Error("hardware close failed", "error", err)
		}
	}()

	// --- Sampling ---
	soilCal, err := calibration.New(cfg.Calibration.DryRaw, cfg.Calibration.WetRaw)
	if err != nil {
		return err
	}
	samp := sampler.New(sampler.Config{
		EnvInterval:     cfg.Sampling.EnvInterval,
		SoilInterval:    cfg.Sampling.SoilInterval,
		SoilSamples:     cfg.Sampling.SoilSamples,
		SoilSampleDelay: cfg.Sampling.SoilSampleDelay,
	}, sampler.Sensors{Air: hw, Light: hw, Soil: hw},
		soilCal, calibration.Air{TempOffset: *cfg.Calibration.TempOffset},
		time.Now(), m, logger)

	// --- MQTT ---
	inbox := mqtt.NewInbox(cfg.MQTT.InboxSize, cfg.MQTT.InboundRateLimit, m, logger)
	announcer := mqtt.NewAnnouncer(cfg.MQTT, mqtt.InstanceID(cfg.MQTT.DeviceName), cfg.Sampling.SoilPercentEnabled())
	channel, err := mqtt.NewChannel(mqtt.Options{
		Broker:    cfg.MQTT.Broker,
		Username:  cfg.MQTT.Username,
		Password:  cfg.MQTT.Password,
		CAFile:    cfg.MQTT.CAFile,
		KeepAlive: cfg.MQTT.KeepAlive,
		Will:      announcer.Will(),
		Logger:    logger,
	}, inbox.Deliver)
	if err != nil {
		return fmt.Errorf("mqtt: %w", err)
	}

	// --- Pump commands ---
	pump := command.NewPump(hw, m, logger)
	dispatcher := command.NewDispatcher(cfg.MQTT.PumpCommandTopic, pump, m, logger)

	// --- Connectivity ---
	var loop *control.Loop
	link := netlink.New(cfg.Network.Interface, cfg.Network.PollInterval, logger)
	supervisor := connectivity.New(connectivity.Config{
		CommandTopic:     cfg.MQTT.PumpCommandTopic,
		ClientIDPrefix:   cfg.MQTT.ClientIDPrefix,
		AssociateTimeout: cfg.Network.AssociateTimeout,
		ConnectTimeout:   cfg.MQTT.ConnectTimeout,
		Backoff: connectivity.BackoffConfig{
			InitialDelay: cfg.MQTT.RetryDelay,
			MaxDelay:     cfg.MQTT.RetryMaxDelay,
			Multiplier:   cfg.MQTT.RetryMultiplier,
		},
		OnReady: func(ctx context.Context) { loop.OnReady(ctx) },
		Logger:  logger,
	}, link, channel, m)

	// --- Control loop ---
	bus := events.New()
	board := diag.NewBoard(cfg.MQTT.DeviceName)
	loop = control.New(control.Config{
		TelemetryTopic:  cfg.MQTT.TelemetryTopic,
		PumpStatusTopic: cfg.MQTT.PumpStatusTopic,
		WithSoilPercent: cfg.Sampling.SoilPercentEnabled(),
		Tick:            cfg.Sampling.Tick,
	}, control.Deps{
		Supervisor: supervisor,
		Sampler:    samp,
		Inbox:      inbox,
		Dispatcher: dispatcher,
		Pump:       pump,
		Channel:    channel,
		Announcer:  announcer,
		Board:      board,
		Bus:        bus,
		Metrics:    m,
		Logger:     logger,
	})

	ctx, cancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	// --- Diagnostics ---
	if cfg.Diagnostics.Listen != "" {
		srv := diag.NewServer(cfg.Diagnostics, board, bus, reg, logger)
		go func() {
			if err := srv.Start(ctx); err != nil {
				logger.Error("diagnostics server failed", "error", err)
			}
		}()
		defer func() {
			shutdownCtx, done := context.WithTimeout(context.Background(), 5*time.Second)
			defer done()
			_ = srv.Shutdown(shutdownCtx)
		}()
	}

	if err := loop.Run(ctx); err != nil {
		return fmt.Errorf("control loop: %w", err)
	}

	logger.Info("Floriva stopped")
	return nil
}

// newLogger creates a structured logger that writes to w at the given
// level and format. Formats [config.ParseLogFormat] rejects fall back
// to text.
func newLogger(w io.Writer, level slog.Level, format string) *slog.Logger {
	opts := &slog.HandlerOptions{
		Level:       level,
		ReplaceAttr: config.ReplaceLogLevelNames,
	}
	var handler slog.Handler
	if f, _ := config.ParseLogFormat(format); f == config.LogFormatJSON {
		handler = slog.NewJSONHandler(w, opts)
	} else {
		handler = slog.NewTextHandler(w, opts)
	}
	return slog.New(handler)
}

// loadConfig locates and parses the YAML configuration file. If explicit
// is non-empty, that exact path is used (and must exist). Otherwise,
// [config.FindConfig] searches the default locations.
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
