// Command openbag-record loads a config file, opens the configured
// transport, and drives a Recorder until an interrupt or terminate signal
// arrives.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/openbag/openbag/internal/config"
	"github.com/openbag/openbag/internal/logging"
	"github.com/openbag/openbag/internal/recorder"
	"github.com/openbag/openbag/internal/schema"
	"github.com/openbag/openbag/transport"

	_ "github.com/openbag/openbag/transport/aws"
	_ "github.com/openbag/openbag/transport/channel"
	_ "github.com/openbag/openbag/transport/file"
	_ "github.com/openbag/openbag/transport/jetstream"
	_ "github.com/openbag/openbag/transport/kafka"
	_ "github.com/openbag/openbag/transport/nats"
	_ "github.com/openbag/openbag/transport/rabbitmq"
)

const appName = "openbag-record"

// cliConfig holds command-line configuration, with every flag except
// -validate and -version falling back to an OPENBAG_RECORD_* environment
// variable when unset.
type cliConfig struct {
	ConfigPath      string
	LogLevel        string
	LogFormat       string
	ShutdownTimeout time.Duration
	Validate        bool
	ShowVersion     bool
}

func parseFlags() *cliConfig {
	cfg := &cliConfig{}

	flag.StringVar(&cfg.ConfigPath, "config",
		getEnv("OPENBAG_RECORD_CONFIG", "configs/record.yaml"),
		"Path to configuration file (env: OPENBAG_RECORD_CONFIG)")
	flag.StringVar(&cfg.ConfigPath, "c",
		getEnv("OPENBAG_RECORD_CONFIG", "configs/record.yaml"),
		"Path to configuration file (env: OPENBAG_RECORD_CONFIG)")

	flag.StringVar(&cfg.LogLevel, "log-level",
		getEnv("OPENBAG_RECORD_LOG_LEVEL", "info"),
		"Log level: debug, info, warn, error (env: OPENBAG_RECORD_LOG_LEVEL)")

	flag.StringVar(&cfg.LogFormat, "log-format",
		getEnv("OPENBAG_RECORD_LOG_FORMAT", "text"),
		"Log format: json, text (env: OPENBAG_RECORD_LOG_FORMAT)")

	flag.DurationVar(&cfg.ShutdownTimeout, "shutdown-timeout",
		getEnvDuration("OPENBAG_RECORD_SHUTDOWN_TIMEOUT", 10*time.Second),
		"Graceful shutdown timeout (env: OPENBAG_RECORD_SHUTDOWN_TIMEOUT)")

	flag.BoolVar(&cfg.Validate, "validate", false, "Validate configuration and exit")
	flag.BoolVar(&cfg.ShowVersion, "version", false, "Show version information")

	flag.Usage = func() {
		_, _ = fmt.Fprintf(os.Stderr, "%s - record bus messages to a binary log\n\nUsage: %s [options]\n\nOptions:\n", appName, os.Args[0])
		flag.PrintDefaults()
	}
	flag.Parse()
	return cfg
}

func getEnv(key, defaultValue string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if parsed, err := time.ParseDuration(v); err == nil {
			return parsed
		}
	}
	return defaultValue
}

func setupLogger(level, format string) *slog.Logger {
	var lvl slog.Level
	switch level {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{Level: lvl}
	var handler slog.Handler
	if format == "json" {
		handler = slog.NewJSONHandler(os.Stderr, opts)
	} else {
		handler = slog.NewTextHandler(os.Stderr, opts)
	}
	return slog.New(handler)
}

func main() {
	if err := run(); err != nil {
		slog.Error("openbag-record failed", "error", err)
		os.Exit(1)
	}
}

func run() error {
	cli := parseFlags()

	if cli.ShowVersion {
		fmt.Println(appName, "version dev")
		return nil
	}

	slogger := setupLogger(cli.LogLevel, cli.LogFormat)
	slog.SetDefault(slogger)
	log := logging.NewSlogLogger(slogger)

	cfg, err := config.Load(cli.ConfigPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	if cli.Validate {
		slog.Info("configuration is valid")
		return nil
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	wire, err := transport.Build(ctx, &cfg.Transport, logging.ToWatermillAdapter(log))
	if err != nil {
		return fmt.Errorf("build transport %q: %w", cfg.Transport.GetPubSubSystem(), err)
	}
	factory := transport.WrapWatermill(wire)

	metrics := recorder.NewMetrics(nil)
	schemas := schema.New(nil)
	rec := recorder.New(cfg.Recorder, cfg.Storage, cfg.Buffer, schemas, factory, log, metrics)

	if err := rec.Start(); err != nil {
		return fmt.Errorf("start recorder: %w", err)
	}
	log.Info("recorder started", logging.Fields{
		"output_path": cfg.Recorder.OutputPath,
		"topics":      strconv.Itoa(len(cfg.Recorder.Topics)),
	})

	<-ctx.Done()
	log.Info("shutdown signal received, stopping recorder", nil)

	done := make(chan error, 1)
	go func() { done <- rec.Stop() }()

	select {
	case err := <-done:
		if err != nil {
			return fmt.Errorf("stop recorder: %w", err)
		}
	case <-time.After(cli.ShutdownTimeout):
		return fmt.Errorf("recorder did not stop within %s", cli.ShutdownTimeout)
	}

	info := rec.FileInfo()
	log.Info("recorder stopped", logging.Fields{
		"messages_recorded": strconv.FormatUint(rec.TotalMessages(), 10),
		"messages_dropped":  strconv.FormatUint(rec.TotalDrops(), 10),
		"final_file":        info.CurrentFilename,
	})
	return nil
}
