// Command openbag-play replays a binary log back onto the configured
// transport, or in -dump-json mode prints its records as JSON without
// publishing anything.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/bytedance/sonic"

	"github.com/openbag/openbag/internal/config"
	"github.com/openbag/openbag/internal/logging"
	"github.com/openbag/openbag/internal/logstore"
	"github.com/openbag/openbag/internal/player"
	"github.com/openbag/openbag/transport"

	_ "github.com/openbag/openbag/transport/aws"
	_ "github.com/openbag/openbag/transport/channel"
	_ "github.com/openbag/openbag/transport/file"
	_ "github.com/openbag/openbag/transport/jetstream"
	_ "github.com/openbag/openbag/transport/kafka"
	_ "github.com/openbag/openbag/transport/nats"
	_ "github.com/openbag/openbag/transport/rabbitmq"
)

const appName = "openbag-play"

type cliConfig struct {
	ConfigPath      string
	InputPath       string
	LogLevel        string
	LogFormat       string
	ShutdownTimeout time.Duration
	DumpJSON        bool
	ShowVersion     bool
}

func parseFlags() *cliConfig {
	cfg := &cliConfig{}

	flag.StringVar(&cfg.ConfigPath, "config",
		getEnv("OPENBAG_PLAY_CONFIG", "configs/play.yaml"),
		"Path to configuration file (env: OPENBAG_PLAY_CONFIG)")
	flag.StringVar(&cfg.ConfigPath, "c",
		getEnv("OPENBAG_PLAY_CONFIG", "configs/play.yaml"),
		"Path to configuration file (env: OPENBAG_PLAY_CONFIG)")

	flag.StringVar(&cfg.InputPath, "input", getEnv("OPENBAG_PLAY_INPUT", ""),
		"Log file to play, overriding the config's input_path (env: OPENBAG_PLAY_INPUT)")

	flag.StringVar(&cfg.LogLevel, "log-level",
		getEnv("OPENBAG_PLAY_LOG_LEVEL", "info"),
		"Log level: debug, info, warn, error (env: OPENBAG_PLAY_LOG_LEVEL)")

	flag.StringVar(&cfg.LogFormat, "log-format",
		getEnv("OPENBAG_PLAY_LOG_FORMAT", "text"),
		"Log format: json, text (env: OPENBAG_PLAY_LOG_FORMAT)")

	flag.DurationVar(&cfg.ShutdownTimeout, "shutdown-timeout",
		getEnvDuration("OPENBAG_PLAY_SHUTDOWN_TIMEOUT", 10*time.Second),
		"Graceful shutdown timeout (env: OPENBAG_PLAY_SHUTDOWN_TIMEOUT)")

	flag.BoolVar(&cfg.DumpJSON, "dump-json", false,
		"Print the log's schemas, channels, and record headers as JSON instead of playing them")
	flag.BoolVar(&cfg.ShowVersion, "version", false, "Show version information")

	flag.Usage = func() {
		_, _ = fmt.Fprintf(os.Stderr, "%s - replay a binary log onto the bus\n\nUsage: %s [options]\n\nOptions:\n", appName, os.Args[0])
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
		slog.Error("openbag-play failed", "error", err)
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
	if cli.InputPath != "" {
		cfg.Player.InputPath = cli.InputPath
	}

	if cli.DumpJSON {
		return dumpJSON(cfg.Player.InputPath)
	}

	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	wire, err := transport.Build(ctx, &cfg.Transport, logging.ToWatermillAdapter(log))
	if err != nil {
		return fmt.Errorf("build transport %q: %w", cfg.Transport.GetPubSubSystem(), err)
	}
	factory := transport.WrapWatermill(wire)

	metrics := player.NewMetrics(nil)
	p := player.New(cfg.Player, factory, log, metrics)

	if err := p.Start(); err != nil {
		return fmt.Errorf("start player: %w", err)
	}
	log.Info("player started", logging.Fields{"input_path": cfg.Player.InputPath})

	stopped := make(chan struct{})
	go func() {
		for p.State() != player.StateStopped {
			time.Sleep(20 * time.Millisecond)
			select {
			case <-ctx.Done():
				return
			default:
			}
		}
		close(stopped)
	}()

	select {
	case <-ctx.Done():
		log.Info("shutdown signal received, stopping player", nil)
	case <-stopped:
		log.Info("playback reached end of file", nil)
	}

	done := make(chan error, 1)
	go func() { done <- p.Stop() }()

	select {
	case err := <-done:
		if err != nil {
			return fmt.Errorf("stop player: %w", err)
		}
	case <-time.After(cli.ShutdownTimeout):
		return fmt.Errorf("player did not stop within %s", cli.ShutdownTimeout)
	}

	log.Info("player stopped", logging.Fields{"messages_played": fmt.Sprintf("%d", p.PlayedMessages())})
	return nil
}

// dumpRecord is the JSON shape emitted per message record in -dump-json
// mode: header fields only, since Data is an opaque encoded payload with no
// generic JSON rendering.
type dumpRecord struct {
	Sequence      uint64 `json:"sequence"`
	Topic         string `json:"topic"`
	LogTimeNs     uint64 `json:"log_time_ns"`
	PublishTimeNs uint64 `json:"publish_time_ns"`
	DataBytes     int    `json:"data_bytes"`
}

type dumpChannel struct {
	ID       uint32 `json:"id"`
	Topic    string `json:"topic"`
	Encoding string `json:"encoding"`
	SchemaID uint32 `json:"schema_id"`
}

type dumpSchema struct {
	ID       uint32 `json:"id"`
	Name     string `json:"name"`
	Encoding string `json:"encoding"`
}

func dumpJSON(path string) error {
	if path == "" {
		return fmt.Errorf("no input path given (pass -input or set input_path in config)")
	}

	reader, err := logstore.Open(path)
	if err != nil {
		return fmt.Errorf("open %s: %w", path, err)
	}
	defer reader.Close()

	enc := sonic.ConfigStd.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")

	for _, s := range reader.Schemas() {
		if err := enc.Encode(dumpSchema{ID: s.ID, Name: s.Name, Encoding: s.Encoding}); err != nil {
			return err
		}
	}
	for _, c := range reader.Channels() {
		if err := enc.Encode(dumpChannel{ID: c.ID, Topic: c.Topic, Encoding: c.MessageEncoding, SchemaID: c.SchemaID}); err != nil {
			return err
		}
	}

	it := reader.Messages()
	for it.Next() {
		rec := it.Record()
		channel, _ := reader.ChannelByID(rec.ChannelID)
		out := dumpRecord{
			Sequence:      rec.Sequence,
			Topic:         channel.Topic,
			LogTimeNs:     rec.LogTimeNs,
			PublishTimeNs: rec.PublishTimeNs,
			DataBytes:     len(rec.Data),
		}
		if err := enc.Encode(out); err != nil {
			return err
		}
	}
	return it.Err()
}
