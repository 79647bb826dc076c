// Package cmd wires the CLI commands: serve runs the forward protocol
// server; version reports build information.
package cmd

import (
	"context"
	"crypto/tls"
	"fmt"
	"os/signal"
	"syscall"
	"time"

	"github.com/urfave/cli/v2"
	"go.uber.org/zap"

	"github.com/inletio/inletd/cli/config"
	"github.com/inletio/inletd/log"
	"github.com/inletio/inletd/metrics"
	"github.com/inletio/inletd/server"
	"github.com/inletio/inletd/sink"
)

// ServeCommand returns the serve command, the only command that executes work.
func ServeCommand() *cli.Command {
	return &cli.Command{
		Name:  "serve",
		Usage: "Accept forward protocol connections and dispatch events to the sink",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:  "config",
				Usage: "Path to inletd.yaml config file",
			},
			&cli.StringFlag{
				Name:  "listen",
				Usage: "TCP listen address",
				Value: config.DefaultListen,
			},
			&cli.DurationFlag{
				Name:  "read-timeout",
				Usage: "Per-connection inactivity timeout (0 disables)",
				Value: 720 * time.Second,
			},
			&cli.IntFlag{
				Name:  "max-pending",
				Usage: "Max undecoded bytes buffered per connection (0 uses the built-in 32 MiB limit)",
			},
			&cli.StringFlag{
				Name:  "log-level",
				Usage: "Log level: debug, info, warn, error",
				Value: "info",
			},
			&cli.StringFlag{
				Name:  "tls-cert",
				Usage: "Path to TLS certificate (requires --tls-key)",
			},
			&cli.StringFlag{
				Name:  "tls-key",
				Usage: "Path to TLS private key (requires --tls-cert)",
			},
			// Sink flags
			&cli.StringFlag{
				Name:  "sink",
				Usage: "Sink type: stdout, webhook, or redis",
				Value: "stdout",
			},
			&cli.StringFlag{
				Name:  "sink-url",
				Usage: "Webhook endpoint or Redis connection URL",
			},
			&cli.StringFlag{
				Name:  "sink-channel",
				Usage: "Redis pub/sub channel",
			},
			&cli.DurationFlag{
				Name:  "sink-timeout",
				Usage: "Per-delivery timeout for webhook/redis sinks",
			},
			&cli.IntFlag{
				Name:  "sink-retries",
				Usage: "Delivery retry attempts for webhook/redis sinks",
			},
			&cli.DurationFlag{
				Name:  "metrics-interval",
				Usage: "Interval for logging a metrics snapshot (0 disables)",
				Value: time.Minute,
			},
		},
		Action: serveAction,
	}
}

func serveAction(c *cli.Context) error {
	cfg, err := resolveConfig(c)
	if err != nil {
		return cli.Exit(err.Error(), 1)
	}

	level, err := log.ParseLevel(cfg.LogLevel)
	if err != nil {
		return cli.Exit(fmt.Sprintf("invalid log level: %v", err), 1)
	}
	logger := log.NewLogger(level)

	tlsConfig, err := loadTLS(cfg.TLS)
	if err != nil {
		return cli.Exit(fmt.Sprintf("invalid TLS config: %v", err), 1)
	}

	retries := 0
	if cfg.Sink.Retries != nil {
		retries = *cfg.Sink.Retries
	}
	hdl, err := sink.Build(sink.Config{
		Type:    cfg.Sink.Type,
		URL:     cfg.Sink.URL,
		Channel: cfg.Sink.Channel,
		Headers: cfg.Sink.Headers,
		Timeout: cfg.Sink.Timeout.Duration,
		Retries: retries,
	})
	if err != nil {
		return cli.Exit(fmt.Sprintf("invalid sink config: %v", err), 1)
	}

	collector := metrics.NewCollector()
	srv, err := server.New(server.Config{
		Addr:           cfg.ListenAddr(),
		TLS:            tlsConfig,
		ReadTimeout:    cfg.ReadTimeout.Duration,
		MaxPending:     cfg.MaxPending,
		HandlerOptions: cfg.Sink.Options,
	}, hdl, logger, collector)
	if err != nil {
		return cli.Exit(fmt.Sprintf("cannot start server: %v", err), 1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if interval := c.Duration("metrics-interval"); interval > 0 {
		go logMetrics(ctx, logger, collector, interval)
	}

	if err := srv.Serve(ctx); err != nil {
		return cli.Exit(fmt.Sprintf("server error: %v", err), 1)
	}
	logSnapshot(logger, collector)
	return nil
}

// resolveConfig loads the YAML config when given and applies CLI flag
// overrides. Flags always win over file values.
func resolveConfig(c *cli.Context) (*config.Config, error) {
	cfg := &config.Config{}
	if path := c.String("config"); path != "" {
		loaded, err := config.Load(path)
		if err != nil {
			return nil, err
		}
		cfg = loaded
	}

	if c.IsSet("listen") || cfg.Listen == "" {
		cfg.Listen = c.String("listen")
	}
	if c.IsSet("read-timeout") || cfg.ReadTimeout.Duration == 0 {
		cfg.ReadTimeout = config.Duration{Duration: c.Duration("read-timeout")}
	}
	if c.IsSet("max-pending") {
		cfg.MaxPending = c.Int("max-pending")
	}
	if c.IsSet("log-level") || cfg.LogLevel == "" {
		cfg.LogLevel = c.String("log-level")
	}
	if c.IsSet("tls-cert") {
		cfg.TLS.CertFile = c.String("tls-cert")
	}
	if c.IsSet("tls-key") {
		cfg.TLS.KeyFile = c.String("tls-key")
	}
	if c.IsSet("sink") || cfg.Sink.Type == "" {
		cfg.Sink.Type = c.String("sink")
	}
	if c.IsSet("sink-url") {
		cfg.Sink.URL = c.String("sink-url")
	}
	if c.IsSet("sink-channel") {
		cfg.Sink.Channel = c.String("sink-channel")
	}
	if c.IsSet("sink-timeout") {
		cfg.Sink.Timeout = config.Duration{Duration: c.Duration("sink-timeout")}
	}
	if c.IsSet("sink-retries") {
		r := c.Int("sink-retries")
		cfg.Sink.Retries = &r
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// loadTLS builds the listener TLS config, or nil for plaintext.
func loadTLS(cfg config.TLSConfig) (*tls.Config, error) {
	if cfg.CertFile == "" && cfg.KeyFile == "" {
		return nil, nil
	}
	cert, err := tls.LoadX509KeyPair(cfg.CertFile, cfg.KeyFile)
	if err != nil {
		return nil, err
	}
	return &tls.Config{
		Certificates: []tls.Certificate{cert},
		MinVersion:   tls.VersionTLS12,
	}, nil
}

// logMetrics logs a counters snapshot every interval until ctx is canceled.
func logMetrics(ctx context.Context, logger *log.Logger, collector *metrics.Collector, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			logSnapshot(logger, collector)
		}
	}
}

func logSnapshot(logger *log.Logger, collector *metrics.Collector) {
	snap := collector.Snapshot()
	logger.Info("metrics",
		zap.Int64("connections_started", snap.ConnectionsStarted),
		zap.Int64("connections_stopped", snap.ConnectionsStopped),
		zap.Int64("connection_errors", snap.ConnectionErrors),
		zap.Int64("messages_received", snap.MessagesReceived),
		zap.Int64("events_handled", snap.EventsHandled),
		zap.Int64("acks_sent", snap.AcksSent))
}
