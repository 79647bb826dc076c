package cmd

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/urfave/cli/v2"

	"github.com/inletio/inletd/cli/config"
)

// resolveWith runs resolveConfig through a real flag parse so IsSet
// behaves exactly as it does in serve.
func resolveWith(t *testing.T, args ...string) (*config.Config, error) {
	t.Helper()

	var cfg *config.Config
	var resolveErr error
	app := &cli.App{
		Commands: []*cli.Command{{
			Name:  "serve",
			Flags: ServeCommand().Flags,
			Action: func(c *cli.Context) error {
				cfg, resolveErr = resolveConfig(c)
				return nil
			},
		}},
	}

	if err := app.Run(append([]string{"inletd", "serve"}, args...)); err != nil {
		t.Fatalf("run: %v", err)
	}
	return cfg, resolveErr
}

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "inletd.yaml")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestResolveConfig_Defaults(t *testing.T) {
	cfg, err := resolveWith(t)
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}

	if cfg.Listen != config.DefaultListen {
		t.Errorf("listen = %q, want %q", cfg.Listen, config.DefaultListen)
	}
	if cfg.ReadTimeout.Duration != 720*time.Second {
		t.Errorf("read timeout = %v, want 720s", cfg.ReadTimeout.Duration)
	}
	if cfg.LogLevel != "info" {
		t.Errorf("log level = %q, want info", cfg.LogLevel)
	}
	if cfg.Sink.Type != "stdout" {
		t.Errorf("sink type = %q, want stdout", cfg.Sink.Type)
	}
}

func TestResolveConfig_FileValuesUsed(t *testing.T) {
	path := writeConfig(t, `listen: 0.0.0.0:24230
read_timeout: 5m
max_pending: 1048576
log_level: debug
sink:
  type: redis
  url: redis://cache.internal:6379
  channel: logs
`)

	cfg, err := resolveWith(t, "--config", path)
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}

	if cfg.Listen != "0.0.0.0:24230" {
		t.Errorf("listen = %q", cfg.Listen)
	}
	if cfg.ReadTimeout.Duration != 5*time.Minute {
		t.Errorf("read timeout = %v", cfg.ReadTimeout.Duration)
	}
	if cfg.MaxPending != 1048576 {
		t.Errorf("max pending = %d", cfg.MaxPending)
	}
	if cfg.LogLevel != "debug" {
		t.Errorf("log level = %q", cfg.LogLevel)
	}
	if cfg.Sink.Type != "redis" || cfg.Sink.URL != "redis://cache.internal:6379" {
		t.Errorf("sink = %+v", cfg.Sink)
	}
	if cfg.Sink.Channel != "logs" {
		t.Errorf("channel = %q", cfg.Sink.Channel)
	}
}

func TestResolveConfig_FlagsOverrideFile(t *testing.T) {
	path := writeConfig(t, `listen: 0.0.0.0:24230
log_level: debug
sink:
  type: redis
  url: redis://cache.internal:6379
`)

	cfg, err := resolveWith(t, "--config", path,
		"--listen", "127.0.0.1:9999",
		"--log-level", "warn",
		"--sink", "webhook",
		"--sink-url", "https://hooks.example.com/events",
		"--sink-retries", "4",
		"--max-pending", "65536",
	)
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}

	if cfg.Listen != "127.0.0.1:9999" {
		t.Errorf("listen = %q, want flag value", cfg.Listen)
	}
	if cfg.LogLevel != "warn" {
		t.Errorf("log level = %q, want warn", cfg.LogLevel)
	}
	if cfg.Sink.Type != "webhook" || cfg.Sink.URL != "https://hooks.example.com/events" {
		t.Errorf("sink = %+v", cfg.Sink)
	}
	if cfg.Sink.Retries == nil || *cfg.Sink.Retries != 4 {
		t.Errorf("retries = %v, want 4", cfg.Sink.Retries)
	}
	if cfg.MaxPending != 65536 {
		t.Errorf("max pending = %d, want flag value", cfg.MaxPending)
	}
}

func TestResolveConfig_MissingConfigFile(t *testing.T) {
	_, err := resolveWith(t, "--config", "/nonexistent/inletd.yaml")
	if err == nil {
		t.Fatal("expected error for missing config file")
	}
}

func TestResolveConfig_InvalidSinkType(t *testing.T) {
	_, err := resolveWith(t, "--sink", "kafka")
	if err == nil {
		t.Fatal("expected validation error for unknown sink type")
	}
}

func TestLoadTLS_EmptyMeansPlaintext(t *testing.T) {
	cfg, err := loadTLS(config.TLSConfig{})
	if err != nil {
		t.Fatalf("loadTLS: %v", err)
	}
	if cfg != nil {
		t.Error("expected nil TLS config for empty cert pair")
	}
}

func TestLoadTLS_MissingFiles(t *testing.T) {
	_, err := loadTLS(config.TLSConfig{
		CertFile: "/nonexistent/tls.crt",
		KeyFile:  "/nonexistent/tls.key",
	})
	if err == nil {
		t.Fatal("expected error for unreadable cert pair")
	}
}
