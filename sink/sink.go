// Package sink provides the built-in handler implementations and the
// config-driven factory that selects among them. Every sink satisfies
// handler.Handler; custom handlers plug into the server the same way
// without touching this package.
package sink

import (
	"fmt"
	"os"
	"time"

	"github.com/inletio/inletd/handler"
	"github.com/inletio/inletd/sink/redis"
	"github.com/inletio/inletd/sink/stdout"
	"github.com/inletio/inletd/sink/webhook"
)

// Config selects and configures a built-in sink.
type Config struct {
	// Type is one of "stdout" (default), "webhook", "redis".
	Type string
	// URL is the webhook endpoint or Redis connection URL.
	URL string
	// Channel is the Redis pub/sub channel.
	Channel string
	// Headers are custom HTTP headers for the webhook sink.
	Headers map[string]string
	// Timeout bounds a single downstream delivery.
	Timeout time.Duration
	// Retries is the number of delivery retry attempts.
	Retries int
}

// Build constructs the sink named by cfg.Type.
func Build(cfg Config) (handler.Handler, error) {
	switch cfg.Type {
	case "", "stdout":
		return stdout.New(os.Stdout), nil
	case "webhook":
		return webhook.New(webhook.Config{
			URL:     cfg.URL,
			Headers: cfg.Headers,
			Timeout: cfg.Timeout,
			Retries: cfg.Retries,
		})
	case "redis":
		return redis.New(redis.Config{
			URL:     cfg.URL,
			Channel: cfg.Channel,
			Timeout: cfg.Timeout,
			Retries: cfg.Retries,
		})
	default:
		return nil, fmt.Errorf("unknown sink type %q", cfg.Type)
	}
}
