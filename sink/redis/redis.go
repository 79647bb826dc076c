// Package redis implements a sink that publishes each event as JSON to a
// Redis pub/sub channel. Retries with exponential backoff on connection
// errors.
package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/inletio/inletd/handler"
	"github.com/inletio/inletd/protocol"
)

// DefaultChannel is the default pub/sub channel name.
const DefaultChannel = "inletd:events"

// DefaultTimeout is the default per-publish timeout.
const DefaultTimeout = 5 * time.Second

// Config configures the Redis sink.
type Config struct {
	// URL is the Redis connection URL (required).
	// Format: redis://[:password@]host:port[/db]
	URL string
	// Channel is the pub/sub channel name (default: inletd:events).
	Channel string
	// Timeout is the per-publish timeout (default 5s).
	Timeout time.Duration
	// Retries is the number of retry attempts on failure (default 0).
	Retries int
}

// eventPayload is the JSON body published per event.
type eventPayload struct {
	Tag    string         `json:"tag"`
	Time   float64        `json:"time"`
	Record map[string]any `json:"record"`
}

// Sink publishes events via Redis PUBLISH. The go-redis client is safe for
// concurrent use, so one Sink serves every connection.
type Sink struct {
	config Config
	client *goredis.Client
}

// New creates a Redis sink from the given config.
// Returns an error if the URL is empty or invalid.
func New(cfg Config) (*Sink, error) {
	if cfg.URL == "" {
		return nil, errors.New("redis sink requires a URL")
	}

	opts, err := goredis.ParseURL(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("redis sink: invalid URL: %w", err)
	}

	if cfg.Channel == "" {
		cfg.Channel = DefaultChannel
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.Retries < 0 {
		return nil, fmt.Errorf("retries must be >= 0, got %d", cfg.Retries)
	}

	return &Sink{
		config: cfg,
		client: goredis.NewClient(opts),
	}, nil
}

// Init returns a per-connection view of the sink. The view hides Close so
// connection teardown cannot release the shared client.
func (s *Sink) Init(context.Context, map[string]any) (handler.State, error) {
	return connState{sink: s}, nil
}

type connState struct {
	sink *Sink
}

func (c connState) HandleEvent(ctx context.Context, ev protocol.Event) error {
	return c.sink.publish(ctx, ev)
}

// publish sends the event as a JSON PUBLISH to the configured channel.
// Retries with exponential backoff on failures.
func (s *Sink) publish(ctx context.Context, ev protocol.Event) error {
	body, err := json.Marshal(eventPayload{Tag: ev.Tag, Time: ev.Time, Record: ev.Record})
	if err != nil {
		return fmt.Errorf("redis: marshal event: %w", err)
	}

	var lastErr error
	// attempts = 1 initial + retries
	attempts := 1 + s.config.Retries

	for i := range attempts {
		if err := ctx.Err(); err != nil {
			return fmt.Errorf("redis: context canceled: %w", err)
		}

		// Exponential backoff before retries (not before first attempt)
		if i > 0 {
			backoff := time.Duration(1<<uint(i-1)) * 500 * time.Millisecond
			select {
			case <-ctx.Done():
				return fmt.Errorf("redis: context canceled during backoff: %w", ctx.Err())
			case <-time.After(backoff):
			}
		}

		publishCtx, cancel := context.WithTimeout(ctx, s.config.Timeout)
		lastErr = s.client.Publish(publishCtx, s.config.Channel, body).Err()
		cancel()

		if lastErr == nil {
			return nil
		}
	}

	return fmt.Errorf("redis: failed after %d attempts: %w", attempts, lastErr)
}

// Close releases the Redis client.
func (s *Sink) Close() error {
	return s.client.Close()
}

var _ handler.Handler = (*Sink)(nil)
var _ handler.State = connState{}
