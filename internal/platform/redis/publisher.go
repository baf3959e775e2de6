// Package redis publishes task events on a Redis pub/sub channel so other
// services can react to analysis status changes without polling.
package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/phrazzld/lesson-analysis/internal/config"
	"github.com/phrazzld/lesson-analysis/internal/events"
	goredis "github.com/redis/go-redis/v9"
)

// Publisher is an events.EventHandler that publishes each event as JSON.
type Publisher struct {
	rdb     *goredis.Client
	channel string
	logger  *slog.Logger
}

var _ events.EventHandler = (*Publisher)(nil)

// NewPublisher connects to Redis and verifies the connection with PING.
func NewPublisher(ctx context.Context, cfg config.RedisConfig, logger *slog.Logger) (*Publisher, error) {
	if cfg.Addr == "" || cfg.Channel == "" {
		return nil, errors.New("redis address and channel are required")
	}

	rdb := goredis.NewClient(&goredis.Options{
		Addr:        cfg.Addr,
		Password:    cfg.Password,
		DB:          cfg.DB,
		DialTimeout: 5 * time.Second,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := rdb.Ping(pingCtx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}

	return &Publisher{
		rdb:     rdb,
		channel: cfg.Channel,
		logger:  logger.With(slog.String("component", "redis_publisher")),
	}, nil
}

// HandleEvent publishes event on the configured channel.
func (p *Publisher) HandleEvent(ctx context.Context, event *events.TaskEvent) error {
	raw, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to encode task event: %w", err)
	}
	receivers, err := p.rdb.Publish(ctx, p.channel, raw).Result()
	if err != nil {
		return fmt.Errorf("redis publish: %w", err)
	}
	p.logger.DebugContext(ctx, "published task event",
		slog.String("event_type", string(event.Type)),
		slog.String("task_id", event.TaskID.String()),
		slog.Int64("receivers", receivers))
	return nil
}

// Close releases the Redis connection pool.
func (p *Publisher) Close() error {
	return p.rdb.Close()
}
