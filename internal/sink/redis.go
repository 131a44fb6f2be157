package sink

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/BadgerOps/shadowsync/internal/config"
)

// redisSink pushes notifications onto a Redis list.
type redisSink struct {
	client *redis.Client
	queue  string
}

func newRedisSink(cfg config.SinkConfig) (Sink, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("connecting to redis %s: %w", cfg.Addr, err)
	}

	return &redisSink{client: client, queue: cfg.Queue}, nil
}

func (s *redisSink) Notify(message string) error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return s.client.RPush(ctx, s.queue, message).Err()
}

func (s *redisSink) Close() error {
	return s.client.Close()
}
