package notify

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/ayo6706/trade-settlement/internal/domain"
	"github.com/ayo6706/trade-settlement/internal/observability"
	"github.com/redis/go-redis/v9"
)

const sinkRedis = "redis"

// RedisStreamPublisher appends notifications to a Redis stream.
type RedisStreamPublisher struct {
	client *redis.Client
	stream string
	maxLen int64
}

func NewRedisStreamPublisher(client *redis.Client, stream string, maxLen int64) *RedisStreamPublisher {
	return &RedisStreamPublisher{client: client, stream: stream, maxLen: maxLen}
}

func (p *RedisStreamPublisher) Publish(ctx context.Context, msg domain.SettlementNotification) error {
	body, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("encode notification: %w", err)
	}
	args := &redis.XAddArgs{
		Stream: p.stream,
		Values: map[string]any{
			"event_id":       msg.EventID,
			"correlation_id": msg.CorrelationID,
			"body":           body,
		},
	}
	if p.maxLen > 0 {
		args.MaxLen = p.maxLen
		args.Approx = true
	}
	if err := p.client.XAdd(ctx, args).Err(); err != nil {
		observability.IncrementNotification(sinkRedis, "error")
		return fmt.Errorf("xadd %s: %w", p.stream, err)
	}
	observability.IncrementNotification(sinkRedis, "ok")
	return nil
}

// NewRedisClient parses url and verifies the server is reachable.
func NewRedisClient(ctx context.Context, url string) (*redis.Client, error) {
	opt, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	client := redis.NewClient(opt)
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	return client, nil
}
