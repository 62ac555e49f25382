package audit

import (
	"context"
	"fmt"

	"github.com/go-redis/redis/v8"
)

// DefaultStream is the Redis stream read by the audit collaborator
const DefaultStream = "tenantgate:audit"

// RedisStreamLogger appends events to a capped Redis stream
type RedisStreamLogger struct {
	client *redis.Client
	stream string
	maxLen int64
}

// NewRedisStreamLogger creates a stream sink. maxLen caps the stream
// approximately; zero means uncapped.
func NewRedisStreamLogger(client *redis.Client, stream string, maxLen int64) *RedisStreamLogger {
	if stream == "" {
		stream = DefaultStream
	}
	return &RedisStreamLogger{client: client, stream: stream, maxLen: maxLen}
}

// Log implements Logger
func (l *RedisStreamLogger) Log(ctx context.Context, event *Event) error {
	data, err := event.ToJSON()
	if err != nil {
		return fmt.Errorf("failed to marshal audit event: %w", err)
	}

	args := &redis.XAddArgs{
		Stream: l.stream,
		Values: map[string]interface{}{
			"id":       event.ID,
			"type":     string(event.Type),
			"severity": string(event.Severity),
			"event":    string(data),
		},
	}
	if l.maxLen > 0 {
		args.MaxLen = l.maxLen
		args.Approx = true
	}
	if err := l.client.XAdd(ctx, args).Err(); err != nil {
		return fmt.Errorf("redis xadd failed: %w", err)
	}
	return nil
}

// Close implements Logger. The client belongs to the caller.
func (l *RedisStreamLogger) Close() error {
	return nil
}
