package rbac

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"

	"github.com/platinummonkey/tenantgate/pkg/observability"
)

// DefaultInvalidationChannel is the pub/sub channel used between processes
const DefaultInvalidationChannel = "tenantgate:rbac:invalidate"

type invalidationMessage struct {
	Origin string `json:"origin"`
	Invalidation
}

// RedisInvalidator broadcasts cache invalidations over Redis pub/sub so every
// process drops stale entries after an admin edit
type RedisInvalidator struct {
	client     *redis.Client
	channel    string
	instanceID string
	cache      *Cache
	logger     *observability.Logger
}

// NewRedisInvalidator creates an invalidator and attaches it to cache
func NewRedisInvalidator(client *redis.Client, channel string, cache *Cache, logger *observability.Logger) *RedisInvalidator {
	if channel == "" {
		channel = DefaultInvalidationChannel
	}
	if logger == nil {
		logger = observability.NewNopLogger()
	}
	r := &RedisInvalidator{
		client:     client,
		channel:    channel,
		instanceID: uuid.NewString(),
		cache:      cache,
		logger:     logger.WithField("component", "rbac_invalidator"),
	}
	cache.SetBroadcaster(r)
	return r
}

// Publish implements Broadcaster
func (r *RedisInvalidator) Publish(ctx context.Context, inv Invalidation) error {
	data, err := json.Marshal(invalidationMessage{Origin: r.instanceID, Invalidation: inv})
	if err != nil {
		return fmt.Errorf("failed to marshal invalidation: %w", err)
	}
	if err := r.client.Publish(ctx, r.channel, data).Err(); err != nil {
		return fmt.Errorf("redis publish failed: %w", err)
	}
	return nil
}

// Run applies invalidations from other processes until ctx is done. ready,
// when non-nil, is closed once the subscription is confirmed.
func (r *RedisInvalidator) Run(ctx context.Context, ready chan<- struct{}) error {
	sub := r.client.Subscribe(ctx, r.channel)
	defer sub.Close()

	if _, err := sub.Receive(ctx); err != nil {
		return fmt.Errorf("failed to subscribe to %s: %w", r.channel, err)
	}
	if ready != nil {
		close(ready)
	}

	ch := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-ch:
			if !ok {
				return nil
			}
			r.handle(msg.Payload)
		}
	}
}

func (r *RedisInvalidator) handle(payload string) {
	var m invalidationMessage
	if err := json.Unmarshal([]byte(payload), &m); err != nil {
		r.logger.WithError(err).Warn("dropping malformed invalidation")
		return
	}
	if m.Origin == r.instanceID {
		return
	}
	r.cache.Apply(m.Invalidation, "remote")
}
