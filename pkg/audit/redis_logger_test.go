package audit

import (
	"context"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestRedis(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	return mr, client
}

func TestRedisStreamLogger_Log(t *testing.T) {
	_, client := newTestRedis(t)
	ctx := context.Background()
	logger := NewRedisStreamLogger(client, "", 0)

	event := &Event{ID: "evt-1", Type: EventTypeAuthzDecision, Severity: SeverityCritical, Reason: "company_mismatch"}
	require.NoError(t, logger.Log(ctx, event))

	msgs, err := client.XRange(ctx, DefaultStream, "-", "+").Result()
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	assert.Equal(t, "evt-1", msgs[0].Values["id"])
	assert.Equal(t, "CRITICAL", msgs[0].Values["severity"])

	decoded, err := FromJSON([]byte(msgs[0].Values["event"].(string)))
	require.NoError(t, err)
	assert.Equal(t, "company_mismatch", decoded.Reason)
}

func TestRedisStreamLogger_ServerDown(t *testing.T) {
	mr, client := newTestRedis(t)
	logger := NewRedisStreamLogger(client, "audit", 100)
	mr.Close()

	err := logger.Log(context.Background(), &Event{ID: "x"})
	assert.Error(t, err)
	assert.NoError(t, logger.Close())
}
