package audit

import (
	"context"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/platinummonkey/tenantgate/pkg/observability"
)

func TestMultiLogger_FansOut(t *testing.T) {
	a, b := &recordingLogger{}, &recordingLogger{}
	m := NewMultiLogger(nil, NamedLogger{Name: "a", Logger: a}, NamedLogger{Name: "b", Logger: b})

	require.NoError(t, m.Log(context.Background(), &Event{ID: "1"}))

	assert.Len(t, a.Events(), 1)
	assert.Len(t, b.Events(), 1)
}

func TestMultiLogger_FailingSinkDoesNotStopOthers(t *testing.T) {
	metrics := observability.NewMetrics(prometheus.NewRegistry())
	good, bad := &recordingLogger{}, &recordingLogger{err: errSinkDown}
	m := NewMultiLogger(metrics, NamedLogger{Name: "redis", Logger: bad}, NamedLogger{Name: "file", Logger: good})

	err := m.Log(context.Background(), &Event{ID: "1"})

	require.Error(t, err)
	assert.ErrorIs(t, err, errSinkDown)
	assert.Contains(t, err.Error(), "redis")
	assert.Len(t, good.Events(), 1)
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.AuditSinkErrorsTotal.WithLabelValues("redis")))
}

func TestMultiLogger_CloseClosesAll(t *testing.T) {
	a, b := &recordingLogger{}, &recordingLogger{}
	m := NewMultiLogger(nil, NamedLogger{Name: "a", Logger: a}, NamedLogger{Name: "b", Logger: b})

	require.NoError(t, m.Close())
	assert.True(t, a.closed)
	assert.True(t, b.closed)
}
