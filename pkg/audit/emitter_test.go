package audit

import (
	"context"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/platinummonkey/tenantgate/pkg/auth"
	"github.com/platinummonkey/tenantgate/pkg/contextkeys"
	"github.com/platinummonkey/tenantgate/pkg/observability"
)

func TestAsyncEmitter_DeliversAndDrains(t *testing.T) {
	sink := &recordingLogger{}
	e := NewAsyncEmitter(sink, EmitterConfig{BufferSize: 16, Workers: 2}, nil, nil, nil)

	for i := 0; i < 10; i++ {
		e.Emit(context.Background(), &Event{ID: "e", Severity: SeverityInfo})
	}

	require.NoError(t, e.Close(context.Background()))
	assert.Len(t, sink.Events(), 10)
	assert.True(t, sink.closed)
	assert.Zero(t, e.Dropped())
}

func TestAsyncEmitter_DropsWhenFull(t *testing.T) {
	metrics := observability.NewMetrics(prometheus.NewRegistry())
	sink := newBlockingLogger()
	e := NewAsyncEmitter(sink, EmitterConfig{BufferSize: 1, Workers: 1}, metrics, nil, nil)

	e.Emit(context.Background(), &Event{ID: "first"})
	<-sink.started

	e.Emit(context.Background(), &Event{ID: "buffered"})
	e.Emit(context.Background(), &Event{ID: "dropped"})

	assert.Equal(t, uint64(1), e.Dropped())
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.AuditEventsDroppedTotal))

	close(sink.release)
	require.NoError(t, e.Close(context.Background()))

	var ids []string
	for _, ev := range sink.inner.Events() {
		ids = append(ids, ev.ID)
	}
	assert.Equal(t, []string{"first", "buffered"}, ids)
}

func TestAsyncEmitter_EmitNeverBlocksOnSlowSink(t *testing.T) {
	sink := newBlockingLogger()
	e := NewAsyncEmitter(sink, EmitterConfig{BufferSize: 1, Workers: 1}, nil, nil, nil)
	defer func() {
		close(sink.release)
		_ = e.Close(context.Background())
	}()

	done := make(chan struct{})
	go func() {
		for i := 0; i < 100; i++ {
			e.Emit(context.Background(), &Event{ID: "x"})
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Emit blocked on a slow sink")
	}
}

func TestAsyncEmitter_SinkErrorsAreCounted(t *testing.T) {
	metrics := observability.NewMetrics(prometheus.NewRegistry())
	sink := &recordingLogger{err: errSinkDown}
	e := NewAsyncEmitter(sink, EmitterConfig{BufferSize: 4, Workers: 1}, metrics, nil, nil)

	e.Emit(context.Background(), &Event{ID: "a", Severity: SeverityWarning})
	require.NoError(t, e.Close(context.Background()))

	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.AuditSinkErrorsTotal.WithLabelValues("emitter")))
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.AuditEventsTotal.WithLabelValues("WARNING")))
}

func TestAsyncEmitter_EmitAfterCloseDrops(t *testing.T) {
	e := NewAsyncEmitter(&recordingLogger{}, DefaultEmitterConfig(), nil, nil, nil)
	require.NoError(t, e.Close(context.Background()))
	require.NoError(t, e.Close(context.Background()))

	e.Emit(context.Background(), &Event{ID: "late"})
	assert.Equal(t, uint64(1), e.Dropped())
}

func TestAsyncEmitter_SurvivesCanceledRequestContext(t *testing.T) {
	sink := &recordingLogger{}
	e := NewAsyncEmitter(sink, DefaultEmitterConfig(), nil, nil, nil)

	ctx, cancel := context.WithCancel(context.Background())
	e.Emit(ctx, &Event{ID: "a"})
	cancel()

	require.NoError(t, e.Close(context.Background()))
	assert.Len(t, sink.Events(), 1)
}

func TestNewEvent_UsesContext(t *testing.T) {
	ctx := contextkeys.WithRequestID(context.Background(), "req-1")
	ctx = contextkeys.WithPrincipal(ctx, &auth.Principal{UserID: "u1", CompanyID: "acme", Role: "admin", SessionID: "s1"})
	now := time.Date(2024, 3, 1, 12, 0, 0, 0, time.FixedZone("x", 3600))

	ev := NewEvent(ctx, EventTypeAdminRoleCreate, now)

	assert.NotEmpty(t, ev.ID)
	assert.Equal(t, now.UTC(), ev.Timestamp)
	assert.Equal(t, "req-1", ev.RequestID)
	assert.Equal(t, "u1", ev.UserID)
	assert.Equal(t, "acme", ev.CompanyID)
	assert.Equal(t, "s1", ev.SessionID)
	assert.Equal(t, SeverityInfo, ev.Severity)
}
