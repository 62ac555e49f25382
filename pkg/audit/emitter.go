package audit

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/platinummonkey/tenantgate/pkg/observability"
)

// EmitterConfig sizes the asynchronous emitter
type EmitterConfig struct {
	BufferSize int
	Workers    int
}

// DefaultEmitterConfig returns a 1024 event buffer drained by two workers
func DefaultEmitterConfig() EmitterConfig {
	return EmitterConfig{BufferSize: 1024, Workers: 2}
}

type queuedEvent struct {
	ctx   context.Context
	event *Event
}

// AsyncEmitter hands events to a sink from a bounded buffer. Emit never
// blocks: when the buffer is full the event is dropped and counted.
type AsyncEmitter struct {
	sink        Logger
	events      chan queuedEvent
	wg          sync.WaitGroup
	mu          sync.RWMutex
	closed      bool
	dropped     atomic.Uint64
	metrics     *observability.Metrics
	otelMetrics *observability.OTelMetrics
	logger      *observability.Logger
}

// NewAsyncEmitter starts the workers. metrics, otelMetrics and logger may be nil.
func NewAsyncEmitter(sink Logger, cfg EmitterConfig, metrics *observability.Metrics, otelMetrics *observability.OTelMetrics, logger *observability.Logger) *AsyncEmitter {
	def := DefaultEmitterConfig()
	if cfg.BufferSize <= 0 {
		cfg.BufferSize = def.BufferSize
	}
	if cfg.Workers <= 0 {
		cfg.Workers = def.Workers
	}
	if sink == nil {
		sink = NewNopLogger()
	}
	if logger == nil {
		logger = observability.NewNopLogger()
	}

	e := &AsyncEmitter{
		sink:        sink,
		events:      make(chan queuedEvent, cfg.BufferSize),
		metrics:     metrics,
		otelMetrics: otelMetrics,
		logger:      logger.WithField("component", "audit_emitter"),
	}
	for i := 0; i < cfg.Workers; i++ {
		e.wg.Add(1)
		go e.run()
	}
	return e
}

// Emit implements Emitter
func (e *AsyncEmitter) Emit(ctx context.Context, event *Event) {
	if event == nil {
		return
	}
	e.mu.RLock()
	defer e.mu.RUnlock()

	if e.closed {
		e.drop(ctx, event, "emitter closed")
		return
	}
	select {
	case e.events <- queuedEvent{ctx: context.WithoutCancel(ctx), event: event}:
		e.metrics.RecordAuditEvent(string(event.Severity))
	default:
		e.drop(ctx, event, "buffer full")
	}
}

func (e *AsyncEmitter) drop(ctx context.Context, event *Event, why string) {
	e.dropped.Add(1)
	e.metrics.RecordAuditDrop()
	e.otelMetrics.RecordAuditDrop(ctx)
	e.logger.WithFields(map[string]interface{}{
		"event_id":   event.ID,
		"event_type": string(event.Type),
		"severity":   string(event.Severity),
		"cause":      why,
	}).Warn("audit event dropped")
}

// Dropped returns how many events were dropped so far
func (e *AsyncEmitter) Dropped() uint64 {
	return e.dropped.Load()
}

func (e *AsyncEmitter) run() {
	defer e.wg.Done()
	for q := range e.events {
		e.deliver(q)
	}
}

func (e *AsyncEmitter) deliver(q queuedEvent) {
	defer observability.RecoverPanic(e.logger, "audit sink")
	if err := e.sink.Log(q.ctx, q.event); err != nil {
		e.metrics.RecordAuditSinkError("emitter")
		e.logger.WithError(err).WithField("event_id", q.event.ID).Error("audit sink failed")
	}
}

// Close stops accepting events, drains the buffer and closes the sink. It
// gives up waiting when ctx is done.
func (e *AsyncEmitter) Close(ctx context.Context) error {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return nil
	}
	e.closed = true
	close(e.events)
	e.mu.Unlock()

	done := make(chan struct{})
	go func() {
		e.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		return ctx.Err()
	}
	return e.sink.Close()
}
