package audit

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/platinummonkey/tenantgate/pkg/contextkeys"
)

// Logger is a sink for audit events
type Logger interface {
	// Log writes one event
	Log(ctx context.Context, event *Event) error

	// Close flushes and releases the sink
	Close() error
}

// Emitter accepts events without ever blocking or failing the caller
type Emitter interface {
	Emit(ctx context.Context, event *Event)
}

// EmitterFunc adapts a function to Emitter
type EmitterFunc func(ctx context.Context, event *Event)

// Emit implements Emitter
func (f EmitterFunc) Emit(ctx context.Context, event *Event) { f(ctx, event) }

// NopEmitter discards every event
var NopEmitter Emitter = EmitterFunc(func(context.Context, *Event) {})

// NewEvent creates an event stamped with an id, the time, the request id and
// the principal found in ctx
func NewEvent(ctx context.Context, eventType EventType, now time.Time) *Event {
	event := &Event{
		ID:        uuid.NewString(),
		Timestamp: now.UTC(),
		Type:      eventType,
		Severity:  SeverityInfo,
		RequestID: contextkeys.GetRequestID(ctx),
		Metadata:  make(map[string]interface{}),
	}
	if p := contextkeys.GetPrincipal(ctx); p != nil {
		event.UserID = p.UserID
		event.CompanyID = p.CompanyID
		event.SessionID = p.SessionID
	}
	return event
}

// noOpLogger is a logger that does nothing (used when no sink is configured)
type noOpLogger struct{}

// NewNopLogger returns a sink that discards events
func NewNopLogger() Logger {
	return noOpLogger{}
}

func (noOpLogger) Log(ctx context.Context, event *Event) error { return nil }
func (noOpLogger) Close() error                                { return nil }
