// Package audit carries authorization decisions and admin changes to the
// external audit collaborator.
//
// Every decision becomes an Event with a Severity: CRITICAL for cross-tenant
// attempts, WARNING for other denials and INFO for grants. Events flow
// through an Emitter that never blocks the request path:
//
//	sink := audit.NewMultiLogger(metrics,
//		audit.NamedLogger{Name: "file", Logger: fileLogger},
//		audit.NamedLogger{Name: "redis", Logger: audit.NewRedisStreamLogger(rdb, "", 100000)},
//	)
//	emitter := audit.NewAsyncEmitter(sink, audit.DefaultEmitterConfig(), metrics, nil, logger)
//	defer emitter.Close(ctx)
//
// When the buffer is full the event is dropped, counted in
// tenantgate_audit_events_dropped_total and logged. Sink failures are
// counted per sink and never surface to the caller.
//
// Persisting and querying audit history belongs to the collaborator reading
// the stream.
package audit
