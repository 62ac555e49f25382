package audit

import (
	"context"
	"errors"
	"sync"
)

// recordingLogger keeps every event it receives
type recordingLogger struct {
	mu     sync.Mutex
	events []*Event
	closed bool
	err    error
}

func (l *recordingLogger) Log(ctx context.Context, event *Event) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.err != nil {
		return l.err
	}
	l.events = append(l.events, event)
	return nil
}

func (l *recordingLogger) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.closed = true
	return nil
}

func (l *recordingLogger) Events() []*Event {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]*Event(nil), l.events...)
}

// blockingLogger holds the first Log call until release is closed
type blockingLogger struct {
	started chan struct{}
	release chan struct{}
	once    sync.Once
	inner   recordingLogger
}

func newBlockingLogger() *blockingLogger {
	return &blockingLogger{started: make(chan struct{}), release: make(chan struct{})}
}

func (l *blockingLogger) Log(ctx context.Context, event *Event) error {
	l.once.Do(func() { close(l.started) })
	<-l.release
	return l.inner.Log(ctx, event)
}

func (l *blockingLogger) Close() error { return l.inner.Close() }

var errSinkDown = errors.New("sink down")
