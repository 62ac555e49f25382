package observability

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"
)

const defaultShutdownTimeout = 30 * time.Second

// ShutdownFunc releases one resource within the drain deadline.
type ShutdownFunc func(context.Context) error

type shutdownHook struct {
	name string
	fn   ShutdownFunc
}

// ShutdownManager drains the HTTP servers first so no new decisions are
// made, then runs hooks in the order they were added.
type ShutdownManager struct {
	logger  *Logger
	servers []*http.Server
	timeout time.Duration

	mu    sync.Mutex
	hooks []shutdownHook
}

// NewShutdownManager uses a 30s drain deadline when timeout is zero.
func NewShutdownManager(logger *Logger, timeout time.Duration, servers ...*http.Server) *ShutdownManager {
	if timeout <= 0 {
		timeout = defaultShutdownTimeout
	}
	return &ShutdownManager{logger: logger, servers: servers, timeout: timeout}
}

// OnShutdown adds a named hook.
func (sm *ShutdownManager) OnShutdown(name string, fn ShutdownFunc) {
	sm.mu.Lock()
	sm.hooks = append(sm.hooks, shutdownHook{name: name, fn: fn})
	sm.mu.Unlock()
}

// Wait blocks until SIGINT, SIGTERM or ctx is done, then drains within the
// configured deadline.
func (sm *ShutdownManager) Wait(ctx context.Context) error {
	sigCtx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	<-sigCtx.Done()
	stop()
	sm.logger.WithField("cause", context.Cause(sigCtx).Error()).Info("draining")

	drainCtx, cancel := context.WithTimeout(context.Background(), sm.timeout)
	defer cancel()
	return sm.Shutdown(drainCtx)
}

// Shutdown stops every server and runs every hook even after a failure; the
// returned error joins all failures.
func (sm *ShutdownManager) Shutdown(ctx context.Context) error {
	var errs []error
	for _, srv := range sm.servers {
		if srv == nil {
			continue
		}
		if err := srv.Shutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("server %s: %w", srv.Addr, err))
		}
	}

	sm.mu.Lock()
	hooks := append([]shutdownHook(nil), sm.hooks...)
	sm.mu.Unlock()

	for _, h := range hooks {
		if err := h.fn(ctx); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", h.name, err))
		}
	}

	err := errors.Join(errs...)
	if err != nil {
		sm.logger.WithError(err).Error("shutdown incomplete")
		return err
	}
	sm.logger.Info("shutdown complete")
	return nil
}
