package rbac

import (
	"context"
	"fmt"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/robfig/cron/v3"

	"github.com/platinummonkey/tenantgate/pkg/audit"
	"github.com/platinummonkey/tenantgate/pkg/observability"
)

// DefaultSweepSchedule runs the sweep every 15 minutes
const DefaultSweepSchedule = "*/15 * * * *"

// Sweeper deactivates overrides whose expiry has passed
type Sweeper struct {
	overrides *OverrideStore
	emitter   audit.Emitter
	metrics   *observability.Metrics
	logger    *observability.Logger
	clock     clockwork.Clock
	timeout   time.Duration
}

// NewSweeper creates a sweeper. A nil emitter or logger is replaced by a
// no-op.
func NewSweeper(overrides *OverrideStore, emitter audit.Emitter, metrics *observability.Metrics, logger *observability.Logger, clock clockwork.Clock) *Sweeper {
	if emitter == nil {
		emitter = audit.NopEmitter
	}
	if logger == nil {
		logger = observability.NewNopLogger()
	}
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &Sweeper{
		overrides: overrides,
		emitter:   emitter,
		metrics:   metrics,
		logger:    logger,
		clock:     clock,
		timeout:   time.Minute,
	}
}

// RunOnce sweeps once and returns how many overrides were deactivated
func (s *Sweeper) RunOnce(ctx context.Context) (int64, error) {
	n, err := s.overrides.SweepExpired(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to sweep expired overrides: %w", err)
	}
	s.metrics.RecordOverridesExpired(n)

	event := audit.NewEvent(ctx, audit.EventTypeOverrideSweep, s.clock.Now())
	event.Action = "sweep"
	event.ResourceType = "override"
	event.Allowed = true
	event.Metadata["deactivated"] = n
	s.emitter.Emit(ctx, event)

	if n > 0 {
		s.logger.WithField("deactivated", n).Info("expired overrides deactivated")
	}
	return n, nil
}

// Schedule adds the sweep to c under spec
func (s *Sweeper) Schedule(c *cron.Cron, spec string) (cron.EntryID, error) {
	if spec == "" {
		spec = DefaultSweepSchedule
	}
	id, err := c.AddFunc(spec, func() {
		defer observability.RecoverPanic(s.logger, "override sweeper")

		ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
		defer cancel()
		if _, err := s.RunOnce(ctx); err != nil {
			s.logger.WithError(err).Error("override sweep failed")
		}
	})
	if err != nil {
		return 0, fmt.Errorf("invalid sweep schedule %q: %w", spec, err)
	}
	return id, nil
}
