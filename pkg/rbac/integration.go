package rbac

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/gorilla/mux"
	"github.com/jonboulle/clockwork"

	"github.com/platinummonkey/tenantgate/pkg/audit"
	"github.com/platinummonkey/tenantgate/pkg/observability"
)

// Config holds RBAC configuration
type Config struct {
	Cache CacheConfig

	// DefaultPolicy applies to pages a role has no explicit row for
	DefaultPolicy DefaultPolicy

	// DecisionTimeout bounds one Authorize call; zero means no bound
	DecisionTimeout time.Duration

	// InvalidationChannel is the Redis channel shared by all instances
	InvalidationChannel string

	// TrustedCallers may ask /authorize about principals other than
	// themselves
	TrustedCallers []string
}

// DefaultConfig returns default RBAC configuration
func DefaultConfig() Config {
	return Config{
		Cache:               DefaultCacheConfig(),
		DefaultPolicy:       DefaultAllow,
		DecisionTimeout:     250 * time.Millisecond,
		InvalidationChannel: DefaultInvalidationChannel,
	}
}

// Dependencies are the collaborators a Manager is built from. Only DB is
// required.
type Dependencies struct {
	DB          *sql.DB
	Redis       *redis.Client
	Patterns    *PatternSource
	Companies   CompanyDirectory
	Emitter     audit.Emitter
	Clock       clockwork.Clock
	Metrics     *observability.Metrics
	OTelMetrics *observability.OTelMetrics
	Logger      *observability.Logger
}

// Manager wires every RBAC component together
type Manager struct {
	store        *Store
	cache        *Cache
	registry     *Registry
	matrix       *Matrix
	availability *Availability
	overrides    *OverrideStore
	engine       *Engine
	handlers     *Handlers
	middleware   *AuthorizationMiddleware
	sweeper      *Sweeper
	invalidator  *RedisInvalidator
	config       Config
}

// NewManager creates a new RBAC manager
func NewManager(deps Dependencies, config Config) *Manager {
	if deps.Clock == nil {
		deps.Clock = clockwork.NewRealClock()
	}
	if deps.Logger == nil {
		deps.Logger = observability.NewNopLogger()
	}
	if deps.Emitter == nil {
		deps.Emitter = audit.NopEmitter
	}

	store := NewStore(deps.DB)
	cache := NewCache(config.Cache, deps.Metrics, deps.Logger)
	registry := NewRegistry(store, cache, deps.Clock)
	matrix := NewMatrix(store, cache, deps.Clock, config.DefaultPolicy)
	availability := NewAvailability(store, cache, deps.Clock)
	overrides := NewOverrideStore(store, registry, deps.Clock)

	engine := NewEngine(EngineOptions{
		Registry:     registry,
		Matrix:       matrix,
		Availability: availability,
		Overrides:    overrides,
		Patterns:     deps.Patterns,
		Emitter:      deps.Emitter,
		Clock:        deps.Clock,
		Timeout:      config.DecisionTimeout,
		Metrics:      deps.Metrics,
		OTelMetrics:  deps.OTelMetrics,
		Logger:       deps.Logger,
	})

	m := &Manager{
		store:        store,
		cache:        cache,
		registry:     registry,
		matrix:       matrix,
		availability: availability,
		overrides:    overrides,
		engine:       engine,
		middleware:   NewAuthorizationMiddleware(engine),
		sweeper:      NewSweeper(overrides, deps.Emitter, deps.Metrics, deps.Logger, deps.Clock),
		config:       config,
	}
	m.handlers = NewHandlers(HandlerOptions{
		Engine:       engine,
		Registry:     registry,
		Matrix:       matrix,
		Availability: availability,
		Overrides:    overrides,
		Companies:    deps.Companies,
		Emitter:      deps.Emitter,
		Clock:        deps.Clock,
		Logger:       deps.Logger,

		TrustedCallers: config.TrustedCallers,
	})
	if deps.Redis != nil {
		m.invalidator = NewRedisInvalidator(deps.Redis, config.InvalidationChannel, cache, deps.Logger)
	}
	return m
}

// Initialize runs the RBAC migrations
func (m *Manager) Initialize(ctx context.Context) error {
	if err := RunMigrations(ctx, m.store.db); err != nil {
		return fmt.Errorf("failed to run migrations: %w", err)
	}
	return nil
}

// RegisterRoutes registers the admin routes with a router
func (m *Manager) RegisterRoutes(router *mux.Router) {
	m.handlers.RegisterRoutes(router)
}

// RunInvalidator listens for invalidations from other instances until ctx is
// done. Without Redis it returns immediately.
func (m *Manager) RunInvalidator(ctx context.Context, ready chan<- struct{}) error {
	if m.invalidator == nil {
		if ready != nil {
			close(ready)
		}
		return nil
	}
	return m.invalidator.Run(ctx, ready)
}

func (m *Manager) Store() *Store                        { return m.store }
func (m *Manager) Cache() *Cache                        { return m.cache }
func (m *Manager) Registry() *Registry                  { return m.registry }
func (m *Manager) Matrix() *Matrix                      { return m.matrix }
func (m *Manager) Availability() *Availability          { return m.availability }
func (m *Manager) Overrides() *OverrideStore            { return m.overrides }
func (m *Manager) Engine() *Engine                      { return m.engine }
func (m *Manager) Middleware() *AuthorizationMiddleware { return m.middleware }
func (m *Manager) Sweeper() *Sweeper                    { return m.sweeper }
func (m *Manager) Handlers() *Handlers                  { return m.handlers }

