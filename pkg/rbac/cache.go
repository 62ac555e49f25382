package rbac

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	lru "github.com/hashicorp/golang-lru/v2/expirable"
	"golang.org/x/sync/singleflight"

	"github.com/platinummonkey/tenantgate/pkg/observability"
)

// Invalidation scopes
const (
	ScopeCompany = "company" // every entry of a company
	ScopeRoles   = "roles"   // role definitions and the matrix of a company
	ScopeMatrix  = "matrix"  // the matrix of a company
	ScopePage    = "page"    // one company page availability entry
)

// Invalidation names the cache entries an admin write made stale
type Invalidation struct {
	Scope     string  `json:"scope"`
	CompanyID string  `json:"company_id"`
	Page      PageKey `json:"page,omitempty"`
}

// Broadcaster forwards invalidations to other processes
type Broadcaster interface {
	Publish(ctx context.Context, inv Invalidation) error
}

// CacheConfig sizes the cache
type CacheConfig struct {
	Size int
	TTL  time.Duration
}

// DefaultCacheConfig returns a small cache with a five second TTL
func DefaultCacheConfig() CacheConfig {
	return CacheConfig{Size: 4096, TTL: 5 * time.Second}
}

// Cache is the invalidate-on-write arena in front of the store. Entries are
// keyed "company|role" or "company|page". Overrides never pass through it.
type Cache struct {
	roles  *lru.LRU[string, Role]
	matrix *lru.LRU[string, PageSet]
	avail  *lru.LRU[string, bool]

	group singleflight.Group
	// epoch moves on every invalidation; a fill that started under an older
	// epoch returns its value but does not store it. mu orders the epoch
	// check and store of a fill against the bump and removals of Apply.
	epoch atomic.Uint64
	mu    sync.Mutex

	broadcaster Broadcaster
	metrics     *observability.Metrics
	logger      *observability.Logger
}

// NewCache creates a cache. metrics may be nil.
func NewCache(cfg CacheConfig, metrics *observability.Metrics, logger *observability.Logger) *Cache {
	if cfg.Size <= 0 {
		cfg.Size = DefaultCacheConfig().Size
	}
	if cfg.TTL <= 0 {
		cfg.TTL = DefaultCacheConfig().TTL
	}
	if logger == nil {
		logger = observability.NewNopLogger()
	}
	return &Cache{
		roles:   lru.NewLRU[string, Role](cfg.Size, nil, cfg.TTL),
		matrix:  lru.NewLRU[string, PageSet](cfg.Size, nil, cfg.TTL),
		avail:   lru.NewLRU[string, bool](cfg.Size, nil, cfg.TTL),
		metrics: metrics,
		logger:  logger,
	}
}

// SetBroadcaster attaches a cross-process channel for invalidations
func (c *Cache) SetBroadcaster(b Broadcaster) {
	c.broadcaster = b
}

func cacheKey(companyID, sub string) string {
	return companyID + "|" + sub
}

func load[V any](c *Cache, store *lru.LRU[string, V], name, key string, fill func() (V, error)) (V, error) {
	if v, ok := store.Get(key); ok {
		c.metrics.RecordCache(name, true)
		return v, nil
	}
	c.metrics.RecordCache(name, false)

	epoch := c.epoch.Load()
	flight := fmt.Sprintf("%s|%d|%s", name, epoch, key)
	v, err, _ := c.group.Do(flight, func() (interface{}, error) {
		val, err := fill()
		if err != nil {
			return nil, err
		}
		c.mu.Lock()
		if c.epoch.Load() == epoch {
			store.Add(key, val)
		}
		c.mu.Unlock()
		return val, nil
	})
	if err != nil {
		var zero V
		return zero, err
	}
	return v.(V), nil
}

// Invalidate drops the entries named by inv and forwards it to other
// processes when a broadcaster is attached
func (c *Cache) Invalidate(ctx context.Context, inv Invalidation) {
	c.Apply(inv, "local")
	if c.broadcaster == nil {
		return
	}
	if err := c.broadcaster.Publish(ctx, inv); err != nil {
		c.logger.WithError(err).
			WithField("company_id", inv.CompanyID).
			WithField("scope", inv.Scope).
			Warn("failed to broadcast cache invalidation")
	}
}

// Apply drops the entries named by inv from this process only
func (c *Cache) Apply(inv Invalidation, origin string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.epoch.Add(1)
	prefix := inv.CompanyID + "|"

	switch inv.Scope {
	case ScopePage:
		c.avail.Remove(cacheKey(inv.CompanyID, string(inv.Page)))
	case ScopeMatrix:
		removePrefix(c.matrix, prefix)
	case ScopeRoles:
		removePrefix(c.roles, prefix)
		removePrefix(c.matrix, prefix)
	default:
		removePrefix(c.roles, prefix)
		removePrefix(c.matrix, prefix)
		removePrefix(c.avail, prefix)
	}
	c.metrics.RecordInvalidation(inv.Scope, origin)
}

// Purge empties every arena
func (c *Cache) Purge() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.epoch.Add(1)
	c.roles.Purge()
	c.matrix.Purge()
	c.avail.Purge()
}

func removePrefix[V any](store *lru.LRU[string, V], prefix string) {
	for _, k := range store.Keys() {
		if strings.HasPrefix(k, prefix) {
			store.Remove(k)
		}
	}
}
