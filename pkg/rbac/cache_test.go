package rbac

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/platinummonkey/tenantgate/pkg/observability"
)

func newTestCache(t *testing.T) (*Cache, *observability.Metrics) {
	t.Helper()
	metrics := observability.NewMetrics(prometheus.NewRegistry())
	return NewCache(CacheConfig{Size: 16, TTL: time.Minute}, metrics, nil), metrics
}

func TestCache_LoadCachesValue(t *testing.T) {
	c, metrics := newTestCache(t)
	var fills int

	fill := func() (bool, error) {
		fills++
		return true, nil
	}
	for i := 0; i < 3; i++ {
		v, err := load(c, c.avail, "availability", cacheKey("acme", "reports"), fill)
		require.NoError(t, err)
		assert.True(t, v)
	}

	assert.Equal(t, 1, fills)
	assert.Equal(t, float64(2), testutil.ToFloat64(metrics.CacheHitsTotal.WithLabelValues("availability")))
	assert.Equal(t, float64(1), testutil.ToFloat64(metrics.CacheMissesTotal.WithLabelValues("availability")))
}

func TestCache_ErrorsAreNotCached(t *testing.T) {
	c, _ := newTestCache(t)
	boom := errors.New("boom")

	_, err := load(c, c.avail, "availability", "acme|reports", func() (bool, error) { return false, boom })
	assert.ErrorIs(t, err, boom)

	v, err := load(c, c.avail, "availability", "acme|reports", func() (bool, error) { return true, nil })
	require.NoError(t, err)
	assert.True(t, v)
}

func TestCache_ApplyScopes(t *testing.T) {
	c, metrics := newTestCache(t)

	seed := func() {
		c.roles.Add(cacheKey("acme", "auditor"), Viewer)
		c.matrix.Add(cacheKey("acme", RoleViewer), NewPageSet(PageReports))
		c.avail.Add(cacheKey("acme", string(PageReports)), true)
		c.avail.Add(cacheKey("acme", string(PageExports)), true)
		c.avail.Add(cacheKey("globex", string(PageReports)), true)
	}

	tests := []struct {
		name       string
		inv        Invalidation
		wantRoles  int
		wantMatrix int
		wantAvail  int
	}{
		{"page", Invalidation{Scope: ScopePage, CompanyID: "acme", Page: PageReports}, 1, 1, 2},
		{"matrix", Invalidation{Scope: ScopeMatrix, CompanyID: "acme"}, 1, 0, 3},
		{"roles", Invalidation{Scope: ScopeRoles, CompanyID: "acme"}, 0, 0, 3},
		{"company", Invalidation{Scope: ScopeCompany, CompanyID: "acme"}, 0, 0, 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c.Purge()
			seed()
			c.Apply(tt.inv, "local")
			assert.Equal(t, tt.wantRoles, c.roles.Len())
			assert.Equal(t, tt.wantMatrix, c.matrix.Len())
			assert.Equal(t, tt.wantAvail, c.avail.Len())
		})
	}
	assert.Equal(t, float64(1), testutil.ToFloat64(metrics.CacheInvalidationsTotal.WithLabelValues(ScopePage, "local")))
}

func TestCache_StaleFillIsNotStored(t *testing.T) {
	c, _ := newTestCache(t)

	v, err := load(c, c.avail, "availability", "acme|reports", func() (bool, error) {
		// an admin write lands while the read is in flight
		c.Apply(Invalidation{Scope: ScopePage, CompanyID: "acme", Page: PageReports}, "local")
		return true, nil
	})
	require.NoError(t, err)
	assert.True(t, v, "the caller still gets its value")

	_, ok := c.avail.Get("acme|reports")
	assert.False(t, ok, "but the cache does not keep it")
}

func TestCache_ApplyRacingFillsLeavesNoStaleEntry(t *testing.T) {
	c, _ := newTestCache(t)
	var version atomic.Int64
	key := cacheKey("acme", string(PageReports))
	inv := Invalidation{Scope: ScopePage, CompanyID: "acme", Page: PageReports}

	for round := 0; round < 200; round++ {
		var wg sync.WaitGroup
		for i := 0; i < 4; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				_, err := load(c, c.avail, "availability", key, func() (bool, error) {
					return version.Load()%2 == 0, nil
				})
				assert.NoError(t, err)
			}()
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			version.Add(1)
			c.Apply(inv, "local")
		}()
		wg.Wait()

		if v, ok := c.avail.Get(key); ok {
			require.Equal(t, version.Load()%2 == 0, v, "round %d kept a value read before the last write", round)
		}
	}
}

func TestCache_ConcurrentMissesShareOneFill(t *testing.T) {
	c, _ := newTestCache(t)
	var fills atomic.Int32
	release := make(chan struct{})

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := load(c, c.avail, "availability", "acme|reports", func() (bool, error) {
				fills.Add(1)
				<-release
				return true, nil
			})
			assert.NoError(t, err)
		}()
	}

	// let the goroutines pile up on the first fill
	time.Sleep(50 * time.Millisecond)
	close(release)
	wg.Wait()

	assert.Equal(t, int32(1), fills.Load())
	v, ok := c.avail.Get("acme|reports")
	assert.True(t, ok)
	assert.True(t, v)
}

type recordingBroadcaster struct {
	mu   sync.Mutex
	sent []Invalidation
	err  error
}

func (b *recordingBroadcaster) Publish(ctx context.Context, inv Invalidation) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.sent = append(b.sent, inv)
	return b.err
}

func TestCache_InvalidateBroadcasts(t *testing.T) {
	c, _ := newTestCache(t)
	b := &recordingBroadcaster{err: errors.New("redis down")}
	c.SetBroadcaster(b)

	c.avail.Add("acme|reports", true)
	inv := Invalidation{Scope: ScopePage, CompanyID: "acme", Page: PageReports}
	c.Invalidate(context.Background(), inv)

	assert.Equal(t, 0, c.avail.Len(), "a failed broadcast still drops the local entry")
	assert.Equal(t, []Invalidation{inv}, b.sent)
}
