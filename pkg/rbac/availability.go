package rbac

import (
	"context"

	"github.com/jonboulle/clockwork"
)

// PageAvailability is one page of a company's availability listing
type PageAvailability struct {
	Page        PageKey `json:"page"`
	Label       string  `json:"label"`
	Enabled     bool    `json:"enabled"`
	AlwaysAdmin bool    `json:"always_admin"`
}

// Availability holds the per-company page switches. A page with no row is
// enabled.
type Availability struct {
	store *Store
	cache *Cache
	clock clockwork.Clock
}

// NewAvailability creates the company page availability component
func NewAvailability(store *Store, cache *Cache, clock clockwork.Clock) *Availability {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &Availability{store: store, cache: cache, clock: clock}
}

// IsPageEnabledForCompany reports whether page is enabled for companyID
func (a *Availability) IsPageEnabledForCompany(ctx context.Context, companyID string, page PageKey) (bool, error) {
	return load(a.cache, a.cache.avail, "availability", cacheKey(companyID, string(page)), func() (bool, error) {
		return a.store.CompanyPageEnabled(ctx, companyID, page)
	})
}

// SetPageEnabled switches page on or off for companyID
func (a *Availability) SetPageEnabled(ctx context.Context, companyID string, page PageKey, enabled bool, actorUserID string) error {
	if _, ok := LookupPage(page); !ok {
		return unknownPage(page)
	}
	if err := a.store.UpsertCompanyPage(ctx, companyID, page, enabled, actorUserID, a.clock.Now().UTC()); err != nil {
		return err
	}
	a.cache.Invalidate(ctx, Invalidation{Scope: ScopePage, CompanyID: companyID, Page: page})
	return nil
}

// AvailablePages lists the catalog with each page's state for companyID
func (a *Availability) AvailablePages(ctx context.Context, companyID string) ([]PageAvailability, error) {
	states, err := a.store.CompanyPageStates(ctx, companyID)
	if err != nil {
		return nil, err
	}

	out := make([]PageAvailability, 0, len(catalog))
	for _, def := range catalog {
		enabled, ok := states[def.Key]
		out = append(out, PageAvailability{
			Page:        def.Key,
			Label:       def.Label,
			Enabled:     !ok || enabled,
			AlwaysAdmin: def.AlwaysAdmin,
		})
	}
	return out, nil
}
