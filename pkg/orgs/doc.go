// Package orgs is the company registry behind the tenant boundary.
//
// Companies are created by master_admin and are never hard-deleted. Turning
// IsActive off soft-disables a company: its principals are rejected before
// authorization runs, and its roles, overrides and page settings stay in
// place for when it is re-enabled.
//
//	store := orgs.NewStore(db, orgs.StoreConfig{StatusTTL: 30 * time.Second})
//	if err := orgs.RunMigrations(ctx, db); err != nil { ... }
//	handlers := orgs.NewHandlers(store, emitter, clock, logger)
//	handlers.RegisterRoutes(router)
//
// Store satisfies both rbac.CompanyDirectory and middleware.CompanyStatus.
package orgs
