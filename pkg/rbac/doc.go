// Package rbac decides whether a principal may reach an endpoint in a
// multi-tenant deployment.
//
// # Overview
//
// A decision merges four sources:
//
//  1. Roles: five built-in roles ranked master_admin > admin > analyst >
//     viewer > user, plus company-scoped custom roles (rank of user).
//  2. The page matrix: which catalog pages each role may open in a company.
//     A built-in role inherits every page allowed to the built-ins below it.
//  3. Company availability: a per-company veto on pages. user_management and
//     audit_logs stay reachable for admin and above even when vetoed.
//  4. User overrides: per-user grants of one permission, optionally limited
//     to a resource and optionally expiring. Overrides only add access.
//
// # Endpoints
//
// Requests are matched against an ordered PatternTable of Rules; the first
// rule matching path and method supplies the Capability. The table can be
// loaded from YAML and hot reloaded:
//
//	rules:
//	  - name: reports.export
//	    pattern: /api/reports/export
//	    method: POST
//	    page: exports
//	    permission: export_reports
//	    phi: true
//
// A request that matches no rule is denied.
//
// # Usage
//
//	mgr := rbac.NewManager(rbac.Dependencies{DB: db, Redis: rdb, Emitter: emitter}, rbac.DefaultConfig())
//	if err := mgr.Initialize(ctx); err != nil { ... }
//
//	router := mux.NewRouter()
//	router.Use(mgr.Middleware().Handler)
//	mgr.RegisterRoutes(router)
//
//	d := mgr.Engine().Authorize(ctx, principal, rbac.Request{Method: "GET", Path: "/api/users"})
//
// Every decision is emitted as an audit event. Cross-tenant denials are
// CRITICAL.
//
// # Caching
//
// Roles, matrix rows and availability are held in a short TTL cache that is
// invalidated on every admin write, and across processes through Redis when
// configured. Overrides are always read from the database.
package rbac
