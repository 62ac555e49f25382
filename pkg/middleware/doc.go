// Package middleware turns the trusted gateway's view of the caller into an
// auth.Principal and keeps disabled companies out.
//
//	principals := middleware.NewPrincipalMiddleware(middleware.HeaderResolver{GatewayToken: token}, logger)
//	handler := principals.Handler(
//		middleware.ActiveCompanyMiddleware(companyStore, logger)(
//			rbacManager.Middleware().Handler(router)))
//
// Credentials are never verified here. The gateway in front of the service
// does that and forwards the result in X-Principal-* headers.
package middleware
