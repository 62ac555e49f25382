// Package auth defines the Principal consumed by the authorization engine.
//
// Credential verification happens elsewhere. By the time a request reaches
// tenantgate, the caller has already been authenticated and reduced to a
// Principal:
//
//	p := &auth.Principal{
//		UserID:         "u-123",
//		CompanyID:      "acme",
//		Role:           "analyst",
//		PHIAccessLevel: auth.PHIAccessLimited,
//		SessionID:      "s-42",
//	}
//
// master_admin principals carry auth.SystemCompanyID as their company.
package auth
