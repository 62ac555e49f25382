package middleware

import (
	"context"
	"net/http"

	"github.com/platinummonkey/tenantgate/pkg/auth"
	"github.com/platinummonkey/tenantgate/pkg/contextkeys"
	"github.com/platinummonkey/tenantgate/pkg/httputil"
	"github.com/platinummonkey/tenantgate/pkg/observability"
)

// CompanyStatus reports whether a company may still act
type CompanyStatus interface {
	IsCompanyActive(ctx context.Context, companyID string) (bool, error)
}

// ActiveCompanyMiddleware rejects principals whose company has been
// soft-disabled. master_admin principals of the system company always pass.
func ActiveCompanyMiddleware(companies CompanyStatus, logger *observability.Logger) func(http.Handler) http.Handler {
	if logger == nil {
		logger = observability.NewNopLogger()
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			p := contextkeys.GetPrincipal(r.Context())
			if p == nil || p.CompanyID == auth.SystemCompanyID {
				next.ServeHTTP(w, r)
				return
			}

			active, err := companies.IsCompanyActive(r.Context(), p.CompanyID)
			if err != nil {
				observability.LoggerWithTrace(r.Context(), logger).
					WithError(err).
					WithField("company_id", p.CompanyID).
					Error("company status lookup failed, denying")
				httputil.WriteErrorMessage(w, http.StatusServiceUnavailable, "company status unavailable")
				return
			}
			if !active {
				httputil.WriteForbidden(w, "company is not active")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
