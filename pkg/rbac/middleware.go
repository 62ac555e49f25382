package rbac

import (
	"net/http"

	"github.com/platinummonkey/tenantgate/pkg/contextkeys"
	"github.com/platinummonkey/tenantgate/pkg/httputil"
)

// CompanyHeader names the company a request targets when it is not in the path
const CompanyHeader = "X-Company-ID"

// denyBody is the JSON written for a rejected request
type denyBody struct {
	Error       string `json:"error"`
	Reason      Reason `json:"reason"`
	MatchedRule string `json:"matched_rule,omitempty"`
}

// AuthorizationMiddleware asks the engine about every request before it
// reaches a handler
type AuthorizationMiddleware struct {
	engine *Engine
}

// NewAuthorizationMiddleware creates the middleware
func NewAuthorizationMiddleware(engine *Engine) *AuthorizationMiddleware {
	return &AuthorizationMiddleware{engine: engine}
}

// RequestFor builds the engine request for r. The target company comes from
// the company_id query parameter or the X-Company-ID header; a {companyId}
// path variable is resolved by the engine.
func RequestFor(r *http.Request) Request {
	company := r.URL.Query().Get("company_id")
	if company == "" {
		company = r.Header.Get(CompanyHeader)
	}
	return Request{
		Method:    r.Method,
		Path:      r.URL.Path,
		CompanyID: company,
	}
}

// Handler denies with 401 when no principal is present and 403 on any other
// deny. Allowed requests carry the decision in their context.
func (m *AuthorizationMiddleware) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		p := contextkeys.GetPrincipal(ctx)

		d := m.engine.Authorize(ctx, p, RequestFor(r))
		if !d.Allowed {
			status := http.StatusForbidden
			msg := "forbidden"
			if d.Reason == ReasonAuthenticationRequired {
				status = http.StatusUnauthorized
				msg = "authentication required"
			}
			httputil.WriteJSON(w, status, denyBody{Error: msg, Reason: d.Reason, MatchedRule: d.MatchedRule})
			return
		}

		next.ServeHTTP(w, r.WithContext(contextkeys.WithDecision(ctx, d)))
	})
}

// DecisionFrom returns the decision that admitted the request
func DecisionFrom(r *http.Request) (Decision, bool) {
	d, ok := r.Context().Value(contextkeys.DecisionKey).(Decision)
	return d, ok
}
