package middleware

import (
	"crypto/subtle"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/platinummonkey/tenantgate/pkg/auth"
	"github.com/platinummonkey/tenantgate/pkg/contextkeys"
	"github.com/platinummonkey/tenantgate/pkg/httputil"
	"github.com/platinummonkey/tenantgate/pkg/observability"
)

// Headers set by the trusted gateway after it has verified the caller
const (
	HeaderUserID       = "X-Principal-User-ID"
	HeaderCompanyID    = "X-Principal-Company-ID"
	HeaderRole         = "X-Principal-Role"
	HeaderPHIAccess    = "X-Principal-PHI-Access"
	HeaderSessionID    = "X-Principal-Session-ID"
	HeaderMobile       = "X-Principal-Mobile"
	HeaderGatewayToken = "X-Gateway-Token"
)

// ErrNoPrincipal means the request carries no principal at all
var ErrNoPrincipal = errors.New("no principal on request")

// PrincipalResolver extracts the authenticated principal from a request
type PrincipalResolver interface {
	Resolve(r *http.Request) (*auth.Principal, error)
}

// HeaderResolver reads the principal from X-Principal-* headers. When
// GatewayToken is set, requests must present it in X-Gateway-Token or their
// principal headers are ignored.
type HeaderResolver struct {
	GatewayToken string
}

// Resolve implements PrincipalResolver
func (h HeaderResolver) Resolve(r *http.Request) (*auth.Principal, error) {
	userID := strings.TrimSpace(r.Header.Get(HeaderUserID))
	if userID == "" {
		return nil, ErrNoPrincipal
	}
	if h.GatewayToken != "" {
		presented := r.Header.Get(HeaderGatewayToken)
		if subtle.ConstantTimeCompare([]byte(presented), []byte(h.GatewayToken)) != 1 {
			return nil, fmt.Errorf("gateway token mismatch")
		}
	}

	p := &auth.Principal{
		UserID:         userID,
		CompanyID:      strings.TrimSpace(r.Header.Get(HeaderCompanyID)),
		Role:           strings.ToLower(strings.TrimSpace(r.Header.Get(HeaderRole))),
		PHIAccessLevel: auth.PHIAccessLevel(strings.ToLower(r.Header.Get(HeaderPHIAccess))),
		SessionID:      r.Header.Get(HeaderSessionID),
	}
	if v := r.Header.Get(HeaderMobile); v != "" {
		mobile, err := strconv.ParseBool(v)
		if err != nil {
			return nil, fmt.Errorf("invalid %s header: %w", HeaderMobile, err)
		}
		p.IsMobile = mobile
	}
	if err := p.Validate(); err != nil {
		return nil, err
	}
	return p, nil
}

// PrincipalMiddleware places the resolved principal in the request context.
// A request without one passes through unchanged so the authorization layer
// can answer 401; a request with a malformed one is rejected here.
type PrincipalMiddleware struct {
	resolver PrincipalResolver
	logger   *observability.Logger
}

// NewPrincipalMiddleware creates the middleware
func NewPrincipalMiddleware(resolver PrincipalResolver, logger *observability.Logger) *PrincipalMiddleware {
	if logger == nil {
		logger = observability.NewNopLogger()
	}
	return &PrincipalMiddleware{resolver: resolver, logger: logger}
}

// Handler wraps next
func (m *PrincipalMiddleware) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		p, err := m.resolver.Resolve(r)
		switch {
		case errors.Is(err, ErrNoPrincipal):
			next.ServeHTTP(w, r)
		case err != nil:
			observability.LoggerWithTrace(r.Context(), m.logger).
				WithError(err).
				WithField("path", r.URL.Path).
				Warn("rejecting request with malformed principal")
			httputil.WriteUnauthorized(w, "invalid principal")
		default:
			next.ServeHTTP(w, r.WithContext(contextkeys.WithPrincipal(r.Context(), p)))
		}
	})
}
