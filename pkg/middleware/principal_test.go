package middleware

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/platinummonkey/tenantgate/pkg/auth"
	"github.com/platinummonkey/tenantgate/pkg/contextkeys"
)

func principalRequest(headers map[string]string) *http.Request {
	r := httptest.NewRequest(http.MethodGet, "/api/users", nil)
	for k, v := range headers {
		r.Header.Set(k, v)
	}
	return r
}

func TestHeaderResolver_Resolve(t *testing.T) {
	full := map[string]string{
		HeaderUserID:    "u-1",
		HeaderCompanyID: "acme",
		HeaderRole:      "Analyst",
		HeaderPHIAccess: "limited",
		HeaderSessionID: "s-9",
		HeaderMobile:    "true",
	}

	p, err := HeaderResolver{}.Resolve(principalRequest(full))
	require.NoError(t, err)
	assert.Equal(t, &auth.Principal{
		UserID:         "u-1",
		CompanyID:      "acme",
		Role:           "analyst",
		PHIAccessLevel: auth.PHIAccessLimited,
		SessionID:      "s-9",
		IsMobile:       true,
	}, p)

	_, err = HeaderResolver{}.Resolve(principalRequest(nil))
	assert.ErrorIs(t, err, ErrNoPrincipal)

	tests := []struct {
		name    string
		headers map[string]string
	}{
		{"missing company", map[string]string{HeaderUserID: "u-1", HeaderRole: "admin"}},
		{"missing role", map[string]string{HeaderUserID: "u-1", HeaderCompanyID: "acme"}},
		{"bad phi", map[string]string{HeaderUserID: "u-1", HeaderCompanyID: "acme", HeaderRole: "admin", HeaderPHIAccess: "most"}},
		{"bad mobile", map[string]string{HeaderUserID: "u-1", HeaderCompanyID: "acme", HeaderRole: "admin", HeaderMobile: "maybe"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := HeaderResolver{}.Resolve(principalRequest(tt.headers))
			require.Error(t, err)
			assert.NotErrorIs(t, err, ErrNoPrincipal)
		})
	}
}

func TestHeaderResolver_GatewayToken(t *testing.T) {
	headers := map[string]string{HeaderUserID: "u-1", HeaderCompanyID: "acme", HeaderRole: "admin"}
	resolver := HeaderResolver{GatewayToken: "s3cret"}

	_, err := resolver.Resolve(principalRequest(headers))
	assert.ErrorContains(t, err, "gateway token")

	headers[HeaderGatewayToken] = "wrong"
	_, err = resolver.Resolve(principalRequest(headers))
	assert.Error(t, err)

	headers[HeaderGatewayToken] = "s3cret"
	p, err := resolver.Resolve(principalRequest(headers))
	require.NoError(t, err)
	assert.Equal(t, "u-1", p.UserID)
}

func TestPrincipalMiddleware(t *testing.T) {
	mw := NewPrincipalMiddleware(HeaderResolver{}, nil)

	var seen *auth.Principal
	var reached bool
	handler := mw.Handler(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		reached = true
		seen = contextkeys.GetPrincipal(r.Context())
		w.WriteHeader(http.StatusOK)
	}))

	tests := []struct {
		name     string
		headers  map[string]string
		status   int
		reached  bool
		wantUser string
	}{
		{"valid", map[string]string{HeaderUserID: "u-1", HeaderCompanyID: "acme", HeaderRole: "viewer"}, http.StatusOK, true, "u-1"},
		{"anonymous passes through", nil, http.StatusOK, true, ""},
		{"malformed", map[string]string{HeaderUserID: "u-1"}, http.StatusUnauthorized, false, ""},
		{"master_admin claimed by a tenant", map[string]string{HeaderUserID: "u-1", HeaderCompanyID: "acme", HeaderRole: "MASTER_ADMIN"}, http.StatusUnauthorized, false, ""},
		{"master_admin in system company", map[string]string{HeaderUserID: "root", HeaderCompanyID: auth.SystemCompanyID, HeaderRole: "master_admin"}, http.StatusOK, true, "root"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			seen, reached = nil, false
			w := httptest.NewRecorder()
			handler.ServeHTTP(w, principalRequest(tt.headers))

			assert.Equal(t, tt.status, w.Code)
			assert.Equal(t, tt.reached, reached)
			if tt.wantUser == "" {
				assert.Nil(t, seen)
				return
			}
			require.NotNil(t, seen)
			assert.Equal(t, tt.wantUser, seen.UserID)
		})
	}
}

type stubCompanies map[string]bool

func (s stubCompanies) IsCompanyActive(ctx context.Context, companyID string) (bool, error) {
	if companyID == "broken" {
		return false, errors.New("db down")
	}
	return s[companyID], nil
}

func TestActiveCompanyMiddleware(t *testing.T) {
	companies := stubCompanies{"acme": true, "globex": false}
	handler := ActiveCompanyMiddleware(companies, nil)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	tests := []struct {
		name    string
		company string
		status  int
	}{
		{"active", "acme", http.StatusOK},
		{"disabled", "globex", http.StatusForbidden},
		{"unknown", "initech", http.StatusForbidden},
		{"lookup fails", "broken", http.StatusServiceUnavailable},
		{"system", auth.SystemCompanyID, http.StatusOK},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := httptest.NewRequest(http.MethodGet, "/api/users", nil)
			p := &auth.Principal{UserID: "u-1", CompanyID: tt.company, Role: "admin"}
			r = r.WithContext(contextkeys.WithPrincipal(r.Context(), p))
			w := httptest.NewRecorder()
			handler.ServeHTTP(w, r)
			assert.Equal(t, tt.status, w.Code)
		})
	}

	w := httptest.NewRecorder()
	handler.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/users", nil))
	assert.Equal(t, http.StatusOK, w.Code, "anonymous requests are left to the authorization layer")
}
