package rbac

import (
	"context"
	"errors"
	"time"

	"github.com/jonboulle/clockwork"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/platinummonkey/tenantgate/pkg/audit"
	"github.com/platinummonkey/tenantgate/pkg/auth"
	"github.com/platinummonkey/tenantgate/pkg/contextkeys"
	"github.com/platinummonkey/tenantgate/pkg/observability"
)

// Reason explains a Decision
type Reason string

const (
	// Allow reasons
	ReasonAlwaysAdmin     Reason = "always_admin"
	ReasonRoleRequirement Reason = "role_requirement"
	ReasonRolePermission  Reason = "role_permission"
	ReasonRolePages       Reason = "role_pages"
	ReasonOverride        Reason = "override"

	// Deny reasons
	ReasonAuthenticationRequired Reason = "authentication_required"
	ReasonCompanyMismatch        Reason = "company_mismatch"
	ReasonUnknownEndpoint        Reason = "unknown_endpoint"
	ReasonPageDisabled           Reason = "page_disabled"
	ReasonInsufficientRole       Reason = "insufficient_role"
	ReasonStoreUnavailable       Reason = "store_unavailable"
)

// Decision is the outcome of one authorization call
type Decision struct {
	Allowed     bool        `json:"allowed"`
	Reason      Reason      `json:"reason"`
	MatchedRule string      `json:"matched_rule,omitempty"`
	Capability  *Capability `json:"capability,omitempty"`
	CompanyID   string      `json:"company_id,omitempty"`
	// Err is the store failure behind a StoreUnavailable deny
	Err error `json:"-"`
}

// Severity maps the decision onto the audit severity scale and reports
// whether PHI was reached
func (d Decision) Severity() (audit.Severity, bool) {
	switch {
	case !d.Allowed && d.Reason == ReasonCompanyMismatch:
		return audit.SeverityCritical, false
	case !d.Allowed:
		return audit.SeverityWarning, false
	case d.Capability != nil && d.Capability.PHI:
		return audit.SeverityInfo, true
	default:
		return audit.SeverityInfo, false
	}
}

// Request is the endpoint a principal is trying to reach
type Request struct {
	Method     string `json:"method"`
	Path       string `json:"path"`
	CompanyID  string `json:"company_id,omitempty"`
	ResourceID string `json:"resource_id,omitempty"`
}

// EngineOptions wires the decision engine
type EngineOptions struct {
	Registry     *Registry
	Matrix       *Matrix
	Availability *Availability
	Overrides    OverrideSource
	Patterns     *PatternSource

	Emitter     audit.Emitter
	Clock       clockwork.Clock
	Timeout     time.Duration
	Metrics     *observability.Metrics
	OTelMetrics *observability.OTelMetrics
	Logger      *observability.Logger
}

// Engine merges the role hierarchy, the page matrix, company availability and
// user overrides into one decision per request. It holds no per-request
// state and is safe for concurrent use.
type Engine struct {
	registry     *Registry
	matrix       *Matrix
	availability *Availability
	overrides    OverrideSource
	patterns     *PatternSource

	emitter     audit.Emitter
	clock       clockwork.Clock
	timeout     time.Duration
	metrics     *observability.Metrics
	otelMetrics *observability.OTelMetrics
	logger      *observability.Logger
}

// NewEngine creates a decision engine
func NewEngine(opts EngineOptions) *Engine {
	e := &Engine{
		registry:     opts.Registry,
		matrix:       opts.Matrix,
		availability: opts.Availability,
		overrides:    opts.Overrides,
		patterns:     opts.Patterns,
		emitter:      opts.Emitter,
		clock:        opts.Clock,
		timeout:      opts.Timeout,
		metrics:      opts.Metrics,
		otelMetrics:  opts.OTelMetrics,
		logger:       opts.Logger,
	}
	if e.patterns == nil {
		e.patterns = NewPatternSource(DefaultPatternTable())
	}
	if e.emitter == nil {
		e.emitter = audit.NopEmitter
	}
	if e.clock == nil {
		e.clock = clockwork.NewRealClock()
	}
	if e.logger == nil {
		e.logger = observability.NewNopLogger()
	}
	return e
}

// Patterns returns the pattern source in use
func (e *Engine) Patterns() *PatternSource {
	return e.patterns
}

func allow(reason Reason, c *Capability) Decision {
	return Decision{Allowed: true, Reason: reason, Capability: c}
}

func deny(reason Reason, c *Capability) Decision {
	return Decision{Reason: reason, Capability: c}
}

func unavailable(c *Capability, err error) Decision {
	return Decision{Reason: ReasonStoreUnavailable, Capability: c, Err: err}
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

func isMasterAdmin(p *auth.Principal) bool {
	b, ok := LookupBuiltin(p.Role)
	return ok && b == MasterAdmin
}

// Authorize decides whether p may call req
func (e *Engine) Authorize(ctx context.Context, p *auth.Principal, req Request) Decision {
	return e.run(ctx, p, req.Method, req.Path, func(ctx context.Context) Decision {
		return e.authorize(ctx, p, req)
	})
}

// Evaluate decides an already resolved capability. Admin handlers use it for
// checks that go beyond the endpoint rule.
func (e *Engine) Evaluate(ctx context.Context, p *auth.Principal, c Capability) Decision {
	return e.run(ctx, p, "", "", func(ctx context.Context) Decision {
		if p == nil || p.Validate() != nil {
			return deny(ReasonAuthenticationRequired, &c)
		}
		if c.Action == "" {
			c.Action = ActionRead
		}
		if c.CompanyID == "" {
			c.CompanyID = p.CompanyID
		}
		if p.CompanyID != c.CompanyID && !isMasterAdmin(p) {
			return deny(ReasonCompanyMismatch, &c)
		}
		return e.evaluate(ctx, p, &c)
	})
}

func (e *Engine) run(ctx context.Context, p *auth.Principal, method, path string, decide func(context.Context) Decision) Decision {
	start := e.clock.Now()

	ctx, span := observability.Tracer().Start(ctx, "rbac.Authorize",
		trace.WithAttributes(
			attribute.String("http.method", method),
			attribute.String("http.path", path),
		))
	defer span.End()

	if e.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.timeout)
		defer cancel()
	}

	d := decide(ctx)
	if d.CompanyID == "" && d.Capability != nil {
		d.CompanyID = d.Capability.CompanyID
	}
	if d.Capability != nil {
		d.MatchedRule = d.Capability.Rule
	}

	elapsed := e.clock.Since(start)
	e.metrics.RecordDecision(d.Allowed, string(d.Reason), elapsed)
	e.otelMetrics.RecordDecision(ctx, d.Allowed, string(d.Reason), elapsed)

	span.SetAttributes(
		attribute.Bool("rbac.allowed", d.Allowed),
		attribute.String("rbac.reason", string(d.Reason)),
		attribute.String("rbac.rule", d.MatchedRule),
	)
	if d.Err != nil {
		span.RecordError(d.Err)
		span.SetStatus(codes.Error, string(d.Reason))
	}

	e.logDecision(ctx, p, method, path, d)
	e.emit(ctx, p, d)
	return d
}

func (e *Engine) authorize(ctx context.Context, p *auth.Principal, req Request) Decision {
	if p == nil || p.Validate() != nil {
		return deny(ReasonAuthenticationRequired, nil)
	}

	rule, vars, matched := e.patterns.Current().Match(req.Method, req.Path)
	target := firstNonEmpty(req.CompanyID, vars["companyId"], p.CompanyID)

	if target != p.CompanyID && !isMasterAdmin(p) {
		d := deny(ReasonCompanyMismatch, nil)
		if matched {
			c := rule.capability(req.Method)
			c.CompanyID = target
			d.Capability = &c
		}
		d.CompanyID = target
		return d
	}
	if !matched {
		d := deny(ReasonUnknownEndpoint, nil)
		d.CompanyID = target
		return d
	}

	c := rule.capability(req.Method)
	c.CompanyID = target
	c.ResourceID = firstNonEmpty(req.ResourceID, vars["id"])
	return e.evaluate(ctx, p, &c)
}

// evaluate runs the steps after the tenant check
func (e *Engine) evaluate(ctx context.Context, p *auth.Principal, c *Capability) Decision {
	if c.CompanyID != p.CompanyID && c.Action == ActionWrite {
		return deny(ReasonCompanyMismatch, c)
	}

	role, err := e.registry.ResolveRole(ctx, p.CompanyID, p.Role)
	if errors.Is(err, ErrRoleNotFound) {
		e.logger.WithFields(map[string]interface{}{
			"user_id":    p.UserID,
			"company_id": p.CompanyID,
			"role":       p.Role,
		}).Warn("principal role does not resolve")
		return deny(ReasonInsufficientRole, c)
	}
	if err != nil {
		return unavailable(c, err)
	}

	if !meetsRoleRequirement(role, c) {
		return deny(ReasonInsufficientRole, c)
	}

	if c.Page == "" {
		if c.Permission == "" {
			return allow(ReasonRoleRequirement, c)
		}
		if role.Permissions().Has(c.Permission) {
			return allow(ReasonRolePermission, c)
		}
		return e.overrideStep(ctx, p, c)
	}

	if IsAlwaysAdmin(c.Page) && role.RoleRank() >= RankAdmin {
		return allow(ReasonAlwaysAdmin, c)
	}

	enabled, err := e.availability.IsPageEnabledForCompany(ctx, p.CompanyID, c.Page)
	if err != nil {
		return unavailable(c, err)
	}
	if !enabled {
		return deny(ReasonPageDisabled, c)
	}

	pages, err := e.matrix.PagesFor(ctx, p.CompanyID, role)
	if err != nil {
		return unavailable(c, err)
	}
	if pages.Has(c.Page) {
		return allow(ReasonRolePages, c)
	}

	return e.overrideStep(ctx, p, c)
}

func meetsRoleRequirement(role Role, c *Capability) bool {
	if c.ExactRole != "" {
		want, ok := LookupBuiltin(c.ExactRole)
		if !ok || !IsBuiltin(role) || role.RoleName() != want.Name {
			return false
		}
	}
	if c.MinRole != "" {
		min, ok := LookupBuiltin(c.MinRole)
		if !ok || role.RoleRank() < min.Rank {
			return false
		}
	}
	return true
}

func (e *Engine) overrideStep(ctx context.Context, p *auth.Principal, c *Capability) Decision {
	if c.Permission == "" || e.overrides == nil {
		return deny(ReasonInsufficientRole, c)
	}

	overrides, err := e.overrides.ActiveOverridesFor(ctx, p.UserID)
	if err != nil {
		return unavailable(c, err)
	}
	now := e.clock.Now()
	for _, o := range overrides {
		if o.CompanyID == p.CompanyID && o.ActiveAt(now) && o.Grants(c.Permission, c.ResourceID) {
			return allow(ReasonOverride, c)
		}
	}
	return deny(ReasonInsufficientRole, c)
}

func (e *Engine) logDecision(ctx context.Context, p *auth.Principal, method, path string, d Decision) {
	if d.Allowed || (d.Reason != ReasonUnknownEndpoint && d.Reason != ReasonStoreUnavailable) {
		return
	}
	l := observability.LoggerWithTrace(ctx, e.logger).WithFields(map[string]interface{}{
		"reason": string(d.Reason),
		"method": method,
		"path":   path,
	})
	if p != nil {
		l = l.WithField("user_id", p.UserID).WithField("company_id", p.CompanyID)
	}
	if d.Reason == ReasonUnknownEndpoint {
		l.Error("no endpoint rule matched, denying")
		return
	}
	l.WithError(d.Err).Error("authorization store unavailable, denying")
}

func (e *Engine) emit(ctx context.Context, p *auth.Principal, d Decision) {
	severity, phi := d.Severity()
	event := audit.NewEvent(ctx, audit.EventTypeAuthzDecision, e.clock.Now())
	event.Allowed = d.Allowed
	event.Reason = string(d.Reason)
	event.Severity = severity
	event.PHIAccessed = phi
	event.MatchedRule = d.MatchedRule

	if p != nil {
		event.UserID = p.UserID
		event.CompanyID = p.CompanyID
		event.SessionID = p.SessionID
		if caller := contextkeys.GetPrincipal(ctx); caller != nil && (caller.UserID != p.UserID || caller.CompanyID != p.CompanyID) {
			event.Metadata["requested_by"] = caller.UserID
			event.Metadata["requested_by_company_id"] = caller.CompanyID
		}
	}
	if d.Capability != nil {
		event.Action = string(d.Capability.Action)
		event.ResourceType = d.Capability.ResourceType
		event.ResourceID = d.Capability.ResourceID
		if d.Capability.Page != "" {
			event.Metadata["page"] = string(d.Capability.Page)
		}
	}
	if d.CompanyID != "" && d.CompanyID != event.CompanyID {
		event.Metadata["target_company_id"] = d.CompanyID
	}

	e.emitter.Emit(ctx, event)
}
