// Package config loads tenantgate's configuration from environment variables.
//
// Every setting has a default except the database URL:
//
//	TENANTGATE_PORT="8080"
//	TENANTGATE_HEALTH_PORT="9090"
//	TENANTGATE_GATEWAY_TOKEN=""            # required alongside X-Principal-* headers when set
//	TENANTGATE_DATABASE_URL="postgres://tenantgate@db/tenantgate?sslmode=disable"
//	TENANTGATE_REDIS_URL="redis://cache:6379/0"   # optional
//
// Authorization engine:
//
//	TENANTGATE_DEFAULT_POLICY="allow"      # allow or deny for unconfigured pages
//	TENANTGATE_CACHE_SIZE="4096"
//	TENANTGATE_CACHE_TTL="5s"
//	TENANTGATE_DECISION_TIMEOUT="250ms"
//	TENANTGATE_PATTERNS_FILE="/etc/tenantgate/patterns.yaml"
//	TENANTGATE_WATCH_PATTERNS="true"
//
// Audit:
//
//	TENANTGATE_AUDIT_DIR="/var/log/tenantgate/audit"
//	TENANTGATE_AUDIT_BUFFER="1024"
//	TENANTGATE_AUDIT_WORKERS="2"
//	TENANTGATE_AUDIT_STREAM="tenantgate:audit"   # needs TENANTGATE_REDIS_URL
//
// Sweeper and observability:
//
//	TENANTGATE_SWEEPER_SCHEDULE="*/15 * * * *"
//	TENANTGATE_LOG_LEVEL="info"
//	TENANTGATE_OTEL_ENABLED="false"
//	TENANTGATE_OTEL_ENDPOINT="localhost:4317"
//
// LoadConfig validates the result and fails fast on anything unusable.
package config
