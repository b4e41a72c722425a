package kaigi

import (
	"log/slog"
	"time"
)

// Option configures an App.
type Option func(*resolvedOptions)

type agentRegistration struct {
	agentType string
	name      string
	agent     Agent
	completer Completer
}

// resolvedOptions holds all extension points after applying defaults.
// Unexported — callers use the With* functions.
type resolvedOptions struct {
	logger      *slog.Logger
	version     string
	databaseURL string
	sqlitePath  string
	agents      []agentRegistration

	retryCount  int
	backoffBase time.Duration
	callTimeout time.Duration
	minSuccess  int

	rateLimitPerSecond float64
	rateLimitBurst     int

	disableAudit bool
}

// WithLogger sets the structured logger for the App.
// If not set, the default slog logger is used.
func WithLogger(logger *slog.Logger) Option {
	return func(o *resolvedOptions) { o.logger = logger }
}

// WithVersion sets the version string reported in logs and telemetry.
func WithVersion(version string) Option {
	return func(o *resolvedOptions) { o.version = version }
}

// WithDatabaseURL overrides the Postgres connection string from config
// (DATABASE_URL env var). A non-empty URL selects the Postgres audit store.
func WithDatabaseURL(url string) Option {
	return func(o *resolvedOptions) { o.databaseURL = url }
}

// WithSQLitePath overrides the embedded store path from config
// (KAIGI_SQLITE_PATH env var). Used for the audit store when no Postgres
// URL is set, and always for the durable engine's journal.
func WithSQLitePath(path string) Option {
	return func(o *resolvedOptions) { o.sqlitePath = path }
}

// WithAgent registers an agent implementation under a stable type
// identifier. Duplicate types fail at New().
func WithAgent(agentType, name string, a Agent) Option {
	return func(o *resolvedOptions) {
		o.agents = append(o.agents, agentRegistration{agentType: agentType, name: name, agent: a})
	}
}

// WithTextAgent registers an LLM-backed agent: completions from the given
// transport, parsed line-wise into a structured verdict.
func WithTextAgent(agentType, name string, complete Completer) Option {
	return func(o *resolvedOptions) {
		o.agents = append(o.agents, agentRegistration{agentType: agentType, name: name, completer: complete})
	}
}

// WithRetryPolicy overrides the transient-error retry policy from config.
func WithRetryPolicy(retries int, backoffBase, callTimeout time.Duration) Option {
	return func(o *resolvedOptions) {
		o.retryCount = retries
		o.backoffBase = backoffBase
		o.callTimeout = callTimeout
	}
}

// WithMinStageSuccess overrides the number of agents that must succeed
// for a stage to complete (KAIGI_MIN_STAGE_SUCCESS env var).
func WithMinStageSuccess(n int) Option {
	return func(o *resolvedOptions) { o.minSuccess = n }
}

// WithAgentRateLimit throttles invocations per agent type to a sustained
// rate with the given burst. Throttled calls surface as rate-limit errors
// and follow the transient retry policy.
func WithAgentRateLimit(perSecond float64, burst int) Option {
	return func(o *resolvedOptions) {
		o.rateLimitPerSecond = perSecond
		o.rateLimitBurst = burst
	}
}

// WithoutAudit disables the invocation audit trail entirely. Intended for
// tests and throwaway runs; production keeps the trail.
func WithoutAudit() Option {
	return func(o *resolvedOptions) { o.disableAudit = true }
}
