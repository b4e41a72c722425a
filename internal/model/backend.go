package model

import "time"

// BackendMode identifies an execution backend, or a composite strategy.
type BackendMode string

const (
	// ModeDurable is the journaling engine: stage checkpoints are persisted
	// before execution so a run can be reconstructed after a crash.
	ModeDurable BackendMode = "durable"
	// ModeGraph is the lightweight in-memory graph engine.
	ModeGraph BackendMode = "graph"
	// ModeHybrid tries the preferred backend and fails over to the other.
	ModeHybrid BackendMode = "hybrid"
	// ModeFallback is returned when no backend is available.
	ModeFallback BackendMode = "fallback"
)

// SystemHealthMetrics is the latest health snapshot for one backend.
// Refreshed by the health monitor; read-only to the selector.
type SystemHealthMetrics struct {
	Available      bool    `json:"available"`
	ResponseTimeMs float64 `json:"response_time_ms"`
	ErrorRate      float64 `json:"error_rate"`
	Load           float64 `json:"load"`
}

// HealthSnapshot maps each concrete backend to its latest metrics.
type HealthSnapshot map[BackendMode]SystemHealthMetrics

// RequestMeta is the per-request input to backend selection.
type RequestMeta struct {
	// Complexity is a caller-supplied estimate in [0,1].
	Complexity float64
	// Priority is an explicit caller hint; empty means no preference.
	Priority BackendMode
}

// BackendDecision is the output of SelectBackend. It is telemetry, not
// authoritative state — only the switcher's decision history retains it.
type BackendDecision struct {
	Mode         BackendMode   `json:"mode"`
	Reason       string        `json:"reason"`
	Confidence   float64       `json:"confidence"`
	Alternatives []BackendMode `json:"alternatives"`
	Timestamp    time.Time     `json:"timestamp"`
}
