package model

import (
	"time"

	"github.com/google/uuid"
)

// InvocationStatus is the lifecycle state of an agent invocation record.
type InvocationStatus string

const (
	InvocationPending InvocationStatus = "pending"
	InvocationSuccess InvocationStatus = "success"
	InvocationFailed  InvocationStatus = "failed"
)

// TokenUsage is the token accounting for one LLM-backed call.
type TokenUsage struct {
	Prompt     int `json:"prompt"`
	Completion int `json:"completion"`
	Total      int `json:"total"`
}

// AgentInvocationRecord is the audit record for one agent invocation.
// Created as pending before dispatch and updated to a terminal status
// afterwards; records are never deleted outside retention sweeps.
type AgentInvocationRecord struct {
	ID            uuid.UUID        `json:"id"`
	SessionID     uuid.UUID        `json:"session_id"`
	AgentType     string           `json:"agent_type"`
	AgentName     string           `json:"agent_name"`
	Model         string           `json:"model,omitempty"`
	InputPrompt   string           `json:"input_prompt"`
	OutputContent string           `json:"output_content,omitempty"`
	Tokens        TokenUsage       `json:"tokens"`
	StartedAt     time.Time        `json:"started_at"`
	CompletedAt   *time.Time       `json:"completed_at,omitempty"`
	Status        InvocationStatus `json:"status"`
	ErrorCode     *string          `json:"error_code,omitempty"`
	ErrorMessage  *string          `json:"error_message,omitempty"`
	Metadata      map[string]any   `json:"metadata"`
}

// InvocationUpdate carries the terminal fields written after a call finishes.
// AgentName and Model are written only when non-empty; agents report both on
// their result, so they are unknown until the call returns.
type InvocationUpdate struct {
	Status        InvocationStatus
	AgentName     string
	OutputContent string
	Model         string
	Tokens        TokenUsage
	CompletedAt   time.Time
	ErrorCode     *string
	ErrorMessage  *string
}

// RecordFilter selects invocation records for queries.
// Nil fields are not applied. AgentType, when set, confines the query to a
// single shard; otherwise all shards are scanned.
type RecordFilter struct {
	SessionID *uuid.UUID
	AgentType *string
	Status    *InvocationStatus
	From      *time.Time
	To        *time.Time
	Limit     int
}

// AgentTypeStats is one row of the audit stats aggregation.
type AgentTypeStats struct {
	AgentType    string  `json:"agent_type"`
	Model        string  `json:"model"`
	Count        int64   `json:"count"`
	SuccessCount int64   `json:"success_count"`
	SuccessRate  float64 `json:"success_rate"`
	AvgLatencyMs float64 `json:"avg_latency_ms"`
	TotalTokens  int64   `json:"total_tokens"`
}
