package model

import (
	"context"
	"errors"
	"fmt"
)

// ErrorKind classifies an agent call failure for the retry policy.
type ErrorKind string

const (
	// KindTimeout and KindRateLimit are transient — retried with backoff.
	KindTimeout   ErrorKind = "timeout"
	KindRateLimit ErrorKind = "rate_limit"
	// KindAuth and KindData abort the call immediately, no retry.
	KindAuth ErrorKind = "auth_error"
	KindData ErrorKind = "data_error"
	// KindUnknown is treated as fatal — retrying an unclassified failure
	// risks repeating a non-idempotent side effect.
	KindUnknown ErrorKind = "unknown"
)

// Transient reports whether the kind is retried under the backoff policy.
func (k ErrorKind) Transient() bool {
	return k == KindTimeout || k == KindRateLimit
}

// AgentError is a classified agent call failure.
type AgentError struct {
	Kind      ErrorKind
	AgentType string
	Err       error
}

func (e *AgentError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("agent %s: %s", e.AgentType, e.Kind)
	}
	return fmt.Sprintf("agent %s: %s: %v", e.AgentType, e.Kind, e.Err)
}

func (e *AgentError) Unwrap() error { return e.Err }

// NewAgentError wraps err with a classification.
func NewAgentError(kind ErrorKind, agentType string, err error) *AgentError {
	return &AgentError{Kind: kind, AgentType: agentType, Err: err}
}

// ClassifyError maps an arbitrary agent call error to an ErrorKind.
// Pre-classified AgentErrors keep their kind; context deadline expiry is a
// timeout (and therefore transient); everything else is unknown.
func ClassifyError(err error) ErrorKind {
	var ae *AgentError
	if errors.As(err, &ae) {
		return ae.Kind
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return KindTimeout
	}
	return KindUnknown
}
