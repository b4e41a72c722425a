package model

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestErrorKind_Transient(t *testing.T) {
	assert.True(t, KindTimeout.Transient())
	assert.True(t, KindRateLimit.Transient())
	assert.False(t, KindAuth.Transient())
	assert.False(t, KindData.Transient())
	assert.False(t, KindUnknown.Transient())
}

func TestClassifyError(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want ErrorKind
	}{
		{"nil-wrapped agent error keeps kind", NewAgentError(KindRateLimit, "news", nil), KindRateLimit},
		{"wrapped agent error keeps kind", fmt.Errorf("dispatch: %w", NewAgentError(KindAuth, "market", errors.New("401"))), KindAuth},
		{"deadline exceeded is timeout", context.DeadlineExceeded, KindTimeout},
		{"wrapped deadline is timeout", fmt.Errorf("call: %w", context.DeadlineExceeded), KindTimeout},
		{"plain error is unknown", errors.New("boom"), KindUnknown},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ClassifyError(tt.err))
		})
	}
}

func TestAgentError_Unwrap(t *testing.T) {
	inner := errors.New("connection reset")
	err := NewAgentError(KindTimeout, "social", inner)
	assert.ErrorIs(t, err, inner)
	assert.Contains(t, err.Error(), "social")
	assert.Contains(t, err.Error(), "timeout")
}
