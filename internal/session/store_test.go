package session

import (
	"context"
	"log/slog"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ashita-ai/kaigi/internal/model"
)

func newTestStore(t *testing.T, ttl time.Duration) *Store {
	t.Helper()
	return NewStore(slog.Default(), ttl)
}

func TestStore_CreateAndGet(t *testing.T) {
	s := newTestStore(t, time.Hour)

	created := s.Create("AAPL")
	got, ok := s.Get(created.ID)
	require.True(t, ok)
	assert.Equal(t, "AAPL", got.SubjectID)
	assert.Equal(t, model.StageInit, got.Stage)
}

func TestStore_GetUnknownIsNotAnError(t *testing.T) {
	s := newTestStore(t, time.Hour)

	got, ok := s.Get(uuid.New())
	assert.False(t, ok)
	assert.Equal(t, model.WorkflowSession{}, got)
}

func TestStore_ApplyIsAtomicAndRefreshesUpdatedAt(t *testing.T) {
	s := newTestStore(t, time.Hour)
	created := s.Create("AAPL")
	before := created.UpdatedAt

	ok := s.Apply(created.ID, func(sess model.WorkflowSession) model.WorkflowSession {
		sess.Stage = model.StageAnalysis
		sess.StageStatus[model.StageAnalysis] = model.StageInProgress
		return sess
	})
	require.True(t, ok)

	got, found := s.Get(created.ID)
	require.True(t, found)
	assert.Equal(t, model.StageAnalysis, got.Stage)
	assert.Equal(t, model.StageInProgress, got.StageStatus[model.StageAnalysis])
	assert.False(t, got.UpdatedAt.Before(before))
}

func TestStore_ApplyUnknownReturnsFalse(t *testing.T) {
	s := newTestStore(t, time.Hour)
	ok := s.Apply(uuid.New(), func(sess model.WorkflowSession) model.WorkflowSession { return sess })
	assert.False(t, ok)
}

func TestStore_GetReturnsCopy(t *testing.T) {
	s := newTestStore(t, time.Hour)
	created := s.Create("AAPL")

	got, _ := s.Get(created.ID)
	got.StageStatus[model.StageAnalysis] = model.StageDone
	got.Messages = append(got.Messages, model.AgentMessage{Content: "tampered"})

	again, _ := s.Get(created.ID)
	assert.Equal(t, model.StagePending, again.StageStatus[model.StageAnalysis])
	assert.Empty(t, again.Messages)
}

func TestStore_Evict(t *testing.T) {
	s := newTestStore(t, time.Hour)
	created := s.Create("AAPL")

	s.Evict(created.ID)
	_, ok := s.Get(created.ID)
	assert.False(t, ok)
	assert.Equal(t, 0, s.Len())
}

func TestStore_TTLSweep(t *testing.T) {
	s := newTestStore(t, 20*time.Millisecond)
	created := s.Create("AAPL")

	s.Start(context.Background(), 10*time.Millisecond)
	defer s.Stop()

	require.Eventually(t, func() bool {
		_, ok := s.Get(created.ID)
		return !ok
	}, time.Second, 10*time.Millisecond)
}

func TestStore_ApplyRefreshesTTL(t *testing.T) {
	s := newTestStore(t, 80*time.Millisecond)
	created := s.Create("AAPL")
	s.Start(context.Background(), 10*time.Millisecond)
	defer s.Stop()

	// Keep touching the session; it must survive several TTL windows.
	deadline := time.Now().Add(250 * time.Millisecond)
	for time.Now().Before(deadline) {
		require.True(t, s.Apply(created.ID, func(sess model.WorkflowSession) model.WorkflowSession { return sess }))
		time.Sleep(20 * time.Millisecond)
	}
	_, ok := s.Get(created.ID)
	assert.True(t, ok)
}
