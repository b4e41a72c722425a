package agent

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/ashita-ai/kaigi/internal/model"
	"github.com/ashita-ai/kaigi/internal/storage"
	"github.com/ashita-ai/kaigi/internal/telemetry"
)

// RunnerConfig holds the retry and timeout policy for agent invocations.
type RunnerConfig struct {
	// RetryCount is the number of retries after the first attempt,
	// applied to transient errors only.
	RetryCount int
	// BackoffBase is the exponential backoff base (attempt n waits
	// 2^(n-1) * BackoffBase, doubled again when the error is a timeout).
	BackoffBase time.Duration
	// CallTimeout is the hard per-call deadline.
	CallTimeout time.Duration
}

// DefaultRunnerConfig returns the stock policy: 3 retries, 1s base, 2m calls.
func DefaultRunnerConfig() RunnerConfig {
	return RunnerConfig{
		RetryCount:  3,
		BackoffBase: time.Second,
		CallTimeout: 2 * time.Minute,
	}
}

// Runner invokes agents with retry/backoff and a hard per-call timeout,
// wrapping every invocation in an audit record lifecycle.
type Runner struct {
	registry *Registry
	records  storage.RecordStore // nil disables audit recording
	logger   *slog.Logger
	cfg      RunnerConfig

	invocations metric.Int64Counter
	retries     metric.Int64Counter
}

// NewRunner creates a runner. records may be nil, in which case no audit
// trail is written.
func NewRunner(registry *Registry, records storage.RecordStore, logger *slog.Logger, cfg RunnerConfig) *Runner {
	meter := telemetry.Meter("kaigi/agent")
	invocations, _ := meter.Int64Counter("kaigi.agent.invocations",
		metric.WithDescription("Agent invocations by type and outcome"))
	retries, _ := meter.Int64Counter("kaigi.agent.retries",
		metric.WithDescription("Transient-error retries by agent type"))

	return &Runner{
		registry:    registry,
		records:     records,
		logger:      logger,
		cfg:         cfg,
		invocations: invocations,
		retries:     retries,
	}
}

// Invoke runs one agent to completion under the retry policy.
//
// Transient errors (timeout, rate limit) are retried up to RetryCount
// times with exponential backoff; timeouts double the wait. Fatal errors
// (auth, data, unknown) surface immediately. The invocation is recorded
// as pending before dispatch and updated to a terminal status after —
// audit failures are logged and swallowed, never propagated.
func (r *Runner) Invoke(ctx context.Context, agentType string, in Input) (model.AgentResult, error) {
	a, ok := r.registry.Get(agentType)
	if !ok {
		return model.AgentResult{}, model.NewAgentError(model.KindData, agentType,
			fmt.Errorf("agent type not registered"))
	}

	rec := model.AgentInvocationRecord{
		ID:          uuid.New(),
		SessionID:   in.SessionID,
		AgentType:   agentType,
		InputPrompt: in.Prompt,
		StartedAt:   time.Now().UTC(),
		Status:      model.InvocationPending,
		Metadata:    map[string]any{"stage": string(in.Stage), "subject_id": in.SubjectID},
	}
	recorded := r.createRecord(ctx, rec)

	res, err := r.invokeWithRetry(ctx, agentType, a, in)

	if recorded {
		// The call context may already be canceled when the call failed;
		// the terminal audit write still has to land.
		r.finishRecord(context.WithoutCancel(ctx), agentType, rec.ID, res, err)
	}
	outcome := "success"
	if err != nil {
		outcome = "failure"
	}
	r.invocations.Add(ctx, 1, metric.WithAttributes(
		attribute.String("agent_type", agentType),
		attribute.String("outcome", outcome),
	))
	return res, err
}

func (r *Runner) invokeWithRetry(ctx context.Context, agentType string, a Agent, in Input) (model.AgentResult, error) {
	var lastErr error
	for attempt := 1; attempt <= r.cfg.RetryCount+1; attempt++ {
		res, err := r.invokeOnce(ctx, a, in)
		if err == nil {
			return res, nil
		}

		kind := model.ClassifyError(err)
		lastErr = model.NewAgentError(kind, agentType, err)
		if !kind.Transient() {
			return model.AgentResult{}, lastErr
		}
		// The parent context being done is cancellation, not a per-call
		// timeout — stop retrying.
		if ctx.Err() != nil {
			return model.AgentResult{}, lastErr
		}
		if attempt > r.cfg.RetryCount {
			break
		}

		delay := r.cfg.BackoffBase << (attempt - 1)
		if kind == model.KindTimeout {
			delay *= 2
		}
		r.logger.Warn("agent: transient failure, backing off",
			"agent_type", agentType, "attempt", attempt, "kind", string(kind), "delay", delay)
		r.retries.Add(ctx, 1, metric.WithAttributes(attribute.String("agent_type", agentType)))

		select {
		case <-ctx.Done():
			return model.AgentResult{}, lastErr
		case <-time.After(delay):
		}
	}
	return model.AgentResult{}, lastErr
}

// invokeOnce applies the hard per-call deadline.
func (r *Runner) invokeOnce(ctx context.Context, a Agent, in Input) (model.AgentResult, error) {
	callCtx, cancel := context.WithTimeout(ctx, r.cfg.CallTimeout)
	defer cancel()
	return a.Invoke(callCtx, in)
}

// createRecord writes the pending audit record. Best-effort: a failed
// write must never abort the agent call it describes.
func (r *Runner) createRecord(ctx context.Context, rec model.AgentInvocationRecord) bool {
	if r.records == nil {
		return false
	}
	if err := r.records.CreateInvocation(ctx, rec); err != nil {
		r.logger.Warn("agent: audit record create failed",
			"agent_type", rec.AgentType, "invocation_id", rec.ID, "error", err)
		return false
	}
	return true
}

// finishRecord writes the terminal audit fields. Best-effort, like create.
func (r *Runner) finishRecord(ctx context.Context, agentType string, id uuid.UUID, res model.AgentResult, invokeErr error) {
	upd := model.InvocationUpdate{
		Status:      model.InvocationSuccess,
		CompletedAt: time.Now().UTC(),
	}
	if invokeErr != nil {
		upd.Status = model.InvocationFailed
		code := string(model.ClassifyError(invokeErr))
		msg := invokeErr.Error()
		upd.ErrorCode = &code
		upd.ErrorMessage = &msg
	} else {
		upd.AgentName = res.AgentName
		upd.OutputContent = res.Analysis
		upd.Model = res.Model
		upd.Tokens = model.TokenUsage{Total: res.TokensUsed}
	}

	if err := r.records.UpdateInvocation(ctx, agentType, id, upd); err != nil {
		r.logger.Warn("agent: audit record update failed",
			"agent_type", agentType, "invocation_id", id, "error", err)
	}
}
