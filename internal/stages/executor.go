package stages

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/nevilshah235/claimledger-sub000/internal/claim"
	"github.com/nevilshah235/claimledger-sub000/internal/metrics"
	"github.com/nevilshah235/claimledger-sub000/internal/schema"
)

// Sink is the subset of the Audit/Progress Sink (C9) the executor needs:
// append-only writers for stage results and log entries.
type Sink interface {
	AppendStageResult(ctx context.Context, r claim.StageResult) error
	AppendLog(ctx context.Context, e claim.LogEntry) error
}

// Executor invokes a single stage with a deadline, validates/repairs its
// output, applies the stage's fallback on failure, and persists the
// result immediately so progress queries see it (C5).
type Executor struct {
	Sink    Sink
	Timeout time.Duration
	// Metrics is optional; a nil value skips instrumentation entirely.
	Metrics *metrics.Metrics
}

// Run executes stage.Run(ctx, input) against Timeout, validates the
// result against stage.Schema(), repairs or falls back as needed, and
// returns the persisted StageResult. It never returns an error from a
// stage failure — those are absorbed into the fallback payload — except
// when persistence itself fails (the write is retried once, then the
// error is returned) or the context is cancelled, either on entry or
// while the stage call is in flight (nothing is persisted then).
func (e *Executor) Run(ctx context.Context, claimID string, stage Stage, input any) (claim.StageResult, StageResultPayload, error) {
	tag := stage.Tag()

	if err := ctx.Err(); err != nil {
		e.logEntry(ctx, claimID, tag, claim.LogWarning, fmt.Sprintf("cancelled before %s started", tag), nil)
		return claim.StageResult{}, StageResultPayload{}, err
	}

	e.logEntry(ctx, claimID, tag, claim.LogInfo, fmt.Sprintf("starting %s", tag), nil)

	stageCtx, cancel := context.WithTimeout(ctx, e.timeout())
	defer cancel()

	started := time.Now()
	payload, err := stage.Run(stageCtx, input)
	outcome := "success"
	if err != nil {
		outcome = "failure"
	}
	if e.Metrics != nil {
		e.Metrics.StageDuration.WithLabelValues(string(tag), outcome).Observe(time.Since(started).Seconds())
	}

	if err != nil {
		if errors.Is(stageCtx.Err(), context.Canceled) && ctx.Err() == context.Canceled {
			e.logEntry(ctx, claimID, tag, claim.LogWarning, fmt.Sprintf("%s aborted by cancellation", tag), nil)
			return claim.StageResult{}, StageResultPayload{}, context.Canceled
		}
		e.logEntry(ctx, claimID, tag, claim.LogError, fmt.Sprintf("%s failed: %s", tag, firstLine(err.Error())), map[string]any{"error_class": classify(err)})
		payload = stage.Fallback(err.Error())
	} else {
		payload = e.validateAndRepair(ctx, claimID, tag, stage.Schema(), payload, stage)
	}

	confidence := payload.Confidence()
	result := claim.StageResult{
		ID:         uuid.NewString(),
		ClaimID:    claimID,
		Stage:      tag,
		Payload:    payload.ToMap(),
		Confidence: &confidence,
		CreatedAt:  time.Now(),
	}

	err = e.Sink.AppendStageResult(ctx, result)
	if err != nil {
		// A failed write gets one retry before the failure propagates.
		err = e.Sink.AppendStageResult(ctx, result)
	}
	if err != nil {
		return claim.StageResult{}, StageResultPayload{}, fmt.Errorf("persist stage result for %s: %w", tag, err)
	}

	e.logEntry(ctx, claimID, tag, claim.LogInfo, fmt.Sprintf("%s completed, confidence=%.2f", tag, confidence), nil)
	return result, payload, nil
}

func (e *Executor) validateAndRepair(ctx context.Context, claimID string, tag claim.StageTag, s schema.Schema, payload StageResultPayload, stage Stage) StageResultPayload {
	m := payload.ToMap()
	ok, errs := schema.Validate(m, s)
	if ok {
		return payload
	}
	if schema.Repairable(errs) {
		head := errs
		if len(head) > 3 {
			head = head[:3]
		}
		e.logEntry(ctx, claimID, tag, claim.LogWarning, fmt.Sprintf("%s output repaired: %d missing field(s)", tag, len(errs)), map[string]any{"errors": fieldErrorStrings(head)})
		return payload
	}
	e.logEntry(ctx, claimID, tag, claim.LogError, fmt.Sprintf("%s output invalid and not repairable", tag), map[string]any{"errors": fieldErrorStrings(errs)})
	return stage.Fallback("output failed schema validation")
}

func (e *Executor) timeout() time.Duration {
	if e.Timeout <= 0 {
		return 60 * time.Second
	}
	return e.Timeout
}

func (e *Executor) logEntry(ctx context.Context, claimID string, tag claim.StageTag, level claim.LogLevel, msg string, meta map[string]any) {
	_ = e.Sink.AppendLog(ctx, claim.LogEntry{
		ID:        uuid.NewString(),
		ClaimID:   claimID,
		Stage:     tag,
		Level:     level,
		Message:   msg,
		Metadata:  meta,
		CreatedAt: time.Now(),
	})
}

func firstLine(s string) string {
	for i, r := range s {
		if r == '\n' {
			return s[:i]
		}
	}
	return s
}

func classify(err error) string {
	if errors.Is(err, context.DeadlineExceeded) {
		return "timeout"
	}
	return "stage_error"
}

func fieldErrorStrings(errs []schema.FieldError) []string {
	out := make([]string, 0, len(errs))
	for _, e := range errs {
		out = append(out, e.String())
	}
	return out
}
