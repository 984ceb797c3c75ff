// Package audit implements the Audit/Progress Sink (C9): append-only
// writers for stage results and log entries, and the status projection
// (completed_stages, pending_stages, progress_percentage) read path.
// Adapted from the teacher's buffered audit store shape — non-blocking
// writes that degrade gracefully rather than block the pipeline — to
// the claim stage-result/log-entry event model.
package audit

import (
	"context"
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/nevilshah235/claimledger-sub000/internal/claim"
)

// Repo is the storage-layer contract the sink writes through to and
// reads back from. InsertStageResult is a single insert of its own: no
// implementation commits a claim mutation in the same transaction, so a
// claim update and the stage result that triggered it are written
// separately.
type Repo interface {
	InsertStageResult(ctx context.Context, r claim.StageResult) error
	InsertLogEntry(ctx context.Context, e claim.LogEntry) error
	ListStageResults(ctx context.Context, claimID string) ([]claim.StageResult, error)
	ListLogEntries(ctx context.Context, claimID string) ([]claim.LogEntry, error)
}

// Sink adapts a Repo into the stages.Sink interface and provides the
// progress/status projection used by the HTTP status endpoint.
type Sink struct {
	Repo Repo
	Log  *logrus.Logger
}

// AppendStageResult persists r. A storage failure is logged and
// propagated so the executor can retry the write once — the sink itself
// never retries.
func (s *Sink) AppendStageResult(ctx context.Context, r claim.StageResult) error {
	if err := s.Repo.InsertStageResult(ctx, r); err != nil {
		s.Log.WithError(err).WithFields(logFields(r.ClaimID, r.Stage)).Error("failed to persist stage result")
		return fmt.Errorf("insert stage result: %w", err)
	}
	return nil
}

// AppendLog persists a log entry. Failures here are swallowed after a
// WARNING log — losing one audit log line must never abort a pipeline
// run, mirroring the teacher's non-blocking audit write philosophy.
func (s *Sink) AppendLog(ctx context.Context, e claim.LogEntry) error {
	if err := s.Repo.InsertLogEntry(ctx, e); err != nil {
		s.Log.WithError(err).WithFields(logFields(e.ClaimID, e.Stage)).Warn("failed to persist log entry, continuing")
	}
	return nil
}

func logFields(claimID string, stage claim.StageTag) logrus.Fields {
	return logrus.Fields{"claim_id": claimID, "stage": string(stage)}
}

// PipelineStages is the fixed stage ordering progress is computed over.
// Document and image are each counted only when that evidence kind is
// present on the claim; fraud and reasoning always run.
var PipelineStages = []claim.StageTag{claim.StageDocument, claim.StageImage, claim.StageFraud, claim.StageReasoning}

// Status is the read-path projection for the claim status endpoint.
type Status struct {
	CompletedStages    []claim.StageTag
	PendingStages      []claim.StageTag
	ProgressPercentage float64
}

// Progress computes the status projection for claimID given the set of
// stages expected to run (expected omits document/image when that
// evidence kind is absent, per the pipeline's conditional extraction).
func (s *Sink) Progress(ctx context.Context, claimID string, expected []claim.StageTag) (Status, error) {
	results, err := s.Repo.ListStageResults(ctx, claimID)
	if err != nil {
		return Status{}, fmt.Errorf("list stage results: %w", err)
	}

	done := map[claim.StageTag]bool{}
	for _, r := range results {
		done[r.Stage] = true
	}

	var completed, pending []claim.StageTag
	for _, tag := range expected {
		if done[tag] {
			completed = append(completed, tag)
		} else {
			pending = append(pending, tag)
		}
	}

	pct := 0.0
	if len(expected) > 0 {
		pct = 100 * float64(len(completed)) / float64(len(expected))
	}

	return Status{CompletedStages: completed, PendingStages: pending, ProgressPercentage: pct}, nil
}

// History returns every log entry recorded for a claim, oldest first, as
// persisted by Repo.
func (s *Sink) History(ctx context.Context, claimID string) ([]claim.LogEntry, error) {
	entries, err := s.Repo.ListLogEntries(ctx, claimID)
	if err != nil {
		return nil, fmt.Errorf("list log entries: %w", err)
	}
	return entries, nil
}
