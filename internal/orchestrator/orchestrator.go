// Package orchestrator implements the Pipeline Orchestrator (C6): the
// single entry point that drives a claim through extraction, fraud
// scoring, reasoning, the Decision Engine, and optional settlement.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/nevilshah235/claimledger-sub000/internal/claim"
	"github.com/nevilshah235/claimledger-sub000/internal/decision"
	"github.com/nevilshah235/claimledger-sub000/internal/errs"
	"github.com/nevilshah235/claimledger-sub000/internal/metrics"
	"github.com/nevilshah235/claimledger-sub000/internal/payment"
	"github.com/nevilshah235/claimledger-sub000/internal/stages"
)

// Store is the subset of persistence the orchestrator needs: loading a
// claim and its evidence, and committing the terminal outcome.
type Store interface {
	GetClaim(ctx context.Context, id string) (claim.Claim, error)
	ListEvidence(ctx context.Context, claimID string) ([]claim.Evidence, error)
	CommitOutcome(ctx context.Context, c claim.Claim) error
}

// Blobs resolves an evidence artifact's storage path to its raw bytes,
// kept separate from Store since the metadata and content stores can
// live behind different backends.
type Blobs interface {
	Get(ctx context.Context, storagePath string) ([]byte, error)
}

// Settler performs on-chain settlement for an auto-approved claim. A nil
// Settler or one whose Enabled() returns false skips settlement entirely.
type Settler interface {
	Enabled() bool
	Settle(ctx context.Context, c claim.Claim) (claim.Claim, error)
}

// ToolCosts carries the fixed micropayment cost charged for invoking
// each extraction/fraud stage's underlying tool, per spec.md §3's
// processing_cost accounting. A zero cost charges nothing for that stage.
type ToolCosts struct {
	Document decimal.Decimal
	Image    decimal.Decimal
	Fraud    decimal.Decimal
}

// Orchestrator wires the stage executor, thresholds and settlement driver
// into the single Evaluate operation (C6).
type Orchestrator struct {
	Store       Store
	Blobs       Blobs
	Executor    *stages.Executor
	Document    *stages.DocumentStage
	Image       *stages.ImageStage
	Fraud       *stages.FraudStage
	Reasoning   *stages.ReasoningStage
	Thresholds  decision.Thresholds
	Settlement  Settler
	PipelineDeadline time.Duration
	Log         *logrus.Logger
	// Metrics is optional; a nil value skips instrumentation entirely.
	Metrics *metrics.Metrics
	// Receipts records a Paid-Call Receipt per stage tool invocation,
	// priced by ToolCosts, and is summed into claim.ProcessingCost. A nil
	// Receipts skips cost accounting entirely.
	Receipts  payment.ReceiptSink
	ToolCosts ToolCosts
}

// Evaluate drives claim id through the full pipeline: EVALUATING, parallel
// extraction, fraud, reasoning, decision, optional settlement, terminal
// status. It never panics; stage failures are absorbed by the executor's
// fallback path, so only claim-not-found, store and precondition errors
// are returned here, plus a Cancelled error when the context is cancelled
// or its deadline passes while a stage is running.
func (o *Orchestrator) Evaluate(ctx context.Context, claimID string) (decision.Output, error) {
	started := time.Now()
	if o.Metrics != nil {
		defer func() { o.Metrics.PipelineDuration.Observe(time.Since(started).Seconds()) }()
	}

	c, err := o.Store.GetClaim(ctx, claimID)
	if err != nil {
		return decision.Output{}, errs.StorageFailure("load claim", err)
	}

	if c.Status != claim.StatusSubmitted && c.Status != claim.StatusNeedsReview {
		return decision.Output{}, errs.Precondition("evaluate", fmt.Errorf("claim %s is in status %s, not eligible for evaluation", claimID, c.Status))
	}

	pipelineCtx := ctx
	var cancel context.CancelFunc
	if o.PipelineDeadline > 0 {
		pipelineCtx, cancel = context.WithTimeout(ctx, o.PipelineDeadline)
		defer cancel()
	}

	c.Status = claim.StatusEvaluating
	c.UpdatedAt = time.Now()
	if err := o.Store.CommitOutcome(pipelineCtx, c); err != nil {
		return decision.Output{}, errs.StorageFailure("mark claim evaluating", err)
	}

	evidence, err := o.Store.ListEvidence(pipelineCtx, claimID)
	if err != nil {
		return decision.Output{}, errs.StorageFailure("list evidence", err)
	}

	var docArtifacts, imgArtifacts []stages.Artifact
	for _, e := range evidence {
		data, err := o.Blobs.Get(pipelineCtx, e.StoragePath)
		if err != nil {
			return decision.Output{}, errs.StorageFailure(fmt.Sprintf("load evidence %s", e.ID), err)
		}
		switch e.Kind {
		case claim.EvidenceDocument:
			docArtifacts = append(docArtifacts, stages.Artifact{MIME: e.MIME, Bytes: data})
		case claim.EvidenceImage:
			imgArtifacts = append(imgArtifacts, stages.Artifact{MIME: e.MIME, Bytes: data})
		}
	}

	var documentOutput *stages.DocumentStageOutput
	var imageOutput *stages.ImageStageOutput
	var evidenceKindsAbsent []string

	group, gctx := errgroup.WithContext(pipelineCtx)
	if len(docArtifacts) > 0 {
		group.Go(func() error {
			_, payload, err := o.Executor.Run(gctx, claimID, o.Document, stages.DocumentInput{ClaimID: claimID, Artifacts: docArtifacts})
			if err != nil {
				return err
			}
			documentOutput = payload.Document
			return nil
		})
	} else {
		evidenceKindsAbsent = append(evidenceKindsAbsent, "document")
	}
	if len(imgArtifacts) > 0 {
		group.Go(func() error {
			_, payload, err := o.Executor.Run(gctx, claimID, o.Image, stages.ImageInput{ClaimID: claimID, Artifacts: imgArtifacts})
			if err != nil {
				return err
			}
			imageOutput = payload.Image
			return nil
		})
	} else {
		evidenceKindsAbsent = append(evidenceKindsAbsent, "image")
	}

	if err := group.Wait(); err != nil {
		return decision.Output{}, classifyStageErr("extraction stage", err)
	}

	processingCost := decimal.Zero
	if len(docArtifacts) > 0 {
		processingCost = processingCost.Add(o.chargeTool(pipelineCtx, claimID, claim.VerifierDocument, o.ToolCosts.Document))
	}
	if len(imgArtifacts) > 0 {
		processingCost = processingCost.Add(o.chargeTool(pipelineCtx, claimID, claim.VerifierImage, o.ToolCosts.Image))
	}

	var evidenceKinds []claim.EvidenceKind
	for _, e := range evidence {
		evidenceKinds = append(evidenceKinds, e.Kind)
	}

	_, fraudPayload, err := o.Executor.Run(pipelineCtx, claimID, o.Fraud, stages.FraudInput{
		ClaimID:         claimID,
		Amount:          c.RequestedAmount,
		ClaimantAddress: c.ClaimantAddress,
		EvidenceKinds:   evidenceKinds,
		Document:        documentOutput,
		Image:           imageOutput,
	})
	if err != nil {
		return decision.Output{}, classifyStageErr("fraud stage", err)
	}
	fraudOutput := fraudPayload.Fraud
	processingCost = processingCost.Add(o.chargeTool(pipelineCtx, claimID, claim.VerifierFraud, o.ToolCosts.Fraud))

	_, reasoningPayload, err := o.Executor.Run(pipelineCtx, claimID, o.Reasoning, stages.ReasoningInput{
		ClaimID:     claimID,
		ClaimAmount: c.RequestedAmount,
		Document:    documentOutput,
		Image:       imageOutput,
		Fraud:       fraudOutput,
	})
	if err != nil {
		return decision.Output{}, classifyStageErr("reasoning stage", err)
	}
	reasoningOutput := reasoningPayload.Reasoning

	var finalConfidence, fraudRisk float64
	var contradictions, missingEvidence []string
	if reasoningOutput != nil {
		finalConfidence = reasoningOutput.FinalConfidence
		fraudRisk = reasoningOutput.FraudRisk
		contradictions = reasoningOutput.Contradictions
		missingEvidence = reasoningOutput.MissingEvidence
	}

	out := decision.Decide(decision.Input{
		Confidence:          finalConfidence,
		FraudRisk:           fraudRisk,
		Contradictions:      contradictions,
		MissingEvidence:      missingEvidence,
		EvidenceKindsAbsent: evidenceKindsAbsent,
		Thresholds:          o.Thresholds,
	})

	c.Verdict = &out.Verdict
	c.Confidence = &finalConfidence
	c.FraudRiskSnapshot = &fraudRisk
	c.Contradictions = contradictions
	c.RequestedData = out.RequestedData
	c.ReviewReasons = out.ReviewReasons
	c.AutoApproved = out.AutoApproved
	c.HumanReviewRequired = out.HumanReviewRequired
	c.Status = terminalStatus(out.Verdict)
	c.ProcessingCost = c.ProcessingCost.Add(processingCost)
	c.UpdatedAt = time.Now()
	if out.AutoApproved && c.ApprovedAmount == nil {
		approved := c.RequestedAmount
		c.ApprovedAmount = &approved
	}

	if o.Metrics != nil {
		o.Metrics.PipelineOutcomes.WithLabelValues(string(out.Verdict)).Inc()
	}

	if out.AutoApproved && o.Settlement != nil && o.Settlement.Enabled() {
		settled, err := o.Settlement.Settle(pipelineCtx, c)
		if err != nil {
			o.Log.WithError(err).WithField("claim_id", claimID).Error("settlement failed, leaving claim approved without auto-settlement")
			if o.Metrics != nil {
				o.Metrics.SettlementFailures.Inc()
			}
		} else {
			c = settled
		}
	}

	if err := o.Store.CommitOutcome(pipelineCtx, c); err != nil {
		return decision.Output{}, errs.StorageFailure("commit claim outcome", err)
	}

	return out, nil
}

// chargeTool records a Paid-Call Receipt for one completed stage
// invocation and returns the amount charged, or decimal.Zero if cost
// accounting is disabled (nil Receipts), the cost is zero, or recording
// failed — a receipt-sink failure must not abort an otherwise-successful
// evaluation.
func (o *Orchestrator) chargeTool(ctx context.Context, claimID string, kind claim.VerifierKind, amount decimal.Decimal) decimal.Decimal {
	if o.Receipts == nil || amount.IsZero() {
		return decimal.Zero
	}
	receipt := claim.PaidCallReceipt{
		ID:           uuid.NewString(),
		ClaimID:      claimID,
		VerifierKind: kind,
		Amount:       amount,
		CreatedAt:    time.Now(),
	}
	if err := o.Receipts.RecordReceipt(ctx, receipt); err != nil {
		o.Log.WithError(err).WithField("claim_id", claimID).Warn("failed to record tool-cost receipt")
		return decimal.Zero
	}
	return amount
}

// classifyStageErr distinguishes the two ways stages.Executor.Run can fail
// without absorbing the error into a fallback: cooperative cancellation
// (stage aborted before completion) and persistence failure (the result
// couldn't be written to the audit sink).
func classifyStageErr(op string, err error) error {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return errs.Cancelled(op, err)
	}
	return errs.StorageFailure(op, err)
}

// terminalStatus maps a verdict to the claim's resting lifecycle status.
func terminalStatus(v claim.Verdict) claim.Status {
	switch v {
	case claim.VerdictAutoApproved, claim.VerdictApprovedWithReview:
		return claim.StatusApproved
	case claim.VerdictFraudDetected:
		return claim.StatusRejected
	case claim.VerdictNeedsMoreData:
		return claim.StatusAwaitingData
	default:
		return claim.StatusNeedsReview
	}
}
