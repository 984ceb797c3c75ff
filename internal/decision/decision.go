// Package decision implements the Deterministic Decision Engine (C7): a
// pure function from a reconciled (confidence, fraud_risk, contradictions,
// missing_evidence) tuple to exactly one verdict. No I/O, no logging, no
// clock reads — that belongs to the orchestrator layer that calls it.
package decision

import (
	"fmt"

	"github.com/nevilshah235/claimledger-sub000/internal/claim"
)

// Thresholds carries the six configurable rule thresholds from §6.
type Thresholds struct {
	AutoApproveConfidence  float64
	AutoApproveFraudMax    float64
	FraudDetectedThreshold float64
	ApprovedWithReviewMin  float64
	NeedsReviewMin         float64
	NeedsMoreDataMin       float64
}

// Input is the reconciled tuple the engine decides over.
type Input struct {
	Confidence      float64
	FraudRisk       float64
	Contradictions  []string
	MissingEvidence []string
	// EvidenceKindsAbsent lists evidence kinds with no stage result in
	// this run, used to default RequestedData when the reasoning stage
	// reported no missing_evidence (spec.md §4.7).
	EvidenceKindsAbsent []string
	Thresholds          Thresholds
}

// Output is the engine's verdict and accompanying flags.
type Output struct {
	Verdict             claim.Verdict
	AutoApproved        bool
	HumanReviewRequired bool
	RequestedData       []string
	ReviewReasons       []string
	RuleMatched         string
}

// Decide applies R1-R6 top to bottom; the first matching rule wins.
func Decide(in Input) Output {
	t := in.Thresholds
	c := claim.ClampUnit(in.Confidence)
	f := claim.ClampUnit(in.FraudRisk)
	k := len(in.Contradictions)

	reasons := reviewReasons(c, f, k, in.MissingEvidence, t)

	switch {
	case f >= t.FraudDetectedThreshold:
		return Output{
			Verdict:             claim.VerdictFraudDetected,
			HumanReviewRequired: true,
			ReviewReasons:       reasons,
			RuleMatched:         "R1",
		}

	case c >= t.AutoApproveConfidence && k == 0 && f < t.AutoApproveFraudMax:
		return Output{
			Verdict:             claim.VerdictAutoApproved,
			AutoApproved:        true,
			HumanReviewRequired: false,
			RuleMatched:         "R2",
		}

	case c >= t.ApprovedWithReviewMin && k == 0:
		return Output{
			Verdict:             claim.VerdictApprovedWithReview,
			HumanReviewRequired: true,
			ReviewReasons:       reasons,
			RuleMatched:         "R3",
		}

	case c >= t.NeedsReviewMin:
		return Output{
			Verdict:             claim.VerdictNeedsReview,
			HumanReviewRequired: true,
			ReviewReasons:       reasons,
			RuleMatched:         "R4",
		}

	case c >= t.NeedsMoreDataMin:
		return Output{
			Verdict:             claim.VerdictNeedsMoreData,
			HumanReviewRequired: true,
			RequestedData:       requestedData(in.MissingEvidence, in.EvidenceKindsAbsent),
			ReviewReasons:       reasons,
			RuleMatched:         "R5",
		}

	default:
		return Output{
			Verdict:             claim.VerdictInsufficientData,
			HumanReviewRequired: true,
			RequestedData:       requestedData(in.MissingEvidence, in.EvidenceKindsAbsent),
			ReviewReasons:       reasons,
			RuleMatched:         "R6",
		}
	}
}

// requestedData defaults to evidenceKindsAbsent when the reasoning stage
// reported no missing_evidence.
func requestedData(missingEvidence, evidenceKindsAbsent []string) []string {
	if len(missingEvidence) > 0 {
		return append([]string{}, missingEvidence...)
	}
	return append([]string{}, evidenceKindsAbsent...)
}

func reviewReasons(c, f float64, k int, missingEvidence []string, t Thresholds) []string {
	var reasons []string
	if c < t.AutoApproveConfidence {
		reasons = append(reasons, fmt.Sprintf("confidence %.2f below auto-approve threshold %.2f", c, t.AutoApproveConfidence))
	}
	if k >= 1 {
		reasons = append(reasons, fmt.Sprintf("%d contradiction(s) detected", k))
	}
	if f >= t.AutoApproveFraudMax {
		reasons = append(reasons, fmt.Sprintf("fraud risk %.2f at or above auto-approve cap %.2f", f, t.AutoApproveFraudMax))
	}
	if len(missingEvidence) > 0 {
		reasons = append(reasons, fmt.Sprintf("missing evidence: %v", missingEvidence))
	}
	return reasons
}
