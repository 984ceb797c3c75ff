// Package claim holds the domain entities described in the claim data
// model: claims, evidence, stage results, log entries, paid-call
// receipts and settlement gas rows.
package claim

import (
	"time"

	"github.com/shopspring/decimal"
)

// Status is a claim's lifecycle state.
type Status string

const (
	StatusSubmitted    Status = "SUBMITTED"
	StatusEvaluating   Status = "EVALUATING"
	StatusApproved     Status = "APPROVED"
	StatusSettled      Status = "SETTLED"
	StatusNeedsReview  Status = "NEEDS_REVIEW"
	StatusAwaitingData Status = "AWAITING_DATA"
	StatusRejected     Status = "REJECTED"
)

func (s Status) Valid() bool {
	switch s {
	case StatusSubmitted, StatusEvaluating, StatusApproved, StatusSettled,
		StatusNeedsReview, StatusAwaitingData, StatusRejected:
		return true
	}
	return false
}

// Verdict is the terminal decision produced by the Decision Engine.
type Verdict string

const (
	VerdictAutoApproved        Verdict = "AUTO_APPROVED"
	VerdictApprovedWithReview  Verdict = "APPROVED_WITH_REVIEW"
	VerdictNeedsReview         Verdict = "NEEDS_REVIEW"
	VerdictNeedsMoreData       Verdict = "NEEDS_MORE_DATA"
	VerdictInsufficientData    Verdict = "INSUFFICIENT_DATA"
	VerdictFraudDetected       Verdict = "FRAUD_DETECTED"
)

func (v Verdict) Valid() bool {
	switch v {
	case VerdictAutoApproved, VerdictApprovedWithReview, VerdictNeedsReview,
		VerdictNeedsMoreData, VerdictInsufficientData, VerdictFraudDetected:
		return true
	}
	return false
}

// EvidenceKind is the kind of an evidence artifact.
type EvidenceKind string

const (
	EvidenceDocument EvidenceKind = "document"
	EvidenceImage    EvidenceKind = "image"
)

func (k EvidenceKind) Valid() bool {
	return k == EvidenceDocument || k == EvidenceImage
}

// StageTag names a stage whose output is recorded as a StageResult.
type StageTag string

const (
	StageDocument     StageTag = "document"
	StageImage        StageTag = "image"
	StageFraud        StageTag = "fraud"
	StageReasoning    StageTag = "reasoning"
	StageOrchestrator StageTag = "orchestrator"
)

// LogLevel is the severity of a LogEntry.
type LogLevel string

const (
	LogInfo    LogLevel = "INFO"
	LogWarning LogLevel = "WARNING"
	LogError   LogLevel = "ERROR"
)

// VerifierKind names a paid verifier endpoint kind.
type VerifierKind string

const (
	VerifierDocument VerifierKind = "document"
	VerifierImage    VerifierKind = "image"
	VerifierFraud    VerifierKind = "fraud"
)

// Claim is the central record the pipeline evaluates.
type Claim struct {
	ID                     string
	ClaimantAddress        string // hex address, 20 bytes
	RequestedAmount        decimal.Decimal
	Description            string
	Status                 Status
	Verdict                *Verdict
	Confidence             *float64
	ApprovedAmount         *decimal.Decimal
	FraudRiskSnapshot      *float64
	Contradictions         []string
	RequestedData          []string
	ReviewReasons          []string
	AutoApproved           bool
	AutoSettled            bool
	DecisionOverridden     bool
	HumanReviewRequired    bool
	SettlementTxHash       *string
	ProcessingCost         decimal.Decimal
	CreatedAt              time.Time
	UpdatedAt              time.Time
}

// Evidence is a single claim artifact.
type Evidence struct {
	ID          string
	ClaimID     string
	Kind        EvidenceKind
	StoragePath string
	MIME        string
	ByteSize    int64
	Analysis    map[string]any // optional per-file derived payload
}

// StageResult is an append-only record of one stage invocation's output.
type StageResult struct {
	ID         string
	ClaimID    string
	Stage      StageTag
	Payload    map[string]any
	Confidence *float64
	CreatedAt  time.Time
}

// LogEntry is an append-only audit log line.
type LogEntry struct {
	ID        string
	ClaimID   string
	Stage     StageTag
	Level     LogLevel
	Message   string
	Metadata  map[string]any
	CreatedAt time.Time
}

// PaidCallReceipt records a completed micropayment to a verifier endpoint.
type PaidCallReceipt struct {
	ID                 string
	ClaimID            string
	VerifierKind       VerifierKind
	Amount             decimal.Decimal
	ExternalPaymentID  string
	ReceiptToken       string
	CreatedAt          time.Time
}

// SettlementGasRow records gas accounting for one settlement transaction.
type SettlementGasRow struct {
	ID                  string
	ClaimID             string
	TxHash              string
	GasUsed             uint64
	EffectiveGasPriceWei decimal.Decimal
	TotalCostWei        decimal.Decimal
	TotalCostHuman      decimal.Decimal
	CreatedAt           time.Time
}

// ClampUnit clamps v into [0, 1], the valid range for confidence and
// fraud-risk fields.
func ClampUnit(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
