// Package stages implements the per-kind Extraction, Fraud and Reasoning
// stages (C2-C4) and the Stage Executor (C5) that invokes them. Outputs
// are tagged variants carrying a common {Confidence, Notes} pair, fed
// into a StageResultPayload sum type for the audit sink (§9).
package stages

import (
	"context"
	"strconv"

	"github.com/nevilshah235/claimledger-sub000/internal/claim"
	"github.com/nevilshah235/claimledger-sub000/internal/schema"
)

// Common is the {confidence, notes} pair every stage output embeds.
type Common struct {
	Confidence float64
	Notes      string
}

// DocumentStageOutput is the document extraction stage's structured result.
type DocumentStageOutput struct {
	Common
	DocumentClassification DocumentClassification
	ExtractedFields        map[string]any
	LineItems              []LineItem
	Tables                 []Table
	ExtractionMethod       string
	Valid                  bool
}

type DocumentClassification struct {
	Category           string
	Structure           string
	HasTables          bool
	HasLineItems        bool
	PrimaryContentType string
}

type LineItem struct {
	ItemName  string
	Quantity  float64
	UnitPrice float64
	Total     float64
	Extra     map[string]any
}

type Table struct {
	Headers []string
	Rows    [][]string
	Summary string
}

// DocumentAmount returns the best-effort total claimed amount extracted
// from the document, used by the reasoning stage's contradiction rules.
func (d DocumentStageOutput) DocumentAmount() (float64, bool) {
	if v, ok := d.ExtractedFields["amount"]; ok {
		if f, ok := asFloat(v); ok {
			return f, true
		}
	}
	if v, ok := d.ExtractedFields["total_amount"]; ok {
		if f, ok := asFloat(v); ok {
			return f, true
		}
	}
	return 0, false
}

func asFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case int:
		return float64(n), true
	case string:
		f, err := strconv.ParseFloat(n, 64)
		return f, err == nil
	}
	return 0, false
}

// ImageStageOutput is the image extraction stage's structured result.
type ImageStageOutput struct {
	Common
	DamageType      string
	AffectedParts   []string
	Severity        Severity
	EstimatedCost   *float64
	Valid           bool
}

// Severity is the ordered damage severity scale {minor<moderate<severe<total}.
type Severity string

const (
	SeverityMinor    Severity = "minor"
	SeverityModerate Severity = "moderate"
	SeveritySevere   Severity = "severe"
	SeverityTotal    Severity = "total"
)

var severityOrder = map[Severity]int{
	SeverityMinor:    0,
	SeverityModerate: 1,
	SeveritySevere:   2,
	SeverityTotal:    3,
}

// MaxSeverity returns the more severe of a and b by the ordering
// minor < moderate < severe < total.
func MaxSeverity(a, b Severity) Severity {
	ra, oka := severityOrder[a]
	rb, okb := severityOrder[b]
	if !oka {
		return b
	}
	if !okb {
		return a
	}
	if ra >= rb {
		return a
	}
	return b
}

// RiskLevel is the fraud stage's derived (never model-trusted) bucket.
type RiskLevel string

const (
	RiskLow    RiskLevel = "LOW"
	RiskMedium RiskLevel = "MEDIUM"
	RiskHigh   RiskLevel = "HIGH"
)

// FraudStageOutput is the fraud stage's structured result.
type FraudStageOutput struct {
	Common
	FraudScore float64
	RiskLevel  RiskLevel
	Indicators []string
}

// ReasoningStageOutput is the reasoning stage's structured result.
type ReasoningStageOutput struct {
	Common
	FinalConfidence float64
	Contradictions  []string
	FraudRisk       float64
	MissingEvidence []string
	EvidenceGaps    []string
	Reasoning       string
}

// StageResultPayload is the sum type the audit sink persists: exactly one
// of the tagged variants is non-nil.
type StageResultPayload struct {
	Document  *DocumentStageOutput
	Image     *ImageStageOutput
	Fraud     *FraudStageOutput
	Reasoning *ReasoningStageOutput
}

// Confidence returns the embedded confidence of whichever variant is set.
func (p StageResultPayload) Confidence() float64 {
	switch {
	case p.Document != nil:
		return p.Document.Confidence
	case p.Image != nil:
		return p.Image.Confidence
	case p.Fraud != nil:
		return p.Fraud.Confidence
	case p.Reasoning != nil:
		return p.Reasoning.Confidence
	default:
		return 0
	}
}

// ToMap converts whichever variant is set into the map[string]any shape
// persisted on a StageResult and validated by internal/schema.
func (p StageResultPayload) ToMap() map[string]any {
	switch {
	case p.Document != nil:
		return documentToMap(*p.Document)
	case p.Image != nil:
		return imageToMap(*p.Image)
	case p.Fraud != nil:
		return fraudToMap(*p.Fraud)
	case p.Reasoning != nil:
		return reasoningToMap(*p.Reasoning)
	default:
		return map[string]any{}
	}
}

// Stage is the interface the executor invokes. Input is stage-specific;
// implementations type-assert it.
type Stage interface {
	Tag() claim.StageTag
	Schema() schema.Schema
	Run(ctx context.Context, input any) (StageResultPayload, error)
	Fallback(cause string) StageResultPayload
}
