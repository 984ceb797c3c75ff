package stages

import (
	"context"
	"fmt"
	"math"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"github.com/nevilshah235/claimledger-sub000/internal/claim"
	"github.com/nevilshah235/claimledger-sub000/internal/llm"
	"github.com/nevilshah235/claimledger-sub000/internal/llmparse"
	"github.com/nevilshah235/claimledger-sub000/internal/schema"
)

// ReasoningInput is the input to the reasoning stage: the full set of
// stage results accumulated so far in this pipeline run.
type ReasoningInput struct {
	ClaimID      string
	ClaimAmount  decimal.Decimal
	Document     *DocumentStageOutput
	Image        *ImageStageOutput
	Fraud        *FraudStageOutput
}

// ReasoningStage reconciles prior stage outputs into a final confidence,
// contradictions, fraud risk and missing-evidence list (C4).
type ReasoningStage struct {
	Inference llm.Client
	Model     string
	Log       *logrus.Logger
}

func (s *ReasoningStage) Tag() claim.StageTag { return claim.StageReasoning }

func (s *ReasoningStage) Schema() schema.Schema {
	return schema.Schema{
		Required: []string{"final_confidence"},
		Ranges: map[string][2]float64{
			"final_confidence": {0, 1},
			"fraud_risk":       {0, 1},
		},
	}
}

// Fallback invokes the mandatory rule-based computation of spec.md §4.4.
func (s *ReasoningStage) Fallback(cause string) StageResultPayload {
	out := RuleBasedReasoning(ReasoningInput{}, cause)
	return StageResultPayload{Reasoning: &out}
}

func (s *ReasoningStage) Run(ctx context.Context, rawInput any) (StageResultPayload, error) {
	input, ok := rawInput.(ReasoningInput)
	if !ok {
		return StageResultPayload{}, fmt.Errorf("reasoning stage: unexpected input type %T", rawInput)
	}

	prompt := reasoningPrompt(input)
	text, err := s.Inference.Analyze(ctx, s.Model, []llm.PromptPart{llm.Text(prompt)})
	if err != nil {
		out := RuleBasedReasoning(input, "")
		return StageResultPayload{Reasoning: &out}, nil
	}
	obj, ok := llmparse.Parse(text, s.Log)
	if !ok {
		out := RuleBasedReasoning(input, "")
		return StageResultPayload{Reasoning: &out}, nil
	}

	out := reasoningFromMap(obj)
	return StageResultPayload{Reasoning: &out}, nil
}

func reasoningPrompt(in ReasoningInput) string {
	return fmt.Sprintf(
		"Reconcile the prior extraction results for claim %s (amount %s) into a final confidence, "+
			"a list of contradictions, a fraud risk, and any missing evidence kinds. Respond as JSON "+
			"with final_confidence, contradictions, fraud_risk, missing_evidence, evidence_gaps, reasoning.",
		in.ClaimID, in.ClaimAmount.String())
}

func reasoningFromMap(obj map[string]any) ReasoningStageOutput {
	out := ReasoningStageOutput{}
	if v, ok := asFloat(obj["final_confidence"]); ok {
		out.FinalConfidence = claim.ClampUnit(v)
		out.Confidence = out.FinalConfidence
	}
	if v, ok := asFloat(obj["fraud_risk"]); ok {
		out.FraudRisk = claim.ClampUnit(v)
	}
	if n, ok := obj["reasoning"].(string); ok {
		out.Reasoning = n
		out.Notes = n
	}
	out.Contradictions = stringSlice(obj["contradictions"])
	out.MissingEvidence = stringSlice(obj["missing_evidence"])
	out.EvidenceGaps = stringSlice(obj["evidence_gaps"])
	return out
}

// RuleBasedReasoning is the mandatory rule-based fallback from spec.md
// §4.4, used whenever the model path fails or returns unparseable output.
func RuleBasedReasoning(in ReasoningInput, cause string) ReasoningStageOutput {
	cDoc := 0.3
	docValid := in.Document != nil && in.Document.Valid
	if docValid {
		cDoc = in.Document.Confidence
	}

	cImg := 0.3
	imgValid := in.Image != nil && in.Image.Valid
	if imgValid {
		cImg = in.Image.Confidence
	}

	fraudScore := 0.0
	if in.Fraud != nil {
		fraudScore = in.Fraud.FraudScore
	}
	cFraud := 1 - fraudScore

	finalConfidence := 0.4*cDoc + 0.3*cImg + 0.3*cFraud

	var contradictions []string
	claimAmount, _ := in.ClaimAmount.Float64()

	var docAmount float64
	haveDocAmount := false
	if in.Document != nil {
		docAmount, haveDocAmount = in.Document.DocumentAmount()
	}
	var imgCost float64
	haveImgCost := in.Image != nil && in.Image.EstimatedCost != nil
	if haveImgCost {
		imgCost = *in.Image.EstimatedCost
	}

	if haveDocAmount && haveImgCost {
		maxVal := math.Max(docAmount, imgCost)
		if maxVal > 0 {
			gap := math.Abs(docAmount-imgCost) / maxVal
			if gap > 0.20 {
				contradictions = append(contradictions, fmt.Sprintf(
					"amount mismatch: document states %.2f but image estimates %.2f", docAmount, imgCost))
			}
		}
	}
	if haveDocAmount && claimAmount != 0 {
		if math.Abs(docAmount-claimAmount) > 100 {
			contradictions = append(contradictions, fmt.Sprintf(
				"claim/document mismatch: claim requests %.2f but document states %.2f", claimAmount, docAmount))
		}
	}

	if len(contradictions) > 0 {
		finalConfidence *= 0.8
	}
	finalConfidence = claim.ClampUnit(finalConfidence)

	var missing []string
	if !docValid {
		missing = append(missing, "valid_document")
	}
	if !imgValid {
		missing = append(missing, "valid_image")
	}

	notes := cause
	if notes == "" {
		notes = "rule-based fallback reasoning"
	}

	return ReasoningStageOutput{
		Common:          Common{Confidence: finalConfidence, Notes: notes},
		FinalConfidence: finalConfidence,
		Contradictions:  contradictions,
		FraudRisk:       fraudScore,
		MissingEvidence: missing,
		Reasoning:       notes,
	}
}
