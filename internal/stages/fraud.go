package stages

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"github.com/nevilshah235/claimledger-sub000/internal/claim"
	"github.com/nevilshah235/claimledger-sub000/internal/llm"
	"github.com/nevilshah235/claimledger-sub000/internal/llmparse"
	"github.com/nevilshah235/claimledger-sub000/internal/payment"
	"github.com/nevilshah235/claimledger-sub000/internal/schema"
)

// FraudInput is the input to the fraud stage: claim amount, claimant
// identifier, evidence kinds present, and the prior extraction outputs.
type FraudInput struct {
	ClaimID          string
	Amount           decimal.Decimal
	ClaimantAddress  string
	EvidenceKinds    []claim.EvidenceKind
	Document         *DocumentStageOutput
	Image            *ImageStageOutput
}

// FraudStage scores fraud risk given the claim and prior stage outputs (C3).
// Verifier and VerifierURL are optional: when both are set, the raw LLM
// fraud score is cross-checked against a paid third-party verifier
// endpoint before the stage returns, folding its indicators in. A nil
// Verifier (the default for local runs without a configured paid
// verifier) skips this step entirely.
type FraudStage struct {
	Inference   llm.Client
	Model       string
	Log         *logrus.Logger
	Verifier    *payment.Gateway
	VerifierURL string
}

func (s *FraudStage) Tag() claim.StageTag { return claim.StageFraud }

func (s *FraudStage) Schema() schema.Schema {
	return schema.Schema{
		Required: []string{"fraud_score"},
		Ranges:   map[string][2]float64{"fraud_score": {0, 1}},
	}
}

// Fallback per spec.md §4.3: fraud_score=0.5, risk_level=MEDIUM,
// indicators=["Agent error"], confidence=0.5.
func (s *FraudStage) Fallback(cause string) StageResultPayload {
	return StageResultPayload{Fraud: &FraudStageOutput{
		Common:     Common{Confidence: 0.5, Notes: cause},
		FraudScore: 0.5,
		RiskLevel:  RiskMedium,
		Indicators: []string{"Agent error"},
	}}
}

func (s *FraudStage) Run(ctx context.Context, rawInput any) (StageResultPayload, error) {
	input, ok := rawInput.(FraudInput)
	if !ok {
		return StageResultPayload{}, fmt.Errorf("fraud stage: unexpected input type %T", rawInput)
	}

	prompt := fraudPrompt(input)
	text, err := s.Inference.Analyze(ctx, s.Model, []llm.PromptPart{llm.Text(prompt)})
	if err != nil {
		return StageResultPayload{}, fmt.Errorf("inference call failed: %w", err)
	}
	obj, ok := llmparse.Parse(text, s.Log)
	if !ok {
		return StageResultPayload{}, fmt.Errorf("response could not be parsed as JSON")
	}

	out := fraudFromMap(obj)
	// Risk-level derivation is hard-coded, never trusted from the model.
	out.RiskLevel = DeriveRiskLevel(out.FraudScore)

	if s.Verifier != nil && s.VerifierURL != "" {
		s.applyPaidVerification(ctx, input, &out)
	}

	return StageResultPayload{Fraud: &out}, nil
}

// applyPaidVerification cross-checks the raw fraud score against a paid
// verifier endpoint and folds its indicators into out. Failures here are
// logged and otherwise ignored: the paid verifier enriches the stage
// output, it never gates it.
func (s *FraudStage) applyPaidVerification(ctx context.Context, input FraudInput, out *FraudStageOutput) {
	body := map[string]any{
		"claim_id":    input.ClaimID,
		"fraud_score": out.FraudScore,
		"indicators":  out.Indicators,
	}
	resp, err := s.Verifier.Call(ctx, s.VerifierURL, body, input.ClaimID, claim.VerifierFraud)
	if err != nil {
		s.Log.WithError(err).WithField("claim_id", input.ClaimID).Warn("paid fraud verifier call failed, using LLM score only")
		return
	}

	var verified struct {
		Indicators []string `json:"indicators"`
	}
	if err := json.Unmarshal(resp, &verified); err != nil {
		s.Log.WithError(err).WithField("claim_id", input.ClaimID).Warn("paid fraud verifier returned unparsable response")
		return
	}
	out.Indicators = append(out.Indicators, verified.Indicators...)
}

// DeriveRiskLevel implements spec.md §4.3's hard thresholds: LOW if
// fraud_score < 0.3, MEDIUM if < 0.7, HIGH otherwise.
func DeriveRiskLevel(fraudScore float64) RiskLevel {
	switch {
	case fraudScore < 0.3:
		return RiskLow
	case fraudScore < 0.7:
		return RiskMedium
	default:
		return RiskHigh
	}
}

func fraudPrompt(in FraudInput) string {
	return fmt.Sprintf(
		"Assess fraud risk for a claim of amount %s from claimant %s with evidence kinds %v. "+
			"Consider extraction outputs already gathered. Respond with a JSON object containing "+
			"fraud_score (0-1), indicators (list of strings), confidence (0-1), and notes.",
		in.Amount.String(), in.ClaimantAddress, in.EvidenceKinds)
}

func fraudFromMap(obj map[string]any) FraudStageOutput {
	out := FraudStageOutput{}
	if v, ok := asFloat(obj["fraud_score"]); ok {
		out.FraudScore = claim.ClampUnit(v)
	}
	if c, ok := asFloat(obj["confidence"]); ok {
		out.Confidence = claim.ClampUnit(c)
	}
	if n, ok := obj["notes"].(string); ok {
		out.Notes = n
	}
	out.Indicators = stringSlice(obj["indicators"])
	return out
}
