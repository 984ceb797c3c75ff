package orchestrator_test

import (
	"context"
	"errors"
	"io"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nevilshah235/claimledger-sub000/internal/claim"
	"github.com/nevilshah235/claimledger-sub000/internal/decision"
	"github.com/nevilshah235/claimledger-sub000/internal/llm"
	"github.com/nevilshah235/claimledger-sub000/internal/orchestrator"
	"github.com/nevilshah235/claimledger-sub000/internal/stages"
)

type memStore struct {
	claims   map[string]claim.Claim
	evidence map[string][]claim.Evidence
}

func (m *memStore) GetClaim(_ context.Context, id string) (claim.Claim, error) {
	c, ok := m.claims[id]
	if !ok {
		return claim.Claim{}, errors.New("not found")
	}
	return c, nil
}

func (m *memStore) ListEvidence(_ context.Context, claimID string) ([]claim.Evidence, error) {
	return m.evidence[claimID], nil
}

func (m *memStore) CommitOutcome(_ context.Context, c claim.Claim) error {
	m.claims[c.ID] = c
	return nil
}

type memBlobs struct{}

func (memBlobs) Get(_ context.Context, _ string) ([]byte, error) { return []byte("data"), nil }

type memSink struct{}

func (memSink) AppendStageResult(_ context.Context, _ claim.StageResult) error { return nil }
func (memSink) AppendLog(_ context.Context, _ claim.LogEntry) error            { return nil }

type memReceipts struct {
	receipts []claim.PaidCallReceipt
}

func (m *memReceipts) RecordReceipt(_ context.Context, r claim.PaidCallReceipt) error {
	m.receipts = append(m.receipts, r)
	return nil
}

// stubInference returns a fixed JSON response regardless of prompt; each
// test picks the per-stage responses that drive the path it checks.
type stubInference struct {
	response string
	err      error
}

func (s stubInference) Analyze(_ context.Context, _ string, _ []llm.PromptPart) (string, error) {
	return s.response, s.err
}

func newOrchestrator(t *testing.T, c claim.Claim, evidence []claim.Evidence, docResp, imgResp, fraudResp, reasoningResp string) (*orchestrator.Orchestrator, *memStore) {
	t.Helper()
	store := &memStore{claims: map[string]claim.Claim{c.ID: c}, evidence: map[string][]claim.Evidence{c.ID: evidence}}
	log := logrus.New()
	log.SetOutput(io.Discard)

	exec := &stages.Executor{Sink: memSink{}, Timeout: time.Second}
	return &orchestrator.Orchestrator{
		Store:    store,
		Blobs:    memBlobs{},
		Executor: exec,
		Document: &stages.DocumentStage{Inference: stubInference{response: docResp}, Model: "m", Log: log},
		Image:    &stages.ImageStage{Inference: stubInference{response: imgResp}, Model: "m", Log: log},
		Fraud:    &stages.FraudStage{Inference: stubInference{response: fraudResp}, Model: "m", Log: log},
		Reasoning: &stages.ReasoningStage{Inference: stubInference{response: reasoningResp}, Model: "m", Log: log},
		Thresholds: decision.Thresholds{
			AutoApproveConfidence:  0.95,
			AutoApproveFraudMax:    0.30,
			FraudDetectedThreshold: 0.70,
			ApprovedWithReviewMin:  0.85,
			NeedsReviewMin:         0.70,
			NeedsMoreDataMin:       0.50,
		},
		Log: log,
	}, store
}

func baseClaim(id string) claim.Claim {
	return claim.Claim{
		ID:              id,
		ClaimantAddress: "0xabc",
		RequestedAmount: decimal.NewFromInt(500),
		Status:          claim.StatusSubmitted,
	}
}

func TestEvaluate_AutoApprovesHighConfidenceLowFraud(t *testing.T) {
	c := baseClaim("claim-1")
	evidence := []claim.Evidence{
		{ID: "e1", ClaimID: c.ID, Kind: claim.EvidenceDocument, MIME: "application/pdf"},
		{ID: "e2", ClaimID: c.ID, Kind: claim.EvidenceImage, MIME: "image/jpeg"},
	}
	docResp := `{"valid": true, "metadata": {"confidence": 0.97}, "extracted_fields": {"amount": 500}}`
	imgResp := `{"valid": true, "confidence": 0.95, "severity": "moderate", "estimated_cost": 480}`
	fraudResp := `{"fraud_score": 0.05, "confidence": 0.9, "indicators": []}`
	reasoningResp := `{"final_confidence": 0.98, "fraud_risk": 0.05, "contradictions": [], "missing_evidence": []}`

	o, store := newOrchestrator(t, c, evidence, docResp, imgResp, fraudResp, reasoningResp)

	out, err := o.Evaluate(context.Background(), c.ID)
	require.NoError(t, err)
	assert.Equal(t, claim.VerdictAutoApproved, out.Verdict)
	assert.True(t, out.AutoApproved)

	stored := store.claims[c.ID]
	assert.Equal(t, claim.StatusApproved, stored.Status)
	assert.True(t, stored.AutoApproved)
}

func TestEvaluate_HighFraudRiskRejects(t *testing.T) {
	c := baseClaim("claim-2")
	evidence := []claim.Evidence{
		{ID: "e1", ClaimID: c.ID, Kind: claim.EvidenceDocument, MIME: "application/pdf"},
	}
	docResp := `{"valid": true, "metadata": {"confidence": 0.9}}`
	fraudResp := `{"fraud_score": 0.9, "confidence": 0.8, "indicators": ["duplicate submission"]}`
	reasoningResp := `{"final_confidence": 0.6, "fraud_risk": 0.9, "contradictions": [], "missing_evidence": []}`

	o, store := newOrchestrator(t, c, evidence, docResp, "", fraudResp, reasoningResp)

	out, err := o.Evaluate(context.Background(), c.ID)
	require.NoError(t, err)
	assert.Equal(t, claim.VerdictFraudDetected, out.Verdict)

	stored := store.claims[c.ID]
	assert.Equal(t, claim.StatusRejected, stored.Status)
}

func TestEvaluate_MissingEvidenceKindTracksAsAbsent(t *testing.T) {
	c := baseClaim("claim-3")
	evidence := []claim.Evidence{
		{ID: "e1", ClaimID: c.ID, Kind: claim.EvidenceDocument, MIME: "application/pdf"},
	}
	docResp := `{"valid": true, "metadata": {"confidence": 0.6}}`
	fraudResp := `{"fraud_score": 0.2, "confidence": 0.6, "indicators": []}`
	reasoningResp := `{"final_confidence": 0.55, "fraud_risk": 0.2, "contradictions": [], "missing_evidence": []}`

	o, store := newOrchestrator(t, c, evidence, docResp, "", fraudResp, reasoningResp)

	out, err := o.Evaluate(context.Background(), c.ID)
	require.NoError(t, err)
	assert.Equal(t, claim.VerdictNeedsMoreData, out.Verdict)
	assert.Contains(t, out.RequestedData, "image")

	stored := store.claims[c.ID]
	assert.Equal(t, claim.StatusAwaitingData, stored.Status)
}

func TestEvaluate_AccumulatesProcessingCostFromToolInvocations(t *testing.T) {
	c := baseClaim("claim-5")
	evidence := []claim.Evidence{
		{ID: "e1", ClaimID: c.ID, Kind: claim.EvidenceDocument, MIME: "application/pdf"},
		{ID: "e2", ClaimID: c.ID, Kind: claim.EvidenceImage, MIME: "image/jpeg"},
	}
	docResp := `{"valid": true, "metadata": {"confidence": 0.97}, "extracted_fields": {"amount": 500}}`
	imgResp := `{"valid": true, "confidence": 0.95, "severity": "moderate", "estimated_cost": 480}`
	fraudResp := `{"fraud_score": 0.05, "confidence": 0.9, "indicators": []}`
	reasoningResp := `{"final_confidence": 0.98, "fraud_risk": 0.05, "contradictions": [], "missing_evidence": []}`

	o, store := newOrchestrator(t, c, evidence, docResp, imgResp, fraudResp, reasoningResp)
	receipts := &memReceipts{}
	o.Receipts = receipts
	o.ToolCosts = orchestrator.ToolCosts{
		Document: decimal.RequireFromString("0.05"),
		Image:    decimal.RequireFromString("0.10"),
		Fraud:    decimal.RequireFromString("0.05"),
	}

	_, err := o.Evaluate(context.Background(), c.ID)
	require.NoError(t, err)

	stored := store.claims[c.ID]
	assert.True(t, decimal.RequireFromString("0.20").Equal(stored.ProcessingCost))
	assert.Len(t, receipts.receipts, 3)
}

func TestEvaluate_RejectsClaimNotInEligibleStatus(t *testing.T) {
	c := baseClaim("claim-4")
	c.Status = claim.StatusApproved
	o, _ := newOrchestrator(t, c, nil, "", "", "", "")

	_, err := o.Evaluate(context.Background(), c.ID)
	require.Error(t, err)
}
