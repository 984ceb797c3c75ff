// Package ports collects the external-collaborator interfaces this
// module depends on: persistence, inference, chain RPC, and paid
// verifier endpoints. Concrete adapters (internal/store/postgres,
// internal/llm, internal/chain, internal/payment) implement these.
// internal/httpapi consumes ports.Store; the orchestrator, stages and
// settlement packages declare their own narrower interfaces and import
// internal/llm, internal/payment and internal/chain directly.
package ports

import (
	"context"
	"math/big"
	"time"

	"github.com/nevilshah235/claimledger-sub000/internal/claim"
	"github.com/nevilshah235/claimledger-sub000/internal/llm"
)

// Store is the full persistence contract: claim and evidence CRUD plus
// the append-only stage result and log entry streams.
type Store interface {
	CreateClaim(ctx context.Context, c claim.Claim) error
	GetClaim(ctx context.Context, id string) (claim.Claim, error)
	CommitOutcome(ctx context.Context, c claim.Claim) error
	AddEvidence(ctx context.Context, e claim.Evidence, data []byte) error
	GetEvidence(ctx context.Context, claimID, evidenceID string) (claim.Evidence, []byte, error)
	ListEvidence(ctx context.Context, claimID string) ([]claim.Evidence, error)
	InsertStageResult(ctx context.Context, r claim.StageResult) error
	InsertLogEntry(ctx context.Context, e claim.LogEntry) error
	ListStageResults(ctx context.Context, claimID string) ([]claim.StageResult, error)
	ListLogEntries(ctx context.Context, claimID string) ([]claim.LogEntry, error)
	RecordGas(ctx context.Context, row claim.SettlementGasRow) error
	RecordReceipt(ctx context.Context, r claim.PaidCallReceipt) error
}

// Inference is the LLM endpoint contract (re-exported so callers that
// only need the interface don't have to import internal/llm directly).
type Inference = llm.Client

// ChainRPC is the on-chain interface used by the settlement driver:
// the ERC-20/ClaimEscrow write calls plus the read/wait helpers.
type ChainRPC interface {
	ERC20Approve(ctx context.Context, tokenAddress, from, spender string, amount *big.Int) (string, error)
	DepositEscrow(ctx context.Context, escrowAddress, from string, claimID, amount *big.Int) (string, error)
	ApproveClaim(ctx context.Context, escrowAddress, from string, claimID, amount *big.Int, recipient string) (string, error)
	GetEscrowBalance(ctx context.Context, escrowAddress string, claimID *big.Int) (*big.Int, error)
	IsSettled(ctx context.Context, escrowAddress string, claimID *big.Int) (bool, error)
	WaitForReceipt(ctx context.Context, txHash string, pollInterval time.Duration) (gasUsed uint64, effectiveGasPriceWei *big.Int, err error)
}

// Verifier is a paid, 402-aware outbound call to an external verifier
// endpoint (document/image/fraud confirmation services).
type Verifier interface {
	Call(ctx context.Context, url string, body any, claimID string, kind claim.VerifierKind) ([]byte, error)
}
