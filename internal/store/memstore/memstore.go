// Package memstore is an in-memory ports.Store implementation: the
// default store for local runs and the fake used by higher-level tests
// that need a real (not stubbed) persistence round-trip without a
// database.
package memstore

import (
	"context"
	"fmt"
	"sync"

	"github.com/nevilshah235/claimledger-sub000/internal/claim"
)

type evidenceRow struct {
	evidence claim.Evidence
	data     []byte
}

// Store is a mutex-guarded in-memory implementation of ports.Store.
type Store struct {
	mu           sync.Mutex
	claims       map[string]claim.Claim
	evidence     map[string][]evidenceRow
	blobs        map[string][]byte
	stageResults map[string][]claim.StageResult
	logEntries   map[string][]claim.LogEntry
	gasRows      []claim.SettlementGasRow
	receipts     []claim.PaidCallReceipt
}

func New() *Store {
	return &Store{
		claims:       map[string]claim.Claim{},
		evidence:     map[string][]evidenceRow{},
		blobs:        map[string][]byte{},
		stageResults: map[string][]claim.StageResult{},
		logEntries:   map[string][]claim.LogEntry{},
	}
}

func (s *Store) CreateClaim(_ context.Context, c claim.Claim) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.claims[c.ID]; exists {
		return fmt.Errorf("claim %s already exists", c.ID)
	}
	s.claims[c.ID] = c
	return nil
}

func (s *Store) GetClaim(_ context.Context, id string) (claim.Claim, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.claims[id]
	if !ok {
		return claim.Claim{}, fmt.Errorf("claim %s not found", id)
	}
	return c, nil
}

func (s *Store) CommitOutcome(_ context.Context, c claim.Claim) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.claims[c.ID] = c
	return nil
}

func (s *Store) AddEvidence(_ context.Context, e claim.Evidence, data []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if e.StoragePath == "" {
		e.StoragePath = fmt.Sprintf("%s/%s", e.ClaimID, e.ID)
	}
	s.evidence[e.ClaimID] = append(s.evidence[e.ClaimID], evidenceRow{evidence: e, data: data})
	s.blobs[e.StoragePath] = data
	return nil
}

// Get implements the Blobs contract consumed by internal/orchestrator,
// resolving a storage path recorded on an Evidence row back to bytes.
func (s *Store) Get(_ context.Context, storagePath string) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	data, ok := s.blobs[storagePath]
	if !ok {
		return nil, fmt.Errorf("blob %s not found", storagePath)
	}
	return data, nil
}

func (s *Store) GetEvidence(_ context.Context, claimID, evidenceID string) (claim.Evidence, []byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, row := range s.evidence[claimID] {
		if row.evidence.ID == evidenceID {
			return row.evidence, row.data, nil
		}
	}
	return claim.Evidence{}, nil, fmt.Errorf("evidence %s not found on claim %s", evidenceID, claimID)
}

func (s *Store) ListEvidence(_ context.Context, claimID string) ([]claim.Evidence, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rows := s.evidence[claimID]
	out := make([]claim.Evidence, 0, len(rows))
	for _, r := range rows {
		out = append(out, r.evidence)
	}
	return out, nil
}

func (s *Store) InsertStageResult(_ context.Context, r claim.StageResult) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stageResults[r.ClaimID] = append(s.stageResults[r.ClaimID], r)
	return nil
}

func (s *Store) InsertLogEntry(_ context.Context, e claim.LogEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.logEntries[e.ClaimID] = append(s.logEntries[e.ClaimID], e)
	return nil
}

func (s *Store) ListStageResults(_ context.Context, claimID string) ([]claim.StageResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]claim.StageResult{}, s.stageResults[claimID]...), nil
}

func (s *Store) ListLogEntries(_ context.Context, claimID string) ([]claim.LogEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]claim.LogEntry{}, s.logEntries[claimID]...), nil
}

// RecordGas inserts row, a no-op if tx_hash has already been recorded: a
// given settlement transaction is accounted for at most once.
func (s *Store) RecordGas(_ context.Context, row claim.SettlementGasRow) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, existing := range s.gasRows {
		if existing.TxHash == row.TxHash {
			return nil
		}
	}
	s.gasRows = append(s.gasRows, row)
	return nil
}

func (s *Store) RecordReceipt(_ context.Context, r claim.PaidCallReceipt) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.receipts = append(s.receipts, r)
	return nil
}

// ListGasRows returns every recorded settlement gas row, for tests that
// need to assert on RecordGas's dedup behavior.
func (s *Store) ListGasRows() []claim.SettlementGasRow {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]claim.SettlementGasRow{}, s.gasRows...)
}

// ListReceipts returns every recorded Paid-Call Receipt, for tests that
// need to assert on accumulated tool-invocation cost.
func (s *Store) ListReceipts() []claim.PaidCallReceipt {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]claim.PaidCallReceipt{}, s.receipts...)
}
