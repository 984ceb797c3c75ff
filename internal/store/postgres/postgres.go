// Package postgres is the sqlx-backed ports.Store implementation used in
// production. Grounded on the teacher's datastorage repository pattern:
// a *sqlx.DB opened over the pgx stdlib driver, plain SQL with
// positional parameters, and explicit transactions where more than one
// statement must commit atomically.
//
// CommitOutcome takes the claim row lock with SELECT ... FOR UPDATE
// before writing the new status, serializing concurrent writes to the
// same claim row. The lock is held only for that write: Evaluate's
// eligibility check reads the claim before it, outside the transaction,
// so concurrent Evaluate calls for one claim are kept apart only by
// internal/lock's Redis SETNX guard around the evaluate route.
package postgres

import (
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	"fmt"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/jmoiron/sqlx"
	"github.com/pressly/goose/v3"

	"github.com/nevilshah235/claimledger-sub000/internal/claim"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// Store implements ports.Store against a sqlx connection.
type Store struct {
	db *sqlx.DB
}

// Connect opens and pings the database, then applies any migration under
// migrations/ that hasn't run yet.
func Connect(ctx context.Context, connStr string) (*Store, error) {
	db, err := sqlx.ConnectContext(ctx, "pgx", connStr)
	if err != nil {
		return nil, fmt.Errorf("connect to postgres: %w", err)
	}
	if err := migrate(db.DB); err != nil {
		db.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}
	return &Store{db: db}, nil
}

// migrate applies pending goose migrations embedded in the binary.
func migrate(db *sql.DB) error {
	goose.SetBaseFS(migrationsFS)
	defer goose.SetBaseFS(nil)
	if err := goose.SetDialect("postgres"); err != nil {
		return fmt.Errorf("set goose dialect: %w", err)
	}
	return goose.Up(db, "migrations")
}

// New wraps an already-open connection, used by tests to inject sqlmock.
func New(db *sqlx.DB) *Store {
	return &Store{db: db}
}

// Close releases the underlying connection pool.
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) CreateClaim(ctx context.Context, c claim.Claim) error {
	contradictions, err := json.Marshal(c.Contradictions)
	if err != nil {
		return fmt.Errorf("marshal contradictions: %w", err)
	}
	requestedData, err := json.Marshal(c.RequestedData)
	if err != nil {
		return fmt.Errorf("marshal requested_data: %w", err)
	}
	reviewReasons, err := json.Marshal(c.ReviewReasons)
	if err != nil {
		return fmt.Errorf("marshal review_reasons: %w", err)
	}

	const query = `
		INSERT INTO claims
			(id, claimant_address, requested_amount, description, status,
			 contradictions, requested_data, review_reasons, processing_cost,
			 created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`
	_, err = s.db.ExecContext(ctx, query,
		c.ID, c.ClaimantAddress, c.RequestedAmount, c.Description, c.Status,
		contradictions, requestedData, reviewReasons, c.ProcessingCost,
		c.CreatedAt, c.UpdatedAt)
	if err != nil {
		return fmt.Errorf("insert claim: %w", err)
	}
	return nil
}

const selectClaimSQL = `
	SELECT id, claimant_address, requested_amount, description, status,
	       verdict, confidence, approved_amount, fraud_risk_snapshot,
	       contradictions, requested_data, review_reasons,
	       auto_approved, auto_settled, decision_overridden, human_review_required,
	       settlement_tx_hash, processing_cost, created_at, updated_at
	FROM claims`

func (s *Store) GetClaim(ctx context.Context, id string) (claim.Claim, error) {
	return scanClaim(s.db.QueryRowContext(ctx, selectClaimSQL+` WHERE id = $1`, id))
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanClaim(row rowScanner) (claim.Claim, error) {
	var c claim.Claim
	var status, verdict sql.NullString
	var contradictions, requestedData, reviewReasons []byte

	err := row.Scan(
		&c.ID, &c.ClaimantAddress, &c.RequestedAmount, &c.Description, &status,
		&verdict, &c.Confidence, &c.ApprovedAmount, &c.FraudRiskSnapshot,
		&contradictions, &requestedData, &reviewReasons,
		&c.AutoApproved, &c.AutoSettled, &c.DecisionOverridden, &c.HumanReviewRequired,
		&c.SettlementTxHash, &c.ProcessingCost, &c.CreatedAt, &c.UpdatedAt,
	)
	if err != nil {
		if err == sql.ErrNoRows {
			return claim.Claim{}, fmt.Errorf("claim not found: %w", err)
		}
		return claim.Claim{}, fmt.Errorf("scan claim: %w", err)
	}

	c.Status = claim.Status(status.String)
	if verdict.Valid && verdict.String != "" {
		v := claim.Verdict(verdict.String)
		c.Verdict = &v
	}
	if err := unmarshalIfPresent(contradictions, &c.Contradictions); err != nil {
		return claim.Claim{}, err
	}
	if err := unmarshalIfPresent(requestedData, &c.RequestedData); err != nil {
		return claim.Claim{}, err
	}
	if err := unmarshalIfPresent(reviewReasons, &c.ReviewReasons); err != nil {
		return claim.Claim{}, err
	}
	return c, nil
}

func unmarshalIfPresent(data []byte, v any) error {
	if len(data) == 0 {
		return nil
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("unmarshal json column: %w", err)
	}
	return nil
}

// CommitOutcome takes the row lock, then overwrites every mutable field
// on the claim. It never creates a row; CreateClaim alone does that.
func (s *Store) CommitOutcome(ctx context.Context, c claim.Claim) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin commit outcome tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var discard string
	if err := tx.QueryRowContext(ctx, `SELECT id FROM claims WHERE id = $1 FOR UPDATE`, c.ID).Scan(&discard); err != nil {
		return fmt.Errorf("lock claim row: %w", err)
	}

	contradictions, err := json.Marshal(c.Contradictions)
	if err != nil {
		return fmt.Errorf("marshal contradictions: %w", err)
	}
	requestedData, err := json.Marshal(c.RequestedData)
	if err != nil {
		return fmt.Errorf("marshal requested_data: %w", err)
	}
	reviewReasons, err := json.Marshal(c.ReviewReasons)
	if err != nil {
		return fmt.Errorf("marshal review_reasons: %w", err)
	}

	var verdict string
	if c.Verdict != nil {
		verdict = string(*c.Verdict)
	}

	const query = `
		UPDATE claims SET
			status = $2, verdict = NULLIF($3, ''), confidence = $4,
			approved_amount = $5, fraud_risk_snapshot = $6,
			contradictions = $7, requested_data = $8, review_reasons = $9,
			auto_approved = $10, auto_settled = $11, decision_overridden = $12,
			human_review_required = $13, settlement_tx_hash = $14,
			processing_cost = $15, updated_at = $16
		WHERE id = $1`
	_, err = tx.ExecContext(ctx, query,
		c.ID, c.Status, verdict, c.Confidence,
		c.ApprovedAmount, c.FraudRiskSnapshot,
		contradictions, requestedData, reviewReasons,
		c.AutoApproved, c.AutoSettled, c.DecisionOverridden,
		c.HumanReviewRequired, c.SettlementTxHash,
		c.ProcessingCost, c.UpdatedAt)
	if err != nil {
		return fmt.Errorf("update claim: %w", err)
	}

	return tx.Commit()
}

func (s *Store) AddEvidence(ctx context.Context, e claim.Evidence, data []byte) error {
	if e.StoragePath == "" {
		e.StoragePath = fmt.Sprintf("%s/%s", e.ClaimID, e.ID)
	}
	analysis, err := json.Marshal(e.Analysis)
	if err != nil {
		return fmt.Errorf("marshal evidence analysis: %w", err)
	}

	const query = `
		INSERT INTO evidence (id, claim_id, kind, storage_path, mime, byte_size, analysis, data)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`
	_, err = s.db.ExecContext(ctx, query, e.ID, e.ClaimID, e.Kind, e.StoragePath, e.MIME, e.ByteSize, analysis, data)
	if err != nil {
		return fmt.Errorf("insert evidence: %w", err)
	}
	return nil
}

func (s *Store) GetEvidence(ctx context.Context, claimID, evidenceID string) (claim.Evidence, []byte, error) {
	const query = `
		SELECT id, claim_id, kind, storage_path, mime, byte_size, analysis, data
		FROM evidence WHERE claim_id = $1 AND id = $2`
	var e claim.Evidence
	var kind string
	var analysis, data []byte
	err := s.db.QueryRowContext(ctx, query, claimID, evidenceID).Scan(
		&e.ID, &e.ClaimID, &kind, &e.StoragePath, &e.MIME, &e.ByteSize, &analysis, &data)
	if err != nil {
		return claim.Evidence{}, nil, fmt.Errorf("get evidence: %w", err)
	}
	e.Kind = claim.EvidenceKind(kind)
	if err := unmarshalIfPresent(analysis, &e.Analysis); err != nil {
		return claim.Evidence{}, nil, err
	}
	return e, data, nil
}

func (s *Store) ListEvidence(ctx context.Context, claimID string) ([]claim.Evidence, error) {
	const query = `
		SELECT id, claim_id, kind, storage_path, mime, byte_size, analysis
		FROM evidence WHERE claim_id = $1 ORDER BY id`
	rows, err := s.db.QueryContext(ctx, query, claimID)
	if err != nil {
		return nil, fmt.Errorf("list evidence: %w", err)
	}
	defer rows.Close()

	var out []claim.Evidence
	for rows.Next() {
		var e claim.Evidence
		var kind string
		var analysis []byte
		if err := rows.Scan(&e.ID, &e.ClaimID, &kind, &e.StoragePath, &e.MIME, &e.ByteSize, &analysis); err != nil {
			return nil, fmt.Errorf("scan evidence row: %w", err)
		}
		e.Kind = claim.EvidenceKind(kind)
		if err := unmarshalIfPresent(analysis, &e.Analysis); err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

func (s *Store) InsertStageResult(ctx context.Context, r claim.StageResult) error {
	payload, err := json.Marshal(r.Payload)
	if err != nil {
		return fmt.Errorf("marshal stage result payload: %w", err)
	}
	const query = `
		INSERT INTO stage_results (id, claim_id, stage, payload, confidence, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)`
	_, err = s.db.ExecContext(ctx, query, r.ID, r.ClaimID, r.Stage, payload, r.Confidence, r.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert stage result: %w", err)
	}
	return nil
}

func (s *Store) InsertLogEntry(ctx context.Context, e claim.LogEntry) error {
	metadata, err := json.Marshal(e.Metadata)
	if err != nil {
		return fmt.Errorf("marshal log entry metadata: %w", err)
	}
	const query = `
		INSERT INTO log_entries (id, claim_id, stage, level, message, metadata, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`
	_, err = s.db.ExecContext(ctx, query, e.ID, e.ClaimID, e.Stage, e.Level, e.Message, metadata, e.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert log entry: %w", err)
	}
	return nil
}

func (s *Store) ListStageResults(ctx context.Context, claimID string) ([]claim.StageResult, error) {
	const query = `
		SELECT id, claim_id, stage, payload, confidence, created_at
		FROM stage_results WHERE claim_id = $1 ORDER BY created_at`
	rows, err := s.db.QueryContext(ctx, query, claimID)
	if err != nil {
		return nil, fmt.Errorf("list stage results: %w", err)
	}
	defer rows.Close()

	var out []claim.StageResult
	for rows.Next() {
		var r claim.StageResult
		var stage string
		var payload []byte
		if err := rows.Scan(&r.ID, &r.ClaimID, &stage, &payload, &r.Confidence, &r.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan stage result row: %w", err)
		}
		r.Stage = claim.StageTag(stage)
		if err := unmarshalIfPresent(payload, &r.Payload); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func (s *Store) ListLogEntries(ctx context.Context, claimID string) ([]claim.LogEntry, error) {
	const query = `
		SELECT id, claim_id, stage, level, message, metadata, created_at
		FROM log_entries WHERE claim_id = $1 ORDER BY created_at`
	rows, err := s.db.QueryContext(ctx, query, claimID)
	if err != nil {
		return nil, fmt.Errorf("list log entries: %w", err)
	}
	defer rows.Close()

	var out []claim.LogEntry
	for rows.Next() {
		var e claim.LogEntry
		var stage, level string
		var metadata []byte
		if err := rows.Scan(&e.ID, &e.ClaimID, &stage, &level, &e.Message, &metadata, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan log entry row: %w", err)
		}
		e.Stage = claim.StageTag(stage)
		e.Level = claim.LogLevel(level)
		if err := unmarshalIfPresent(metadata, &e.Metadata); err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// RecordGas inserts a gas row, a no-op if tx_hash has already been
// recorded: a given settlement transaction is accounted for at most once.
func (s *Store) RecordGas(ctx context.Context, row claim.SettlementGasRow) error {
	const query = `
		INSERT INTO settlement_gas_rows
			(id, claim_id, tx_hash, gas_used, effective_gas_price_wei, total_cost_wei, total_cost_human, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (tx_hash) DO NOTHING`
	_, err := s.db.ExecContext(ctx, query,
		row.ID, row.ClaimID, row.TxHash, row.GasUsed,
		row.EffectiveGasPriceWei, row.TotalCostWei, row.TotalCostHuman, row.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert settlement gas row: %w", err)
	}
	return nil
}

func (s *Store) RecordReceipt(ctx context.Context, r claim.PaidCallReceipt) error {
	const query = `
		INSERT INTO paid_call_receipts
			(id, claim_id, verifier_kind, amount, external_payment_id, receipt_token, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`
	_, err := s.db.ExecContext(ctx, query, r.ID, r.ClaimID, r.VerifierKind, r.Amount, r.ExternalPaymentID, r.ReceiptToken, r.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert paid call receipt: %w", err)
	}
	return nil
}
