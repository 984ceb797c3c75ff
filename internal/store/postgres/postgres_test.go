package postgres

import (
	"context"
	"database/sql"
	"regexp"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/shopspring/decimal"

	"github.com/nevilshah235/claimledger-sub000/internal/claim"
)

var _ = Describe("Store", func() {
	var (
		ctx   context.Context
		store *Store
		mock  sqlmock.Sqlmock
	)

	BeforeEach(func() {
		ctx = context.Background()

		mockDB, mockSQL, err := sqlmock.New()
		Expect(err).ToNot(HaveOccurred())

		store = New(sqlx.NewDb(mockDB, "sqlmock"))
		mock = mockSQL
	})

	AfterEach(func() {
		Expect(mock.ExpectationsWereMet()).To(Succeed())
	})

	Describe("CreateClaim", func() {
		It("inserts every mutable column with the claim's initial values", func() {
			now := time.Now()
			c := claim.Claim{
				ID:              "claim-1",
				ClaimantAddress: "0xabc",
				RequestedAmount: decimal.NewFromInt(1000),
				Description:     "fender bender",
				Status:          claim.StatusSubmitted,
				CreatedAt:       now,
				UpdatedAt:       now,
			}

			mock.ExpectExec(regexp.QuoteMeta("INSERT INTO claims")).
				WithArgs(c.ID, c.ClaimantAddress, c.RequestedAmount, c.Description, c.Status,
					[]byte("[]"), []byte("[]"), []byte("[]"), c.ProcessingCost, c.CreatedAt, c.UpdatedAt).
				WillReturnResult(sqlmock.NewResult(1, 1))

			Expect(store.CreateClaim(ctx, c)).To(Succeed())
		})
	})

	Describe("GetClaim", func() {
		It("returns a not-found error when no row matches", func() {
			mock.ExpectQuery(regexp.QuoteMeta("FROM claims")).
				WithArgs("missing").
				WillReturnError(sql.ErrNoRows)

			_, err := store.GetClaim(ctx, "missing")
			Expect(err).To(HaveOccurred())
		})

		It("unmarshals the JSONB columns back into their slice fields", func() {
			cols := []string{
				"id", "claimant_address", "requested_amount", "description", "status",
				"verdict", "confidence", "approved_amount", "fraud_risk_snapshot",
				"contradictions", "requested_data", "review_reasons",
				"auto_approved", "auto_settled", "decision_overridden", "human_review_required",
				"settlement_tx_hash", "processing_cost", "created_at", "updated_at",
			}
			now := time.Now()
			rows := sqlmock.NewRows(cols).AddRow(
				"claim-1", "0xabc", "1000", "fender bender", "NEEDS_REVIEW",
				nil, nil, nil, nil,
				[]byte(`["photo missing timestamp"]`), []byte(`[]`), []byte(`["low confidence"]`),
				false, false, false, true,
				nil, "0", now, now,
			)
			mock.ExpectQuery(regexp.QuoteMeta("FROM claims")).WithArgs("claim-1").WillReturnRows(rows)

			c, err := store.GetClaim(ctx, "claim-1")
			Expect(err).ToNot(HaveOccurred())
			Expect(c.Status).To(Equal(claim.StatusNeedsReview))
			Expect(c.Contradictions).To(ConsistOf("photo missing timestamp"))
			Expect(c.ReviewReasons).To(ConsistOf("low confidence"))
			Expect(c.Verdict).To(BeNil())
		})
	})

	Describe("CommitOutcome", func() {
		It("locks the row before updating and commits on success", func() {
			verdict := claim.VerdictApprovedWithReview
			c := claim.Claim{ID: "claim-1", Status: claim.StatusApproved, Verdict: &verdict, UpdatedAt: time.Now()}

			mock.ExpectBegin()
			mock.ExpectQuery(regexp.QuoteMeta("FOR UPDATE")).
				WithArgs(c.ID).
				WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(c.ID))
			mock.ExpectExec(regexp.QuoteMeta("UPDATE claims SET")).
				WillReturnResult(sqlmock.NewResult(0, 1))
			mock.ExpectCommit()

			Expect(store.CommitOutcome(ctx, c)).To(Succeed())
		})

		It("rolls back when the row lock fails", func() {
			c := claim.Claim{ID: "claim-missing"}

			mock.ExpectBegin()
			mock.ExpectQuery(regexp.QuoteMeta("FOR UPDATE")).
				WithArgs(c.ID).
				WillReturnError(sql.ErrNoRows)
			mock.ExpectRollback()

			Expect(store.CommitOutcome(ctx, c)).To(HaveOccurred())
		})
	})

	Describe("RecordGas", func() {
		It("inserts with an ON CONFLICT (tx_hash) DO NOTHING clause so a repeat tx hash is a no-op", func() {
			row := claim.SettlementGasRow{
				ID:                   "gas-1",
				ClaimID:              "claim-1",
				TxHash:               "0xsametxhash",
				GasUsed:              21000,
				EffectiveGasPriceWei: decimal.NewFromInt(1_000_000_000),
				TotalCostWei:         decimal.NewFromInt(21_000_000_000_000),
				TotalCostHuman:       decimal.NewFromFloat(0.000021),
				CreatedAt:            time.Now(),
			}

			mock.ExpectExec(regexp.QuoteMeta("ON CONFLICT (tx_hash) DO NOTHING")).
				WithArgs(row.ID, row.ClaimID, row.TxHash, row.GasUsed,
					row.EffectiveGasPriceWei, row.TotalCostWei, row.TotalCostHuman, row.CreatedAt).
				WillReturnResult(sqlmock.NewResult(1, 1))

			Expect(store.RecordGas(ctx, row)).To(Succeed())
		})
	})
})
