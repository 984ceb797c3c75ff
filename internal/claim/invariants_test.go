package claim_test

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/nevilshah235/claimledger-sub000/internal/claim"
)

func TestClaim(t *testing.T) {
	RegisterFailHandler(Fail)
	RunSpecs(t, "Claim Domain Invariants Suite")
}

var _ = Describe("ClampUnit", func() {
	It("clamps below zero up to zero", func() {
		Expect(claim.ClampUnit(-0.4)).To(Equal(0.0))
	})

	It("clamps above one down to one", func() {
		Expect(claim.ClampUnit(1.7)).To(Equal(1.0))
	})

	It("leaves in-range values untouched", func() {
		Expect(claim.ClampUnit(0.42)).To(Equal(0.42))
	})
})

var _ = Describe("Status", func() {
	DescribeTable("Valid",
		func(s claim.Status, want bool) {
			Expect(s.Valid()).To(Equal(want))
		},
		Entry("submitted", claim.StatusSubmitted, true),
		Entry("settled", claim.StatusSettled, true),
		Entry("garbage", claim.Status("NOT_A_STATUS"), false),
	)
})

var _ = Describe("Verdict", func() {
	DescribeTable("Valid",
		func(v claim.Verdict, want bool) {
			Expect(v.Valid()).To(Equal(want))
		},
		Entry("auto approved", claim.VerdictAutoApproved, true),
		Entry("fraud detected", claim.VerdictFraudDetected, true),
		Entry("garbage", claim.Verdict("NOPE"), false),
	)
})

var _ = Describe("Claim invariants", func() {
	It("a SETTLED claim carries a tx hash", func() {
		hash := "0xabc"
		c := claim.Claim{
			Status:           claim.StatusSettled,
			SettlementTxHash: &hash,
			ProcessingCost:   decimal.NewFromFloat(0.2),
			CreatedAt:        time.Now(),
			UpdatedAt:        time.Now(),
		}
		Expect(c.SettlementTxHash).NotTo(BeNil())
		Expect(*c.SettlementTxHash).NotTo(BeEmpty())
	})

	It("processing cost never goes negative", func() {
		c := claim.Claim{ProcessingCost: decimal.NewFromFloat(0.2)}
		Expect(c.ProcessingCost.IsNegative()).To(BeFalse())
	})
})
