// Package settlement implements the Settlement Driver (C8): the
// approve/depositEscrow/approveClaim sequence that pays an auto-approved
// claim out in USDC on an EVM chain, grounded on
// original_source/backend/src/services/blockchain.py's three-step flow.
package settlement

import (
	"context"
	"fmt"
	"math/big"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"github.com/nevilshah235/claimledger-sub000/internal/chain"
	"github.com/nevilshah235/claimledger-sub000/internal/claim"
	"github.com/nevilshah235/claimledger-sub000/internal/metrics"
)

// contractDecimals is the USDC contract's fixed-point scale (6 decimals),
// matching original_source's usdc_to_contract_amount.
const contractDecimals = 6

// ChainRPC is the subset of internal/chain.Client the driver needs.
type ChainRPC interface {
	ERC20Approve(ctx context.Context, tokenAddress, from, spender string, amount *big.Int) (string, error)
	DepositEscrow(ctx context.Context, escrowAddress, from string, claimID, amount *big.Int) (string, error)
	ApproveClaim(ctx context.Context, escrowAddress, from string, claimID, amount *big.Int, recipient string) (string, error)
	GetEscrowBalance(ctx context.Context, escrowAddress string, claimID *big.Int) (*big.Int, error)
	IsSettled(ctx context.Context, escrowAddress string, claimID *big.Int) (bool, error)
	WaitForReceipt(ctx context.Context, txHash string, pollInterval time.Duration) (gasUsed uint64, effectiveGasPriceWei *big.Int, err error)
}

// GasSink records the gas accounting for a completed settlement tx.
type GasSink interface {
	RecordGas(ctx context.Context, row claim.SettlementGasRow) error
}

// Config carries the settlement driver's static configuration.
type Config struct {
	Enabled        bool
	AmountCap      *decimal.Decimal // nil = no cap, zero = disabled (see Open Questions)
	EscrowAddress  string
	TokenAddress   string
	InsurerAddress string
}

// Driver settles an auto-approved claim on-chain (C8).
type Driver struct {
	Chain  ChainRPC
	Gas    GasSink
	Config Config
	Log    *logrus.Logger
	// Metrics is optional; a nil value skips instrumentation entirely.
	Metrics *metrics.Metrics
}

// Enabled reports whether auto-settlement is configured on.
func (d *Driver) Enabled() bool {
	return d.Config.Enabled
}

// Settle runs the three-step settlement sequence for c, which must
// already carry an AUTO_APPROVED verdict and an ApprovedAmount; a missing
// ApprovedAmount is returned as an error. On any other failure it logs
// ERROR and returns c unmodified (AutoSettled remains false) with a nil
// error — settlement failure never blocks the claim's APPROVED status,
// per spec.md §4.8.
func (d *Driver) Settle(ctx context.Context, c claim.Claim) (claim.Claim, error) {
	if c.ApprovedAmount == nil {
		return c, fmt.Errorf("settlement: claim %s has no approved amount", c.ID)
	}
	amount := *c.ApprovedAmount

	if d.Config.AmountCap != nil {
		if d.Config.AmountCap.IsZero() {
			d.Log.WithField("claim_id", c.ID).Info("auto-settlement disabled (amount_cap=0)")
			return c, nil
		}
		if amount.GreaterThan(*d.Config.AmountCap) {
			d.Log.WithFields(logrus.Fields{"claim_id": c.ID, "amount": amount.String(), "cap": d.Config.AmountCap.String()}).
				Warn("settlement skipped: amount exceeds auto-settle cap")
			return c, nil
		}
	}

	claimIDScaled, err := chain.ClaimIDToUint256(c.ID)
	if err != nil {
		d.fail(c.ID, err, "settlement failed: could not derive contract claim id")
		return c, nil
	}
	amountScaled := usdcToContractAmount(amount)

	settled, err := d.Chain.IsSettled(ctx, d.Config.EscrowAddress, claimIDScaled)
	if err != nil {
		d.fail(c.ID, err, "settlement failed: isSettled check errored")
		return c, nil
	}
	if settled {
		d.Log.WithField("claim_id", c.ID).Info("settlement skipped: claim already settled on chain")
		c.AutoSettled = true
		c.Status = claim.StatusSettled
		c.UpdatedAt = time.Now()
		return c, nil
	}

	balance, err := d.Chain.GetEscrowBalance(ctx, d.Config.EscrowAddress, claimIDScaled)
	if err != nil {
		d.fail(c.ID, err, "settlement failed: getEscrowBalance errored")
		return c, nil
	}

	var lastTxHash string
	if balance.Cmp(amountScaled) < 0 {
		txApprove, err := d.Chain.ERC20Approve(ctx, d.Config.TokenAddress, d.Config.InsurerAddress, d.Config.EscrowAddress, amountScaled)
		if err != nil {
			d.fail(c.ID, err, "settlement failed: USDC approve errored")
			return c, nil
		}
		if _, _, err := d.Chain.WaitForReceipt(ctx, txApprove, 0); err != nil {
			d.fail(c.ID, err, "settlement failed: waiting for approve receipt")
			return c, nil
		}

		txDeposit, err := d.Chain.DepositEscrow(ctx, d.Config.EscrowAddress, d.Config.InsurerAddress, claimIDScaled, amountScaled)
		if err != nil {
			d.fail(c.ID, err, "settlement failed: depositEscrow errored")
			return c, nil
		}
		if _, _, err := d.Chain.WaitForReceipt(ctx, txDeposit, 0); err != nil {
			d.fail(c.ID, err, "settlement failed: waiting for deposit receipt")
			return c, nil
		}
		lastTxHash = txDeposit
	}

	txApproveClaim, err := d.Chain.ApproveClaim(ctx, d.Config.EscrowAddress, d.Config.InsurerAddress, claimIDScaled, amountScaled, c.ClaimantAddress)
	if err != nil {
		d.fail(c.ID, err, "settlement failed: approveClaim errored")
		return c, nil
	}
	gasUsed, gasPrice, err := d.Chain.WaitForReceipt(ctx, txApproveClaim, 0)
	if err != nil {
		d.fail(c.ID, err, "settlement failed: waiting for approveClaim receipt")
		return c, nil
	}
	lastTxHash = txApproveClaim

	if d.Metrics != nil {
		d.Metrics.SettlementGasUsed.Observe(float64(gasUsed))
	}
	if err := d.recordGas(ctx, c.ID, lastTxHash, gasUsed, gasPrice); err != nil {
		d.Log.WithError(err).WithField("claim_id", c.ID).Warn("settlement succeeded but gas row could not be recorded")
	}

	c.AutoSettled = true
	c.SettlementTxHash = &lastTxHash
	c.Status = claim.StatusSettled
	c.UpdatedAt = time.Now()
	return c, nil
}

// fail logs a settlement failure and, when metrics are wired, counts it.
func (d *Driver) fail(claimID string, err error, msg string) {
	d.Log.WithError(err).WithField("claim_id", claimID).Error(msg)
	if d.Metrics != nil {
		d.Metrics.SettlementFailures.Inc()
	}
}

// recordGas persists a SettlementGasRow. The store enforces at most one
// row per tx hash, so a retry with the same txHash is a no-op rather than
// a duplicate.
func (d *Driver) recordGas(ctx context.Context, claimID, txHash string, gasUsed uint64, effectiveGasPriceWei *big.Int) error {
	if d.Gas == nil {
		return nil
	}
	priceWei := decimal.NewFromBigInt(effectiveGasPriceWei, 0)
	totalCostWei := priceWei.Mul(decimal.NewFromInt(int64(gasUsed)))
	totalCostHuman := totalCostWei.Shift(-18)

	return d.Gas.RecordGas(ctx, claim.SettlementGasRow{
		ID:                   uuid.NewString(),
		ClaimID:              claimID,
		TxHash:               txHash,
		GasUsed:              gasUsed,
		EffectiveGasPriceWei: priceWei,
		TotalCostWei:         totalCostWei,
		TotalCostHuman:       totalCostHuman,
		CreatedAt:            time.Now(),
	})
}

// usdcToContractAmount scales a decimal USDC amount to the contract's
// 6-decimal fixed-point representation, matching original_source's
// usdc_to_contract_amount.
func usdcToContractAmount(amount decimal.Decimal) *big.Int {
	scaled := amount.Shift(contractDecimals).Truncate(0)
	return scaled.BigInt()
}
