package settlement_test

import (
	"context"
	"errors"
	"io"
	"math/big"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nevilshah235/claimledger-sub000/internal/claim"
	"github.com/nevilshah235/claimledger-sub000/internal/settlement"
	"github.com/nevilshah235/claimledger-sub000/internal/store/memstore"
)

type fakeChain struct {
	balance    *big.Int
	settled    bool
	calls      []string
	failOn     string
}

func (f *fakeChain) ERC20Approve(_ context.Context, _, _, _ string, _ *big.Int) (string, error) {
	f.calls = append(f.calls, "approve")
	if f.failOn == "approve" {
		return "", errors.New("approve failed")
	}
	return "0xapprove", nil
}

func (f *fakeChain) DepositEscrow(_ context.Context, _, _ string, _, _ *big.Int) (string, error) {
	f.calls = append(f.calls, "deposit")
	if f.failOn == "deposit" {
		return "", errors.New("deposit failed")
	}
	return "0xdeposit", nil
}

func (f *fakeChain) ApproveClaim(_ context.Context, _, _ string, _, _ *big.Int, _ string) (string, error) {
	f.calls = append(f.calls, "approveClaim")
	if f.failOn == "approveClaim" {
		return "", errors.New("approveClaim failed")
	}
	return "0xapproveclaim", nil
}

func (f *fakeChain) GetEscrowBalance(_ context.Context, _ string, _ *big.Int) (*big.Int, error) {
	if f.balance != nil {
		return f.balance, nil
	}
	return big.NewInt(0), nil
}

func (f *fakeChain) IsSettled(_ context.Context, _ string, _ *big.Int) (bool, error) {
	return f.settled, nil
}

func (f *fakeChain) WaitForReceipt(_ context.Context, _ string, _ time.Duration) (uint64, *big.Int, error) {
	return 21000, big.NewInt(1_000_000_000), nil
}

type fakeGasSink struct {
	rows []claim.SettlementGasRow
}

func (f *fakeGasSink) RecordGas(_ context.Context, row claim.SettlementGasRow) error {
	f.rows = append(f.rows, row)
	return nil
}

func newDriver(t *testing.T, chain *fakeChain, gas *fakeGasSink, cfg settlement.Config) *settlement.Driver {
	t.Helper()
	log := logrus.New()
	log.SetOutput(io.Discard)
	return &settlement.Driver{Chain: chain, Gas: gas, Config: cfg, Log: log}
}

func approvedClaim(id string, amount string) claim.Claim {
	amt := decimal.RequireFromString(amount)
	return claim.Claim{
		ID:              id,
		ClaimantAddress: "0x1111111111111111111111111111111111111111",
		ApprovedAmount:  &amt,
		Status:          claim.StatusApproved,
	}
}

func TestSettle_FullSequenceWhenBalanceInsufficient(t *testing.T) {
	c := approvedClaim("12345678-90ab-cdef-0000-000000000000", "100.00")
	fc := &fakeChain{balance: big.NewInt(0)}
	gas := &fakeGasSink{}
	d := newDriver(t, fc, gas, settlement.Config{Enabled: true, EscrowAddress: "0xescrow", TokenAddress: "0xtoken", InsurerAddress: "0xinsurer"})

	out, err := d.Settle(context.Background(), c)
	require.NoError(t, err)
	assert.True(t, out.AutoSettled)
	assert.Equal(t, claim.StatusSettled, out.Status)
	require.NotNil(t, out.SettlementTxHash)
	assert.Equal(t, []string{"approve", "deposit", "approveClaim"}, fc.calls)
	require.Len(t, gas.rows, 1)
}

func TestSettle_SkipsDepositWhenBalanceSufficient(t *testing.T) {
	c := approvedClaim("12345678-90ab-cdef-0000-000000000000", "50.00")
	fc := &fakeChain{balance: big.NewInt(50_000_000)}
	gas := &fakeGasSink{}
	d := newDriver(t, fc, gas, settlement.Config{Enabled: true, EscrowAddress: "0xescrow", TokenAddress: "0xtoken", InsurerAddress: "0xinsurer"})

	out, err := d.Settle(context.Background(), c)
	require.NoError(t, err)
	assert.True(t, out.AutoSettled)
	assert.Equal(t, []string{"approveClaim"}, fc.calls)
}

func TestSettle_SkipsWhenAlreadySettled(t *testing.T) {
	c := approvedClaim("12345678-90ab-cdef-0000-000000000000", "50.00")
	fc := &fakeChain{settled: true}
	gas := &fakeGasSink{}
	d := newDriver(t, fc, gas, settlement.Config{Enabled: true, EscrowAddress: "0xescrow", TokenAddress: "0xtoken", InsurerAddress: "0xinsurer"})

	out, err := d.Settle(context.Background(), c)
	require.NoError(t, err)
	assert.True(t, out.AutoSettled)
	assert.Equal(t, claim.StatusSettled, out.Status)
	assert.Empty(t, fc.calls)
	assert.Empty(t, gas.rows)
}

func TestSettle_SkipsWhenOverAmountCap(t *testing.T) {
	c := approvedClaim("12345678-90ab-cdef-0000-000000000000", "5000.00")
	cap := decimal.RequireFromString("1000.00")
	fc := &fakeChain{}
	gas := &fakeGasSink{}
	d := newDriver(t, fc, gas, settlement.Config{Enabled: true, AmountCap: &cap, EscrowAddress: "0xescrow", TokenAddress: "0xtoken", InsurerAddress: "0xinsurer"})

	out, err := d.Settle(context.Background(), c)
	require.NoError(t, err)
	assert.False(t, out.AutoSettled)
	assert.Empty(t, fc.calls)
}

func TestSettle_DisabledWhenAmountCapIsZero(t *testing.T) {
	c := approvedClaim("12345678-90ab-cdef-0000-000000000000", "10.00")
	zero := decimal.Zero
	fc := &fakeChain{}
	gas := &fakeGasSink{}
	d := newDriver(t, fc, gas, settlement.Config{Enabled: true, AmountCap: &zero, EscrowAddress: "0xescrow", TokenAddress: "0xtoken", InsurerAddress: "0xinsurer"})

	out, err := d.Settle(context.Background(), c)
	require.NoError(t, err)
	assert.False(t, out.AutoSettled)
	assert.Empty(t, fc.calls)
}

func TestSettle_RepeatedCallWithSameTxHashRecordsGasOnce(t *testing.T) {
	c := approvedClaim("12345678-90ab-cdef-0000-000000000000", "50.00")
	fc := &fakeChain{balance: big.NewInt(50_000_000)}
	gas := memstore.New()
	d := newDriver(t, fc, gas, settlement.Config{Enabled: true, EscrowAddress: "0xescrow", TokenAddress: "0xtoken", InsurerAddress: "0xinsurer"})

	_, err := d.Settle(context.Background(), c)
	require.NoError(t, err)
	_, err = d.Settle(context.Background(), c)
	require.NoError(t, err)

	assert.Len(t, gas.ListGasRows(), 1)
}

func TestSettle_FailureLeavesClaimUnsettledWithoutError(t *testing.T) {
	c := approvedClaim("12345678-90ab-cdef-0000-000000000000", "100.00")
	fc := &fakeChain{balance: big.NewInt(0), failOn: "deposit"}
	gas := &fakeGasSink{}
	d := newDriver(t, fc, gas, settlement.Config{Enabled: true, EscrowAddress: "0xescrow", TokenAddress: "0xtoken", InsurerAddress: "0xinsurer"})

	out, err := d.Settle(context.Background(), c)
	require.NoError(t, err)
	assert.False(t, out.AutoSettled)
	assert.Equal(t, claim.StatusApproved, out.Status)
}
