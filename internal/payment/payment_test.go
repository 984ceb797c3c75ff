package payment_test

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nevilshah235/claimledger-sub000/internal/claim"
	"github.com/nevilshah235/claimledger-sub000/internal/payment"
)

type fakeWallet struct {
	paid bool
}

func (f *fakeWallet) Pay(_ context.Context, _ decimal.Decimal, paymentID, _ string) (string, error) {
	f.paid = true
	return "ext-" + paymentID, nil
}

type fakeReceipts struct {
	recorded []claim.PaidCallReceipt
}

func (f *fakeReceipts) RecordReceipt(_ context.Context, r claim.PaidCallReceipt) error {
	f.recorded = append(f.recorded, r)
	return nil
}

func TestCall_PaysOn402AndRetriesSuccessfully(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("X-Payment-Receipt") == "" {
			w.Header().Set("X-Payment-Amount", "0.05")
			w.Header().Set("X-Payment-Description", "verify document")
			w.WriteHeader(http.StatusPaymentRequired)
			_ = json.NewEncoder(w).Encode(map[string]string{"gateway_payment_id": "pay-1"})
			return
		}
		w.WriteHeader(http.StatusOK)
		_ = json.NewEncoder(w).Encode(map[string]string{"status": "verified"})
	}))
	defer srv.Close()

	wallet := &fakeWallet{}
	receipts := &fakeReceipts{}
	log := logrus.New()
	log.SetOutput(io.Discard)
	gw := payment.NewGateway(wallet, receipts, []byte("secret"), log)

	body, err := gw.Call(context.Background(), srv.URL, map[string]string{"claim_id": "c1"}, "c1", claim.VerifierDocument)
	require.NoError(t, err)
	assert.Contains(t, string(body), "verified")
	assert.True(t, wallet.paid)
	require.Len(t, receipts.recorded, 1)
	assert.Equal(t, claim.VerifierDocument, receipts.recorded[0].VerifierKind)
}

func TestCall_ReturnsPaymentRequiredOnRepeat402(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Payment-Amount", "0.05")
		w.WriteHeader(http.StatusPaymentRequired)
		_ = json.NewEncoder(w).Encode(map[string]string{"gateway_payment_id": "pay-1"})
	}))
	defer srv.Close()

	wallet := &fakeWallet{}
	receipts := &fakeReceipts{}
	log := logrus.New()
	log.SetOutput(io.Discard)
	gw := payment.NewGateway(wallet, receipts, []byte("secret"), log)

	_, err := gw.Call(context.Background(), srv.URL, map[string]string{}, "c1", claim.VerifierImage)
	require.ErrorIs(t, err, payment.ErrPaymentRequired)
}

func TestCall_NoPaymentNeededWhenNot402(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_ = json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
	}))
	defer srv.Close()

	wallet := &fakeWallet{}
	log := logrus.New()
	log.SetOutput(io.Discard)
	gw := payment.NewGateway(wallet, nil, []byte("secret"), log)

	body, err := gw.Call(context.Background(), srv.URL, map[string]string{}, "c1", claim.VerifierFraud)
	require.NoError(t, err)
	assert.Contains(t, string(body), "ok")
	assert.False(t, wallet.paid)
}

func TestMintAndValidateReceiptToken_RoundTrips(t *testing.T) {
	token := payment.MintReceiptToken("pay-123", []byte("secret"))
	paymentID, err := payment.ValidateReceiptToken(token, []byte("secret"))
	require.NoError(t, err)
	assert.Equal(t, "pay-123", paymentID)
}

func TestValidateReceiptToken_RejectsBitFlippedSignature(t *testing.T) {
	token := payment.MintReceiptToken("pay-123", []byte("secret"))
	tampered := token[:len(token)-1] + flipLastChar(token)
	_, err := payment.ValidateReceiptToken(tampered, []byte("secret"))
	require.Error(t, err)
}

func flipLastChar(s string) string {
	if len(s) == 0 {
		return s
	}
	last := s[len(s)-1]
	if last == 'A' {
		return "B"
	}
	return "A"
}

func TestValidateReceiptToken_RejectsWrongSecret(t *testing.T) {
	token := payment.MintReceiptToken("pay-123", []byte("secret"))
	_, err := payment.ValidateReceiptToken(token, []byte("wrong-secret"))
	require.Error(t, err)
}
