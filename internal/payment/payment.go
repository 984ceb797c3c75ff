// Package payment implements the Paid-Call Gateway (C10): outbound calls
// to paid verifier endpoints that transparently handle HTTP 402 Payment
// Required responses, and inbound receipt-token validation for endpoints
// this service itself exposes. Grounded on
// original_source/backend/src/services/x402_client.py's detect-pay-retry
// flow and gateway.py's micropayment minting.
package payment

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"github.com/nevilshah235/claimledger-sub000/internal/claim"
)

// ErrPaymentRequired is returned when a verifier call still responds 402
// after a payment retry, matching the PaymentRequired error class.
var ErrPaymentRequired = fmt.Errorf("payment required")

// Wallet mints a micropayment receipt for a given amount, standing in
// for the Circle Gateway integration in original_source's gateway.py.
type Wallet interface {
	Pay(ctx context.Context, amount decimal.Decimal, paymentID, description string) (externalPaymentID string, err error)
}

// ReceiptSink records a completed paid call for audit/billing.
type ReceiptSink interface {
	RecordReceipt(ctx context.Context, r claim.PaidCallReceipt) error
}

// Secret signs receipt tokens; no MAC library exists anywhere in
// the example pack, so crypto/hmac+crypto/sha256 is used directly
// (documented as a stdlib exception).
type Gateway struct {
	HTTP     *http.Client
	Wallet   Wallet
	Receipts ReceiptSink
	Secret   []byte
	Log      *logrus.Logger
}

func NewGateway(wallet Wallet, receipts ReceiptSink, secret []byte, log *logrus.Logger) *Gateway {
	return &Gateway{HTTP: &http.Client{Timeout: 30 * time.Second}, Wallet: wallet, Receipts: receipts, Secret: secret, Log: log}
}

type paymentDetails struct {
	Amount           string `json:"amount"`
	GatewayPaymentID string `json:"gateway_payment_id"`
}

// Call performs a POST to url with body; on a 402 response it mints a
// payment via Wallet and retries once with an X-Payment-Receipt header.
// A second 402 returns ErrPaymentRequired. claimID and verifierKind scope
// the recorded receipt.
func (g *Gateway) Call(ctx context.Context, url string, body any, claimID string, verifierKind claim.VerifierKind) ([]byte, error) {
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("encode request body: %w", err)
	}

	respBody, status, headers, err := g.do(ctx, url, payload, "")
	if err != nil {
		return nil, err
	}
	if status != http.StatusPaymentRequired {
		return respBody, checkStatus(status, respBody)
	}

	var details paymentDetails
	if err := json.Unmarshal(respBody, &details); err != nil {
		return nil, fmt.Errorf("decode 402 payment details: %w", err)
	}
	amountStr := headers.Get("X-Payment-Amount")
	if amountStr == "" {
		amountStr = details.Amount
	}
	amount, err := decimal.NewFromString(amountStr)
	if err != nil {
		return nil, fmt.Errorf("invalid payment amount %q: %w", amountStr, err)
	}
	description := headers.Get("X-Payment-Description")
	if description == "" {
		description = "paid verifier call"
	}

	externalPaymentID, err := g.Wallet.Pay(ctx, amount, details.GatewayPaymentID, description)
	if err != nil {
		return nil, fmt.Errorf("payment failed: %w", err)
	}

	receiptToken := MintReceiptToken(externalPaymentID, g.Secret)
	if g.Receipts != nil {
		if err := g.Receipts.RecordReceipt(ctx, claim.PaidCallReceipt{
			ID:                uuid.NewString(),
			ClaimID:           claimID,
			VerifierKind:      verifierKind,
			Amount:            amount,
			ExternalPaymentID: externalPaymentID,
			ReceiptToken:      receiptToken,
			CreatedAt:         time.Now(),
		}); err != nil {
			g.Log.WithError(err).WithField("claim_id", claimID).Warn("failed to record paid-call receipt")
		}
	}

	respBody, status, _, err = g.do(ctx, url, payload, receiptToken)
	if err != nil {
		return nil, err
	}
	if status == http.StatusPaymentRequired {
		return nil, ErrPaymentRequired
	}
	return respBody, checkStatus(status, respBody)
}

func (g *Gateway) do(ctx context.Context, url string, payload []byte, receiptToken string) ([]byte, int, http.Header, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return nil, 0, nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if receiptToken != "" {
		req.Header.Set("X-Payment-Receipt", receiptToken)
	}

	resp, err := g.HTTP.Do(req)
	if err != nil {
		return nil, 0, nil, fmt.Errorf("verifier request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, 0, nil, fmt.Errorf("read verifier response: %w", err)
	}
	return body, resp.StatusCode, resp.Header, nil
}

func checkStatus(status int, body []byte) error {
	if status >= 400 {
		return fmt.Errorf("verifier call failed (%d): %s", status, body)
	}
	return nil
}

// MintReceiptToken builds a receipt token: base64(paymentID + "." +
// hex(HMAC-SHA256(paymentID))), per the Open Questions decision.
func MintReceiptToken(paymentID string, secret []byte) string {
	mac := hmac.New(sha256.New, secret)
	mac.Write([]byte(paymentID))
	sig := hex.EncodeToString(mac.Sum(nil))
	raw := paymentID + "." + sig
	return base64.StdEncoding.EncodeToString([]byte(raw))
}

// ValidateReceiptToken decodes and verifies a receipt token minted by
// MintReceiptToken, returning the payment ID on success.
func ValidateReceiptToken(token string, secret []byte) (string, error) {
	raw, err := base64.StdEncoding.DecodeString(token)
	if err != nil {
		return "", fmt.Errorf("invalid receipt token encoding: %w", err)
	}
	parts := strings.SplitN(string(raw), ".", 2)
	if len(parts) != 2 {
		return "", fmt.Errorf("malformed receipt token")
	}
	paymentID, sig := parts[0], parts[1]

	mac := hmac.New(sha256.New, secret)
	mac.Write([]byte(paymentID))
	expected := hex.EncodeToString(mac.Sum(nil))

	if !hmac.Equal([]byte(expected), []byte(sig)) {
		return "", fmt.Errorf("receipt token signature mismatch")
	}
	return paymentID, nil
}
