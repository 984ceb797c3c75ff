// Package chain implements a minimal JSON-RPC 2.0 client against an EVM
// chain for the settlement driver (C8): ERC-20 approve and the
// ClaimEscrow contract's depositEscrow/approveClaim/getEscrowBalance/
// isSettled calls. No go-ethereum dependency is available, so calldata
// is hand-encoded: 4-byte function selectors via Keccak-256 (the same
// technique abigen-generated bindings use under the hood) and 32-byte
// left-padded arguments.
package chain

import (
	"bytes"
	"context"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"math/big"
	"net/http"
	"strings"
	"time"

	"golang.org/x/crypto/sha3"
)

// Client speaks JSON-RPC 2.0 over net/http to a single EVM endpoint.
type Client struct {
	RPCURL string
	HTTP   *http.Client
	ChainID int64
}

func NewClient(rpcURL string, chainID int64) *Client {
	return &Client{RPCURL: rpcURL, HTTP: &http.Client{Timeout: 30 * time.Second}, ChainID: chainID}
}

type rpcRequest struct {
	JSONRPC string `json:"jsonrpc"`
	ID      int    `json:"id"`
	Method  string `json:"method"`
	Params  []any  `json:"params"`
}

type rpcResponse struct {
	Result json.RawMessage `json:"result"`
	Error  *struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

// call performs one JSON-RPC request and returns the raw result field.
func (c *Client) call(ctx context.Context, method string, params ...any) (json.RawMessage, error) {
	body, err := json.Marshal(rpcRequest{JSONRPC: "2.0", ID: 1, Method: method, Params: params})
	if err != nil {
		return nil, fmt.Errorf("encode rpc request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.RPCURL, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build rpc request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.HTTP.Do(req)
	if err != nil {
		return nil, fmt.Errorf("rpc transport error: %w", err)
	}
	defer resp.Body.Close()

	var parsed rpcResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return nil, fmt.Errorf("decode rpc response: %w", err)
	}
	if parsed.Error != nil {
		return nil, fmt.Errorf("rpc error %d: %s", parsed.Error.Code, parsed.Error.Message)
	}
	return parsed.Result, nil
}

// Selector returns the 4-byte function selector for a Solidity signature
// like "approve(address,uint256)".
func Selector(signature string) [4]byte {
	h := sha3.NewLegacyKeccak256()
	h.Write([]byte(signature))
	sum := h.Sum(nil)
	var out [4]byte
	copy(out[:], sum[:4])
	return out
}

// encodeUint256 left-pads v to 32 bytes, the ABI word size.
func encodeUint256(v *big.Int) []byte {
	word := make([]byte, 32)
	b := v.Bytes()
	copy(word[32-len(b):], b)
	return word
}

// encodeAddress left-pads a 20-byte hex address (with or without 0x) to a
// 32-byte ABI word.
func encodeAddress(addr string) ([]byte, error) {
	addr = strings.TrimPrefix(addr, "0x")
	raw, err := hex.DecodeString(addr)
	if err != nil || len(raw) != 20 {
		return nil, fmt.Errorf("invalid address %q", addr)
	}
	word := make([]byte, 32)
	copy(word[12:], raw)
	return word, nil
}

// encodeCall builds calldata: selector followed by ABI-encoded arguments.
func encodeCall(signature string, args ...[]byte) string {
	sel := Selector(signature)
	data := append([]byte{}, sel[:]...)
	for _, a := range args {
		data = append(data, a...)
	}
	return "0x" + hex.EncodeToString(data)
}

// ERC20Approve sends approve(spender, amount) on the token contract via
// eth_sendTransaction, relying on the RPC endpoint's node-side key
// custody (the same assumption the contract-owned insurer wallet makes
// on a permissioned settlement chain). Returns the transaction hash.
func (c *Client) ERC20Approve(ctx context.Context, tokenAddress, from, spender string, amount *big.Int) (string, error) {
	spenderWord, err := encodeAddress(spender)
	if err != nil {
		return "", err
	}
	data := encodeCall("approve(address,uint256)", spenderWord, encodeUint256(amount))
	return c.sendTransaction(ctx, from, tokenAddress, data)
}

// DepositEscrow calls ClaimEscrow.depositEscrow(claimId, amount).
func (c *Client) DepositEscrow(ctx context.Context, escrowAddress, from string, claimID, amount *big.Int) (string, error) {
	data := encodeCall("depositEscrow(uint256,uint256)", encodeUint256(claimID), encodeUint256(amount))
	return c.sendTransaction(ctx, from, escrowAddress, data)
}

// ApproveClaim calls ClaimEscrow.approveClaim(claimId, amount, recipient).
func (c *Client) ApproveClaim(ctx context.Context, escrowAddress, from string, claimID, amount *big.Int, recipient string) (string, error) {
	recipientWord, err := encodeAddress(recipient)
	if err != nil {
		return "", err
	}
	data := encodeCall("approveClaim(uint256,uint256,address)", encodeUint256(claimID), encodeUint256(amount), recipientWord)
	return c.sendTransaction(ctx, from, escrowAddress, data)
}

// GetEscrowBalance calls the view function ClaimEscrow.getEscrowBalance(claimId).
func (c *Client) GetEscrowBalance(ctx context.Context, escrowAddress string, claimID *big.Int) (*big.Int, error) {
	data := encodeCall("getEscrowBalance(uint256)", encodeUint256(claimID))
	raw, err := c.ethCall(ctx, escrowAddress, data)
	if err != nil {
		return nil, err
	}
	return new(big.Int).SetBytes(raw), nil
}

// IsSettled calls the view function ClaimEscrow.isSettled(claimId).
func (c *Client) IsSettled(ctx context.Context, escrowAddress string, claimID *big.Int) (bool, error) {
	data := encodeCall("isSettled(uint256)", encodeUint256(claimID))
	raw, err := c.ethCall(ctx, escrowAddress, data)
	if err != nil {
		return false, err
	}
	for _, b := range raw {
		if b != 0 {
			return true, nil
		}
	}
	return false, nil
}

func (c *Client) ethCall(ctx context.Context, to, data string) ([]byte, error) {
	result, err := c.call(ctx, "eth_call", map[string]any{"to": to, "data": data}, "latest")
	if err != nil {
		return nil, err
	}
	var hexStr string
	if err := json.Unmarshal(result, &hexStr); err != nil {
		return nil, fmt.Errorf("decode eth_call result: %w", err)
	}
	return hex.DecodeString(strings.TrimPrefix(hexStr, "0x"))
}

func (c *Client) sendTransaction(ctx context.Context, from, to, data string) (string, error) {
	result, err := c.call(ctx, "eth_sendTransaction", map[string]any{"from": from, "to": to, "data": data})
	if err != nil {
		return "", err
	}
	var txHash string
	if err := json.Unmarshal(result, &txHash); err != nil {
		return "", fmt.Errorf("decode send transaction result: %w", err)
	}
	return txHash, nil
}

// WaitForReceipt polls eth_getTransactionReceipt until the receipt is
// non-null or ctx is done, mirroring web3.py's wait_for_transaction_receipt.
func (c *Client) WaitForReceipt(ctx context.Context, txHash string, pollInterval time.Duration) (gasUsed uint64, effectiveGasPriceWei *big.Int, err error) {
	if pollInterval <= 0 {
		pollInterval = 500 * time.Millisecond
	}
	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()

	for {
		result, err := c.call(ctx, "eth_getTransactionReceipt", txHash)
		if err != nil {
			return 0, nil, err
		}
		if string(result) != "null" && len(result) > 0 {
			var receipt struct {
				GasUsed           string `json:"gasUsed"`
				EffectiveGasPrice string `json:"effectiveGasPrice"`
			}
			if err := json.Unmarshal(result, &receipt); err != nil {
				return 0, nil, fmt.Errorf("decode transaction receipt: %w", err)
			}
			gasUsed, err := parseHexUint64(receipt.GasUsed)
			if err != nil {
				return 0, nil, err
			}
			gasPrice, ok := new(big.Int).SetString(strings.TrimPrefix(receipt.EffectiveGasPrice, "0x"), 16)
			if !ok {
				return 0, nil, fmt.Errorf("invalid effectiveGasPrice %q", receipt.EffectiveGasPrice)
			}
			return gasUsed, gasPrice, nil
		}

		select {
		case <-ctx.Done():
			return 0, nil, ctx.Err()
		case <-ticker.C:
		}
	}
}

func parseHexUint64(s string) (uint64, error) {
	s = strings.TrimPrefix(s, "0x")
	v, ok := new(big.Int).SetString(s, 16)
	if !ok {
		return 0, fmt.Errorf("invalid hex uint %q", s)
	}
	return v.Uint64(), nil
}

// ClaimIDToUint256 converts a claim UUID string to the contract's
// uint256 claim identifier: the first 8 bytes (16 hex chars) of the
// UUID with hyphens removed, matching original_source's
// claim_id_to_uint256.
func ClaimIDToUint256(claimID string) (*big.Int, error) {
	hexStr := strings.ReplaceAll(claimID, "-", "")
	if len(hexStr) < 16 {
		return nil, fmt.Errorf("claim id %q too short to derive a contract id", claimID)
	}
	v, ok := new(big.Int).SetString(hexStr[:16], 16)
	if !ok {
		return nil, fmt.Errorf("claim id %q is not valid hex", claimID)
	}
	return v, nil
}
