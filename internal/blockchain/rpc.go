// Package blockchain provides Solana JSON-RPC access with endpoint failover.
package blockchain

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
)

// Token program owners.
const (
	TokenProgramID     = "TokenkegQfeZyiNwAJbNbGKPFXCWuBvf9Ss623VQ5DA"
	Token2022ProgramID = "TokenzQdBNbLqP5VEhdkAS6EPFLC1PHnBqCXEpPxuEb"
)

// ErrTransactionFailed is returned when a confirmed transaction carries an error.
var ErrTransactionFailed = errors.New("transaction failed on chain")

// RPCError is a JSON-RPC error object.
type RPCError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func (e *RPCError) Error() string {
	return fmt.Sprintf("RPC error %d: %s", e.Code, e.Message)
}

type rpcRequest struct {
	JSONRPC string        `json:"jsonrpc"`
	ID      uint64        `json:"id"`
	Method  string        `json:"method"`
	Params  []interface{} `json:"params,omitempty"`
}

type rpcResponse struct {
	Result json.RawMessage `json:"result"`
	Error  *RPCError       `json:"error"`
}

// RPCClient talks JSON-RPC 2.0 to one Solana endpoint.
type RPCClient struct {
	logger     *zap.Logger
	endpoint   string
	httpClient *http.Client
	nextID     atomic.Uint64
}

// NewRPCClient creates a client for endpoint.
func NewRPCClient(logger *zap.Logger, endpoint string, timeout time.Duration) *RPCClient {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &RPCClient{
		logger:     logger.Named("rpc"),
		endpoint:   endpoint,
		httpClient: &http.Client{Timeout: timeout},
	}
}

// Endpoint returns the endpoint URL.
func (c *RPCClient) Endpoint() string {
	return c.endpoint
}

// Call invokes method and decodes the result into result when non-nil.
func (c *RPCClient) Call(ctx context.Context, method string, params []interface{}, result interface{}) error {
	payload, err := json.Marshal(rpcRequest{
		JSONRPC: "2.0",
		ID:      c.nextID.Add(1),
		Method:  method,
		Params:  params,
	})
	if err != nil {
		return fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("%s: http status %d", method, resp.StatusCode)
	}

	var decoded rpcResponse
	if err := json.Unmarshal(body, &decoded); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	if decoded.Error != nil {
		return decoded.Error
	}
	if result == nil || len(decoded.Result) == 0 {
		return nil
	}
	if err := json.Unmarshal(decoded.Result, result); err != nil {
		return fmt.Errorf("failed to decode %s result: %w", method, err)
	}
	return nil
}

// GetSlot returns the current slot.
func (c *RPCClient) GetSlot(ctx context.Context) (uint64, error) {
	var slot uint64
	if err := c.Call(ctx, "getSlot", nil, &slot); err != nil {
		return 0, err
	}
	return slot, nil
}

// MintAccount is the parsed state of an SPL mint.
type MintAccount struct {
	Exists          bool    `json:"exists"`
	Owner           string  `json:"owner"`
	Token2022       bool    `json:"token2022"`
	Decimals        int     `json:"decimals"`
	Supply          string  `json:"supply"`
	MintAuthority   *string `json:"mintAuthority"`
	FreezeAuthority *string `json:"freezeAuthority"`
}

type accountInfoResult struct {
	Value *struct {
		Owner string `json:"owner"`
		Data  struct {
			Parsed struct {
				Info struct {
					Decimals        int     `json:"decimals"`
					Supply          string  `json:"supply"`
					MintAuthority   *string `json:"mintAuthority"`
					FreezeAuthority *string `json:"freezeAuthority"`
				} `json:"info"`
			} `json:"parsed"`
		} `json:"data"`
	} `json:"value"`
}

// GetMintAccount loads a mint with jsonParsed encoding. A missing account has Exists false.
func (c *RPCClient) GetMintAccount(ctx context.Context, mint string) (*MintAccount, error) {
	var res accountInfoResult
	params := []interface{}{mint, map[string]interface{}{"encoding": "jsonParsed"}}
	if err := c.Call(ctx, "getAccountInfo", params, &res); err != nil {
		return nil, err
	}
	if res.Value == nil {
		return &MintAccount{}, nil
	}

	info := res.Value.Data.Parsed.Info
	return &MintAccount{
		Exists:          true,
		Owner:           res.Value.Owner,
		Token2022:       res.Value.Owner == Token2022ProgramID,
		Decimals:        info.Decimals,
		Supply:          info.Supply,
		MintAuthority:   info.MintAuthority,
		FreezeAuthority: info.FreezeAuthority,
	}, nil
}

// SendTransaction submits a signed base64 transaction and returns its signature.
func (c *RPCClient) SendTransaction(ctx context.Context, signedBase64 string) (string, error) {
	var sig string
	params := []interface{}{signedBase64, map[string]interface{}{
		"encoding":      "base64",
		"skipPreflight": false,
		"maxRetries":    2,
	}}
	if err := c.Call(ctx, "sendTransaction", params, &sig); err != nil {
		return "", err
	}
	return sig, nil
}

// SignatureStatus is one entry of getSignatureStatuses.
type SignatureStatus struct {
	Slot               uint64          `json:"slot"`
	Confirmations      *uint64         `json:"confirmations"`
	Err                json.RawMessage `json:"err"`
	ConfirmationStatus string          `json:"confirmationStatus"`
}

// Failed reports whether the transaction landed with an error.
func (s *SignatureStatus) Failed() bool {
	return len(s.Err) > 0 && string(s.Err) != "null"
}

// GetSignatureStatuses returns one status per signature. Unknown signatures are nil.
func (c *RPCClient) GetSignatureStatuses(ctx context.Context, signatures []string) ([]*SignatureStatus, error) {
	var res struct {
		Value []*SignatureStatus `json:"value"`
	}
	params := []interface{}{signatures, map[string]interface{}{"searchTransactionHistory": false}}
	if err := c.Call(ctx, "getSignatureStatuses", params, &res); err != nil {
		return nil, err
	}
	return res.Value, nil
}

var commitmentRank = map[string]int{
	"processed": 1,
	"confirmed": 2,
	"finalized": 3,
}

// ConfirmTransaction polls until signature reaches commitment, fails on chain, or ctx ends.
func (c *RPCClient) ConfirmTransaction(ctx context.Context, signature, commitment string, poll time.Duration) error {
	want, ok := commitmentRank[commitment]
	if !ok {
		want = commitmentRank["confirmed"]
	}
	if poll <= 0 {
		poll = 500 * time.Millisecond
	}

	ticker := time.NewTicker(poll)
	defer ticker.Stop()

	for {
		statuses, err := c.GetSignatureStatuses(ctx, []string{signature})
		if err != nil {
			return err
		}
		if len(statuses) > 0 && statuses[0] != nil {
			st := statuses[0]
			if st.Failed() {
				return fmt.Errorf("%w: %s", ErrTransactionFailed, string(st.Err))
			}
			if commitmentRank[st.ConfirmationStatus] >= want {
				return nil
			}
		}

		select {
		case <-ctx.Done():
			return fmt.Errorf("confirm %s: %w", signature, ctx.Err())
		case <-ticker.C:
		}
	}
}
