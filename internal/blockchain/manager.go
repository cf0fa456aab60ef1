package blockchain

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/atlas-desktop/sol-autotrader/internal/config"
	"go.uber.org/zap"
)

// ErrFailoverExhausted is returned when every endpoint failed for one call.
var ErrFailoverExhausted = errors.New("RPC failover exhausted across all providers")

// HealthStatus is the result of an endpoint health check.
type HealthStatus struct {
	OK       bool   `json:"ok"`
	Endpoint string `json:"endpoint"`
	Slot     uint64 `json:"slot,omitempty"`
	Error    string `json:"error,omitempty"`
}

// ManagerStatus describes the failover state.
type ManagerStatus struct {
	ActiveEndpoint string         `json:"activeEndpoint"`
	FailCounts     map[string]int `json:"failCounts"`
	LastFailoverAt time.Time      `json:"lastFailoverAt"`
}

// RPCManager routes calls to the active endpoint and fails over after repeated failures.
type RPCManager struct {
	logger         *zap.Logger
	clients        []*RPCClient
	threshold      int
	cooldown       time.Duration
	commitment     string
	confirmTimeout time.Duration
	pollInterval   time.Duration
	now            func() time.Time

	mu             sync.Mutex
	active         int
	failCounts     []int
	lastFailoverAt time.Time
}

// NewRPCManager creates a manager over the configured endpoints.
func NewRPCManager(logger *zap.Logger, cfg config.NetworkConfig) (*RPCManager, error) {
	if len(cfg.RPCEndpoints) == 0 {
		return nil, fmt.Errorf("%w: no RPC endpoints", config.ErrInvalidConfig)
	}

	m := &RPCManager{
		logger:         logger.Named("rpc-manager"),
		threshold:      cfg.FailoverFailureThreshold,
		cooldown:       time.Duration(cfg.FailoverCooldownMs) * time.Millisecond,
		commitment:     cfg.ConfirmCommitment,
		confirmTimeout: time.Duration(cfg.ConfirmTimeoutMs) * time.Millisecond,
		pollInterval:   500 * time.Millisecond,
		now:            time.Now,
		failCounts:     make([]int, len(cfg.RPCEndpoints)),
	}
	if m.threshold < 1 {
		m.threshold = 1
	}
	for _, endpoint := range cfg.RPCEndpoints {
		m.clients = append(m.clients, NewRPCClient(logger, endpoint, cfg.RequestTimeout()))
	}
	return m, nil
}

// SetClock replaces the time source used for failover cooldowns.
func (m *RPCManager) SetClock(now func() time.Time) {
	m.now = now
}

// SetPollInterval sets how often confirmations are polled.
func (m *RPCManager) SetPollInterval(d time.Duration) {
	m.pollInterval = d
}

// Active returns the currently active client.
func (m *RPCManager) Active() *RPCClient {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.clients[m.active]
}

func (m *RPCManager) markSuccess(idx int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failCounts[idx] = 0
}

// markFailure counts a failure and fails over once the threshold is hit outside the cooldown.
func (m *RPCManager) markFailure(idx int, cause error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.failCounts[idx]++
	now := m.now()
	if m.failCounts[idx] < m.threshold || now.Sub(m.lastFailoverAt) < m.cooldown {
		return
	}
	if len(m.clients) < 2 || idx != m.active {
		return
	}

	next := (m.active + 1) % len(m.clients)
	m.logger.Warn("RPC failover",
		zap.String("from", m.clients[m.active].Endpoint()),
		zap.String("to", m.clients[next].Endpoint()),
		zap.Int("failures", m.failCounts[idx]),
		zap.Error(cause),
	)
	m.active = next
	m.lastFailoverAt = now
}

// WithConnection runs fn against the active endpoint. On failure it moves on only if
// the failure triggered a failover, and it never retries an endpoint within one call.
func (m *RPCManager) WithConnection(ctx context.Context, fn func(*RPCClient) error) error {
	tried := make(map[int]bool, len(m.clients))
	var lastErr error

	for i := 0; i < len(m.clients); i++ {
		if err := ctx.Err(); err != nil {
			return err
		}

		m.mu.Lock()
		idx := m.active
		client := m.clients[idx]
		m.mu.Unlock()

		if tried[idx] {
			break
		}
		tried[idx] = true

		err := fn(client)
		if err == nil {
			m.markSuccess(idx)
			return nil
		}
		lastErr = err
		m.markFailure(idx, err)
	}

	return fmt.Errorf("%w: %v", ErrFailoverExhausted, lastErr)
}

// HealthCheck calls getSlot on the active endpoint.
func (m *RPCManager) HealthCheck(ctx context.Context) HealthStatus {
	client := m.Active()
	slot, err := client.GetSlot(ctx)
	if err != nil {
		return HealthStatus{OK: false, Endpoint: client.Endpoint(), Error: err.Error()}
	}
	return HealthStatus{OK: true, Endpoint: client.Endpoint(), Slot: slot}
}

// Status returns the failover state.
func (m *RPCManager) Status() ManagerStatus {
	m.mu.Lock()
	defer m.mu.Unlock()

	counts := make(map[string]int, len(m.clients))
	for i, c := range m.clients {
		counts[c.Endpoint()] = m.failCounts[i]
	}
	return ManagerStatus{
		ActiveEndpoint: m.clients[m.active].Endpoint(),
		FailCounts:     counts,
		LastFailoverAt: m.lastFailoverAt,
	}
}

// SubmitAndConfirm sends a signed transaction and waits for the configured commitment.
func (m *RPCManager) SubmitAndConfirm(ctx context.Context, signedBase64 string) (string, error) {
	var signature string
	err := m.WithConnection(ctx, func(c *RPCClient) error {
		sig, err := c.SendTransaction(ctx, signedBase64)
		if err != nil {
			return fmt.Errorf("send transaction: %w", err)
		}

		confirmCtx := ctx
		if m.confirmTimeout > 0 {
			var cancel context.CancelFunc
			confirmCtx, cancel = context.WithTimeout(ctx, m.confirmTimeout)
			defer cancel()
		}
		if err := c.ConfirmTransaction(confirmCtx, sig, m.commitment, m.pollInterval); err != nil {
			return err
		}
		signature = sig
		return nil
	})
	if err != nil {
		return "", err
	}
	return signature, nil
}

// MintAccount loads a mint through the failover path.
func (m *RPCManager) MintAccount(ctx context.Context, mint string) (*MintAccount, error) {
	var account *MintAccount
	err := m.WithConnection(ctx, func(c *RPCClient) error {
		acct, err := c.GetMintAccount(ctx, mint)
		if err != nil {
			return err
		}
		account = acct
		return nil
	})
	return account, err
}
