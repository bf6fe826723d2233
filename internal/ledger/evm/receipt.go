package evm

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"onchain-sip/internal/domain"
	"onchain-sip/internal/ledger"
)

// Receipt wait defaults.
const (
	DefaultReceiptPoll    = 2 * time.Second
	DefaultReceiptTimeout = 2 * time.Minute
)

// ReceiptWaiterConfig configures ReceiptWaiter.
type ReceiptWaiterConfig struct {
	PollInterval time.Duration
	Timeout      time.Duration
}

// ReceiptWaiter polls for transaction receipts. When Follow is running, every
// new head triggers an immediate poll as well.
type ReceiptWaiter struct {
	rpc     *HTTPClient
	poll    time.Duration
	timeout time.Duration

	mu   sync.Mutex
	head chan struct{} // closed and replaced on every head
}

// NewReceiptWaiter creates a waiter.
func NewReceiptWaiter(rpc *HTTPClient, cfg ReceiptWaiterConfig) *ReceiptWaiter {
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = DefaultReceiptPoll
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultReceiptTimeout
	}
	return &ReceiptWaiter{
		rpc:     rpc,
		poll:    cfg.PollInterval,
		timeout: cfg.Timeout,
		head:    make(chan struct{}),
	}
}

// Follow wakes pending waits on every head until ctx is done or heads closes.
func (w *ReceiptWaiter) Follow(ctx context.Context, heads <-chan Head) {
	for {
		select {
		case <-ctx.Done():
			return
		case _, ok := <-heads:
			if !ok {
				return
			}
			w.mu.Lock()
			close(w.head)
			w.head = make(chan struct{})
			w.mu.Unlock()
		}
	}
}

func (w *ReceiptWaiter) nextHead() <-chan struct{} {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.head
}

// Wait blocks until txHash is mined or the wait times out. Transport errors
// while polling are retried until the timeout. Once the wait gives up the
// transaction's fate is unknown, so every such failure wraps
// domain.ErrConfirmationUnknown.
func (w *ReceiptWaiter) Wait(ctx context.Context, txHash string) (*ledger.Receipt, error) {
	waitCtx, cancel := context.WithTimeout(ctx, w.timeout)
	defer cancel()

	ticker := time.NewTicker(w.poll)
	defer ticker.Stop()

	var lastErr error
	for {
		r, err := w.rpc.GetTransactionReceipt(waitCtx, txHash)
		switch {
		case err == nil && r != nil:
			return &ledger.Receipt{
				TxHash:      r.TransactionHash.Hex(),
				BlockNumber: uint64(r.BlockNumber),
				Success:     r.Status == 1,
			}, nil
		case err != nil:
			var rpcErr *RPCError
			if errors.As(err, &rpcErr) {
				return nil, fmt.Errorf("%w: receipt for %s: %w: %v", domain.ErrConfirmationUnknown, txHash, domain.ErrLedgerUnavailable, err)
			}
			lastErr = err
		}

		select {
		case <-waitCtx.Done():
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			if lastErr != nil {
				return nil, fmt.Errorf("%w: receipt for %s: %w", domain.ErrConfirmationUnknown, txHash, lastErr)
			}
			return nil, fmt.Errorf("%w: receipt for %s not found after %s", domain.ErrConfirmationUnknown, txHash, w.timeout)
		case <-ticker.C:
		case <-w.nextHead():
		}
	}
}
