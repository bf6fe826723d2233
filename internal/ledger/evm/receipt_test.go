package evm

import (
	"context"
	"encoding/json"
	"sync/atomic"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"onchain-sip/internal/domain"
)

func TestReceiptWaiter_FailedStatus(t *testing.T) {
	node := newFakeNode(t)
	node.handle("eth_getTransactionReceipt", func([]json.RawMessage) (interface{}, *RPCError) {
		return map[string]string{
			"transactionHash": common.HexToHash("0x04").Hex(),
			"blockNumber":     "0x1",
			"status":          "0x0",
		}, nil
	})

	w := NewReceiptWaiter(fastClient(node.server.URL), ReceiptWaiterConfig{PollInterval: time.Millisecond})
	r, err := w.Wait(context.Background(), common.HexToHash("0x04").Hex())
	require.NoError(t, err)
	assert.False(t, r.Success)
}

func TestReceiptWaiter_Timeout(t *testing.T) {
	node := newFakeNode(t)
	node.handle("eth_getTransactionReceipt", func([]json.RawMessage) (interface{}, *RPCError) {
		return nil, nil
	})

	w := NewReceiptWaiter(fastClient(node.server.URL), ReceiptWaiterConfig{
		PollInterval: 5 * time.Millisecond,
		Timeout:      30 * time.Millisecond,
	})
	_, err := w.Wait(context.Background(), "0x05")
	assert.ErrorIs(t, err, domain.ErrConfirmationUnknown)
	assert.NotErrorIs(t, err, domain.ErrLedgerUnavailable)
}

func TestReceiptWaiter_NodeErrorLeavesConfirmationUnknown(t *testing.T) {
	node := newFakeNode(t)
	node.handle("eth_getTransactionReceipt", func([]json.RawMessage) (interface{}, *RPCError) {
		return nil, &RPCError{Code: -32000, Message: "header not found"}
	})

	w := NewReceiptWaiter(fastClient(node.server.URL), ReceiptWaiterConfig{PollInterval: time.Millisecond})
	_, err := w.Wait(context.Background(), "0x08")
	assert.ErrorIs(t, err, domain.ErrConfirmationUnknown)
	assert.ErrorIs(t, err, domain.ErrLedgerUnavailable)
}

func TestReceiptWaiter_CallerCancel(t *testing.T) {
	node := newFakeNode(t)
	node.handle("eth_getTransactionReceipt", func([]json.RawMessage) (interface{}, *RPCError) {
		return nil, nil
	})

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	w := NewReceiptWaiter(fastClient(node.server.URL), ReceiptWaiterConfig{PollInterval: 5 * time.Millisecond})
	_, err := w.Wait(ctx, "0x06")
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestReceiptWaiter_HeadWakesPoll(t *testing.T) {
	node := newFakeNode(t)
	var mined atomic.Bool
	node.handle("eth_getTransactionReceipt", func([]json.RawMessage) (interface{}, *RPCError) {
		if !mined.Load() {
			return nil, nil
		}
		return map[string]string{
			"transactionHash": common.HexToHash("0x07").Hex(),
			"blockNumber":     "0x2",
			"status":          "0x1",
		}, nil
	})

	// Poll interval far beyond the test's lifetime; only heads can wake it.
	w := NewReceiptWaiter(fastClient(node.server.URL), ReceiptWaiterConfig{PollInterval: time.Hour})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	heads := make(chan Head)
	go w.Follow(ctx, heads)

	done := make(chan error, 1)
	go func() {
		_, err := w.Wait(ctx, common.HexToHash("0x07").Hex())
		done <- err
	}()

	mined.Store(true)
	ticker := time.NewTicker(5 * time.Millisecond)
	defer ticker.Stop()
	deadline := time.After(2 * time.Second)
	for {
		select {
		case err := <-done:
			require.NoError(t, err)
			return
		case <-ticker.C:
			select {
			case heads <- Head{Number: 2}:
			default:
			}
		case <-deadline:
			t.Fatal("wait was not woken by heads")
		}
	}
}
