package evm

import (
	"context"
	"encoding/json"
	"math/big"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"onchain-sip/internal/domain"
)

func fastClient(url string) *HTTPClient {
	return NewHTTPClient(url,
		WithRetryDelay(time.Millisecond),
		WithMaxDelay(5*time.Millisecond),
	)
}

func TestHTTPClient_BlockNumber(t *testing.T) {
	node := newFakeNode(t)
	node.handle("eth_blockNumber", func([]json.RawMessage) (interface{}, *RPCError) {
		return "0x1b4", nil
	})

	n, err := fastClient(node.server.URL).BlockNumber(context.Background())
	require.NoError(t, err)
	assert.Equal(t, uint64(436), n)
}

func TestHTTPClient_SendTransactionArgs(t *testing.T) {
	node := newFakeNode(t)
	var got map[string]string
	node.handle("eth_sendTransaction", func(params []json.RawMessage) (interface{}, *RPCError) {
		if len(params) != 1 {
			t.Errorf("expected 1 param, got %d", len(params))
			return nil, &RPCError{Code: -32602, Message: "invalid params"}
		}
		if err := json.Unmarshal(params[0], &got); err != nil {
			t.Errorf("unmarshal params: %v", err)
		}
		return common.HexToHash("0xab").Hex(), nil
	})

	from := common.HexToAddress("0x0000000000000000000000000000000000000001")
	to := common.HexToAddress("0x0000000000000000000000000000000000000002")

	hash, err := fastClient(node.server.URL).SendTransaction(context.Background(), from, to, []byte{0xde, 0xad}, big.NewInt(255))
	require.NoError(t, err)
	assert.Equal(t, common.HexToHash("0xab").Hex(), hash)

	assert.Equal(t, from.Hex(), common.HexToAddress(got["from"]).Hex())
	assert.Equal(t, to.Hex(), common.HexToAddress(got["to"]).Hex())
	assert.Equal(t, "0xdead", got["data"])
	assert.Equal(t, "0xff", got["value"])
}

func TestHTTPClient_ReceiptPending(t *testing.T) {
	node := newFakeNode(t)
	node.handle("eth_getTransactionReceipt", func([]json.RawMessage) (interface{}, *RPCError) {
		return nil, nil
	})

	r, err := fastClient(node.server.URL).GetTransactionReceipt(context.Background(), "0x01")
	require.NoError(t, err)
	assert.Nil(t, r)
}

func TestHTTPClient_RetryOn429(t *testing.T) {
	var attempts atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if attempts.Add(1) < 3 {
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]interface{}{"jsonrpc": "2.0", "id": 1, "result": "0x10"})
	}))
	defer server.Close()

	n, err := fastClient(server.URL).BlockNumber(context.Background())
	require.NoError(t, err)
	assert.Equal(t, uint64(16), n)
	assert.Equal(t, int32(3), attempts.Load())
}

func TestHTTPClient_MaxRetriesIsLedgerUnavailable(t *testing.T) {
	var attempts atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		attempts.Add(1)
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer server.Close()

	client := NewHTTPClient(server.URL, WithMaxRetries(2), WithRetryDelay(time.Millisecond))
	_, err := client.BlockNumber(context.Background())
	assert.ErrorIs(t, err, domain.ErrLedgerUnavailable)
	assert.Equal(t, int32(3), attempts.Load())
}

func TestHTTPClient_RPCErrorNotRetried(t *testing.T) {
	node := newFakeNode(t)
	node.handle("eth_call", func([]json.RawMessage) (interface{}, *RPCError) {
		return nil, &RPCError{Code: 3, Message: "execution reverted"}
	})

	_, err := fastClient(node.server.URL).Call(context.Background(), common.Address{}, nil)
	require.Error(t, err)
	assert.True(t, isRevert(err))
	assert.Equal(t, 1, node.callCount("eth_call"))
}

func TestHTTPClient_ContextCancellation(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer server.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := NewHTTPClient(server.URL).BlockNumber(ctx)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestRPCError_IsRevert(t *testing.T) {
	assert.True(t, (&RPCError{Code: 3, Message: "x"}).IsRevert())
	assert.True(t, (&RPCError{Code: -32000, Message: "VM Exception: Revert"}).IsRevert())
	assert.False(t, (&RPCError{Code: -32000, Message: "header not found"}).IsRevert())
}
