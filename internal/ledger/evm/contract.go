// Package evm implements the plan ledger against an EVM contract over JSON-RPC.
package evm

import (
	"context"
	"errors"
	"fmt"
	"math"
	"math/big"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"

	"onchain-sip/internal/domain"
	"onchain-sip/internal/ledger"
)

// Contract is a ledger.Ledger bound to one deployed plan contract.
// Writes use eth_sendTransaction, so the node must hold the sender's key.
type Contract struct {
	rpc     *HTTPClient
	address common.Address
	abi     abi.ABI
	waiter  *ReceiptWaiter
}

// NewContract binds the contract at address. A nil waiter polls receipts
// with default settings.
func NewContract(rpc *HTTPClient, address common.Address, waiter *ReceiptWaiter) (*Contract, error) {
	parsed, err := parseABI()
	if err != nil {
		return nil, fmt.Errorf("parse abi: %w", err)
	}
	if waiter == nil {
		waiter = NewReceiptWaiter(rpc, ReceiptWaiterConfig{})
	}
	return &Contract{
		rpc:     rpc,
		address: address,
		abi:     parsed,
		waiter:  waiter,
	}, nil
}

// Address returns the bound contract address.
func (c *Contract) Address() common.Address {
	return c.address
}

// GetPlan reads getPlan(owner, identifier).
func (c *Contract) GetPlan(ctx context.Context, owner common.Address, identifier string) (*domain.PlanRecord, error) {
	data, err := c.abi.Pack("getPlan", owner, identifier)
	if err != nil {
		return nil, fmt.Errorf("pack getPlan: %w", err)
	}

	out, err := c.rpc.Call(ctx, c.address, data)
	if err != nil {
		return nil, classifyReadError(err)
	}
	if len(out) == 0 {
		// No code at the address or an empty revert.
		return nil, fmt.Errorf("%w: empty result", domain.ErrAbsent)
	}

	values, err := c.abi.Unpack("getPlan", out)
	if err != nil {
		return nil, fmt.Errorf("%w: unpack getPlan: %v", domain.ErrAbsent, err)
	}
	if len(values) != 1 {
		return nil, fmt.Errorf("%w: getPlan returned %d values", domain.ErrAbsent, len(values))
	}
	t := *abi.ConvertType(values[0], new(planTuple)).(*planTuple)

	return &domain.PlanRecord{
		Owner:              owner,
		Identifier:         identifier,
		Asset:              t.Token,
		TotalAmount:        t.TotalAmount,
		AmountPerInterval:  t.AmountPerInterval,
		FrequencySeconds:   toUint64(t.Frequency),
		NextExecutionTime:  toInt64(t.NextExecution),
		MaturityTime:       toInt64(t.Maturity),
		DestinationAddress: t.DestAddress,
		ExecutedAmount:     t.ExecutedAmount,
		Active:             t.Active,
	}, nil
}

// CreatePlan submits createPlanWithNative with value = TotalAmount.
func (c *Contract) CreatePlan(ctx context.Context, from common.Address, params domain.CreateParams) (string, error) {
	data, err := c.abi.Pack("createPlanWithNative",
		params.Identifier,
		params.AmountPerInterval,
		new(big.Int).SetUint64(params.FrequencySeconds),
		big.NewInt(params.MaturityTime),
		params.Destination,
	)
	if err != nil {
		return "", fmt.Errorf("pack createPlanWithNative: %w", err)
	}
	return c.send(ctx, from, data, params.TotalAmount)
}

// ExecuteInterval submits executeSIP.
func (c *Contract) ExecuteInterval(ctx context.Context, from common.Address, identifier string) (string, error) {
	data, err := c.abi.Pack("executeSIP", identifier)
	if err != nil {
		return "", fmt.Errorf("pack executeSIP: %w", err)
	}
	return c.send(ctx, from, data, nil)
}

// FinalizePlan submits finalizeSIP.
func (c *Contract) FinalizePlan(ctx context.Context, from common.Address, identifier string) (string, error) {
	data, err := c.abi.Pack("finalizeSIP", identifier)
	if err != nil {
		return "", fmt.Errorf("pack finalizeSIP: %w", err)
	}
	return c.send(ctx, from, data, nil)
}

// WaitForReceipt blocks until the transaction is mined.
func (c *Contract) WaitForReceipt(ctx context.Context, txHash string) (*ledger.Receipt, error) {
	return c.waiter.Wait(ctx, txHash)
}

func (c *Contract) send(ctx context.Context, from common.Address, data []byte, value *big.Int) (string, error) {
	hash, err := c.rpc.SendTransaction(ctx, from, c.address, data, value)
	if err == nil {
		return hash, nil
	}
	// Gas estimation runs the call; a revert there means the contract
	// rejected it before anything was broadcast.
	if isRevert(err) {
		return "", fmt.Errorf("%w: %v", domain.ErrTransactionReverted, err)
	}
	var rpcErr *RPCError
	if errors.As(err, &rpcErr) {
		return "", fmt.Errorf("%w: %v", domain.ErrLedgerUnavailable, err)
	}
	return "", err
}

func classifyReadError(err error) error {
	if isRevert(err) {
		return fmt.Errorf("%w: %v", domain.ErrAbsent, err)
	}
	var rpcErr *RPCError
	if errors.As(err, &rpcErr) {
		return fmt.Errorf("%w: %v", domain.ErrLedgerUnavailable, err)
	}
	return err
}

func toUint64(v *big.Int) uint64 {
	if v == nil || v.Sign() < 0 {
		return 0
	}
	if !v.IsUint64() {
		return math.MaxUint64
	}
	return v.Uint64()
}

func toInt64(v *big.Int) int64 {
	if v == nil || v.Sign() < 0 {
		return 0
	}
	if !v.IsInt64() {
		return math.MaxInt64
	}
	return v.Int64()
}

var _ ledger.Ledger = (*Contract)(nil)
