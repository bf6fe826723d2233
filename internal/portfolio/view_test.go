package portfolio

import (
	"context"
	"errors"
	"math/big"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"onchain-sip/internal/cache"
	"onchain-sip/internal/domain"
)

var (
	owner    = common.HexToAddress("0xABCD000000000000000000000000000000001234")
	contract = common.HexToAddress("0xd8540A08f770BAA3b66C4d43728CDBDd1d7A9c3b")
	now      = time.Unix(1_700_000_000, 0)
)

func plan(id string, total, executed string, active bool) *domain.PlanRecord {
	return &domain.PlanRecord{
		Owner:              owner,
		Identifier:         id,
		TotalAmount:        domain.MustParseNative(total),
		AmountPerInterval:  domain.MustParseNative("0.05"),
		FrequencySeconds:   604800,
		NextExecutionTime:  now.Unix() + 604800,
		MaturityTime:       now.Unix() + 26*604800,
		DestinationAddress: common.HexToAddress("0x0000000000000000000000000000000000000001"),
		ExecutedAmount:     domain.MustParseNative(executed),
		Active:             active,
	}
}

func TestExplorer_Link(t *testing.T) {
	e := NewExplorer("")
	assert.Equal(t, "https://testnet.bscscan.com/tx/0xabc", e.Link(LinkTx, "0xabc"))
	assert.Equal(t, "https://testnet.bscscan.com/address/0xdef", e.Link(LinkAddress, "0xdef"))
	assert.Equal(t, "https://testnet.bscscan.com/token/0x123", e.Link(LinkToken, "0x123"))
	assert.Equal(t, "https://testnet.bscscan.com", e.Link(LinkKind("block"), "1"))

	custom := NewExplorer("https://etherscan.io/")
	assert.Equal(t, "https://etherscan.io/tx/0xabc", custom.Link(LinkTx, "0xabc"))
}

func TestNewView(t *testing.T) {
	p := plan("default", "1.0", "0.05", true)

	v := NewView(p, now, "0xtx", contract, NewExplorer(""))
	require.NotNil(t, v)

	assert.Equal(t, "default", v.Identifier)
	assert.Equal(t, "1", v.TotalAmount)
	assert.Equal(t, "0.05", v.AmountPerInterval)
	assert.Equal(t, "0.05", v.ExecutedAmount)
	assert.Equal(t, "0.95", v.RemainingAmount)
	assert.Equal(t, uint64(7), v.FrequencyDays)
	assert.Equal(t, "5.00", v.ProgressPercent)
	assert.True(t, v.IsNative)
	assert.False(t, v.CanExecute)
	assert.False(t, v.CanFinalize)
	assert.Equal(t, time.Unix(now.Unix()+604800, 0).UTC(), v.NextExecution)
	assert.Equal(t, "https://testnet.bscscan.com/address/"+contract.Hex(), v.ContractLink)
	assert.Equal(t, "https://testnet.bscscan.com/tx/0xtx", v.CreationTxLink)

	due := NewView(p, now.Add(26*7*24*time.Hour), "", contract, NewExplorer(""))
	require.NotNil(t, due)
	assert.True(t, due.CanExecute)
	assert.True(t, due.CanFinalize)
	assert.Empty(t, due.CreationTxLink)
}

func TestNewView_InactiveOrNil(t *testing.T) {
	assert.Nil(t, NewView(nil, now, "", contract, NewExplorer("")))
	assert.Nil(t, NewView(plan("done", "1.0", "1.0", false), now, "", contract, NewExplorer("")))
}

func TestNewView_ZeroTotal(t *testing.T) {
	p := plan("empty", "0", "0", true)
	p.TotalAmount = new(big.Int)

	v := NewView(p, now, "", contract, NewExplorer(""))
	require.NotNil(t, v)
	assert.Equal(t, "0.00", v.ProgressPercent)
}

type txMap map[string]string

func (m txMap) LookupTx(_ context.Context, _ common.Address, id string) (cache.TxRecord, bool, error) {
	if id == "broken" {
		return cache.TxRecord{}, false, errors.New("store down")
	}
	hash, ok := m[id]
	return cache.TxRecord{TxHash: hash}, ok, nil
}

func TestPresenter_Views(t *testing.T) {
	p := &Presenter{
		Txs:      txMap{"a": "0xaaa"},
		Contract: contract,
		Explorer: NewExplorer(""),
		Now:      func() time.Time { return now },
	}

	views := p.Views(context.Background(), owner, []*domain.PlanRecord{
		plan("a", "1.0", "0", true),
		plan("b", "1.0", "1.0", false),
		plan("broken", "2.0", "0", true),
	})

	require.Len(t, views, 2)
	assert.Equal(t, "a", views[0].Identifier)
	assert.Equal(t, "https://testnet.bscscan.com/tx/0xaaa", views[0].CreationTxLink)
	assert.Equal(t, "broken", views[1].Identifier)
	assert.Empty(t, views[1].CreationTxLink)
}

func TestSummarize(t *testing.T) {
	s := Summarize([]*domain.PlanRecord{
		plan("a", "1.0", "0.05", true),
		plan("b", "0.33333", "0.1", true),
		plan("done", "5.0", "5.0", false),
		nil,
	})

	assert.Equal(t, 2, s.ActivePlans)
	assert.Equal(t, "1.3333", s.TotalInvested)
	assert.Equal(t, "0.1500", s.TotalExecuted)
}

func TestSummarize_Empty(t *testing.T) {
	s := Summarize(nil)
	assert.Equal(t, 0, s.ActivePlans)
	assert.Equal(t, "0.0000", s.TotalInvested)
	assert.Equal(t, "0.0000", s.TotalExecuted)
}
