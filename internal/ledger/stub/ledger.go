// Package stub provides an in-memory plan contract for tests and offline runs.
package stub

import (
	"context"
	"fmt"
	"math/big"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"onchain-sip/internal/domain"
	"onchain-sip/internal/ledger"
)

// Ledger implements ledger.Ledger in memory. Contract-side rules are enforced
// the way the deployed contract does: a rejected call still produces a
// transaction hash whose receipt has Success == false.
type Ledger struct {
	mu       sync.Mutex
	now      func() time.Time
	plans    map[common.Address]map[string]*domain.PlanRecord
	receipts map[string]*ledger.Receipt
	faults   map[string]error
	seq      uint64
	reads    int
	writes   int

	// OnRead, when set, is called before every GetPlan with the identifier.
	OnRead func(identifier string)

	// ReceiptGate, when set, blocks WaitForReceipt until closed.
	ReceiptGate chan struct{}

	// ReceiptFault, when set, is returned by WaitForReceipt. The write it
	// follows has already been applied.
	ReceiptFault error
}

// New creates an empty ledger. A nil clock defaults to time.Now.
func New(now func() time.Time) *Ledger {
	if now == nil {
		now = time.Now
	}
	return &Ledger{
		now:      now,
		plans:    make(map[common.Address]map[string]*domain.PlanRecord),
		receipts: make(map[string]*ledger.Receipt),
		faults:   make(map[string]error),
	}
}

// SetClock replaces the ledger clock.
func (l *Ledger) SetClock(now func() time.Time) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.now = now
}

// AddPlan stores a copy of p under (p.Owner, p.Identifier).
func (l *Ledger) AddPlan(p *domain.PlanRecord) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.put(p.Clone())
}

// SetReadFault makes every GetPlan for identifier fail with err.
// A nil err clears the fault.
func (l *Ledger) SetReadFault(identifier string, err error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if err == nil {
		delete(l.faults, identifier)
		return
	}
	l.faults[identifier] = err
}

// Reads returns the number of GetPlan calls.
func (l *Ledger) Reads() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.reads
}

// Writes returns the number of submitted transactions.
func (l *Ledger) Writes() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.writes
}

// GetPlan returns a copy of the stored record.
func (l *Ledger) GetPlan(_ context.Context, owner common.Address, identifier string) (*domain.PlanRecord, error) {
	if l.OnRead != nil {
		l.OnRead(identifier)
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	l.reads++

	if err, ok := l.faults[identifier]; ok {
		return nil, err
	}
	p := l.get(owner, identifier)
	if p == nil {
		return nil, fmt.Errorf("%w: execution reverted", domain.ErrAbsent)
	}
	return p.Clone(), nil
}

// CreatePlan stores a new native plan. Reverts if anything was ever stored
// under the identifier.
func (l *Ledger) CreatePlan(_ context.Context, from common.Address, params domain.CreateParams) (string, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.get(from, params.Identifier) != nil {
		return l.submit(false), nil
	}

	now := l.now().Unix()
	l.put(&domain.PlanRecord{
		Owner:              from,
		Identifier:         params.Identifier,
		Asset:              domain.NativeAsset,
		TotalAmount:        new(big.Int).Set(params.TotalAmount),
		AmountPerInterval:  new(big.Int).Set(params.AmountPerInterval),
		FrequencySeconds:   params.FrequencySeconds,
		NextExecutionTime:  now + int64(params.FrequencySeconds),
		MaturityTime:       params.MaturityTime,
		DestinationAddress: params.Destination,
		ExecutedAmount:     new(big.Int),
		Active:             true,
	})
	return l.submit(true), nil
}

// ExecuteInterval advances the plan by one interval. Reverts when the plan is
// missing, inactive or not yet due.
func (l *Ledger) ExecuteInterval(_ context.Context, from common.Address, identifier string) (string, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	p := l.get(from, identifier)
	if p == nil || !p.Active || l.now().Unix() < p.NextExecutionTime {
		return l.submit(false), nil
	}

	executed := new(big.Int).Add(p.ExecutedAmount, p.AmountPerInterval)
	if executed.Cmp(p.TotalAmount) > 0 {
		executed.Set(p.TotalAmount)
	}
	p.ExecutedAmount = executed
	p.NextExecutionTime += int64(p.FrequencySeconds)
	return l.submit(true), nil
}

// FinalizePlan deactivates a matured plan. Reverts when the plan is missing,
// inactive or not yet matured.
func (l *Ledger) FinalizePlan(_ context.Context, from common.Address, identifier string) (string, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	p := l.get(from, identifier)
	if p == nil || !p.Active || l.now().Unix() < p.MaturityTime {
		return l.submit(false), nil
	}

	p.Active = false
	return l.submit(true), nil
}

// WaitForReceipt returns the receipt of a submitted transaction.
func (l *Ledger) WaitForReceipt(ctx context.Context, txHash string) (*ledger.Receipt, error) {
	if l.ReceiptGate != nil {
		select {
		case <-l.ReceiptGate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	if l.ReceiptFault != nil {
		return nil, l.ReceiptFault
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	r, ok := l.receipts[txHash]
	if !ok {
		return nil, fmt.Errorf("%w: unknown transaction %s", domain.ErrLedgerUnavailable, txHash)
	}
	receipt := *r
	return &receipt, nil
}

func (l *Ledger) get(owner common.Address, identifier string) *domain.PlanRecord {
	byID, ok := l.plans[owner]
	if !ok {
		return nil
	}
	return byID[identifier]
}

func (l *Ledger) put(p *domain.PlanRecord) {
	byID, ok := l.plans[p.Owner]
	if !ok {
		byID = make(map[string]*domain.PlanRecord)
		l.plans[p.Owner] = byID
	}
	byID[p.Identifier] = p
}

// submit records a mined transaction. Caller holds mu.
func (l *Ledger) submit(success bool) string {
	l.seq++
	l.writes++
	hash := common.BigToHash(new(big.Int).SetUint64(l.seq)).Hex()
	l.receipts[hash] = &ledger.Receipt{
		TxHash:      hash,
		BlockNumber: l.seq,
		Success:     success,
	}
	return hash
}

var _ ledger.Ledger = (*Ledger)(nil)
