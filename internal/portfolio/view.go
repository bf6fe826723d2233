// Package portfolio renders discovered plans for display.
package portfolio

import (
	"context"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"onchain-sip/internal/cache"
	"onchain-sip/internal/domain"
)

// PlanView is a display-ready plan. Amounts are in native units.
type PlanView struct {
	Identifier        string    `json:"identifier"`
	TotalAmount       string    `json:"totalAmount"`
	AmountPerInterval string    `json:"amountPerInterval"`
	ExecutedAmount    string    `json:"executedAmount"`
	RemainingAmount   string    `json:"remainingAmount"`
	NextExecution     time.Time `json:"nextExecution"`
	Maturity          time.Time `json:"maturity"`
	FrequencySeconds  uint64    `json:"frequency"`
	FrequencyDays     uint64    `json:"frequencyDays"`
	Destination       string    `json:"destination"`
	IsNative          bool      `json:"isNative"`
	Active            bool      `json:"active"`
	ProgressPercent   string    `json:"progress"`
	CanExecute        bool      `json:"canExecute"`
	CanFinalize       bool      `json:"canFinalize"`
	ContractLink      string    `json:"contractLink"`
	CreationTxLink    string    `json:"creationTxLink,omitempty"`
}

// NewView builds the view of an active plan at now. Returns nil for a nil or
// inactive plan. creationTx may be empty.
func NewView(plan *domain.PlanRecord, now time.Time, creationTx string, contract common.Address, explorer Explorer) *PlanView {
	if plan == nil || !plan.Active {
		return nil
	}
	derived := domain.Derive(plan, now)

	v := &PlanView{
		Identifier:        plan.Identifier,
		TotalAmount:       domain.FormatNative(plan.TotalAmount),
		AmountPerInterval: domain.FormatNative(plan.AmountPerInterval),
		ExecutedAmount:    domain.FormatNative(plan.ExecutedAmount),
		RemainingAmount:   domain.FormatNative(derived.Remaining),
		NextExecution:     time.Unix(plan.NextExecutionTime, 0).UTC(),
		Maturity:          time.Unix(plan.MaturityTime, 0).UTC(),
		FrequencySeconds:  plan.FrequencySeconds,
		FrequencyDays:     plan.FrequencySeconds / 86400,
		Destination:       plan.DestinationAddress.Hex(),
		IsNative:          plan.IsNative(),
		Active:            plan.Active,
		ProgressPercent:   derived.ProgressPercent().StringFixed(2),
		CanExecute:        derived.Executable,
		CanFinalize:       derived.Maturable,
		ContractLink:      explorer.Link(LinkAddress, contract.Hex()),
	}
	if creationTx != "" {
		v.CreationTxLink = explorer.Link(LinkTx, creationTx)
	}
	return v
}

// TxLookup finds the creation transaction of a plan.
type TxLookup interface {
	LookupTx(ctx context.Context, owner common.Address, identifier string) (cache.TxRecord, bool, error)
}

// Presenter turns scan results into views.
type Presenter struct {
	Txs      TxLookup // optional
	Contract common.Address
	Explorer Explorer
	Now      func() time.Time
}

// Views renders the active plans among plans, in order. A failed transaction
// lookup leaves CreationTxLink empty rather than failing the whole render.
func (p *Presenter) Views(ctx context.Context, owner common.Address, plans []*domain.PlanRecord) []*PlanView {
	now := time.Now
	if p.Now != nil {
		now = p.Now
	}
	at := now()

	views := make([]*PlanView, 0, len(plans))
	for _, plan := range plans {
		var creationTx string
		if p.Txs != nil {
			if rec, ok, err := p.Txs.LookupTx(ctx, owner, plan.Identifier); err == nil && ok {
				creationTx = rec.TxHash
			}
		}
		if v := NewView(plan, at, creationTx, p.Contract, p.Explorer); v != nil {
			views = append(views, v)
		}
	}
	return views
}

// Summary is the portfolio total over active plans, to 4 decimal places.
type Summary struct {
	ActivePlans   int    `json:"activePlans"`
	TotalInvested string `json:"totalInvested"`
	TotalExecuted string `json:"totalExecuted"`
}

// Summarize totals the active plans.
func Summarize(plans []*domain.PlanRecord) Summary {
	invested := new(big.Int)
	executed := new(big.Int)
	active := 0
	for _, p := range plans {
		if p == nil || !p.Active {
			continue
		}
		active++
		if p.TotalAmount != nil {
			invested.Add(invested, p.TotalAmount)
		}
		if p.ExecutedAmount != nil {
			executed.Add(executed, p.ExecutedAmount)
		}
	}

	return Summary{
		ActivePlans:   active,
		TotalInvested: fixed4(invested),
		TotalExecuted: fixed4(executed),
	}
}

func fixed4(wei *big.Int) string {
	return domain.NativeDecimal(wei).StringFixed(4)
}
