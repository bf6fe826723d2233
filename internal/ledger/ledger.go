// Package ledger defines access to the remote plan contract.
//
// Reads are keyed by (owner, identifier). The contract cannot list an owner's
// plans, so callers must already know which identifiers to ask for.
package ledger

import (
	"context"

	"github.com/ethereum/go-ethereum/common"

	"onchain-sip/internal/domain"
)

// Reader reads plan records.
type Reader interface {
	// GetPlan returns the record stored under (owner, identifier).
	// Returns domain.ErrAbsent when the read faults because nothing was ever
	// written there, domain.ErrLedgerUnavailable on transport failure.
	// A finalized plan is returned as a record with Active == false.
	GetPlan(ctx context.Context, owner common.Address, identifier string) (*domain.PlanRecord, error)
}

// Writer submits mutating transactions on behalf of from.
// Each submit method returns the transaction hash as soon as the ledger
// accepted it; WaitForReceipt blocks until it is confirmed.
type Writer interface {
	CreatePlan(ctx context.Context, from common.Address, params domain.CreateParams) (string, error)
	ExecuteInterval(ctx context.Context, from common.Address, identifier string) (string, error)
	FinalizePlan(ctx context.Context, from common.Address, identifier string) (string, error)
	WaitForReceipt(ctx context.Context, txHash string) (*Receipt, error)
}

// Ledger is the full contract surface.
type Ledger interface {
	Reader
	Writer
}

// Receipt is the confirmation of a mined transaction.
type Receipt struct {
	TxHash      string
	BlockNumber uint64
	Success     bool
}
