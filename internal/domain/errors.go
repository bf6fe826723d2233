package domain

import (
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
)

// Plan operation errors.
var (
	// ErrInvalidInput is returned when caller-supplied parameters fail static
	// validation. Nothing is submitted to the ledger.
	ErrInvalidInput = errors.New("invalid input")

	// ErrNotExecutable is returned when an interval is not yet due.
	ErrNotExecutable = errors.New("plan not executable")

	// ErrNotMatured is returned when finalize is attempted before maturity.
	ErrNotMatured = errors.New("plan not matured")

	// ErrOperationInProgress is returned when a mutating call for the same
	// (owner, identifier) is still outstanding.
	ErrOperationInProgress = errors.New("operation in progress")

	// ErrLedgerUnavailable is returned when the remote ledger could not be reached.
	// Transient, safe to retry with backoff.
	ErrLedgerUnavailable = errors.New("ledger unavailable")

	// ErrAbsent is returned when the identifier was never written on the ledger.
	ErrAbsent = errors.New("plan absent")

	// ErrPlanInactive is returned when a mutating call targets a finalized plan.
	ErrPlanInactive = errors.New("plan inactive")

	// ErrTransactionReverted is returned when a confirmed transaction has failed status.
	ErrTransactionReverted = errors.New("transaction reverted")

	// ErrConfirmationUnknown is returned when a transaction was submitted but
	// no receipt was observed. The write may still land; re-read the plan
	// before submitting again.
	ErrConfirmationUnknown = errors.New("transaction confirmation unknown")
)

// Operation names used in OperationError.
const (
	OpCreate          = "create"
	OpExecuteInterval = "execute_interval"
	OpFinalize        = "finalize"
)

// OperationError attributes a mutating-operation failure to its plan.
type OperationError struct {
	Op         string
	Owner      common.Address
	Identifier string
	Err        error
}

func (e *OperationError) Error() string {
	return fmt.Sprintf("%s %s/%s: %v", e.Op, e.Owner.Hex(), e.Identifier, e.Err)
}

func (e *OperationError) Unwrap() error {
	return e.Err
}

// Retryable reports whether the same call may succeed later without changes.
// A finalized plan never becomes executable again, and a write whose outcome
// is unknown must not be blindly resubmitted.
func (e *OperationError) Retryable() bool {
	if errors.Is(e.Err, ErrPlanInactive) || errors.Is(e.Err, ErrConfirmationUnknown) {
		return false
	}
	return errors.Is(e.Err, ErrLedgerUnavailable) ||
		errors.Is(e.Err, ErrNotExecutable) ||
		errors.Is(e.Err, ErrNotMatured) ||
		errors.Is(e.Err, ErrOperationInProgress)
}
