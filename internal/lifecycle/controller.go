// Package lifecycle drives the mutating plan operations: create, execute one
// interval, finalize.
//
// The controller keeps no per-plan state. Preconditions are checked against a
// fresh ledger read every time, and a confirmed write is followed by a cache
// update or a rescan.
package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/rs/zerolog"

	"onchain-sip/internal/domain"
	"onchain-sip/internal/ledger"
	"onchain-sip/internal/observability"
)

// Recorder is the part of the local cache the controller writes.
type Recorder interface {
	RecordActive(ctx context.Context, owner common.Address, identifier, txRef string) error
	RecordTx(ctx context.Context, owner common.Address, identifier, txRef string) error
}

// Rescanner schedules a discovery scan for an owner that reads the ledger
// after the call, never one already in progress.
type Rescanner interface {
	Refresh(owner common.Address)
}

// Options configures a Controller.
type Options struct {
	Ledger    ledger.Ledger
	Cache     Recorder
	Rescanner Rescanner        // optional
	MinTotal  *big.Int         // defaults to domain.MinTotalAmount
	Now       func() time.Time // defaults to time.Now
	Logger    *zerolog.Logger  // defaults to a disabled logger
}

// Result is a confirmed mutating operation.
type Result struct {
	Identifier  string
	TxHash      string
	BlockNumber uint64
}

// Controller runs mutating operations. At most one operation per
// (owner, identifier) is outstanding at a time.
type Controller struct {
	ledger    ledger.Ledger
	cache     Recorder
	rescanner Rescanner
	minTotal  *big.Int
	now       func() time.Time
	logger    zerolog.Logger

	mu      sync.Mutex
	pending map[string]string // (owner, identifier) -> op
}

// New creates a controller.
func New(opts Options) *Controller {
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	minTotal := opts.MinTotal
	if minTotal == nil {
		minTotal = domain.MinTotalAmount
	}
	logger := zerolog.Nop()
	if opts.Logger != nil {
		logger = opts.Logger.With().Str("component", "lifecycle").Logger()
	}

	return &Controller{
		ledger:    opts.Ledger,
		cache:     opts.Cache,
		rescanner: opts.Rescanner,
		minTotal:  minTotal,
		now:       now,
		logger:    logger,
		pending:   make(map[string]string),
	}
}

// Create validates params, submits the plan and waits for confirmation.
// On confirmation the identifier and its creation transaction are cached.
func (c *Controller) Create(ctx context.Context, owner common.Address, params domain.CreateParams) (*Result, error) {
	fail := c.failer(domain.OpCreate, owner, params.Identifier)

	if err := c.validateCreate(params); err != nil {
		return nil, fail(err, "invalid")
	}

	release, err := c.acquire(domain.OpCreate, owner, params.Identifier)
	if err != nil {
		return nil, fail(err, "busy")
	}
	defer release()

	res, err := c.submit(ctx, func() (string, error) {
		return c.ledger.CreatePlan(ctx, owner, params)
	})
	if errors.Is(err, domain.ErrConfirmationUnknown) {
		// The plan may exist; keep the identifier so the next scan settles it.
		if cerr := c.cache.RecordActive(ctx, owner, params.Identifier, ""); cerr != nil {
			c.logger.Error().Err(cerr).Str("owner", owner.Hex()).Str("identifier", params.Identifier).Msg("failed to cache unconfirmed plan")
		}
	}
	if err != nil {
		return nil, fail(err, resultLabel(err))
	}
	res.Identifier = params.Identifier

	// The plan exists on the ledger from here on; a cache failure is logged,
	// not returned, and the sweep or a manual check can recover it.
	if err := c.cache.RecordActive(ctx, owner, params.Identifier, ""); err != nil {
		c.logger.Error().Err(err).Str("owner", owner.Hex()).Str("identifier", params.Identifier).Msg("failed to cache created plan")
	} else if err := c.cache.RecordTx(ctx, owner, params.Identifier, res.TxHash); err != nil {
		c.logger.Error().Err(err).Str("owner", owner.Hex()).Str("identifier", params.Identifier).Msg("failed to cache creation tx")
	}

	c.succeed(domain.OpCreate, owner, res)
	return res, nil
}

// ExecuteInterval runs one due interval of an active plan.
func (c *Controller) ExecuteInterval(ctx context.Context, owner common.Address, identifier string) (*Result, error) {
	return c.mutate(ctx, domain.OpExecuteInterval, owner, identifier,
		func(plan *domain.PlanRecord, derived domain.DerivedPlanState) error {
			if !plan.Active {
				return fmt.Errorf("%w: %w", domain.ErrNotExecutable, domain.ErrPlanInactive)
			}
			if !derived.Executable {
				return fmt.Errorf("%w: next execution at %s", domain.ErrNotExecutable,
					time.Unix(plan.NextExecutionTime, 0).UTC().Format(time.RFC3339))
			}
			return nil
		},
		func() (string, error) {
			return c.ledger.ExecuteInterval(ctx, owner, identifier)
		},
	)
}

// Finalize closes a matured plan. The plan is terminal afterwards.
func (c *Controller) Finalize(ctx context.Context, owner common.Address, identifier string) (*Result, error) {
	return c.mutate(ctx, domain.OpFinalize, owner, identifier,
		func(plan *domain.PlanRecord, derived domain.DerivedPlanState) error {
			if !plan.Active {
				return domain.ErrPlanInactive
			}
			if !derived.Maturable {
				return fmt.Errorf("%w: matures at %s", domain.ErrNotMatured,
					time.Unix(plan.MaturityTime, 0).UTC().Format(time.RFC3339))
			}
			return nil
		},
		func() (string, error) {
			return c.ledger.FinalizePlan(ctx, owner, identifier)
		},
	)
}

// mutate re-reads the plan, checks the precondition, then submits and waits.
// A confirmed write, or one whose outcome is unknown, triggers a rescan of the
// owner.
func (c *Controller) mutate(
	ctx context.Context,
	op string,
	owner common.Address,
	identifier string,
	check func(*domain.PlanRecord, domain.DerivedPlanState) error,
	send func() (string, error),
) (*Result, error) {
	fail := c.failer(op, owner, identifier)

	if identifier == "" {
		return nil, fail(fmt.Errorf("%w: empty identifier", domain.ErrInvalidInput), "invalid")
	}

	release, err := c.acquire(op, owner, identifier)
	if err != nil {
		return nil, fail(err, "busy")
	}
	defer release()

	plan, err := c.ledger.GetPlan(ctx, owner, identifier)
	if err != nil {
		return nil, fail(err, resultLabel(err))
	}
	if err := check(plan, domain.Derive(plan, c.now())); err != nil {
		return nil, fail(err, "rejected")
	}

	res, err := c.submit(ctx, send)
	if errors.Is(err, domain.ErrConfirmationUnknown) && c.rescanner != nil {
		c.rescanner.Refresh(owner)
	}
	if err != nil {
		return nil, fail(err, resultLabel(err))
	}
	res.Identifier = identifier

	if c.rescanner != nil {
		c.rescanner.Refresh(owner)
	}

	c.succeed(op, owner, res)
	return res, nil
}

// submit sends a transaction and waits for its receipt.
func (c *Controller) submit(ctx context.Context, send func() (string, error)) (*Result, error) {
	txHash, err := send()
	if err != nil {
		return nil, err
	}

	receipt, err := c.ledger.WaitForReceipt(ctx, txHash)
	if err != nil {
		return nil, fmt.Errorf("wait for %s: %w", txHash, err)
	}
	if !receipt.Success {
		return nil, fmt.Errorf("%w: %s in block %d", domain.ErrTransactionReverted, txHash, receipt.BlockNumber)
	}

	return &Result{TxHash: txHash, BlockNumber: receipt.BlockNumber}, nil
}

func (c *Controller) validateCreate(p domain.CreateParams) error {
	if err := p.Validate(); err != nil {
		return err
	}
	if now := c.now().Unix(); p.MaturityTime <= now {
		return fmt.Errorf("%w: maturity %d is not after now %d", domain.ErrInvalidInput, p.MaturityTime, now)
	}
	if p.TotalAmount.Cmp(c.minTotal) < 0 {
		return fmt.Errorf("%w: total amount %s below minimum %s", domain.ErrInvalidInput,
			domain.FormatNative(p.TotalAmount), domain.FormatNative(c.minTotal))
	}
	return nil
}

// acquire marks (owner, identifier) busy until release is called.
func (c *Controller) acquire(op string, owner common.Address, identifier string) (func(), error) {
	key := owner.Hex() + "/" + identifier

	c.mu.Lock()
	defer c.mu.Unlock()
	if running, ok := c.pending[key]; ok {
		return nil, fmt.Errorf("%w: %s", domain.ErrOperationInProgress, running)
	}
	c.pending[key] = op

	return func() {
		c.mu.Lock()
		delete(c.pending, key)
		c.mu.Unlock()
	}, nil
}

// failer returns a function that records, logs and wraps a failure.
func (c *Controller) failer(op string, owner common.Address, identifier string) func(error, string) error {
	return func(err error, label string) error {
		observability.RecordLedgerWrite(op, label)
		c.logger.Warn().
			Err(err).
			Str("op", op).
			Str("owner", owner.Hex()).
			Str("identifier", identifier).
			Msg("operation failed")
		return &domain.OperationError{Op: op, Owner: owner, Identifier: identifier, Err: err}
	}
}

func (c *Controller) succeed(op string, owner common.Address, res *Result) {
	observability.RecordLedgerWrite(op, "ok")
	c.logger.Info().
		Str("op", op).
		Str("owner", owner.Hex()).
		Str("identifier", res.Identifier).
		Str("tx", res.TxHash).
		Uint64("block", res.BlockNumber).
		Msg("operation confirmed")
}

// resultLabel maps a failure to the ledger_writes_total result label.
func resultLabel(err error) string {
	switch {
	case errors.Is(err, domain.ErrTransactionReverted):
		return "reverted"
	case errors.Is(err, domain.ErrConfirmationUnknown):
		return "unconfirmed"
	case errors.Is(err, domain.ErrAbsent), errors.Is(err, domain.ErrPlanInactive):
		return "rejected"
	case errors.Is(err, domain.ErrLedgerUnavailable):
		return "unavailable"
	default:
		return "failed"
	}
}
