package discovery

import (
	"context"
	"errors"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/rs/zerolog"

	"onchain-sip/internal/domain"
	"onchain-sip/internal/ledger"
	"onchain-sip/internal/observability"
)

// Outcome classifies a probe.
type Outcome int

const (
	// OutcomeActive: a record was read and it is active.
	OutcomeActive Outcome = iota + 1
	// OutcomeInactive: a record was read but it is not active. Either the
	// plan was finalized or the ledger returned its default value.
	OutcomeInactive
	// OutcomeAbsent: the read faulted because nothing was ever written.
	OutcomeAbsent
	// OutcomeError: the read failed for any other reason.
	OutcomeError
)

func (o Outcome) String() string {
	switch o {
	case OutcomeActive:
		return "active"
	case OutcomeInactive:
		return "inactive"
	case OutcomeAbsent:
		return "absent"
	case OutcomeError:
		return "error"
	default:
		return "unknown"
	}
}

// ProbeResult is the outcome of one ledger read.
type ProbeResult struct {
	Identifier string
	Outcome    Outcome
	Plan       *domain.PlanRecord // set for OutcomeActive and OutcomeInactive
	Err        error              // set for OutcomeAbsent and OutcomeError
	Latency    time.Duration
	ProbedAt   time.Time
}

// Active reports whether the probe found an active plan.
func (r ProbeResult) Active() bool {
	return r.Outcome == OutcomeActive
}

// Prober reads single (owner, identifier) pairs from the ledger.
type Prober struct {
	ledger ledger.Reader
	now    func() time.Time
	logger zerolog.Logger
}

// NewProber creates a prober.
func NewProber(reader ledger.Reader, now func() time.Time, logger zerolog.Logger) *Prober {
	if now == nil {
		now = time.Now
	}
	return &Prober{ledger: reader, now: now, logger: logger}
}

// Probe performs one read and classifies it. It never returns an error;
// failures are carried in the result.
func (p *Prober) Probe(ctx context.Context, owner common.Address, identifier string) ProbeResult {
	start := time.Now()
	result := ProbeResult{
		Identifier: identifier,
		ProbedAt:   p.now(),
	}

	plan, err := p.ledger.GetPlan(ctx, owner, identifier)
	result.Latency = time.Since(start)

	switch {
	case err == nil && plan.Active:
		result.Outcome = OutcomeActive
		result.Plan = plan
	case err == nil:
		result.Outcome = OutcomeInactive
		result.Plan = plan
	case errors.Is(err, domain.ErrAbsent):
		result.Outcome = OutcomeAbsent
		result.Err = err
	default:
		result.Outcome = OutcomeError
		result.Err = err
	}

	observability.RecordProbe(result.Outcome.String())

	event := p.logger.Debug()
	if result.Outcome == OutcomeError {
		event = p.logger.Warn()
	}
	event.
		Str("owner", owner.Hex()).
		Str("identifier", identifier).
		Str("outcome", result.Outcome.String()).
		Dur("latency", result.Latency).
		Err(result.Err).
		Msg("probe")

	return result
}
