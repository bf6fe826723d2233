// Package discovery finds an owner's plans on a ledger that cannot list them.
//
// A scan probes a bounded candidate set (known identifiers, the default
// identifier and a time-window sweep) in small concurrent batches with a pause
// between batches, and returns the plans found active. Discovery is best
// effort: a plan whose identifier is neither known nor swept is not found.
package discovery

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"

	"onchain-sip/internal/domain"
	"onchain-sip/internal/ledger"
	"onchain-sip/internal/observability"
	"onchain-sip/internal/storage"
)

// Scan defaults.
const (
	DefaultBatchSize  = 3
	DefaultBatchDelay = 300 * time.Millisecond
)

// KnownIdentifiers is the part of the local cache the scanner uses.
type KnownIdentifiers interface {
	ListKnown(ctx context.Context, owner common.Address) ([]string, error)
	RecordActive(ctx context.Context, owner common.Address, identifier, txRef string) error
}

// Config holds scan parameters.
type Config struct {
	BatchSize     int           // probes in flight at once
	BatchDelay    time.Duration // pause between batches; zero disables pacing
	SweepDays     int
	SweepStep     time.Duration
	MaxCandidates int
}

// DefaultConfig returns the default scan parameters.
func DefaultConfig() Config {
	return Config{
		BatchSize:     DefaultBatchSize,
		BatchDelay:    DefaultBatchDelay,
		SweepDays:     DefaultSweepDays,
		SweepStep:     DefaultSweepStep,
		MaxCandidates: DefaultMaxCandidates,
	}
}

// Options configures a Scanner.
type Options struct {
	Ledger   ledger.Reader
	Known    KnownIdentifiers
	ProbeLog storage.ProbeLogStore // optional
	Config   Config
	Now      func() time.Time // defaults to time.Now
	Logger   *zerolog.Logger  // defaults to a disabled logger
}

// ScanResult is the outcome of one scan.
type ScanResult struct {
	ScanID     string
	Owner      common.Address
	Plans      []*domain.PlanRecord // active plans, in candidate order
	Probes     []ProbeResult        // every probe, in candidate order
	Discovered []string             // identifiers newly added to the cache
	StartedAt  time.Time
	FinishedAt time.Time
}

// Count returns the number of probes with the given outcome.
func (r *ScanResult) Count(outcome Outcome) int {
	n := 0
	for _, p := range r.Probes {
		if p.Outcome == outcome {
			n++
		}
	}
	return n
}

// ScanError reports a scan in which no probe reached the ledger.
type ScanError struct {
	ScanID     string
	Owner      common.Address
	Candidates int
	Failed     int
	Err        error // last transport error
}

func (e *ScanError) Error() string {
	return fmt.Sprintf("scan %s: %d/%d probes failed: %v", e.Owner.Hex(), e.Failed, e.Candidates, e.Err)
}

func (e *ScanError) Unwrap() error {
	return e.Err
}

// Retryable is always true: the same scan may succeed once the ledger is reachable.
func (e *ScanError) Retryable() bool {
	return true
}

// Scanner runs discovery scans. Concurrent scans for the same owner share one
// run. Safe for concurrent use.
type Scanner struct {
	prober    *Prober
	generator *Generator
	known     KnownIdentifiers
	probeLog  storage.ProbeLogStore
	cfg       Config
	now       func() time.Time
	logger    zerolog.Logger

	group singleflight.Group

	mu       sync.Mutex
	seq      uint64
	inflight map[string]int
	last     map[string]*ScanResult
	lastSeq  map[string]uint64

	background sync.WaitGroup
}

// NewScanner creates a scanner.
func NewScanner(opts Options) *Scanner {
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	logger := zerolog.Nop()
	if opts.Logger != nil {
		logger = opts.Logger.With().Str("component", "scanner").Logger()
	}

	cfg := opts.Config
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = DefaultBatchSize
	}
	if cfg.BatchDelay < 0 {
		cfg.BatchDelay = 0
	}

	gen := NewGenerator(now)
	if cfg.SweepDays > 0 {
		gen.Days = cfg.SweepDays
	}
	if cfg.SweepStep > 0 {
		gen.Step = cfg.SweepStep
	}
	if cfg.MaxCandidates > 0 {
		gen.Max = cfg.MaxCandidates
	}

	return &Scanner{
		prober:    NewProber(opts.Ledger, now, logger),
		generator: gen,
		known:     opts.Known,
		probeLog:  opts.ProbeLog,
		cfg:       cfg,
		now:       now,
		logger:    logger,
		inflight:  make(map[string]int),
		last:      make(map[string]*ScanResult),
		lastSeq:   make(map[string]uint64),
	}
}

// Scan discovers the owner's active plans. If a scan for the owner is already
// running, the call joins it and receives its result.
//
// Cancelling ctx abandons the wait only; the scan itself runs to completion so
// its cache updates are not lost.
func (s *Scanner) Scan(ctx context.Context, owner common.Address) (*ScanResult, error) {
	return s.run(ctx, owner, false)
}

// Trigger starts a scan in the background, joining one already in flight.
// Errors are logged.
func (s *Scanner) Trigger(owner common.Address) {
	s.runBackground(owner, false)
}

// Refresh starts a background scan that observes every ledger write confirmed
// before the call. Unlike Trigger it never joins a scan already in flight, since
// that scan may have read the plans before the write. The older scan still
// finishes but its result cannot replace the newer one in Last.
func (s *Scanner) Refresh(owner common.Address) {
	s.runBackground(owner, true)
}

func (s *Scanner) runBackground(owner common.Address, fresh bool) {
	s.background.Add(1)
	go func() {
		defer s.background.Done()
		if _, err := s.run(context.Background(), owner, fresh); err != nil {
			s.logger.Warn().Err(err).Str("owner", owner.Hex()).Msg("background scan failed")
		}
	}()
}

// run scans for owner. With fresh set, a scan already in flight is detached
// from the group first, so this call and any later joiner start a new one.
func (s *Scanner) run(ctx context.Context, owner common.Address, fresh bool) (*ScanResult, error) {
	key := owner.Hex()

	s.mu.Lock()
	if fresh {
		s.group.Forget(key)
	}
	joined := !fresh && s.inflight[key] > 0
	s.inflight[key]++
	s.mu.Unlock()
	defer func() {
		s.mu.Lock()
		s.inflight[key]--
		if s.inflight[key] == 0 {
			delete(s.inflight, key)
		}
		s.mu.Unlock()
	}()

	if joined {
		observability.RecordScanJoined()
		s.logger.Debug().Str("owner", key).Msg("joining in-flight scan")
	}

	ch := s.group.DoChan(key, func() (interface{}, error) {
		return s.scan(context.WithoutCancel(ctx), owner)
	})

	select {
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.(*ScanResult), nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Wait blocks until every triggered scan has finished.
func (s *Scanner) Wait() {
	s.background.Wait()
}

// Last returns the most recent successful scan for owner.
func (s *Scanner) Last(owner common.Address) (*ScanResult, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.last[owner.Hex()]
	return r, ok
}

// Check probes a single identifier, typically one entered by hand, and adds
// it to the cache when it is active.
func (s *Scanner) Check(ctx context.Context, owner common.Address, identifier string) (ProbeResult, error) {
	if identifier == "" {
		return ProbeResult{}, fmt.Errorf("%w: empty identifier", domain.ErrInvalidInput)
	}

	result := s.prober.Probe(ctx, owner, identifier)
	s.writeProbeLog(ctx, uuid.NewString(), owner, []ProbeResult{result})

	if result.Active() {
		if err := s.known.RecordActive(ctx, owner, identifier, ""); err != nil {
			return result, fmt.Errorf("record identifier: %w", err)
		}
	}
	return result, nil
}

func (s *Scanner) scan(ctx context.Context, owner common.Address) (*ScanResult, error) {
	result := &ScanResult{
		ScanID:    uuid.NewString(),
		Owner:     owner,
		StartedAt: s.now(),
	}
	logger := s.logger.With().Str("scan_id", result.ScanID).Str("owner", owner.Hex()).Logger()
	start := time.Now()

	s.mu.Lock()
	s.seq++
	seq := s.seq
	s.mu.Unlock()

	known, err := s.known.ListKnown(ctx, owner)
	if err != nil {
		logger.Warn().Err(err).Msg("cache unavailable, sweeping without known identifiers")
		known = nil
	}
	knownSet := make(map[string]bool, len(known))
	for _, id := range known {
		knownSet[id] = true
	}

	candidates := s.generator.Generate(owner, known)
	result.Probes = s.probeBatches(ctx, owner, candidates)

	var transportFailures int
	var lastTransportErr error
	for _, p := range result.Probes {
		switch {
		case p.Active():
			result.Plans = append(result.Plans, p.Plan)
			if knownSet[p.Identifier] {
				continue
			}
			if err := s.known.RecordActive(ctx, owner, p.Identifier, ""); err != nil {
				logger.Warn().Err(err).Str("identifier", p.Identifier).Msg("failed to cache discovered identifier")
				continue
			}
			knownSet[p.Identifier] = true
			result.Discovered = append(result.Discovered, p.Identifier)
			observability.RecordPlanDiscovered()
		case p.Outcome == OutcomeError && errors.Is(p.Err, domain.ErrLedgerUnavailable):
			transportFailures++
			lastTransportErr = p.Err
		}
	}

	s.writeProbeLog(ctx, result.ScanID, owner, result.Probes)
	result.FinishedAt = s.now()
	elapsed := time.Since(start).Seconds()

	if len(candidates) > 0 && transportFailures == len(candidates) {
		observability.RecordScan("failed", len(candidates), elapsed, result.FinishedAt.Unix())
		logger.Warn().Err(lastTransportErr).Int("candidates", len(candidates)).Msg("scan failed: ledger unreachable")
		return nil, &ScanError{
			ScanID:     result.ScanID,
			Owner:      owner,
			Candidates: len(candidates),
			Failed:     transportFailures,
			Err:        lastTransportErr,
		}
	}

	observability.RecordScan("ok", len(candidates), elapsed, result.FinishedAt.Unix())
	logger.Info().
		Int("candidates", len(candidates)).
		Int("active", len(result.Plans)).
		Int("inactive", result.Count(OutcomeInactive)).
		Int("absent", result.Count(OutcomeAbsent)).
		Int("errors", result.Count(OutcomeError)).
		Int("discovered", len(result.Discovered)).
		Float64("duration_s", elapsed).
		Msg("scan complete")

	s.storeLast(owner.Hex(), seq, result)

	return result, nil
}

// storeLast keeps the result of the most recently started scan. A scan that
// started earlier but finished later is dropped.
func (s *Scanner) storeLast(key string, seq uint64, result *ScanResult) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if seq < s.lastSeq[key] {
		s.logger.Debug().Str("owner", key).Str("scan_id", result.ScanID).Msg("discarding superseded scan result")
		return
	}
	s.last[key] = result
	s.lastSeq[key] = seq
}

// probeBatches probes candidates BatchSize at a time. Every batch settles
// fully before the pause and the next batch; no probe failure stops the run.
func (s *Scanner) probeBatches(ctx context.Context, owner common.Address, candidates []string) []ProbeResult {
	results := make([]ProbeResult, len(candidates))

	for start := 0; start < len(candidates); start += s.cfg.BatchSize {
		if start > 0 && s.cfg.BatchDelay > 0 {
			timer := time.NewTimer(s.cfg.BatchDelay)
			select {
			case <-ctx.Done():
				timer.Stop()
			case <-timer.C:
			}
		}

		end := min(start+s.cfg.BatchSize, len(candidates))
		var g errgroup.Group
		for i := start; i < end; i++ {
			g.Go(func() error {
				results[i] = s.prober.Probe(ctx, owner, candidates[i])
				return nil
			})
		}
		_ = g.Wait()
	}

	return results
}

func (s *Scanner) writeProbeLog(ctx context.Context, scanID string, owner common.Address, probes []ProbeResult) {
	if s.probeLog == nil || len(probes) == 0 {
		return
	}

	entries := make([]*storage.ProbeLogEntry, 0, len(probes))
	for _, p := range probes {
		entry := &storage.ProbeLogEntry{
			ScanID:     scanID,
			Owner:      owner.Hex(),
			Identifier: p.Identifier,
			Outcome:    p.Outcome.String(),
			LatencyMs:  p.Latency.Milliseconds(),
			ProbedAt:   p.ProbedAt.UnixMilli(),
		}
		if p.Err != nil {
			entry.Error = p.Err.Error()
		}
		entries = append(entries, entry)
	}

	if err := s.probeLog.InsertBulk(ctx, entries); err != nil {
		s.logger.Warn().Err(err).Str("scan_id", scanID).Msg("failed to write probe log")
	}
}
