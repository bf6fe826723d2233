package server

import (
	"context"
	"fmt"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"

	"onchain-sip/internal/ledger/evm"
)

// Triggerer starts a background scan for an owner.
type Triggerer interface {
	Trigger(owner common.Address)
}

// WatcherConfig configures a Watcher.
type WatcherConfig struct {
	Scanner  Triggerer
	Owners   []common.Address
	Schedule string         // cron spec, e.g. "@every 1m"
	Heads    evm.HeadSource // optional; every new head rescans as well
	Log      zerolog.Logger
}

// Watcher keeps the scans of watched owners fresh. Overlapping triggers for
// one owner join the scan already running, so a burst of heads costs one scan.
type Watcher struct {
	cron   *cron.Cron
	owners []common.Address
	heads  evm.HeadSource
	scans  Triggerer
	log    zerolog.Logger

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewWatcher validates the schedule and registers the rescan job.
func NewWatcher(cfg WatcherConfig) (*Watcher, error) {
	w := &Watcher{
		cron:   cron.New(),
		owners: cfg.Owners,
		heads:  cfg.Heads,
		scans:  cfg.Scanner,
		log:    cfg.Log.With().Str("component", "watcher").Logger(),
	}

	if _, err := w.cron.AddFunc(cfg.Schedule, w.RunNow); err != nil {
		return nil, fmt.Errorf("invalid rescan schedule %q: %w", cfg.Schedule, err)
	}
	return w, nil
}

// Start runs an initial rescan, then the schedule and, when a head source is
// configured, the head follower.
func (w *Watcher) Start(ctx context.Context) error {
	if len(w.owners) == 0 {
		w.log.Info().Msg("no watched owners, watcher idle")
		return nil
	}

	ctx, cancel := context.WithCancel(ctx)
	w.cancel = cancel

	if w.heads != nil {
		heads, err := w.heads.SubscribeNewHeads(ctx)
		if err != nil {
			cancel()
			return fmt.Errorf("subscribe new heads: %w", err)
		}
		w.wg.Add(1)
		go w.followHeads(ctx, heads)
	}

	w.RunNow()
	w.cron.Start()
	w.log.Info().Int("owners", len(w.owners)).Bool("heads", w.heads != nil).Msg("Watcher started")
	return nil
}

// Stop halts the schedule and the head follower.
func (w *Watcher) Stop() {
	if w.cancel == nil {
		return
	}
	<-w.cron.Stop().Done()
	w.cancel()
	w.wg.Wait()
	w.log.Info().Msg("Watcher stopped")
}

// RunNow triggers a rescan of every watched owner.
func (w *Watcher) RunNow() {
	for _, owner := range w.owners {
		w.scans.Trigger(owner)
	}
}

func (w *Watcher) followHeads(ctx context.Context, heads <-chan evm.Head) {
	defer w.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case head, ok := <-heads:
			if !ok {
				w.log.Warn().Msg("head subscription closed")
				return
			}
			w.log.Debug().Uint64("block", head.Number).Msg("new head, rescanning")
			w.RunNow()
		}
	}
}
