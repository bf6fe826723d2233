// Package app wires configuration into a running set of components.
package app

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/rs/zerolog"

	"onchain-sip/internal/cache"
	"onchain-sip/internal/config"
	"onchain-sip/internal/discovery"
	"onchain-sip/internal/ledger"
	"onchain-sip/internal/ledger/evm"
	"onchain-sip/internal/ledger/stub"
	"onchain-sip/internal/lifecycle"
	"onchain-sip/internal/portfolio"
	"onchain-sip/internal/storage"
	badgerstore "onchain-sip/internal/storage/badger"
	chstore "onchain-sip/internal/storage/clickhouse"
	"onchain-sip/internal/storage/memory"
	"onchain-sip/internal/storage/migrations"
	pgstore "onchain-sip/internal/storage/postgres"
)

// App holds every wired component. Close releases what New opened.
type App struct {
	Config *config.Config
	Logger zerolog.Logger

	Store    storage.BlobStore
	ProbeLog storage.ProbeLogStore
	Ledger   ledger.Ledger
	Contract common.Address

	Cache      *cache.Cache
	Scanner    *discovery.Scanner
	Controller *lifecycle.Controller
	Presenter  *portfolio.Presenter

	// Heads is set when a WebSocket endpoint is configured.
	Heads evm.HeadSource

	closers []func() error
}

// Options holds optional wiring choices.
type Options struct {
	// SkipRescanAfterWrite leaves the controller without a rescanner, so a
	// confirmed execute or finalize does not start a background scan.
	SkipRescanAfterWrite bool
}

// Option configures Options.
type Option func(*Options)

// WithoutRescanAfterWrite is for one-shot commands that exit after the
// write and would otherwise block in Close on a scan nobody reads.
func WithoutRescanAfterWrite() Option {
	return func(o *Options) {
		o.SkipRescanAfterWrite = true
	}
}

// New wires an App from cfg. The context bounds connection setup and the
// lifetime of background head followers.
func New(ctx context.Context, cfg *config.Config, log zerolog.Logger, opts ...Option) (*App, error) {
	var o Options
	for _, opt := range opts {
		opt(&o)
	}

	a := &App{
		Config:   cfg,
		Logger:   log,
		Contract: cfg.ContractAddress,
	}

	// Step 1: stores
	if err := a.initStore(ctx); err != nil {
		a.Close()
		return nil, fmt.Errorf("failed to initialize cache store: %w", err)
	}
	if err := a.initProbeLog(ctx); err != nil {
		a.Close()
		return nil, fmt.Errorf("failed to initialize probe log: %w", err)
	}

	// Step 2: ledger
	if err := a.initLedger(ctx); err != nil {
		a.Close()
		return nil, fmt.Errorf("failed to initialize ledger: %w", err)
	}

	// Step 3: services
	a.Cache = cache.New(cache.Options{
		Store:  a.Store,
		Logger: &a.Logger,
	})
	a.Scanner = discovery.NewScanner(discovery.Options{
		Ledger:   a.Ledger,
		Known:    a.Cache,
		ProbeLog: a.ProbeLog,
		Config: discovery.Config{
			BatchSize:     cfg.BatchSize,
			BatchDelay:    cfg.BatchDelay,
			SweepDays:     cfg.SweepDays,
			SweepStep:     cfg.SweepStep,
			MaxCandidates: cfg.MaxCandidates,
		},
		Logger: &a.Logger,
	})
	ctrlOpts := lifecycle.Options{
		Ledger: a.Ledger,
		Cache:  a.Cache,
		Logger: &a.Logger,
	}
	if !o.SkipRescanAfterWrite {
		ctrlOpts.Rescanner = a.Scanner
	}
	a.Controller = lifecycle.New(ctrlOpts)
	a.Presenter = &portfolio.Presenter{
		Txs:      a.Cache,
		Contract: a.Contract,
		Explorer: portfolio.NewExplorer(cfg.ExplorerURL),
	}

	return a, nil
}

func (a *App) initStore(ctx context.Context) error {
	switch a.Config.CacheBackend {
	case config.CacheMemory:
		a.Store = memory.NewBlobStore()

	case config.CacheBadger:
		store, err := badgerstore.Open(badgerstore.Config{
			Path:       a.Config.CachePath,
			SyncWrites: true,
			Logger:     &a.Logger,
		})
		if err != nil {
			return err
		}
		a.Store = store
		a.closers = append(a.closers, store.Close)

	case config.CachePostgres:
		pool, err := pgstore.NewPool(ctx, a.Config.PostgresDSN)
		if err != nil {
			return err
		}
		a.closers = append(a.closers, func() error { pool.Close(); return nil })
		if err := migrations.RunPostgresMigrations(ctx, pool); err != nil {
			return err
		}
		a.Store = pgstore.NewBlobStore(pool)

	default:
		return fmt.Errorf("unknown cache backend %q", a.Config.CacheBackend)
	}

	a.Logger.Info().Str("backend", a.Config.CacheBackend).Msg("cache store ready")
	return nil
}

// initProbeLog keeps probe telemetry in ClickHouse when configured, otherwise
// in memory for the lifetime of the process.
func (a *App) initProbeLog(ctx context.Context) error {
	if a.Config.ClickHouseDSN == "" {
		a.ProbeLog = memory.NewProbeLogStore(a.Config.ProbeLogMaxPerOwner)
		return nil
	}

	conn, err := migrations.RunClickhouseMigrations(ctx, a.Config.ClickHouseDSN, migrations.ClickhouseOptions{
		ProbeLogTTLDays: a.Config.ProbeLogTTLDays,
	})
	if err != nil {
		return err
	}
	a.closers = append(a.closers, conn.Close)
	a.ProbeLog = chstore.NewProbeLogStore(conn)

	a.Logger.Info().Int("ttl_days", a.Config.ProbeLogTTLDays).Msg("clickhouse probe log ready")
	return nil
}

func (a *App) initLedger(ctx context.Context) error {
	switch a.Config.Ledger {
	case config.LedgerStub:
		a.Ledger = stub.New(time.Now)
		a.Logger.Warn().Msg("using in-memory stub ledger")
		return nil

	case config.LedgerEVM:
		rpc := evm.NewHTTPClient(a.Config.RPCURL)
		waiter := evm.NewReceiptWaiter(rpc, evm.ReceiptWaiterConfig{
			PollInterval: a.Config.ReceiptPoll,
			Timeout:      a.Config.ReceiptTimeout,
		})

		contract, err := evm.NewContract(rpc, a.Config.ContractAddress, waiter)
		if err != nil {
			return err
		}
		a.Ledger = contract

		if a.Config.WSURL != "" {
			if err := a.followHeads(ctx, waiter); err != nil {
				return err
			}
		}

		a.Logger.Info().
			Str("rpc", a.Config.RPCURL).
			Str("contract", a.Config.ContractAddress.Hex()).
			Bool("heads", a.Heads != nil).
			Msg("evm ledger ready")
		return nil

	default:
		return fmt.Errorf("unknown ledger %q", a.Config.Ledger)
	}
}

// followHeads connects the WebSocket endpoint and lets new heads wake
// pending receipt waits.
func (a *App) followHeads(ctx context.Context, waiter *evm.ReceiptWaiter) error {
	wsCfg := evm.DefaultWSConfig()
	wsCfg.Logger = &a.Logger

	ws, err := evm.NewWSClient(ctx, a.Config.WSURL, &wsCfg)
	if err != nil {
		return err
	}
	a.closers = append(a.closers, ws.Close)

	heads, err := ws.SubscribeNewHeads(ctx)
	if err != nil {
		return fmt.Errorf("subscribe new heads: %w", err)
	}
	go waiter.Follow(ctx, heads)

	a.Heads = ws
	return nil
}

// Close waits for background scans and releases connections in reverse order
// of acquisition.
func (a *App) Close() error {
	if a.Scanner != nil {
		a.Scanner.Wait()
	}

	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}
