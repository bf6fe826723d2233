package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os/signal"
	"syscall"

	"github.com/ethereum/go-ethereum/common"
	"github.com/spf13/cobra"

	"onchain-sip/internal/app"
	"onchain-sip/internal/config"
	"onchain-sip/pkg/logger"
)

// globalFlags override the environment for one invocation.
type globalFlags struct {
	ledger       string
	cacheBackend string
	logLevel     string
	jsonOutput   bool
}

func newRootCmd() *cobra.Command {
	flags := &globalFlags{}

	root := &cobra.Command{
		Use:   "sipctl",
		Short: "Discover and manage systematic investment plans on the plan contract",
		Long: `sipctl reads plans from the plan contract, keeps the local identifier
cache up to date and submits create, execute and finalize transactions.

Configuration is read from the environment and an optional .env file.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	root.PersistentFlags().StringVar(&flags.ledger, "ledger", "", "ledger backend (evm|stub), overrides SIP_LEDGER")
	root.PersistentFlags().StringVar(&flags.cacheBackend, "cache", "", "cache backend (memory|badger|postgres), overrides SIP_CACHE_BACKEND")
	root.PersistentFlags().StringVar(&flags.logLevel, "log-level", "", "log level, overrides LOG_LEVEL")
	root.PersistentFlags().BoolVar(&flags.jsonOutput, "json", false, "print results as JSON")

	root.AddCommand(
		newScanCmd(flags),
		newCheckCmd(flags),
		newCreateCmd(flags),
		newExecuteCmd(flags),
		newFinalizeCmd(flags),
		newCacheCmd(flags),
	)
	return root
}

// withApp loads configuration, wires the application and runs fn with a
// context cancelled on SIGINT/SIGTERM.
func withApp(cmd *cobra.Command, flags *globalFlags, fn func(ctx context.Context, a *app.App) error) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := loadConfig(flags)
	if err != nil {
		return err
	}

	log := logger.New(logger.Config{Level: cfg.LogLevel, Pretty: true})
	logger.SetGlobalLogger(log)

	// Commands exit right after a write; the next scan command reads fresh state.
	a, err := app.New(ctx, cfg, log, app.WithoutRescanAfterWrite())
	if err != nil {
		return err
	}
	defer func() {
		if err := a.Close(); err != nil {
			log.Warn().Err(err).Msg("close")
		}
	}()

	return fn(ctx, a)
}

func loadConfig(flags *globalFlags) (*config.Config, error) {
	config.LoadDotEnv()
	cfg, err := config.FromEnv()
	if err != nil {
		return nil, err
	}
	if flags.ledger != "" {
		cfg.Ledger = flags.ledger
	}
	if flags.cacheBackend != "" {
		cfg.CacheBackend = flags.cacheBackend
	}
	switch {
	case flags.logLevel != "":
		cfg.LogLevel = flags.logLevel
	case cfg.LogLevel != "debug":
		// Keep command output readable unless debugging was asked for.
		cfg.LogLevel = "warn"
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

func parseAddress(name, s string) (common.Address, error) {
	if !common.IsHexAddress(s) {
		return common.Address{}, fmt.Errorf("%s: invalid address %q", name, s)
	}
	return common.HexToAddress(s), nil
}

func printJSON(w io.Writer, v interface{}) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
