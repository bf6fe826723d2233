package main

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/spf13/cobra"

	"onchain-sip/internal/app"
	"onchain-sip/internal/domain"
	"onchain-sip/internal/lifecycle"
	"onchain-sip/internal/portfolio"
)

type createFlags struct {
	from      string
	id        string
	autoID    bool
	total     string
	per       string
	frequency time.Duration
	maturity  string
	dest      string
}

func newCreateCmd(flags *globalFlags) *cobra.Command {
	f := &createFlags{}

	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create a native-coin plan funded with the full total",
		Example: `  sipctl create --from 0xabc... --total 1 --per 0.25 --frequency 168h --maturity 720h --auto-id
  sipctl create --from 0xabc... --id default --total 0.5 --per 0.1 --frequency 24h --maturity 2026-12-31T00:00:00Z`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			now := time.Now()
			owner, params, err := f.params(now)
			if err != nil {
				return err
			}

			return withApp(cmd, flags, func(ctx context.Context, a *app.App) error {
				res, err := a.Controller.Create(ctx, owner, params)
				if err != nil {
					return err
				}
				return printResult(cmd, flags, "created", res, a)
			})
		},
	}

	cmd.Flags().StringVar(&f.from, "from", "", "owner account that signs and funds the plan")
	cmd.Flags().StringVar(&f.id, "id", "", "plan identifier")
	cmd.Flags().BoolVar(&f.autoID, "auto-id", false, "derive the identifier from the owner and current time")
	cmd.Flags().StringVar(&f.total, "total", "", "total amount in native units, e.g. 1.5")
	cmd.Flags().StringVar(&f.per, "per", "", "amount per interval in native units")
	cmd.Flags().DurationVar(&f.frequency, "frequency", 7*24*time.Hour, "interval between executions")
	cmd.Flags().StringVar(&f.maturity, "maturity", "", "maturity as a duration from now (720h) or an RFC3339 time")
	cmd.Flags().StringVar(&f.dest, "dest", "", "destination address (defaults to --from)")
	_ = cmd.MarkFlagRequired("from")
	_ = cmd.MarkFlagRequired("total")
	_ = cmd.MarkFlagRequired("per")
	_ = cmd.MarkFlagRequired("maturity")
	cmd.MarkFlagsMutuallyExclusive("id", "auto-id")
	cmd.MarkFlagsOneRequired("id", "auto-id")

	return cmd
}

// params turns the flags into create parameters. Range checks are left to
// the controller.
func (f *createFlags) params(now time.Time) (owner common.Address, p domain.CreateParams, err error) {
	owner, err = parseAddress("from", f.from)
	if err != nil {
		return owner, p, err
	}

	dest := owner
	if f.dest != "" {
		if dest, err = parseAddress("dest", f.dest); err != nil {
			return owner, p, err
		}
	}

	total, err := domain.ParseNative(f.total)
	if err != nil {
		return owner, p, fmt.Errorf("total: %w", err)
	}
	per, err := domain.ParseNative(f.per)
	if err != nil {
		return owner, p, fmt.Errorf("per: %w", err)
	}

	maturity, err := parseMaturity(f.maturity, now)
	if err != nil {
		return owner, p, err
	}

	if f.frequency < time.Second {
		return owner, p, fmt.Errorf("frequency: must be at least one second")
	}

	id := f.id
	if f.autoID {
		id = domain.NewIdentifier(owner, now)
	}

	return owner, domain.CreateParams{
		Identifier:        id,
		TotalAmount:       total,
		AmountPerInterval: per,
		FrequencySeconds:  uint64(f.frequency / time.Second),
		MaturityTime:      maturity.Unix(),
		Destination:       dest,
	}, nil
}

func parseMaturity(s string, now time.Time) (time.Time, error) {
	s = strings.TrimSpace(s)
	if d, err := time.ParseDuration(s); err == nil {
		return now.Add(d), nil
	}
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("maturity: want a duration or RFC3339 time, got %q", s)
	}
	return t, nil
}

func newExecuteCmd(flags *globalFlags) *cobra.Command {
	return newMutateCmd(flags, "execute <owner> <identifier>", "Execute the next due interval of a plan", "executed",
		func(ctx context.Context, c *lifecycle.Controller, owner common.Address, id string) (*lifecycle.Result, error) {
			return c.ExecuteInterval(ctx, owner, id)
		})
}

func newFinalizeCmd(flags *globalFlags) *cobra.Command {
	return newMutateCmd(flags, "finalize <owner> <identifier>", "Finalize a matured plan", "finalized",
		func(ctx context.Context, c *lifecycle.Controller, owner common.Address, id string) (*lifecycle.Result, error) {
			return c.Finalize(ctx, owner, id)
		})
}

type mutateFunc func(ctx context.Context, c *lifecycle.Controller, owner common.Address, id string) (*lifecycle.Result, error)

func newMutateCmd(flags *globalFlags, use, short, verb string, run mutateFunc) *cobra.Command {
	return &cobra.Command{
		Use:   use,
		Short: short,
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			owner, err := parseAddress("owner", args[0])
			if err != nil {
				return err
			}

			return withApp(cmd, flags, func(ctx context.Context, a *app.App) error {
				res, err := run(ctx, a.Controller, owner, args[1])
				if err != nil {
					return err
				}
				return printResult(cmd, flags, verb, res, a)
			})
		},
	}
}

func printResult(cmd *cobra.Command, flags *globalFlags, verb string, res *lifecycle.Result, a *app.App) error {
	out := cmd.OutOrStdout()
	if flags.jsonOutput {
		return printJSON(out, map[string]interface{}{
			"identifier":  res.Identifier,
			"txHash":      res.TxHash,
			"blockNumber": res.BlockNumber,
		})
	}
	fmt.Fprintf(out, "%s %s in block %d\n", verb, res.Identifier, res.BlockNumber)
	fmt.Fprintf(out, "tx: %s\n", a.Presenter.Explorer.Link(portfolio.LinkTx, res.TxHash))
	return nil
}
