package main

import (
	"context"
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"onchain-sip/internal/app"
	"onchain-sip/internal/discovery"
	"onchain-sip/internal/portfolio"
)

func newScanCmd(flags *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "scan <owner>",
		Short: "Find the owner's active plans",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			owner, err := parseAddress("owner", args[0])
			if err != nil {
				return err
			}

			return withApp(cmd, flags, func(ctx context.Context, a *app.App) error {
				result, err := a.Scanner.Scan(ctx, owner)
				if err != nil {
					return err
				}
				views := a.Presenter.Views(ctx, owner, result.Plans)
				summary := portfolio.Summarize(result.Plans)

				out := cmd.OutOrStdout()
				if flags.jsonOutput {
					return printJSON(out, map[string]interface{}{
						"owner":      owner.Hex(),
						"scanId":     result.ScanID,
						"plans":      views,
						"summary":    summary,
						"discovered": result.Discovered,
					})
				}
				printScan(out, result, views, summary)
				return nil
			})
		},
	}
}

func printScan(w io.Writer, result *discovery.ScanResult, views []*portfolio.PlanView, summary portfolio.Summary) {
	fmt.Fprintf(w, "Probed %d identifiers: %d active, %d inactive, %d absent, %d errors\n",
		len(result.Probes),
		result.Count(discovery.OutcomeActive),
		result.Count(discovery.OutcomeInactive),
		result.Count(discovery.OutcomeAbsent),
		result.Count(discovery.OutcomeError))

	if len(views) == 0 {
		fmt.Fprintln(w, "No active plans.")
		return
	}

	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "IDENTIFIER\tTOTAL\tEXECUTED\tPROGRESS\tNEXT\tMATURITY\tSTATUS")
	for _, v := range views {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s%%\t%s\t%s\t%s\n",
			v.Identifier,
			v.TotalAmount,
			v.ExecutedAmount,
			v.ProgressPercent,
			v.NextExecution.Format("2006-01-02 15:04"),
			v.Maturity.Format("2006-01-02"),
			viewStatus(v))
	}
	tw.Flush()

	fmt.Fprintf(w, "\n%d active plans, %s invested, %s executed\n",
		summary.ActivePlans, summary.TotalInvested, summary.TotalExecuted)
	for _, id := range result.Discovered {
		fmt.Fprintf(w, "discovered: %s\n", id)
	}
}

func viewStatus(v *portfolio.PlanView) string {
	switch {
	case v.CanFinalize:
		return "matured"
	case v.CanExecute:
		return "due"
	default:
		return "waiting"
	}
}

func newCheckCmd(flags *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "check <owner> <identifier>",
		Short: "Probe one identifier and remember it when active",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			owner, err := parseAddress("owner", args[0])
			if err != nil {
				return err
			}

			return withApp(cmd, flags, func(ctx context.Context, a *app.App) error {
				res, err := a.Scanner.Check(ctx, owner, args[1])
				if err != nil {
					return err
				}

				out := cmd.OutOrStdout()
				if flags.jsonOutput {
					return printJSON(out, map[string]interface{}{
						"identifier": res.Identifier,
						"outcome":    res.Outcome.String(),
						"plan":       res.Plan,
					})
				}

				switch res.Outcome {
				case discovery.OutcomeActive:
					fmt.Fprintf(out, "%s is active and now cached\n", res.Identifier)
				case discovery.OutcomeInactive:
					fmt.Fprintf(out, "%s exists but is no longer active\n", res.Identifier)
				case discovery.OutcomeAbsent:
					fmt.Fprintf(out, "%s was not found for %s\n", res.Identifier, owner.Hex())
				default:
					return fmt.Errorf("probe %s: %w", res.Identifier, res.Err)
				}
				return nil
			})
		},
	}
}
