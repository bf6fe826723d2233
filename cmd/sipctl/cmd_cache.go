package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"onchain-sip/internal/app"
)

func newCacheCmd(flags *globalFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "cache",
		Short: "Inspect or clear the local identifier cache",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "list <owner>",
		Short: "List the identifiers known for an owner",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			owner, err := parseAddress("owner", args[0])
			if err != nil {
				return err
			}

			return withApp(cmd, flags, func(ctx context.Context, a *app.App) error {
				ids, err := a.Cache.ListKnown(ctx, owner)
				if err != nil {
					return err
				}

				out := cmd.OutOrStdout()
				if flags.jsonOutput {
					type entry struct {
						Identifier string `json:"identifier"`
						TxHash     string `json:"txHash,omitempty"`
					}
					entries := make([]entry, 0, len(ids))
					for _, id := range ids {
						rec, _, err := a.Cache.LookupTx(ctx, owner, id)
						if err != nil {
							return err
						}
						entries = append(entries, entry{Identifier: id, TxHash: rec.TxHash})
					}
					return printJSON(out, entries)
				}

				if len(ids) == 0 {
					fmt.Fprintln(out, "No cached identifiers.")
					return nil
				}
				for _, id := range ids {
					rec, ok, err := a.Cache.LookupTx(ctx, owner, id)
					if err != nil {
						return err
					}
					if ok {
						fmt.Fprintf(out, "%s\t%s\n", id, rec.TxHash)
					} else {
						fmt.Fprintln(out, id)
					}
				}
				return nil
			})
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "clear <owner>",
		Short: "Forget every identifier and transaction cached for an owner",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			owner, err := parseAddress("owner", args[0])
			if err != nil {
				return err
			}

			return withApp(cmd, flags, func(ctx context.Context, a *app.App) error {
				if err := a.Cache.Clear(ctx, owner); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "cache cleared for %s\n", owner.Hex())
				return nil
			})
		},
	})

	return cmd
}
