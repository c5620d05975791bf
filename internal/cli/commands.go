package cli

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/folioforge/backend/internal/domain"
	"github.com/folioforge/backend/internal/service"
	"github.com/spf13/cobra"
)

const timeLayout = "2006-01-02 15:04:05"

func showCmd(load Loader) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "show [ref]",
		Short: "Show a ledger row and its callback audit trail",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			payloads, _ := cmd.Flags().GetBool("payloads")
			return withEnv(cmd, load, func(ctx context.Context, env *Env) error {
				svc := billing(env)
				txn, err := svc.Transaction(ctx, args[0])
				if err != nil {
					return err
				}
				logs, err := svc.CallbackLogs(ctx, args[0])
				if err != nil {
					return err
				}

				out := cmd.OutOrStdout()
				if wantJSON(cmd) {
					return printJSON(out, map[string]interface{}{"transaction": txn, "callbacks": logs})
				}

				fmt.Fprintf(out, "Transaction %s\n", txn.TransactionID)
				fmt.Fprintln(out, strings.Repeat("=", 40))
				fmt.Fprintf(out, "  Status:    %s\n", txn.Status)
				fmt.Fprintf(out, "  Provider:  %s\n", txn.Provider)
				fmt.Fprintf(out, "  User:      %s\n", txn.UserID)
				fmt.Fprintf(out, "  Plan:      %s\n", txn.Plan)
				fmt.Fprintf(out, "  Amount:    %d %s\n", txn.Amount, txn.Currency)
				fmt.Fprintf(out, "  Created:   %s\n", txn.CreatedAt.UTC().Format(timeLayout))
				fmt.Fprintf(out, "  Updated:   %s\n", txn.UpdatedAt.UTC().Format(timeLayout))
				if len(txn.Metadata) > 0 {
					fmt.Fprintln(out, "\nMetadata:")
					keys := make([]string, 0, len(txn.Metadata))
					for k := range txn.Metadata {
						keys = append(keys, k)
					}
					sort.Strings(keys)
					for _, k := range keys {
						fmt.Fprintf(out, "  %-22s %s\n", k+":", txn.Metadata[k])
					}
				}

				if len(logs) == 0 {
					fmt.Fprintln(out, "\nCallbacks: (none)")
					return nil
				}
				fmt.Fprintln(out, "\nCallbacks:")
				tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
				fmt.Fprintln(tw, "  RECEIVED\tCHANNEL\tSIGNED\tOUTCOME\tERROR")
				for _, l := range logs {
					fmt.Fprintf(tw, "  %s\t%s\t%t\t%s\t%s\n", l.ReceivedAt.UTC().Format(timeLayout), l.Channel, l.SignatureValid, l.Outcome, l.Error)
				}
				if err := tw.Flush(); err != nil {
					return err
				}

				if payloads && env.Sealer != nil {
					fmt.Fprintln(out, "\nPayloads:")
					for _, l := range logs {
						if l.Payload == "" {
							continue
						}
						raw, err := env.Sealer.Open(l.Payload, l.TransactionRef)
						if err != nil {
							fmt.Fprintf(out, "  %s: cannot open (%s)\n", l.ID, err)
							continue
						}
						fmt.Fprintf(out, "  %s: %s\n", l.ID, raw)
					}
				}
				return nil
			})
		},
	}

	cmd.Flags().Bool("payloads", false, "Decrypt and print captured gateway payloads")

	return cmd
}

func listCmd(load Loader) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List ledger rows, newest first",
		RunE: func(cmd *cobra.Command, args []string) error {
			user, _ := cmd.Flags().GetString("user")
			status, _ := cmd.Flags().GetString("status")
			provider, _ := cmd.Flags().GetString("provider")
			limit, _ := cmd.Flags().GetInt("limit")

			filter := domain.TransactionFilter{
				UserID:   user,
				Status:   domain.TransactionStatus(strings.ToUpper(status)),
				Provider: domain.Provider(strings.ToLower(provider)),
				Limit:    limit,
			}
			if filter.Provider != "" && !filter.Provider.Valid() {
				return fmt.Errorf("unknown provider %q", provider)
			}

			return withEnv(cmd, load, func(ctx context.Context, env *Env) error {
				rows, err := billing(env).List(ctx, filter)
				if err != nil {
					return err
				}
				out := cmd.OutOrStdout()
				if wantJSON(cmd) {
					return printJSON(out, rows)
				}
				if len(rows) == 0 {
					fmt.Fprintln(out, "No transactions.")
					return nil
				}
				tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
				fmt.Fprintln(tw, "REF\tPROVIDER\tSTATUS\tAMOUNT\tUPDATED")
				for _, t := range rows {
					fmt.Fprintf(tw, "%s\t%s\t%s\t%d %s\t%s\n", t.TransactionID, t.Provider, t.Status, t.Amount, t.Currency, t.UpdatedAt.UTC().Format(timeLayout))
				}
				return tw.Flush()
			})
		},
	}

	cmd.Flags().StringP("user", "u", "", "Filter by user id")
	cmd.Flags().StringP("status", "s", "", "Filter by status (PENDING, SUCCESS, FAILED)")
	cmd.Flags().StringP("provider", "p", "", "Filter by provider (stripe, vnpay, momo)")
	cmd.Flags().IntP("limit", "n", 50, "Maximum rows")

	return cmd
}

func statsCmd(load Loader) *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Show ledger counts by status and provider",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEnv(cmd, load, func(ctx context.Context, env *Env) error {
				stats, err := billing(env).Stats(ctx)
				if err != nil {
					return err
				}
				out := cmd.OutOrStdout()
				if wantJSON(cmd) {
					return printJSON(out, stats)
				}

				fmt.Fprintln(out, "Ledger")
				fmt.Fprintln(out, strings.Repeat("=", 40))
				fmt.Fprintln(out, "\nBy status:")
				for _, s := range []domain.TransactionStatus{domain.StatusPending, domain.StatusSuccess, domain.StatusFailed} {
					fmt.Fprintf(out, "  %-12s %d\n", string(s)+":", stats.ByStatus[s])
				}
				fmt.Fprintln(out, "\nBy provider:")
				for _, p := range []domain.Provider{domain.ProviderStripe, domain.ProviderVNPay, domain.ProviderMoMo} {
					fmt.Fprintf(out, "  %-12s %d\n", string(p)+":", stats.ByProvider[p])
				}
				fmt.Fprintf(out, "\nActive subscriptions: %d\n", stats.ActiveSubscriptions)
				return nil
			})
		},
	}
}

func rebuildCmd(load Loader) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "rebuild",
		Short: "Recompute a user's subscription from settled ledger rows",
		RunE: func(cmd *cobra.Command, args []string) error {
			user, _ := cmd.Flags().GetString("user")
			return withEnv(cmd, load, func(ctx context.Context, env *Env) error {
				sub, err := service.NewReconciler(env.Store).Rebuild(ctx, user)
				if err != nil {
					return err
				}
				out := cmd.OutOrStdout()
				if wantJSON(cmd) {
					return printJSON(out, sub)
				}
				fmt.Fprintf(out, "Rebuilt %s: %s %s until %s (from %s)\n",
					sub.UserID, sub.Plan, sub.Status, sub.CurrentPeriodEnd.UTC().Format(timeLayout), sub.ProviderTransactionRef)
				return nil
			})
		},
	}

	cmd.Flags().StringP("user", "u", "", "User id")
	_ = cmd.MarkFlagRequired("user")

	return cmd
}

func sweepCmd(load Loader) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "sweep",
		Short: "Expire PENDING rows older than a cutoff",
		RunE: func(cmd *cobra.Command, args []string) error {
			olderThan, _ := cmd.Flags().GetDuration("older-than")
			if olderThan <= 0 {
				return fmt.Errorf("--older-than must be positive")
			}
			return withEnv(cmd, load, func(ctx context.Context, env *Env) error {
				n, err := service.NewSweeper(env.Store.Ledger(), olderThan, time.Hour).Sweep(ctx, olderThan)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Expired %d pending transaction(s)\n", n)
				return nil
			})
		},
	}

	cmd.Flags().Duration("older-than", 48*time.Hour, "Age after which a PENDING row is abandoned")

	return cmd
}
