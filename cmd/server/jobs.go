package main

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"
)

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// parseAsOf accepts RFC 3339 or a bare date; empty means now.
func parseAsOf(s string) (time.Time, error) {
	if s == "" {
		return time.Now().UTC(), nil
	}
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t, nil
	}
	t, err := time.Parse(time.DateOnly, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid --as-of %q", s)
	}
	return t, nil
}

func importCmd() *cobra.Command {
	var file, format string
	cmd := &cobra.Command{
		Use:   "import",
		Short: "Ingest an order feed and finalize every new order",
		Example: `  ledger import --file testdata/orders.json --format json
  ledger import --file export.csv --format csv_erp`,
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := os.ReadFile(file)
			if err != nil {
				return fmt.Errorf("read feed: %w", err)
			}
			if format == "" {
				format = formatFor(file)
			}

			a, cleanup, err := bootstrap(cmd.Context())
			if err != nil {
				return err
			}
			defer cleanup()

			result, err := a.Ingestion.IngestOrders(cmd.Context(), data, format)
			if err != nil {
				return err
			}
			return printJSON(result)
		},
	}
	cmd.Flags().StringVarP(&file, "file", "f", "", "feed file to ingest")
	cmd.Flags().StringVar(&format, "format", "", "feed format (csv, csv_erp, json); guessed from the extension when empty")
	_ = cmd.MarkFlagRequired("file")
	return cmd
}

func backfillCmd() *cobra.Command {
	var revendaID string
	var settlements bool
	cmd := &cobra.Command{
		Use:   "backfill",
		Short: "Create missing installment plans for existing orders",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, cleanup, err := bootstrap(cmd.Context())
			if err != nil {
				return err
			}
			defer cleanup()

			var scope *string
			if revendaID != "" {
				scope = &revendaID
			}

			plans, err := a.Reconciliation.Reconcile(cmd.Context(), scope)
			if err != nil {
				return err
			}
			out := map[string]any{"plans": plans}

			if settlements {
				txns, err := a.Reconciliation.ReconcileSettlements(cmd.Context(), scope)
				if err != nil {
					return err
				}
				out["settlements"] = txns
			}
			return printJSON(out)
		},
	}
	cmd.Flags().StringVar(&revendaID, "revenda", "", "limit the run to one revenda")
	cmd.Flags().BoolVar(&settlements, "settlements", false, "also record missing financial transactions")
	return cmd
}

func dedupeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "dedupe",
		Short: "Remove duplicate financial transactions and install the unique guard",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, cleanup, err := bootstrap(cmd.Context())
			if err != nil {
				return err
			}
			defer cleanup()

			result, err := a.Reconciliation.Clean(cmd.Context())
			if err != nil {
				return err
			}
			return printJSON(result)
		},
	}
}

func sweepCmd() *cobra.Command {
	var asOf string
	cmd := &cobra.Command{
		Use:   "sweep-overdue",
		Short: "Mark pending installments past their due date as overdue",
		RunE: func(cmd *cobra.Command, args []string) error {
			var at time.Time
			if asOf != "" {
				var err error
				if at, err = parseAsOf(asOf); err != nil {
					return err
				}
			}
			a, cleanup, err := bootstrap(cmd.Context())
			if err != nil {
				return err
			}
			defer cleanup()

			result, err := a.Ledger.SweepOverdue(cmd.Context(), at)
			if err != nil {
				return err
			}
			return printJSON(result)
		},
	}
	cmd.Flags().StringVar(&asOf, "as-of", "", "reference date, not later than now (default now)")
	return cmd
}

func releaseCmd() *cobra.Command {
	var asOf string
	cmd := &cobra.Command{
		Use:   "release",
		Short: "Release financial transactions whose payout date has come",
		RunE: func(cmd *cobra.Command, args []string) error {
			at, err := parseAsOf(asOf)
			if err != nil {
				return err
			}
			a, cleanup, err := bootstrap(cmd.Context())
			if err != nil {
				return err
			}
			defer cleanup()

			n, err := a.Payouts.ReleaseDue(cmd.Context(), at)
			if err != nil {
				return err
			}
			return printJSON(map[string]any{"released_count": n, "as_of": at})
		},
	}
	cmd.Flags().StringVar(&asOf, "as-of", "", "reference date (default now)")
	return cmd
}
