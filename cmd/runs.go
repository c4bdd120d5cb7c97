package main

import (
	"fmt"
	"os"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/sells-group/sub-zapper/internal/model"
	"github.com/sells-group/sub-zapper/internal/monitoring"
	"github.com/sells-group/sub-zapper/internal/store"
)

var runsCmd = &cobra.Command{
	Use:   "runs",
	Short: "Inspect analysis run history",
	Long:  "Commands for listing, viewing, and summarizing analysis runs.",
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if err := rootCmd.PersistentPreRunE(cmd, args); err != nil {
			return err
		}
		return cfg.Validate("runs")
	},
}

// -- runs list --

var runsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List analysis runs",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		status, _ := cmd.Flags().GetString("status")
		source, _ := cmd.Flags().GetString("source")
		limit, _ := cmd.Flags().GetInt("limit")

		runs, err := st.ListRuns(ctx, store.RunFilter{
			Status: model.RunStatus(status),
			Source: source,
			Limit:  limit,
		})
		if err != nil {
			return eris.Wrap(err, "runs list")
		}

		if len(runs) == 0 {
			fmt.Fprintln(os.Stderr, "No runs found.")
			return nil
		}

		formatRunsList(cmd.OutOrStdout(), runs)
		return nil
	},
}

// -- runs show --

var runsShowCmd = &cobra.Command{
	Use:   "show <run-id>",
	Short: "Show the subscriptions found by a run",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		subType, _ := cmd.Flags().GetString("type")
		search, _ := cmd.Flags().GetString("search")
		sortBy, _ := cmd.Flags().GetString("sort")
		format, _ := cmd.Flags().GetString("format")

		q, err := buildQuery(subType, search, sortBy)
		if err != nil {
			return err
		}
		if err := checkFormat(format); err != nil {
			return err
		}

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		run, err := st.GetRun(ctx, args[0])
		if err != nil {
			return eris.Wrap(err, "runs show")
		}

		out := newAnalysisOutput(run)
		out.Subscriptions = q.Apply(out.Subscriptions)

		if format != "table" {
			return writeValue(cmd.OutOrStdout(), format, struct {
				Run     *model.Run                 `json:"run" yaml:"run"`
				Summary model.SubscriptionSummary  `json:"summary" yaml:"summary"`
				Matches []model.SubscriptionRecord `json:"matches" yaml:"matches"`
			}{run, model.Summarize(out.Subscriptions), out.Subscriptions})
		}

		w := cmd.OutOrStdout()
		fmt.Fprintf(w, "Run:     %s\n", run.ID)
		fmt.Fprintf(w, "Status:  %s\n", run.Status)
		fmt.Fprintf(w, "Source:  %s\n", run.Source)
		fmt.Fprintf(w, "Emails:  %d\n", run.AnalyzedCount)
		fmt.Fprintf(w, "Created: %s\n", run.CreatedAt.Format(time.RFC3339))
		if run.Error != "" {
			fmt.Fprintf(w, "Error:   %s\n", run.Error)
		}
		if run.Result != nil {
			s := run.Result.Stats
			fmt.Fprintf(w, "Batches: %d (%d failed)\n", s.Batches, s.FailedBatches)
			fmt.Fprintf(w, "Tokens:  %d, cost $%.4f\n", s.Usage.Total(), s.CostUSD)
		}
		fmt.Fprintln(w)
		return writeAnalysis(w, "table", out)
	},
}

func buildQuery(subType, search, sortBy string) (model.SubscriptionQuery, error) {
	q := model.SubscriptionQuery{Search: search, Sort: sortBy}
	if subType != "" && subType != "all" {
		q.Type = model.SubscriptionType(subType)
		if !q.Type.IsValid() {
			return q, eris.Errorf("unknown subscription type %q", subType)
		}
	}
	switch sortBy {
	case "", "name", "price", "renewal":
	default:
		return q, eris.Errorf("unknown sort %q (want name, price or renewal)", sortBy)
	}
	return q, nil
}

// -- runs renewals --

var runsRenewalsCmd = &cobra.Command{
	Use:   "renewals <run-id>",
	Short: "Show upcoming paid renewals found by a run",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		run, err := st.GetRun(ctx, args[0])
		if err != nil {
			return eris.Wrap(err, "runs renewals")
		}

		var subs []model.SubscriptionRecord
		if run.Result != nil {
			subs = run.Result.Subscriptions
		}
		formatRenewals(cmd.OutOrStdout(), model.Renewals(subs, time.Now().UTC()))
		return nil
	},
}

// -- runs stats --

var runsStatsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Summarize run health over a lookback window",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		since, _ := cmd.Flags().GetDuration("since")
		if since <= 0 {
			return eris.New("--since must be positive")
		}

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		hours := int(since.Round(time.Hour) / time.Hour)
		snap, err := monitoring.NewCollector(st).Collect(ctx, max(hours, 1))
		if err != nil {
			return eris.Wrap(err, "runs stats")
		}

		formatSnapshot(cmd.OutOrStdout(), snap)
		return nil
	},
}

func init() {
	runsListCmd.Flags().String("status", "", "filter by status (running, complete, failed)")
	runsListCmd.Flags().String("source", "", "filter by source (api, cli, gmail)")
	runsListCmd.Flags().Int("limit", 20, "max runs to show")

	runsShowCmd.Flags().String("type", "", "filter by type (paid, free, newsletter)")
	runsShowCmd.Flags().String("search", "", "case-insensitive name filter")
	runsShowCmd.Flags().String("sort", "", "sort by name, price or renewal")
	runsShowCmd.Flags().StringP("format", "f", "table", "output format: json, yaml or table")

	runsStatsCmd.Flags().Duration("since", 24*time.Hour, "lookback window")

	runsCmd.AddCommand(runsListCmd, runsShowCmd, runsRenewalsCmd, runsStatsCmd)
	rootCmd.AddCommand(runsCmd)
}
