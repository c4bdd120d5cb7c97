package main

import (
	"encoding/json"
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/rotisserie/eris"
	"gopkg.in/yaml.v3"

	"github.com/sells-group/sub-zapper/internal/model"
	"github.com/sells-group/sub-zapper/internal/monitoring"
)

// analysisOutput is what analyze and fetch --analyze print.
type analysisOutput struct {
	RunID         string                     `json:"runId,omitempty" yaml:"run_id,omitempty"`
	AnalyzedCount int                        `json:"analyzedCount" yaml:"analyzed_count"`
	Subscriptions []model.SubscriptionRecord `json:"subscriptions" yaml:"subscriptions"`
	Stats         model.RunStats             `json:"stats" yaml:"stats"`
}

func newAnalysisOutput(run *model.Run) analysisOutput {
	out := analysisOutput{
		RunID:         run.ID,
		AnalyzedCount: run.AnalyzedCount,
		Subscriptions: []model.SubscriptionRecord{},
	}
	if run.Result != nil {
		out.AnalyzedCount = run.Result.AnalyzedCount
		out.Stats = run.Result.Stats
		if run.Result.Subscriptions != nil {
			out.Subscriptions = run.Result.Subscriptions
		}
	}
	return out
}

func checkFormat(format string) error {
	switch format {
	case "json", "yaml", "table":
		return nil
	}
	return eris.Errorf("unknown format %q (want json, yaml or table)", format)
}

// writeValue encodes v as indented JSON or YAML.
func writeValue(w io.Writer, format string, v any) error {
	switch format {
	case "yaml":
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		if err := enc.Encode(v); err != nil {
			return eris.Wrap(err, "encode yaml")
		}
		return eris.Wrap(enc.Close(), "encode yaml")
	default:
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return eris.Wrap(enc.Encode(v), "encode json")
	}
}

func writeAnalysis(w io.Writer, format string, out analysisOutput) error {
	if format == "table" {
		formatSubscriptions(w, out.Subscriptions)
		summary := model.Summarize(out.Subscriptions)
		_, _ = fmt.Fprintf(w, "\n%d subscriptions from %d emails", summary.Total, out.AnalyzedCount)
		if summary.MonthlySpend > 0 {
			_, _ = fmt.Fprintf(w, ", $%.2f/month paid", summary.MonthlySpend)
		}
		if out.RunID != "" {
			_, _ = fmt.Fprintf(w, " (run %s)", truncateID(out.RunID))
		}
		_, _ = fmt.Fprintln(w)
		return nil
	}
	return writeValue(w, format, out)
}

// formatSubscriptions writes a tabular list of subscriptions to w.
func formatSubscriptions(out io.Writer, subs []model.SubscriptionRecord) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "NAME\tTYPE\tPRICE\tRENEWAL\tUNSUBSCRIBE")
	_, _ = fmt.Fprintln(w, "----\t----\t-----\t-------\t-----------")

	for _, s := range subs {
		price := ""
		if s.Price != nil {
			price = fmt.Sprintf("$%.2f", *s.Price)
		}
		_, _ = fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n",
			clip(s.Name, 30),
			s.Type,
			price,
			s.RenewalDate,
			clip(s.UnsubscribeURL, 50),
		)
	}
	_ = w.Flush()
}

// formatRunsList writes a tabular list of runs to w.
func formatRunsList(out io.Writer, runs []model.Run) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "ID\tSOURCE\tSTATUS\tEMAILS\tSUBS\tCREATED\tDURATION")
	_, _ = fmt.Fprintln(w, "--\t------\t------\t------\t----\t-------\t--------")

	for _, r := range runs {
		dur := r.UpdatedAt.Sub(r.CreatedAt).Round(time.Second).String()
		subs := ""
		if r.Result != nil {
			subs = fmt.Sprint(len(r.Result.Subscriptions))
		}
		_, _ = fmt.Fprintf(w, "%s\t%s\t%s\t%d\t%s\t%s\t%s\n",
			truncateID(r.ID),
			r.Source,
			r.Status,
			r.AnalyzedCount,
			subs,
			r.CreatedAt.Format("2006-01-02 15:04"),
			dur,
		)
	}
	_ = w.Flush()
}

// formatRenewals writes a renewal schedule grouped by horizon.
func formatRenewals(out io.Writer, sched model.RenewalSchedule) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	groups := []struct {
		title string
		subs  []model.SubscriptionRecord
	}{
		{"Next 7 days", sched.Upcoming},
		{"Later this month", sched.ThisMonth},
		{"Later", sched.Later},
	}
	for _, g := range groups {
		_, _ = fmt.Fprintf(w, "%s:\n", g.title)
		if len(g.subs) == 0 {
			_, _ = fmt.Fprintln(w, "  (none)")
			continue
		}
		for _, s := range g.subs {
			_, _ = fmt.Fprintf(w, "  %s\t%s\t$%.2f\n", s.RenewalDate, s.Name, s.PriceValue())
		}
	}
	_ = w.Flush()
}

// truncateID returns the first 8 characters of a UUID for compact display.
func truncateID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

func clip(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-3]) + "..."
}

// formatEmails writes a tabular list of email records to w.
func formatEmails(out io.Writer, emails []model.EmailRecord) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "DATE\tFROM\tSUBJECT")
	_, _ = fmt.Fprintln(w, "----\t----\t-------")
	for _, e := range emails {
		_, _ = fmt.Fprintf(w, "%s\t%s\t%s\n", clip(e.Date, 25), clip(e.From, 40), clip(e.Subject, 60))
	}
	_ = w.Flush()
}

// formatSnapshot writes a run-health summary to w.
func formatSnapshot(w io.Writer, s *monitoring.Snapshot) {
	_, _ = fmt.Fprintf(w, "Last %dh:\n", s.LookbackHours)
	_, _ = fmt.Fprintf(w, "  Runs:          %d (%d complete, %d failed, %d running)\n",
		s.RunsTotal, s.RunsComplete, s.RunsFailed, s.RunsRunning)
	_, _ = fmt.Fprintf(w, "  Fail rate:     %.1f%%\n", s.FailRate*100)
	_, _ = fmt.Fprintf(w, "  Subscriptions: %d\n", s.Subscriptions)
	_, _ = fmt.Fprintf(w, "  Failed batches: %d\n", s.FailedBatches)
	_, _ = fmt.Fprintf(w, "  Tokens:        %d\n", s.Tokens)
	_, _ = fmt.Fprintf(w, "  Cost:          $%.4f\n", s.CostUSD)
}
