package main

import (
	"os"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/sub-zapper/internal/mailsource"
	"github.com/sells-group/sub-zapper/internal/model"
)

var fetchCmd = &cobra.Command{
	Use:   "fetch",
	Short: "Pull recent messages from Gmail",
	Long:  "Fetches messages with an OAuth access token (--token or $GMAIL_ACCESS_TOKEN) and prints them as email records, or analyzes them directly with --analyze.",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		token, _ := cmd.Flags().GetString("token")
		maxResults, _ := cmd.Flags().GetInt64("max")
		query, _ := cmd.Flags().GetString("query")
		analyze, _ := cmd.Flags().GetBool("analyze")
		format, _ := cmd.Flags().GetString("format")

		if token == "" {
			token = os.Getenv("GMAIL_ACCESS_TOKEN")
		}
		if err := checkFormat(format); err != nil {
			return err
		}
		if err := cfg.Validate("fetch"); err != nil {
			return err
		}
		if analyze {
			if err := cfg.Validate("analyze"); err != nil {
				return err
			}
		}

		req := mailsource.FetchRequest{AccessToken: token, MaxResults: maxResults, Query: query}

		if !analyze {
			emails, err := mailsource.NewGmail(cfg.Gmail).Fetch(ctx, req)
			if err != nil {
				return eris.Wrap(err, "fetch")
			}
			return writeEmails(cmd, format, emails)
		}

		env, err := initEnv(ctx, true)
		if err != nil {
			return err
		}
		defer env.Close()

		emails, err := env.Source.Fetch(ctx, req)
		if err != nil {
			return eris.Wrap(err, "fetch")
		}
		zap.L().Info("fetched messages", zap.Int("count", len(emails)))
		if len(emails) == 0 {
			return writeAnalysis(cmd.OutOrStdout(), format, analysisOutput{Subscriptions: []model.SubscriptionRecord{}})
		}

		run, err := env.Runner.Analyze(ctx, "gmail", emails)
		if err != nil {
			return eris.Wrap(err, "analyze")
		}
		return writeAnalysis(cmd.OutOrStdout(), format, newAnalysisOutput(run))
	},
}

func writeEmails(cmd *cobra.Command, format string, emails []model.EmailRecord) error {
	if emails == nil {
		emails = []model.EmailRecord{}
	}
	if format == "table" {
		formatEmails(cmd.OutOrStdout(), emails)
		return nil
	}
	return writeValue(cmd.OutOrStdout(), format, emails)
}

func init() {
	fetchCmd.Flags().String("token", "", "Gmail OAuth access token")
	fetchCmd.Flags().Int64("max", 100, "maximum messages to fetch")
	fetchCmd.Flags().String("query", "", "Gmail search query (default from config)")
	fetchCmd.Flags().Bool("analyze", false, "analyze the fetched messages and record a run")
	fetchCmd.Flags().StringP("format", "f", "json", "output format: json, yaml or table")
	rootCmd.AddCommand(fetchCmd)
}
