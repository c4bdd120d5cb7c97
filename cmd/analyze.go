package main

import (
	"bytes"
	"encoding/json"
	"io"
	"os"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/sells-group/sub-zapper/internal/model"
)

var analyzeCmd = &cobra.Command{
	Use:   "analyze",
	Short: "Detect subscriptions in a JSON file of emails",
	Long:  "Reads emails from --input (a JSON array, or an object with an \"emails\" array; \"-\" for stdin), runs the extraction pipeline and prints the subscriptions found.",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		input, _ := cmd.Flags().GetString("input")
		format, _ := cmd.Flags().GetString("format")
		noStore, _ := cmd.Flags().GetBool("no-store")
		if err := checkFormat(format); err != nil {
			return err
		}
		if err := cfg.Validate("analyze"); err != nil {
			return err
		}

		emails, err := readEmails(cmd.InOrStdin(), input)
		if err != nil {
			return err
		}

		env, err := initEnv(ctx, !noStore)
		if err != nil {
			return err
		}
		defer env.Close()

		run, err := env.Runner.Analyze(ctx, "cli", emails)
		if err != nil {
			return eris.Wrap(err, "analyze")
		}
		return writeAnalysis(cmd.OutOrStdout(), format, newAnalysisOutput(run))
	},
}

// readEmails loads emails from path, or from stdin when path is "-".
func readEmails(stdin io.Reader, path string) ([]model.EmailRecord, error) {
	var (
		data []byte
		err  error
	)
	if path == "-" {
		data, err = io.ReadAll(stdin)
	} else {
		data, err = os.ReadFile(path)
	}
	if err != nil {
		return nil, eris.Wrapf(err, "read emails from %s", path)
	}
	return decodeEmails(data)
}

func decodeEmails(data []byte) ([]model.EmailRecord, error) {
	data = bytes.TrimSpace(data)
	if len(data) == 0 {
		return nil, eris.New("emails input is empty")
	}

	var emails []model.EmailRecord
	if data[0] == '{' {
		var wrapped struct {
			Emails []model.EmailRecord `json:"emails"`
		}
		if err := json.Unmarshal(data, &wrapped); err != nil {
			return nil, eris.Wrap(err, "decode emails")
		}
		emails = wrapped.Emails
	} else if err := json.Unmarshal(data, &emails); err != nil {
		return nil, eris.Wrap(err, "decode emails")
	}
	if len(emails) == 0 {
		return nil, eris.New("no emails provided for analysis")
	}
	return emails, nil
}

func init() {
	analyzeCmd.Flags().StringP("input", "i", "", "path to a JSON file of emails (\"-\" for stdin)")
	analyzeCmd.Flags().StringP("format", "f", "table", "output format: json, yaml or table")
	analyzeCmd.Flags().Bool("no-store", false, "do not record the run in run history")
	_ = analyzeCmd.MarkFlagRequired("input")
	rootCmd.AddCommand(analyzeCmd)
}
