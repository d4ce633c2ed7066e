package cli

import (
	"errors"
	"strings"

	"github.com/spf13/cobra"

	"mediator/internal/domain"
	"mediator/internal/output"
)

func NewAnalyzeCmd(deps *Dependencies) *cobra.Command {
	var first, second string

	cmd := &cobra.Command{
		Use:   "analyze",
		Short: "Request a mediation report for two typed statements",
		Long:  "Skips recording and sends both statements straight to the model. Without an API key the default report is shown.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			formatter := output.NewFormatter(cmd.OutOrStdout())

			input := domain.MediationInput{
				PartyA: strings.TrimSpace(first),
				PartyB: strings.TrimSpace(second),
			}
			if input.PartyA == "" || input.PartyB == "" {
				return errors.New("both --first and --second are required")
			}

			formatter.Analyzing()
			result, err := deps.App.Analyzer.Analyze(cmd.Context(), input)
			if err != nil {
				return err
			}
			if err := deps.App.Notifier.Notify(cmd.Context(), result); err != nil {
				deps.Logger.Error("delivering report", "error", err)
			}

			formatter.Report(result)
			return nil
		},
	}

	cmd.Flags().StringVar(&first, "first", "", "statement of the first party")
	cmd.Flags().StringVar(&second, "second", "", "statement of the second party")

	return cmd
}
