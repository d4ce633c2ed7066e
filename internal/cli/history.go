package cli

import (
	"github.com/spf13/cobra"

	"mediator/internal/domain"
	"mediator/internal/output"
)

func NewHistoryCmd(_ *Dependencies) *cobra.Command {
	return &cobra.Command{
		Use:   "history",
		Short: "Show past mediations",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			formatter := output.NewFormatter(cmd.OutOrStdout())
			records := domain.SampleHistory()

			formatter.HistoryHeader()
			for _, r := range records {
				formatter.HistoryItem(r)
			}
			formatter.HistorySummary(len(records), domain.Resolved(records), domain.AverageHarmony(records))
			return nil
		},
	}
}
