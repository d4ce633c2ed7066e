package cli

import (
	"log/slog"

	"github.com/spf13/cobra"

	"mediator/config"
	"mediator/internal/app"
	"mediator/internal/version"
)

type Dependencies struct {
	App    *app.App
	Config *config.Config
	Logger *slog.Logger
}

// Loader builds the dependencies once the config path flag has been parsed.
type Loader func(configPath string) (*Dependencies, error)

func NewRootCmd(load Loader) *cobra.Command {
	deps := &Dependencies{}
	var configPath string

	rootCmd := &cobra.Command{
		Use:   "mediator",
		Short: "Record two sides of a dispute and get a mediation report",
		Long: "Records a statement from each of two parties, transcribes them live, " +
			"and asks a chat model for a light-hearted mediation report.",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			loaded, err := load(configPath)
			if err != nil {
				return err
			}
			*deps = *loaded
			return nil
		},
	}

	rootCmd.Version = version.Version
	rootCmd.SetVersionTemplate(version.Full() + "\n")
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "config.yaml", "path to config file")

	rootCmd.AddCommand(NewSessionCmd(deps))
	rootCmd.AddCommand(NewAnalyzeCmd(deps))
	rootCmd.AddCommand(NewHistoryCmd(deps))

	return rootCmd
}
