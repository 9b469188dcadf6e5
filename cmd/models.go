package cmd

import (
	"github.com/pterm/pterm"
	"github.com/spf13/cobra"
)

func newModelsCmd(app *App) *cobra.Command {
	return &cobra.Command{
		Use:   "models",
		Short: "List the models offered by the local model server",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			classifier, err := newLLMClassifier(app.Config, app.Logger)
			if err != nil {
				return err
			}

			selected := app.Config.LLMModel
			for _, name := range classifier.Models(cmd.Context()) {
				if name == selected {
					pterm.Printf("* %s\n", name)
					continue
				}
				pterm.Printf("  %s\n", name)
			}
			return nil
		},
	}
}
