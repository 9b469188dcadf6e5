package cmd

import (
	"fmt"

	"github.com/pterm/pterm"
	"github.com/spf13/cobra"

	"github.com/dhcgn/inbox-triage/state"
)

func newJournalCmd(app *App) *cobra.Command {
	var last int

	cmd := &cobra.Command{
		Use:   "journal",
		Short: "Show the most recent moves recorded with --journal",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			records, err := state.Load(app.Config.StateDir)
			if err != nil {
				return err
			}
			if len(records) == 0 {
				pterm.Info.Printf("No moves recorded in %s\n", app.Config.StateDir)
				return nil
			}

			records = lastRecords(records, last)
			data := pterm.TableData{{"Moved at", "UID", "Category", "From", "To", "Batch"}}
			for _, rec := range records {
				data = append(data, []string{
					rec.MovedAt.Local().Format("2006-01-02 15:04:05"),
					fmt.Sprint(rec.UID),
					rec.Category,
					rec.Source,
					rec.Folder,
					truncate(rec.BatchID, 8),
				})
			}
			return pterm.DefaultTable.WithHasHeader().WithData(data).Render()
		},
	}

	cmd.Flags().IntVarP(&last, "last", "n", 20, "Number of records to show (0 = all)")
	return cmd
}

func lastRecords(records []state.Record, n int) []state.Record {
	if n > 0 && len(records) > n {
		return records[len(records)-n:]
	}
	return records
}
