package cmd

import (
	"errors"
	"fmt"

	"github.com/pterm/pterm"
	"github.com/spf13/cobra"

	"github.com/dhcgn/inbox-triage/config"
	"github.com/dhcgn/inbox-triage/filter"
	"github.com/dhcgn/inbox-triage/model"
	"github.com/dhcgn/inbox-triage/mover"
	"github.com/dhcgn/inbox-triage/progress"
	"github.com/dhcgn/inbox-triage/runner"
	"github.com/dhcgn/inbox-triage/state"
	"github.com/dhcgn/inbox-triage/stats"
)

func newTriageCmd(app *App) *cobra.Command {
	var (
		dryRun  bool
		archive bool
		only    []string
	)

	cmd := &cobra.Command{
		Use:   "triage",
		Short: "Categorize the newest INBOX messages and move them into their category folders",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			cfg := app.Config
			logger := app.Logger

			targets, err := moveTargets(cfg.Categories, archive, only)
			if err != nil {
				return err
			}

			session, err := connect(ctx, app)
			if err != nil {
				return err
			}
			defer func() {
				_ = session.Logout()
			}()

			msgs, err := session.FetchLatest(ctx, cfg.FetchLimit)
			if err != nil {
				return fmt.Errorf("fetch messages: %w", err)
			}
			if len(msgs) == 0 {
				pterm.Info.Println("INBOX is empty")
				return nil
			}

			r, llmClassifier, err := newRunner(cfg, logger)
			if err != nil {
				return err
			}
			defer r.Close()
			stats.NewReporter(r, logger)
			bar := progress.New("Categorizing", workSize(msgs, llmClassifier), cfg.LogLevel)
			reporter := progress.NewProgressReporter(r, bar, logger)

			run := categorize(ctx, app, r, bar, msgs)
			if run.Status != runner.StatusCompleted {
				r.Close()
				return runError(run)
			}

			if len(targets) == 0 {
				pterm.Info.Println("No category is configured as a move target")
				return nil
			}

			uids, categoryByUID, err := filter.Select(msgs, filter.Options{
				Categories:     targets,
				IncludeSubject: cfg.IncludeSubject,
				IncludeFrom:    cfg.IncludeFrom,
				ExcludeSubject: cfg.ExcludeSubject,
				ExcludeFrom:    cfg.ExcludeFrom,
			})
			if err != nil {
				return err
			}

			if dryRun {
				if err := printPlan(msgs, uids, cfg.Folders); err != nil {
					return err
				}
				pterm.Info.Printf("Dry run: %d of %d messages would be moved\n", len(uids), len(msgs))
				return nil
			}

			journal, closeJournal, err := openJournal(cfg)
			if err != nil {
				return err
			}
			defer closeJournal()

			m, err := mover.New(mover.Options{
				Folders:            cfg.Folders,
				Categories:         targets,
				SingleMoveTestMode: cfg.TestModeSingleMove,
				SourceFolder:       cfg.SourceFolder,
				Events:             r,
			}, journal, logger)
			if err != nil {
				return err
			}

			bar.Start("Moving", len(uids))
			moved, err := m.Move(ctx, session, uids, categoryByUID)
			if err != nil {
				bar.Stop("failed")
				var hard *mover.HardError
				if errors.As(err, &hard) {
					pterm.Error.Printf("The connection failed after %d moves. Verify the mailbox before running again", len(hard.Moved))
					if cfg.Journal {
						pterm.Error.Print(", see `inbox-triage journal`")
					}
					pterm.Println()
				}
				return err
			}

			bar.Stop("completed")

			remaining := model.RemoveUIDs(msgs, moved)
			if cfg.TestModeSingleMove {
				pterm.Warning.Println("Single-move test mode is enabled, at most one message was moved")
			}
			pterm.Success.Printf("Moved %d of %d selected messages, %d remain in %s\n", len(moved), len(uids), len(remaining), cfg.SourceFolder)

			r.Close()
			reporter.Print()
			return nil
		},
	}

	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "Show what would be moved without touching the mailbox")
	cmd.Flags().BoolVar(&archive, "archive", false, "Also move categories whose role is archive")
	cmd.Flags().StringSliceVar(&only, "only", nil, "Restrict moves to these categories")
	return cmd
}

// moveTargets lists the categories a triage run moves: every move role,
// plus archive roles when requested, narrowed to only when given.
func moveTargets(table model.CategoryTable, archive bool, only []string) ([]model.Category, error) {
	targets := table.Targets(model.RoleMove)
	if archive {
		targets = append(targets, table.Targets(model.RoleArchive)...)
	}
	if len(only) == 0 {
		return targets, nil
	}

	allowed := make(map[model.Category]bool, len(only))
	for _, name := range only {
		c, ok := model.ParseCategory(name)
		if !ok || c == model.Uncategorised {
			return nil, fmt.Errorf("--only: %q is not a movable category", name)
		}
		allowed[c] = true
	}

	var narrowed []model.Category
	for _, c := range targets {
		if allowed[c] {
			narrowed = append(narrowed, c)
		}
	}
	return narrowed, nil
}

func openJournal(cfg config.Config) (state.Journal, func(), error) {
	if !cfg.Journal {
		return state.NewMemoryJournal(), func() {}, nil
	}
	journal, err := state.NewFileJournal(cfg.StateDir)
	if err != nil {
		return nil, nil, err
	}
	return journal, func() { _ = journal.Close() }, nil
}

func printPlan(msgs []*model.Message, uids []uint32, folders map[model.Category]string) error {
	selected := make(map[uint32]bool, len(uids))
	for _, uid := range uids {
		selected[uid] = true
	}

	data := pterm.TableData{{"UID", "Category", "Folder", "From", "Subject"}}
	for _, msg := range msgs {
		if msg == nil || !selected[msg.UID] {
			continue
		}
		data = append(data, []string{
			fmt.Sprint(msg.UID),
			categoryLabel(msg.Category),
			folders[msg.Category],
			truncate(msg.From, 40),
			truncate(msg.Subject, 50),
		})
	}
	return pterm.DefaultTable.WithHasHeader().WithData(data).Render()
}
