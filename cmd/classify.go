package cmd

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strconv"

	"github.com/pterm/pterm"
	"github.com/spf13/cobra"

	"github.com/dhcgn/inbox-triage/llm"
	"github.com/dhcgn/inbox-triage/mbox"
	"github.com/dhcgn/inbox-triage/model"
	"github.com/dhcgn/inbox-triage/progress"
	"github.com/dhcgn/inbox-triage/rules"
	"github.com/dhcgn/inbox-triage/runner"
	"github.com/dhcgn/inbox-triage/stats"
)

func newClassifyCmd(app *App) *cobra.Command {
	var (
		mboxPath string
		explain  bool
	)

	cmd := &cobra.Command{
		Use:   "classify",
		Short: "Categorize the newest messages and print the result without moving anything",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			msgs, err := loadMessages(ctx, app, mboxPath)
			if err != nil {
				return err
			}
			if len(msgs) == 0 {
				pterm.Info.Println("No messages found")
				return nil
			}

			r, llmClassifier, err := newRunner(app.Config, app.Logger)
			if err != nil {
				return err
			}
			stats.NewReporter(r, app.Logger)

			bar := progress.New("Categorizing", workSize(msgs, llmClassifier), app.Config.LogLevel)
			run := categorize(ctx, app, r, bar, msgs)
			r.Close()

			var explainer *rules.Classifier
			if explain {
				if run.Method == runner.MethodRules {
					explainer = rules.FromTable(app.Config.Categories)
				} else {
					pterm.Warning.Println("--explain only applies to the rules method")
				}
			}
			if err := printMessages(msgs, explainer); err != nil {
				return err
			}
			printCounts(msgs)

			return runError(run)
		},
	}

	cmd.Flags().StringVar(&mboxPath, "mbox", "", "Read messages from an mbox archive instead of the IMAP INBOX")
	cmd.Flags().BoolVar(&explain, "explain", false, "Show the rule and keyword behind each rule-based category")
	return cmd
}

// loadMessages returns the newest messages, newest first, from the mbox
// archive at mboxPath or from the IMAP INBOX when mboxPath is empty.
func loadMessages(ctx context.Context, app *App, mboxPath string) ([]*model.Message, error) {
	if mboxPath != "" {
		msgs, err := mbox.Read(ctx, mboxPath, app.Config.FetchLimit, app.Logger)
		if err != nil {
			return nil, err
		}
		slices.Reverse(msgs)
		return msgs, nil
	}

	session, err := connect(ctx, app)
	if err != nil {
		return nil, err
	}
	defer func() {
		_ = session.Logout()
	}()

	return session.FetchLatest(ctx, app.Config.FetchLimit)
}

// categorize runs one batch, reporting to bar. Stopped and failed runs
// leave every message Uncategorised.
func categorize(ctx context.Context, app *App, r *runner.Runner, bar *progress.Bar, msgs []*model.Message) runner.Run {
	method, err := runner.ParseMethod(app.Config.Method)
	if err != nil {
		method = runner.MethodRules
	}

	run := r.Categorize(ctx, msgs, runner.Request{
		Method:     method,
		Model:      app.Config.LLMModel,
		Token:      app.Token,
		OnProgress: bar.Update,
	})
	bar.Stop(string(run.Status))

	switch run.Status {
	case runner.StatusCompleted:
		pterm.Info.Printf("Categorized %d of %d messages with %s\n", run.Processed, run.Total, run.Method)
	case runner.StatusStopped:
		runner.ResetCategories(msgs)
		pterm.Warning.Println("Categorization stopped, all categories were reset")
	default:
		runner.ResetCategories(msgs)
		if errors.Is(run.Err, llm.ErrModelUnreachable) {
			pterm.Error.Println("The model server is not reachable. Start it (e.g. `ollama serve`) or use --method rules")
		} else {
			pterm.Error.Printf("Categorization failed: %v\n", run.Err)
		}
	}
	return run
}

func runError(run runner.Run) error {
	if run.Status == runner.StatusFailed {
		return fmt.Errorf("categorization failed: %w", run.Err)
	}
	return nil
}

func printMessages(msgs []*model.Message, explainer *rules.Classifier) error {
	header := []string{"UID", "Date", "Category", "From", "Subject"}
	if explainer != nil {
		header = append(header, "Rule", "Keyword")
	}
	data := pterm.TableData{header}

	for _, msg := range msgs {
		if msg == nil {
			continue
		}
		date := "-"
		if !msg.Date.IsZero() {
			date = msg.Date.Local().Format("2006-01-02 15:04")
		}
		row := []string{
			strconv.FormatUint(uint64(msg.UID), 10),
			date,
			categoryLabel(msg.Category),
			truncate(msg.From, 40),
			truncate(msg.Subject, 60),
		}
		if explainer != nil {
			match := explainer.Explain(msg)
			row = append(row, match.Rule, match.Keyword)
		}
		data = append(data, row)
	}

	return pterm.DefaultTable.WithHasHeader().WithData(data).Render()
}

func printCounts(msgs []*model.Message) {
	counts := model.CountByCategory(msgs)
	for _, c := range model.Categories {
		if n := counts[c]; n > 0 {
			pterm.Printf("%s: %d\n", categoryLabel(c), n)
		}
	}
}
