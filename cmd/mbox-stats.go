package cmd

import (
	"encoding/csv"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/dhcgn/inbox-triage/filter"
	"github.com/dhcgn/inbox-triage/mbox"
	"github.com/dhcgn/inbox-triage/model"
	"github.com/dhcgn/inbox-triage/progress"
	"github.com/dhcgn/inbox-triage/rules"
	"github.com/dhcgn/inbox-triage/stats"
)

// Report dimensions, in print order.
const (
	dimCategory       = "Category"
	dimFrom           = "From"
	dimSubject        = "Subject"
	dimCategorySender = "Category-Sender"
)

var trackedDimensions = []string{dimCategory, dimFrom, dimSubject, dimCategorySender}

// mboxCounter tallies rule categories over an archive.
type mboxCounter struct {
	counts     map[string]map[string]int
	total      int
	movable    int
	classifier *rules.Classifier
	filter     *filter.Filter
}

func newMboxCounter(classifier *rules.Classifier, f *filter.Filter) *mboxCounter {
	counts := make(map[string]map[string]int, len(trackedDimensions))
	for _, d := range trackedDimensions {
		counts[d] = make(map[string]int)
	}
	return &mboxCounter{counts: counts, classifier: classifier, filter: f}
}

func (c *mboxCounter) add(msg *model.Message) {
	msg.Category = c.classifier.Classify(msg)
	c.total++

	category := msg.Category.String()
	c.counts[dimCategory][category]++
	if msg.From != "" {
		c.counts[dimFrom][msg.From]++
		c.counts[dimCategorySender][category+" | "+msg.From]++
	}
	if msg.Subject != "" {
		c.counts[dimSubject][msg.Subject]++
	}
	if c.filter != nil && c.filter.Allows(msg) {
		c.movable++
	}
}

func newMboxStatsCmd(app *App) *cobra.Command {
	var (
		reportDir string
		topN      int
	)

	cmd := &cobra.Command{
		Use:   "mbox-stats [mbox file]",
		Short: "Categorize an mbox archive with the rules and show statistics",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			mboxPath := args[0]
			cfg := app.Config

			fmt.Println("Analyzing mbox file:", mboxPath)

			f, err := filter.New(filter.Options{
				Categories:     cfg.Categories.Targets(model.RoleMove),
				IncludeSubject: cfg.IncludeSubject,
				IncludeFrom:    cfg.IncludeFrom,
				ExcludeSubject: cfg.ExcludeSubject,
				ExcludeFrom:    cfg.ExcludeFrom,
			})
			if err != nil {
				return fmt.Errorf("create filter: %w", err)
			}

			total, err := mbox.CountMessages(mboxPath)
			if err != nil {
				return fmt.Errorf("count messages: %w", err)
			}

			file, err := os.Open(mboxPath)
			if err != nil {
				return fmt.Errorf("open mbox: %w", err)
			}
			defer file.Close()

			counter := newMboxCounter(rules.FromTable(cfg.Categories), f)
			bar := progress.New("Analyzing", total, cfg.LogLevel)
			err = mbox.Stream(cmd.Context(), file, app.Logger, func(msg *model.Message) error {
				counter.add(msg)
				bar.Update(int(msg.UID), total)
				return nil
			})
			if err != nil {
				bar.Stop("failed")
				return fmt.Errorf("error reading mbox file: %w", err)
			}
			bar.Stop("completed")

			fmt.Printf("\nClassified %d of %d messages, %d would be moved\n\n", counter.total, total, counter.movable)
			for _, d := range trackedDimensions {
				fmt.Printf("Top %d %s:\n", topN, d)
				stats.PrettyPrintTop(counter.counts[d], topN)
				fmt.Println()
			}

			if err := saveCSVReports(counter.counts, trackedDimensions, reportDir, 1000); err != nil {
				return fmt.Errorf("error saving CSV reports: %w", err)
			}

			fmt.Printf("Reports saved to directory: %s\n", reportDir)
			return nil
		},
	}

	cmd.Flags().StringVarP(&reportDir, "output", "o", ".", "Output directory for CSV reports")
	cmd.Flags().IntVarP(&topN, "top", "t", 10, "Number of top items to display in statistics")
	return cmd
}

func saveCSVReports(counter map[string]map[string]int, dimensions []string, dir string, limit int) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}

	for _, d := range dimensions {
		filePath := filepath.Join(dir, fmt.Sprintf("report_%s.csv", normalizeHeaderName(d)))
		if err := writeCSVReport(filePath, stats.Top(counter[d], limit)); err != nil {
			return err
		}
	}
	return nil
}

func writeCSVReport(path string, pairs []stats.Pair) error {
	file, err := os.Create(path)
	if err != nil {
		return err
	}
	defer file.Close()

	writer := csv.NewWriter(file)
	if err := writer.Write([]string{"Value", "Count"}); err != nil {
		return err
	}
	for _, p := range pairs {
		if err := writer.Write([]string{p.Key, strconv.Itoa(p.Value)}); err != nil {
			return err
		}
	}
	writer.Flush()
	if err := writer.Error(); err != nil {
		return err
	}
	return file.Close()
}

func normalizeHeaderName(header string) string {
	name := strings.ToLower(header)
	name = strings.ReplaceAll(name, "-", "_")
	name = strings.ReplaceAll(name, " ", "_")
	return name
}
