package progress

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/pterm/pterm"

	"github.com/dhcgn/inbox-triage/llm"
	"github.com/dhcgn/inbox-triage/stats"
)

// Bar renders batch progress in the terminal. One bar serves every phase
// of a command; Start begins the next phase.
type Bar struct {
	pb          *pterm.ProgressbarPrinter
	title       string
	total       int
	current     int
	mu          sync.Mutex
	interactive bool
}

// New creates a progress bar and starts its first phase. It only renders
// when logLevel is "info" so debug output is not interleaved with redraws.
func New(title string, total int, logLevel string) *Bar {
	bar := &Bar{interactive: logLevel == "info"}
	bar.Start(title, total)
	return bar
}

// Start begins a new phase, finishing any bar still drawn.
func (b *Bar) Start(title string, total int) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.pb != nil {
		_, _ = b.pb.Stop()
		b.pb = nil
	}
	b.title = title
	b.total = total
	b.current = 0

	if b.interactive && total > 0 {
		pb, _ := pterm.DefaultProgressbar.
			WithTotal(total).
			WithTitle(title).
			Start()
		b.pb = pb
	}
}

// Enabled reports whether the current phase is drawn.
func (b *Bar) Enabled() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.pb != nil
}

// Update moves the bar to processed. It satisfies llm.ProgressFunc.
func (b *Bar) Update(processed, total int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.set(processed, total)
}

func (b *Bar) advance() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.set(b.current+1, b.total)
}

func (b *Bar) set(processed, total int) {
	if processed > b.current {
		b.current = processed
	}
	if b.pb == nil {
		return
	}
	if delta := b.current - b.pb.Current; delta > 0 {
		b.pb.Add(delta)
	}
	b.pb.UpdateTitle(fmt.Sprintf("%s (%d%%)", b.title, llm.Percent(b.current, total)))
}

// Stop finalizes the current phase with its terminal status.
func (b *Bar) Stop(status string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.pb == nil {
		return
	}
	_, _ = b.pb.Stop()
	b.pb = nil

	switch status {
	case "completed":
		pterm.Success.Printf("%s complete\n", b.title)
	case "stopped":
		pterm.Warning.Printf("%s stopped\n", b.title)
	default:
		pterm.Error.Printf("%s %s\n", b.title, status)
	}
}

// Subscriber advances the bar on move outcomes and prints move failures and
// errors above it.
func (b *Bar) Subscriber(ctx context.Context, events <-chan stats.Event) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case evt, ok := <-events:
			if !ok {
				return nil
			}
			b.notify(evt)
		}
	}
}

func (b *Bar) notify(evt stats.Event) {
	if evt.Stage == stats.StageMove {
		switch evt.Type {
		case stats.EventTypeMoved, stats.EventTypeSkipped, stats.EventTypeMoveFailed:
			b.advance()
		}
	}

	switch evt.Type {
	case stats.EventTypeMoveFailed:
		pterm.Warning.Printf("Could not move UID %d: %v\n", evt.UID, evt.Err)
	case stats.EventTypeError:
		// categorization errors are reported by the caller from the run
		if evt.Stage == stats.StageMove && evt.Err != nil {
			pterm.Error.Printf("Error: %v\n", evt.Err)
		}
	}
}

// ProgressReporter prints a pterm summary once the event stream ends.
type ProgressReporter struct {
	collector *stats.Collector
	started   time.Time
	done      chan struct{}
}

func NewProgressReporter(stream stats.EventStream, bar *Bar, logger *slog.Logger) *ProgressReporter {
	reporter := &ProgressReporter{
		collector: stats.NewCollector(),
		started:   time.Now(),
		done:      make(chan struct{}),
	}

	if bar != nil {
		stream.SubscribeStats("progress-bar", bar.Subscriber)
	}
	stream.SubscribeStats("progress-stats", func(ctx context.Context, events <-chan stats.Event) error {
		defer close(reporter.done)
		reporter.collector.Run(ctx, events)
		if logger != nil {
			logger.Debug("progress summary collected", reporter.collector.Snapshot().LogAttrs()...)
		}
		return nil
	})

	return reporter
}

// Summary blocks until the stream is closed and returns the final counts.
func (pr *ProgressReporter) Summary() stats.Summary {
	<-pr.done
	return pr.collector.Snapshot()
}

// Print renders the final summary.
func (pr *ProgressReporter) Print() {
	summary := pr.Summary()

	pterm.Println()
	pterm.DefaultSection.Println("Summary Statistics")
	pterm.Info.Printf("Duration: %v\n", time.Since(pr.started).Round(time.Millisecond))
	pterm.Info.Printf("Classified: %d\n", summary.Classified)
	for _, p := range stats.Top(summary.ByCategory, -1) {
		pterm.Info.Printf("  %s: %d\n", p.Key, p.Value)
	}
	pterm.Info.Printf("Moved: %d\n", summary.Moved)
	for _, p := range stats.Top(summary.MovedTo, -1) {
		pterm.Info.Printf("  %s: %d\n", p.Key, p.Value)
	}
	pterm.Info.Printf("Folders created: %d\n", summary.FoldersCreated)
	pterm.Info.Printf("Skipped: %d\n", summary.Skipped)
	pterm.Info.Printf("Move failures: %d\n", summary.MoveFailed)
	pterm.Info.Printf("Errors: %d\n", summary.Errors)
	if summary.LastError != nil {
		pterm.Error.Printf("Last error: %v\n", summary.LastError)
	}
}
