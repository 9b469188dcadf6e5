package stats

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"
)

type Stage string

const (
	StageClassify Stage = "classify"
	StageMove     Stage = "move"
)

type EventType string

const (
	EventTypeClassified    EventType = "classified"
	EventTypeMoved         EventType = "moved"
	EventTypeSkipped       EventType = "skipped"
	EventTypeMoveFailed    EventType = "move_failed"
	EventTypeFolderCreated EventType = "folder_created"
	EventTypeError         EventType = "error"
)

type Event struct {
	Stage    Stage
	Type     EventType
	UID      uint32
	Category string
	Folder   string
	Err      error
	Detail   string
}

type Summary struct {
	Classified     int
	Moved          int
	Skipped        int
	MoveFailed     int
	FoldersCreated int
	Errors         int
	LastError      error
	// ByCategory counts classified messages per category.
	ByCategory map[string]int
	// MovedTo counts moved messages per destination folder.
	MovedTo map[string]int
}

func (s Summary) LogAttrs() []any {
	attrs := []any{
		"classified", s.Classified,
		"moved", s.Moved,
		"skipped", s.Skipped,
		"moveFailed", s.MoveFailed,
		"foldersCreated", s.FoldersCreated,
		"errors", s.Errors,
	}
	if s.LastError != nil {
		attrs = append(attrs, "lastError", s.LastError.Error())
	}
	return attrs
}

// Emitter accepts events; a nil Emitter is valid for callers that do not
// collect stats.
type Emitter interface {
	EmitEvent(evt Event)
}

// Emit sends evt to e when e is set.
func Emit(e Emitter, evt Event) {
	if e != nil {
		e.EmitEvent(evt)
	}
}

type Collector struct {
	mu      sync.Mutex
	summary Summary
}

func NewCollector() *Collector {
	return &Collector{summary: Summary{
		ByCategory: make(map[string]int),
		MovedTo:    make(map[string]int),
	}}
}

func (c *Collector) Run(ctx context.Context, events <-chan Event) {
	for {
		select {
		case <-ctx.Done():
			return
		case evt, ok := <-events:
			if !ok {
				return
			}
			c.Apply(evt)
		}
	}
}

func (c *Collector) Snapshot() Summary {
	c.mu.Lock()
	defer c.mu.Unlock()
	summary := c.summary
	summary.ByCategory = make(map[string]int, len(c.summary.ByCategory))
	for k, v := range c.summary.ByCategory {
		summary.ByCategory[k] = v
	}
	summary.MovedTo = make(map[string]int, len(c.summary.MovedTo))
	for k, v := range c.summary.MovedTo {
		summary.MovedTo[k] = v
	}
	return summary
}

func (c *Collector) Apply(evt Event) {
	c.mu.Lock()
	defer c.mu.Unlock()
	switch evt.Type {
	case EventTypeClassified:
		c.summary.Classified++
		if evt.Category != "" {
			c.summary.ByCategory[evt.Category]++
		}
	case EventTypeMoved:
		c.summary.Moved++
		if evt.Folder != "" {
			c.summary.MovedTo[evt.Folder]++
		}
	case EventTypeSkipped:
		c.summary.Skipped++
	case EventTypeMoveFailed:
		c.summary.MoveFailed++
		if evt.Err != nil {
			c.summary.LastError = evt.Err
		}
	case EventTypeFolderCreated:
		c.summary.FoldersCreated++
	case EventTypeError:
		c.summary.Errors++
		if evt.Err != nil {
			c.summary.LastError = evt.Err
		}
	}
}

type EventStream interface {
	SubscribeStats(name string, fn func(context.Context, <-chan Event) error)
}

type Reporter struct {
	collector *Collector
	logger    *slog.Logger
	started   time.Time
}

func NewReporter(stream EventStream, logger *slog.Logger) *Reporter {
	reporter := &Reporter{
		collector: NewCollector(),
		logger:    logger,
		started:   time.Now(),
	}
	stream.SubscribeStats("stats-reporter", reporter.consume)
	return reporter
}

func (r *Reporter) consume(ctx context.Context, events <-chan Event) error {
	r.collector.Run(ctx, events)
	summary := r.collector.Snapshot()
	attrs := append(summary.LogAttrs(), "duration", time.Since(r.started))
	if ctx.Err() != nil {
		if r.logger != nil {
			r.logger.Debug("stats collection stopped", append(attrs, "err", ctx.Err())...)
		}
		return ctx.Err()
	}
	if r.logger != nil {
		r.logger.Info("stats summary", attrs...)
	}
	return nil
}

func (r *Reporter) Summary() Summary {
	return r.collector.Snapshot()
}

// PrettyPrintTop prints the top N most frequent items in a map.
func PrettyPrintTop(m map[string]int, limit int) {
	for i, p := range Top(m, limit) {
		fmt.Printf("%d. %s (%d)\n", i+1, p.Key, p.Value)
	}
}

type Pair struct {
	Key   string
	Value int
}

// Top returns the limit most frequent entries, ties broken by key.
func Top(m map[string]int, limit int) []Pair {
	pairs := make([]Pair, 0, len(m))
	for k, v := range m {
		pairs = append(pairs, Pair{k, v})
	}

	sort.Slice(pairs, func(i, j int) bool {
		if pairs[i].Value != pairs[j].Value {
			return pairs[i].Value > pairs[j].Value
		}
		return pairs[i].Key < pairs[j].Key
	})

	if limit >= 0 && len(pairs) > limit {
		pairs = pairs[:limit]
	}
	return pairs
}
