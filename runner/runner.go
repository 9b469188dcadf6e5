package runner

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/atomic"

	"github.com/dhcgn/inbox-triage/llm"
	"github.com/dhcgn/inbox-triage/model"
	"github.com/dhcgn/inbox-triage/rules"
	"github.com/dhcgn/inbox-triage/stats"
)

var ErrNoLLM = errors.New("llm classifier not configured")

type Method string

const (
	MethodRules Method = "rules"
	MethodLLM   Method = "llm"
)

func ParseMethod(s string) (Method, error) {
	switch Method(strings.ToLower(strings.TrimSpace(s))) {
	case MethodRules, "":
		return MethodRules, nil
	case MethodLLM:
		return MethodLLM, nil
	}
	return "", fmt.Errorf("unknown categorization method %q (want rules or llm)", s)
}

type Status string

const (
	StatusIdle      Status = "idle"
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusStopped   Status = "stopped"
	StatusFailed    Status = "failed"
)

// StopToken is a one-way flag checked between messages.
type StopToken struct {
	stopped atomic.Bool
}

func NewStopToken() *StopToken {
	return &StopToken{}
}

func (t *StopToken) Stop() {
	if t != nil {
		t.stopped.Store(true)
	}
}

func (t *StopToken) Stopped() bool {
	return t != nil && t.stopped.Load()
}

type Request struct {
	Method     Method
	Model      string
	Token      *StopToken
	OnProgress llm.ProgressFunc
}

// Run describes one categorization batch. It is never persisted.
type Run struct {
	ID        uuid.UUID
	Method    Method
	Model     string
	Total     int
	Processed int
	Status    Status
	Err       error
	Duration  time.Duration
}

type subscriber struct {
	name   string
	events chan stats.Event
}

type Runner struct {
	rules  *rules.Classifier
	llm    *llm.Classifier
	logger *slog.Logger

	ctx    context.Context
	cancel context.CancelFunc

	subMu       sync.RWMutex
	subscribers []subscriber
	closed      bool
	statsWG     sync.WaitGroup

	runMu   sync.Mutex
	current Run
}

// New creates a runner. llmClassifier may be nil when only rules are used.
func New(ruleClassifier *rules.Classifier, llmClassifier *llm.Classifier, logger *slog.Logger) *Runner {
	ctx, cancel := context.WithCancel(context.Background())
	if ruleClassifier == nil {
		ruleClassifier = rules.New(rules.Options{Information: true})
	}
	return &Runner{
		rules:   ruleClassifier,
		llm:     llmClassifier,
		logger:  logger,
		ctx:     ctx,
		cancel:  cancel,
		current: Run{Status: StatusIdle},
	}
}

// Current returns a copy of the latest run.
func (r *Runner) Current() Run {
	r.runMu.Lock()
	defer r.runMu.Unlock()
	return r.current
}

func (r *Runner) setCurrent(run Run) {
	r.runMu.Lock()
	r.current = run
	r.runMu.Unlock()
}

// Categorize assigns a category to msgs in place with the requested method.
// Stopped and failed runs may leave a partially updated collection; callers
// apply ResetCategories when they want the documented recovery policy.
func (r *Runner) Categorize(ctx context.Context, msgs []*model.Message, req Request) (run Run) {
	started := time.Now()
	method := req.Method
	if method == "" {
		method = MethodRules
	}
	run = Run{ID: uuid.New(), Method: method, Model: req.Model, Status: StatusRunning}
	logger := r.logger
	if logger != nil {
		logger = logger.With("run", run.ID.String(), "method", string(method))
	}
	r.setCurrent(run)

	defer func() {
		if rec := recover(); rec != nil {
			run.Status = StatusFailed
			run.Err = fmt.Errorf("categorization panicked: %v", rec)
			r.EmitEvent(stats.Event{Stage: stats.StageClassify, Type: stats.EventTypeError, Err: run.Err})
		}
		run.Duration = time.Since(started)
		r.setCurrent(run)
		if logger != nil {
			attrs := []any{"status", run.Status, "processed", run.Processed, "total", run.Total, "duration", run.Duration}
			if run.Err != nil {
				logger.Error("categorization finished", append(attrs, "err", run.Err)...)
			} else {
				logger.Info("categorization finished", attrs...)
			}
		}
	}()

	shouldStop := func() bool {
		return req.Token.Stopped() || ctx.Err() != nil
	}

	switch method {
	case MethodRules:
		r.categorizeRules(msgs, &run, req.OnProgress, shouldStop)
	case MethodLLM:
		r.categorizeLLM(ctx, msgs, &run, req.OnProgress, shouldStop)
	default:
		run.Status = StatusFailed
		run.Err = fmt.Errorf("unknown categorization method %q", method)
	}
	return run
}

func (r *Runner) categorizeRules(msgs []*model.Message, run *Run, onProgress llm.ProgressFunc, shouldStop func() bool) {
	work := make([]*model.Message, 0, len(msgs))
	for _, msg := range msgs {
		if msg != nil {
			work = append(work, msg)
		}
	}
	run.Total = len(work)
	r.setCurrent(*run)

	for _, msg := range work {
		if shouldStop() {
			run.Status = StatusStopped
			return
		}
		msg.Category = r.rules.Classify(msg)
		run.Processed++
		r.classified(msg)
		r.report(onProgress, run.Processed, run.Total)
	}
	run.Status = StatusCompleted
}

func (r *Runner) categorizeLLM(ctx context.Context, msgs []*model.Message, run *Run, onProgress llm.ProgressFunc, shouldStop func() bool) {
	if r.llm == nil {
		run.Status = StatusFailed
		run.Err = ErrNoLLM
		return
	}
	if run.Model == "" {
		run.Model = llm.DefaultModel
	}

	// ClassifyAll walks the same ordering, so the n-th progress report
	// belongs to work[n-1].
	work := r.llm.Select(msgs)
	run.Total = len(work)
	r.setCurrent(*run)

	outcome, err := r.llm.ClassifyAll(ctx, msgs, run.Model, func(processed, total int) {
		run.Processed = processed
		if processed > 0 && processed <= len(work) {
			r.classified(work[processed-1])
		}
		r.setCurrent(*run)
		if onProgress != nil {
			onProgress(processed, total)
		}
	}, shouldStop)

	switch {
	case err != nil || outcome == llm.OutcomeFailed:
		run.Status = StatusFailed
		run.Err = err
		r.EmitEvent(stats.Event{Stage: stats.StageClassify, Type: stats.EventTypeError, Err: err})
	case outcome == llm.OutcomeStopped:
		run.Status = StatusStopped
	default:
		run.Status = StatusCompleted
	}
}

func (r *Runner) classified(msg *model.Message) {
	r.EmitEvent(stats.Event{
		Stage:    stats.StageClassify,
		Type:     stats.EventTypeClassified,
		UID:      msg.UID,
		Category: msg.Category.String(),
	})
}

func (r *Runner) report(onProgress llm.ProgressFunc, processed, total int) {
	if onProgress == nil {
		return
	}
	defer func() {
		if rec := recover(); rec != nil && r.logger != nil {
			r.logger.Error("progress callback failed", "err", fmt.Sprint(rec))
		}
	}()
	onProgress(processed, total)
}

// ResetCategories sets every message back to Uncategorised.
func ResetCategories(msgs []*model.Message) {
	for _, msg := range msgs {
		if msg != nil {
			msg.Category = model.Uncategorised
		}
	}
}

// EmitEvent fans evt out to every subscriber. It is a no-op after Close.
func (r *Runner) EmitEvent(evt stats.Event) {
	r.subMu.RLock()
	defer r.subMu.RUnlock()
	if r.closed {
		return
	}
	for _, sub := range r.subscribers {
		select {
		case <-r.ctx.Done():
			return
		case sub.events <- evt:
		}
	}
}

func (r *Runner) SubscribeStats(name string, fn func(context.Context, <-chan stats.Event) error) {
	sub := subscriber{name: name, events: make(chan stats.Event, 128)}

	r.subMu.Lock()
	if r.closed {
		r.subMu.Unlock()
		return
	}
	r.subscribers = append(r.subscribers, sub)
	r.subMu.Unlock()

	r.statsWG.Add(1)
	go func() {
		defer r.statsWG.Done()
		if err := fn(r.ctx, sub.events); err != nil && !errors.Is(err, context.Canceled) && r.logger != nil {
			r.logger.Warn("stats subscriber failed", "subscriber", name, "err", err)
		}
		// keep draining so a failed subscriber never blocks EmitEvent
		for range sub.events {
		}
	}()
}

// Close ends every event stream and waits for the subscribers to finish.
func (r *Runner) Close() {
	r.subMu.Lock()
	if r.closed {
		r.subMu.Unlock()
		return
	}
	r.closed = true
	for _, sub := range r.subscribers {
		close(sub.events)
	}
	r.subMu.Unlock()

	r.statsWG.Wait()
	r.cancel()
}
