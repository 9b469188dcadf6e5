// Package llm classifies messages with a locally served language model.
package llm

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"slices"
	"syscall"
	"time"

	"github.com/dhcgn/inbox-triage/model"
)

// DefaultModel is used when no model is configured or listing fails.
const DefaultModel = "llama3"

// ErrModelUnreachable is returned when the preflight probe fails or the
// server stops answering during a batch.
var ErrModelUnreachable = errors.New("model server not reachable")

// Client is the model-serving collaborator.
type Client interface {
	ListModels(ctx context.Context) ([]string, error)
	IsReachable(ctx context.Context) bool
	Complete(ctx context.Context, model, prompt string) (string, error)
}

// Outcome is the terminal result of a batch.
type Outcome int

const (
	OutcomeCompleted Outcome = iota
	OutcomeStopped
	OutcomeFailed
)

func (o Outcome) String() string {
	switch o {
	case OutcomeStopped:
		return "stopped"
	case OutcomeFailed:
		return "failed"
	}
	return "completed"
}

// ProgressFunc receives the processed and total counts after each message.
type ProgressFunc func(processed, total int)

// StopFunc is polled before each message.
type StopFunc func() bool

type Options struct {
	// Limit caps how many of the most recent messages are classified; 0 means no cap.
	Limit int
	// Timeout bounds each model call; 0 means no per-call timeout.
	Timeout time.Duration
	// Categories restricts the answers to its enabled categories; nil allows all.
	Categories model.CategoryTable
}

type Classifier struct {
	client     Client
	opts       Options
	assignable []model.Category
	logger     *slog.Logger
}

func New(client Client, opts Options, logger *slog.Logger) *Classifier {
	return &Classifier{
		client:     client,
		opts:       opts,
		assignable: opts.Categories.Assignable(),
		logger:     logger,
	}
}

// Models lists the models the server offers, falling back to DefaultModel.
func (c *Classifier) Models(ctx context.Context) []string {
	models, err := c.client.ListModels(ctx)
	if err != nil || len(models) == 0 {
		if c.logger != nil {
			c.logger.Warn("could not list models, using default", "default", DefaultModel, "err", err)
		}
		return []string{DefaultModel}
	}
	slices.Sort(models)
	return models
}

// Classify asks the model for one message's category. Any failure or
// unparseable answer yields Uncategorised.
func (c *Classifier) Classify(ctx context.Context, msg *model.Message, modelName string) model.Category {
	category, _ := c.classify(ctx, msg, modelName)
	return category
}

// classify is Classify that also returns the error when the model server
// could not be reached, so a batch can abort instead of defaulting every
// remaining message.
func (c *Classifier) classify(ctx context.Context, msg *model.Message, modelName string) (model.Category, error) {
	if msg == nil {
		return model.Uncategorised, nil
	}
	if modelName == "" {
		modelName = DefaultModel
	}
	callCtx := ctx
	if c.opts.Timeout > 0 {
		var cancel context.CancelFunc
		callCtx, cancel = context.WithTimeout(ctx, c.opts.Timeout)
		defer cancel()
	}

	prompt := Prompt(msg, c.assignable)
	if c.logger != nil {
		c.logger.Debug("sending prompt", "model", modelName, "uid", msg.UID, "prompt", prompt)
	}

	answer, err := c.client.Complete(callCtx, modelName, prompt)
	if err != nil {
		if c.logger != nil {
			c.logger.Error("llm categorization failed", "model", modelName, "uid", msg.UID, "err", err)
		}
		// a canceled batch is a stop, not an outage
		if ctx.Err() == nil && isUnreachable(err) {
			return model.Uncategorised, err
		}
		return model.Uncategorised, nil
	}

	category, ok := ParseResponse(answer)
	if ok && !slices.Contains(c.assignable, category) {
		category, ok = model.Uncategorised, false
	}
	if !ok && c.logger != nil {
		c.logger.Warn("llm response did not match a category", "model", modelName, "uid", msg.UID, "response", answer, "default", model.Uncategorised)
	}
	return category, nil
}

// isUnreachable reports connection-level failures: refused or failed dials
// and timeouts.
func isUnreachable(err error) bool {
	if errors.Is(err, syscall.ECONNREFUSED) || errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var opErr *net.OpError
	if errors.As(err, &opErr) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}

// Select returns the messages a batch will classify: most recent first,
// undated messages last, capped by the configured limit. The input order is
// not modified.
func (c *Classifier) Select(msgs []*model.Message) []*model.Message {
	work := make([]*model.Message, 0, len(msgs))
	for _, msg := range msgs {
		if msg != nil {
			work = append(work, msg)
		}
	}
	slices.SortStableFunc(work, func(a, b *model.Message) int {
		return compareNewestFirst(a.Date, b.Date)
	})
	if c.opts.Limit > 0 && len(work) > c.opts.Limit {
		work = work[:c.opts.Limit]
	}
	return work
}

// ClassifyAll classifies the selected subset in place. It returns
// OutcomeStopped as soon as shouldStop reports true, leaving the remaining
// messages untouched, and ErrModelUnreachable when the preflight fails.
func (c *Classifier) ClassifyAll(
	ctx context.Context,
	msgs []*model.Message,
	modelName string,
	onProgress ProgressFunc,
	shouldStop StopFunc,
) (Outcome, error) {
	work := c.Select(msgs)
	total := len(work)
	if total == 0 {
		if c.logger != nil {
			c.logger.Info("no messages to classify")
		}
		return OutcomeCompleted, nil
	}

	if !c.client.IsReachable(ctx) {
		for _, msg := range work {
			msg.Category = model.Uncategorised
		}
		if c.logger != nil {
			c.logger.Error("model server not reachable, batch defaulted", "messages", total)
		}
		return OutcomeFailed, ErrModelUnreachable
	}

	if c.logger != nil {
		c.logger.Info("starting llm categorization", "messages", total, "limit", c.opts.Limit, "model", modelName)
	}

	processed := 0
	for _, msg := range work {
		if shouldStop != nil && shouldStop() {
			if c.logger != nil {
				c.logger.Warn("stop requested, halting llm categorization", "processed", processed, "total", total)
			}
			return OutcomeStopped, nil
		}

		category, err := c.classify(ctx, msg, modelName)
		msg.Category = category
		if err != nil {
			if c.logger != nil {
				c.logger.Error("model server stopped answering, aborting llm categorization", "processed", processed, "total", total, "err", err)
			}
			return OutcomeFailed, fmt.Errorf("%w: %w", ErrModelUnreachable, err)
		}
		processed++
		c.report(onProgress, processed, total)
	}

	if c.logger != nil {
		c.logger.Info("finished llm categorization", "processed", processed, "total", total)
	}
	return OutcomeCompleted, nil
}

func (c *Classifier) report(onProgress ProgressFunc, processed, total int) {
	if onProgress == nil {
		return
	}
	defer func() {
		if r := recover(); r != nil && c.logger != nil {
			c.logger.Error("progress callback failed", "err", fmt.Sprint(r))
		}
	}()
	onProgress(processed, total)
}

// Percent is floor(processed/total*100).
func Percent(processed, total int) int {
	if total <= 0 {
		return 0
	}
	return processed * 100 / total
}

func compareNewestFirst(a, b time.Time) int {
	switch {
	case a.IsZero() && b.IsZero():
		return 0
	case a.IsZero():
		return 1
	case b.IsZero():
		return -1
	}
	return b.Compare(a)
}
