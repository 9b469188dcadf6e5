// Package cmd holds the inbox-triage subcommands.
package cmd

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/dhcgn/inbox-triage/config"
	"github.com/dhcgn/inbox-triage/credential"
	"github.com/dhcgn/inbox-triage/imap"
	"github.com/dhcgn/inbox-triage/llm"
	"github.com/dhcgn/inbox-triage/llm/ollama"
	"github.com/dhcgn/inbox-triage/llm/openaicompat"
	"github.com/dhcgn/inbox-triage/model"
	"github.com/dhcgn/inbox-triage/rules"
	"github.com/dhcgn/inbox-triage/runner"
)

// App is the state shared by every subcommand. Config and Logger are set
// by the root command before a subcommand runs.
type App struct {
	Config config.Config
	Logger *slog.Logger
	Token  *runner.StopToken

	closers []func() error
}

// OnClose registers fn to run when the process exits.
func (a *App) OnClose(fn func() error) {
	a.closers = append(a.closers, fn)
}

// Close runs the registered cleanups in reverse order.
func (a *App) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil && a.Logger != nil {
			a.Logger.Warn("cleanup failed", "err", err)
		}
	}
	a.closers = nil
}

// AddCommands attaches every subcommand to root.
func AddCommands(root *cobra.Command, app *App) {
	root.AddCommand(
		newClassifyCmd(app),
		newTriageCmd(app),
		newModelsCmd(app),
		newCredentialsCmd(app),
		newMboxStatsCmd(app),
		newJournalCmd(app),
	)
}

func newLLMClient(cfg config.Config, logger *slog.Logger) (llm.Client, error) {
	switch cfg.LLMProvider {
	case "openai":
		baseURL := cfg.LLMBaseURL
		if baseURL == "" {
			baseURL = openaicompat.DefaultBaseURL
		}
		return openaicompat.New(baseURL, cfg.LLMAPIKey, cfg.LLMTimeout, logger), nil
	case "ollama", "":
		return ollama.New(cfg.LLMBaseURL, cfg.LLMTimeout, logger)
	}
	return nil, fmt.Errorf("unknown llm provider %q", cfg.LLMProvider)
}

func newLLMClassifier(cfg config.Config, logger *slog.Logger) (*llm.Classifier, error) {
	client, err := newLLMClient(cfg, logger)
	if err != nil {
		return nil, err
	}
	return llm.New(client, llm.Options{
		Limit:      cfg.LLMLimit,
		Timeout:    cfg.LLMTimeout,
		Categories: cfg.Categories,
	}, logger), nil
}

// newRunner builds a runner for the configured method. The llm classifier
// is only created when it will be used.
func newRunner(cfg config.Config, logger *slog.Logger) (*runner.Runner, *llm.Classifier, error) {
	var llmClassifier *llm.Classifier
	if cfg.Method == string(runner.MethodLLM) {
		c, err := newLLMClassifier(cfg, logger)
		if err != nil {
			return nil, nil, err
		}
		llmClassifier = c
	}
	return runner.New(rules.FromTable(cfg.Categories), llmClassifier, logger), llmClassifier, nil
}

// workSize is the number of messages a run will classify.
func workSize(msgs []*model.Message, llmClassifier *llm.Classifier) int {
	if llmClassifier != nil {
		return len(llmClassifier.Select(msgs))
	}
	return len(msgs)
}

// imapOptions resolves the IMAP password, falling back to the keyring.
func imapOptions(app *App) (imap.Options, error) {
	cfg := app.Config
	if cfg.IMAPPass == "" && cfg.IMAPHost != "" && cfg.IMAPUser != "" {
		store, err := credential.Open("")
		if err == nil {
			cfg.IMAPPass, err = store.Get(credential.IMAPKey(cfg.IMAPUser, cfg.IMAPHost))
		}
		if err != nil && !errors.Is(err, credential.ErrNotFound) && app.Logger != nil {
			app.Logger.Debug("keyring lookup failed", "err", err)
		}
	}
	if err := cfg.ValidateIMAP(); err != nil {
		return imap.Options{}, err
	}
	return imap.Options{
		Host:               cfg.IMAPHost,
		Port:               cfg.IMAPPort,
		Username:           cfg.IMAPUser,
		Password:           cfg.IMAPPass,
		UseTLS:             cfg.UseTLS,
		InsecureSkipVerify: cfg.InsecureSkipVerify,
		Timeout:            cfg.IMAPTimeout,
	}, nil
}

func connect(ctx context.Context, app *App) (*imap.Session, error) {
	opts, err := imapOptions(app)
	if err != nil {
		return nil, err
	}
	session, status, err := imap.Connect(ctx, opts, app.Logger)
	if err != nil {
		return nil, err
	}
	fmt.Println(status)
	return session, nil
}

var categoryColors = map[model.Category]*color.Color{
	model.Action:        color.New(color.FgRed, color.Bold),
	model.Read:          color.New(color.FgBlue),
	model.Events:        color.New(color.FgMagenta),
	model.Information:   color.New(color.FgCyan),
	model.Uncategorised: color.New(color.FgHiBlack),
}

func categoryLabel(c model.Category) string {
	if col, ok := categoryColors[c]; ok {
		return col.Sprint(c.String())
	}
	return c.String()
}

// truncate shortens s to max runes.
func truncate(s string, max int) string {
	s = strings.TrimSpace(s)
	runes := []rune(s)
	if max <= 0 || len(runes) <= max {
		return s
	}
	if max <= 3 {
		return string(runes[:max])
	}
	return string(runes[:max-3]) + "..."
}
