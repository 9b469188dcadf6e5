package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	charmlog "github.com/charmbracelet/log"
	"github.com/joho/godotenv"
	"github.com/pterm/pterm"
	"github.com/spf13/cobra"

	"github.com/dhcgn/inbox-triage/cmd"
	"github.com/dhcgn/inbox-triage/config"
	"github.com/dhcgn/inbox-triage/runner"
)

func main() {
	// a missing .env is fine
	_ = godotenv.Load()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	app := &cmd.App{Token: runner.NewStopToken()}
	go watchSignals(ctx, cancel, app.Token)

	rootCmd := &cobra.Command{
		Use:           "inbox-triage",
		Short:         "Sort the newest INBOX messages into per-category folders",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.LoadConfig(cmd)
			if err != nil {
				return err
			}

			logger, cleanup, err := setupLogger(cfg)
			if err != nil {
				return err
			}

			slog.SetDefault(logger)
			app.Config = cfg
			app.Logger = logger
			app.OnClose(cleanup)

			logger.Debug("starting inbox-triage", "command", cmd.Name(), "method", cfg.Method, "config", cfg.ConfigFile)
			return nil
		},
	}

	if err := config.RegisterFlags(rootCmd); err != nil {
		fmt.Fprintf(os.Stderr, "failed to register CLI flags: %v\n", err)
		os.Exit(1)
	}
	cmd.AddCommands(rootCmd, app)

	err := rootCmd.ExecuteContext(ctx)
	app.Close()
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

// watchSignals trips the stop token on the first interrupt and cancels ctx
// on the second.
func watchSignals(ctx context.Context, cancel context.CancelFunc, token *runner.StopToken) {
	sigCh := make(chan os.Signal, 2)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigCh)

	interrupts := 0
	for {
		select {
		case <-ctx.Done():
			return
		case <-sigCh:
			interrupts++
			if interrupts == 1 {
				token.Stop()
				pterm.Warning.Println("Stopping after the current message, press Ctrl+C again to abort")
				continue
			}
			cancel()
			return
		}
	}
}

func setupLogger(cfg config.Config) (*slog.Logger, func() error, error) {
	level := charmlog.InfoLevel
	switch cfg.LogLevel {
	case "debug":
		level = charmlog.DebugLevel
	case "info":
		level = charmlog.InfoLevel
	case "warn":
		level = charmlog.WarnLevel
	case "error":
		level = charmlog.ErrorLevel
	}

	opts := charmlog.Options{
		Level:           level,
		ReportTimestamp: true,
		TimeFormat:      time.TimeOnly,
	}
	cleanup := func() error { return nil }

	if cfg.LogDir != "" {
		if err := os.MkdirAll(cfg.LogDir, 0o755); err != nil {
			return nil, cleanup, err
		}

		logFilePath := filepath.Join(cfg.LogDir, fmt.Sprintf("inbox-triage-%s.log", time.Now().Format("20060102T150405")))
		file, err := os.OpenFile(logFilePath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return nil, cleanup, err
		}

		opts.TimeFormat = time.RFC3339
		opts.Formatter = charmlog.LogfmtFormatter
		handler := charmlog.NewWithOptions(io.MultiWriter(os.Stderr, file), opts)
		cleanup = func() error {
			return file.Close()
		}
		return slog.New(handler), cleanup, nil
	}

	handler := charmlog.NewWithOptions(os.Stderr, opts)
	return slog.New(handler), cleanup, nil
}
