// Package mover files classified messages into their category folders.
package mover

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/dhcgn/inbox-triage/model"
	"github.com/dhcgn/inbox-triage/state"
	"github.com/dhcgn/inbox-triage/stats"
)

// DefaultSourceFolder is the folder messages are moved out of.
const DefaultSourceFolder = "INBOX"

// Session is the part of a live mailbox connection the mover needs.
// Implementations wrap connection-level failures in model.ErrConnection.
type Session interface {
	SelectFolder(ctx context.Context, name string, readOnly bool) error
	FolderExists(ctx context.Context, name string) (bool, error)
	CreateFolder(ctx context.Context, name string) error
	Move(ctx context.Context, uids []uint32, folder string) error
}

type Options struct {
	// Folders maps each category to its destination folder.
	Folders map[model.Category]string
	// Categories limits which categories this mover handles. Empty means
	// every category present in Folders.
	Categories []model.Category
	// SingleMoveTestMode stops each batch after its first successful move.
	SingleMoveTestMode bool
	SourceFolder       string
	Events             stats.Emitter
}

// HardError reports a batch aborted by a connection-level failure. The
// mailbox state is indeterminate: Moved lists what is known to have moved
// before the failure, and more may have.
type HardError struct {
	Moved []uint32
	Err   error
}

func (e *HardError) Error() string {
	return fmt.Sprintf("move batch aborted after %d moved: %v", len(e.Moved), e.Err)
}

func (e *HardError) Unwrap() error {
	return e.Err
}

// Is makes every HardError match model.ErrConnection.
func (e *HardError) Is(target error) bool {
	return target == model.ErrConnection
}

type Mover struct {
	opts    Options
	targets map[model.Category]string
	journal state.Journal
	logger  *slog.Logger
}

func New(opts Options, journal state.Journal, logger *slog.Logger) (*Mover, error) {
	if opts.SourceFolder == "" {
		opts.SourceFolder = DefaultSourceFolder
	}

	categories := opts.Categories
	if len(categories) == 0 {
		for _, c := range model.Categories {
			if _, ok := opts.Folders[c]; ok {
				categories = append(categories, c)
			}
		}
	}

	targets := make(map[model.Category]string, len(categories))
	for _, c := range categories {
		if c == model.Uncategorised {
			return nil, fmt.Errorf("%s is never a move target", c)
		}
		folder, ok := opts.Folders[c]
		if !ok || folder == "" {
			return nil, fmt.Errorf("no target folder configured for %s", c)
		}
		targets[c] = folder
	}

	if opts.SingleMoveTestMode && logger != nil {
		logger.Warn("SINGLE-MOVE TEST MODE ENABLED: every batch stops after its first successful move")
	}

	return &Mover{opts: opts, targets: targets, journal: journal, logger: logger}, nil
}

// Move moves each UID into the folder of its category, one UID at a time,
// in the given order. It returns the UIDs that moved. Per-message failures
// are logged and skipped. A connection-level failure aborts the batch with
// a nil slice and a *HardError.
func (m *Mover) Move(ctx context.Context, session Session, uids []uint32, categoryByUID map[uint32]model.Category) ([]uint32, error) {
	if session == nil {
		if m.logger != nil {
			m.logger.Error("move requested without a mailbox connection")
		}
		return nil, model.ErrNoConnection
	}
	if len(uids) == 0 {
		return []uint32{}, nil
	}

	batchID := uuid.NewString()
	logger := m.logger
	if logger != nil {
		logger = logger.With("batch", batchID)
	}

	if err := session.SelectFolder(ctx, m.opts.SourceFolder, false); err != nil {
		if logger != nil {
			logger.Error("could not select source folder", "folder", m.opts.SourceFolder, "err", err)
		}
		m.emit(stats.Event{Stage: stats.StageMove, Type: stats.EventTypeError, Folder: m.opts.SourceFolder, Err: err})
		return nil, &HardError{Moved: []uint32{}, Err: fmt.Errorf("select %s: %w", m.opts.SourceFolder, err)}
	}

	moved := make([]uint32, 0, len(uids))
	ensured := make(map[string]bool)

	for i, uid := range uids {
		if err := ctx.Err(); err != nil {
			return nil, m.abort(logger, moved, err)
		}

		category, ok := categoryByUID[uid]
		if !ok {
			m.skip(logger, uid, "", "no category for uid")
			continue
		}
		folder, ok := m.targets[category]
		if !ok {
			m.skip(logger, uid, category, "category is not a move target")
			continue
		}

		if !ensured[folder] {
			if err := m.ensureFolder(ctx, session, folder); err != nil {
				if isHard(err) {
					return nil, m.abort(logger, moved, err)
				}
				m.failed(logger, uid, folder, fmt.Errorf("ensure folder %s: %w", folder, err))
				continue
			}
			ensured[folder] = true
		}

		if err := session.Move(ctx, []uint32{uid}, folder); err != nil {
			if isHard(err) {
				return nil, m.abort(logger, moved, err)
			}
			m.failed(logger, uid, folder, err)
			continue
		}

		moved = append(moved, uid)
		m.record(logger, batchID, uid, category, folder)

		if m.opts.SingleMoveTestMode {
			if logger != nil {
				logger.Warn("single-move test mode: stopping batch after first move", "moved", uid, "remaining", len(uids)-i-1)
			}
			break
		}
	}

	if logger != nil {
		logger.Info("move batch finished", "requested", len(uids), "moved", len(moved))
	}
	return moved, nil
}

func (m *Mover) ensureFolder(ctx context.Context, session Session, folder string) error {
	exists, err := session.FolderExists(ctx, folder)
	if err != nil {
		return err
	}
	if exists {
		return nil
	}
	if err := session.CreateFolder(ctx, folder); err != nil {
		return err
	}
	m.emit(stats.Event{Stage: stats.StageMove, Type: stats.EventTypeFolderCreated, Folder: folder})
	if m.logger != nil {
		m.logger.Info("created folder", "folder", folder)
	}
	return nil
}

func (m *Mover) record(logger *slog.Logger, batchID string, uid uint32, category model.Category, folder string) {
	m.emit(stats.Event{Stage: stats.StageMove, Type: stats.EventTypeMoved, UID: uid, Category: category.String(), Folder: folder})
	if logger != nil {
		logger.Debug("moved message", "uid", uid, "category", category, "folder", folder)
	}
	if m.journal == nil {
		return
	}
	rec := state.Record{
		UID:      uid,
		Category: category.String(),
		Source:   m.opts.SourceFolder,
		Folder:   folder,
		MovedAt:  time.Now().UTC(),
		BatchID:  batchID,
	}
	if err := m.journal.Record(rec); err != nil && logger != nil {
		logger.Warn("could not journal move", "uid", uid, "err", err)
	}
}

func (m *Mover) skip(logger *slog.Logger, uid uint32, category model.Category, reason string) {
	if logger != nil {
		logger.Warn("skipping message", "uid", uid, "category", category, "reason", reason)
	}
	m.emit(stats.Event{Stage: stats.StageMove, Type: stats.EventTypeSkipped, UID: uid, Category: category.String(), Detail: reason})
}

func (m *Mover) failed(logger *slog.Logger, uid uint32, folder string, err error) {
	if logger != nil {
		logger.Error("could not move message", "uid", uid, "folder", folder, "err", err)
	}
	m.emit(stats.Event{Stage: stats.StageMove, Type: stats.EventTypeMoveFailed, UID: uid, Folder: folder, Err: err})
}

func (m *Mover) abort(logger *slog.Logger, moved []uint32, err error) error {
	if logger != nil {
		logger.Error("move batch aborted, verify the mailbox", "movedBeforeFailure", len(moved), "err", err)
	}
	m.emit(stats.Event{Stage: stats.StageMove, Type: stats.EventTypeError, Err: err})
	return &HardError{Moved: moved, Err: err}
}

func (m *Mover) emit(evt stats.Event) {
	stats.Emit(m.opts.Events, evt)
}

func isHard(err error) bool {
	return errors.Is(err, model.ErrConnection) ||
		errors.Is(err, context.Canceled) ||
		errors.Is(err, context.DeadlineExceeded)
}
