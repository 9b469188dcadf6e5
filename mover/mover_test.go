package mover

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/dhcgn/inbox-triage/model"
	"github.com/dhcgn/inbox-triage/state"
	"github.com/dhcgn/inbox-triage/stats"
)

type fakeSession struct {
	folders   map[string]bool
	calls     []string
	selectErr error
	moveErr   map[uint32]error
	createErr map[string]error
	existsErr map[string]error
}

func newFakeSession(folders ...string) *fakeSession {
	s := &fakeSession{folders: map[string]bool{"INBOX": true}}
	for _, f := range folders {
		s.folders[f] = true
	}
	return s
}

func (s *fakeSession) SelectFolder(_ context.Context, name string, readOnly bool) error {
	s.calls = append(s.calls, fmt.Sprintf("select %s ro=%v", name, readOnly))
	return s.selectErr
}

func (s *fakeSession) FolderExists(_ context.Context, name string) (bool, error) {
	s.calls = append(s.calls, "exists "+name)
	if err := s.existsErr[name]; err != nil {
		return false, err
	}
	return s.folders[name], nil
}

func (s *fakeSession) CreateFolder(_ context.Context, name string) error {
	s.calls = append(s.calls, "create "+name)
	if err := s.createErr[name]; err != nil {
		return err
	}
	s.folders[name] = true
	return nil
}

func (s *fakeSession) Move(_ context.Context, uids []uint32, folder string) error {
	s.calls = append(s.calls, fmt.Sprintf("move %v %s", uids, folder))
	if len(uids) == 1 {
		if err := s.moveErr[uids[0]]; err != nil {
			return err
		}
	}
	return nil
}

func (s *fakeSession) count(prefix string) int {
	n := 0
	for _, c := range s.calls {
		if strings.HasPrefix(c, prefix) {
			n++
		}
	}
	return n
}

type recorder struct{ events []stats.Event }

func (r *recorder) EmitEvent(evt stats.Event) { r.events = append(r.events, evt) }

func newMover(t *testing.T, opts Options) (*Mover, *state.MemoryJournal) {
	t.Helper()
	if opts.Folders == nil {
		opts.Folders = model.DefaultFolders()
	}
	journal := state.NewMemoryJournal()
	m, err := New(opts, journal, nil)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	return m, journal
}

func TestMove_EmptyUIDs(t *testing.T) {
	m, _ := newMover(t, Options{})
	s := newFakeSession()
	moved, err := m.Move(context.Background(), s, nil, nil)
	if err != nil || moved == nil || len(moved) != 0 {
		t.Fatalf("Move(empty) = %v, %v; want empty non-nil slice", moved, err)
	}
	if len(s.calls) != 0 {
		t.Errorf("no session calls expected, got %v", s.calls)
	}
}

func TestMove_NilSession(t *testing.T) {
	m, _ := newMover(t, Options{})
	moved, err := m.Move(context.Background(), nil, []uint32{1}, map[uint32]model.Category{1: model.Action})
	if moved != nil || !errors.Is(err, model.ErrNoConnection) {
		t.Fatalf("Move(nil session) = %v, %v", moved, err)
	}
}

func TestMove_ActionRoundTrip(t *testing.T) {
	m, journal := newMover(t, Options{})
	s := newFakeSession()
	moved, err := m.Move(context.Background(), s, []uint32{7}, map[uint32]model.Category{7: model.Action})
	if err != nil || len(moved) != 1 || moved[0] != 7 {
		t.Fatalf("Move() = %v, %v", moved, err)
	}
	if s.count("create ") != 1 || s.count("create SmartInbox/Action") != 1 {
		t.Errorf("create calls: %v", s.calls)
	}
	if s.count("move ") != 1 || s.count("move [7] SmartInbox/Action") != 1 {
		t.Errorf("move calls: %v", s.calls)
	}
	if s.calls[0] != "select INBOX ro=false" {
		t.Errorf("source folder must be selected read-write first, got %v", s.calls)
	}
	recs := journal.Records()
	if len(recs) != 1 || recs[0].UID != 7 || recs[0].Folder != "SmartInbox/Action" || recs[0].Source != "INBOX" || recs[0].BatchID == "" {
		t.Errorf("journal = %+v", recs)
	}
}

func TestMove_FolderEnsuredOncePerBatch(t *testing.T) {
	m, _ := newMover(t, Options{})
	s := newFakeSession("SmartInbox/Read")
	moved, err := m.Move(context.Background(), s, []uint32{1, 2, 3}, map[uint32]model.Category{
		1: model.Read, 2: model.Read, 3: model.Events,
	})
	if err != nil || len(moved) != 3 {
		t.Fatalf("Move() = %v, %v", moved, err)
	}
	if s.count("exists SmartInbox/Read") != 1 || s.count("exists SmartInbox/Events") != 1 {
		t.Errorf("folder checks: %v", s.calls)
	}
	if s.count("create ") != 1 {
		t.Errorf("only the Events folder should be created: %v", s.calls)
	}
}

func TestMove_SingleMoveTestMode(t *testing.T) {
	m, _ := newMover(t, Options{SingleMoveTestMode: true})
	s := newFakeSession()
	moved, err := m.Move(context.Background(), s, []uint32{1, 2, 3}, map[uint32]model.Category{
		1: model.Action, 2: model.Action, 3: model.Read,
	})
	if err != nil || len(moved) != 1 || moved[0] != 1 {
		t.Fatalf("Move() = %v, %v; want exactly [1]", moved, err)
	}
	if s.count("move ") != 1 {
		t.Errorf("move calls: %v", s.calls)
	}
}

func TestMove_SoftFailuresContinue(t *testing.T) {
	rec := &recorder{}
	m, _ := newMover(t, Options{Events: rec, Categories: []model.Category{model.Action, model.Read}})
	s := newFakeSession()
	s.moveErr = map[uint32]error{3: errors.New("NO [TRYCREATE] message gone")}
	s.createErr = map[string]error{"SmartInbox/Read": errors.New("NO permission denied")}

	uids := []uint32{1, 2, 3, 4, 5, 6}
	moved, err := m.Move(context.Background(), s, uids, map[uint32]model.Category{
		1: model.Category("Spam"),
		// 2 has no category
		3: model.Action,
		4: model.Events, // not a target of this mover
		5: model.Read,
		6: model.Action,
	})
	if err != nil {
		t.Fatalf("Move() error = %v", err)
	}
	if len(moved) != 1 || moved[0] != 6 {
		t.Fatalf("moved = %v, want [6]", moved)
	}

	var skipped, failed, movedEvents int
	for _, evt := range rec.events {
		switch evt.Type {
		case stats.EventTypeSkipped:
			skipped++
		case stats.EventTypeMoveFailed:
			failed++
		case stats.EventTypeMoved:
			movedEvents++
		}
	}
	if skipped != 3 || failed != 2 || movedEvents != 1 {
		t.Errorf("events skipped=%d failed=%d moved=%d", skipped, failed, movedEvents)
	}
}

func TestMove_SelectFailureIsHard(t *testing.T) {
	m, _ := newMover(t, Options{})
	s := newFakeSession()
	s.selectErr = errors.New("NO mailbox locked")

	moved, err := m.Move(context.Background(), s, []uint32{1}, map[uint32]model.Category{1: model.Action})
	var hard *HardError
	if moved != nil || !errors.As(err, &hard) || !errors.Is(err, model.ErrConnection) {
		t.Fatalf("Move() = %v, %v; want nil and HardError", moved, err)
	}
	if s.count("move ") != 0 {
		t.Errorf("no move expected after select failure: %v", s.calls)
	}
}

func TestMove_ConnectionLostMidBatch(t *testing.T) {
	m, journal := newMover(t, Options{})
	s := newFakeSession("SmartInbox/Action")
	s.moveErr = map[uint32]error{2: fmt.Errorf("move: %w", model.ErrConnection)}

	moved, err := m.Move(context.Background(), s, []uint32{1, 2, 3}, map[uint32]model.Category{
		1: model.Action, 2: model.Action, 3: model.Action,
	})
	var hard *HardError
	if moved != nil || !errors.As(err, &hard) {
		t.Fatalf("Move() = %v, %v; want nil and HardError", moved, err)
	}
	if len(hard.Moved) != 1 || hard.Moved[0] != 1 {
		t.Errorf("HardError.Moved = %v, want [1]", hard.Moved)
	}
	if s.count("move [3]") != 0 {
		t.Error("batch must abort after a connection failure")
	}
	if journal.Snapshot().Recorded != 1 {
		t.Errorf("journal should hold the move made before the failure")
	}
}

func TestMove_ContextCanceled(t *testing.T) {
	m, _ := newMover(t, Options{})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	moved, err := m.Move(ctx, newFakeSession(), []uint32{1}, map[uint32]model.Category{1: model.Action})
	if moved != nil || !errors.Is(err, context.Canceled) {
		t.Fatalf("Move() = %v, %v", moved, err)
	}
}

func TestNew_Validation(t *testing.T) {
	if _, err := New(Options{Folders: map[model.Category]string{}, Categories: []model.Category{model.Action}}, nil, nil); err == nil {
		t.Error("expected error for category without folder")
	}
	if _, err := New(Options{Folders: model.DefaultFolders(), Categories: []model.Category{model.Uncategorised}}, nil, nil); err == nil {
		t.Error("expected error for Uncategorised target")
	}
	m, err := New(Options{Folders: model.DefaultFolders()}, nil, nil)
	if err != nil {
		t.Fatal(err)
	}
	if len(m.targets) != 4 || m.opts.SourceFolder != DefaultSourceFolder {
		t.Errorf("targets = %v, source = %q", m.targets, m.opts.SourceFolder)
	}
}
