package progress

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/dhcgn/inbox-triage/stats"
)

type fakeStream struct {
	mu   sync.Mutex
	subs []chan stats.Event
	wg   sync.WaitGroup
}

func (f *fakeStream) SubscribeStats(_ string, fn func(context.Context, <-chan stats.Event) error) {
	ch := make(chan stats.Event, 16)
	f.mu.Lock()
	f.subs = append(f.subs, ch)
	f.mu.Unlock()
	f.wg.Add(1)
	go func() {
		defer f.wg.Done()
		_ = fn(context.Background(), ch)
	}()
}

func (f *fakeStream) emit(evt stats.Event) {
	for _, ch := range f.subs {
		ch <- evt
	}
}

func (f *fakeStream) close() {
	for _, ch := range f.subs {
		close(ch)
	}
	f.wg.Wait()
}

func TestBar_DisabledOutsideInfo(t *testing.T) {
	bar := New("Categorizing", 10, "debug")
	if bar.Enabled() {
		t.Fatal("bar must be disabled for debug level")
	}
	bar.Update(5, 10)
	bar.Stop("completed")

	if New("Categorizing", 0, "info").Enabled() {
		t.Error("bar must be disabled for an empty batch")
	}
}

func TestBar_MovePhaseAdvancesOnEvents(t *testing.T) {
	bar := New("Categorizing", 4, "error")
	bar.Update(4, 4)
	bar.Stop("completed")

	bar.Start("Moving", 3)
	if bar.current != 0 {
		t.Fatalf("Start must reset progress, current = %d", bar.current)
	}

	stream := &fakeStream{}
	NewProgressReporter(stream, bar, nil)
	stream.emit(stats.Event{Stage: stats.StageClassify, Type: stats.EventTypeClassified})
	stream.emit(stats.Event{Stage: stats.StageMove, Type: stats.EventTypeFolderCreated, Folder: "SmartInbox/Read"})
	stream.emit(stats.Event{Stage: stats.StageMove, Type: stats.EventTypeMoved, UID: 1})
	stream.emit(stats.Event{Stage: stats.StageMove, Type: stats.EventTypeSkipped, UID: 2})
	stream.emit(stats.Event{Stage: stats.StageMove, Type: stats.EventTypeMoveFailed, UID: 3, Err: errors.New("NO gone")})
	stream.close()

	bar.mu.Lock()
	defer bar.mu.Unlock()
	if bar.current != 3 || bar.title != "Moving" {
		t.Errorf("current = %d, title = %q; want 3 move outcomes", bar.current, bar.title)
	}
}

func TestProgressReporter_Summary(t *testing.T) {
	stream := &fakeStream{}
	reporter := NewProgressReporter(stream, New("x", 1, "error"), nil)

	stream.emit(stats.Event{Type: stats.EventTypeClassified, Category: "Read"})
	stream.emit(stats.Event{Type: stats.EventTypeMoved, Folder: "SmartInbox/Read"})
	stream.emit(stats.Event{Type: stats.EventTypeMoveFailed, Err: errors.New("no such message")})
	stream.close()

	s := reporter.Summary()
	if s.Classified != 1 || s.Moved != 1 || s.MoveFailed != 1 || s.MovedTo["SmartInbox/Read"] != 1 {
		t.Errorf("summary = %+v", s)
	}
}
