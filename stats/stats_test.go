package stats

import (
	"context"
	"errors"
	"testing"
)

func TestCollector(t *testing.T) {
	c := NewCollector()
	events := make(chan Event, 16)
	boom := errors.New("boom")

	events <- Event{Stage: StageClassify, Type: EventTypeClassified, UID: 1, Category: "Action"}
	events <- Event{Stage: StageClassify, Type: EventTypeClassified, UID: 2, Category: "Action"}
	events <- Event{Stage: StageClassify, Type: EventTypeClassified, UID: 3, Category: "Read"}
	events <- Event{Stage: StageMove, Type: EventTypeFolderCreated, Folder: "SmartInbox/Action"}
	events <- Event{Stage: StageMove, Type: EventTypeMoved, UID: 1, Folder: "SmartInbox/Action"}
	events <- Event{Stage: StageMove, Type: EventTypeSkipped, UID: 4}
	events <- Event{Stage: StageMove, Type: EventTypeMoveFailed, UID: 2, Err: boom}
	close(events)

	c.Run(context.Background(), events)
	s := c.Snapshot()

	if s.Classified != 3 || s.ByCategory["Action"] != 2 || s.ByCategory["Read"] != 1 {
		t.Errorf("classified counts = %d %v", s.Classified, s.ByCategory)
	}
	if s.Moved != 1 || s.MovedTo["SmartInbox/Action"] != 1 {
		t.Errorf("moved counts = %d %v", s.Moved, s.MovedTo)
	}
	if s.Skipped != 1 || s.MoveFailed != 1 || s.FoldersCreated != 1 {
		t.Errorf("summary = %+v", s)
	}
	if !errors.Is(s.LastError, boom) {
		t.Errorf("LastError = %v", s.LastError)
	}

	s.ByCategory["Action"] = 99
	if c.Snapshot().ByCategory["Action"] != 2 {
		t.Error("snapshot must not share maps with the collector")
	}
}

func TestTop(t *testing.T) {
	m := map[string]int{"b": 2, "a": 2, "c": 5, "d": 1}
	got := Top(m, 3)
	want := []Pair{{"c", 5}, {"a", 2}, {"b", 2}}
	if len(got) != len(want) {
		t.Fatalf("Top() = %v", got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("Top()[%d] = %v, want %v", i, got[i], want[i])
		}
	}
}

func TestEmit_NilEmitter(t *testing.T) {
	Emit(nil, Event{Type: EventTypeMoved})
}
