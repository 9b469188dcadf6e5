package filter

import (
	"testing"
	"time"

	"github.com/dhcgn/inbox-triage/model"
)

func msg(uid uint32, subject, from string, c model.Category) *model.Message {
	m := model.NewMessage(uid, subject, from, time.Time{})
	m.Category = c
	return m
}

func sample() []*model.Message {
	return []*model.Message{
		msg(1, "Action Required: sign", "boss@example.com", model.Action),
		msg(2, "Weekly digest", "digest@news.example.com", model.Read),
		msg(3, "Hello", "friend@example.com", model.Uncategorised),
		msg(4, "Invitation: sync", "calendar-notification@google.com", model.Events),
		msg(5, "Your receipt", "billing@shop.example.com", model.Information),
	}
}

func TestFilter_Select(t *testing.T) {
	tests := []struct {
		name string
		opts Options
		want []uint32
	}{
		{name: "no filters", opts: Options{}, want: []uint32{1, 2, 4, 5}},
		{name: "categories", opts: Options{Categories: []model.Category{model.Action, model.Events}}, want: []uint32{1, 4}},
		{name: "include subject", opts: Options{IncludeSubject: []string{"(?i)digest|receipt"}}, want: []uint32{2, 5}},
		{name: "include from", opts: Options{IncludeFrom: []string{`@example\.com$`}}, want: []uint32{1}},
		{name: "exclude from", opts: Options{ExcludeFrom: []string{"google", "billing@"}}, want: []uint32{1, 2}},
		{name: "category and exclude", opts: Options{Categories: []model.Category{model.Read, model.Action}, ExcludeSubject: []string{"sign"}}, want: []uint32{2}},
		{name: "uncategorised never selected", opts: Options{Categories: []model.Category{model.Uncategorised}}, want: []uint32{}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			msgs := sample()
			uids, categories, err := Select(msgs, tt.opts)
			if err != nil {
				t.Fatalf("Select() error = %v", err)
			}
			if len(uids) != len(tt.want) {
				t.Fatalf("Select() uids = %v, want %v", uids, tt.want)
			}
			for i := range tt.want {
				if uids[i] != tt.want[i] {
					t.Errorf("uids[%d] = %d, want %d", i, uids[i], tt.want[i])
				}
				if categories[uids[i]] != msgs[uids[i]-1].Category {
					t.Errorf("category for uid %d = %v", uids[i], categories[uids[i]])
				}
			}
			if len(categories) != len(uids) {
				t.Errorf("categories has %d entries, want %d", len(categories), len(uids))
			}
		})
	}
}

func TestFilter_MutuallyExclusive(t *testing.T) {
	_, err := New(Options{IncludeSubject: []string{"a"}, ExcludeFrom: []string{"b"}})
	if err == nil {
		t.Error("Expected error when both include and exclude are specified")
	}
}

func TestFilter_InvalidInput(t *testing.T) {
	if _, err := New(Options{IncludeSubject: []string{"("}}); err == nil {
		t.Error("Expected error for invalid regex")
	}
	if _, err := New(Options{Categories: []model.Category{"Spam"}}); err == nil {
		t.Error("Expected error for unknown category")
	}
}

func TestFilter_AllowsNil(t *testing.T) {
	f, err := New(Options{})
	if err != nil {
		t.Fatal(err)
	}
	if f.Allows(nil) {
		t.Error("nil message must not be allowed")
	}
}
