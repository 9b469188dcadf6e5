package mbox

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/dhcgn/inbox-triage/model"
)

const archive = `From alice@example.com Thu Oct  1 10:00:00 2026
From: Alice Example <alice@example.com>
To: me@example.com
Subject: Action Required: confirm
Date: Thu, 01 Oct 2026 10:00:00 +0000
Message-ID: <1@example.com>

Please confirm.

From news@substack.com Thu Oct  1 11:00:00 2026
From: news@substack.com
Subject: =?UTF-8?Q?W=C3=B6chentlicher_Newsletter?=
Date: Thu, 01 Oct 2026 11:00:00 +0000

Read me.

From broken@example.com Thu Oct  1 12:00:00 2026
this line is not a header

body

From nobody@example.com Thu Oct  1 13:00:00 2026
From: =?ISO-8859-1?Q?J=F6rg?= <joerg@example.de>
Subject: Hello
Date: not a date

Hi.
`

func TestStream(t *testing.T) {
	var msgs []*model.Message
	err := Stream(context.Background(), strings.NewReader(archive), nil, func(m *model.Message) error {
		msgs = append(msgs, m)
		return nil
	})
	if err != nil {
		t.Fatalf("Stream() error = %v", err)
	}
	if len(msgs) != 3 {
		t.Fatalf("expected 3 readable messages, got %d", len(msgs))
	}

	tests := []struct {
		uid     uint32
		subject string
		from    string
		dated   bool
	}{
		{1, "Action Required: confirm", "Alice Example <alice@example.com>", true},
		{2, "Wöchentlicher Newsletter", "news@substack.com", true},
		{4, "Hello", "Jörg <joerg@example.de>", false},
	}
	for i, tt := range tests {
		m := msgs[i]
		if m.UID != tt.uid || m.Subject != tt.subject || m.From != tt.from {
			t.Errorf("msg %d = %+v, want uid %d subject %q from %q", i, m, tt.uid, tt.subject, tt.from)
		}
		if m.Date.IsZero() == tt.dated {
			t.Errorf("msg %d date = %v", i, m.Date)
		}
		if m.Category != model.Uncategorised {
			t.Errorf("msg %d category = %v", i, m.Category)
		}
	}
	if want := time.Date(2026, 10, 1, 10, 0, 0, 0, time.UTC); !msgs[0].Date.Equal(want) {
		t.Errorf("date = %v, want %v", msgs[0].Date, want)
	}
}

func TestStream_CallbackError(t *testing.T) {
	stop := errors.New("stop")
	calls := 0
	err := Stream(context.Background(), strings.NewReader(archive), nil, func(*model.Message) error {
		calls++
		return stop
	})
	if !errors.Is(err, stop) || calls != 1 {
		t.Errorf("Stream() = %v after %d calls", err, calls)
	}
}

func TestStream_Canceled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := Stream(ctx, strings.NewReader(archive), nil, func(*model.Message) error { return nil })
	if !errors.Is(err, context.Canceled) {
		t.Errorf("Stream() = %v", err)
	}
}

func TestReadAndCount(t *testing.T) {
	path := filepath.Join(t.TempDir(), "inbox.mbox")
	if err := os.WriteFile(path, []byte(archive), 0o600); err != nil {
		t.Fatal(err)
	}

	msgs, err := Read(context.Background(), path, 2, nil)
	if err != nil {
		t.Fatalf("Read() error = %v", err)
	}
	if len(msgs) != 2 || msgs[0].UID != 2 || msgs[1].UID != 4 {
		t.Errorf("Read(max 2) = %v", msgs)
	}

	count, err := CountMessages(path)
	if err != nil || count != 4 {
		t.Errorf("CountMessages() = %d, %v", count, err)
	}

	if _, err := Read(context.Background(), filepath.Join(t.TempDir(), "missing.mbox"), 0, nil); err == nil {
		t.Error("expected error for missing file")
	}
}
