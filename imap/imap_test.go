package imap

import (
	"context"
	"errors"
	"io"
	"testing"
	"time"

	imapv2 "github.com/emersion/go-imap/v2"
	"github.com/emersion/go-imap/v2/imapclient"

	"github.com/dhcgn/inbox-triage/model"
)

func TestFormatAddress(t *testing.T) {
	tests := []struct {
		name string
		addr imapv2.Address
		want string
	}{
		{"name and address", imapv2.Address{Name: "Alice", Mailbox: "alice", Host: "example.com"}, "Alice <alice@example.com>"},
		{"address only", imapv2.Address{Mailbox: "bob", Host: "example.com"}, "bob@example.com"},
		{"encoded name", imapv2.Address{Name: "=?UTF-8?Q?J=C3=BCrgen?=", Mailbox: "j", Host: "example.de"}, "Jürgen <j@example.de>"},
		{"name only", imapv2.Address{Name: "Undisclosed"}, "Undisclosed"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := formatAddress(tt.addr); got != tt.want {
				t.Errorf("formatAddress() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestClassifyError(t *testing.T) {
	if classifyError("op", nil) != nil {
		t.Fatal("nil error must stay nil")
	}

	soft := classifyError("move", &imapv2.Error{Type: imapv2.StatusResponseTypeNo, Text: "no such message"})
	if errors.Is(soft, model.ErrConnection) {
		t.Errorf("server NO must be soft: %v", soft)
	}

	hard := classifyError("move", io.EOF)
	if !errors.Is(hard, model.ErrConnection) || !errors.Is(hard, io.EOF) {
		t.Errorf("EOF must be a connection error: %v", hard)
	}
}

func TestLastUIDs(t *testing.T) {
	uids := []imapv2.UID{1, 2, 3, 4, 5}
	if got := lastUIDs(uids, 2); len(got) != 2 || got[0] != 4 || got[1] != 5 {
		t.Errorf("lastUIDs(2) = %v", got)
	}
	if got := lastUIDs(uids, 0); len(got) != 5 {
		t.Errorf("lastUIDs(0) = %v", got)
	}
	if got := lastUIDs(uids, 10); len(got) != 5 {
		t.Errorf("lastUIDs(10) = %v", got)
	}
}

func TestContainsMailbox(t *testing.T) {
	list := []*imapv2.ListData{{Mailbox: "Inbox"}, {Mailbox: "SmartInbox/Action"}, nil}
	if !containsMailbox(list, "SmartInbox/Action") {
		t.Error("expected SmartInbox/Action to exist")
	}
	if containsMailbox(list, "SmartInbox/Read") {
		t.Error("SmartInbox/Read must not exist")
	}
	if !containsMailbox(list, "INBOX") {
		t.Error("INBOX matches case-insensitively")
	}
}

func TestMessageFromBuffer(t *testing.T) {
	date := time.Date(2026, 9, 30, 10, 0, 0, 0, time.UTC)
	buf := &imapclient.FetchMessageBuffer{
		UID: 42,
		Envelope: &imapv2.Envelope{
			Subject: "=?UTF-8?B?UmVjaG51bmc=?=",
			Date:    date,
			From:    []imapv2.Address{{Name: "Shop", Mailbox: "billing", Host: "shop.example"}},
		},
	}
	msg := messageFromBuffer(buf)
	if msg.UID != 42 || msg.Subject != "Rechnung" || msg.From != "Shop <billing@shop.example>" || !msg.Date.Equal(date) {
		t.Errorf("messageFromBuffer() = %+v", msg)
	}
	if msg.Category != model.Uncategorised {
		t.Errorf("category = %v", msg.Category)
	}

	bare := messageFromBuffer(&imapclient.FetchMessageBuffer{UID: 1})
	if bare.Subject != "" || bare.From != "" || !bare.Date.IsZero() {
		t.Errorf("message without envelope = %+v", bare)
	}
}

func TestSession_NilIsNoConnection(t *testing.T) {
	var s *Session
	if err := s.SelectFolder(context.Background(), "INBOX", true); !errors.Is(err, model.ErrNoConnection) {
		t.Errorf("SelectFolder on nil session = %v", err)
	}
	if err := s.Logout(); err != nil {
		t.Errorf("Logout on nil session = %v", err)
	}
}

func TestConnect_Unreachable(t *testing.T) {
	_, _, err := Connect(context.Background(), Options{Host: "127.0.0.1", Port: 1, Timeout: time.Second}, nil)
	if !errors.Is(err, model.ErrConnection) {
		t.Errorf("Connect() error = %v, want connection error", err)
	}
	if _, _, err := Connect(context.Background(), Options{Port: 993}, nil); err == nil {
		t.Error("expected error for empty host")
	}
}
