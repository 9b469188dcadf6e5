// Package mbox reads message metadata from mbox archives so the classifiers
// can be tried offline.
package mbox

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/emersion/go-message"
	"github.com/emersion/go-message/mail"
	mboxlib "github.com/emersion/go-mbox"

	"github.com/dhcgn/inbox-triage/model"
)

// ErrMalformedMessage marks a message whose header could not be parsed.
var ErrMalformedMessage = errors.New("malformed mbox message")

// Read returns the messages of the archive at path in file order with
// sequential UIDs starting at 1. max > 0 keeps only the last max messages.
// Messages with unreadable headers are skipped and logged.
func Read(ctx context.Context, path string, max int, logger *slog.Logger) ([]*model.Message, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil, fmt.Errorf("mbox path is empty")
	}

	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open mbox: %w", err)
	}
	defer file.Close()

	var msgs []*model.Message
	err = Stream(ctx, file, logger, func(msg *model.Message) error {
		msgs = append(msgs, msg)
		if max > 0 && len(msgs) > max {
			msgs = msgs[1:]
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	if logger != nil {
		logger.Info("read mbox", "path", path, "messages", len(msgs), "max", max)
	}
	return msgs, nil
}

// Stream calls fn for every readable message in r. UIDs are assigned in
// file order, counting skipped messages, so a UID always names the same
// position in the archive.
func Stream(ctx context.Context, r io.Reader, logger *slog.Logger, fn func(*model.Message) error) error {
	reader := mboxlib.NewReader(r)

	for idx := 0; ; idx++ {
		if err := ctx.Err(); err != nil {
			return err
		}

		msgReader, err := reader.NextMessage()
		if err != nil {
			if errors.Is(err, io.EOF) {
				return nil
			}
			return fmt.Errorf("message %d: %w", idx, err)
		}

		uid := uint32(idx + 1)
		msg, err := parseHeader(uid, msgReader)
		if err != nil {
			if logger != nil {
				logger.Warn("skipping mbox message", "index", idx, "err", err)
			}
			continue
		}

		if err := fn(msg); err != nil {
			return err
		}
	}
}

func parseHeader(uid uint32, r io.Reader) (*model.Message, error) {
	entity, err := message.Read(r)
	if err != nil && !message.IsUnknownCharset(err) && !message.IsUnknownEncoding(err) {
		return nil, fmt.Errorf("%w: %w", ErrMalformedMessage, err)
	}
	if entity == nil {
		return nil, ErrMalformedMessage
	}
	// the body is never needed; drain it so the next message starts cleanly
	_, _ = io.Copy(io.Discard, entity.Body)

	h := mail.Header{Header: entity.Header}

	subject, err := h.Subject()
	if err != nil {
		subject = model.DecodeHeader(h.Get("Subject"))
	}

	var date time.Time
	if d, err := h.Date(); err == nil {
		date = d
	}

	return model.NewMessage(uid, subject, fromHeader(h), date), nil
}

func fromHeader(h mail.Header) string {
	addrs, err := h.AddressList("From")
	if err != nil || len(addrs) == 0 {
		return strings.TrimSpace(model.DecodeHeader(h.Get("From")))
	}
	addr := addrs[0]
	if addr.Name == "" {
		return addr.Address
	}
	return fmt.Sprintf("%s <%s>", addr.Name, addr.Address)
}

// CountMessages counts the messages in an mbox file without parsing them.
func CountMessages(path string) (int, error) {
	file, err := os.Open(path)
	if err != nil {
		return 0, fmt.Errorf("open mbox: %w", err)
	}
	defer file.Close()

	reader := mboxlib.NewReader(file)
	count := 0
	for {
		msgReader, err := reader.NextMessage()
		if err != nil {
			if errors.Is(err, io.EOF) {
				return count, nil
			}
			return 0, err
		}

		// A message that cannot be drained still counts.
		_, _ = io.Copy(io.Discard, msgReader)
		count++
	}
}
