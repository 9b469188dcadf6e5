package imap

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"slices"
	"strconv"
	"strings"
	"sync"
	"time"

	imapv2 "github.com/emersion/go-imap/v2"
	"github.com/emersion/go-imap/v2/imapclient"

	"github.com/dhcgn/inbox-triage/model"
)

const (
	InboxFolder    = "INBOX"
	DefaultTimeout = 30 * time.Second
)

type Options struct {
	Host               string
	Port               int
	Username           string
	Password           string
	UseTLS             bool
	InsecureSkipVerify bool
	// Timeout bounds the dial and every command; 0 uses DefaultTimeout.
	Timeout time.Duration
}

func (o Options) timeout() time.Duration {
	if o.Timeout <= 0 {
		return DefaultTimeout
	}
	return o.Timeout
}

// Session is a logged-in IMAP connection. It is meant for one caller at a
// time; the selected folder is connection state and callers re-select
// before relying on it.
type Session struct {
	client *imapclient.Client
	opts   Options
	logger *slog.Logger

	mu     sync.Mutex
	closed bool
}

// Connect dials and logs in. The returned status message is meant for the
// user.
func Connect(ctx context.Context, opts Options, logger *slog.Logger) (*Session, string, error) {
	if opts.Host == "" {
		return nil, "", fmt.Errorf("imap host is empty")
	}
	if opts.Port <= 0 {
		return nil, "", fmt.Errorf("imap port must be positive")
	}

	address := net.JoinHostPort(opts.Host, strconv.Itoa(opts.Port))
	options := &imapclient.Options{WordDecoder: model.WordDecoder()}

	dialCtx, cancel := context.WithTimeout(ctx, opts.timeout())
	defer cancel()

	var (
		conn net.Conn
		err  error
	)
	netDialer := &net.Dialer{Timeout: opts.timeout()}
	if opts.UseTLS {
		dialer := &tls.Dialer{
			NetDialer: netDialer,
			Config: &tls.Config{
				ServerName:         opts.Host,
				InsecureSkipVerify: opts.InsecureSkipVerify,
			},
		}
		conn, err = dialer.DialContext(dialCtx, "tcp", address)
	} else {
		conn, err = netDialer.DialContext(dialCtx, "tcp", address)
	}
	if err != nil {
		return nil, "", fmt.Errorf("dial imap %s: %w: %w", address, model.ErrConnection, err)
	}

	s := &Session{
		client: imapclient.New(conn, options),
		opts:   opts,
		logger: logger,
	}

	if err := s.await(ctx, "login", func() error {
		return s.client.Login(opts.Username, opts.Password).Wait()
	}); err != nil {
		_ = s.close()
		return nil, "", fmt.Errorf("imap login failed: %w", err)
	}

	if logger != nil {
		logger.Debug("imap connection established", "address", address, "user", opts.Username, "tls", opts.UseTLS)
	}

	return s, fmt.Sprintf("Connected to %s as %s", opts.Host, opts.Username), nil
}

// FetchLatest returns the metadata of the newest max messages in INBOX,
// newest first. max <= 0 fetches every message.
func (s *Session) FetchLatest(ctx context.Context, max int) ([]*model.Message, error) {
	if err := s.SelectFolder(ctx, InboxFolder, true); err != nil {
		return nil, err
	}

	var uids []imapv2.UID
	if err := s.await(ctx, "search", func() error {
		data, err := s.client.UIDSearch(&imapv2.SearchCriteria{}, nil).Wait()
		if err != nil {
			return err
		}
		uids = data.AllUIDs()
		return nil
	}); err != nil {
		return nil, err
	}

	uids = lastUIDs(uids, max)
	if len(uids) == 0 {
		return []*model.Message{}, nil
	}

	var buffers []*imapclient.FetchMessageBuffer
	if err := s.await(ctx, "fetch", func() error {
		var err error
		buffers, err = s.client.Fetch(imapv2.UIDSetNum(uids...), &imapv2.FetchOptions{
			Envelope: true,
			UID:      true,
		}).Collect()
		return err
	}); err != nil {
		return nil, err
	}

	msgs := make([]*model.Message, 0, len(buffers))
	for _, buf := range buffers {
		msgs = append(msgs, messageFromBuffer(buf))
	}
	slices.SortFunc(msgs, func(a, b *model.Message) int {
		switch {
		case a.UID > b.UID:
			return -1
		case a.UID < b.UID:
			return 1
		}
		return 0
	})

	if s.logger != nil {
		s.logger.Info("fetched messages", "folder", InboxFolder, "requested", max, "fetched", len(msgs))
	}
	return msgs, nil
}

func (s *Session) SelectFolder(ctx context.Context, name string, readOnly bool) error {
	return s.await(ctx, "select "+name, func() error {
		_, err := s.client.Select(name, &imapv2.SelectOptions{ReadOnly: readOnly}).Wait()
		return err
	})
}

func (s *Session) FolderExists(ctx context.Context, name string) (bool, error) {
	var exists bool
	err := s.await(ctx, "list "+name, func() error {
		mailboxes, err := s.client.List("", name, nil).Collect()
		if err != nil {
			return err
		}
		exists = containsMailbox(mailboxes, name)
		return nil
	})
	return exists, err
}

// CreateFolder creates name. A folder that already exists is not an error.
func (s *Session) CreateFolder(ctx context.Context, name string) error {
	err := s.await(ctx, "create "+name, func() error {
		return s.client.Create(name, nil).Wait()
	})
	if err != nil {
		var respErr *imapv2.Error
		if errors.As(err, &respErr) && respErr.Code == imapv2.ResponseCodeAlreadyExists {
			if s.logger != nil {
				s.logger.Debug("imap mailbox already exists", "mailbox", name)
			}
			return nil
		}
		return err
	}

	if s.logger != nil {
		s.logger.Info("imap mailbox created", "mailbox", name)
	}
	return nil
}

// Move moves uids out of the selected folder into folder.
func (s *Session) Move(ctx context.Context, uids []uint32, folder string) error {
	if len(uids) == 0 {
		return nil
	}
	set := make([]imapv2.UID, len(uids))
	for i, uid := range uids {
		set[i] = imapv2.UID(uid)
	}
	return s.await(ctx, "move to "+folder, func() error {
		_, err := s.client.Move(imapv2.UIDSetNum(set...), folder).Wait()
		return err
	})
}

// Logout ends the session and closes the connection.
func (s *Session) Logout() error {
	if s == nil || s.isClosed() {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), s.opts.timeout())
	defer cancel()

	err := s.await(ctx, "logout", func() error {
		return s.client.Logout().Wait()
	})
	if err != nil && s.logger != nil {
		s.logger.Warn("imap logout failed", "err", err)
	}
	if cerr := s.close(); cerr != nil && s.logger != nil {
		s.logger.Debug("imap connection closed", "err", cerr)
	}
	return err
}

// await runs fn bounded by the session timeout and ctx. When the deadline
// passes the connection is closed, since the command may still be in
// flight, and the session becomes unusable.
func (s *Session) await(ctx context.Context, op string, fn func() error) error {
	if s == nil || s.client == nil {
		return model.ErrNoConnection
	}
	if s.isClosed() {
		return fmt.Errorf("%s: %w: session closed", op, model.ErrConnection)
	}

	ctx, cancel := context.WithTimeout(ctx, s.opts.timeout())
	defer cancel()

	done := make(chan error, 1)
	go func() {
		done <- fn()
	}()

	select {
	case err := <-done:
		return classifyError(op, err)
	case <-ctx.Done():
		if s.logger != nil {
			s.logger.Error("imap command did not finish, closing connection", "op", op, "err", ctx.Err())
		}
		_ = s.close()
		return fmt.Errorf("%s: %w: %w", op, model.ErrConnection, ctx.Err())
	}
}

func (s *Session) close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.mu.Unlock()
	return s.client.Close()
}

func (s *Session) isClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

// classifyError keeps server NO/BAD replies as plain errors and marks
// everything else (network, EOF, closed connection) as ErrConnection.
func classifyError(op string, err error) error {
	if err == nil {
		return nil
	}
	var respErr *imapv2.Error
	if errors.As(err, &respErr) {
		return fmt.Errorf("%s: %w", op, err)
	}
	return fmt.Errorf("%s: %w: %w", op, model.ErrConnection, err)
}

func lastUIDs(uids []imapv2.UID, max int) []imapv2.UID {
	if max > 0 && len(uids) > max {
		return uids[len(uids)-max:]
	}
	return uids
}

func containsMailbox(mailboxes []*imapv2.ListData, name string) bool {
	for _, mb := range mailboxes {
		if mb == nil {
			continue
		}
		if mb.Mailbox == name || (strings.EqualFold(name, InboxFolder) && strings.EqualFold(mb.Mailbox, InboxFolder)) {
			return true
		}
	}
	return false
}

func messageFromBuffer(buf *imapclient.FetchMessageBuffer) *model.Message {
	msg := model.NewMessage(uint32(buf.UID), "", "", time.Time{})
	if buf.Envelope == nil {
		return msg
	}
	msg.Subject = model.DecodeHeader(buf.Envelope.Subject)
	msg.Date = buf.Envelope.Date
	if len(buf.Envelope.From) > 0 {
		msg.From = formatAddress(buf.Envelope.From[0])
	}
	return msg
}

// formatAddress renders "Name <addr>", or just the address when there is no
// display name.
func formatAddress(addr imapv2.Address) string {
	name := strings.TrimSpace(model.DecodeHeader(addr.Name))
	email := addr.Mailbox
	if email != "" && addr.Host != "" {
		email += "@" + addr.Host
	}
	switch {
	case name == "":
		return email
	case email == "":
		return name
	}
	return fmt.Sprintf("%s <%s>", name, email)
}
