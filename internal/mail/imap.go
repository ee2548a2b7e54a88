package mail

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strconv"

	imap "github.com/emersion/go-imap/v2"
	"github.com/emersion/go-imap/v2/imapclient"
	"github.com/emersion/go-sasl"
)

// IMAPFetcher reads mail over IMAP. Each call opens one authenticated
// session, does its work and logs out.
type IMAPFetcher struct {
	params ConnParams
	opts   options
}

// NewIMAPFetcher returns a fetcher for the given server.
func NewIMAPFetcher(params ConnParams, opts ...Option) *IMAPFetcher {
	return &IMAPFetcher{params: params, opts: newOptions(opts)}
}

func (f *IMAPFetcher) Protocol() Protocol { return ProtocolIMAP }

// FetchMessages implements Fetcher.
func (f *IMAPFetcher) FetchMessages(ctx context.Context, folder Folder, limit int) ([]Message, error) {
	if limit <= 0 {
		return []Message{}, nil
	}
	var out []Message
	err := f.withSession(ctx, "list messages", func(c *imapclient.Client) error {
		if folder == FolderAll {
			msgs, err := f.fetchAll(ctx, c, limit)
			out = msgs
			return err
		}
		path, data, err := f.selectFolder(c, folder)
		if err != nil {
			return err
		}
		msgs, err := f.fetchRecent(c, path, data.NumMessages, limit)
		out = msgs
		return err
	})
	if err != nil {
		return nil, err
	}
	if out == nil {
		out = []Message{}
	}
	return out, nil
}

// FetchMessage implements Fetcher. id is the message UID.
func (f *IMAPFetcher) FetchMessage(ctx context.Context, folder Folder, id string) (*Message, error) {
	if folder == FolderAll {
		return nil, unsupported("fetch message", "UIDs are per mailbox; pick a concrete folder")
	}
	uid, err := strconv.ParseUint(id, 10, 32)
	if err != nil || uid == 0 {
		return nil, fmt.Errorf("%w: invalid UID %q", ErrMessageNotFound, id)
	}

	var out *Message
	err = f.withSession(ctx, "fetch message", func(c *imapclient.Client) error {
		path, _, err := f.selectFolder(c, folder)
		if err != nil {
			return err
		}
		bufs, err := c.Fetch(imap.UIDSetNum(imap.UID(uid)), fetchOptions()).Collect()
		if err != nil {
			return fmt.Errorf("UID FETCH %d: %w", uid, err)
		}
		if len(bufs) == 0 {
			return ErrMessageNotFound
		}
		m := f.toMessage(bufs[0], path)
		out = &m
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// withSession dials, authenticates, runs fn and always logs out. Logout
// failures are logged and never returned.
func (f *IMAPFetcher) withSession(ctx context.Context, op string, fn func(*imapclient.Client) error) error {
	c, stop, err := f.connect(ctx)
	if err != nil {
		return classify(ctx, op, err)
	}
	defer func() {
		stop()
		f.logout(c)
	}()

	if err := fn(c); err != nil {
		if errors.Is(err, ErrMessageNotFound) {
			return err
		}
		return classify(ctx, op, err)
	}
	return nil
}

// connect returns an authenticated client. The socket is closed as soon as
// ctx ends, including during the greeting and LOGIN, since imapclient
// resets read deadlines on its own. The returned stop func detaches that.
func (f *IMAPFetcher) connect(ctx context.Context) (*imapclient.Client, func() bool, error) {
	f.opts.logger.Debug("connecting to IMAP server",
		"addr", f.params.Addr(), "tls", f.params.Secure, "starttls", f.params.StartTLS)

	conn, err := f.opts.dial(ctx, f.params)
	if err != nil {
		return nil, nil, fmt.Errorf("dial IMAP %s: %w", f.params.Addr(), err)
	}
	stop := context.AfterFunc(ctx, func() { _ = conn.Close() })
	fail := func(format string, err error) (*imapclient.Client, func() bool, error) {
		stop()
		_ = conn.Close()
		return nil, nil, fmt.Errorf(format, err)
	}

	var c *imapclient.Client
	if f.params.StartTLS && !f.params.Secure {
		c, err = imapclient.NewStartTLS(conn, &imapclient.Options{TLSConfig: f.opts.tlsFor(f.params.Host)})
		if err != nil {
			return fail("IMAP STARTTLS: %w", err)
		}
	} else {
		c = imapclient.New(conn, &imapclient.Options{})
	}

	if err := f.login(c); err != nil {
		_ = c.Close()
		return fail("IMAP login: %w", err)
	}
	f.opts.logger.Debug("IMAP session authenticated", "user", f.params.Username)
	return c, stop, nil
}

func (f *IMAPFetcher) login(c *imapclient.Client) error {
	if c.Caps().Has(imap.CapLoginDisabled) {
		return c.Authenticate(sasl.NewPlainClient("", f.params.Username, f.params.Password))
	}
	return c.Login(f.params.Username, f.params.Password).Wait()
}

func (f *IMAPFetcher) logout(c *imapclient.Client) {
	if err := c.Logout().Wait(); err != nil {
		f.opts.logger.Warn("IMAP logout failed", "host", f.params.Host, "error", err)
	}
	_ = c.Close()
}

// listMailboxes returns the selectable mailboxes.
func listMailboxes(c *imapclient.Client) ([]listedMailbox, error) {
	items, err := c.List("", "*", nil).Collect()
	if err != nil {
		return nil, fmt.Errorf("LIST: %w", err)
	}
	out := make([]listedMailbox, 0, len(items))
	for _, item := range items {
		if slices.Contains(item.Attrs, imap.MailboxAttrNoSelect) {
			continue
		}
		out = append(out, listedMailbox{Name: item.Mailbox, Attrs: item.Attrs})
	}
	return out, nil
}

// selectFolder resolves a logical folder by trying each candidate path
// read-only until one is accepted. A NO for one candidate moves on to the
// next; any other failure aborts.
func (f *IMAPFetcher) selectFolder(c *imapclient.Client, folder Folder) (string, *imap.SelectData, error) {
	if folder == "" {
		folder = FolderInbox
	}
	var listed []listedMailbox
	if folder != FolderInbox {
		var err error
		if listed, err = listMailboxes(c); err != nil {
			if !isIMAPStatus(err) {
				return "", nil, err
			}
			f.opts.logger.Debug("LIST failed, using alias table only", "error", err)
		}
	}

	candidates := folderCandidates(folder, listed)
	for _, path := range candidates {
		data, err := c.Select(path, &imap.SelectOptions{ReadOnly: true}).Wait()
		if err == nil {
			f.opts.logger.Debug("resolved folder", "folder", folder, "mailbox", path)
			return path, data, nil
		}
		if !isIMAPStatus(err) {
			return "", nil, fmt.Errorf("SELECT %q: %w", path, err)
		}
	}
	return "", nil, &Error{
		Kind: KindFolderNotFound,
		Op:   "select folder",
		Err:  &FolderNotFoundError{Folder: folder, Candidates: candidates},
	}
}

// fetchRecent fetches the newest limit messages of the selected mailbox.
func (f *IMAPFetcher) fetchRecent(c *imapclient.Client, path string, total uint32, limit int) ([]Message, error) {
	start, end, ok := recentRange(total, uint32(limit))
	if !ok {
		return []Message{}, nil
	}
	var seqSet imap.SeqSet
	seqSet.AddRange(start, end)

	bufs, err := c.Fetch(seqSet, fetchOptions()).Collect()
	if err != nil {
		return nil, fmt.Errorf("FETCH %d:%d in %q: %w", start, end, path, err)
	}
	slices.SortFunc(bufs, func(a, b *imapclient.FetchMessageBuffer) int {
		return int(b.SeqNum) - int(a.SeqNum)
	})

	msgs := make([]Message, 0, len(bufs))
	for _, buf := range bufs {
		msgs = append(msgs, f.toMessage(buf, path))
	}
	return msgs, nil
}

// fetchAll aggregates every relevant mailbox in one session, mailbox by
// mailbox, until limit unique messages have been collected.
func (f *IMAPFetcher) fetchAll(ctx context.Context, c *imapclient.Client, limit int) ([]Message, error) {
	listed, err := listMailboxes(c)
	if err != nil {
		return nil, err
	}
	candidates := allMailCandidates(listed)
	per := perMailboxLimit(limit, len(candidates))

	d := newDeduper()
	for _, cand := range candidates {
		if d.Len() >= limit {
			break
		}
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		data, err := c.Select(cand.Path, &imap.SelectOptions{ReadOnly: true}).Wait()
		if err != nil {
			if isIMAPStatus(err) {
				f.opts.logger.Debug("skipping mailbox", "mailbox", cand.Path, "error", err)
				continue
			}
			return nil, fmt.Errorf("SELECT %q: %w", cand.Path, err)
		}
		msgs, err := f.fetchRecent(c, cand.Path, data.NumMessages, per)
		if err != nil {
			return nil, err
		}
		for _, m := range msgs {
			d.Add(m, cand.Path)
		}
	}
	return d.Result(limit), nil
}

func fetchOptions() *imap.FetchOptions {
	return &imap.FetchOptions{
		Envelope:    true,
		UID:         true,
		BodySection: []*imap.FetchItemBodySection{{Peek: true}},
	}
}

var fullSection = &imap.FetchItemBodySection{Peek: true}

// toMessage normalizes one FETCH result. Envelope fields win over parsed
// header fields because the server has already decoded them.
func (f *IMAPFetcher) toMessage(buf *imapclient.FetchMessageBuffer, path string) Message {
	raw := buf.FindBodySection(fullSection)
	m, err := Normalize(raw)
	if err != nil {
		f.opts.logger.Debug("message parse failed", "mailbox", path, "uid", buf.UID, "error", err)
	}
	if env := buf.Envelope; env != nil && err == nil {
		if env.Subject != "" {
			m.Subject = subjectOrDefault(env.Subject)
		}
		if s := formatAddresses(fromIMAP(env.From)); s != "" {
			m.From = s
		}
		if s := formatAddresses(fromIMAP(env.To)); s != "" {
			m.To = s
		}
	}
	// Kept for unparsable sources too, so distinct failures stay distinct
	// under dedup.
	if env := buf.Envelope; env != nil && m.MessageID == "" && env.MessageID != "" {
		m.MessageID = "<" + env.MessageID + ">"
	}
	if env := buf.Envelope; env != nil && !env.Date.IsZero() {
		m.Date = env.Date.UTC()
	}
	m.ID = strconv.FormatUint(uint64(buf.UID), 10)
	m.SourceFolders = []string{path}
	return m
}

func fromIMAP(list []imap.Address) []address {
	out := make([]address, 0, len(list))
	for _, a := range list {
		out = append(out, address{name: a.Name, email: a.Addr()})
	}
	return out
}

// isIMAPStatus reports whether err is a tagged NO/BAD reply rather than a
// transport failure.
func isIMAPStatus(err error) bool {
	var imapErr *imap.Error
	return errors.As(err, &imapErr)
}
