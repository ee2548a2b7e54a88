package mail

import (
	"bufio"
	"bytes"
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net"
	"net/textproto"
	"strconv"
	"strings"
)

// POP3Fetcher reads the single POP3 maildrop. Messages are addressed by
// their sequence number, which is only stable within one session.
type POP3Fetcher struct {
	params ConnParams
	opts   options
}

// NewPOP3Fetcher returns a fetcher for the given server.
func NewPOP3Fetcher(params ConnParams, opts ...Option) *POP3Fetcher {
	return &POP3Fetcher{params: params, opts: newOptions(opts)}
}

func (f *POP3Fetcher) Protocol() Protocol { return ProtocolPOP3 }

// FetchMessages implements Fetcher. Only FolderInbox exists on POP3.
// Listing uses TOP n 0, so messages carry headers only. A message the
// server refuses is skipped; one that cannot be parsed is kept as a
// placeholder.
func (f *POP3Fetcher) FetchMessages(ctx context.Context, folder Folder, limit int) ([]Message, error) {
	if folder != "" && folder != FolderInbox {
		return nil, unsupported("list messages", "POP3 has no %s folder", folder)
	}
	msgs := []Message{}
	if limit <= 0 {
		return msgs, nil
	}

	err := f.withSession(ctx, "list messages", func(c *pop3Conn) error {
		count, _, err := c.stat()
		if err != nil {
			return fmt.Errorf("POP3 STAT: %w", err)
		}
		start, end, ok := recentRange(uint32(count), uint32(limit))
		if !ok {
			return nil
		}

		useTop := true
		for id := end; id >= start; id-- {
			if err := ctx.Err(); err != nil {
				return err
			}
			raw, err := f.headers(c, int(id), &useTop)
			if err != nil {
				if !isPOP3Status(err) {
					return err
				}
				f.opts.logger.Debug("skipping POP3 message", "id", id, "error", err)
				continue
			}
			m, perr := NormalizeHeader(raw)
			if perr != nil {
				f.opts.logger.Debug("POP3 message parse failed", "id", id, "error", perr)
			}
			m.ID = strconv.FormatUint(uint64(id), 10)
			m.SourceFolders = []string{string(FolderInbox)}
			msgs = append(msgs, m)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return msgs, nil
}

// headers fetches the header block for id. When TOP is refused but RETR
// of the same message works, the server lacks TOP and the rest of the
// session uses RETR. When both are refused the message itself is the
// problem and TOP stays in use.
func (f *POP3Fetcher) headers(c *pop3Conn, id int, useTop *bool) ([]byte, error) {
	if !*useTop {
		return c.retr(id)
	}
	raw, topErr := c.top(id, 0)
	if topErr == nil || !isPOP3Status(topErr) {
		return raw, topErr
	}
	raw, err := c.retr(id)
	if err != nil {
		return nil, err
	}
	f.opts.logger.Debug("POP3 TOP refused, falling back to RETR", "id", id, "error", topErr)
	*useTop = false
	return raw, nil
}

// FetchMessage implements Fetcher. POP3 has a single maildrop, so any
// folder other than FolderInbox is rejected.
func (f *POP3Fetcher) FetchMessage(ctx context.Context, folder Folder, id string) (*Message, error) {
	if folder != "" && folder != FolderInbox {
		return nil, unsupported("fetch message", "POP3 has no %s folder", folder)
	}
	n, err := strconv.Atoi(id)
	if err != nil || n <= 0 {
		return nil, fmt.Errorf("%w: invalid message number %q", ErrMessageNotFound, id)
	}

	var out *Message
	err = f.withSession(ctx, "fetch message", func(c *pop3Conn) error {
		raw, err := c.retr(n)
		if err != nil {
			if isPOP3Status(err) {
				return ErrMessageNotFound
			}
			return fmt.Errorf("POP3 RETR %d: %w", n, err)
		}
		m, perr := Normalize(raw)
		if perr != nil {
			f.opts.logger.Debug("POP3 message parse failed", "id", n, "error", perr)
		}
		m.ID = strconv.Itoa(n)
		m.SourceFolders = []string{string(FolderInbox)}
		out = &m
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// withSession connects, authenticates, runs fn and always sends QUIT.
func (f *POP3Fetcher) withSession(ctx context.Context, op string, fn func(*pop3Conn) error) error {
	c, err := f.connect(ctx)
	if err != nil {
		return classify(ctx, op, err)
	}
	stop := context.AfterFunc(ctx, func() { _ = c.conn.Close() })
	defer func() {
		stop()
		if err := c.quit(); err != nil {
			f.opts.logger.Warn("POP3 quit failed", "host", f.params.Host, "error", err)
		}
	}()

	if err := fn(c); err != nil {
		if errors.Is(err, ErrMessageNotFound) {
			return err
		}
		return classify(ctx, op, err)
	}
	return nil
}

func (f *POP3Fetcher) connect(ctx context.Context) (*pop3Conn, error) {
	f.opts.logger.Debug("connecting to POP3 server",
		"addr", f.params.Addr(), "tls", f.params.Secure, "starttls", f.params.StartTLS)

	netConn, err := f.opts.dial(ctx, f.params)
	if err != nil {
		return nil, fmt.Errorf("dial POP3 %s: %w", f.params.Addr(), err)
	}
	c := newPOP3Conn(netConn)

	fail := func(format string, err error) (*pop3Conn, error) {
		_ = netConn.Close()
		return nil, fmt.Errorf(format, err)
	}
	if _, err := c.readLine(); err != nil {
		return fail("POP3 greeting: %w", err)
	}
	if f.params.StartTLS && !f.params.Secure {
		if err := c.startTLS(ctx, f.opts.tlsFor(f.params.Host)); err != nil {
			return fail("POP3 STLS: %w", err)
		}
	}
	if err := c.auth(f.params.Username, f.params.Password); err != nil {
		return fail("POP3 login: %w", err)
	}
	return c, nil
}

// pop3Error is a -ERR reply. The connection is still usable.
type pop3Error struct {
	msg string
}

func (e *pop3Error) Error() string {
	if e.msg == "" {
		return "POP3: -ERR"
	}
	return "POP3: " + e.msg
}

func isPOP3Status(err error) bool {
	var pe *pop3Error
	return errors.As(err, &pe)
}

// pop3Conn speaks RFC 1939 over one connection, one command at a time.
type pop3Conn struct {
	conn net.Conn
	r    *textproto.Reader
	w    *bufio.Writer
}

func newPOP3Conn(conn net.Conn) *pop3Conn {
	return &pop3Conn{conn: conn, r: textproto.NewReader(bufio.NewReader(conn)), w: bufio.NewWriter(conn)}
}

func (c *pop3Conn) cmd(line string, multi bool) ([]byte, error) {
	if _, err := c.w.WriteString(line + "\r\n"); err != nil {
		return nil, err
	}
	if err := c.w.Flush(); err != nil {
		return nil, err
	}
	info, err := c.readLine()
	if err != nil || !multi {
		return info, err
	}
	// Dot-unstuffed, with line endings reduced to LF.
	return c.r.ReadDotBytes()
}

// readLine reads one status line and returns the text after +OK.
func (c *pop3Conn) readLine() ([]byte, error) {
	line, err := c.r.ReadLineBytes()
	if err != nil {
		return nil, err
	}
	switch {
	case bytes.HasPrefix(line, []byte("+OK")):
		return bytes.TrimSpace(line[3:]), nil
	case bytes.HasPrefix(line, []byte("-ERR")):
		return nil, &pop3Error{msg: string(bytes.TrimSpace(line[4:]))}
	}
	return nil, fmt.Errorf("POP3: unexpected response %q", line)
}

func (c *pop3Conn) startTLS(ctx context.Context, cfg *tls.Config) error {
	if _, err := c.cmd("STLS", false); err != nil {
		return err
	}
	tlsConn := tls.Client(c.conn, cfg)
	if err := tlsConn.HandshakeContext(ctx); err != nil {
		return err
	}
	c.conn = tlsConn
	c.r = textproto.NewReader(bufio.NewReader(tlsConn))
	c.w = bufio.NewWriter(tlsConn)
	return nil
}

func (c *pop3Conn) auth(user, password string) error {
	if _, err := c.cmd("USER "+user, false); err != nil {
		return err
	}
	_, err := c.cmd("PASS "+password, false)
	return err
}

func (c *pop3Conn) stat() (count, size int, err error) {
	info, err := c.cmd("STAT", false)
	if err != nil {
		return 0, 0, err
	}
	fields := strings.Fields(string(info))
	if len(fields) < 2 {
		return 0, 0, fmt.Errorf("POP3: malformed STAT reply %q", info)
	}
	if count, err = strconv.Atoi(fields[0]); err != nil {
		return 0, 0, fmt.Errorf("POP3: malformed STAT count %q", fields[0])
	}
	size, _ = strconv.Atoi(fields[1])
	return count, size, nil
}

func (c *pop3Conn) top(id, lines int) ([]byte, error) {
	return c.cmd(fmt.Sprintf("TOP %d %d", id, lines), true)
}

func (c *pop3Conn) retr(id int) ([]byte, error) {
	return c.cmd(fmt.Sprintf("RETR %d", id), true)
}

// quit ends the session and closes the socket. A failed QUIT is reported
// but the socket is closed regardless.
func (c *pop3Conn) quit() error {
	_, err := c.cmd("QUIT", false)
	if cerr := c.conn.Close(); err == nil && cerr != nil && !errors.Is(cerr, net.ErrClosed) {
		err = cerr
	}
	return err
}
