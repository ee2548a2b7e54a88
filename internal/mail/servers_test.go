package mail

import (
	"bufio"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"io"
	"math/big"
	"net"
	"strconv"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	imap "github.com/emersion/go-imap/v2"
	"github.com/emersion/go-imap/v2/imapclient"
	"github.com/emersion/go-imap/v2/imapserver"
	"github.com/emersion/go-imap/v2/imapserver/imapmemserver"
)

const (
	testUser = "testuser"
	testPass = "testpass"
)

// newTestIMAPServer starts an in-memory IMAP server with the given
// mailboxes (INBOX is always created) and returns its address.
func newTestIMAPServer(t *testing.T, mailboxes ...string) string {
	t.Helper()

	memSrv := imapmemserver.New()
	user := imapmemserver.NewUser(testUser, testPass)
	if err := user.Create("INBOX", nil); err != nil {
		t.Fatal(err)
	}
	for _, mb := range mailboxes {
		if err := user.Create(mb, nil); err != nil {
			t.Fatal(err)
		}
	}
	memSrv.AddUser(user)

	srv := imapserver.New(&imapserver.Options{
		NewSession: func(_ *imapserver.Conn) (imapserver.Session, *imapserver.GreetingData, error) {
			return memSrv.NewSession(), nil, nil
		},
		InsecureAuth: true,
		Caps:         imap.CapSet{imap.CapIMAP4rev1: {}},
	})

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	go srv.Serve(ln)
	t.Cleanup(func() { srv.Close() })
	return ln.Addr().String()
}

// appendMails appends raw messages to mailbox over a plain client session.
func appendMails(t *testing.T, addr, mailbox string, raws ...string) {
	t.Helper()

	conn, err := net.Dial("tcp", addr)
	if err != nil {
		t.Fatal(err)
	}
	c := imapclient.New(conn, nil)
	defer c.Close()
	if err := c.Login(testUser, testPass).Wait(); err != nil {
		t.Fatal(err)
	}
	for _, raw := range raws {
		cmd := c.Append(mailbox, int64(len(raw)), nil)
		if _, err := cmd.Write([]byte(raw)); err != nil {
			t.Fatal(err)
		}
		if err := cmd.Close(); err != nil {
			t.Fatal(err)
		}
		if _, err := cmd.Wait(); err != nil {
			t.Fatal(err)
		}
	}
}

func testParams(t *testing.T, proto Protocol, addr string) ConnParams {
	t.Helper()
	host, portStr, err := net.SplitHostPort(addr)
	if err != nil {
		t.Fatal(err)
	}
	port, err := strconv.Atoi(portStr)
	if err != nil {
		t.Fatal(err)
	}
	return ConnParams{Protocol: proto, Host: host, Port: port, Username: testUser, Password: testPass}
}

// greetingListener sends greeting on each connection and then goes quiet.
func greetingListener(t *testing.T, greeting string) string {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { ln.Close() })
	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			go func() {
				defer conn.Close()
				_, _ = io.WriteString(conn, greeting)
				_, _ = io.Copy(io.Discard, conn)
			}()
		}
	}()
	return ln.Addr().String()
}

// silentListener accepts connections and never writes to them.
func silentListener(t *testing.T) string {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { ln.Close() })
	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			go func() {
				defer conn.Close()
				_, _ = io.Copy(io.Discard, conn)
			}()
		}
	}()
	return ln.Addr().String()
}

// closedAddr returns an address nothing listens on.
func closedAddr(t *testing.T) string {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	addr := ln.Addr().String()
	ln.Close()
	return addr
}

// newTestTLSConfig generates a self-signed server certificate.
func newTestTLSConfig(t *testing.T) *tls.Config {
	t.Helper()

	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		t.Fatal(err)
	}
	tmpl := &x509.Certificate{
		SerialNumber: big.NewInt(1),
		DNSNames:     []string{"localhost"},
		IPAddresses:  []net.IP{net.IPv4(127, 0, 0, 1)},
		NotBefore:    time.Now().Add(-time.Hour),
		NotAfter:     time.Now().Add(24 * time.Hour),
	}
	der, err := x509.CreateCertificate(rand.Reader, tmpl, tmpl, &key.PublicKey, key)
	if err != nil {
		t.Fatal(err)
	}
	return &tls.Config{Certificates: []tls.Certificate{{Certificate: [][]byte{der}, PrivateKey: key}}}
}

// pop3Mock is a scripted RFC 1939 server.
type pop3Mock struct {
	messages  []string
	refuseTop bool
	errTop    map[int]bool
	errRetr   map[int]bool
	tlsConfig *tls.Config // enables STLS
	implicit  bool        // serve TLS from the first byte

	quits atomic.Int32
	tops  atomic.Int32
}

func (m *pop3Mock) start(t *testing.T) string {
	t.Helper()
	var (
		ln  net.Listener
		err error
	)
	if m.implicit {
		ln, err = tls.Listen("tcp", "127.0.0.1:0", m.tlsConfig)
	} else {
		ln, err = net.Listen("tcp", "127.0.0.1:0")
	}
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { ln.Close() })
	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			go m.serve(conn)
		}
	}()
	return ln.Addr().String()
}

func (m *pop3Mock) serve(conn net.Conn) {
	defer conn.Close()
	r := bufio.NewReader(conn)
	w := bufio.NewWriter(conn)
	reply := func(s string) {
		w.WriteString(s + "\r\n")
		w.Flush()
	}
	multi := func(body string) {
		w.WriteString("+OK\r\n")
		body = strings.ReplaceAll(body, "\r\n", "\n")
		for _, line := range strings.Split(strings.TrimSuffix(body, "\n"), "\n") {
			if strings.HasPrefix(line, ".") {
				line = "." + line
			}
			w.WriteString(line + "\r\n")
		}
		w.WriteString(".\r\n")
		w.Flush()
	}
	msgAt := func(arg string) (string, bool) {
		n, err := strconv.Atoi(arg)
		if err != nil || n < 1 || n > len(m.messages) {
			return "", false
		}
		return m.messages[n-1], true
	}

	reply("+OK POP3 mock ready")
	authed := false
	for {
		line, err := r.ReadString('\n')
		if err != nil {
			return
		}
		fields := strings.Fields(strings.TrimSpace(line))
		if len(fields) == 0 {
			continue
		}
		switch strings.ToUpper(fields[0]) {
		case "STLS":
			if m.tlsConfig == nil {
				reply("-ERR STLS not supported")
				continue
			}
			reply("+OK begin TLS")
			tlsConn := tls.Server(conn, m.tlsConfig)
			if err := tlsConn.Handshake(); err != nil {
				return
			}
			conn = tlsConn
			r = bufio.NewReader(conn)
			w = bufio.NewWriter(conn)
		case "USER":
			reply("+OK")
		case "PASS":
			if len(fields) > 1 && fields[1] == testPass {
				authed = true
				reply("+OK logged in")
			} else {
				reply("-ERR invalid credentials")
			}
		case "STAT":
			if !authed {
				reply("-ERR not authenticated")
				continue
			}
			size := 0
			for _, msg := range m.messages {
				size += len(msg)
			}
			reply(fmt.Sprintf("+OK %d %d", len(m.messages), size))
		case "TOP":
			m.tops.Add(1)
			msg, ok := msgAt(fields[1])
			n, _ := strconv.Atoi(fields[1])
			switch {
			case m.refuseTop:
				reply("-ERR TOP not supported")
			case !ok || m.errTop[n]:
				reply("-ERR no such message")
			default:
				head, _, _ := strings.Cut(strings.ReplaceAll(msg, "\r\n", "\n"), "\n\n")
				multi(head + "\n")
			}
		case "RETR":
			msg, ok := msgAt(fields[1])
			n, _ := strconv.Atoi(fields[1])
			if !ok || m.errRetr[n] {
				reply("-ERR no such message")
				continue
			}
			multi(msg)
		case "QUIT":
			m.quits.Add(1)
			reply("+OK bye")
			return
		default:
			reply("-ERR unknown command")
		}
	}
}
