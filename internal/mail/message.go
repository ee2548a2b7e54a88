// Package mail fetches messages from remote IMAP and POP3 servers and
// normalizes them into one message shape.
package mail

import (
	"context"
	"fmt"
	"net"
	"strconv"
	"strings"
	"time"
)

// Protocol identifies the wire protocol of an incoming mail server.
type Protocol string

const (
	ProtocolIMAP Protocol = "IMAP"
	ProtocolPOP3 Protocol = "POP3"
)

// ParseProtocol accepts "imap" or "pop3" in any case.
func ParseProtocol(s string) (Protocol, error) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "IMAP":
		return ProtocolIMAP, nil
	case "POP3", "POP":
		return ProtocolPOP3, nil
	}
	return "", fmt.Errorf("unsupported server type %q", s)
}

// ConnParams holds decrypted connection parameters for one incoming server.
type ConnParams struct {
	Protocol Protocol
	Host     string
	Port     int
	Secure   bool // implicit TLS
	StartTLS bool
	Username string
	Password string
}

// Addr returns host:port, filling in the protocol's default port.
func (p ConnParams) Addr() string {
	port := p.Port
	if port == 0 {
		port = DefaultPort(p.Protocol, p.Secure)
	}
	return net.JoinHostPort(p.Host, strconv.Itoa(port))
}

// DefaultPort returns the IANA port for the protocol and TLS mode.
func DefaultPort(proto Protocol, secure bool) int {
	switch {
	case proto == ProtocolPOP3 && secure:
		return 995
	case proto == ProtocolPOP3:
		return 110
	case secure:
		return 993
	default:
		return 143
	}
}

// Message is the canonical message shape returned to callers.
//
// ID is the IMAP UID or the POP3 message number. It is only unique within
// one fetch, and only IMAP UIDs are stable across sessions.
type Message struct {
	ID            string    `json:"id"`
	MessageID     string    `json:"-"`
	Subject       string    `json:"subject"`
	From          string    `json:"from"`
	To            string    `json:"to"`
	Date          time.Time `json:"date"`
	Excerpt       string    `json:"excerpt"`
	Body          string    `json:"body"`
	SourceFolders []string  `json:"sourceFolders"`
	Starred       bool      `json:"starred"`
	Archived      bool      `json:"archived"`
	Deleted       bool      `json:"deleted"`
}

// Fetcher retrieves messages from one configured server. Implementations
// open a fresh session per call and release it before returning.
type Fetcher interface {
	Protocol() Protocol
	// FetchMessages returns up to limit of the most recent messages in
	// folder, newest first.
	FetchMessages(ctx context.Context, folder Folder, limit int) ([]Message, error)
	// FetchMessage returns one message with its body.
	FetchMessage(ctx context.Context, folder Folder, id string) (*Message, error)
}

// NewFetcher returns the adapter for params.Protocol.
func NewFetcher(params ConnParams, opts ...Option) (Fetcher, error) {
	switch params.Protocol {
	case ProtocolIMAP:
		return NewIMAPFetcher(params, opts...), nil
	case ProtocolPOP3:
		return NewPOP3Fetcher(params, opts...), nil
	}
	return nil, &Error{Kind: KindConfiguration, Op: "new fetcher", Err: fmt.Errorf("unsupported protocol %q", params.Protocol)}
}
