// Package outbound composes outgoing mail and relays it through a user's
// SMTP server, either immediately or from the scheduled-send queue.
package outbound

import (
	"bytes"
	"fmt"
	"net"
	"strconv"
	"strings"
	"time"

	"github.com/emersion/go-message/mail"
	"github.com/google/uuid"
)

// Params holds decrypted SMTP connection parameters.
type Params struct {
	Host     string
	Port     int
	Secure   bool // implicit TLS
	StartTLS bool
	Username string
	Password string
}

// Addr returns host:port, defaulting to 465 for implicit TLS and 587 otherwise.
func (p Params) Addr() string {
	port := p.Port
	if port == 0 {
		port = 587
		if p.Secure {
			port = 465
		}
	}
	return net.JoinHostPort(p.Host, strconv.Itoa(port))
}

// Outgoing is one message to relay. Body is HTML.
type Outgoing struct {
	FromName string
	FromAddr string
	To       []string
	Cc       []string
	Bcc      []string
	Subject  string
	Body     string
	Date     time.Time
}

// Recipients returns the envelope recipients: To, Cc and Bcc.
func (o *Outgoing) Recipients() []string {
	out := make([]string, 0, len(o.To)+len(o.Cc)+len(o.Bcc))
	for _, list := range [][]string{o.To, o.Cc, o.Bcc} {
		for _, a := range list {
			if a = strings.TrimSpace(a); a != "" {
				out = append(out, a)
			}
		}
	}
	return out
}

// SenderName returns FromName, or the local part of FromAddr when unset.
func (o *Outgoing) SenderName() string {
	if o.FromName != "" {
		return o.FromName
	}
	local, _, _ := strings.Cut(o.FromAddr, "@")
	return local
}

// NewMessageID returns a bracketed Message-ID in the sender's domain.
func NewMessageID(fromAddr string) string {
	domain := "localhost"
	if _, d, ok := strings.Cut(fromAddr, "@"); ok && d != "" {
		domain = d
	}
	return fmt.Sprintf("<%s@%s>", uuid.NewString(), domain)
}

func addressList(addrs []string) []*mail.Address {
	out := make([]*mail.Address, 0, len(addrs))
	for _, a := range addrs {
		if a = strings.TrimSpace(a); a != "" {
			out = append(out, &mail.Address{Address: a})
		}
	}
	return out
}

// Compose renders o as a single-part text/html message. Bcc recipients are
// left out of the headers. It returns the raw message and its Message-ID.
func Compose(o *Outgoing) ([]byte, string, error) {
	if o.FromAddr == "" {
		return nil, "", fmt.Errorf("compose: missing sender address")
	}
	date := o.Date
	if date.IsZero() {
		date = time.Now()
	}
	msgID := NewMessageID(o.FromAddr)

	var h mail.Header
	h.SetDate(date)
	h.SetSubject(o.Subject)
	h.SetAddressList("From", []*mail.Address{{Name: o.SenderName(), Address: o.FromAddr}})
	h.SetAddressList("To", addressList(o.To))
	if len(o.Cc) > 0 {
		h.SetAddressList("Cc", addressList(o.Cc))
	}
	h.Set("Message-ID", msgID)
	h.SetContentType("text/html", map[string]string{"charset": "utf-8"})

	var buf bytes.Buffer
	w, err := mail.CreateSingleInlineWriter(&buf, h)
	if err != nil {
		return nil, "", fmt.Errorf("compose: %w", err)
	}
	if _, err := w.Write([]byte(o.Body)); err != nil {
		return nil, "", fmt.Errorf("compose: %w", err)
	}
	if err := w.Close(); err != nil {
		return nil, "", fmt.Errorf("compose: %w", err)
	}
	return buf.Bytes(), msgID, nil
}
