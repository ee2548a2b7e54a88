package outbound

import (
	"bytes"
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"time"

	"github.com/emersion/go-sasl"
	"github.com/emersion/go-smtp"

	"github.com/Frokesy/goatmail-be/internal/mail"
)

// ErrNoRecipients is returned when a message has nobody to deliver to.
var ErrNoRecipients = errors.New("no recipients")

// Sender relays composed messages over SMTP.
type Sender struct {
	logger    *slog.Logger
	timeout   time.Duration
	tlsConfig *tls.Config
}

// SenderOption configures a Sender.
type SenderOption func(*Sender)

// WithSenderLogger sets the logger.
func WithSenderLogger(l *slog.Logger) SenderOption {
	return func(s *Sender) { s.logger = l }
}

// WithTimeout bounds each SMTP command and the final submission.
func WithTimeout(d time.Duration) SenderOption {
	return func(s *Sender) { s.timeout = d }
}

// WithSenderTLSConfig overrides the TLS config; ServerName is filled in per host.
func WithSenderTLSConfig(cfg *tls.Config) SenderOption {
	return func(s *Sender) { s.tlsConfig = cfg }
}

// NewSender returns a Sender with a 30s command timeout.
func NewSender(opts ...SenderOption) *Sender {
	s := &Sender{logger: slog.Default(), timeout: 30 * time.Second}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Sender) tlsFor(host string) *tls.Config {
	var cfg *tls.Config
	if s.tlsConfig != nil {
		cfg = s.tlsConfig.Clone()
	} else {
		cfg = &tls.Config{}
	}
	if cfg.ServerName == "" {
		cfg.ServerName = host
	}
	return cfg
}

func (s *Sender) dial(p Params) (*smtp.Client, error) {
	addr := p.Addr()
	switch {
	case p.Secure:
		return smtp.DialTLS(addr, s.tlsFor(p.Host))
	case p.StartTLS:
		return smtp.DialStartTLS(addr, s.tlsFor(p.Host))
	default:
		return smtp.Dial(addr)
	}
}

// relayErr classifies an SMTP failure as a connection or timeout error.
func relayErr(op string, err error) error {
	kind := mail.KindConnection
	var ne net.Error
	if errors.As(err, &ne) && ne.Timeout() {
		kind = mail.KindTimeout
	}
	return &mail.Error{Kind: kind, Op: "smtp " + op, Err: err}
}

// Send composes msg and relays it. It returns the Message-ID it assigned.
func (s *Sender) Send(ctx context.Context, p Params, msg *Outgoing) (string, error) {
	rcpts := msg.Recipients()
	if len(rcpts) == 0 {
		return "", ErrNoRecipients
	}
	raw, msgID, err := Compose(msg)
	if err != nil {
		return "", err
	}
	if err := ctx.Err(); err != nil {
		return "", err
	}

	c, err := s.dial(p)
	if err != nil {
		return "", relayErr("connect", fmt.Errorf("connect to %s: %w", p.Addr(), err))
	}
	c.CommandTimeout = s.timeout
	c.SubmissionTimeout = s.timeout
	stop := context.AfterFunc(ctx, func() { c.Close() })
	defer stop()
	defer func() {
		if err := c.Quit(); err != nil {
			s.logger.Debug("smtp quit", "host", p.Host, "error", err)
			c.Close()
		}
	}()

	if p.Password != "" {
		if err := c.Auth(sasl.NewPlainClient("", p.Username, p.Password)); err != nil {
			return "", relayErr("auth", fmt.Errorf("smtp auth: %w", err))
		}
	}
	if err := c.SendMail(msg.FromAddr, rcpts, bytes.NewReader(raw)); err != nil {
		return "", relayErr("send", fmt.Errorf("send mail: %w", err))
	}
	s.logger.Info("message relayed", "host", p.Host, "recipients", len(rcpts), "message_id", msgID)
	return msgID, nil
}
