package mail

import (
	"context"
	"crypto/tls"
	"log/slog"
	"net"
	"time"
)

const defaultDialTimeout = 10 * time.Second

type options struct {
	logger      *slog.Logger
	dialTimeout time.Duration
	tlsConfig   *tls.Config
}

// Option configures a fetcher.
type Option func(*options)

// WithLogger sets the logger for protocol diagnostics.
func WithLogger(logger *slog.Logger) Option {
	return func(o *options) {
		if logger != nil {
			o.logger = logger
		}
	}
}

// WithDialTimeout bounds TCP connect and TLS handshake.
func WithDialTimeout(d time.Duration) Option {
	return func(o *options) {
		if d > 0 {
			o.dialTimeout = d
		}
	}
}

// WithTLSConfig overrides the TLS client configuration. ServerName is
// filled from the host when unset.
func WithTLSConfig(cfg *tls.Config) Option {
	return func(o *options) { o.tlsConfig = cfg }
}

func newOptions(opts []Option) options {
	o := options{
		logger:      slog.Default(),
		dialTimeout: defaultDialTimeout,
	}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

func (o *options) tlsFor(host string) *tls.Config {
	if o.tlsConfig != nil {
		cfg := o.tlsConfig.Clone()
		if cfg.ServerName == "" {
			cfg.ServerName = host
		}
		return cfg
	}
	return &tls.Config{ServerName: host, MinVersion: tls.VersionTLS12}
}

// dial opens the TCP connection, performs the implicit-TLS handshake when
// requested and applies the context deadline to the socket.
func (o *options) dial(ctx context.Context, p ConnParams) (net.Conn, error) {
	d := &net.Dialer{Timeout: o.dialTimeout}
	conn, err := d.DialContext(ctx, "tcp", p.Addr())
	if err != nil {
		return nil, err
	}
	if p.Secure {
		tlsConn := tls.Client(conn, o.tlsFor(p.Host))
		hsCtx, cancel := context.WithTimeout(ctx, o.dialTimeout)
		err := tlsConn.HandshakeContext(hsCtx)
		cancel()
		if err != nil {
			_ = conn.Close()
			return nil, err
		}
		conn = tlsConn
	}
	if deadline, ok := ctx.Deadline(); ok {
		_ = conn.SetDeadline(deadline)
	}
	return conn, nil
}
