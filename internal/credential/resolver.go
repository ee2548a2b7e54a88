package credential

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/Frokesy/goatmail-be/internal/mail"
	"github.com/Frokesy/goatmail-be/internal/outbound"
	"github.com/Frokesy/goatmail-be/internal/store"
)

// ServerStore is the subset of the store the resolver reads.
type ServerStore interface {
	GetIncomingServer(ctx context.Context, userID string) (*store.IncomingServer, error)
	GetOutgoingServer(ctx context.Context, userID string) (*store.OutgoingServer, error)
}

// Resolver loads and decrypts a user's server settings.
type Resolver struct {
	store  ServerStore
	cipher *Cipher
}

// NewResolver returns a Resolver reading from st.
func NewResolver(st ServerStore, c *Cipher) *Resolver {
	return &Resolver{store: st, cipher: c}
}

func (r *Resolver) incoming(ctx context.Context, userID string) (*store.IncomingServer, mail.Protocol, error) {
	srv, err := r.store.GetIncomingServer(ctx, userID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, "", fmt.Errorf("incoming server: %w", ErrNotConfigured)
	}
	if err != nil {
		return nil, "", err
	}
	proto, err := mail.ParseProtocol(srv.ServerType)
	if err != nil {
		return nil, "", fmt.Errorf("%w: %v", ErrDecrypt, err)
	}
	return srv, proto, nil
}

// Protocol reports the user's incoming protocol without decrypting anything.
func (r *Resolver) Protocol(ctx context.Context, userID string) (mail.Protocol, error) {
	_, proto, err := r.incoming(ctx, userID)
	return proto, err
}

// Resolve returns decrypted connection parameters for the user's incoming
// server.
func (r *Resolver) Resolve(ctx context.Context, userID string) (mail.ConnParams, error) {
	srv, proto, err := r.incoming(ctx, userID)
	if err != nil {
		return mail.ConnParams{}, err
	}
	password, err := r.cipher.Decrypt(srv.PasswordEnc)
	if err != nil {
		return mail.ConnParams{}, fmt.Errorf("incoming server: %w", err)
	}
	secure, startTLS := IncomingSecurity(proto, srv.Security, srv.Port)
	return mail.ConnParams{
		Protocol: proto,
		Host:     srv.Host,
		Port:     srv.Port,
		Secure:   secure,
		StartTLS: startTLS,
		Username: srv.Username,
		Password: password,
	}, nil
}

// ResolveOutgoing returns decrypted SMTP parameters for the user.
func (r *Resolver) ResolveOutgoing(ctx context.Context, userID string) (outbound.Params, error) {
	srv, err := r.store.GetOutgoingServer(ctx, userID)
	if errors.Is(err, store.ErrNotFound) {
		return outbound.Params{}, fmt.Errorf("outgoing server: %w", ErrNotConfigured)
	}
	if err != nil {
		return outbound.Params{}, err
	}
	password, err := r.cipher.Decrypt(srv.PasswordEnc)
	if err != nil {
		return outbound.Params{}, fmt.Errorf("outgoing server: %w", err)
	}
	secure, startTLS := OutgoingSecurity(srv.Security, srv.Port)
	return outbound.Params{
		Host:     srv.Host,
		Port:     srv.Port,
		Secure:   secure,
		StartTLS: startTLS,
		Username: srv.Username,
		Password: password,
	}, nil
}

// IncomingSecurity derives the TLS mode from a free-form security label and
// port. STARTTLS in the label wins over the TLS substring it contains.
func IncomingSecurity(proto mail.Protocol, security string, port int) (secure, startTLS bool) {
	label := strings.ToUpper(security)
	if strings.Contains(label, "STARTTLS") {
		return false, true
	}
	if strings.Contains(label, "SSL") || strings.Contains(label, "TLS") {
		return true, false
	}
	return port == mail.DefaultPort(proto, true), false
}

// OutgoingSecurity is IncomingSecurity for SMTP, where 465 is implicit TLS.
func OutgoingSecurity(security string, port int) (secure, startTLS bool) {
	label := strings.ToUpper(security)
	if strings.Contains(label, "STARTTLS") {
		return false, true
	}
	if strings.Contains(label, "SSL") || strings.Contains(label, "TLS") {
		return true, false
	}
	return port == 465, false
}
