// Package account handles signup, login and the per-user mail-server
// settings.
package account

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	netmail "net/mail"
	"strings"

	"github.com/Frokesy/goatmail-be/internal/auth"
	"github.com/Frokesy/goatmail-be/internal/credential"
	"github.com/Frokesy/goatmail-be/internal/mail"
	"github.com/Frokesy/goatmail-be/internal/store"
)

var (
	// ErrInvalidInput wraps every validation failure.
	ErrInvalidInput = errors.New("invalid input")
	// ErrEmailTaken is returned by Signup for an existing address.
	ErrEmailTaken = errors.New("email already registered")
	// ErrUserNotFound is returned for a token whose user no longer exists.
	ErrUserNotFound = errors.New("user not found")
)

// Store is the persistence the service needs.
type Store interface {
	CreateUser(ctx context.Context, email, passwordHash string) (*store.User, error)
	GetUserByEmail(ctx context.Context, email string) (*store.User, error)
	GetUser(ctx context.Context, id string) (*store.User, error)
	UpsertIncomingServer(ctx context.Context, srv *store.IncomingServer) error
	GetIncomingServer(ctx context.Context, userID string) (*store.IncomingServer, error)
	DeleteIncomingServer(ctx context.Context, userID string) error
	UpsertOutgoingServer(ctx context.Context, srv *store.OutgoingServer) error
	GetOutgoingServer(ctx context.Context, userID string) (*store.OutgoingServer, error)
}

// FlagClearer drops a user's flag overlay.
type FlagClearer interface {
	Clear(ctx context.Context, userID string) error
}

// Service implements account operations.
type Service struct {
	store  Store
	flags  FlagClearer
	cipher *credential.Cipher
	tokens *auth.TokenManager
	logger *slog.Logger
}

// NewService wires the account service. fl may be nil for callers that
// never touch the incoming server.
func NewService(st Store, fl FlagClearer, c *credential.Cipher, tokens *auth.TokenManager, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{store: st, flags: fl, cipher: c, tokens: tokens, logger: logger}
}

// clearFlags runs before the server row changes, so a failure leaves
// the old mailbox and its flags in place and the call can be retried.
func (s *Service) clearFlags(ctx context.Context, userID, reason string) error {
	if s.flags == nil {
		return nil
	}
	if err := s.flags.Clear(ctx, userID); err != nil {
		return err
	}
	s.logger.Info("flags cleared", "user", userID, "reason", reason)
	return nil
}

// mailboxChanged reports whether next points at a different mailbox than
// prev. Flag ids are UIDs or sequence numbers of one mailbox and mean
// nothing elsewhere.
func mailboxChanged(prev, next *store.IncomingServer) bool {
	return !strings.EqualFold(prev.Host, next.Host) ||
		prev.Username != next.Username ||
		prev.ServerType != next.ServerType
}

func invalid(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalidInput, fmt.Sprintf(format, args...))
}

func validEmail(email string) (string, error) {
	email = store.NormalizeEmail(email)
	addr, err := netmail.ParseAddress(email)
	if err != nil || addr.Address != email {
		return "", invalid("malformed email address")
	}
	return email, nil
}

// Signup creates an account.
func (s *Service) Signup(ctx context.Context, email, password string) (*store.User, error) {
	email, err := validEmail(email)
	if err != nil {
		return nil, err
	}
	hash, err := auth.HashPassword(password)
	if err != nil {
		return nil, invalid("%v", err)
	}
	u, err := s.store.CreateUser(ctx, email, hash)
	if errors.Is(err, store.ErrDuplicate) {
		return nil, ErrEmailTaken
	}
	if err != nil {
		return nil, err
	}
	s.logger.Info("user signed up", "user", u.ID)
	return u, nil
}

// Login checks credentials and returns a session token.
func (s *Service) Login(ctx context.Context, email, password string) (string, *store.User, error) {
	u, err := s.store.GetUserByEmail(ctx, email)
	if errors.Is(err, store.ErrNotFound) {
		return "", nil, auth.ErrInvalidCredentials
	}
	if err != nil {
		return "", nil, err
	}
	if err := auth.CheckPassword(u.PasswordHash, password); err != nil {
		return "", nil, err
	}
	token, err := s.tokens.Issue(u.ID, u.Email)
	if err != nil {
		return "", nil, err
	}
	return token, u, nil
}

// GetUser returns the account behind a session.
func (s *Service) GetUser(ctx context.Context, userID string) (*store.User, error) {
	u, err := s.store.GetUser(ctx, userID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, ErrUserNotFound
	}
	return u, err
}

// IncomingConfig is the API shape of an incoming server. Password is
// write-only.
type IncomingConfig struct {
	ServerType string `json:"serverType"`
	Host       string `json:"host"`
	Port       int    `json:"port"`
	Security   string `json:"security"`
	Username   string `json:"username"`
	Password   string `json:"password,omitempty"`
}

// OutgoingConfig is the API shape of an SMTP server. Password is write-only.
type OutgoingConfig struct {
	Host     string `json:"host"`
	Port     int    `json:"port"`
	Security string `json:"security"`
	Username string `json:"username"`
	Password string `json:"password,omitempty"`
}

func validServer(host string, port int, username, password string) error {
	switch {
	case strings.TrimSpace(host) == "":
		return invalid("host is required")
	case port < 0 || port > 65535:
		return invalid("port %d out of range", port)
	case strings.TrimSpace(username) == "":
		return invalid("username is required")
	case password == "":
		return invalid("password is required")
	}
	return nil
}

// SetIncoming validates cfg, seals its password and stores it.
func (s *Service) SetIncoming(ctx context.Context, userID string, cfg IncomingConfig) error {
	proto, err := mail.ParseProtocol(cfg.ServerType)
	if err != nil {
		return invalid("%v", err)
	}
	if err := validServer(cfg.Host, cfg.Port, cfg.Username, cfg.Password); err != nil {
		return err
	}
	port := cfg.Port
	if port == 0 {
		secure, _ := credential.IncomingSecurity(proto, cfg.Security, 0)
		port = mail.DefaultPort(proto, secure)
	}
	enc, err := s.cipher.Encrypt(cfg.Password)
	if err != nil {
		return err
	}
	next := &store.IncomingServer{
		UserID:      userID,
		ServerType:  string(proto),
		Host:        strings.TrimSpace(cfg.Host),
		Port:        port,
		Security:    strings.TrimSpace(cfg.Security),
		Username:    strings.TrimSpace(cfg.Username),
		PasswordEnc: enc,
	}
	prev, err := s.store.GetIncomingServer(ctx, userID)
	switch {
	case errors.Is(err, store.ErrNotFound):
	case err != nil:
		return err
	case mailboxChanged(prev, next):
		if err := s.clearFlags(ctx, userID, "mailbox changed"); err != nil {
			return err
		}
	}
	if err := s.store.UpsertIncomingServer(ctx, next); err != nil {
		return err
	}
	s.logger.Info("incoming server saved", "user", userID, "protocol", proto, "host", cfg.Host)
	return nil
}

// GetIncoming returns the stored settings without the password.
func (s *Service) GetIncoming(ctx context.Context, userID string) (*IncomingConfig, error) {
	srv, err := s.store.GetIncomingServer(ctx, userID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, credential.ErrNotConfigured
	}
	if err != nil {
		return nil, err
	}
	return &IncomingConfig{
		ServerType: srv.ServerType,
		Host:       srv.Host,
		Port:       srv.Port,
		Security:   srv.Security,
		Username:   srv.Username,
	}, nil
}

// DeleteIncoming removes the incoming server and its flag overlay.
func (s *Service) DeleteIncoming(ctx context.Context, userID string) error {
	if err := s.clearFlags(ctx, userID, "incoming server deleted"); err != nil {
		return err
	}
	err := s.store.DeleteIncomingServer(ctx, userID)
	if errors.Is(err, store.ErrNotFound) {
		return credential.ErrNotConfigured
	}
	return err
}

// SetOutgoing validates cfg, seals its password and stores it.
func (s *Service) SetOutgoing(ctx context.Context, userID string, cfg OutgoingConfig) error {
	if err := validServer(cfg.Host, cfg.Port, cfg.Username, cfg.Password); err != nil {
		return err
	}
	port := cfg.Port
	if port == 0 {
		if secure, _ := credential.OutgoingSecurity(cfg.Security, 0); secure {
			port = 465
		} else {
			port = 587
		}
	}
	enc, err := s.cipher.Encrypt(cfg.Password)
	if err != nil {
		return err
	}
	return s.store.UpsertOutgoingServer(ctx, &store.OutgoingServer{
		UserID:      userID,
		Host:        strings.TrimSpace(cfg.Host),
		Port:        port,
		Security:    strings.TrimSpace(cfg.Security),
		Username:    strings.TrimSpace(cfg.Username),
		PasswordEnc: enc,
	})
}

// GetOutgoing returns the stored SMTP settings without the password.
func (s *Service) GetOutgoing(ctx context.Context, userID string) (*OutgoingConfig, error) {
	srv, err := s.store.GetOutgoingServer(ctx, userID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, credential.ErrNotConfigured
	}
	if err != nil {
		return nil, err
	}
	return &OutgoingConfig{
		Host:     srv.Host,
		Port:     srv.Port,
		Security: srv.Security,
		Username: srv.Username,
	}, nil
}
