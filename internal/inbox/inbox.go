// Package inbox aggregates a user's remote mail: it resolves credentials,
// fetches through the protocol adapter and merges the local flag overlay.
package inbox

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/Frokesy/goatmail-be/internal/flags"
	"github.com/Frokesy/goatmail-be/internal/mail"
)

const (
	DefaultFetchLimit = 20
	DefaultScanLimit  = 100
	DefaultTimeout    = 30 * time.Second

	// MaxLimit caps caller-supplied listing sizes.
	MaxLimit = 200
)

// ErrInvalidMessageID is returned when a flag is set on an id that cannot
// be an IMAP UID.
var ErrInvalidMessageID = errors.New("invalid message id")

// CredentialResolver yields a user's decrypted incoming-server parameters.
type CredentialResolver interface {
	Resolve(ctx context.Context, userID string) (mail.ConnParams, error)
	Protocol(ctx context.Context, userID string) (mail.Protocol, error)
}

// FetcherFactory builds the adapter for one set of parameters.
type FetcherFactory func(mail.ConnParams) (mail.Fetcher, error)

// Listing is the result of a folder listing.
type Listing struct {
	Provider mail.Protocol  `json:"provider"`
	Messages []mail.Message `json:"messages"`
}

// Single is the result of a single-message fetch.
type Single struct {
	Mail     *mail.Message `json:"mail"`
	Provider mail.Protocol `json:"provider"`
}

// Service is the aggregation orchestrator.
type Service struct {
	creds      CredentialResolver
	flags      flags.Store
	newFetcher FetcherFactory
	logger     *slog.Logger

	fetchLimit int
	scanLimit  int
	timeout    time.Duration
}

// Option configures a Service.
type Option func(*Service)

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Service) { s.logger = l }
}

// WithFetchLimit sets the default listing size.
func WithFetchLimit(n int) Option {
	return func(s *Service) {
		if n > 0 {
			s.fetchLimit = n
		}
	}
}

// WithScanLimit sets how many messages flag listings search through.
func WithScanLimit(n int) Option {
	return func(s *Service) {
		if n > 0 {
			s.scanLimit = n
		}
	}
}

// WithTimeout bounds each remote operation.
func WithTimeout(d time.Duration) Option {
	return func(s *Service) {
		if d > 0 {
			s.timeout = d
		}
	}
}

// WithFetcherFactory replaces the adapter constructor.
func WithFetcherFactory(f FetcherFactory) Option {
	return func(s *Service) { s.newFetcher = f }
}

// New returns a Service. Without WithFetcherFactory it uses mail.NewFetcher
// with fetcherOpts.
func New(creds CredentialResolver, fl flags.Store, opts []Option, fetcherOpts ...mail.Option) *Service {
	s := &Service{
		creds:      creds,
		flags:      fl,
		logger:     slog.Default(),
		fetchLimit: DefaultFetchLimit,
		scanLimit:  DefaultScanLimit,
		timeout:    DefaultTimeout,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.newFetcher == nil {
		fopts := append([]mail.Option{mail.WithLogger(s.logger)}, fetcherOpts...)
		s.newFetcher = func(p mail.ConnParams) (mail.Fetcher, error) {
			return mail.NewFetcher(p, fopts...)
		}
	}
	return s
}

// configErr classifies credential failures the caller can fix.
func configErr(op string, err error) error {
	if errors.Is(err, mail.ErrNotConfigured) || errors.Is(err, mail.ErrCredentialUnreadable) {
		return &mail.Error{Kind: mail.KindConfiguration, Op: op, Err: err}
	}
	return err
}

func flagsUnsupported(op string) error {
	return &mail.Error{
		Kind: mail.KindUnsupported,
		Op:   op,
		Err:  errors.New("message flags are only tracked for IMAP accounts"),
	}
}

func (s *Service) fetcher(ctx context.Context, userID string) (mail.Fetcher, error) {
	p, err := s.creds.Resolve(ctx, userID)
	if err != nil {
		return nil, configErr("resolve credentials", err)
	}
	return s.newFetcher(p)
}

func (s *Service) clampLimit(limit int) int {
	if limit <= 0 {
		return s.fetchLimit
	}
	return min(limit, MaxLimit)
}

// List returns the newest messages of folder. For IMAP accounts archived and
// deleted messages are hidden and starred ones marked; POP3 listings are
// returned as fetched.
func (s *Service) List(ctx context.Context, userID string, folder mail.Folder, limit int) (*Listing, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	f, err := s.fetcher(ctx, userID)
	if err != nil {
		return nil, err
	}
	limit = s.clampLimit(limit)

	start := time.Now()
	msgs, err := f.FetchMessages(ctx, folder, limit)
	if err != nil {
		return nil, err
	}
	s.logger.Debug("fetched messages",
		"user", userID, "protocol", f.Protocol(), "folder", folder,
		"count", len(msgs), "duration", time.Since(start))

	if f.Protocol() == mail.ProtocolIMAP {
		o, err := s.flags.Load(ctx, userID)
		if err != nil {
			return nil, err
		}
		msgs = flags.ApplyDefault(msgs, o)
	}
	return &Listing{Provider: f.Protocol(), Messages: msgs}, nil
}

// Get fetches one message with its body.
func (s *Service) Get(ctx context.Context, userID string, folder mail.Folder, id string) (*Single, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	f, err := s.fetcher(ctx, userID)
	if err != nil {
		return nil, err
	}
	m, err := f.FetchMessage(ctx, folder, id)
	if err != nil {
		return nil, err
	}
	if f.Protocol() == mail.ProtocolIMAP {
		o, err := s.flags.Load(ctx, userID)
		if err != nil {
			return nil, err
		}
		o.Annotate(m)
	}
	return &Single{Mail: m, Provider: f.Protocol()}, nil
}

// ListFlagged returns the messages in one flag set, searched across all
// folders within the scan window.
func (s *Service) ListFlagged(ctx context.Context, userID string, kind flags.Kind) (*Listing, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	op := "list " + string(kind)
	f, err := s.fetcher(ctx, userID)
	if err != nil {
		return nil, err
	}
	if f.Protocol() != mail.ProtocolIMAP {
		return nil, flagsUnsupported(op)
	}
	o, err := s.flags.Load(ctx, userID)
	if err != nil {
		return nil, err
	}
	if o.Len(kind) == 0 {
		return &Listing{Provider: f.Protocol(), Messages: []mail.Message{}}, nil
	}

	msgs, err := f.FetchMessages(ctx, mail.FolderAll, s.scanLimit)
	if err != nil {
		return nil, err
	}
	return &Listing{Provider: f.Protocol(), Messages: flags.Filter(msgs, o, kind)}, nil
}

// SetFlag adds (on) or removes the message from the kind set. Both are
// idempotent.
func (s *Service) SetFlag(ctx context.Context, userID string, kind flags.Kind, id string, on bool) error {
	op := "unset " + string(kind)
	if on {
		op = "set " + string(kind)
	}
	proto, err := s.creds.Protocol(ctx, userID)
	if err != nil {
		return configErr(op, err)
	}
	if proto != mail.ProtocolIMAP {
		return flagsUnsupported(op)
	}
	if uid, err := strconv.ParseUint(id, 10, 32); err != nil || uid == 0 {
		return fmt.Errorf("%w: %q", ErrInvalidMessageID, id)
	}

	if on {
		err = s.flags.Add(ctx, userID, kind, id)
	} else {
		err = s.flags.Remove(ctx, userID, kind, id)
	}
	if err != nil {
		return err
	}
	s.logger.Debug("flag updated", "user", userID, "flag", kind, "id", id, "on", on)
	return nil
}
