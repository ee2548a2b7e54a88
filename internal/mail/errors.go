package mail

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"strings"
	"time"

	"github.com/rotisserie/eris"
)

// Kind classifies engine failures so callers can map them to responses.
type Kind int

const (
	KindConnection Kind = iota + 1
	KindTimeout
	KindFolderNotFound
	KindParse
	KindUnsupported
	KindConfiguration
)

func (k Kind) String() string {
	switch k {
	case KindConnection:
		return "connection error"
	case KindTimeout:
		return "timeout"
	case KindFolderNotFound:
		return "folder not found"
	case KindParse:
		return "parse error"
	case KindUnsupported:
		return "unsupported operation"
	case KindConfiguration:
		return "configuration error"
	}
	return "unknown error"
}

// Error is the classified error returned by fetchers. Op names the step
// that failed; transport errors carry it in the wrapped message too.
type Error struct {
	Kind Kind
	Op   string
	Err  error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return e.Op + ": " + e.Kind.String()
	}
	return fmt.Sprintf("%s: %v", e.Kind, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// KindOf returns the Kind of the first *Error in err's chain, or 0.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return 0
}

// IsKind reports whether err carries the given Kind.
func IsKind(err error, kind Kind) bool {
	return err != nil && KindOf(err) == kind
}

var (
	// ErrUnknownFolder is returned by ParseFolder for unrecognized selectors.
	ErrUnknownFolder = errors.New("unknown folder")
	// ErrMessageNotFound is returned when a single-message fetch finds nothing.
	ErrMessageNotFound = errors.New("message not found")
	// ErrNotConfigured means the user has no server of the needed kind configured.
	ErrNotConfigured = errors.New("mail server not configured")
	// ErrCredentialUnreadable means stored credentials could not be decrypted.
	ErrCredentialUnreadable = errors.New("stored credentials could not be decrypted")
)

// FolderNotFoundError lists every mailbox path tried for a logical folder.
type FolderNotFoundError struct {
	Folder     Folder
	Candidates []string
}

func (e *FolderNotFoundError) Error() string {
	return fmt.Sprintf("no mailbox for %s (tried %s)", e.Folder, strings.Join(e.Candidates, ", "))
}

func unsupported(op, format string, args ...any) error {
	return &Error{Kind: KindUnsupported, Op: op, Err: fmt.Errorf(format, args...)}
}

// classify wraps a transport-level failure, telling deadline expiry apart
// from other connection failures. Already-classified errors pass through.
func classify(ctx context.Context, op string, err error) error {
	if err == nil {
		return nil
	}
	var e *Error
	if errors.As(err, &e) {
		return err
	}
	kind := KindConnection
	if isTimeout(err) || deadlinePassed(ctx) {
		kind = KindTimeout
	}
	return &Error{Kind: kind, Op: op, Err: eris.Wrap(err, op)}
}

func deadlinePassed(ctx context.Context) bool {
	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return true
	}
	deadline, ok := ctx.Deadline()
	return ok && !time.Now().Before(deadline)
}

func isTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, os.ErrDeadlineExceeded) {
		return true
	}
	var ne net.Error
	return errors.As(err, &ne) && ne.Timeout()
}
