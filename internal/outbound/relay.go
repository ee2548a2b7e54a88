package outbound

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/Frokesy/goatmail-be/internal/store"
)

// ErrInvalidRequest marks a send or schedule request missing required fields.
var ErrInvalidRequest = errors.New("invalid request")

// ParamsResolver yields a user's decrypted SMTP settings.
type ParamsResolver interface {
	ResolveOutgoing(ctx context.Context, userID string) (Params, error)
}

// MailSender relays one message.
type MailSender interface {
	Send(ctx context.Context, p Params, msg *Outgoing) (string, error)
}

// Queue is the persistence the relay needs.
type Queue interface {
	ScheduleEmail(ctx context.Context, e *store.ScheduledEmail) error
	DueEmails(ctx context.Context, now time.Time, limit int) ([]store.ScheduledEmail, error)
	MarkSent(ctx context.Context, id string, at time.Time) error
	MarkFailed(ctx context.Context, id string, cause error) error
	RecordSent(ctx context.Context, e *store.SentEmail) error
}

// Request is a message as submitted by a user.
type Request struct {
	To         []string `json:"to"`
	Cc         []string `json:"cc,omitempty"`
	Bcc        []string `json:"bcc,omitempty"`
	Subject    string   `json:"subject"`
	Body       string   `json:"body"`
	SenderName string   `json:"name,omitempty"`
}

// Validate checks the fields every message needs.
func (r *Request) Validate() error {
	switch {
	case len(r.To) == 0:
		return fmt.Errorf("%w: missing recipient", ErrInvalidRequest)
	case r.Subject == "":
		return fmt.Errorf("%w: missing subject", ErrInvalidRequest)
	case r.Body == "":
		return fmt.Errorf("%w: missing body", ErrInvalidRequest)
	}
	return nil
}

func (r *Request) recipients() store.Recipients {
	return store.Recipients{To: r.To, Cc: r.Cc, Bcc: r.Bcc}
}

// Relay sends user mail now or later.
type Relay struct {
	creds  ParamsResolver
	queue  Queue
	sender MailSender
	logger *slog.Logger
	batch  int

	now func() time.Time
}

// NewRelay wires a relay. Due emails are dispatched in batches of 50.
func NewRelay(creds ParamsResolver, queue Queue, sender MailSender, logger *slog.Logger) *Relay {
	if logger == nil {
		logger = slog.Default()
	}
	return &Relay{creds: creds, queue: queue, sender: sender, logger: logger, batch: 50, now: time.Now}
}

func (r *Relay) deliver(ctx context.Context, userID, scheduledID string, req *Request, p Params) (string, error) {
	msg := &Outgoing{
		FromName: req.SenderName,
		FromAddr: p.Username,
		To:       req.To,
		Cc:       req.Cc,
		Bcc:      req.Bcc,
		Subject:  req.Subject,
		Body:     req.Body,
		Date:     r.now(),
	}
	msgID, err := r.sender.Send(ctx, p, msg)
	if err != nil {
		return "", err
	}
	if err := r.queue.RecordSent(ctx, &store.SentEmail{
		UserID:      userID,
		ScheduledID: scheduledID,
		FromAddr:    p.Username,
		Recipients:  req.recipients(),
		Subject:     req.Subject,
		MessageID:   msgID,
		SentAt:      r.now(),
	}); err != nil {
		// The message is already delivered.
		r.logger.Warn("record sent email", "user", userID, "error", err)
	}
	return msgID, nil
}

// SendNow relays req through the user's SMTP server.
func (r *Relay) SendNow(ctx context.Context, userID string, req *Request) (string, error) {
	if err := req.Validate(); err != nil {
		return "", err
	}
	p, err := r.creds.ResolveOutgoing(ctx, userID)
	if err != nil {
		return "", err
	}
	return r.deliver(ctx, userID, "", req, p)
}

// Schedule queues req for delivery at or after at. The user must already
// have an outgoing server.
func (r *Relay) Schedule(ctx context.Context, userID string, req *Request, at time.Time) (*store.ScheduledEmail, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}
	if at.IsZero() {
		return nil, fmt.Errorf("%w: missing schedule time", ErrInvalidRequest)
	}
	if _, err := r.creds.ResolveOutgoing(ctx, userID); err != nil {
		return nil, err
	}
	e := &store.ScheduledEmail{
		UserID:      userID,
		Recipients:  req.recipients(),
		Subject:     req.Subject,
		Body:        req.Body,
		SenderName:  req.SenderName,
		ScheduledAt: at,
	}
	if err := r.queue.ScheduleEmail(ctx, e); err != nil {
		return nil, err
	}
	r.logger.Info("email scheduled", "user", userID, "id", e.ID, "at", e.ScheduledAt)
	return e, nil
}

// DispatchResult counts what one dispatch run did.
type DispatchResult struct {
	Sent   int
	Failed int
}

// DispatchDue sends every pending email whose time has come. A failed
// delivery marks that email failed and moves on.
func (r *Relay) DispatchDue(ctx context.Context) (DispatchResult, error) {
	var res DispatchResult
	for {
		due, err := r.queue.DueEmails(ctx, r.now(), r.batch)
		if err != nil {
			return res, err
		}
		for _, e := range due {
			if err := ctx.Err(); err != nil {
				return res, err
			}
			req := &Request{
				To:         e.Recipients.To,
				Cc:         e.Recipients.Cc,
				Bcc:        e.Recipients.Bcc,
				Subject:    e.Subject,
				Body:       e.Body,
				SenderName: e.SenderName,
			}
			sendErr := r.dispatchOne(ctx, &e, req)
			if sendErr != nil {
				res.Failed++
				r.logger.Warn("scheduled send failed", "id", e.ID, "user", e.UserID, "error", sendErr)
				if err := r.queue.MarkFailed(ctx, e.ID, sendErr); err != nil {
					return res, err
				}
				continue
			}
			res.Sent++
			if err := r.queue.MarkSent(ctx, e.ID, r.now()); err != nil {
				return res, err
			}
		}
		if len(due) < r.batch {
			return res, nil
		}
	}
}

func (r *Relay) dispatchOne(ctx context.Context, e *store.ScheduledEmail, req *Request) error {
	p, err := r.creds.ResolveOutgoing(ctx, e.UserID)
	if err != nil {
		return err
	}
	_, err = r.deliver(ctx, e.UserID, e.ID, req, p)
	return err
}
