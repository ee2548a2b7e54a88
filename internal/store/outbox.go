package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Scheduled email states.
const (
	StatusPending = "pending"
	StatusSent    = "sent"
	StatusFailed  = "failed"
)

// Recipients groups the envelope recipients of an outgoing email.
type Recipients struct {
	To  []string `json:"to"`
	Cc  []string `json:"cc,omitempty"`
	Bcc []string `json:"bcc,omitempty"`
}

// All returns To, Cc and Bcc in order.
func (r Recipients) All() []string {
	out := make([]string, 0, len(r.To)+len(r.Cc)+len(r.Bcc))
	out = append(out, r.To...)
	out = append(out, r.Cc...)
	return append(out, r.Bcc...)
}

// ScheduledEmail is a queued outgoing message.
type ScheduledEmail struct {
	ID           string
	UserID       string
	Recipients   Recipients
	Subject      string
	Body         string
	SenderName   string
	ScheduledAt  time.Time
	Status       string
	ErrorMessage string
	SentAt       *time.Time
	CreatedAt    time.Time
}

// SentEmail records a message the relay accepted.
type SentEmail struct {
	ID          string
	UserID      string
	ScheduledID string
	FromAddr    string
	Recipients  Recipients
	Subject     string
	MessageID   string
	SentAt      time.Time
}

// ScheduleEmail queues e as pending and fills its ID and timestamps.
func (s *Store) ScheduleEmail(ctx context.Context, e *ScheduledEmail) error {
	rcpts, err := json.Marshal(e.Recipients)
	if err != nil {
		return fmt.Errorf("encode recipients: %w", err)
	}
	e.ID = uuid.NewString()
	e.Status = StatusPending
	e.ScheduledAt = dbTime(e.ScheduledAt)
	e.CreatedAt = dbTime(time.Now())
	_, err = s.exec(ctx, `
		INSERT INTO scheduled_emails (id, user_id, recipients, subject, body, sender_name, scheduled_at, status, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, e.ID, e.UserID, string(rcpts), e.Subject, e.Body, e.SenderName, e.ScheduledAt, e.Status, e.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert scheduled email: %w", err)
	}
	return nil
}

// DueEmails returns up to limit pending emails scheduled at or before now,
// oldest first.
func (s *Store) DueEmails(ctx context.Context, now time.Time, limit int) ([]ScheduledEmail, error) {
	rows, err := s.query(ctx, `
		SELECT id, user_id, recipients, subject, body, sender_name, scheduled_at, status, created_at
		FROM scheduled_emails
		WHERE status = ? AND scheduled_at <= ?
		ORDER BY scheduled_at, id
		LIMIT ?
	`, StatusPending, dbTime(now), limit)
	if err != nil {
		return nil, fmt.Errorf("query due emails: %w", err)
	}
	defer rows.Close()

	var out []ScheduledEmail
	for rows.Next() {
		var e ScheduledEmail
		var rcpts string
		if err := rows.Scan(&e.ID, &e.UserID, &rcpts, &e.Subject, &e.Body, &e.SenderName,
			&e.ScheduledAt, &e.Status, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan scheduled email: %w", err)
		}
		if err := json.Unmarshal([]byte(rcpts), &e.Recipients); err != nil {
			return nil, fmt.Errorf("decode recipients of %s: %w", e.ID, err)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// GetScheduledEmail loads one queued email.
func (s *Store) GetScheduledEmail(ctx context.Context, id string) (*ScheduledEmail, error) {
	var e ScheduledEmail
	var rcpts string
	var errMsg sql.NullString
	var sentAt sql.NullTime
	err := s.queryRow(ctx, `
		SELECT id, user_id, recipients, subject, body, sender_name, scheduled_at, status,
			error_message, sent_at, created_at
		FROM scheduled_emails WHERE id = ?
	`, id).Scan(&e.ID, &e.UserID, &rcpts, &e.Subject, &e.Body, &e.SenderName, &e.ScheduledAt,
		&e.Status, &errMsg, &sentAt, &e.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get scheduled email: %w", err)
	}
	if err := json.Unmarshal([]byte(rcpts), &e.Recipients); err != nil {
		return nil, fmt.Errorf("decode recipients of %s: %w", e.ID, err)
	}
	e.ErrorMessage = errMsg.String
	if sentAt.Valid {
		t := sentAt.Time
		e.SentAt = &t
	}
	return &e, nil
}

// MarkSent moves a pending email to sent.
func (s *Store) MarkSent(ctx context.Context, id string, at time.Time) error {
	return s.finish(ctx, id, StatusSent, sql.NullString{}, sql.NullTime{Time: dbTime(at), Valid: true})
}

// MarkFailed moves a pending email to failed with the error text.
func (s *Store) MarkFailed(ctx context.Context, id string, cause error) error {
	return s.finish(ctx, id, StatusFailed, sql.NullString{String: cause.Error(), Valid: true}, sql.NullTime{})
}

func (s *Store) finish(ctx context.Context, id, status string, errMsg sql.NullString, sentAt sql.NullTime) error {
	res, err := s.exec(ctx, `
		UPDATE scheduled_emails SET status = ?, error_message = ?, sent_at = ?
		WHERE id = ? AND status = ?
	`, status, errMsg, sentAt, id, StatusPending)
	if err != nil {
		return fmt.Errorf("mark %s: %w", status, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("scheduled email %s: %w", id, ErrNotFound)
	}
	return nil
}

// RecordSent appends to the sent log.
func (s *Store) RecordSent(ctx context.Context, e *SentEmail) error {
	rcpts, err := json.Marshal(e.Recipients)
	if err != nil {
		return fmt.Errorf("encode recipients: %w", err)
	}
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	e.SentAt = dbTime(e.SentAt)
	var scheduled sql.NullString
	if e.ScheduledID != "" {
		scheduled = sql.NullString{String: e.ScheduledID, Valid: true}
	}
	_, err = s.exec(ctx, `
		INSERT INTO sent_emails (id, user_id, scheduled_id, from_addr, recipients, subject, message_id, sent_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`, e.ID, e.UserID, scheduled, e.FromAddr, string(rcpts), e.Subject, e.MessageID, e.SentAt)
	if err != nil {
		return fmt.Errorf("record sent email: %w", err)
	}
	return nil
}

// CountSent returns how many emails the user has sent.
func (s *Store) CountSent(ctx context.Context, userID string) (int, error) {
	var n int
	if err := s.queryRow(ctx, `SELECT COUNT(*) FROM sent_emails WHERE user_id = ?`, userID).Scan(&n); err != nil {
		return 0, fmt.Errorf("count sent: %w", err)
	}
	return n, nil
}
