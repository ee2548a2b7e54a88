package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// IncomingServer is a user's IMAP or POP3 account. PasswordEnc is the sealed
// password; the store never sees plaintext.
type IncomingServer struct {
	UserID      string
	ServerType  string
	Host        string
	Port        int
	Security    string
	Username    string
	PasswordEnc string
	UpdatedAt   time.Time
}

// OutgoingServer is a user's SMTP relay.
type OutgoingServer struct {
	UserID      string
	Host        string
	Port        int
	Security    string
	Username    string
	PasswordEnc string
	UpdatedAt   time.Time
}

// UpsertIncomingServer replaces the user's incoming server.
func (s *Store) UpsertIncomingServer(ctx context.Context, srv *IncomingServer) error {
	srv.UpdatedAt = dbTime(time.Now())
	_, err := s.exec(ctx, `
		INSERT INTO incoming_servers (user_id, server_type, host, port, security, username, password_enc, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (user_id) DO UPDATE SET
			server_type = excluded.server_type,
			host = excluded.host,
			port = excluded.port,
			security = excluded.security,
			username = excluded.username,
			password_enc = excluded.password_enc,
			updated_at = excluded.updated_at
	`, srv.UserID, srv.ServerType, srv.Host, srv.Port, srv.Security, srv.Username, srv.PasswordEnc, srv.UpdatedAt)
	if err != nil {
		return fmt.Errorf("upsert incoming server: %w", err)
	}
	return nil
}

// GetIncomingServer returns ErrNotFound when the user has none configured.
func (s *Store) GetIncomingServer(ctx context.Context, userID string) (*IncomingServer, error) {
	var srv IncomingServer
	err := s.queryRow(ctx, `
		SELECT user_id, server_type, host, port, security, username, password_enc, updated_at
		FROM incoming_servers WHERE user_id = ?
	`, userID).Scan(&srv.UserID, &srv.ServerType, &srv.Host, &srv.Port, &srv.Security,
		&srv.Username, &srv.PasswordEnc, &srv.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get incoming server: %w", err)
	}
	return &srv, nil
}

// DeleteIncomingServer removes the configuration. Flags recorded against the
// old account are dropped with it since their ids are meaningless elsewhere.
func (s *Store) DeleteIncomingServer(ctx context.Context, userID string) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, s.Rebind(`DELETE FROM incoming_servers WHERE user_id = ?`), userID)
		if err != nil {
			return fmt.Errorf("delete incoming server: %w", err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return ErrNotFound
		}
		if _, err := tx.ExecContext(ctx, s.Rebind(`DELETE FROM message_flags WHERE user_id = ?`), userID); err != nil {
			return fmt.Errorf("delete flags: %w", err)
		}
		return nil
	})
}

// UpsertOutgoingServer replaces the user's SMTP relay.
func (s *Store) UpsertOutgoingServer(ctx context.Context, srv *OutgoingServer) error {
	srv.UpdatedAt = dbTime(time.Now())
	_, err := s.exec(ctx, `
		INSERT INTO outgoing_servers (user_id, host, port, security, username, password_enc, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (user_id) DO UPDATE SET
			host = excluded.host,
			port = excluded.port,
			security = excluded.security,
			username = excluded.username,
			password_enc = excluded.password_enc,
			updated_at = excluded.updated_at
	`, srv.UserID, srv.Host, srv.Port, srv.Security, srv.Username, srv.PasswordEnc, srv.UpdatedAt)
	if err != nil {
		return fmt.Errorf("upsert outgoing server: %w", err)
	}
	return nil
}

// GetOutgoingServer returns ErrNotFound when the user has none configured.
func (s *Store) GetOutgoingServer(ctx context.Context, userID string) (*OutgoingServer, error) {
	var srv OutgoingServer
	err := s.queryRow(ctx, `
		SELECT user_id, host, port, security, username, password_enc, updated_at
		FROM outgoing_servers WHERE user_id = ?
	`, userID).Scan(&srv.UserID, &srv.Host, &srv.Port, &srv.Security,
		&srv.Username, &srv.PasswordEnc, &srv.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get outgoing server: %w", err)
	}
	return &srv, nil
}
