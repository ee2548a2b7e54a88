package store

import (
	"context"
	"fmt"

	"github.com/Frokesy/goatmail-be/internal/flags"
)

// FlagStore implements flags.Store on the message_flags table.
type FlagStore struct {
	s *Store
}

var _ flags.Store = (*FlagStore)(nil)

// Flags returns the SQL-backed flag store.
func (s *Store) Flags() *FlagStore {
	return &FlagStore{s: s}
}

// Load reads all three sets for the user.
func (f *FlagStore) Load(ctx context.Context, userID string) (*flags.Overlay, error) {
	rows, err := f.s.query(ctx, `SELECT kind, message_id FROM message_flags WHERE user_id = ?`, userID)
	if err != nil {
		return nil, fmt.Errorf("load flags: %w", err)
	}
	defer rows.Close()

	o := flags.NewOverlay()
	for rows.Next() {
		var kind, id string
		if err := rows.Scan(&kind, &id); err != nil {
			return nil, fmt.Errorf("scan flag: %w", err)
		}
		o.Set(flags.Kind(kind), id)
	}
	return o, rows.Err()
}

// Add inserts the id; adding an existing id is a no-op.
func (f *FlagStore) Add(ctx context.Context, userID string, kind flags.Kind, messageID string) error {
	_, err := f.s.exec(ctx, `
		INSERT INTO message_flags (user_id, kind, message_id) VALUES (?, ?, ?)
		ON CONFLICT (user_id, kind, message_id) DO NOTHING
	`, userID, string(kind), messageID)
	if err != nil {
		return fmt.Errorf("add %s flag: %w", kind, err)
	}
	return nil
}

// Remove deletes the id; removing a missing id is a no-op.
func (f *FlagStore) Remove(ctx context.Context, userID string, kind flags.Kind, messageID string) error {
	_, err := f.s.exec(ctx, `
		DELETE FROM message_flags WHERE user_id = ? AND kind = ? AND message_id = ?
	`, userID, string(kind), messageID)
	if err != nil {
		return fmt.Errorf("remove %s flag: %w", kind, err)
	}
	return nil
}

// Clear deletes every flag the user holds.
func (f *FlagStore) Clear(ctx context.Context, userID string) error {
	if _, err := f.s.exec(ctx, `DELETE FROM message_flags WHERE user_id = ?`, userID); err != nil {
		return fmt.Errorf("clear flags: %w", err)
	}
	return nil
}
