// Package flags keeps the per-user starred, archived and deleted sets that
// overlay remote mail, and merges them into fetched listings.
package flags

import (
	"context"
	"fmt"
	"strings"

	"github.com/Frokesy/goatmail-be/internal/mail"
)

// Kind names one flag set.
type Kind string

const (
	Starred  Kind = "starred"
	Archived Kind = "archived"
	Deleted  Kind = "deleted"
)

// Kinds lists every flag set.
var Kinds = []Kind{Starred, Archived, Deleted}

// ParseKind accepts a flag name in any case.
func ParseKind(s string) (Kind, error) {
	k := Kind(strings.ToLower(strings.TrimSpace(s)))
	switch k {
	case Starred, Archived, Deleted:
		return k, nil
	}
	return "", fmt.Errorf("unknown flag %q", s)
}

// Overlay is a user's three flag sets keyed by message id.
type Overlay struct {
	sets map[Kind]map[string]struct{}
}

// NewOverlay returns an empty overlay.
func NewOverlay() *Overlay {
	o := &Overlay{sets: make(map[Kind]map[string]struct{}, len(Kinds))}
	for _, k := range Kinds {
		o.sets[k] = make(map[string]struct{})
	}
	return o
}

// Set adds ids to the kind set.
func (o *Overlay) Set(kind Kind, ids ...string) {
	set, ok := o.sets[kind]
	if !ok {
		set = make(map[string]struct{})
		o.sets[kind] = set
	}
	for _, id := range ids {
		set[id] = struct{}{}
	}
}

// Has reports whether id is in the kind set.
func (o *Overlay) Has(kind Kind, id string) bool {
	if o == nil {
		return false
	}
	_, ok := o.sets[kind][id]
	return ok
}

// Len returns the size of the kind set.
func (o *Overlay) Len(kind Kind) int {
	if o == nil {
		return 0
	}
	return len(o.sets[kind])
}

// Store persists overlays. Add, Remove and Clear are idempotent.
type Store interface {
	Load(ctx context.Context, userID string) (*Overlay, error)
	Add(ctx context.Context, userID string, kind Kind, messageID string) error
	Remove(ctx context.Context, userID string, kind Kind, messageID string) error
	// Clear drops all of the user's sets. Message ids are only meaningful
	// against the mailbox they came from, so this runs whenever that
	// mailbox changes.
	Clear(ctx context.Context, userID string) error
}

// Annotate sets m's flag fields from the overlay. A nil overlay clears them.
func (o *Overlay) Annotate(m *mail.Message) {
	m.Starred = o.Has(Starred, m.ID)
	m.Archived = o.Has(Archived, m.ID)
	m.Deleted = o.Has(Deleted, m.ID)
}

// ApplyDefault drops archived and deleted messages and marks starred ones.
// msgs is not modified.
func ApplyDefault(msgs []mail.Message, o *Overlay) []mail.Message {
	out := make([]mail.Message, 0, len(msgs))
	for _, m := range msgs {
		if o.Has(Archived, m.ID) || o.Has(Deleted, m.ID) {
			continue
		}
		o.Annotate(&m)
		out = append(out, m)
	}
	return out
}

// Filter keeps only messages in the kind set, with all flags annotated.
func Filter(msgs []mail.Message, o *Overlay, kind Kind) []mail.Message {
	out := make([]mail.Message, 0, o.Len(kind))
	for _, m := range msgs {
		if !o.Has(kind, m.ID) {
			continue
		}
		o.Annotate(&m)
		out = append(out, m)
	}
	return out
}
