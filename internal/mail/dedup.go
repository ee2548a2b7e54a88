package mail

import (
	"slices"
	"strings"
	"time"
)

const maxDedupKeyLen = 256

// dedupKey identifies one logical message across mailboxes. Message-ID is
// preferred; otherwise subject, date and sender are combined.
func dedupKey(m *Message) string {
	if id := strings.TrimSpace(m.MessageID); id != "" {
		return "id:" + strings.Trim(id, "<>")
	}
	key := "h:" + m.Subject + "|" + m.Date.UTC().Format(time.RFC3339) + "|" + m.From
	if len(key) > maxDedupKeyLen {
		key = key[:maxDedupKeyLen]
	}
	return key
}

// deduper collects messages from several mailboxes, keeping the first
// copy of each and recording every folder it was seen in.
type deduper struct {
	index map[string]int
	msgs  []Message
}

func newDeduper() *deduper {
	return &deduper{index: make(map[string]int)}
}

// Add records m as seen in folder and reports whether it was new.
func (d *deduper) Add(m Message, folder string) bool {
	key := dedupKey(&m)
	if i, ok := d.index[key]; ok {
		existing := &d.msgs[i]
		if !slices.Contains(existing.SourceFolders, folder) {
			existing.SourceFolders = append(existing.SourceFolders, folder)
		}
		return false
	}
	m.SourceFolders = []string{folder}
	d.index[key] = len(d.msgs)
	d.msgs = append(d.msgs, m)
	return true
}

func (d *deduper) Len() int { return len(d.msgs) }

// Result returns the unique messages newest first, at most limit of them.
func (d *deduper) Result(limit int) []Message {
	out := slices.Clone(d.msgs)
	sortNewestFirst(out)
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out
}

func sortNewestFirst(msgs []Message) {
	slices.SortStableFunc(msgs, func(a, b Message) int {
		return b.Date.Compare(a.Date)
	})
}
