package mail

import (
	"fmt"
	"regexp"
	"slices"
	"strings"

	imap "github.com/emersion/go-imap/v2"
)

// Folder is a logical folder selector.
type Folder string

const (
	FolderInbox   Folder = "INBOX"
	FolderSpam    Folder = "SPAM"
	FolderSent    Folder = "SENT"
	FolderDrafts  Folder = "DRAFTS"
	FolderTrash   Folder = "TRASH"
	FolderArchive Folder = "ARCHIVE"
	// FolderAll aggregates every selectable mailbox with de-duplication.
	FolderAll Folder = "ALL"
)

// ParseFolder validates a selector case-insensitively. Empty means INBOX.
func ParseFolder(s string) (Folder, error) {
	s = strings.ToUpper(strings.TrimSpace(s))
	if s == "" {
		return FolderInbox, nil
	}
	switch f := Folder(s); f {
	case FolderInbox, FolderSpam, FolderSent, FolderDrafts, FolderTrash, FolderArchive, FolderAll:
		return f, nil
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownFolder, s)
}

// folderAlias describes how one logical folder shows up on real servers.
// Paths are ordered provider-branded first, generic last.
type folderAlias struct {
	folder   Folder
	attr     imap.MailboxAttr
	pattern  *regexp.Regexp
	paths    []string
	priority int
}

var folderAliases = []folderAlias{
	{
		folder:   FolderInbox,
		pattern:  regexp.MustCompile(`(?i)^inbox$`),
		paths:    []string{"INBOX"},
		priority: 0,
	},
	{
		folder:   FolderSent,
		attr:     imap.MailboxAttrSent,
		pattern:  regexp.MustCompile(`(?i)(^|[/.])sent( items| mail| messages)?$`),
		paths:    []string{"[Gmail]/Sent Mail", "Sent Items", "Sent", "Sent Messages", "INBOX.Sent"},
		priority: 1,
	},
	{
		folder:   FolderArchive,
		attr:     imap.MailboxAttrArchive,
		pattern:  regexp.MustCompile(`(?i)(^|[/.])(archives?|all mail)$`),
		paths:    []string{"[Gmail]/All Mail", "Archive", "Archives", "INBOX.Archive"},
		priority: 1,
	},
	{
		folder:   FolderDrafts,
		attr:     imap.MailboxAttrDrafts,
		pattern:  regexp.MustCompile(`(?i)(^|[/.])drafts?$`),
		paths:    []string{"[Gmail]/Drafts", "Drafts", "Draft", "INBOX.Drafts"},
		priority: 2,
	},
	{
		folder:   FolderSpam,
		attr:     imap.MailboxAttrJunk,
		pattern:  regexp.MustCompile(`(?i)(^|[/.])(spam|junk( e-?mail)?|bulk mail)$`),
		paths:    []string{"[Gmail]/Spam", "Junk", "Junk E-mail", "Junk Email", "Spam", "Bulk Mail", "INBOX.Spam", "INBOX.Junk"},
		priority: 3,
	},
	{
		folder:   FolderTrash,
		attr:     imap.MailboxAttrTrash,
		pattern:  regexp.MustCompile(`(?i)(^|[/.])(trash|bin|deleted( items| messages)?)$`),
		paths:    []string{"[Gmail]/Trash", "Trash", "Deleted Items", "Deleted Messages", "Bin", "INBOX.Trash"},
		priority: 3,
	},
}

const (
	fallbackMailboxes  = 5
	minPerMailboxLimit = 10
)

func aliasFor(f Folder) (folderAlias, bool) {
	for _, a := range folderAliases {
		if a.folder == f {
			return a, true
		}
	}
	return folderAlias{}, false
}

// listedMailbox is one selectable entry from a LIST response.
type listedMailbox struct {
	Name  string
	Attrs []imap.MailboxAttr
}

// FolderCandidate is a mailbox chosen for an "All" aggregation.
type FolderCandidate struct {
	Folder   Folder
	Path     string
	Priority int
}

// folderCandidates returns the mailbox paths to try, in order, for a
// single logical folder: SPECIAL-USE matches, then the alias table (with
// names rewritten to the server's spelling when LIST shows a
// case-insensitive match), then any other listed mailbox matching the
// folder pattern. listed may be nil when LIST failed.
func folderCandidates(f Folder, listed []listedMailbox) []string {
	alias, ok := aliasFor(f)
	if !ok {
		return nil
	}
	var out []string
	add := func(name string) {
		if !slices.Contains(out, name) {
			out = append(out, name)
		}
	}

	if alias.attr != "" {
		for _, mb := range listed {
			if slices.Contains(mb.Attrs, alias.attr) {
				add(mb.Name)
			}
		}
	}
	for _, p := range alias.paths {
		name := p
		for _, mb := range listed {
			if strings.EqualFold(mb.Name, p) {
				name = mb.Name
				break
			}
		}
		add(name)
	}
	for _, mb := range listed {
		if alias.pattern.MatchString(mb.Name) {
			add(mb.Name)
		}
	}
	return out
}

// classifyMailbox maps a listed mailbox to a logical folder.
func classifyMailbox(mb listedMailbox) (folderAlias, bool) {
	for _, a := range folderAliases {
		if a.attr != "" && slices.Contains(mb.Attrs, a.attr) {
			return a, true
		}
	}
	for _, a := range folderAliases {
		if a.pattern.MatchString(mb.Name) {
			return a, true
		}
	}
	return folderAlias{}, false
}

// allMailCandidates picks the mailboxes aggregated by FolderAll, ordered by
// priority. INBOX is always present. When nothing classifies, the first few
// listed mailboxes are used instead.
func allMailCandidates(listed []listedMailbox) []FolderCandidate {
	var out []FolderCandidate
	hasInbox := false
	for _, mb := range listed {
		a, ok := classifyMailbox(mb)
		if !ok {
			continue
		}
		if a.folder == FolderInbox {
			hasInbox = true
		}
		out = append(out, FolderCandidate{Folder: a.folder, Path: mb.Name, Priority: a.priority})
	}

	if len(out) == 0 {
		for _, mb := range listed {
			if len(out) == fallbackMailboxes {
				break
			}
			out = append(out, FolderCandidate{Path: mb.Name, Priority: len(folderAliases)})
		}
	}
	if !hasInbox {
		out = append([]FolderCandidate{{Folder: FolderInbox, Path: "INBOX", Priority: 0}}, out...)
	}

	slices.SortStableFunc(out, func(a, b FolderCandidate) int { return a.Priority - b.Priority })
	return out
}

// perMailboxLimit spreads limit across n mailboxes with a floor of ten.
func perMailboxLimit(limit, n int) int {
	if n <= 0 {
		return limit
	}
	per := (limit + n - 1) / n
	return max(per, minPerMailboxLimit)
}
