package mail

import (
	"errors"
	"testing"

	imap "github.com/emersion/go-imap/v2"
	"github.com/google/go-cmp/cmp"
)

func TestParseFolder(t *testing.T) {
	tests := []struct {
		in      string
		want    Folder
		wantErr bool
	}{
		{"", FolderInbox, false},
		{"inbox", FolderInbox, false},
		{"Spam", FolderSpam, false},
		{" all ", FolderAll, false},
		{"ARCHIVE", FolderArchive, false},
		{"starred", "", true},
		{"INBOX.Sent", "", true},
	}
	for _, tt := range tests {
		got, err := ParseFolder(tt.in)
		if tt.wantErr {
			if !errors.Is(err, ErrUnknownFolder) {
				t.Errorf("ParseFolder(%q) error = %v, want ErrUnknownFolder", tt.in, err)
			}
			continue
		}
		if err != nil || got != tt.want {
			t.Errorf("ParseFolder(%q) = %q, %v; want %q", tt.in, got, err, tt.want)
		}
	}
}

func TestFolderCandidates_AliasTableOrder(t *testing.T) {
	got := folderCandidates(FolderSpam, nil)
	want := []string{"[Gmail]/Spam", "Junk", "Junk E-mail", "Junk Email", "Spam", "Bulk Mail", "INBOX.Spam", "INBOX.Junk"}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("candidates (-want +got):\n%s", diff)
	}
}

func TestFolderCandidates_UsesServerSpelling(t *testing.T) {
	listed := []listedMailbox{{Name: "INBOX"}, {Name: "junk e-mail"}}
	got := folderCandidates(FolderSpam, listed)
	if got[2] != "junk e-mail" {
		t.Errorf("candidate[2] = %q, want server spelling", got[2])
	}
}

func TestFolderCandidates_SpecialUseFirst(t *testing.T) {
	listed := []listedMailbox{
		{Name: "INBOX"},
		{Name: "Papierkorb", Attrs: []imap.MailboxAttr{imap.MailboxAttrTrash}},
	}
	got := folderCandidates(FolderTrash, listed)
	if got[0] != "Papierkorb" {
		t.Errorf("candidate[0] = %q, want SPECIAL-USE mailbox", got[0])
	}
}

func TestFolderCandidates_PatternMatchesUnlistedPath(t *testing.T) {
	listed := []listedMailbox{{Name: "INBOX"}, {Name: "INBOX/Sent Items"}}
	got := folderCandidates(FolderSent, listed)
	if got[len(got)-1] != "INBOX/Sent Items" {
		t.Errorf("last candidate = %q, want pattern match", got[len(got)-1])
	}
}

func TestAllMailCandidates(t *testing.T) {
	listed := []listedMailbox{
		{Name: "Trash"},
		{Name: "Projects"},
		{Name: "Sent Items"},
		{Name: "INBOX"},
		{Name: "Drafts"},
	}
	got := allMailCandidates(listed)
	want := []FolderCandidate{
		{Folder: FolderInbox, Path: "INBOX", Priority: 0},
		{Folder: FolderSent, Path: "Sent Items", Priority: 1},
		{Folder: FolderDrafts, Path: "Drafts", Priority: 2},
		{Folder: FolderTrash, Path: "Trash", Priority: 3},
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("candidates (-want +got):\n%s", diff)
	}
}

func TestAllMailCandidates_InboxAlwaysIncluded(t *testing.T) {
	got := allMailCandidates([]listedMailbox{{Name: "Sent"}})
	if got[0].Path != "INBOX" {
		t.Errorf("first candidate = %+v, want INBOX", got[0])
	}
}

func TestAllMailCandidates_FallbackSubset(t *testing.T) {
	var listed []listedMailbox
	for _, name := range []string{"a", "b", "c", "d", "e", "f", "g"} {
		listed = append(listed, listedMailbox{Name: name})
	}
	got := allMailCandidates(listed)
	var paths []string
	for _, c := range got {
		paths = append(paths, c.Path)
	}
	if diff := cmp.Diff([]string{"INBOX", "a", "b", "c", "d", "e"}, paths); diff != "" {
		t.Errorf("paths (-want +got):\n%s", diff)
	}
}

func TestPerMailboxLimit(t *testing.T) {
	tests := []struct{ limit, n, want int }{
		{20, 2, 10},
		{20, 6, 10},
		{100, 3, 34},
		{20, 0, 20},
	}
	for _, tt := range tests {
		if got := perMailboxLimit(tt.limit, tt.n); got != tt.want {
			t.Errorf("perMailboxLimit(%d, %d) = %d, want %d", tt.limit, tt.n, got, tt.want)
		}
	}
}
