package outbound

import (
	"strings"
	"testing"
	"time"

	"github.com/Frokesy/goatmail-be/internal/testutil"
)

func TestCompose(t *testing.T) {
	raw, msgID, err := Compose(&Outgoing{
		FromAddr: "jane@example.com",
		To:       []string{"a@example.org", " "},
		Cc:       []string{"c@example.org"},
		Bcc:      []string{"secret@example.org"},
		Subject:  "Quarterly report",
		Body:     "<p>See attached</p>",
		Date:     time.Date(2026, 2, 3, 10, 0, 0, 0, time.UTC),
	})
	if err != nil {
		t.Fatalf("Compose: %v", err)
	}
	s := string(raw)
	testutil.AssertContainsAll(t, s, []string{
		`From: "jane" <jane@example.com>`,
		"To: <a@example.org>",
		"Cc: <c@example.org>",
		"Subject: Quarterly report",
		"Message-Id: " + msgID,
		"text/html",
		"See attached",
	})
	if strings.Contains(s, "secret@example.org") {
		t.Error("Bcc recipient leaked into headers")
	}
	if !strings.HasSuffix(msgID, "@example.com>") || !strings.HasPrefix(msgID, "<") {
		t.Errorf("Message-ID = %q", msgID)
	}
}

func TestCompose_MissingSender(t *testing.T) {
	if _, _, err := Compose(&Outgoing{To: []string{"a@example.org"}}); err == nil {
		t.Error("expected error without sender")
	}
}

func TestOutgoing_Recipients(t *testing.T) {
	o := &Outgoing{To: []string{"a", ""}, Cc: []string{"b"}, Bcc: []string{"c"}}
	testutil.AssertStrings(t, o.Recipients(), "a", "b", "c")
}

func TestOutgoing_SenderName(t *testing.T) {
	if got := (&Outgoing{FromAddr: "bob@example.com"}).SenderName(); got != "bob" {
		t.Errorf("SenderName = %q, want bob", got)
	}
	if got := (&Outgoing{FromName: "Bob B", FromAddr: "bob@example.com"}).SenderName(); got != "Bob B" {
		t.Errorf("SenderName = %q, want Bob B", got)
	}
}

func TestParams_Addr(t *testing.T) {
	tests := []struct {
		p    Params
		want string
	}{
		{Params{Host: "smtp.example.com"}, "smtp.example.com:587"},
		{Params{Host: "smtp.example.com", Secure: true}, "smtp.example.com:465"},
		{Params{Host: "smtp.example.com", Port: 2525}, "smtp.example.com:2525"},
	}
	for _, tt := range tests {
		if got := tt.p.Addr(); got != tt.want {
			t.Errorf("Addr() = %q, want %q", got, tt.want)
		}
	}
}
