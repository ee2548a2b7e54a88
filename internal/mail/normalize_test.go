package mail

import (
	"fmt"
	"strings"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/Frokesy/goatmail-be/internal/testutil/email"
)

func TestNormalize_PlainMessage(t *testing.T) {
	raw := email.NewMessage().
		From(`"Alice Example" <alice@example.com>`).
		To("bob@example.com, Carol <carol@example.com>").
		Subject("Quarterly report").
		MessageID("<q1@example.com>").
		Body("Numbers are up.").
		Bytes()

	m, err := Normalize(raw)
	if err != nil {
		t.Fatalf("Normalize: %v", err)
	}
	if m.Subject != "Quarterly report" {
		t.Errorf("Subject = %q", m.Subject)
	}
	if m.From != "Alice Example" {
		t.Errorf("From = %q", m.From)
	}
	if m.To != "bob@example.com, Carol" {
		t.Errorf("To = %q", m.To)
	}
	if m.MessageID != "<q1@example.com>" {
		t.Errorf("MessageID = %q", m.MessageID)
	}
	if want := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC); !m.Date.Equal(want) {
		t.Errorf("Date = %v, want %v", m.Date, want)
	}
	if m.Excerpt != "Numbers are up." {
		t.Errorf("Excerpt = %q", m.Excerpt)
	}
	if m.Body != "<div>Numbers are up.</div>" {
		t.Errorf("Body = %q", m.Body)
	}
}

func TestNormalize_Defaults(t *testing.T) {
	raw := "Date: Mon, 01 Jan 2024 12:00:00 +0000\r\nContent-Type: text/plain\r\n\r\nhi"
	m, err := Normalize([]byte(raw))
	if err != nil {
		t.Fatal(err)
	}
	if m.Subject != "(no subject)" {
		t.Errorf("Subject = %q, want (no subject)", m.Subject)
	}
	if m.From != "(unknown)" {
		t.Errorf("From = %q, want (unknown)", m.From)
	}
	if m.To != "" {
		t.Errorf("To = %q, want empty", m.To)
	}
}

func TestNormalize_EncodedSubject(t *testing.T) {
	raw := email.NewMessage().Subject("=?UTF-8?B?w4ljaMOpYW5jZQ==?=").Bytes()
	m, err := Normalize(raw)
	if err != nil {
		t.Fatal(err)
	}
	if m.Subject != "Échéance" {
		t.Errorf("Subject = %q", m.Subject)
	}
}

func TestNormalize_PrefersHTMLBody(t *testing.T) {
	raw := email.NewMessage().Body("plain version").HTML("<p>rich version</p>").Bytes()
	m, err := Normalize(raw)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(m.Body, "<p>rich version</p>") {
		t.Errorf("Body = %q, want HTML part", m.Body)
	}
	if m.Excerpt != "plain version" {
		t.Errorf("Excerpt = %q, want text part", m.Excerpt)
	}
}

func TestNormalize_HTMLOnlyExcerpt(t *testing.T) {
	raw := email.NewMessage().Body("").
		HTML("<html><body><p>Hello there</p></body></html>").
		Bytes()
	m, err := Normalize(raw)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(m.Excerpt, "Hello there") || strings.Contains(m.Excerpt, "<p>") {
		t.Errorf("Excerpt = %q", m.Excerpt)
	}
}

func TestExcerpt(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"collapses whitespace", "Hello\n\n   world\t!", "Hello world !"},
		{"strips image placeholders", "Logo [image: logo.png] here [cid:abc@def]", "Logo here"},
		{"collapses dot runs", "Wait.......... what", "Wait... what"},
		{"trims", "   padded   ", "padded"},
		{"empty", "", ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Excerpt(tt.in); got != tt.want {
				t.Errorf("Excerpt(%q) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}
}

func TestExcerpt_TruncatesTo200Runes(t *testing.T) {
	got := Excerpt(strings.Repeat("é", 300))
	if n := utf8.RuneCountInString(got); n != 200 {
		t.Errorf("excerpt has %d runes, want 200", n)
	}
	if !utf8.ValidString(got) {
		t.Error("excerpt is not valid UTF-8")
	}
}

func TestNormalize_Malformed(t *testing.T) {
	tests := []struct {
		name string
		raw  string
	}{
		{"empty", ""},
		{"whitespace only", "  \r\n\r\n"},
		{"no header field", "this is not a mail message\r\n"},
		{"continuation first", " folded: line\r\n\r\nbody"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m, err := Normalize([]byte(tt.raw))
			if !IsKind(err, KindParse) {
				t.Fatalf("got %v, want parse error", err)
			}
			if m.Subject != "(parse error)" || m.Body != "" || m.Excerpt != "" {
				t.Errorf("placeholder = %+v", m)
			}
		})
	}
}

func TestNormalize_BatchToleratesOneFailure(t *testing.T) {
	raws := email.Numbered(10)
	raws[4] = "garbage without headers"

	var out []Message
	for _, raw := range raws {
		m, _ := Normalize([]byte(raw))
		out = append(out, m)
	}
	if len(out) != 10 {
		t.Fatalf("got %d results, want 10", len(out))
	}
	for i, m := range out {
		want := fmt.Sprintf("Message %d", i+1)
		if i == 4 {
			want = "(parse error)"
		}
		if m.Subject != want {
			t.Errorf("message %d subject = %q, want %q", i+1, m.Subject, want)
		}
	}
}

func TestNormalizeHeader(t *testing.T) {
	raw := "From: =?UTF-8?Q?Ren=C3=A9?= <rene@example.com>\r\n" +
		"To: team@example.com\r\n" +
		"Subject: Standup\r\n" +
		"Message-ID: <standup@example.com>\r\n" +
		"Date: Tue, 2 Jan 2024 09:30:00 +0100\r\n"

	m, err := NormalizeHeader([]byte(raw))
	if err != nil {
		t.Fatalf("NormalizeHeader: %v", err)
	}
	if m.Subject != "Standup" || m.From != "René" || m.To != "team@example.com" {
		t.Errorf("unexpected header fields: %+v", m)
	}
	if m.MessageID != "<standup@example.com>" {
		t.Errorf("MessageID = %q", m.MessageID)
	}
	if want := time.Date(2024, 1, 2, 8, 30, 0, 0, time.UTC); !m.Date.Equal(want) {
		t.Errorf("Date = %v, want %v", m.Date, want)
	}
	if m.Body != "" || m.Excerpt != "" {
		t.Errorf("header-only message has body %q excerpt %q", m.Body, m.Excerpt)
	}
}

func TestParseDate(t *testing.T) {
	tests := []struct {
		in   string
		want time.Time
	}{
		{"Mon, 02 Jan 2006 15:04:05 -0700", time.Date(2006, 1, 2, 22, 4, 5, 0, time.UTC)},
		{"Mon, 2 Jan 2006 15:04:05 -0700 (MST)", time.Date(2006, 1, 2, 22, 4, 5, 0, time.UTC)},
		{"2 Jan 2006 15:04:05 +0000", time.Date(2006, 1, 2, 15, 4, 5, 0, time.UTC)},
		{"2006-01-02T15:04:05Z", time.Date(2006, 1, 2, 15, 4, 5, 0, time.UTC)},
		{"not a date", time.Time{}},
		{"", time.Time{}},
	}
	for _, tt := range tests {
		if got := parseDate(tt.in); !got.Equal(tt.want) {
			t.Errorf("parseDate(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

func TestStripHTML(t *testing.T) {
	got := StripHTML(`<div>Hi&nbsp;there</div><script>alert(1)</script><p>Second <img src="x.png"> line</p>`)
	want := "Hi there\nSecond [image] line"
	if got != want {
		t.Errorf("StripHTML = %q, want %q", got, want)
	}
}
