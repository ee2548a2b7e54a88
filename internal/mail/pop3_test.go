package mail

import (
	"context"
	"crypto/tls"
	"fmt"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/Frokesy/goatmail-be/internal/testutil/email"
)

func newTestPOP3Fetcher(t *testing.T, m *pop3Mock) *POP3Fetcher {
	t.Helper()
	return NewPOP3Fetcher(testParams(t, ProtocolPOP3, m.start(t)), WithLogger(quietLogger()))
}

func TestPOP3FetchMessages_EmptyMailbox(t *testing.T) {
	m := &pop3Mock{}
	msgs, err := newTestPOP3Fetcher(t, m).FetchMessages(context.Background(), FolderInbox, 20)
	if err != nil {
		t.Fatalf("empty mailbox should not be an error: %v", err)
	}
	if msgs == nil || len(msgs) != 0 {
		t.Errorf("got %#v, want empty non-nil slice", msgs)
	}
	waitFor(t, func() bool { return m.quits.Load() == 1 }, "QUIT was not sent")
}

func TestPOP3FetchMessages_NewestFirstWithinLimit(t *testing.T) {
	m := &pop3Mock{messages: email.Numbered(8)}
	msgs, err := newTestPOP3Fetcher(t, m).FetchMessages(context.Background(), FolderInbox, 5)
	if err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff([]string{"8", "7", "6", "5", "4"}, messageIDs(msgs)); diff != "" {
		t.Errorf("ids (-want +got):\n%s", diff)
	}
	if msgs[0].Subject != "Message 8" || msgs[0].Body != "" || msgs[0].Excerpt != "" {
		t.Errorf("unexpected header-only message: %+v", msgs[0])
	}
	if got := m.tops.Load(); got != 5 {
		t.Errorf("TOP issued %d times, want 5", got)
	}
}

func TestPOP3FetchMessages_MalformedMessageKeepsPlaceholder(t *testing.T) {
	raws := email.Numbered(10)
	raws[4] = "this is not a mail message\r\nat all\r\n"
	m := &pop3Mock{messages: raws}

	msgs, err := newTestPOP3Fetcher(t, m).FetchMessages(context.Background(), FolderInbox, 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(msgs) != 10 {
		t.Fatalf("got %d messages, want 10", len(msgs))
	}
	for _, msg := range msgs {
		want := "Message " + msg.ID
		if msg.ID == "5" {
			want = "(parse error)"
		}
		if msg.Subject != want {
			t.Errorf("message %s subject = %q, want %q", msg.ID, msg.Subject, want)
		}
	}
}

func TestPOP3FetchMessages_SkipsRefusedMessage(t *testing.T) {
	m := &pop3Mock{
		messages: email.Numbered(4),
		errTop:   map[int]bool{3: true},
		errRetr:  map[int]bool{3: true},
	}
	msgs, err := newTestPOP3Fetcher(t, m).FetchMessages(context.Background(), FolderInbox, 10)
	if err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff([]string{"4", "2", "1"}, messageIDs(msgs)); diff != "" {
		t.Errorf("ids (-want +got):\n%s", diff)
	}
	// A refusal for one message must not switch the session off TOP.
	if got := m.tops.Load(); got != 4 {
		t.Errorf("TOP issued %d times, want 4", got)
	}
}

func TestPOP3FetchMessages_FallsBackToRETR(t *testing.T) {
	m := &pop3Mock{messages: email.Numbered(3), refuseTop: true}
	msgs, err := newTestPOP3Fetcher(t, m).FetchMessages(context.Background(), FolderInbox, 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(msgs) != 3 || msgs[0].Subject != "Message 3" {
		t.Fatalf("unexpected result: %+v", msgs)
	}
	if got := m.tops.Load(); got != 1 {
		t.Errorf("TOP issued %d times, want 1 before switching to RETR", got)
	}
}

func TestPOP3FetchMessages_FolderUnsupported(t *testing.T) {
	f := NewPOP3Fetcher(ConnParams{Protocol: ProtocolPOP3, Host: "127.0.0.1"})
	for _, folder := range []Folder{FolderAll, FolderSpam, FolderSent} {
		if _, err := f.FetchMessages(context.Background(), folder, 10); !IsKind(err, KindUnsupported) {
			t.Errorf("%s: got %v, want unsupported", folder, err)
		}
	}
}

func TestPOP3FetchMessage_Retr(t *testing.T) {
	raws := []string{
		email.NewMessage().Subject("Hello").Body("first line\r\n.dot line").String(),
	}
	m := &pop3Mock{messages: raws}

	msg, err := newTestPOP3Fetcher(t, m).FetchMessage(context.Background(), "", "1")
	if err != nil {
		t.Fatalf("FetchMessage: %v", err)
	}
	if msg.ID != "1" || msg.Subject != "Hello" {
		t.Errorf("unexpected message: %+v", msg)
	}
	if msg.Body != "<div>first line<br>.dot line</div>" {
		t.Errorf("body = %q", msg.Body)
	}
}

func TestPOP3FetchMessage_FolderUnsupported(t *testing.T) {
	f := NewPOP3Fetcher(ConnParams{Protocol: ProtocolPOP3, Host: "127.0.0.1"})
	for _, folder := range []Folder{FolderAll, FolderSpam, FolderSent} {
		if _, err := f.FetchMessage(context.Background(), folder, "1"); !IsKind(err, KindUnsupported) {
			t.Errorf("%s: got %v, want unsupported", folder, err)
		}
	}
}

// An absent ?folder= parses to FolderInbox, which is the POP3 maildrop.
func TestPOP3FetchMessage_DefaultFolder(t *testing.T) {
	folder, err := ParseFolder("")
	if err != nil {
		t.Fatal(err)
	}
	m := &pop3Mock{messages: email.Numbered(2)}
	msg, err := newTestPOP3Fetcher(t, m).FetchMessage(context.Background(), folder, "2")
	if err != nil {
		t.Fatalf("FetchMessage(%q): %v", folder, err)
	}
	if msg.ID != "2" || msg.Subject != "Message 2" {
		t.Errorf("unexpected message: %+v", msg)
	}
}

func TestPOP3_BadCredentials(t *testing.T) {
	m := &pop3Mock{messages: email.Numbered(1)}
	params := testParams(t, ProtocolPOP3, m.start(t))
	params.Password = "wrong"

	_, err := NewPOP3Fetcher(params, WithLogger(quietLogger())).FetchMessages(context.Background(), FolderInbox, 10)
	if !IsKind(err, KindConnection) {
		t.Errorf("got %v, want connection error", err)
	}
}

func TestPOP3_StalledServerTimesOut(t *testing.T) {
	params := testParams(t, ProtocolPOP3, silentListener(t))
	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()

	_, err := NewPOP3Fetcher(params, WithLogger(quietLogger())).FetchMessages(ctx, FolderInbox, 10)
	if !IsKind(err, KindTimeout) {
		t.Errorf("got %v, want timeout", err)
	}
}

func TestPOP3_TLSModes(t *testing.T) {
	serverTLS := newTestTLSConfig(t)
	clientTLS := &tls.Config{InsecureSkipVerify: true}

	tests := []struct {
		name   string
		mock   *pop3Mock
		secure bool
		stls   bool
	}{
		{"implicit", &pop3Mock{messages: email.Numbered(2), tlsConfig: serverTLS, implicit: true}, true, false},
		{"starttls", &pop3Mock{messages: email.Numbered(2), tlsConfig: serverTLS}, false, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			params := testParams(t, ProtocolPOP3, tt.mock.start(t))
			params.Secure, params.StartTLS = tt.secure, tt.stls

			f := NewPOP3Fetcher(params, WithLogger(quietLogger()), WithTLSConfig(clientTLS))
			msgs, err := f.FetchMessages(context.Background(), FolderInbox, 10)
			if err != nil {
				t.Fatalf("FetchMessages: %v", err)
			}
			if len(msgs) != 2 {
				t.Errorf("got %d messages, want 2", len(msgs))
			}
		})
	}
}

func waitFor(t *testing.T, cond func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatal(msg)
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func ExamplePOP3Fetcher() {
	f := NewPOP3Fetcher(ConnParams{Protocol: ProtocolPOP3, Host: "pop.example.com", Secure: true})
	fmt.Println(f.Protocol(), f.params.Addr())
	// Output: POP3 pop.example.com:995
}
