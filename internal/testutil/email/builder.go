package email

import (
	"strings"
)

// MessageBuilder constructs raw RFC 5322 messages with a fluent API.
// Output uses \r\n line endings so it can be appended to IMAP servers or
// served by POP3 mocks as-is.
type MessageBuilder struct {
	from       string
	to         string
	subject    string
	date       string
	messageID  string
	text       string
	html       string
	headerKeys []string
	headerVals []string
	boundary   string
	noSubject  bool
	lf         bool
}

// NewMessage creates a MessageBuilder with sensible defaults.
func NewMessage() *MessageBuilder {
	return &MessageBuilder{
		from:     "sender@example.com",
		to:       "recipient@example.com",
		date:     "Mon, 01 Jan 2024 12:00:00 +0000",
		subject:  "Test Message",
		text:     "This is a test message body.",
		boundary: "boundary123",
	}
}

// From sets the From header.
func (b *MessageBuilder) From(v string) *MessageBuilder { b.from = v; return b }

// To sets the To header.
func (b *MessageBuilder) To(v string) *MessageBuilder { b.to = v; return b }

// Subject sets the Subject header. Use NoSubject() to omit it entirely.
func (b *MessageBuilder) Subject(v string) *MessageBuilder { b.subject = v; b.noSubject = false; return b }

// NoSubject omits the Subject header.
func (b *MessageBuilder) NoSubject() *MessageBuilder { b.noSubject = true; return b }

// Date sets the Date header. Empty omits it.
func (b *MessageBuilder) Date(v string) *MessageBuilder { b.date = v; return b }

// MessageID sets the Message-ID header, e.g. "<a@example.com>".
func (b *MessageBuilder) MessageID(v string) *MessageBuilder { b.messageID = v; return b }

// Body sets the text/plain part.
func (b *MessageBuilder) Body(v string) *MessageBuilder { b.text = v; return b }

// HTML sets a text/html part. With a text body as well the message becomes
// multipart/alternative.
func (b *MessageBuilder) HTML(v string) *MessageBuilder { b.html = v; return b }

// Header adds an arbitrary header.
func (b *MessageBuilder) Header(key, value string) *MessageBuilder {
	b.headerKeys = append(b.headerKeys, key)
	b.headerVals = append(b.headerVals, value)
	return b
}

// LF switches to bare \n line endings.
func (b *MessageBuilder) LF() *MessageBuilder { b.lf = true; return b }

// String builds the message.
func (b *MessageBuilder) String() string {
	nl := "\r\n"
	if b.lf {
		nl = "\n"
	}
	var s strings.Builder
	line := func(v string) { s.WriteString(v + nl) }

	line("From: " + b.from)
	line("To: " + b.to)
	if !b.noSubject {
		line("Subject: " + b.subject)
	}
	if b.date != "" {
		line("Date: " + b.date)
	}
	if b.messageID != "" {
		line("Message-ID: " + b.messageID)
	}
	for i, k := range b.headerKeys {
		line(k + ": " + b.headerVals[i])
	}
	line("MIME-Version: 1.0")

	switch {
	case b.html != "" && b.text != "":
		line(`Content-Type: multipart/alternative; boundary="` + b.boundary + `"`)
		line("")
		line("--" + b.boundary)
		line(`Content-Type: text/plain; charset="utf-8"`)
		line("")
		line(b.text)
		line("--" + b.boundary)
		line(`Content-Type: text/html; charset="utf-8"`)
		line("")
		line(b.html)
		line("--" + b.boundary + "--")
	case b.html != "":
		line(`Content-Type: text/html; charset="utf-8"`)
		line("")
		line(b.html)
	default:
		line(`Content-Type: text/plain; charset="utf-8"`)
		line("")
		s.WriteString(b.text)
	}
	return s.String()
}

// Bytes builds the message.
func (b *MessageBuilder) Bytes() []byte { return []byte(b.String()) }
