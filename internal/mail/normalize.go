package mail

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"html"
	netmail "net/mail"
	"regexp"
	"strings"

	"github.com/emersion/go-message"
	_ "github.com/emersion/go-message/charset"
	gomail "github.com/emersion/go-message/mail"
	"github.com/emersion/go-message/textproto"
	"github.com/jhillyerd/enmime"

	"github.com/Frokesy/goatmail-be/internal/textutil"
)

const (
	excerptRunes = 200

	subjectParseError = "(parse error)"
	subjectMissing    = "(no subject)"
	senderUnknown     = "(unknown)"
)

var (
	headerFieldRe      = regexp.MustCompile(`^[!-9;-~]+[ \t]*:`)
	imagePlaceholderRe = regexp.MustCompile(`(?i)\[(?:image|cid)\b[^\]]*\]`)
	dotRunRe           = regexp.MustCompile(`\.{3,}`)
	whitespaceRe       = regexp.MustCompile(`\s+`)
)

var errMalformed = errors.New("malformed message source")

// Normalize parses a complete RFC 5322 source. On failure it returns the
// parse-error placeholder together with a KindParse error, so batch callers
// can keep the placeholder and move on.
func Normalize(raw []byte) (Message, error) {
	if err := checkHeaderBlock(raw); err != nil {
		return parseFailure(), &Error{Kind: KindParse, Op: "normalize", Err: err}
	}
	env, err := enmime.ReadEnvelope(bytes.NewReader(raw))
	if err != nil {
		return parseFailure(), &Error{Kind: KindParse, Op: "normalize", Err: err}
	}

	m := Message{
		MessageID: strings.TrimSpace(env.GetHeader("Message-ID")),
		Subject:   subjectOrDefault(env.GetHeader("Subject")),
		From:      envelopeAddresses(env, "From", senderUnknown),
		To:        envelopeAddresses(env, "To", ""),
	}
	if d := env.GetHeader("Date"); d != "" {
		m.Date = parseDate(d)
	}

	text := env.Text
	if strings.TrimSpace(text) == "" && env.HTML != "" {
		text = StripHTML(env.HTML)
	}
	m.Excerpt = Excerpt(text)
	m.Body = renderBody(env.HTML, env.Text, rawBody(raw))
	return m, nil
}

// NormalizeHeader parses a header-only source such as a POP3 TOP reply.
// Body and excerpt stay empty.
func NormalizeHeader(raw []byte) (Message, error) {
	if err := checkHeaderBlock(raw); err != nil {
		return parseFailure(), &Error{Kind: KindParse, Op: "normalize header", Err: err}
	}
	if !bytes.Contains(raw, []byte("\n\n")) && !bytes.Contains(raw, []byte("\r\n\r\n")) {
		raw = append(bytes.TrimRight(raw, "\r\n"), "\r\n\r\n"...)
	}
	th, err := textproto.ReadHeader(bufio.NewReader(bytes.NewReader(raw)))
	if err != nil {
		return parseFailure(), &Error{Kind: KindParse, Op: "normalize header", Err: err}
	}
	h := gomail.Header{Header: message.Header{Header: th}}

	m := Message{
		From: headerAddresses(h, "From", senderUnknown),
		To:   headerAddresses(h, "To", ""),
	}
	subject, err := h.Subject()
	if err != nil {
		subject = h.Get("Subject")
	}
	m.Subject = subjectOrDefault(subject)
	if id, err := h.MessageID(); err == nil && id != "" {
		m.MessageID = "<" + id + ">"
	} else {
		m.MessageID = strings.TrimSpace(h.Get("Message-Id"))
	}
	if d, err := h.Date(); err == nil {
		m.Date = d.UTC()
	} else if raw := h.Get("Date"); raw != "" {
		m.Date = parseDate(raw)
	}
	return m, nil
}

// checkHeaderBlock rejects sources that cannot be a message: empty input
// or a first line that is not a header field.
func checkHeaderBlock(raw []byte) error {
	if len(bytes.TrimSpace(raw)) == 0 {
		return fmt.Errorf("%w: empty source", errMalformed)
	}
	first, _, _ := bytes.Cut(raw, []byte("\n"))
	first = bytes.TrimRight(first, "\r")
	if !headerFieldRe.Match(first) {
		return fmt.Errorf("%w: first line is not a header field", errMalformed)
	}
	return nil
}

func parseFailure() Message {
	return Message{Subject: subjectParseError, From: senderUnknown}
}

func subjectOrDefault(s string) string {
	s = strings.TrimSpace(textutil.EnsureUTF8(s))
	if s == "" {
		return subjectMissing
	}
	return s
}

type address struct {
	name, email string
}

// formatAddresses renders each address as its display name, falling back to
// the bare address, joined with ", ".
func formatAddresses(list []address) string {
	parts := make([]string, 0, len(list))
	for _, a := range list {
		switch {
		case strings.TrimSpace(a.name) != "":
			parts = append(parts, strings.TrimSpace(a.name))
		case a.email != "":
			parts = append(parts, a.email)
		}
	}
	return textutil.EnsureUTF8(strings.Join(parts, ", "))
}

func envelopeAddresses(env *enmime.Envelope, key, fallback string) string {
	list, err := env.AddressList(key)
	if err == nil && len(list) > 0 {
		if s := formatAddresses(fromNetMail(list)); s != "" {
			return s
		}
	}
	if raw := strings.TrimSpace(env.GetHeader(key)); raw != "" {
		return textutil.EnsureUTF8(raw)
	}
	return fallback
}

func headerAddresses(h gomail.Header, key, fallback string) string {
	list, err := h.AddressList(key)
	if err == nil && len(list) > 0 {
		addrs := make([]address, 0, len(list))
		for _, a := range list {
			addrs = append(addrs, address{name: a.Name, email: a.Address})
		}
		if s := formatAddresses(addrs); s != "" {
			return s
		}
	}
	if raw := strings.TrimSpace(h.Get(key)); raw != "" {
		return textutil.EnsureUTF8(raw)
	}
	return fallback
}

func fromNetMail(list []*netmail.Address) []address {
	out := make([]address, 0, len(list))
	for _, a := range list {
		if a != nil {
			out = append(out, address{name: a.Name, email: a.Address})
		}
	}
	return out
}

// Excerpt builds the short preview shown in listings.
func Excerpt(text string) string {
	text = imagePlaceholderRe.ReplaceAllString(text, " ")
	text = dotRunRe.ReplaceAllString(text, "...")
	text = whitespaceRe.ReplaceAllString(text, " ")
	text = strings.TrimSpace(textutil.EnsureUTF8(text))
	return textutil.CutRunes(text, excerptRunes)
}

// renderBody prefers the HTML part, then the text part rendered as HTML,
// then whatever follows the header block.
func renderBody(htmlPart, textPart string, raw []byte) string {
	if strings.TrimSpace(htmlPart) != "" {
		return textutil.EnsureUTF8(htmlPart)
	}
	if strings.TrimSpace(textPart) != "" {
		return textToHTML(textutil.EnsureUTF8(textPart))
	}
	return strings.TrimSpace(textutil.EnsureUTF8(string(raw)))
}

func textToHTML(text string) string {
	text = strings.ReplaceAll(text, "\r\n", "\n")
	escaped := html.EscapeString(strings.TrimRight(text, "\n"))
	return "<div>" + strings.ReplaceAll(escaped, "\n", "<br>") + "</div>"
}

// rawBody returns the bytes after the first blank line.
func rawBody(raw []byte) []byte {
	if _, body, ok := bytes.Cut(raw, []byte("\r\n\r\n")); ok {
		return body
	}
	if _, body, ok := bytes.Cut(raw, []byte("\n\n")); ok {
		return body
	}
	return nil
}
