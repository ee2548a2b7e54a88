// Package textutil repairs and trims text pulled out of mail headers and bodies.
package textutil

import (
	"strings"
	"unicode/utf8"

	"github.com/gogs/chardet"
	"golang.org/x/text/encoding"
	"golang.org/x/text/encoding/charmap"
	"golang.org/x/text/encoding/japanese"
	"golang.org/x/text/encoding/korean"
	"golang.org/x/text/encoding/simplifiedchinese"
	"golang.org/x/text/encoding/traditionalchinese"
)

// fallbackEncodings are tried in order when detection is inconclusive.
// Western single-byte charsets dominate legacy mail, so they go first.
var fallbackEncodings = []encoding.Encoding{
	charmap.Windows1252,
	charmap.ISO8859_1,
	charmap.ISO8859_15,
	japanese.ShiftJIS,
	japanese.EUCJP,
	korean.EUCKR,
	simplifiedchinese.GBK,
	traditionalchinese.Big5,
}

// charsets maps normalized IANA names (lower case, no '-' or '_') to decoders.
var charsets = map[string]encoding.Encoding{
	"windows1252": charmap.Windows1252,
	"cp1252":      charmap.Windows1252,
	"iso88591":    charmap.ISO8859_1,
	"latin1":      charmap.ISO8859_1,
	"iso885915":   charmap.ISO8859_15,
	"latin9":      charmap.ISO8859_15,
	"iso88592":    charmap.ISO8859_2,
	"latin2":      charmap.ISO8859_2,
	"shiftjis":    japanese.ShiftJIS,
	"sjis":        japanese.ShiftJIS,
	"eucjp":       japanese.EUCJP,
	"iso2022jp":   japanese.ISO2022JP,
	"euckr":       korean.EUCKR,
	"gb2312":      simplifiedchinese.GBK,
	"gbk":         simplifiedchinese.GBK,
	"gb18030":     simplifiedchinese.GB18030,
	"big5":        traditionalchinese.Big5,
	"koi8r":       charmap.KOI8R,
	"koi8u":       charmap.KOI8U,
}

// EnsureUTF8 returns s unchanged when it is valid UTF-8. Otherwise it
// detects the charset, decodes, and as a last resort replaces invalid
// bytes with U+FFFD.
func EnsureUTF8(s string) string {
	if utf8.ValidString(s) {
		return s
	}
	data := []byte(s)

	threshold := 30
	if len(data) > 50 {
		threshold = 50
	}
	if res, err := chardet.NewTextDetector().DetectBest(data); err == nil && res.Confidence >= threshold {
		if out, ok := decode(EncodingByName(res.Charset), data); ok {
			return out
		}
	}

	for _, enc := range fallbackEncodings {
		if out, ok := decode(enc, data); ok {
			return out
		}
	}
	return SanitizeUTF8(s)
}

func decode(enc encoding.Encoding, data []byte) (string, bool) {
	if enc == nil {
		return "", false
	}
	out, err := enc.NewDecoder().Bytes(data)
	if err != nil || !utf8.Valid(out) {
		return "", false
	}
	return string(out), true
}

// SanitizeUTF8 replaces every invalid byte with U+FFFD.
func SanitizeUTF8(s string) string {
	return strings.ToValidUTF8(s, "�")
}

// EncodingByName looks up a decoder by IANA charset name. Unknown names return nil.
func EncodingByName(name string) encoding.Encoding {
	key := strings.NewReplacer("-", "", "_", "").Replace(strings.ToLower(strings.TrimSpace(name)))
	return charsets[key]
}

// CutRunes returns at most n runes of s without splitting a multi-byte character.
func CutRunes(s string, n int) string {
	if n <= 0 {
		return ""
	}
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	i := 0
	for pos := range s {
		if i == n {
			return s[:pos]
		}
		i++
	}
	return s
}

// TruncateRunes is CutRunes with a trailing "..." when s was shortened.
func TruncateRunes(s string, maxRunes int) string {
	if utf8.RuneCountInString(s) <= maxRunes {
		return s
	}
	if maxRunes <= 3 {
		return CutRunes(s, maxRunes)
	}
	return CutRunes(s, maxRunes-3) + "..."
}

// FirstLine returns the first non-empty-prefixed line of s, for compact error text.
func FirstLine(s string) string {
	s = strings.TrimLeft(s, "\r\n")
	if idx := strings.IndexAny(s, "\r\n"); idx >= 0 {
		return s[:idx]
	}
	return s
}
