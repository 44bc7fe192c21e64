package extract

import (
	"bytes"
	"io"
	"mime"
	"strings"
	"unicode/utf8"

	"github.com/emersion/go-message/charset"
	"golang.org/x/text/encoding/unicode"
)

// decodeText turns body bytes into valid UTF-8. It tries, in order, the
// declared charset, plain UTF-8 and finally a permissive UTF-8 decode
// that replaces undecodable bytes with U+FFFD. It never fails.
func decodeText(b []byte, declared string) string {
	declared = strings.ToLower(strings.TrimSpace(declared))

	if declared != "" && !isUTF8Label(declared) {
		if r, err := charset.Reader(declared, bytes.NewReader(b)); err == nil {
			if out, err := io.ReadAll(r); err == nil && utf8.Valid(out) {
				return string(out)
			}
		}
	}

	if utf8.Valid(b) {
		return string(b)
	}

	return permissiveUTF8(b)
}

// permissiveUTF8 decodes b as UTF-8, substituting U+FFFD for every
// invalid sequence.
func permissiveUTF8(b []byte) string {
	out, err := unicode.UTF8.NewDecoder().Bytes(b)
	if err != nil || !utf8.Valid(out) {
		return string(bytes.ToValidUTF8(b, []byte("\uFFFD")))
	}
	return string(out)
}

func isUTF8Label(label string) bool {
	switch label {
	case "utf-8", "utf8", "us-ascii", "ascii":
		return true
	}
	return false
}

// headerDecoder decodes RFC 2047 encoded words using the go-message
// charset registry.
var headerDecoder = &mime.WordDecoder{CharsetReader: charset.Reader}

// decodeHeader decodes encoded words in a raw header value. On failure it
// falls back to the raw value, made valid UTF-8.
func decodeHeader(raw string) string {
	decoded, err := headerDecoder.DecodeHeader(raw)
	if err != nil {
		decoded = raw
	}
	if !utf8.ValidString(decoded) {
		decoded = permissiveUTF8([]byte(decoded))
	}
	return strings.TrimSpace(decoded)
}
