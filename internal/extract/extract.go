// Package extract derives sender, subject and a plain-text body from raw
// RFC 5322 messages.
package extract

import (
	"bufio"
	"bytes"
	"errors"
	"io"
	"strings"

	"github.com/emersion/go-message"
	"github.com/emersion/go-message/mail"
	"github.com/emersion/go-message/textproto"

	"github.com/nhle/mailsum/internal/model"
)

// DefaultMaxBodyChars bounds the extracted body length in runes.
const DefaultMaxBodyChars = 64 * 1024

// Extractor parses raw messages. The zero value uses DefaultMaxBodyChars.
type Extractor struct {
	MaxBodyChars int
}

// Extract parses raw with the default limits.
func Extract(raw *model.RawMessage) model.ExtractedMessage {
	return Extractor{}.Extract(raw)
}

// Extract parses raw into its readable fields. It never fails: missing
// headers become placeholders and undecodable content is replaced
// rather than rejected. The result depends only on raw.Data.
func (e Extractor) Extract(raw *model.RawMessage) model.ExtractedMessage {
	var data []byte
	if raw != nil {
		data = raw.Data
	}

	var out model.ExtractedMessage
	mr, err := mail.CreateReader(bytes.NewReader(data))
	if mr == nil {
		out = extractUnstructured(data)
	} else {
		if err != nil && !message.IsUnknownCharset(err) {
			out = extractUnstructured(data)
		} else {
			out = extractMIME(mr)
			_ = mr.Close()
		}
	}

	if out.From == "" {
		out.From = model.UnknownSender
	}
	if out.Subject == "" {
		out.Subject = model.NoSubject
	}
	out.Body = truncateRunes(out.Body, e.maxBody())

	return out
}

func (e Extractor) maxBody() int {
	if e.MaxBodyChars > 0 {
		return e.MaxBodyChars
	}
	return DefaultMaxBodyChars
}

// extractMIME walks every part of a parsed message. The first non-empty
// inline text/plain part wins; otherwise the first text/html part is
// converted to text.
func extractMIME(mr *mail.Reader) model.ExtractedMessage {
	out := model.ExtractedMessage{
		From:    formatSender(mr.Header),
		Subject: formatSubject(mr.Header),
	}

	var plain, htmlBody string
	var havePlain, haveHTML bool

	for {
		part, err := mr.NextPart()
		if errors.Is(err, io.EOF) {
			break
		}
		// A part with an unknown transfer encoding is unreadable, but the
		// reader has already moved past it.
		if message.IsUnknownEncoding(err) {
			continue
		}
		// Unknown charsets still yield a usable, undecoded part.
		if err != nil && (part == nil || !message.IsUnknownCharset(err)) {
			break
		}

		h, ok := part.Header.(*mail.InlineHeader)
		if !ok {
			continue
		}

		contentType, params, ctErr := h.ContentType()
		if ctErr != nil || contentType == "" {
			contentType = "text/plain"
		}
		contentType = strings.ToLower(contentType)
		if !strings.HasPrefix(contentType, "text/plain") &&
			!strings.HasPrefix(contentType, "text/html") {
			continue
		}

		body, readErr := io.ReadAll(part.Body)
		if readErr != nil && len(body) == 0 {
			continue
		}

		// go-message already converted parts whose charset it knows;
		// decodeText handles the rest.
		declared := params["charset"]
		if err == nil {
			declared = ""
		}
		text := decodeText(body, declared)

		switch {
		case strings.HasPrefix(contentType, "text/plain"):
			if !havePlain && strings.TrimSpace(text) != "" {
				plain = text
				havePlain = true
			}
		case strings.HasPrefix(contentType, "text/html"):
			if !haveHTML {
				htmlBody = text
				haveHTML = true
			}
		}
	}

	switch {
	case havePlain:
		out.Body = normalizeText(plain)
	case haveHTML:
		out.Body = htmlToText(htmlBody)
		out.FromHTML = true
	}

	return out
}

// extractUnstructured handles input go-message cannot parse at all. It
// salvages whatever headers it can and treats everything after the
// header block as plain text.
func extractUnstructured(data []byte) model.ExtractedMessage {
	var out model.ExtractedMessage

	br := bufio.NewReader(bytes.NewReader(data))
	if hdr, err := textproto.ReadHeader(br); err == nil {
		out.From = decodeHeader(hdr.Get("From"))
		out.Subject = decodeHeader(hdr.Get("Subject"))
		rest, _ := io.ReadAll(br)
		out.Body = normalizeText(decodeText(rest, ""))
		return out
	}

	body := data
	if idx := bytes.Index(data, []byte("\r\n\r\n")); idx >= 0 {
		body = data[idx+4:]
	} else if idx := bytes.Index(data, []byte("\n\n")); idx >= 0 {
		body = data[idx+2:]
	}
	out.Body = normalizeText(decodeText(body, ""))
	return out
}

// formatSender renders the first From address as "Name <addr>", falling
// back to the decoded raw header.
func formatSender(h mail.Header) string {
	if addrs, err := h.AddressList("From"); err == nil && len(addrs) > 0 {
		a := addrs[0]
		name := decodeHeader(a.Name)
		switch {
		case name != "" && a.Address != "":
			return name + " <" + a.Address + ">"
		case a.Address != "":
			return a.Address
		case name != "":
			return name
		}
	}
	return decodeHeader(h.Get("From"))
}

func formatSubject(h mail.Header) string {
	if subject, err := h.Subject(); err == nil && strings.TrimSpace(subject) != "" {
		return decodeHeader(subject)
	}
	return decodeHeader(h.Get("Subject"))
}

// normalizeText converts line endings and trims surrounding whitespace.
func normalizeText(s string) string {
	s = strings.ReplaceAll(s, "\r\n", "\n")
	s = strings.ReplaceAll(s, "\r", "\n")
	return strings.TrimSpace(s)
}

func truncateRunes(s string, max int) string {
	if max <= 0 {
		return s
	}
	n := 0
	for i := range s {
		if n == max {
			return s[:i]
		}
		n++
	}
	return s
}
