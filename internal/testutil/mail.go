// Package testutil holds fixtures shared by package tests.
package testutil

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	mboxlib "github.com/emersion/go-mbox"
)

// Message builds a single-part RFC 5322 message with CRLF line endings.
// An empty from or subject omits that header.
func Message(from, subject, contentType, body string) string {
	var sb strings.Builder
	if from != "" {
		sb.WriteString("From: " + from + "\r\n")
	}
	if subject != "" {
		sb.WriteString("Subject: " + subject + "\r\n")
	}
	sb.WriteString("Date: Mon, 02 Jan 2006 15:04:05 +0000\r\n")
	sb.WriteString("MIME-Version: 1.0\r\n")
	if contentType != "" {
		sb.WriteString("Content-Type: " + contentType + "\r\n")
	}
	sb.WriteString("\r\n")
	sb.WriteString(strings.ReplaceAll(body, "\n", "\r\n"))
	return sb.String()
}

// PlainMessage builds a text/plain UTF-8 message.
func PlainMessage(from, subject, body string) string {
	return Message(from, subject, "text/plain; charset=utf-8", body)
}

// Multipart builds a multipart/alternative message from pre-rendered
// parts. Each part is "Content-Type: ...\r\n\r\nbody".
func Multipart(from, subject string, parts ...string) string {
	const boundary = "mailsum-boundary"

	var body strings.Builder
	for _, p := range parts {
		body.WriteString("--" + boundary + "\r\n")
		body.WriteString(p)
		body.WriteString("\r\n")
	}
	body.WriteString("--" + boundary + "--\r\n")

	return Message(from, subject,
		`multipart/alternative; boundary="`+boundary+`"`, body.String())
}

// Part renders one MIME part for Multipart.
func Part(contentType, body string) string {
	return "Content-Type: " + contentType + "\r\n\r\n" + body
}

// MboxBytes encodes messages as an mbox stream, oldest first.
func MboxBytes(t *testing.T, messages ...string) []byte {
	t.Helper()

	var buf bytes.Buffer
	w := mboxlib.NewWriter(&buf)
	date := time.Date(2024, 1, 1, 9, 0, 0, 0, time.UTC)
	for i, msg := range messages {
		mw, err := w.CreateMessage("sender@example.com", date.Add(time.Duration(i)*time.Minute))
		if err != nil {
			t.Fatalf("creating mbox message %d: %v", i, err)
		}
		if _, err := mw.Write([]byte(msg)); err != nil {
			t.Fatalf("writing mbox message %d: %v", i, err)
		}
	}
	if err := w.Close(); err != nil {
		t.Fatalf("closing mbox writer: %v", err)
	}

	return buf.Bytes()
}

// WriteMbox writes messages to an mbox file in a temporary directory
// and returns its path.
func WriteMbox(t *testing.T, messages ...string) string {
	t.Helper()

	path := filepath.Join(t.TempDir(), "inbox.mbox")
	if err := os.WriteFile(path, MboxBytes(t, messages...), 0o600); err != nil {
		t.Fatalf("writing mbox: %v", err)
	}
	return path
}
