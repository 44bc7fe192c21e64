package model

import "strconv"

// MessageID identifies a message within the selected mailbox. For IMAP
// sessions it is the message UID; for mbox files it is the 1-based
// position of the message in the file.
type MessageID uint32

// String returns the decimal form of the identifier.
func (id MessageID) String() string {
	return strconv.FormatUint(uint64(id), 10)
}

// RawMessage is the unparsed RFC 5322 form of a message as returned by
// the mailbox. It is never modified after it has been fetched.
type RawMessage struct {
	ID   MessageID
	Data []byte
}

// Placeholders used when a message lacks a sender or subject.
const (
	UnknownSender = "(unknown sender)"
	NoSubject     = "(no subject)"
)

// ExtractedMessage holds the decoded, human-readable fields of a message.
// From and Subject are never empty; Body may be empty when the message
// carries no textual part.
type ExtractedMessage struct {
	From    string
	Subject string
	Body    string

	// FromHTML is set when Body was derived from an HTML part because no
	// plain-text part was present.
	FromHTML bool
}

// Summary is a successfully produced summary for one message.
type Summary struct {
	MessageID MessageID
	Text      string
	Backend   BackendKind
}

// OutcomeStatus is the terminal state of one message in a run.
type OutcomeStatus string

const (
	StatusSummarized OutcomeStatus = "summarized"
	StatusFailed     OutcomeStatus = "failed"
	StatusSkipped    OutcomeStatus = "skipped"
)

// Outcome records what happened to a single listed message.
type Outcome struct {
	MessageID MessageID
	Status    OutcomeStatus

	// From and Subject are filled once the message has been extracted.
	// They stay empty for messages skipped at fetch time.
	From    string
	Subject string

	// Summary is non-nil only when Status is StatusSummarized.
	Summary *Summary

	// Reason is a short human-readable explanation for skipped and
	// failed messages.
	Reason string

	// Err is the underlying error for failed or skipped messages.
	Err error

	// Attempts is the number of backend calls made for this message.
	Attempts int
}
