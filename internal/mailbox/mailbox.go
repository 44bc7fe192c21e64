// Package mailbox lists and fetches raw messages from a single mailbox,
// either over IMAP or from a local mbox file.
package mailbox

import (
	"context"
	"fmt"
	"strings"

	"github.com/nhle/mailsum/internal/credential"
	"github.com/nhle/mailsum/internal/model"
)

// Credentials identify the mailbox account. Password is redacted in all
// formatted output.
type Credentials struct {
	// Addr is the host:port of the IMAP server.
	Addr     string
	Username string
	Password credential.Secret
}

// SelectorKind chooses between the unread and latest-N listing modes.
type SelectorKind int

const (
	SelectUnread SelectorKind = iota
	SelectLatest
)

// Selector describes which messages List returns.
type Selector struct {
	Kind SelectorKind

	// Count caps the number of identifiers returned. It is required for
	// SelectLatest; for SelectUnread zero means no cap.
	Count int
}

// Unread selects unseen messages, keeping at most the n newest when n > 0.
func Unread(n int) Selector {
	return Selector{Kind: SelectUnread, Count: n}
}

// Latest selects the n most recent messages, newest first.
func Latest(n int) Selector {
	return Selector{Kind: SelectLatest, Count: n}
}

// ParseSelector builds a Selector from a mode name and count.
func ParseSelector(mode string, count int) (Selector, error) {
	var sel Selector
	switch strings.ToLower(strings.TrimSpace(mode)) {
	case "unread", "unseen", "":
		sel = Unread(count)
	case "latest", "all":
		sel = Latest(count)
	default:
		return Selector{}, fmt.Errorf("unknown selector mode %q", mode)
	}
	return sel, sel.Validate()
}

// Validate checks that the selector is usable.
func (s Selector) Validate() error {
	switch s.Kind {
	case SelectUnread:
		if s.Count < 0 {
			return fmt.Errorf("unread count must not be negative, got %d", s.Count)
		}
	case SelectLatest:
		if s.Count <= 0 {
			return fmt.Errorf("latest count must be positive, got %d", s.Count)
		}
	default:
		return fmt.Errorf("unknown selector kind %d", s.Kind)
	}
	return nil
}

func (s Selector) String() string {
	switch s.Kind {
	case SelectLatest:
		return fmt.Sprintf("latest %d", s.Count)
	default:
		if s.Count > 0 {
			return fmt.Sprintf("unread (max %d)", s.Count)
		}
		return "unread"
	}
}

// Session is an open, authenticated mailbox. All message operations
// require a live session; Close releases it and is safe to call more
// than once. A Session must not be used concurrently.
type Session interface {
	// List returns message identifiers matching sel. For SelectLatest
	// the result is newest first; for SelectUnread it keeps the server
	// order. Identifiers are never repeated.
	List(ctx context.Context, sel Selector) ([]model.MessageID, error)

	// FetchRaw returns the full raw message. Failures are reported as
	// *FetchError and do not invalidate the session.
	FetchRaw(ctx context.Context, id model.MessageID) (*model.RawMessage, error)

	// MarkRead sets the \Seen flag on a message.
	MarkRead(ctx context.Context, id model.MessageID) error

	Close() error
}

// Dialer opens sessions.
type Dialer interface {
	// Connect authenticates against the mailbox. A rejected login is
	// reported as *AuthError and is never retried automatically.
	Connect(ctx context.Context, creds Credentials) (Session, error)
}

// selectIDs applies sel to ids, which must be in ascending (arrival)
// order as returned by the server. Duplicates are dropped.
func selectIDs(ids []model.MessageID, sel Selector) []model.MessageID {
	seen := make(map[model.MessageID]bool, len(ids))
	unique := make([]model.MessageID, 0, len(ids))
	for _, id := range ids {
		if seen[id] {
			continue
		}
		seen[id] = true
		unique = append(unique, id)
	}

	if sel.Count > 0 && len(unique) > sel.Count {
		unique = unique[len(unique)-sel.Count:]
	}

	if sel.Kind == SelectLatest {
		for i, j := 0, len(unique)-1; i < j; i, j = i+1, j-1 {
			unique[i], unique[j] = unique[j], unique[i]
		}
	}

	return unique
}
