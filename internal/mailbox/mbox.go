package mailbox

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/charmbracelet/log"
	mboxlib "github.com/emersion/go-mbox"

	"github.com/nhle/mailsum/internal/logging"
	"github.com/nhle/mailsum/internal/model"
)

// MboxSession serves messages from a local mbox file. The file is read
// once when the session opens; read flags live in memory only and the
// file is never rewritten. Message IDs are 1-based positions in the
// file, so the last message is the newest.
type MboxSession struct {
	path     string
	messages [][]byte
	seen     map[model.MessageID]bool
	logger   *log.Logger
	closed   bool
}

// OpenMbox reads the mbox file at path.
func OpenMbox(path string, logger *log.Logger) (*MboxSession, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil, fmt.Errorf("mbox path is empty")
	}

	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening mbox: %w", err)
	}
	defer file.Close()

	sess, err := ReadMbox(file, logger)
	if err != nil {
		return nil, fmt.Errorf("reading mbox %s: %w", path, err)
	}
	sess.path = path
	return sess, nil
}

// ReadMbox builds a session from an mbox stream.
func ReadMbox(r io.Reader, logger *log.Logger) (*MboxSession, error) {
	if logger == nil {
		logger = logging.Discard()
	}

	reader := mboxlib.NewReader(r)
	var messages [][]byte
	for {
		msgReader, err := reader.NextMessage()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("next message: %w", err)
		}

		data, err := io.ReadAll(msgReader)
		if err != nil {
			return nil, fmt.Errorf("reading message %d: %w", len(messages)+1, err)
		}
		messages = append(messages, data)
	}

	logger.Info("mbox opened", "messages", len(messages))

	return &MboxSession{
		messages: messages,
		seen:     make(map[model.MessageID]bool),
		logger:   logger,
	}, nil
}

// List returns message positions. Every message counts as unread until
// MarkRead is called for it in this session.
func (s *MboxSession) List(
	ctx context.Context, sel Selector,
) ([]model.MessageID, error) {
	if s.closed {
		return nil, ErrClosed
	}
	if err := sel.Validate(); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	ids := make([]model.MessageID, 0, len(s.messages))
	for i := range s.messages {
		id := model.MessageID(i + 1)
		if sel.Kind == SelectUnread && s.seen[id] {
			continue
		}
		ids = append(ids, id)
	}

	return selectIDs(ids, sel), nil
}

func (s *MboxSession) FetchRaw(
	ctx context.Context, id model.MessageID,
) (*model.RawMessage, error) {
	if s.closed {
		return nil, ErrClosed
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if id == 0 || int(id) > len(s.messages) {
		return nil, &FetchError{
			ID:  id,
			Err: fmt.Errorf("no message at position %d of %d", id, len(s.messages)),
		}
	}

	src := s.messages[id-1]
	data := make([]byte, len(src))
	copy(data, src)
	return &model.RawMessage{ID: id, Data: data}, nil
}

func (s *MboxSession) MarkRead(_ context.Context, id model.MessageID) error {
	if s.closed {
		return ErrClosed
	}
	if id == 0 || int(id) > len(s.messages) {
		return fmt.Errorf("marking message %s read: no such message", id)
	}
	s.seen[id] = true
	return nil
}

func (s *MboxSession) Close() error {
	if !s.closed {
		s.closed = true
		s.logger.Debug("mbox closed", "path", s.path)
	}
	return nil
}

// Len returns the number of messages in the file.
func (s *MboxSession) Len() int {
	return len(s.messages)
}
