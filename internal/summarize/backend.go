// Package summarize turns message bodies into short summaries using
// either a locally hosted model or a remote LLM API.
package summarize

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"unicode"

	"github.com/charmbracelet/log"

	"github.com/nhle/mailsum/internal/credential"
	"github.com/nhle/mailsum/internal/logging"
	"github.com/nhle/mailsum/internal/model"
)

// Backend produces a summary of at most maxLen characters for a text.
// Implementations are used from one goroutine at a time.
type Backend interface {
	Kind() model.BackendKind
	Summarize(ctx context.Context, text string, maxLen int) (string, error)
	Close() error
}

// Class says whether a failed call is worth repeating.
type Class int

const (
	// Transient failures may succeed if the same call is made again.
	Transient Class = iota + 1
	// Permanent failures will fail again for the same input.
	Permanent
)

func (c Class) String() string {
	switch c {
	case Transient:
		return "transient"
	case Permanent:
		return "permanent"
	default:
		return "unknown"
	}
}

// Error is returned by every Backend. Config marks permanent failures
// caused by setup (bad credentials, missing model, exhausted quota)
// that will affect every remaining message.
type Error struct {
	Backend    model.BackendKind
	Class      Class
	Config     bool
	StatusCode int
	Err        error
}

func (e *Error) Error() string {
	var sb strings.Builder
	sb.WriteString(string(e.Backend))
	sb.WriteString(" backend: ")
	sb.WriteString(e.Class.String())
	if e.Config {
		sb.WriteString(" configuration")
	}
	sb.WriteString(" error")
	if e.StatusCode != 0 {
		fmt.Fprintf(&sb, " (HTTP %d)", e.StatusCode)
	}
	if e.Err != nil {
		sb.WriteString(": ")
		sb.WriteString(e.Err.Error())
	}
	return sb.String()
}

func (e *Error) Unwrap() error {
	return e.Err
}

// IsTransient reports whether err is a Transient backend error.
func IsTransient(err error) bool {
	var be *Error
	return errors.As(err, &be) && be.Class == Transient
}

// IsPermanent reports whether err is a Permanent backend error.
func IsPermanent(err error) bool {
	var be *Error
	return errors.As(err, &be) && be.Class == Permanent
}

// IsConfig reports whether err is a configuration-class backend error.
func IsConfig(err error) bool {
	var be *Error
	return errors.As(err, &be) && be.Class == Permanent && be.Config
}

// ErrEmptySummary means the backend answered without any text.
var ErrEmptySummary = errors.New("backend returned an empty summary")

// TruncateInput cuts text to at most maxChars runes. Non-positive
// limits leave the text unchanged.
func TruncateInput(text string, maxChars int) string {
	if maxChars <= 0 {
		return text
	}
	n := 0
	for i := range text {
		if n == maxChars {
			return text[:i]
		}
		n++
	}
	return text
}

// ClampSummary trims s and shortens it to at most maxLen runes,
// preferring to cut at the last word boundary that fits.
func ClampSummary(s string, maxLen int) string {
	s = strings.TrimSpace(s)
	if maxLen <= 0 {
		return s
	}

	runes := []rune(s)
	if len(runes) <= maxLen {
		return s
	}

	cut := runes[:maxLen]
	// A word boundary right after the cut keeps the last word whole.
	if !unicode.IsSpace(runes[maxLen]) {
		for i := len(cut) - 1; i > 0; i-- {
			if unicode.IsSpace(cut[i]) {
				cut = cut[:i]
				break
			}
		}
	}

	return strings.TrimRightFunc(string(cut), unicode.IsSpace)
}

// New builds the backend selected by cfg. The API key is only needed
// for the remote backend.
func New(
	cfg model.SummarizerConfig,
	apiKey credential.Secret,
	logger *log.Logger,
) (Backend, error) {
	if logger == nil {
		logger = logging.Discard()
	}

	kind, err := cfg.Kind()
	if err != nil {
		return nil, err
	}

	switch kind {
	case model.BackendLocal:
		return NewLocal(LocalOptions{
			Endpoint:       cfg.Local.Endpoint,
			Model:          cfg.Local.Model,
			MaxInputTokens: cfg.Local.MaxInputTokens,
			KeepAlive:      cfg.Local.KeepAlive,
			Timeout:        cfg.Timeout,
			Logger:         logger,
		}), nil
	case model.BackendRemote:
		if apiKey.Empty() {
			return nil, &Error{
				Backend: model.BackendRemote,
				Class:   Permanent,
				Config:  true,
				Err: errors.New(
					"no API key: set ANTHROPIC_API_KEY or run 'mailsum key set'",
				),
			}
		}
		return NewRemote(RemoteOptions{
			Endpoint:          cfg.Remote.Endpoint,
			Model:             cfg.Remote.Model,
			MaxTokens:         cfg.Remote.MaxTokens,
			RequestsPerMinute: cfg.Remote.RequestsPerMinute,
			APIKey:            apiKey,
			Timeout:           cfg.Timeout,
			Logger:            logger,
		}), nil
	default:
		return nil, fmt.Errorf("unsupported backend %q", kind)
	}
}

// instruction is the prompt both backends send ahead of the message.
func instruction(maxLen int) string {
	return fmt.Sprintf(
		"Summarize the following email in at most %d characters. "+
			"Reply with the summary only, in plain text.", maxLen,
	)
}
