// Package pipeline drives one summarization run: list the selected
// messages, then fetch, extract and summarize each one in order.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/log"

	"github.com/nhle/mailsum/internal/extract"
	"github.com/nhle/mailsum/internal/logging"
	"github.com/nhle/mailsum/internal/mailbox"
	"github.com/nhle/mailsum/internal/model"
	"github.com/nhle/mailsum/internal/summarize"
)

// fetchTimeout is the maximum time allowed for fetching one message.
const fetchTimeout = 30 * time.Second

// maxAttempts bounds backend calls per message: the first try plus one
// retry after a transient failure.
const maxAttempts = 2

// Options tune a run. Zero values fall back to the model defaults.
type Options struct {
	Selector        mailbox.Selector
	MaxInputChars   int
	MaxSummaryChars int
	RetryDelay      time.Duration

	// MarkRead sets \Seen on each summarized message. A failure to mark
	// is logged and does not change the outcome.
	MarkRead bool

	Extractor extract.Extractor
	Logger    *log.Logger

	// OnOutcome, if set, is called after each message reaches a
	// terminal state, in listing order.
	OnOutcome func(model.Outcome)
}

// Report is the result of a run. Outcomes are in listing order.
type Report struct {
	Selector mailbox.Selector
	Listed   int
	Outcomes []model.Outcome

	// Interrupted is set when the context was cancelled before every
	// listed message was processed.
	Interrupted bool
}

// Count returns the number of outcomes with the given status.
func (r *Report) Count(status model.OutcomeStatus) int {
	n := 0
	for _, o := range r.Outcomes {
		if o.Status == status {
			n++
		}
	}
	return n
}

// Summaries returns the produced summaries in listing order.
func (r *Report) Summaries() []model.Summary {
	var out []model.Summary
	for _, o := range r.Outcomes {
		if o.Summary != nil {
			out = append(out, *o.Summary)
		}
	}
	return out
}

// ConfigError aborts a run: the backend reported a setup problem that
// would fail every remaining message.
type ConfigError struct {
	MessageID model.MessageID
	Err       error
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("summarizer configuration error (message %s): %v", e.MessageID, e.Err)
}

func (e *ConfigError) Unwrap() error {
	return e.Err
}

// IsConfigError reports whether err aborted a run for configuration
// reasons.
func IsConfigError(err error) bool {
	var ce *ConfigError
	return errors.As(err, &ce)
}

// SessionError aborts a run: the mailbox session failed in a way that
// is not specific to one message, such as a dropped connection.
type SessionError struct {
	MessageID model.MessageID
	Err       error
}

func (e *SessionError) Error() string {
	return fmt.Sprintf("mailbox session lost (message %s): %v", e.MessageID, e.Err)
}

func (e *SessionError) Unwrap() error {
	return e.Err
}

// IsSessionError reports whether err aborted a run because the mailbox
// session failed.
func IsSessionError(err error) bool {
	var se *SessionError
	return errors.As(err, &se)
}

// Pipeline processes the messages of one session with one backend.
type Pipeline struct {
	session mailbox.Session
	backend summarize.Backend
	opts    Options
	logger  *log.Logger

	// wait pauses between attempts; tests replace it.
	wait func(ctx context.Context, d time.Duration) error
}

// New creates a Pipeline.
func New(sess mailbox.Session, backend summarize.Backend, opts Options) *Pipeline {
	if opts.MaxInputChars <= 0 {
		opts.MaxInputChars = model.DefaultMaxInputChars
	}
	if opts.MaxSummaryChars <= 0 {
		opts.MaxSummaryChars = model.DefaultMaxSummaryChars
	}
	if opts.RetryDelay < 0 {
		opts.RetryDelay = 0
	}
	logger := opts.Logger
	if logger == nil {
		logger = logging.Discard()
	}

	return &Pipeline{
		session: sess,
		backend: backend,
		opts:    opts,
		logger:  logger,
		wait:    sleep,
	}
}

// Run processes a whole batch with default construction.
func Run(
	ctx context.Context,
	sess mailbox.Session,
	backend summarize.Backend,
	opts Options,
) (*Report, error) {
	return New(sess, backend, opts).Run(ctx)
}

// Run lists the selected messages and processes them one at a time. A
// listing failure returns an error and no outcomes. A configuration
// error from the backend stops the run and returns the outcomes so far
// together with a *ConfigError. Cancelling ctx stops the run between
// messages; the report then has Interrupted set and a nil error. A
// session failure while fetching stops the run the same way with a
// *SessionError.
func (p *Pipeline) Run(ctx context.Context) (*Report, error) {
	report := &Report{Selector: p.opts.Selector}

	ids, err := p.session.List(ctx, p.opts.Selector)
	if err != nil {
		return report, fmt.Errorf("listing messages: %w", err)
	}
	report.Listed = len(ids)

	if len(ids) == 0 {
		p.logger.Info("no messages to summarize", "selector", p.opts.Selector.String())
		return report, nil
	}

	p.logger.Info("summarizing messages",
		"count", len(ids), "selector", p.opts.Selector.String(),
		"backend", p.backend.Kind())

	for _, id := range ids {
		if ctx.Err() != nil {
			report.Interrupted = true
			p.logger.Warn("run interrupted",
				"processed", len(report.Outcomes), "listed", len(ids))
			break
		}

		outcome, runErr := p.process(ctx, id)
		report.Outcomes = append(report.Outcomes, outcome)
		if p.opts.OnOutcome != nil {
			p.opts.OnOutcome(outcome)
		}

		if runErr != nil {
			return report, runErr
		}
		if ctx.Err() != nil && outcome.Status == model.StatusFailed {
			report.Interrupted = true
			break
		}
	}

	p.logger.Info("run finished",
		"summarized", report.Count(model.StatusSummarized),
		"failed", report.Count(model.StatusFailed),
		"skipped", report.Count(model.StatusSkipped))

	return report, nil
}

// process takes one message to a terminal state. The returned error is
// non-nil only when the whole run must stop.
func (p *Pipeline) process(
	ctx context.Context, id model.MessageID,
) (model.Outcome, error) {
	outcome := model.Outcome{MessageID: id}
	logger := p.logger.With("message", id)

	fetchCtx, cancel := context.WithTimeout(ctx, fetchTimeout)
	raw, err := p.session.FetchRaw(fetchCtx, id)
	cancel()
	if err != nil {
		outcome.Reason = "fetch failed"
		outcome.Err = err
		switch {
		case mailbox.IsFetchError(err):
			outcome.Status = model.StatusSkipped
			logger.Warn("fetch failed", "err", err)
			return outcome, nil
		case ctx.Err() != nil:
			outcome.Status = model.StatusFailed
			return outcome, nil
		}
		outcome.Status = model.StatusFailed
		outcome.Reason = "mailbox session lost"
		logger.Error("mailbox session failed, stopping run", "err", err)
		return outcome, &SessionError{MessageID: id, Err: err}
	}

	msg := p.opts.Extractor.Extract(raw)
	outcome.From = msg.From
	outcome.Subject = msg.Subject

	if strings.TrimSpace(msg.Body) == "" {
		outcome.Status = model.StatusSkipped
		outcome.Reason = "no body"
		logger.Info("skipping message without text body", "subject", msg.Subject)
		return outcome, nil
	}

	input := summarize.TruncateInput(msg.Body, p.opts.MaxInputChars)

	text, attempts, err := p.summarize(ctx, logger, input)
	outcome.Attempts = attempts
	if err != nil {
		outcome.Status = model.StatusFailed
		outcome.Err = err
		outcome.Reason = failureReason(err)

		if summarize.IsConfig(err) {
			logger.Error("backend configuration error, stopping run", "err", err)
			return outcome, &ConfigError{MessageID: id, Err: err}
		}
		logger.Warn("summarization failed", "attempts", attempts, "err", err)
		return outcome, nil
	}

	outcome.Status = model.StatusSummarized
	outcome.Summary = &model.Summary{
		MessageID: id,
		Text:      text,
		Backend:   p.backend.Kind(),
	}
	logger.Debug("message summarized", "attempts", attempts, "chars", len([]rune(text)))

	if p.opts.MarkRead {
		if err := p.session.MarkRead(ctx, id); err != nil {
			logger.Warn("could not mark message read", "err", err)
		}
	}

	return outcome, nil
}

// summarize calls the backend, retrying exactly once after RetryDelay
// when the first failure is transient.
func (p *Pipeline) summarize(
	ctx context.Context, logger *log.Logger, input string,
) (string, int, error) {
	var lastErr error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		if attempt > 1 {
			logger.Info("retrying after transient error",
				"delay", p.opts.RetryDelay, "err", lastErr)
			if err := p.wait(ctx, p.opts.RetryDelay); err != nil {
				return "", attempt - 1, lastErr
			}
		}

		text, err := p.backend.Summarize(ctx, input, p.opts.MaxSummaryChars)
		if err == nil {
			return text, attempt, nil
		}
		lastErr = err

		if !summarize.IsTransient(err) || ctx.Err() != nil {
			return "", attempt, err
		}
	}
	return "", maxAttempts, lastErr
}

func failureReason(err error) string {
	switch {
	case summarize.IsConfig(err):
		return "backend misconfigured"
	case summarize.IsTransient(err):
		return "backend unavailable"
	case summarize.IsPermanent(err):
		return "input rejected"
	default:
		return "summarization failed"
	}
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
