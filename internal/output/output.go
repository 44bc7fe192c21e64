// Package output renders run outcomes to the terminal and to the
// optional summaries file.
package output

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/nhle/mailsum/internal/model"
	"github.com/nhle/mailsum/internal/pipeline"
	"github.com/nhle/mailsum/internal/theme"
)

// Separator ends every entry.
var Separator = strings.Repeat("-", 40)

// FormatEntry renders a summarized outcome as plain text:
//
//	From: ...
//	Subject: ...
//	Summary: ...
//	----------------------------------------
func FormatEntry(o model.Outcome) string {
	var sb strings.Builder
	sb.WriteString("From: " + o.From + "\n")
	sb.WriteString("Subject: " + o.Subject + "\n")
	if o.Summary != nil {
		sb.WriteString("Summary: " + o.Summary.Text + "\n")
	}
	sb.WriteString(Separator + "\n")
	return sb.String()
}

// Printer writes outcomes as they arrive.
type Printer struct {
	w      io.Writer
	styled bool
}

// NewPrinter returns a Printer. styled enables colors and borders and
// should only be set for terminals.
func NewPrinter(w io.Writer, styled bool) *Printer {
	return &Printer{w: w, styled: styled}
}

// Outcome prints one outcome. Summaries are printed in full; skipped
// and failed messages get a one-line note.
func (p *Printer) Outcome(o model.Outcome) {
	if !p.styled {
		p.plainOutcome(o)
		return
	}

	switch o.Status {
	case model.StatusSummarized:
		fmt.Fprintln(p.w, theme.LabelStyle.Render("From:")+" "+o.From)
		fmt.Fprintln(p.w, theme.LabelStyle.Render("Subject:")+" "+o.Subject)
		fmt.Fprintln(p.w, theme.SummaryStyle.Render(o.Summary.Text))
	default:
		fmt.Fprintln(p.w, theme.StatusStyle(o.Status).Render(string(o.Status))+
			" "+describe(o))
	}
	fmt.Fprintln(p.w, theme.SubtleStyle.Render(Separator))
}

func (p *Printer) plainOutcome(o model.Outcome) {
	if o.Status == model.StatusSummarized {
		fmt.Fprint(p.w, FormatEntry(o))
		return
	}
	fmt.Fprintf(p.w, "[%s] %s\n%s\n", o.Status, describe(o), Separator)
}

// Report prints the closing tally of a run.
func (p *Printer) Report(r *pipeline.Report) {
	if r.Listed == 0 {
		fmt.Fprintln(p.w, "No messages to summarize.")
		return
	}

	line := fmt.Sprintf("%d summarized, %d skipped, %d failed of %d listed",
		r.Count(model.StatusSummarized),
		r.Count(model.StatusSkipped),
		r.Count(model.StatusFailed),
		r.Listed)
	if r.Interrupted {
		line += " (interrupted)"
	}

	if p.styled {
		fmt.Fprintln(p.w, theme.HeaderStyle.Render(line))
		return
	}
	fmt.Fprintln(p.w, line)
}

func describe(o model.Outcome) string {
	parts := []string{"message " + o.MessageID.String()}
	if o.Subject != "" {
		parts = append(parts, fmt.Sprintf("%q", o.Subject))
	}
	if o.Reason != "" {
		parts = append(parts, o.Reason)
	}
	if o.Err != nil {
		parts = append(parts, o.Err.Error())
	}
	return strings.Join(parts, ": ")
}

// FileSink appends summarized entries to a file.
type FileSink struct {
	path string
	file *os.File
}

// OpenFile opens path for appending, creating it and its directory if
// needed.
func OpenFile(path string) (*FileSink, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("creating output directory: %w", err)
		}
	}
	file, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("opening output file: %w", err)
	}
	return &FileSink{path: path, file: file}, nil
}

// Write appends o when it carries a summary; other outcomes are ignored.
func (s *FileSink) Write(o model.Outcome) error {
	if o.Status != model.StatusSummarized || o.Summary == nil {
		return nil
	}
	if _, err := io.WriteString(s.file, FormatEntry(o)); err != nil {
		return fmt.Errorf("writing to %s: %w", s.path, err)
	}
	return nil
}

func (s *FileSink) Close() error {
	return s.file.Close()
}
