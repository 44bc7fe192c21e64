package output

import (
	"bytes"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nhle/mailsum/internal/model"
	"github.com/nhle/mailsum/internal/pipeline"
)

func summarized(id model.MessageID, text string) model.Outcome {
	return model.Outcome{
		MessageID: id,
		Status:    model.StatusSummarized,
		From:      "Alice <alice@example.com>",
		Subject:   "Lunch",
		Summary:   &model.Summary{MessageID: id, Text: text, Backend: model.BackendLocal},
		Attempts:  1,
	}
}

func TestFormatEntry(t *testing.T) {
	got := FormatEntry(summarized(1, "Lunch at noon."))

	want := "From: Alice <alice@example.com>\n" +
		"Subject: Lunch\n" +
		"Summary: Lunch at noon.\n" +
		strings.Repeat("-", 40) + "\n"
	assert.Equal(t, want, got)
}

func TestPlainPrinter(t *testing.T) {
	var buf bytes.Buffer
	p := NewPrinter(&buf, false)

	p.Outcome(summarized(1, "Lunch at noon."))
	p.Outcome(model.Outcome{
		MessageID: 2,
		Status:    model.StatusSkipped,
		Reason:    "fetch failed",
		Err:       errors.New("connection reset"),
	})

	out := buf.String()
	assert.Contains(t, out, "Summary: Lunch at noon.")
	assert.Contains(t, out, "[skipped] message 2: fetch failed: connection reset")
}

func TestPrinterReport(t *testing.T) {
	var buf bytes.Buffer
	p := NewPrinter(&buf, false)

	p.Report(&pipeline.Report{})
	assert.Equal(t, "No messages to summarize.\n", buf.String())

	buf.Reset()
	p.Report(&pipeline.Report{
		Listed:      3,
		Interrupted: true,
		Outcomes: []model.Outcome{
			summarized(1, "a"),
			{MessageID: 2, Status: model.StatusFailed},
		},
	})
	assert.Equal(t, "1 summarized, 0 skipped, 1 failed of 3 listed (interrupted)\n", buf.String())
}

func TestStyledPrinterKeepsContent(t *testing.T) {
	var buf bytes.Buffer
	p := NewPrinter(&buf, true)

	p.Outcome(summarized(1, "Lunch at noon."))

	assert.Contains(t, buf.String(), "Lunch at noon.")
	assert.Contains(t, buf.String(), "alice@example.com")
}

func TestFileSinkAppends(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out", "summaries.txt")

	sink, err := OpenFile(path)
	require.NoError(t, err)
	require.NoError(t, sink.Write(summarized(1, "first")))
	require.NoError(t, sink.Write(model.Outcome{MessageID: 2, Status: model.StatusFailed}))
	require.NoError(t, sink.Close())

	sink, err = OpenFile(path)
	require.NoError(t, err)
	require.NoError(t, sink.Write(summarized(3, "second")))
	require.NoError(t, sink.Close())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t,
		FormatEntry(summarized(1, "first"))+FormatEntry(summarized(3, "second")),
		string(data))
}
