package summarize

import (
	"errors"
	"fmt"
	"testing"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nhle/mailsum/internal/model"
)

func TestTruncateInput(t *testing.T) {
	tests := []struct {
		name string
		in   string
		max  int
		want string
	}{
		{name: "under limit", in: "hello", max: 10, want: "hello"},
		{name: "exact", in: "hello", max: 5, want: "hello"},
		{name: "cut", in: "hello world", max: 5, want: "hello"},
		{name: "multibyte", in: "ééééé", max: 3, want: "ééé"},
		{name: "no limit", in: "hello", max: 0, want: "hello"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, TruncateInput(tt.in, tt.max))
		})
	}
}

func TestClampSummary(t *testing.T) {
	tests := []struct {
		name string
		in   string
		max  int
		want string
	}{
		{name: "fits", in: "  short summary  ", max: 50, want: "short summary"},
		{name: "word boundary", in: "the quick brown fox", max: 12, want: "the quick"},
		{name: "boundary right after cut", in: "the quick brown", max: 9, want: "the quick"},
		{name: "single long word", in: "abcdefghij", max: 4, want: "abcd"},
		{name: "multibyte", in: "café café café", max: 9, want: "café café"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := ClampSummary(tt.in, tt.max)
			assert.Equal(t, tt.want, got)
			assert.LessOrEqual(t, utf8.RuneCountInString(got), tt.max)
		})
	}
}

func TestErrorClassification(t *testing.T) {
	transient := &Error{Backend: model.BackendLocal, Class: Transient, Err: errors.New("busy")}
	permanent := &Error{Backend: model.BackendRemote, Class: Permanent, Err: errors.New("bad input")}
	config := &Error{Backend: model.BackendRemote, Class: Permanent, Config: true, StatusCode: 401}

	wrapped := fmt.Errorf("summarizing: %w", transient)

	assert.True(t, IsTransient(wrapped))
	assert.False(t, IsPermanent(wrapped))
	assert.False(t, IsConfig(wrapped))

	assert.True(t, IsPermanent(permanent))
	assert.False(t, IsConfig(permanent))

	assert.True(t, IsPermanent(config))
	assert.True(t, IsConfig(config))

	assert.False(t, IsTransient(errors.New("plain")))
	assert.Contains(t, config.Error(), "HTTP 401")
	assert.Contains(t, config.Error(), "configuration")
}

func TestNewRemoteWithoutKeyIsConfigError(t *testing.T) {
	cfg := model.DefaultAppConfig().Summarizer
	cfg.Backend = "remote"

	_, err := New(cfg, "", nil)

	require.Error(t, err)
	assert.True(t, IsConfig(err))
}

func TestNewSelectsBackend(t *testing.T) {
	cfg := model.DefaultAppConfig().Summarizer

	cfg.Backend = "transformer"
	b, err := New(cfg, "", nil)
	require.NoError(t, err)
	assert.Equal(t, model.BackendLocal, b.Kind())

	cfg.Backend = "openai"
	b, err = New(cfg, "sk-test", nil)
	require.NoError(t, err)
	assert.Equal(t, model.BackendRemote, b.Kind())

	cfg.Backend = "gpu-cluster"
	_, err = New(cfg, "", nil)
	assert.Error(t, err)
}
