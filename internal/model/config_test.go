package model

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/pflag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadConfigMissingFileUsesDefaults(t *testing.T) {
	cfg, err := LoadConfig(filepath.Join(t.TempDir(), "none.yaml"), nil)

	require.NoError(t, err)
	assert.Equal(t, DefaultAppConfig(), cfg)
}

func TestLoadConfigPrecedence(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
mailbox:
  server: imap.file.example
  username: file-user
selector:
  mode: latest
  count: 7
summarizer:
  backend: remote
  max_summary_chars: 120
  retry_delay: 5s
`), 0o600))

	t.Setenv("MAILSUM_MAILBOX_USERNAME", "env-user")

	flags := pflag.NewFlagSet("test", pflag.ContinueOnError)
	flags.Int("count", DefaultMessageCount, "")
	flags.String("backend", "local", "")
	require.NoError(t, flags.Parse([]string{"--count", "2"}))

	cfg, err := LoadConfig(path, flags)
	require.NoError(t, err)

	assert.Equal(t, "imap.file.example", cfg.Mailbox.Server)
	assert.Equal(t, "env-user", cfg.Mailbox.Username)
	assert.Equal(t, "latest", cfg.Selector.Mode)
	assert.Equal(t, 2, cfg.Selector.Count)
	assert.Equal(t, "remote", cfg.Summarizer.Backend)
	assert.Equal(t, 120, cfg.Summarizer.MaxSummaryChars)
	assert.Equal(t, DefaultMaxInputChars, cfg.Summarizer.MaxInputChars)
	assert.Equal(t, 5*time.Second, cfg.Summarizer.RetryDelay)
	assert.Equal(t, 993, cfg.Mailbox.Port)
}

func TestLoadConfigRejectsBrokenYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("mailbox: [unclosed"), 0o600))

	_, err := LoadConfig(path, nil)
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	cfg := DefaultAppConfig()
	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "mailbox.server")
	assert.Contains(t, err.Error(), "mailbox.username")

	cfg.Mailbox.MboxPath = "inbox.mbox"
	assert.NoError(t, cfg.Validate())

	cfg.Summarizer.Backend = "abacus"
	cfg.Summarizer.MaxSummaryChars = 0
	cfg.Selector.Mode = "latest"
	cfg.Selector.Count = 0
	err = cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "abacus")
	assert.Contains(t, err.Error(), "max_summary_chars")
	assert.Contains(t, err.Error(), "selector.count")
}

func TestSaveConfigOmitsAPIKey(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "config.yaml")
	cfg := DefaultAppConfig()
	cfg.Mailbox.Server = "imap.example.com"
	cfg.Summarizer.Remote.APIKey = "sk-secret"

	require.NoError(t, SaveConfig(path, cfg))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.NotContains(t, string(data), "sk-secret")

	loaded, err := LoadConfig(path, nil)
	require.NoError(t, err)
	assert.Equal(t, "imap.example.com", loaded.Mailbox.Server)
	assert.Equal(t, cfg.Summarizer.Local.KeepAlive, loaded.Summarizer.Local.KeepAlive)
	assert.Empty(t, loaded.Summarizer.Remote.APIKey)
}

func TestParseBackendKind(t *testing.T) {
	for _, in := range []string{"local", "Transformer", " local-model "} {
		k, err := ParseBackendKind(in)
		require.NoError(t, err)
		assert.Equal(t, BackendLocal, k)
	}
	for _, in := range []string{"remote", "openai", "API"} {
		k, err := ParseBackendKind(in)
		require.NoError(t, err)
		assert.Equal(t, BackendRemote, k)
	}
	_, err := ParseBackendKind("")
	assert.Error(t, err)
}

func TestMessageIDString(t *testing.T) {
	assert.Equal(t, "42", MessageID(42).String())
	assert.Equal(t, "0", MessageID(0).String())
}
