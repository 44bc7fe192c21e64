package model

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// EnvPrefix is the prefix for environment variable overrides,
// e.g. MAILSUM_SUMMARIZER_BACKEND.
const EnvPrefix = "MAILSUM"

// MailboxConfig holds the mailbox connection settings. The password is
// not part of it; it is prompted for or read from the environment.
type MailboxConfig struct {
	Server             string `mapstructure:"server" yaml:"server"`
	Port               int    `mapstructure:"port" yaml:"port"`
	Username           string `mapstructure:"username" yaml:"username"`
	TLS                bool   `mapstructure:"tls" yaml:"tls"`
	InsecureSkipVerify bool   `mapstructure:"insecure_skip_verify" yaml:"insecure_skip_verify"`
	Folder             string `mapstructure:"folder" yaml:"folder"`

	// MboxPath, when set, reads messages from a local mbox file instead
	// of connecting to an IMAP server.
	MboxPath string `mapstructure:"mbox_path" yaml:"mbox_path"`
}

// Addr returns the host:port form of the IMAP server address.
func (m MailboxConfig) Addr() string {
	return fmt.Sprintf("%s:%d", m.Server, m.Port)
}

// SelectorConfig chooses which messages a run looks at.
type SelectorConfig struct {
	// Mode is "unread" or "latest".
	Mode  string `mapstructure:"mode" yaml:"mode"`
	Count int    `mapstructure:"count" yaml:"count"`
}

// LocalConfig configures the locally hosted summarization model.
type LocalConfig struct {
	Endpoint       string        `mapstructure:"endpoint" yaml:"endpoint"`
	Model          string        `mapstructure:"model" yaml:"model"`
	MaxInputTokens int           `mapstructure:"max_input_tokens" yaml:"max_input_tokens"`
	KeepAlive      time.Duration `mapstructure:"keep_alive" yaml:"keep_alive"`
}

// RemoteConfig configures the hosted LLM API backend.
type RemoteConfig struct {
	Endpoint          string `mapstructure:"endpoint" yaml:"endpoint"`
	Model             string `mapstructure:"model" yaml:"model"`
	MaxTokens         int    `mapstructure:"max_tokens" yaml:"max_tokens"`
	RequestsPerMinute int    `mapstructure:"requests_per_minute" yaml:"requests_per_minute"`

	// APIKey may be supplied through the environment; it is excluded
	// from SaveConfig.
	APIKey string `mapstructure:"api_key" yaml:"-"`
}

// SummarizerConfig is the backend configuration for a run. It is read
// once at startup and not changed afterwards.
type SummarizerConfig struct {
	Backend         string        `mapstructure:"backend" yaml:"backend"`
	MaxInputChars   int           `mapstructure:"max_input_chars" yaml:"max_input_chars"`
	MaxSummaryChars int           `mapstructure:"max_summary_chars" yaml:"max_summary_chars"`
	RetryDelay      time.Duration `mapstructure:"retry_delay" yaml:"retry_delay"`
	Timeout         time.Duration `mapstructure:"timeout" yaml:"timeout"`
	Local           LocalConfig   `mapstructure:"local" yaml:"local"`
	Remote          RemoteConfig  `mapstructure:"remote" yaml:"remote"`
}

// Kind parses the configured backend name.
func (s SummarizerConfig) Kind() (BackendKind, error) {
	return ParseBackendKind(s.Backend)
}

// OutputConfig controls what happens with produced summaries.
type OutputConfig struct {
	File     string `mapstructure:"file" yaml:"file"`
	MarkRead bool   `mapstructure:"mark_read" yaml:"mark_read"`
}

// LogConfig controls logging verbosity and destination.
type LogConfig struct {
	Level string `mapstructure:"level" yaml:"level"`
	File  string `mapstructure:"file" yaml:"file"`
}

// AppConfig is the top-level application configuration.
type AppConfig struct {
	Mailbox    MailboxConfig    `mapstructure:"mailbox" yaml:"mailbox"`
	Selector   SelectorConfig   `mapstructure:"selector" yaml:"selector"`
	Summarizer SummarizerConfig `mapstructure:"summarizer" yaml:"summarizer"`
	Output     OutputConfig     `mapstructure:"output" yaml:"output"`
	Log        LogConfig        `mapstructure:"log" yaml:"log"`
}

// Default limits, also used by packages that are handed a zero value.
const (
	DefaultMaxInputChars   = 4000
	DefaultMaxSummaryChars = 400
	DefaultRetryDelay      = 2 * time.Second
	DefaultMessageCount    = 5
)

// DefaultConfigPath returns the default path for the configuration file,
// located at ~/.config/mailsum/config.yaml.
func DefaultConfigPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(".", "config.yaml")
	}
	return filepath.Join(home, ".config", "mailsum", "config.yaml")
}

// defaults lists every configuration key with its default value. Every
// key must appear here so that environment overrides are picked up by
// Unmarshal.
var defaults = map[string]any{
	"mailbox.server":               "",
	"mailbox.port":                 993,
	"mailbox.username":             "",
	"mailbox.tls":                  true,
	"mailbox.insecure_skip_verify": false,
	"mailbox.folder":               "INBOX",
	"mailbox.mbox_path":            "",

	"selector.mode":  "unread",
	"selector.count": DefaultMessageCount,

	"summarizer.backend":           string(BackendLocal),
	"summarizer.max_input_chars":   DefaultMaxInputChars,
	"summarizer.max_summary_chars": DefaultMaxSummaryChars,
	"summarizer.retry_delay":       DefaultRetryDelay,
	"summarizer.timeout":           60 * time.Second,

	"summarizer.local.endpoint":         "http://localhost:11434",
	"summarizer.local.model":            "llama3.2",
	"summarizer.local.max_input_tokens": 1024,
	"summarizer.local.keep_alive":       10 * time.Minute,

	"summarizer.remote.endpoint":            "https://api.anthropic.com/v1/messages",
	"summarizer.remote.model":               "claude-3-5-haiku-latest",
	"summarizer.remote.max_tokens":          256,
	"summarizer.remote.requests_per_minute": 50,
	"summarizer.remote.api_key":             "",

	"output.file":      "",
	"output.mark_read": false,

	"log.level": "info",
	"log.file":  "",
}

// FlagBindings maps configuration keys to the command-line flag names
// that override them.
var FlagBindings = map[string]string{
	"mailbox.server":               "server",
	"mailbox.port":                 "port",
	"mailbox.username":             "user",
	"mailbox.tls":                  "tls",
	"mailbox.insecure_skip_verify": "insecure-skip-verify",
	"mailbox.folder":               "folder",
	"mailbox.mbox_path":            "mbox",
	"selector.mode":                "select",
	"selector.count":               "count",
	"summarizer.backend":           "backend",
	"summarizer.max_input_chars":   "max-input",
	"summarizer.max_summary_chars": "max-summary",
	"summarizer.retry_delay":       "retry-delay",
	"summarizer.local.model":       "local-model",
	"summarizer.remote.model":      "remote-model",
	"output.file":                  "output",
	"output.mark_read":             "mark-read",
	"log.level":                    "log-level",
	"log.file":                     "log-file",
}

// DefaultAppConfig returns the configuration used when no file exists.
func DefaultAppConfig() *AppConfig {
	return &AppConfig{
		Mailbox: MailboxConfig{
			Port:   993,
			TLS:    true,
			Folder: "INBOX",
		},
		Selector: SelectorConfig{
			Mode:  "unread",
			Count: DefaultMessageCount,
		},
		Summarizer: SummarizerConfig{
			Backend:         string(BackendLocal),
			MaxInputChars:   DefaultMaxInputChars,
			MaxSummaryChars: DefaultMaxSummaryChars,
			RetryDelay:      DefaultRetryDelay,
			Timeout:         60 * time.Second,
			Local: LocalConfig{
				Endpoint:       "http://localhost:11434",
				Model:          "llama3.2",
				MaxInputTokens: 1024,
				KeepAlive:      10 * time.Minute,
			},
			Remote: RemoteConfig{
				Endpoint:          "https://api.anthropic.com/v1/messages",
				Model:             "claude-3-5-haiku-latest",
				MaxTokens:         256,
				RequestsPerMinute: 50,
			},
		},
		Log: LogConfig{Level: "info"},
	}
}

// LoadConfig reads configuration from the YAML file at path, then
// applies MAILSUM_* environment variables and finally any flags in
// flags that were set explicitly. A missing file is not an error.
// flags may be nil.
func LoadConfig(path string, flags *pflag.FlagSet) (*AppConfig, error) {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("yaml")

	for key, val := range defaults {
		v.SetDefault(key, val)
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if flags != nil {
		for key, name := range FlagBindings {
			f := flags.Lookup(name)
			if f == nil {
				continue
			}
			if err := v.BindPFlag(key, f); err != nil {
				return nil, fmt.Errorf("binding flag --%s: %w", name, err)
			}
		}
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.Is(err, fs.ErrNotExist) && !errors.As(err, &notFound) {
			return nil, fmt.Errorf("reading config %s: %w", path, err)
		}
	}

	cfg := DefaultAppConfig()
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("parsing config %s: %w", path, err)
	}

	return cfg, nil
}

// Validate reports every problem with the configuration at once.
func (c *AppConfig) Validate() error {
	var errs []error

	if c.Mailbox.MboxPath == "" {
		if strings.TrimSpace(c.Mailbox.Server) == "" {
			errs = append(errs, errors.New("mailbox.server is required"))
		}
		if strings.TrimSpace(c.Mailbox.Username) == "" {
			errs = append(errs, errors.New("mailbox.username is required"))
		}
		if c.Mailbox.Port <= 0 || c.Mailbox.Port > 65535 {
			errs = append(errs, fmt.Errorf(
				"mailbox.port %d out of range", c.Mailbox.Port,
			))
		}
	}

	switch strings.ToLower(c.Selector.Mode) {
	case "unread":
		if c.Selector.Count < 0 {
			errs = append(errs, errors.New("selector.count must not be negative"))
		}
	case "latest":
		if c.Selector.Count <= 0 {
			errs = append(errs, errors.New(
				"selector.count must be positive for latest mode",
			))
		}
	default:
		errs = append(errs, fmt.Errorf(
			"selector.mode %q must be unread or latest", c.Selector.Mode,
		))
	}

	if _, err := c.Summarizer.Kind(); err != nil {
		errs = append(errs, err)
	}
	if c.Summarizer.MaxInputChars <= 0 {
		errs = append(errs, errors.New("summarizer.max_input_chars must be positive"))
	}
	if c.Summarizer.MaxSummaryChars <= 0 {
		errs = append(errs, errors.New("summarizer.max_summary_chars must be positive"))
	}
	if c.Summarizer.RetryDelay < 0 {
		errs = append(errs, errors.New("summarizer.retry_delay must not be negative"))
	}

	return errors.Join(errs...)
}

// SaveConfig writes the given configuration to a YAML file at path,
// creating parent directories if needed. The API key is never written.
func SaveConfig(path string, cfg *AppConfig) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("creating config directory %s: %w", dir, err)
	}

	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("yaml")

	remote := map[string]any{
		"endpoint":            cfg.Summarizer.Remote.Endpoint,
		"model":               cfg.Summarizer.Remote.Model,
		"max_tokens":          cfg.Summarizer.Remote.MaxTokens,
		"requests_per_minute": cfg.Summarizer.Remote.RequestsPerMinute,
	}

	v.Set("mailbox", cfg.Mailbox)
	v.Set("selector", cfg.Selector)
	v.Set("summarizer", map[string]any{
		"backend":           cfg.Summarizer.Backend,
		"max_input_chars":   cfg.Summarizer.MaxInputChars,
		"max_summary_chars": cfg.Summarizer.MaxSummaryChars,
		"retry_delay":       cfg.Summarizer.RetryDelay.String(),
		"timeout":           cfg.Summarizer.Timeout.String(),
		"local": map[string]any{
			"endpoint":         cfg.Summarizer.Local.Endpoint,
			"model":            cfg.Summarizer.Local.Model,
			"max_input_tokens": cfg.Summarizer.Local.MaxInputTokens,
			"keep_alive":       cfg.Summarizer.Local.KeepAlive.String(),
		},
		"remote": remote,
	})
	v.Set("output", cfg.Output)
	v.Set("log", cfg.Log)

	if err := v.WriteConfigAs(path); err != nil {
		return fmt.Errorf("writing config to %s: %w", path, err)
	}

	return nil
}
