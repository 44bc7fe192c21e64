// Package prompt collects run settings and secrets interactively.
package prompt

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/charmbracelet/huh"

	"github.com/nhle/mailsum/internal/credential"
	"github.com/nhle/mailsum/internal/model"
)

// ErrAborted is returned when the user cancels a form.
var ErrAborted = errors.New("prompt aborted")

// answers holds the raw form values before they are applied to a config.
type answers struct {
	server   string
	port     string
	username string
	password string
	tls      bool
	backend  string
	count    string
	unread   bool
	markRead bool
	output   string
}

func answersFrom(cfg *model.AppConfig) answers {
	backend := model.BackendLocal
	if kind, err := cfg.Summarizer.Kind(); err == nil {
		backend = kind
	}
	return answers{
		server:   cfg.Mailbox.Server,
		port:     strconv.Itoa(cfg.Mailbox.Port),
		username: cfg.Mailbox.Username,
		tls:      cfg.Mailbox.TLS,
		backend:  string(backend),
		count:    strconv.Itoa(cfg.Selector.Count),
		unread:   !strings.EqualFold(cfg.Selector.Mode, "latest"),
		markRead: cfg.Output.MarkRead,
		output:   cfg.Output.File,
	}
}

// apply copies the answers into cfg. The password is not part of the
// configuration and is returned separately by Run.
func (a answers) apply(cfg *model.AppConfig) error {
	port, err := strconv.Atoi(strings.TrimSpace(a.port))
	if err != nil {
		return fmt.Errorf("invalid port %q: %w", a.port, err)
	}
	count, err := strconv.Atoi(strings.TrimSpace(a.count))
	if err != nil {
		return fmt.Errorf("invalid count %q: %w", a.count, err)
	}

	cfg.Mailbox.Server = strings.TrimSpace(a.server)
	cfg.Mailbox.Port = port
	cfg.Mailbox.Username = strings.TrimSpace(a.username)
	cfg.Mailbox.TLS = a.tls
	cfg.Summarizer.Backend = a.backend
	cfg.Selector.Count = count
	if a.unread {
		cfg.Selector.Mode = "unread"
	} else {
		cfg.Selector.Mode = "latest"
	}
	cfg.Output.MarkRead = a.markRead
	cfg.Output.File = strings.TrimSpace(a.output)

	return nil
}

// Run shows the run form pre-filled from cfg, writes the answers back
// into cfg and returns the mailbox password.
func Run(cfg *model.AppConfig) (credential.Secret, error) {
	a := answersFrom(cfg)

	form := huh.NewForm(
		huh.NewGroup(
			huh.NewInput().
				Title("IMAP Host").
				Description("IMAP server hostname").
				Placeholder("imap.example.com").
				Value(&a.server).
				Validate(validateRequired("IMAP Host")),
			huh.NewInput().
				Title("IMAP Port").
				Description("IMAP server port (e.g., 993)").
				Placeholder("993").
				Value(&a.port).
				Validate(validatePort),
			huh.NewConfirm().
				Title("Use TLS").
				Description("Connect with implicit TLS instead of STARTTLS").
				Affirmative("Yes").
				Negative("No").
				Value(&a.tls),
			huh.NewInput().
				Title("Username").
				Description("Email account username").
				Placeholder("user@example.com").
				Value(&a.username).
				Validate(validateRequired("Username")),
			huh.NewInput().
				Title("Password").
				Description("Email account password or app password").
				EchoMode(huh.EchoModePassword).
				Value(&a.password).
				Validate(validateRequired("Password")),
		),
		huh.NewGroup(
			huh.NewSelect[string]().
				Title("Summarizer").
				Options(
					huh.NewOption("Local model - runs on this machine", string(model.BackendLocal)),
					huh.NewOption("Remote API - hosted LLM", string(model.BackendRemote)),
				).
				Value(&a.backend),
			huh.NewConfirm().
				Title("Unread only").
				Description("Summarize unread messages instead of the latest ones").
				Affirmative("Unread").
				Negative("Latest").
				Value(&a.unread),
			huh.NewInput().
				Title("Messages").
				Description("How many messages to summarize").
				Placeholder("5").
				Value(&a.count).
				Validate(validateCount),
			huh.NewConfirm().
				Title("Mark as read").
				Description("Flag summarized messages as read on the server").
				Affirmative("Yes").
				Negative("No").
				Value(&a.markRead),
			huh.NewInput().
				Title("Output file").
				Description("Append summaries to this file (optional)").
				Placeholder("summaries.txt").
				Value(&a.output),
		),
	)

	if err := runForm(form); err != nil {
		return "", err
	}
	if err := a.apply(cfg); err != nil {
		return "", err
	}

	password := credential.NewSecret(a.password)
	a.password = ""
	return password, nil
}

// Password asks for the mailbox password only. retry marks a prompt
// shown after the server rejected the previous password.
func Password(username, server string, retry bool) (credential.Secret, error) {
	title := fmt.Sprintf("Password for %s on %s", username, server)
	description := "Email account password or app password"
	if retry {
		description = "Login failed. Try again, or press Ctrl+C to quit"
	}
	return secretInput(title, description)
}

// APIKey asks for the remote summarizer API key.
func APIKey() (credential.Secret, error) {
	return secretInput("API key", "Key for the remote summarization API")
}

func secretInput(title, description string) (credential.Secret, error) {
	var value string
	form := huh.NewForm(
		huh.NewGroup(
			huh.NewInput().
				Title(title).
				Description(description).
				EchoMode(huh.EchoModePassword).
				Value(&value).
				Validate(validateRequired(title)),
		),
	)
	if err := runForm(form); err != nil {
		return "", err
	}
	return credential.NewSecret(value), nil
}

func runForm(form *huh.Form) error {
	if err := form.Run(); err != nil {
		if errors.Is(err, huh.ErrUserAborted) {
			return ErrAborted
		}
		return fmt.Errorf("running form: %w", err)
	}
	return nil
}

func validateRequired(fieldName string) func(string) error {
	return func(s string) error {
		if strings.TrimSpace(s) == "" {
			return fmt.Errorf("%s is required", fieldName)
		}
		return nil
	}
}

func validatePort(s string) error {
	if strings.TrimSpace(s) == "" {
		return fmt.Errorf("port is required")
	}
	port, err := strconv.Atoi(strings.TrimSpace(s))
	if err != nil {
		return fmt.Errorf("port must be a number")
	}
	if port < 1 || port > 65535 {
		return fmt.Errorf("port must be between 1 and 65535")
	}
	return nil
}

func validateCount(s string) error {
	n, err := strconv.Atoi(strings.TrimSpace(s))
	if err != nil {
		return fmt.Errorf("count must be a number")
	}
	if n <= 0 {
		return fmt.Errorf("count must be positive")
	}
	return nil
}
