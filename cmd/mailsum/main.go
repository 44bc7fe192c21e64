package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/charmbracelet/log"
	"github.com/mattn/go-isatty"
	"github.com/spf13/cobra"

	"github.com/nhle/mailsum/internal/credential"
	"github.com/nhle/mailsum/internal/extract"
	"github.com/nhle/mailsum/internal/logging"
	"github.com/nhle/mailsum/internal/mailbox"
	"github.com/nhle/mailsum/internal/model"
	"github.com/nhle/mailsum/internal/output"
	"github.com/nhle/mailsum/internal/pipeline"
	"github.com/nhle/mailsum/internal/prompt"
	"github.com/nhle/mailsum/internal/summarize"
)

// passwordEnv supplies the mailbox password for unattended runs.
const passwordEnv = "MAILSUM_PASSWORD"

func main() {
	rootCmd := newRootCmd()
	rootCmd.AddCommand(newKeyCmd(), newConfigCmd())

	if err := rootCmd.Execute(); err != nil {
		if errors.Is(err, prompt.ErrAborted) {
			os.Exit(130)
		}
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "mailsum",
		Short: "Summarize recent or unread email with a local or remote model",
		Long: "mailsum connects to an IMAP mailbox (or reads an mbox file), " +
			"extracts the text of the selected messages and prints a short " +
			"summary of each one.",
		SilenceUsage:  true,
		SilenceErrors: true,
		Args:          cobra.NoArgs,
		RunE:          runSummarize,
	}

	flags := cmd.PersistentFlags()
	flags.String("config", model.DefaultConfigPath(), "Path to the configuration file")

	flags = cmd.Flags()
	flags.String("server", "", "IMAP server hostname")
	flags.Int("port", 993, "IMAP server port")
	flags.String("user", "", "IMAP username")
	flags.Bool("tls", true, "Use implicit TLS; when false STARTTLS is required")
	flags.Bool("insecure-skip-verify", false, "Skip TLS certificate verification (not recommended)")
	flags.String("folder", "INBOX", "Mailbox folder to read")
	flags.String("mbox", "", "Read messages from this mbox file instead of IMAP")
	flags.String("select", "unread", "Which messages to summarize: unread or latest")
	flags.IntP("count", "n", model.DefaultMessageCount, "Number of messages to summarize")
	flags.String("backend", string(model.BackendLocal), "Summarizer backend: local or remote")
	flags.String("local-model", "", "Model name for the local backend")
	flags.String("remote-model", "", "Model name for the remote backend")
	flags.Int("max-input", model.DefaultMaxInputChars, "Maximum characters of each body sent to the backend")
	flags.Int("max-summary", model.DefaultMaxSummaryChars, "Maximum characters per summary")
	flags.Duration("retry-delay", model.DefaultRetryDelay, "Delay before retrying a transient backend failure")
	flags.StringP("output", "o", "", "Append summaries to this file")
	flags.Bool("mark-read", false, "Mark summarized messages as read")
	flags.String("log-level", "info", "Logging level: debug, info, warn, error")
	flags.String("log-file", "", "Also write logs to this file")
	flags.BoolP("interactive", "i", false, "Prompt for connection and run settings")

	return cmd
}

func runSummarize(cmd *cobra.Command, _ []string) error {
	configPath, err := cmd.Flags().GetString("config")
	if err != nil {
		return err
	}
	cfg, err := model.LoadConfig(configPath, cmd.Flags())
	if err != nil {
		return err
	}

	interactive, err := cmd.Flags().GetBool("interactive")
	if err != nil {
		return err
	}
	tty := isTerminal(os.Stdin) && isTerminal(os.Stdout)
	if !interactive && tty && cfg.Mailbox.MboxPath == "" &&
		(cfg.Mailbox.Server == "" || cfg.Mailbox.Username == "") {
		interactive = true
	}

	var password credential.Secret
	if interactive && cfg.Mailbox.MboxPath == "" {
		password, err = prompt.Run(cfg)
		if err != nil {
			return err
		}
	}

	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration:\n%w", err)
	}

	logger, cleanup, err := logging.New(cfg.Log, os.Stderr)
	if err != nil {
		return err
	}
	defer func() {
		_ = cleanup()
	}()

	selector, err := mailbox.ParseSelector(cfg.Selector.Mode, cfg.Selector.Count)
	if err != nil {
		return err
	}

	backend, err := newBackend(cfg, tty, logger)
	if err != nil {
		return err
	}
	defer func() {
		if err := backend.Close(); err != nil {
			logger.Warn("closing summarizer", "err", err)
		}
	}()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	sess, err := openSession(ctx, cfg, password, tty, logger)
	if err != nil {
		return err
	}
	defer func() {
		if err := sess.Close(); err != nil {
			logger.Warn("closing mailbox", "err", err)
		}
	}()

	printer := output.NewPrinter(os.Stdout, isTerminal(os.Stdout))

	var sink *output.FileSink
	if cfg.Output.File != "" {
		sink, err = output.OpenFile(cfg.Output.File)
		if err != nil {
			return err
		}
		defer func() {
			if err := sink.Close(); err != nil {
				logger.Warn("closing output file", "err", err)
			}
		}()
	}

	report, runErr := pipeline.Run(ctx, sess, backend, pipeline.Options{
		Selector:        selector,
		MaxInputChars:   cfg.Summarizer.MaxInputChars,
		MaxSummaryChars: cfg.Summarizer.MaxSummaryChars,
		RetryDelay:      cfg.Summarizer.RetryDelay,
		MarkRead:        cfg.Output.MarkRead,
		Extractor:       extract.Extractor{},
		Logger:          logger,
		OnOutcome: func(o model.Outcome) {
			printer.Outcome(o)
			if sink != nil {
				if err := sink.Write(o); err != nil {
					logger.Error("appending summary", "message", o.MessageID, "err", err)
				}
			}
		},
	})
	if report != nil && reportable(runErr) {
		printer.Report(report)
	}

	return runErr
}

// reportable reports whether a run that ended with err still has outcomes
// worth summarizing for the user.
func reportable(err error) bool {
	return err == nil || pipeline.IsConfigError(err) || pipeline.IsSessionError(err)
}

// newBackend resolves the API key when needed and builds the configured
// summarizer.
func newBackend(
	cfg *model.AppConfig, tty bool, logger *log.Logger,
) (summarize.Backend, error) {
	kind, err := cfg.Summarizer.Kind()
	if err != nil {
		return nil, err
	}

	var apiKey credential.Secret
	if kind == model.BackendRemote {
		apiKey, err = credential.ResolveAPIKey(cfg.Summarizer.Remote.APIKey)
		if err != nil {
			logger.Warn("keyring unavailable", "err", err)
		}
		if apiKey.Empty() && tty {
			apiKey, err = prompt.APIKey()
			if err != nil {
				return nil, err
			}
		}
	}

	return summarize.New(cfg.Summarizer, apiKey, logger)
}

// openSession opens the mbox file or logs in to the IMAP server. On a
// rejected login an interactive user is asked for the password again;
// otherwise the AuthError is returned.
func openSession(
	ctx context.Context,
	cfg *model.AppConfig,
	password credential.Secret,
	tty bool,
	logger *log.Logger,
) (mailbox.Session, error) {
	if cfg.Mailbox.MboxPath != "" {
		sess, err := mailbox.OpenMbox(cfg.Mailbox.MboxPath, logger)
		if err != nil {
			return nil, err
		}
		return sess, nil
	}

	if password.Empty() {
		password = credential.NewSecret(os.Getenv(passwordEnv))
	}
	if password.Empty() {
		if !tty {
			return nil, fmt.Errorf("no mailbox password: set %s or run interactively", passwordEnv)
		}
		var err error
		password, err = prompt.Password(cfg.Mailbox.Username, cfg.Mailbox.Server, false)
		if err != nil {
			return nil, err
		}
	}

	dialer := mailbox.IMAPDialer{
		TLS:                cfg.Mailbox.TLS,
		InsecureSkipVerify: cfg.Mailbox.InsecureSkipVerify,
		Folder:             cfg.Mailbox.Folder,
		Logger:             logger,
	}

	for {
		sess, err := dialer.Connect(ctx, mailbox.Credentials{
			Addr:     cfg.Mailbox.Addr(),
			Username: cfg.Mailbox.Username,
			Password: password,
		})
		if err == nil {
			return sess, nil
		}
		if !mailbox.IsAuthError(err) || !tty {
			return nil, err
		}

		logger.Warn("login rejected", "server", cfg.Mailbox.Addr(), "user", cfg.Mailbox.Username)
		password, err = prompt.Password(cfg.Mailbox.Username, cfg.Mailbox.Server, true)
		if err != nil {
			return nil, err
		}
	}
}

func isTerminal(f *os.File) bool {
	return isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())
}
