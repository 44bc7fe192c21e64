package mailbox

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net"
	"sync"

	"github.com/charmbracelet/log"
	"github.com/emersion/go-imap/v2"
	"github.com/emersion/go-imap/v2/imapclient"

	"github.com/nhle/mailsum/internal/logging"
	"github.com/nhle/mailsum/internal/model"
)

// IMAPDialer connects to an IMAP server with go-imap v2.
type IMAPDialer struct {
	// TLS selects implicit TLS (port 993). When false the connection is
	// upgraded with STARTTLS.
	TLS                bool
	InsecureSkipVerify bool

	// Plaintext skips encryption entirely. The CLI never sets it; it
	// exists for loopback servers.
	Plaintext bool

	// Folder is the mailbox to select; defaults to INBOX.
	Folder string

	Logger *log.Logger
}

// Connect establishes a connection to the IMAP server, authenticates and
// selects the configured folder. The caller must Close the returned
// session.
func (d IMAPDialer) Connect(
	ctx context.Context, creds Credentials,
) (Session, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	logger := d.Logger
	if logger == nil {
		logger = logging.Discard()
	}

	host, _, err := net.SplitHostPort(creds.Addr)
	if err != nil {
		return nil, fmt.Errorf("invalid IMAP address %q: %w", creds.Addr, err)
	}

	options := &imapclient.Options{
		TLSConfig: &tls.Config{
			ServerName:         host,
			InsecureSkipVerify: d.InsecureSkipVerify,
		},
	}

	var client *imapclient.Client
	switch {
	case d.Plaintext:
		client, err = imapclient.DialInsecure(creds.Addr, options)
	case d.TLS:
		client, err = imapclient.DialTLS(creds.Addr, options)
	default:
		client, err = imapclient.DialStartTLS(creds.Addr, options)
	}
	if err != nil {
		return nil, fmt.Errorf("connecting to IMAP %s: %w", creds.Addr, err)
	}

	if err := client.Login(creds.Username, creds.Password.Reveal()).Wait(); err != nil {
		_ = client.Close()
		return nil, &AuthError{
			Server:   creds.Addr,
			Username: creds.Username,
			Err:      err,
		}
	}

	folder := d.Folder
	if folder == "" {
		folder = "INBOX"
	}

	sel, err := client.Select(folder, nil).Wait()
	if err != nil {
		_ = client.Logout().Wait()
		_ = client.Close()
		return nil, fmt.Errorf("selecting %s: %w", folder, err)
	}

	logger.Info("mailbox opened",
		"server", creds.Addr, "user", creds.Username,
		"folder", folder, "messages", sel.NumMessages)

	return &imapSession{
		client: client,
		folder: folder,
		logger: logger,
	}, nil
}

// imapSession is a Session backed by one IMAP connection.
type imapSession struct {
	client *imapclient.Client
	folder string
	logger *log.Logger

	closeOnce sync.Once
	closeErr  error
	closed    bool
}

func (s *imapSession) List(
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

	criteria := &imap.SearchCriteria{}
	if sel.Kind == SelectUnread {
		criteria.NotFlag = []imap.Flag{imap.FlagSeen}
	}

	searchData, err := s.client.UIDSearch(criteria, nil).Wait()
	if err != nil {
		return nil, fmt.Errorf("searching %s: %w", s.folder, err)
	}

	uids := searchData.AllUIDs()
	ids := make([]model.MessageID, 0, len(uids))
	for _, uid := range uids {
		ids = append(ids, model.MessageID(uid))
	}

	selected := selectIDs(ids, sel)
	s.logger.Debug("listed messages",
		"selector", sel.String(), "matched", len(ids), "selected", len(selected))

	return selected, nil
}

func (s *imapSession) FetchRaw(
	ctx context.Context, id model.MessageID,
) (*model.RawMessage, error) {
	if s.closed {
		return nil, ErrClosed
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	uidSet := imap.UIDSetNum(imap.UID(id))

	// Peek keeps the server from setting \Seen; marking read is an
	// explicit, separate step.
	bodySection := &imap.FetchItemBodySection{Peek: true}
	fetchOpts := &imap.FetchOptions{
		UID:         true,
		BodySection: []*imap.FetchItemBodySection{bodySection},
	}

	fetchCmd := s.client.Fetch(uidSet, fetchOpts)
	defer fetchCmd.Close()

	msg := fetchCmd.Next()
	if msg == nil {
		if err := fetchCmd.Close(); err != nil {
			return nil, fetchFailure(id, err)
		}
		return nil, &FetchError{ID: id, Err: errors.New("message not found")}
	}

	buf, err := msg.Collect()
	if err != nil {
		return nil, fmt.Errorf("reading message %s: %w", id, err)
	}

	raw := buf.FindBodySection(bodySection)
	if raw == nil {
		return nil, &FetchError{ID: id, Err: errors.New("server returned no body")}
	}

	if err := fetchCmd.Close(); err != nil {
		return nil, fetchFailure(id, err)
	}

	return &model.RawMessage{ID: id, Data: raw}, nil
}

// fetchFailure classifies the error that ended a FETCH. A tagged NO or
// BAD response concerns only this message; anything else means the
// connection is gone.
func fetchFailure(id model.MessageID, err error) error {
	var imapErr *imap.Error
	if errors.As(err, &imapErr) {
		return &FetchError{ID: id, Err: err}
	}
	return fmt.Errorf("fetching message %s: %w", id, err)
}

func (s *imapSession) MarkRead(ctx context.Context, id model.MessageID) error {
	if s.closed {
		return ErrClosed
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	storeCmd := s.client.Store(imap.UIDSetNum(imap.UID(id)), &imap.StoreFlags{
		Op:     imap.StoreFlagsAdd,
		Silent: true,
		Flags:  []imap.Flag{imap.FlagSeen},
	}, nil)

	if err := storeCmd.Close(); err != nil {
		return fmt.Errorf("marking message %s read: %w", id, err)
	}
	return nil
}

// Close logs out and closes the connection.
func (s *imapSession) Close() error {
	s.closeOnce.Do(func() {
		s.closed = true
		logoutErr := s.client.Logout().Wait()
		closeErr := s.client.Close()
		// The server drops the connection after a clean LOGOUT.
		if logoutErr != nil {
			s.logger.Debug("logout failed", "err", logoutErr)
			if closeErr != nil && !errors.Is(closeErr, net.ErrClosed) {
				s.closeErr = fmt.Errorf("closing IMAP connection: %w", closeErr)
			}
		}
		s.logger.Debug("mailbox closed", "folder", s.folder)
	})
	return s.closeErr
}
