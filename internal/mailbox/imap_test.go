package mailbox

import (
	"bytes"
	"context"
	"net"
	"testing"
	"time"

	"github.com/emersion/go-imap/v2"
	"github.com/emersion/go-imap/v2/imapserver"
	"github.com/emersion/go-imap/v2/imapserver/imapmemserver"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nhle/mailsum/internal/credential"
	"github.com/nhle/mailsum/internal/logging"
	"github.com/nhle/mailsum/internal/model"
	"github.com/nhle/mailsum/internal/testutil"
)

const (
	testUser     = "alice@example.com"
	testPassword = "s3cret"
)

// memServer is an in-memory IMAP server listening on loopback.
type memServer struct {
	addr string
	user *imapmemserver.User
	srv  *imapserver.Server
}

func newMemServer(t *testing.T) *memServer {
	t.Helper()

	mem := imapmemserver.New()
	user := imapmemserver.NewUser(testUser, testPassword)
	require.NoError(t, user.Create("INBOX", nil))
	mem.AddUser(user)

	srv := imapserver.New(&imapserver.Options{
		NewSession: func(*imapserver.Conn) (imapserver.Session, *imapserver.GreetingData, error) {
			return mem.NewSession(), nil, nil
		},
		InsecureAuth: true,
		Logger:       logging.Discard(),
	})

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	go func() { _ = srv.Serve(ln) }()
	t.Cleanup(func() {
		_ = srv.Close()
		_ = ln.Close()
	})

	return &memServer{addr: ln.Addr().String(), user: user, srv: srv}
}

// add appends msg to INBOX and returns its UID.
func (s *memServer) add(t *testing.T, msg string, flags ...imap.Flag) imap.UID {
	t.Helper()

	data, err := s.user.Append("INBOX", bytes.NewReader([]byte(msg)), &imap.AppendOptions{Flags: flags})
	require.NoError(t, err)
	return data.UID
}

func (s *memServer) creds(password string) Credentials {
	return Credentials{
		Addr:     s.addr,
		Username: testUser,
		Password: credential.Secret(password),
	}
}

func (s *memServer) connect(t *testing.T) Session {
	t.Helper()

	sess, err := IMAPDialer{Plaintext: true}.Connect(context.Background(), s.creds(testPassword))
	require.NoError(t, err)
	t.Cleanup(func() { _ = sess.Close() })
	return sess
}

func TestIMAPListUnread(t *testing.T) {
	srv := newMemServer(t)
	first := srv.add(t, testutil.PlainMessage("a@example.com", "One", "first"))
	srv.add(t, testutil.PlainMessage("b@example.com", "Two", "second"), imap.FlagSeen)
	third := srv.add(t, testutil.PlainMessage("c@example.com", "Three", "third"))

	sess := srv.connect(t)

	got, err := sess.List(context.Background(), Unread(0))
	require.NoError(t, err)
	assert.Equal(t, ids(uint32(first), uint32(third)), got)

	got, err = sess.List(context.Background(), Unread(1))
	require.NoError(t, err)
	assert.Equal(t, ids(uint32(third)), got)
}

func TestIMAPListLatestNewestFirst(t *testing.T) {
	srv := newMemServer(t)
	for i := 0; i < 4; i++ {
		srv.add(t, testutil.PlainMessage("a@example.com", "Note", "body"), imap.FlagSeen)
	}

	sess := srv.connect(t)

	got, err := sess.List(context.Background(), Latest(3))
	require.NoError(t, err)
	assert.Equal(t, ids(4, 3, 2), got)
}

func TestIMAPFetchDoesNotMarkSeen(t *testing.T) {
	srv := newMemServer(t)
	msg := testutil.PlainMessage("a@example.com", "Peek", "leave me unread")
	uid := srv.add(t, msg)

	sess := srv.connect(t)

	raw, err := sess.FetchRaw(context.Background(), model.MessageID(uid))
	require.NoError(t, err)
	assert.Equal(t, model.MessageID(uid), raw.ID)
	assert.Equal(t, msg, string(raw.Data))

	unread, err := sess.List(context.Background(), Unread(0))
	require.NoError(t, err)
	assert.Equal(t, ids(uint32(uid)), unread)
}

func TestIMAPFetchMissingUID(t *testing.T) {
	srv := newMemServer(t)
	srv.add(t, testutil.PlainMessage("a@example.com", "Only", "one"))

	sess := srv.connect(t)

	_, err := sess.FetchRaw(context.Background(), 42)
	require.Error(t, err)
	assert.True(t, IsFetchError(err))

	// The session stays usable after a per-message failure.
	_, err = sess.FetchRaw(context.Background(), 1)
	assert.NoError(t, err)
}

func TestIMAPMarkRead(t *testing.T) {
	srv := newMemServer(t)
	first := srv.add(t, testutil.PlainMessage("a@example.com", "One", "first"))
	second := srv.add(t, testutil.PlainMessage("b@example.com", "Two", "second"))

	sess := srv.connect(t)

	require.NoError(t, sess.MarkRead(context.Background(), model.MessageID(first)))

	unread, err := sess.List(context.Background(), Unread(0))
	require.NoError(t, err)
	assert.Equal(t, ids(uint32(second)), unread)
}

func TestIMAPRejectedLogin(t *testing.T) {
	srv := newMemServer(t)

	sess, err := IMAPDialer{Plaintext: true}.Connect(context.Background(), srv.creds("wrong"))

	require.Error(t, err)
	assert.Nil(t, sess)
	assert.True(t, IsAuthError(err))
	assert.NotContains(t, err.Error(), "wrong")
}

func TestIMAPMissingFolder(t *testing.T) {
	srv := newMemServer(t)

	_, err := IMAPDialer{Plaintext: true, Folder: "Archive"}.Connect(
		context.Background(), srv.creds(testPassword))

	require.Error(t, err)
	assert.False(t, IsAuthError(err))
	assert.Contains(t, err.Error(), "Archive")
}

func TestIMAPCloseIsIdempotent(t *testing.T) {
	srv := newMemServer(t)
	srv.add(t, testutil.PlainMessage("a@example.com", "One", "first"))

	sess, err := IMAPDialer{Plaintext: true}.Connect(context.Background(), srv.creds(testPassword))
	require.NoError(t, err)

	assert.NoError(t, sess.Close())
	assert.NoError(t, sess.Close())

	_, err = sess.List(context.Background(), Unread(0))
	assert.ErrorIs(t, err, ErrClosed)
	_, err = sess.FetchRaw(context.Background(), 1)
	assert.ErrorIs(t, err, ErrClosed)
	assert.False(t, IsFetchError(err))
}

func TestIMAPConnectionLossIsNotPerMessage(t *testing.T) {
	srv := newMemServer(t)
	srv.add(t, testutil.PlainMessage("a@example.com", "One", "first"))

	sess := srv.connect(t)
	client := sess.(*imapSession).client

	require.NoError(t, srv.srv.Close())
	require.Eventually(t, func() bool {
		return client.State() == imap.ConnStateLogout
	}, 5*time.Second, 10*time.Millisecond)

	_, err := sess.FetchRaw(context.Background(), 1)

	require.Error(t, err)
	assert.False(t, IsFetchError(err))
}
