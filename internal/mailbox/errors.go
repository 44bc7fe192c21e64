package mailbox

import (
	"errors"
	"fmt"

	"github.com/nhle/mailsum/internal/model"
)

// ErrClosed is returned by operations on a closed session.
var ErrClosed = errors.New("mailbox session closed")

// AuthError indicates that the server rejected the credentials.
type AuthError struct {
	Server   string
	Username string
	Err      error
}

func (e *AuthError) Error() string {
	return fmt.Sprintf(
		"authentication failed for %s on %s: %v", e.Username, e.Server, e.Err,
	)
}

func (e *AuthError) Unwrap() error { return e.Err }

// IsAuthError reports whether err (or any error in its chain) is an AuthError.
func IsAuthError(err error) bool {
	var authErr *AuthError
	return errors.As(err, &authErr)
}

// FetchError reports that a single message could not be retrieved. The
// session stays usable.
type FetchError struct {
	ID  model.MessageID
	Err error
}

func (e *FetchError) Error() string {
	return fmt.Sprintf("fetching message %s: %v", e.ID, e.Err)
}

func (e *FetchError) Unwrap() error { return e.Err }

// IsFetchError reports whether err (or any error in its chain) is a FetchError.
func IsFetchError(err error) bool {
	var fetchErr *FetchError
	return errors.As(err, &fetchErr)
}
