package credential

import (
	"encoding/json"
	"fmt"
	"io"
)

const redacted = "[REDACTED]"

// Secret holds a password or API key. Every formatting and serialization
// path renders it as [REDACTED]; only Reveal returns the real value, so
// a Secret can be passed to loggers and error messages without leaking.
type Secret string

// NewSecret wraps a plain string.
func NewSecret(s string) Secret {
	return Secret(s)
}

// Reveal returns the underlying value. Call it only at the point where
// the secret is handed to the protocol that needs it.
func (s Secret) Reveal() string {
	return string(s)
}

// Empty reports whether the secret has no value.
func (s Secret) Empty() bool {
	return s == ""
}

func (s Secret) String() string {
	return redacted
}

func (s Secret) GoString() string {
	return redacted
}

// Format makes every fmt verb (%v, %s, %q, %x, %+v ...) print the
// redacted marker.
func (s Secret) Format(f fmt.State, _ rune) {
	_, _ = io.WriteString(f, redacted)
}

func (s Secret) MarshalJSON() ([]byte, error) {
	return json.Marshal(redacted)
}

func (s Secret) MarshalText() ([]byte, error) {
	return []byte(redacted), nil
}
