package credential

import (
	"errors"
	"fmt"
	"os"

	"github.com/99designs/keyring"
)

const serviceName = "mailsum"

// APIKeyName is the keyring entry holding the remote summarizer API key.
const APIKeyName = "anthropic-api-key"

// ErrNotFound is returned by Get when no entry exists for the key.
var ErrNotFound = errors.New("credential not found")

// openKeyring returns a configured keyring instance. Tests replace it
// with an in-memory keyring.
var openKeyring = func() (keyring.Keyring, error) {
	ring, err := keyring.Open(keyring.Config{
		ServiceName: serviceName,
		AllowedBackends: []keyring.BackendType{
			keyring.KeychainBackend,
			keyring.SecretServiceBackend,
			keyring.WinCredBackend,
			keyring.PassBackend,
			keyring.FileBackend,
		},
		FileDir:                  "~/.config/mailsum/credentials",
		FilePasswordFunc:         keyring.FixedStringPrompt("mailsum-file-key"),
		KeychainTrustApplication: true,
	})
	if err != nil {
		return nil, fmt.Errorf("opening keyring: %w", err)
	}
	return ring, nil
}

// Get retrieves a credential value by key from the system keyring.
func Get(key string) (Secret, error) {
	ring, err := openKeyring()
	if err != nil {
		return "", err
	}

	item, err := ring.Get(key)
	if err != nil {
		if errors.Is(err, keyring.ErrKeyNotFound) {
			return "", fmt.Errorf("getting credential %q: %w", key, ErrNotFound)
		}
		return "", fmt.Errorf("getting credential %q: %w", key, err)
	}

	return Secret(item.Data), nil
}

// Set stores a credential value by key in the system keyring.
func Set(key string, value Secret) error {
	ring, err := openKeyring()
	if err != nil {
		return err
	}

	err = ring.Set(keyring.Item{
		Key:   key,
		Data:  []byte(value.Reveal()),
		Label: "mailsum " + key,
	})
	if err != nil {
		return fmt.Errorf("setting credential %q: %w", key, err)
	}

	return nil
}

// Delete removes a credential by key from the system keyring.
func Delete(key string) error {
	ring, err := openKeyring()
	if err != nil {
		return err
	}

	err = ring.Remove(key)
	if err != nil {
		return fmt.Errorf("deleting credential %q: %w", key, err)
	}

	return nil
}

// ResolveAPIKey returns the first non-empty API key from the configured
// value, the ANTHROPIC_API_KEY environment variable and the system
// keyring, in that order. An empty Secret with a nil error means no key
// is available anywhere.
func ResolveAPIKey(configured string) (Secret, error) {
	if configured != "" {
		return Secret(configured), nil
	}
	if env := os.Getenv("ANTHROPIC_API_KEY"); env != "" {
		return Secret(env), nil
	}

	key, err := Get(APIKeyName)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return "", nil
		}
		return "", err
	}
	return key, nil
}
