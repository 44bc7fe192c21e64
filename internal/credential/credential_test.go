package credential

import (
	"encoding/json"
	"fmt"
	"testing"

	"github.com/99designs/keyring"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func useMemoryKeyring(t *testing.T) keyring.Keyring {
	t.Helper()

	ring := keyring.NewArrayKeyring(nil)
	orig := openKeyring
	openKeyring = func() (keyring.Keyring, error) { return ring, nil }
	t.Cleanup(func() { openKeyring = orig })

	return ring
}

func TestSecretNeverFormatsValue(t *testing.T) {
	s := NewSecret("hunter2")

	for _, out := range []string{
		s.String(),
		fmt.Sprintf("%v", s),
		fmt.Sprintf("%s", s),
		fmt.Sprintf("%q", s),
		fmt.Sprintf("%#v", s),
		fmt.Sprintf("%+v", struct{ P Secret }{s}),
	} {
		assert.NotContains(t, out, "hunter2")
	}

	data, err := json.Marshal(map[string]Secret{"password": s})
	require.NoError(t, err)
	assert.NotContains(t, string(data), "hunter2")

	assert.Equal(t, "hunter2", s.Reveal())
	assert.False(t, s.Empty())
	assert.True(t, Secret("").Empty())
}

func TestKeyringRoundTrip(t *testing.T) {
	useMemoryKeyring(t)

	_, err := Get(APIKeyName)
	assert.ErrorIs(t, err, ErrNotFound)

	require.NoError(t, Set(APIKeyName, "sk-stored"))

	got, err := Get(APIKeyName)
	require.NoError(t, err)
	assert.Equal(t, "sk-stored", got.Reveal())

	require.NoError(t, Delete(APIKeyName))
	_, err = Get(APIKeyName)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestResolveAPIKeyOrder(t *testing.T) {
	useMemoryKeyring(t)
	require.NoError(t, Set(APIKeyName, "from-keyring"))

	t.Setenv("ANTHROPIC_API_KEY", "from-env")
	got, err := ResolveAPIKey("from-config")
	require.NoError(t, err)
	assert.Equal(t, "from-config", got.Reveal())

	got, err = ResolveAPIKey("")
	require.NoError(t, err)
	assert.Equal(t, "from-env", got.Reveal())

	t.Setenv("ANTHROPIC_API_KEY", "")
	got, err = ResolveAPIKey("")
	require.NoError(t, err)
	assert.Equal(t, "from-keyring", got.Reveal())

	require.NoError(t, Delete(APIKeyName))
	got, err = ResolveAPIKey("")
	require.NoError(t, err)
	assert.True(t, got.Empty())
}
