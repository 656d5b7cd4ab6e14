package secrets

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewAESGCM_EmptyPassphrase(t *testing.T) {
	_, err := NewAESGCM("", "widgets")
	assert.ErrorIs(t, err, ErrEmptyPassphrase)
}

func TestSealOpenRoundTrip(t *testing.T) {
	c, err := NewAESGCM("correct horse battery staple", "widgets")
	require.NoError(t, err)

	plaintext := []byte(`[{"id":1},{"id":2}]`)
	env, err := c.Seal(plaintext)
	require.NoError(t, err)
	assert.NotEmpty(t, env.IV)
	assert.NotEmpty(t, env.Encrypted)

	opened, err := c.Open(env)
	require.NoError(t, err)
	assert.Equal(t, plaintext, opened)
}

func TestSeal_FreshNoncePerCall(t *testing.T) {
	c, err := NewAESGCM("pass", "widgets")
	require.NoError(t, err)

	a, err := c.Seal([]byte("same"))
	require.NoError(t, err)
	b, err := c.Seal([]byte("same"))
	require.NoError(t, err)

	assert.NotEqual(t, a.IV, b.IV)
	assert.NotEqual(t, a.Encrypted, b.Encrypted)
}

func TestOpen_WrongCollectionKey(t *testing.T) {
	// Same passphrase, different collection names: keys must differ.
	widgets, err := NewAESGCM("pass", "widgets")
	require.NoError(t, err)
	gadgets, err := NewAESGCM("pass", "gadgets")
	require.NoError(t, err)

	env, err := widgets.Seal([]byte("payload"))
	require.NoError(t, err)

	_, err = gadgets.Open(env)
	assert.ErrorIs(t, err, ErrDecryptFailed)
}

func TestOpen_WrongPassphrase(t *testing.T) {
	right, err := NewAESGCM("right", "widgets")
	require.NoError(t, err)
	wrong, err := NewAESGCM("wrong", "widgets")
	require.NoError(t, err)

	env, err := right.Seal([]byte("payload"))
	require.NoError(t, err)

	_, err = wrong.Open(env)
	assert.ErrorIs(t, err, ErrDecryptFailed)
}

func TestOpen_MalformedEnvelope(t *testing.T) {
	c, err := NewAESGCM("pass", "widgets")
	require.NoError(t, err)

	env, err := c.Seal([]byte("payload"))
	require.NoError(t, err)

	t.Run("bad iv base64", func(t *testing.T) {
		broken := env
		broken.IV = "not base64!!!"
		_, err := c.Open(broken)
		assert.ErrorIs(t, err, ErrMalformedEnvelope)
	})

	t.Run("iv wrong length", func(t *testing.T) {
		broken := env
		broken.IV = "YWJj"
		_, err := c.Open(broken)
		assert.ErrorIs(t, err, ErrMalformedEnvelope)
	})

	t.Run("bad ciphertext base64", func(t *testing.T) {
		broken := env
		broken.Encrypted = "???"
		_, err := c.Open(broken)
		assert.ErrorIs(t, err, ErrMalformedEnvelope)
	})

	t.Run("tampered ciphertext", func(t *testing.T) {
		broken := env
		broken.Encrypted = "AAAA" + broken.Encrypted[4:]
		_, err := c.Open(broken)
		assert.ErrorIs(t, err, ErrDecryptFailed)
	})
}
