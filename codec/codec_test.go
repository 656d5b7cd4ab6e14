package codec

import (
	"testing"

	json "github.com/goccy/go-json"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/poiesic/chunkvault/core"
	"github.com/poiesic/chunkvault/secrets"
	"github.com/poiesic/chunkvault/storage"
)

type widget struct {
	ID   int    `json:"id"`
	Name string `json:"name"`
}

func newTestCodec(t *testing.T) *Codec {
	t.Helper()
	cipher, err := secrets.NewAESGCM("test-passphrase", "widgets")
	require.NoError(t, err)
	return New(cipher, 0)
}

func TestEncodeDecodeRoundTrip(t *testing.T) {
	c := newTestCodec(t)
	in := []widget{{ID: 1, Name: "a"}, {ID: 2, Name: "b"}}

	encoded, err := c.EncodeValue(in)
	require.NoError(t, err)

	// The stored form is a valid envelope, not the plaintext.
	assert.Equal(t, core.PayloadEnvelope, core.ClassifyPayload(encoded))
	assert.NotContains(t, string(encoded), `"name":"a"`)

	plain, kind, err := c.DecodeSlot(encoded)
	require.NoError(t, err)
	assert.Equal(t, core.PayloadEnvelope, kind)

	var out []widget
	require.NoError(t, json.Unmarshal(plain, &out))
	assert.Equal(t, in, out)
}

func TestDecodeSlot_LegacyArrayPassesThrough(t *testing.T) {
	c := newTestCodec(t)
	raw := []byte(`[{"id":1,"name":"a"},{"id":2,"name":"b"}]`)

	plain, kind, err := c.DecodeSlot(raw)
	require.NoError(t, err)
	assert.Equal(t, core.PayloadLegacyArray, kind)
	assert.Equal(t, raw, plain)
}

func TestDecodeSlot_UnreadableShapes(t *testing.T) {
	c := newTestCodec(t)

	for name, raw := range map[string][]byte{
		"garbage":       []byte("not json at all"),
		"empty":         nil,
		"wrong object":  []byte(`{"foo":"bar"}`),
		"broken array":  []byte(`[1,2`),
		"quoted string": []byte(`"loose"`),
	} {
		t.Run(name, func(t *testing.T) {
			_, kind, err := c.DecodeSlot(raw)
			assert.ErrorIs(t, err, storage.ErrUnreadablePayload)
			assert.Equal(t, core.PayloadUnreadable, kind)
		})
	}
}

func TestDecodeSlot_WrongKeyEnvelope(t *testing.T) {
	c := newTestCodec(t)
	other, err := secrets.NewAESGCM("other-passphrase", "widgets")
	require.NoError(t, err)
	stranger := New(other, 0)

	encoded, err := stranger.EncodeValue([]widget{{ID: 1}})
	require.NoError(t, err)

	_, kind, err := c.DecodeSlot(encoded)
	assert.Error(t, err)
	assert.Equal(t, core.PayloadEnvelope, kind)
	assert.ErrorIs(t, err, secrets.ErrDecryptFailed)
}

func TestEncodeValue_PathologicalInputStillEncodes(t *testing.T) {
	c := newTestCodec(t)

	type selfRef struct {
		Name string   `json:"name"`
		Self *selfRef `json:"self"`
	}
	v := &selfRef{Name: "loop"}
	v.Self = v

	encoded, err := c.EncodeValue(v)
	require.NoError(t, err)

	plain, _, err := c.DecodeSlot(encoded)
	require.NoError(t, err)
	assert.Contains(t, string(plain), "[Circular Reference]")
}
