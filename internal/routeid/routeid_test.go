package routeid

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRoundTrip(t *testing.T) {
	codec, err := New("route-secret")
	require.NoError(t, err)

	for _, id := range []string{"1", "42", "3f6c1a2e-8f0e-4f7a-9e51-1f7a8c9d0b11", ""} {
		token, err := codec.Encode(id)
		require.NoError(t, err)
		assert.NotContains(t, token, "/")
		got, err := codec.Decode(token)
		require.NoError(t, err)
		assert.Equal(t, id, got)
	}
}

func TestTokensAreRandomised(t *testing.T) {
	codec, err := New("route-secret")
	require.NoError(t, err)
	a := codec.MustEncode("7")
	b := codec.MustEncode("7")
	assert.NotEqual(t, a, b)
}

func TestTamperedTokenFails(t *testing.T) {
	codec, err := New("route-secret")
	require.NoError(t, err)
	token := codec.MustEncode("99")

	raw := []byte(token)
	mid := len(raw) / 2
	if raw[mid] == 'A' {
		raw[mid] = 'B'
	} else {
		raw[mid] = 'A'
	}
	_, err = codec.Decode(string(raw))
	assert.ErrorIs(t, err, ErrInvalidToken)

	_, err = codec.Decode("not base64 !!")
	assert.ErrorIs(t, err, ErrInvalidToken)
	_, err = codec.Decode("c2hvcnQ")
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestDifferentSecretsDoNotDecode(t *testing.T) {
	a, err := New("one")
	require.NoError(t, err)
	b, err := New("two")
	require.NoError(t, err)
	_, err = b.Decode(a.MustEncode("5"))
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestEmptySecretRejected(t *testing.T) {
	_, err := New("")
	assert.Error(t, err)
}

type brokenEntropy struct{}

func (brokenEntropy) Read([]byte) (int, error) { return 0, errors.New("entropy exhausted") }

func TestMustEncodePanicsWhenNonceFails(t *testing.T) {
	codec, err := New("route-secret")
	require.NoError(t, err)
	codec.nonces = brokenEntropy{}

	_, err = codec.Encode("7")
	assert.ErrorContains(t, err, "routeid: nonce")
	assert.Panics(t, func() { codec.MustEncode("7") })
}
