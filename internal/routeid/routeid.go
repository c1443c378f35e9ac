// Package routeid turns record identifiers into opaque, tamper-evident URL
// tokens so that backend ids are not exposed or enumerable in page links.
package routeid

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"
	"io"

	"golang.org/x/crypto/chacha20poly1305"
)

// ErrInvalidToken is returned when a token cannot be decoded or was altered.
var ErrInvalidToken = errors.New("routeid: invalid token")

// Codec encrypts ids with XChaCha20-Poly1305.
type Codec struct {
	key [chacha20poly1305.KeySize]byte
	// nonces defaults to crypto/rand.
	nonces io.Reader
}

// New derives a Codec from an arbitrary secret.
func New(secret string) (*Codec, error) {
	if secret == "" {
		return nil, errors.New("routeid: secret must be provided")
	}
	return &Codec{key: sha256.Sum256([]byte("routeid|" + secret)), nonces: rand.Reader}, nil
}

// Encode returns a URL-safe token for id.
func (c *Codec) Encode(id string) (string, error) {
	aead, err := chacha20poly1305.NewX(c.key[:])
	if err != nil {
		return "", fmt.Errorf("routeid: init cipher: %w", err)
	}
	nonce := make([]byte, aead.NonceSize(), aead.NonceSize()+len(id)+aead.Overhead())
	if _, err := io.ReadFull(c.nonces, nonce); err != nil {
		return "", fmt.Errorf("routeid: nonce: %w", err)
	}
	sealed := aead.Seal(nonce, nonce, []byte(id), nil)
	return base64.RawURLEncoding.EncodeToString(sealed), nil
}

// MustEncode is like Encode but panics if the token cannot be produced,
// which only happens when the system entropy source fails.
func (c *Codec) MustEncode(id string) string {
	token, err := c.Encode(id)
	if err != nil {
		panic(err)
	}
	return token
}

// Decode recovers the id from a token produced by Encode.
func (c *Codec) Decode(token string) (string, error) {
	raw, err := base64.RawURLEncoding.DecodeString(token)
	if err != nil {
		return "", ErrInvalidToken
	}
	aead, err := chacha20poly1305.NewX(c.key[:])
	if err != nil {
		return "", fmt.Errorf("routeid: init cipher: %w", err)
	}
	if len(raw) < aead.NonceSize()+aead.Overhead() {
		return "", ErrInvalidToken
	}
	nonce, sealed := raw[:aead.NonceSize()], raw[aead.NonceSize():]
	plain, err := aead.Open(nil, nonce, sealed, nil)
	if err != nil {
		return "", ErrInvalidToken
	}
	return string(plain), nil
}
