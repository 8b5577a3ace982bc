package local

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"fmt"

	"golang.org/x/crypto/curve25519"
	"golang.org/x/crypto/nacl/box"

	"github.com/hengadev/medx"
	"github.com/hengadev/medx/internal/security"
)

// IdentityAuthority issues per-record X25519 key pairs and seals values
// to them with anonymous boxes. A is the public half, R the private one.
type IdentityAuthority struct{}

func NewIdentityAuthority() *IdentityAuthority {
	return &IdentityAuthority{}
}

// Identity returns the identity string of a record: the first letter of
// its namespace followed by its id.
func Identity(namespace, recordID string) string {
	if namespace == "" {
		return recordID
	}
	return namespace[:1] + recordID
}

func (IdentityAuthority) GenerateKeyPair(ctx context.Context, namespace string, recordID string) (medx.IdentityKeyPair, error) {
	pub, priv, err := box.GenerateKey(rand.Reader)
	if err != nil {
		return medx.IdentityKeyPair{}, fmt.Errorf("generate key pair: %w", err)
	}
	return medx.IdentityKeyPair{
		Identity: Identity(namespace, recordID),
		A:        base64.StdEncoding.EncodeToString(pub[:]),
		R:        base64.StdEncoding.EncodeToString(priv[:]),
	}, nil
}

func (IdentityAuthority) Encrypt(ctx context.Context, plaintext string, a string) (string, error) {
	pub, err := decodeKey(a)
	if err != nil {
		return "", fmt.Errorf("%w: public key: %v", medx.ErrEncryptionFailed, err)
	}
	sealed, err := box.SealAnonymous(nil, []byte(plaintext), pub, rand.Reader)
	if err != nil {
		return "", fmt.Errorf("%w: %v", medx.ErrEncryptionFailed, err)
	}
	return base64.StdEncoding.EncodeToString(sealed), nil
}

func (IdentityAuthority) Decrypt(ctx context.Context, ciphertext string, r string, a string) (string, error) {
	sealed, err := base64.StdEncoding.DecodeString(ciphertext)
	if err != nil || len(sealed) < box.AnonymousOverhead {
		return "", fmt.Errorf("%w: not an identity ciphertext", medx.ErrMalformedCiphertext)
	}
	pub, err := decodeKey(a)
	if err != nil {
		return "", fmt.Errorf("%w: public key: %v", medx.ErrDecryptionFailed, err)
	}
	priv, err := decodeKey(r)
	if err != nil {
		return "", fmt.Errorf("%w: private key: %v", medx.ErrDecryptionFailed, err)
	}
	defer security.ZeroBytes(priv[:])

	derived, err := curve25519.X25519(priv[:], curve25519.Basepoint)
	if err != nil || !security.Equal(derived, pub[:]) {
		return "", fmt.Errorf("%w: private key does not match public key", medx.ErrDecryptionFailed)
	}

	plaintext, ok := box.OpenAnonymous(nil, sealed, pub, priv)
	if !ok {
		return "", fmt.Errorf("%w: message was not sealed to this key", medx.ErrDecryptionFailed)
	}
	return string(plaintext), nil
}

func decodeKey(s string) (*[32]byte, error) {
	raw, err := base64.StdEncoding.DecodeString(s)
	if err != nil {
		return nil, fmt.Errorf("key is not base64")
	}
	if len(raw) != 32 {
		return nil, fmt.Errorf("key must be 32 bytes, got %d", len(raw))
	}
	var key [32]byte
	copy(key[:], raw)
	return &key, nil
}
