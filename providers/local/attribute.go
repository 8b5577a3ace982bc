package local

import (
	"context"
	"crypto/aes"
	"crypto/cipher"
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/google/uuid"
	"golang.org/x/crypto/hkdf"

	"github.com/hengadev/medx"
	"github.com/hengadev/medx/internal/security"
)

const (
	envelopeVersion = 1
	userKeyVersion  = 1

	userKeyInfo = "medx/abe/user-key"
	wrapKeyInfo = "medx/abe/wrap"
)

// AttributeAuthority is an in-process attribute-based encryption
// authority. It is a trusted component: the master secret both mints
// user keys and opens envelopes, and policy enforcement happens inside
// Decrypt.
type AttributeAuthority struct {
	macKey   []byte
	wrapKey  []byte
	registry *medx.Registry
}

// AttributeOption configures an AttributeAuthority.
type AttributeOption func(*AttributeAuthority)

// WithRegistry restricts user keys to the registry vocabulary and lets
// Encrypt look up the policy of a field when the request carries none.
func WithRegistry(r *medx.Registry) AttributeOption {
	return func(a *AttributeAuthority) {
		a.registry = r
	}
}

// NewAttributeAuthority derives the authority keys from a 32-byte master
// secret.
func NewAttributeAuthority(masterKey []byte, opts ...AttributeOption) (*AttributeAuthority, error) {
	if len(masterKey) != medx.MasterKeyLength {
		return nil, fmt.Errorf("%w: master key must be exactly %d bytes, got %d",
			medx.ErrInvalidConfiguration, medx.MasterKeyLength, len(masterKey))
	}
	macKey, err := deriveKey(masterKey, userKeyInfo)
	if err != nil {
		return nil, err
	}
	wrapKey, err := deriveKey(masterKey, wrapKeyInfo)
	if err != nil {
		return nil, err
	}

	a := &AttributeAuthority{macKey: macKey, wrapKey: wrapKey}
	for _, opt := range opts {
		opt(a)
	}
	return a, nil
}

func deriveKey(master []byte, info string) ([]byte, error) {
	key := make([]byte, 32)
	if _, err := io.ReadFull(hkdf.New(sha256.New, master, nil, []byte(info)), key); err != nil {
		return nil, fmt.Errorf("derive %s key: %w", info, err)
	}
	return key, nil
}

type userKeyBlob struct {
	Version    int      `json:"v"`
	Attributes []string `json:"attrs"`
	Nonce      string   `json:"nonce"`
	MAC        string   `json:"mac"`
}

type envelope struct {
	Version    int         `json:"v"`
	Policy     medx.Policy `json:"policy"`
	WrappedDEK string      `json:"wk"`
	Data       string      `json:"ct"`
}

// GenerateUserKey mints a key bound to attrs. Every call returns a
// distinct key.
func (a *AttributeAuthority) GenerateUserKey(ctx context.Context, attrs medx.AttributeSet) (medx.UserKey, error) {
	attrs = medx.NewAttributeSet(attrs...)
	if len(attrs) == 0 {
		return "", fmt.Errorf("%w: empty attribute set", medx.ErrInvalidAttributes)
	}
	if a.registry != nil {
		if err := a.registry.ValidateAttributes(attrs); err != nil {
			return "", err
		}
	}

	blob := userKeyBlob{
		Version:    userKeyVersion,
		Attributes: attrs.Strings(),
		Nonce:      uuid.NewString(),
	}
	blob.MAC = base64.StdEncoding.EncodeToString(a.userKeyMAC(blob))

	raw, err := json.Marshal(blob)
	if err != nil {
		return "", fmt.Errorf("encode user key: %w", err)
	}
	return medx.UserKey(base64.StdEncoding.EncodeToString(raw)), nil
}

func (a *AttributeAuthority) userKeyMAC(blob userKeyBlob) []byte {
	mac := hmac.New(sha256.New, a.macKey)
	fmt.Fprintf(mac, "v%d|%s|%s", blob.Version, blob.Nonce, strings.Join(blob.Attributes, ","))
	return mac.Sum(nil)
}

func (a *AttributeAuthority) parseUserKey(key medx.UserKey) (medx.AttributeSet, error) {
	raw, err := base64.StdEncoding.DecodeString(string(key))
	if err != nil {
		return nil, fmt.Errorf("%w: user key is not base64", medx.ErrMalformedCiphertext)
	}
	var blob userKeyBlob
	if err := json.Unmarshal(raw, &blob); err != nil {
		return nil, fmt.Errorf("%w: user key is not valid: %v", medx.ErrMalformedCiphertext, err)
	}
	if blob.Version != userKeyVersion {
		return nil, fmt.Errorf("%w: unsupported user key version %d", medx.ErrMalformedCiphertext, blob.Version)
	}
	got, err := base64.StdEncoding.DecodeString(blob.MAC)
	if err != nil || !security.Equal(got, a.userKeyMAC(blob)) {
		return nil, fmt.Errorf("%w: user key was not issued by this authority", medx.ErrDecryptionDenied)
	}

	attrs := make([]medx.Attribute, len(blob.Attributes))
	for i, s := range blob.Attributes {
		attrs[i] = medx.Attribute(s)
	}
	return medx.NewAttributeSet(attrs...), nil
}

// Encrypt seals the plaintext under req.Policy, or under the registry
// policy of req.Entity.req.Field when the request carries none.
func (a *AttributeAuthority) Encrypt(ctx context.Context, req medx.AttributeEncryptRequest) (medx.AttributeCiphertext, error) {
	policy, err := a.policyFor(req)
	if err != nil {
		return medx.AttributeCiphertext{}, err
	}

	dek, err := security.RandomBytes(32)
	if err != nil {
		return medx.AttributeCiphertext{}, fmt.Errorf("%w: generate data key: %v", medx.ErrEncryptionFailed, err)
	}
	defer security.ZeroBytes(dek)
	aad, err := json.Marshal(policy)
	if err != nil {
		return medx.AttributeCiphertext{}, fmt.Errorf("%w: encode policy: %v", medx.ErrEncryptionFailed, err)
	}

	wrapped, err := seal(a.wrapKey, dek, aad)
	if err != nil {
		return medx.AttributeCiphertext{}, fmt.Errorf("%w: wrap data key: %v", medx.ErrEncryptionFailed, err)
	}
	data, err := seal(dek, []byte(req.Plaintext), aad)
	if err != nil {
		return medx.AttributeCiphertext{}, fmt.Errorf("%w: %v", medx.ErrEncryptionFailed, err)
	}

	raw, err := json.Marshal(envelope{
		Version:    envelopeVersion,
		Policy:     policy,
		WrappedDEK: base64.StdEncoding.EncodeToString(wrapped),
		Data:       base64.StdEncoding.EncodeToString(data),
	})
	if err != nil {
		return medx.AttributeCiphertext{}, fmt.Errorf("%w: encode envelope: %v", medx.ErrEncryptionFailed, err)
	}
	return medx.AttributeCiphertext{
		Ciphertext: base64.StdEncoding.EncodeToString(raw),
		Policy:     policy,
	}, nil
}

func (a *AttributeAuthority) policyFor(req medx.AttributeEncryptRequest) (medx.Policy, error) {
	policy := req.Policy
	if len(policy) == 0 && a.registry != nil {
		if fp := a.registry.PolicyFor(req.Entity, req.Field); fp.Scheme == medx.SchemeAttribute {
			policy = fp.Policy
		}
	}
	policy = policy.Normalize()
	if len(policy) == 0 {
		return nil, fmt.Errorf("%w: no policy for %s.%s", medx.ErrEncryptionFailed, req.Entity, req.Field)
	}
	if policy.HasPlaceholder() {
		resolved, err := policy.Resolve(req.Qualifier)
		if err != nil {
			return nil, medx.NewMissingQualifierError(req.Entity, req.Field)
		}
		policy = resolved
	}
	return policy, nil
}

// Decrypt opens ciphertext when the attributes of key satisfy the policy
// embedded in the envelope.
func (a *AttributeAuthority) Decrypt(ctx context.Context, ciphertext string, key medx.UserKey) (string, error) {
	env, err := parseEnvelope(ciphertext)
	if err != nil {
		return "", err
	}
	attrs, err := a.parseUserKey(key)
	if err != nil {
		return "", err
	}
	if !env.Policy.Satisfied(attrs) {
		return "", fmt.Errorf("%w: key attributes do not satisfy %s", medx.ErrDecryptionDenied, env.Policy)
	}

	aad, err := json.Marshal(env.Policy)
	if err != nil {
		return "", fmt.Errorf("%w: encode policy: %v", medx.ErrMalformedCiphertext, err)
	}
	wrapped, err := base64.StdEncoding.DecodeString(env.WrappedDEK)
	if err != nil {
		return "", fmt.Errorf("%w: wrapped key is not base64", medx.ErrMalformedCiphertext)
	}
	dek, err := open(a.wrapKey, wrapped, aad)
	if err != nil {
		return "", fmt.Errorf("%w: key or data corrupted", medx.ErrMalformedCiphertext)
	}
	defer security.ZeroBytes(dek)
	data, err := base64.StdEncoding.DecodeString(env.Data)
	if err != nil {
		return "", fmt.Errorf("%w: data is not base64", medx.ErrMalformedCiphertext)
	}
	plaintext, err := open(dek, data, aad)
	if err != nil {
		return "", fmt.Errorf("%w: key or data corrupted", medx.ErrMalformedCiphertext)
	}
	return string(plaintext), nil
}

func parseEnvelope(ciphertext string) (envelope, error) {
	raw, err := base64.StdEncoding.DecodeString(ciphertext)
	if err != nil {
		return envelope{}, fmt.Errorf("%w: ciphertext is not base64", medx.ErrMalformedCiphertext)
	}
	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return envelope{}, fmt.Errorf("%w: %v", medx.ErrMalformedCiphertext, err)
	}
	if env.Version != envelopeVersion {
		return envelope{}, fmt.Errorf("%w: unsupported envelope version %d", medx.ErrMalformedCiphertext, env.Version)
	}
	if len(env.Policy) == 0 {
		return envelope{}, fmt.Errorf("%w: envelope has no policy", medx.ErrMalformedCiphertext)
	}
	return env, nil
}

func seal(key, plaintext, aad []byte) ([]byte, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("failed to create AES cipher: %w", err)
	}
	aesGCM, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("failed to create GCM: %w", err)
	}
	nonce := make([]byte, aesGCM.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, fmt.Errorf("failed to generate nonce: %w", err)
	}
	return aesGCM.Seal(nonce, nonce, plaintext, aad), nil
}

func open(key, ciphertext, aad []byte) ([]byte, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("failed to create AES cipher: %w", err)
	}
	aesGCM, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("failed to create GCM: %w", err)
	}
	nonceSize := aesGCM.NonceSize()
	if len(ciphertext) < nonceSize {
		return nil, fmt.Errorf("invalid ciphertext size")
	}
	nonce, body := ciphertext[:nonceSize], ciphertext[nonceSize:]
	return aesGCM.Open(nil, nonce, body, aad)
}
