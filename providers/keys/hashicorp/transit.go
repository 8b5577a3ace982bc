package hashicorp

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"net/http"

	"github.com/hashicorp/vault/api"

	"github.com/hengadev/medx"
	"github.com/hengadev/medx/internal/vaultclient"
)

// TransitSealer implements medx.KeySealer with a Vault Transit key.
type TransitSealer struct {
	client  *api.Client
	keyName string
}

// NewTransitSealer connects to Vault and seals with the Transit key
// keyName. The key is not created; call EnsureKey for that.
func NewTransitSealer(ctx context.Context, cfg vaultclient.Config, keyName string) (*TransitSealer, error) {
	client, err := vaultclient.New(ctx, cfg)
	if err != nil {
		return nil, err
	}
	return NewTransitSealerFromClient(client, keyName)
}

// NewTransitSealerFromClient uses an already authenticated client.
func NewTransitSealerFromClient(client *api.Client, keyName string) (*TransitSealer, error) {
	if client == nil {
		return nil, fmt.Errorf("%w: vault client is required", medx.ErrInvalidConfiguration)
	}
	if keyName == "" {
		return nil, fmt.Errorf("%w: transit key name cannot be empty", medx.ErrInvalidConfiguration)
	}
	return &TransitSealer{client: client, keyName: keyName}, nil
}

func (t *TransitSealer) KeyName() string {
	return t.keyName
}

// EnsureKey creates the Transit key when it does not exist yet. Writing an
// existing key is a no-op in Vault.
func (t *TransitSealer) EnsureKey(ctx context.Context) error {
	_, err := t.client.Logical().WriteWithContext(ctx, "transit/keys/"+t.keyName, map[string]any{
		"type": "aes256-gcm96",
	})
	if err != nil {
		return fmt.Errorf("%w: failed to create transit key '%s': %w", medx.ErrSecretStorageUnavailable, t.keyName, err)
	}
	return nil
}

// Seal returns Vault-formatted ciphertext, e.g. "vault:v1:...".
func (t *TransitSealer) Seal(ctx context.Context, plaintext []byte) ([]byte, error) {
	if len(plaintext) == 0 {
		return nil, fmt.Errorf("%w: plaintext cannot be empty", medx.ErrEncryptionFailed)
	}

	resp, err := t.client.Logical().WriteWithContext(ctx, "transit/encrypt/"+t.keyName, map[string]any{
		"plaintext": base64.StdEncoding.EncodeToString(plaintext),
	})
	if err != nil {
		return nil, fmt.Errorf("%w: failed to seal with key '%s': %w", medx.ErrKeyServiceUnavailable, t.keyName, err)
	}
	if resp == nil || resp.Data == nil {
		return nil, fmt.Errorf("%w: no response from Vault Transit encrypt", medx.ErrEncryptionFailed)
	}

	ciphertext, ok := resp.Data["ciphertext"].(string)
	if !ok {
		return nil, fmt.Errorf("%w: ciphertext not found in response", medx.ErrEncryptionFailed)
	}
	return []byte(ciphertext), nil
}

func (t *TransitSealer) Open(ctx context.Context, sealed []byte) ([]byte, error) {
	if len(sealed) == 0 {
		return nil, fmt.Errorf("%w: sealed value cannot be empty", medx.ErrMalformedCiphertext)
	}

	resp, err := t.client.Logical().WriteWithContext(ctx, "transit/decrypt/"+t.keyName, map[string]any{
		"ciphertext": string(sealed),
	})
	if err != nil {
		var respErr *api.ResponseError
		if errors.As(err, &respErr) && respErr.StatusCode == http.StatusBadRequest {
			return nil, fmt.Errorf("%w: vault rejected sealed value: %w", medx.ErrMalformedCiphertext, err)
		}
		return nil, fmt.Errorf("%w: failed to open with key '%s': %w", medx.ErrKeyServiceUnavailable, t.keyName, err)
	}
	if resp == nil || resp.Data == nil {
		return nil, fmt.Errorf("%w: no response from Vault Transit decrypt", medx.ErrDecryptionFailed)
	}

	plaintextBase64, ok := resp.Data["plaintext"].(string)
	if !ok {
		return nil, fmt.Errorf("%w: plaintext not found in response", medx.ErrDecryptionFailed)
	}
	plaintext, err := base64.StdEncoding.DecodeString(plaintextBase64)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to decode plaintext: %w", medx.ErrMalformedCiphertext, err)
	}
	return plaintext, nil
}

var _ medx.KeySealer = (*TransitSealer)(nil)
