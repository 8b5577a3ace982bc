package hashicorp

import (
	"context"
	"encoding/base64"
	"fmt"

	"github.com/hashicorp/vault/api"

	"github.com/hengadev/medx"
	"github.com/hengadev/medx/internal/vaultclient"
)

// KVStore implements medx.MasterKeyStore using Vault KV v2.
type KVStore struct {
	client *api.Client
}

// NewKVStore connects to Vault with cfg.
func NewKVStore(ctx context.Context, cfg vaultclient.Config) (*KVStore, error) {
	client, err := vaultclient.New(ctx, cfg)
	if err != nil {
		return nil, err
	}
	return NewKVStoreFromClient(client), nil
}

func NewKVStoreFromClient(client *api.Client) *KVStore {
	return &KVStore{client: client}
}

// GetStoragePath returns the KV v2 path for alias. The "/data/" segment is
// required by the KV v2 API.
func (k *KVStore) GetStoragePath(alias string) string {
	return fmt.Sprintf(medx.VaultMasterKeyPathTemplate, alias)
}

// StoreMasterKey writes a new version of the key.
func (k *KVStore) StoreMasterKey(ctx context.Context, alias string, key []byte) error {
	if len(key) != medx.MasterKeyLength {
		return fmt.Errorf("%w: master key must be exactly %d bytes, got %d",
			medx.ErrInvalidConfiguration, medx.MasterKeyLength, len(key))
	}

	// KV v2 requires data to be wrapped in a "data" key
	data := map[string]any{
		"data": map[string]any{
			"value": base64.StdEncoding.EncodeToString(key),
		},
	}
	if _, err := k.client.Logical().WriteWithContext(ctx, k.GetStoragePath(alias), data); err != nil {
		return fmt.Errorf("%w: failed to store master key in Vault KV: %w", medx.ErrSecretStorageUnavailable, err)
	}
	return nil
}

func (k *KVStore) GetMasterKey(ctx context.Context, alias string) ([]byte, error) {
	value, found, err := k.read(ctx, alias)
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, fmt.Errorf("%w: master key not found for alias: %s", medx.ErrSecretStorageUnavailable, alias)
	}

	key, err := base64.StdEncoding.DecodeString(value)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to decode master key: %w", medx.ErrSecretStorageUnavailable, err)
	}
	if len(key) != medx.MasterKeyLength {
		return nil, fmt.Errorf("%w: invalid master key length: expected %d bytes, got %d",
			medx.ErrSecretStorageUnavailable, medx.MasterKeyLength, len(key))
	}
	return key, nil
}

// MasterKeyExists returns an error only for read failures; a missing
// secret reports false.
func (k *KVStore) MasterKeyExists(ctx context.Context, alias string) (bool, error) {
	_, found, err := k.read(ctx, alias)
	return found, err
}

func (k *KVStore) read(ctx context.Context, alias string) (string, bool, error) {
	secret, err := k.client.Logical().ReadWithContext(ctx, k.GetStoragePath(alias))
	if err != nil {
		return "", false, fmt.Errorf("%w: failed to read master key from Vault KV: %w", medx.ErrSecretStorageUnavailable, err)
	}
	if secret == nil || secret.Data == nil {
		return "", false, nil
	}

	// KV v2 wraps the actual data in a "data" key; a soft-deleted version
	// has it set to null.
	data, ok := secret.Data["data"].(map[string]any)
	if !ok {
		return "", false, nil
	}
	value, ok := data["value"].(string)
	return value, ok, nil
}

var _ medx.MasterKeyStore = (*KVStore)(nil)
