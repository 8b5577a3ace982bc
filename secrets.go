package medx

import (
	"context"
	"fmt"
	"slices"
	"sync"

	"github.com/hengadev/medx/internal/security"
)

// InMemoryMasterKeyStore keeps master keys in process memory. It is meant
// for tests and single-process development setups.
type InMemoryMasterKeyStore struct {
	mu   sync.RWMutex
	keys map[string][]byte
}

func NewInMemoryMasterKeyStore() *InMemoryMasterKeyStore {
	return &InMemoryMasterKeyStore{keys: make(map[string][]byte)}
}

func (s *InMemoryMasterKeyStore) StoreMasterKey(ctx context.Context, alias string, key []byte) error {
	if len(key) != MasterKeyLength {
		return fmt.Errorf("%w: master key must be exactly %d bytes, got %d",
			ErrInvalidConfiguration, MasterKeyLength, len(key))
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.keys[alias] = slices.Clone(key)
	return nil
}

func (s *InMemoryMasterKeyStore) GetMasterKey(ctx context.Context, alias string) ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	key, ok := s.keys[alias]
	if !ok {
		return nil, fmt.Errorf("%w: master key not found for alias: %s", ErrSecretStorageUnavailable, alias)
	}
	return slices.Clone(key), nil
}

func (s *InMemoryMasterKeyStore) MasterKeyExists(ctx context.Context, alias string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.keys[alias]
	return ok, nil
}

func (s *InMemoryMasterKeyStore) GetStoragePath(alias string) string {
	return "memory://" + alias
}

// GenerateMasterKey returns a fresh random master key.
func GenerateMasterKey() ([]byte, error) {
	key, err := security.RandomBytes(MasterKeyLength)
	if err != nil {
		return nil, fmt.Errorf("generate master key: %w", err)
	}
	return key, nil
}

// LoadOrCreateMasterKey returns the key stored under alias, generating and
// storing one on first use.
func LoadOrCreateMasterKey(ctx context.Context, store MasterKeyStore, alias string) ([]byte, error) {
	exists, err := store.MasterKeyExists(ctx, alias)
	if err != nil {
		return nil, err
	}
	if exists {
		return store.GetMasterKey(ctx, alias)
	}

	key, err := GenerateMasterKey()
	if err != nil {
		return nil, err
	}
	if err := store.StoreMasterKey(ctx, alias, key); err != nil {
		return nil, err
	}
	return key, nil
}
