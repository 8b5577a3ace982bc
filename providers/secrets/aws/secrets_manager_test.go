package aws

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/secretsmanager"
	"github.com/aws/aws-sdk-go-v2/service/secretsmanager/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hengadev/medx"
)

// mockSecretsManager keeps secrets in a map.
type mockSecretsManager struct {
	mu      sync.Mutex
	secrets map[string]string
	puts    int
	err     error
}

func newMockSecretsManager() *mockSecretsManager {
	return &mockSecretsManager{secrets: make(map[string]string)}
}

func (m *mockSecretsManager) CreateSecret(ctx context.Context, params *secretsmanager.CreateSecretInput, optFns ...func(*secretsmanager.Options)) (*secretsmanager.CreateSecretOutput, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.secrets[*params.Name] = *params.SecretString
	return &secretsmanager.CreateSecretOutput{Name: params.Name}, nil
}

func (m *mockSecretsManager) GetSecretValue(ctx context.Context, params *secretsmanager.GetSecretValueInput, optFns ...func(*secretsmanager.Options)) (*secretsmanager.GetSecretValueOutput, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.secrets[*params.SecretId]
	if !ok {
		return nil, &types.ResourceNotFoundException{Message: aws.String("not found")}
	}
	return &secretsmanager.GetSecretValueOutput{SecretString: aws.String(v)}, nil
}

func (m *mockSecretsManager) PutSecretValue(ctx context.Context, params *secretsmanager.PutSecretValueInput, optFns ...func(*secretsmanager.Options)) (*secretsmanager.PutSecretValueOutput, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.puts++
	m.secrets[*params.SecretId] = *params.SecretString
	return &secretsmanager.PutSecretValueOutput{}, nil
}

func (m *mockSecretsManager) DescribeSecret(ctx context.Context, params *secretsmanager.DescribeSecretInput, optFns ...func(*secretsmanager.Options)) (*secretsmanager.DescribeSecretOutput, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return nil, m.err
	}
	if _, ok := m.secrets[*params.SecretId]; !ok {
		return nil, &types.ResourceNotFoundException{Message: aws.String("not found")}
	}
	return &secretsmanager.DescribeSecretOutput{Name: params.SecretId}, nil
}

func TestSecretsManagerStore_GetStoragePath(t *testing.T) {
	s := &SecretsManagerStore{client: newMockSecretsManager()}
	assert.Equal(t, "medx/records/master-key", s.GetStoragePath("records"))
}

func TestSecretsManagerStore_StoreAndGet(t *testing.T) {
	ctx := context.Background()
	mock := newMockSecretsManager()
	s := &SecretsManagerStore{client: mock, region: "eu-west-3"}

	exists, err := s.MasterKeyExists(ctx, "records")
	require.NoError(t, err)
	assert.False(t, exists)

	key, err := medx.GenerateMasterKey()
	require.NoError(t, err)
	require.NoError(t, s.StoreMasterKey(ctx, "records", key))

	exists, err = s.MasterKeyExists(ctx, "records")
	require.NoError(t, err)
	assert.True(t, exists)

	got, err := s.GetMasterKey(ctx, "records")
	require.NoError(t, err)
	assert.Equal(t, key, got)

	rotated, err := medx.GenerateMasterKey()
	require.NoError(t, err)
	require.NoError(t, s.StoreMasterKey(ctx, "records", rotated))
	assert.Equal(t, 1, mock.puts)
	assert.Equal(t, "eu-west-3", s.Region())
}

func TestSecretsManagerStore_Errors(t *testing.T) {
	ctx := context.Background()

	t.Run("wrong key length", func(t *testing.T) {
		s := &SecretsManagerStore{client: newMockSecretsManager()}
		err := s.StoreMasterKey(ctx, "records", []byte("short"))
		assert.ErrorIs(t, err, medx.ErrInvalidConfiguration)
	})

	t.Run("missing secret", func(t *testing.T) {
		s := &SecretsManagerStore{client: newMockSecretsManager()}
		_, err := s.GetMasterKey(ctx, "records")
		assert.ErrorIs(t, err, medx.ErrSecretStorageUnavailable)
	})

	t.Run("corrupt secret", func(t *testing.T) {
		mock := newMockSecretsManager()
		mock.secrets["medx/records/master-key"] = "c2hvcnQ="
		s := &SecretsManagerStore{client: mock}
		_, err := s.GetMasterKey(ctx, "records")
		assert.ErrorIs(t, err, medx.ErrSecretStorageUnavailable)
	})

	t.Run("describe failure", func(t *testing.T) {
		mock := newMockSecretsManager()
		mock.err = errors.New("throttled")
		s := &SecretsManagerStore{client: mock}
		_, err := s.MasterKeyExists(ctx, "records")
		assert.ErrorIs(t, err, medx.ErrSecretStorageUnavailable)
		assert.True(t, medx.IsRetryableError(err))
	})
}

func TestLoadOrCreateMasterKey_SecretsManager(t *testing.T) {
	ctx := context.Background()
	s := &SecretsManagerStore{client: newMockSecretsManager()}

	first, err := medx.LoadOrCreateMasterKey(ctx, s, "records")
	require.NoError(t, err)
	second, err := medx.LoadOrCreateMasterKey(ctx, s, "records")
	require.NoError(t, err)
	assert.Equal(t, first, second)
}
