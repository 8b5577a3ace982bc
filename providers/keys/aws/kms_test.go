package aws

import (
	"bytes"
	"context"
	"encoding/base64"
	"errors"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/kms"
	"github.com/aws/aws-sdk-go-v2/service/kms/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hengadev/medx"
)

// Mock KMS client for testing
type mockKMSClient struct {
	describeKeyFunc func(ctx context.Context, params *kms.DescribeKeyInput, optFns ...func(*kms.Options)) (*kms.DescribeKeyOutput, error)
	encryptFunc     func(ctx context.Context, params *kms.EncryptInput, optFns ...func(*kms.Options)) (*kms.EncryptOutput, error)
	decryptFunc     func(ctx context.Context, params *kms.DecryptInput, optFns ...func(*kms.Options)) (*kms.DecryptOutput, error)
}

func (m *mockKMSClient) DescribeKey(ctx context.Context, params *kms.DescribeKeyInput, optFns ...func(*kms.Options)) (*kms.DescribeKeyOutput, error) {
	if m.describeKeyFunc != nil {
		return m.describeKeyFunc(ctx, params, optFns...)
	}
	return &kms.DescribeKeyOutput{}, nil
}

// Encrypt and Decrypt default to a reversible "blob:" prefix.
func (m *mockKMSClient) Encrypt(ctx context.Context, params *kms.EncryptInput, optFns ...func(*kms.Options)) (*kms.EncryptOutput, error) {
	if m.encryptFunc != nil {
		return m.encryptFunc(ctx, params, optFns...)
	}
	return &kms.EncryptOutput{CiphertextBlob: append([]byte("blob:"), params.Plaintext...)}, nil
}

func (m *mockKMSClient) Decrypt(ctx context.Context, params *kms.DecryptInput, optFns ...func(*kms.Options)) (*kms.DecryptOutput, error) {
	if m.decryptFunc != nil {
		return m.decryptFunc(ctx, params, optFns...)
	}
	if params.EncryptionContext[contextKey] != contextPurpose {
		return nil, &types.InvalidCiphertextException{Message: aws.String("context mismatch")}
	}
	plaintext, ok := bytes.CutPrefix(params.CiphertextBlob, []byte("blob:"))
	if !ok {
		return nil, &types.InvalidCiphertextException{Message: aws.String("bad blob")}
	}
	return &kms.DecryptOutput{Plaintext: plaintext}, nil
}

func TestNewKMSSealer(t *testing.T) {
	ctx := context.Background()

	_, err := NewKMSSealer(ctx, Config{Region: "eu-west-3"})
	assert.ErrorIs(t, err, medx.ErrInvalidConfiguration)

	sealer, err := NewKMSSealer(ctx, Config{KeyID: "medx-keys", AWSConfig: &aws.Config{Region: "eu-west-3"}})
	require.NoError(t, err)
	assert.Equal(t, "eu-west-3", sealer.Region())
	assert.Equal(t, "alias/medx-keys", sealer.keyID)
}

func TestNormalizeKeyID(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"medx-keys", "alias/medx-keys"},
		{"alias/medx-keys", "alias/medx-keys"},
		{"1234abcd-12ab-34cd-56ef-1234567890ab", "1234abcd-12ab-34cd-56ef-1234567890ab"},
		{"arn:aws:kms:eu-west-3:123456789012:key/1234abcd-12ab-34cd-56ef-1234567890ab", "arn:aws:kms:eu-west-3:123456789012:key/1234abcd-12ab-34cd-56ef-1234567890ab"},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			assert.Equal(t, tt.want, normalizeKeyID(tt.in))
		})
	}
}

func TestKMSSealer_SealOpen(t *testing.T) {
	ctx := context.Background()
	sealer := &KMSSealer{client: &mockKMSClient{}, keyID: "alias/medx-keys"}

	sealed, err := sealer.Seal(ctx, []byte("user-key"))
	require.NoError(t, err)
	assert.Equal(t, base64.StdEncoding.EncodeToString([]byte("blob:user-key")), string(sealed))

	opened, err := sealer.Open(ctx, sealed)
	require.NoError(t, err)
	assert.Equal(t, []byte("user-key"), opened)
}

func TestKMSSealer_Errors(t *testing.T) {
	ctx := context.Background()

	tests := []struct {
		name string
		mock *mockKMSClient
		call func(*KMSSealer) error
		want error
	}{
		{
			name: "empty plaintext",
			mock: &mockKMSClient{},
			call: func(s *KMSSealer) error { _, err := s.Seal(ctx, nil); return err },
			want: medx.ErrEncryptionFailed,
		},
		{
			name: "not base64",
			mock: &mockKMSClient{},
			call: func(s *KMSSealer) error { _, err := s.Open(ctx, []byte("%%%")); return err },
			want: medx.ErrMalformedCiphertext,
		},
		{
			name: "invalid ciphertext",
			mock: &mockKMSClient{},
			call: func(s *KMSSealer) error {
				_, err := s.Open(ctx, []byte(base64.StdEncoding.EncodeToString([]byte("other"))))
				return err
			},
			want: medx.ErrMalformedCiphertext,
		},
		{
			name: "unknown key",
			mock: &mockKMSClient{encryptFunc: func(ctx context.Context, params *kms.EncryptInput, optFns ...func(*kms.Options)) (*kms.EncryptOutput, error) {
				return nil, &types.NotFoundException{Message: aws.String("alias not found")}
			}},
			call: func(s *KMSSealer) error { _, err := s.Seal(ctx, []byte("x")); return err },
			want: medx.ErrInvalidConfiguration,
		},
		{
			name: "network failure",
			mock: &mockKMSClient{encryptFunc: func(ctx context.Context, params *kms.EncryptInput, optFns ...func(*kms.Options)) (*kms.EncryptOutput, error) {
				return nil, errors.New("dial tcp: i/o timeout")
			}},
			call: func(s *KMSSealer) error { _, err := s.Seal(ctx, []byte("x")); return err },
			want: medx.ErrKeyServiceUnavailable,
		},
		{
			name: "nil ciphertext blob",
			mock: &mockKMSClient{encryptFunc: func(ctx context.Context, params *kms.EncryptInput, optFns ...func(*kms.Options)) (*kms.EncryptOutput, error) {
				return &kms.EncryptOutput{}, nil
			}},
			call: func(s *KMSSealer) error { _, err := s.Seal(ctx, []byte("x")); return err },
			want: medx.ErrEncryptionFailed,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.call(&KMSSealer{client: tt.mock, keyID: "alias/medx-keys"})
			assert.ErrorIs(t, err, tt.want)
		})
	}
}

func TestKMSSealer_ResolveKeyID(t *testing.T) {
	ctx := context.Background()

	tests := []struct {
		name     string
		metadata *types.KeyMetadata
		err      error
		want     string
		wantErr  error
	}{
		{
			name:     "enabled key",
			metadata: &types.KeyMetadata{KeyId: aws.String("1234abcd-12ab-34cd-56ef-1234567890ab"), Enabled: true},
			want:     "1234abcd-12ab-34cd-56ef-1234567890ab",
		},
		{
			name:     "disabled key",
			metadata: &types.KeyMetadata{KeyId: aws.String("1234abcd-12ab-34cd-56ef-1234567890ab")},
			wantErr:  medx.ErrInvalidConfiguration,
		},
		{
			name:    "missing metadata",
			wantErr: medx.ErrKeyServiceUnavailable,
		},
		{
			name:    "alias not found",
			err:     &types.NotFoundException{Message: aws.String("alias/medx-keys is not found")},
			wantErr: medx.ErrInvalidConfiguration,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mock := &mockKMSClient{describeKeyFunc: func(ctx context.Context, params *kms.DescribeKeyInput, optFns ...func(*kms.Options)) (*kms.DescribeKeyOutput, error) {
				assert.Equal(t, "alias/medx-keys", *params.KeyId)
				if tt.err != nil {
					return nil, tt.err
				}
				return &kms.DescribeKeyOutput{KeyMetadata: tt.metadata}, nil
			}}
			id, err := (&KMSSealer{client: mock, keyID: "alias/medx-keys"}).ResolveKeyID(ctx)
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, id)
		})
	}
}
