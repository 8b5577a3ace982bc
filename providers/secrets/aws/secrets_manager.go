package aws

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/secretsmanager"
	"github.com/aws/aws-sdk-go-v2/service/secretsmanager/types"

	"github.com/hengadev/medx"
)

// secretsManagerClient is the subset of the Secrets Manager API the store
// uses.
type secretsManagerClient interface {
	CreateSecret(ctx context.Context, params *secretsmanager.CreateSecretInput, optFns ...func(*secretsmanager.Options)) (*secretsmanager.CreateSecretOutput, error)
	GetSecretValue(ctx context.Context, params *secretsmanager.GetSecretValueInput, optFns ...func(*secretsmanager.Options)) (*secretsmanager.GetSecretValueOutput, error)
	PutSecretValue(ctx context.Context, params *secretsmanager.PutSecretValueInput, optFns ...func(*secretsmanager.Options)) (*secretsmanager.PutSecretValueOutput, error)
	DescribeSecret(ctx context.Context, params *secretsmanager.DescribeSecretInput, optFns ...func(*secretsmanager.Options)) (*secretsmanager.DescribeSecretOutput, error)
}

// SecretsManagerStore implements medx.MasterKeyStore.
type SecretsManagerStore struct {
	client secretsManagerClient
	region string
}

// NewSecretsManagerStore loads the AWS configuration and returns a store.
//
//	store, err := aws.NewSecretsManagerStore(ctx, aws.Config{})
//	store, err := aws.NewSecretsManagerStore(ctx, aws.Config{Region: "eu-west-3"})
func NewSecretsManagerStore(ctx context.Context, cfg Config) (*SecretsManagerStore, error) {
	awsConfig, err := loadConfig(ctx, cfg)
	if err != nil {
		return nil, err
	}
	return &SecretsManagerStore{
		client: secretsmanager.NewFromConfig(awsConfig),
		region: awsConfig.Region,
	}, nil
}

func loadConfig(ctx context.Context, cfg Config) (aws.Config, error) {
	if cfg.AWSConfig != nil {
		return *cfg.AWSConfig, nil
	}
	var opts []func(*config.LoadOptions) error
	if cfg.Region != "" {
		opts = append(opts, config.WithRegion(cfg.Region))
	}
	awsConfig, err := config.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return aws.Config{}, fmt.Errorf("%w: failed to load AWS config: %w", medx.ErrSecretStorageUnavailable, err)
	}
	return awsConfig, nil
}

// GetStoragePath returns the secret name for alias, e.g.
// "medx/records/master-key".
func (s *SecretsManagerStore) GetStoragePath(alias string) string {
	return fmt.Sprintf(medx.AWSMasterKeyPathTemplate, alias)
}

// StoreMasterKey creates the secret or puts a new version of it.
func (s *SecretsManagerStore) StoreMasterKey(ctx context.Context, alias string, key []byte) error {
	if len(key) != medx.MasterKeyLength {
		return fmt.Errorf("%w: master key must be exactly %d bytes, got %d",
			medx.ErrInvalidConfiguration, medx.MasterKeyLength, len(key))
	}

	secretName := s.GetStoragePath(alias)
	encoded := base64.StdEncoding.EncodeToString(key)

	exists, err := s.MasterKeyExists(ctx, alias)
	if err != nil {
		return err
	}

	if exists {
		_, err = s.client.PutSecretValue(ctx, &secretsmanager.PutSecretValueInput{
			SecretId:     aws.String(secretName),
			SecretString: aws.String(encoded),
		})
		if err != nil {
			return fmt.Errorf("%w: failed to update master key in Secrets Manager: %w",
				medx.ErrSecretStorageUnavailable, err)
		}
		return nil
	}

	_, err = s.client.CreateSecret(ctx, &secretsmanager.CreateSecretInput{
		Name:         aws.String(secretName),
		Description:  aws.String(fmt.Sprintf("medx attribute authority master key for %s", alias)),
		SecretString: aws.String(encoded),
	})
	if err != nil {
		return fmt.Errorf("%w: failed to create master key in Secrets Manager: %w",
			medx.ErrSecretStorageUnavailable, err)
	}
	return nil
}

func (s *SecretsManagerStore) GetMasterKey(ctx context.Context, alias string) ([]byte, error) {
	result, err := s.client.GetSecretValue(ctx, &secretsmanager.GetSecretValueInput{
		SecretId: aws.String(s.GetStoragePath(alias)),
	})
	if err != nil {
		return nil, fmt.Errorf("%w: failed to get master key from Secrets Manager: %w",
			medx.ErrSecretStorageUnavailable, err)
	}
	if result.SecretString == nil {
		return nil, fmt.Errorf("%w: master key not found for alias: %s",
			medx.ErrSecretStorageUnavailable, alias)
	}

	key, err := base64.StdEncoding.DecodeString(*result.SecretString)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to decode master key: %w", medx.ErrSecretStorageUnavailable, err)
	}
	if len(key) != medx.MasterKeyLength {
		return nil, fmt.Errorf("%w: invalid master key length: expected %d bytes, got %d",
			medx.ErrSecretStorageUnavailable, medx.MasterKeyLength, len(key))
	}
	return key, nil
}

// MasterKeyExists reports false without error when the secret does not
// exist.
func (s *SecretsManagerStore) MasterKeyExists(ctx context.Context, alias string) (bool, error) {
	_, err := s.client.DescribeSecret(ctx, &secretsmanager.DescribeSecretInput{
		SecretId: aws.String(s.GetStoragePath(alias)),
	})
	if err != nil {
		var notFoundErr *types.ResourceNotFoundException
		if errors.As(err, &notFoundErr) {
			return false, nil
		}
		return false, fmt.Errorf("%w: failed to check if master key exists: %w",
			medx.ErrSecretStorageUnavailable, err)
	}
	return true, nil
}

// Region returns the AWS region of the store.
func (s *SecretsManagerStore) Region() string {
	return s.region
}

var _ medx.MasterKeyStore = (*SecretsManagerStore)(nil)
