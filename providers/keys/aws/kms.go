package aws

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/kms"
	"github.com/aws/aws-sdk-go-v2/service/kms/types"

	"github.com/hengadev/medx"
)

const (
	contextKey     = "purpose"
	contextPurpose = "medx-key-material"
)

// kmsClient is the subset of the KMS API the sealer uses.
type kmsClient interface {
	DescribeKey(ctx context.Context, params *kms.DescribeKeyInput, optFns ...func(*kms.Options)) (*kms.DescribeKeyOutput, error)
	Encrypt(ctx context.Context, params *kms.EncryptInput, optFns ...func(*kms.Options)) (*kms.EncryptOutput, error)
	Decrypt(ctx context.Context, params *kms.DecryptInput, optFns ...func(*kms.Options)) (*kms.DecryptOutput, error)
}

// Config holds configuration for the KMS sealer.
type Config struct {
	// Region is the AWS region (e.g., "eu-west-3").
	// If empty, uses AWS_REGION or the shared AWS config file.
	Region string

	// KeyID names the KMS key used for sealing.
	KeyID string

	// AWSConfig is an optional pre-configured AWS config.
	// If provided, Region is ignored.
	AWSConfig *aws.Config
}

// KMSSealer implements medx.KeySealer with a symmetric KMS key.
type KMSSealer struct {
	client kmsClient
	keyID  string
	region string
}

func NewKMSSealer(ctx context.Context, cfg Config) (*KMSSealer, error) {
	if cfg.KeyID == "" {
		return nil, fmt.Errorf("%w: KMS key id cannot be empty", medx.ErrInvalidConfiguration)
	}

	var awsConfig aws.Config
	if cfg.AWSConfig != nil {
		awsConfig = *cfg.AWSConfig
	} else {
		var opts []func(*config.LoadOptions) error
		if cfg.Region != "" {
			opts = append(opts, config.WithRegion(cfg.Region))
		}
		var err error
		awsConfig, err = config.LoadDefaultConfig(ctx, opts...)
		if err != nil {
			return nil, fmt.Errorf("%w: failed to load AWS config: %w", medx.ErrKeyServiceUnavailable, err)
		}
	}

	return &KMSSealer{
		client: kms.NewFromConfig(awsConfig),
		keyID:  normalizeKeyID(cfg.KeyID),
		region: awsConfig.Region,
	}, nil
}

// normalizeKeyID adds the "alias/" prefix to bare names. Key ids, ARNs and
// prefixed aliases are returned as is.
func normalizeKeyID(id string) string {
	switch {
	case strings.HasPrefix(id, "alias/"), strings.HasPrefix(id, "arn:"):
		return id
	case isKeyUUID(id):
		return id
	default:
		return "alias/" + id
	}
}

func isKeyUUID(id string) bool {
	return len(id) == 36 && strings.Count(id, "-") == 4
}

// ResolveKeyID returns the id of the key the configured alias points to.
// It doubles as a startup check that the key exists and is reachable.
func (k *KMSSealer) ResolveKeyID(ctx context.Context) (string, error) {
	result, err := k.client.DescribeKey(ctx, &kms.DescribeKeyInput{KeyId: aws.String(k.keyID)})
	if err != nil {
		return "", classify(fmt.Sprintf("describe KMS key %s", k.keyID), err)
	}
	if result.KeyMetadata == nil || result.KeyMetadata.KeyId == nil {
		return "", fmt.Errorf("%w: no key metadata returned for %s", medx.ErrKeyServiceUnavailable, k.keyID)
	}
	if !result.KeyMetadata.Enabled {
		return "", fmt.Errorf("%w: KMS key %s is disabled", medx.ErrInvalidConfiguration, k.keyID)
	}
	return *result.KeyMetadata.KeyId, nil
}

// Seal returns the base64-encoded ciphertext blob.
func (k *KMSSealer) Seal(ctx context.Context, plaintext []byte) ([]byte, error) {
	if len(plaintext) == 0 {
		return nil, fmt.Errorf("%w: plaintext cannot be empty", medx.ErrEncryptionFailed)
	}

	result, err := k.client.Encrypt(ctx, &kms.EncryptInput{
		KeyId:             aws.String(k.keyID),
		Plaintext:         plaintext,
		EncryptionContext: map[string]string{contextKey: contextPurpose},
	})
	if err != nil {
		return nil, classify(fmt.Sprintf("seal with KMS key %s", k.keyID), err)
	}
	if result.CiphertextBlob == nil {
		return nil, fmt.Errorf("%w: no ciphertext returned from KMS", medx.ErrEncryptionFailed)
	}

	// KMS returns raw bytes; base64 keeps the value storable as text
	return []byte(base64.StdEncoding.EncodeToString(result.CiphertextBlob)), nil
}

func (k *KMSSealer) Open(ctx context.Context, sealed []byte) ([]byte, error) {
	if len(sealed) == 0 {
		return nil, fmt.Errorf("%w: sealed value cannot be empty", medx.ErrMalformedCiphertext)
	}
	blob, err := base64.StdEncoding.DecodeString(string(sealed))
	if err != nil {
		return nil, fmt.Errorf("%w: failed to decode sealed value: %w", medx.ErrMalformedCiphertext, err)
	}

	result, err := k.client.Decrypt(ctx, &kms.DecryptInput{
		KeyId:             aws.String(k.keyID),
		CiphertextBlob:    blob,
		EncryptionContext: map[string]string{contextKey: contextPurpose},
	})
	if err != nil {
		return nil, classify("open with KMS", err)
	}
	if result.Plaintext == nil {
		return nil, fmt.Errorf("%w: no plaintext returned from KMS", medx.ErrDecryptionFailed)
	}
	return result.Plaintext, nil
}

func (k *KMSSealer) Region() string {
	return k.region
}

func classify(op string, err error) error {
	var (
		invalidCiphertext *types.InvalidCiphertextException
		incorrectKey      *types.IncorrectKeyException
		notFound          *types.NotFoundException
		disabled          *types.DisabledException
		invalidUsage      *types.InvalidKeyUsageException
	)
	switch {
	case errors.As(err, &invalidCiphertext), errors.As(err, &incorrectKey):
		return fmt.Errorf("%w: %s: %w", medx.ErrMalformedCiphertext, op, err)
	case errors.As(err, &notFound), errors.As(err, &disabled), errors.As(err, &invalidUsage):
		return fmt.Errorf("%w: %s: %w", medx.ErrInvalidConfiguration, op, err)
	default:
		return fmt.Errorf("%w: %s: %w", medx.ErrKeyServiceUnavailable, op, err)
	}
}

var _ medx.KeySealer = (*KMSSealer)(nil)
