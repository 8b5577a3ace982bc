package medx

import "time"

// Master key constants
const (
	// MasterKeyLength is the required length of the in-process authority
	// master secret in bytes.
	MasterKeyLength = 32

	// DefaultMasterKeyAlias is the alias used when none is configured.
	DefaultMasterKeyAlias = "medx"
)

// Storage path templates for the master key.
const (
	// VaultMasterKeyPathTemplate is the Vault KV v2 path, "/data/" included.
	VaultMasterKeyPathTemplate = "secret/data/medx/%s/master-key"

	// AWSMasterKeyPathTemplate is the AWS Secrets Manager secret name.
	AWSMasterKeyPathTemplate = "medx/%s/master-key"
)

// Environment variable names
const (
	// EnvABEBaseURL points at the attribute-based encryption service. When
	// empty the in-process authority is used.
	EnvABEBaseURL = "MEDX_ABE_BASE_URL"

	// EnvIBEBaseURL points at the identity-based encryption service. When
	// empty the in-process authority is used.
	EnvIBEBaseURL = "MEDX_IBE_BASE_URL"

	// EnvCallTimeout bounds each key service call, e.g. "5s".
	EnvCallTimeout = "MEDX_CALL_TIMEOUT"

	// EnvMaxConcurrency bounds key service calls in flight per operation.
	EnvMaxConcurrency = "MEDX_MAX_CONCURRENCY"

	// EnvRetryMaxAttempts is the number of attempts for retryable calls.
	EnvRetryMaxAttempts = "MEDX_RETRY_MAX_ATTEMPTS"

	// EnvUngovernedFields is "open" or "deny".
	EnvUngovernedFields = "MEDX_UNGOVERNED_FIELDS"

	// EnvPolicyFile is an optional YAML policy table replacing the default.
	EnvPolicyFile = "MEDX_POLICY_FILE"

	// EnvAuthzPolicyFile is an optional casbin CSV file replacing the
	// default role permissions.
	EnvAuthzPolicyFile = "MEDX_AUTHZ_POLICY_FILE"

	// EnvDBPath is the SQLite database file of the record store.
	EnvDBPath = "MEDX_DB_PATH"

	// EnvMasterKeyAlias names the master key of the in-process authority.
	EnvMasterKeyAlias = "MEDX_MASTER_KEY_ALIAS"

	// EnvMasterKeyBackend is "vault", "aws" or "memory".
	EnvMasterKeyBackend = "MEDX_MASTER_KEY_BACKEND"

	// EnvSealerBackend is "none", "vault" or "aws".
	EnvSealerBackend = "MEDX_SEALER_BACKEND"

	// EnvSealerKeyID is the Transit key name or KMS key id used for sealing.
	EnvSealerKeyID = "MEDX_SEALER_KEY_ID"

	// EnvAWSRegion overrides the AWS region for KMS and Secrets Manager.
	EnvAWSRegion = "MEDX_AWS_REGION"

	// EnvLogLevel is debug, info, warn or error.
	EnvLogLevel = "MEDX_LOG_LEVEL"

	// EnvLogFormat is json or text.
	EnvLogFormat = "MEDX_LOG_FORMAT"

	// EnvLogFile enables rotating file output at the given path.
	EnvLogFile = "MEDX_LOG_FILE"
)

// Default values
const (
	DefaultCallTimeout       = 5 * time.Second
	DefaultMaxConcurrency    = 8
	DefaultRetryMaxAttempts  = 3
	DefaultRetryInitialDelay = 100 * time.Millisecond
	DefaultRetryMaxDelay     = 2 * time.Second
	DefaultDBPath            = ".medx/records.db"
	DefaultLogLevel          = "info"
	DefaultLogFormat         = "json"
)

// Backend names
const (
	BackendNone   = "none"
	BackendMemory = "memory"
	BackendVault  = "vault"
	BackendAWS    = "aws"
)
