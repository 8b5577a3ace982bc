package medx

import "context"

// AttributeKeyService is the client contract of the attribute-based
// encryption authority.
//
// Implementations must map transport failures and timeouts to
// ErrKeyServiceUnavailable, rejected attribute sets to ErrInvalidAttributes,
// policy mismatches on decrypt to ErrDecryptionDenied and corrupt
// envelopes to ErrMalformedCiphertext. Encrypt has no side effects and may
// be retried. Ciphertexts are non-deterministic.
type AttributeKeyService interface {
	// GenerateUserKey mints a decryption key bound to attrs.
	GenerateUserKey(ctx context.Context, attrs AttributeSet) (UserKey, error)

	// Encrypt seals req.Plaintext under a policy. The returned policy is
	// the one embedded in the envelope.
	Encrypt(ctx context.Context, req AttributeEncryptRequest) (AttributeCiphertext, error)

	// Decrypt opens ciphertext when key satisfies the embedded policy.
	Decrypt(ctx context.Context, ciphertext string, key UserKey) (string, error)
}

// IdentityKeyService is the client contract of the identity-based
// encryption authority.
type IdentityKeyService interface {
	// GenerateKeyPair mints fresh key material for namespace/recordID.
	GenerateKeyPair(ctx context.Context, namespace string, recordID string) (IdentityKeyPair, error)

	// Encrypt seals plaintext with the public half a.
	Encrypt(ctx context.Context, plaintext string, a string) (string, error)

	// Decrypt opens ciphertext with the pair (r, a). A mismatched r fails
	// with ErrDecryptionFailed.
	Decrypt(ctx context.Context, ciphertext string, r string, a string) (string, error)
}

// KeySealer protects secret key halves at rest.
type KeySealer interface {
	Seal(ctx context.Context, plaintext []byte) ([]byte, error)
	Open(ctx context.Context, sealed []byte) ([]byte, error)
}

// MasterKeyStore keeps the master secret of the in-process attribute
// authority.
type MasterKeyStore interface {
	// StoreMasterKey stores a 32-byte key under alias, replacing any
	// previous value.
	StoreMasterKey(ctx context.Context, alias string, key []byte) error

	// GetMasterKey returns the key stored under alias.
	GetMasterKey(ctx context.Context, alias string) ([]byte, error)

	// MasterKeyExists reports whether alias holds a key. A missing key is
	// not an error.
	MasterKeyExists(ctx context.Context, alias string) (bool, error)

	// GetStoragePath returns the backend location used for alias.
	GetStoragePath(alias string) string
}

// KeyMaterialReader reads the key material stored next to a record.
// A record without key material yields a zero KeyMaterial; a missing
// record yields ErrRecordNotFound.
type KeyMaterialReader interface {
	KeyMaterial(ctx context.Context, entity EntityType, id string) (KeyMaterial, error)
}

// RecordReader is the read side of the record store. Get and List never
// return key material.
type RecordReader interface {
	KeyMaterialReader
	Get(ctx context.Context, entity EntityType, id string) (*Record, error)
	List(ctx context.Context, entity EntityType) ([]*Record, error)
}

// RecordTx is a store transaction.
type RecordTx interface {
	RecordReader
	Insert(ctx context.Context, rec *Record) error
	Update(ctx context.Context, rec *Record) error
	Delete(ctx context.Context, entity EntityType, id string) error
	// DeleteByField removes every record of entity whose field equals
	// value, together with its key material.
	DeleteByField(ctx context.Context, entity EntityType, field, value string) (int64, error)
	// PutKeyMaterial stores the key material of a record once. A second
	// write fails with ErrKeyMaterialExists.
	PutKeyMaterial(ctx context.Context, entity EntityType, id string, km KeyMaterial) error
}

// RecordStore persists records and their key material.
type RecordStore interface {
	RecordReader
	// WithTx runs fn in a transaction, committing when fn returns nil and
	// rolling back otherwise.
	WithTx(ctx context.Context, fn func(tx RecordTx) error) error
}

// SessionResolver turns a session token into the acting principal.
type SessionResolver interface {
	Resolve(ctx context.Context, token string) (Principal, error)
}

// Authorizer decides whether a principal may perform action on entity.
// It returns an error wrapping ErrForbidden on refusal.
type Authorizer interface {
	Authorize(ctx context.Context, p Principal, entity EntityType, action Action) error
}

// AuditHook receives access decisions made while decrypting.
type AuditHook interface {
	OnDecryptDenied(ctx context.Context, p Principal, entity EntityType, recordID, field string, err error)
	OnAccessDenied(ctx context.Context, p Principal, entity EntityType, action Action, err error)
}
