package medx

import (
	"errors"
	"fmt"
	"maps"
	"slices"

	"github.com/hengadev/errsx"
)

var (
	// Key service errors
	ErrKeyServiceUnavailable = errors.New("key service unavailable")
	ErrInvalidAttributes     = errors.New("invalid attributes")
	ErrEncryptionFailed      = errors.New("encryption failed")
	ErrDecryptionDenied      = errors.New("decryption denied")
	ErrDecryptionFailed      = errors.New("decryption failed")
	ErrMalformedCiphertext   = errors.New("malformed ciphertext")

	// Record and key material errors
	ErrOwningRecordNotFound = errors.New("owning record not found")
	ErrProvisioningFailed   = errors.New("provisioning failed")
	ErrMissingKeyMaterial   = errors.New("missing key material")
	ErrRecordNotFound       = errors.New("record not found")
	ErrKeyMaterialExists    = errors.New("key material already exists")

	// Validation errors
	ErrUnknownRole       = errors.New("unknown role")
	ErrUnknownDepartment = errors.New("unknown department")
	ErrUnknownEntity     = errors.New("unknown entity")
	ErrUngovernedField   = errors.New("ungoverned field")
	ErrMissingField      = errors.New("missing required field")
	ErrMissingQualifier  = errors.New("missing service qualifier")
	ErrNilRecord         = errors.New("nil record")
	ErrImmutableField    = errors.New("immutable field")

	// Access and configuration errors
	ErrForbidden                = errors.New("forbidden")
	ErrUnauthenticated          = errors.New("unauthenticated")
	ErrInvalidConfiguration     = errors.New("invalid configuration")
	ErrSecretStorageUnavailable = errors.New("secret storage unavailable")
)

func NewUnknownRoleError(role Role) error {
	return fmt.Errorf("%w: %w: %q", ErrInvalidAttributes, ErrUnknownRole, role)
}

func NewUnknownDepartmentError(department string) error {
	return fmt.Errorf("%w: %w: %q", ErrInvalidAttributes, ErrUnknownDepartment, department)
}

func NewUnknownEntityError(entity EntityType) error {
	return fmt.Errorf("%w: %q", ErrUnknownEntity, entity)
}

func NewUngovernedFieldError(entity EntityType, field string) error {
	return fmt.Errorf("%w: '%s' is not declared for %s", ErrUngovernedField, field, entity)
}

func NewMissingFieldError(entity EntityType, field string, action Action) error {
	return fmt.Errorf("%w: '%s' is required to %s %s", ErrMissingField, field, action, entity)
}

func NewMissingQualifierError(entity EntityType, field string) error {
	return fmt.Errorf("%w: policy of %s.%s references %s", ErrMissingQualifier, entity, field, ServicePlaceholder)
}

// NewImmutableFieldError reports a change to a field the record's own
// attribute key was minted from.
func NewImmutableFieldError(entity EntityType, field string) error {
	return fmt.Errorf("%w: '%s' of %s keys its attribute key", ErrImmutableField, field, entity)
}

// NewMissingCiphertextError reports a required governed field stored
// without ciphertext.
func NewMissingCiphertextError(entity EntityType, field string) error {
	return fmt.Errorf("%w: %s.%s has no stored ciphertext", ErrMalformedCiphertext, entity, field)
}

func NewOwningRecordNotFoundError(owner EntityType, ownerID string) error {
	return fmt.Errorf("%w: %s '%s'", ErrOwningRecordNotFound, owner, ownerID)
}

func NewMissingKeyMaterialError(entity EntityType, id string, kind KeyKind) error {
	return fmt.Errorf("%w: %s '%s' has no %s key", ErrMissingKeyMaterial, entity, id, kind)
}

func NewRecordNotFoundError(entity EntityType, id string) error {
	return fmt.Errorf("%w: %s '%s'", ErrRecordNotFound, entity, id)
}

func NewForbiddenError(role Role, entity EntityType, action Action) error {
	return fmt.Errorf("%w: %s cannot %s %s", ErrForbidden, role, action, entity)
}

// FieldError reports a failure on one governed field of one record.
type FieldError struct {
	Entity   EntityType
	RecordID string
	Field    string
	Action   Action
	Err      error
}

func (e *FieldError) Error() string {
	id := e.RecordID
	if id == "" {
		id = "<new>"
	}
	return fmt.Sprintf("%s %s.%s (id %s): %v", e.Action, e.Entity, e.Field, id, e.Err)
}

func (e *FieldError) Unwrap() error { return e.Err }

// RecordError identifies which record of a batch failed.
type RecordError struct {
	Index    int
	RecordID string
	Err      error
}

func (e *RecordError) Error() string {
	return fmt.Sprintf("record %d (id %s): %v", e.Index, e.RecordID, e.Err)
}

func (e *RecordError) Unwrap() error { return e.Err }

// ValidationError carries the keyed failures of a validation pass. Each
// failure stays reachable through errors.Is.
type ValidationError struct {
	Errs errsx.Map
}

func newValidationError(errs errsx.Map) error {
	if errs.IsEmpty() {
		return nil
	}
	return &ValidationError{Errs: errs}
}

func (e *ValidationError) Error() string {
	return e.Errs.Error()
}

func (e *ValidationError) Unwrap() []error {
	keys := slices.Sorted(maps.Keys(e.Errs))
	errs := make([]error, 0, len(keys))
	for _, k := range keys {
		errs = append(errs, e.Errs[k])
	}
	return errs
}

// IsRetryableError returns true if the error represents a transient failure that might succeed on retry.
func IsRetryableError(err error) bool {
	return errors.Is(err, ErrKeyServiceUnavailable) ||
		errors.Is(err, ErrSecretStorageUnavailable)
}

// IsAccessDenied returns true if the caller's keys or role do not grant access.
func IsAccessDenied(err error) bool {
	return errors.Is(err, ErrDecryptionDenied) ||
		errors.Is(err, ErrDecryptionFailed) ||
		errors.Is(err, ErrForbidden) ||
		errors.Is(err, ErrUnauthenticated)
}

// IsValidationError returns true if the error represents a problem with the caller's input.
func IsValidationError(err error) bool {
	return errors.Is(err, ErrInvalidAttributes) ||
		errors.Is(err, ErrUnknownEntity) ||
		errors.Is(err, ErrUngovernedField) ||
		errors.Is(err, ErrMissingField) ||
		errors.Is(err, ErrMissingQualifier) ||
		errors.Is(err, ErrNilRecord) ||
		errors.Is(err, ErrImmutableField)
}

// IsIntegrityError returns true if stored data or key material is inconsistent.
func IsIntegrityError(err error) bool {
	return errors.Is(err, ErrMalformedCiphertext) ||
		errors.Is(err, ErrMissingKeyMaterial) ||
		errors.Is(err, ErrKeyMaterialExists) ||
		errors.Is(err, ErrOwningRecordNotFound)
}

// IsConfigurationError returns true if the error represents a configuration problem.
func IsConfigurationError(err error) bool {
	return errors.Is(err, ErrInvalidConfiguration)
}
