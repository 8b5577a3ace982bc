package medx

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
)

// Provisioner mints the per-record key material of new records.
type Provisioner struct {
	registry *Registry
	abe      AttributeKeyService
	ibe      IdentityKeyService
	opts     options
	keyCaller
}

func NewProvisioner(registry *Registry, abe AttributeKeyService, ibe IdentityKeyService, opts ...Option) (*Provisioner, error) {
	if err := checkDependencies(registry, abe, ibe); err != nil {
		return nil, err
	}
	o, err := applyOptions(opts)
	if err != nil {
		return nil, err
	}
	return newProvisioner(registry, abe, ibe, o), nil
}

func newProvisioner(registry *Registry, abe AttributeKeyService, ibe IdentityKeyService, o options) *Provisioner {
	return &Provisioner{
		registry:  registry,
		abe:       abe,
		ibe:       ibe,
		opts:      o,
		keyCaller: newKeyCaller(o),
	}
}

// ProvisionForNewRecord generates the key material entity declares for a
// record being created. Secret halves come back sealed, ready to persist.
// attrs is only used by entities with attribute keys. Failures wrap
// ErrProvisioningFailed.
func (pv *Provisioner) ProvisionForNewRecord(ctx context.Context, entity EntityType, recordID string, attrs AttributeSet) (KeyMaterial, error) {
	ep, ok := pv.registry.Entity(entity)
	if !ok {
		if pv.registry.Ungoverned() == UngovernedDeny {
			return KeyMaterial{}, provisioningError(entity, recordID, NewUnknownEntityError(entity))
		}
		return KeyMaterial{}, nil
	}
	if ep.KeyKind == KeyKindNone {
		return KeyMaterial{}, nil
	}
	if recordID == "" {
		return KeyMaterial{}, provisioningError(entity, recordID, fmt.Errorf("%w: record id is empty", ErrMissingField))
	}

	switch ep.KeyKind {
	case KeyKindIdentity:
		return pv.provisionIdentity(ctx, entity, recordID)
	case KeyKindAttribute:
		return pv.provisionAttribute(ctx, entity, recordID, attrs)
	default:
		return KeyMaterial{}, nil
	}
}

func (pv *Provisioner) provisionIdentity(ctx context.Context, entity EntityType, recordID string) (KeyMaterial, error) {
	var pair IdentityKeyPair
	err := pv.callWithRetry(ctx, func(ctx context.Context) error {
		var err error
		pair, err = pv.ibe.GenerateKeyPair(ctx, string(entity), recordID)
		return err
	})
	if err != nil {
		return KeyMaterial{}, provisioningError(entity, recordID, err)
	}
	if pair.A == "" || pair.R == "" {
		return KeyMaterial{}, provisioningError(entity, recordID, fmt.Errorf("%w: incomplete identity key pair", ErrMalformedCiphertext))
	}

	sealedR, err := sealString(ctx, pv.opts.sealer, pair.R)
	if err != nil {
		return KeyMaterial{}, provisioningError(entity, recordID, err)
	}

	pv.opts.logger.InfoContext(ctx, "identity key provisioned",
		slog.String("entity", string(entity)),
		slog.String("id", recordID),
		slog.String("identity", pair.Identity))
	return KeyMaterial{IBEA: pair.A, IBER: sealedR}, nil
}

func (pv *Provisioner) provisionAttribute(ctx context.Context, entity EntityType, recordID string, attrs AttributeSet) (KeyMaterial, error) {
	attrs = NewAttributeSet(attrs...)
	if err := pv.registry.ValidateAttributes(attrs); err != nil {
		return KeyMaterial{}, provisioningError(entity, recordID, err)
	}

	var key UserKey
	err := pv.callWithRetry(ctx, func(ctx context.Context) error {
		var err error
		key, err = pv.abe.GenerateUserKey(ctx, attrs)
		return err
	})
	if err != nil {
		return KeyMaterial{}, provisioningError(entity, recordID, err)
	}
	if key == "" {
		return KeyMaterial{}, provisioningError(entity, recordID, fmt.Errorf("%w: empty user key", ErrMalformedCiphertext))
	}

	sealed, err := sealString(ctx, pv.opts.sealer, string(key))
	if err != nil {
		return KeyMaterial{}, provisioningError(entity, recordID, err)
	}

	pv.opts.logger.InfoContext(ctx, "attribute key provisioned",
		slog.String("entity", string(entity)),
		slog.String("id", recordID),
		slog.Any("attributes", attrs.Strings()))
	return KeyMaterial{ABEUserKey: sealed, ABEAttributes: strings.Join(attrs.Strings(), ",")}, nil
}

func provisioningError(entity EntityType, recordID string, err error) error {
	return fmt.Errorf("%w: %s '%s': %w", ErrProvisioningFailed, entity, recordID, err)
}
