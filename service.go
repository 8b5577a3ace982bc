package medx

import (
	"context"
	"fmt"
	"log/slog"
	"maps"
)

// Service is the authorized CRUD surface over encrypted records. Writes
// run inside a single store transaction so that a record never exists
// without its key material.
type Service struct {
	registry *Registry
	store    RecordStore
	authz    Authorizer
	orch     *Orchestrator
	prov     *Provisioner
	opts     options
}

func NewService(registry *Registry, abe AttributeKeyService, ibe IdentityKeyService, store RecordStore, authz Authorizer, opts ...Option) (*Service, error) {
	if err := checkDependencies(registry, abe, ibe); err != nil {
		return nil, err
	}
	if store == nil {
		return nil, fmt.Errorf("%w: record store is nil", ErrInvalidConfiguration)
	}
	if authz == nil {
		return nil, fmt.Errorf("%w: authorizer is nil", ErrInvalidConfiguration)
	}
	o, err := applyOptions(opts)
	if err != nil {
		return nil, err
	}

	return &Service{
		registry: registry,
		store:    store,
		authz:    authz,
		orch:     newOrchestrator(registry, abe, ibe, store, o),
		prov:     newProvisioner(registry, abe, ibe, o),
		opts:     o,
	}, nil
}

func (s *Service) Registry() *Registry { return s.registry }
func (s *Service) Orchestrator() *Orchestrator { return s.orch }
func (s *Service) Provisioner() *Provisioner { return s.prov }

func (s *Service) authorize(ctx context.Context, p Principal, entity EntityType, action Action) error {
	if err := s.authz.Authorize(ctx, p, entity, action); err != nil {
		s.opts.audit.OnAccessDenied(ctx, p, entity, action, err)
		return err
	}
	return nil
}

// Create stores rec with its governed fields encrypted and its key
// material provisioned. An empty rec.ID is assigned. The returned record
// holds the plaintext values and the final ID.
func (s *Service) Create(ctx context.Context, p Principal, rec *Record, qualifier string) (*Record, error) {
	if rec == nil {
		return nil, ErrNilRecord
	}
	if err := s.authorize(ctx, p, rec.Entity, ActionCreate); err != nil {
		return nil, err
	}

	created := rec.Clone()
	if created.ID == "" {
		created.ID = s.opts.newID()
	}

	attrs, err := s.keySubject(created, p)
	if err != nil {
		return nil, provisioningError(created.Entity, created.ID, err)
	}

	err = s.store.WithTx(ctx, func(tx RecordTx) error {
		km, err := s.prov.ProvisionForNewRecord(ctx, created.Entity, created.ID, attrs)
		if err != nil {
			return err
		}

		var keys KeyMaterialReader = tx
		if !km.IsZero() {
			keys = overlayKeys{entity: created.Entity, id: created.ID, km: km, next: tx}
		}
		enc, err := s.orch.encryptRecord(ctx, keys, created, p, qualifier, true)
		if err != nil {
			return err
		}

		if err := tx.Insert(ctx, enc); err != nil {
			return err
		}
		if !km.IsZero() {
			if err := tx.PutKeyMaterial(ctx, created.Entity, created.ID, km); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		s.opts.logger.WarnContext(ctx, "record creation rolled back",
			slog.String("entity", string(created.Entity)),
			slog.String("id", created.ID),
			slog.String("error", err.Error()))
		return nil, err
	}

	s.opts.logger.InfoContext(ctx, "record created",
		slog.String("entity", string(created.Entity)),
		slog.String("id", created.ID),
		slog.String("principal", p.ID))
	return created, nil
}

// keySubject returns the attributes an attribute key is minted for.
func (s *Service) keySubject(rec *Record, p Principal) (AttributeSet, error) {
	ep, ok := s.registry.Entity(rec.Entity)
	if !ok || ep.KeyKind != KeyKindAttribute {
		return nil, nil
	}
	switch ep.KeySubject {
	case SubjectRecord:
		return s.registry.Project(subjectPrincipal(rec))
	default:
		return s.registry.Project(p)
	}
}

// subjectPrincipal is the principal a record-subject key is minted for.
func subjectPrincipal(rec *Record) Principal {
	return Principal{
		Role:       Role(rec.Fields[FieldRole]),
		Department: rec.Fields[FieldDepartment],
	}
}

// checkKeySubject rejects changes to the fields a record-subject key was
// minted from. The key is never regenerated, so they are fixed at creation.
func (s *Service) checkKeySubject(existing *Record, fields map[string]string) error {
	ep, ok := s.registry.Entity(existing.Entity)
	if !ok || ep.KeyKind != KeyKindAttribute || ep.KeySubject != SubjectRecord {
		return nil
	}
	if v, ok := fields[FieldRole]; ok && v != existing.Fields[FieldRole] {
		return NewImmutableFieldError(existing.Entity, FieldRole)
	}
	if v, ok := fields[FieldDepartment]; ok && NormalizeAttribute(v) != NormalizeAttribute(existing.Fields[FieldDepartment]) {
		return NewImmutableFieldError(existing.Entity, FieldDepartment)
	}
	return nil
}

// Get returns the decrypted record.
func (s *Service) Get(ctx context.Context, p Principal, entity EntityType, id string) (*Record, error) {
	if err := s.authorize(ctx, p, entity, ActionRead); err != nil {
		return nil, err
	}
	rec, err := s.store.Get(ctx, entity, id)
	if err != nil {
		return nil, err
	}
	return s.orch.DecryptForRead(ctx, rec, p)
}

// List returns every record of entity, decrypted, in store order.
func (s *Service) List(ctx context.Context, p Principal, entity EntityType) ([]*Record, error) {
	if err := s.authorize(ctx, p, entity, ActionList); err != nil {
		return nil, err
	}
	recs, err := s.store.List(ctx, entity)
	if err != nil {
		return nil, err
	}
	return s.orch.DecryptBatch(ctx, recs, p)
}

// Update replaces the supplied fields of a record. Governed fields among
// them are encrypted; key material is left untouched, so the role and
// department of a record-subject entity cannot change. Moving a record to
// another owner requires re-supplying the identity fields that owner keys.
func (s *Service) Update(ctx context.Context, p Principal, entity EntityType, id string, fields map[string]string, qualifier string) error {
	if err := s.authorize(ctx, p, entity, ActionUpdate); err != nil {
		return err
	}

	return s.store.WithTx(ctx, func(tx RecordTx) error {
		existing, err := tx.Get(ctx, entity, id)
		if err != nil {
			return err
		}
		if err := s.checkKeySubject(existing, fields); err != nil {
			return err
		}

		partial := &Record{Entity: entity, ID: id, Fields: maps.Clone(fields)}
		if partial.Fields == nil {
			partial.Fields = make(map[string]string)
		}
		if ep, ok := s.registry.Entity(entity); ok {
			for _, fp := range ep.Fields {
				if fp.Scheme != SchemeIdentity || fp.OwnerField == FieldID {
					continue
				}
				newOwner, moved := partial.Fields[fp.OwnerField]
				_, supplied := partial.Fields[fp.Field]
				_, stored := existing.Fields[fp.Field]
				if moved && newOwner != existing.Fields[fp.OwnerField] && stored && !supplied {
					return NewMissingFieldError(entity, fp.Field, ActionUpdate)
				}
				if !moved && supplied {
					partial.Fields[fp.OwnerField] = existing.Fields[fp.OwnerField]
				}
			}
		}

		enc, err := s.orch.encryptRecord(ctx, tx, partial, p, qualifier, false)
		if err != nil {
			return err
		}

		merged := existing.Clone()
		maps.Copy(merged.Fields, enc.Fields)
		if err := tx.Update(ctx, merged); err != nil {
			return err
		}

		s.opts.logger.InfoContext(ctx, "record updated",
			slog.String("entity", string(entity)),
			slog.String("id", id),
			slog.Int("fields", len(fields)))
		return nil
	})
}

// Delete removes a record, the records whose identity fields it keys and
// all their key material.
func (s *Service) Delete(ctx context.Context, p Principal, entity EntityType, id string) error {
	if err := s.authorize(ctx, p, entity, ActionDelete); err != nil {
		return err
	}

	return s.store.WithTx(ctx, func(tx RecordTx) error {
		if _, err := tx.Get(ctx, entity, id); err != nil {
			return err
		}
		for _, dep := range s.registry.Dependents(entity) {
			n, err := tx.DeleteByField(ctx, dep.Entity, dep.OwnerField, id)
			if err != nil {
				return fmt.Errorf("delete dependent %s records: %w", dep.Entity, err)
			}
			if n > 0 {
				s.opts.logger.InfoContext(ctx, "dependent records deleted",
					slog.String("entity", string(dep.Entity)),
					slog.String("owner", id),
					slog.Int64("count", n))
			}
		}
		if err := tx.Delete(ctx, entity, id); err != nil {
			return err
		}
		s.opts.logger.InfoContext(ctx, "record deleted",
			slog.String("entity", string(entity)),
			slog.String("id", id))
		return nil
	})
}

// overlayKeys exposes key material that is not persisted yet.
type overlayKeys struct {
	entity EntityType
	id     string
	km     KeyMaterial
	next   KeyMaterialReader
}

func (k overlayKeys) KeyMaterial(ctx context.Context, entity EntityType, id string) (KeyMaterial, error) {
	if entity == k.entity && id == k.id {
		return k.km, nil
	}
	return k.next.KeyMaterial(ctx, entity, id)
}
