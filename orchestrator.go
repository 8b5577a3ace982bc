package medx

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"slices"
	"sync"

	"github.com/hengadev/errsx"
	"golang.org/x/sync/errgroup"
)

// Orchestrator encrypts governed fields before persistence and decrypts
// them on read, following the policies of a Registry.
type Orchestrator struct {
	registry *Registry
	abe      AttributeKeyService
	ibe      IdentityKeyService
	store    RecordReader
	opts     options
	keyCaller
}

// NewOrchestrator wires the orchestrator. store is used to look up owner
// and caller key material.
func NewOrchestrator(registry *Registry, abe AttributeKeyService, ibe IdentityKeyService, store RecordReader, opts ...Option) (*Orchestrator, error) {
	if err := checkDependencies(registry, abe, ibe); err != nil {
		return nil, err
	}
	if store == nil {
		return nil, fmt.Errorf("%w: record store is nil", ErrInvalidConfiguration)
	}
	o, err := applyOptions(opts)
	if err != nil {
		return nil, err
	}
	return newOrchestrator(registry, abe, ibe, store, o), nil
}

func newOrchestrator(registry *Registry, abe AttributeKeyService, ibe IdentityKeyService, store RecordReader, o options) *Orchestrator {
	return &Orchestrator{
		registry:  registry,
		abe:       abe,
		ibe:       ibe,
		store:     store,
		opts:      o,
		keyCaller: newKeyCaller(o),
	}
}

func checkDependencies(registry *Registry, abe AttributeKeyService, ibe IdentityKeyService) error {
	var errs errsx.Map
	if registry == nil {
		errs.Set("registry", fmt.Errorf("%w: registry is nil", ErrInvalidConfiguration))
	}
	if abe == nil {
		errs.Set("attribute key service", fmt.Errorf("%w: attribute key service is nil", ErrInvalidConfiguration))
	}
	if ibe == nil {
		errs.Set("identity key service", fmt.Errorf("%w: identity key service is nil", ErrInvalidConfiguration))
	}
	return newValidationError(errs)
}

// Registry returns the policy table in use.
func (o *Orchestrator) Registry() *Registry {
	return o.registry
}

type fieldTask struct {
	policy  FieldPolicy
	value   string
	resolve Policy // resolved attribute policy
	ownerID string
	a       string // owner's public identity half
	r       string // owner's private identity half, decrypt only
}

// EncryptForWrite returns a copy of rec whose governed fields are
// encrypted. Every governed field must succeed or nothing is returned.
// qualifier replaces the service placeholder of attribute policies.
func (o *Orchestrator) EncryptForWrite(ctx context.Context, rec *Record, p Principal, qualifier string) (*Record, error) {
	return o.encryptRecord(ctx, o.store, rec, p, qualifier, true)
}

// encryptRecord encrypts rec using keys for owner lookups. When full is
// false only the supplied governed fields are checked, as for partial
// updates.
func (o *Orchestrator) encryptRecord(ctx context.Context, keys KeyMaterialReader, rec *Record, p Principal, qualifier string, full bool) (*Record, error) {
	if rec == nil {
		return nil, ErrNilRecord
	}
	if _, err := o.registry.Project(p); err != nil {
		return nil, err
	}

	ep, ok := o.registry.Entity(rec.Entity)
	if !ok {
		if o.registry.Ungoverned() == UngovernedDeny {
			return nil, NewUnknownEntityError(rec.Entity)
		}
		return rec.Clone(), nil
	}

	tasks, err := o.planWrite(ctx, keys, ep, rec, qualifier, full)
	if err != nil {
		return nil, err
	}

	results := make([]string, len(tasks))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(o.opts.maxConcurrency)
	for i, t := range tasks {
		g.Go(func() error {
			ct, err := o.encryptField(gctx, rec, t, qualifier)
			if err != nil {
				return &FieldError{Entity: rec.Entity, RecordID: rec.ID, Field: t.policy.Field, Action: ActionEncrypt, Err: err}
			}
			results[i] = ct
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		o.opts.logger.WarnContext(ctx, "record encryption failed",
			slog.String("entity", string(rec.Entity)),
			slog.String("id", rec.ID),
			slog.String("error", err.Error()))
		return nil, err
	}

	out := rec.Clone()
	for i, t := range tasks {
		out.Fields[t.policy.Field] = results[i]
	}
	o.opts.logger.DebugContext(ctx, "record encrypted",
		slog.String("entity", string(rec.Entity)),
		slog.String("id", rec.ID),
		slog.Int("fields", len(tasks)))
	return out, nil
}

// planWrite validates rec against the entity policy before any key service
// is contacted.
func (o *Orchestrator) planWrite(ctx context.Context, keys KeyMaterialReader, ep EntityPolicy, rec *Record, qualifier string, full bool) ([]fieldTask, error) {
	var errs errsx.Map
	action := ActionCreate
	if !full {
		action = ActionUpdate
	}

	if o.registry.Ungoverned() == UngovernedDeny {
		for _, name := range slices.Sorted(maps.Keys(rec.Fields)) {
			if !o.registry.Declares(ep.Entity, name) {
				errs.Set(name, NewUngovernedFieldError(ep.Entity, name))
			}
		}
	}

	tasks := make([]fieldTask, 0, len(ep.Fields))
	for _, fp := range ep.Fields {
		value, present := rec.Fields[fp.Field]
		if !present {
			if full && !fp.Optional {
				errs.Set(fp.Field, NewMissingFieldError(ep.Entity, fp.Field, action))
			}
			continue
		}

		t := fieldTask{policy: fp, value: value}
		switch fp.Scheme {
		case SchemeAttribute:
			resolved, err := fp.Policy.Resolve(qualifier)
			if err != nil {
				errs.Set(fp.Field, NewMissingQualifierError(ep.Entity, fp.Field))
				continue
			}
			t.resolve = resolved
		case SchemeIdentity:
			ownerID, ok := rec.Field(fp.OwnerField)
			if !ok || ownerID == "" {
				errs.Set(fp.OwnerField, NewMissingFieldError(ep.Entity, fp.OwnerField, action))
				continue
			}
			t.ownerID = ownerID
		}
		tasks = append(tasks, t)
	}
	if err := newValidationError(errs); err != nil {
		return nil, err
	}

	owners := make(map[string]KeyMaterial)
	for i := range tasks {
		t := &tasks[i]
		if t.policy.Scheme != SchemeIdentity {
			continue
		}
		km, err := o.ownerKeys(ctx, keys, owners, t.policy.OwnerEntity, t.ownerID)
		if err != nil {
			return nil, &FieldError{Entity: ep.Entity, RecordID: rec.ID, Field: t.policy.Field, Action: ActionEncrypt, Err: err}
		}
		t.a = km.IBEA
	}
	return tasks, nil
}

func (o *Orchestrator) ownerKeys(ctx context.Context, keys KeyMaterialReader, cache map[string]KeyMaterial, owner EntityType, ownerID string) (KeyMaterial, error) {
	cacheKey := string(owner) + "/" + ownerID
	if km, ok := cache[cacheKey]; ok {
		return km, nil
	}
	km, err := keys.KeyMaterial(ctx, owner, ownerID)
	if err != nil {
		if errors.Is(err, ErrRecordNotFound) {
			return KeyMaterial{}, NewOwningRecordNotFoundError(owner, ownerID)
		}
		return KeyMaterial{}, err
	}
	if !km.HasIdentityKey() {
		return KeyMaterial{}, NewMissingKeyMaterialError(owner, ownerID, KeyKindIdentity)
	}
	cache[cacheKey] = km
	return km, nil
}

func (o *Orchestrator) encryptField(ctx context.Context, rec *Record, t fieldTask, qualifier string) (string, error) {
	switch t.policy.Scheme {
	case SchemeAttribute:
		var res AttributeCiphertext
		err := o.callWithRetry(ctx, func(ctx context.Context) error {
			var err error
			res, err = o.abe.Encrypt(ctx, AttributeEncryptRequest{
				Entity:    rec.Entity,
				Field:     t.policy.Field,
				Plaintext: t.value,
				Qualifier: qualifier,
				Policy:    t.resolve,
			})
			return err
		})
		if err != nil {
			return "", err
		}
		if len(res.Policy) > 0 && res.Policy.String() != t.resolve.String() {
			o.opts.logger.WarnContext(ctx, "key service applied a different policy",
				slog.String("entity", string(rec.Entity)),
				slog.String("field", t.policy.Field),
				slog.String("expected", t.resolve.String()),
				slog.String("applied", res.Policy.String()))
		}
		return res.Ciphertext, nil
	case SchemeIdentity:
		var ct string
		err := o.callWithRetry(ctx, func(ctx context.Context) error {
			var err error
			ct, err = o.ibe.Encrypt(ctx, t.value, t.a)
			return err
		})
		return ct, err
	default:
		return t.value, nil
	}
}

// callerKey holds the attribute key of the principal for one request.
type callerKey struct {
	once sync.Once
	key  UserKey
	err  error
}

func (o *Orchestrator) resolveCallerKey(ctx context.Context, p Principal, ck *callerKey) (UserKey, error) {
	ck.once.Do(func() {
		ck.key, ck.err = o.deriveCallerKey(ctx, p)
	})
	return ck.key, ck.err
}

// deriveCallerKey prefers the user key stored on the principal's staff
// record and otherwise mints one from the projection.
func (o *Orchestrator) deriveCallerKey(ctx context.Context, p Principal) (UserKey, error) {
	attrs, err := o.registry.Project(p)
	if err != nil {
		return "", err
	}

	if p.StaffID != "" {
		key, ok, err := o.staffKey(ctx, p.StaffID, attrs)
		if err != nil {
			return "", err
		}
		if ok {
			return key, nil
		}
	}

	var key UserKey
	err = o.callWithRetry(ctx, func(ctx context.Context) error {
		var err error
		key, err = o.abe.GenerateUserKey(ctx, attrs)
		return err
	})
	if err != nil {
		return "", err
	}
	return key, nil
}

// staffKey returns the user key stored on a staff record, but only when it
// was minted for exactly attrs. A principal whose role or department moved
// since the record was created gets a fresh key instead.
func (o *Orchestrator) staffKey(ctx context.Context, staffID string, attrs AttributeSet) (UserKey, bool, error) {
	km, err := o.store.KeyMaterial(ctx, EntityStaff, staffID)
	switch {
	case errors.Is(err, ErrRecordNotFound):
		return "", false, nil
	case err != nil:
		return "", false, err
	case !km.HasAttributeKey():
		return "", false, nil
	}
	if !km.KeyAttributes().Equal(attrs) {
		o.opts.logger.DebugContext(ctx, "stored staff key does not match principal",
			slog.String("staff", staffID),
			slog.String("key_attributes", km.ABEAttributes))
		return "", false, nil
	}

	key, err := openString(ctx, o.opts.sealer, km.ABEUserKey)
	if err != nil {
		return "", false, err
	}
	return UserKey(key), true, nil
}

// DecryptForRead returns a copy of rec with its governed fields decrypted.
// Any field failure is returned as a *FieldError; fields are never blanked.
func (o *Orchestrator) DecryptForRead(ctx context.Context, rec *Record, p Principal) (*Record, error) {
	return o.decryptRecord(ctx, rec, p, &callerKey{})
}

// DecryptBatch decrypts recs concurrently. The output keeps input order.
// The first failure is returned as a *RecordError.
func (o *Orchestrator) DecryptBatch(ctx context.Context, recs []*Record, p Principal) ([]*Record, error) {
	out := make([]*Record, len(recs))
	if len(recs) == 0 {
		return out, nil
	}

	ck := &callerKey{}
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(o.opts.maxConcurrency)
	for i, rec := range recs {
		g.Go(func() error {
			dec, err := o.decryptRecord(gctx, rec, p, ck)
			if err != nil {
				re := &RecordError{Index: i, Err: err}
				if rec != nil {
					re.RecordID = rec.ID
				}
				return re
			}
			out[i] = dec
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}

func (o *Orchestrator) decryptRecord(ctx context.Context, rec *Record, p Principal, ck *callerKey) (*Record, error) {
	if rec == nil {
		return nil, ErrNilRecord
	}
	ep, ok := o.registry.Entity(rec.Entity)
	if !ok {
		if o.registry.Ungoverned() == UngovernedDeny {
			return nil, NewUnknownEntityError(rec.Entity)
		}
		return rec.Clone(), nil
	}

	fieldErr := func(field string, err error) error {
		return &FieldError{Entity: rec.Entity, RecordID: rec.ID, Field: field, Action: ActionDecrypt, Err: err}
	}

	var tasks []fieldTask
	var recordKey UserKey
	owners := make(map[string]KeyMaterial)
	for _, fp := range ep.Fields {
		ct, ok := rec.Fields[fp.Field]
		if !ok && fp.Optional {
			continue
		}
		if ct == "" {
			return nil, fieldErr(fp.Field, NewMissingCiphertextError(rec.Entity, fp.Field))
		}
		t := fieldTask{policy: fp, value: ct}

		switch {
		case fp.Scheme == SchemeAttribute && ep.DecryptRule == DecryptWithRecordKey && recordKey == "":
			key, err := o.recordKey(ctx, rec)
			if err != nil {
				return nil, fieldErr(fp.Field, err)
			}
			recordKey = key
		case fp.Scheme == SchemeIdentity:
			ownerID, ok := rec.Field(fp.OwnerField)
			if !ok || ownerID == "" {
				return nil, fieldErr(fp.Field, NewOwningRecordNotFoundError(fp.OwnerEntity, ownerID))
			}
			km, err := o.ownerKeys(ctx, o.store, owners, fp.OwnerEntity, ownerID)
			if err != nil {
				return nil, fieldErr(fp.Field, err)
			}
			r, err := openString(ctx, o.opts.sealer, km.IBER)
			if err != nil {
				return nil, fieldErr(fp.Field, err)
			}
			t.a, t.r = km.IBEA, r
		}
		tasks = append(tasks, t)
	}

	results := make([]string, len(tasks))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(o.opts.maxConcurrency)
	for i, t := range tasks {
		g.Go(func() error {
			pt, err := o.decryptField(gctx, p, ck, recordKey, t)
			if err != nil {
				if errors.Is(err, ErrDecryptionDenied) || errors.Is(err, ErrDecryptionFailed) {
					o.opts.audit.OnDecryptDenied(gctx, p, rec.Entity, rec.ID, t.policy.Field, err)
				}
				return fieldErr(t.policy.Field, err)
			}
			results[i] = pt
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	out := rec.Clone()
	for i, t := range tasks {
		out.Fields[t.policy.Field] = results[i]
	}
	return out, nil
}

func (o *Orchestrator) recordKey(ctx context.Context, rec *Record) (UserKey, error) {
	km, err := o.store.KeyMaterial(ctx, rec.Entity, rec.ID)
	if err != nil {
		return "", err
	}
	if !km.HasAttributeKey() {
		return "", NewMissingKeyMaterialError(rec.Entity, rec.ID, KeyKindAttribute)
	}
	key, err := openString(ctx, o.opts.sealer, km.ABEUserKey)
	if err != nil {
		return "", err
	}
	return UserKey(key), nil
}

func (o *Orchestrator) decryptField(ctx context.Context, p Principal, ck *callerKey, recordKey UserKey, t fieldTask) (string, error) {
	switch t.policy.Scheme {
	case SchemeAttribute:
		key := recordKey
		if key == "" {
			var err error
			key, err = o.resolveCallerKey(ctx, p, ck)
			if err != nil {
				return "", err
			}
		}
		var pt string
		err := o.call(ctx, func(ctx context.Context) error {
			var err error
			pt, err = o.abe.Decrypt(ctx, t.value, key)
			return err
		})
		return pt, err
	case SchemeIdentity:
		var pt string
		err := o.call(ctx, func(ctx context.Context) error {
			var err error
			pt, err = o.ibe.Decrypt(ctx, t.value, t.r, t.a)
			return err
		})
		return pt, err
	default:
		return t.value, nil
	}
}
