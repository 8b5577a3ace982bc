package medx

import (
	"fmt"
	"slices"

	"github.com/hengadev/errsx"
)

// Scheme selects how a governed field is encrypted.
type Scheme string

const (
	SchemeNone      Scheme = ""
	SchemeAttribute Scheme = "attribute"
	SchemeIdentity  Scheme = "identity"
)

// KeyKind is the per-record key material an entity receives at creation.
type KeyKind string

const (
	KeyKindNone      KeyKind = "none"
	KeyKindIdentity  KeyKind = "identity"
	KeyKindAttribute KeyKind = "attribute"
)

// KeySubject chooses whose attributes an attribute key is minted for.
type KeySubject string

const (
	// SubjectCreator mints the key for the principal creating the record.
	SubjectCreator KeySubject = "creator"
	// SubjectRecord mints the key for the role and department stored on
	// the record itself.
	SubjectRecord KeySubject = "record"
)

// DecryptRule chooses which attribute key decrypts an entity's fields.
type DecryptRule string

const (
	DecryptWithCallerKey DecryptRule = "caller"
	DecryptWithRecordKey DecryptRule = "record"
)

// UngovernedMode decides what happens to fields and entities absent from
// the registry.
type UngovernedMode string

const (
	UngovernedOpen UngovernedMode = "open"
	UngovernedDeny UngovernedMode = "deny"
)

// FieldPolicy describes one governed field.
type FieldPolicy struct {
	Entity EntityType `yaml:"-"`
	Field  string     `yaml:"name"`
	Scheme Scheme     `yaml:"scheme"`
	Policy Policy     `yaml:"policy,omitempty"`
	// OwnerEntity and OwnerField locate the record whose identity key
	// encrypts an identity-scheme field. OwnerField "id" means the record
	// itself.
	OwnerEntity EntityType `yaml:"owner_entity,omitempty"`
	OwnerField  string     `yaml:"owner_field,omitempty"`
	Optional    bool       `yaml:"optional,omitempty"`
}

// Governed reports whether the field is encrypted.
func (f FieldPolicy) Governed() bool {
	return f.Scheme != SchemeNone
}

// EntityPolicy describes an entity table.
type EntityPolicy struct {
	Entity      EntityType    `yaml:"name"`
	KeyKind     KeyKind       `yaml:"key_kind"`
	KeySubject  KeySubject    `yaml:"key_subject,omitempty"`
	DecryptRule DecryptRule   `yaml:"decrypt_rule,omitempty"`
	Fields      []FieldPolicy `yaml:"fields"`
	Plain       []string      `yaml:"plain,omitempty"`
}

// RoleAttributes is one row of the role projection table.
type RoleAttributes struct {
	Role       Role        `yaml:"role"`
	Attributes []Attribute `yaml:"attributes"`
}

// RegistryConfig is the declarative form of a Registry.
type RegistryConfig struct {
	Ungoverned  UngovernedMode   `yaml:"ungoverned"`
	Departments []string         `yaml:"departments"`
	Roles       []RoleAttributes `yaml:"roles"`
	Entities    []EntityPolicy   `yaml:"entities"`
}

// Dependent is an entity whose identity fields are keyed by another
// entity's records through OwnerField.
type Dependent struct {
	Entity     EntityType
	OwnerField string
}

type entityEntry struct {
	policy EntityPolicy
	fields map[string]FieldPolicy
	order  []string
	plain  map[string]struct{}
}

// Registry is the immutable field policy table. It is safe for concurrent
// use.
type Registry struct {
	ungoverned  UngovernedMode
	departments map[Attribute]struct{}
	roles       map[Role]AttributeSet
	roleOrder   []Role
	entities    map[EntityType]*entityEntry
	entityOrder []EntityType
	vocabulary  map[Attribute]struct{}
}

// NewRegistry validates cfg and freezes it.
func NewRegistry(cfg RegistryConfig) (*Registry, error) {
	var errs errsx.Map

	r := &Registry{
		ungoverned:  cfg.Ungoverned,
		departments: make(map[Attribute]struct{}),
		roles:       make(map[Role]AttributeSet),
		entities:    make(map[EntityType]*entityEntry),
		vocabulary:  make(map[Attribute]struct{}),
	}

	switch r.ungoverned {
	case "":
		r.ungoverned = UngovernedOpen
	case UngovernedOpen, UngovernedDeny:
	default:
		errs.Set("ungoverned", fmt.Errorf("%w: unknown mode %q", ErrInvalidConfiguration, cfg.Ungoverned))
	}

	for _, d := range cfg.Departments {
		a := NormalizeAttribute(d)
		if a == "" {
			errs.Set("departments", fmt.Errorf("%w: empty department", ErrInvalidConfiguration))
			continue
		}
		r.departments[a] = struct{}{}
		r.vocabulary[a] = struct{}{}
	}

	if len(cfg.Roles) == 0 {
		errs.Set("roles", fmt.Errorf("%w: role table is empty", ErrInvalidConfiguration))
	}
	for _, ra := range cfg.Roles {
		key := fmt.Sprintf("roles.%s", ra.Role)
		if ra.Role == "" {
			errs.Set("roles", fmt.Errorf("%w: empty role name", ErrInvalidConfiguration))
			continue
		}
		if _, dup := r.roles[ra.Role]; dup {
			errs.Set(key, fmt.Errorf("%w: duplicate role", ErrInvalidConfiguration))
			continue
		}
		set := NewAttributeSet(ra.Attributes...)
		if len(set) == 0 {
			errs.Set(key, fmt.Errorf("%w: role projects to no attributes", ErrInvalidConfiguration))
			continue
		}
		r.roles[ra.Role] = set
		r.roleOrder = append(r.roleOrder, ra.Role)
		for _, a := range set {
			r.vocabulary[a] = struct{}{}
		}
	}

	for _, ep := range cfg.Entities {
		if err := r.addEntity(ep); err != nil {
			errs.Set(fmt.Sprintf("entities.%s", ep.Entity), err)
		}
	}

	// Owner references can only be checked once every entity is known.
	if errs.IsEmpty() {
		for _, name := range r.entityOrder {
			if err := r.checkOwners(r.entities[name]); err != nil {
				errs.Set(fmt.Sprintf("entities.%s", name), err)
			}
		}
	}

	if !errs.IsEmpty() {
		return nil, errs.AsError()
	}
	return r, nil
}

func (r *Registry) addEntity(ep EntityPolicy) error {
	if ep.Entity == "" {
		return fmt.Errorf("%w: entity name is empty", ErrInvalidConfiguration)
	}
	if _, dup := r.entities[ep.Entity]; dup {
		return fmt.Errorf("%w: duplicate entity", ErrInvalidConfiguration)
	}

	if ep.KeyKind == "" {
		ep.KeyKind = KeyKindNone
	}
	switch ep.KeyKind {
	case KeyKindNone, KeyKindIdentity:
		ep.KeySubject = ""
	case KeyKindAttribute:
		if ep.KeySubject == "" {
			ep.KeySubject = SubjectCreator
		}
		if ep.KeySubject != SubjectCreator && ep.KeySubject != SubjectRecord {
			return fmt.Errorf("%w: unknown key subject %q", ErrInvalidConfiguration, ep.KeySubject)
		}
	default:
		return fmt.Errorf("%w: unknown key kind %q", ErrInvalidConfiguration, ep.KeyKind)
	}

	if ep.DecryptRule == "" {
		ep.DecryptRule = DecryptWithCallerKey
	}
	switch ep.DecryptRule {
	case DecryptWithCallerKey:
	case DecryptWithRecordKey:
		if ep.KeyKind != KeyKindAttribute {
			return fmt.Errorf("%w: decrypt rule %q needs key kind %q", ErrInvalidConfiguration, ep.DecryptRule, KeyKindAttribute)
		}
	default:
		return fmt.Errorf("%w: unknown decrypt rule %q", ErrInvalidConfiguration, ep.DecryptRule)
	}

	entry := &entityEntry{
		fields: make(map[string]FieldPolicy, len(ep.Fields)),
		plain:  make(map[string]struct{}, len(ep.Plain)),
	}
	fields := make([]FieldPolicy, 0, len(ep.Fields))
	for _, fp := range ep.Fields {
		fp.Entity = ep.Entity
		if fp.Field == "" || fp.Field == FieldID {
			return fmt.Errorf("%w: invalid governed field name %q", ErrInvalidConfiguration, fp.Field)
		}
		if _, dup := entry.fields[fp.Field]; dup {
			return fmt.Errorf("%w: duplicate field '%s'", ErrInvalidConfiguration, fp.Field)
		}
		switch fp.Scheme {
		case SchemeAttribute:
			fp.Policy = fp.Policy.Normalize()
			if len(fp.Policy) == 0 {
				return fmt.Errorf("%w: field '%s' has an empty policy", ErrInvalidConfiguration, fp.Field)
			}
			for _, a := range fp.Policy.Attributes() {
				if a != ServicePlaceholder && !r.KnownAttribute(a) {
					return fmt.Errorf("%w: field '%s' uses unknown attribute %q", ErrInvalidConfiguration, fp.Field, a)
				}
			}
			fp.OwnerEntity, fp.OwnerField = "", ""
		case SchemeIdentity:
			if fp.OwnerEntity == "" || fp.OwnerField == "" {
				return fmt.Errorf("%w: identity field '%s' needs owner_entity and owner_field", ErrInvalidConfiguration, fp.Field)
			}
			fp.Policy = nil
		default:
			return fmt.Errorf("%w: field '%s' has unknown scheme %q", ErrInvalidConfiguration, fp.Field, fp.Scheme)
		}
		entry.fields[fp.Field] = fp
		entry.order = append(entry.order, fp.Field)
		fields = append(fields, fp)
	}
	for _, name := range ep.Plain {
		if _, governed := entry.fields[name]; governed {
			return fmt.Errorf("%w: field '%s' is both plain and governed", ErrInvalidConfiguration, name)
		}
		entry.plain[name] = struct{}{}
	}
	ep.Fields = fields
	ep.Plain = slices.Clone(ep.Plain)
	entry.policy = ep

	r.entities[ep.Entity] = entry
	r.entityOrder = append(r.entityOrder, ep.Entity)
	return nil
}

func (r *Registry) checkOwners(entry *entityEntry) error {
	for _, name := range entry.order {
		fp := entry.fields[name]
		if fp.Scheme != SchemeIdentity {
			continue
		}
		owner, ok := r.entities[fp.OwnerEntity]
		if !ok {
			return fmt.Errorf("%w: field '%s' is owned by unknown entity %q", ErrInvalidConfiguration, fp.Field, fp.OwnerEntity)
		}
		if owner.policy.KeyKind != KeyKindIdentity {
			return fmt.Errorf("%w: owner %q of field '%s' has no identity key", ErrInvalidConfiguration, fp.OwnerEntity, fp.Field)
		}
		if fp.OwnerField == FieldID && fp.OwnerEntity != fp.Entity {
			return fmt.Errorf("%w: field '%s' references its own id but names owner %q", ErrInvalidConfiguration, fp.Field, fp.OwnerEntity)
		}
	}
	return nil
}

// Ungoverned returns the handling mode for undeclared entities and fields.
func (r *Registry) Ungoverned() UngovernedMode {
	return r.ungoverned
}

// Entity returns the policy of an entity.
func (r *Registry) Entity(entity EntityType) (EntityPolicy, bool) {
	entry, ok := r.entities[entity]
	if !ok {
		return EntityPolicy{}, false
	}
	ep := entry.policy
	ep.Fields = slices.Clone(ep.Fields)
	ep.Plain = slices.Clone(ep.Plain)
	return ep, true
}

// Entities lists the declared entities in declaration order.
func (r *Registry) Entities() []EntityType {
	return slices.Clone(r.entityOrder)
}

// PolicyFor returns the policy of entity.field. Undeclared fields come back
// with SchemeNone.
func (r *Registry) PolicyFor(entity EntityType, field string) FieldPolicy {
	if entry, ok := r.entities[entity]; ok {
		if fp, ok := entry.fields[field]; ok {
			return fp
		}
	}
	return FieldPolicy{Entity: entity, Field: field, Scheme: SchemeNone}
}

// GovernedFields returns the encrypted fields of entity in declaration
// order. The slice is a copy.
func (r *Registry) GovernedFields(entity EntityType) []string {
	entry, ok := r.entities[entity]
	if !ok {
		return nil
	}
	return slices.Clone(entry.order)
}

// Declares reports whether field is a governed or plain field of entity.
// The owner field references of identity fields count as declared.
func (r *Registry) Declares(entity EntityType, field string) bool {
	entry, ok := r.entities[entity]
	if !ok {
		return false
	}
	if _, ok := entry.fields[field]; ok {
		return true
	}
	_, ok = entry.plain[field]
	return ok
}

// Dependents lists the entities whose identity fields are keyed by records
// of owner through a foreign field.
func (r *Registry) Dependents(owner EntityType) []Dependent {
	var deps []Dependent
	for _, name := range r.entityOrder {
		if name == owner {
			continue
		}
		entry := r.entities[name]
		for _, field := range entry.order {
			fp := entry.fields[field]
			if fp.Scheme != SchemeIdentity || fp.OwnerEntity != owner {
				continue
			}
			d := Dependent{Entity: name, OwnerField: fp.OwnerField}
			if !slices.Contains(deps, d) {
				deps = append(deps, d)
			}
		}
	}
	return deps
}

// Roles lists the roles of the projection table.
func (r *Registry) Roles() []Role {
	return slices.Clone(r.roleOrder)
}

// Project derives the attribute set of a principal: the role's attributes
// followed by the department token.
func (r *Registry) Project(p Principal) (AttributeSet, error) {
	attrs, ok := r.roles[p.Role]
	if !ok {
		return nil, NewUnknownRoleError(p.Role)
	}
	set := slices.Clone(attrs)
	if p.Department != "" {
		d := NormalizeAttribute(p.Department)
		if _, ok := r.departments[d]; !ok {
			return nil, NewUnknownDepartmentError(p.Department)
		}
		set = NewAttributeSet(append(set, d)...)
	}
	return set, nil
}

// KnownAttribute reports whether a is a role attribute or department.
func (r *Registry) KnownAttribute(a Attribute) bool {
	_, ok := r.vocabulary[a]
	return ok
}

// ValidateAttributes rejects empty sets and tokens outside the vocabulary.
func (r *Registry) ValidateAttributes(attrs AttributeSet) error {
	if len(attrs) == 0 {
		return fmt.Errorf("%w: empty attribute set", ErrInvalidAttributes)
	}
	for _, a := range attrs {
		if !r.KnownAttribute(a) {
			return fmt.Errorf("%w: unknown attribute %q", ErrInvalidAttributes, a)
		}
	}
	return nil
}
