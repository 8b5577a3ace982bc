package medx

import (
	"maps"
	"slices"
	"strings"
)

// Role is the application role carried by a session.
type Role string

const (
	RoleAdmin      Role = "admin"
	RoleReception  Role = "reception"
	RoleMedecin    Role = "medecin"
	RoleInfirmier  Role = "infirmier"
	RoleRadiologue Role = "radiologue"
	RoleLaborantin Role = "laborantin"
	RoleComptable  Role = "comptable"
	RolePatient    Role = "patient"
)

// Attribute is an upper-case token used in policies and user keys.
type Attribute string

const (
	AttrAgent          Attribute = "AGENT"
	AttrAdministration Attribute = "ADMINISTRATION"
	AttrReception      Attribute = "RECEPTION"
	AttrMedecin        Attribute = "MEDECIN"
	AttrInfirmier      Attribute = "INFIRMIER"
	AttrRadiologue     Attribute = "RADIOLOGUE"
	AttrLaborantin     Attribute = "LABORANTIN"
	AttrComptable      Attribute = "COMPTABLE"
	AttrPatient        Attribute = "PATIENT"
)

// NormalizeAttribute trims and upper-cases a raw token.
func NormalizeAttribute(s string) Attribute {
	return Attribute(strings.ToUpper(strings.TrimSpace(s)))
}

// AttributeSet is an ordered list of distinct attributes.
type AttributeSet []Attribute

// NewAttributeSet normalizes attrs and drops empty and duplicate tokens,
// keeping first-seen order.
func NewAttributeSet(attrs ...Attribute) AttributeSet {
	set := make(AttributeSet, 0, len(attrs))
	for _, a := range attrs {
		a = NormalizeAttribute(string(a))
		if a == "" || slices.Contains(set, a) {
			continue
		}
		set = append(set, a)
	}
	return set
}

func (s AttributeSet) Has(a Attribute) bool {
	return slices.Contains(s, a)
}

// Equal reports whether s and other hold the same attributes, in any order.
func (s AttributeSet) Equal(other AttributeSet) bool {
	if len(s) != len(other) {
		return false
	}
	for _, a := range s {
		if !other.Has(a) {
			return false
		}
	}
	return true
}

func (s AttributeSet) Strings() []string {
	out := make([]string, len(s))
	for i, a := range s {
		out[i] = string(a)
	}
	return out
}

// Principal is the acting session identity, derived per request.
type Principal struct {
	ID         string
	Role       Role
	Department string
	// StaffID points at the principal's own staff record, whose stored
	// user key is preferred over deriving a fresh one.
	StaffID string
}

// EntityType names a record table.
type EntityType string

const (
	EntityPatient     EntityType = "patient"
	EntityStaff       EntityType = "staff"
	EntityAppointment EntityType = "appointment"
	EntitySample      EntityType = "sample"
	EntityAnalysis    EntityType = "analysis"
	EntityRadio       EntityType = "radio"
	EntityInvoice     EntityType = "invoice"
)

// Action is an operation checked by the authorization gate.
type Action string

const (
	ActionCreate  Action = "create"
	ActionRead    Action = "read"
	ActionList    Action = "list"
	ActionUpdate  Action = "update"
	ActionDelete  Action = "delete"
	ActionEncrypt Action = "encrypt"
	ActionDecrypt Action = "decrypt"
)

// Record is a row of an entity table. Values are plaintext before
// encryption and ciphertext once governed fields have been processed.
type Record struct {
	Entity EntityType
	ID     string
	Fields map[string]string
}

// NewRecord returns a record with a copy of fields.
func NewRecord(entity EntityType, id string, fields map[string]string) *Record {
	return &Record{Entity: entity, ID: id, Fields: maps.Clone(fields)}
}

// Clone returns a deep copy of the record.
func (r *Record) Clone() *Record {
	if r == nil {
		return nil
	}
	fields := maps.Clone(r.Fields)
	if fields == nil {
		fields = make(map[string]string)
	}
	return &Record{Entity: r.Entity, ID: r.ID, Fields: fields}
}

// Field returns the value of name and whether it was supplied.
func (r *Record) Field(name string) (string, bool) {
	if name == FieldID {
		return r.ID, r.ID != ""
	}
	v, ok := r.Fields[name]
	return v, ok
}

// FieldID addresses the record's own identifier in owner references.
const FieldID = "id"

// Fields a record-subject attribute key is projected from.
const (
	FieldRole       = "role"
	FieldDepartment = "department"
)

// UserKey is an opaque attribute-based decryption key.
type UserKey string

// KeyMaterial is the per-record key material persisted next to a record.
// IBER and ABEUserKey hold sealed values when a KeySealer is configured.
// ABEAttributes lists, comma separated, the attributes ABEUserKey was
// minted for.
type KeyMaterial struct {
	IBEA          string
	IBER          string
	ABEUserKey    string
	ABEAttributes string
}

func (k KeyMaterial) HasIdentityKey() bool {
	return k.IBEA != "" && k.IBER != ""
}

func (k KeyMaterial) HasAttributeKey() bool {
	return k.ABEUserKey != ""
}

// KeyAttributes returns the attributes the user key was minted for.
func (k KeyMaterial) KeyAttributes() AttributeSet {
	if k.ABEAttributes == "" {
		return nil
	}
	parts := strings.Split(k.ABEAttributes, ",")
	attrs := make([]Attribute, len(parts))
	for i, p := range parts {
		attrs[i] = Attribute(p)
	}
	return NewAttributeSet(attrs...)
}

func (k KeyMaterial) IsZero() bool {
	return k == KeyMaterial{}
}

// IdentityKeyPair is returned by the identity key service. A is the public
// encryption half, R the private decryption half.
type IdentityKeyPair struct {
	Identity string
	R        string
	A        string
}

// AttributeEncryptRequest carries the context the attribute key service
// needs to choose or verify the policy of a field.
type AttributeEncryptRequest struct {
	Entity    EntityType
	Field     string
	Plaintext string
	Qualifier string
	Policy    Policy
}

// AttributeCiphertext is the encryption result with the policy actually
// embedded in the envelope.
type AttributeCiphertext struct {
	Ciphertext string
	Policy     Policy
}
