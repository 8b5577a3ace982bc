package medx

// Departments known to the default registry. ADMINISTRATION and RECEPTION
// double as policy attributes for administrative fields.
var DefaultDepartments = []string{
	"ADMINISTRATION",
	"RECEPTION",
	"CARDIOLOGY",
	"NEUROLOGY",
	"PEDIATRICS",
	"RADIOLOGY",
	"LABORATORY",
	"EMERGENCY",
	"SURGERY",
}

// DefaultRoleAttributes is the role projection table of the hospital.
// admin only carries AGENT: administrative staff reach staff contact
// fields through their ADMINISTRATION department.
func DefaultRoleAttributes() []RoleAttributes {
	return []RoleAttributes{
		{Role: RoleAdmin, Attributes: []Attribute{AttrAgent}},
		{Role: RoleReception, Attributes: []Attribute{AttrAgent, AttrReception}},
		{Role: RoleMedecin, Attributes: []Attribute{AttrAgent, AttrMedecin}},
		{Role: RoleInfirmier, Attributes: []Attribute{AttrAgent, AttrInfirmier}},
		{Role: RoleRadiologue, Attributes: []Attribute{AttrAgent, AttrRadiologue}},
		{Role: RoleLaborantin, Attributes: []Attribute{AttrAgent, AttrLaborantin}},
		{Role: RoleComptable, Attributes: []Attribute{AttrAgent, AttrComptable}},
		{Role: RolePatient, Attributes: []Attribute{AttrPatient}},
	}
}

// DefaultRegistryConfig returns the hospital policy table.
func DefaultRegistryConfig() RegistryConfig {
	doctorInService := []Attribute{AttrMedecin, ServicePlaceholder}

	return RegistryConfig{
		Ungoverned:  UngovernedOpen,
		Departments: append([]string(nil), DefaultDepartments...),
		Roles:       DefaultRoleAttributes(),
		Entities: []EntityPolicy{
			{
				Entity:      EntityPatient,
				KeyKind:     KeyKindIdentity,
				DecryptRule: DecryptWithCallerKey,
				Fields: []FieldPolicy{
					{Field: "contact", Scheme: SchemeAttribute, Policy: AllOf(AttrAgent, AttrReception)},
					{Field: "email", Scheme: SchemeAttribute, Policy: AllOf(AttrAgent, AttrReception)},
					{Field: "address", Scheme: SchemeAttribute, Policy: AllOf(AttrAgent, AttrReception)},
					{Field: "medical_record", Scheme: SchemeAttribute, Policy: AllOf(doctorInService...), Optional: true},
				},
				Plain: []string{"first_name", "last_name", "birth_date", "gender", "department"},
			},
			{
				Entity:      EntityStaff,
				KeyKind:     KeyKindAttribute,
				KeySubject:  SubjectRecord,
				DecryptRule: DecryptWithCallerKey,
				Fields: []FieldPolicy{
					{Field: "contact", Scheme: SchemeAttribute, Policy: AllOf(AttrAgent, AttrAdministration)},
					{Field: "email", Scheme: SchemeAttribute, Policy: AllOf(AttrAgent, AttrAdministration)},
				},
				Plain: []string{"first_name", "last_name", "role", "department", "username"},
			},
			{
				Entity:      EntityAppointment,
				KeyKind:     KeyKindNone,
				DecryptRule: DecryptWithCallerKey,
				Fields: []FieldPolicy{
					{Field: "notes", Scheme: SchemeIdentity, OwnerEntity: EntityPatient, OwnerField: "patient_id"},
					{Field: "description", Scheme: SchemeIdentity, OwnerEntity: EntityPatient, OwnerField: "patient_id", Optional: true},
				},
				Plain: []string{"patient_id", "staff_id", "scheduled_at", "status"},
			},
			{
				Entity:      EntitySample,
				KeyKind:     KeyKindAttribute,
				KeySubject:  SubjectCreator,
				DecryptRule: DecryptWithCallerKey,
				Fields: []FieldPolicy{
					{Field: "temperature", Scheme: SchemeAttribute, Policy: AnyOf(doctorInService, []Attribute{AttrInfirmier, ServicePlaceholder})},
					{Field: "observation", Scheme: SchemeAttribute, Policy: AnyOf(doctorInService, []Attribute{AttrInfirmier, ServicePlaceholder})},
					{Field: "blood_pressure", Scheme: SchemeAttribute, Policy: AnyOf(doctorInService, []Attribute{AttrInfirmier, ServicePlaceholder})},
					{Field: "pulse", Scheme: SchemeAttribute, Policy: AnyOf(doctorInService, []Attribute{AttrInfirmier, ServicePlaceholder})},
					{Field: "respiratory_rate", Scheme: SchemeAttribute, Policy: AnyOf(doctorInService, []Attribute{AttrInfirmier, ServicePlaceholder}), Optional: true},
				},
				Plain: []string{"patient_id", "staff_id", "taken_at"},
			},
			{
				Entity:      EntityAnalysis,
				KeyKind:     KeyKindNone,
				DecryptRule: DecryptWithCallerKey,
				Fields: []FieldPolicy{
					{Field: "exam", Scheme: SchemeAttribute, Policy: AnyOf(doctorInService, []Attribute{AttrLaborantin})},
					{Field: "value_details", Scheme: SchemeAttribute, Policy: AnyOf(doctorInService, []Attribute{AttrLaborantin})},
				},
				Plain: []string{"patient_id", "staff_id", "performed_at"},
			},
			{
				Entity:      EntityRadio,
				KeyKind:     KeyKindNone,
				DecryptRule: DecryptWithCallerKey,
				Fields: []FieldPolicy{
					{Field: "radio_type", Scheme: SchemeAttribute, Policy: AnyOf(doctorInService, []Attribute{AttrRadiologue})},
					{Field: "result", Scheme: SchemeAttribute, Policy: AnyOf(doctorInService, []Attribute{AttrRadiologue})},
				},
				Plain: []string{"patient_id", "staff_id", "performed_at"},
			},
			{
				Entity:      EntityInvoice,
				KeyKind:     KeyKindNone,
				DecryptRule: DecryptWithCallerKey,
				Fields: []FieldPolicy{
					{Field: "amount", Scheme: SchemeAttribute, Policy: AnyOf([]Attribute{AttrComptable}, []Attribute{AttrPatient})},
				},
				Plain: []string{"patient_id", "issued_at", "status"},
			},
		},
	}
}

// DefaultRegistry builds the hospital policy table.
func DefaultRegistry() *Registry {
	r, err := NewRegistry(DefaultRegistryConfig())
	if err != nil {
		panic("medx: default registry is invalid: " + err.Error())
	}
	return r
}
