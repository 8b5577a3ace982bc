package authz

import "github.com/hengadev/medx"

var readOnly = []medx.Action{medx.ActionRead, medx.ActionList}

var readWrite = []medx.Action{medx.ActionCreate, medx.ActionRead, medx.ActionList, medx.ActionUpdate}

// DefaultPolicies returns the hospital role/entity permissions. Field
// confidentiality is enforced by encryption policies; these lines only
// decide which screens a role may reach.
func DefaultPolicies() [][]string {
	var rules [][]string
	allow := func(role medx.Role, entity medx.EntityType, actions []medx.Action) {
		for _, a := range actions {
			rules = append(rules, []string{string(role), string(entity), string(a), EffectAllow})
		}
	}

	rules = append(rules, []string{string(medx.RoleAdmin), Wildcard, Wildcard, EffectAllow})

	allow(medx.RoleReception, medx.EntityPatient, readWrite)
	allow(medx.RoleReception, medx.EntityAppointment, append(readWrite, medx.ActionDelete))
	allow(medx.RoleReception, medx.EntityStaff, readOnly)

	allow(medx.RoleMedecin, medx.EntityPatient, []medx.Action{medx.ActionRead, medx.ActionList, medx.ActionUpdate})
	allow(medx.RoleMedecin, medx.EntityAppointment, readWrite)
	allow(medx.RoleMedecin, medx.EntitySample, readWrite)
	allow(medx.RoleMedecin, medx.EntityAnalysis, readWrite)
	allow(medx.RoleMedecin, medx.EntityRadio, readWrite)
	allow(medx.RoleMedecin, medx.EntityStaff, readOnly)

	allow(medx.RoleInfirmier, medx.EntityPatient, readOnly)
	allow(medx.RoleInfirmier, medx.EntityAppointment, readOnly)
	allow(medx.RoleInfirmier, medx.EntitySample, readWrite)
	allow(medx.RoleInfirmier, medx.EntityStaff, readOnly)

	allow(medx.RoleLaborantin, medx.EntityPatient, readOnly)
	allow(medx.RoleLaborantin, medx.EntitySample, readOnly)
	allow(medx.RoleLaborantin, medx.EntityAnalysis, readWrite)

	allow(medx.RoleRadiologue, medx.EntityPatient, readOnly)
	allow(medx.RoleRadiologue, medx.EntityRadio, readWrite)

	allow(medx.RoleComptable, medx.EntityPatient, readOnly)
	allow(medx.RoleComptable, medx.EntityInvoice, append(readWrite, medx.ActionDelete))

	allow(medx.RolePatient, medx.EntityAppointment, readOnly)
	allow(medx.RolePatient, medx.EntityInvoice, readOnly)

	return rules
}
