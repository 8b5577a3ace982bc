package authz

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hengadev/medx"
)

func principal(role medx.Role) medx.Principal {
	return medx.Principal{ID: "u-" + string(role), Role: role}
}

func TestGate_DefaultPolicies(t *testing.T) {
	gate, err := New()
	require.NoError(t, err)
	ctx := context.Background()

	tests := []struct {
		role    medx.Role
		entity  medx.EntityType
		action  medx.Action
		allowed bool
	}{
		{medx.RoleAdmin, medx.EntityStaff, medx.ActionDelete, true},
		{medx.RoleAdmin, medx.EntityInvoice, medx.ActionCreate, true},
		{medx.RoleReception, medx.EntityPatient, medx.ActionCreate, true},
		{medx.RoleReception, medx.EntityPatient, medx.ActionDelete, false},
		{medx.RoleReception, medx.EntityAppointment, medx.ActionDelete, true},
		{medx.RoleMedecin, medx.EntitySample, medx.ActionCreate, true},
		{medx.RoleMedecin, medx.EntityStaff, medx.ActionList, true},
		{medx.RoleMedecin, medx.EntityStaff, medx.ActionUpdate, false},
		{medx.RoleInfirmier, medx.EntitySample, medx.ActionUpdate, true},
		{medx.RoleInfirmier, medx.EntityAnalysis, medx.ActionRead, false},
		{medx.RoleLaborantin, medx.EntityAnalysis, medx.ActionCreate, true},
		{medx.RoleRadiologue, medx.EntityRadio, medx.ActionCreate, true},
		{medx.RoleComptable, medx.EntityInvoice, medx.ActionDelete, true},
		{medx.RoleComptable, medx.EntitySample, medx.ActionRead, false},
		{medx.RolePatient, medx.EntityInvoice, medx.ActionList, true},
		{medx.RolePatient, medx.EntityStaff, medx.ActionList, false},
	}

	for _, tt := range tests {
		t.Run(string(tt.role)+" "+string(tt.action)+" "+string(tt.entity), func(t *testing.T) {
			err := gate.Authorize(ctx, principal(tt.role), tt.entity, tt.action)
			if tt.allowed {
				assert.NoError(t, err)
				return
			}
			assert.ErrorIs(t, err, medx.ErrForbidden)
			assert.True(t, medx.IsAccessDenied(err))
		})
	}
}

func TestGate_EmptyRole(t *testing.T) {
	gate, err := New()
	require.NoError(t, err)
	err = gate.Authorize(context.Background(), medx.Principal{ID: "anon"}, medx.EntityPatient, medx.ActionRead)
	assert.ErrorIs(t, err, medx.ErrForbidden)
}

func TestGate_GrantDenyRevoke(t *testing.T) {
	gate, err := New(WithPolicies(nil))
	require.NoError(t, err)
	ctx := context.Background()
	p := principal(medx.RoleComptable)

	assert.ErrorIs(t, gate.Authorize(ctx, p, medx.EntityInvoice, medx.ActionRead), medx.ErrForbidden)

	require.NoError(t, gate.Grant(medx.RoleComptable, medx.EntityInvoice, medx.ActionRead))
	assert.NoError(t, gate.Authorize(ctx, p, medx.EntityInvoice, medx.ActionRead))

	require.NoError(t, gate.Deny(medx.RoleComptable, medx.EntityInvoice, medx.ActionRead))
	assert.ErrorIs(t, gate.Authorize(ctx, p, medx.EntityInvoice, medx.ActionRead), medx.ErrForbidden)

	gate, err = New(WithPolicies(nil))
	require.NoError(t, err)
	require.NoError(t, gate.Grant(medx.RoleComptable, medx.EntityInvoice, medx.ActionRead))
	require.NoError(t, gate.Revoke(medx.RoleComptable, medx.EntityInvoice, medx.ActionRead))
	assert.ErrorIs(t, gate.Authorize(ctx, p, medx.EntityInvoice, medx.ActionRead), medx.ErrForbidden)
}

func TestGate_Inherit(t *testing.T) {
	gate, err := New()
	require.NoError(t, err)
	ctx := context.Background()
	p := principal(medx.RoleRadiologue)

	assert.ErrorIs(t, gate.Authorize(ctx, p, medx.EntityAppointment, medx.ActionRead), medx.ErrForbidden)
	require.NoError(t, gate.Inherit(medx.RoleRadiologue, medx.RoleInfirmier))
	assert.NoError(t, gate.Authorize(ctx, p, medx.EntityAppointment, medx.ActionRead))
}

func TestGate_PolicyFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "policy.csv")
	content := "p, medecin, *, read, allow\np, medecin, invoice, read, deny\n"
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	gate, err := New(WithPolicyFile(path))
	require.NoError(t, err)
	ctx := context.Background()
	p := principal(medx.RoleMedecin)

	assert.NoError(t, gate.Authorize(ctx, p, medx.EntityPatient, medx.ActionRead))
	assert.ErrorIs(t, gate.Authorize(ctx, p, medx.EntityInvoice, medx.ActionRead), medx.ErrForbidden)
	assert.ErrorIs(t, gate.Authorize(ctx, p, medx.EntityPatient, medx.ActionUpdate), medx.ErrForbidden)
	assert.Len(t, gate.Policies(), 2)
}

func TestNew_InvalidPolicies(t *testing.T) {
	tests := []struct {
		name  string
		rules [][]string
	}{
		{"short line", [][]string{{"medecin", "patient", "read"}}},
		{"empty value", [][]string{{"medecin", "", "read", "allow"}}},
		{"bad effect", [][]string{{"medecin", "patient", "read", "maybe"}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := New(WithPolicies(tt.rules))
			assert.ErrorIs(t, err, medx.ErrInvalidConfiguration)
		})
	}
}
