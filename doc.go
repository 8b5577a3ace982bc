// Package medx encrypts hospital records field by field so that only the
// people entitled to a value can read it back.
//
// Every governed field of a record is sealed before it reaches the
// database, either under an attribute policy (attribute-based encryption,
// e.g. "MEDECIN and CARDIOLOGY, or INFIRMIER and CARDIOLOGY") or under
// the identity key pair of the record that owns it (identity-based
// encryption, e.g. a patient's contact details). Reading a record with a
// principal whose attributes do not satisfy a field's policy fails for
// that field; nothing is silently blanked.
//
// # Components
//
//   - Registry: the immutable policy table. It maps each entity type and
//     field to a scheme and a policy, and projects roles onto attributes.
//   - Orchestrator: encrypts records for writes and decrypts them for
//     reads, fanning out calls to the key services.
//   - Provisioner: mints the per-record key material (identity key pair or
//     attribute user key) when a record is created.
//   - Service: the authorized create/read/update/delete surface that ties
//     the above to a RecordStore inside one transaction per write.
//
// Key services are interfaces. providers/abehttp and providers/ibehttp
// talk to remote services; providers/local implements both in process.
// Secret key halves are sealed at rest through a KeySealer (Vault Transit
// or AWS KMS).
//
// # Quick Start
//
//	registry := medx.DefaultRegistry()
//	masterKey, _ := medx.LoadOrCreateMasterKey(ctx, keyStore, "medx")
//	abe, _ := local.NewAttributeAuthority(masterKey, local.WithRegistry(registry))
//	ibe := local.NewIdentityAuthority()
//	store, _ := sqlite.Open(ctx, ".medx/records.db")
//	gate, _ := authz.New()
//
//	svc, err := medx.NewService(registry, abe, ibe, store, gate,
//	    medx.WithLogger(logger))
//
//	reception := medx.Principal{ID: "u1", Role: medx.RoleReception, Department: "RECEPTION"}
//	rec, err := svc.Create(ctx, reception, medx.NewRecord(medx.EntityPatient, "", map[string]string{
//	    "first_name": "Ada",
//	    "contact":    "555-0100",
//	    "email":      "ada@example.org",
//	    "address":    "12 Analytical Row",
//	}), "")
//
// The bootstrap package builds the same graph from MEDX_* environment
// variables.
//
// # Policies
//
// A Policy is an OR of AND groups of attributes. The placeholder
// "$SERVICE" stands for the department the record belongs to and is
// resolved from the qualifier passed to writes:
//
//	medx.AnyOf(
//	    []medx.Attribute{medx.AttrMedecin, medx.ServicePlaceholder},
//	    []medx.Attribute{medx.AttrInfirmier, medx.ServicePlaceholder},
//	)
//
// Policy tables can be loaded from YAML with LoadRegistryFile.
//
// # Errors
//
// Errors wrap sentinels such as ErrDecryptionDenied or
// ErrKeyServiceUnavailable; use errors.Is or the Is... classifiers. Field
// level failures are *FieldError values and batch failures *RecordError
// values naming the offending record.
package medx
