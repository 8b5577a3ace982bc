package medx_test

import (
	"context"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/hengadev/medx"
	"github.com/hengadev/medx/providers/local"
	"github.com/hengadev/medx/store/sqlite"
)

var (
	reception = medx.Principal{ID: "u-reception", Role: medx.RoleReception, Department: "RECEPTION"}
	admin     = medx.Principal{ID: "u-admin", Role: medx.RoleAdmin, Department: "ADMINISTRATION"}
	doctor    = medx.Principal{ID: "u-doctor", Role: medx.RoleMedecin, Department: "cardiology"}
	neurology = medx.Principal{ID: "u-neuro", Role: medx.RoleMedecin, Department: "NEUROLOGY"}
	nurse     = medx.Principal{ID: "u-nurse", Role: medx.RoleInfirmier, Department: "CARDIOLOGY"}
	labTech   = medx.Principal{ID: "u-lab", Role: medx.RoleLaborantin, Department: "LABORATORY"}
	patient   = medx.Principal{ID: "u-patient", Role: medx.RolePatient}
)

// stubABE wraps an attribute authority with call counters and failure
// injection.
type stubABE struct {
	next medx.AttributeKeyService

	generateCalls atomic.Int32
	encryptCalls  atomic.Int32
	decryptCalls  atomic.Int32

	mu          sync.Mutex
	generateErr error
	encryptErrs []error // consumed one per call
	decryptErrs []error
	block       bool
}

func (s *stubABE) pop(errs *[]error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(*errs) == 0 {
		return nil
	}
	err := (*errs)[0]
	*errs = (*errs)[1:]
	return err
}

func (s *stubABE) GenerateUserKey(ctx context.Context, attrs medx.AttributeSet) (medx.UserKey, error) {
	s.generateCalls.Add(1)
	s.mu.Lock()
	err := s.generateErr
	s.mu.Unlock()
	if err != nil {
		return "", err
	}
	return s.next.GenerateUserKey(ctx, attrs)
}

func (s *stubABE) Encrypt(ctx context.Context, req medx.AttributeEncryptRequest) (medx.AttributeCiphertext, error) {
	s.encryptCalls.Add(1)
	if s.block {
		<-ctx.Done()
		return medx.AttributeCiphertext{}, ctx.Err()
	}
	if err := s.pop(&s.encryptErrs); err != nil {
		return medx.AttributeCiphertext{}, err
	}
	return s.next.Encrypt(ctx, req)
}

func (s *stubABE) Decrypt(ctx context.Context, ciphertext string, key medx.UserKey) (string, error) {
	s.decryptCalls.Add(1)
	if err := s.pop(&s.decryptErrs); err != nil {
		return "", err
	}
	return s.next.Decrypt(ctx, ciphertext, key)
}

type stubIBE struct {
	next        medx.IdentityKeyService
	generateErr error
}

func (s *stubIBE) GenerateKeyPair(ctx context.Context, namespace string, recordID string) (medx.IdentityKeyPair, error) {
	if s.generateErr != nil {
		return medx.IdentityKeyPair{}, s.generateErr
	}
	return s.next.GenerateKeyPair(ctx, namespace, recordID)
}

func (s *stubIBE) Encrypt(ctx context.Context, plaintext string, a string) (string, error) {
	return s.next.Encrypt(ctx, plaintext, a)
}

func (s *stubIBE) Decrypt(ctx context.Context, ciphertext string, r string, a string) (string, error) {
	return s.next.Decrypt(ctx, ciphertext, r, a)
}

type allowAll struct{}

func (allowAll) Authorize(context.Context, medx.Principal, medx.EntityType, medx.Action) error {
	return nil
}

type denyDeletes struct{}

func (denyDeletes) Authorize(_ context.Context, p medx.Principal, entity medx.EntityType, action medx.Action) error {
	if action == medx.ActionDelete {
		return medx.NewForbiddenError(p.Role, entity, action)
	}
	return nil
}

type auditEvent struct {
	kind   string
	entity medx.EntityType
	field  string
	err    error
}

type recordingAudit struct {
	mu     sync.Mutex
	events []auditEvent
}

func (a *recordingAudit) OnDecryptDenied(_ context.Context, _ medx.Principal, entity medx.EntityType, _ string, field string, err error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.events = append(a.events, auditEvent{kind: "decrypt", entity: entity, field: field, err: err})
}

func (a *recordingAudit) OnAccessDenied(_ context.Context, _ medx.Principal, entity medx.EntityType, _ medx.Action, err error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.events = append(a.events, auditEvent{kind: "access", entity: entity, err: err})
}

func (a *recordingAudit) Events() []auditEvent {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]auditEvent(nil), a.events...)
}

// prefixSealer marks sealed values so tests can tell them apart.
type prefixSealer struct{}

func (prefixSealer) Seal(_ context.Context, plaintext []byte) ([]byte, error) {
	return append([]byte("sealed:"), plaintext...), nil
}

func (prefixSealer) Open(_ context.Context, sealed []byte) ([]byte, error) {
	s, ok := strings.CutPrefix(string(sealed), "sealed:")
	if !ok {
		return nil, medx.ErrMalformedCiphertext
	}
	return []byte(s), nil
}

type harness struct {
	registry *medx.Registry
	abe      *stubABE
	ibe      *stubIBE
	store    *sqlite.Store
	audit    *recordingAudit
}

func newHarness(t *testing.T) *harness {
	return newHarnessWithRegistry(t, medx.DefaultRegistry())
}

func newHarnessWithRegistry(t *testing.T, registry *medx.Registry) *harness {
	t.Helper()

	masterKey, err := medx.GenerateMasterKey()
	require.NoError(t, err)
	authority, err := local.NewAttributeAuthority(masterKey, local.WithRegistry(registry))
	require.NoError(t, err)

	store, err := sqlite.Open(context.Background(), filepath.Join(t.TempDir(), "records.db"))
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	return &harness{
		registry: registry,
		abe:      &stubABE{next: authority},
		ibe:      &stubIBE{next: local.NewIdentityAuthority()},
		store:    store,
		audit:    &recordingAudit{},
	}
}

func (h *harness) defaultOptions(opts []medx.Option) []medx.Option {
	return append([]medx.Option{
		medx.WithAuditHook(h.audit),
		medx.WithRetry(medx.RetrySettings{MaxAttempts: 3, InitialDelay: time.Millisecond, MaxDelay: 5 * time.Millisecond}),
	}, opts...)
}

func (h *harness) service(t *testing.T, opts ...medx.Option) *medx.Service {
	t.Helper()
	return h.serviceWith(t, allowAll{}, opts...)
}

func (h *harness) serviceWith(t *testing.T, authz medx.Authorizer, opts ...medx.Option) *medx.Service {
	t.Helper()
	svc, err := medx.NewService(h.registry, h.abe, h.ibe, h.store, authz, h.defaultOptions(opts)...)
	require.NoError(t, err)
	return svc
}

func (h *harness) orchestrator(t *testing.T, opts ...medx.Option) *medx.Orchestrator {
	t.Helper()
	o, err := medx.NewOrchestrator(h.registry, h.abe, h.ibe, h.store, h.defaultOptions(opts)...)
	require.NoError(t, err)
	return o
}

func newPatient(contact string) *medx.Record {
	return medx.NewRecord(medx.EntityPatient, "", map[string]string{
		"first_name": "Ada",
		"last_name":  "Lovelace",
		"contact":    contact,
		"email":      "ada@example.org",
		"address":    "12 Analytical Row",
		"department": "CARDIOLOGY",
	})
}

func newStaff(role medx.Role, department, email string) *medx.Record {
	return medx.NewRecord(medx.EntityStaff, "", map[string]string{
		"first_name": "Sam",
		"role":       string(role),
		"department": department,
		"contact":    "555-0199",
		"email":      email,
	})
}
