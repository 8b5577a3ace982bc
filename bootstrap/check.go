package bootstrap

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/hengadev/medx"
	"github.com/hengadev/medx/internal/health"
	"github.com/hengadev/medx/internal/reliability"
)

// ErrCheckFailed reports a round trip that completed with the wrong result.
var ErrCheckFailed = errors.New("self check failed")

const checkPlaintext = "medx self check"

// breakerReporter is implemented by the remote key service clients.
type breakerReporter interface {
	BreakerState() reliability.CircuitState
}

// HealthChecker returns a checker probing every wired dependency with a
// real round trip: the record store, the key sealer, the identity service,
// and the attribute service both for a key that satisfies a policy and for
// one that must be refused. Remote clients add a non-critical check on
// their circuit breaker. Nothing is written to the store.
func (c *Components) HealthChecker() *health.HealthChecker {
	checker := health.NewHealthChecker(medx.Version)
	checker.SetTimeout(c.Config.CallTimeout)

	checks := []health.HealthCheck{
		health.PingCheck("store", true, c.Store.Ping),
		health.PingCheck("sealer", true, c.checkSealer),
		health.PingCheck("identity service", true, c.checkIdentity),
		health.PingCheck("attribute service", true, c.checkAttribute),
	}
	if b, ok := c.IBE.(breakerReporter); ok {
		checks = append(checks, health.CircuitBreakerCheck("identity service breaker", b.BreakerState))
	}
	if b, ok := c.ABE.(breakerReporter); ok {
		checks = append(checks, health.CircuitBreakerCheck("attribute service breaker", b.BreakerState))
	}
	for _, check := range checks {
		// names are distinct, registration cannot fail
		_ = checker.RegisterCheck(check)
	}
	return checker
}

// Check runs HealthChecker once.
func (c *Components) Check(ctx context.Context) *health.HealthReport {
	return c.HealthChecker().CheckHealth(ctx)
}

func (c *Components) checkSealer(ctx context.Context) error {
	sealed, err := c.Sealer.Seal(ctx, []byte(checkPlaintext))
	if err != nil {
		return err
	}
	opened, err := c.Sealer.Open(ctx, sealed)
	if err != nil {
		return err
	}
	if string(opened) != checkPlaintext {
		return fmt.Errorf("%w: sealer returned a different value", ErrCheckFailed)
	}
	return nil
}

func (c *Components) checkIdentity(ctx context.Context) error {
	pair, err := c.IBE.GenerateKeyPair(ctx, "medx_check", uuid.NewString())
	if err != nil {
		return err
	}
	ct, err := c.IBE.Encrypt(ctx, checkPlaintext, pair.A)
	if err != nil {
		return err
	}
	pt, err := c.IBE.Decrypt(ctx, ct, pair.R, pair.A)
	if err != nil {
		return err
	}
	if pt != checkPlaintext {
		return fmt.Errorf("%w: identity service returned a different plaintext", ErrCheckFailed)
	}
	return nil
}

func (c *Components) checkAttribute(ctx context.Context) error {
	granted, err := c.Registry.Project(medx.Principal{Role: medx.RoleAdmin, Department: "ADMINISTRATION"})
	if err != nil {
		return err
	}
	refused, err := c.Registry.Project(medx.Principal{Role: medx.RolePatient})
	if err != nil {
		return err
	}

	ct, err := c.ABE.Encrypt(ctx, medx.AttributeEncryptRequest{
		Entity:    medx.EntityStaff,
		Field:     "medx_check",
		Plaintext: checkPlaintext,
		Policy:    medx.AllOf(granted...),
	})
	if err != nil {
		return err
	}

	key, err := c.ABE.GenerateUserKey(ctx, granted)
	if err != nil {
		return err
	}
	pt, err := c.ABE.Decrypt(ctx, ct.Ciphertext, key)
	if err != nil {
		return err
	}
	if pt != checkPlaintext {
		return fmt.Errorf("%w: attribute service returned a different plaintext", ErrCheckFailed)
	}

	key, err = c.ABE.GenerateUserKey(ctx, refused)
	if err != nil {
		return err
	}
	if _, err := c.ABE.Decrypt(ctx, ct.Ciphertext, key); !errors.Is(err, medx.ErrDecryptionDenied) {
		return fmt.Errorf("%w: key outside the policy was not refused (got %v)", ErrCheckFailed, err)
	}
	return nil
}
