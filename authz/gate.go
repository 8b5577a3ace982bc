// Package authz decides which roles may act on which entity types, with a
// casbin role/entity/action model.
package authz

import (
	"context"
	"fmt"
	"log/slog"

	casbin "github.com/casbin/casbin/v2"
	"github.com/casbin/casbin/v2/model"
	fileadapter "github.com/casbin/casbin/v2/persist/file-adapter"

	"github.com/hengadev/medx"
)

// Wildcard matches any entity or action in a policy line.
const Wildcard = "*"

// Effects of a policy line.
const (
	EffectAllow = "allow"
	EffectDeny  = "deny"
)

// Model is the casbin model of the gate. A deny line wins over any allow.
const Model = `[request_definition]
r = sub, obj, act

[policy_definition]
p = sub, obj, act, eft

[role_definition]
g = _, _

[policy_effect]
e = some(where (p.eft == allow)) && !some(where (p.eft == deny))

[matchers]
m = g(r.sub, p.sub) && (p.obj == "*" || r.obj == p.obj) && (p.act == "*" || r.act == p.act)
`

// Gate implements medx.Authorizer.
type Gate struct {
	enforcer *casbin.SyncedEnforcer
	logger   *slog.Logger
}

type config struct {
	policyFile string
	policies   [][]string
	logger     *slog.Logger
}

type Option func(*config)

// WithPolicyFile loads policy lines from a casbin CSV file instead of the
// defaults, e.g. "p, medecin, sample, create, allow".
func WithPolicyFile(path string) Option {
	return func(c *config) {
		c.policyFile = path
	}
}

// WithPolicies replaces the default policy lines.
func WithPolicies(policies [][]string) Option {
	return func(c *config) {
		c.policies = policies
	}
}

func WithLogger(logger *slog.Logger) Option {
	return func(c *config) {
		c.logger = logger
	}
}

// New builds a gate from the default hospital policies unless a file or
// explicit policies are given.
func New(opts ...Option) (*Gate, error) {
	cfg := config{policies: DefaultPolicies(), logger: slog.Default()}
	for _, opt := range opts {
		opt(&cfg)
	}

	m, err := model.NewModelFromString(Model)
	if err != nil {
		return nil, fmt.Errorf("%w: casbin model: %w", medx.ErrInvalidConfiguration, err)
	}

	var e *casbin.SyncedEnforcer
	if cfg.policyFile != "" {
		e, err = casbin.NewSyncedEnforcer(m, fileadapter.NewAdapter(cfg.policyFile))
	} else {
		e, err = casbin.NewSyncedEnforcer(m)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: casbin enforcer: %w", medx.ErrInvalidConfiguration, err)
	}

	if cfg.policyFile == "" {
		for _, rule := range cfg.policies {
			if err := validateRule(rule); err != nil {
				return nil, err
			}
		}
		if len(cfg.policies) > 0 {
			if _, err := e.AddPolicies(cfg.policies); err != nil {
				return nil, fmt.Errorf("%w: load policies: %w", medx.ErrInvalidConfiguration, err)
			}
		}
	}

	return &Gate{enforcer: e, logger: cfg.logger}, nil
}

func validateRule(rule []string) error {
	if len(rule) != 4 {
		return fmt.Errorf("%w: policy line must have role, entity, action and effect, got %v", medx.ErrInvalidConfiguration, rule)
	}
	for _, v := range rule {
		if v == "" {
			return fmt.Errorf("%w: empty value in policy line %v", medx.ErrInvalidConfiguration, rule)
		}
	}
	if rule[3] != EffectAllow && rule[3] != EffectDeny {
		return fmt.Errorf("%w: invalid effect %q", medx.ErrInvalidConfiguration, rule[3])
	}
	return nil
}

// Authorize returns nil when p's role may perform action on entity and an
// error wrapping medx.ErrForbidden otherwise.
func (g *Gate) Authorize(ctx context.Context, p medx.Principal, entity medx.EntityType, action medx.Action) error {
	if p.Role == "" {
		return medx.NewForbiddenError(p.Role, entity, action)
	}

	allowed, err := g.enforcer.Enforce(string(p.Role), string(entity), string(action))
	if err != nil {
		return fmt.Errorf("%w: enforce: %w", medx.ErrInvalidConfiguration, err)
	}
	if !allowed {
		g.logger.DebugContext(ctx, "access refused",
			slog.String("principal", p.ID),
			slog.String("role", string(p.Role)),
			slog.String("entity", string(entity)),
			slog.String("action", string(action)))
		return medx.NewForbiddenError(p.Role, entity, action)
	}
	return nil
}

// Grant adds an allow line.
func (g *Gate) Grant(role medx.Role, entity medx.EntityType, action medx.Action) error {
	_, err := g.enforcer.AddPolicy(string(role), string(entity), string(action), EffectAllow)
	return err
}

// Deny adds a deny line, which wins over any allow.
func (g *Gate) Deny(role medx.Role, entity medx.EntityType, action medx.Action) error {
	_, err := g.enforcer.AddPolicy(string(role), string(entity), string(action), EffectDeny)
	return err
}

// Revoke removes an allow line.
func (g *Gate) Revoke(role medx.Role, entity medx.EntityType, action medx.Action) error {
	_, err := g.enforcer.RemovePolicy(string(role), string(entity), string(action), EffectAllow)
	return err
}

// Inherit makes role inherit every permission of parent.
func (g *Gate) Inherit(role, parent medx.Role) error {
	_, err := g.enforcer.AddGroupingPolicy(string(role), string(parent))
	return err
}

// Policies returns the loaded policy lines.
func (g *Gate) Policies() [][]string {
	return g.enforcer.GetPolicy()
}

var _ medx.Authorizer = (*Gate)(nil)
