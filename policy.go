package medx

import (
	"encoding/json"
	"fmt"
	"strings"

	"gopkg.in/yaml.v3"
)

// ServicePlaceholder is substituted with the upper-cased service qualifier
// when a policy is resolved for a write.
const ServicePlaceholder Attribute = "$SERVICE"

// Policy is a disjunction of conjunctions: a key satisfies the policy when
// it holds every attribute of at least one group.
type Policy [][]Attribute

// AllOf builds a single-group policy.
func AllOf(attrs ...Attribute) Policy {
	return Policy{attrs}
}

// AnyOf builds a policy from alternative groups.
func AnyOf(groups ...[]Attribute) Policy {
	return Policy(groups)
}

// Satisfied reports whether attrs covers at least one group.
func (p Policy) Satisfied(attrs AttributeSet) bool {
	for _, group := range p {
		if len(group) == 0 {
			continue
		}
		ok := true
		for _, a := range group {
			if !attrs.Has(a) {
				ok = false
				break
			}
		}
		if ok {
			return true
		}
	}
	return false
}

// HasPlaceholder reports whether any group references ServicePlaceholder.
func (p Policy) HasPlaceholder() bool {
	for _, group := range p {
		for _, a := range group {
			if a == ServicePlaceholder {
				return true
			}
		}
	}
	return false
}

// Resolve returns a copy with ServicePlaceholder replaced by the
// normalized qualifier.
func (p Policy) Resolve(qualifier string) (Policy, error) {
	q := NormalizeAttribute(qualifier)
	if p.HasPlaceholder() && q == "" {
		return nil, ErrMissingQualifier
	}
	out := make(Policy, len(p))
	for i, group := range p {
		g := make([]Attribute, len(group))
		for j, a := range group {
			if a == ServicePlaceholder {
				a = q
			}
			g[j] = a
		}
		out[i] = g
	}
	return out, nil
}

// Normalize upper-cases every token, keeping the placeholder intact.
func (p Policy) Normalize() Policy {
	out := make(Policy, 0, len(p))
	for _, group := range p {
		g := make([]Attribute, 0, len(group))
		for _, a := range group {
			if a == ServicePlaceholder {
				g = append(g, a)
				continue
			}
			if n := NormalizeAttribute(string(a)); n != "" {
				g = append(g, n)
			}
		}
		if len(g) > 0 {
			out = append(out, g)
		}
	}
	return out
}

// Attributes returns every distinct token used by the policy.
func (p Policy) Attributes() AttributeSet {
	var all []Attribute
	for _, group := range p {
		all = append(all, group...)
	}
	set := make(AttributeSet, 0, len(all))
	for _, a := range all {
		if !set.Has(a) {
			set = append(set, a)
		}
	}
	return set
}

// String renders the policy as "(A and B) or (C)".
func (p Policy) String() string {
	groups := make([]string, len(p))
	for i, group := range p {
		parts := make([]string, len(group))
		for j, a := range group {
			parts[j] = string(a)
		}
		groups[i] = "(" + strings.Join(parts, " and ") + ")"
	}
	return strings.Join(groups, " or ")
}

// ParsePolicy accepts either a flat list of attributes (one AND group)
// or a list of lists (OR of AND groups).
func ParsePolicy(raw any) (Policy, error) {
	switch v := raw.(type) {
	case nil:
		return nil, nil
	case []any:
		if len(v) == 0 {
			return nil, nil
		}
		if _, nested := v[0].([]any); nested {
			p := make(Policy, 0, len(v))
			for _, g := range v {
				items, ok := g.([]any)
				if !ok {
					return nil, fmt.Errorf("%w: mixed flat and nested policy groups", ErrInvalidConfiguration)
				}
				group, err := parseGroup(items)
				if err != nil {
					return nil, err
				}
				p = append(p, group)
			}
			return p.Normalize(), nil
		}
		group, err := parseGroup(v)
		if err != nil {
			return nil, err
		}
		return Policy{group}.Normalize(), nil
	default:
		return nil, fmt.Errorf("%w: policy must be a list, got %T", ErrInvalidConfiguration, raw)
	}
}

func parseGroup(items []any) ([]Attribute, error) {
	group := make([]Attribute, 0, len(items))
	for _, item := range items {
		s, ok := item.(string)
		if !ok {
			return nil, fmt.Errorf("%w: policy attribute must be a string, got %T", ErrInvalidConfiguration, item)
		}
		group = append(group, Attribute(s))
	}
	return group, nil
}

// UnmarshalJSON accepts the flat and nested list forms.
func (p *Policy) UnmarshalJSON(data []byte) error {
	var raw any
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	parsed, err := ParsePolicy(raw)
	if err != nil {
		return err
	}
	*p = parsed
	return nil
}

// UnmarshalYAML accepts the flat and nested list forms.
func (p *Policy) UnmarshalYAML(node *yaml.Node) error {
	var raw any
	if err := node.Decode(&raw); err != nil {
		return err
	}
	parsed, err := ParsePolicy(raw)
	if err != nil {
		return err
	}
	*p = parsed
	return nil
}
