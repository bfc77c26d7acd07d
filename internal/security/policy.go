package security

import (
	"fmt"
	"os"

	"github.com/bmatcuk/doublestar/v4"
	"gopkg.in/yaml.v3"

	"github.com/roach88/resgraph/internal/graph"
)

// AllowAll permits every operation.
type AllowAll struct{}

// Permit returns true.
func (AllowAll) Permit(string, string, graph.Operation) bool { return true }

// Effect is the outcome of a matching rule.
type Effect string

const (
	Allow Effect = "allow"
	Deny  Effect = "deny"
)

// Rule grants or denies operations on paths to owners.
type Rule struct {
	// Owners are glob patterns on the owner name; empty matches every
	// owner.
	Owners []string `yaml:"owners"`

	// Paths are doublestar patterns, e.g. "/rooms/**". Empty matches
	// every path.
	Paths []string `yaml:"paths"`

	// Ops lists the operations the rule covers; empty covers all.
	Ops []graph.Operation `yaml:"ops"`

	Effect Effect `yaml:"effect"`
}

// Policy is an ordered rule list. The first matching rule decides;
// without a match Default applies.
type Policy struct {
	Default Effect `yaml:"default"`
	Rules   []Rule `yaml:"rules"`
}

var knownOps = map[graph.Operation]bool{
	graph.OpRead:      true,
	graph.OpCreate:    true,
	graph.OpDelete:    true,
	graph.OpWrite:     true,
	graph.OpActivate:  true,
	graph.OpReference: true,
	graph.OpListen:    true,
	graph.OpClaim:     true,
}

// ParsePolicy decodes and validates a YAML policy. A missing default
// denies.
func ParsePolicy(data []byte) (*Policy, error) {
	var p Policy
	if err := yaml.Unmarshal(data, &p); err != nil {
		return nil, fmt.Errorf("parse policy: %w", err)
	}
	if p.Default == "" {
		p.Default = Deny
	}
	if err := p.Validate(); err != nil {
		return nil, err
	}
	return &p, nil
}

// LoadPolicy reads and parses a policy file.
func LoadPolicy(path string) (*Policy, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read policy: %w", err)
	}
	p, err := ParsePolicy(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return p, nil
}

// Validate checks effects, operations and patterns.
func (p *Policy) Validate() error {
	if p.Default != Allow && p.Default != Deny {
		return fmt.Errorf("default: unknown effect %q", p.Default)
	}
	for i, r := range p.Rules {
		if r.Effect != Allow && r.Effect != Deny {
			return fmt.Errorf("rule %d: unknown effect %q", i, r.Effect)
		}
		for _, op := range r.Ops {
			if !knownOps[op] {
				return fmt.Errorf("rule %d: unknown operation %q", i, op)
			}
		}
		for _, pat := range append(append([]string(nil), r.Owners...), r.Paths...) {
			if !doublestar.ValidatePattern(pat) {
				return fmt.Errorf("rule %d: invalid pattern %q", i, pat)
			}
		}
	}
	return nil
}

// Decide returns the effect for one request.
func (p *Policy) Decide(owner, path string, op graph.Operation) Effect {
	for _, r := range p.Rules {
		if r.matches(owner, path, op) {
			return r.Effect
		}
	}
	return p.Default
}

// Permit implements graph.Oracle.
func (p *Policy) Permit(owner, path string, op graph.Operation) bool {
	return p.Decide(owner, path, op) == Allow
}

func (r Rule) matches(owner, path string, op graph.Operation) bool {
	if len(r.Ops) > 0 {
		found := false
		for _, o := range r.Ops {
			if o == op {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	return matchAny(r.Owners, owner) && matchAny(r.Paths, path)
}

func matchAny(patterns []string, s string) bool {
	if len(patterns) == 0 {
		return true
	}
	for _, pat := range patterns {
		if ok, _ := doublestar.Match(pat, s); ok {
			return true
		}
	}
	return false
}
