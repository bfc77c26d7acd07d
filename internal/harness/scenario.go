package harness

import (
	"bytes"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/roach88/resgraph/internal/graph"
	"github.com/roach88/resgraph/internal/security"
)

// DefaultStart is the manual clock's start time when a scenario sets none.
const DefaultStart = "2024-01-01T00:00:00Z"

// DefaultOwner issues steps that name no owner.
const DefaultOwner = "harness"

// Scenario is one conformance test.
type Scenario struct {
	// Name uniquely identifies the scenario and names its golden file.
	Name string `yaml:"name"`

	Description string `yaml:"description"`

	// Start is the RFC 3339 start time of the manual clock.
	Start string `yaml:"start,omitempty"`

	// Types are defined in order before the first step.
	Types []TypeDef `yaml:"types,omitempty"`

	// Policy, when set, authorizes every step. Without it everything is
	// permitted. A policy with no default denies.
	Policy *security.Policy `yaml:"policy,omitempty"`

	Steps []Step `yaml:"steps"`

	Assertions []Assertion `yaml:"assertions"`
}

// TypeDef declares a type tag and the tags it extends.
type TypeDef struct {
	Tag     string   `yaml:"tag"`
	Parents []string `yaml:"parents,omitempty"`
}

// Step operations.
const (
	OpCreate       = "create"
	OpDelete       = "delete"
	OpActivate     = "activate"
	OpDeactivate   = "deactivate"
	OpReference    = "reference"
	OpUnreference  = "unreference"
	OpSet          = "set"
	OpListen       = "listen"
	OpUnlisten     = "unlisten"
	OpPattern      = "pattern"
	OpDemand       = "demand"
	OpDestroy      = "destroy"
	OpTimer        = "timer"
	OpStopTimer    = "stop_timer"
	OpResumeTimer  = "resume_timer"
	OpRetime       = "retime"
	OpDestroyTimer = "destroy_timer"
	OpAdvance      = "advance"
	OpJump         = "jump"
)

// Step is one operation of a scenario. Which fields apply depends on Op.
type Step struct {
	Op string `yaml:"op"`

	// Owner issues graph operations; defaults to DefaultOwner.
	Owner string `yaml:"owner,omitempty"`

	Path   string `yaml:"path,omitempty"`
	Type   string `yaml:"type,omitempty"`
	Target string `yaml:"target,omitempty"`
	Value  any    `yaml:"value,omitempty"`

	// Recursive applies activate and deactivate to the owned subtree.
	Recursive bool `yaml:"recursive,omitempty"`

	// Name identifies listeners, patterns, demands and timers.
	Name string `yaml:"name,omitempty"`

	// Kind is the listen registration: structure (default), value or type.
	Kind string `yaml:"kind,omitempty"`

	Pattern *PatternSpec `yaml:"pattern,omitempty"`

	// Period is a timer period, e.g. "1s".
	Period string `yaml:"period,omitempty"`

	// By is the advance step's duration.
	By string `yaml:"by,omitempty"`

	// At is the jump step's RFC 3339 target time.
	At string `yaml:"at,omitempty"`

	// Error is the error code the step must fail with, e.g. NOT_FOUND.
	Error string `yaml:"error,omitempty"`
}

// PatternSpec is a pattern descriptor in scenario form.
type PatternSpec struct {
	Type   string      `yaml:"type,omitempty"`
	Fields []FieldSpec `yaml:"fields,omitempty"`

	// Accept vetoes availability unless the named field holds Equals.
	Accept *AcceptSpec `yaml:"accept,omitempty"`
}

// FieldSpec is one pattern field in scenario form.
type FieldSpec struct {
	Name     string       `yaml:"name"`
	Path     string       `yaml:"path"`
	Type     string       `yaml:"type,omitempty"`
	Required bool         `yaml:"required,omitempty"`
	Access   string       `yaml:"access,omitempty"`
	Priority int          `yaml:"priority,omitempty"`
	Notify   bool         `yaml:"notify,omitempty"`
	Nested   *PatternSpec `yaml:"nested,omitempty"`
}

// AcceptSpec is an equality predicate on one field's value.
type AcceptSpec struct {
	Field  string `yaml:"field"`
	Equals any    `yaml:"equals"`
}

// Assertion type constants.
const (
	AssertNode          = "node"
	AssertPattern       = "pattern"
	AssertTimer         = "timer"
	AssertTraceContains = "trace_contains"
	AssertTraceOrder    = "trace_order"
	AssertTraceCount    = "trace_count"
)

// Node states for node assertions.
const (
	StateReal    = "real"
	StateVirtual = "virtual"
	StateAbsent  = "absent"
)

// Assertion validates the trace or the final state.
type Assertion struct {
	Type string `yaml:"type"`

	// node
	Path     string `yaml:"path,omitempty"`
	State    string `yaml:"state,omitempty"`
	NodeType string `yaml:"node_type,omitempty"`
	Active   *bool  `yaml:"active,omitempty"`
	Value    any    `yaml:"value,omitempty"`
	Pinned   *bool  `yaml:"pinned,omitempty"`

	// pattern and timer
	Name      string `yaml:"name,omitempty"`
	Available *bool  `yaml:"available,omitempty"`
	Callbacks *int   `yaml:"callbacks,omitempty"`
	Fires     *int64 `yaml:"fires,omitempty"`
	Skipped   *int64 `yaml:"skipped,omitempty"`
	Running   *bool  `yaml:"running,omitempty"`

	// trace
	Entry   string   `yaml:"entry,omitempty"`
	Entries []string `yaml:"entries,omitempty"`
	Count   int      `yaml:"count,omitempty"`
}

// LoadScenario reads and parses a scenario YAML file. Unknown fields are
// rejected.
func LoadScenario(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read scenario file: %w", err)
	}
	return ParseScenario(data)
}

// ParseScenario decodes and validates a scenario document.
func ParseScenario(data []byte) (*Scenario, error) {
	var sc Scenario
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&sc); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}
	if err := validateScenario(&sc); err != nil {
		return nil, fmt.Errorf("invalid scenario: %w", err)
	}
	return &sc, nil
}

func validateScenario(s *Scenario) error {
	if s.Name == "" {
		return fmt.Errorf("name is required")
	}
	if s.Description == "" {
		return fmt.Errorf("description is required")
	}
	if s.Start != "" {
		if _, err := time.Parse(time.RFC3339, s.Start); err != nil {
			return fmt.Errorf("start: %w", err)
		}
	}
	for i, td := range s.Types {
		if td.Tag == "" {
			return fmt.Errorf("types[%d]: tag is required", i)
		}
	}
	if s.Policy != nil {
		if s.Policy.Default == "" {
			s.Policy.Default = security.Deny
		}
		if err := s.Policy.Validate(); err != nil {
			return fmt.Errorf("policy: %w", err)
		}
	}
	if len(s.Steps) == 0 {
		return fmt.Errorf("steps list is required and must be non-empty")
	}
	if len(s.Assertions) == 0 {
		return fmt.Errorf("assertions list is required and must be non-empty")
	}
	for i := range s.Steps {
		if err := validateStep(&s.Steps[i]); err != nil {
			return fmt.Errorf("steps[%d]: %w", i, err)
		}
	}
	for i := range s.Assertions {
		if err := validateAssertion(&s.Assertions[i]); err != nil {
			return fmt.Errorf("assertions[%d]: %w", i, err)
		}
	}
	return nil
}

func validateStep(st *Step) error {
	need := func(field, v string) error {
		if v == "" {
			return fmt.Errorf("%s is required for %s", field, st.Op)
		}
		return nil
	}
	switch st.Op {
	case OpCreate, OpDelete, OpActivate, OpDeactivate, OpUnreference, OpSet:
		return need("path", st.Path)
	case OpReference:
		if err := need("path", st.Path); err != nil {
			return err
		}
		return need("target", st.Target)
	case OpListen:
		if err := need("name", st.Name); err != nil {
			return err
		}
		switch st.Kind {
		case "", "structure", "value":
			return need("path", st.Path)
		case "type":
			return need("type", st.Type)
		}
		return fmt.Errorf("unknown listen kind %q", st.Kind)
	case OpUnlisten, OpDestroy, OpStopTimer, OpResumeTimer, OpDestroyTimer:
		return need("name", st.Name)
	case OpPattern, OpDemand:
		if err := need("name", st.Name); err != nil {
			return err
		}
		if st.Op == OpPattern {
			if err := need("path", st.Path); err != nil {
				return err
			}
		}
		if st.Pattern == nil {
			return fmt.Errorf("pattern is required for %s", st.Op)
		}
		return validatePattern(st.Pattern)
	case OpTimer, OpRetime:
		if err := need("name", st.Name); err != nil {
			return err
		}
		if err := need("period", st.Period); err != nil {
			return err
		}
		_, err := time.ParseDuration(st.Period)
		return err
	case OpAdvance:
		if err := need("by", st.By); err != nil {
			return err
		}
		d, err := time.ParseDuration(st.By)
		if err != nil {
			return err
		}
		if d < 0 {
			return fmt.Errorf("advance must not be negative")
		}
		return nil
	case OpJump:
		if err := need("at", st.At); err != nil {
			return err
		}
		_, err := time.Parse(time.RFC3339, st.At)
		return err
	case "":
		return fmt.Errorf("op is required")
	}
	return fmt.Errorf("unknown op %q", st.Op)
}

func validatePattern(p *PatternSpec) error {
	for i, f := range p.Fields {
		if _, err := parseAccess(f.Access); err != nil {
			return fmt.Errorf("fields[%d]: %w", i, err)
		}
		if f.Nested != nil {
			if err := validatePattern(f.Nested); err != nil {
				return fmt.Errorf("fields[%d].nested: %w", i, err)
			}
		}
	}
	if p.Accept != nil && p.Accept.Field == "" {
		return fmt.Errorf("accept: field is required")
	}
	return nil
}

func parseAccess(s string) (graph.AccessMode, error) {
	switch s {
	case "", "read-only":
		return graph.ReadOnly, nil
	case "shared":
		return graph.Shared, nil
	case "exclusive":
		return graph.Exclusive, nil
	}
	return graph.ReadOnly, fmt.Errorf("unknown access mode %q", s)
}

func validateAssertion(a *Assertion) error {
	switch a.Type {
	case AssertNode:
		if a.Path == "" {
			return fmt.Errorf("path is required for node")
		}
		switch a.State {
		case "", StateReal, StateVirtual, StateAbsent:
		default:
			return fmt.Errorf("unknown node state %q", a.State)
		}
	case AssertPattern, AssertTimer:
		if a.Name == "" {
			return fmt.Errorf("name is required for %s", a.Type)
		}
	case AssertTraceContains:
		if a.Entry == "" {
			return fmt.Errorf("entry is required for trace_contains")
		}
	case AssertTraceOrder:
		if len(a.Entries) == 0 {
			return fmt.Errorf("entries list is required for trace_order")
		}
	case AssertTraceCount:
		if a.Entry == "" {
			return fmt.Errorf("entry is required for trace_count")
		}
		if a.Count < 0 {
			return fmt.Errorf("count must be non-negative for trace_count")
		}
	case "":
		return fmt.Errorf("type is required")
	default:
		return fmt.Errorf("unknown assertion type %q", a.Type)
	}
	return nil
}
