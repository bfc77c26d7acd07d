package cli

import (
	"bytes"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/roach88/resgraph/internal/graph"
	"github.com/roach88/resgraph/internal/harness"
	"github.com/roach88/resgraph/internal/ir"
)

// Seed is a YAML file of type definitions and nodes to create at start.
//
//	types:
//	  - tag: thermostat
//	nodes:
//	  - { path: /rooms/a, type: thermostat }
//	  - { path: /rooms/a/setpoint, value: 21 }
//	  - { path: /favorites/a, reference: /rooms/a }
type Seed struct {
	Types []harness.TypeDef `yaml:"types,omitempty"`
	Nodes []SeedNode        `yaml:"nodes,omitempty"`
}

// SeedNode is one node of a seed. Reference makes it a reference slot.
type SeedNode struct {
	Path      string `yaml:"path"`
	Type      string `yaml:"type,omitempty"`
	Value     any    `yaml:"value,omitempty"`
	Inactive  bool   `yaml:"inactive,omitempty"`
	Reference string `yaml:"reference,omitempty"`
}

// LoadSeed reads and checks a seed file.
func LoadSeed(path string) (*Seed, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read seed file: %w", err)
	}
	var s Seed
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&s); err != nil {
		return nil, fmt.Errorf("failed to parse seed: %w", err)
	}
	for i, td := range s.Types {
		if td.Tag == "" {
			return nil, fmt.Errorf("types[%d]: tag is required", i)
		}
	}
	for i, n := range s.Nodes {
		if _, err := graph.Split(n.Path); err != nil {
			return nil, fmt.Errorf("nodes[%d]: %w", i, err)
		}
		if _, err := ir.FromAny(n.Value); err != nil {
			return nil, fmt.Errorf("nodes[%d] value: %w", i, err)
		}
		if n.Reference != "" && (n.Type != "" || n.Value != nil) {
			return nil, fmt.Errorf("nodes[%d]: a reference takes no type or value", i)
		}
	}
	return &s, nil
}

// TypeTable builds the seed's type table.
func (s *Seed) TypeTable() *graph.TypeTable {
	t := graph.NewTypeTable()
	for _, td := range s.Types {
		t.Define(td.Tag, td.Parents...)
	}
	return t
}

// Apply creates the seed's nodes in order. Nodes that are already real
// keep their value and activation, so a seed can be applied on every start
// against a restored graph.
func (s *Seed) Apply(sess *graph.Session) error {
	for _, n := range s.Nodes {
		if err := s.applyNode(sess, n); err != nil {
			return fmt.Errorf("seed %s: %w", n.Path, err)
		}
	}
	return nil
}

func (s *Seed) applyNode(sess *graph.Session, n SeedNode) error {
	if n.Reference != "" {
		slot, err := sess.Slot(n.Path)
		if err == nil && slot.Reference == n.Reference {
			return nil
		}
		return sess.AddReference(n.Path, n.Reference)
	}
	existed, err := sess.Exists(n.Path)
	if err != nil {
		return err
	}
	if err := sess.CreateNode(n.Path, n.Type); err != nil {
		return err
	}
	if existed {
		return nil
	}
	if n.Value != nil {
		v, _ := ir.FromAny(n.Value)
		if err := sess.SetValue(n.Path, v); err != nil {
			return err
		}
	}
	if n.Inactive {
		return sess.SetActive(n.Path, false)
	}
	return nil
}
