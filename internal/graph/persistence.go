package graph

import "github.com/roach88/resgraph/internal/ir"

// NodeRecord is the durable form of a real node.
type NodeRecord struct {
	Path      string
	Type      string
	Active    bool
	Reference string
	Value     ir.Value
	Seq       int64
}

// Changes is the write set of one committed mutation.
type Changes struct {
	Saves   []NodeRecord
	Deletes []string
}

// Empty reports whether there is nothing to write.
func (c Changes) Empty() bool {
	return len(c.Saves) == 0 && len(c.Deletes) == 0
}

// Persistence stores real nodes across restarts.
//
// Apply must be atomic: either every change in the set is stored or
// none is. A failed Apply aborts the graph mutation that produced it.
type Persistence interface {
	LoadNodes() ([]NodeRecord, error)
	Apply(changes Changes) error
}

func (n *node) record() NodeRecord {
	v := n.value
	if v == nil {
		v = ir.Null{}
	}
	return NodeRecord{
		Path:      n.loc,
		Type:      n.typ,
		Active:    n.active,
		Reference: n.ref,
		Value:     v,
		Seq:       n.seq,
	}
}
