package event

import (
	"fmt"

	"github.com/roach88/resgraph/internal/ir"
)

// Kind distinguishes event types.
type Kind int

const (
	// KindActivated: the node became active.
	KindActivated Kind = iota + 1
	// KindDeactivated: the node became inactive, or a node it references
	// was deleted.
	KindDeactivated
	// KindCreated: the node became real.
	KindCreated
	// KindDeleted: the node stopped being real (removed or reverted to virtual).
	KindDeleted
	// KindSubresourceAdded: a child of the node became real.
	KindSubresourceAdded
	// KindSubresourceRemoved: a child of the node stopped being real.
	KindSubresourceRemoved
	// KindReferenceAdded: a reference edge from or to the node was added.
	KindReferenceAdded
	// KindReferenceRemoved: a reference edge from or to the node was removed.
	KindReferenceRemoved
	// KindValueChanged: the node's value was written.
	KindValueChanged
	// KindAccessChanged: the access mode granted on the node changed.
	KindAccessChanged
)

var kindNames = map[Kind]string{
	KindActivated:          "activated",
	KindDeactivated:        "deactivated",
	KindCreated:            "created",
	KindDeleted:            "deleted",
	KindSubresourceAdded:   "subresource-added",
	KindSubresourceRemoved: "subresource-removed",
	KindReferenceAdded:     "reference-added",
	KindReferenceRemoved:   "reference-removed",
	KindValueChanged:       "value-changed",
	KindAccessChanged:      "access-changed",
}

func (k Kind) String() string {
	if name, ok := kindNames[k]; ok {
		return name
	}
	return fmt.Sprintf("kind(%d)", int(k))
}

// Structural reports whether the kind is delivered through structure
// registrations (everything except value changes).
func (k Kind) Structural() bool {
	return k != KindValueChanged
}

// Event is a single graph notification.
type Event struct {
	// Seq orders events globally; assigned by the producing graph.
	Seq int64

	Kind Kind

	// Source is the path the receiving registration is attached to.
	Source string

	// Changed is the location of the node that changed. Equal to Source
	// for self events, the child for subresource events, and the other
	// end of the edge for reference events.
	Changed string

	// Previous and Value are set for KindValueChanged only.
	Previous ir.Value
	Value    ir.Value
}

func (e Event) String() string {
	if e.Kind == KindValueChanged {
		return fmt.Sprintf("#%d %s %s %s -> %s", e.Seq, e.Kind, e.Changed, ir.Format(e.Previous), ir.Format(e.Value))
	}
	if e.Source == e.Changed {
		return fmt.Sprintf("#%d %s %s", e.Seq, e.Kind, e.Changed)
	}
	return fmt.Sprintf("#%d %s %s (at %s)", e.Seq, e.Kind, e.Changed, e.Source)
}
