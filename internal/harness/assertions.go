package harness

import (
	"fmt"
	"strings"

	"github.com/roach88/resgraph/internal/graph"
	"github.com/roach88/resgraph/internal/ir"
	"github.com/roach88/resgraph/internal/pattern"
	"github.com/roach88/resgraph/internal/timer"
)

// AssertionContext is the final state assertions are checked against.
type AssertionContext struct {
	Session   *graph.Session
	Instances map[string]*pattern.Instance
	Demands   map[string]*pattern.Demand

	// Callbacks counts transitions per pattern name, or per
	// "demand@root" for demand instances.
	Callbacks map[string]int

	Timers map[string]*timer.Timer
}

// AssertionError is returned when an assertion fails.
type AssertionError struct {
	Type     string
	Expected string
	Actual   string
	Trace    []TraceEntry
}

// Error implements the error interface.
func (e *AssertionError) Error() string {
	var buf strings.Builder
	fmt.Fprintf(&buf, "Assertion failed: %s\n", e.Type)
	fmt.Fprintf(&buf, "  Expected: %s\n", e.Expected)
	fmt.Fprintf(&buf, "  Actual: %s\n", e.Actual)
	if len(e.Trace) > 0 {
		fmt.Fprintf(&buf, "\nFull trace:\n")
		for i, entry := range e.Trace {
			fmt.Fprintf(&buf, "  [%d] %s\n", i+1, entry)
		}
	}
	return buf.String()
}

// EvaluateAssertions checks every assertion and returns the failure
// messages. An empty slice means all passed.
func EvaluateAssertions(result *Result, assertions []Assertion, actx *AssertionContext) []string {
	var errs []string
	for i, a := range assertions {
		if err := evaluateAssertion(result.Trace, a, actx); err != nil {
			errs = append(errs, fmt.Sprintf("assertion %d: %v", i, err))
		}
	}
	return errs
}

func evaluateAssertion(trace []TraceEntry, a Assertion, actx *AssertionContext) error {
	switch a.Type {
	case AssertTraceContains:
		return assertTraceContains(trace, a)
	case AssertTraceOrder:
		return assertTraceOrder(trace, a)
	case AssertTraceCount:
		return assertTraceCount(trace, a)
	case AssertNode:
		return assertNode(actx, a)
	case AssertPattern:
		return assertPattern(actx, a)
	case AssertTimer:
		return assertTimer(actx, a)
	}
	return fmt.Errorf("unknown assertion type: %s", a.Type)
}

func assertTraceContains(trace []TraceEntry, a Assertion) error {
	for _, e := range trace {
		if e.String() == a.Entry {
			return nil
		}
	}
	return &AssertionError{
		Type:     AssertTraceContains,
		Expected: a.Entry,
		Actual:   "not found in trace",
		Trace:    trace,
	}
}

// assertTraceOrder checks that the entries occur as a subsequence of the
// trace. Other entries may appear in between.
func assertTraceOrder(trace []TraceEntry, a Assertion) error {
	next := 0
	for _, e := range trace {
		if next < len(a.Entries) && e.String() == a.Entries[next] {
			next++
		}
	}
	if next == len(a.Entries) {
		return nil
	}
	return &AssertionError{
		Type:     AssertTraceOrder,
		Expected: fmt.Sprintf("entries in order: %q", a.Entries),
		Actual:   fmt.Sprintf("no match for %q after %d matched entries", a.Entries[next], next),
		Trace:    trace,
	}
}

func assertTraceCount(trace []TraceEntry, a Assertion) error {
	count := 0
	for _, e := range trace {
		if e.String() == a.Entry {
			count++
		}
	}
	if count != a.Count {
		return &AssertionError{
			Type:     AssertTraceCount,
			Expected: fmt.Sprintf("%d occurrences of %q", a.Count, a.Entry),
			Actual:   fmt.Sprintf("%d occurrences", count),
			Trace:    trace,
		}
	}
	return nil
}

func assertNode(actx *AssertionContext, a Assertion) error {
	fail := func(expected, actual string) error {
		return &AssertionError{
			Type:     AssertNode,
			Expected: fmt.Sprintf("%s %s", a.Path, expected),
			Actual:   actual,
		}
	}

	info, err := actx.Session.Node(a.Path)
	state := StateReal
	switch {
	case graph.IsNotFound(err):
		state = StateAbsent
	case err != nil:
		return fail("readable", err.Error())
	case !info.Real:
		state = StateVirtual
	}
	if a.State != "" && a.State != state {
		return fail(a.State, state)
	}
	if state == StateAbsent {
		if a.NodeType != "" || a.Active != nil || a.Value != nil || a.Pinned != nil {
			return fail("present", state)
		}
		return nil
	}

	if a.NodeType != "" && a.NodeType != info.Type {
		return fail("of type "+a.NodeType, "type "+info.Type)
	}
	if a.Active != nil && *a.Active != info.Active {
		return fail(fmt.Sprintf("active=%t", *a.Active), fmt.Sprintf("active=%t", info.Active))
	}
	if a.Pinned != nil && *a.Pinned != info.Pinned {
		return fail(fmt.Sprintf("pinned=%t", *a.Pinned), fmt.Sprintf("pinned=%t", info.Pinned))
	}
	if a.Value != nil {
		want, err := ir.FromAny(a.Value)
		if err != nil {
			return fmt.Errorf("node assertion value: %w", err)
		}
		if !ir.Equal(want, info.Value) {
			return fail("= "+ir.Format(want), ir.Format(info.Value))
		}
	}
	return nil
}

func (actx *AssertionContext) instance(name string) (*pattern.Instance, bool) {
	if inst, ok := actx.Instances[name]; ok {
		return inst, true
	}
	demand, root, ok := strings.Cut(name, "@")
	if !ok {
		return nil, false
	}
	dm, ok := actx.Demands[demand]
	if !ok {
		return nil, false
	}
	for _, inst := range dm.Instances() {
		if inst.Root() == root {
			return inst, true
		}
	}
	return nil, false
}

func assertPattern(actx *AssertionContext, a Assertion) error {
	if a.Callbacks != nil {
		if got := actx.Callbacks[a.Name]; got != *a.Callbacks {
			return &AssertionError{
				Type:     AssertPattern,
				Expected: fmt.Sprintf("%d callbacks for %s", *a.Callbacks, a.Name),
				Actual:   fmt.Sprintf("%d callbacks", got),
			}
		}
	}
	if a.Available == nil {
		return nil
	}
	inst, ok := actx.instance(a.Name)
	if !ok {
		if !*a.Available {
			return nil
		}
		return &AssertionError{
			Type:     AssertPattern,
			Expected: a.Name + " available",
			Actual:   "no such instance",
		}
	}
	if got := inst.Available() && !inst.Destroyed(); got != *a.Available {
		return &AssertionError{
			Type:     AssertPattern,
			Expected: fmt.Sprintf("%s available=%t", a.Name, *a.Available),
			Actual:   fmt.Sprintf("available=%t", got),
		}
	}
	return nil
}

func assertTimer(actx *AssertionContext, a Assertion) error {
	t, ok := actx.Timers[a.Name]
	if !ok {
		return &AssertionError{
			Type:     AssertTimer,
			Expected: "timer " + a.Name,
			Actual:   "no such timer",
		}
	}
	fires, skipped := t.Stats()
	if a.Fires != nil && *a.Fires != fires {
		return &AssertionError{
			Type:     AssertTimer,
			Expected: fmt.Sprintf("%s fired %d times", a.Name, *a.Fires),
			Actual:   fmt.Sprintf("%d fires", fires),
		}
	}
	if a.Skipped != nil && *a.Skipped != skipped {
		return &AssertionError{
			Type:     AssertTimer,
			Expected: fmt.Sprintf("%s skipped %d fires", a.Name, *a.Skipped),
			Actual:   fmt.Sprintf("%d skipped", skipped),
		}
	}
	if a.Running != nil && *a.Running != t.IsRunning() {
		return &AssertionError{
			Type:     AssertTimer,
			Expected: fmt.Sprintf("%s running=%t", a.Name, *a.Running),
			Actual:   fmt.Sprintf("running=%t", t.IsRunning()),
		}
	}
	return nil
}
