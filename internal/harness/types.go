package harness

// Trace entry kinds.
const (
	EntryStep    = "step"
	EntryEvent   = "event"
	EntryPattern = "pattern"
	EntryTimer   = "timer"
)

// TraceEntry is one line of a scenario trace.
type TraceEntry struct {
	Kind string `json:"kind"`
	Text string `json:"text"`
}

// String renders the entry as it appears in assertions and golden files,
// e.g. "pattern available thermo /t".
func (e TraceEntry) String() string {
	return e.Kind + " " + e.Text
}

// Result is the outcome of a scenario run.
type Result struct {
	// Pass is false once any step or assertion failed.
	Pass bool `json:"pass"`

	Trace []TraceEntry `json:"trace"`

	Errors []string `json:"errors,omitempty"`
}

// NewResult creates a passing result.
func NewResult() *Result {
	return &Result{
		Pass:   true,
		Trace:  []TraceEntry{},
		Errors: []string{},
	}
}

// AddError records a failure.
func (r *Result) AddError(err string) {
	r.Errors = append(r.Errors, err)
	r.Pass = false
}

// Lines returns the rendered trace.
func (r *Result) Lines() []string {
	out := make([]string, len(r.Trace))
	for i, e := range r.Trace {
		out[i] = e.String()
	}
	return out
}
