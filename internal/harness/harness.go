package harness

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/roach88/resgraph/internal/clock"
	"github.com/roach88/resgraph/internal/event"
	"github.com/roach88/resgraph/internal/executor"
	"github.com/roach88/resgraph/internal/graph"
	"github.com/roach88/resgraph/internal/ident"
	"github.com/roach88/resgraph/internal/ir"
	"github.com/roach88/resgraph/internal/pattern"
	"github.com/roach88/resgraph/internal/timer"
)

// Harness executes one scenario. Every delivery runs inline on the
// stepping goroutine, so the trace needs no locking.
type Harness struct {
	graph    *graph.Graph
	patterns *pattern.Manager
	clock    *clock.Manual
	timers   *timer.Scheduler
	logger   *slog.Logger
	result   *Result

	listeners   map[string]*recorder
	instances   map[string]*pattern.Instance
	demands     map[string]*pattern.Demand
	callbacks   map[string]int
	timerByName map[string]*timer.Timer
}

// Run executes a scenario in a fresh graph and returns the result. An
// error is returned only when the scenario cannot be set up; failing
// steps and assertions are reported in the result.
func Run(sc *Scenario) (*Result, error) {
	start := DefaultStart
	if sc.Start != "" {
		start = sc.Start
	}
	t0, err := time.Parse(time.RFC3339, start)
	if err != nil {
		return nil, fmt.Errorf("invalid start time: %w", err)
	}

	types := graph.NewTypeTable()
	for _, td := range sc.Types {
		types.Define(td.Tag, td.Parents...)
	}
	opts := []graph.Option{
		graph.WithTypes(types),
		graph.WithExecutor(executor.Inline{}),
	}
	if sc.Policy != nil {
		opts = append(opts, graph.WithOracle(sc.Policy))
	}
	g, err := graph.Open(opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to open graph: %w", err)
	}
	defer g.Close()

	clk := clock.NewManual(t0)
	sched := timer.NewScheduler(clk, executor.Inline{}, timer.WithIDs(ident.NewSequence("timer")))
	defer sched.Close()

	mgr := pattern.NewManager(g, pattern.WithIDs(ident.NewSequence("inst")))
	defer mgr.Close()

	h := &Harness{
		graph:       g,
		patterns:    mgr,
		clock:       clk,
		timers:      sched,
		logger:      slog.New(slog.NewTextHandler(io.Discard, nil)),
		result:      NewResult(),
		listeners:   make(map[string]*recorder),
		instances:   make(map[string]*pattern.Instance),
		demands:     make(map[string]*pattern.Demand),
		callbacks:   make(map[string]int),
		timerByName: make(map[string]*timer.Timer),
	}

	for i, st := range sc.Steps {
		h.executeStep(i, st)
	}

	actx := &AssertionContext{
		Session:   g.Session(DefaultOwner),
		Instances: h.instances,
		Demands:   h.demands,
		Callbacks: h.callbacks,
		Timers:    h.timerByName,
	}
	for _, msg := range EvaluateAssertions(h.result, sc.Assertions, actx) {
		h.result.AddError(msg)
	}
	return h.result, nil
}

func (h *Harness) record(kind, text string) {
	h.result.Trace = append(h.result.Trace, TraceEntry{Kind: kind, Text: text})
}

// executeStep records the step, runs it, checks the expected error and
// dispatches any timers it made due.
func (h *Harness) executeStep(i int, st Step) {
	idx := len(h.result.Trace)
	h.record(EntryStep, describeStep(st))

	err := h.apply(st)
	code := ""
	if err != nil {
		code = errorCode(err)
		h.result.Trace[idx].Text += " => " + code
		h.logger.Debug("step failed", "step", i, "op", st.Op, "error", err)
	}
	switch {
	case st.Error == "" && err != nil:
		h.result.AddError(fmt.Sprintf("steps[%d] %s: %v", i, st.Op, err))
	case st.Error != "" && err == nil:
		h.result.AddError(fmt.Sprintf("steps[%d] %s: expected error %s, got success", i, st.Op, st.Error))
	case st.Error != "" && code != st.Error:
		h.result.AddError(fmt.Sprintf("steps[%d] %s: expected error %s, got %s", i, st.Op, st.Error, code))
	}
	h.timers.Poll()
}

func (h *Harness) session(st Step) *graph.Session {
	owner := st.Owner
	if owner == "" {
		owner = DefaultOwner
	}
	return h.graph.Session(owner)
}

func (h *Harness) apply(st Step) error {
	s := h.session(st)
	switch st.Op {
	case OpCreate:
		return s.CreateNode(st.Path, st.Type)
	case OpDelete:
		return s.DeleteNode(st.Path)
	case OpActivate, OpDeactivate:
		if st.Recursive {
			return s.SetActiveRecursive(st.Path, st.Op == OpActivate)
		}
		return s.SetActive(st.Path, st.Op == OpActivate)
	case OpReference:
		return s.AddReference(st.Path, st.Target)
	case OpUnreference:
		return s.RemoveReference(st.Path)
	case OpSet:
		v, err := ir.FromAny(st.Value)
		if err != nil {
			return err
		}
		return s.SetValue(st.Path, v)
	case OpListen:
		return h.listen(s, st)
	case OpUnlisten:
		rec, ok := h.listeners[st.Name]
		if !ok {
			return errUnknown("listener", st.Name)
		}
		rec.s.RemoveListener(rec)
		delete(h.listeners, st.Name)
		return nil
	case OpPattern:
		return h.registerPattern(s, st)
	case OpDemand:
		return h.addDemand(s, st)
	case OpDestroy:
		if inst, ok := h.instances[st.Name]; ok {
			inst.Destroy()
			return nil
		}
		if dm, ok := h.demands[st.Name]; ok {
			dm.Remove()
			return nil
		}
		return errUnknown("pattern", st.Name)
	case OpTimer:
		return h.createTimer(st)
	case OpStopTimer, OpResumeTimer, OpRetime, OpDestroyTimer:
		t, ok := h.timerByName[st.Name]
		if !ok {
			return errUnknown("timer", st.Name)
		}
		switch st.Op {
		case OpStopTimer:
			t.Stop()
		case OpResumeTimer:
			t.Resume()
		case OpRetime:
			d, _ := time.ParseDuration(st.Period)
			return t.SetTimingInterval(d)
		case OpDestroyTimer:
			t.Destroy()
		}
		return nil
	case OpAdvance:
		d, _ := time.ParseDuration(st.By)
		h.clock.Advance(d)
		return nil
	case OpJump:
		at, _ := time.Parse(time.RFC3339, st.At)
		h.clock.Set(at)
		return nil
	}
	return fmt.Errorf("unknown op %q", st.Op)
}

// recorder traces the events of one listen step.
type recorder struct {
	name string
	s    *graph.Session
	h    *Harness
}

func (r *recorder) Deliver(batch []event.Event) {
	for _, ev := range batch {
		text := fmt.Sprintf("%s %s %s", r.name, ev.Kind, ev.Changed)
		if ev.Kind == event.KindValueChanged {
			text += " " + ir.Format(ev.Previous) + " -> " + ir.Format(ev.Value)
		}
		r.h.record(EntryEvent, text)
	}
}

func (h *Harness) listen(s *graph.Session, st Step) error {
	if _, dup := h.listeners[st.Name]; dup {
		return errDuplicate("listener", st.Name)
	}
	rec := &recorder{name: st.Name, s: s, h: h}
	var err error
	switch st.Kind {
	case "", "structure":
		err = s.AddStructureListener(st.Path, rec)
	case "value":
		err = s.AddValueListener(st.Path, rec, graph.EveryUpdate)
	case "type":
		err = s.AddTypeListener(st.Type, rec)
	}
	if err != nil {
		return err
	}
	h.listeners[st.Name] = rec
	return nil
}

func (h *Harness) patternListener(name string, key func(*pattern.Instance) string) pattern.Listener {
	return pattern.Callbacks{
		OnAvailable: func(inst *pattern.Instance) {
			h.callbacks[key(inst)]++
			h.record(EntryPattern, fmt.Sprintf("available %s %s", name, inst.Root()))
		},
		OnUnavailable: func(inst *pattern.Instance) {
			h.callbacks[key(inst)]++
			h.record(EntryPattern, fmt.Sprintf("unavailable %s %s", name, inst.Root()))
		},
	}
}

func (h *Harness) registerPattern(s *graph.Session, st Step) error {
	if h.taken(st.Name) {
		return errDuplicate("pattern", st.Name)
	}
	d, err := buildDescriptor(st.Name, st.Pattern)
	if err != nil {
		return err
	}
	l := h.patternListener(st.Name, func(*pattern.Instance) string { return st.Name })
	inst, err := h.patterns.Register(s.Owner(), d, st.Path, l)
	if err != nil {
		return err
	}
	h.instances[st.Name] = inst
	return nil
}

func (h *Harness) addDemand(s *graph.Session, st Step) error {
	if h.taken(st.Name) {
		return errDuplicate("demand", st.Name)
	}
	d, err := buildDescriptor(st.Name, st.Pattern)
	if err != nil {
		return err
	}
	l := h.patternListener(st.Name, func(inst *pattern.Instance) string { return demandKey(st.Name, inst.Root()) })
	dm, err := h.patterns.AddDemand(s.Owner(), d, l)
	if err != nil {
		return err
	}
	h.demands[st.Name] = dm
	return nil
}

func (h *Harness) taken(name string) bool {
	_, inst := h.instances[name]
	_, dm := h.demands[name]
	return inst || dm
}

// demandKey names one instance of a demand in assertions.
func demandKey(name, root string) string {
	return name + "@" + root
}

func (h *Harness) createTimer(st Step) error {
	if _, dup := h.timerByName[st.Name]; dup {
		return errDuplicate("timer", st.Name)
	}
	d, _ := time.ParseDuration(st.Period)
	name := st.Name
	t, err := h.timers.CreateTimer(d, timer.ListenerFunc(func(t *timer.Timer) {
		fires, _ := t.Stats()
		h.record(EntryTimer, fmt.Sprintf("%s #%d", name, fires))
	}))
	if err != nil {
		return err
	}
	h.timerByName[name] = t
	return nil
}

func buildDescriptor(name string, p *PatternSpec) (*pattern.Descriptor, error) {
	d := &pattern.Descriptor{Name: name, Type: p.Type}
	for _, fs := range p.Fields {
		mode, err := parseAccess(fs.Access)
		if err != nil {
			return nil, err
		}
		f := pattern.Field{
			Name:        fs.Name,
			Path:        fs.Path,
			Type:        fs.Type,
			Required:    fs.Required,
			Access:      mode,
			Priority:    fs.Priority,
			NotifyValue: fs.Notify,
		}
		if fs.Nested != nil {
			if f.Nested, err = buildDescriptor(name+"."+fs.Name, fs.Nested); err != nil {
				return nil, err
			}
		}
		d.Fields = append(d.Fields, f)
	}
	if p.Accept != nil {
		want, err := ir.FromAny(p.Accept.Equals)
		if err != nil {
			return nil, fmt.Errorf("accept: %w", err)
		}
		field := p.Accept.Field
		d.Accept = func(m pattern.Match) bool {
			return ir.Equal(m.Value(field), want)
		}
	}
	return d, nil
}

func describeStep(st Step) string {
	parts := []string{st.Op}
	add := func(s ...string) {
		for _, p := range s {
			if p != "" {
				parts = append(parts, p)
			}
		}
	}
	switch st.Op {
	case OpCreate:
		add(st.Path, st.Type)
	case OpReference:
		add(st.Path, "->", st.Target)
	case OpSet:
		v, err := ir.FromAny(st.Value)
		if err != nil {
			add(st.Path, fmt.Sprint(st.Value))
		} else {
			add(st.Path, ir.Format(v))
		}
	case OpActivate, OpDeactivate:
		add(st.Path)
		if st.Recursive {
			add("recursive")
		}
	case OpListen:
		kind := st.Kind
		if kind == "" {
			kind = "structure"
		}
		add(st.Name, kind, st.Path)
		if kind == "type" {
			add(st.Type)
		}
	case OpPattern:
		add(st.Name, st.Path)
	case OpDemand:
		add(st.Name, st.Pattern.Type)
	case OpTimer, OpRetime:
		add(st.Name, st.Period)
	case OpAdvance:
		add(st.By)
	case OpJump:
		add(st.At)
	default:
		add(st.Path, st.Name)
	}
	if st.Owner != "" && st.Owner != DefaultOwner {
		add("as", st.Owner)
	}
	return strings.Join(parts, " ")
}

// harnessError is a failure of the harness itself, e.g. an unknown name.
type harnessError struct {
	code string
	msg  string
}

func (e *harnessError) Error() string { return e.code + ": " + e.msg }

func errUnknown(what, name string) error {
	return &harnessError{code: "UNKNOWN_NAME", msg: fmt.Sprintf("no %s named %q", what, name)}
}

func errDuplicate(what, name string) error {
	return &harnessError{code: "DUPLICATE_NAME", msg: fmt.Sprintf("%s %q already exists", what, name)}
}

// errorCode maps a step error to the code scenarios expect.
func errorCode(err error) string {
	var ge *graph.Error
	var he *harnessError
	switch {
	case errors.As(err, &ge):
		return string(ge.Code)
	case errors.As(err, &he):
		return he.code
	case errors.Is(err, timer.ErrInvalidPeriod):
		return "INVALID_PERIOD"
	case errors.Is(err, timer.ErrClosed):
		return "CLOSED"
	}
	return "ERROR"
}
