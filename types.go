package htnscale

import (
	"fmt"
	"sort"
	"strings"
)

// State is the planning-time world model threaded through a search. A State
// value is owned by exactly one in-flight search; the engine never shares it
// across searches and never mutates the caller's value (it works on clones).
type State interface {
	// Clone returns a copy of the state. Mutating the copy must never be
	// observable through the original; the engine clones at every rollback
	// boundary, so this should be cheap for realistic domain states.
	Clone() State

	// String renders the state for trace and failure diagnostics. The
	// rendering must be deterministic for a given state value, since it is
	// also used as the state fingerprint for plan caching.
	String() string
}

// Location records where a task was declared. Trace events report it so
// diagnostics point back at the domain definition: for tasks built with the
// Domain builder it is the Go call site, for tasks loaded from a domain
// document it is the document position.
type Location struct {
	File string
	Line int
}

func (l Location) String() string {
	if l.File == "" {
		return "<unknown>"
	}
	return fmt.Sprintf("%s(%d)", l.File, l.Line)
}

// WorldState is a map-backed State for fact-style world models (booleans,
// counters, labels). It is the state representation used by expression
// guards and effects and by declarative domain documents. Values should be
// scalars; Clone copies the map one level deep.
type WorldState map[string]interface{}

// Clone returns a copy of the world state.
func (w WorldState) Clone() State {
	dup := make(WorldState, len(w))
	for k, v := range w {
		dup[k] = v
	}
	return dup
}

// String renders the facts in deterministic key order.
func (w WorldState) String() string {
	keys := make([]string, 0, len(w))
	for k := range w {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b strings.Builder
	for i, k := range keys {
		if i > 0 {
			b.WriteString(", ")
		}
		fmt.Fprintf(&b, "%s: %v", k, w[k])
	}
	return b.String()
}

// Set stores a fact.
func (w WorldState) Set(key string, value interface{}) {
	w[key] = value
}

// Get retrieves a fact.
func (w WorldState) Get(key string) (interface{}, bool) {
	v, ok := w[key]
	return v, ok
}

// Bool returns the fact as a boolean, false when absent or non-boolean.
func (w WorldState) Bool(key string) bool {
	b, ok := w[key].(bool)
	return ok && b
}

// Int returns the fact as an int. Expression effects store numeric results
// as float64, so both representations are accepted.
func (w WorldState) Int(key string) int {
	switch v := w[key].(type) {
	case int:
		return v
	case int64:
		return int(v)
	case float64:
		return int(v)
	}
	return 0
}

// Plan is an ordered sequence of primitive action identifiers produced by a
// successful search. Insertion order is execution order. A plan returned by
// the engine contains exactly the primitives selected along the single
// successful decomposition path, in declared order, and nothing from any
// abandoned branch.
type Plan struct {
	Actions []string
}

// NewPlan creates a plan from the given action identifiers.
func NewPlan(actions ...string) Plan {
	return Plan{Actions: actions}
}

// Concat appends the other plan's actions, preserving order. Appends are
// amortized constant time per action, so concatenating across long task
// sequences stays linear overall.
func (p Plan) Concat(other Plan) Plan {
	p.Actions = append(p.Actions, other.Actions...)
	return p
}

// Clone returns a plan with its own backing array, so appends through
// Concat on either copy cannot be observed through the other.
func (p Plan) Clone() Plan {
	if len(p.Actions) == 0 {
		return Plan{}
	}
	actions := make([]string, len(p.Actions))
	copy(actions, p.Actions)
	return Plan{Actions: actions}
}

// Len returns the number of actions in the plan.
func (p Plan) Len() int {
	return len(p.Actions)
}

// IsEmpty reports whether the plan contains no actions.
func (p Plan) IsEmpty() bool {
	return len(p.Actions) == 0
}

// String renders the actions space-separated, in execution order.
func (p Plan) String() string {
	return strings.Join(p.Actions, " ")
}

// Result pairs a successful plan with the state produced by the final
// primitive along the decomposition path.
type Result struct {
	Plan  Plan
	Final State
}
