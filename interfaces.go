package htnscale

import "context"

// Task is the polymorphic unit of domain authoring: either a primitive task
// mapping to one action identifier, or a compound task that decomposes into
// sub-tasks via a declared strategy. Tasks are declared once, are immutable
// thereafter, and carry no per-search state.
type Task interface {
	// Name returns the task's declared name.
	Name() string

	// Location returns where the task was declared.
	Location() Location

	// Evaluate resolves the task against st, producing the plan for this
	// branch and the state after it. Implementations must not mutate st;
	// mutation happens on internal clones so that a failing branch leaves
	// the caller's state untouched. On failure the returned state is nil.
	Evaluate(sc *SearchContext, st State) (Plan, State, error)
}

// GuardFunc is a task precondition evaluated against the current state.
// Guards must not mutate state.
type GuardFunc func(st State) bool

// EffectFunc applies one declared state mutation. Effects run in declared
// order after the guard passes and before the task dispatches.
type EffectFunc func(st State)

// TraceSink observes a single search. The engine calls into it on overall
// begin/end, context push/pop, primitive selection, and decomposition
// failure. Failure detail never travels through the returned value (the
// caller only sees ErrNoPlan), so the sink is the one place diagnostics
// surface. A sink is used by one search at a time and need not be safe for
// concurrent use.
type TraceSink interface {
	// Begin marks the start of a search.
	Begin()

	// End marks the end of a search; result is nil when planning failed.
	End(result *Result, err error)

	// PushContext records entry into a task's evaluation with a snapshot of
	// the state at entry.
	PushContext(name string, snapshot State, loc Location)

	// PopContext records exit from the most recently pushed task, on both
	// success and failure paths.
	PopContext()

	// PrimitiveSelected records a primitive action joining the candidate
	// plan, with the state it was selected under.
	PrimitiveSelected(name string, snapshot State, loc Location)

	// Fail records a decomposition failure at the innermost pushed context.
	Fail(loc Location)
}

// Cache provides storage for computed plans, keyed by domain, root task,
// and state fingerprint.
type Cache interface {
	Get(ctx context.Context, key string) (interface{}, error)
	Set(ctx context.Context, key string, value interface{}) error
}
