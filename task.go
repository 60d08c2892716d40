package htnscale

// strategy selects how a task resolves once its guard has passed and its
// effects have been applied.
type strategy int

const (
	strategyPrimitive strategy = iota // emit one action identifier
	strategyNoOp                      // succeed with an empty plan
	strategySelect                    // try alternatives in order, first success wins
	strategySequence                  // evaluate all sub-tasks in order, concatenating plans
)

// ContextFrame is one diagnostic stack entry: the task name and a snapshot
// of the state at entry to its evaluation.
type ContextFrame struct {
	Name  string
	State State
}

// SearchContext is the transient, stack-shaped record of the decomposition
// path maintained for one search. It owns the trace sink for the call and a
// stack of (task name, state-at-entry) frames, pushed on entry to a task's
// evaluation and popped on every exit path. It exists purely for
// diagnostics and is discarded when the search returns.
type SearchContext struct {
	trace   TraceSink
	tracing bool // false for the no-op sink; skips frame upkeep and snapshot clones
	frames  []ContextFrame
}

func newSearchContext(trace TraceSink) *SearchContext {
	if trace == nil {
		trace = NopTrace{}
	}
	_, nop := trace.(NopTrace)
	return &SearchContext{trace: trace, tracing: !nop}
}

// Depth returns the current decomposition depth.
func (sc *SearchContext) Depth() int {
	return len(sc.frames)
}

// Frames returns a copy of the current diagnostic stack, outermost first.
func (sc *SearchContext) Frames() []ContextFrame {
	out := make([]ContextFrame, len(sc.frames))
	copy(out, sc.frames)
	return out
}

// PushContext records entry into a task's evaluation and forwards the event
// to the trace sink with a state snapshot.
func (sc *SearchContext) PushContext(name string, st State, loc Location) {
	if !sc.tracing {
		return
	}
	snap := st.Clone()
	sc.frames = append(sc.frames, ContextFrame{Name: name, State: snap})
	sc.trace.PushContext(name, snap, loc)
}

// PopContext records exit from the innermost task evaluation.
func (sc *SearchContext) PopContext() {
	if !sc.tracing {
		return
	}
	sc.frames = sc.frames[:len(sc.frames)-1]
	sc.trace.PopContext()
}

// PrimitiveSelected records a primitive joining the candidate plan.
func (sc *SearchContext) PrimitiveSelected(name string, st State, loc Location) {
	if !sc.tracing {
		return
	}
	sc.trace.PrimitiveSelected(name, st.Clone(), loc)
}

// Fail records a decomposition failure at the innermost pushed context.
func (sc *SearchContext) Fail(loc Location) {
	if !sc.tracing {
		return
	}
	sc.trace.Fail(loc)
}

// taskNode is the single concrete Task implementation produced by the
// Domain builder and the domain document compiler. The guard and effects
// phases are shared; the strategy decides dispatch.
type taskNode struct {
	name     string
	loc      Location
	guard    GuardFunc
	effects  []EffectFunc
	strategy strategy
	action   string   // strategyPrimitive: the action identifier to emit
	subNames []string // strategySelect/strategySequence: declared sub-task order
	subs     []Task   // resolved by Domain.Validate
}

func (t *taskNode) Name() string {
	return t.name
}

func (t *taskNode) Location() Location {
	return t.loc
}

// Evaluate resolves the task against st.
//
// The rollback model follows a scoped-acquisition pattern: every evaluation
// works on its own clone, so a failing branch simply never publishes its
// mutations to the caller. One consequence is deliberate and worth calling
// out: a task's own effects are applied before dispatch, and the restore
// point used between method alternatives is the state *after* those effects.
// The effects of a task whose dispatch later fails are discarded only when
// the whole task reports failure to its parent, never between its own
// alternatives.
func (t *taskNode) Evaluate(sc *SearchContext, st State) (Plan, State, error) {
	sc.PushContext(t.name, st, t.loc)
	defer sc.PopContext()

	work := st
	if t.guard != nil && !t.guard(work) {
		sc.Fail(t.loc)
		return Plan{}, nil, NewGuardFailedError(t.name)
	}
	if len(t.effects) > 0 {
		work = st.Clone()
		for _, eff := range t.effects {
			eff(work)
		}
	}

	switch t.strategy {
	case strategyPrimitive:
		sc.PrimitiveSelected(t.action, work, t.loc)
		return NewPlan(t.action), work, nil

	case strategyNoOp:
		return Plan{}, work, nil

	case strategySelect:
		// First success wins; a failed alternative's evaluation worked on
		// its own clone, so work is untouched for the next one.
		for _, sub := range t.subs {
			plan, out, err := sub.Evaluate(sc, work)
			if err == nil {
				return plan, out, nil
			}
		}
		sc.Fail(t.loc)
		return Plan{}, nil, NewNoMethodApplicableError(t.name)

	case strategySequence:
		// Thread the mutated state left to right; a failing step aborts the
		// whole sequence and the caller keeps its pre-sequence state.
		cur := work
		var plan Plan
		for _, sub := range t.subs {
			p, out, err := sub.Evaluate(sc, cur)
			if err != nil {
				sc.Fail(t.loc)
				return Plan{}, nil, NewTaskSequenceFailedError(t.name, sub.Name(), err)
			}
			plan = plan.Concat(p)
			cur = out
		}
		return plan, cur, nil
	}

	return Plan{}, nil, NewInternalError(t.name, "task has no dispatch strategy", nil)
}
