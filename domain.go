package htnscale

import (
	"fmt"
	"runtime"
	"sync"
)

// Domain is a named registry of task declarations. Tasks reference each
// other by name; Validate resolves the references and checks the structural
// rules, after which the domain is immutable for searching.
type Domain struct {
	name      string
	tasks     map[string]*taskNode
	order     []string
	mu        sync.Mutex // serializes Validate; searches may share a domain
	validated bool
	err       error // first authoring error, surfaced again by Validate
}

// NewDomain creates an empty domain.
func NewDomain(name string) *Domain {
	return &Domain{
		name:  name,
		tasks: make(map[string]*taskNode),
	}
}

// Name returns the domain name.
func (d *Domain) Name() string {
	return d.name
}

// taskConfig accumulates one task declaration while options are applied.
type taskConfig struct {
	node       *taskNode
	strategies int // number of strategy options applied; must end at 1
}

// TaskOption configures a task declaration.
type TaskOption func(*taskConfig)

// WithGuard sets the task's precondition. The guard is evaluated against
// the current state on entry; if it does not hold the task fails without
// dispatching.
func WithGuard(guard GuardFunc) TaskOption {
	return func(c *taskConfig) {
		c.node.guard = guard
	}
}

// WithEffect appends a state-mutating operation, applied in declared order
// after the guard passes. Effects are only legal on primitive-bound tasks:
// only the dispatch step is rollback-protected, so mutation ahead of a
// method-selection or task-sequence dispatch is rejected at validation.
func WithEffect(effect EffectFunc) TaskOption {
	return func(c *taskConfig) {
		c.node.effects = append(c.node.effects, effect)
	}
}

// WithLocation overrides the recorded declaration site. Used by the domain
// document loader to point trace output at the document instead of the
// compiler's call site.
func WithLocation(loc Location) TaskOption {
	return func(c *taskConfig) {
		c.node.loc = loc
	}
}

// AsPrimitive binds the task to one externally executable action
// identifier. Evaluation emits exactly that identifier into the plan.
func AsPrimitive(action string) TaskOption {
	return func(c *taskConfig) {
		c.node.strategy = strategyPrimitive
		c.node.action = action
		c.strategies++
	}
}

// AsNoOp declares a task that always succeeds with an empty plan, the
// do-nothing alternative for method selection.
func AsNoOp() TaskOption {
	return func(c *taskConfig) {
		c.node.strategy = strategyNoOp
		c.strategies++
	}
}

// Select declares method selection over the named sub-tasks: alternatives
// are tried in declared order and the first one that produces a plan wins.
func Select(subtasks ...string) TaskOption {
	return func(c *taskConfig) {
		c.node.strategy = strategySelect
		c.node.subNames = subtasks
		c.strategies++
	}
}

// Sequence declares an ordered task sequence: every named sub-task must
// succeed, threading state left to right, and their plans concatenate.
func Sequence(subtasks ...string) TaskOption {
	return func(c *taskConfig) {
		c.node.strategy = strategySequence
		c.node.subNames = subtasks
		c.strategies++
	}
}

// AddTask declares a task. Exactly one of AsPrimitive, AsNoOp, Select, or
// Sequence must be given. The Go call site is recorded as the task's
// location unless WithLocation overrides it.
func (d *Domain) AddTask(name string, opts ...TaskOption) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if name == "" {
		return d.fail(NewValidationError(name, "task name must not be empty", nil))
	}
	if _, exists := d.tasks[name]; exists {
		return d.fail(NewValidationError(name, "duplicate task name", nil))
	}

	t := &taskNode{name: name, strategy: -1}
	if _, file, line, ok := runtime.Caller(1); ok {
		t.loc = Location{File: file, Line: line}
	}

	cfg := &taskConfig{node: t}
	for _, opt := range opts {
		opt(cfg)
	}
	if cfg.strategies != 1 {
		return d.fail(NewValidationError(name, "exactly one of primitive, noop, select, or sequence must be declared", nil))
	}
	if len(t.effects) > 0 && t.strategy != strategyPrimitive {
		return d.fail(NewValidationError(name, "effects are only allowed on primitive-bound tasks", nil))
	}
	if (t.strategy == strategySelect || t.strategy == strategySequence) && len(t.subNames) == 0 {
		return d.fail(NewValidationError(name, "select and sequence require at least one sub-task", nil))
	}

	d.tasks[name] = t
	d.order = append(d.order, name)
	d.validated = false
	return nil
}

// fail records the first authoring error so a dropped AddTask error still
// surfaces at Validate.
func (d *Domain) fail(err error) error {
	if d.err == nil {
		d.err = err
	}
	return err
}

// TaskNames returns the task names in declaration order.
func (d *Domain) TaskNames() []string {
	out := make([]string, len(d.order))
	copy(out, d.order)
	return out
}

// TaskByName returns the named task, if declared.
func (d *Domain) TaskByName(name string) (Task, bool) {
	t, ok := d.tasks[name]
	if !ok {
		return nil, false
	}
	return t, ok
}

// Validate resolves sub-task references and checks the domain structure:
// every referenced sub-task must be declared, and the reference graph must
// be acyclic so recursion depth is bounded by the static task-graph depth.
// Validate is idempotent and safe to call from concurrent searches; once it
// succeeds the task graph is immutable until the next AddTask. Structural
// errors found here are recomputed on the next call, so a domain can be
// repaired by declaring the missing task.
func (d *Domain) Validate() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.err != nil {
		return d.err
	}
	if d.validated {
		return nil
	}

	for _, name := range d.order {
		t := d.tasks[name]
		t.subs = t.subs[:0]
		for _, subName := range t.subNames {
			sub, ok := d.tasks[subName]
			if !ok {
				return NewValidationError(name, fmt.Sprintf("references undeclared task '%s'", subName), nil)
			}
			t.subs = append(t.subs, sub)
		}
	}

	// Check for cycles using DFS over the reference graph.
	visited := make(map[string]bool, len(d.tasks))
	stack := make(map[string]bool, len(d.tasks))
	var hasCycle func(name string) bool
	hasCycle = func(name string) bool {
		if stack[name] {
			return true
		}
		if visited[name] {
			return false
		}
		visited[name] = true
		stack[name] = true
		for _, subName := range d.tasks[name].subNames {
			if hasCycle(subName) {
				return true
			}
		}
		stack[name] = false
		return false
	}
	for _, name := range d.order {
		if hasCycle(name) {
			return NewValidationError(name, "task reference cycle detected", nil)
		}
	}

	d.validated = true
	return nil
}
