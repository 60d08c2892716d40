// Package htnscale provides a Hierarchical Task Network planning runtime:
// declarative domains of compound and primitive tasks are searched
// depth-first, with backtracking and state rollback, for a totally ordered
// sequence of primitive actions satisfying a designated root task.
package htnscale

import (
	"context"
	"fmt"
	"sync"

	"github.com/ZanzyTHEbar/htnscale/internal/eventbus"
)

// Engine is the main entry point into the htnscale runtime. It bundles the
// trace sink, the optional plan cache, and the optional event bus around
// the decomposition search. An Engine is safe for concurrent FindPlan
// calls; each search owns its working state exclusively.
type Engine struct {
	trace    TraceSink
	cache    Cache
	eventBus eventbus.EventBus
	ownsBus  bool
	config   Config

	// Async searches
	searches      map[string]*SearchProcess
	searchesMutex sync.RWMutex
}

// Config holds the configuration options for the htnscale runtime.
type Config struct {
	// EnableCache enables plan-cache lookups when a cache is configured.
	EnableCache bool

	// Event bus configuration
	EnableEventBus      bool
	EventBusBufferSize  int
	EventBusWorkerCount int
}

// DefaultConfig returns a configuration with sensible defaults. The event
// bus is off by default so one-shot searches do not spin up workers.
func DefaultConfig() Config {
	return Config{
		EnableCache:         true,
		EnableEventBus:      false,
		EventBusBufferSize:  100,
		EventBusWorkerCount: 3,
	}
}

// Option is a function that configures an Engine instance.
type Option func(*Engine)

// WithConfig sets the configuration.
func WithConfig(config Config) Option {
	return func(e *Engine) {
		e.config = config
	}
}

// WithTrace sets the trace sink observed by every search this engine runs.
func WithTrace(trace TraceSink) Option {
	return func(e *Engine) {
		if trace != nil {
			e.trace = trace
		}
	}
}

// WithCache sets the plan cache component.
func WithCache(cache Cache) Option {
	return func(e *Engine) {
		e.cache = cache
	}
}

// New creates a new Engine with the provided options. If the configuration
// enables the event bus and none was supplied, the engine creates and owns
// one; Close shuts it down.
func New(options ...Option) *Engine {
	e := &Engine{
		config:   DefaultConfig(),
		trace:    NopTrace{},
		searches: make(map[string]*SearchProcess),
	}

	for _, option := range options {
		option(e)
	}

	if e.eventBus == nil && e.config.EnableEventBus {
		e.eventBus = eventbus.NewChannelEventBus(
			eventbus.WithBufferSize(e.config.EventBusBufferSize),
			eventbus.WithWorkerCount(e.config.EventBusWorkerCount),
		)
		e.ownsBus = true
	}

	return e
}

// Close shuts down resources the engine owns. It does not interrupt
// in-flight searches; a search always runs to completion.
func (e *Engine) Close() error {
	if e.ownsBus && e.eventBus != nil {
		return e.eventBus.Close()
	}
	return nil
}

// Bus returns the configured event bus, or nil when events are disabled.
// Callers subscribe through it to observe search lifecycle events.
func (e *Engine) Bus() eventbus.EventBus {
	return e.eventBus
}

// FindPlan resolves rootTask from the domain into an ordered plan of
// primitive actions executable from initial. The caller's initial state is
// never mutated; the search threads its own working copy. On any planning
// failure the error is ErrNoPlan; the failure kind and path are reported
// through the trace sink only.
func (e *Engine) FindPlan(ctx context.Context, domain *Domain, rootTask string, initial State) (*Result, error) {
	return e.findPlan(ctx, domain, rootTask, initial, e.trace)
}

// FindPlanTraced is FindPlan with a per-call trace sink, for running
// parallel independent searches with distinct sinks.
func (e *Engine) FindPlanTraced(ctx context.Context, domain *Domain, rootTask string, initial State, trace TraceSink) (*Result, error) {
	if trace == nil {
		trace = NopTrace{}
	}
	return e.findPlan(ctx, domain, rootTask, initial, trace)
}

func (e *Engine) findPlan(ctx context.Context, domain *Domain, rootTask string, initial State, trace TraceSink) (*Result, error) {
	if domain == nil {
		return nil, NewValidationError("", "domain is required", nil)
	}
	if initial == nil {
		return nil, NewValidationError("", "initial state is required", nil)
	}
	if err := domain.Validate(); err != nil {
		return nil, err
	}
	root, ok := domain.TaskByName(rootTask)
	if !ok {
		return nil, NewTaskNotFoundError(rootTask)
	}

	cacheKey := planCacheKey(domain.Name(), rootTask, initial)
	if e.cache != nil && e.config.EnableCache {
		if cached, err := e.cache.Get(ctx, cacheKey); err == nil {
			if result, ok := cached.(*Result); ok {
				e.publish(ctx, eventbus.EventPlanCacheHit, rootTask, nil)
				// Clone both halves so callers cannot corrupt the cached
				// entry or each other through a shared backing array.
				return &Result{Plan: result.Plan.Clone(), Final: result.Final.Clone()}, nil
			}
		}
	}

	e.publish(ctx, eventbus.EventSearchStarted, rootTask, map[string]interface{}{
		"domain": domain.Name(),
		"state":  initial.String(),
	})

	sc := newSearchContext(trace)
	trace.Begin()
	plan, final, err := root.Evaluate(sc, initial.Clone())
	if err != nil {
		trace.End(nil, ErrNoPlan)
		e.publish(ctx, eventbus.EventSearchFailed, rootTask, map[string]interface{}{
			"domain": domain.Name(),
		})
		return nil, ErrNoPlan
	}

	result := &Result{Plan: plan, Final: final}
	trace.End(result, nil)
	e.publish(ctx, eventbus.EventSearchSucceeded, rootTask, map[string]interface{}{
		"domain": domain.Name(),
		"plan":   plan.String(),
	})

	if e.cache != nil && e.config.EnableCache {
		if err := e.cache.Set(ctx, cacheKey, &Result{Plan: plan.Clone(), Final: final.Clone()}); err == nil {
			e.publish(ctx, eventbus.EventPlanCacheStore, rootTask, nil)
		}
	}

	return result, nil
}

// FindPlan runs a one-off search with the given trace sink. It is the
// convenience path for callers that do not need an engine's cache or event
// bus.
func FindPlan(ctx context.Context, domain *Domain, rootTask string, initial State, trace TraceSink) (*Result, error) {
	engine := New(WithConfig(Config{}), WithTrace(trace))
	return engine.FindPlan(ctx, domain, rootTask, initial)
}

// planCacheKey fingerprints a search by domain, root task, and rendered
// state. State rendering is deterministic, so equal searches share a key.
func planCacheKey(domain, rootTask string, initial State) string {
	return fmt.Sprintf("%s/%s/%s", domain, rootTask, initial)
}

// publish sends an event to the bus when one is configured.
func (e *Engine) publish(ctx context.Context, eventType eventbus.EventType, payload interface{}, metadata map[string]interface{}) {
	if e.eventBus == nil {
		return
	}
	_ = e.eventBus.Publish(ctx, eventbus.NewEvent(eventType, payload, "engine", metadata))
}
