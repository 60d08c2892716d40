package htnscale

import (
	"context"
	"errors"
	"sync"
	"testing"
)

// dinnerDomain is the evening-routine domain used across the engine tests,
// declared with plain Go guards and effects.
func dinnerDomain(t *testing.T) *Domain {
	t.Helper()
	d := NewDomain("dinner")

	mustAddTask(t, d, "order_takeout",
		WithGuard(func(st State) bool { return st.(WorldState).Int("cash") >= 20 }),
		WithEffect(func(st State) {
			ws := st.(WorldState)
			ws.Set("cash", ws.Int("cash")-20)
		}),
		AsPrimitive("order_takeout"))

	mustAddTask(t, d, "cook_dinner",
		WithGuard(func(st State) bool {
			ws := st.(WorldState)
			return ws.Bool("food_in_fridge") && ws.Bool("can_cook")
		}),
		WithEffect(setFact("food_in_fridge", false)),
		WithEffect(setFact("dishes", true)),
		AsPrimitive("cook_dinner"))

	mustAddTask(t, d, "eat_dinner",
		WithEffect(setFact("hungry", false)),
		AsPrimitive("eat_dinner"))

	mustAddTask(t, d, "wash_dishes",
		WithGuard(factIsTrue("dishes")),
		WithEffect(setFact("dishes", false)),
		AsPrimitive("wash_dishes"))

	mustAddTask(t, d, "skip_cleaning", AsNoOp())
	mustAddTask(t, d, "get_dinner", Select("cook_dinner", "order_takeout"))
	mustAddTask(t, d, "clean_up", Select("wash_dishes", "skip_cleaning"))
	mustAddTask(t, d, "have_dinner",
		WithGuard(factIsTrue("hungry")),
		Sequence("get_dinner", "eat_dinner", "clean_up"))
	mustAddTask(t, d, "watch_tv", AsPrimitive("watch_tv"))
	mustAddTask(t, d, "do_something", Select("have_dinner", "watch_tv"))

	return d
}

func defaultEvening() WorldState {
	return WorldState{
		"hungry":         true,
		"food_in_fridge": true,
		"can_cook":       true,
		"cash":           30,
		"dishes":         false,
	}
}

func TestFindPlan_CooksWhenPossible(t *testing.T) {
	engine := New()
	result, err := engine.FindPlan(context.Background(), dinnerDomain(t), "do_something", defaultEvening())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got := result.Plan.String(); got != "cook_dinner eat_dinner wash_dishes" {
		t.Errorf("expected the cooking plan, got %q", got)
	}
	final := result.Final.(WorldState)
	if final.Bool("hungry") || final.Bool("dishes") {
		t.Errorf("expected fed with clean dishes, got %v", final)
	}
	if final.Int("cash") != 30 {
		t.Errorf("cooking must not spend cash, got %d", final.Int("cash"))
	}
}

func TestFindPlan_FallsBackToTakeout(t *testing.T) {
	initial := defaultEvening()
	initial.Set("can_cook", false)

	engine := New()
	result, err := engine.FindPlan(context.Background(), dinnerDomain(t), "do_something", initial)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got := result.Plan.String(); got != "order_takeout eat_dinner" {
		t.Errorf("expected the takeout plan, got %q", got)
	}
	final := result.Final.(WorldState)
	if final.Int("cash") != 10 {
		t.Errorf("takeout costs 20, expected 10 remaining, got %d", final.Int("cash"))
	}
	// No dishes were made, so cleaning up resolves to the no-op.
	if final.Bool("dishes") {
		t.Errorf("takeout must not produce dishes, got %v", final)
	}
}

func TestFindPlan_WatchesTVWhenDinnerIsImpossible(t *testing.T) {
	initial := defaultEvening()
	initial.Set("food_in_fridge", false)
	initial.Set("can_cook", false)
	initial.Set("cash", 5)

	engine := New()
	result, err := engine.FindPlan(context.Background(), dinnerDomain(t), "do_something", initial)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got := result.Plan.String(); got != "watch_tv" {
		t.Errorf("expected the tv plan, got %q", got)
	}
	// Nothing in the failed dinner branch leaked into the final state.
	if result.Final.String() != initial.String() {
		t.Errorf("watch_tv must leave state untouched: %q vs %q", result.Final, initial)
	}
}

func TestFindPlan_InitialStateNeverMutated(t *testing.T) {
	initial := defaultEvening()
	before := initial.String()

	engine := New()
	if _, err := engine.FindPlan(context.Background(), dinnerDomain(t), "do_something", initial); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if initial.String() != before {
		t.Errorf("caller's initial state was mutated: %q vs %q", initial, before)
	}
}

func TestFindPlan_NoPlanCollapsesFailures(t *testing.T) {
	d := NewDomain("d")
	mustAddTask(t, d, "blocked", WithGuard(never), AsPrimitive("blocked"))
	mustAddTask(t, d, "also_blocked", WithGuard(never), AsPrimitive("also_blocked"))
	mustAddTask(t, d, "root", Select("blocked", "also_blocked"))

	engine := New()
	result, err := engine.FindPlan(context.Background(), d, "root", WorldState{})
	if result != nil {
		t.Errorf("expected nil result, got %v", result)
	}
	if !errors.Is(err, ErrNoPlan) {
		t.Errorf("every planning failure must surface as ErrNoPlan, got %v", err)
	}
}

func TestFindPlan_UsageErrorsAreNotNoPlan(t *testing.T) {
	d := NewDomain("d")
	mustAddTask(t, d, "a", AsPrimitive("a"))

	engine := New()
	_, err := engine.FindPlan(context.Background(), d, "missing", WorldState{})
	pe, ok := err.(*PlanError)
	if !ok || pe.Code != ErrCodeTaskNotFound {
		t.Errorf("expected task-not-found, got %v", err)
	}
	if errors.Is(err, ErrNoPlan) {
		t.Error("a usage error must not be reported as a planning failure")
	}

	_, err = engine.FindPlan(context.Background(), nil, "a", WorldState{})
	if pe, ok := err.(*PlanError); !ok || pe.Code != ErrCodeValidation {
		t.Errorf("expected validation error for nil domain, got %v", err)
	}
	_, err = engine.FindPlan(context.Background(), d, "a", nil)
	if pe, ok := err.(*PlanError); !ok || pe.Code != ErrCodeValidation {
		t.Errorf("expected validation error for nil state, got %v", err)
	}
}

func TestFindPlan_ConcurrentSearchesShareDomain(t *testing.T) {
	// The domain is deliberately not validated up front; the first searches
	// race to resolve it.
	d := dinnerDomain(t)
	engine := New()

	const searches = 8
	var wg sync.WaitGroup
	errs := make([]error, searches)
	plans := make([]string, searches)
	for i := 0; i < searches; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			result, err := engine.FindPlan(context.Background(), d, "do_something", defaultEvening())
			errs[i] = err
			if err == nil {
				plans[i] = result.Plan.String()
			}
		}(i)
	}
	wg.Wait()

	for i := 0; i < searches; i++ {
		if errs[i] != nil {
			t.Fatalf("search %d failed: %v", i, errs[i])
		}
		if plans[i] != plans[0] {
			t.Errorf("search %d produced %q, search 0 produced %q", i, plans[i], plans[0])
		}
	}
}

func TestFindPlan_InvalidDomainSurfacesValidationError(t *testing.T) {
	d := NewDomain("d")
	mustAddTask(t, d, "root", Sequence("ghost"))

	engine := New()
	_, err := engine.FindPlan(context.Background(), d, "root", WorldState{})
	expectValidationError(t, err, "undeclared")
}

func TestFindPlan_TraceLifecycle(t *testing.T) {
	trace := &recordingTrace{}
	engine := New(WithTrace(trace))
	if _, err := engine.FindPlan(context.Background(), dinnerDomain(t), "do_something", defaultEvening()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if trace.begins != 1 || trace.ends != 1 {
		t.Errorf("expected one Begin and one End, got %d and %d", trace.begins, trace.ends)
	}
	if trace.endErr != nil {
		t.Errorf("successful search must end without error, got %v", trace.endErr)
	}
	if trace.pops != len(trace.pushes) {
		t.Errorf("unbalanced context stack: %d pushes, %d pops", len(trace.pushes), trace.pops)
	}
}

func TestFindPlan_FailedSearchEndsWithErrNoPlan(t *testing.T) {
	initial := defaultEvening()
	initial.Set("hungry", false)

	d := dinnerDomain(t)
	trace := &recordingTrace{}
	engine := New(WithTrace(trace))
	result, err := engine.FindPlan(context.Background(), d, "have_dinner", initial)
	if result != nil || !errors.Is(err, ErrNoPlan) {
		t.Fatalf("expected no plan, got %v, %v", result, err)
	}
	if !errors.Is(trace.endErr, ErrNoPlan) {
		t.Errorf("End must receive ErrNoPlan, got %v", trace.endErr)
	}
	if trace.fails == 0 {
		t.Error("expected at least one failure event on the sink")
	}
}

func TestFindPlanTraced_OverridesEngineSink(t *testing.T) {
	engineSink := &recordingTrace{}
	callSink := &recordingTrace{}
	engine := New(WithTrace(engineSink))
	if _, err := engine.FindPlanTraced(context.Background(), dinnerDomain(t), "do_something", defaultEvening(), callSink); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if engineSink.begins != 0 {
		t.Error("engine sink must stay silent for a traced call")
	}
	if callSink.begins != 1 || callSink.ends != 1 {
		t.Errorf("per-call sink must observe the search, got %d begins, %d ends", callSink.begins, callSink.ends)
	}
}

func TestPackageFindPlan(t *testing.T) {
	trace := &recordingTrace{}
	result, err := FindPlan(context.Background(), dinnerDomain(t), "do_something", defaultEvening(), trace)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.Plan.IsEmpty() {
		t.Error("expected a non-empty plan")
	}
	if trace.begins != 1 {
		t.Errorf("expected one Begin, got %d", trace.begins)
	}
}

// stubCache records Set calls and serves Get from a map.
type stubCache struct {
	items map[string]interface{}
	gets  int
	sets  int
}

func newStubCache() *stubCache {
	return &stubCache{items: make(map[string]interface{})}
}

func (c *stubCache) Get(ctx context.Context, key string) (interface{}, error) {
	c.gets++
	if v, ok := c.items[key]; ok {
		return v, nil
	}
	return nil, errors.New("miss")
}

func (c *stubCache) Set(ctx context.Context, key string, value interface{}) error {
	c.sets++
	c.items[key] = value
	return nil
}

func TestFindPlan_CachesRepeatedSearches(t *testing.T) {
	cache := newStubCache()
	engine := New(WithCache(cache))
	d := dinnerDomain(t)

	first, err := engine.FindPlan(context.Background(), d, "do_something", defaultEvening())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cache.sets != 1 {
		t.Fatalf("expected the result to be stored, got %d sets", cache.sets)
	}

	second, err := engine.FindPlan(context.Background(), d, "do_something", defaultEvening())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cache.sets != 1 {
		t.Errorf("cache hit must not store again, got %d sets", cache.sets)
	}
	if second.Plan.String() != first.Plan.String() {
		t.Errorf("cached plan differs: %q vs %q", second.Plan, first.Plan)
	}
	// The cached final state is cloned out, so callers cannot corrupt it.
	second.Final.(WorldState).Set("hungry", true)
	third, err := engine.FindPlan(context.Background(), d, "do_something", defaultEvening())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if third.Final.(WorldState).Bool("hungry") {
		t.Error("mutating a returned result leaked into the cache")
	}
}

func TestFindPlan_CacheHitsDoNotShareActions(t *testing.T) {
	cache := newStubCache()
	engine := New(WithCache(cache))
	d := dinnerDomain(t)

	want := "cook_dinner eat_dinner wash_dishes"
	if _, err := engine.FindPlan(context.Background(), d, "do_something", defaultEvening()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	a, err := engine.FindPlan(context.Background(), d, "do_something", defaultEvening())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	b, err := engine.FindPlan(context.Background(), d, "do_something", defaultEvening())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	// One caller rewriting or extending its plan must not be observable
	// through another caller's hit or through the cache entry.
	a.Plan.Actions[0] = "tampered"
	_ = a.Plan.Concat(NewPlan("extra"))
	if b.Plan.String() != want {
		t.Errorf("sibling cache hit observed another caller's writes: %q", b.Plan)
	}
	extended := b.Plan.Concat(NewPlan("execute"))
	if got := extended.String(); got != want+" execute" {
		t.Errorf("expected %q, got %q", want+" execute", got)
	}

	c, err := engine.FindPlan(context.Background(), d, "do_something", defaultEvening())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if c.Plan.String() != want {
		t.Errorf("cache entry corrupted: %q", c.Plan)
	}
}

func TestFindPlan_CacheDistinguishesStates(t *testing.T) {
	cache := newStubCache()
	engine := New(WithCache(cache))
	d := dinnerDomain(t)

	a, err := engine.FindPlan(context.Background(), d, "do_something", defaultEvening())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	broke := defaultEvening()
	broke.Set("can_cook", false)
	b, err := engine.FindPlan(context.Background(), d, "do_something", broke)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if a.Plan.String() == b.Plan.String() {
		t.Error("different initial states must not share a cache entry")
	}
}
