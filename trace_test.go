package htnscale

import (
	"bytes"
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/ZanzyTHEbar/htnscale/internal/eventbus"
)

func TestConsoleTrace_SuccessOutput(t *testing.T) {
	d := NewDomain("d")
	mustAddTask(t, d, "beep", AsPrimitive("beep"), WithLocation(Location{File: "toy.yaml", Line: 3}))
	mustAddTask(t, d, "root", Sequence("beep"), WithLocation(Location{File: "toy.yaml", Line: 5}))

	var buf bytes.Buffer
	if _, err := FindPlan(context.Background(), d, "root", WorldState{"x": 1}, NewConsoleTrace(&buf)); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	lines := strings.Split(strings.TrimRight(buf.String(), "\n"), "\n")
	want := []string{
		"toy.yaml(5) Planning context: root",
		"toy.yaml(3) Planning context: root beep",
		"toy.yaml(3) Selected primitive: beep",
		"Planning succeeded! beep",
	}
	if len(lines) != len(want) {
		t.Fatalf("expected %d lines, got %d:\n%s", len(want), len(lines), buf.String())
	}
	for i := range want {
		if lines[i] != want[i] {
			t.Errorf("line %d: expected %q, got %q", i, want[i], lines[i])
		}
	}
}

func TestConsoleTrace_FailureShowsPathAndState(t *testing.T) {
	d := NewDomain("d")
	mustAddTask(t, d, "blocked", WithGuard(never), AsPrimitive("blocked"), WithLocation(Location{File: "toy.yaml", Line: 3}))
	mustAddTask(t, d, "root", Sequence("blocked"), WithLocation(Location{File: "toy.yaml", Line: 5}))

	var buf bytes.Buffer
	_, err := FindPlan(context.Background(), d, "root", WorldState{"x": 1}, NewConsoleTrace(&buf))
	if err == nil {
		t.Fatal("expected failure")
	}

	out := buf.String()
	if !strings.Contains(out, "toy.yaml(3) Planning failed: root blocked") {
		t.Errorf("failure line must show the full decomposition path:\n%s", out)
	}
	if !strings.Contains(out, "(x: 1)") {
		t.Errorf("failure must show the innermost state:\n%s", out)
	}
	if !strings.Contains(out, "Planning failed!\n") {
		t.Errorf("search must end with the failure line:\n%s", out)
	}
}

func TestConsoleTrace_ReusableAcrossSearches(t *testing.T) {
	d := NewDomain("d")
	mustAddTask(t, d, "beep", AsPrimitive("beep"))

	var buf bytes.Buffer
	trace := NewConsoleTrace(&buf)
	engine := New(WithTrace(trace), WithConfig(Config{}))
	for i := 0; i < 2; i++ {
		if _, err := engine.FindPlan(context.Background(), d, "beep", WorldState{}); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
	}
	if got := strings.Count(buf.String(), "Planning succeeded!"); got != 2 {
		t.Errorf("expected 2 success lines, got %d:\n%s", got, buf.String())
	}
}

func TestMultiTrace_FansOut(t *testing.T) {
	a := &recordingTrace{}
	b := &recordingTrace{}
	multi := NewMultiTrace(a, nil, b)

	if _, err := FindPlan(context.Background(), dinnerDomain(t), "do_something", defaultEvening(), multi); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if a.begins != 1 || b.begins != 1 {
		t.Errorf("both sinks must see Begin, got %d and %d", a.begins, b.begins)
	}
	if len(a.pushes) == 0 || len(a.pushes) != len(b.pushes) {
		t.Errorf("sinks diverged: %v vs %v", a.pushes, b.pushes)
	}
}

func TestBusTrace_PublishesDecompositionEvents(t *testing.T) {
	bus := eventbus.NewChannelEventBus(eventbus.WithWorkerCount(1))
	defer bus.Close()

	var mu sync.Mutex
	var seen []eventbus.EventType
	if _, err := bus.SubscribeAll(func(ctx context.Context, e eventbus.Event) error {
		mu.Lock()
		seen = append(seen, e.Type())
		mu.Unlock()
		return nil
	}); err != nil {
		t.Fatalf("SubscribeAll failed: %v", err)
	}

	if _, err := FindPlan(context.Background(), dinnerDomain(t), "do_something", defaultEvening(), NewBusTrace(bus, "test")); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	has := func(want eventbus.EventType) bool {
		mu.Lock()
		defer mu.Unlock()
		for _, et := range seen {
			if et == want {
				return true
			}
		}
		return false
	}
	deadline := time.Now().Add(time.Second)
	for !has(eventbus.EventSearchSucceeded) {
		if time.Now().After(deadline) {
			t.Fatalf("search_succeeded not delivered, saw %v", seen)
		}
		time.Sleep(5 * time.Millisecond)
	}
	for _, want := range []eventbus.EventType{
		eventbus.EventSearchStarted,
		eventbus.EventContextPushed,
		eventbus.EventContextPopped,
		eventbus.EventPrimitiveSelected,
	} {
		if !has(want) {
			t.Errorf("expected %s on the bus, saw %v", want, seen)
		}
	}
}

func TestNopTrace_DisablesContextBookkeeping(t *testing.T) {
	sc := newSearchContext(NopTrace{})
	sc.PushContext("root", WorldState{}, Location{})
	if sc.Depth() != 0 {
		t.Error("the no-op sink must skip frame upkeep")
	}
}

func TestNewSearchContext_NilMeansNop(t *testing.T) {
	sc := newSearchContext(nil)
	if sc.tracing {
		t.Error("a nil sink must behave like the no-op sink")
	}
}
