package htnscale

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/ZanzyTHEbar/htnscale/internal/eventbus"
)

// NopTrace discards all events. The engine recognizes this exact type and
// skips state snapshots and context bookkeeping entirely, so disabled
// tracing costs nothing per evaluation.
type NopTrace struct{}

func (NopTrace) Begin()                                    {}
func (NopTrace) End(result *Result, err error)             {}
func (NopTrace) PushContext(string, State, Location)       {}
func (NopTrace) PopContext()                               {}
func (NopTrace) PrimitiveSelected(string, State, Location) {}
func (NopTrace) Fail(Location)                             {}

// ConsoleTrace writes a line-oriented account of the search to a writer. It
// keeps its own copy of the context stack so a failure line can show the
// full decomposition path and the state it failed in. Not safe for use by
// more than one search at a time.
type ConsoleTrace struct {
	w        io.Writer
	contexts []ContextFrame
}

// NewConsoleTrace creates a console trace writing to w; nil means stdout.
func NewConsoleTrace(w io.Writer) *ConsoleTrace {
	if w == nil {
		w = os.Stdout
	}
	return &ConsoleTrace{w: w}
}

func (c *ConsoleTrace) Begin() {
	c.contexts = c.contexts[:0]
}

func (c *ConsoleTrace) End(result *Result, err error) {
	if err != nil {
		fmt.Fprintln(c.w, "Planning failed!")
		return
	}
	fmt.Fprintf(c.w, "Planning succeeded! %s\n", result.Plan)
}

func (c *ConsoleTrace) PushContext(name string, snapshot State, loc Location) {
	c.contexts = append(c.contexts, ContextFrame{Name: name, State: snapshot})
	fmt.Fprintf(c.w, "%s Planning context: %s\n", loc, c.path())
}

func (c *ConsoleTrace) PopContext() {
	c.contexts = c.contexts[:len(c.contexts)-1]
}

func (c *ConsoleTrace) PrimitiveSelected(name string, snapshot State, loc Location) {
	fmt.Fprintf(c.w, "%s Selected primitive: %s\n", loc, name)
}

func (c *ConsoleTrace) Fail(loc Location) {
	fmt.Fprintf(c.w, "%s Planning failed: %s\n", loc, c.path())
	if len(c.contexts) > 0 {
		fmt.Fprintf(c.w, "(%s)\n", c.contexts[len(c.contexts)-1].State)
	}
}

func (c *ConsoleTrace) path() string {
	names := make([]string, len(c.contexts))
	for i, frame := range c.contexts {
		names[i] = frame.Name
	}
	return strings.Join(names, " ")
}

// SlogTrace emits search events as structured logs. Like ConsoleTrace it
// tracks the innermost context so failures can report what failed and in
// what state.
type SlogTrace struct {
	logger   *slog.Logger
	contexts []ContextFrame
}

// NewSlogTrace creates a trace emitting to the given logger; nil means
// slog.Default().
func NewSlogTrace(logger *slog.Logger) *SlogTrace {
	if logger == nil {
		logger = slog.Default()
	}
	return &SlogTrace{logger: logger}
}

func (s *SlogTrace) Begin() {
	s.contexts = s.contexts[:0]
	s.logger.Debug("search started")
}

func (s *SlogTrace) End(result *Result, err error) {
	if err != nil {
		s.logger.Info("search failed")
		return
	}
	s.logger.Info("search succeeded",
		slog.String("plan", result.Plan.String()),
		slog.String("final_state", result.Final.String()))
}

func (s *SlogTrace) PushContext(name string, snapshot State, loc Location) {
	s.contexts = append(s.contexts, ContextFrame{Name: name, State: snapshot})
	s.logger.Debug("context pushed",
		slog.String("task", name),
		slog.Int("depth", len(s.contexts)),
		slog.String("declared_at", loc.String()))
}

func (s *SlogTrace) PopContext() {
	s.contexts = s.contexts[:len(s.contexts)-1]
}

func (s *SlogTrace) PrimitiveSelected(name string, snapshot State, loc Location) {
	s.logger.Debug("primitive selected",
		slog.String("action", name),
		slog.String("state", snapshot.String()))
}

func (s *SlogTrace) Fail(loc Location) {
	attrs := []any{slog.String("declared_at", loc.String())}
	if len(s.contexts) > 0 {
		innermost := s.contexts[len(s.contexts)-1]
		attrs = append(attrs,
			slog.String("task", innermost.Name),
			slog.String("state", innermost.State.String()))
	}
	s.logger.Debug("decomposition failed", attrs...)
}

// MultiTrace fans events out to several sinks.
type MultiTrace struct {
	sinks []TraceSink
}

// NewMultiTrace creates a trace forwarding to all non-nil sinks.
func NewMultiTrace(sinks ...TraceSink) *MultiTrace {
	filtered := make([]TraceSink, 0, len(sinks))
	for _, sink := range sinks {
		if sink != nil {
			filtered = append(filtered, sink)
		}
	}
	return &MultiTrace{sinks: filtered}
}

func (m *MultiTrace) Begin() {
	for _, s := range m.sinks {
		s.Begin()
	}
}

func (m *MultiTrace) End(result *Result, err error) {
	for _, s := range m.sinks {
		s.End(result, err)
	}
}

func (m *MultiTrace) PushContext(name string, snapshot State, loc Location) {
	for _, s := range m.sinks {
		s.PushContext(name, snapshot, loc)
	}
}

func (m *MultiTrace) PopContext() {
	for _, s := range m.sinks {
		s.PopContext()
	}
}

func (m *MultiTrace) PrimitiveSelected(name string, snapshot State, loc Location) {
	for _, s := range m.sinks {
		s.PrimitiveSelected(name, snapshot, loc)
	}
}

func (m *MultiTrace) Fail(loc Location) {
	for _, s := range m.sinks {
		s.Fail(loc)
	}
}

// BusTrace publishes search events to an event bus, for subscribers that
// want decomposition-level visibility without implementing a sink.
type BusTrace struct {
	bus    eventbus.EventBus
	source string
	depth  int
}

// NewBusTrace creates a trace publishing to bus, tagged with source.
func NewBusTrace(bus eventbus.EventBus, source string) *BusTrace {
	if source == "" {
		source = "trace"
	}
	return &BusTrace{bus: bus, source: source}
}

func (b *BusTrace) publish(t eventbus.EventType, payload interface{}, metadata map[string]interface{}) {
	_ = b.bus.Publish(context.Background(), eventbus.NewEvent(t, payload, b.source, metadata))
}

func (b *BusTrace) Begin() {
	b.depth = 0
	b.publish(eventbus.EventSearchStarted, nil, nil)
}

func (b *BusTrace) End(result *Result, err error) {
	if err != nil {
		b.publish(eventbus.EventSearchFailed, nil, nil)
		return
	}
	b.publish(eventbus.EventSearchSucceeded, result.Plan.Actions, map[string]interface{}{
		"final_state": result.Final.String(),
	})
}

func (b *BusTrace) PushContext(name string, snapshot State, loc Location) {
	b.depth++
	b.publish(eventbus.EventContextPushed, name, map[string]interface{}{
		"depth":       b.depth,
		"state":       snapshot.String(),
		"declared_at": loc.String(),
	})
}

func (b *BusTrace) PopContext() {
	b.depth--
	b.publish(eventbus.EventContextPopped, nil, nil)
}

func (b *BusTrace) PrimitiveSelected(name string, snapshot State, loc Location) {
	b.publish(eventbus.EventPrimitiveSelected, name, map[string]interface{}{
		"state": snapshot.String(),
	})
}

func (b *BusTrace) Fail(loc Location) {
	b.publish(eventbus.EventDecompositionFailed, nil, map[string]interface{}{
		"declared_at": loc.String(),
	})
}
