package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"os"
	"sort"
	"strings"

	"github.com/ZanzyTHEbar/htnscale"
	"github.com/ZanzyTHEbar/htnscale/internal/domainfile"
	"github.com/ZanzyTHEbar/htnscale/internal/eventbus"
)

func main() {
	var (
		domainPath = flag.String("domain", "", "path to a YAML domain document (default: built-in dinner domain)")
		rootTask   = flag.String("root", "do_something", "root task to plan for")
		scenario   = flag.String("scenario", "default", "initial state scenario: "+scenarioNames())
		traceMode  = flag.String("trace", "console", "trace output: console, slog, or off")
		withEvents = flag.Bool("events", false, "publish search events to an event bus and print them")
	)
	flag.Parse()

	initial, ok := scenarios[*scenario]
	if !ok {
		log.Fatalf("unknown scenario %q, want one of: %s", *scenario, scenarioNames())
	}

	domain, err := loadDomain(*domainPath)
	if err != nil {
		log.Fatalf("domain load failed: %v", err)
	}

	sink := traceSink(*traceMode)
	options := []htnscale.Option{}
	if *withEvents {
		bus := eventbus.NewChannelEventBus(eventbus.WithWorkerCount(1))
		defer bus.Close()

		_, err := bus.SubscribeAll(func(ctx context.Context, e eventbus.Event) error {
			fmt.Printf("event: %s payload=%v\n", e.Type(), e.Payload())
			return nil
		})
		if err != nil {
			log.Fatalf("event subscription failed: %v", err)
		}

		// Publish decomposition-level events alongside the engine's
		// search lifecycle events.
		sink = htnscale.NewMultiTrace(sink, htnscale.NewBusTrace(bus, "planner"))
		options = append(options, htnscale.WithEventBus(bus))
	}
	options = append(options, htnscale.WithTrace(sink))

	engine := htnscale.New(options...)
	defer engine.Close()

	result, err := engine.FindPlan(context.Background(), domain, *rootTask, initial.Clone())
	if err != nil {
		fmt.Println("no plan found")
		os.Exit(1)
	}

	fmt.Printf("plan: %s\n", result.Plan)
	fmt.Printf("final state: %s\n", result.Final)
}

func loadDomain(path string) (*htnscale.Domain, error) {
	if path == "" {
		return dinnerDomain()
	}
	return domainfile.LoadDomain(path)
}

func traceSink(mode string) htnscale.TraceSink {
	switch mode {
	case "console":
		return htnscale.NewConsoleTrace(os.Stdout)
	case "slog":
		return htnscale.NewSlogTrace(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
			Level: slog.LevelDebug,
		})))
	case "off":
		return htnscale.NopTrace{}
	default:
		log.Fatalf("unknown trace mode %q, want console, slog, or off", mode)
		return nil
	}
}

func scenarioNames() string {
	names := make([]string, 0, len(scenarios))
	for name := range scenarios {
		names = append(names, name)
	}
	sort.Strings(names)
	return strings.Join(names, ", ")
}
