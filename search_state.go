package htnscale

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/ZanzyTHEbar/htnscale/internal/eventbus"
)

// SearchState represents the lifecycle state of an async search.
type SearchState string

const (
	// SearchStatePending means the search has been accepted but not started.
	SearchStatePending SearchState = "pending"
	// SearchStateRunning means the search is in progress.
	SearchStateRunning SearchState = "running"
	// SearchStateComplete means the search produced a plan.
	SearchStateComplete SearchState = "complete"
	// SearchStateFailed means the search exhausted every decomposition.
	SearchStateFailed SearchState = "failed"
	// SearchStateCancelled means the search was cancelled before it started.
	// A started search always runs to completion.
	SearchStateCancelled SearchState = "cancelled"
)

// SearchProcess tracks one async search. Independent searches each own a
// working copy of their initial state, so any number may run in parallel.
type SearchProcess struct {
	id       string
	rootTask string
	domain   string

	mutex     sync.Mutex
	state     SearchState
	result    *Result
	lastError error
	startTime time.Time
	endTime   time.Time

	done chan struct{}
}

func newSearchProcess(domain, rootTask string) *SearchProcess {
	return &SearchProcess{
		id:        uuid.New().String(),
		rootTask:  rootTask,
		domain:    domain,
		state:     SearchStatePending,
		startTime: time.Now(),
		done:      make(chan struct{}),
	}
}

// ID returns the search identifier.
func (p *SearchProcess) ID() string {
	return p.id
}

// Done returns a channel closed when the search reaches a terminal state.
func (p *SearchProcess) Done() <-chan struct{} {
	return p.done
}

// State returns the current lifecycle state.
func (p *SearchProcess) State() SearchState {
	p.mutex.Lock()
	defer p.mutex.Unlock()
	return p.state
}

// IsTerminal reports whether the search has finished, one way or another.
func (p *SearchProcess) IsTerminal() bool {
	switch p.State() {
	case SearchStateComplete, SearchStateFailed, SearchStateCancelled:
		return true
	}
	return false
}

func (p *SearchProcess) start() {
	p.mutex.Lock()
	defer p.mutex.Unlock()
	p.state = SearchStateRunning
	p.startTime = time.Now()
}

func (p *SearchProcess) complete(result *Result) {
	p.mutex.Lock()
	p.state = SearchStateComplete
	p.result = result
	p.endTime = time.Now()
	p.mutex.Unlock()
	close(p.done)
}

func (p *SearchProcess) fail(err error) {
	p.mutex.Lock()
	p.state = SearchStateFailed
	p.lastError = err
	p.endTime = time.Now()
	p.mutex.Unlock()
	close(p.done)
}

func (p *SearchProcess) cancel(err error) {
	p.mutex.Lock()
	p.state = SearchStateCancelled
	p.lastError = err
	p.endTime = time.Now()
	p.mutex.Unlock()
	close(p.done)
}

// Duration returns how long the search has been running, or its total
// runtime once terminal.
func (p *SearchProcess) Duration() time.Duration {
	p.mutex.Lock()
	defer p.mutex.Unlock()
	if p.endTime.IsZero() {
		return time.Since(p.startTime)
	}
	return p.endTime.Sub(p.startTime)
}

// SearchStatus is a point-in-time snapshot of an async search.
type SearchStatus struct {
	SearchID     string        `json:"search_id"`
	Domain       string        `json:"domain"`
	RootTask     string        `json:"root_task"`
	CurrentState SearchState   `json:"current_state"`
	StartTime    time.Time     `json:"start_time"`
	Duration     time.Duration `json:"duration"`
	IsComplete   bool          `json:"is_complete"`
	HasError     bool          `json:"has_error"`
	ErrorMessage string        `json:"error_message,omitempty"`
}

// FindPlanAsync starts a search in the background and returns its process
// handle immediately. The search runs over its own copy of initial; ctx
// cancellation only prevents a pending search from starting, it never
// interrupts one in flight.
func (e *Engine) FindPlanAsync(ctx context.Context, domain *Domain, rootTask string, initial State) (*SearchProcess, error) {
	if domain == nil {
		return nil, NewValidationError("", "domain is required", nil)
	}
	if initial == nil {
		return nil, NewValidationError("", "initial state is required", nil)
	}
	if err := domain.Validate(); err != nil {
		return nil, err
	}
	if _, ok := domain.TaskByName(rootTask); !ok {
		return nil, NewTaskNotFoundError(rootTask)
	}

	process := newSearchProcess(domain.Name(), rootTask)
	working := initial.Clone()

	e.searchesMutex.Lock()
	e.searches[process.id] = process
	e.searchesMutex.Unlock()

	e.publish(ctx, eventbus.EventAsyncSearchStarted, process.id, map[string]interface{}{
		"domain":    domain.Name(),
		"root_task": rootTask,
	})

	go func() {
		if ctx.Err() != nil {
			process.cancel(ctx.Err())
			e.publish(context.Background(), eventbus.EventAsyncSearchCancelled, process.id, nil)
			return
		}
		process.start()

		// Async searches may overlap, and trace sinks are single-search
		// objects; observe async searches through the event bus instead.
		result, err := e.FindPlanTraced(context.Background(), domain, rootTask, working, NopTrace{})
		if err != nil {
			process.fail(err)
			e.publish(context.Background(), eventbus.EventAsyncSearchFailed, process.id, nil)
			return
		}
		process.complete(result)
		e.publish(context.Background(), eventbus.EventAsyncSearchSucceeded, process.id, map[string]interface{}{
			"plan": result.Plan.String(),
		})
	}()

	return process, nil
}

// SearchStatusByID retrieves the current status of an async search.
func (e *Engine) SearchStatusByID(searchID string) (*SearchStatus, error) {
	e.searchesMutex.RLock()
	process, exists := e.searches[searchID]
	e.searchesMutex.RUnlock()
	if !exists {
		return nil, fmt.Errorf("search with ID '%s' not found", searchID)
	}

	process.mutex.Lock()
	defer process.mutex.Unlock()

	status := &SearchStatus{
		SearchID:     process.id,
		Domain:       process.domain,
		RootTask:     process.rootTask,
		CurrentState: process.state,
		StartTime:    process.startTime,
		IsComplete:   process.state == SearchStateComplete,
		HasError:     process.state == SearchStateFailed,
	}
	if process.endTime.IsZero() {
		status.Duration = time.Since(process.startTime)
	} else {
		status.Duration = process.endTime.Sub(process.startTime)
	}
	if process.lastError != nil {
		status.ErrorMessage = process.lastError.Error()
	}
	return status, nil
}

// SearchResult retrieves the result of a completed async search. It
// returns an error while the search is still in progress.
func (e *Engine) SearchResult(searchID string) (*Result, error) {
	e.searchesMutex.RLock()
	process, exists := e.searches[searchID]
	e.searchesMutex.RUnlock()
	if !exists {
		return nil, fmt.Errorf("search with ID '%s' not found", searchID)
	}

	process.mutex.Lock()
	defer process.mutex.Unlock()
	switch process.state {
	case SearchStateComplete:
		return process.result, nil
	case SearchStateFailed:
		return nil, process.lastError
	case SearchStateCancelled:
		return nil, fmt.Errorf("search was cancelled: %w", process.lastError)
	}
	return nil, fmt.Errorf("search is still in progress (current state: %s)", process.state)
}

// WaitForSearch blocks until the search finishes or ctx is done, then
// returns its result.
func (e *Engine) WaitForSearch(ctx context.Context, searchID string) (*Result, error) {
	e.searchesMutex.RLock()
	process, exists := e.searches[searchID]
	e.searchesMutex.RUnlock()
	if !exists {
		return nil, fmt.Errorf("search with ID '%s' not found", searchID)
	}

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-process.done:
		return e.SearchResult(searchID)
	}
}

// ForgetSearch drops a terminal search from the registry. Forgetting an
// in-flight search is refused so its handle stays reachable.
func (e *Engine) ForgetSearch(searchID string) error {
	e.searchesMutex.Lock()
	defer e.searchesMutex.Unlock()
	process, exists := e.searches[searchID]
	if !exists {
		return fmt.Errorf("search with ID '%s' not found", searchID)
	}
	if !process.IsTerminal() {
		return fmt.Errorf("search '%s' is still in progress", searchID)
	}
	delete(e.searches, searchID)
	return nil
}
