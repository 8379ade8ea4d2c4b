package runner

import (
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/ethereum-optimism/infra/op-bundletest/types"
)

// EventKind identifies what happened during an execution
type EventKind string

const (
	EventStart EventKind = "start"
	EventLoad  EventKind = "load"
	EventPass  EventKind = "pass"
	EventFail  EventKind = "fail"
	EventSkip  EventKind = "skip"
	EventEnd   EventKind = "end"
)

// Event is a single notification emitted by an execution
type Event struct {
	Kind   EventKind
	File   string            // Set for load events and test results
	Result *types.TestResult // Set for pass, fail and skip events
	Time   time.Time
}

// Execution is the handle returned by Runner.Run. It records every event,
// counts failures, and signals completion by closing Done after the end event.
type Execution struct {
	id string

	// dispatch serializes delivery so that replayed and live events reach a
	// subscriber in emission order.
	dispatch sync.Mutex

	mu        sync.Mutex
	events    []Event
	listeners []func(Event)
	failures  int
	results   []*types.TestResult
	finished  bool

	done      chan struct{}
	aborted   chan struct{}
	abortOnce sync.Once
}

// NewExecution creates an execution handle. Runner implementations emit events
// on it and call Finish once all files ran.
func NewExecution() *Execution {
	return &Execution{
		id:      uuid.New().String(),
		done:    make(chan struct{}),
		aborted: make(chan struct{}),
	}
}

// ID returns the unique run ID of the execution
func (e *Execution) ID() string {
	return e.id
}

// Subscribe registers fn for every event of the execution. Events emitted
// before the call are replayed first. fn must not call Subscribe.
func (e *Execution) Subscribe(fn func(Event)) {
	if fn == nil {
		return
	}
	e.dispatch.Lock()
	defer e.dispatch.Unlock()

	e.mu.Lock()
	past := make([]Event, len(e.events))
	copy(past, e.events)
	e.listeners = append(e.listeners, fn)
	e.mu.Unlock()

	for _, ev := range past {
		fn(ev)
	}
}

// Emit records an event and delivers it to the subscribers.
// Events emitted after Finish are dropped.
func (e *Execution) Emit(ev Event) {
	e.deliver(ev, false)
}

// Finish emits the end event and closes Done. Later calls are no-ops.
func (e *Execution) Finish() {
	e.deliver(Event{Kind: EventEnd}, true)
}

func (e *Execution) deliver(ev Event, finish bool) {
	if ev.Time.IsZero() {
		ev.Time = time.Now()
	}
	e.dispatch.Lock()
	defer e.dispatch.Unlock()

	e.mu.Lock()
	if e.finished {
		e.mu.Unlock()
		return
	}
	e.events = append(e.events, ev)
	if ev.Result != nil {
		e.results = append(e.results, ev.Result)
	}
	if ev.Kind == EventFail {
		e.failures++
	}
	e.finished = finish
	listeners := make([]func(Event), len(e.listeners))
	copy(listeners, e.listeners)
	e.mu.Unlock()

	for _, fn := range listeners {
		fn(ev)
	}
	if finish {
		close(e.done)
	}
}

// Done is closed once the execution completed
func (e *Execution) Done() <-chan struct{} {
	return e.done
}

// Failures returns the number of failed tests so far
func (e *Execution) Failures() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.failures
}

// Results returns the test results observed so far, in order
func (e *Execution) Results() []*types.TestResult {
	e.mu.Lock()
	defer e.mu.Unlock()
	results := make([]*types.TestResult, len(e.results))
	copy(results, e.results)
	return results
}

// Events returns every event recorded so far
func (e *Execution) Events() []Event {
	e.mu.Lock()
	defer e.mu.Unlock()
	events := make([]Event, len(e.events))
	copy(events, e.events)
	return events
}

// Abort asks the runner to stop executing further files. It is safe to call
// more than once and from any goroutine.
func (e *Execution) Abort() {
	e.abortOnce.Do(func() {
		close(e.aborted)
	})
}

// Aborted is closed once Abort has been called
func (e *Execution) Aborted() <-chan struct{} {
	return e.aborted
}
