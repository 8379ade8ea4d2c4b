package runner

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ethereum-optimism/infra/op-bundletest/types"
)

func TestExecution_CountsFailuresAndFinishes(t *testing.T) {
	e := NewExecution()
	require.NotEmpty(t, e.ID())

	e.Emit(Event{Kind: EventStart})
	e.Emit(Event{Kind: EventPass, Result: &types.TestResult{Name: "a", Status: types.TestStatusPass}})
	e.Emit(Event{Kind: EventFail, Result: &types.TestResult{Name: "b", Status: types.TestStatusFail, Error: errors.New("boom")}})
	e.Emit(Event{Kind: EventFail, Result: &types.TestResult{Name: "c", Status: types.TestStatusFail}})

	select {
	case <-e.Done():
		t.Fatal("execution finished before Finish was called")
	default:
	}

	e.Finish()
	select {
	case <-e.Done():
	case <-time.After(time.Second):
		t.Fatal("Done not closed after Finish")
	}

	assert.Equal(t, 2, e.Failures())
	assert.Len(t, e.Results(), 3)

	events := e.Events()
	require.Len(t, events, 5)
	assert.Equal(t, EventEnd, events[4].Kind)
	assert.False(t, events[0].Time.IsZero())
}

func TestExecution_FinishIsIdempotent(t *testing.T) {
	e := NewExecution()
	e.Finish()
	e.Finish()
	e.Emit(Event{Kind: EventFail})

	assert.Equal(t, 0, e.Failures())
	assert.Len(t, e.Events(), 1)
}

func TestExecution_SubscribeReplaysPastEvents(t *testing.T) {
	e := NewExecution()
	e.Emit(Event{Kind: EventStart})
	e.Emit(Event{Kind: EventLoad, File: "tmp/index.js"})

	var mu sync.Mutex
	var kinds []EventKind
	e.Subscribe(func(ev Event) {
		mu.Lock()
		defer mu.Unlock()
		kinds = append(kinds, ev.Kind)
	})
	e.Emit(Event{Kind: EventPass, Result: &types.TestResult{Status: types.TestStatusPass}})
	e.Finish()

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []EventKind{EventStart, EventLoad, EventPass, EventEnd}, kinds)
}

func TestExecution_SubscribeNilIsIgnored(t *testing.T) {
	e := NewExecution()
	e.Subscribe(nil)
	e.Finish()
	assert.Len(t, e.Events(), 1)
}

func TestExecution_Abort(t *testing.T) {
	e := NewExecution()
	e.Abort()
	e.Abort()

	select {
	case <-e.Aborted():
	default:
		t.Fatal("Aborted not closed")
	}
}

func TestExecution_ConcurrentEmit(t *testing.T) {
	e := NewExecution()
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			e.Emit(Event{Kind: EventFail})
		}()
	}
	wg.Wait()
	e.Finish()
	assert.Equal(t, 50, e.Failures())
}
