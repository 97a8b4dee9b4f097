package circuitbreaker

import (
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var errFeed = errors.New("feed down")

func TestCircuitBreaker_BasicFunctionality(t *testing.T) {
	cb := New("compound", Thresholds{FailureThreshold: 3})
	assert.Equal(t, StateClosed, cb.GetState(), "Circuit breaker should start closed")

	err := cb.Execute(func() (int, error) { return 10, nil })
	assert.NoError(t, err)
	assert.Equal(t, StateClosed, cb.GetState(), "Circuit should remain closed after success")
}

func TestCircuitBreaker_FailureThreshold(t *testing.T) {
	cb := New("compound", Thresholds{FailureThreshold: 3})

	for i := 0; i < 2; i++ {
		err := cb.Execute(func() (int, error) { return 0, errFeed })
		assert.ErrorIs(t, err, errFeed)
		assert.Equal(t, StateClosed, cb.GetState())
	}

	err := cb.Execute(func() (int, error) { return 0, errFeed })
	assert.ErrorIs(t, err, errFeed)
	assert.Equal(t, StateOpen, cb.GetState(), "Circuit should be open after threshold failures")

	called := false
	err = cb.Execute(func() (int, error) { called = true; return 1, nil })
	assert.ErrorIs(t, err, ErrOpen)
	assert.False(t, called, "Open breaker must not call the feed")
}

func TestCircuitBreaker_SuccessResetsFailureCount(t *testing.T) {
	cb := New("defillama", Thresholds{FailureThreshold: 2})

	_ = cb.Execute(func() (int, error) { return 0, errFeed })
	_ = cb.Execute(func() (int, error) { return 5, nil })
	_ = cb.Execute(func() (int, error) { return 0, errFeed })

	assert.Equal(t, StateClosed, cb.GetState())
}

func TestCircuitBreaker_MinMarkets(t *testing.T) {
	cb := New("lido", Thresholds{FailureThreshold: 1, MinMarkets: 1})

	err := cb.Execute(func() (int, error) { return 0, nil })
	assert.NoError(t, err)
	assert.Equal(t, StateOpen, cb.GetState(), "An empty feed response counts as a failure")
}

func TestCircuitBreaker_Recovery(t *testing.T) {
	cb := New("compound", Thresholds{FailureThreshold: 1}).
		WithResetDelay(50 * time.Millisecond).
		WithSuccessThreshold(1)

	require.Error(t, cb.Execute(func() (int, error) { return 0, errFeed }))
	assert.Equal(t, StateOpen, cb.GetState())

	time.Sleep(60 * time.Millisecond)

	err := cb.Execute(func() (int, error) { return 3, nil })
	assert.NoError(t, err, "Call should pass in half-open state")
	assert.Equal(t, StateClosed, cb.GetState(), "Circuit should close after successful half-open call")
}

func TestCircuitBreaker_HalfOpenFailureTripsAgain(t *testing.T) {
	cb := New("compound", Thresholds{FailureThreshold: 5}).WithResetDelay(10 * time.Millisecond)

	for i := 0; i < 5; i++ {
		_ = cb.Execute(func() (int, error) { return 0, errFeed })
	}
	require.Equal(t, StateOpen, cb.GetState())

	time.Sleep(20 * time.Millisecond)
	require.NoError(t, cb.Allow())
	assert.Equal(t, StateHalfOpen, cb.GetState())

	cb.RecordFailure(errFeed)
	assert.Equal(t, StateOpen, cb.GetState())
}

func TestCircuitBreaker_Callbacks(t *testing.T) {
	var tripped atomic.Value
	var states []State

	cb := New("compound", Thresholds{FailureThreshold: 1}).
		WithTripCallback(func(name, reason string) { tripped.Store(name + ": " + reason) }).
		WithStateObserver(func(_ string, s State) { states = append(states, s) })

	require.Error(t, cb.Execute(func() (int, error) { return 0, errFeed }))
	cb.Reset()

	assert.Eventually(t, func() bool { return tripped.Load() != nil }, time.Second, 5*time.Millisecond)
	assert.Contains(t, tripped.Load().(string), "feed down")
	assert.Equal(t, []State{StateOpen, StateClosed}, states)
}

func TestCircuitBreaker_ManualReset(t *testing.T) {
	cb := New("compound", Thresholds{FailureThreshold: 1})

	require.Error(t, cb.Execute(func() (int, error) { return 0, errFeed }))
	assert.Equal(t, StateOpen, cb.GetState())

	cb.Reset()
	assert.Equal(t, StateClosed, cb.GetState(), "Circuit should be closed after manual reset")
	assert.NoError(t, cb.Execute(func() (int, error) { return 1, nil }))
}
