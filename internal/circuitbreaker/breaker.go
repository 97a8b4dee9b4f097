// Package circuitbreaker protects the discovery loop against failing or garbled market-data feeds.
package circuitbreaker

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// ErrOpen is returned while the breaker rejects calls
var ErrOpen = errors.New("circuit breaker open")

// State represents the current state of the circuit breaker
type State int

// Circuit breaker states
const (
	StateClosed   State = iota // Normal operation
	StateOpen                  // Tripped, no new calls allowed
	StateHalfOpen              // Testing if the feed has recovered
)

// String returns the lower-case state name
func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// CircuitBreaker counts consecutive feed failures and short-circuits calls once
// the failure threshold is reached, until the reset delay has elapsed.
type CircuitBreaker struct {
	name       string
	thresholds Thresholds

	// Current state of the circuit breaker (Closed, Open, HalfOpen)
	state State

	// Timestamp of the last circuit trip
	lastTrip time.Time

	// Duration before auto-reset attempt
	resetDelay time.Duration

	mu sync.RWMutex

	failures int

	// Count of consecutive successful calls in HalfOpen state
	successCount int

	// Number of successful calls required to close circuit
	successThreshold int

	// Event callback for monitoring/alerting
	onTripCallback func(name, reason string)

	// Observer for state changes, used to export the state as a metric
	onStateChange func(name string, state State)
}

// Thresholds defines the limits that will trigger the circuit breaker
type Thresholds struct {
	// Consecutive failed calls before the breaker opens
	FailureThreshold int `json:"failure_threshold"`

	// A successful call returning fewer markets than this counts as a failure
	MinMarkets int `json:"min_markets"`
}

// New creates a new CircuitBreaker for a named feed
func New(name string, t Thresholds) *CircuitBreaker {
	if t.FailureThreshold <= 0 {
		t.FailureThreshold = 1
	}
	return &CircuitBreaker{
		name:             name,
		thresholds:       t,
		state:            StateClosed,
		resetDelay:       5 * time.Minute,
		successThreshold: 1,
	}
}

// WithResetDelay sets a custom reset delay and returns the circuit breaker
func (cb *CircuitBreaker) WithResetDelay(delay time.Duration) *CircuitBreaker {
	cb.resetDelay = delay
	return cb
}

// WithSuccessThreshold sets the number of successful calls needed to close the circuit
func (cb *CircuitBreaker) WithSuccessThreshold(threshold int) *CircuitBreaker {
	cb.successThreshold = threshold
	return cb
}

// WithTripCallback sets a callback function that is called when the circuit trips
func (cb *CircuitBreaker) WithTripCallback(callback func(name, reason string)) *CircuitBreaker {
	cb.onTripCallback = callback
	return cb
}

// WithStateObserver sets a function called synchronously on every state change
func (cb *CircuitBreaker) WithStateObserver(observer func(name string, state State)) *CircuitBreaker {
	cb.onStateChange = observer
	return cb
}

// Name returns the feed name
func (cb *CircuitBreaker) Name() string {
	return cb.name
}

// Allow reports whether a call may proceed. An open breaker whose reset delay
// has elapsed moves to half-open and lets the call through.
func (cb *CircuitBreaker) Allow() error {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	if cb.state != StateOpen {
		return nil
	}
	if time.Since(cb.lastTrip) > cb.resetDelay {
		cb.setState(StateHalfOpen)
		cb.successCount = 0
		logrus.WithField("feed", cb.name).Info("Circuit breaker half-open: testing feed recovery")
		return nil
	}
	return fmt.Errorf("%s: %w", cb.name, ErrOpen)
}

// RecordSuccess registers a successful call that returned the given number of markets
func (cb *CircuitBreaker) RecordSuccess(markets int) {
	if markets < cb.thresholds.MinMarkets {
		cb.RecordFailure(fmt.Errorf("feed returned %d markets, need %d", markets, cb.thresholds.MinMarkets))
		return
	}

	cb.mu.Lock()
	defer cb.mu.Unlock()

	cb.failures = 0
	if cb.state == StateHalfOpen {
		cb.successCount++
		if cb.successCount >= cb.successThreshold {
			cb.setState(StateClosed)
			cb.successCount = 0
			logrus.WithField("feed", cb.name).Info("Circuit breaker closed: feed has recovered")
		}
	}
}

// RecordFailure registers a failed call and trips the breaker at the threshold.
// Any failure while half-open trips it again immediately.
func (cb *CircuitBreaker) RecordFailure(err error) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	cb.failures++
	if cb.state == StateHalfOpen || cb.failures >= cb.thresholds.FailureThreshold {
		cb.trip(fmt.Sprintf("%d consecutive failures, last: %v", cb.failures, err))
	}
}

// Execute runs fn if the breaker allows it and records the outcome
func (cb *CircuitBreaker) Execute(fn func() (int, error)) error {
	if err := cb.Allow(); err != nil {
		return err
	}
	markets, err := fn()
	if err != nil {
		cb.RecordFailure(err)
		return err
	}
	cb.RecordSuccess(markets)
	return nil
}

// GetState returns the current state of the circuit breaker
func (cb *CircuitBreaker) GetState() State {
	cb.mu.RLock()
	defer cb.mu.RUnlock()
	return cb.state
}

// Reset forcibly resets the circuit breaker to closed state
func (cb *CircuitBreaker) Reset() {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.setState(StateClosed)
	cb.successCount = 0
	cb.failures = 0
	logrus.WithField("feed", cb.name).Info("Circuit breaker manually reset to closed state")
}

// trip sets the circuit breaker to open state with the current time
func (cb *CircuitBreaker) trip(reason string) {
	cb.setState(StateOpen)
	cb.lastTrip = time.Now()
	cb.failures = 0
	logrus.WithField("feed", cb.name).Warnf("Circuit breaker tripped: %s", reason)

	if cb.onTripCallback != nil {
		go cb.onTripCallback(cb.name, reason)
	}
}

func (cb *CircuitBreaker) setState(state State) {
	cb.state = state
	if cb.onStateChange != nil {
		cb.onStateChange(cb.name, state)
	}
}
