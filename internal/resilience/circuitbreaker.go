// Package resilience wraps transient I/O with a circuit breaker and
// bounded retry, per spec.md §7's "Transient I/O" handling; cmd/engine
// uses it for the distributed lock's and the rate limiter's Redis calls
// (the store and the durable queue are not wrapped). Adapted from
// the teacher's email/resilience.go (originally built around SMTP send
// errors); the state machine is unchanged, only the error vocabulary and
// the addition of a per-keyspace Registry are new.
package resilience

import (
	"context"
	"crypto/rand"
	"errors"
	"math"
	"math/big"
	"strings"
	"sync"
	"time"

	"github.com/sequencehq/engine/internal/metrics"
)

// CircuitBreakerState represents the current state of a circuit breaker.
type CircuitBreakerState int

const (
	Closed CircuitBreakerState = iota
	Open
	HalfOpen
)

func (s CircuitBreakerState) String() string {
	switch s {
	case Open:
		return "open"
	case HalfOpen:
		return "half_open"
	default:
		return "closed"
	}
}

// ErrorType classifies the underlying driver error so logs and metrics
// distinguish failure classes without leaking driver-specific types past
// the call site.
type ErrorType int

const (
	UnknownError ErrorType = iota
	NetworkError
	AuthError
	QuotaError
	TemporaryError
	PermanentError
)

// ErrorClassifier classifies errors surfaced by Redis, Postgres and the
// durable queue driver for circuit breaker and retry decisions.
type ErrorClassifier struct {
	patterns map[string]ErrorType
}

// NewErrorClassifier creates a classifier tuned for store/K-V/queue
// drivers rather than SMTP transports.
func NewErrorClassifier() *ErrorClassifier {
	return &ErrorClassifier{
		patterns: map[string]ErrorType{
			"connection refused":    NetworkError,
			"connection reset":      NetworkError,
			"broken pipe":           NetworkError,
			"i/o timeout":           NetworkError,
			"timeout":               NetworkError,
			"context deadline":      NetworkError,
			"no such host":          NetworkError,
			"authentication failed": AuthError,
			"password authentication": AuthError,
			"access denied":         AuthError,
			"too many connections":  QuotaError,
			"quota":                 QuotaError,
			"rate limit":            QuotaError,
			"deadlock":              TemporaryError,
			"serialization failure": TemporaryError,
			"lock not available":    TemporaryError,
			"duplicate key":         PermanentError,
			"unique constraint":     PermanentError,
			"does not exist":        PermanentError,
		},
	}
}

// ClassifyError determines the type of error.
func (c *ErrorClassifier) ClassifyError(err error) ErrorType {
	if err == nil {
		return UnknownError
	}
	errStr := strings.ToLower(err.Error())
	for pattern, errorType := range c.patterns {
		if strings.Contains(errStr, pattern) {
			return errorType
		}
	}
	return UnknownError
}

// CircuitBreaker implements the circuit breaker pattern around a single
// downstream dependency (one Redis client, one DB pool, one queue).
type CircuitBreaker struct {
	mu sync.RWMutex

	name         string
	maxFailures  int64
	timeout      time.Duration
	resetTimeout time.Duration

	state        CircuitBreakerState
	failures     int64
	successes    int64
	lastFailTime time.Time
	nextAttempt  time.Time

	classifier      *ErrorClassifier
	errorCounts     map[ErrorType]int64
	recentErrors    []error
	maxRecentErrors int
}

// NewCircuitBreaker creates a new circuit breaker.
func NewCircuitBreaker(maxFailures int64, timeout time.Duration) *CircuitBreaker {
	if maxFailures <= 0 {
		maxFailures = 5
	}
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	return &CircuitBreaker{
		maxFailures:     maxFailures,
		timeout:         timeout,
		resetTimeout:    timeout * 2,
		state:           Closed,
		classifier:      NewErrorClassifier(),
		errorCounts:     make(map[ErrorType]int64),
		recentErrors:    make([]error, 0, 100),
		maxRecentErrors: 100,
	}
}

// Call executes fn with circuit breaker protection.
func (cb *CircuitBreaker) Call(ctx context.Context, fn func() error) error {
	if !cb.allowRequest() {
		return ErrCircuitBreakerOpen
	}
	if err := fn(); err != nil {
		cb.recordFailure(err)
		return err
	}
	cb.recordSuccess()
	return nil
}

func (cb *CircuitBreaker) allowRequest() bool {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	now := time.Now()
	switch cb.state {
	case Closed:
		return true
	case Open:
		if now.After(cb.nextAttempt) {
			cb.state = HalfOpen
			return true
		}
		return false
	case HalfOpen:
		return true
	default:
		return false
	}
}

func (cb *CircuitBreaker) recordSuccess() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	cb.successes++
	switch cb.state {
	case HalfOpen:
		cb.state = Closed
		cb.failures = 0
	case Closed:
		if cb.failures > 0 {
			cb.failures--
		}
	}
}

func (cb *CircuitBreaker) recordFailure(err error) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	errorType := cb.classifier.ClassifyError(err)
	cb.errorCounts[errorType]++

	cb.recentErrors = append(cb.recentErrors, err)
	if len(cb.recentErrors) > cb.maxRecentErrors {
		cb.recentErrors = cb.recentErrors[1:]
	}

	cb.failures++
	cb.lastFailTime = time.Now()

	if cb.state == Closed && cb.failures >= cb.maxFailures {
		cb.state = Open
		cb.nextAttempt = time.Now().Add(cb.timeout)
		cb.recordTrip()
	} else if cb.state == HalfOpen {
		cb.state = Open
		cb.nextAttempt = time.Now().Add(cb.resetTimeout)
		cb.recordTrip()
	}
}

func (cb *CircuitBreaker) recordTrip() {
	name := cb.name
	if name == "" {
		name = "unnamed"
	}
	metrics.Get().RecordCircuitBreakerTrip(name)
}

// GetState returns the current circuit breaker state and metrics.
func (cb *CircuitBreaker) GetState() CircuitBreakerStats {
	cb.mu.RLock()
	defer cb.mu.RUnlock()

	return CircuitBreakerStats{
		State:        cb.state,
		Failures:     cb.failures,
		Successes:    cb.successes,
		LastFailTime: cb.lastFailTime,
		NextAttempt:  cb.nextAttempt,
		ErrorCounts:  cb.copyErrorCounts(),
	}
}

func (cb *CircuitBreaker) copyErrorCounts() map[ErrorType]int64 {
	result := make(map[ErrorType]int64, len(cb.errorCounts))
	for k, v := range cb.errorCounts {
		result[k] = v
	}
	return result
}

// CircuitBreakerStats reports point-in-time circuit breaker metrics.
type CircuitBreakerStats struct {
	State        CircuitBreakerState
	Failures     int64
	Successes    int64
	LastFailTime time.Time
	NextAttempt  time.Time
	ErrorCounts  map[ErrorType]int64
}

// RetryPolicy defines bounded retry behavior for retryable error classes.
type RetryPolicy struct {
	MaxRetries      int
	BaseDelay       time.Duration
	MaxDelay        time.Duration
	BackoffFactor   float64
	RetryableErrors map[ErrorType]bool
}

// DefaultRetryPolicy returns a sensible default retry policy: network and
// quota errors are retried, auth/permanent errors are not (spec.md §7
// distinguishes transient I/O from programmer/invariant errors).
func DefaultRetryPolicy() *RetryPolicy {
	return &RetryPolicy{
		MaxRetries:    3,
		BaseDelay:     50 * time.Millisecond,
		MaxDelay:      2 * time.Second,
		BackoffFactor: 2.0,
		RetryableErrors: map[ErrorType]bool{
			NetworkError:   true,
			TemporaryError: true,
			QuotaError:     true,
			UnknownError:   false,
			AuthError:      false,
			PermanentError: false,
		},
	}
}

// Retry executes fn with exponential backoff and jitter, stopping early
// when the classified error is not in RetryableErrors.
func (rp *RetryPolicy) Retry(ctx context.Context, classifier *ErrorClassifier, fn func() error) error {
	var lastErr error

	for attempt := 0; attempt <= rp.MaxRetries; attempt++ {
		if attempt > 0 {
			delay := time.Duration(float64(rp.BaseDelay) * math.Pow(rp.BackoffFactor, float64(attempt-1)))
			if delay > rp.MaxDelay {
				delay = rp.MaxDelay
			}
			jitterMax := int64(delay) / 4
			if jitterMax <= 0 {
				jitterMax = 1
			}
			jitterNs, _ := rand.Int(rand.Reader, big.NewInt(jitterMax))
			delay += time.Duration(jitterNs.Int64())

			select {
			case <-time.After(delay):
			case <-ctx.Done():
				return ctx.Err()
			}
		}

		err := fn()
		if err == nil {
			return nil
		}
		lastErr = err

		errorType := classifier.ClassifyError(err)
		if retryable, ok := rp.RetryableErrors[errorType]; !ok || !retryable {
			return err
		}
	}
	return lastErr
}

// Manager combines a circuit breaker and a retry policy around one
// downstream dependency.
type Manager struct {
	circuitBreaker *CircuitBreaker
	retryPolicy    *RetryPolicy
	classifier     *ErrorClassifier
}

// NewManager creates a resilience manager.
func NewManager(maxFailures int64, timeout time.Duration, retryPolicy *RetryPolicy) *Manager {
	if retryPolicy == nil {
		retryPolicy = DefaultRetryPolicy()
	}
	return &Manager{
		circuitBreaker: NewCircuitBreaker(maxFailures, timeout),
		retryPolicy:    retryPolicy,
		classifier:     NewErrorClassifier(),
	}
}

// Execute runs fn with both circuit breaker and retry protection.
func (m *Manager) Execute(ctx context.Context, fn func() error) error {
	return m.circuitBreaker.Call(ctx, func() error {
		return m.retryPolicy.Retry(ctx, m.classifier, fn)
	})
}

// State returns the wrapped circuit breaker's current stats.
func (m *Manager) State() CircuitBreakerStats {
	return m.circuitBreaker.GetState()
}

// Registry holds one Manager per named downstream keyspace ("redis",
// "postgres", "queue", ...) so an outage in one dependency trips
// independently of the others (SPEC_FULL.md §4.10).
type Registry struct {
	mu       sync.Mutex
	managers map[string]*Manager
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{managers: make(map[string]*Manager)}
}

// Get returns (creating if absent) the Manager for name.
func (r *Registry) Get(name string) *Manager {
	r.mu.Lock()
	defer r.mu.Unlock()

	m, ok := r.managers[name]
	if !ok {
		m = NewManager(5, 1*time.Minute, nil)
		m.circuitBreaker.name = name
		r.managers[name] = m
	}
	return m
}

// ErrCircuitBreakerOpen is returned by Call/Execute when the breaker is
// open and the caller should treat it as a guard failure (spec.md §7).
var ErrCircuitBreakerOpen = errors.New("circuit breaker is open")
