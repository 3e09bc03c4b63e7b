package transport

import (
	"context"
	cryptorand "crypto/rand"
	"encoding/json"
	"math"
	"math/big"
	"sync"
	"time"

	svcerrors "github.com/ajitpratap0/feathers-client-go/pkg/errors"
	"github.com/ajitpratap0/feathers-client-go/pkg/logging"
	"github.com/ajitpratap0/feathers-client-go/pkg/protocol"
)

// ReliabilityMiddleware adds an opt-in circuit breaker and retries. Retries
// are limited to find and get calls that failed because the transport was
// unavailable; writes are never repeated.
type ReliabilityMiddleware struct {
	config         ReliabilityConfig
	circuitBreaker *reliabilityCircuitBreaker
	logger         logging.Logger
}

// NewReliabilityMiddleware creates a new reliability middleware
func NewReliabilityMiddleware(config ReliabilityConfig, logger logging.Logger) Middleware {
	if logger == nil {
		logger = logging.NewNop()
	}
	rm := &ReliabilityMiddleware{
		config: config,
		logger: logger.WithFields(logging.String("middleware", "reliability")),
	}

	if config.CircuitBreaker.Enabled {
		rm.circuitBreaker = newReliabilityCircuitBreaker(config.CircuitBreaker)
	}

	return rm
}

// Wrap implements the Middleware interface
func (rm *ReliabilityMiddleware) Wrap(transport Transport) Transport {
	return &reliabilityTransport{
		middlewareTransport: middlewareTransport{next: transport},
		middleware:          rm,
	}
}

// reliabilityTransport wraps a transport with reliability features
type reliabilityTransport struct {
	middlewareTransport
	middleware *ReliabilityMiddleware
}

// Invoke wraps the underlying Invoke with the breaker and read retries
func (rt *reliabilityTransport) Invoke(ctx context.Context, call *protocol.Call) (json.RawMessage, error) {
	cb := rt.middleware.circuitBreaker
	if cb != nil && !cb.canMakeCall() {
		return nil, svcerrors.NewErrorf(svcerrors.CodeCircuitOpen,
			"circuit breaker is open for %s transport", rt.Kind()).WithContext(&svcerrors.Context{
			Service:   call.Service,
			Method:    string(call.Method),
			Transport: string(rt.Kind()),
			Component: "ReliabilityMiddleware",
			Operation: "circuit_breaker_check",
		})
	}

	maxAttempts := 1
	if call.Method.Idempotent() {
		maxAttempts += rt.middleware.config.MaxRetries
	}

	var lastErr error
	for attempt := 0; attempt < maxAttempts; attempt++ {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}

		if attempt > 0 {
			delay := rt.calculateBackoff(attempt)
			rt.middleware.logger.Debug("Retrying call",
				logging.String("service", call.Service),
				logging.String("method", string(call.Method)),
				logging.Int("attempt", attempt),
				logging.Duration("delay", delay),
			)

			timer := time.NewTimer(delay)
			select {
			case <-timer.C:
			case <-ctx.Done():
				timer.Stop()
				return nil, ctx.Err()
			}
		}

		result, err := rt.next.Invoke(ctx, call)
		if err == nil {
			if cb != nil {
				cb.recordSuccess()
			}
			return result, nil
		}
		lastErr = err

		// Only transport failures count against the breaker; a 404 says the
		// server is healthy.
		if !svcerrors.IsTransportUnavailable(err) {
			if cb != nil {
				cb.recordSuccess()
			}
			return nil, err
		}
		if cb != nil {
			cb.recordFailure()
		}
	}

	return nil, lastErr
}

// Authenticate is guarded by the breaker but never retried
func (rt *reliabilityTransport) Authenticate(ctx context.Context, payload protocol.AuthPayload) (*protocol.AuthResult, error) {
	cb := rt.middleware.circuitBreaker
	if cb != nil && !cb.canMakeCall() {
		return nil, svcerrors.NewErrorf(svcerrors.CodeCircuitOpen,
			"circuit breaker is open for %s transport", rt.Kind())
	}
	result, err := rt.next.Authenticate(ctx, payload)
	if cb != nil {
		if svcerrors.IsTransportUnavailable(err) {
			cb.recordFailure()
		} else {
			cb.recordSuccess()
		}
	}
	return result, err
}

// secureRandFloat64 generates a cryptographically secure random float64 in [0, 1)
func secureRandFloat64() (float64, error) {
	max := big.NewInt(1 << 53)
	n, err := cryptorand.Int(cryptorand.Reader, max)
	if err != nil {
		return 0, err
	}
	return float64(n.Int64()) / float64(1<<53), nil
}

// calculateBackoff calculates the delay before the next retry
func (rt *reliabilityTransport) calculateBackoff(attempt int) time.Duration {
	config := rt.middleware.config
	factor := config.RetryBackoffFactor
	if factor < 1 {
		factor = 1
	}
	backoff := float64(config.InitialRetryDelay) * math.Pow(factor, float64(attempt-1))

	if config.MaxRetryDelay > 0 && backoff > float64(config.MaxRetryDelay) {
		backoff = float64(config.MaxRetryDelay)
	}

	// ±10% jitter
	if randFloat, err := secureRandFloat64(); err == nil {
		backoff += backoff * 0.1 * (randFloat*2 - 1)
	}

	return time.Duration(backoff)
}

// reliabilityCircuitBreaker implements a simple circuit breaker
type reliabilityCircuitBreaker struct {
	config    CircuitBreakerConfig
	state     circuitState
	failures  int
	successes int
	lastError time.Time
	mu        sync.Mutex
}

type circuitState int

const (
	circuitClosed circuitState = iota
	circuitOpen
	circuitHalfOpen
)

func newReliabilityCircuitBreaker(config CircuitBreakerConfig) *reliabilityCircuitBreaker {
	if config.SuccessThreshold <= 0 {
		config.SuccessThreshold = 1
	}
	return &reliabilityCircuitBreaker{
		config: config,
		state:  circuitClosed,
	}
}

func (cb *reliabilityCircuitBreaker) canMakeCall() bool {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	switch cb.state {
	case circuitClosed:
		return true
	case circuitOpen:
		if time.Since(cb.lastError) > cb.config.Timeout {
			cb.state = circuitHalfOpen
			cb.successes = 0
			return true
		}
		return false
	case circuitHalfOpen:
		return true
	}

	return false
}

func (cb *reliabilityCircuitBreaker) recordSuccess() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	cb.failures = 0

	if cb.state == circuitHalfOpen {
		cb.successes++
		if cb.successes >= cb.config.SuccessThreshold {
			cb.state = circuitClosed
		}
	}
}

func (cb *reliabilityCircuitBreaker) recordFailure() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	cb.lastError = time.Now()
	cb.failures++

	if cb.state == circuitHalfOpen {
		cb.state = circuitOpen
		return
	}

	if cb.failures >= cb.config.FailureThreshold {
		cb.state = circuitOpen
	}
}
