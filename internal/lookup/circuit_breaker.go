package lookup

import (
	"log/slog"
	"net/http"
	"sync"
	"time"
)

// CircuitBreaker stops calls to an upstream that keeps failing. It opens after
// failureThreshold consecutive 5xx/429/403 responses, or when at least 40% of
// 20+ requests failed, and half-opens after resetTimeout.
type CircuitBreaker struct {
	failureThreshold int
	resetTimeout     time.Duration
	logger           *slog.Logger

	failures            int
	successes           int
	totalRequests       int
	consecutiveFailures int
	isOpen              bool
	lastFailureTime     time.Time

	mutex sync.Mutex
	now   func() time.Time
}

// BreakerStatus is a snapshot of the breaker state.
type BreakerStatus struct {
	Open     bool `json:"open"`
	Failures int  `json:"failures"`
	Total    int  `json:"total"`
}

// NewCircuitBreaker creates a new circuit breaker. A threshold below 1
// defaults to 2.
func NewCircuitBreaker(failureThreshold int, resetTimeout time.Duration, logger *slog.Logger) *CircuitBreaker {
	if failureThreshold < 1 {
		failureThreshold = 2
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &CircuitBreaker{
		failureThreshold: failureThreshold,
		resetTimeout:     resetTimeout,
		logger:           logger.With("component", "circuit_breaker"),
		now:              time.Now,
	}
}

// RecordSuccess records a successful request
func (cb *CircuitBreaker) RecordSuccess() {
	cb.mutex.Lock()
	defer cb.mutex.Unlock()

	cb.successes++
	cb.totalRequests++
	cb.consecutiveFailures = 0
}

// RecordFailure records a failed request. statusCode is 0 for transport errors.
func (cb *CircuitBreaker) RecordFailure(statusCode int) {
	cb.mutex.Lock()
	defer cb.mutex.Unlock()

	cb.failures++
	cb.consecutiveFailures++
	cb.totalRequests++
	cb.lastFailureTime = cb.now()

	if cb.consecutiveFailures >= cb.failureThreshold && isBlockingStatus(statusCode) {
		cb.isOpen = true
		cb.logger.Warn("circuit breaker open: consecutive upstream errors",
			"consecutive", cb.consecutiveFailures, "status", statusCode, "retry_after", cb.resetTimeout)
		return
	}

	if cb.totalRequests >= 20 {
		failureRate := float64(cb.failures) / float64(cb.totalRequests)
		if failureRate >= 0.40 {
			cb.isOpen = true
			cb.logger.Warn("circuit breaker open: failure rate too high",
				"failure_rate", failureRate, "failures", cb.failures, "total", cb.totalRequests,
				"retry_after", cb.resetTimeout)
		}
	}
}

// CanProceed checks if requests are allowed
func (cb *CircuitBreaker) CanProceed() bool {
	cb.mutex.Lock()
	defer cb.mutex.Unlock()

	if !cb.isOpen {
		return true
	}

	if cb.now().Sub(cb.lastFailureTime) > cb.resetTimeout {
		cb.logger.Info("circuit breaker half-open", "after", cb.resetTimeout)
		cb.isOpen = false
		cb.failures = 0
		cb.successes = 0
		cb.totalRequests = 0
		cb.consecutiveFailures = 0
		return true
	}

	return false
}

// GetStatus returns current circuit breaker status
func (cb *CircuitBreaker) GetStatus() BreakerStatus {
	cb.mutex.Lock()
	defer cb.mutex.Unlock()
	return BreakerStatus{Open: cb.isOpen, Failures: cb.failures, Total: cb.totalRequests}
}

func isBlockingStatus(code int) bool {
	return code >= http.StatusInternalServerError ||
		code == http.StatusTooManyRequests ||
		code == http.StatusForbidden
}
