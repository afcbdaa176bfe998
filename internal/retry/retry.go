// Package retry implements the two-phase backoff machine shared by the
// REST and WebSocket connectors.
//
// A connection runs in phase 1 after disconnecting (attempts gated to one
// per 60 s, at most 5), then drops to phase 2 (one per 300 s) until a
// success resets it. Disconnection means three consecutive failures.
package retry

import (
	"math"
	"sync"
	"time"
)

const (
	Phase1 = 1
	Phase2 = 2

	Phase1Interval    = 60 * time.Second
	Phase1MaxAttempts = 5
	Phase2Interval    = 300 * time.Second

	// DisconnectThreshold is the consecutive-failure count at which the
	// connection is marked down and the backoff gate engages.
	DisconnectThreshold = 3

	// MaxRequestHistory bounds the timestamp ring behind the
	// requests-per-minute gauge.
	MaxRequestHistory = 300
)

// State tracks request outcomes for one connection and decides when the
// next outbound attempt may be issued. Safe for concurrent use: the
// owning connector mutates it while health handlers read it.
type State struct {
	mu sync.Mutex

	connected           bool
	lastSuccess         time.Time
	lastFailure         time.Time
	totalRequests       int64
	successfulRequests  int64
	failedRequests      int64
	retryPhase          int
	phaseAttempts       int
	consecutiveFailures int
	lastError           string

	// Ring of successful-request timestamps.
	reqTimes [MaxRequestHistory]time.Time
	reqHead  int
	reqCount int
}

// Snapshot is a point-in-time copy of the counters for health reporting.
type Snapshot struct {
	Connected           bool
	LastSuccessAge      float64 // seconds, -1 until first success
	LastFailureAge      float64 // seconds, -1 until first failure
	TotalRequests       int64
	SuccessfulRequests  int64
	FailedRequests      int64
	SuccessRate         float64 // percent, 100 before first request
	RetryPhase          int
	PhaseAttempts       int
	ConsecutiveFailures int
	LastError           string // truncated to 100 chars
	RequestsPerMinute   int
}

// New returns a State in the connected, phase-1 position.
func New() *State {
	return &State{
		connected:  true,
		retryPhase: Phase1,
	}
}

// RecordSuccess counts a successful request and clears the backoff:
// connected, phase 1, zero attempts, zero consecutive failures.
func (s *State) RecordSuccess() {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now()
	s.totalRequests++
	s.successfulRequests++
	s.lastSuccess = now
	s.connected = true
	s.consecutiveFailures = 0
	s.retryPhase = Phase1
	s.phaseAttempts = 0

	s.reqTimes[s.reqHead] = now
	s.reqHead = (s.reqHead + 1) % MaxRequestHistory
	if s.reqCount < MaxRequestHistory {
		s.reqCount++
	}
}

// RecordFailure counts a failed request. At DisconnectThreshold
// consecutive failures the connection is marked down and the phase
// machine advances.
func (s *State) RecordFailure(errMsg string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.totalRequests++
	s.failedRequests++
	s.lastFailure = time.Now()
	s.consecutiveFailures++
	s.lastError = errMsg

	if s.consecutiveFailures >= DisconnectThreshold {
		s.connected = false
		s.advanceLocked()
	}
}

// Advance moves the phase machine one failed attempt forward without
// touching the request counters. The WebSocket connector calls this once
// per connection cycle that ends in an error.
func (s *State) Advance() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.advanceLocked()
}

func (s *State) advanceLocked() {
	s.phaseAttempts++
	if s.retryPhase == Phase1 && s.phaseAttempts >= Phase1MaxAttempts {
		s.retryPhase = Phase2
		s.phaseAttempts = 0
	}
}

// ShouldSkip reports whether the backoff gate is closed: the connection
// is down and the last failure is younger than the phase interval.
func (s *State) ShouldSkip() bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.connected {
		return false
	}
	return time.Since(s.lastFailure) < s.intervalLocked()
}

// Interval returns the wait for the current phase.
func (s *State) Interval() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.intervalLocked()
}

func (s *State) intervalLocked() time.Duration {
	if s.retryPhase == Phase1 {
		return Phase1Interval
	}
	return Phase2Interval
}

// ResetPhase returns the phase machine to phase 1 with zero attempts,
// leaving counters and the connected flag alone. Called on a successful
// WebSocket connect.
func (s *State) ResetPhase() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.retryPhase = Phase1
	s.phaseAttempts = 0
}

// ForceReset reopens the gate unconditionally: connected, phase 1, zero
// attempts and consecutive failures. The next request is attempted
// immediately.
func (s *State) ForceReset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.connected = true
	s.consecutiveFailures = 0
	s.retryPhase = Phase1
	s.phaseAttempts = 0
}

// Connected reports the current gate position.
func (s *State) Connected() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.connected
}

// Phase returns the current phase and attempt count.
func (s *State) Phase() (phase, attempts int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.retryPhase, s.phaseAttempts
}

// RequestsPerMinute counts successful requests in the last 60 seconds.
func (s *State) RequestsPerMinute() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.requestsPerMinuteLocked(time.Now())
}

func (s *State) requestsPerMinuteLocked(now time.Time) int {
	cutoff := now.Add(-time.Minute)
	n := 0
	for i := 0; i < s.reqCount; i++ {
		if s.reqTimes[i].After(cutoff) {
			n++
		}
	}
	return n
}

// Stats returns a copy of the counters for health reporting.
func (s *State) Stats() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now()

	lastSuccessAge := -1.0
	if !s.lastSuccess.IsZero() {
		lastSuccessAge = now.Sub(s.lastSuccess).Seconds()
	}
	lastFailureAge := -1.0
	if !s.lastFailure.IsZero() {
		lastFailureAge = now.Sub(s.lastFailure).Seconds()
	}

	rate := 100.0
	if s.totalRequests > 0 {
		rate = float64(s.successfulRequests) / float64(s.totalRequests) * 100
		rate = math.Round(rate*10) / 10
	}

	lastError := s.lastError
	if len(lastError) > 100 {
		lastError = lastError[:100]
	}

	return Snapshot{
		Connected:           s.connected,
		LastSuccessAge:      lastSuccessAge,
		LastFailureAge:      lastFailureAge,
		TotalRequests:       s.totalRequests,
		SuccessfulRequests:  s.successfulRequests,
		FailedRequests:      s.failedRequests,
		SuccessRate:         rate,
		RetryPhase:          s.retryPhase,
		PhaseAttempts:       s.phaseAttempts,
		ConsecutiveFailures: s.consecutiveFailures,
		LastError:           lastError,
		RequestsPerMinute:   s.requestsPerMinuteLocked(now),
	}
}
