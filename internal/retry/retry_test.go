package retry

import (
	"strings"
	"testing"
	"time"
)

func TestNewStartsConnected(t *testing.T) {
	s := New()

	if !s.Connected() {
		t.Error("new state should be connected")
	}
	if s.ShouldSkip() {
		t.Error("new state should not skip")
	}
	phase, attempts := s.Phase()
	if phase != Phase1 || attempts != 0 {
		t.Errorf("phase = %d/%d, want 1/0", phase, attempts)
	}
}

func TestDisconnectAfterThreeFailures(t *testing.T) {
	s := New()

	s.RecordFailure("boom")
	s.RecordFailure("boom")
	if !s.Connected() {
		t.Fatal("two failures should not disconnect")
	}

	s.RecordFailure("boom")
	if s.Connected() {
		t.Fatal("three consecutive failures should disconnect")
	}

	phase, attempts := s.Phase()
	if phase != Phase1 {
		t.Errorf("phase = %d, want 1", phase)
	}
	if attempts != 1 {
		t.Errorf("attempts = %d, want 1", attempts)
	}

	// Fresh failure, gate closed.
	if !s.ShouldSkip() {
		t.Error("should skip inside phase 1 window")
	}
}

func TestSuccessResetsEverything(t *testing.T) {
	s := New()

	for i := 0; i < 4; i++ {
		s.RecordFailure("boom")
	}
	s.RecordSuccess()

	if !s.Connected() {
		t.Error("success should reconnect")
	}
	if s.ShouldSkip() {
		t.Error("success should reopen the gate")
	}
	phase, attempts := s.Phase()
	if phase != Phase1 || attempts != 0 {
		t.Errorf("phase = %d/%d, want 1/0", phase, attempts)
	}

	st := s.Stats()
	if st.ConsecutiveFailures != 0 {
		t.Errorf("ConsecutiveFailures = %d, want 0", st.ConsecutiveFailures)
	}
	if st.TotalRequests != 5 || st.SuccessfulRequests != 1 || st.FailedRequests != 4 {
		t.Errorf("totals = %d/%d/%d, want 5/1/4",
			st.TotalRequests, st.SuccessfulRequests, st.FailedRequests)
	}
	if st.SuccessRate != 20.0 {
		t.Errorf("SuccessRate = %v, want 20.0", st.SuccessRate)
	}
}

func TestPhaseTwoAfterFivePhaseOneAttempts(t *testing.T) {
	s := New()

	// Failures 1-2 leave the state connected; failure 3 disconnects and
	// counts as the first phase-1 attempt; failures 4-7 advance further.
	for i := 0; i < 7; i++ {
		s.RecordFailure("boom")
		if phase, _ := s.Phase(); phase == Phase2 && i < 6 {
			t.Fatalf("reached phase 2 after %d failures", i+1)
		}
	}

	phase, attempts := s.Phase()
	if phase != Phase2 {
		t.Errorf("phase = %d, want 2", phase)
	}
	if attempts != 0 {
		t.Errorf("attempts = %d, want 0 after phase flip", attempts)
	}

	// Further failures stay in phase 2.
	s.RecordFailure("boom")
	if phase, attempts = s.Phase(); phase != Phase2 || attempts != 1 {
		t.Errorf("phase = %d/%d, want 2/1", phase, attempts)
	}
}

func TestShouldSkipWindows(t *testing.T) {
	s := New()
	for i := 0; i < DisconnectThreshold; i++ {
		s.RecordFailure("boom")
	}

	if !s.ShouldSkip() {
		t.Fatal("gate should be closed right after disconnecting")
	}

	// Age the failure past the phase 1 window.
	s.mu.Lock()
	s.lastFailure = time.Now().Add(-61 * time.Second)
	s.mu.Unlock()

	if s.ShouldSkip() {
		t.Error("gate should reopen after the phase 1 interval")
	}

	// Push to phase 2 and verify the longer window.
	s.mu.Lock()
	s.retryPhase = Phase2
	s.lastFailure = time.Now().Add(-200 * time.Second)
	s.mu.Unlock()

	if !s.ShouldSkip() {
		t.Error("200 s is inside the phase 2 window")
	}

	s.mu.Lock()
	s.lastFailure = time.Now().Add(-301 * time.Second)
	s.mu.Unlock()

	if s.ShouldSkip() {
		t.Error("gate should reopen after the phase 2 interval")
	}
}

func TestForceReset(t *testing.T) {
	s := New()
	for i := 0; i < 7; i++ {
		s.RecordFailure("boom")
	}

	s.ForceReset()

	if !s.Connected() {
		t.Error("ForceReset should reconnect")
	}
	if s.ShouldSkip() {
		t.Error("ForceReset should reopen the gate immediately")
	}
	phase, attempts := s.Phase()
	if phase != Phase1 || attempts != 0 {
		t.Errorf("phase = %d/%d, want 1/0", phase, attempts)
	}

	// Counters survive the reset.
	if st := s.Stats(); st.FailedRequests != 7 {
		t.Errorf("FailedRequests = %d, want 7", st.FailedRequests)
	}
}

func TestAdvanceWithoutCounters(t *testing.T) {
	s := New()

	for i := 0; i < Phase1MaxAttempts; i++ {
		s.Advance()
	}

	phase, _ := s.Phase()
	if phase != Phase2 {
		t.Errorf("phase = %d, want 2 after %d advances", phase, Phase1MaxAttempts)
	}
	if st := s.Stats(); st.TotalRequests != 0 {
		t.Errorf("Advance should not count requests, got %d", st.TotalRequests)
	}

	if got := s.Interval(); got != Phase2Interval {
		t.Errorf("Interval = %v, want %v", got, Phase2Interval)
	}

	s.ResetPhase()
	if got := s.Interval(); got != Phase1Interval {
		t.Errorf("Interval after ResetPhase = %v, want %v", got, Phase1Interval)
	}
}

func TestRequestsPerMinute(t *testing.T) {
	s := New()

	for i := 0; i < 5; i++ {
		s.RecordSuccess()
	}
	if got := s.RequestsPerMinute(); got != 5 {
		t.Errorf("RequestsPerMinute = %d, want 5", got)
	}

	// Age two of them out of the window.
	s.mu.Lock()
	s.reqTimes[0] = time.Now().Add(-2 * time.Minute)
	s.reqTimes[1] = time.Now().Add(-61 * time.Second)
	s.mu.Unlock()

	if got := s.RequestsPerMinute(); got != 3 {
		t.Errorf("RequestsPerMinute = %d, want 3", got)
	}
}

func TestRequestHistoryBounded(t *testing.T) {
	s := New()

	for i := 0; i < MaxRequestHistory+50; i++ {
		s.RecordSuccess()
	}

	if got := s.RequestsPerMinute(); got != MaxRequestHistory {
		t.Errorf("RequestsPerMinute = %d, want ring bound %d", got, MaxRequestHistory)
	}
}

func TestStatsAges(t *testing.T) {
	s := New()

	st := s.Stats()
	if st.LastSuccessAge != -1 || st.LastFailureAge != -1 {
		t.Errorf("ages = %v/%v, want -1/-1 before any request", st.LastSuccessAge, st.LastFailureAge)
	}
	if st.SuccessRate != 100 {
		t.Errorf("SuccessRate = %v, want 100 before any request", st.SuccessRate)
	}

	s.RecordSuccess()
	s.RecordFailure("x")

	st = s.Stats()
	if st.LastSuccessAge < 0 || st.LastSuccessAge > 5 {
		t.Errorf("LastSuccessAge = %v, want small positive", st.LastSuccessAge)
	}
	if st.LastFailureAge < 0 || st.LastFailureAge > 5 {
		t.Errorf("LastFailureAge = %v, want small positive", st.LastFailureAge)
	}
}

func TestStatsTruncatesLastError(t *testing.T) {
	s := New()
	s.RecordFailure(strings.Repeat("x", 300))

	if got := len(s.Stats().LastError); got != 100 {
		t.Errorf("len(LastError) = %d, want 100", got)
	}
}
