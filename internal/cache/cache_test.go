package cache

import (
	"fmt"
	"sync"
	"testing"
	"time"
)

func TestGetSet(t *testing.T) {
	s := New(time.Second)

	if _, ok := s.Get("missing"); ok {
		t.Error("Get on empty store should miss")
	}

	s.Set("k", "v")
	got, ok := s.Get("k")
	if !ok {
		t.Fatal("Get after Set should hit")
	}
	if got != "v" {
		t.Errorf("Get = %v, want v", got)
	}

	// Replace in place.
	s.Set("k", "v2")
	if got, _ := s.Get("k"); got != "v2" {
		t.Errorf("Get after replace = %v, want v2", got)
	}
}

func TestExpiryOnGet(t *testing.T) {
	s := New(time.Second)

	s.SetTTL("k", "v", 50*time.Millisecond)

	if got, ok := s.Get("k"); !ok || got != "v" {
		t.Fatalf("Get before expiry = %v, %v; want v, true", got, ok)
	}

	time.Sleep(75 * time.Millisecond)

	if _, ok := s.Get("k"); ok {
		t.Error("Get after expiry should miss")
	}

	// The expired read removed the entry.
	if st := s.Stats(); st.TotalEntries != 0 {
		t.Errorf("TotalEntries = %d, want 0 after lazy removal", st.TotalEntries)
	}
}

func TestDefaultTTLApplied(t *testing.T) {
	s := New(50 * time.Millisecond)

	s.Set("a", 1)
	s.SetTTL("b", 2, 0)
	s.SetTTL("c", 3, -time.Second)

	snap := s.Snapshot()
	for _, key := range []string{"a", "b", "c"} {
		e, ok := snap[key]
		if !ok {
			t.Fatalf("snapshot missing %q", key)
		}
		if e.TTL != 0.05 {
			t.Errorf("TTL[%s] = %v, want 0.05", key, e.TTL)
		}
	}

	time.Sleep(75 * time.Millisecond)
	for _, key := range []string{"a", "b", "c"} {
		if _, ok := s.Get(key); ok {
			t.Errorf("%q should have expired with the default TTL", key)
		}
	}
}

func TestSnapshotSweepsExpired(t *testing.T) {
	s := New(time.Second)

	s.SetTTL("old", "x", 25*time.Millisecond)
	s.SetTTL("live", "y", time.Minute)

	time.Sleep(50 * time.Millisecond)

	snap := s.Snapshot()
	if _, ok := snap["old"]; ok {
		t.Error("snapshot should exclude expired entries")
	}
	e, ok := snap["live"]
	if !ok {
		t.Fatal("snapshot should include live entries")
	}
	if e.Data != "y" {
		t.Errorf("Data = %v, want y", e.Data)
	}
	if e.AgeSeconds <= 0 {
		t.Errorf("AgeSeconds = %v, want > 0", e.AgeSeconds)
	}
	if e.TTL != 60 {
		t.Errorf("TTL = %v, want 60", e.TTL)
	}

	// The sweep removed the expired entry.
	if st := s.Stats(); st.TotalEntries != 1 {
		t.Errorf("TotalEntries = %d, want 1 after sweep", st.TotalEntries)
	}
}

func TestStatsCountsWithoutRemoval(t *testing.T) {
	s := New(time.Second)

	s.SetTTL("old", "x", 25*time.Millisecond)
	s.SetTTL("live", "y", time.Minute)

	time.Sleep(50 * time.Millisecond)

	st := s.Stats()
	if st.TotalEntries != 2 {
		t.Errorf("TotalEntries = %d, want 2", st.TotalEntries)
	}
	if st.ValidEntries != 1 {
		t.Errorf("ValidEntries = %d, want 1", st.ValidEntries)
	}
	if st.ExpiredEntries != 1 {
		t.Errorf("ExpiredEntries = %d, want 1", st.ExpiredEntries)
	}

	// Stats never removes.
	if st := s.Stats(); st.TotalEntries != 2 {
		t.Errorf("TotalEntries after second Stats = %d, want 2", st.TotalEntries)
	}
}

func TestClear(t *testing.T) {
	s := New(time.Second)
	s.Set("a", 1)
	s.Set("b", 2)

	s.Clear()

	if st := s.Stats(); st.TotalEntries != 0 {
		t.Errorf("TotalEntries = %d, want 0 after Clear", st.TotalEntries)
	}
	if _, ok := s.Get("a"); ok {
		t.Error("Get after Clear should miss")
	}
}

func TestConcurrentAccess(t *testing.T) {
	s := New(time.Minute)

	var wg sync.WaitGroup
	for w := 0; w < 8; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for i := 0; i < 200; i++ {
				key := fmt.Sprintf("k%d", i%20)
				s.Set(key, w)
				s.Get(key)
				if i%50 == 0 {
					s.Snapshot()
					s.Stats()
				}
			}
		}(w)
	}
	wg.Wait()

	if st := s.Stats(); st.TotalEntries != 20 {
		t.Errorf("TotalEntries = %d, want 20", st.TotalEntries)
	}
}
