package utils

import (
	"testing"
	"time"
)

func TestSlidingWindowEvictsOldEntries(t *testing.T) {
	window := NewSlidingWindow[string](2 * time.Second)
	now := time.Now()
	if count, _ := window.Push(now, "a", 10); count != 1 {
		t.Fatalf("expected 1, got %d", count)
	}
	if count, _ := window.Push(now.Add(500*time.Millisecond), "b", 10); count != 2 {
		t.Fatalf("expected 2, got %d", count)
	}
	if count, _ := window.Push(now.Add(3*time.Second), "c", 10); count != 1 {
		t.Fatalf("expected only the new entry, got %d", count)
	}
	if !window.LastSeen().Equal(now.Add(3 * time.Second)) {
		t.Fatalf("unexpected last seen %v", window.LastSeen())
	}
}

func TestSlidingWindowKeepsBoundaryEntry(t *testing.T) {
	now := time.Unix(1000, 0)

	kept := NewSlidingWindow[int](10 * time.Second)
	kept.Push(now, 1, 10)
	if count, _ := kept.Push(now.Add(10*time.Second), 2, 10); count != 2 {
		t.Fatalf("entry exactly at the cutoff should be kept, got %d", count)
	}

	evicted := NewSlidingWindow[int](10 * time.Second)
	evicted.Push(now, 1, 10)
	if count, _ := evicted.Push(now.Add(10*time.Second+time.Millisecond), 2, 10); count != 1 {
		t.Fatalf("expected eviction past the cutoff, got %d", count)
	}
}

func TestSlidingWindowPushDrainsOnBreach(t *testing.T) {
	window := NewSlidingWindow[int](10 * time.Second)
	now := time.Unix(1000, 0)

	for i := 0; i < 5; i++ {
		count, burst := window.Push(now.Add(time.Duration(i)*time.Second), i, 5)
		if burst != nil {
			t.Fatalf("unexpected burst at %d", i)
		}
		if count != i+1 {
			t.Fatalf("expected %d, got %d", i+1, count)
		}
	}

	count, burst := window.Push(now.Add(5*time.Second), 5, 5)
	if count != 6 || len(burst) != 6 {
		t.Fatalf("expected breach with 6 entries, got count=%d burst=%d", count, len(burst))
	}
	if burst[0].Value != 0 || burst[5].Value != 5 {
		t.Fatalf("burst not in arrival order: %+v", burst)
	}
	count, burst = window.Push(now.Add(5500*time.Millisecond), 6, 5)
	if count != 1 || burst != nil {
		t.Fatalf("expected fresh window, got count=%d burst=%v", count, burst)
	}
}
