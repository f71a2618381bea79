package utils

import (
	"sync"
	"time"
)

type Entry[T any] struct {
	At    time.Time
	Value T
}

// SlidingWindow keeps the entries recorded within the trailing window.
// Entries are appended in arrival order, so eviction only trims the head.
type SlidingWindow[T any] struct {
	mu       sync.Mutex
	window   time.Duration
	entries  []Entry[T]
	lastSeen time.Time
}

func NewSlidingWindow[T any](window time.Duration) *SlidingWindow[T] {
	return &SlidingWindow[T]{window: window}
}

// Push records value and, when the window then holds more than limit entries,
// empties the window and returns everything it held. Both steps happen under
// one lock so concurrent callers never observe the same burst twice.
func (w *SlidingWindow[T]) Push(now time.Time, value T, limit int) (int, []Entry[T]) {
	w.mu.Lock()
	defer w.mu.Unlock()

	w.evict(now)
	w.entries = append(w.entries, Entry[T]{At: now, Value: value})
	w.lastSeen = now
	count := len(w.entries)
	if count <= limit {
		return count, nil
	}
	burst := w.entries
	w.entries = nil
	return count, burst
}

func (w *SlidingWindow[T]) SetWindow(window time.Duration) {
	w.mu.Lock()
	w.window = window
	w.mu.Unlock()
}

func (w *SlidingWindow[T]) Window() time.Duration {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.window
}

func (w *SlidingWindow[T]) LastSeen() time.Time {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.lastSeen
}

func (w *SlidingWindow[T]) evict(now time.Time) {
	cutoff := now.Add(-w.window)
	idx := 0
	for _, entry := range w.entries {
		if !entry.At.Before(cutoff) {
			break
		}
		idx++
	}
	if idx == len(w.entries) {
		w.entries = nil
		return
	}
	w.entries = w.entries[idx:]
}
