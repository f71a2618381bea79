package antispam

import (
	"sync"
	"time"

	"aurox-gatekeeper/internal/utils"
)

type Message struct {
	ChannelID string
	MessageID string
}

type Verdict int

const (
	Clear Verdict = iota
	Breach
)

func (v Verdict) String() string {
	if v == Breach {
		return "breach"
	}
	return "clear"
}

type Result struct {
	Verdict Verdict
	Count   int
	// Burst holds every message that was in the window when it tripped, oldest first.
	Burst []utils.Entry[Message]
}

// Detector keeps one sliding window per guild member.
type Detector struct {
	mu      sync.Mutex
	windows map[string]*utils.SlidingWindow[Message]
}

func NewDetector() *Detector {
	return &Detector{windows: make(map[string]*utils.SlidingWindow[Message])}
}

// Observe records a message and reports a breach once the window holds more
// than limit messages. On breach the window is emptied in the same step. The
// push happens under the detector lock so Prune never drops a window between
// lookup and push.
func (d *Detector) Observe(guildID, userID string, now time.Time, msg Message, limit int, window time.Duration) Result {
	d.mu.Lock()
	defer d.mu.Unlock()

	w := d.window(guildID+":"+userID, window)
	count, burst := w.Push(now, msg, limit)
	if burst == nil {
		return Result{Verdict: Clear, Count: count}
	}
	return Result{Verdict: Breach, Count: count, Burst: burst}
}

// Prune drops windows that have been idle for longer than idle.
func (d *Detector) Prune(now time.Time, idle time.Duration) int {
	d.mu.Lock()
	defer d.mu.Unlock()

	removed := 0
	for key, w := range d.windows {
		if now.Sub(w.LastSeen()) > idle {
			delete(d.windows, key)
			removed++
		}
	}
	return removed
}

func (d *Detector) Len() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.windows)
}

// window must be called with d.mu held.
func (d *Detector) window(key string, window time.Duration) *utils.SlidingWindow[Message] {
	w := d.windows[key]
	if w == nil {
		w = utils.NewSlidingWindow[Message](window)
		d.windows[key] = w
		return w
	}
	if w.Window() != window {
		w.SetWindow(window)
	}
	return w
}
