package a2a

import (
	"sync"
	"time"
)

// RateLimiter enforces a per-agent fixed-window message budget. Entries with
// no activity for a full window are reclaimable so one-shot agents do not
// accumulate in memory.
type RateLimiter struct {
	mu       sync.Mutex
	limit    int
	window   time.Duration
	counters map[string]*rateWindow
}

type rateWindow struct {
	start time.Time
	count int
}

// NewRateLimiter builds a limiter allowing messagesPerMinute per agent.
func NewRateLimiter(messagesPerMinute int) *RateLimiter {
	return &RateLimiter{
		limit:    messagesPerMinute,
		window:   time.Minute,
		counters: make(map[string]*rateWindow),
	}
}

// Check records one message for the agent and reports whether it is still
// within budget. The window resets once it has fully elapsed.
func (rl *RateLimiter) Check(agentID string) bool {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := time.Now()
	w, ok := rl.counters[agentID]
	if !ok || now.Sub(w.start) >= rl.window {
		rl.counters[agentID] = &rateWindow{start: now, count: 1}
		return rl.limit >= 1
	}

	w.count++
	return w.count <= rl.limit
}

// Remove drops the agent's counter, e.g. on disconnect.
func (rl *RateLimiter) Remove(agentID string) {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	delete(rl.counters, agentID)
}

// Sweep reclaims counters idle for more than one full window.
func (rl *RateLimiter) Sweep() int {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := time.Now()
	reclaimed := 0
	for agentID, w := range rl.counters {
		if now.Sub(w.start) >= 2*rl.window {
			delete(rl.counters, agentID)
			reclaimed++
		}
	}
	return reclaimed
}
