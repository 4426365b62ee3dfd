package services

import "sync/atomic"

// LoadMonitor counts admission attempts per one-second window and decides
// whether outbound rejection messages should be suppressed. Composing and
// sending disconnect text is work, and it is the first work shed under a
// genuine flood.
//
// RecordAttempt and Suppressed are lock-free and safe from any goroutine.
// RollWindow must only be called by the periodic scheduler, once per second,
// so there is a single authoritative reset per window boundary.
type LoadMonitor struct {
	threshold  int64
	counter    atomic.Int64
	lastRate   atomic.Int64
	suppressed atomic.Bool
}

// NewLoadMonitor creates a monitor that suppresses feedback when more than
// threshold attempts arrive within one window.
func NewLoadMonitor(threshold int) *LoadMonitor {
	return &LoadMonitor{threshold: int64(threshold)}
}

// RecordAttempt counts one admission attempt, queued or not.
func (m *LoadMonitor) RecordAttempt() {
	m.counter.Add(1)
}

// Suppressed reports whether rejection messages are currently muted.
func (m *LoadMonitor) Suppressed() bool {
	return m.suppressed.Load()
}

// Rate returns the attempt count of the last completed window.
func (m *LoadMonitor) Rate() int64 {
	return m.lastRate.Load()
}

// RollWindow reads and resets the window counter, updating the suppression
// flag for the coming window. Returns the closed window's attempt count and
// the new suppression state.
func (m *LoadMonitor) RollWindow() (int64, bool) {
	rate := m.counter.Swap(0)
	m.lastRate.Store(rate)
	suppressed := rate > m.threshold
	m.suppressed.Store(suppressed)
	return rate, suppressed
}
