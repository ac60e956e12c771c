package breaker

import "time"

// Snapshot is the read-only view exposed to the /health endpoint and to
// metrics collection.
type Snapshot struct {
	State            string    `json:"state"`
	ConsecutiveFails int       `json:"consecutiveFailures"`
	HalfOpenSuccess  int       `json:"halfOpenSuccesses"`
	NextAttempt      time.Time `json:"nextAttempt,omitempty"`
	WindowSamples    int       `json:"windowSamples"`
}

// Snapshot takes a consistent read of the breaker's state and counters.
func (b *Breaker) Snapshot() Snapshot {
	b.mu.Lock()
	defer b.mu.Unlock()
	return Snapshot{
		State:            b.state.String(),
		ConsecutiveFails: b.consecutiveFails,
		HalfOpenSuccess:  b.halfOpenSuccess,
		NextAttempt:      b.nextAttempt,
		WindowSamples:    len(b.window),
	}
}
