package concurrency

import "sync"

// State is one of the four stages a CancelToken moves through.
type State int

const (
	StateIdle State = iota
	StateRunning
	StateCancelRequested
	StateDone
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateRunning:
		return "running"
	case StateCancelRequested:
		return "cancel-requested"
	case StateDone:
		return "done"
	default:
		return "unknown"
	}
}

// CancelToken is a cooperative cancellation primitive for the seed and
// export drivers. A plain bool flag conflates "never started", "asked to
// stop", and "finished" into two states and races under concurrent
// Start/Cancel calls; CancelToken makes the four states explicit and
// serializes transitions under a mutex, per the driver's single-flight
// requirement that at most one run be active at a time.
type CancelToken struct {
	mu    sync.Mutex
	state State
}

// NewCancelToken returns a token in StateIdle.
func NewCancelToken() *CancelToken {
	return &CancelToken{state: StateIdle}
}

// Start transitions Idle -> Running. It reports false, leaving the token
// untouched, if a run is already in progress — the caller should treat
// that as "a seed/export is already running" rather than starting a
// second concurrent one.
func (t *CancelToken) Start() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.state != StateIdle && t.state != StateDone {
		return false
	}
	t.state = StateRunning
	return true
}

// RequestCancel transitions Running -> CancelRequested. It is a no-op
// (returns false) if no run is currently active.
func (t *CancelToken) RequestCancel() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.state != StateRunning {
		return false
	}
	t.state = StateCancelRequested
	return true
}

// CancelRequested reports whether the running job should stop at its next
// checkpoint.
func (t *CancelToken) CancelRequested() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state == StateCancelRequested
}

// Finish transitions to Done, whether the run completed, errored, or was
// cancelled, making the token available for a subsequent Start.
func (t *CancelToken) Finish() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.state = StateDone
}

// State returns the current state.
func (t *CancelToken) State() State {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state
}
